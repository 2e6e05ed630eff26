package server

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

func (s *Server) handleHealth(c echo.Context) error {
	if s.healthCheck != nil {
		if err := s.healthCheck(c.Request().Context()); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]any{
				"status": "unhealthy",
			})
		}
	}
	return c.JSON(http.StatusOK, map[string]any{"status": "healthy"})
}

func (s *Server) handleLoginMetrics(c echo.Context) error {
	snapshot := s.login.Snapshot()
	return respond(c, http.StatusOK, map[string]any{
		"total_requests":      snapshot.TotalRequests,
		"successful_requests": snapshot.SuccessfulRequests,
		"failed_requests":     snapshot.FailedRequests,
		"last_10_times":       snapshot.Last10Times,
		"avg_time":            snapshot.AvgTime,
	})
}

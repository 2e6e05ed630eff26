package server

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/Gimmi17/Solanagram/internal/apperrors"
	"github.com/Gimmi17/Solanagram/internal/auth"
	"github.com/Gimmi17/Solanagram/internal/crypto"
	"github.com/Gimmi17/Solanagram/internal/metrics"
)

// Server is the HTTP surface of the orchestrator.
type Server struct {
	echo *echo.Echo
	port int
	log  *zap.Logger

	users     UserStore
	logging   LoggingStore
	listeners ListenerStore
	flow      AuthFlow
	browser   ChatBrowser
	fleet     Fleet
	jwt       *auth.JWTService
	enc       *crypto.Encryptor
	login     *metrics.LoginMetrics

	healthCheck func(ctx context.Context) error
}

// ServerConfig bundles the server's collaborators.
type ServerConfig struct {
	Port        int
	Logger      *zap.Logger
	Users       UserStore
	Logging     LoggingStore
	Listeners   ListenerStore
	Flow        AuthFlow
	Browser     ChatBrowser
	Fleet       Fleet
	JWT         *auth.JWTService
	Encryptor   *crypto.Encryptor
	Login       *metrics.LoginMetrics
	HealthCheck func(ctx context.Context) error
}

type requestValidator struct {
	validator *validator.Validate
}

func (v *requestValidator) Validate(i any) error {
	if err := v.validator.Struct(i); err != nil {
		return apperrors.Wrap(apperrors.ErrValidation, err)
	}
	return nil
}

// New builds the server and registers every route.
func New(cfg ServerConfig) *Server {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	s := &Server{
		port:        cfg.Port,
		log:         log,
		users:       cfg.Users,
		logging:     cfg.Logging,
		listeners:   cfg.Listeners,
		flow:        cfg.Flow,
		browser:     cfg.Browser,
		fleet:       cfg.Fleet,
		jwt:         cfg.JWT,
		enc:         cfg.Encryptor,
		login:       cfg.Login,
		healthCheck: cfg.HealthCheck,
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = &requestValidator{validator: validator.New()}
	e.HTTPErrorHandler = s.errorHandler
	e.Use(middleware.Recover())

	s.echo = e
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	e := s.echo
	authMW := auth.NewMiddleware(s.jwt).RequireAuth

	// Liveness
	e.GET("/health", s.handleHealth)

	// Auth & session
	authGroup := e.Group("/api/auth")
	authGroup.POST("/register", s.handleRegister)
	authGroup.POST("/login", s.handleLogin)
	authGroup.POST("/verify-code", s.handleVerifyCode)
	authGroup.GET("/check-cached-code", s.handleCheckCachedCode)
	authGroup.POST("/clear-cached-code", s.handleClearCachedCode)
	authGroup.GET("/validate-session", s.handleValidateSession, authMW)
	authGroup.POST("/reactivate-session", s.handleReactivateSession, authMW)
	authGroup.POST("/verify-session-code", s.handleVerifySessionCode, authMW)
	authGroup.PUT("/update-credentials", s.handleUpdateCredentials, authMW)
	authGroup.POST("/change-password", s.handleChangePassword, authMW)
	authGroup.POST("/logout", s.handleLogout, authMW)

	// Telegram browsing
	e.GET("/api/telegram/get-chats", s.handleGetChats, authMW)

	// Logging pipeline
	logging := e.Group("/api/logging", authMW)
	logging.GET("/sessions", s.handleListLoggingSessions)
	logging.POST("/sessions", s.handleStartLogging)
	logging.POST("/sessions/:id/stop", s.handleStopLogging)
	logging.DELETE("/sessions/:id", s.handleRemoveLogging)
	logging.GET("/messages/:session_id", s.handleListMessages)
	logging.GET("/chat/:chat_id/status", s.handleChatStatus)

	// Listener / elaboration pipeline
	listeners := e.Group("/api/listeners", authMW)
	listeners.GET("", s.handleListListeners)
	listeners.POST("", s.handleStartListener)
	listeners.POST("/:id/stop", s.handleStopListener)
	listeners.DELETE("/:id", s.handleRemoveListener)
	listeners.GET("/:id/elaborations", s.handleListElaborations)
	listeners.POST("/:id/elaborations", s.handleCreateElaboration)
	listeners.PUT("/:id/elaborations/:eid", s.handleUpdateElaboration)
	listeners.DELETE("/:id/elaborations/:eid", s.handleDeleteElaboration)
	listeners.GET("/:id/messages", s.handleListSavedMessages)
	listeners.GET("/:id/extractions", s.handleListExtractions)

	// Observability
	e.GET("/api/metrics/login-performance", s.handleLoginMetrics, authMW)
}

// Echo exposes the underlying engine, used by tests to drive requests.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// Start blocks serving HTTP.
func (s *Server) Start() error {
	s.log.Info("starting HTTP server", zap.Int("port", s.port))
	return s.echo.Start(fmt.Sprintf(":%d", s.port))
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

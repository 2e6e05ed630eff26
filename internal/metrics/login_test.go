package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRecordCountsOutcomes(t *testing.T) {
	m := NewLoginMetrics()

	m.Record(100*time.Millisecond, true)
	m.Record(200*time.Millisecond, false)
	m.Record(300*time.Millisecond, true)

	snap := m.Snapshot()
	assert.Equal(t, int64(3), snap.TotalRequests)
	assert.Equal(t, int64(2), snap.SuccessfulRequests)
	assert.Equal(t, int64(1), snap.FailedRequests)
	assert.Len(t, snap.Last10Times, 3)
	assert.InDelta(t, 0.2, snap.AvgTime, 0.001)
}

func TestLastTenIsRolling(t *testing.T) {
	m := NewLoginMetrics()

	for i := 0; i < 15; i++ {
		m.Record(time.Duration(i)*time.Second, true)
	}

	snap := m.Snapshot()
	assert.Equal(t, int64(15), snap.TotalRequests)
	assert.Len(t, snap.Last10Times, 10)
	assert.Equal(t, 5.0, snap.Last10Times[0], "oldest retained entry is request #5")
	assert.Equal(t, 14.0, snap.Last10Times[9])
}

func TestRecentAverageEmpty(t *testing.T) {
	m := NewLoginMetrics()
	assert.Zero(t, m.RecentAverage())
	assert.Zero(t, m.Snapshot().AvgTime)
}

func TestRecentAverageReflectsRecovery(t *testing.T) {
	m := NewLoginMetrics()
	m.Record(2*time.Second, true)
	assert.InDelta(t, 2.0, m.RecentAverage(), 0.001)
}

package job

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBatchProgress_Derived(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	now := start.Add(10 * time.Second)

	p := NewBatchProgress("b1", 10, Stats{Pending: 3, Processing: 2, Completed: 4, Failed: 1}, start)

	assert.InDelta(t, 50.0, p.ProgressPct(), 1e-9)
	assert.InDelta(t, 0.4, p.JobsPerSecond(now), 1e-9)
	assert.InDelta(t, 12.5, p.ETASeconds(now), 1e-9)
}

func TestBatchProgress_ZeroValues(t *testing.T) {
	p := NewBatchProgress("b1", 0, Stats{}, time.Time{})
	now := time.Now()

	assert.Equal(t, int64(0), p.TotalJobs)
	assert.Zero(t, p.ProgressPct())
	assert.Zero(t, p.JobsPerSecond(now))
	assert.Zero(t, p.ETASeconds(now))
}

func TestBatchProgress_TotalFallsBackToStats(t *testing.T) {
	s := Stats{Pending: 1, Processing: 1, Completed: 1, Failed: 1}
	p := NewBatchProgress("", 0, s, time.Now())
	assert.Equal(t, s.Total(), p.TotalJobs)
	assert.False(t, s.Drained())
	assert.True(t, Stats{Completed: 3}.Drained())
}

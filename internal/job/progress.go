package job

import (
	"time"
)

// Stats are the live lengths of the four broker collections.
type Stats struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed"`
}

func (s Stats) Total() int64 {
	return s.Pending + s.Processing + s.Completed + s.Failed
}

// Drained reports whether no job is waiting or running.
func (s Stats) Drained() bool {
	return s.Pending == 0 && s.Processing == 0
}

// BatchProgress is recomputed from Stats on every poll and never stored.
type BatchProgress struct {
	BatchID        string    `json:"batch_id"`
	TotalJobs      int64     `json:"total_jobs"`
	PendingJobs    int64     `json:"pending_jobs"`
	ProcessingJobs int64     `json:"processing_jobs"`
	CompletedJobs  int64     `json:"completed_jobs"`
	FailedJobs     int64     `json:"failed_jobs"`
	StartTime      time.Time `json:"start_time"`
}

// NewBatchProgress derives progress from a stats snapshot. A zero total
// falls back to the sum of the snapshot.
func NewBatchProgress(batchID string, total int64, s Stats, start time.Time) BatchProgress {
	if total <= 0 {
		total = s.Total()
	}
	return BatchProgress{
		BatchID:        batchID,
		TotalJobs:      total,
		PendingJobs:    s.Pending,
		ProcessingJobs: s.Processing,
		CompletedJobs:  s.Completed,
		FailedJobs:     s.Failed,
		StartTime:      start,
	}
}

func (p BatchProgress) ProgressPct() float64 {
	if p.TotalJobs == 0 {
		return 0
	}
	return float64(p.CompletedJobs+p.FailedJobs) / float64(p.TotalJobs) * 100
}

func (p BatchProgress) Elapsed(now time.Time) time.Duration {
	if p.StartTime.IsZero() {
		return 0
	}
	return now.Sub(p.StartTime)
}

func (p BatchProgress) JobsPerSecond(now time.Time) float64 {
	secs := p.Elapsed(now).Seconds()
	if secs <= 0 {
		return 0
	}
	return float64(p.CompletedJobs) / secs
}

// ETASeconds returns 0 while there is no throughput to extrapolate from.
func (p BatchProgress) ETASeconds(now time.Time) float64 {
	jps := p.JobsPerSecond(now)
	if jps <= 0 {
		return 0
	}
	return float64(p.PendingJobs+p.ProcessingJobs) / jps
}

// Snapshot is the JSON view of progress with the derived figures filled in.
type Snapshot struct {
	BatchProgress
	ProgressPct   float64 `json:"progress_pct"`
	JobsPerSecond float64 `json:"jobs_per_second"`
	ETASeconds    float64 `json:"eta_seconds"`
}

func (p BatchProgress) Snapshot(now time.Time) Snapshot {
	return Snapshot{
		BatchProgress: p,
		ProgressPct:   p.ProgressPct(),
		JobsPerSecond: p.JobsPerSecond(now),
		ETASeconds:    p.ETASeconds(now),
	}
}

package job

import (
	"time"
)

// WorkerState follows REGISTERING -> (IDLE <-> CLAIMED <-> COMPUTING) -> STOPPING -> STOPPED.
type WorkerState string

const (
	WorkerRegistering WorkerState = "registering"
	WorkerIdle        WorkerState = "idle"
	WorkerClaimed     WorkerState = "claimed"
	WorkerComputing   WorkerState = "computing"
	WorkerStopping    WorkerState = "stopping"
	WorkerStopped     WorkerState = "stopped"
)

// WorkerInfo is the liveness record a worker refreshes on every heartbeat.
type WorkerInfo struct {
	WorkerID      string      `json:"worker_id"`
	Hostname      string      `json:"hostname"`
	PID           int         `json:"pid"`
	StartedAt     time.Time   `json:"started_at"`
	LastHeartbeat time.Time   `json:"last_heartbeat"`
	JobsCompleted int64       `json:"jobs_completed"`
	JobsFailed    int64       `json:"jobs_failed"`
	CurrentJob    string      `json:"current_job,omitempty"`
	Status        WorkerState `json:"status"`
}

// EventType names a notification on the broker's event channel.
type EventType string

const (
	EventJobCompleted  EventType = "job_completed"
	EventJobFailed     EventType = "job_failed"
	EventQueueCleared  EventType = "queue_cleared"
	EventJobsRequeued  EventType = "jobs_requeued"
	EventBatchEnqueued EventType = "batch_enqueued"
)

type Event struct {
	Type      EventType      `json:"type"`
	JobID     string         `json:"job_id,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

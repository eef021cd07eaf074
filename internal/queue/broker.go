package queue

import (
	"context"
	"errors"
	"time"

	"github.com/fedutinova/stockrank/internal/job"
)

// ErrClosed is returned by operations on a broker after Close.
var ErrClosed = errors.New("broker closed")

// Broker is the shared queue, record store and notification channel that
// the dispatcher and every worker coordinate through.
//
// Dequeue's atomic pending -> processing move is the only concurrency
// guarantee: at most one worker holds a given job id at a time.
type Broker interface {
	Enqueue(ctx context.Context, j *job.Job) (string, error)
	EnqueueBatch(ctx context.Context, jobs []*job.Job) ([]string, error)

	// Dequeue blocks up to timeout. It returns (nil, nil) when no work
	// arrived and a *job.DecodeError when the claimed record is unusable.
	Dequeue(ctx context.Context, workerID string, timeout time.Duration) (*job.Job, error)

	// Complete and Fail are no-ops for ids that are no longer processing.
	Complete(ctx context.Context, jobID string, result *job.Result) error
	Fail(ctx context.Context, jobID string, reason string) error

	GetJob(ctx context.Context, jobID string) (*job.Job, error)
	QueueStats(ctx context.Context) (job.Stats, error)

	// ClearQueue drops every job record and collection and returns how
	// many pending jobs were cancelled.
	ClearQueue(ctx context.Context) (int64, error)

	// RequeueStale moves jobs that have been processing longer than
	// olderThan back to the head of the pending list.
	RequeueStale(ctx context.Context, olderThan time.Duration) (int, error)

	RegisterWorker(ctx context.Context, info job.WorkerInfo, ttl time.Duration) error
	Heartbeat(ctx context.Context, info job.WorkerInfo, ttl time.Duration) error
	ActiveWorkers(ctx context.Context) ([]job.WorkerInfo, error)

	Publish(ctx context.Context, ev job.Event) error
	Subscribe(ctx context.Context) (<-chan job.Event, error)

	Ping(ctx context.Context) error
	Close() error
}

// Keys is the broker's key layout under one prefix.
type Keys struct {
	Prefix string
}

func (k Keys) Pending() string         { return k.Prefix + ":pending" }
func (k Keys) Processing() string      { return k.Prefix + ":processing" }
func (k Keys) Completed() string       { return k.Prefix + ":completed" }
func (k Keys) Failed() string          { return k.Prefix + ":failed" }
func (k Keys) Seq() string             { return k.Prefix + ":seq" }
func (k Keys) Events() string          { return k.Prefix + ":events" }
func (k Keys) Job(id string) string    { return k.Prefix + ":job:" + id }
func (k Keys) JobPattern() string      { return k.Prefix + ":job:*" }
func (k Keys) Worker(id string) string { return k.Prefix + ":worker:" + id }
func (k Keys) WorkerPattern() string   { return k.Prefix + ":worker:*" }

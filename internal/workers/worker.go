package workers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"sync"
	"time"

	"github.com/fedutinova/stockrank/internal/common"
	"github.com/fedutinova/stockrank/internal/job"
	"github.com/fedutinova/stockrank/internal/queue"
	"github.com/fedutinova/stockrank/internal/retry"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Handler turns one claimed job into a result.
type Handler interface {
	Handle(ctx context.Context, j *job.Job) (*job.Result, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, j *job.Job) (*job.Result, error)

func (f HandlerFunc) Handle(ctx context.Context, j *job.Job) (*job.Result, error) {
	return f(ctx, j)
}

type Config struct {
	ID                string
	DequeueTimeout    time.Duration
	HeartbeatInterval time.Duration
	HeartbeatTTL      time.Duration
	Retry             retry.Policy
}

// DefaultConfig returns the production timings with a fresh worker id.
func DefaultConfig() Config {
	return Config{
		ID:                NewWorkerID(),
		DequeueTimeout:    5 * time.Second,
		HeartbeatInterval: 10 * time.Second,
		HeartbeatTTL:      30 * time.Second,
		Retry:             retry.DefaultPolicy(),
	}
}

// NewWorkerID is hostname-pid-random, unique across a fleet.
func NewWorkerID() string {
	host, _ := os.Hostname()
	if host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%d-%s", host, os.Getpid(), uuid.New().String()[:8])
}

// Worker claims jobs from the broker one at a time and reports their outcome.
type Worker struct {
	broker  queue.Broker
	handler Handler
	cfg     Config

	mu   sync.Mutex
	info job.WorkerInfo
}

func New(broker queue.Broker, handler Handler, cfg Config) *Worker {
	def := DefaultConfig()
	if cfg.ID == "" {
		cfg.ID = def.ID
	}
	if cfg.DequeueTimeout <= 0 {
		cfg.DequeueTimeout = def.DequeueTimeout
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = def.HeartbeatInterval
	}
	if cfg.HeartbeatTTL <= 0 {
		cfg.HeartbeatTTL = 3 * cfg.HeartbeatInterval
	}
	if cfg.Retry == (retry.Policy{}) {
		cfg.Retry = def.Retry
	}

	host, _ := os.Hostname()
	return &Worker{
		broker:  broker,
		handler: handler,
		cfg:     cfg,
		info: job.WorkerInfo{
			WorkerID: cfg.ID,
			Hostname: host,
			PID:      os.Getpid(),
			Status:   job.WorkerRegistering,
		},
	}
}

func (w *Worker) ID() string { return w.cfg.ID }

// Info returns a snapshot of the liveness record.
func (w *Worker) Info() job.WorkerInfo {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.info
}

func (w *Worker) update(fn func(*job.WorkerInfo)) {
	w.mu.Lock()
	fn(&w.info)
	w.mu.Unlock()
}

func (w *Worker) setState(s job.WorkerState, current string) {
	w.update(func(i *job.WorkerInfo) {
		i.Status = s
		i.CurrentJob = current
	})
}

// Run registers the worker, then claims and processes jobs until ctx is
// cancelled. A job already claimed when ctx ends runs to completion.
func (w *Worker) Run(ctx context.Context) error {
	now := time.Now().UTC()
	w.update(func(i *job.WorkerInfo) {
		i.StartedAt = now
		i.LastHeartbeat = now
		i.Status = job.WorkerRegistering
	})

	err := retry.Do(ctx, w.cfg.Retry, "register worker", retryable, func(ctx context.Context) error {
		return w.broker.RegisterWorker(ctx, w.Info(), w.cfg.HeartbeatTTL)
	})
	if err != nil {
		return fmt.Errorf("failed to register worker: %w", err)
	}
	slog.Info("Worker registered", "worker_id", w.cfg.ID, "heartbeat_interval", w.cfg.HeartbeatInterval)

	w.setState(job.WorkerIdle, "")
	loopDone := make(chan struct{})

	// Heartbeats continue through shutdown until the in-flight job is reported.
	var g errgroup.Group
	g.Go(func() error {
		w.heartbeatLoop(context.WithoutCancel(ctx), loopDone)
		return nil
	})
	g.Go(func() error {
		defer close(loopDone)
		return w.claimLoop(ctx)
	})
	err = g.Wait()

	w.setState(job.WorkerStopped, "")
	final, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if hbErr := w.broker.Heartbeat(final, w.Info(), w.cfg.HeartbeatTTL); hbErr != nil {
		slog.Warn("Failed to record worker stop", "worker_id", w.cfg.ID, "error", hbErr)
	}

	info := w.Info()
	slog.Info("Worker stopped", "worker_id", w.cfg.ID, "jobs_completed", info.JobsCompleted, "jobs_failed", info.JobsFailed)
	return err
}

func (w *Worker) heartbeatLoop(ctx context.Context, done <-chan struct{}) {
	ticker := time.NewTicker(w.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			w.update(func(i *job.WorkerInfo) { i.LastHeartbeat = time.Now().UTC() })
			if err := w.broker.Heartbeat(ctx, w.Info(), w.cfg.HeartbeatTTL); err != nil && ctx.Err() == nil {
				slog.Warn("Heartbeat failed", "worker_id", w.cfg.ID, "error", err)
			}
		}
	}
}

func (w *Worker) claimLoop(ctx context.Context) error {
	sleeper := retry.NewSleeper(w.cfg.Retry)

	for ctx.Err() == nil {
		j, err := w.broker.Dequeue(ctx, w.cfg.ID, w.cfg.DequeueTimeout)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			var decodeErr *job.DecodeError
			if errors.As(err, &decodeErr) {
				slog.Error("Malformed job", "worker_id", w.cfg.ID, "job_id", decodeErr.JobID, "error", err)
				w.finish(ctx, decodeErr.JobID, nil, err)
				continue
			}
			if errors.Is(err, queue.ErrClosed) {
				return err
			}
			slog.Warn("Dequeue failed, backing off", "worker_id", w.cfg.ID, "error", err)
			if !sleeper.Sleep(ctx) {
				break
			}
			continue
		}
		sleeper.Reset()
		if j == nil {
			continue
		}
		w.process(ctx, j)
	}

	w.setState(job.WorkerStopping, "")
	return nil
}

// process runs on a context that ignores shutdown so the claimed job is
// always completed or failed.
func (w *Worker) process(ctx context.Context, j *job.Job) {
	runCtx := context.WithoutCancel(ctx)
	w.setState(job.WorkerClaimed, j.ID)
	slog.Info("Processing job",
		"worker_id", w.cfg.ID,
		"job_id", j.ID,
		"date", j.CalculationDate.Format(job.DateLayout),
		"batch_id", j.BatchID)

	w.setState(job.WorkerComputing, j.ID)
	start := time.Now()

	var result *job.Result
	err := retry.Do(runCtx, w.cfg.Retry, "handle job", common.IsUnavailable, func(ctx context.Context) error {
		var herr error
		result, herr = w.safeHandle(ctx, j)
		return herr
	})

	w.finish(runCtx, j.ID, result, err)
	slog.Info("Job finished",
		"worker_id", w.cfg.ID,
		"job_id", j.ID,
		"ok", err == nil,
		"duration", time.Since(start))
	w.setState(job.WorkerIdle, "")
}

func (w *Worker) safeHandle(ctx context.Context, j *job.Job) (res *job.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Job handler panicked", "job_id", j.ID, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return w.handler.Handle(ctx, j)
}

// finish reports the outcome, retrying while the broker is unreachable.
func (w *Worker) finish(ctx context.Context, jobID string, result *job.Result, jobErr error) {
	op := "complete job"
	report := func(ctx context.Context) error { return w.broker.Complete(ctx, jobID, result) }
	if jobErr != nil {
		op = "fail job"
		report = func(ctx context.Context) error { return w.broker.Fail(ctx, jobID, jobErr.Error()) }
	}

	ctx = context.WithoutCancel(ctx)
	if err := retry.Do(ctx, w.cfg.Retry, op, retryable, report); err != nil {
		slog.Error("Failed to report job outcome", "worker_id", w.cfg.ID, "job_id", jobID, "op", op, "error", err)
		return
	}

	w.update(func(i *job.WorkerInfo) {
		if jobErr != nil {
			i.JobsFailed++
		} else {
			i.JobsCompleted++
		}
	})
	if jobErr != nil {
		slog.Warn("Job failed", "worker_id", w.cfg.ID, "job_id", jobID, "error", jobErr)
	}
}

func retryable(err error) bool {
	return !errors.Is(err, queue.ErrClosed) && !errors.Is(err, context.Canceled)
}

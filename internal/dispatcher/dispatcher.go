// Package dispatcher decides which trading dates need rankings, enqueues one
// job per date and supervises the batch until the workers drain it.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/fedutinova/stockrank/internal/common"
	"github.com/fedutinova/stockrank/internal/job"
	"github.com/fedutinova/stockrank/internal/queue"
	"github.com/fedutinova/stockrank/internal/repository"
	"github.com/fedutinova/stockrank/internal/retry"
	"github.com/fedutinova/stockrank/internal/storage"
)

type Config struct {
	PollInterval time.Duration
	// MaxStall is how many polls without progress raise a stall warning.
	MaxStall int
	// ReclaimAfter > 0 requeues jobs stuck in processing for that long.
	ReclaimAfter time.Duration
	DefaultYears int
	Retry        retry.Policy
	Now          func() time.Time
}

func DefaultConfig() Config {
	return Config{
		PollInterval: 2 * time.Second,
		MaxStall:     30,
		DefaultYears: 1,
		Retry:        retry.DefaultPolicy(),
		Now:          time.Now,
	}
}

// Options describe one dispatch request. Start and End, when set, override
// the Years-back window ending yesterday.
type Options struct {
	Years        int
	Start        time.Time
	End          time.Time
	SkipExisting bool
	Wait         bool
	PollInterval time.Duration
	Progress     func(job.BatchProgress)
	Symbols      []string
	Priority     int
}

// Summary is the outcome of BuildHistoricalRankings.
type Summary struct {
	BatchID        string        `json:"batch_id,omitempty"`
	StartDate      time.Time     `json:"start_date"`
	EndDate        time.Time     `json:"end_date"`
	DatesRequested int           `json:"dates_requested"`
	DatesSkipped   int           `json:"dates_skipped"`
	Processed      int           `json:"processed"`
	Completed      int64         `json:"completed"`
	Failed         int64         `json:"failed"`
	Elapsed        time.Duration `json:"elapsed"`
	JobsPerSecond  float64       `json:"jobs_per_second"`
	Stopped        bool          `json:"stopped"`
	Stalled        bool          `json:"stalled"`
	Waited         bool          `json:"waited"`
	Message        string        `json:"message"`
	ReportKey      string        `json:"report_key,omitempty"`
}

// Status is the live view of the queue and the workers behind it.
type Status struct {
	Stats   job.Stats        `json:"stats"`
	Batch   *job.Snapshot    `json:"batch,omitempty"`
	Workers []job.WorkerInfo `json:"workers"`
}

type batchState struct {
	id    string
	total int64
	start time.Time
}

type Dispatcher struct {
	broker   queue.Broker
	prices   repository.PriceSource
	rankings repository.RankingStore
	archive  storage.Storage
	cfg      Config

	stopped atomic.Bool

	mu    sync.Mutex
	batch *batchState
}

// New builds a dispatcher. archive may be nil.
func New(broker queue.Broker, prices repository.PriceSource, rankings repository.RankingStore, archive storage.Storage, cfg Config) *Dispatcher {
	def := DefaultConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.MaxStall <= 0 {
		cfg.MaxStall = def.MaxStall
	}
	if cfg.DefaultYears <= 0 {
		cfg.DefaultYears = def.DefaultYears
	}
	if cfg.Retry == (retry.Policy{}) {
		cfg.Retry = def.Retry
	}
	if cfg.Now == nil {
		cfg.Now = def.Now
	}
	return &Dispatcher{
		broker:   broker,
		prices:   prices,
		rankings: rankings,
		archive:  archive,
		cfg:      cfg,
	}
}

func (d *Dispatcher) TradingDates(ctx context.Context, start, end time.Time) ([]time.Time, error) {
	var dates []time.Time
	err := retry.Do(ctx, d.cfg.Retry, "trading dates", transient, func(ctx context.Context) error {
		var err error
		dates, err = d.prices.TradingDates(ctx, start, end)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("trading dates: %w", err)
	}
	return dates, nil
}

func (d *Dispatcher) AlreadyCalculated(ctx context.Context, start, end time.Time) (map[time.Time]bool, error) {
	var done map[time.Time]bool
	err := retry.Do(ctx, d.cfg.Retry, "calculated dates", transient, func(ctx context.Context) error {
		var err error
		done, err = d.rankings.CalculatedDates(ctx, start, end)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("calculated dates: %w", err)
	}
	return done, nil
}

// Window resolves the date range for opts.
func (d *Dispatcher) Window(opts Options) (time.Time, time.Time, error) {
	end := opts.End
	if end.IsZero() {
		end = d.cfg.Now().UTC().AddDate(0, 0, -1)
	}
	end = job.TruncateDate(end)

	start := opts.Start
	if start.IsZero() {
		years := opts.Years
		if years <= 0 {
			years = d.cfg.DefaultYears
		}
		start = end.AddDate(-years, 0, 0)
	}
	start = job.TruncateDate(start)

	if start.After(end) {
		return time.Time{}, time.Time{}, common.ValidationError{
			Field:   "start",
			Message: fmt.Sprintf("%s is after end %s", start.Format(job.DateLayout), end.Format(job.DateLayout)),
		}
	}
	return start, end, nil
}

// BuildHistoricalRankings enqueues a job per trading date that still needs
// rankings and, when opts.Wait is set, polls until the queue drains or Stop
// is called. Failed jobs are reported in the summary, not as an error.
func (d *Dispatcher) BuildHistoricalRankings(ctx context.Context, opts Options) (*Summary, error) {
	d.stopped.Store(false)

	start, end, err := d.Window(opts)
	if err != nil {
		return nil, err
	}
	sum := &Summary{StartDate: start, EndDate: end}

	dates, err := d.TradingDates(ctx, start, end)
	if err != nil {
		return nil, err
	}
	sum.DatesRequested = len(dates)

	if opts.SkipExisting && len(dates) > 0 {
		done, err := d.AlreadyCalculated(ctx, start, end)
		if err != nil {
			return nil, err
		}
		todo := dates[:0:0]
		for _, dt := range dates {
			if !done[job.TruncateDate(dt)] {
				todo = append(todo, dt)
			}
		}
		sum.DatesSkipped = len(dates) - len(todo)
		dates = todo
	}

	if len(dates) == 0 {
		sum.Message = fmt.Sprintf("nothing to do: %d trading dates between %s and %s, %d already calculated",
			sum.DatesRequested, start.Format(job.DateLayout), end.Format(job.DateLayout), sum.DatesSkipped)
		slog.Info("Dispatch has nothing to do",
			"start", start.Format(job.DateLayout),
			"end", end.Format(job.DateLayout),
			"dates", sum.DatesRequested,
			"skipped", sum.DatesSkipped)
		return sum, nil
	}

	batchID := uuid.NewString()
	sum.BatchID = batchID

	// Clear and enqueue retry together so a retried batch never sits next to
	// a partial copy of itself.
	var jobs []*job.Job
	err = retry.Do(ctx, d.cfg.Retry, "enqueue batch", transient, func(ctx context.Context) error {
		cleared, err := d.broker.ClearQueue(ctx)
		if err != nil {
			return fmt.Errorf("clear queue: %w", err)
		}
		if cleared > 0 {
			slog.Warn("Cancelled pending jobs", "cancelled", cleared)
		}

		jobs = make([]*job.Job, len(dates))
		for i, dt := range dates {
			jobs[i] = job.NewDateJob(dt, batchID, opts.Symbols, opts.Priority)
		}
		if _, err := d.broker.EnqueueBatch(ctx, jobs); err != nil {
			return fmt.Errorf("enqueue batch: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sum.Processed = len(jobs)

	began := d.cfg.Now()
	d.setBatch(&batchState{id: batchID, total: int64(len(jobs)), start: began})

	if err := d.broker.Publish(ctx, job.Event{
		Type: job.EventBatchEnqueued,
		Data: map[string]any{"batch_id": batchID, "jobs": len(jobs)},
	}); err != nil {
		slog.Warn("Failed to publish batch event", "batch_id", batchID, "error", err)
	}

	slog.Info("Batch enqueued",
		"batch_id", batchID,
		"jobs", len(jobs),
		"skipped", sum.DatesSkipped,
		"first", dates[0].Format(job.DateLayout),
		"last", dates[len(dates)-1].Format(job.DateLayout))

	if !opts.Wait {
		sum.Message = fmt.Sprintf("enqueued %d jobs", len(jobs))
		d.archiveSummary(ctx, sum)
		return sum, nil
	}

	sum.Waited = true
	waitErr := d.wait(ctx, opts, sum, began)

	switch {
	case sum.Stopped:
		sum.Message = fmt.Sprintf("stopped: %d completed, %d failed of %d", sum.Completed, sum.Failed, len(jobs))
	case waitErr != nil:
		sum.Message = fmt.Sprintf("interrupted: %d completed, %d failed of %d", sum.Completed, sum.Failed, len(jobs))
	default:
		sum.Message = fmt.Sprintf("finished: %d completed, %d failed", sum.Completed, sum.Failed)
	}

	slog.Info("Batch finished",
		"batch_id", batchID,
		"completed", sum.Completed,
		"failed", sum.Failed,
		"elapsed", sum.Elapsed,
		"jobs_per_second", sum.JobsPerSecond,
		"stopped", sum.Stopped,
		"stalled", sum.Stalled)

	d.archiveSummary(context.WithoutCancel(ctx), sum)
	return sum, waitErr
}

// wait polls queue stats until the queue drains, Stop is called or ctx ends.
func (d *Dispatcher) wait(ctx context.Context, opts Options, sum *Summary, began time.Time) error {
	interval := opts.PollInterval
	if interval <= 0 {
		interval = d.cfg.PollInterval
	}
	total := int64(sum.Processed)
	sleeper := retry.NewSleeper(d.cfg.Retry)

	var (
		lastDone   int64 = -1
		stallPolls int
	)
	finish := func(p job.BatchProgress) {
		now := d.cfg.Now()
		sum.Completed = p.CompletedJobs
		sum.Failed = p.FailedJobs
		sum.Elapsed = p.Elapsed(now)
		sum.JobsPerSecond = p.JobsPerSecond(now)
	}
	last := job.NewBatchProgress(sum.BatchID, total, job.Stats{Pending: total}, began)

	for {
		stats, err := d.broker.QueueStats(ctx)
		if err != nil {
			if ctx.Err() != nil {
				finish(last)
				return ctx.Err()
			}
			slog.Warn("Failed to read queue stats", "batch_id", sum.BatchID, "error", err)
			if !sleeper.Sleep(ctx) {
				finish(last)
				return ctx.Err()
			}
			continue
		}
		sleeper.Reset()

		last = job.NewBatchProgress(sum.BatchID, total, stats, began)
		if opts.Progress != nil {
			opts.Progress(last)
		}

		if stats.Drained() {
			finish(last)
			return nil
		}
		if d.stopped.Load() {
			sum.Stopped = true
			finish(last)
			slog.Info("Dispatcher stopped; in-flight jobs keep running", "batch_id", sum.BatchID)
			return nil
		}

		if done := stats.Completed + stats.Failed; done > lastDone {
			lastDone = done
			stallPolls = 0
		} else if stats.Pending > 0 {
			stallPolls++
			if stallPolls%d.cfg.MaxStall == 0 {
				sum.Stalled = true
				d.warnStalled(ctx, sum.BatchID, stats, stallPolls)
			}
		}

		if d.cfg.ReclaimAfter > 0 {
			if n, err := d.broker.RequeueStale(ctx, d.cfg.ReclaimAfter); err != nil {
				slog.Warn("Failed to requeue stale jobs", "error", err)
			} else if n > 0 {
				slog.Warn("Requeued stale jobs", "batch_id", sum.BatchID, "count", n, "older_than", d.cfg.ReclaimAfter)
			}
		}

		t := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			t.Stop()
			finish(last)
			return ctx.Err()
		case <-t.C:
		}
	}
}

func (d *Dispatcher) warnStalled(ctx context.Context, batchID string, stats job.Stats, polls int) {
	workers, err := d.broker.ActiveWorkers(ctx)
	if err != nil {
		slog.Warn("Batch is not making progress", "batch_id", batchID, "polls", polls, "pending", stats.Pending, "error", err)
		return
	}
	if len(workers) == 0 {
		slog.Warn("Batch is not making progress and no workers are alive",
			"batch_id", batchID,
			"polls", polls,
			"pending", stats.Pending,
			"error", common.ErrNoWorkers)
		return
	}
	slog.Warn("Batch is not making progress",
		"batch_id", batchID,
		"polls", polls,
		"pending", stats.Pending,
		"processing", stats.Processing,
		"workers", len(workers))
}

func (d *Dispatcher) archiveSummary(ctx context.Context, sum *Summary) {
	if d.archive == nil {
		return
	}
	key := storage.ReportKey(d.cfg.Now(), sum.BatchID)
	if _, err := storage.SaveJSON(ctx, d.archive, key, sum); err != nil {
		slog.Warn("Failed to archive batch summary", "batch_id", sum.BatchID, "error", err)
		return
	}
	sum.ReportKey = key
}

// Stop makes a waiting BuildHistoricalRankings return after its next poll.
// Claimed jobs are left to finish.
func (d *Dispatcher) Stop() {
	d.stopped.Store(true)
}

// CancelPendingJobs drops every queued job and returns how many were pending.
func (d *Dispatcher) CancelPendingJobs(ctx context.Context) (int64, error) {
	n, err := d.broker.ClearQueue(ctx)
	if err != nil {
		return 0, fmt.Errorf("cancel pending jobs: %w", err)
	}
	d.setBatch(nil)
	slog.Info("Pending jobs cancelled", "cancelled", n)
	return n, nil
}

// Status reports queue stats, the current batch if this dispatcher started
// one, and every worker whose heartbeat has not expired.
func (d *Dispatcher) Status(ctx context.Context) (*Status, error) {
	stats, err := d.broker.QueueStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}
	workers, err := d.broker.ActiveWorkers(ctx)
	if err != nil {
		return nil, fmt.Errorf("active workers: %w", err)
	}
	st := &Status{Stats: stats, Workers: workers}
	if b := d.currentBatch(); b != nil {
		snap := job.NewBatchProgress(b.id, b.total, stats, b.start).Snapshot(d.cfg.Now())
		st.Batch = &snap
	}
	return st, nil
}

// Job looks up one job record.
func (d *Dispatcher) Job(ctx context.Context, id string) (*job.Job, error) {
	j, err := d.broker.GetJob(ctx, id)
	if err != nil {
		if errors.Is(err, common.ErrJobNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return j, nil
}

// transient reports whether a failed store or broker call is worth retrying.
func transient(err error) bool {
	return !errors.Is(err, queue.ErrClosed) &&
		!errors.Is(err, context.Canceled) &&
		!errors.Is(err, context.DeadlineExceeded) &&
		!common.IsValidation(err)
}

func (d *Dispatcher) setBatch(b *batchState) {
	d.mu.Lock()
	d.batch = b
	d.mu.Unlock()
}

func (d *Dispatcher) currentBatch() *batchState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.batch
}

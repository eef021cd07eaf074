// Package memq is an in-process Broker for tests and single-binary runs.
package memq

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/fedutinova/stockrank/internal/common"
	"github.com/fedutinova/stockrank/internal/job"
	"github.com/fedutinova/stockrank/internal/queue"
)

type workerEntry struct {
	info    job.WorkerInfo
	expires time.Time
}

// Queue keeps every collection behind one mutex, so each operation is
// atomic the same way the Redis scripts are.
type Queue struct {
	mu         sync.Mutex
	pending    []string // index 0 is claimed next
	processing []string
	completed  map[string]struct{}
	failed     map[string]struct{}
	jobs       map[string]*job.Job
	workers    map[string]workerEntry
	subs       map[int]chan job.Event
	nextSub    int
	seq        int64
	notify     chan struct{}
	closed     bool
}

var _ queue.Broker = (*Queue)(nil)

func NewMemoryQueue() *Queue {
	return &Queue{
		completed: make(map[string]struct{}),
		failed:    make(map[string]struct{}),
		jobs:      make(map[string]*job.Job),
		workers:   make(map[string]workerEntry),
		subs:      make(map[int]chan job.Event),
		notify:    make(chan struct{}),
	}
}

func (q *Queue) Enqueue(ctx context.Context, j *job.Job) (string, error) {
	ids, err := q.EnqueueBatch(ctx, []*job.Job{j})
	if err != nil {
		return "", err
	}
	return ids[0], nil
}

func (q *Queue) EnqueueBatch(ctx context.Context, jobs []*job.Job) ([]string, error) {
	if len(jobs) == 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, queue.ErrClosed
	}

	now := time.Now().UTC()
	ids := make([]string, len(jobs))
	for i, j := range jobs {
		q.seq++
		j.ID = job.NewID(now, q.seq)
		j.Status = job.StatusPending
		j.CreatedAt = now
		j.StartedAt, j.CompletedAt, j.WorkerID, j.Result, j.Error = nil, nil, "", nil, ""

		q.jobs[j.ID] = clone(j)
		q.pending = append(q.pending, j.ID)
		ids[i] = j.ID
	}
	q.wake()
	return ids, nil
}

// wake releases every Dequeue blocked on the current notify channel.
// Callers hold q.mu.
func (q *Queue) wake() {
	close(q.notify)
	q.notify = make(chan struct{})
}

func (q *Queue) Dequeue(ctx context.Context, workerID string, timeout time.Duration) (*job.Job, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return nil, queue.ErrClosed
		}
		if len(q.pending) > 0 {
			id := q.pending[0]
			q.pending = q.pending[1:]
			q.processing = append(q.processing, id)

			j, ok := q.jobs[id]
			if !ok {
				q.mu.Unlock()
				return nil, &job.DecodeError{JobID: id, Err: job.ErrMalformed}
			}
			now := time.Now().UTC()
			j.Status = job.StatusProcessing
			j.WorkerID = workerID
			j.StartedAt = &now
			out := clone(j)
			q.mu.Unlock()
			return out, nil
		}
		wait := q.notify
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, nil
		case <-wait:
		}
	}
}

func (q *Queue) Complete(ctx context.Context, jobID string, result *job.Result) error {
	if result == nil {
		result = &job.Result{}
	}
	r := *result
	r.Top5 = slices.Clone(result.Top5)

	if !q.finish(jobID, job.StatusCompleted, func(j *job.Job) { j.Result = &r }, q.completed) {
		return nil
	}
	return q.Publish(ctx, job.Event{
		Type:  job.EventJobCompleted,
		JobID: jobID,
		Data: map[string]any{
			"symbols_ranked": result.SymbolsRanked,
			"symbols_saved":  result.SymbolsSaved,
		},
	})
}

func (q *Queue) Fail(ctx context.Context, jobID string, reason string) error {
	if !q.finish(jobID, job.StatusFailed, func(j *job.Job) { j.Error = reason }, q.failed) {
		return nil
	}
	return q.Publish(ctx, job.Event{
		Type:  job.EventJobFailed,
		JobID: jobID,
		Data:  map[string]any{"error": reason},
	})
}

func (q *Queue) finish(jobID string, status job.Status, apply func(*job.Job), set map[string]struct{}) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	i := slices.Index(q.processing, jobID)
	if i < 0 {
		slog.Debug("Job no longer processing, ignoring result", "job_id", jobID, "status", status)
		return false
	}
	q.processing = slices.Delete(q.processing, i, i+1)

	j, ok := q.jobs[jobID]
	if !ok {
		j = &job.Job{ID: jobID}
		q.jobs[jobID] = j
	}
	now := time.Now().UTC()
	j.Status = status
	j.CompletedAt = &now
	apply(j)
	set[jobID] = struct{}{}
	return true
}

func (q *Queue) GetJob(ctx context.Context, jobID string) (*job.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.jobs[jobID]
	if !ok {
		return nil, common.ErrJobNotFound
	}
	return clone(j), nil
}

func (q *Queue) QueueStats(ctx context.Context) (job.Stats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return job.Stats{
		Pending:    int64(len(q.pending)),
		Processing: int64(len(q.processing)),
		Completed:  int64(len(q.completed)),
		Failed:     int64(len(q.failed)),
	}, nil
}

func (q *Queue) ClearQueue(ctx context.Context) (int64, error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return 0, queue.ErrClosed
	}
	cancelled := int64(len(q.pending))
	records := len(q.jobs)
	q.pending = nil
	q.processing = nil
	q.completed = make(map[string]struct{})
	q.failed = make(map[string]struct{})
	q.jobs = make(map[string]*job.Job)
	q.mu.Unlock()

	slog.Info("Queue cleared", "cancelled", cancelled, "records", records)
	return cancelled, q.Publish(ctx, job.Event{
		Type: job.EventQueueCleared,
		Data: map[string]any{"cancelled": cancelled},
	})
}

func (q *Queue) RequeueStale(ctx context.Context, olderThan time.Duration) (int, error) {
	q.mu.Lock()
	cutoff := time.Now().Add(-olderThan)
	var stale []string
	for _, id := range q.processing {
		j, ok := q.jobs[id]
		if ok && j.StartedAt != nil && !j.StartedAt.After(cutoff) {
			stale = append(stale, id)
		}
	}
	for _, id := range stale {
		q.processing = slices.DeleteFunc(q.processing, func(s string) bool { return s == id })
		if j, ok := q.jobs[id]; ok {
			j.Status = job.StatusPending
			j.WorkerID = ""
			j.StartedAt = nil
		}
		slog.Warn("Requeued stale job", "job_id", id)
	}
	q.pending = append(stale, q.pending...)
	if len(stale) > 0 {
		q.wake()
	}
	q.mu.Unlock()

	if len(stale) == 0 {
		return 0, nil
	}
	return len(stale), q.Publish(ctx, job.Event{
		Type: job.EventJobsRequeued,
		Data: map[string]any{"count": len(stale)},
	})
}

func (q *Queue) RegisterWorker(ctx context.Context, info job.WorkerInfo, ttl time.Duration) error {
	return q.Heartbeat(ctx, info, ttl)
}

func (q *Queue) Heartbeat(ctx context.Context, info job.WorkerInfo, ttl time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.workers[info.WorkerID] = workerEntry{info: info, expires: time.Now().Add(ttl)}
	return nil
}

func (q *Queue) ActiveWorkers(ctx context.Context) ([]job.WorkerInfo, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := time.Now()
	var out []job.WorkerInfo
	for id, w := range q.workers {
		if !now.Before(w.expires) {
			delete(q.workers, id)
			continue
		}
		out = append(out, w.info)
	}
	slices.SortFunc(out, func(a, b job.WorkerInfo) int {
		if a.WorkerID < b.WorkerID {
			return -1
		}
		if a.WorkerID > b.WorkerID {
			return 1
		}
		return 0
	})
	return out, nil
}

// Publish fans out to current subscribers. Slow subscribers lose events,
// the same as Redis pub/sub.
func (q *Queue) Publish(ctx context.Context, ev job.Event) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, ch := range q.subs {
		select {
		case ch <- ev:
		default:
			slog.Warn("Dropping event for slow subscriber", "type", ev.Type)
		}
	}
	return nil
}

func (q *Queue) Subscribe(ctx context.Context) (<-chan job.Event, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, queue.ErrClosed
	}
	ch := make(chan job.Event, 64)
	id := q.nextSub
	q.nextSub++
	q.subs[id] = ch

	go func() {
		<-ctx.Done()
		q.mu.Lock()
		defer q.mu.Unlock()
		if _, ok := q.subs[id]; ok {
			delete(q.subs, id)
			close(ch)
		}
	}()
	return ch, nil
}

func (q *Queue) Ping(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return queue.ErrClosed
	}
	return nil
}

func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	for id, ch := range q.subs {
		delete(q.subs, id)
		close(ch)
	}
	q.wake()
	return nil
}

func clone(j *job.Job) *job.Job {
	c := *j
	c.Symbols = slices.Clone(j.Symbols)
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	if j.Result != nil {
		r := *j.Result
		r.Top5 = slices.Clone(j.Result.Top5)
		c.Result = &r
	}
	return &c
}

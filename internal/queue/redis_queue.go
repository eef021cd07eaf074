package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fedutinova/stockrank/internal/common"
	"github.com/fedutinova/stockrank/internal/job"
	"github.com/redis/go-redis/v9"
)

// finishScript moves a job out of processing into a terminal set. The id
// must still be in processing, otherwise nothing is written.
var finishScript = redis.NewScript(`
if redis.call('LREM', KEYS[1], 1, ARGV[1]) == 0 then
  return 0
end
redis.call('HSET', KEYS[2], 'status', ARGV[2], 'completed_at', ARGV[3], ARGV[4], ARGV[5])
redis.call('SADD', KEYS[3], ARGV[1])
return 1
`)

// claimScript stamps a freshly moved job without resurrecting a record
// that was deleted by a concurrent clear.
var claimScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 0
end
redis.call('HSET', KEYS[1], 'status', ARGV[1], 'worker_id', ARGV[2], 'started_at', ARGV[3])
return 1
`)

// requeueScript returns a processing job to the consuming end of pending.
var requeueScript = redis.NewScript(`
if redis.call('LREM', KEYS[1], 1, ARGV[1]) == 0 then
  return 0
end
redis.call('RPUSH', KEYS[2], ARGV[1])
redis.call('HDEL', KEYS[3], 'worker_id', 'started_at')
redis.call('HSET', KEYS[3], 'status', ARGV[2])
return 1
`)

// RedisQueue implements Broker on plain Redis lists, sets and hashes.
type RedisQueue struct {
	client *redis.Client
	keys   Keys

	mu     sync.Mutex
	closed bool
	subs   map[*redis.PubSub]struct{}
}

// RedisQueueConfig holds configuration for RedisQueue
type RedisQueueConfig struct {
	Prefix string
}

// DefaultConfig returns default queue configuration
func DefaultConfig() RedisQueueConfig {
	return RedisQueueConfig{
		Prefix: "stockrank",
	}
}

// NewRedisQueue wraps an existing client; the caller keeps ownership of it.
func NewRedisQueue(client *redis.Client, cfg RedisQueueConfig) *RedisQueue {
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultConfig().Prefix
	}
	q := &RedisQueue{
		client: client,
		keys:   Keys{Prefix: cfg.Prefix},
	}
	slog.Info("Redis queue initialized", "prefix", cfg.Prefix)
	return q
}

var _ Broker = (*RedisQueue)(nil)

// Enqueue adds a job to the queue
func (q *RedisQueue) Enqueue(ctx context.Context, j *job.Job) (string, error) {
	ids, err := q.EnqueueBatch(ctx, []*job.Job{j})
	if err != nil {
		return "", err
	}
	return ids[0], nil
}

// EnqueueBatch stores every record and pushes all ids in one transaction,
// preserving slice order as FIFO order.
func (q *RedisQueue) EnqueueBatch(ctx context.Context, jobs []*job.Job) ([]string, error) {
	if len(jobs) == 0 {
		return nil, nil
	}
	if err := q.checkOpen(); err != nil {
		return nil, err
	}

	n := int64(len(jobs))
	last, err := q.client.IncrBy(ctx, q.keys.Seq(), n).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to allocate job ids: %w", err)
	}

	now := time.Now().UTC()
	ids := make([]string, len(jobs))
	pushed := make([]any, len(jobs))
	records := make([]map[string]any, len(jobs))
	for i, j := range jobs {
		j.ID = job.NewID(now, last-n+1+int64(i))
		j.Status = job.StatusPending
		j.CreatedAt = now
		j.StartedAt, j.CompletedAt, j.WorkerID, j.Result, j.Error = nil, nil, "", nil, ""

		fields, err := job.Encode(j)
		if err != nil {
			return nil, err
		}
		ids[i] = j.ID
		pushed[i] = j.ID
		records[i] = fields
	}

	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			pipe.HSet(ctx, q.keys.Job(id), records[i])
		}
		pipe.LPush(ctx, q.keys.Pending(), pushed...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue jobs: %w", err)
	}

	slog.Debug("Jobs enqueued", "count", len(ids), "first", ids[0])
	return ids, nil
}

// Dequeue claims the oldest pending job for workerID.
func (q *RedisQueue) Dequeue(ctx context.Context, workerID string, timeout time.Duration) (*job.Job, error) {
	if err := q.checkOpen(); err != nil {
		return nil, err
	}

	id, err := q.client.BLMove(ctx, q.keys.Pending(), q.keys.Processing(), "RIGHT", "LEFT", timeout).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}

	now := time.Now().UTC()
	ok, err := claimScript.Run(ctx, q.client, []string{q.keys.Job(id)},
		string(job.StatusProcessing), workerID, job.FormatTime(now)).Int()
	if err != nil {
		return nil, fmt.Errorf("failed to mark job %s processing: %w", id, err)
	}
	if ok == 0 {
		return nil, &job.DecodeError{JobID: id, Err: fmt.Errorf("%w: record not found", job.ErrMalformed)}
	}

	fields, err := q.client.HGetAll(ctx, q.keys.Job(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load job %s: %w", id, err)
	}
	return job.Decode(id, fields)
}

// Complete records a successful result.
func (q *RedisQueue) Complete(ctx context.Context, jobID string, result *job.Result) error {
	if result == nil {
		result = &job.Result{}
	}
	payload, err := job.EncodeResult(result)
	if err != nil {
		return err
	}
	applied, err := q.finish(ctx, jobID, job.StatusCompleted, q.keys.Completed(), job.FieldResult, payload)
	if err != nil {
		return err
	}
	if applied {
		q.publishBestEffort(ctx, job.Event{
			Type:  job.EventJobCompleted,
			JobID: jobID,
			Data: map[string]any{
				"symbols_ranked": result.SymbolsRanked,
				"symbols_saved":  result.SymbolsSaved,
			},
		})
	}
	return nil
}

// Fail records a failure reason.
func (q *RedisQueue) Fail(ctx context.Context, jobID string, reason string) error {
	applied, err := q.finish(ctx, jobID, job.StatusFailed, q.keys.Failed(), job.FieldError, reason)
	if err != nil {
		return err
	}
	if applied {
		q.publishBestEffort(ctx, job.Event{
			Type:  job.EventJobFailed,
			JobID: jobID,
			Data:  map[string]any{"error": reason},
		})
	}
	return nil
}

func (q *RedisQueue) finish(ctx context.Context, jobID string, status job.Status, set, field, value string) (bool, error) {
	if err := q.checkOpen(); err != nil {
		return false, err
	}
	n, err := finishScript.Run(ctx, q.client,
		[]string{q.keys.Processing(), q.keys.Job(jobID), set},
		jobID, string(status), job.FormatTime(time.Now()), field, value,
	).Int()
	if err != nil {
		return false, fmt.Errorf("failed to mark job %s %s: %w", jobID, status, err)
	}
	if n == 0 {
		slog.Debug("Job no longer processing, ignoring result", "job_id", jobID, "status", status)
	}
	return n == 1, nil
}

// GetJob returns the stored record for jobID.
func (q *RedisQueue) GetJob(ctx context.Context, jobID string) (*job.Job, error) {
	fields, err := q.client.HGetAll(ctx, q.keys.Job(jobID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load job %s: %w", jobID, err)
	}
	if len(fields) == 0 {
		return nil, common.ErrJobNotFound
	}
	return job.Decode(jobID, fields)
}

// QueueStats reads all four lengths inside one MULTI so the snapshot is
// consistent with itself.
func (q *RedisQueue) QueueStats(ctx context.Context) (job.Stats, error) {
	var pending, processing, completed, failed *redis.IntCmd
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pending = pipe.LLen(ctx, q.keys.Pending())
		processing = pipe.LLen(ctx, q.keys.Processing())
		completed = pipe.SCard(ctx, q.keys.Completed())
		failed = pipe.SCard(ctx, q.keys.Failed())
		return nil
	})
	if err != nil {
		return job.Stats{}, fmt.Errorf("failed to read queue stats: %w", err)
	}
	return job.Stats{
		Pending:    pending.Val(),
		Processing: processing.Val(),
		Completed:  completed.Val(),
		Failed:     failed.Val(),
	}, nil
}

// ClearQueue cancels the whole queue. Workers that already claimed a job
// keep running; their Complete/Fail become no-ops.
func (q *RedisQueue) ClearQueue(ctx context.Context) (int64, error) {
	if err := q.checkOpen(); err != nil {
		return 0, err
	}

	var jobKeys []string
	iter := q.client.Scan(ctx, 0, q.keys.JobPattern(), 500).Iterator()
	for iter.Next(ctx) {
		jobKeys = append(jobKeys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("failed to scan job records: %w", err)
	}

	var pending *redis.IntCmd
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pending = pipe.LLen(ctx, q.keys.Pending())
		pipe.Del(ctx, q.keys.Pending(), q.keys.Processing(), q.keys.Completed(), q.keys.Failed())
		for start := 0; start < len(jobKeys); start += 500 {
			end := min(start+500, len(jobKeys))
			pipe.Del(ctx, jobKeys[start:end]...)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to clear queue: %w", err)
	}

	cancelled := pending.Val()
	slog.Info("Queue cleared", "cancelled", cancelled, "records", len(jobKeys))
	q.publishBestEffort(ctx, job.Event{
		Type: job.EventQueueCleared,
		Data: map[string]any{"cancelled": cancelled},
	})
	return cancelled, nil
}

// RequeueStale returns jobs stuck in processing to pending.
func (q *RedisQueue) RequeueStale(ctx context.Context, olderThan time.Duration) (int, error) {
	ids, err := q.client.LRange(ctx, q.keys.Processing(), 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to list processing jobs: %w", err)
	}

	cutoff := time.Now().Add(-olderThan)
	requeued := 0
	for _, id := range ids {
		raw, err := q.client.HGet(ctx, q.keys.Job(id), job.FieldStartedAt).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return requeued, fmt.Errorf("failed to read job %s: %w", id, err)
		}
		// No started_at yet means a worker is between BLMOVE and its claim.
		started, perr := job.ParseTime(raw)
		if perr != nil || started.IsZero() || started.After(cutoff) {
			continue
		}

		n, err := requeueScript.Run(ctx, q.client,
			[]string{q.keys.Processing(), q.keys.Pending(), q.keys.Job(id)},
			id, string(job.StatusPending),
		).Int()
		if err != nil {
			return requeued, fmt.Errorf("failed to requeue job %s: %w", id, err)
		}
		if n == 1 {
			requeued++
			slog.Warn("Requeued stale job", "job_id", id, "started_at", raw)
		}
	}

	if requeued > 0 {
		q.publishBestEffort(ctx, job.Event{
			Type: job.EventJobsRequeued,
			Data: map[string]any{"count": requeued},
		})
	}
	return requeued, nil
}

// RegisterWorker writes the liveness record with an expiry.
func (q *RedisQueue) RegisterWorker(ctx context.Context, info job.WorkerInfo, ttl time.Duration) error {
	return q.writeWorker(ctx, info, ttl)
}

// Heartbeat refreshes the liveness record and its expiry.
func (q *RedisQueue) Heartbeat(ctx context.Context, info job.WorkerInfo, ttl time.Duration) error {
	return q.writeWorker(ctx, info, ttl)
}

func (q *RedisQueue) writeWorker(ctx context.Context, info job.WorkerInfo, ttl time.Duration) error {
	key := q.keys.Worker(info.WorkerID)
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, job.EncodeWorker(info))
		pipe.Expire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write worker %s: %w", info.WorkerID, err)
	}
	return nil
}

// ActiveWorkers lists every worker whose record has not expired.
func (q *RedisQueue) ActiveWorkers(ctx context.Context) ([]job.WorkerInfo, error) {
	var keys []string
	iter := q.client.Scan(ctx, 0, q.keys.WorkerPattern(), 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan workers: %w", err)
	}
	if len(keys) == 0 {
		return nil, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(keys))
	_, err := q.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, key := range keys {
			cmds[i] = pipe.HGetAll(ctx, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read workers: %w", err)
	}

	workers := make([]job.WorkerInfo, 0, len(keys))
	for _, cmd := range cmds {
		if fields := cmd.Val(); len(fields) > 0 {
			workers = append(workers, job.DecodeWorker(fields))
		}
	}
	return workers, nil
}

// Publish sends an event; having no subscriber is not an error.
func (q *RedisQueue) Publish(ctx context.Context, ev job.Event) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := q.client.Publish(ctx, q.keys.Events(), data).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

func (q *RedisQueue) publishBestEffort(ctx context.Context, ev job.Event) {
	if err := q.Publish(ctx, ev); err != nil {
		slog.Warn("Failed to publish event", "type", ev.Type, "job_id", ev.JobID, "error", err)
	}
}

// Subscribe streams events until ctx is done.
func (q *RedisQueue) Subscribe(ctx context.Context) (<-chan job.Event, error) {
	if err := q.checkOpen(); err != nil {
		return nil, err
	}
	ps := q.client.Subscribe(ctx, q.keys.Events())
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	q.mu.Lock()
	if q.subs == nil {
		q.subs = make(map[*redis.PubSub]struct{})
	}
	q.subs[ps] = struct{}{}
	q.mu.Unlock()

	out := make(chan job.Event, 64)
	go func() {
		defer close(out)
		defer func() {
			q.mu.Lock()
			delete(q.subs, ps)
			q.mu.Unlock()
			_ = ps.Close()
		}()
		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var ev job.Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					slog.Warn("Dropping malformed event", "error", err)
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (q *RedisQueue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

// Close stops subscriptions. The client itself belongs to the caller.
func (q *RedisQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	for ps := range q.subs {
		_ = ps.Close()
	}
	q.subs = nil
	slog.Info("Queue closed gracefully")
	return nil
}

func (q *RedisQueue) checkOpen() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	return nil
}

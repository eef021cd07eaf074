// Package queuetest holds behaviour checks shared by every Broker.
package queuetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/fedutinova/stockrank/internal/common"
	"github.com/fedutinova/stockrank/internal/job"
	"github.com/fedutinova/stockrank/internal/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns an empty broker. Cleanup is the factory's job.
type Factory func(t *testing.T) queue.Broker

func newJob(day int) *job.Job {
	date := time.Date(2024, time.January, day, 0, 0, 0, 0, time.UTC)
	return job.NewDateJob(date, "batch_test", nil, 0)
}

// Run exercises the broker contract.
func Run(t *testing.T, factory Factory) {
	t.Run("FIFOAndClaim", func(t *testing.T) { testFIFOAndClaim(t, factory(t)) })
	t.Run("DequeueTimeout", func(t *testing.T) { testDequeueTimeout(t, factory(t)) })
	t.Run("CompleteAndFail", func(t *testing.T) { testCompleteAndFail(t, factory(t)) })
	t.Run("FinishIsNoopWhenNotProcessing", func(t *testing.T) { testFinishNoop(t, factory(t)) })
	t.Run("ClearQueue", func(t *testing.T) { testClearQueue(t, factory(t)) })
	t.Run("RequeueStale", func(t *testing.T) { testRequeueStale(t, factory(t)) })
	t.Run("Workers", func(t *testing.T) { testWorkers(t, factory(t)) })
	t.Run("Events", func(t *testing.T) { testEvents(t, factory(t)) })
	t.Run("ConcurrentClaims", func(t *testing.T) { testConcurrentClaims(t, factory(t)) })
}

func testFIFOAndClaim(t *testing.T, b queue.Broker) {
	ctx := context.Background()

	ids, err := b.EnqueueBatch(ctx, []*job.Job{newJob(2), newJob(3), newJob(4)})
	require.NoError(t, err)
	require.Len(t, ids, 3)

	stats, err := b.QueueStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, job.Stats{Pending: 3}, stats)

	for i, want := range ids {
		j, err := b.Dequeue(ctx, "w1", time.Second)
		require.NoError(t, err)
		require.NotNil(t, j)
		assert.Equal(t, want, j.ID)
		assert.Equal(t, job.StatusProcessing, j.Status)
		assert.Equal(t, "w1", j.WorkerID)
		require.NotNil(t, j.StartedAt)
		assert.Equal(t, 2+i, j.CalculationDate.Day())
	}

	stats, err = b.QueueStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, job.Stats{Processing: 3}, stats)
}

func testDequeueTimeout(t *testing.T, b queue.Broker) {
	start := time.Now()
	j, err := b.Dequeue(context.Background(), "w1", 200*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, j)
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
}

func testCompleteAndFail(t *testing.T, b queue.Broker) {
	ctx := context.Background()
	okID, err := b.Enqueue(ctx, newJob(2))
	require.NoError(t, err)
	badID, err := b.Enqueue(ctx, newJob(3))
	require.NoError(t, err)

	_, err = b.Dequeue(ctx, "w1", time.Second)
	require.NoError(t, err)
	_, err = b.Dequeue(ctx, "w1", time.Second)
	require.NoError(t, err)

	res := &job.Result{SymbolsRanked: 3, SymbolsSaved: 3, Top5: []job.TopSymbol{{Symbol: "AAA", CompositeScore: 91.5, Rank: 1}}}
	require.NoError(t, b.Complete(ctx, okID, res))
	require.NoError(t, b.Fail(ctx, badID, "no price data"))

	done, err := b.GetJob(ctx, okID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusCompleted, done.Status)
	require.NotNil(t, done.CompletedAt)
	require.NotNil(t, done.Result)
	assert.Equal(t, res.Top5, done.Result.Top5)

	failed, err := b.GetJob(ctx, badID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusFailed, failed.Status)
	assert.Equal(t, "no price data", failed.Error)

	stats, err := b.QueueStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, job.Stats{Completed: 1, Failed: 1}, stats)

	_, err = b.GetJob(ctx, "job_0_0")
	assert.True(t, errors.Is(err, common.ErrJobNotFound))
}

func testFinishNoop(t *testing.T, b queue.Broker) {
	ctx := context.Background()
	id, err := b.Enqueue(ctx, newJob(2))
	require.NoError(t, err)

	// Still pending: completing it must not touch any collection.
	require.NoError(t, b.Complete(ctx, id, &job.Result{}))
	require.NoError(t, b.Fail(ctx, "job_1_1", "unknown"))

	stats, err := b.QueueStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, job.Stats{Pending: 1}, stats)

	j, err := b.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, job.StatusPending, j.Status)

	_, err = b.Dequeue(ctx, "w1", time.Second)
	require.NoError(t, err)
	require.NoError(t, b.Complete(ctx, id, &job.Result{}))
	require.NoError(t, b.Fail(ctx, id, "late failure"))

	stats, err = b.QueueStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, job.Stats{Completed: 1}, stats)
}

func testClearQueue(t *testing.T, b queue.Broker) {
	ctx := context.Background()
	_, err := b.EnqueueBatch(ctx, []*job.Job{newJob(2), newJob(3), newJob(4)})
	require.NoError(t, err)

	claimed, err := b.Dequeue(ctx, "w1", time.Second)
	require.NoError(t, err)
	require.NotNil(t, claimed)

	n, err := b.ClearQueue(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	stats, err := b.QueueStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, job.Stats{}, stats)

	_, err = b.GetJob(ctx, claimed.ID)
	assert.True(t, common.IsNotFound(err))

	// The worker that held the job finishes after the clear.
	require.NoError(t, b.Complete(ctx, claimed.ID, &job.Result{}))
	stats, err = b.QueueStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, job.Stats{}, stats)

	n, err = b.ClearQueue(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func testRequeueStale(t *testing.T, b queue.Broker) {
	ctx := context.Background()
	id, err := b.Enqueue(ctx, newJob(2))
	require.NoError(t, err)
	_, err = b.Dequeue(ctx, "w1", time.Second)
	require.NoError(t, err)

	n, err := b.RequeueStale(ctx, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, n)

	time.Sleep(20 * time.Millisecond)
	n, err = b.RequeueStale(ctx, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stats, err := b.QueueStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, job.Stats{Pending: 1}, stats)

	j, err := b.Dequeue(ctx, "w2", time.Second)
	require.NoError(t, err)
	require.NotNil(t, j)
	assert.Equal(t, id, j.ID)
	assert.Equal(t, "w2", j.WorkerID)
}

func testWorkers(t *testing.T, b queue.Broker) {
	ctx := context.Background()
	now := time.Now().UTC()
	info := job.WorkerInfo{
		WorkerID:      "worker-a",
		Hostname:      "host",
		PID:           42,
		StartedAt:     now,
		LastHeartbeat: now,
		Status:        job.WorkerIdle,
	}
	require.NoError(t, b.RegisterWorker(ctx, info, 5*time.Second))
	require.NoError(t, b.RegisterWorker(ctx, job.WorkerInfo{WorkerID: "worker-b", StartedAt: now}, 300*time.Millisecond))

	workers, err := b.ActiveWorkers(ctx)
	require.NoError(t, err)
	assert.Len(t, workers, 2)

	info.JobsCompleted = 7
	info.Status = job.WorkerComputing
	require.NoError(t, b.Heartbeat(ctx, info, 5*time.Second))

	require.Eventually(t, func() bool {
		workers, err := b.ActiveWorkers(ctx)
		return err == nil && len(workers) == 1
	}, 3*time.Second, 50*time.Millisecond)

	workers, err = b.ActiveWorkers(ctx)
	require.NoError(t, err)
	require.Len(t, workers, 1)
	assert.Equal(t, "worker-a", workers[0].WorkerID)
	assert.EqualValues(t, 7, workers[0].JobsCompleted)
	assert.Equal(t, job.WorkerComputing, workers[0].Status)
}

func testEvents(t *testing.T, b queue.Broker) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	events, err := b.Subscribe(ctx)
	require.NoError(t, err)

	id, err := b.Enqueue(ctx, newJob(2))
	require.NoError(t, err)
	_, err = b.Dequeue(ctx, "w1", time.Second)
	require.NoError(t, err)
	require.NoError(t, b.Complete(ctx, id, &job.Result{SymbolsRanked: 1}))

	select {
	case ev := <-events:
		assert.Equal(t, job.EventJobCompleted, ev.Type)
		assert.Equal(t, id, ev.JobID)
		assert.False(t, ev.Timestamp.IsZero())
	case <-ctx.Done():
		t.Fatal("timed out waiting for completion event")
	}
}

func testConcurrentClaims(t *testing.T, b queue.Broker) {
	const jobs, workers = 40, 8
	ctx := context.Background()

	batch := make([]*job.Job, jobs)
	for i := range batch {
		batch[i] = newJob(1 + i%28)
	}
	ids, err := b.EnqueueBatch(ctx, batch)
	require.NoError(t, err)

	var (
		mu   sync.Mutex
		seen = make(map[string]string)
		wg   sync.WaitGroup
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(workerID string) {
			defer wg.Done()
			for {
				j, err := b.Dequeue(ctx, workerID, 100*time.Millisecond)
				if err != nil {
					t.Errorf("dequeue: %v", err)
					return
				}
				if j == nil {
					return
				}
				mu.Lock()
				if prev, dup := seen[j.ID]; dup {
					t.Errorf("job %s claimed by %s and %s", j.ID, prev, workerID)
				}
				seen[j.ID] = workerID
				mu.Unlock()
				if err := b.Complete(ctx, j.ID, &job.Result{}); err != nil {
					t.Errorf("complete: %v", err)
				}
			}
		}(fmt.Sprintf("w%d", w))
	}
	wg.Wait()

	assert.Len(t, seen, len(ids))
	stats, err := b.QueueStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, job.Stats{Completed: jobs}, stats)
	assert.EqualValues(t, jobs, stats.Total())
}

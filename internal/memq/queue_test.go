package memq

import (
	"context"
	"testing"
	"time"

	"github.com/fedutinova/stockrank/internal/job"
	"github.com/fedutinova/stockrank/internal/queue"
	"github.com/fedutinova/stockrank/internal/queue/queuetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryQueue_Contract(t *testing.T) {
	queuetest.Run(t, func(t *testing.T) queue.Broker {
		q := NewMemoryQueue()
		t.Cleanup(func() { _ = q.Close() })
		return q
	})
}

func TestEnqueue_SetsDefaults(t *testing.T) {
	q := NewMemoryQueue()
	j := &job.Job{Type: job.TypeCalculateDate, CalculationDate: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), WorkerID: "stale"}

	id, err := q.Enqueue(context.Background(), j)
	require.NoError(t, err)
	assert.Equal(t, id, j.ID)
	assert.Equal(t, job.StatusPending, j.Status)
	assert.False(t, j.CreatedAt.IsZero())
	assert.Empty(t, j.WorkerID)

	_, ok := job.IDTime(id)
	assert.True(t, ok)
}

func TestGetJob_ReturnsCopy(t *testing.T) {
	q := NewMemoryQueue()
	id, err := q.Enqueue(context.Background(), job.NewDateJob(time.Now(), "b", []string{"AAA"}, 0))
	require.NoError(t, err)

	got, err := q.GetJob(context.Background(), id)
	require.NoError(t, err)
	got.Symbols[0] = "ZZZ"
	got.Status = job.StatusFailed

	again, err := q.GetJob(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, []string{"AAA"}, again.Symbols)
	assert.Equal(t, job.StatusPending, again.Status)
}

func TestDequeue_WakesOnEnqueue(t *testing.T) {
	q := NewMemoryQueue()
	got := make(chan *job.Job, 1)
	go func() {
		j, _ := q.Dequeue(context.Background(), "w1", 5*time.Second)
		got <- j
	}()

	time.Sleep(20 * time.Millisecond)
	id, err := q.Enqueue(context.Background(), job.NewDateJob(time.Now(), "b", nil, 0))
	require.NoError(t, err)

	select {
	case j := <-got:
		require.NotNil(t, j)
		assert.Equal(t, id, j.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("dequeue did not wake up")
	}
}

func TestDequeue_ContextCancelled(t *testing.T) {
	q := NewMemoryQueue()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	j, err := q.Dequeue(ctx, "w1", time.Second)
	assert.Nil(t, j)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestClose_UnblocksDequeue(t *testing.T) {
	q := NewMemoryQueue()
	errs := make(chan error, 1)
	go func() {
		_, err := q.Dequeue(context.Background(), "w1", 5*time.Second)
		errs <- err
	}()
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, q.Close())

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, queue.ErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("dequeue still blocked after close")
	}
}

func TestRequeueStale_SkipsUnstampedClaims(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()
	id, err := q.Enqueue(ctx, job.NewDateJob(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), "b", nil, 0))
	require.NoError(t, err)

	// Claimed but not yet stamped with started_at.
	q.mu.Lock()
	q.pending = nil
	q.processing = append(q.processing, id)
	q.mu.Unlock()
	time.Sleep(20 * time.Millisecond)

	n, err := q.RequeueStale(ctx, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Zero(t, n)

	stats, err := q.QueueStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, job.Stats{Processing: 1}, stats)
}

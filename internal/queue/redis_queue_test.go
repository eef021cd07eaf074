package queue_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/fedutinova/stockrank/internal/job"
	"github.com/fedutinova/stockrank/internal/queue"
	"github.com/fedutinova/stockrank/internal/queue/queuetest"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func getTestRedisClient(t *testing.T) *redis.Client {
	redisURL := os.Getenv("TEST_REDIS_URL")
	if redisURL == "" {
		redisURL = "redis://localhost:6379"
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		t.Skipf("Skipping Redis queue test: invalid Redis URL: %v", err)
	}

	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		t.Skipf("Skipping Redis queue test: Redis not available: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	return client
}

// newTestQueue returns a queue under a throwaway prefix and removes every
// key under it when the test ends.
func newTestQueue(t *testing.T, client *redis.Client) (*queue.RedisQueue, queue.Keys) {
	prefix := "test:stockrank:" + uuid.New().String()[:8]
	q := queue.NewRedisQueue(client, queue.RedisQueueConfig{Prefix: prefix})
	t.Cleanup(func() {
		_ = q.Close()
		ctx := context.Background()
		iter := client.Scan(ctx, 0, prefix+":*", 500).Iterator()
		for iter.Next(ctx) {
			client.Del(ctx, iter.Val())
		}
	})
	return q, queue.Keys{Prefix: prefix}
}

func TestRedisQueue_Contract(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	client := getTestRedisClient(t)

	queuetest.Run(t, func(t *testing.T) queue.Broker {
		q, _ := newTestQueue(t, client)
		return q
	})
}

func TestRedisQueue_MalformedRecord(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	client := getTestRedisClient(t)

	ctx := context.Background()
	q, keys := newTestQueue(t, client)

	id, err := q.Enqueue(ctx, job.NewDateJob(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), "b", nil, 0))
	require.NoError(t, err)

	// Corrupt the stored date behind the queue's back.
	require.NoError(t, client.HSet(ctx, keys.Job(id), job.FieldCalculationDate, "not-a-date").Err())

	j, err := q.Dequeue(ctx, "w1", time.Second)
	assert.Nil(t, j)
	assert.ErrorIs(t, err, job.ErrMalformed)

	var decodeErr *job.DecodeError
	require.ErrorAs(t, err, &decodeErr)
	assert.Equal(t, id, decodeErr.JobID)

	require.NoError(t, q.Fail(ctx, decodeErr.JobID, decodeErr.Error()))
	stats, err := q.QueueStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, job.Stats{Failed: 1}, stats)
}

func TestRedisQueue_ClosedRejectsWork(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	client := getTestRedisClient(t)

	q, _ := newTestQueue(t, client)
	require.NoError(t, q.Close())

	_, err := q.Enqueue(context.Background(), job.NewDateJob(time.Now(), "b", nil, 0))
	assert.ErrorIs(t, err, queue.ErrClosed)
	_, err = q.Dequeue(context.Background(), "w1", time.Second)
	assert.ErrorIs(t, err, queue.ErrClosed)
}

func TestRedisQueue_RequeueSkipsUnstampedClaims(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	client := getTestRedisClient(t)

	ctx := context.Background()
	q, keys := newTestQueue(t, client)

	id, err := q.Enqueue(ctx, job.NewDateJob(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), "b", nil, 0))
	require.NoError(t, err)

	// Moved to processing, but the claiming worker has not stamped it yet.
	require.NoError(t, client.LMove(ctx, keys.Pending(), keys.Processing(), "RIGHT", "LEFT").Err())
	time.Sleep(20 * time.Millisecond)

	n, err := q.RequeueStale(ctx, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Zero(t, n)

	processing, err := client.LRange(ctx, keys.Processing(), 0, -1).Result()
	require.NoError(t, err)
	assert.Equal(t, []string{id}, processing)
}

func TestRedisQueue_SubscriberReleasedWithContext(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	client := getTestRedisClient(t)
	q, _ := newTestQueue(t, client)

	ctx, cancel := context.WithCancel(context.Background())
	events, err := q.Subscribe(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, q.Subscribers())

	cancel()
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-events:
			return !ok
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
	assert.Zero(t, q.Subscribers())
}

func TestKeys(t *testing.T) {
	k := queue.Keys{Prefix: "stockrank"}
	assert.Equal(t, "stockrank:pending", k.Pending())
	assert.Equal(t, "stockrank:processing", k.Processing())
	assert.Equal(t, "stockrank:completed", k.Completed())
	assert.Equal(t, "stockrank:failed", k.Failed())
	assert.Equal(t, "stockrank:job:job_1_1", k.Job("job_1_1"))
	assert.Equal(t, "stockrank:worker:w1", k.Worker("w1"))
	assert.Equal(t, "stockrank:worker:*", k.WorkerPattern())
}

package queue

// Subscribers is the number of live Subscribe streams.
func (q *RedisQueue) Subscribers() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.subs)
}

// Package retry runs infrastructure calls with exponential backoff.
package retry

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff"
)

// Policy bounds a retry loop.
type Policy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsedTime  time.Duration // zero retries until ctx is done
}

// DefaultPolicy suits broker and database calls.
func DefaultPolicy() Policy {
	return Policy{
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		MaxElapsedTime:  30 * time.Second,
	}
}

// NewBackOff builds a fresh exponential backoff from p.
func (p Policy) NewBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	b.MaxElapsedTime = p.MaxElapsedTime
	b.Reset()
	return b
}

// Do calls fn until it succeeds, the policy gives up, or ctx is done.
// Errors for which retryable returns false are returned immediately.
func Do(ctx context.Context, p Policy, op string, retryable func(error) bool, fn func(context.Context) error) error {
	b := p.NewBackOff()
	for {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if retryable != nil && !retryable(err) {
			return err
		}
		delay := b.NextBackOff()
		if delay == backoff.Stop {
			return err
		}
		slog.Warn("retrying after error", "op", op, "error", err, "delay", delay)
		select {
		case <-ctx.Done():
			return err
		case <-time.After(delay):
		}
	}
}

// Sleeper hands out successive backoff delays to long-running loops that
// must not exit on error, such as a worker's claim loop.
type Sleeper struct {
	b *backoff.ExponentialBackOff
}

func NewSleeper(p Policy) *Sleeper {
	p.MaxElapsedTime = 0
	return &Sleeper{b: p.NewBackOff()}
}

// Sleep waits for the next delay; it returns false if ctx ended first.
func (s *Sleeper) Sleep(ctx context.Context) bool {
	delay := s.b.NextBackOff()
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Reset starts the next error streak from the initial interval.
func (s *Sleeper) Reset() {
	s.b.Reset()
}

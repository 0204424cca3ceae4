package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter defines the interface for rate limiting outgoing requests
type Limiter interface {
	// Acquire blocks until the next request may be issued, then records it.
	// It returns early with the context error on cancellation.
	Acquire(ctx context.Context) error
	// Requests returns the number of acquisitions recorded so far
	Requests() int
	// Reset resets the limiter state
	Reset()
}

// Gate enforces a fixed minimum spacing between any two requests plus a
// long cooldown after every cooldownEvery requests. There is exactly one
// request pipe to the VK API per token, so a single Gate instance is
// shared by every caller in the process.
type Gate struct {
	interval      time.Duration
	cooldownEvery int
	cooldown      time.Duration

	mu    sync.Mutex
	last  time.Time
	count int

	// Injectable for tests
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewGate creates a new request gate
func NewGate(interval time.Duration, cooldownEvery int, cooldown time.Duration) *Gate {
	return &Gate{
		interval:      interval,
		cooldownEvery: cooldownEvery,
		cooldown:      cooldown,
		now:           time.Now,
		sleep:         sleepContext,
	}
}

// Acquire blocks until it is safe to issue the next request.
// Requests are never dropped or reordered; callers are released in the
// order the mutex admits them.
func (g *Gate) Acquire(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	// Periodic cooldown gates the request after every cooldownEvery-th one.
	if g.cooldownEvery > 0 && g.count > 0 && g.count%g.cooldownEvery == 0 {
		if err := g.sleep(ctx, g.cooldown); err != nil {
			return err
		}
	}

	if !g.last.IsZero() {
		if wait := g.interval - g.now().Sub(g.last); wait > 0 {
			if err := g.sleep(ctx, wait); err != nil {
				return err
			}
		}
	}

	g.last = g.now()
	g.count++
	return nil
}

// Requests returns the number of acquisitions recorded so far
func (g *Gate) Requests() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.count
}

// Reset clears the gate state
func (g *Gate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.last = time.Time{}
	g.count = 0
}

// sleepContext sleeps for d or until the context is cancelled
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

package httpds

import (
	"context"
	"sync"
	"time"
)

// tokenBucket throttles requests to rate per second with the given burst.
type tokenBucket struct {
	mu         sync.Mutex
	rate       float64
	burst      int
	tokens     float64
	lastUpdate time.Time
	now        func() time.Time
}

func newTokenBucket(rate float64, burst int) *tokenBucket {
	if burst <= 0 {
		burst = 1
	}
	return &tokenBucket{
		rate:       rate,
		burst:      burst,
		tokens:     float64(burst),
		lastUpdate: time.Now(),
		now:        time.Now,
	}
}

// Wait blocks until a token is available or ctx is canceled.
func (tb *tokenBucket) Wait(ctx context.Context) error {
	for {
		tb.mu.Lock()
		tb.refill()
		if tb.tokens >= 1.0 {
			tb.tokens--
			tb.mu.Unlock()
			return nil
		}
		deficit := 1.0 - tb.tokens
		wait := time.Duration(deficit/tb.rate*float64(time.Second)) + time.Nanosecond
		tb.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// allow takes a token if one is available right now.
func (tb *tokenBucket) allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.refill()
	if tb.tokens >= 1.0 {
		tb.tokens--
		return true
	}
	return false
}

func (tb *tokenBucket) refill() {
	now := tb.now()
	elapsed := now.Sub(tb.lastUpdate).Seconds()
	if elapsed <= 0 {
		return
	}
	tb.tokens += elapsed * tb.rate
	if tb.tokens > float64(tb.burst) {
		tb.tokens = float64(tb.burst)
	}
	tb.lastUpdate = now
}

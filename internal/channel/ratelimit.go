package channel

import (
	"context"
	"sync"
	"time"
)

// sendLimiter is a token bucket pacing outgoing chat messages.
type sendLimiter struct {
	mu       sync.Mutex
	tokens   float64
	max      float64
	rate     float64 // tokens per second
	lastTime time.Time
}

func newSendLimiter(burst int, perMinute float64) *sendLimiter {
	if burst <= 0 {
		burst = 5
	}
	if perMinute <= 0 {
		perMinute = 20
	}
	return &sendLimiter{
		tokens:   float64(burst),
		max:      float64(burst),
		rate:     perMinute / 60.0,
		lastTime: time.Now(),
	}
}

// Wait blocks until a send is allowed or ctx is done.
func (l *sendLimiter) Wait(ctx context.Context) error {
	for {
		delay := l.reserve()
		if delay == 0 {
			return nil
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// reserve takes a token when one is available and otherwise reports how long
// until the next one refills.
func (l *sendLimiter) reserve() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	l.tokens += now.Sub(l.lastTime).Seconds() * l.rate
	if l.tokens > l.max {
		l.tokens = l.max
	}
	l.lastTime = now

	if l.tokens >= 1 {
		l.tokens--
		return 0
	}
	return time.Duration((1 - l.tokens) / l.rate * float64(time.Second))
}

package crawl

import (
	"context"
	crand "crypto/rand"
	"time"
)

type RetryPolicy struct {
	MaxRetries    int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	Exponential   bool
	RetryNetwork  bool
	JitterPercent int // 0 disables jitter
}

// wait returns how long to pause before retry number attempt+1. The server's
// Retry-After hint wins over a shorter computed delay; the result is capped at
// MaxDelay.
func (p RetryPolicy) wait(attempt int, hint time.Duration) time.Duration {
	d := p.BaseDelay
	if p.Exponential {
		for i := 0; i < attempt && d < p.MaxDelay; i++ {
			d *= 2
		}
	}
	if p.JitterPercent > 0 && d > 0 {
		d += jitter(d, p.JitterPercent)
	}
	if hint > d {
		d = hint
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// jitter returns up to pct% of d using crypto/rand, safe for concurrent use.
func jitter(d time.Duration, pct int) time.Duration {
	var b [1]byte
	if _, err := crand.Read(b[:]); err != nil {
		return 0
	}
	f := float64(b[0]) / 255.0
	return time.Duration(f * float64(pct) / 100 * float64(d))
}

// sleepCtx waits for d or returns false early if ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

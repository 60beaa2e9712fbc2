package crawl

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"listing_harvester/internal/adapters/observability"
)

type ThrottleConfig struct {
	StartDelay        time.Duration
	MinDelay          time.Duration
	MaxDelay          time.Duration
	TargetConcurrency float64
	MaxInFlight       int
}

// Throttle spaces requests to the origin and caps how many are in flight.
// The spacing adapts to observed latency: it converges on
// latency/TargetConcurrency, backs off hard on 429/5xx, and never shrinks on
// a non-2xx response.
type Throttle struct {
	cfg ThrottleConfig
	rl  *rate.Limiter
	sem *semaphore.Weighted

	mu    sync.Mutex
	delay time.Duration
}

func NewThrottle(cfg ThrottleConfig) *Throttle {
	if cfg.TargetConcurrency <= 0 {
		cfg.TargetConcurrency = 1
	}
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = 1
	}
	if cfg.MaxDelay < cfg.MinDelay {
		cfg.MaxDelay = cfg.MinDelay
	}
	d := clampDur(cfg.StartDelay, cfg.MinDelay, cfg.MaxDelay)
	t := &Throttle{
		cfg:   cfg,
		rl:    rate.NewLimiter(limitFor(d), 1),
		sem:   semaphore.NewWeighted(int64(cfg.MaxInFlight)),
		delay: d,
	}
	observability.SetThrottleDelay(d)
	return t
}

// Acquire blocks until a request may be sent. Every successful Acquire must
// be paired with Release.
func (t *Throttle) Acquire(ctx context.Context) error {
	if err := t.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	if err := t.rl.Wait(ctx); err != nil {
		t.sem.Release(1)
		return err
	}
	return nil
}

func (t *Throttle) Release() { t.sem.Release(1) }

// Observe feeds one response back. status is 0 when no response arrived.
func (t *Throttle) Observe(latency time.Duration, status int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	prev := t.delay
	var next time.Duration
	switch {
	case status == 429 || status >= 500:
		next = 2 * prev
	default:
		target := time.Duration(float64(latency) / t.cfg.TargetConcurrency)
		next = (prev + target) / 2
		if target > next {
			next = target
		}
		if (status < 200 || status >= 300) && next < prev {
			next = prev
		}
	}
	next = clampDur(next, t.cfg.MinDelay, t.cfg.MaxDelay)
	if next == prev {
		return
	}
	t.delay = next
	t.rl.SetLimit(limitFor(next))
	observability.SetThrottleDelay(next)
}

func (t *Throttle) Delay() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.delay
}

func limitFor(d time.Duration) rate.Limit {
	if d <= 0 {
		return rate.Inf
	}
	return rate.Every(d)
}

func clampDur(d, lo, hi time.Duration) time.Duration {
	if d < lo {
		return lo
	}
	if d > hi {
		return hi
	}
	return d
}

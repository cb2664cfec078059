package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// HostLimiter paces requests per host. Each host gets its own token bucket
// allowing one request per delay.
type HostLimiter struct {
	mu       sync.Mutex
	delay    time.Duration
	burst    int
	limiters map[string]*AdaptiveLimiter
}

func NewHostLimiter(delay time.Duration, burst int) *HostLimiter {
	if burst < 1 {
		burst = 1
	}
	return &HostLimiter{
		delay:    delay,
		burst:    burst,
		limiters: make(map[string]*AdaptiveLimiter),
	}
}

func (h *HostLimiter) Wait(ctx context.Context, host string) error {
	return h.forHost(host).Wait(ctx)
}

// RecordSuccess and RecordThrottled feed response outcomes back into the
// host's limiter.
func (h *HostLimiter) RecordSuccess(host string) {
	h.forHost(host).RecordSuccess()
}

func (h *HostLimiter) RecordThrottled(host string) {
	h.forHost(host).RecordError()
}

// Delay returns the current interval between requests to host.
func (h *HostLimiter) Delay(host string) time.Duration {
	return h.forHost(host).Delay()
}

func (h *HostLimiter) forHost(host string) *AdaptiveLimiter {
	h.mu.Lock()
	defer h.mu.Unlock()

	l, ok := h.limiters[host]
	if !ok {
		l = NewAdaptiveLimiter(h.delay, h.burst)
		h.limiters[host] = l
	}
	return l
}

// AdaptiveLimiter widens its interval after repeated throttling responses
// and slowly recovers towards the base interval on success.
type AdaptiveLimiter struct {
	mu            sync.Mutex
	limiter       *rate.Limiter
	baseDelay     time.Duration
	delay         time.Duration
	maxDelay      time.Duration
	errorCount    int
	successCount  int
	maxErrorCount int
	backoffFactor float64
}

func NewAdaptiveLimiter(delay time.Duration, burst int) *AdaptiveLimiter {
	return &AdaptiveLimiter{
		limiter:       rate.NewLimiter(every(delay), burst),
		baseDelay:     delay,
		delay:         delay,
		maxDelay:      60 * time.Second,
		maxErrorCount: 3,
		backoffFactor: 1.5,
	}
}

func (a *AdaptiveLimiter) Wait(ctx context.Context) error {
	return a.limiter.Wait(ctx)
}

func (a *AdaptiveLimiter) Delay() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.delay
}

func (a *AdaptiveLimiter) RecordSuccess() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.successCount++
	a.errorCount = 0

	if a.successCount > 5 && a.delay > a.baseDelay {
		next := time.Duration(float64(a.delay) * 0.9)
		if next < a.baseDelay {
			next = a.baseDelay
		}
		a.setDelay(next)
		a.successCount = 0
	}
}

func (a *AdaptiveLimiter) RecordError() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.errorCount++
	a.successCount = 0

	if a.errorCount >= a.maxErrorCount {
		next := time.Duration(float64(a.delay) * a.backoffFactor)
		if a.delay == 0 {
			next = time.Second
		}
		if next > a.maxDelay {
			next = a.maxDelay
		}
		a.setDelay(next)
		a.errorCount = 0
	}
}

func (a *AdaptiveLimiter) setDelay(d time.Duration) {
	a.delay = d
	a.limiter.SetLimit(every(d))
}

func every(d time.Duration) rate.Limit {
	if d <= 0 {
		return rate.Inf
	}
	return rate.Every(d)
}

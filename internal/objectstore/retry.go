package objectstore

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"
)

// RetryConfig bounds the retry loop. Before attempt n+1 the store waits
// Base^n seconds.
type RetryConfig struct {
	Attempts int
	Base     float64
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{Attempts: 5, Base: 2}
}

// RetryingStore retries transient Put failures with exponential backoff.
// Other errors are returned immediately.
type RetryingStore struct {
	store  Store
	cfg    RetryConfig
	logger *slog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

func NewRetryingStore(store Store, cfg RetryConfig, logger *slog.Logger) *RetryingStore {
	if cfg.Attempts < 1 {
		cfg.Attempts = 1
	}
	if cfg.Base <= 0 {
		cfg.Base = 2
	}
	return &RetryingStore{
		store:  store,
		cfg:    cfg,
		logger: logger.With("component", "upload_retry"),
		sleep:  sleepContext,
	}
}

func (r *RetryingStore) Put(ctx context.Context, key string, body []byte, contentType string) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= r.cfg.Attempts; attempt++ {
		location, err := r.store.Put(ctx, key, body, contentType)
		if err == nil {
			return location, nil
		}
		if !IsTransient(err) {
			return "", err
		}
		lastErr = err

		if attempt == r.cfg.Attempts {
			break
		}

		wait := r.backoff(attempt)
		r.logger.Warn("upload failed, retrying",
			"key", key,
			"attempt", attempt,
			"wait", wait,
			"error", err)

		if err := r.sleep(ctx, wait); err != nil {
			return "", err
		}
	}

	return "", fmt.Errorf("%w: %s after %d attempts: %w", ErrRetriesExhausted, key, r.cfg.Attempts, lastErr)
}

func (r *RetryingStore) backoff(attempt int) time.Duration {
	return time.Duration(math.Pow(r.cfg.Base, float64(attempt)) * float64(time.Second))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

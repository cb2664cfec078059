package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHostLimiter_SeparateHosts(t *testing.T) {
	h := NewHostLimiter(time.Hour, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	require.NoError(t, h.Wait(ctx, "www.blu-ray.com"))
	require.NoError(t, h.Wait(ctx, "camelcamelcamel.com"))

	// second request to the same host must wait an hour
	err := h.Wait(ctx, "www.blu-ray.com")
	assert.Error(t, err)
}

func TestHostLimiter_NoDelay(t *testing.T) {
	h := NewHostLimiter(0, 1)
	for i := 0; i < 50; i++ {
		require.NoError(t, h.Wait(context.Background(), "example.com"))
	}
}

func TestAdaptiveLimiter_Backoff(t *testing.T) {
	a := NewAdaptiveLimiter(time.Second, 1)

	a.RecordError()
	a.RecordError()
	assert.Equal(t, time.Second, a.Delay())

	a.RecordError()
	assert.Equal(t, 1500*time.Millisecond, a.Delay())

	for i := 0; i < 6; i++ {
		a.RecordSuccess()
	}
	assert.Equal(t, 1350*time.Millisecond, a.Delay())
}

func TestAdaptiveLimiter_NeverBelowBase(t *testing.T) {
	a := NewAdaptiveLimiter(time.Second, 1)
	for i := 0; i < 30; i++ {
		a.RecordSuccess()
	}
	assert.Equal(t, time.Second, a.Delay())
}

func TestAdaptiveLimiter_CapsAtMax(t *testing.T) {
	a := NewAdaptiveLimiter(50*time.Second, 1)
	for i := 0; i < 9; i++ {
		a.RecordError()
	}
	assert.Equal(t, 60*time.Second, a.Delay())
}

package scraper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/bluray-scraper/internal/models"
	"github.com/maltedev/bluray-scraper/internal/queue"
)

func TestAbortLatch_TripsOnce(t *testing.T) {
	var latch AbortLatch
	ctx, cancel := context.WithCancelCause(context.Background())
	latch.bind(cancel)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if latch.Trip(fmt.Errorf("reason %d", i)) {
				wins.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.True(t, latch.Tripped())
	require.Error(t, ctx.Err())
	assert.Equal(t, latch.Reason(), context.Cause(ctx))
}

func TestAbortLatch_GuardAfterTrip(t *testing.T) {
	var latch AbortLatch

	ran := false
	require.NoError(t, latch.Guard(func() error { ran = true; return nil }))
	assert.True(t, ran)

	latch.Trip(ErrBlocked)

	ran = false
	err := latch.Guard(func() error { ran = true; return nil })
	assert.ErrorIs(t, err, ErrAborted)
	assert.False(t, ran)
}

func TestAbortLatch_BindAfterTripCancels(t *testing.T) {
	var latch AbortLatch
	latch.Trip(ErrNotLive)

	ctx, cancel := context.WithCancelCause(context.Background())
	latch.bind(cancel)
	assert.ErrorIs(t, context.Cause(ctx), ErrNotLive)
}

func TestProgressSet(t *testing.T) {
	s := NewProgressSet(10)

	assert.True(t, s.Add("https://catalog.test/movies/a/1/"))
	assert.False(t, s.Add("https://catalog.test/movies/a/1/"))
	assert.True(t, s.Add("https://catalog.test/movies/b/2/"))

	assert.True(t, s.Contains("https://catalog.test/movies/a/1/"))
	assert.False(t, s.Contains("https://catalog.test/movies/c/3/"))
	assert.Equal(t, 2, s.Len())
}

func TestProgressSet_ConcurrentAdd(t *testing.T) {
	s := NewProgressSet(0)

	var added atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if s.Add(fmt.Sprintf("u%d", j)) {
					added.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(100), added.Load())
	assert.Equal(t, 100, s.Len())
}

func TestRun_EmitStopsAfterAbort(t *testing.T) {
	out := newCollector()
	run := NewRun(nil, out.emit)

	require.NoError(t, run.Emit(context.Background(), models.NewRecord("a", "2023", "us")))
	assert.True(t, run.Abort(errors.New("operator stop")))
	assert.False(t, run.Abort(errors.New("again")))

	err := run.Emit(context.Background(), models.NewRecord("b", "2023", "us"))
	assert.ErrorIs(t, err, ErrAborted)
	assert.Equal(t, 1, out.len())
	assert.Equal(t, int64(1), run.Stats().Emitted)
	assert.EqualError(t, run.Aborted(), "operator stop")
}

func TestRun_StatsReportQueueDepth(t *testing.T) {
	run := NewRun(nil, nil)
	assert.Equal(t, 0, run.Stats().Queued)

	require.True(t, run.push(&queue.Task{Kind: queue.KindListPage, URL: "a"}))
	require.True(t, run.push(&queue.Task{Kind: queue.KindDetail, URL: "b"}))
	assert.Equal(t, 2, run.Stats().Queued)

	run.queue.Drain()
	assert.Equal(t, 0, run.Stats().Queued)
}

func TestSeries(t *testing.T) {
	tests := []struct {
		in    string
		want  Series
		url   string
		label string
	}{
		{"bluray", SeriesBluray, "https://catalog.test/movies/search.php?releaseyear=2023&submit=Search&action=search&page=1", "BLURAY"},
		{"3D", SeriesBluray3D, "https://catalog.test/movies/search.php?releaseyear=2023&other_bluray3d=1&submit=Search&action=search&page=1", "3D"},
		{"dvd", SeriesDVD, "https://catalog.test/dvd/search.php?releaseyear=2023&submit=Search&action=search&page=1", "DVD"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			s, err := ParseSeries(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, s)
			assert.Equal(t, tt.url, s.SearchURL("https://catalog.test/", 2023, 1))
			assert.Equal(t, tt.label, s.Label())
		})
	}

	_, err := ParseSeries("vhs")
	assert.Error(t, err)
}

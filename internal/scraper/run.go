package scraper

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/google/uuid"

	"github.com/maltedev/bluray-scraper/internal/models"
	"github.com/maltedev/bluray-scraper/internal/queue"
)

// AbortLatch trips once per run. The first Trip records the reason and
// cancels the run context; later calls are no-ops.
type AbortLatch struct {
	mu      sync.RWMutex
	tripped atomic.Bool
	reason  error
	cancel  context.CancelCauseFunc
}

// Trip reports whether this call tripped the latch.
func (l *AbortLatch) Trip(reason error) bool {
	l.mu.Lock()
	if l.tripped.Load() {
		l.mu.Unlock()
		return false
	}
	l.reason = reason
	l.tripped.Store(true)
	cancel := l.cancel
	l.mu.Unlock()

	if cancel != nil {
		cancel(reason)
	}
	return true
}

func (l *AbortLatch) Tripped() bool {
	return l.tripped.Load()
}

func (l *AbortLatch) Reason() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.reason
}

// Guard runs fn only while the latch is open. Trip blocks until running
// guards return, so nothing guarded happens after a trip.
func (l *AbortLatch) Guard(fn func() error) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.tripped.Load() {
		return ErrAborted
	}
	return fn()
}

func (l *AbortLatch) bind(cancel context.CancelCauseFunc) {
	l.mu.Lock()
	l.cancel = cancel
	tripped, reason := l.tripped.Load(), l.reason
	l.mu.Unlock()

	if tripped {
		cancel(reason)
	}
}

// ProgressSet holds source URLs that are done or already dispatched. A bloom
// filter answers most misses without touching the exact set.
type ProgressSet struct {
	mu     sync.Mutex
	filter *bloom.BloomFilter
	seen   map[string]struct{}
}

func NewProgressSet(expected uint) *ProgressSet {
	if expected < 1024 {
		expected = 1024
	}
	return &ProgressSet{
		filter: bloom.NewWithEstimates(expected, 0.0001),
		seen:   make(map[string]struct{}),
	}
}

// Add inserts url and reports whether it was new.
func (s *ProgressSet) Add(url string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := []byte(url)
	if s.filter.Test(key) {
		if _, ok := s.seen[url]; ok {
			return false
		}
	}
	s.filter.Add(key)
	s.seen[url] = struct{}{}
	return true
}

func (s *ProgressSet) Contains(url string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.filter.Test([]byte(url)) {
		return false
	}
	_, ok := s.seen[url]
	return ok
}

func (s *ProgressSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}

// Emitter receives every record whose stage chain reached DONE.
type Emitter func(ctx context.Context, rec *models.Record) error

// Stats are the counters of one run.
type Stats struct {
	ListPages  int64 `json:"list_pages"`
	LinksFound int64 `json:"links_found"`
	Duplicates int64 `json:"duplicates"`
	Dispatched int64 `json:"dispatched"`
	Emitted    int64 `json:"emitted"`
	NotFound   int64 `json:"not_found"`
	Failed     int64 `json:"failed"`
	// Queued is the number of tasks waiting for a worker.
	Queued int `json:"queued"`
}

type counters struct {
	listPages, linksFound, duplicates, dispatched, emitted, notFound, failed atomic.Int64
}

func (c *counters) snapshot() Stats {
	return Stats{
		ListPages:  c.listPages.Load(),
		LinksFound: c.linksFound.Load(),
		Duplicates: c.duplicates.Load(),
		Dispatched: c.dispatched.Load(),
		Emitted:    c.emitted.Load(),
		NotFound:   c.notFound.Load(),
		Failed:     c.failed.Load(),
	}
}

// Summary describes a finished run.
type Summary struct {
	RunID       string    `json:"run_id"`
	Years       []int     `json:"years"`
	Stats       Stats     `json:"stats"`
	Aborted     bool      `json:"aborted"`
	AbortReason string    `json:"abort_reason,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
}

// Run is the state shared by all tasks of one crawl: the progress set, the
// abort latch and the task queue.
type Run struct {
	ID       string
	Progress *ProgressSet

	latch   AbortLatch
	stats   counters
	queue   *queue.InMemoryQueue
	pending sync.WaitGroup
	emitter Emitter
}

func NewRun(progress *ProgressSet, emit Emitter) *Run {
	if progress == nil {
		progress = NewProgressSet(0)
	}
	return &Run{
		ID:       uuid.New().String(),
		Progress: progress,
		queue:    queue.NewInMemoryQueue(),
		emitter:  emit,
	}
}

func (r *Run) Stats() Stats {
	s := r.stats.snapshot()
	s.Queued = r.queue.Size()
	return s
}

// Aborted returns the abort reason, or nil while the run is healthy.
func (r *Run) Aborted() error {
	if !r.latch.Tripped() {
		return nil
	}
	return r.latch.Reason()
}

// Abort trips the run's latch from outside the crawl.
func (r *Run) Abort(reason error) bool {
	return r.latch.Trip(reason)
}

func (r *Run) push(task *queue.Task) bool {
	r.pending.Add(1)
	if err := r.queue.Push(task); err != nil {
		r.pending.Done()
		return false
	}
	return true
}

// Emit hands a finished record to the run's emitter unless the run aborted.
func (r *Run) Emit(ctx context.Context, rec *models.Record) error {
	return r.latch.Guard(func() error {
		if r.emitter != nil {
			if err := r.emitter(ctx, rec); err != nil {
				return err
			}
		}
		r.stats.emitted.Add(1)
		return nil
	})
}

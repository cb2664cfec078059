package jobs

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/maltedev/bluray-scraper/internal/scraper"
)

var (
	ErrJobNotFound   = errors.New("job not found")
	ErrJobInProgress = errors.New("a crawl is already running")
	ErrNoYears       = errors.New("at least one year is required")
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusAborted   Status = "aborted"
	StatusCanceled  Status = "canceled"
	StatusFailed    Status = "failed"
)

// Runner executes one crawl. observe is called with the run as soon as it
// exists so progress can be read while it is going.
type Runner interface {
	Run(ctx context.Context, years []int, observe func(*scraper.Run)) (*scraper.Summary, error)
}

// Job is a crawl started through the manager
type Job struct {
	ID          string        `json:"id"`
	RunID       string        `json:"run_id,omitempty"`
	Years       []int         `json:"years"`
	Status      Status        `json:"status"`
	Stats       scraper.Stats `json:"stats"`
	AbortReason string        `json:"abort_reason,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	StartedAt   *time.Time    `json:"started_at,omitempty"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	Error       string        `json:"error,omitempty"`
}

// Stats summarizes all jobs
type Stats struct {
	TotalJobs     int `json:"total_jobs"`
	RunningJobs   int `json:"running_jobs"`
	CompletedJobs int `json:"completed_jobs"`
	AbortedJobs   int `json:"aborted_jobs"`
	FailedJobs    int `json:"failed_jobs"`
}

type entry struct {
	job    Job
	run    *scraper.Run
	cancel context.CancelFunc
}

// Manager runs crawls in the background, one at a time, and keeps their
// state in memory.
type Manager struct {
	runner Runner
	logger *slog.Logger
	ctx    context.Context

	mu     sync.RWMutex
	jobs   map[string]*entry
	active string
	wg     sync.WaitGroup
}

func NewManager(ctx context.Context, runner Runner, logger *slog.Logger) *Manager {
	return &Manager{
		runner: runner,
		logger: logger.With("component", "job_manager"),
		ctx:    ctx,
		jobs:   make(map[string]*entry),
	}
}

// CreateJob starts a crawl of years in the background.
func (m *Manager) CreateJob(years []int) (*Job, error) {
	if len(years) == 0 {
		return nil, ErrNoYears
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active != "" {
		return nil, ErrJobInProgress
	}

	ctx, cancel := context.WithCancel(m.ctx)
	e := &entry{
		job: Job{
			ID:        uuid.New().String(),
			Years:     append([]int(nil), years...),
			Status:    StatusPending,
			CreatedAt: time.Now(),
		},
		cancel: cancel,
	}
	m.jobs[e.job.ID] = e
	m.active = e.job.ID

	m.wg.Add(1)
	go m.execute(ctx, e)

	m.logger.Info("job created", "id", e.job.ID, "years", years)
	job := e.job
	return &job, nil
}

func (m *Manager) execute(ctx context.Context, e *entry) {
	defer m.wg.Done()
	defer e.cancel()

	m.mu.Lock()
	now := time.Now()
	e.job.Status = StatusRunning
	e.job.StartedAt = &now
	m.mu.Unlock()

	summary, err := m.runner.Run(ctx, e.job.Years, func(run *scraper.Run) {
		m.mu.Lock()
		e.run = run
		e.job.RunID = run.ID
		m.mu.Unlock()
	})

	m.mu.Lock()
	defer m.mu.Unlock()

	done := time.Now()
	e.job.CompletedAt = &done
	if summary != nil {
		e.job.Stats = summary.Stats
		e.job.AbortReason = summary.AbortReason
	}
	e.job.Status = statusFor(err)
	if err != nil {
		e.job.Error = err.Error()
	}
	if m.active == e.job.ID {
		m.active = ""
	}

	m.logger.Info("job finished", "id", e.job.ID, "status", e.job.Status, "emitted", e.job.Stats.Emitted)
}

func statusFor(err error) Status {
	switch {
	case err == nil:
		return StatusCompleted
	case errors.Is(err, scraper.ErrAborted):
		return StatusAborted
	case errors.Is(err, context.Canceled):
		return StatusCanceled
	default:
		return StatusFailed
	}
}

func (m *Manager) snapshot(e *entry) *Job {
	job := e.job
	if job.Status == StatusRunning && e.run != nil {
		job.Stats = e.run.Stats()
	}
	return &job
}

func (m *Manager) GetJob(id string) (*Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return m.snapshot(e), nil
}

// ListJobs returns all jobs, newest first.
func (m *Manager) ListJobs() []*Job {
	m.mu.RLock()
	defer m.mu.RUnlock()

	jobs := make([]*Job, 0, len(m.jobs))
	for _, e := range m.jobs {
		jobs = append(jobs, m.snapshot(e))
	}
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})
	return jobs
}

// CancelJob stops a running job. Records completed so far are still saved.
func (m *Manager) CancelJob(id string) error {
	m.mu.RLock()
	e, ok := m.jobs[id]
	m.mu.RUnlock()
	if !ok {
		return ErrJobNotFound
	}
	e.cancel()
	return nil
}

func (m *Manager) GetStats() *Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := &Stats{TotalJobs: len(m.jobs)}
	for _, e := range m.jobs {
		switch e.job.Status {
		case StatusPending, StatusRunning:
			stats.RunningJobs++
		case StatusCompleted:
			stats.CompletedJobs++
		case StatusAborted:
			stats.AbortedJobs++
		case StatusFailed, StatusCanceled:
			stats.FailedJobs++
		}
	}
	return stats
}

// Wait blocks until all started jobs have finished.
func (m *Manager) Wait() {
	m.wg.Wait()
}

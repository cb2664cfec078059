package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/bluray-scraper/internal/jobs"
)

type MockJobService struct {
	mock.Mock
}

func (m *MockJobService) CreateJob(years []int) (*jobs.Job, error) {
	args := m.Called(years)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*jobs.Job), args.Error(1)
}

func (m *MockJobService) GetJob(id string) (*jobs.Job, error) {
	args := m.Called(id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*jobs.Job), args.Error(1)
}

func (m *MockJobService) ListJobs() []*jobs.Job {
	return m.Called().Get(0).([]*jobs.Job)
}

func (m *MockJobService) CancelJob(id string) error {
	return m.Called(id).Error(0)
}

func (m *MockJobService) GetStats() *jobs.Stats {
	return m.Called().Get(0).(*jobs.Stats)
}

type stubOutbox struct {
	pending, dead int64
}

func (s stubOutbox) GetPendingCount(context.Context) (int64, error)    { return s.pending, nil }
func (s stubOutbox) GetDeadLetterCount(context.Context) (int64, error) { return s.dead, nil }

func serve(h *Handlers, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, req)
	return rec
}

func TestCreateRun(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		setup      func(m *MockJobService)
		wantStatus int
	}{
		{
			name: "starts a run",
			body: `{"years":[2022,2023]}`,
			setup: func(m *MockJobService) {
				m.On("CreateJob", []int{2022, 2023}).Return(&jobs.Job{ID: "job-1", Status: jobs.StatusPending}, nil)
			},
			wantStatus: http.StatusAccepted,
		},
		{
			name:       "invalid body",
			body:       `{`,
			setup:      func(m *MockJobService) {},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "year out of range",
			body:       `{"years":[123]}`,
			setup:      func(m *MockJobService) {},
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "no years",
			body: `{"years":[]}`,
			setup: func(m *MockJobService) {
				m.On("CreateJob", []int{}).Return(nil, jobs.ErrNoYears)
			},
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "run already in progress",
			body: `{"years":[2023]}`,
			setup: func(m *MockJobService) {
				m.On("CreateJob", []int{2023}).Return(nil, jobs.ErrJobInProgress)
			},
			wantStatus: http.StatusConflict,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := new(MockJobService)
			tt.setup(m)
			h := NewHandlers(m, nil, discardLogger())

			rec := serve(h, http.MethodPost, "/api/v1/runs/", tt.body)
			assert.Equal(t, tt.wantStatus, rec.Code)
			m.AssertExpectations(t)

			if tt.wantStatus == http.StatusAccepted {
				var resp CreateRunResponse
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
				assert.Equal(t, "job-1", resp.RunID)
			}
		})
	}
}

func TestGetRun(t *testing.T) {
	m := new(MockJobService)
	m.On("GetJob", "job-1").Return(&jobs.Job{
		ID:        "job-1",
		Years:     []int{2023},
		Status:    jobs.StatusRunning,
		CreatedAt: time.Now(),
	}, nil)
	m.On("GetJob", "nope").Return(nil, jobs.ErrJobNotFound)
	h := NewHandlers(m, nil, discardLogger())

	rec := serve(h, http.MethodGet, "/api/v1/runs/job-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var job jobs.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	assert.Equal(t, jobs.StatusRunning, job.Status)

	rec = serve(h, http.MethodGet, "/api/v1/runs/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListAndCancelRuns(t *testing.T) {
	m := new(MockJobService)
	m.On("ListJobs").Return([]*jobs.Job{{ID: "a"}, {ID: "b"}})
	m.On("CancelJob", "a").Return(nil)
	m.On("CancelJob", "zzz").Return(jobs.ErrJobNotFound)
	m.On("GetStats").Return(&jobs.Stats{TotalJobs: 2})
	h := NewHandlers(m, nil, discardLogger())

	rec := serve(h, http.MethodGet, "/api/v1/runs/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []jobs.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 2)

	assert.Equal(t, http.StatusNoContent, serve(h, http.MethodDelete, "/api/v1/runs/a", "").Code)
	assert.Equal(t, http.StatusNotFound, serve(h, http.MethodDelete, "/api/v1/runs/zzz", "").Code)

	rec = serve(h, http.MethodGet, "/api/v1/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"total_jobs":2`)
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		outbox     OutboxStats
		wantStatus int
		wantState  string
	}{
		{"no database", nil, http.StatusOK, "ok"},
		{"healthy outbox", stubOutbox{pending: 3}, http.StatusOK, "ok"},
		{"backlog", stubOutbox{pending: 5000}, http.StatusOK, "warning"},
		{"dead letters", stubOutbox{dead: 500}, http.StatusServiceUnavailable, "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandlers(new(MockJobService), tt.outbox, discardLogger())
			rec := serve(h, http.MethodGet, "/health", "")

			assert.Equal(t, tt.wantStatus, rec.Code)
			var body map[string]interface{}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.wantState, body["status"])
		})
	}
}

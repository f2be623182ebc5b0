package mcp

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the current state of a background job
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// JobKind is the operation a job runs
type JobKind string

const (
	JobKindRun      JobKind = "run"
	JobKindArticles JobKind = "crawl_articles"
)

func (s JobStatus) done() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// Job is a background pipeline job. Fields are only read through snapshots.
type Job struct {
	ID           string    `json:"id"`
	SiteKey      string    `json:"site_key"`
	Kind         JobKind   `json:"kind"`
	Status       JobStatus `json:"status"`
	RunID        string    `json:"run_id,omitempty"`
	StartedAt    time.Time `json:"started_at"`
	CompletedAt  time.Time `json:"completed_at,omitempty"`
	Result       any       `json:"result,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`

	ctx    context.Context
	cancel context.CancelFunc
}

// JobManager tracks background jobs; at most one active job runs per site
type JobManager struct {
	mu     sync.RWMutex
	jobs   map[string]*Job
	bySite map[string]string // siteKey -> active job id
	now    func() time.Time
}

// NewJobManager creates a new job manager
func NewJobManager() *JobManager {
	return &JobManager{
		jobs:   make(map[string]*Job),
		bySite: make(map[string]string),
		now:    time.Now,
	}
}

// CreateJob registers a pending job for siteKey. If the site already has an
// active job of any kind, that job is returned and created is false.
func (m *JobManager) CreateJob(siteKey string, kind JobKind) (job Job, created bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.bySite[siteKey]; ok {
		if existing := m.jobs[id]; existing != nil && !existing.Status.done() {
			return existing.snapshot(), false
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	j := &Job{
		ID:        uuid.NewString(),
		SiteKey:   siteKey,
		Kind:      kind,
		Status:    JobStatusPending,
		StartedAt: m.now(),
		ctx:       ctx,
		cancel:    cancel,
	}
	m.jobs[j.ID] = j
	m.bySite[siteKey] = j.ID
	return j.snapshot(), true
}

// GetJob returns a copy of the job, false if unknown
func (m *JobManager) GetJob(jobID string) (Job, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.jobs[jobID]
	if !ok {
		return Job{}, false
	}
	return j.snapshot(), true
}

// ActiveJob returns the pending or running job for a site
func (m *JobManager) ActiveJob(siteKey string) (Job, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if id, ok := m.bySite[siteKey]; ok {
		if j := m.jobs[id]; j != nil && !j.Status.done() {
			return j.snapshot(), true
		}
	}
	return Job{}, false
}

// Start marks a job running and returns its context
func (m *JobManager) Start(jobID, runID string) context.Context {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok {
		return context.Background()
	}
	if j.Status == JobStatusPending {
		j.Status = JobStatusRunning
	}
	j.RunID = runID
	return j.ctx
}

// Finish records the outcome of a job. A cancelled job stays cancelled.
func (m *JobManager) Finish(jobID string, status JobStatus, result any, errMsg string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID]
	if !ok || j.Status.done() {
		return
	}
	j.Status = status
	j.Result = result
	j.ErrorMessage = errMsg
	j.CompletedAt = m.now()
	j.cancel()
	delete(m.bySite, j.SiteKey)
}

// CancelJob cancels an active job
func (m *JobManager) CancelJob(jobID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID]
	if !ok || j.Status.done() {
		return false
	}
	j.cancel()
	j.Status = JobStatusCancelled
	j.CompletedAt = m.now()
	delete(m.bySite, j.SiteKey)
	return true
}

// CancelAll cancels every active job
func (m *JobManager) CancelAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, j := range m.jobs {
		if !j.Status.done() {
			j.cancel()
			j.Status = JobStatusCancelled
			j.CompletedAt = m.now()
		}
	}
	m.bySite = make(map[string]string)
}

// ListJobs returns copies of all jobs, oldest first
func (m *JobManager) ListJobs() []Job {
	m.mu.RLock()
	defer m.mu.RUnlock()

	jobs := make([]Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		jobs = append(jobs, j.snapshot())
	}
	sort.Slice(jobs, func(a, b int) bool { return jobs[a].StartedAt.Before(jobs[b].StartedAt) })
	return jobs
}

func (j *Job) snapshot() Job {
	c := *j
	c.ctx, c.cancel = nil, nil
	return c
}

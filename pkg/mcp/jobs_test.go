package mcp

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestJob(t *testing.T, jm *JobManager, siteKey string) Job {
	t.Helper()
	job, created := jm.CreateJob(siteKey, JobKindRun)
	require.True(t, created)
	return job
}

func TestCreateJob(t *testing.T) {
	t.Run("new job fields correct", func(t *testing.T) {
		jm := NewJobManager()
		job := createTestJob(t, jm, "facts")

		assert.NotEmpty(t, job.ID)
		assert.Equal(t, "facts", job.SiteKey)
		assert.Equal(t, JobKindRun, job.Kind)
		assert.Equal(t, JobStatusPending, job.Status)
		assert.False(t, job.StartedAt.IsZero())
		assert.True(t, job.CompletedAt.IsZero())
		assert.Nil(t, job.ctx, "snapshots do not leak the job context")
	})

	t.Run("active site returns same job", func(t *testing.T) {
		jm := NewJobManager()
		job1 := createTestJob(t, jm, "facts")
		job2, created := jm.CreateJob("facts", JobKindArticles)
		assert.False(t, created)
		assert.Equal(t, job1.ID, job2.ID)
		assert.Equal(t, JobKindRun, job2.Kind)
	})

	t.Run("new job allowed after completion", func(t *testing.T) {
		jm := NewJobManager()
		job1 := createTestJob(t, jm, "facts")
		jm.Finish(job1.ID, JobStatusCompleted, nil, "")

		job2 := createTestJob(t, jm, "facts")
		assert.NotEqual(t, job1.ID, job2.ID)
	})

	t.Run("different sites independent", func(t *testing.T) {
		jm := NewJobManager()
		assert.NotEqual(t, createTestJob(t, jm, "a").ID, createTestJob(t, jm, "b").ID)
	})
}

func TestStartAndFinish(t *testing.T) {
	jm := NewJobManager()
	job := createTestJob(t, jm, "facts")

	ctx := jm.Start(job.ID, "run-1")
	got, ok := jm.GetJob(job.ID)
	require.True(t, ok)
	assert.Equal(t, JobStatusRunning, got.Status)
	assert.Equal(t, "run-1", got.RunID)

	active, ok := jm.ActiveJob("facts")
	require.True(t, ok)
	assert.Equal(t, job.ID, active.ID)

	jm.Finish(job.ID, JobStatusFailed, map[string]int{"pending": 3}, "boom")
	got, _ = jm.GetJob(job.ID)
	assert.Equal(t, JobStatusFailed, got.Status)
	assert.Equal(t, "boom", got.ErrorMessage)
	assert.Equal(t, map[string]int{"pending": 3}, got.Result)
	assert.False(t, got.CompletedAt.IsZero())
	assert.Error(t, ctx.Err(), "finishing releases the job context")

	_, ok = jm.ActiveJob("facts")
	assert.False(t, ok)

	jm.Finish(job.ID, JobStatusCompleted, nil, "")
	got, _ = jm.GetJob(job.ID)
	assert.Equal(t, JobStatusFailed, got.Status, "a finished job is not overwritten")
}

func TestGetJob_Missing(t *testing.T) {
	_, ok := NewJobManager().GetJob("nonexistent-id")
	assert.False(t, ok)
	assert.NotNil(t, NewJobManager().Start("nonexistent-id", ""))
}

func TestCancelJob(t *testing.T) {
	jm := NewJobManager()
	job := createTestJob(t, jm, "facts")
	ctx := jm.Start(job.ID, "")

	assert.True(t, jm.CancelJob(job.ID))
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
	assert.False(t, jm.CancelJob(job.ID), "already cancelled")
	assert.False(t, jm.CancelJob("unknown"))

	jm.Finish(job.ID, JobStatusCompleted, nil, "")
	got, _ := jm.GetJob(job.ID)
	assert.Equal(t, JobStatusCancelled, got.Status)
}

func TestCancelAll(t *testing.T) {
	jm := NewJobManager()
	a := createTestJob(t, jm, "a")
	b := createTestJob(t, jm, "b")
	jm.Finish(b.ID, JobStatusCompleted, nil, "")

	jm.CancelAll()
	gotA, _ := jm.GetJob(a.ID)
	gotB, _ := jm.GetJob(b.ID)
	assert.Equal(t, JobStatusCancelled, gotA.Status)
	assert.Equal(t, JobStatusCompleted, gotB.Status)

	_, created := jm.CreateJob("a", JobKindRun)
	assert.True(t, created)
}

func TestListJobs_Ordered(t *testing.T) {
	jm := NewJobManager()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	jm.now = func() time.Time { tick++; return base.Add(time.Duration(tick) * time.Second) }

	first := createTestJob(t, jm, "a")
	second := createTestJob(t, jm, "b")

	jobs := jm.ListJobs()
	require.Len(t, jobs, 2)
	assert.Equal(t, first.ID, jobs[0].ID)
	assert.Equal(t, second.ID, jobs[1].ID)
}

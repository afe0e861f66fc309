package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/analyzd/internal/analysis"
	"github.com/fyrsmithlabs/analyzd/internal/bus"
	"github.com/fyrsmithlabs/analyzd/internal/logging"
	"github.com/fyrsmithlabs/analyzd/internal/store"
)

func newResultFixture(t *testing.T) (*ResultHandler, store.Store, *Correlation) {
	t.Helper()
	st := store.NewMemory()
	t.Cleanup(func() { _ = st.Close() })
	correlation := NewCorrelation()
	handler := NewResultHandler(st, correlation, logging.NewTestLogger().Logger)
	return handler, st, correlation
}

func seedJob(t *testing.T, st store.Store, status analysis.JobStatus) *analysis.Job {
	t.Helper()
	job := &analysis.Job{
		ID:           "job-1",
		RequestID:    "req-1",
		AnalysisType: "security",
		Status:       status,
		CreatedAt:    time.Now().UTC(),
	}
	require.NoError(t, st.SaveJob(context.Background(), job))
	return job
}

func TestResultHandlerRunningStartsJob(t *testing.T) {
	handler, st, _ := newResultFixture(t)
	seedJob(t, st, analysis.JobPending)

	handler.Handle(context.Background(), &bus.JobResult{JobID: "job-1", Status: bus.ResultRunning})

	job, err := st.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, analysis.JobRunning, job.Status)
}

func TestResultHandlerRunningIsIdempotent(t *testing.T) {
	handler, st, _ := newResultFixture(t)
	seedJob(t, st, analysis.JobRunning)

	handler.Handle(context.Background(), &bus.JobResult{JobID: "job-1", Status: bus.ResultRunning})

	job, err := st.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, analysis.JobRunning, job.Status, "duplicate running signal leaves the job untouched")
}

func TestResultHandlerCompletedFinalizesAndResolves(t *testing.T) {
	handler, st, correlation := newResultFixture(t)
	seedJob(t, st, analysis.JobRunning)
	future := correlation.Register("job-1")

	handler.Handle(context.Background(), &bus.JobResult{
		JobID:      "job-1",
		RequestID:  "req-1",
		Status:     bus.ResultCompleted,
		Output:     `{"findings":[]}`,
		DurationMS: 1500,
	})

	job, err := st.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, analysis.JobCompleted, job.Status)
	assert.Equal(t, `{"findings":[]}`, job.Output)
	assert.Equal(t, 1500*time.Millisecond, job.Duration)

	select {
	case got := <-future:
		assert.Equal(t, bus.ResultCompleted, got.Status)
	default:
		t.Fatal("completion handle was not resolved")
	}
}

func TestResultHandlerCompletedToleratesMissingRunning(t *testing.T) {
	handler, st, correlation := newResultFixture(t)
	seedJob(t, st, analysis.JobPending)
	correlation.Register("job-1")

	handler.Handle(context.Background(), &bus.JobResult{
		JobID:  "job-1",
		Status: bus.ResultCompleted,
		Output: `{"findings":[]}`,
	})

	job, err := st.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, analysis.JobCompleted, job.Status)
}

func TestResultHandlerCompletedWithoutOutputFailsJob(t *testing.T) {
	handler, st, correlation := newResultFixture(t)
	seedJob(t, st, analysis.JobRunning)
	future := correlation.Register("job-1")

	handler.Handle(context.Background(), &bus.JobResult{JobID: "job-1", Status: bus.ResultCompleted})

	job, err := st.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, analysis.JobFailed, job.Status)
	assert.NotEmpty(t, job.Error)

	select {
	case got := <-future:
		assert.Equal(t, bus.ResultFailed, got.Status)
	default:
		t.Fatal("handle must settle as failed when completion carries no output")
	}
}

func TestResultHandlerFailedFinalizesAndResolves(t *testing.T) {
	handler, st, correlation := newResultFixture(t)
	seedJob(t, st, analysis.JobRunning)
	future := correlation.Register("job-1")

	handler.Handle(context.Background(), &bus.JobResult{
		JobID:  "job-1",
		Status: bus.ResultFailed,
		Error:  "model timeout",
	})

	job, err := st.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, analysis.JobFailed, job.Status)
	assert.Equal(t, "model timeout", job.Error)

	select {
	case got := <-future:
		assert.Equal(t, "model timeout", got.Error)
	default:
		t.Fatal("failure handle was not resolved")
	}
}

func TestResultHandlerStatusCaseInsensitive(t *testing.T) {
	handler, st, _ := newResultFixture(t)
	seedJob(t, st, analysis.JobPending)

	handler.Handle(context.Background(), &bus.JobResult{JobID: "job-1", Status: " running "})

	job, err := st.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, analysis.JobRunning, job.Status)
}

func TestResultHandlerUnknownStatusIgnored(t *testing.T) {
	handler, st, correlation := newResultFixture(t)
	seedJob(t, st, analysis.JobRunning)
	future := correlation.Register("job-1")

	handler.Handle(context.Background(), &bus.JobResult{JobID: "job-1", Status: "PAUSED"})

	job, err := st.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, analysis.JobRunning, job.Status, "unknown statuses change nothing")

	select {
	case <-future:
		t.Fatal("unknown status must not resolve the handle")
	default:
	}
}

func TestResultHandlerUnknownJobIgnored(t *testing.T) {
	handler, _, correlation := newResultFixture(t)

	handler.Handle(context.Background(), &bus.JobResult{JobID: "ghost", Status: bus.ResultCompleted, Output: "{}"})

	assert.Equal(t, 0, correlation.PendingCount())
}

package analysis

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRequest() *Request {
	return &Request{
		ID:            "req-1",
		RepositoryURL: "https://github.com/acme/service",
		Provider:      ProviderGitHub,
		Status:        StatusQueued,
		AnalysisTypes: []string{"security"},
		CreatedAt:     time.Now().UTC(),
	}
}

// TestRequestTransition_ForwardOrder walks the full pipeline in order.
func TestRequestTransition_ForwardOrder(t *testing.T) {
	r := newTestRequest()

	for _, next := range []RequestStatus{
		StatusDiscoveryRunning,
		StatusAnalysisRunning,
		StatusConsolidating,
		StatusCompleted,
	} {
		require.NoError(t, r.Transition(next))
		assert.Equal(t, next, r.Status)
	}

	require.NotNil(t, r.CompletedAt)
}

// TestRequestTransition_Illegal verifies skips and repeats are rejected
// and leave the request unchanged.
func TestRequestTransition_Illegal(t *testing.T) {
	tests := []struct {
		name string
		from RequestStatus
		to   RequestStatus
	}{
		{"skip a stage", StatusQueued, StatusAnalysisRunning},
		{"backwards", StatusAnalysisRunning, StatusDiscoveryRunning},
		{"repeat same stage", StatusConsolidating, StatusConsolidating},
		{"queued to completed", StatusQueued, StatusCompleted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRequest()
			r.Status = tt.from

			err := r.Transition(tt.to)
			require.ErrorIs(t, err, ErrInvalidTransition)
			assert.Equal(t, tt.from, r.Status)
		})
	}
}

// TestRequestTransition_Failed verifies Failed is reachable from every
// non-terminal status and from no terminal one.
func TestRequestTransition_Failed(t *testing.T) {
	for _, from := range []RequestStatus{
		StatusQueued, StatusDiscoveryRunning, StatusAnalysisRunning, StatusConsolidating,
	} {
		r := newTestRequest()
		r.Status = from
		require.NoError(t, r.Transition(StatusFailed))
		assert.Equal(t, StatusFailed, r.Status)
		assert.NotNil(t, r.CompletedAt)
	}

	for _, from := range []RequestStatus{StatusCompleted, StatusFailed} {
		r := newTestRequest()
		r.Status = from
		err := r.Transition(StatusFailed)
		require.ErrorIs(t, err, ErrInvalidTransition)
		assert.Equal(t, from, r.Status)
	}
}

func TestJobLifecycle(t *testing.T) {
	j := &Job{ID: "job-1", RequestID: "req-1", AnalysisType: "security", Status: JobPending}

	require.NoError(t, j.Start())
	assert.Equal(t, JobRunning, j.Status)

	require.NoError(t, j.Complete(`{"findings":[]}`, 1500*time.Millisecond))
	assert.Equal(t, JobCompleted, j.Status)
	assert.Equal(t, 1500*time.Millisecond, j.Duration)
}

func TestJobComplete_RequiresRunningAndOutput(t *testing.T) {
	j := &Job{ID: "job-1", Status: JobPending}
	require.ErrorIs(t, j.Complete("out", time.Second), ErrInvalidTransition)

	require.NoError(t, j.Start())
	require.ErrorIs(t, j.Complete("", time.Second), ErrEmptyOutput)
	assert.Equal(t, JobRunning, j.Status)
}

func TestJobFail_IdempotentGuard(t *testing.T) {
	j := &Job{ID: "job-1", Status: JobPending}
	require.NoError(t, j.Fail("worker reported failure"))
	assert.Equal(t, JobFailed, j.Status)
	assert.Equal(t, "worker reported failure", j.Error)

	// Terminal jobs cannot be re-finalized.
	require.ErrorIs(t, j.Fail("again"), ErrInvalidTransition)

	done := &Job{ID: "job-2", Status: JobCompleted}
	require.ErrorIs(t, done.Fail("late failure"), ErrInvalidTransition)
	assert.Equal(t, JobCompleted, done.Status)
}

func TestJobReset(t *testing.T) {
	j := &Job{ID: "job-1", Status: JobRunning}
	require.NoError(t, j.Fail("timeout"))

	j.Reset()
	assert.Equal(t, JobPending, j.Status)
	assert.Empty(t, j.Output)
	assert.Empty(t, j.Error)
	assert.Zero(t, j.Duration)
}

func TestNewRequest_Validation(t *testing.T) {
	prompts := NewPromptRegistry()

	tests := []struct {
		name    string
		in      NewRequestInput
		wantErr string
	}{
		{
			name: "valid",
			in: NewRequestInput{
				RepositoryURL: "https://github.com/acme/service",
				Provider:      "github",
				AnalysisTypes: []string{"security", "quality"},
			},
		},
		{
			name:    "missing url",
			in:      NewRequestInput{Provider: "github", AnalysisTypes: []string{"security"}},
			wantErr: "repository URL is required",
		},
		{
			name: "relative url",
			in: NewRequestInput{
				RepositoryURL: "acme/service",
				Provider:      "github",
				AnalysisTypes: []string{"security"},
			},
			wantErr: "not an absolute URL",
		},
		{
			name: "unknown provider",
			in: NewRequestInput{
				RepositoryURL: "https://example.com/r",
				Provider:      "gitlab",
				AnalysisTypes: []string{"security"},
			},
			wantErr: "unknown provider",
		},
		{
			name: "no analysis types",
			in: NewRequestInput{
				RepositoryURL: "https://example.com/r",
				Provider:      "github",
			},
			wantErr: "at least one analysis type",
		},
		{
			name: "unknown analysis type",
			in: NewRequestInput{
				RepositoryURL: "https://example.com/r",
				Provider:      "github",
				AnalysisTypes: []string{"astrology"},
			},
			wantErr: "unknown analysis type",
		},
		{
			name: "duplicate analysis type",
			in: NewRequestInput{
				RepositoryURL: "https://example.com/r",
				Provider:      "github",
				AnalysisTypes: []string{"security", "security"},
			},
			wantErr: "duplicate analysis type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := NewRequest(tt.in, prompts)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.NotEmpty(t, req.ID)
			assert.Equal(t, StatusQueued, req.Status)
			assert.Equal(t, []string{"security", "quality"}, req.AnalysisTypes)
		})
	}
}

// TestNewRequest_PreservesTypeOrder guards the submission-order contract
// downstream consumers rely on.
func TestNewRequest_PreservesTypeOrder(t *testing.T) {
	req, err := NewRequest(NewRequestInput{
		RepositoryURL: "https://github.com/acme/service",
		Provider:      "github",
		AnalysisTypes: []string{"dependencies", "security", "architecture"},
	}, NewPromptRegistry())
	require.NoError(t, err)
	assert.Equal(t, []string{"dependencies", "security", "architecture"}, req.AnalysisTypes)
}

// Package analysis defines the domain model for repository analysis:
// requests, jobs, shared discovery context, findings, and the state
// machines that govern request and job lifecycles.
//
// All status transitions go through guarded methods that reject illegal
// moves with ErrInvalidTransition instead of mutating state. Callers are
// expected to persist the entity after a successful transition.
package analysis

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for domain rule violations.
var (
	// ErrInvalidTransition indicates a status transition that the state
	// machine does not permit from the current status.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrEmptyOutput indicates an attempt to complete a job without output.
	ErrEmptyOutput = errors.New("job output must not be empty")
)

// Provider identifies the source hosting a repository.
type Provider string

const (
	ProviderGitHub      Provider = "github"
	ProviderAzureDevOps Provider = "azuredevops"
)

// ParseProvider parses a provider name. The comparison is exact; callers
// normalize case at the API boundary.
func ParseProvider(s string) (Provider, error) {
	switch Provider(s) {
	case ProviderGitHub, ProviderAzureDevOps:
		return Provider(s), nil
	}
	return "", fmt.Errorf("unknown provider %q", s)
}

// RequestStatus is the lifecycle state of an analysis request.
type RequestStatus string

const (
	StatusQueued           RequestStatus = "queued"
	StatusDiscoveryRunning RequestStatus = "discovery_running"
	StatusAnalysisRunning  RequestStatus = "analysis_running"
	StatusConsolidating    RequestStatus = "consolidating"
	StatusCompleted        RequestStatus = "completed"
	StatusFailed           RequestStatus = "failed"
)

// requestOrder fixes the forward pipeline order. Failed is reachable from
// any non-terminal status and is not part of the forward chain.
var requestOrder = map[RequestStatus]int{
	StatusQueued:           0,
	StatusDiscoveryRunning: 1,
	StatusAnalysisRunning:  2,
	StatusConsolidating:    3,
	StatusCompleted:        4,
}

// Terminal reports whether the status ends the request lifecycle.
func (s RequestStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Request is one end-to-end analysis intent for a repository. It is the
// durable audit record: never deleted, mutated only by the scheduler as
// the pipeline advances.
type Request struct {
	ID            string        `json:"id"`
	RepositoryURL string        `json:"repository_url"`
	Provider      Provider      `json:"provider"`
	Status        RequestStatus `json:"status"`
	AnalysisTypes []string      `json:"analysis_types"`
	RetryCount    int           `json:"retry_count"`
	Error         string        `json:"error,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	CompletedAt   *time.Time    `json:"completed_at,omitempty"`
}

// Transition advances the request to next. Legal moves are exactly one
// step forward along the pipeline order, or to Failed from any
// non-terminal status. Illegal moves return ErrInvalidTransition and
// leave the request unchanged.
func (r *Request) Transition(next RequestStatus) error {
	if r.Status.Terminal() {
		return fmt.Errorf("%w: request %s is already %s", ErrInvalidTransition, r.ID, r.Status)
	}
	if next == StatusFailed {
		r.Status = StatusFailed
		now := time.Now().UTC()
		r.CompletedAt = &now
		return nil
	}
	cur, ok := requestOrder[r.Status]
	nxt, nok := requestOrder[next]
	if !ok || !nok || nxt != cur+1 {
		return fmt.Errorf("%w: request %s cannot move %s -> %s", ErrInvalidTransition, r.ID, r.Status, next)
	}
	r.Status = next
	if next == StatusCompleted {
		now := time.Now().UTC()
		r.CompletedAt = &now
	}
	return nil
}

// JobStatus is the lifecycle state of an analysis job.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// Terminal reports whether the status ends the job lifecycle.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// Job is one (request, analysis type) unit of remote work. The same
// entity is reused across retries: Reset returns it to Pending rather
// than creating a new job.
type Job struct {
	ID           string        `json:"id"`
	RequestID    string        `json:"request_id"`
	AnalysisType string        `json:"analysis_type"`
	Status       JobStatus     `json:"status"`
	Output       string        `json:"output,omitempty"`
	Duration     time.Duration `json:"duration,omitempty"`
	Error        string        `json:"error,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
}

// Start moves the job from Pending to Running. Idempotence is the
// caller's concern: starting a job that is already Running or terminal
// returns ErrInvalidTransition.
func (j *Job) Start() error {
	if j.Status != JobPending {
		return fmt.Errorf("%w: job %s cannot start from %s", ErrInvalidTransition, j.ID, j.Status)
	}
	j.Status = JobRunning
	return nil
}

// Complete finalizes the job with its output and measured duration.
// Requires prior Running status and non-empty output.
func (j *Job) Complete(output string, duration time.Duration) error {
	if j.Status != JobRunning {
		return fmt.Errorf("%w: job %s cannot complete from %s", ErrInvalidTransition, j.ID, j.Status)
	}
	if output == "" {
		return fmt.Errorf("job %s: %w", j.ID, ErrEmptyOutput)
	}
	j.Status = JobCompleted
	j.Output = output
	j.Duration = duration
	return nil
}

// Fail marks the job failed. Legal from any non-terminal status; a job
// that is already Completed or Failed cannot be re-finalized.
func (j *Job) Fail(reason string) error {
	if j.Status.Terminal() {
		return fmt.Errorf("%w: job %s is already %s", ErrInvalidTransition, j.ID, j.Status)
	}
	j.Status = JobFailed
	j.Error = reason
	return nil
}

// Reset returns the job to Pending for another dispatch attempt,
// clearing the previous attempt's result fields.
func (j *Job) Reset() {
	j.Status = JobPending
	j.Output = ""
	j.Error = ""
	j.Duration = 0
}

// SharedContext is the discovery snapshot for a request. Immutable once
// created; repeated discovery would create a new version, never mutate
// an existing one.
type SharedContext struct {
	ID            string    `json:"id"`
	RequestID     string    `json:"request_id"`
	Languages     []string  `json:"languages"`
	Frameworks    []string  `json:"frameworks"`
	Dependencies  []string  `json:"dependencies"`
	DirectoryTree string    `json:"directory_tree"`
	Version       int       `json:"version"`
	CreatedAt     time.Time `json:"created_at"`
}

// Finding is one normalized analysis result. Produced only by the
// consolidator from job output; never mutated after creation.
type Finding struct {
	ID          string    `json:"id"`
	JobID       string    `json:"job_id"`
	Severity    Severity  `json:"severity"`
	Category    string    `json:"category"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	FilePath    string    `json:"file_path"`
	CreatedAt   time.Time `json:"created_at"`
}

// Repository is the inventory record for an analyzed repository, keyed
// by URL and upserted at consolidation time.
type Repository struct {
	ID              string    `json:"id"`
	URL             string    `json:"url"`
	Provider        Provider  `json:"provider"`
	FirstAnalyzedAt time.Time `json:"first_analyzed_at"`
	LastAnalyzedAt  time.Time `json:"last_analyzed_at"`
}

// Summary aggregates consolidation output for a request.
type Summary struct {
	RequestID  string           `json:"request_id"`
	Total      int              `json:"total"`
	BySeverity map[Severity]int `json:"by_severity"`
	ByCategory map[string]int   `json:"by_category"`
}

// Package bus carries the job dispatch/result protocol over NATS.
//
// Two message kinds flow between the orchestrator and analysis workers:
// JobDispatch (engine -> worker) on SubjectDispatch and JobResult
// (worker -> engine) on SubjectResults. Payloads are JSON.
package bus

// Subjects for the dispatch/result protocol.
const (
	SubjectDispatch = "analysis.jobs.dispatch"
	SubjectResults  = "analysis.jobs.results"

	// WorkerQueue is the NATS queue group workers join so each dispatch
	// is delivered to exactly one worker.
	WorkerQueue = "analyzd-workers"
)

// Result status values carried in JobResult.Status. Workers may send
// other strings; the orchestrator compares case-insensitively and
// treats anything unrecognized as an unexpected status.
const (
	ResultRunning   = "RUNNING"
	ResultCompleted = "COMPLETED"
	ResultFailed    = "FAILED"
)

// ContextPayload is the discovery snapshot slice a worker receives.
// Dependencies holds only the batch assigned to this job, not the full
// set.
type ContextPayload struct {
	Languages     []string `json:"languages"`
	Frameworks    []string `json:"frameworks"`
	Dependencies  []string `json:"dependencies"`
	DirectoryTree string   `json:"directory_tree"`
}

// JobDispatch asks a worker to run one analysis job.
type JobDispatch struct {
	JobID          string         `json:"job_id"`
	RequestID      string         `json:"request_id"`
	RepositoryURL  string         `json:"repository_url"`
	Provider       string         `json:"provider"`
	AccessToken    string         `json:"access_token,omitempty"`
	Context        ContextPayload `json:"context"`
	Prompt         string         `json:"prompt"`
	AnalysisType   string         `json:"analysis_type"`
	TimeoutSeconds int            `json:"timeout_seconds"`
}

// JobResult reports worker progress or completion for one job.
// Output is raw worker text (typically JSON) and is empty for RUNNING.
type JobResult struct {
	JobID        string `json:"job_id"`
	RequestID    string `json:"request_id"`
	AnalysisType string `json:"analysis_type"`
	Status       string `json:"status"`
	Output       string `json:"output,omitempty"`
	DurationMS   int64  `json:"duration_ms,omitempty"`
	Error        string `json:"error,omitempty"`
}

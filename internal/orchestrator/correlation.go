package orchestrator

import (
	"sync"

	"github.com/fyrsmithlabs/analyzd/internal/bus"
)

// Correlation matches asynchronous result messages back to the dispatch
// call awaiting them. It holds a once-settable completion handle and a
// retry counter per job, plus a transient access-token cache per
// request. Nothing here is durable: a process restart loses in-flight
// correlation state and the affected requests must be re-queued by an
// external supervisor.
//
// Correlation is the only concurrently-mutated shared state in the
// engine: the scheduler registers and removes handles while the result
// handler resolves them from the bus subscription goroutine.
type Correlation struct {
	mu      sync.Mutex
	pending map[string]chan *bus.JobResult
	retries map[string]int
	tokens  map[string]string
}

// NewCorrelation creates an empty correlation store.
func NewCorrelation() *Correlation {
	return &Correlation{
		pending: make(map[string]chan *bus.JobResult),
		retries: make(map[string]int),
		tokens:  make(map[string]string),
	}
}

// Register creates the completion handle for a job dispatch attempt.
// The returned channel receives exactly one terminal result. Registering
// a job that already has a handle replaces it; the stale handle is never
// resolved.
func (c *Correlation) Register(jobID string) <-chan *bus.JobResult {
	ch := make(chan *bus.JobResult, 1)
	c.mu.Lock()
	c.pending[jobID] = ch
	c.mu.Unlock()
	return ch
}

// Resolve settles the job's completion handle with a terminal result.
// Returns false when no handle is registered, which happens for results
// arriving after retry cleanup or for jobs this process never dispatched.
func (c *Correlation) Resolve(jobID string, result *bus.JobResult) bool {
	c.mu.Lock()
	ch, ok := c.pending[jobID]
	if ok {
		delete(c.pending, jobID)
	}
	c.mu.Unlock()
	if !ok {
		return false
	}
	ch <- result // buffered; never blocks
	return true
}

// IncrementRetry bumps and returns the job's retry count.
func (c *Correlation) IncrementRetry(jobID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.retries[jobID]++
	return c.retries[jobID]
}

// Remove clears the job's handle and retry counter. Called when the job
// protocol finishes, success or failure, to bound memory.
func (c *Correlation) Remove(jobID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, jobID)
	delete(c.retries, jobID)
}

// PutToken caches the access token for a request's lifetime.
func (c *Correlation) PutToken(requestID, token string) {
	if token == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens[requestID] = token
}

// Token returns the cached access token for a request, or "".
func (c *Correlation) Token(requestID string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tokens[requestID]
}

// RemoveRequest purges the request's token cache entry.
func (c *Correlation) RemoveRequest(requestID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.tokens, requestID)
}

// PendingCount reports registered handles, for tests and diagnostics.
func (c *Correlation) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

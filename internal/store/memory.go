package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fyrsmithlabs/analyzd/internal/analysis"
)

// Memory is an in-process Store for tests and local development.
// All entities are copied on the way in and out so callers never share
// mutable state with the store.
type Memory struct {
	mu           sync.RWMutex
	requests     map[string]*analysis.Request
	jobs         map[string]*analysis.Job
	contexts     map[string]*analysis.SharedContext
	findings     map[string]*analysis.Finding
	repositories map[string]*analysis.Repository // keyed by URL
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		requests:     make(map[string]*analysis.Request),
		jobs:         make(map[string]*analysis.Job),
		contexts:     make(map[string]*analysis.SharedContext),
		findings:     make(map[string]*analysis.Finding),
		repositories: make(map[string]*analysis.Repository),
	}
}

func (m *Memory) Close() error { return nil }

func copyRequest(r *analysis.Request) *analysis.Request {
	cp := *r
	cp.AnalysisTypes = append([]string(nil), r.AnalysisTypes...)
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}

func (m *Memory) SaveRequest(_ context.Context, r *analysis.Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests[r.ID] = copyRequest(r)
	return nil
}

func (m *Memory) GetRequest(_ context.Context, id string) (*analysis.Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.requests[id]
	if !ok {
		return nil, fmt.Errorf("request %s: %w", id, ErrNotFound)
	}
	return copyRequest(r), nil
}

func (m *Memory) ListQueuedRequests(_ context.Context, limit int) ([]*analysis.Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var queued []*analysis.Request
	for _, r := range m.requests {
		if r.Status == analysis.StatusQueued {
			queued = append(queued, copyRequest(r))
		}
	}
	sort.Slice(queued, func(i, j int) bool { return queued[i].CreatedAt.Before(queued[j].CreatedAt) })
	if len(queued) > limit {
		queued = queued[:limit]
	}
	return queued, nil
}

func (m *Memory) ListRequests(_ context.Context, offset, limit int) ([]*analysis.Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var all []*analysis.Request
	for _, r := range m.requests {
		all = append(all, copyRequest(r))
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (m *Memory) CountQueuedBefore(_ context.Context, t time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, r := range m.requests {
		if r.Status == analysis.StatusQueued && r.CreatedAt.Before(t) {
			n++
		}
	}
	return n, nil
}

func (m *Memory) SaveJob(_ context.Context, j *analysis.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *j
	m.jobs[j.ID] = &cp
	return nil
}

func (m *Memory) GetJob(_ context.Context, id string) (*analysis.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	cp := *j
	return &cp, nil
}

func (m *Memory) ListJobsForRequest(_ context.Context, requestID string) ([]*analysis.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var jobs []*analysis.Job
	for _, j := range m.jobs {
		if j.RequestID == requestID {
			cp := *j
			jobs = append(jobs, &cp)
		}
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].CreatedAt.Before(jobs[j].CreatedAt) })
	return jobs, nil
}

func (m *Memory) SaveContext(_ context.Context, sc *analysis.SharedContext) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *sc
	cp.Languages = append([]string(nil), sc.Languages...)
	cp.Frameworks = append([]string(nil), sc.Frameworks...)
	cp.Dependencies = append([]string(nil), sc.Dependencies...)
	m.contexts[sc.ID] = &cp
	return nil
}

func (m *Memory) GetContextForRequest(_ context.Context, requestID string) (*analysis.SharedContext, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var latest *analysis.SharedContext
	for _, sc := range m.contexts {
		if sc.RequestID == requestID && (latest == nil || sc.Version > latest.Version) {
			latest = sc
		}
	}
	if latest == nil {
		return nil, fmt.Errorf("context for request %s: %w", requestID, ErrNotFound)
	}
	cp := *latest
	return &cp, nil
}

func (m *Memory) SaveFindings(_ context.Context, findings []*analysis.Finding) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range findings {
		cp := *f
		m.findings[f.ID] = &cp
	}
	return nil
}

func (m *Memory) ListFindingsForRequest(ctx context.Context, requestID string) ([]*analysis.Finding, error) {
	jobs, err := m.ListJobsForRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	jobIDs := make(map[string]struct{}, len(jobs))
	for _, j := range jobs {
		jobIDs[j.ID] = struct{}{}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	var findings []*analysis.Finding
	for _, f := range m.findings {
		if _, ok := jobIDs[f.JobID]; ok {
			cp := *f
			findings = append(findings, &cp)
		}
	}
	sort.Slice(findings, func(i, j int) bool { return findings[i].ID < findings[j].ID })
	return findings, nil
}

func (m *Memory) UpsertRepository(_ context.Context, url string, provider analysis.Provider, analyzedAt time.Time) (*analysis.Repository, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.repositories[url]; ok {
		existing.LastAnalyzedAt = analyzedAt
		cp := *existing
		return &cp, nil
	}
	r := &analysis.Repository{
		ID:              uuid.New().String(),
		URL:             url,
		Provider:        provider,
		FirstAnalyzedAt: analyzedAt,
		LastAnalyzedAt:  analyzedAt,
	}
	m.repositories[url] = r
	cp := *r
	return &cp, nil
}

func (m *Memory) GetRepositoryByURL(_ context.Context, url string) (*analysis.Repository, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.repositories[url]
	if !ok {
		return nil, fmt.Errorf("repository %s: %w", url, ErrNotFound)
	}
	cp := *r
	return &cp, nil
}

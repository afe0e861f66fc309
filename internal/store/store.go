// Package store persists analysis requests, jobs, discovery contexts,
// findings, and the repository inventory. The Store interface is the
// persistence collaborator contract the orchestration engine runs
// against; SQLite backs it in production and Memory backs it in tests.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/fyrsmithlabs/analyzd/internal/analysis"
)

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("entity not found")

// Store is the persistence contract for the orchestration engine.
// Save operations are upserts keyed by entity ID; the engine applies a
// single-writer-per-entity discipline on top of them.
type Store interface {
	SaveRequest(ctx context.Context, r *analysis.Request) error
	GetRequest(ctx context.Context, id string) (*analysis.Request, error)
	ListQueuedRequests(ctx context.Context, limit int) ([]*analysis.Request, error)
	ListRequests(ctx context.Context, offset, limit int) ([]*analysis.Request, error)
	CountQueuedBefore(ctx context.Context, t time.Time) (int, error)

	SaveJob(ctx context.Context, j *analysis.Job) error
	GetJob(ctx context.Context, id string) (*analysis.Job, error)
	ListJobsForRequest(ctx context.Context, requestID string) ([]*analysis.Job, error)

	SaveContext(ctx context.Context, sc *analysis.SharedContext) error
	GetContextForRequest(ctx context.Context, requestID string) (*analysis.SharedContext, error)

	SaveFindings(ctx context.Context, findings []*analysis.Finding) error
	ListFindingsForRequest(ctx context.Context, requestID string) ([]*analysis.Finding, error)

	// UpsertRepository creates the inventory record on first sight of a
	// URL and bumps LastAnalyzedAt on every later sight.
	UpsertRepository(ctx context.Context, url string, provider analysis.Provider, analyzedAt time.Time) (*analysis.Repository, error)
	GetRepositoryByURL(ctx context.Context, url string) (*analysis.Repository, error)

	Close() error
}

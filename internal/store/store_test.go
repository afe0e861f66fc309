package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/analyzd/internal/analysis"
)

// openStores returns both Store implementations so every test runs
// against SQLite and Memory.
func openStores(t *testing.T) map[string]Store {
	t.Helper()

	sqlite, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })

	return map[string]Store{
		"sqlite": sqlite,
		"memory": NewMemory(),
	}
}

func seedRequest(t *testing.T, s Store, id string, createdAt time.Time) *analysis.Request {
	t.Helper()
	r := &analysis.Request{
		ID:            id,
		RepositoryURL: "https://github.com/acme/" + id,
		Provider:      analysis.ProviderGitHub,
		Status:        analysis.StatusQueued,
		AnalysisTypes: []string{"security", "quality"},
		CreatedAt:     createdAt,
	}
	require.NoError(t, s.SaveRequest(context.Background(), r))
	return r
}

func TestRequestRoundTrip(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			r := seedRequest(t, s, "req-1", time.Now().UTC().Truncate(time.Second))

			got, err := s.GetRequest(ctx, "req-1")
			require.NoError(t, err)
			assert.Equal(t, r.RepositoryURL, got.RepositoryURL)
			assert.Equal(t, analysis.StatusQueued, got.Status)
			assert.Equal(t, []string{"security", "quality"}, got.AnalysisTypes)
			assert.Nil(t, got.CompletedAt)

			// Update via upsert.
			require.NoError(t, got.Transition(analysis.StatusDiscoveryRunning))
			require.NoError(t, s.SaveRequest(ctx, got))

			got, err = s.GetRequest(ctx, "req-1")
			require.NoError(t, err)
			assert.Equal(t, analysis.StatusDiscoveryRunning, got.Status)

			_, err = s.GetRequest(ctx, "missing")
			require.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestListQueuedRequests_OrderAndLimit(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := time.Now().UTC().Truncate(time.Second)
			seedRequest(t, s, "req-c", base.Add(2*time.Second))
			seedRequest(t, s, "req-a", base)
			seedRequest(t, s, "req-b", base.Add(time.Second))

			// Non-queued requests are excluded.
			running := seedRequest(t, s, "req-d", base.Add(-time.Second))
			require.NoError(t, running.Transition(analysis.StatusDiscoveryRunning))
			require.NoError(t, s.SaveRequest(ctx, running))

			queued, err := s.ListQueuedRequests(ctx, 2)
			require.NoError(t, err)
			require.Len(t, queued, 2)
			assert.Equal(t, "req-a", queued[0].ID)
			assert.Equal(t, "req-b", queued[1].ID)

			n, err := s.CountQueuedBefore(ctx, base.Add(1500*time.Millisecond))
			require.NoError(t, err)
			assert.Equal(t, 2, n)
		})
	}
}

func TestJobRoundTrip(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			seedRequest(t, s, "req-1", time.Now().UTC())

			j := &analysis.Job{
				ID:           "job-1",
				RequestID:    "req-1",
				AnalysisType: "security",
				Status:       analysis.JobPending,
				CreatedAt:    time.Now().UTC().Truncate(time.Second),
			}
			require.NoError(t, s.SaveJob(ctx, j))

			require.NoError(t, j.Start())
			require.NoError(t, j.Complete(`{"findings":[]}`, 1234*time.Millisecond))
			require.NoError(t, s.SaveJob(ctx, j))

			got, err := s.GetJob(ctx, "job-1")
			require.NoError(t, err)
			assert.Equal(t, analysis.JobCompleted, got.Status)
			assert.Equal(t, `{"findings":[]}`, got.Output)
			assert.Equal(t, 1234*time.Millisecond, got.Duration)

			jobs, err := s.ListJobsForRequest(ctx, "req-1")
			require.NoError(t, err)
			require.Len(t, jobs, 1)

			_, err = s.GetJob(ctx, "missing")
			require.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestContextRoundTrip(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			seedRequest(t, s, "req-1", time.Now().UTC())

			sc := &analysis.SharedContext{
				ID:            "ctx-1",
				RequestID:     "req-1",
				Languages:     []string{"Go", "TypeScript"},
				Frameworks:    []string{"echo"},
				Dependencies:  []string{"github.com/labstack/echo/v4"},
				DirectoryTree: `{"name":"root"}`,
				Version:       1,
				CreatedAt:     time.Now().UTC().Truncate(time.Second),
			}
			require.NoError(t, s.SaveContext(ctx, sc))

			got, err := s.GetContextForRequest(ctx, "req-1")
			require.NoError(t, err)
			assert.Equal(t, []string{"Go", "TypeScript"}, got.Languages)
			assert.Equal(t, 1, got.Version)

			_, err = s.GetContextForRequest(ctx, "missing")
			require.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestFindingsForRequest(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			seedRequest(t, s, "req-1", time.Now().UTC())
			seedRequest(t, s, "req-2", time.Now().UTC())

			for _, j := range []*analysis.Job{
				{ID: "job-1", RequestID: "req-1", AnalysisType: "security", Status: analysis.JobCompleted, CreatedAt: time.Now().UTC()},
				{ID: "job-2", RequestID: "req-2", AnalysisType: "security", Status: analysis.JobCompleted, CreatedAt: time.Now().UTC()},
			} {
				require.NoError(t, s.SaveJob(ctx, j))
			}

			now := time.Now().UTC().Truncate(time.Second)
			require.NoError(t, s.SaveFindings(ctx, []*analysis.Finding{
				{ID: "f-1", JobID: "job-1", Severity: analysis.SeverityHigh, Category: "Security", Title: "t1", Description: "d1", FilePath: "main.go", CreatedAt: now},
				{ID: "f-2", JobID: "job-2", Severity: analysis.SeverityLow, Category: "Quality", Title: "t2", Description: "d2", FilePath: "util.go", CreatedAt: now},
			}))

			findings, err := s.ListFindingsForRequest(ctx, "req-1")
			require.NoError(t, err)
			require.Len(t, findings, 1)
			assert.Equal(t, "f-1", findings[0].ID)
			assert.Equal(t, analysis.SeverityHigh, findings[0].Severity)
		})
	}
}

func TestUpsertRepository(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			url := "https://github.com/acme/service"
			first := time.Now().UTC().Add(-time.Hour).Truncate(time.Second)
			later := time.Now().UTC().Truncate(time.Second)

			created, err := s.UpsertRepository(ctx, url, analysis.ProviderGitHub, first)
			require.NoError(t, err)
			assert.Equal(t, first, created.FirstAnalyzedAt.UTC())

			updated, err := s.UpsertRepository(ctx, url, analysis.ProviderGitHub, later)
			require.NoError(t, err)
			assert.Equal(t, created.ID, updated.ID)
			assert.Equal(t, first, updated.FirstAnalyzedAt.UTC())
			assert.Equal(t, later, updated.LastAnalyzedAt.UTC())

			_, err = s.GetRepositoryByURL(ctx, "https://github.com/acme/other")
			require.ErrorIs(t, err, ErrNotFound)
		})
	}
}

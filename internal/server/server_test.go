package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/analyzd/internal/analysis"
	"github.com/fyrsmithlabs/analyzd/internal/config"
	"github.com/fyrsmithlabs/analyzd/internal/logging"
	"github.com/fyrsmithlabs/analyzd/internal/orchestrator"
	"github.com/fyrsmithlabs/analyzd/internal/store"
	"github.com/fyrsmithlabs/analyzd/internal/telemetry"
)

type serverFixture struct {
	server      *Server
	store       store.Store
	correlation *orchestrator.Correlation
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()
	st := store.NewMemory()
	t.Cleanup(func() { _ = st.Close() })
	logger := logging.NewTestLogger().Logger
	correlation := orchestrator.NewCorrelation()
	consolidator := orchestrator.NewConsolidator(st, telemetry.NewForTest(), logger)

	srv := New(config.ServerConfig{Port: 0}, st, consolidator, correlation,
		analysis.NewPromptRegistry(), logger)
	return &serverFixture{server: srv, store: st, correlation: correlation}
}

func (f *serverFixture) do(method, path, body string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.server.echo.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	f := newServerFixture(t)
	rec := f.do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok"`)
}

func TestCreateRequestAccepted(t *testing.T) {
	f := newServerFixture(t)
	rec := f.do(http.MethodPost, "/api/requests", `{
		"repository_url": "https://github.com/acme/widget",
		"provider": "github",
		"analysis_types": ["security", "quality"],
		"access_token": "ghp_secret"
	}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var created analysis.Request
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, analysis.StatusQueued, created.Status)
	assert.Equal(t, []string{"security", "quality"}, created.AnalysisTypes)
	assert.NotContains(t, rec.Body.String(), "ghp_secret", "tokens are never echoed")

	persisted, err := f.store.GetRequest(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, analysis.StatusQueued, persisted.Status)
	assert.Equal(t, "ghp_secret", f.correlation.Token(created.ID))
}

func TestCreateRequestValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing url", `{"provider":"github","analysis_types":["security"]}`},
		{"relative url", `{"repository_url":"acme/widget","provider":"github","analysis_types":["security"]}`},
		{"bad provider", `{"repository_url":"https://github.com/a/b","provider":"gitlab","analysis_types":["security"]}`},
		{"no types", `{"repository_url":"https://github.com/a/b","provider":"github","analysis_types":[]}`},
		{"unknown type", `{"repository_url":"https://github.com/a/b","provider":"github","analysis_types":["divination"]}`},
		{"duplicate type", `{"repository_url":"https://github.com/a/b","provider":"github","analysis_types":["security","security"]}`},
		{"malformed json", `{"repository_url":`},
	}
	f := newServerFixture(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(http.MethodPost, "/api/requests", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), "error")
		})
	}
}

func seedRequest(t *testing.T, st store.Store, status analysis.RequestStatus, createdAt time.Time) *analysis.Request {
	t.Helper()
	req := &analysis.Request{
		ID:            uuid.New().String(),
		RepositoryURL: "https://github.com/acme/widget",
		Provider:      analysis.ProviderGitHub,
		Status:        status,
		AnalysisTypes: []string{"security"},
		CreatedAt:     createdAt,
	}
	require.NoError(t, st.SaveRequest(context.Background(), req))
	return req
}

func TestGetRequestNotFound(t *testing.T) {
	f := newServerFixture(t)
	rec := f.do(http.MethodGet, "/api/requests/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetRequestQueuePosition(t *testing.T) {
	f := newServerFixture(t)
	base := time.Now().UTC()
	seedRequest(t, f.store, analysis.StatusQueued, base.Add(-2*time.Minute))
	second := seedRequest(t, f.store, analysis.StatusQueued, base.Add(-time.Minute))
	running := seedRequest(t, f.store, analysis.StatusAnalysisRunning, base.Add(-3*time.Minute))

	rec := f.do(http.MethodGet, "/api/requests/"+second.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var view struct {
		QueuePosition int `json:"queue_position"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, 2, view.QueuePosition, "one queued request is ahead")

	rec = f.do(http.MethodGet, "/api/requests/"+running.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "queue_position",
		"queue position only applies while queued")
}

func TestListRequestsPaged(t *testing.T) {
	f := newServerFixture(t)
	base := time.Now().UTC()
	for i := 0; i < 5; i++ {
		seedRequest(t, f.store, analysis.StatusQueued, base.Add(time.Duration(i)*time.Second))
	}

	rec := f.do(http.MethodGet, "/api/requests?offset=1&limit=2", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var page struct {
		Requests []*analysis.Request `json:"requests"`
		Offset   int                 `json:"offset"`
		Limit    int                 `json:"limit"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Len(t, page.Requests, 2)
	assert.Equal(t, 1, page.Offset)

	rec = f.do(http.MethodGet, "/api/requests?limit=9999", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Equal(t, defaultPageSize, page.Limit, "oversized limits fall back to the default")
}

func TestListFindings(t *testing.T) {
	f := newServerFixture(t)
	req := seedRequest(t, f.store, analysis.StatusCompleted, time.Now().UTC())
	job := &analysis.Job{
		ID: uuid.New().String(), RequestID: req.ID, AnalysisType: "security",
		Status: analysis.JobCompleted, Output: "{}", CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, f.store.SaveJob(context.Background(), job))
	require.NoError(t, f.store.SaveFindings(context.Background(), []*analysis.Finding{{
		ID: uuid.New().String(), JobID: job.ID, Severity: analysis.SeverityHigh,
		Category: "Security", Title: "Leaked key", Description: "d",
		FilePath: "config.yml", CreatedAt: time.Now().UTC(),
	}}))

	rec := f.do(http.MethodGet, "/api/requests/"+req.ID+"/findings", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Leaked key")

	rec = f.do(http.MethodGet, "/api/requests/nope/findings", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListFindingsEmpty(t *testing.T) {
	f := newServerFixture(t)
	req := seedRequest(t, f.store, analysis.StatusCompleted, time.Now().UTC())

	rec := f.do(http.MethodGet, "/api/requests/"+req.ID+"/findings", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"findings":[]`)
}

func TestGetSummary(t *testing.T) {
	f := newServerFixture(t)
	req := seedRequest(t, f.store, analysis.StatusCompleted, time.Now().UTC())
	job := &analysis.Job{
		ID: uuid.New().String(), RequestID: req.ID, AnalysisType: "security",
		Status: analysis.JobCompleted, Output: "{}", CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, f.store.SaveJob(context.Background(), job))
	require.NoError(t, f.store.SaveFindings(context.Background(), []*analysis.Finding{
		{ID: uuid.New().String(), JobID: job.ID, Severity: analysis.SeverityHigh,
			Category: "Security", Title: "A", Description: "d", FilePath: "a.go",
			CreatedAt: time.Now().UTC()},
		{ID: uuid.New().String(), JobID: job.ID, Severity: analysis.SeverityLow,
			Category: "Quality", Title: "B", Description: "d", FilePath: "b.go",
			CreatedAt: time.Now().UTC()},
	}))

	rec := f.do(http.MethodGet, "/api/requests/"+req.ID+"/summary", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var summary analysis.Summary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, 1, summary.BySeverity[analysis.SeverityHigh])
	assert.Equal(t, 1, summary.ByCategory["Quality"])

	rec = f.do(http.MethodGet, "/api/requests/nope/summary", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newServerFixture(t)
	rec := f.do(http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

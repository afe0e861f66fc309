package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/analyzd/internal/analysis"
	"github.com/fyrsmithlabs/analyzd/internal/logging"
	"github.com/fyrsmithlabs/analyzd/internal/store"
	"github.com/fyrsmithlabs/analyzd/internal/telemetry"
)

// ErrNoCompletedJobs indicates consolidation was invoked for a request
// with no completed jobs. This is a caller-contract violation, not a
// transient error; the request is left in its prior state.
var ErrNoCompletedJobs = errors.New("request has no completed jobs to consolidate")

// Consolidator turns heterogeneous worker output into canonical
// findings and finalizes the request.
type Consolidator struct {
	store   store.Store
	metrics *telemetry.Metrics
	logger  *logging.Logger
}

// NewConsolidator wires the consolidator to the store.
func NewConsolidator(st store.Store, metrics *telemetry.Metrics, logger *logging.Logger) *Consolidator {
	return &Consolidator{store: st, metrics: metrics, logger: logger.Named("consolidate")}
}

// Consolidate parses every completed job's output for a request,
// persists the normalized findings, moves the request from
// Consolidating to Completed if it is still there, and upserts the
// repository inventory record. On error nothing is finalized and the
// request keeps its prior status.
func (c *Consolidator) Consolidate(ctx context.Context, requestID string) (*analysis.Summary, error) {
	ctx = logging.WithRequestID(ctx, requestID)

	req, err := c.store.GetRequest(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("consolidate request %s: %w", requestID, err)
	}

	jobs, err := c.store.ListJobsForRequest(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("consolidate request %s: %w", requestID, err)
	}
	var completed []*analysis.Job
	for _, j := range jobs {
		if j.Status == analysis.JobCompleted {
			completed = append(completed, j)
		}
	}
	if len(completed) == 0 {
		return nil, fmt.Errorf("request %s: %w", requestID, ErrNoCompletedJobs)
	}

	now := time.Now().UTC()
	var findings []*analysis.Finding
	for _, job := range completed {
		extracted := extractFindings(job.Output)
		for _, raw := range extracted {
			f, ok := parseFinding(raw, job.ID, now)
			if !ok {
				c.logger.Debug(ctx, "skipping malformed finding element",
					zap.String("job_id", job.ID))
				continue
			}
			findings = append(findings, f)
		}
	}

	// Correlate findings by file and by referenced dependency. The
	// grouping is informational only and is not persisted.
	byFile, byDependency := groupFindings(findings)
	c.logger.Debug(ctx, "finding correlation computed",
		zap.Int("file_groups", len(byFile)),
		zap.Int("dependency_groups", len(byDependency)))

	if err := c.store.SaveFindings(ctx, findings); err != nil {
		return nil, fmt.Errorf("persist findings for request %s: %w", requestID, err)
	}
	c.metrics.FindingsPersisted.Add(float64(len(findings)))

	if req.Status == analysis.StatusConsolidating {
		if err := req.Transition(analysis.StatusCompleted); err != nil {
			return nil, fmt.Errorf("finalize request %s: %w", requestID, err)
		}
		if err := c.store.SaveRequest(ctx, req); err != nil {
			return nil, fmt.Errorf("persist finalized request %s: %w", requestID, err)
		}
	}

	if _, err := c.store.UpsertRepository(ctx, req.RepositoryURL, req.Provider, now); err != nil {
		return nil, fmt.Errorf("upsert repository inventory for %s: %w", req.RepositoryURL, err)
	}

	summary := buildSummary(requestID, findings)
	c.logger.Info(ctx, "consolidation finished",
		zap.Int("jobs", len(completed)),
		zap.Int("findings", summary.Total))
	return summary, nil
}

// Summarize rebuilds the consolidation summary from persisted findings.
func (c *Consolidator) Summarize(ctx context.Context, requestID string) (*analysis.Summary, error) {
	if _, err := c.store.GetRequest(ctx, requestID); err != nil {
		return nil, err
	}
	findings, err := c.store.ListFindingsForRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	return buildSummary(requestID, findings), nil
}

func buildSummary(requestID string, findings []*analysis.Finding) *analysis.Summary {
	s := &analysis.Summary{
		RequestID:  requestID,
		Total:      len(findings),
		BySeverity: make(map[analysis.Severity]int),
		ByCategory: make(map[string]int),
	}
	for _, f := range findings {
		s.BySeverity[f.Severity]++
		s.ByCategory[f.Category]++
	}
	return s
}

// shapeMatcher attempts to read a findings array out of a decoded
// document. Matchers are pure: they either produce the array or decline.
type shapeMatcher func(doc any) ([]any, bool)

// findingShapes are the tolerated output shapes, tried in order; the
// first match wins. Workers produce any of: a bare array, a top-level
// "findings" array, a top-level "issues" array, or a nested
// "results.findings" array.
var findingShapes = []shapeMatcher{
	func(doc any) ([]any, bool) {
		arr, ok := doc.([]any)
		return arr, ok
	},
	func(doc any) ([]any, bool) {
		return lookupArray(doc, "findings")
	},
	func(doc any) ([]any, bool) {
		return lookupArray(doc, "issues")
	},
	func(doc any) ([]any, bool) {
		obj, ok := doc.(map[string]any)
		if !ok {
			return nil, false
		}
		return lookupArray(obj["results"], "findings")
	},
}

func lookupArray(doc any, key string) ([]any, bool) {
	obj, ok := doc.(map[string]any)
	if !ok {
		return nil, false
	}
	arr, ok := obj[key].([]any)
	return arr, ok
}

// extractFindings pulls the findings array out of raw worker output.
// Unparseable output or an unmatched shape yields zero findings; a
// worker may legitimately report no issues.
func extractFindings(output string) []any {
	var doc any
	if err := json.Unmarshal([]byte(output), &doc); err != nil {
		return nil
	}
	for _, match := range findingShapes {
		if arr, ok := match(doc); ok {
			return arr
		}
	}
	return nil
}

// parseFinding normalizes one raw element. Elements that are not
// objects are skipped; inside an object every field falls back to a
// default rather than failing.
func parseFinding(raw any, jobID string, createdAt time.Time) (*analysis.Finding, bool) {
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, false
	}

	title := stringField(obj, "title")
	if title == "" {
		title = "Untitled Finding"
	}
	description := stringField(obj, "description")
	if description == "" {
		description = title
	}
	category := stringField(obj, "category")
	if category == "" {
		category = "General"
	}
	filePath := firstStringField(obj, "filePath", "file", "path")
	if filePath == "" {
		filePath = "unknown"
	}

	return &analysis.Finding{
		ID:          uuid.New().String(),
		JobID:       jobID,
		Severity:    analysis.ParseSeverity(stringField(obj, "severity")),
		Category:    category,
		Title:       title,
		Description: description,
		FilePath:    filePath,
		CreatedAt:   createdAt,
	}, true
}

func stringField(obj map[string]any, key string) string {
	s, _ := obj[key].(string)
	return strings.TrimSpace(s)
}

func firstStringField(obj map[string]any, keys ...string) string {
	for _, key := range keys {
		if s := stringField(obj, key); s != "" {
			return s
		}
	}
	return ""
}

var (
	quotedRe        = regexp.MustCompile(`"([^"]+)"`)
	parenthesizedRe = regexp.MustCompile(`\(([^)]+)\)`)
)

// dependencyName heuristically extracts a dependency reference from
// finding text: the first quoted substring, else the first
// parenthesized substring, else "".
func dependencyName(f *analysis.Finding) string {
	text := f.Title + " " + f.Description
	if m := quotedRe.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	if m := parenthesizedRe.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	return ""
}

// groupFindings correlates findings by file path and by referenced
// dependency name.
func groupFindings(findings []*analysis.Finding) (byFile, byDependency map[string][]*analysis.Finding) {
	byFile = make(map[string][]*analysis.Finding)
	byDependency = make(map[string][]*analysis.Finding)
	for _, f := range findings {
		byFile[f.FilePath] = append(byFile[f.FilePath], f)
		if dep := dependencyName(f); dep != "" {
			byDependency[dep] = append(byDependency[dep], f)
		}
	}
	return byFile, byDependency
}

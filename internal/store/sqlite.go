package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/fyrsmithlabs/analyzd/internal/analysis"
)

const schema = `
CREATE TABLE IF NOT EXISTS requests (
	id             TEXT PRIMARY KEY,
	repository_url TEXT NOT NULL,
	provider       TEXT NOT NULL,
	status         TEXT NOT NULL,
	analysis_types TEXT NOT NULL,
	retry_count    INTEGER NOT NULL DEFAULT 0,
	error          TEXT NOT NULL DEFAULT '',
	created_at     TIMESTAMP NOT NULL,
	completed_at   TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_requests_status_created ON requests(status, created_at);

CREATE TABLE IF NOT EXISTS jobs (
	id            TEXT PRIMARY KEY,
	request_id    TEXT NOT NULL REFERENCES requests(id),
	analysis_type TEXT NOT NULL,
	status        TEXT NOT NULL,
	output        TEXT NOT NULL DEFAULT '',
	duration_ms   INTEGER NOT NULL DEFAULT 0,
	error         TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_jobs_request ON jobs(request_id);

CREATE TABLE IF NOT EXISTS contexts (
	id             TEXT PRIMARY KEY,
	request_id     TEXT NOT NULL REFERENCES requests(id),
	languages      TEXT NOT NULL,
	frameworks     TEXT NOT NULL,
	dependencies   TEXT NOT NULL,
	directory_tree TEXT NOT NULL,
	version        INTEGER NOT NULL,
	created_at     TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_contexts_request ON contexts(request_id);

CREATE TABLE IF NOT EXISTS findings (
	id          TEXT PRIMARY KEY,
	job_id      TEXT NOT NULL REFERENCES jobs(id),
	severity    TEXT NOT NULL,
	category    TEXT NOT NULL,
	title       TEXT NOT NULL,
	description TEXT NOT NULL,
	file_path   TEXT NOT NULL,
	created_at  TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_findings_job ON findings(job_id);

CREATE TABLE IF NOT EXISTS repositories (
	id                TEXT PRIMARY KEY,
	url               TEXT NOT NULL UNIQUE,
	provider          TEXT NOT NULL,
	first_analyzed_at TIMESTAMP NOT NULL,
	last_analyzed_at  TIMESTAMP NOT NULL
);
`

// SQLite is the durable Store backed by modernc.org/sqlite.
type SQLite struct {
	db *sql.DB
}

var _ Store = (*SQLite)(nil)

// OpenSQLite opens (creating if needed) the database at path and applies
// the schema. Use ":memory:" for an ephemeral database.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", path, err)
	}
	// modernc sqlite serializes access per connection; a single
	// connection avoids table-lock errors under concurrent writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Close closes the underlying database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) SaveRequest(ctx context.Context, r *analysis.Request) error {
	types, err := json.Marshal(r.AnalysisTypes)
	if err != nil {
		return fmt.Errorf("failed to encode analysis types: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO requests (id, repository_url, provider, status, analysis_types, retry_count, error, created_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			retry_count = excluded.retry_count,
			error = excluded.error,
			completed_at = excluded.completed_at`,
		r.ID, r.RepositoryURL, string(r.Provider), string(r.Status), string(types),
		r.RetryCount, r.Error, r.CreatedAt, r.CompletedAt)
	if err != nil {
		return fmt.Errorf("failed to save request %s: %w", r.ID, err)
	}
	return nil
}

func (s *SQLite) GetRequest(ctx context.Context, id string) (*analysis.Request, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, repository_url, provider, status, analysis_types, retry_count, error, created_at, completed_at
		FROM requests WHERE id = ?`, id)
	return scanRequest(row)
}

func (s *SQLite) ListQueuedRequests(ctx context.Context, limit int) ([]*analysis.Request, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, repository_url, provider, status, analysis_types, retry_count, error, created_at, completed_at
		FROM requests WHERE status = ? ORDER BY created_at ASC LIMIT ?`,
		string(analysis.StatusQueued), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list queued requests: %w", err)
	}
	defer rows.Close()
	return scanRequests(rows)
}

func (s *SQLite) ListRequests(ctx context.Context, offset, limit int) ([]*analysis.Request, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, repository_url, provider, status, analysis_types, retry_count, error, created_at, completed_at
		FROM requests ORDER BY created_at DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list requests: %w", err)
	}
	defer rows.Close()
	return scanRequests(rows)
}

func (s *SQLite) CountQueuedBefore(ctx context.Context, t time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM requests WHERE status = ? AND created_at < ?`,
		string(analysis.StatusQueued), t).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count queued requests: %w", err)
	}
	return n, nil
}

func (s *SQLite) SaveJob(ctx context.Context, j *analysis.Job) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, request_id, analysis_type, status, output, duration_ms, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			output = excluded.output,
			duration_ms = excluded.duration_ms,
			error = excluded.error`,
		j.ID, j.RequestID, j.AnalysisType, string(j.Status), j.Output,
		j.Duration.Milliseconds(), j.Error, j.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save job %s: %w", j.ID, err)
	}
	return nil
}

func (s *SQLite) GetJob(ctx context.Context, id string) (*analysis.Job, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, request_id, analysis_type, status, output, duration_ms, error, created_at
		FROM jobs WHERE id = ?`, id)
	return scanJob(row)
}

func (s *SQLite) ListJobsForRequest(ctx context.Context, requestID string) ([]*analysis.Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, request_id, analysis_type, status, output, duration_ms, error, created_at
		FROM jobs WHERE request_id = ? ORDER BY created_at ASC`, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs for request %s: %w", requestID, err)
	}
	defer rows.Close()

	var jobs []*analysis.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (s *SQLite) SaveContext(ctx context.Context, sc *analysis.SharedContext) error {
	langs, _ := json.Marshal(sc.Languages)
	fws, _ := json.Marshal(sc.Frameworks)
	deps, _ := json.Marshal(sc.Dependencies)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO contexts (id, request_id, languages, frameworks, dependencies, directory_tree, version, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sc.ID, sc.RequestID, string(langs), string(fws), string(deps),
		sc.DirectoryTree, sc.Version, sc.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save context %s: %w", sc.ID, err)
	}
	return nil
}

func (s *SQLite) GetContextForRequest(ctx context.Context, requestID string) (*analysis.SharedContext, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, request_id, languages, frameworks, dependencies, directory_tree, version, created_at
		FROM contexts WHERE request_id = ? ORDER BY version DESC LIMIT 1`, requestID)

	var sc analysis.SharedContext
	var langs, fws, deps string
	err := row.Scan(&sc.ID, &sc.RequestID, &langs, &fws, &deps, &sc.DirectoryTree, &sc.Version, &sc.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("context for request %s: %w", requestID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load context: %w", err)
	}
	if err := json.Unmarshal([]byte(langs), &sc.Languages); err != nil {
		return nil, fmt.Errorf("failed to decode languages: %w", err)
	}
	if err := json.Unmarshal([]byte(fws), &sc.Frameworks); err != nil {
		return nil, fmt.Errorf("failed to decode frameworks: %w", err)
	}
	if err := json.Unmarshal([]byte(deps), &sc.Dependencies); err != nil {
		return nil, fmt.Errorf("failed to decode dependencies: %w", err)
	}
	return &sc, nil
}

func (s *SQLite) SaveFindings(ctx context.Context, findings []*analysis.Finding) error {
	if len(findings) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO findings (id, job_id, severity, category, title, description, file_path, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare findings insert: %w", err)
	}
	defer stmt.Close()

	for _, f := range findings {
		if _, err := stmt.ExecContext(ctx, f.ID, f.JobID, string(f.Severity),
			f.Category, f.Title, f.Description, f.FilePath, f.CreatedAt); err != nil {
			return fmt.Errorf("failed to insert finding %s: %w", f.ID, err)
		}
	}
	return tx.Commit()
}

func (s *SQLite) ListFindingsForRequest(ctx context.Context, requestID string) ([]*analysis.Finding, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT f.id, f.job_id, f.severity, f.category, f.title, f.description, f.file_path, f.created_at
		FROM findings f JOIN jobs j ON f.job_id = j.id
		WHERE j.request_id = ? ORDER BY f.created_at ASC, f.id ASC`, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to list findings for request %s: %w", requestID, err)
	}
	defer rows.Close()

	var findings []*analysis.Finding
	for rows.Next() {
		var f analysis.Finding
		var sev string
		if err := rows.Scan(&f.ID, &f.JobID, &sev, &f.Category, &f.Title,
			&f.Description, &f.FilePath, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan finding: %w", err)
		}
		f.Severity = analysis.Severity(sev)
		findings = append(findings, &f)
	}
	return findings, rows.Err()
}

func (s *SQLite) UpsertRepository(ctx context.Context, url string, provider analysis.Provider, analyzedAt time.Time) (*analysis.Repository, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO repositories (id, url, provider, first_analyzed_at, last_analyzed_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(url) DO UPDATE SET last_analyzed_at = excluded.last_analyzed_at`,
		uuid.New().String(), url, string(provider), analyzedAt, analyzedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert repository %s: %w", url, err)
	}
	return s.GetRepositoryByURL(ctx, url)
}

func (s *SQLite) GetRepositoryByURL(ctx context.Context, url string) (*analysis.Repository, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, url, provider, first_analyzed_at, last_analyzed_at
		FROM repositories WHERE url = ?`, url)

	var r analysis.Repository
	var provider string
	err := row.Scan(&r.ID, &r.URL, &provider, &r.FirstAnalyzedAt, &r.LastAnalyzedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("repository %s: %w", url, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load repository: %w", err)
	}
	r.Provider = analysis.Provider(provider)
	return &r, nil
}

// scanner covers both sql.Row and sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRequest(row scanner) (*analysis.Request, error) {
	var r analysis.Request
	var provider, status, types string
	var completedAt sql.NullTime
	err := row.Scan(&r.ID, &r.RepositoryURL, &provider, &status, &types,
		&r.RetryCount, &r.Error, &r.CreatedAt, &completedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("request: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan request: %w", err)
	}
	r.Provider = analysis.Provider(provider)
	r.Status = analysis.RequestStatus(status)
	if err := json.Unmarshal([]byte(types), &r.AnalysisTypes); err != nil {
		return nil, fmt.Errorf("failed to decode analysis types: %w", err)
	}
	if completedAt.Valid {
		t := completedAt.Time
		r.CompletedAt = &t
	}
	return &r, nil
}

func scanRequests(rows *sql.Rows) ([]*analysis.Request, error) {
	var requests []*analysis.Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, r)
	}
	return requests, rows.Err()
}

func scanJob(row scanner) (*analysis.Job, error) {
	var j analysis.Job
	var status string
	var durationMS int64
	err := row.Scan(&j.ID, &j.RequestID, &j.AnalysisType, &status, &j.Output,
		&durationMS, &j.Error, &j.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("job: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan job: %w", err)
	}
	j.Status = analysis.JobStatus(status)
	j.Duration = time.Duration(durationMS) * time.Millisecond
	return &j, nil
}

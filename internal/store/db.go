package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"

	"go-report-pipeline/internal/model"
)

var (
	ErrJobNotFound       = errors.New("job not found")
	ErrTokenNotFound     = errors.New("token not found")
	ErrInvalidTransition = errors.New("invalid job status transition")
	ErrScopeConflict     = errors.New("another active job holds this scope")
)

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	job_type TEXT NOT NULL,
	status TEXT NOT NULL,
	active INTEGER NOT NULL DEFAULT 1,
	records_to_process INTEGER NOT NULL,
	records_completed INTEGER NOT NULL DEFAULT 0,
	stats BLOB,
	csv_path TEXT NOT NULL,
	index_path TEXT NOT NULL,
	log_path TEXT NOT NULL,
	error_message TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	expires_at DATETIME NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_jobs_active_scope
	ON jobs(tenant_id, user_id, job_type) WHERE active = 1;
CREATE INDEX IF NOT EXISTS idx_jobs_owner ON jobs(tenant_id, user_id);

CREATE TABLE IF NOT EXISTS job_errors (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	job_id TEXT NOT NULL,
	error_message TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	FOREIGN KEY (job_id) REFERENCES jobs(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS artifact_tokens (
	job_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	tenant_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	value TEXT NOT NULL,
	expires_at DATETIME NOT NULL,
	PRIMARY KEY (job_id, kind),
	FOREIGN KEY (job_id) REFERENCES jobs(id) ON DELETE CASCADE
);
`

const jobColumns = `id, tenant_id, user_id, job_type, status, active, records_to_process,
	records_completed, stats, csv_path, index_path, log_path, error_message,
	created_at, updated_at, expires_at`

// Store is the durable record of report jobs and their tokens.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open connects to (and if needed creates) the SQLite database at dbPath.
// Write transactions take the database lock up front so the scope claim in
// ClaimJob is a single atomic read-then-insert.
func Open(dbPath string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000&_txlock=immediate", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	s := &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SetClock overrides the time source, for tests.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*model.Job, error) {
	var (
		job    model.Job
		status string
		active int
		stats  []byte
	)
	err := row.Scan(&job.ID, &job.Scope.TenantID, &job.Scope.UserID, &job.Scope.JobType,
		&status, &active, &job.RecordsToProcess, &job.RecordsCompleted, &stats,
		&job.Artifacts.CSV, &job.Artifacts.Index, &job.Artifacts.Log, &job.ErrorMessage,
		&job.CreatedAt, &job.UpdatedAt, &job.ExpiresAt)
	if err != nil {
		return nil, err
	}
	job.Status = model.JobStatus(status)
	job.Active = active == 1
	if job.Stats, err = model.DecodeStats(stats); err != nil {
		return nil, err
	}
	return &job, nil
}

func isConstraintErr(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrConstraint
	}
	return false
}

// ClaimJob atomically enforces one active job per scope. If an active job
// exists and reusable reports true for it, that job is returned with
// created=false. Otherwise the old claim is retired (a non-terminal job is
// failed) and job is inserted as the new active claim.
func (s *Store) ClaimJob(ctx context.Context, job *model.Job, reusable func(*model.Job) bool) (*model.Job, bool, error) {
	stats, err := job.Stats.Encode()
	if err != nil {
		return nil, false, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("begin claim: %w", err)
	}
	defer tx.Rollback()

	now := s.now().UTC()
	existing, err := scanJob(tx.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE tenant_id = ? AND user_id = ? AND job_type = ? AND active = 1`,
		job.Scope.TenantID, job.Scope.UserID, job.Scope.JobType))
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, false, fmt.Errorf("find active job: %w", err)
	case reusable(existing):
		if err := tx.Commit(); err != nil {
			return nil, false, fmt.Errorf("commit claim: %w", err)
		}
		return existing, false, nil
	default:
		if err := retire(ctx, tx, existing, "superseded by a new request", now); err != nil {
			return nil, false, err
		}
	}

	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	// stored timestamps compare as text, which only orders correctly in UTC
	job.CreatedAt = job.CreatedAt.UTC()
	job.ExpiresAt = job.ExpiresAt.UTC()
	job.UpdatedAt = now
	job.Status = model.JobStatusQueued
	job.Active = true
	job.RecordsCompleted = 0

	_, err = tx.ExecContext(ctx, `INSERT INTO jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, 1, ?, 0, ?, ?, ?, ?, '', ?, ?, ?)`,
		job.ID, job.Scope.TenantID, job.Scope.UserID, job.Scope.JobType, string(job.Status),
		job.RecordsToProcess, stats, job.Artifacts.CSV, job.Artifacts.Index, job.Artifacts.Log,
		job.CreatedAt, job.UpdatedAt, job.ExpiresAt)
	if err != nil {
		if isConstraintErr(err) {
			return nil, false, ErrScopeConflict
		}
		return nil, false, fmt.Errorf("insert job: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("commit claim: %w", err)
	}
	return job, true, nil
}

func retire(ctx context.Context, tx *sql.Tx, job *model.Job, reason string, now time.Time) error {
	if job.Status.Terminal() {
		_, err := tx.ExecContext(ctx, `UPDATE jobs SET active = 0 WHERE id = ?`, job.ID)
		if err != nil {
			return fmt.Errorf("retire job %s: %w", job.ID, err)
		}
		return nil
	}
	_, err := tx.ExecContext(ctx,
		`UPDATE jobs SET active = 0, status = ?, error_message = ?, updated_at = ? WHERE id = ?`,
		string(model.JobStatusError), reason, now, job.ID)
	if err != nil {
		return fmt.Errorf("retire job %s: %w", job.ID, err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO job_errors (job_id, error_message, created_at) VALUES (?, ?, ?)`,
		job.ID, reason, now)
	return err
}

// GetJob fetches a job by id.
func (s *Store) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	job, err := scanJob(s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, jobID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", jobID, err)
	}
	return job, nil
}

// ListJobs returns jobs, newest first. Empty tenantID or userID match all.
func (s *Store) ListJobs(ctx context.Context, tenantID, userID string) ([]*model.Job, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs
		WHERE (? = '' OR tenant_id = ?) AND (? = '' OR user_id = ?)
		ORDER BY created_at DESC`, tenantID, tenantID, userID, userID)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*model.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// ListExpired returns jobs whose expiry has passed, oldest expiry first.
// Jobs without an expiry are never returned.
func (s *Store) ListExpired(ctx context.Context, now time.Time) ([]*model.Job, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs
		WHERE expires_at > ? AND expires_at <= ?
		ORDER BY expires_at`, time.Time{}, now.UTC())
	if err != nil {
		return nil, fmt.Errorf("list expired jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*model.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// DeleteJob removes a job along with its errors and tokens.
func (s *Store) DeleteJob(ctx context.Context, jobID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, jobID)
	if err != nil {
		return fmt.Errorf("delete job %s: %w", jobID, err)
	}
	return expectOne(res, ErrJobNotFound)
}

func expectOne(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}

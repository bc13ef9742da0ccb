package store

import (
	"context"
	"fmt"

	"go-report-pipeline/internal/model"
)

// Status updates are conditional on the current status so that the running
// worker stays the only writer and terminal jobs never change.

// MarkRunning moves a queued job to running.
func (s *Store) MarkRunning(ctx context.Context, jobID string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE jobs SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(model.JobStatusRunning), s.now(), jobID, string(model.JobStatusQueued))
	if err != nil {
		return fmt.Errorf("mark job %s running: %w", jobID, err)
	}
	return expectOne(res, ErrInvalidTransition)
}

// Checkpoint persists progress of a running job. Progress never moves
// backwards and never exceeds the job's record count.
func (s *Store) Checkpoint(ctx context.Context, jobID string, completed int) error {
	res, err := s.db.ExecContext(ctx, `UPDATE jobs SET records_completed = ?, updated_at = ?
		WHERE id = ? AND status = ? AND records_completed <= ? AND records_to_process >= ?`,
		completed, s.now(), jobID, string(model.JobStatusRunning), completed, completed)
	if err != nil {
		return fmt.Errorf("checkpoint job %s: %w", jobID, err)
	}
	return expectOne(res, ErrInvalidTransition)
}

// Complete stores the final stats and marks the job completed with all
// records accounted for.
func (s *Store) Complete(ctx context.Context, jobID string, stats model.Stats) error {
	blob, err := stats.Encode()
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE jobs SET status = ?, records_completed = records_to_process,
		stats = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(model.JobStatusCompleted), blob, s.now(), jobID, string(model.JobStatusRunning))
	if err != nil {
		return fmt.Errorf("complete job %s: %w", jobID, err)
	}
	return expectOne(res, ErrInvalidTransition)
}

// Fail moves a queued or running job to error, releases its scope claim and
// records the reason.
func (s *Store) Fail(ctx context.Context, jobID, reason string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin fail: %w", err)
	}
	defer tx.Rollback()

	now := s.now()
	res, err := tx.ExecContext(ctx, `UPDATE jobs SET status = ?, active = 0, error_message = ?, updated_at = ?
		WHERE id = ? AND status IN (?, ?)`,
		string(model.JobStatusError), reason, now, jobID,
		string(model.JobStatusQueued), string(model.JobStatusRunning))
	if err != nil {
		return fmt.Errorf("fail job %s: %w", jobID, err)
	}
	if err := expectOne(res, ErrInvalidTransition); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO job_errors (job_id, error_message, created_at) VALUES (?, ?, ?)`,
		jobID, reason, now); err != nil {
		return fmt.Errorf("record job error: %w", err)
	}
	return tx.Commit()
}

// Release drops the scope claim of a terminal job whose artifacts are gone,
// so the next request for the scope creates a fresh job.
func (s *Store) Release(ctx context.Context, jobID string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE jobs SET active = 0 WHERE id = ? AND status IN (?, ?)`,
		jobID, string(model.JobStatusCompleted), string(model.JobStatusError))
	if err != nil {
		return fmt.Errorf("release job %s: %w", jobID, err)
	}
	return expectOne(res, ErrInvalidTransition)
}

// SaveJobError records a diagnostic for a job without changing its status.
func (s *Store) SaveJobError(ctx context.Context, jobID string, err error) error {
	if err == nil {
		return nil
	}
	_, e := s.db.ExecContext(ctx, `INSERT INTO job_errors (job_id, error_message, created_at) VALUES (?, ?, ?)`,
		jobID, err.Error(), s.now())
	return e
}

// GetJobErrors returns the diagnostics recorded for a job, oldest first.
func (s *Store) GetJobErrors(ctx context.Context, jobID string) ([]model.JobError, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT job_id, error_message, created_at FROM job_errors
		WHERE job_id = ? ORDER BY id`, jobID)
	if err != nil {
		return nil, fmt.Errorf("get job errors: %w", err)
	}
	defer rows.Close()

	var out []model.JobError
	for rows.Next() {
		var e model.JobError
		if err := rows.Scan(&e.JobID, &e.Message, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go-report-pipeline/internal/model"
)

// SaveToken inserts or replaces the token for (job, kind).
func (s *Store) SaveToken(ctx context.Context, tok model.ArtifactToken) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO artifact_tokens (job_id, kind, tenant_id, user_id, value, expires_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (job_id, kind) DO UPDATE SET
			tenant_id = excluded.tenant_id,
			user_id = excluded.user_id,
			value = excluded.value,
			expires_at = excluded.expires_at`,
		tok.JobID, string(tok.Kind), tok.TenantID, tok.UserID, tok.Value, tok.ExpiresAt.UTC())
	if err != nil {
		return fmt.Errorf("save %s token for job %s: %w", tok.Kind, tok.JobID, err)
	}
	return nil
}

// GetToken returns the token issued for (job, kind).
func (s *Store) GetToken(ctx context.Context, jobID string, kind model.ArtifactKind) (*model.ArtifactToken, error) {
	tok := model.ArtifactToken{JobID: jobID, Kind: kind}
	err := s.db.QueryRowContext(ctx, `SELECT tenant_id, user_id, value, expires_at FROM artifact_tokens
		WHERE job_id = ? AND kind = ?`, jobID, string(kind)).
		Scan(&tok.TenantID, &tok.UserID, &tok.Value, &tok.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s token for job %s: %w", kind, jobID, err)
	}
	return &tok, nil
}

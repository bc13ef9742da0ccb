// Package token issues and checks the capability values that let a caller
// monitor or download one job's artifacts.
package token

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"

	"go-report-pipeline/internal/model"
	"go-report-pipeline/internal/store"
)

// Store persists tokens keyed by (job, kind).
type Store interface {
	SaveToken(ctx context.Context, tok model.ArtifactToken) error
	GetToken(ctx context.Context, jobID string, kind model.ArtifactKind) (*model.ArtifactToken, error)
}

// TokenError denies access. Reason is safe to show to the caller.
type TokenError struct {
	Kind   model.ArtifactKind
	JobID  string
	Reason string
}

func (e *TokenError) Error() string {
	return fmt.Sprintf("%s token rejected for job %s: %s", e.Kind, e.JobID, e.Reason)
}

// Gate issues and validates artifact tokens.
type Gate struct {
	store Store
	cache *cache.Cache
	now   func() time.Time
}

// NewGate returns a gate backed by store. Validated tokens are cached for
// cacheTTL so polling does not hit the database on every request.
func NewGate(store Store, cacheTTL time.Duration) *Gate {
	return &Gate{
		store: store,
		cache: cache.New(cacheTTL, 2*cacheTTL),
		now:   time.Now,
	}
}

func cacheKey(jobID string, kind model.ArtifactKind) string {
	return jobID + "|" + string(kind)
}

// Issue returns the token for (jobID, kind). An unexpired token is refreshed
// to the new expiry and keeps its value, so callers holding it stay valid.
func (g *Gate) Issue(ctx context.Context, jobID string, kind model.ArtifactKind, tenantID, userID string, expiresAt time.Time) (string, error) {
	if !kind.Valid() {
		return "", fmt.Errorf("unknown artifact kind %q", kind)
	}

	tok, err := g.store.GetToken(ctx, jobID, kind)
	switch {
	case errors.Is(err, store.ErrTokenNotFound):
		tok = nil
	case err != nil:
		return "", err
	}

	if tok == nil || !g.now().Before(tok.ExpiresAt) || tok.TenantID != tenantID || tok.UserID != userID {
		value, err := newValue()
		if err != nil {
			return "", err
		}
		tok = &model.ArtifactToken{JobID: jobID, Kind: kind, TenantID: tenantID, UserID: userID, Value: value}
	}
	tok.ExpiresAt = expiresAt.UTC()

	if err := g.store.SaveToken(ctx, *tok); err != nil {
		return "", err
	}
	g.cache.Set(cacheKey(jobID, kind), *tok, cache.DefaultExpiration)
	return tok.Value, nil
}

// Validate checks that value was issued for exactly (jobID, kind) and has
// not expired.
func (g *Gate) Validate(ctx context.Context, value, jobID string, kind model.ArtifactKind) error {
	if value == "" {
		return &TokenError{Kind: kind, JobID: jobID, Reason: "missing token"}
	}

	var tok model.ArtifactToken
	if cached, found := g.cache.Get(cacheKey(jobID, kind)); found {
		tok = cached.(model.ArtifactToken)
	} else {
		stored, err := g.store.GetToken(ctx, jobID, kind)
		if errors.Is(err, store.ErrTokenNotFound) {
			return &TokenError{Kind: kind, JobID: jobID, Reason: "no token issued"}
		}
		if err != nil {
			return err
		}
		tok = *stored
		g.cache.Set(cacheKey(jobID, kind), tok, cache.DefaultExpiration)
	}

	if subtle.ConstantTimeCompare([]byte(tok.Value), []byte(value)) != 1 {
		return &TokenError{Kind: kind, JobID: jobID, Reason: "token does not match"}
	}
	if !g.now().Before(tok.ExpiresAt) {
		g.cache.Delete(cacheKey(jobID, kind))
		return &TokenError{Kind: kind, JobID: jobID, Reason: "token expired"}
	}
	return nil
}

// Forget drops cached entries for a job, e.g. after it is deleted.
func (g *Gate) Forget(jobID string) {
	g.cache.Delete(cacheKey(jobID, model.ArtifactMonitor))
	g.cache.Delete(cacheKey(jobID, model.ArtifactDownload))
}

func newValue() (string, error) {
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(b[:]), nil
}

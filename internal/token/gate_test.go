package token

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-report-pipeline/internal/model"
	"go-report-pipeline/internal/store"
)

type memStore struct {
	mu     sync.Mutex
	tokens map[string]model.ArtifactToken
	reads  int
}

func newMemStore() *memStore {
	return &memStore{tokens: make(map[string]model.ArtifactToken)}
}

func (m *memStore) SaveToken(_ context.Context, tok model.ArtifactToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[cacheKey(tok.JobID, tok.Kind)] = tok
	return nil
}

func (m *memStore) GetToken(_ context.Context, jobID string, kind model.ArtifactKind) (*model.ArtifactToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++
	tok, ok := m.tokens[cacheKey(jobID, kind)]
	if !ok {
		return nil, store.ErrTokenNotFound
	}
	return &tok, nil
}

func TestTokensAreScopedToJobAndKind(t *testing.T) {
	ctx := context.Background()
	g := NewGate(newMemStore(), time.Minute)
	exp := time.Now().Add(time.Hour)

	download, err := g.Issue(ctx, "A", model.ArtifactDownload, "t1", "u1", exp)
	require.NoError(t, err)
	monitor, err := g.Issue(ctx, "A", model.ArtifactMonitor, "t1", "u1", exp)
	require.NoError(t, err)
	other, err := g.Issue(ctx, "B", model.ArtifactDownload, "t1", "u1", exp)
	require.NoError(t, err)
	assert.NotEqual(t, download, monitor)
	assert.Len(t, download, 64)

	require.NoError(t, g.Validate(ctx, download, "A", model.ArtifactDownload))
	require.NoError(t, g.Validate(ctx, monitor, "A", model.ArtifactMonitor))

	tests := []struct {
		name  string
		value string
		job   string
		kind  model.ArtifactKind
	}{
		{"download token as monitor", download, "A", model.ArtifactMonitor},
		{"monitor token as download", monitor, "A", model.ArtifactDownload},
		{"download token on other job", download, "B", model.ArtifactDownload},
		{"other job token on A", other, "A", model.ArtifactDownload},
		{"unknown job", download, "C", model.ArtifactDownload},
		{"missing token", "", "A", model.ArtifactDownload},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := g.Validate(ctx, tt.value, tt.job, tt.kind)
			var tokErr *TokenError
			require.True(t, errors.As(err, &tokErr), "got %v", err)
		})
	}
}

func TestReissueKeepsValueUntilExpiry(t *testing.T) {
	ctx := context.Background()
	g := NewGate(newMemStore(), time.Minute)
	now := time.Now()
	g.now = func() time.Time { return now }

	first, err := g.Issue(ctx, "A", model.ArtifactMonitor, "t1", "u1", now.Add(time.Minute))
	require.NoError(t, err)
	second, err := g.Issue(ctx, "A", model.ArtifactMonitor, "t1", "u1", now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, first, second)

	now = now.Add(2 * time.Hour)
	err = g.Validate(ctx, first, "A", model.ArtifactMonitor)
	var tokErr *TokenError
	require.ErrorAs(t, err, &tokErr)
	assert.Equal(t, "token expired", tokErr.Reason)

	third, err := g.Issue(ctx, "A", model.ArtifactMonitor, "t1", "u1", now.Add(time.Hour))
	require.NoError(t, err)
	assert.NotEqual(t, first, third)
	require.NoError(t, g.Validate(ctx, third, "A", model.ArtifactMonitor))
}

func TestValidateUsesCache(t *testing.T) {
	ctx := context.Background()
	ms := newMemStore()
	g := NewGate(ms, time.Minute)

	value, err := g.Issue(ctx, "A", model.ArtifactMonitor, "t1", "u1", time.Now().Add(time.Hour))
	require.NoError(t, err)
	reads := ms.reads

	for i := 0; i < 5; i++ {
		require.NoError(t, g.Validate(ctx, value, "A", model.ArtifactMonitor))
	}
	assert.Equal(t, reads, ms.reads)

	g.Forget("A")
	require.NoError(t, g.Validate(ctx, value, "A", model.ArtifactMonitor))
	assert.Equal(t, reads+1, ms.reads)
}

package cli

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-report-pipeline/internal/config"
	"go-report-pipeline/internal/dispatch"
	"go-report-pipeline/internal/model"
)

const testCatalog = `
reports:
  mentions:
    source: csv
    path: mentions.csv
    columns:
      - key: name
      - key: hits
        summable: true
`

func testConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	srcDir := filepath.Join(dir, "sources")
	require.NoError(t, os.MkdirAll(srcDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "mentions.csv"),
		[]byte("name,hits\nalpha,3\nbeta,4\n"), 0644))
	catalog := filepath.Join(dir, "reports.yaml")
	require.NoError(t, os.WriteFile(catalog, []byte(testCatalog), 0644))

	return config.Config{
		CatalogPath:       catalog,
		DBPath:            filepath.Join(dir, "reports.db"),
		SourceDir:         srcDir,
		OutputDir:         filepath.Join(dir, "outputs"),
		SpawnMode:         config.SpawnGoroutine,
		HeartbeatInterval: time.Minute,
		StaleAfter:        10 * time.Minute,
		JobTTL:            time.Hour,
		TokenCacheTTL:     time.Minute,
		MaxPageSize:       100,
	}
}

func TestRuntimeRunsJobsInProcess(t *testing.T) {
	rt, err := newRuntime(testConfig(t), slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))
	require.NoError(t, err)
	defer func() { assert.NoError(t, rt.close()) }()
	require.IsType(t, &dispatch.GoroutineSpawner{}, rt.spawner)

	ctx := context.Background()
	res, err := rt.dispatcher.StartJob(ctx, model.StartRequest{
		Scope: model.Scope{TenantID: "t1", UserID: "u1", JobType: "mentions"},
	})
	require.NoError(t, err)
	rt.wait()

	view, err := rt.dispatcher.PollStatus(ctx, res.JobID, res.Tokens.Monitor)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, view.Status)

	jobs, err := rt.dispatcher.ListJobs(ctx, "t1", "u1")
	require.NoError(t, err)
	var out bytes.Buffer
	printJobs(&out, jobs)
	assert.Contains(t, out.String(), res.JobID)
	assert.Contains(t, out.String(), "2/2")
	assert.Contains(t, out.String(), "completed")
}

func TestRuntimeProcessSpawnMode(t *testing.T) {
	cfg := testConfig(t)
	cfg.SpawnMode = config.SpawnProcess
	rt, err := newRuntime(cfg, nil)
	require.NoError(t, err)
	defer rt.close()

	assert.IsType(t, &dispatch.ProcessSpawner{}, rt.spawner)
}

func TestRuntimeCatalog(t *testing.T) {
	ctx := context.Background()

	cfg := testConfig(t)
	cfg.CatalogPath = filepath.Join(t.TempDir(), "missing.yaml")
	rt, err := newRuntime(cfg, nil)
	require.NoError(t, err)
	defer rt.close()

	_, err = rt.dispatcher.StartJob(ctx, model.StartRequest{
		Scope: model.Scope{TenantID: "t1", UserID: "u1", JobType: "mentions"},
	})
	var verr *dispatch.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "scope.jobType", verr.Field)

	cfg = testConfig(t)
	require.NoError(t, os.WriteFile(cfg.CatalogPath, []byte("reports:\n  bad:\n    source: ftp\n"), 0644))
	_, err = newRuntime(cfg, nil)
	assert.ErrorContains(t, err, "unknown source type")
}

func TestPrintJobsEmpty(t *testing.T) {
	var out bytes.Buffer
	printJobs(&out, nil)
	assert.Equal(t, "No jobs found\n", out.String())
}

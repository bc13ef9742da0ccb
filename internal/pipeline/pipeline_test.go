package pipeline

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-report-pipeline/internal/index"
	"go-report-pipeline/internal/model"
	"go-report-pipeline/internal/store"
)

type staticResolver struct {
	src RecordSource
}

func (r staticResolver) Resolve(model.QueryDefinition) (RecordSource, error) { return r.src, nil }

// recordingStore remembers every checkpoint that reached the store.
type recordingStore struct {
	*store.Store
	checkpoints []int
}

func (s *recordingStore) Checkpoint(ctx context.Context, jobID string, completed int) error {
	if err := s.Store.Checkpoint(ctx, jobID, completed); err != nil {
		return err
	}
	s.checkpoints = append(s.checkpoints, completed)
	return nil
}

func setupJob(t *testing.T, total int) (*recordingStore, *model.Job) {
	t.Helper()
	dir := t.TempDir()
	s, err := store.Open(filepath.Join(dir, "reports.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	id := uuid.New().String()
	job := &model.Job{
		ID:               id,
		Scope:            model.Scope{TenantID: "t1", UserID: "u1", JobType: "media-monitor"},
		RecordsToProcess: total,
		Stats:            model.Stats{Query: model.QueryDefinition{Source: "sql"}, Columns: testColumns},
		Artifacts: model.ArtifactPaths{
			CSV:   filepath.Join(dir, id, "report.csv"),
			Index: filepath.Join(dir, id, "report.idx"),
			Log:   filepath.Join(dir, id, "job.log"),
		},
		ExpiresAt: time.Now().UTC().Add(time.Hour),
	}
	_, created, err := s.ClaimJob(context.Background(), job, func(*model.Job) bool { return false })
	require.NoError(t, err)
	require.True(t, created)
	return &recordingStore{Store: s}, job
}

func threeRecords() *SliceSource {
	return &SliceSource{Records: []model.GenericRecord{
		{"name": "r1", "a": 1, "b": 2},
		{"name": "r2", "a": 3, "b": 4},
		{"name": "r3", "a": 5, "b": 6},
	}}
}

func TestWorkerWritesReportAndIndex(t *testing.T) {
	s, job := setupJob(t, 3)
	w := NewWorker(s, staticResolver{threeRecords()}, Options{})

	// every clock read is three seconds after the previous one
	tick := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	w.now = func() time.Time {
		tick = tick.Add(3 * time.Second)
		return tick
	}

	require.NoError(t, w.Run(context.Background(), job.ID))

	data, err := os.ReadFile(job.Artifacts.CSV)
	require.NoError(t, err)
	assert.Equal(t, "name,a,b\nr1,1,2\nr2,3,4\nr3,5,6\nTotals,9,12\n", string(data))

	r, err := index.Open(job.Artifacts.Index)
	require.NoError(t, err)
	defer r.Close()
	require.Equal(t, job.RecordsToProcess+2, r.Len())

	lines := bytes.SplitAfter(data, []byte("\n"))
	var offset uint32
	for i := 0; i < r.Len(); i++ {
		offset += uint32(len(lines[i]))
		got, err := r.Entry(i)
		require.NoError(t, err)
		assert.Equal(t, offset, got, "entry %d", i)
	}

	start, end, n, err := r.PageRange(0, 2, job.RecordsToProcess)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	rows, err := index.ReadRows(bytes.NewReader(data), start, end)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"r1", "1", "2"}, {"r2", "3", "4"}}, rows)

	got, err := s.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, got.Status)
	assert.Equal(t, 3, got.RecordsCompleted)
	assert.Equal(t, map[string]float64{"a": 9, "b": 12}, got.Stats.Sums)
	assert.Equal(t, []int{1, 2}, s.checkpoints)

	logData, err := os.ReadFile(job.Artifacts.Log)
	require.NoError(t, err)
	assert.Contains(t, string(logData), `"msg":"report job completed"`)
}

func TestWorkerSkipsCheckpointsWithinMinElapsed(t *testing.T) {
	s, job := setupJob(t, 3)
	w := NewWorker(s, staticResolver{threeRecords()}, Options{})
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	w.now = func() time.Time { return fixed }

	require.NoError(t, w.Run(context.Background(), job.ID))
	assert.Empty(t, s.checkpoints)

	got, err := s.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.RecordsCompleted)
}

func TestWorkerFailsOnCountMismatch(t *testing.T) {
	tests := []struct {
		name    string
		total   int
		wantErr string
	}{
		{"short source", 4, "ended after 3 of 4"},
		{"long source", 2, "more than the 2 counted"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, job := setupJob(t, tt.total)
			w := NewWorker(s, staticResolver{threeRecords()}, Options{})

			err := w.Run(context.Background(), job.ID)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)

			got, err := s.GetJob(context.Background(), job.ID)
			require.NoError(t, err)
			assert.Equal(t, model.JobStatusError, got.Status)
			assert.False(t, got.Active)
			assert.LessOrEqual(t, got.RecordsCompleted, tt.total)

			errs, err := s.GetJobErrors(context.Background(), job.ID)
			require.NoError(t, err)
			require.Len(t, errs, 1)

			logData, err := os.ReadFile(job.Artifacts.Log)
			require.NoError(t, err)
			assert.Contains(t, string(logData), `"msg":"report job failed"`)
		})
	}
}

func TestWorkerRefusesJobThatIsNotQueued(t *testing.T) {
	s, job := setupJob(t, 3)
	w := NewWorker(s, staticResolver{threeRecords()}, Options{})
	require.NoError(t, w.Run(context.Background(), job.ID))

	err := w.Run(context.Background(), job.ID)
	assert.ErrorIs(t, err, store.ErrInvalidTransition)

	got, err := s.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, got.Status)
}

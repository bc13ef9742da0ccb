package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-report-pipeline/internal/api/handler"
	"go-report-pipeline/internal/dispatch"
	"go-report-pipeline/internal/model"
	"go-report-pipeline/internal/pipeline"
	"go-report-pipeline/internal/store"
	"go-report-pipeline/internal/token"
	"go-report-pipeline/pkg/router"
	"go-report-pipeline/pkg/utils"
)

type sliceResolver struct {
	records []model.GenericRecord
}

func (r sliceResolver) Resolve(model.QueryDefinition) (pipeline.RecordSource, error) {
	return &pipeline.SliceSource{Records: r.records}, nil
}

type inlineSpawner struct {
	worker *pipeline.Worker
}

func (s inlineSpawner) Spawn(_ context.Context, jobID string) error {
	return s.worker.Run(context.Background(), jobID)
}

type failingSpawner struct{}

func (failingSpawner) Spawn(context.Context, string) error { return assert.AnError }

var testCatalog = pipeline.Catalog{
	"media-monitor": {Source: "sql", Query: "SELECT name, a, b FROM mentions WHERE tenant_id = :tenant"},
}

func newTestServer(t *testing.T, spawner func(*pipeline.Worker) dispatch.Spawner) http.Handler {
	srv, _ := newTestServerWithOutputs(t, spawner)
	return srv
}

func newTestServerWithOutputs(t *testing.T, spawner func(*pipeline.Worker) dispatch.Spawner) (http.Handler, *utils.OutputManager) {
	t.Helper()
	dir := t.TempDir()
	s, err := store.Open(filepath.Join(dir, "reports.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	resolver := sliceResolver{records: []model.GenericRecord{
		{"name": "r1", "a": 1, "b": 2},
		{"name": "r2", "a": 3, "b": 4},
		{"name": "r3", "a": 5, "b": 6},
	}}
	worker := pipeline.NewWorker(s, resolver, pipeline.Options{})
	outputs := utils.NewOutputManager(filepath.Join(dir, "outputs"))
	d := dispatch.New(s, token.NewGate(s, time.Minute), testCatalog, resolver, spawner(worker),
		outputs, dispatch.DefaultOptions(), nil)

	r := router.New(nil)
	RegisterRoutes(r, handler.NewReportHandler(d, nil))
	return r, outputs
}

func inline(w *pipeline.Worker) dispatch.Spawner { return inlineSpawner{worker: w} }

const startBody = `{
	"scope": {"tenantID": "t1", "userID": "u1", "jobType": "media-monitor"},
	"columns": [{"key": "name"}, {"key": "a", "summable": true}, {"key": "b", "summable": true}]
}`

func do(t *testing.T, h http.Handler, method, target, body string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestReportLifecycleOverHTTP(t *testing.T) {
	srv := newTestServer(t, inline)

	rec := do(t, srv, http.MethodPost, "/api/v1/reports", startBody)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var started handler.StartResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &started))
	assert.False(t, started.Reused)
	assert.Equal(t, "/api/v1/reports/"+started.JobID+"/status", started.StatusURL)

	rec = do(t, srv, http.MethodPost, "/api/v1/reports", startBody)
	require.Equal(t, http.StatusOK, rec.Code)
	var again handler.StartResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &again))
	assert.True(t, again.Reused)
	assert.Equal(t, started.JobID, again.JobID)

	base := "/api/v1/reports/" + started.JobID
	monitor := started.Tokens.Monitor

	rec = do(t, srv, http.MethodGet, base+"/status?token="+monitor, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var view model.JobView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, model.JobStatusCompleted, view.Status)
	assert.Equal(t, 3, view.RecordsCompleted)

	rec = do(t, srv, http.MethodGet, base+"/pages/1?size=2", "", handler.TokenHeader, monitor)
	require.Equal(t, http.StatusOK, rec.Code)
	var page model.Page
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Equal(t, [][]string{{"r3", "5", "6"}}, page.Rows)
	assert.Equal(t, []string{"Totals", "9", "12"}, page.Totals)

	rec = do(t, srv, http.MethodGet, base+"/pages/5?size=2&token="+monitor, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, srv, http.MethodGet, base+"/pages/x?token="+monitor, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, srv, http.MethodGet, base+"/download?token="+started.Tokens.Download, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "name,a,b\nr1,1,2\nr2,3,4\nr3,5,6\nTotals,9,12\n", rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "media-monitor-"+started.JobID+".csv")

	rec = do(t, srv, http.MethodGet, base+"/download?token="+monitor, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, srv, http.MethodGet, base+"/errors?token="+monitor, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"jobID":"`+started.JobID+`","errors":[],"count":0}`, rec.Body.String())

	rec = do(t, srv, http.MethodGet, "/api/v1/reports?tenant=t1&user=u1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var jobs []handler.JobSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &jobs))
	require.Len(t, jobs, 1)
	assert.Equal(t, started.JobID, jobs[0].JobID)
}

func TestErrorStatusCodes(t *testing.T) {
	srv := newTestServer(t, inline)

	tests := []struct {
		name   string
		method string
		target string
		body   string
		status int
	}{
		{"bad json", http.MethodPost, "/api/v1/reports", "{", http.StatusBadRequest},
		{"validation", http.MethodPost, "/api/v1/reports", `{"scope":{"tenantID":"t1"}}`, http.StatusBadRequest},
		{"missing token", http.MethodGet, "/api/v1/reports/nope/status", "", http.StatusForbidden},
		{"unknown route", http.MethodGet, "/api/v1/reports/nope/other", "", http.StatusNotFound},
		{"wrong method", http.MethodDelete, "/api/v1/reports", "", http.StatusMethodNotAllowed},
		{"health", http.MethodGet, "/health", "", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, srv, tt.method, tt.target, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}
}

func TestClientCannotSupplyQuery(t *testing.T) {
	srv := newTestServer(t, inline)

	body := `{
		"scope": {"tenantID": "t1", "userID": "u1", "jobType": "media-monitor"},
		"query": {"source": "sql", "query": "SELECT * FROM secrets"},
		"columns": [{"key": "name"}, {"key": "a", "summable": true}]
	}`
	rec := do(t, srv, http.MethodPost, "/api/v1/reports", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "query")

	unknown := `{"scope": {"tenantID": "t1", "userID": "u1", "jobType": "SELECT * FROM secrets"}}`
	rec = do(t, srv, http.MethodPost, "/api/v1/reports", unknown)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, srv, http.MethodGet, "/api/v1/reports?tenant=t1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var jobs []handler.JobSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &jobs))
	assert.Empty(t, jobs)
}

func TestIncompleteIndexIsGone(t *testing.T) {
	srv, outputs := newTestServerWithOutputs(t, inline)

	rec := do(t, srv, http.MethodPost, "/api/v1/reports", startBody)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var started handler.StartResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &started))

	require.NoError(t, os.Truncate(outputs.GetOutputFilePath(started.JobID, utils.IndexFileName), 8))
	rec = do(t, srv, http.MethodGet, "/api/v1/reports/"+started.JobID+"/pages/0?token="+started.Tokens.Monitor, "")
	assert.Equal(t, http.StatusGone, rec.Code, rec.Body.String())

	rec = do(t, srv, http.MethodPost, "/api/v1/reports", startBody)
	require.Equal(t, http.StatusCreated, rec.Code)
	var fresh handler.StartResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &fresh))
	assert.NotEqual(t, started.JobID, fresh.JobID)
}

func TestLaunchFailureIsBadGateway(t *testing.T) {
	srv := newTestServer(t, func(*pipeline.Worker) dispatch.Spawner { return failingSpawner{} })

	rec := do(t, srv, http.MethodPost, "/api/v1/reports", startBody)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	var body handler.ErrorResponse
	require.NoError(t, json.NewDecoder(bytes.NewReader(rec.Body.Bytes())).Decode(&body))
	assert.NotEmpty(t, body.Error)
}

func TestSwaggerIsMounted(t *testing.T) {
	srv := newTestServer(t, inline)

	rec := do(t, srv, http.MethodGet, "/swagger/doc.json", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"/reports/{id}/pages/{page}"`)
}

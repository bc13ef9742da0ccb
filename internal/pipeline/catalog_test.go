package pipeline

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-report-pipeline/internal/model"
)

const testCatalogYAML = `
reports:
  media-monitor:
    source: sql
    query: |
      SELECT outlet, reach FROM mentions
      WHERE tenant_id = :tenant ORDER BY outlet
    columns:
      - key: outlet
        label: Outlet
      - key: reach
        summable: true
  my-mentions:
    source: sql
    query: SELECT outlet, reach FROM mentions WHERE tenant_id = :tenant AND user_id = :user ORDER BY outlet
  exports:
    source: csv
    path: "{tenant}/{user}/export.csv"
`

func writeCatalog(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "reports.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoadCatalog(t *testing.T) {
	catalog, err := LoadCatalog(writeCatalog(t, testCatalogYAML))
	require.NoError(t, err)
	require.Len(t, catalog, 3)

	r := catalog["media-monitor"]
	assert.Equal(t, "sql", r.Source)
	assert.Equal(t, []model.Column{{Key: "outlet", Label: "Outlet"}, {Key: "reach", Summable: true}}, r.Columns)

	_, err = LoadCatalog(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestCatalogValidate(t *testing.T) {
	tests := []struct {
		name    string
		report  Report
		wantErr string
	}{
		{"sql without query", Report{Source: "sql"}, "requires a query"},
		{"csv without path", Report{Source: "csv"}, "requires a path"},
		{"unknown source", Report{Source: "ftp"}, "unknown source type"},
		{"foreign parameter", Report{Source: "sql", Query: "SELECT * FROM t WHERE org = :org"}, `unknown query parameter "org"`},
		{"summable first column", Report{Source: "sql", Query: "SELECT 1",
			Columns: []model.Column{{Key: "n", Summable: true}}}, "cannot be summable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Catalog{"r": tt.report}.Validate()
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}

	_, err := LoadCatalog(writeCatalog(t, "reports:\n  bad:\n    source: sql\n"))
	assert.ErrorContains(t, err, "report bad")
}

func TestCatalogBind(t *testing.T) {
	catalog, err := LoadCatalog(writeCatalog(t, testCatalogYAML))
	require.NoError(t, err)

	def, cols, err := catalog.Bind(model.Scope{TenantID: "t1", UserID: "u1", JobType: "media-monitor"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{ParamTenant: "t1", ParamUser: "u1"}, def.Params)
	assert.Len(t, cols, 2)

	// defaults are copied, not shared
	cols[0].Label = "changed"
	assert.Equal(t, "Outlet", catalog["media-monitor"].Columns[0].Label)

	def, _, err = catalog.Bind(model.Scope{TenantID: "t1", UserID: "u1", JobType: "exports"})
	require.NoError(t, err)
	assert.Equal(t, "t1/u1/export.csv", def.Path)

	_, _, err = catalog.Bind(model.Scope{TenantID: "..", UserID: "u1", JobType: "exports"})
	assert.Error(t, err)
	_, _, err = catalog.Bind(model.Scope{TenantID: "t1/../t2", UserID: "u1", JobType: "exports"})
	assert.Error(t, err)

	_, _, err = catalog.Bind(model.Scope{TenantID: "t1", UserID: "u1", JobType: "raw-sql"})
	assert.ErrorIs(t, err, ErrUnknownReport)
}

func TestCatalogQueriesOnlySeeTheirTenant(t *testing.T) {
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "source.db"))
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`CREATE TABLE mentions (tenant_id TEXT, user_id TEXT, outlet TEXT, reach INTEGER)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO mentions VALUES
		('t1', 'u1', 'a', 10), ('t1', 'u2', 'b', 20), ('t2', 'u1', 'secret', 99)`)
	require.NoError(t, err)

	catalog, err := LoadCatalog(writeCatalog(t, testCatalogYAML))
	require.NoError(t, err)
	sources := &Sources{DB: db}

	tests := []struct {
		scope   model.Scope
		outlets []string
	}{
		{model.Scope{TenantID: "t1", UserID: "u1", JobType: "media-monitor"}, []string{"a", "b"}},
		{model.Scope{TenantID: "t2", UserID: "u1", JobType: "media-monitor"}, []string{"secret"}},
		{model.Scope{TenantID: "t1", UserID: "u2", JobType: "my-mentions"}, []string{"b"}},
		{model.Scope{TenantID: "t1' OR '1'='1", UserID: "u1", JobType: "media-monitor"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.scope.String(), func(t *testing.T) {
			def, _, err := catalog.Bind(tt.scope)
			require.NoError(t, err)
			src, err := sources.Resolve(def)
			require.NoError(t, err)

			n, err := src.Count(context.Background())
			require.NoError(t, err)
			assert.Equal(t, len(tt.outlets), n)

			var outlets []string
			for _, rec := range drain(t, src) {
				outlets = append(outlets, rec["outlet"].(string))
			}
			assert.Equal(t, tt.outlets, outlets)
		})
	}
}

func TestSQLSourceRequiresBoundParameters(t *testing.T) {
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "source.db"))
	require.NoError(t, err)
	defer db.Close()

	src := &SQLSource{DB: db, Query: "SELECT :tenant AS t", Params: map[string]string{ParamUser: "u1"}}
	_, err = src.Count(context.Background())
	assert.ErrorContains(t, err, `"tenant" is not bound`)
}

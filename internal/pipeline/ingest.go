package pipeline

import (
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go-report-pipeline/internal/model"
)

// ------------------- Record sources -------------------

// RecordSource is an ordered producer of report rows. Count and Open must
// see the same rows in the same order.
type RecordSource interface {
	Count(ctx context.Context) (int, error)
	Open(ctx context.Context) (RecordIterator, error)
}

// RecordIterator yields records one at a time and returns io.EOF after the last.
type RecordIterator interface {
	Next(ctx context.Context) (model.GenericRecord, error)
	Close() error
}

// SourceResolver builds the record source described by a query definition.
type SourceResolver interface {
	Resolve(def model.QueryDefinition) (RecordSource, error)
}

// Sources resolves "sql" queries against DB and "csv" paths under BaseDir.
type Sources struct {
	DB      *sql.DB
	BaseDir string
}

// Resolve implements SourceResolver.
func (s *Sources) Resolve(def model.QueryDefinition) (RecordSource, error) {
	var src RecordSource
	switch strings.ToLower(def.Source) {
	case "sql":
		if s.DB == nil {
			return nil, errors.New("no source database configured")
		}
		if strings.TrimSpace(def.Query) == "" {
			return nil, errors.New("sql source requires a query")
		}
		src = &SQLSource{DB: s.DB, Query: def.Query, Params: def.Params}
	case "csv":
		path, err := s.csvPath(def.Path)
		if err != nil {
			return nil, err
		}
		src = &CSVSource{Path: path}
	default:
		return nil, fmt.Errorf("unknown source type: %s", def.Source)
	}
	return Filter(src, def.Filters, def.Period), nil
}

func (s *Sources) csvPath(rel string) (string, error) {
	if rel == "" {
		return "", errors.New("csv source requires a path")
	}
	if s.BaseDir == "" {
		return "", errors.New("no csv source directory configured")
	}
	base, err := filepath.Abs(s.BaseDir)
	if err != nil {
		return "", err
	}
	path := filepath.Join(base, filepath.Clean("/"+rel))
	if !strings.HasPrefix(path, base+string(filepath.Separator)) {
		return "", fmt.Errorf("csv path %q escapes the source directory", rel)
	}
	return path, nil
}

// ------------------- In-memory -------------------

// SliceSource serves records from memory.
type SliceSource struct {
	Records []model.GenericRecord
}

func (s *SliceSource) Count(context.Context) (int, error) { return len(s.Records), nil }

func (s *SliceSource) Open(context.Context) (RecordIterator, error) {
	return &sliceIterator{records: s.Records}, nil
}

type sliceIterator struct {
	records []model.GenericRecord
	pos     int
}

func (it *sliceIterator) Next(ctx context.Context) (model.GenericRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if it.pos >= len(it.records) {
		return nil, io.EOF
	}
	rec := it.records[it.pos]
	it.pos++
	return rec, nil
}

func (it *sliceIterator) Close() error { return nil }

// ------------------- SQL -------------------

// SQLSource runs a query against a database. The query must have a stable
// ORDER BY for Count and Open to agree. Params are bound by name to the
// :name placeholders the query references.
type SQLSource struct {
	DB     *sql.DB
	Query  string
	Params map[string]string
}

// args binds exactly the parameters the query uses.
func (s *SQLSource) args() ([]any, error) {
	var args []any
	for _, name := range queryParams(s.Query) {
		v, ok := s.Params[name]
		if !ok {
			return nil, fmt.Errorf("query parameter %q is not bound", name)
		}
		args = append(args, sql.Named(name, v))
	}
	return args, nil
}

func (s *SQLSource) Count(ctx context.Context) (int, error) {
	args, err := s.args()
	if err != nil {
		return 0, err
	}
	var n int
	q := "SELECT COUNT(*) FROM (" + strings.TrimRight(strings.TrimSpace(s.Query), ";") + ")"
	if err := s.DB.QueryRowContext(ctx, q, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count source rows: %w", err)
	}
	return n, nil
}

func (s *SQLSource) Open(ctx context.Context) (RecordIterator, error) {
	args, err := s.args()
	if err != nil {
		return nil, err
	}
	rows, err := s.DB.QueryContext(ctx, s.Query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query source: %w", err)
	}
	cols, err := rows.Columns()
	if err != nil {
		rows.Close()
		return nil, fmt.Errorf("failed to read source columns: %w", err)
	}
	return &sqlIterator{rows: rows, cols: cols}, nil
}

type sqlIterator struct {
	rows *sql.Rows
	cols []string
}

func (it *sqlIterator) Next(context.Context) (model.GenericRecord, error) {
	if !it.rows.Next() {
		if err := it.rows.Err(); err != nil {
			return nil, fmt.Errorf("failed to read source row: %w", err)
		}
		return nil, io.EOF
	}
	values := make([]any, len(it.cols))
	ptrs := make([]any, len(it.cols))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := it.rows.Scan(ptrs...); err != nil {
		return nil, fmt.Errorf("failed to scan source row: %w", err)
	}
	rec := make(model.GenericRecord, len(it.cols))
	for i, col := range it.cols {
		if b, ok := values[i].([]byte); ok {
			rec[col] = string(b)
		} else {
			rec[col] = values[i]
		}
	}
	return rec, nil
}

func (it *sqlIterator) Close() error { return it.rows.Close() }

// ------------------- CSV -------------------

// CSVSource reads a CSV file whose first row names the fields. Cells stay
// strings so the report reproduces them exactly.
type CSVSource struct {
	Path string
}

func (s *CSVSource) Count(ctx context.Context) (int, error) {
	it, err := s.Open(ctx)
	if err != nil {
		return 0, err
	}
	defer it.Close()

	reader := it.(*csvIterator).reader
	n := 0
	for {
		if _, err := reader.Read(); err == io.EOF {
			return n, nil
		} else if err != nil {
			return 0, fmt.Errorf("failed to count CSV rows: %w", err)
		}
		n++
	}
}

func (s *CSVSource) Open(context.Context) (RecordIterator, error) {
	file, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open CSV file: %w", err)
	}
	reader := csv.NewReader(file)
	reader.LazyQuotes = true
	reader.ReuseRecord = true
	headers, err := reader.Read()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}
	return &csvIterator{file: file, reader: reader, headers: append([]string(nil), headers...)}, nil
}

type csvIterator struct {
	file    *os.File
	reader  *csv.Reader
	headers []string
}

func (it *csvIterator) Next(ctx context.Context) (model.GenericRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	row, err := it.reader.Read()
	if err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("failed to read CSV row: %w", err)
	}
	rec := make(model.GenericRecord, len(it.headers))
	for i, h := range it.headers {
		if i < len(row) {
			rec[h] = row[i]
		}
	}
	return rec, nil
}

func (it *csvIterator) Close() error { return it.file.Close() }

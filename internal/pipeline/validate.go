package pipeline

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"go-report-pipeline/internal/model"
	"go-report-pipeline/pkg/utils"
)

// ValidateQuery checks the filter ranges of a query definition.
func ValidateQuery(def model.QueryDefinition) error {
	for _, f := range def.Filters {
		if strings.TrimSpace(f.Field) == "" {
			return fmt.Errorf("filter field is required")
		}
		if f.Min == nil && f.Max == nil {
			return fmt.Errorf("filter on %s needs a min or a max", f.Field)
		}
		if f.Min != nil && f.Max != nil && *f.Min > *f.Max {
			return fmt.Errorf("filter on %s has min %v above max %v", f.Field, *f.Min, *f.Max)
		}
	}
	if p := def.Period; p != nil {
		if strings.TrimSpace(p.Field) == "" {
			return fmt.Errorf("period field is required")
		}
		if p.From.IsZero() || p.To.IsZero() {
			return fmt.Errorf("period needs both from and to")
		}
		if p.From.After(p.To) {
			return fmt.Errorf("period starts after it ends")
		}
	}
	return nil
}

// ValidateColumns checks the column layout of a report.
func ValidateColumns(cols []model.Column) error {
	if len(cols) == 0 {
		return fmt.Errorf("at least one column is required")
	}
	if cols[0].Summable {
		return fmt.Errorf("first column %s holds the %s label and cannot be summable", cols[0].Key, TotalsLabel)
	}
	seen := make(map[string]bool, len(cols))
	for _, c := range cols {
		if strings.TrimSpace(c.Key) == "" {
			return fmt.Errorf("column key is required")
		}
		if seen[c.Key] {
			return fmt.Errorf("duplicate column %s", c.Key)
		}
		seen[c.Key] = true
	}
	return nil
}

// Filter wraps src so only records matching every filter and the period are
// produced. It returns src unchanged when there is nothing to filter.
func Filter(src RecordSource, filters []model.RangeFilter, period *model.DateRange) RecordSource {
	if len(filters) == 0 && period == nil {
		return src
	}
	return &filteredSource{src: src, filters: filters, period: period}
}

type filteredSource struct {
	src     RecordSource
	filters []model.RangeFilter
	period  *model.DateRange
}

// Count drains the underlying source since matching is only known per record.
func (s *filteredSource) Count(ctx context.Context) (int, error) {
	it, err := s.Open(ctx)
	if err != nil {
		return 0, err
	}
	defer it.Close()
	n := 0
	for {
		_, err := it.Next(ctx)
		if err == io.EOF {
			return n, nil
		}
		if err != nil {
			return 0, err
		}
		n++
	}
}

func (s *filteredSource) Open(ctx context.Context) (RecordIterator, error) {
	it, err := s.src.Open(ctx)
	if err != nil {
		return nil, err
	}
	return &filteredIterator{it: it, src: s}, nil
}

type filteredIterator struct {
	it  RecordIterator
	src *filteredSource
}

func (f *filteredIterator) Next(ctx context.Context) (model.GenericRecord, error) {
	for {
		rec, err := f.it.Next(ctx)
		if err != nil {
			return nil, err
		}
		if matchRecord(rec, f.src.filters, f.src.period) {
			return rec, nil
		}
	}
}

func (f *filteredIterator) Close() error { return f.it.Close() }

// matchRecord applies range and period filters to a record. Missing fields
// never match.
func matchRecord(rec model.GenericRecord, filters []model.RangeFilter, period *model.DateRange) bool {
	for _, f := range filters {
		val, ok := rec[f.Field]
		if !ok || val == nil {
			return false
		}
		n := utils.Numeric(val)
		if f.Min != nil && n < *f.Min {
			return false
		}
		if f.Max != nil && n > *f.Max {
			return false
		}
	}
	if period != nil {
		t, ok := asTime(rec[period.Field])
		if !ok || t.Before(period.From) || t.After(period.To) {
			return false
		}
	}
	return true
}

var timeLayouts = []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02"}

func asTime(v interface{}) (time.Time, bool) {
	switch val := v.(type) {
	case time.Time:
		return val, true
	case string:
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, val); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

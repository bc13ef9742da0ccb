package pipeline

import (
	"go-report-pipeline/internal/model"
	"go-report-pipeline/pkg/utils"
)

// TotalsLabel is written in the first column of the closing totals row.
const TotalsLabel = "Totals"

// Totals accumulates running sums of summable columns.
type Totals struct {
	cols []model.Column
	sums map[string]float64
}

// NewTotals starts from the sums already recorded in stats, if any.
func NewTotals(cols []model.Column, start map[string]float64) *Totals {
	t := &Totals{cols: cols, sums: make(map[string]float64, len(cols))}
	for _, c := range cols {
		if c.Summable {
			t.sums[c.Key] = start[c.Key]
		}
	}
	return t
}

// Add folds one record into the sums. Non-numeric values count as zero.
func (t *Totals) Add(rec model.GenericRecord) {
	for _, c := range t.cols {
		if !c.Summable {
			continue
		}
		if v, ok := rec[c.Key]; ok && v != nil {
			t.sums[c.Key] += utils.Numeric(v)
		}
	}
}

// Sums returns a copy of the current sums.
func (t *Totals) Sums() map[string]float64 {
	out := make(map[string]float64, len(t.sums))
	for k, v := range t.sums {
		out[k] = v
	}
	return out
}

// Row renders the totals row: the label in column 0, then the sum of each
// summable column, blank for the rest.
func (t *Totals) Row() []string {
	row := make([]string, len(t.cols))
	for i, c := range t.cols {
		if i == 0 {
			row[i] = TotalsLabel
			continue
		}
		if c.Summable {
			row[i] = formatNumber(t.sums[c.Key])
		}
	}
	return row
}

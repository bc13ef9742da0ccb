package index

import (
	"encoding/csv"
	"fmt"
	"io"
)

// ReadRows parses exactly the CSV bytes in [start, end).
func ReadRows(data io.ReaderAt, start, end int64) ([][]string, error) {
	if end < start {
		return nil, fmt.Errorf("%w: byte range %d..%d", ErrOutOfRange, start, end)
	}
	if end == start {
		return [][]string{}, nil
	}
	reader := csv.NewReader(io.NewSectionReader(data, start, end-start))
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse csv range %d..%d: %w", start, end, err)
	}
	return rows, nil
}

// ReadRow parses the single CSV row i (row 0 is the header).
func (r *Reader) ReadRow(data io.ReaderAt, i int) ([]string, error) {
	start, end, err := r.RowRange(i, i)
	if err != nil {
		return nil, err
	}
	rows, err := ReadRows(data, start, end)
	if err != nil {
		return nil, err
	}
	if len(rows) != 1 {
		return nil, fmt.Errorf("%w: row %d decoded into %d records", ErrCorrupt, i, len(rows))
	}
	return rows[0], nil
}

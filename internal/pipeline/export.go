package pipeline

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"fmt"
	"os"

	"github.com/hashicorp/go-multierror"

	"go-report-pipeline/internal/index"
	"go-report-pipeline/internal/model"
)

// RowEncoder turns header, records and totals into delimited bytes. Each call
// returns exactly one encoded row including its line terminator.
type RowEncoder interface {
	Header(cols []model.Column) ([]byte, error)
	Row(cols []model.Column, rec model.GenericRecord) ([]byte, error)
	Totals(totals *Totals) ([]byte, error)
}

// CSVEncoder encodes rows with encoding/csv.
type CSVEncoder struct {
	Comma rune
	buf   bytes.Buffer
}

func (e *CSVEncoder) encode(fields []string) ([]byte, error) {
	e.buf.Reset()
	w := csv.NewWriter(&e.buf)
	if e.Comma != 0 {
		w.Comma = e.Comma
	}
	if err := w.Write(fields); err != nil {
		return nil, err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return append([]byte(nil), e.buf.Bytes()...), nil
}

func (e *CSVEncoder) Header(cols []model.Column) ([]byte, error) {
	return e.encode(headerRow(cols))
}

func (e *CSVEncoder) Row(cols []model.Column, rec model.GenericRecord) ([]byte, error) {
	return e.encode(projectRecord(cols, rec))
}

func (e *CSVEncoder) Totals(totals *Totals) ([]byte, error) {
	return e.encode(totals.Row())
}

// ------------------- Artifacts -------------------

// artifactWriter appends rows to the CSV file and the matching cumulative
// offset to the index, keeping both in lockstep.
type artifactWriter struct {
	file   *os.File
	buf    *bufio.Writer
	index  *index.Writer
	offset uint64
}

func createArtifacts(csvPath, indexPath string) (*artifactWriter, error) {
	f, err := os.OpenFile(csvPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create csv file: %w", err)
	}
	idx, err := index.Create(indexPath)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &artifactWriter{file: f, buf: bufio.NewWriter(f), index: idx}, nil
}

// WriteRow appends one encoded row and its index entry.
func (a *artifactWriter) WriteRow(row []byte) error {
	if len(row) == 0 {
		return fmt.Errorf("refusing to write an empty row")
	}
	next := a.offset + uint64(len(row))
	if next > index.MaxOffset {
		return fmt.Errorf("%w: %d", index.ErrOffsetOverflow, next)
	}
	if _, err := a.buf.Write(row); err != nil {
		return fmt.Errorf("failed to write csv row: %w", err)
	}
	if err := a.index.Append(next); err != nil {
		return err
	}
	a.offset = next
	return nil
}

// Rows returns the number of rows written so far, header included.
func (a *artifactWriter) Rows() int { return a.index.Count() }

// Flush makes everything written so far visible to readers.
func (a *artifactWriter) Flush() error {
	if err := a.buf.Flush(); err != nil {
		return fmt.Errorf("failed to flush csv file: %w", err)
	}
	return a.index.Flush()
}

// Close flushes and closes both files, reporting every failure.
func (a *artifactWriter) Close() error {
	var result *multierror.Error
	if err := a.buf.Flush(); err != nil {
		result = multierror.Append(result, fmt.Errorf("failed to flush csv file: %w", err))
	}
	if err := a.file.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("failed to close csv file: %w", err))
	}
	if err := a.index.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

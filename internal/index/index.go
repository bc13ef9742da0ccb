// Package index maintains the offset side-file written next to every report
// CSV. Entry i is the little-endian uint32 byte offset in the CSV immediately
// after row i, so entry 0 is the header length and any row or page can be
// located by reading two slots.
package index

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
)

// EntrySize is the width of one index slot in bytes.
const EntrySize = 4

// MaxOffset is the largest CSV offset a slot can hold.
const MaxOffset = math.MaxUint32

var (
	// ErrCorrupt is returned when the index length is not a multiple of EntrySize.
	ErrCorrupt = errors.New("index file is corrupt")
	// ErrOffsetOverflow is returned when a CSV grows beyond what a slot can address.
	ErrOffsetOverflow = errors.New("csv offset exceeds 32-bit index range")
	// ErrOutOfRange is returned for slot or row numbers past the end of the index.
	ErrOutOfRange = errors.New("index entry out of range")
)

// Writer appends offsets in strict order. It never seeks or rewrites.
type Writer struct {
	file  *os.File
	buf   *bufio.Writer
	count int
	last  uint64
	slot  [EntrySize]byte
}

// Create truncates or creates the index file at path.
func Create(path string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create index file: %w", err)
	}
	return &Writer{file: f, buf: bufio.NewWriter(f)}, nil
}

// Append records the cumulative offset after the next row.
func (w *Writer) Append(offset uint64) error {
	if offset > MaxOffset {
		return fmt.Errorf("%w: %d", ErrOffsetOverflow, offset)
	}
	if w.count > 0 && offset <= w.last {
		return fmt.Errorf("index offsets must increase: %d after %d", offset, w.last)
	}
	binary.LittleEndian.PutUint32(w.slot[:], uint32(offset))
	if _, err := w.buf.Write(w.slot[:]); err != nil {
		return fmt.Errorf("failed to append index entry: %w", err)
	}
	w.count++
	w.last = offset
	return nil
}

// Count returns the number of entries appended so far.
func (w *Writer) Count() int { return w.count }

// Last returns the most recently appended offset.
func (w *Writer) Last() uint64 { return w.last }

// Flush pushes buffered entries to the file.
func (w *Writer) Flush() error {
	return w.buf.Flush()
}

// Close flushes and closes the file.
func (w *Writer) Close() error {
	if err := w.buf.Flush(); err != nil {
		w.file.Close()
		return fmt.Errorf("failed to flush index file: %w", err)
	}
	return w.file.Close()
}

// Reader provides random access to the slots of a finished index.
type Reader struct {
	r     io.ReaderAt
	c     io.Closer
	count int
}

// Open opens the index file at path for reading.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open index file: %w", err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stat index file: %w", err)
	}
	r, err := NewReader(f, fi.Size())
	if err != nil {
		f.Close()
		return nil, err
	}
	r.c = f
	return r, nil
}

// NewReader wraps an index of the given byte size.
func NewReader(r io.ReaderAt, size int64) (*Reader, error) {
	if size%EntrySize != 0 {
		return nil, fmt.Errorf("%w: %d bytes", ErrCorrupt, size)
	}
	return &Reader{r: r, count: int(size / EntrySize)}, nil
}

// Len returns the number of entries, i.e. the number of CSV rows indexed.
func (r *Reader) Len() int { return r.count }

// Entry reads slot i.
func (r *Reader) Entry(i int) (uint32, error) {
	if i < 0 || i >= r.count {
		return 0, fmt.Errorf("%w: %d of %d", ErrOutOfRange, i, r.count)
	}
	var slot [EntrySize]byte
	if _, err := r.r.ReadAt(slot[:], int64(i)*EntrySize); err != nil {
		return 0, fmt.Errorf("failed to read index entry %d: %w", i, err)
	}
	return binary.LittleEndian.Uint32(slot[:]), nil
}

// RowRange returns the CSV byte range [start, end) covering rows first..last
// inclusive. Row 0 is the header.
func (r *Reader) RowRange(first, last int) (int64, int64, error) {
	if first < 0 || last < first || last >= r.count {
		return 0, 0, fmt.Errorf("%w: rows %d..%d of %d", ErrOutOfRange, first, last, r.count)
	}
	var start uint32
	if first > 0 {
		v, err := r.Entry(first - 1)
		if err != nil {
			return 0, 0, err
		}
		start = v
	}
	end, err := r.Entry(last)
	if err != nil {
		return 0, 0, err
	}
	return int64(start), int64(end), nil
}

// PageRange returns the byte range of data rows pageIndex*pageSize onwards,
// at most pageSize of them, among dataRows rows that follow the header. It
// also reports how many rows the page holds.
func (r *Reader) PageRange(pageIndex, pageSize, dataRows int) (start, end int64, rows int, err error) {
	if pageIndex < 0 || pageSize <= 0 {
		return 0, 0, 0, fmt.Errorf("%w: page %d size %d", ErrOutOfRange, pageIndex, pageSize)
	}
	if dataRows+1 > r.count {
		return 0, 0, 0, fmt.Errorf("%w: %d data rows but %d entries", ErrOutOfRange, dataRows, r.count)
	}
	first := pageIndex * pageSize
	if first >= dataRows {
		return 0, 0, 0, fmt.Errorf("%w: page %d", ErrOutOfRange, pageIndex)
	}
	last := first + pageSize
	if last > dataRows {
		last = dataRows
	}
	// data row k is CSV row k+1
	start, end, err = r.RowRange(first+1, last)
	if err != nil {
		return 0, 0, 0, err
	}
	return start, end, last - first, nil
}

// Close releases the underlying file, if any.
func (r *Reader) Close() error {
	if r.c == nil {
		return nil
	}
	return r.c.Close()
}

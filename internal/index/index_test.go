package index

import (
	"bytes"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeIndex(t *testing.T, offsets ...uint64) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "report.idx")
	w, err := Create(path)
	require.NoError(t, err)
	for _, off := range offsets {
		require.NoError(t, w.Append(off))
	}
	require.NoError(t, w.Close())
	return path
}

func TestWriterIsLittleEndianUint32(t *testing.T) {
	path := writeIndex(t, 6, 0x01020304)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte{6, 0, 0, 0, 0x04, 0x03, 0x02, 0x01}, raw)
}

func TestWriterRejectsBadOffsets(t *testing.T) {
	w, err := Create(filepath.Join(t.TempDir(), "x.idx"))
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.Append(10))
	assert.Error(t, w.Append(10), "offsets must strictly increase")
	assert.ErrorIs(t, w.Append(math.MaxUint32+1), ErrOffsetOverflow)
	assert.Equal(t, 1, w.Count())
}

func TestFileLengthMatchesEntries(t *testing.T) {
	path := writeIndex(t, 3, 7, 12, 20)
	fi, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(4*EntrySize), fi.Size())
}

func TestNewReaderRejectsPartialSlot(t *testing.T) {
	_, err := NewReader(bytes.NewReader([]byte{1, 0, 0, 0, 9}), 5)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestPageRangeReadsRows(t *testing.T) {
	csvData := "name,a,b\nr1,1,2\nr2,3,4\nr3,5,6\nTotals,9,12\n"
	rows := []string{"name,a,b\n", "r1,1,2\n", "r2,3,4\n", "r3,5,6\n", "Totals,9,12\n"}
	var offsets []uint64
	var total uint64
	for _, r := range rows {
		total += uint64(len(r))
		offsets = append(offsets, total)
	}

	r, err := Open(writeIndex(t, offsets...))
	require.NoError(t, err)
	defer r.Close()
	require.Equal(t, 5, r.Len())

	data := bytes.NewReader([]byte(csvData))

	tests := []struct {
		name      string
		page      int
		size      int
		wantRows  [][]string
		wantCount int
	}{
		{"first page", 0, 2, [][]string{{"r1", "1", "2"}, {"r2", "3", "4"}}, 2},
		{"short last page", 1, 2, [][]string{{"r3", "5", "6"}}, 1},
		{"single page", 0, 10, [][]string{{"r1", "1", "2"}, {"r2", "3", "4"}, {"r3", "5", "6"}}, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, end, n, err := r.PageRange(tt.page, tt.size, 3)
			require.NoError(t, err)
			assert.Equal(t, tt.wantCount, n)
			got, err := ReadRows(data, start, end)
			require.NoError(t, err)
			assert.Equal(t, tt.wantRows, got)
		})
	}

	_, _, _, err = r.PageRange(2, 2, 3)
	assert.ErrorIs(t, err, ErrOutOfRange)

	header, err := r.ReadRow(data, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"name", "a", "b"}, header)

	totals, err := r.ReadRow(data, 4)
	require.NoError(t, err)
	assert.Equal(t, []string{"Totals", "9", "12"}, totals)
}

// countingReaderAt records how many bytes were requested so tests can check
// that page reads touch only two slots.
type countingReaderAt struct {
	data  []byte
	reads int
	bytes int
}

func (c *countingReaderAt) ReadAt(p []byte, off int64) (int, error) {
	c.reads++
	c.bytes += len(p)
	return bytes.NewReader(c.data).ReadAt(p, off)
}

func TestPageRangeTouchesTwoSlots(t *testing.T) {
	raw := make([]byte, 0, 1001*EntrySize)
	for i := 1; i <= 1001; i++ {
		raw = binary.LittleEndian.AppendUint32(raw, uint32(i*10))
	}
	src := &countingReaderAt{data: raw}
	r, err := NewReader(src, int64(len(raw)))
	require.NoError(t, err)

	start, end, n, err := r.PageRange(7, 25, 999)
	require.NoError(t, err)
	assert.Equal(t, 25, n)
	assert.Equal(t, int64(7*25+1)*10, start)
	assert.Equal(t, int64(8*25+1)*10, end)
	assert.Equal(t, 2, src.reads)
	assert.Equal(t, 2*EntrySize, src.bytes)
}

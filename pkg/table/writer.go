// Package table owns the append-only delimited output table: the writer
// that serializes all appends, the backup rotation that preserves any
// pre-existing table, and the scanners the analytics engine reads with.
//
// Invariant: once a run starts the table is append-only. No row is ever
// rewritten or removed mid-run, and a fresh run never overwrites an
// existing table in place (see Rotate).
package table

import (
	"encoding/csv"
	"os"

	"github.com/strataflow/strataflow/pkg/codec"
	"github.com/strataflow/strataflow/pkg/flowerrors"
)

// Writer appends rows to the output table. It is not safe for concurrent
// use: the ingestion pipeline funnels all batches through one writer
// goroutine, which is the serialization point for the table.
type Writer struct {
	path        string
	sep         rune
	file        *os.File
	w           *csv.Writer
	wroteHeader bool
	rows        int64
}

// NewWriter creates a writer for path. The file is opened lazily on the
// first append so an ingestion that produces no rows leaves no table
// behind.
func NewWriter(path string, sep rune) *Writer {
	return &Writer{path: path, sep: sep}
}

// Append writes a batch of rows, creating the file and emitting the header
// row on the first successful append. The whole operation (open-for-append,
// header-if-first, rows, flush) is the critical section; errors out of it
// are fatal output I/O errors.
func (w *Writer) Append(rows [][]string) error {
	if len(rows) == 0 {
		return nil
	}

	if w.file == nil {
		f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return flowerrors.Wrap(err, flowerrors.ErrorTypeFile, "open output table").
				WithDetail("path", w.path)
		}
		w.file = f
		w.w = csv.NewWriter(f)
		w.w.Comma = w.sep

		// Only a fresh (empty) file gets the header; appending to a
		// table some earlier append already started must not repeat it.
		if stat, err := f.Stat(); err == nil && stat.Size() > 0 {
			w.wroteHeader = true
		}
	}

	if !w.wroteHeader {
		if err := w.w.Write(codec.Columns); err != nil {
			return flowerrors.Wrap(err, flowerrors.ErrorTypeFile, "write table header").
				WithDetail("path", w.path)
		}
		w.wroteHeader = true
	}

	for _, row := range rows {
		if err := w.w.Write(row); err != nil {
			return flowerrors.Wrap(err, flowerrors.ErrorTypeFile, "write table row").
				WithDetail("path", w.path)
		}
	}
	w.w.Flush()
	if err := w.w.Error(); err != nil {
		return flowerrors.Wrap(err, flowerrors.ErrorTypeFile, "flush output table").
			WithDetail("path", w.path)
	}

	w.rows += int64(len(rows))
	return nil
}

// Rows returns the number of data rows appended so far.
func (w *Writer) Rows() int64 { return w.rows }

// Close flushes and closes the table file, if it was ever opened.
func (w *Writer) Close() error {
	if w.file == nil {
		return nil
	}
	w.w.Flush()
	flushErr := w.w.Error()
	closeErr := w.file.Close()
	w.file = nil
	if flushErr != nil {
		return flowerrors.Wrap(flushErr, flowerrors.ErrorTypeFile, "flush output table").
			WithDetail("path", w.path)
	}
	return closeErr
}

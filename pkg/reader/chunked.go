// Package reader streams a binary input file in bounded-memory chunks that
// are always aligned to a whole number of records, so downstream workers
// never see a partial record.
package reader

import (
	"io"
	"os"

	"github.com/strataflow/strataflow/pkg/flowerrors"
)

// ChunkReader produces a finite, forward-only sequence of stride-aligned
// chunks from a single file. It is the only reader of the input file and is
// meant to run on the orchestrator goroutine.
type ChunkReader struct {
	f          *os.File
	chunkBytes int
	stride     int
	offset     int64
	done       bool
}

// NewChunkReader opens path for chunked reading. chunkBytes is the read
// budget per chunk and must be at least one stride; stride is the record
// size in bytes.
func NewChunkReader(path string, chunkBytes, stride int) (*ChunkReader, error) {
	if stride <= 0 {
		return nil, flowerrors.Newf(flowerrors.ErrorTypeValidation, "stride must be positive, got %d", stride)
	}
	if chunkBytes < stride {
		return nil, flowerrors.Newf(flowerrors.ErrorTypeValidation,
			"chunk size %d is smaller than record stride %d", chunkBytes, stride)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, flowerrors.Wrap(err, flowerrors.ErrorTypeFile, "open input").WithDetail("path", path)
	}
	return &ChunkReader{f: f, chunkBytes: chunkBytes, stride: stride}, nil
}

// Next returns the next chunk. The returned buffer is owned by the caller;
// its length is always an exact multiple of the stride. Next returns
// (nil, io.EOF) when the stride-aligned prefix of the file is exhausted.
// Trailing bytes shorter than one stride are discarded.
func (r *ChunkReader) Next() ([]byte, int64, error) {
	if r.done {
		return nil, r.offset, io.EOF
	}

	buf := make([]byte, r.chunkBytes)
	n, err := io.ReadFull(r.f, buf)
	if err == io.EOF {
		r.done = true
		return nil, r.offset, io.EOF
	}
	// Only a clean io.EOF ends the file; a zero-byte read with any other
	// error (EISDIR, EIO) is an input failure and must surface.
	if err != nil && err != io.ErrUnexpectedEOF {
		r.done = true
		return nil, r.offset, flowerrors.Wrap(err, flowerrors.ErrorTypeFile, "read input chunk").
			WithDetail("offset", r.offset)
	}

	// Truncate to a whole number of records and push the cursor back so
	// the next read starts at a record boundary.
	remainder := n % r.stride
	if remainder != 0 {
		if err == nil {
			// Mid-file short alignment: rewind the partial record.
			if _, serr := r.f.Seek(int64(-remainder), io.SeekCurrent); serr != nil {
				r.done = true
				return nil, r.offset, flowerrors.Wrap(serr, flowerrors.ErrorTypeFile, "realign input cursor")
			}
		}
		n -= remainder
	}
	if n == 0 {
		// Only a trailing partial record remained.
		r.done = true
		return nil, r.offset, io.EOF
	}

	start := r.offset
	r.offset += int64(n)
	if err == io.ErrUnexpectedEOF {
		r.done = true
	}
	return buf[:n], start, nil
}

// Close releases the underlying file.
func (r *ChunkReader) Close() error {
	return r.f.Close()
}

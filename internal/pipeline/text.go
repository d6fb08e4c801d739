package pipeline

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/strataflow/strataflow/pkg/codec"
)

// Text fallback: when binary parsing is unavailable or declined
// (ForceText), delimited text input flows through the same worker pool and
// the same writer, so rotation, header handling, and reject counting are
// identical to the binary path. Chunks are line batches instead of
// stride-aligned buffers.

// textChunkLines is the number of input lines grouped into one decode task.
const textChunkLines = 4096

// submitTextChunks feeds line batches of a delimited text file to the task
// channel. A leading header row (matching the canonical columns) is
// skipped. Reports whether the wall-clock budget expired.
func (p *Pipeline) submitTextChunks(ctx context.Context, file string, tasks chan<- chunkTask, deadline time.Time) bool {
	f, err := os.Open(file)
	if err != nil {
		p.fail(err)
		return false
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var (
		buf    bytes.Buffer
		lines  int
		offset int64
		first  = true
	)

	flush := func() bool {
		if lines == 0 {
			return true
		}
		chunk := make([]byte, buf.Len())
		copy(chunk, buf.Bytes())
		select {
		case tasks <- chunkTask{data: chunk, offset: offset, file: file}:
			buf.Reset()
			lines = 0
			return true
		case <-ctx.Done():
			return false
		}
	}

	for scanner.Scan() {
		line := scanner.Text()
		offset += int64(len(line)) + 1

		if first {
			first = false
			if isHeaderLine(line, p.cfg.Separator) {
				continue
			}
		}
		if strings.TrimSpace(line) == "" {
			continue
		}

		buf.WriteString(line)
		buf.WriteByte('\n')
		lines++
		if lines >= textChunkLines {
			if expired(deadline) {
				p.log.Warn("ingestion budget expired, draining in-flight chunks",
					zap.String("file", file))
				_ = flush()
				return true
			}
			if !flush() {
				return false
			}
		}
	}
	if err := scanner.Err(); err != nil {
		p.fail(err)
		return false
	}
	_ = flush()
	return false
}

// parseTextChunk parses one line batch into table rows. Lines that do not
// yield a complete record are counted as rejects, mirroring the binary
// codec's per-record failure handling.
func (p *Pipeline) parseTextChunk(data []byte) ([][]string, int) {
	r := csv.NewReader(bytes.NewReader(data))
	r.Comma = p.cfg.Separator
	r.FieldsPerRecord = -1

	var rows [][]string
	rejected := 0
	for {
		fields, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			rejected++
			continue
		}
		rec, ok := parseTextRecord(fields)
		if !ok {
			rejected++
			continue
		}
		rows = append(rows, rec.Row())
	}
	return rows, rejected
}

// parseTextRecord converts delimited fields into a canonical record.
func parseTextRecord(fields []string) (codec.Record, bool) {
	if len(fields) < len(codec.Columns) {
		return codec.Record{}, false
	}

	id, err1 := strconv.ParseUint(strings.TrimSpace(fields[0]), 10, 64)
	ts, err2 := strconv.ParseUint(strings.TrimSpace(fields[1]), 10, 64)
	qty, err3 := strconv.ParseUint(strings.TrimSpace(fields[2]), 10, 64)
	val, err4 := strconv.ParseFloat(strings.TrimSpace(fields[3]), 64)
	// A blank label is a valid record, matching the binary codec.
	label := strings.TrimSpace(fields[4])
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
		return codec.Record{}, false
	}

	return codec.Record{
		ID:        id,
		Timestamp: ts,
		Quantity:  qty,
		Value:     val,
		Label:     codec.EscapeFormula(label),
	}, true
}

// isHeaderLine reports whether a first line is the canonical column header.
func isHeaderLine(line string, sep rune) bool {
	parts := strings.Split(line, string(sep))
	if len(parts) != len(codec.Columns) {
		return false
	}
	for i, p := range parts {
		if !strings.EqualFold(strings.TrimSpace(p), codec.Columns[i]) {
			return false
		}
	}
	return true
}

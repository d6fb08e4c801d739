// Package pipeline orchestrates ingestion: it fans stride-aligned chunks
// out to a decode worker pool and funnels the decoded batches into a single
// writer goroutine that owns the output table.
//
// The single-writer channel replaces the cross-process append lock of
// classic pool-based designs: workers share no mutable state, and the
// writer goroutine is the only code that touches the table file, so the
// append (open, header-if-first, rows, flush) is serialized by
// construction. Chunk completion order is unspecified, therefore output
// row order is unspecified; the invariant is the counts, not the order.
package pipeline

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/strataflow/strataflow/pkg/audit"
	"github.com/strataflow/strataflow/pkg/codec"
	"github.com/strataflow/strataflow/pkg/config"
	"github.com/strataflow/strataflow/pkg/flowerrors"
	"github.com/strataflow/strataflow/pkg/reader"
	"github.com/strataflow/strataflow/pkg/table"
)

// Report summarizes one ingestion run.
type Report struct {
	RecordsWritten  int64         `json:"records_written"`
	RecordsRejected int64         `json:"records_rejected"`
	ChunksProcessed int64         `json:"chunks_processed"`
	InputFiles      int           `json:"input_files"`
	Elapsed         time.Duration `json:"elapsed"`
	// TimedOut is set when the wall-clock budget expired and the run
	// returned a partial result after a bounded drain.
	TimedOut   bool   `json:"timed_out"`
	BackupPath string `json:"backup_path,omitempty"`
}

// chunkTask is one unit of decode work.
type chunkTask struct {
	data   []byte
	offset int64
	file   string
}

// batchResult is a decoded batch headed for the writer goroutine.
type batchResult struct {
	rows     [][]string
	rejected int
	offset   int64
	file     string
}

// Pipeline is the ingestion orchestrator. Construct with New; a Pipeline
// is good for one Run.
type Pipeline struct {
	cfg   config.RunConfig
	codec *codec.Codec
	audit *audit.Handle
	log   *zap.Logger

	written  atomic.Int64
	rejected atomic.Int64
	chunks   atomic.Int64

	// fatalMu guards fatalErr, which records the first fatal failure of
	// the run. It is written by the submit goroutine (input open/read
	// failures) and by the writer goroutine (output I/O failures), and
	// read concurrently by both.
	fatalMu  sync.Mutex
	fatalErr error
}

// New creates a pipeline over a validated configuration.
func New(cfg config.RunConfig, c *codec.Codec, h *audit.Handle) *Pipeline {
	return &Pipeline{
		cfg:   cfg,
		codec: c,
		audit: h,
		log:   h.Logger().With(zap.String("component", "pipeline")),
	}
}

// Ingest runs the whole ingestion and returns its report. A single
// malformed chunk or record never aborts the run; only an output I/O
// failure does, and then the partial table is left in place for
// inspection. When the configured wall-clock budget expires, Ingest stops
// submitting chunks, drains in-flight work, and returns a partial report
// marked TimedOut instead of an error.
func Ingest(ctx context.Context, cfg config.RunConfig, c *codec.Codec, h *audit.Handle) (*Report, error) {
	return New(cfg, c, h).Run(ctx)
}

// Run executes the pipeline.
func (p *Pipeline) Run(ctx context.Context) (*Report, error) {
	start := time.Now()

	files, err := p.inputFiles()
	if err != nil {
		return nil, err
	}

	// Rotation happens once per run, before any append, so re-running
	// against the same path backs up the previous table instead of
	// overwriting it.
	backup, err := table.Rotate(p.cfg.OutputPath, p.cfg.CompressBackups, p.log)
	if err != nil {
		return nil, err
	}
	p.audit.Event("ingest_start", map[string]interface{}{
		"input":   p.cfg.InputPath,
		"output":  p.cfg.OutputPath,
		"files":   len(files),
		"workers": p.cfg.Workers,
		"layout":  p.codec.Layout().Descriptor(),
		"backup":  backup,
	})

	// Internal deadline for the wall-clock budget. It only gates chunk
	// submission; in-flight tasks always finish (bounded drain).
	var deadline time.Time
	if p.cfg.IngestTimeout > 0 {
		deadline = start.Add(p.cfg.IngestTimeout)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	tasks := make(chan chunkTask, p.cfg.Workers*2)
	batches := make(chan batchResult, p.cfg.Workers*2)

	var workers sync.WaitGroup
	for i := 0; i < p.cfg.Workers; i++ {
		workers.Add(1)
		go p.decodeWorker(&workers, tasks, batches)
	}

	var writerDone sync.WaitGroup
	writerDone.Add(1)
	go func() {
		defer writerDone.Done()
		p.writeLoop(cancel, batches)
	}()

	timedOut := p.submitChunks(runCtx, files, tasks, deadline)
	close(tasks)
	workers.Wait()
	close(batches)
	writerDone.Wait()

	if err := p.fatal(); err != nil {
		// Partial table stays on disk, not rolled back.
		return nil, err
	}
	if !timedOut {
		if err := ctx.Err(); err != nil {
			// A deadline on the caller's context is a budget expiry; a
			// plain cancellation is not.
			errType := flowerrors.ErrorTypeInternal
			if errors.Is(err, context.DeadlineExceeded) {
				errType = flowerrors.ErrorTypeTimeout
			}
			return nil, flowerrors.Wrap(err, errType, "ingestion canceled")
		}
	}

	rep := &Report{
		RecordsWritten:  p.written.Load(),
		RecordsRejected: p.rejected.Load(),
		ChunksProcessed: p.chunks.Load(),
		InputFiles:      len(files),
		Elapsed:         time.Since(start),
		TimedOut:        timedOut,
		BackupPath:      backup,
	}
	p.audit.Event("ingest_done", map[string]interface{}{
		"records_written":  rep.RecordsWritten,
		"records_rejected": rep.RecordsRejected,
		"chunks":           rep.ChunksProcessed,
		"elapsed_ms":       rep.Elapsed.Milliseconds(),
		"timed_out":        rep.TimedOut,
	})
	p.log.Info("ingestion complete",
		zap.Int64("records_written", rep.RecordsWritten),
		zap.Int64("records_rejected", rep.RecordsRejected),
		zap.Int64("chunks", rep.ChunksProcessed),
		zap.Duration("elapsed", rep.Elapsed),
		zap.Bool("timed_out", rep.TimedOut))
	return rep, nil
}

// inputFiles expands the input path: a directory ingests every *.bin file
// in sorted order into one table, a file ingests just itself.
func (p *Pipeline) inputFiles() ([]string, error) {
	info, err := os.Stat(p.cfg.InputPath)
	if err != nil {
		return nil, flowerrors.Wrap(err, flowerrors.ErrorTypeFile, "stat input").
			WithDetail("path", p.cfg.InputPath)
	}
	if !info.IsDir() {
		return []string{p.cfg.InputPath}, nil
	}

	pattern := "*.bin"
	if p.cfg.ForceText {
		pattern = "*.csv"
	}
	matches, err := filepath.Glob(filepath.Join(p.cfg.InputPath, pattern))
	if err != nil {
		return nil, flowerrors.Wrap(err, flowerrors.ErrorTypeFile, "list input directory").
			WithDetail("path", p.cfg.InputPath)
	}
	if len(matches) == 0 {
		return nil, flowerrors.Newf(flowerrors.ErrorTypeFile, "no %s files in input directory", pattern).
			WithDetail("path", p.cfg.InputPath)
	}
	sort.Strings(matches)
	return matches, nil
}

// submitChunks feeds every chunk of every input file to the task channel.
// Submission stops on deadline expiry or context cancellation; it reports
// whether the wall-clock budget ran out.
func (p *Pipeline) submitChunks(ctx context.Context, files []string, tasks chan<- chunkTask, deadline time.Time) bool {
	for _, file := range files {
		if p.cfg.ForceText {
			if p.submitTextChunks(ctx, file, tasks, deadline) {
				return true
			}
			continue
		}
		if p.submitBinaryChunks(ctx, file, tasks, deadline) {
			return true
		}
	}
	return false
}

func (p *Pipeline) submitBinaryChunks(ctx context.Context, file string, tasks chan<- chunkTask, deadline time.Time) bool {
	r, err := reader.NewChunkReader(file, p.cfg.ChunkBytes, p.codec.Layout().Stride())
	if err != nil {
		p.fail(err)
		return false
	}
	defer r.Close()

	for {
		if expired(deadline) {
			p.log.Warn("ingestion budget expired, draining in-flight chunks",
				zap.String("file", file))
			return true
		}

		chunk, offset, err := r.Next()
		if err == io.EOF {
			return false
		}
		if err != nil {
			// Input read failures are fatal for this stage.
			p.fail(err)
			return false
		}

		select {
		case tasks <- chunkTask{data: chunk, offset: offset, file: file}:
		case <-ctx.Done():
			return false
		}
	}
}

// decodeWorker decodes chunks into row batches. Workers are stateless and
// share nothing mutable; record-level failures become counters, never
// errors.
func (p *Pipeline) decodeWorker(wg *sync.WaitGroup, tasks <-chan chunkTask, batches chan<- batchResult) {
	defer wg.Done()
	for task := range tasks {
		var rows [][]string
		var rejected int
		if p.cfg.ForceText {
			rows, rejected = p.parseTextChunk(task.data)
		} else {
			records, rej := p.codec.DecodeBatch(task.data)
			rejected = rej
			rows = make([][]string, len(records))
			for i, rec := range records {
				rows[i] = rec.Row()
			}
		}

		if rejected > 0 {
			p.log.Warn("rejected records in chunk",
				zap.String("file", task.file),
				zap.Int64("offset", task.offset),
				zap.Int("rejected", rejected))
		}
		p.chunks.Add(1)
		batches <- batchResult{rows: rows, rejected: rejected, offset: task.offset, file: task.file}
	}
}

// writeLoop is the single owner of the output table. It consumes decoded
// batches until the channel closes; the first output I/O failure aborts
// the run via cancel while the loop keeps draining so workers never block.
func (p *Pipeline) writeLoop(cancel context.CancelFunc, batches <-chan batchResult) {
	w := table.NewWriter(p.cfg.OutputPath, p.cfg.Separator)
	defer func() {
		if err := w.Close(); err != nil {
			p.fail(flowerrors.Wrap(err, flowerrors.ErrorTypeFile, "close output table"))
		}
	}()

	for batch := range batches {
		p.rejected.Add(int64(batch.rejected))
		if p.fatal() != nil || len(batch.rows) == 0 {
			continue
		}
		if err := w.Append(batch.rows); err != nil {
			p.fail(err)
			cancel()
			continue
		}
		p.written.Add(int64(len(batch.rows)))
	}
}

// fail records the first fatal error of the run.
func (p *Pipeline) fail(err error) {
	p.fatalMu.Lock()
	if p.fatalErr != nil {
		p.fatalMu.Unlock()
		return
	}
	p.fatalErr = err
	p.fatalMu.Unlock()

	p.log.Error("fatal pipeline error", zap.Error(err))
	p.audit.Event("ingest_fatal", map[string]interface{}{"error": err.Error()})
}

// fatal returns the first recorded fatal error, if any.
func (p *Pipeline) fatal() error {
	p.fatalMu.Lock()
	defer p.fatalMu.Unlock()
	return p.fatalErr
}

func expired(deadline time.Time) bool {
	return !deadline.IsZero() && time.Now().After(deadline)
}

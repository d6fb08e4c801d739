// Package strataflow ingests very large collections of fixed-layout binary
// records into a single append-only delimited table and estimates
// dataset-wide aggregates from a stratified sample, without ever holding the
// dataset in memory.
//
// # Architecture
//
// A run has two stages sharing one audit handle and one validated
// configuration:
//
// 1. Ingestion: a chunked reader hands stride-aligned byte chunks to a pool
// of stateless decode workers; decoded row batches funnel into a single
// writer goroutine that owns the output table. Record-level decode failures
// become counters, never errors; only output I/O failures abort a run.
//
// 2. Analytics: a two-pass estimator sizes every stratum from the table's
// label column, builds a sqrt-weighted sampling plan, draws rows in a second
// bounded scan, and reweights the sampled sums by per-stratum expansion
// factors into dataset-wide totals.
//
// # Quick Start
//
// Run a full ingest-and-estimate cycle:
//
//	cfg, err := config.New(config.Options{
//	    InputPath:      "data/records.bin",
//	    OutputPath:     "out/table.csv",
//	    ChunkBytes:     64 << 20,
//	    Workers:        4,
//	    SampleFraction: 0.005,
//	})
//	if err != nil {
//	    return err
//	}
//
//	h, err := audit.Open(audit.Config{FilePath: cfg.AuditLogPath, Console: true})
//	if err != nil {
//	    return err
//	}
//	defer h.Close()
//
//	layout, _ := codec.ParseLayout(cfg.Layout)
//	rep, err := pipeline.Ingest(ctx, cfg, codec.New(layout), h)
//	if err != nil {
//	    return err
//	}
//
//	est := analytics.NewEstimator(cfg.Separator, h)
//	res, err := est.Estimate(ctx, cfg.OutputPath, cfg.SampleFraction, cfg.Seed)
//
// # Key Packages
//
//	pkg/codec       - Fixed-stride binary record codec with label sanitization
//	pkg/reader      - Stride-aligned chunked file reader
//	pkg/table       - Append-only table writer, backup rotation, scanners
//	pkg/analytics   - Two-pass sqrt-weighted stratified estimator
//	pkg/config      - Validated immutable run configuration
//	pkg/audit       - Run-scoped structured audit/log handle
//	pkg/report      - HTML run report and JSON summary sidecar
//	pkg/flowerrors  - Structured error handling with typed categories
//	internal/pipeline - Ingestion orchestration (workers, single writer)
//
// # Guarantees
//
//   - The output table is append-only; a fresh run rotates any existing
//     table to a timestamped backup instead of overwriting it.
//   - Chunks are always a whole number of record strides, so no record is
//     ever decoded across a chunk boundary.
//   - Worker count affects row order but never the row set.
//   - Labels are sanitized against spreadsheet formula injection before
//     they reach the table.
//   - All configured paths are confined to the working root.
package strataflow

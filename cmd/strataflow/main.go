// Command strataflow ingests fixed-layout binary record collections into an
// append-only delimited table and produces a fast sampled statistical
// summary of the whole dataset.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/strataflow/strataflow/internal/pipeline"
	"github.com/strataflow/strataflow/pkg/analytics"
	"github.com/strataflow/strataflow/pkg/audit"
	"github.com/strataflow/strataflow/pkg/codec"
	"github.com/strataflow/strataflow/pkg/config"
	"github.com/strataflow/strataflow/pkg/flowerrors"
	"github.com/strataflow/strataflow/pkg/report"
)

var version = "0.1.0"

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:   "strataflow",
		Short: "StrataFlow - binary ingestion with stratified sampling analytics",
		Long: `StrataFlow ingests very large collections of fixed-layout binary records
(or delimited text as a fallback) into a single append-only delimited table,
then estimates dataset-wide aggregates from a sqrt-weighted stratified sample
without re-reading the full table.`,
	}

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("StrataFlow v%s\n", version)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	root.AddCommand(newRunCmd(runModeFull))
	root.AddCommand(newRunCmd(runModeIngest))
	root.AddCommand(newRunCmd(runModeAnalyze))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type runMode int

const (
	runModeFull runMode = iota
	runModeIngest
	runModeAnalyze
)

// newRunCmd builds the run/ingest/analyze commands, which share the same
// configuration surface.
func newRunCmd(mode runMode) *cobra.Command {
	var cfgFile string

	use, short := "run", "Ingest input and estimate dataset aggregates"
	switch mode {
	case runModeIngest:
		use, short = "ingest", "Ingest input into the append-only output table"
	case runModeAnalyze:
		use, short = "analyze", "Estimate dataset aggregates from an existing output table"
	}

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := buildConfig(cmd, cfgFile, mode)
			if err != nil {
				return err
			}
			return execute(cmd.Context(), cfg, mode)
		},
	}

	f := cmd.Flags()
	f.StringVar(&cfgFile, "config", "", "Path to strataflow.yaml configuration file (optional)")
	f.StringP("input", "i", "", "Input binary file or directory of *.bin files")
	f.StringP("output", "o", "", "Output table path (required)")
	f.IntP("workers", "w", defaultWorkers(), "Number of decode workers (capped at host CPU count)")
	f.Int("chunk-bytes", 64<<20, "Chunk read budget in bytes (min 1 MiB)")
	f.Float64("sample-frac", 0.005, "Sample fraction for analytics, in (0, 1]")
	f.String("record-struct", config.DefaultLayout, "Binary record layout descriptor")
	f.String("sep", ",", "Output column separator")
	f.Bool("force-text", false, "Treat input as delimited text instead of binary")
	f.Bool("no-summary", false, "Skip the JSON summary sidecar")
	f.String("report-dir", "./report", "Report output directory")
	f.String("audit-log", "", "Audit log path (default <report-dir>/audit.log)")
	f.Duration("timeout", 0, "Wall-clock budget for ingestion (0 = unlimited)")
	f.String("working-root", "", "Directory all paths must stay under (default: cwd)")
	f.Bool("compress-backups", false, "Gzip rotated output table backups")
	f.Int64("seed", 42, "Sampling seed recorded with the analytics result")
	f.String("log-level", "info", "Console log level (debug, info, warn, error)")

	if mode != runModeAnalyze {
		_ = cmd.MarkFlagRequired("input")
	}
	_ = cmd.MarkFlagRequired("output")

	return cmd
}

func defaultWorkers() int {
	if n := runtime.NumCPU() - 1; n > 1 {
		return n
	}
	return 1
}

// buildConfig merges flag, file, and environment configuration (flags win,
// then STRATAFLOW_* env, then the config file) and validates the result.
func buildConfig(cmd *cobra.Command, cfgFile string, mode runMode) (config.RunConfig, error) {
	v := viper.New()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return config.RunConfig{}, err
	}
	v.SetEnvPrefix("STRATAFLOW")
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return config.RunConfig{}, fmt.Errorf("failed to read config file %s: %w", cfgFile, err)
		}
	}

	opts := config.Options{
		InputPath:       v.GetString("input"),
		OutputPath:      v.GetString("output"),
		ChunkBytes:      v.GetInt("chunk-bytes"),
		Workers:         v.GetInt("workers"),
		Layout:          v.GetString("record-struct"),
		SampleFraction:  v.GetFloat64("sample-frac"),
		Separator:       v.GetString("sep"),
		ForceText:       v.GetBool("force-text"),
		SkipSummary:     v.GetBool("no-summary"),
		ReportDir:       v.GetString("report-dir"),
		AuditLogPath:    v.GetString("audit-log"),
		IngestTimeout:   v.GetDuration("timeout"),
		WorkingRoot:     v.GetString("working-root"),
		CompressBackups: v.GetBool("compress-backups"),
		Seed:            v.GetInt64("seed"),
	}
	if mode == runModeAnalyze && opts.InputPath == "" {
		// analyze reads only the output table; reuse it as the stat'd
		// input so path validation stays uniform.
		opts.InputPath = opts.OutputPath
	}

	cfg, err := config.New(opts)
	if err != nil {
		return cfg, fmt.Errorf("configuration error: %w", err)
	}
	return cfg, nil
}

// execute runs the requested stages with one audit handle spanning the run.
func execute(ctx context.Context, cfg config.RunConfig, mode runMode) error {
	if ctx == nil {
		ctx = context.Background()
	}

	h, err := audit.Open(audit.Config{
		Level:    "info",
		FilePath: cfg.AuditLogPath,
		Console:  true,
	})
	if err != nil {
		return fmt.Errorf("failed to open audit log: %w", err)
	}
	defer func() {
		_ = h.Close()
	}()

	log := h.Logger().With(zap.String("component", "strataflow-cli"))

	layout, err := codec.ParseLayout(cfg.Layout)
	if err != nil {
		return err
	}
	c := codec.New(layout)

	var ingestRep *pipeline.Report
	if mode != runModeAnalyze {
		log.Info("starting ingestion",
			zap.String("input", cfg.InputPath),
			zap.String("output", cfg.OutputPath),
			zap.Int("workers", cfg.Workers),
			zap.String("layout", layout.String()))

		ingestRep, err = pipeline.Ingest(ctx, cfg, c, h)
		if err != nil {
			return fmt.Errorf("ingestion failed: %w", err)
		}
	}

	var analyticsRes *analytics.Result
	var analyticsErr error
	if mode != runModeIngest {
		est := analytics.NewEstimator(cfg.Separator, h)
		analyticsRes, analyticsErr = est.Estimate(ctx, cfg.OutputPath, cfg.SampleFraction, cfg.Seed)
		if analyticsErr != nil {
			if errors.Is(analyticsErr, flowerrors.ErrEmptySample) ||
				errors.Is(analyticsErr, flowerrors.ErrSourceUnavailable) {
				log.Warn("analytics produced no estimate", zap.Error(analyticsErr))
			} else {
				return fmt.Errorf("analytics failed: %w", analyticsErr)
			}
		}
	}

	return writeReports(cfg, ingestRep, analyticsRes, analyticsErr, log)
}

// writeReports renders the HTML report and, unless disabled, the JSON
// summary sidecar.
func writeReports(cfg config.RunConfig, ingestRep *pipeline.Report, res *analytics.Result, analyticsErr error, log *zap.Logger) error {
	status := "success"
	if analyticsErr != nil {
		status = "no-estimate"
	}

	payload := &report.Payload{
		Title:       "StrataFlow Run Report",
		GeneratedAt: time.Now().UTC(),
		Status:      status,
		Sections: []report.Section{
			{
				Title: "Configuration",
				Rows: [][2]string{
					{"Input", cfg.InputPath},
					{"Output table", cfg.OutputPath},
					{"Workers", fmt.Sprintf("%d", cfg.Workers)},
					{"Chunk size", fmt.Sprintf("%.1f MiB", float64(cfg.ChunkBytes)/(1<<20))},
					{"Record layout", cfg.Layout},
					{"Sample fraction", fmt.Sprintf("%g", cfg.SampleFraction)},
				},
			},
		},
	}

	if ingestRep != nil {
		rows := [][2]string{
			{"Records written", fmt.Sprintf("%d", ingestRep.RecordsWritten)},
			{"Records rejected", fmt.Sprintf("%d", ingestRep.RecordsRejected)},
			{"Chunks processed", fmt.Sprintf("%d", ingestRep.ChunksProcessed)},
			{"Elapsed", ingestRep.Elapsed.String()},
			{"Timed out", fmt.Sprintf("%v", ingestRep.TimedOut)},
		}
		if ingestRep.BackupPath != "" {
			rows = append(rows, [2]string{"Previous table backed up to", ingestRep.BackupPath})
		}
		payload.Sections = append(payload.Sections, report.Section{Title: "Ingestion", Rows: rows})
	}

	if res != nil {
		payload.Sections = append(payload.Sections, report.Section{
			Title: "Stratified Analytics",
			Rows: [][2]string{
				{"Total rows", fmt.Sprintf("%d", res.TotalRows)},
				{"Sample size", fmt.Sprintf("%d", res.SampleSize)},
				{"Realized fraction", fmt.Sprintf("%.6f", res.SampleFraction)},
				{"Distinct strata", fmt.Sprintf("%d", res.DistinctStrata)},
				{"Estimated total quantity", fmt.Sprintf("%d", res.EstimatedTotalQuantity)},
				{"Estimated total value", fmt.Sprintf("%.2f", res.EstimatedTotalValue)},
				{"Process memory", fmt.Sprintf("%.1f MiB", float64(res.MemoryRSSBytes)/(1<<20))},
			},
		})
	} else if analyticsErr != nil {
		payload.Sections = append(payload.Sections, report.Section{
			Title: "Stratified Analytics",
			Rows:  [][2]string{{"Error", analyticsErr.Error()}},
		})
	}

	payload.Sections = append(payload.Sections, report.HostSection())

	htmlPath, err := report.WriteHTML(cfg.ReportDir, payload)
	if err != nil {
		return err
	}
	log.Info("report generated", zap.String("path", htmlPath))

	if !cfg.SkipSummary {
		summary := map[string]interface{}{
			"generated_at": time.Now().UTC(),
			"status":       status,
			"ingestion":    ingestRep,
			"analytics":    res,
		}
		if analyticsErr != nil {
			summary["analytics_error"] = analyticsErr.Error()
		}
		jsonPath, err := report.WriteJSON(cfg.ReportDir, summary)
		if err != nil {
			return err
		}
		log.Info("summary written", zap.String("path", jsonPath))
	}
	return nil
}

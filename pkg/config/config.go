// Package config defines the immutable run configuration for StrataFlow.
//
// A RunConfig is constructed and validated exactly once per run. Invalid
// values fail construction immediately with a named error per violated
// invariant; no partially-valid configuration is ever observable. All paths
// are resolved to absolute canonical form and rejected if they escape the
// permitted working root.
package config

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"

	"github.com/strataflow/strataflow/pkg/flowerrors"
)

// Named invariant violations. Each validation failure wraps exactly one of
// these so callers can match with errors.Is.
var (
	ErrSampleFractionRange = errors.New("sample_fraction must be in (0, 1]")
	ErrWorkerRange         = errors.New("workers must be between 1 and the host CPU count")
	ErrChunkTooSmall       = errors.New("chunk_bytes must be at least 1 MiB")
	ErrPathEscape          = errors.New("path escapes the working root")
	ErrInputMissing        = errors.New("input path does not exist")
	ErrOutputParent        = errors.New("output parent directory is not creatable")
	ErrSeparator           = errors.New("separator must be a single printable character")
)

// MinChunkBytes is the smallest permitted chunk read budget.
const MinChunkBytes = 1 << 20

// DefaultLayout is the canonical record layout descriptor: id, timestamp,
// quantity, value in minor units, 32-byte product label.
const DefaultLayout = "<IQIq32s"

// Options carries the raw, unvalidated inputs to New.
type Options struct {
	InputPath      string
	OutputPath     string
	ChunkBytes     int
	Workers        int
	Layout         string
	SampleFraction float64
	Separator      string
	ForceText      bool
	SkipSummary    bool
	ReportDir      string
	AuditLogPath   string
	IngestTimeout  time.Duration
	// WorkingRoot is the directory all paths must stay under. Empty means
	// the current working directory.
	WorkingRoot string
	// CompressBackups gzips rotated output tables.
	CompressBackups bool
	// Seed is recorded with analytics results.
	Seed int64
}

// RunConfig is the validated, immutable run configuration. It is handed out
// by value; nothing mutates it after New returns.
type RunConfig struct {
	InputPath       string
	OutputPath      string
	ChunkBytes      int
	Workers         int
	Layout          string
	SampleFraction  float64
	Separator       rune
	ForceText       bool
	SkipSummary     bool
	ReportDir       string
	AuditLogPath    string
	IngestTimeout   time.Duration
	WorkingRoot     string
	CompressBackups bool
	Seed            int64
}

// New validates opts and returns the finalized configuration. Every
// violated invariant produces a specific named error; the first violation
// wins (fail-fast).
func New(opts Options) (RunConfig, error) {
	var cfg RunConfig

	root, err := resolveRoot(opts.WorkingRoot)
	if err != nil {
		return cfg, err
	}
	cfg.WorkingRoot = root

	cfg.InputPath, err = resolvePath(root, opts.InputPath, "input")
	if err != nil {
		return cfg, err
	}
	if _, err := os.Stat(cfg.InputPath); err != nil {
		return cfg, flowerrors.Wrap(ErrInputMissing, flowerrors.ErrorTypeConfig, "invalid input path").
			WithDetail("path", cfg.InputPath)
	}

	cfg.OutputPath, err = resolvePath(root, opts.OutputPath, "output")
	if err != nil {
		return cfg, err
	}
	if err := os.MkdirAll(filepath.Dir(cfg.OutputPath), 0o750); err != nil {
		return cfg, flowerrors.Wrap(ErrOutputParent, flowerrors.ErrorTypeConfig, "invalid output path").
			WithDetail("path", cfg.OutputPath).WithDetail("cause", err.Error())
	}

	if opts.SampleFraction <= 0 || opts.SampleFraction > 1 {
		return cfg, flowerrors.Wrap(ErrSampleFractionRange, flowerrors.ErrorTypeConfig, "invalid sample fraction").
			WithDetail("sample_fraction", opts.SampleFraction)
	}
	cfg.SampleFraction = opts.SampleFraction

	maxWorkers := hostCPUs()
	if opts.Workers < 1 || opts.Workers > maxWorkers {
		return cfg, flowerrors.Wrap(ErrWorkerRange, flowerrors.ErrorTypeConfig, "invalid worker count").
			WithDetail("workers", opts.Workers).WithDetail("host_cpus", maxWorkers)
	}
	cfg.Workers = opts.Workers

	if opts.ChunkBytes < MinChunkBytes {
		return cfg, flowerrors.Wrap(ErrChunkTooSmall, flowerrors.ErrorTypeConfig, "invalid chunk size").
			WithDetail("chunk_bytes", opts.ChunkBytes)
	}
	cfg.ChunkBytes = opts.ChunkBytes

	sep := opts.Separator
	if sep == "" {
		sep = ","
	}
	runes := []rune(sep)
	if len(runes) != 1 || runes[0] == '\n' || runes[0] == '\r' {
		return cfg, flowerrors.Wrap(ErrSeparator, flowerrors.ErrorTypeConfig, "invalid separator").
			WithDetail("separator", sep)
	}
	cfg.Separator = runes[0]

	cfg.Layout = opts.Layout
	if cfg.Layout == "" {
		cfg.Layout = DefaultLayout
	}

	cfg.ReportDir = opts.ReportDir
	if cfg.ReportDir == "" {
		cfg.ReportDir = filepath.Join(root, "report")
	} else if cfg.ReportDir, err = resolvePath(root, opts.ReportDir, "report_dir"); err != nil {
		return cfg, err
	}

	cfg.AuditLogPath = opts.AuditLogPath
	if cfg.AuditLogPath == "" {
		cfg.AuditLogPath = filepath.Join(cfg.ReportDir, "audit.log")
	} else if cfg.AuditLogPath, err = resolvePath(root, opts.AuditLogPath, "audit_log"); err != nil {
		return cfg, err
	}

	cfg.ForceText = opts.ForceText
	cfg.SkipSummary = opts.SkipSummary
	cfg.IngestTimeout = opts.IngestTimeout
	cfg.CompressBackups = opts.CompressBackups
	cfg.Seed = opts.Seed

	return cfg, nil
}

// resolveRoot canonicalizes the working root.
func resolveRoot(root string) (string, error) {
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", flowerrors.Wrap(err, flowerrors.ErrorTypeConfig, "determine working directory")
		}
		root = wd
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", flowerrors.Wrap(err, flowerrors.ErrorTypeConfig, "resolve working root").
			WithDetail("root", root)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	return filepath.Clean(abs), nil
}

// resolvePath resolves a path to absolute canonical form relative to root
// and rejects any result outside root. Relative components such as ".." are
// neutralized by cleaning before the containment check.
func resolvePath(root, path, label string) (string, error) {
	if path == "" {
		return "", flowerrors.Newf(flowerrors.ErrorTypeConfig, "%s path is required", label)
	}
	abs := path
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(root, abs)
	}
	abs = filepath.Clean(abs)

	// Canonicalize through symlinks where the path already exists so a
	// link cannot smuggle the target outside the root.
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}

	if abs != root && !strings.HasPrefix(abs, root+string(filepath.Separator)) {
		return "", flowerrors.Wrap(ErrPathEscape, flowerrors.ErrorTypeConfig, "path traversal rejected").
			WithDetail("label", label).WithDetail("path", path).WithDetail("resolved", abs)
	}
	return abs, nil
}

// hostCPUs returns the logical CPU count, preferring the host probe and
// falling back to the runtime's view.
func hostCPUs() int {
	if n, err := cpu.Counts(true); err == nil && n > 0 {
		return n
	}
	return runtime.NumCPU()
}

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strataflow/strataflow/pkg/flowerrors"
)

// validOpts returns options that pass validation inside root.
func validOpts(t *testing.T, root string) Options {
	t.Helper()
	input := filepath.Join(root, "input.bin")
	require.NoError(t, os.WriteFile(input, []byte("x"), 0o600))
	return Options{
		InputPath:      "input.bin",
		OutputPath:     filepath.Join("out", "table.csv"),
		ChunkBytes:     MinChunkBytes,
		Workers:        1,
		SampleFraction: 0.01,
		WorkingRoot:    root,
	}
}

func TestNewAppliesDefaults(t *testing.T) {
	root := t.TempDir()
	cfg, err := New(validOpts(t, root))
	require.NoError(t, err)

	assert.Equal(t, DefaultLayout, cfg.Layout)
	assert.Equal(t, ',', cfg.Separator)
	assert.True(t, filepath.IsAbs(cfg.InputPath))
	assert.True(t, filepath.IsAbs(cfg.OutputPath))
	assert.Equal(t, filepath.Join(cfg.ReportDir, "audit.log"), cfg.AuditLogPath)

	// Output parent must have been created.
	_, err = os.Stat(filepath.Dir(cfg.OutputPath))
	assert.NoError(t, err)
}

func TestSampleFractionBounds(t *testing.T) {
	root := t.TempDir()

	for _, frac := range []float64{0, -0.1, 1.0001} {
		opts := validOpts(t, root)
		opts.SampleFraction = frac
		_, err := New(opts)
		assert.ErrorIs(t, err, ErrSampleFractionRange, "fraction %v", frac)
	}

	opts := validOpts(t, root)
	opts.SampleFraction = 1
	_, err := New(opts)
	assert.NoError(t, err)
}

func TestWorkerBounds(t *testing.T) {
	root := t.TempDir()

	opts := validOpts(t, root)
	opts.Workers = 0
	_, err := New(opts)
	assert.ErrorIs(t, err, ErrWorkerRange)

	opts = validOpts(t, root)
	opts.Workers = hostCPUs() + 1
	_, err = New(opts)
	assert.ErrorIs(t, err, ErrWorkerRange)
}

func TestChunkBytesMinimum(t *testing.T) {
	root := t.TempDir()

	opts := validOpts(t, root)
	opts.ChunkBytes = MinChunkBytes - 1
	_, err := New(opts)
	assert.ErrorIs(t, err, ErrChunkTooSmall)
}

func TestInputMustExist(t *testing.T) {
	root := t.TempDir()

	opts := validOpts(t, root)
	opts.InputPath = "nope.bin"
	_, err := New(opts)
	assert.ErrorIs(t, err, ErrInputMissing)
}

func TestPathTraversalRejected(t *testing.T) {
	root := t.TempDir()

	opts := validOpts(t, root)
	opts.OutputPath = filepath.Join("..", "escape.csv")
	_, err := New(opts)
	assert.ErrorIs(t, err, ErrPathEscape)

	opts = validOpts(t, root)
	opts.InputPath = "../../etc/passwd"
	_, err = New(opts)
	assert.ErrorIs(t, err, ErrPathEscape)

	// Absolute path outside the root is just as much of an escape.
	opts = validOpts(t, root)
	opts.OutputPath = filepath.Join(os.TempDir(), "elsewhere", "t.csv")
	if !isUnder(opts.OutputPath, root) {
		_, err = New(opts)
		assert.ErrorIs(t, err, ErrPathEscape)
	}
}

func isUnder(path, root string) bool {
	rel, err := filepath.Rel(root, path)
	return err == nil && rel != ".." && !filepath.IsAbs(rel) && !(len(rel) >= 3 && rel[:3] == "../")
}

func TestSeparatorValidation(t *testing.T) {
	root := t.TempDir()

	opts := validOpts(t, root)
	opts.Separator = ";;"
	_, err := New(opts)
	assert.ErrorIs(t, err, ErrSeparator)

	opts = validOpts(t, root)
	opts.Separator = "\n"
	_, err = New(opts)
	assert.ErrorIs(t, err, ErrSeparator)

	opts = validOpts(t, root)
	opts.Separator = ";"
	cfg, err := New(opts)
	require.NoError(t, err)
	assert.Equal(t, ';', cfg.Separator)
}

func TestErrorsAreTyped(t *testing.T) {
	root := t.TempDir()

	opts := validOpts(t, root)
	opts.Workers = 0
	_, err := New(opts)
	assert.True(t, flowerrors.IsType(err, flowerrors.ErrorTypeConfig))
}

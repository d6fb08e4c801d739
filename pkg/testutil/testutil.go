// Package testutil provides testing utilities for StrataFlow.
package testutil

import (
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/strataflow/strataflow/pkg/audit"
)

// TestLogger creates a test logger that writes to the test output.
// The logger is automatically cleaned up when the test completes.
func TestLogger(t *testing.T) *zap.Logger {
	return zaptest.NewLogger(t)
}

// TestHandle wraps a test logger in an audit handle with no file core.
func TestHandle(t *testing.T) *audit.Handle {
	return audit.FromLogger(zaptest.NewLogger(t))
}

// TestContext creates a test context with a 30-second timeout.
// The caller must call the returned cancel function to avoid leaks.
func TestContext(_ *testing.T) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}

// BinRecord is one fixture record in the canonical "<IQIq32s" layout.
type BinRecord struct {
	ID         uint32
	Timestamp  uint64
	Quantity   uint32
	ValueCents int64
	Label      string
}

// Encode renders the record as 56 wire bytes. Labels longer than 32 bytes
// are truncated; shorter labels are NUL padded.
func (r BinRecord) Encode() []byte {
	buf := make([]byte, 56)
	binary.LittleEndian.PutUint32(buf[0:4], r.ID)
	binary.LittleEndian.PutUint64(buf[4:12], r.Timestamp)
	binary.LittleEndian.PutUint32(buf[12:16], r.Quantity)
	binary.LittleEndian.PutUint64(buf[16:24], uint64(r.ValueCents))
	copy(buf[24:56], r.Label)
	return buf
}

// WriteBinFixture writes records as a concatenated binary file under dir
// and returns its path.
func WriteBinFixture(t *testing.T, dir, name string, records []BinRecord) string {
	t.Helper()
	var data []byte
	for _, r := range records {
		data = append(data, r.Encode()...)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write fixture %s: %v", path, err)
	}
	return path
}

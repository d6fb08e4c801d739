package table

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestWriterHeaderWrittenOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "table.csv")
	w := NewWriter(path, ',')

	require.NoError(t, w.Append([][]string{{"1", "10", "2", "5.00", "alpha"}}))
	require.NoError(t, w.Append([][]string{{"2", "20", "3", "7.50", "beta"}}))
	require.NoError(t, w.Close())

	lines := strings.Split(strings.TrimRight(readFile(t, path), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "id,timestamp,quantity,value,product", lines[0])
	assert.Equal(t, "1,10,2,5.00,alpha", lines[1])
	assert.Equal(t, "2,20,3,7.50,beta", lines[2])
	assert.Equal(t, int64(2), w.Rows())
}

func TestWriterAppendsToExistingTableWithoutHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "table.csv")

	w := NewWriter(path, ',')
	require.NoError(t, w.Append([][]string{{"1", "10", "2", "5.00", "alpha"}}))
	require.NoError(t, w.Close())

	// A second writer on the same file must not repeat the header.
	w2 := NewWriter(path, ',')
	require.NoError(t, w2.Append([][]string{{"2", "20", "3", "7.50", "beta"}}))
	require.NoError(t, w2.Close())

	content := readFile(t, path)
	assert.Equal(t, 1, strings.Count(content, "id,timestamp"))
	assert.Contains(t, content, "alpha")
	assert.Contains(t, content, "beta")
}

func TestWriterEmptyBatchLeavesNoFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "table.csv")
	w := NewWriter(path, ',')

	require.NoError(t, w.Append(nil))
	require.NoError(t, w.Close())

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestWriterCustomSeparator(t *testing.T) {
	path := filepath.Join(t.TempDir(), "table.csv")
	w := NewWriter(path, ';')

	require.NoError(t, w.Append([][]string{{"1", "10", "2", "5.00", "alpha"}}))
	require.NoError(t, w.Close())

	content := readFile(t, path)
	assert.Contains(t, content, "id;timestamp;quantity;value;product")
	assert.Contains(t, content, "1;10;2;5.00;alpha")
}

func TestRotatePreservesOldTableExactly(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "table.csv")
	original := "id,timestamp,quantity,value,product\n1,10,2,5.00,alpha\n"
	require.NoError(t, os.WriteFile(path, []byte(original), 0o600))

	backup, err := Rotate(path, false, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NotEmpty(t, backup)
	assert.True(t, strings.HasPrefix(backup, path+".bak."))

	// The old table must survive byte for byte, and the live path is free
	// for a fresh table.
	assert.Equal(t, original, readFile(t, backup))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	w := NewWriter(path, ',')
	require.NoError(t, w.Append([][]string{{"2", "20", "3", "7.50", "beta"}}))
	require.NoError(t, w.Close())

	fresh := readFile(t, path)
	assert.Contains(t, fresh, "id,timestamp")
	assert.Contains(t, fresh, "beta")
	assert.NotContains(t, fresh, "alpha")
	assert.Equal(t, original, readFile(t, backup), "backup must be untouched by the new run")
}

func TestRotateTwiceInSameSecondKeepsBothBackups(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "table.csv")
	log := zaptest.NewLogger(t)

	first := "id,timestamp,quantity,value,product\n1,10,2,5.00,alpha\n"
	require.NoError(t, os.WriteFile(path, []byte(first), 0o600))
	backup1, err := Rotate(path, false, log)
	require.NoError(t, err)

	second := "id,timestamp,quantity,value,product\n2,20,3,7.50,beta\n"
	require.NoError(t, os.WriteFile(path, []byte(second), 0o600))
	backup2, err := Rotate(path, false, log)
	require.NoError(t, err)

	// Back-to-back rotations land in the same one-second stamp window;
	// the second must not replace the first.
	assert.NotEqual(t, backup1, backup2)
	assert.Equal(t, first, readFile(t, backup1))
	assert.Equal(t, second, readFile(t, backup2))
}

func TestBackupNameAvoidsCollisions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "table.csv")
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

	name := backupName(path, now)
	assert.Equal(t, path+".bak.20260824T120000Z", name)

	require.NoError(t, os.WriteFile(name, []byte("x"), 0o600))
	assert.Equal(t, name+"-1", backupName(path, now))

	// A compressed backup occupying the slot counts as a collision too.
	require.NoError(t, os.WriteFile(name+"-1.gz", []byte("x"), 0o600))
	assert.Equal(t, name+"-2", backupName(path, now))
}

func TestRotateMissingTableIsNoop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "table.csv")
	backup, err := Rotate(path, false, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Empty(t, backup)
}

func TestRotateCompressedBackup(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "table.csv")
	original := "id,timestamp,quantity,value,product\n1,10,2,5.00,alpha\n"
	require.NoError(t, os.WriteFile(path, []byte(original), 0o600))

	backup, err := Rotate(path, true, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(backup, ".gz"))

	f, err := os.Open(backup)
	require.NoError(t, err)
	defer f.Close()
	zr, err := gzip.NewReader(f)
	require.NoError(t, err)
	decompressed, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.Equal(t, original, string(decompressed))

	// The plain backup must be gone once the gzip copy exists.
	_, err = os.Stat(strings.TrimSuffix(backup, ".gz"))
	assert.True(t, os.IsNotExist(err))
}

func writeTable(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "table.csv")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o600))
	return path
}

func TestScannerReadsRowsInOrder(t *testing.T) {
	path := writeTable(t,
		"id,timestamp,quantity,value,product",
		"1,10,2,5.00,alpha",
		"2,20,3,7.50,beta",
	)

	s, err := OpenScanner(path, ',')
	require.NoError(t, err)
	defer s.Close()

	row, err := s.Next()
	require.NoError(t, err)
	assert.Equal(t, Row{Label: "alpha", Quantity: 2, Value: 5}, row)

	row, err = s.Next()
	require.NoError(t, err)
	assert.Equal(t, Row{Label: "beta", Quantity: 3, Value: 7.5}, row)

	_, err = s.Next()
	assert.Equal(t, io.EOF, err)
	assert.Equal(t, int64(2), s.Rows())
}

func TestScannerSurvivesBadRow(t *testing.T) {
	path := writeTable(t,
		"id,timestamp,quantity,value,product",
		"1,10,2,5.00,alpha",
		"2,20,oops,7.50,beta",
		"3,30,4,9.00,gamma",
	)

	s, err := OpenScanner(path, ',')
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Next()
	require.NoError(t, err)

	_, err = s.Next()
	assert.ErrorIs(t, err, ErrBadRow)

	row, err := s.Next()
	require.NoError(t, err)
	assert.Equal(t, "gamma", row.Label)
}

func TestScannerRejectsBadHeader(t *testing.T) {
	path := writeTable(t, "a,b,c", "1,2,3")
	_, err := OpenScanner(path, ',')
	assert.Error(t, err)
}

func TestCountLabels(t *testing.T) {
	path := writeTable(t,
		"id,timestamp,quantity,value,product",
		"1,10,2,5.00,alpha",
		"2,20,3,7.50,beta",
		"3,30,4,9.00,alpha",
	)

	counts, total, err := CountLabels(path, ',')
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Equal(t, map[string]int64{"alpha": 2, "beta": 1}, counts)
}

func TestCountLabelsMissingFile(t *testing.T) {
	_, _, err := CountLabels(filepath.Join(t.TempDir(), "nope.csv"), ',')
	assert.Error(t, err)
}

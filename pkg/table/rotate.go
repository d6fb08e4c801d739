package table

import (
	"io"
	"os"
	"strconv"
	"time"

	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"

	"github.com/strataflow/strataflow/pkg/flowerrors"
)

// backupStamp is the UTC timestamp layout used in backup file names.
const backupStamp = "20060102T150405Z"

// Rotate moves a pre-existing table at path out of the way before a fresh
// run starts. The table is renamed to "<path>.bak.<timestamp>" and, when
// compress is set, gzipped in place (the uncompressed backup is removed
// only after the gzip copy is complete). Rotation never overwrites: the
// result is at most one live table per path with full history in backups.
//
// Returns the backup path, or "" when no table existed.
func Rotate(path string, compress bool, log *zap.Logger) (string, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", flowerrors.Wrap(err, flowerrors.ErrorTypeFile, "stat output table").
			WithDetail("path", path)
	}

	backup := backupName(path, time.Now().UTC())
	if err := os.Rename(path, backup); err != nil {
		return "", flowerrors.Wrap(err, flowerrors.ErrorTypeFile, "rotate output table").
			WithDetail("path", path).WithDetail("backup", backup)
	}
	log.Info("rotated existing output table",
		zap.String("path", path),
		zap.String("backup", backup))

	if !compress {
		return backup, nil
	}

	gzPath, err := gzipFile(backup)
	if err != nil {
		// The plain backup is intact; compression failure is not worth
		// aborting a run over.
		log.Warn("backup compression failed, keeping plain backup",
			zap.String("backup", backup), zap.Error(err))
		return backup, nil
	}
	if err := os.Remove(backup); err != nil {
		log.Warn("could not remove uncompressed backup",
			zap.String("backup", backup), zap.Error(err))
	}
	return gzPath, nil
}

// backupName picks an unused backup path for the table. The stamp has
// second granularity, so two runs starting within the same second would
// collide and os.Rename would silently replace the earlier backup; a
// numeric suffix keeps every backup.
func backupName(path string, now time.Time) string {
	base := path + ".bak." + now.Format(backupStamp)
	backup := base
	for i := 1; ; i++ {
		_, err := os.Lstat(backup)
		_, gzErr := os.Lstat(backup + ".gz")
		if os.IsNotExist(err) && os.IsNotExist(gzErr) {
			return backup
		}
		backup = base + "-" + strconv.Itoa(i)
	}
}

// gzipFile writes a gzip copy of src at src+".gz" and returns its path.
func gzipFile(src string) (string, error) {
	in, err := os.Open(src)
	if err != nil {
		return "", err
	}
	defer in.Close()

	dst := src + ".gz"
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return "", err
	}

	zw := gzip.NewWriter(out)
	if _, err := io.Copy(zw, in); err != nil {
		zw.Close()
		out.Close()
		os.Remove(dst)
		return "", err
	}
	if err := zw.Close(); err != nil {
		out.Close()
		os.Remove(dst)
		return "", err
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return "", err
	}
	return dst, nil
}

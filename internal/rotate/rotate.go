// Package rotate performs the purge-with-backup sequence for a project's
// purge directories: delete the stale backup, then rename the live directory
// into its place. Retention is a single generation; the previous backup is
// gone once a new one is made.
package rotate

import (
	"fmt"
	"os"

	"github.com/go-logr/logr"

	enginerrors "github.com/SecureCloud-biz/autopi-core/internal/errors"
	"github.com/SecureCloud-biz/autopi-core/internal/logging"
)

// BackupSuffix is appended to a live directory path to form its backup path.
const BackupSuffix = "_bak"

// Filesystem is the minimal transactional-rename surface the rotator needs.
type Filesystem interface {
	PathExists(path string) (bool, error)
	RemoveAll(path string) error
	Rename(src, dst string) error
}

// OSFilesystem implements Filesystem against the local filesystem.
type OSFilesystem struct{}

func (OSFilesystem) PathExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

func (OSFilesystem) RemoveAll(path string) error  { return os.RemoveAll(path) }
func (OSFilesystem) Rename(src, dst string) error { return os.Rename(src, dst) }

// Rotator rotates purge directories.
type Rotator struct {
	fs     Filesystem
	logger logr.Logger
}

// NewRotator constructs a Rotator backed by the given filesystem.
func NewRotator(logger logr.Logger, fs Filesystem) *Rotator {
	return &Rotator{fs: fs, logger: logger}
}

// Rotate removes path+"_bak" if present (absence is success), then renames
// path to path+"_bak". The two steps are not atomic across a crash: a crash
// in between leaves neither a live directory nor a backup. Rotate detects
// that state on the next run (live missing, backup missing) and reports it
// instead of proceeding. A missing live directory with a backup present is
// treated as an already-completed rotation.
func (r *Rotator) Rotate(path string) error {
	backup := path + BackupSuffix

	liveExists, err := r.fs.PathExists(path)
	if err != nil {
		return enginerrors.WrapDirectoryOperation(fmt.Errorf("failed to stat %q: %w", path, err))
	}
	if !liveExists {
		backupExists, err := r.fs.PathExists(backup)
		if err != nil {
			return enginerrors.WrapDirectoryOperation(fmt.Errorf("failed to stat %q: %w", backup, err))
		}
		if backupExists {
			r.logger.V(1).Info("Directory already rotated", "path", path)
			return nil
		}
		return enginerrors.WrapDirectoryOperation(fmt.Errorf("inconsistent state for %q: live directory and backup are both missing (interrupted rotation?)", path))
	}

	if err := r.fs.RemoveAll(backup); err != nil {
		return enginerrors.WrapDirectoryOperation(fmt.Errorf("failed to remove stale backup %q: %w", backup, err))
	}

	if err := r.fs.Rename(path, backup); err != nil {
		return enginerrors.WrapDirectoryOperation(fmt.Errorf("failed to rename %q to %q: %w", path, backup, err))
	}

	logging.LogAuditEvent(r.logger, logging.EventDirectoryRotated, map[string]string{
		"path":   path,
		"backup": backup,
	})
	return nil
}

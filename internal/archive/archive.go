// Package archive uploads displaced purge directories to an S3-compatible
// object store before they are rotated away. Archiving is best-effort: an
// upload failure is reported to the caller for logging but never blocks or
// fails the rollout that triggered it.
package archive

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-logr/logr"
)

// BlobStore is the object storage surface the archiver needs.
// Implementations include S3 and in-memory stores for testing.
type BlobStore interface {
	// Upload stores the contents of body as an object with the given key.
	// For large objects, implementations may use multipart uploads.
	Upload(ctx context.Context, key string, body io.Reader) error

	// Close releases any resources held by the store.
	Close() error
}

// Archiver tars a directory and uploads it.
type Archiver struct {
	store  BlobStore
	prefix string
	logger logr.Logger
	now    func() time.Time
}

// NewArchiver constructs an Archiver writing under the given key prefix.
func NewArchiver(logger logr.Logger, store BlobStore, prefix string) *Archiver {
	return &Archiver{store: store, prefix: prefix, logger: logger, now: time.Now}
}

// ObjectKey builds the object key for one archived directory:
// <prefix>/<project>/<version>/<revision>/<dir>-<timestamp>.tar.gz.
func (a *Archiver) ObjectKey(project, version, revision, path string) string {
	parts := []string{}
	if a.prefix != "" {
		parts = append(parts, strings.Trim(a.prefix, "/"))
	}
	parts = append(parts, project, version, revision,
		fmt.Sprintf("%s-%s.tar.gz", filepath.Base(path), a.now().UTC().Format("20060102T150405Z")))
	return strings.Join(parts, "/")
}

// ArchiveDirectory tars and gzips the directory at path and uploads it under
// the key returned by ObjectKey. A missing directory is not an error; there
// is simply nothing to archive.
func (a *Archiver) ArchiveDirectory(ctx context.Context, project, version, revision, path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		a.logger.V(1).Info("Nothing to archive", "path", path)
		return nil
	}

	key := a.ObjectKey(project, version, revision, path)
	a.logger.Info("Archiving directory", "path", path, "key", key)

	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(writeTarball(pw, path))
	}()

	if err := a.store.Upload(ctx, key, pr); err != nil {
		pr.CloseWithError(err)
		return fmt.Errorf("failed to upload archive of %q: %w", path, err)
	}
	return nil
}

// writeTarball streams a gzipped tarball of root to w. Entries are stored
// relative to root so the archive extracts cleanly anywhere.
func writeTarball(w io.Writer, root string) error {
	gz := gzip.NewWriter(w)
	tw := tar.NewWriter(gz)

	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}

		header, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		header.Name = filepath.ToSlash(rel)
		if err := tw.WriteHeader(header); err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
	if err != nil {
		return err
	}

	if err := tw.Close(); err != nil {
		return err
	}
	return gz.Close()
}

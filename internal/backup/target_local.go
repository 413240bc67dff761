package backup

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/carebell/carebell-go/internal/errors"
)

const (
	localDirPerm  = 0o700
	localFilePerm = 0o600
)

// LocalTarget stores snapshots as flat files in a directory on this
// machine.
type LocalTarget struct {
	dir    string
	logger *slog.Logger
}

// NewLocalTarget creates the snapshot directory if needed. Settings:
// path (required).
func NewLocalTarget(settings map[string]any, logger *slog.Logger) (*LocalTarget, error) {
	path, _ := settings["path"].(string)
	if path == "" {
		return nil, errors.Newf("local target: path is required").
			Component("backup").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if strings.Contains(filepath.Clean(path), "..") {
		return nil, errors.Newf("local target: path must not traverse upward").
			Component("backup").
			Category(errors.CategoryConfiguration).
			Context("path", path).
			Build()
	}

	abs, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return nil, errors.New(err).
			Component("backup").
			Category(errors.CategoryConfiguration).
			Context("path", path).
			Build()
	}
	if err := os.MkdirAll(abs, localDirPerm); err != nil {
		return nil, errors.New(err).
			Component("backup").
			Category(errors.CategoryFileIO).
			Context("path", abs).
			Build()
	}

	return &LocalTarget{dir: abs, logger: logger.With("target", "local")}, nil
}

func (t *LocalTarget) Name() string { return "local" }

// Store copies the staged file into the snapshot directory via a temp
// file and rename, so a crash never leaves a half-written snapshot
// under a valid name.
func (t *LocalTarget) Store(ctx context.Context, localPath string, snap Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	src, err := os.Open(localPath)
	if err != nil {
		return t.ioError(err, localPath)
	}
	defer src.Close()

	tmp, err := os.CreateTemp(t.dir, "snapshot-*.tmp")
	if err != nil {
		return t.ioError(err, t.dir)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if err := tmp.Chmod(localFilePerm); err != nil {
		_ = tmp.Close()
		return t.ioError(err, tmpPath)
	}
	size, err := io.Copy(tmp, src)
	if err == nil {
		err = tmp.Sync()
	}
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return t.ioError(err, tmpPath)
	}
	if size != snap.Size {
		return errors.Newf("snapshot size mismatch: wrote %d bytes, staged %d", size, snap.Size).
			Component("backup").
			Category(errors.CategoryFileIO).
			Context("snapshot", snap.ID).
			Build()
	}

	dst := filepath.Join(t.dir, snap.ID)
	if err := os.Rename(tmpPath, dst); err != nil {
		return t.ioError(err, dst)
	}
	return nil
}

// List reads the snapshot directory. Files that do not look like
// snapshots are ignored.
func (t *LocalTarget) List(ctx context.Context) ([]Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(t.dir)
	if err != nil {
		return nil, t.ioError(err, t.dir)
	}

	var snaps []Snapshot
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ts, ok := parseSnapshotName(entry.Name())
		if !ok {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		snaps = append(snaps, Snapshot{
			ID:        entry.Name(),
			Timestamp: ts,
			Size:      info.Size(),
		})
	}
	return snaps, nil
}

// Delete removes one snapshot. The ID must parse as a snapshot name,
// which also keeps path separators out of the join.
func (t *LocalTarget) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, ok := parseSnapshotName(id); !ok {
		return errors.Newf("not a snapshot name: %q", id).
			Component("backup").
			Category(errors.CategoryValidation).
			Build()
	}
	if err := os.Remove(filepath.Join(t.dir, id)); err != nil {
		return t.ioError(err, id)
	}
	return nil
}

// Validate probes the directory for write access.
func (t *LocalTarget) Validate(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	probe := filepath.Join(t.dir, ".write_test")
	f, err := os.Create(probe)
	if err != nil {
		return t.ioError(err, t.dir)
	}
	_ = f.Close()
	return os.Remove(probe)
}

func (t *LocalTarget) ioError(err error, path string) error {
	return errors.New(err).
		Component("backup").
		Category(errors.CategoryFileIO).
		Context("target", "local").
		Context("path", path).
		Build()
}

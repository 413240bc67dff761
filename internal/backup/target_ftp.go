package backup

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"

	"github.com/carebell/carebell-go/internal/errors"
)

const (
	defaultFTPPort    = 21
	defaultFTPTimeout = 30 * time.Second
	ftpTempPrefix     = "tmp-"
)

// FTPTarget stores snapshots on an FTP server. Each operation dials a
// fresh connection; snapshots are hours apart, so a pooled session
// would only rot between runs.
type FTPTarget struct {
	host     string
	port     int
	username string
	password string
	dir      string
	timeout  time.Duration
	logger   *slog.Logger
}

// NewFTPTarget builds the target from its settings map. Settings:
// host (required), port, username, password, path, timeout.
func NewFTPTarget(settings map[string]any, logger *slog.Logger) (*FTPTarget, error) {
	t := &FTPTarget{
		port:    defaultFTPPort,
		dir:     "backups",
		timeout: defaultFTPTimeout,
		logger:  logger.With("target", "ftp"),
	}

	host, _ := settings["host"].(string)
	if host == "" {
		return nil, errors.Newf("ftp target: host is required").
			Component("backup").
			Category(errors.CategoryConfiguration).
			Build()
	}
	t.host = host

	if port, ok := settings["port"].(int); ok && port > 0 {
		t.port = port
	}
	if username, ok := settings["username"].(string); ok {
		t.username = username
	}
	if password, ok := settings["password"].(string); ok {
		t.password = password
	}
	if dir, ok := settings["path"].(string); ok && dir != "" {
		t.dir = strings.TrimRight(dir, "/")
	}
	if raw, ok := settings["timeout"].(string); ok {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, errors.New(err).
				Component("backup").
				Category(errors.CategoryConfiguration).
				Context("timeout", raw).
				Build()
		}
		t.timeout = d
	}

	return t, nil
}

func (t *FTPTarget) Name() string { return "ftp" }

// connect dials and logs in. The library's dial honors the timeout but
// login does not take a context, so the whole handshake runs in a
// goroutine raced against ctx.
func (t *FTPTarget) connect(ctx context.Context) (*ftp.ServerConn, error) {
	connCh := make(chan *ftp.ServerConn, 1)
	errCh := make(chan error, 1)

	go func() {
		addr := fmt.Sprintf("%s:%d", t.host, t.port)
		conn, err := ftp.Dial(addr, ftp.DialWithTimeout(t.timeout))
		if err != nil {
			errCh <- t.netError(err, "dial failed")
			return
		}
		if t.username != "" {
			if err := conn.Login(t.username, t.password); err != nil {
				t.quit(conn)
				errCh <- t.netError(err, "login failed")
				return
			}
		}
		connCh <- conn
	}()

	select {
	case <-ctx.Done():
		// The handshake resolves within the dial timeout; close the
		// connection it may still produce.
		go func() {
			select {
			case conn := <-connCh:
				t.quit(conn)
			case <-errCh:
			}
		}()
		return nil, ctx.Err()
	case err := <-errCh:
		return nil, err
	case conn := <-connCh:
		return conn, nil
	}
}

func (t *FTPTarget) quit(conn *ftp.ServerConn) {
	if err := conn.Quit(); err != nil {
		t.logger.Debug("ftp quit failed", "error", err)
	}
}

// Store uploads the staged file under a temporary name and renames it
// into place, so a dropped connection never leaves a partial upload
// under a snapshot name.
func (t *FTPTarget) Store(ctx context.Context, localPath string, snap Snapshot) error {
	conn, err := t.connect(ctx)
	if err != nil {
		return err
	}
	defer t.quit(conn)

	// The directory may already exist; the upload surfaces a real
	// failure either way.
	_ = conn.MakeDir(t.dir)

	f, err := os.Open(localPath)
	if err != nil {
		return errors.New(err).
			Component("backup").
			Category(errors.CategoryFileIO).
			Context("path", localPath).
			Build()
	}
	defer f.Close()

	tempPath := path.Join(t.dir, ftpTempPrefix+snap.ID)
	finalPath := path.Join(t.dir, snap.ID)

	if err := conn.Stor(tempPath, f); err != nil {
		_ = conn.Delete(tempPath)
		return t.netError(err, "upload failed")
	}
	if err := conn.Rename(tempPath, finalPath); err != nil {
		_ = conn.Delete(tempPath)
		return t.netError(err, "rename failed")
	}
	return nil
}

// List returns the snapshots in the target directory. Temp files from
// interrupted uploads and foreign files are skipped.
func (t *FTPTarget) List(ctx context.Context) ([]Snapshot, error) {
	conn, err := t.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer t.quit(conn)

	entries, err := conn.List(t.dir)
	if err != nil {
		if strings.Contains(err.Error(), "No such file or directory") {
			return nil, nil
		}
		return nil, t.netError(err, "list failed")
	}

	var snaps []Snapshot
	for _, entry := range entries {
		if entry.Type != ftp.EntryTypeFile {
			continue
		}
		ts, ok := parseSnapshotName(entry.Name)
		if !ok {
			continue
		}
		snaps = append(snaps, Snapshot{
			ID:        entry.Name,
			Timestamp: ts,
			Size:      int64(entry.Size), //nolint:gosec // listing sizes fit in int64
		})
	}
	return snaps, nil
}

// Delete removes one snapshot.
func (t *FTPTarget) Delete(ctx context.Context, id string) error {
	if _, ok := parseSnapshotName(id); !ok {
		return errors.Newf("not a snapshot name: %q", id).
			Component("backup").
			Category(errors.CategoryValidation).
			Build()
	}

	conn, err := t.connect(ctx)
	if err != nil {
		return err
	}
	defer t.quit(conn)

	if err := conn.Delete(path.Join(t.dir, id)); err != nil {
		return t.netError(err, "delete failed")
	}
	return nil
}

// Validate connects, ensures the target directory exists and lists it.
func (t *FTPTarget) Validate(ctx context.Context) error {
	conn, err := t.connect(ctx)
	if err != nil {
		return err
	}
	defer t.quit(conn)

	_ = conn.MakeDir(t.dir)
	if _, err := conn.List(t.dir); err != nil {
		return t.netError(err, "target directory not listable")
	}
	return nil
}

func (t *FTPTarget) netError(err error, msg string) error {
	return errors.New(fmt.Errorf("ftp: %s: %w", msg, err)).
		Component("backup").
		Category(errors.CategoryNetwork).
		Context("target", "ftp").
		Context("host", t.host).
		Build()
}

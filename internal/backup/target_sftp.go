package backup

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/carebell/carebell-go/internal/errors"
)

const (
	defaultSFTPPort    = 22
	defaultSFTPTimeout = 30 * time.Second
	sftpTempPrefix     = "tmp-"
)

// SFTPTarget stores snapshots over SFTP. Key auth wins over password
// auth when both are configured.
type SFTPTarget struct {
	host       string
	port       int
	username   string
	password   string
	keyFile    string
	knownHosts string
	dir        string
	timeout    time.Duration
	logger     *slog.Logger
}

// sftpConn bundles the SSH transport with the SFTP session so both
// get closed.
type sftpConn struct {
	ssh    *ssh.Client
	client *sftp.Client
}

func (c *sftpConn) Close() {
	_ = c.client.Close()
	_ = c.ssh.Close()
}

// NewSFTPTarget builds the target from its settings map. Settings:
// host (required), port, username, password, keyfile, knownhosts,
// path, timeout.
func NewSFTPTarget(settings map[string]any, logger *slog.Logger) (*SFTPTarget, error) {
	t := &SFTPTarget{
		port:    defaultSFTPPort,
		dir:     "backups",
		timeout: defaultSFTPTimeout,
		logger:  logger.With("target", "sftp"),
	}

	host, _ := settings["host"].(string)
	if host == "" {
		return nil, errors.Newf("sftp target: host is required").
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
	if keyFile, ok := settings["keyfile"].(string); ok {
		t.keyFile = keyFile
	}
	if knownHosts, ok := settings["knownhosts"].(string); ok {
		t.knownHosts = knownHosts
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

	if t.keyFile == "" && t.password == "" {
		return nil, errors.Newf("sftp target: keyfile or password is required").
			Component("backup").
			Category(errors.CategoryConfiguration).
			Build()
	}

	return t, nil
}

func (t *SFTPTarget) Name() string { return "sftp" }

func (t *SFTPTarget) authMethods() ([]ssh.AuthMethod, error) {
	if t.keyFile != "" {
		key, err := os.ReadFile(t.keyFile)
		if err != nil {
			return nil, errors.New(err).
				Component("backup").
				Category(errors.CategoryConfiguration).
				Context("keyfile", t.keyFile).
				Build()
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, errors.New(err).
				Component("backup").
				Category(errors.CategoryConfiguration).
				Context("keyfile", t.keyFile).
				Build()
		}
		return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil
	}
	return []ssh.AuthMethod{ssh.Password(t.password)}, nil
}

// hostKeyCallback verifies against the configured known_hosts file.
// Without one the host key is not checked.
func (t *SFTPTarget) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if t.knownHosts == "" {
		return ssh.InsecureIgnoreHostKey(), nil //nolint:gosec // opt-in via the knownhosts setting
	}
	cb, err := knownhosts.New(t.knownHosts)
	if err != nil {
		return nil, errors.New(err).
			Component("backup").
			Category(errors.CategoryConfiguration).
			Context("knownhosts", t.knownHosts).
			Build()
	}
	return cb, nil
}

// connect runs the SSH handshake in a goroutine raced against ctx,
// since neither ssh.Dial nor sftp.NewClient takes a context.
func (t *SFTPTarget) connect(ctx context.Context) (*sftpConn, error) {
	auth, err := t.authMethods()
	if err != nil {
		return nil, err
	}
	hostKey, err := t.hostKeyCallback()
	if err != nil {
		return nil, err
	}

	type result struct {
		conn *sftpConn
		err  error
	}
	resultCh := make(chan result, 1)

	go func() {
		config := &ssh.ClientConfig{
			User:            t.username,
			Auth:            auth,
			HostKeyCallback: hostKey,
			Timeout:         t.timeout,
		}

		addr := net.JoinHostPort(t.host, strconv.Itoa(t.port))
		sshConn, err := ssh.Dial("tcp", addr, config)
		if err != nil {
			resultCh <- result{nil, t.netError(err, "dial failed")}
			return
		}
		client, err := sftp.NewClient(sshConn)
		if err != nil {
			_ = sshConn.Close()
			resultCh <- result{nil, t.netError(err, "session failed")}
			return
		}
		resultCh <- result{&sftpConn{ssh: sshConn, client: client}, nil}
	}()

	select {
	case <-ctx.Done():
		// The handshake resolves within the dial timeout; close the
		// connection it may still produce.
		go func() {
			if r := <-resultCh; r.conn != nil {
				r.conn.Close()
			}
		}()
		return nil, ctx.Err()
	case r := <-resultCh:
		return r.conn, r.err
	}
}

// Store uploads the staged file under a temporary name and renames it
// into place.
func (t *SFTPTarget) Store(ctx context.Context, localPath string, snap Snapshot) error {
	conn, err := t.connect(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := conn.client.MkdirAll(t.dir); err != nil {
		return t.netError(err, "mkdir failed")
	}

	src, err := os.Open(localPath)
	if err != nil {
		return errors.New(err).
			Component("backup").
			Category(errors.CategoryFileIO).
			Context("path", localPath).
			Build()
	}
	defer src.Close()

	tempPath := path.Join(t.dir, sftpTempPrefix+snap.ID)
	finalPath := path.Join(t.dir, snap.ID)

	dst, err := conn.client.Create(tempPath)
	if err != nil {
		return t.netError(err, "create failed")
	}
	_, err = io.Copy(dst, src)
	if closeErr := dst.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = conn.client.Remove(tempPath)
		return t.netError(err, "upload failed")
	}

	if err := conn.client.Rename(tempPath, finalPath); err != nil {
		_ = conn.client.Remove(tempPath)
		return t.netError(err, "rename failed")
	}
	return nil
}

// List returns the snapshots in the target directory. A missing
// directory means no snapshots yet.
func (t *SFTPTarget) List(ctx context.Context) ([]Snapshot, error) {
	conn, err := t.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	entries, err := conn.client.ReadDir(t.dir)
	if err != nil {
		if strings.Contains(err.Error(), "no such file") {
			return nil, nil
		}
		return nil, t.netError(err, "list failed")
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
		snaps = append(snaps, Snapshot{
			ID:        entry.Name(),
			Timestamp: ts,
			Size:      entry.Size(),
		})
	}
	return snaps, nil
}

// Delete removes one snapshot.
func (t *SFTPTarget) Delete(ctx context.Context, id string) error {
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
	defer conn.Close()

	if err := conn.client.Remove(path.Join(t.dir, id)); err != nil {
		return t.netError(err, "delete failed")
	}
	return nil
}

// Validate connects and ensures the target directory exists.
func (t *SFTPTarget) Validate(ctx context.Context) error {
	conn, err := t.connect(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := conn.client.MkdirAll(t.dir); err != nil {
		return t.netError(err, "target directory not writable")
	}
	return nil
}

func (t *SFTPTarget) netError(err error, msg string) error {
	return errors.New(fmt.Errorf("sftp: %s: %w", msg, err)).
		Component("backup").
		Category(errors.CategoryNetwork).
		Context("target", "sftp").
		Context("host", t.host).
		Build()
}

package backup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/carebell/carebell-go/internal/conf"
	"github.com/carebell/carebell-go/internal/errors"
	"github.com/carebell/carebell-go/internal/logging"
)

// Manager stages a copy of the history file and fans it out to every
// enabled target, then enforces the retention policy per target. One
// backup runs at a time; a second RunBackup waits for the first.
type Manager struct {
	cfg         *conf.BackupConfig
	historyPath string
	flush       func() error
	maxAge      time.Duration
	targets     []Target
	logger      *slog.Logger

	mu sync.Mutex

	runs     atomic.Uint64
	failures atomic.Uint64

	lastMu   sync.Mutex
	lastRun  time.Time
	lastSnap string
}

// Stats is a snapshot of backup activity.
type Stats struct {
	Runs         uint64    `json:"runs"`
	Failures     uint64    `json:"failures"`
	Targets      int       `json:"targets"`
	LastRun      time.Time `json:"last_run,omitzero"`
	LastSnapshot string    `json:"last_snapshot,omitempty"`
}

// Option configures a Manager.
type Option func(*Manager)

// WithFlush runs fn before each snapshot so the staged copy includes
// the latest in-memory state. A flush failure downgrades the snapshot
// to the last flushed state, it never skips the run.
func WithFlush(fn func() error) Option {
	return func(m *Manager) { m.flush = fn }
}

// WithTarget registers an extra target alongside the configured ones.
// Used by tests.
func WithTarget(t Target) Option {
	return func(m *Manager) { m.targets = append(m.targets, t) }
}

// NewManager builds a manager from the backup config. Disabled targets
// are skipped; an unknown target type is a configuration error.
func NewManager(cfg *conf.BackupConfig, historyPath string, opts ...Option) (*Manager, error) {
	if cfg == nil {
		return nil, errors.Newf("backup config is required").
			Component("backup").
			Category(errors.CategoryValidation).
			Build()
	}
	if historyPath == "" {
		return nil, errors.Newf("history path is required").
			Component("backup").
			Category(errors.CategoryValidation).
			Build()
	}

	logger := logging.ForService("backup")
	if logger == nil {
		logger = slog.Default().With("service", "backup")
	}

	maxAge, err := parseMaxAge(cfg.Retention.MaxAge)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		cfg:         cfg,
		historyPath: historyPath,
		maxAge:      maxAge,
		logger:      logger,
	}

	for i := range cfg.Targets {
		tc := cfg.Targets[i]
		if !tc.Enabled {
			continue
		}
		target, err := newTarget(tc, logger)
		if err != nil {
			return nil, err
		}
		m.targets = append(m.targets, target)
	}

	for _, opt := range opts {
		opt(m)
	}

	if cfg.Enabled && len(m.targets) == 0 {
		logger.Warn("backup enabled but no targets are enabled, snapshots will fail")
	}
	return m, nil
}

func newTarget(tc conf.BackupTarget, logger *slog.Logger) (Target, error) {
	switch strings.ToLower(tc.Type) {
	case "local":
		return NewLocalTarget(tc.Settings, logger)
	case "ftp":
		return NewFTPTarget(tc.Settings, logger)
	case "sftp":
		return NewSFTPTarget(tc.Settings, logger)
	default:
		return nil, errors.Newf("unknown backup target type: %q", tc.Type).
			Component("backup").
			Category(errors.CategoryConfiguration).
			Context("type", tc.Type).
			Build()
	}
}

// Targets returns the names of the enabled targets.
func (m *Manager) Targets() []string {
	names := make([]string, 0, len(m.targets))
	for _, t := range m.targets {
		names = append(names, t.Name())
	}
	return names
}

// ValidateTargets checks every enabled target for reachability and
// write access.
func (m *Manager) ValidateTargets(ctx context.Context) error {
	var errs []error
	for _, t := range m.targets {
		if err := t.Validate(ctx); err != nil {
			m.logger.Error("backup target validation failed", "target", t.Name(), "error", err)
			errs = append(errs, err)
			continue
		}
		m.logger.Info("backup target validated", "target", t.Name())
	}
	return errors.Join(errs...)
}

// RunBackup takes one snapshot and stores it on every target. A
// failing target does not stop the others; the joined error reports
// every failure.
func (m *Manager) RunBackup(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.targets) == 0 {
		return errors.Newf("no backup targets enabled").
			Component("backup").
			Category(errors.CategoryConfiguration).
			Build()
	}

	m.runs.Add(1)
	start := time.Now().UTC()

	if m.flush != nil {
		if err := m.flush(); err != nil {
			m.logger.Warn("history flush before snapshot failed, using the last flushed state", "error", err)
		}
	}

	snap, stagedPath, cleanup, err := m.stage(start)
	if err != nil {
		m.failures.Add(1)
		return err
	}
	defer cleanup()

	var errs []error
	for _, t := range m.targets {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := t.Store(ctx, stagedPath, snap); err != nil {
			m.logger.Error("snapshot store failed", "target", t.Name(), "snapshot", snap.ID, "error", err)
			errs = append(errs, err)
			continue
		}
		m.logger.Info("snapshot stored", "target", t.Name(), "snapshot", snap.ID, "bytes", snap.Size)

		if err := m.enforceRetention(ctx, t); err != nil {
			m.logger.Warn("retention enforcement failed", "target", t.Name(), "error", err)
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		m.failures.Add(1)
		return errors.Join(errs...)
	}

	m.lastMu.Lock()
	m.lastRun = start
	m.lastSnap = snap.ID
	m.lastMu.Unlock()
	return nil
}

// stage copies the history file to a temp file and describes it. The
// copy keeps the snapshot stable while targets upload it.
func (m *Manager) stage(now time.Time) (Snapshot, string, func(), error) {
	fail := func(err error) (Snapshot, string, func(), error) {
		return Snapshot{}, "", nil, err
	}

	src, err := os.Open(m.historyPath)
	if err != nil {
		return fail(errors.New(err).
			Component("backup").
			Category(errors.CategoryFileIO).
			Context("path", m.historyPath).
			Build())
	}
	defer src.Close()

	tmp, err := os.CreateTemp("", "carebell-snapshot-*")
	if err != nil {
		return fail(errors.New(err).
			Component("backup").
			Category(errors.CategoryFileIO).
			Build())
	}
	cleanup := func() { _ = os.Remove(tmp.Name()) }

	hash := sha256.New()
	size, err := io.Copy(io.MultiWriter(tmp, hash), src)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		cleanup()
		return fail(errors.New(err).
			Component("backup").
			Category(errors.CategoryFileIO).
			Context("path", m.historyPath).
			Build())
	}

	snap := Snapshot{
		ID:        snapshotName(now),
		Timestamp: now,
		Size:      size,
		Checksum:  hex.EncodeToString(hash.Sum(nil)),
	}
	return snap, tmp.Name(), cleanup, nil
}

func (m *Manager) enforceRetention(ctx context.Context, t Target) error {
	snaps, err := t.List(ctx)
	if err != nil {
		return err
	}

	var errs []error
	for _, victim := range prune(snaps, m.cfg.Retention, m.maxAge, time.Now().UTC()) {
		if err := t.Delete(ctx, victim.ID); err != nil {
			errs = append(errs, err)
			continue
		}
		m.logger.Info("expired snapshot removed", "target", t.Name(), "snapshot", victim.ID)
	}
	return errors.Join(errs...)
}

// Stats returns a snapshot of backup activity counters.
func (m *Manager) Stats() Stats {
	m.lastMu.Lock()
	lastRun, lastSnap := m.lastRun, m.lastSnap
	m.lastMu.Unlock()

	return Stats{
		Runs:         m.runs.Load(),
		Failures:     m.failures.Load(),
		Targets:      len(m.targets),
		LastRun:      lastRun,
		LastSnapshot: lastSnap,
	}
}

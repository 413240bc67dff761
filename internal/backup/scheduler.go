package backup

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/carebell/carebell-go/internal/errors"
	"github.com/carebell/carebell-go/internal/logging"
)

// runTimeout bounds one scheduled snapshot, remote targets included.
const runTimeout = 10 * time.Minute

// Scheduler runs a snapshot at a fixed interval. The first snapshot
// runs one interval after Start, so a crash-looping service does not
// churn out copies.
type Scheduler struct {
	run      func(ctx context.Context) error
	interval time.Duration
	logger   *slog.Logger

	cancel  context.CancelFunc
	done    chan struct{}
	started atomic.Bool

	startOnce sync.Once
	stopOnce  sync.Once
}

// NewScheduler wires the run function, normally Manager.RunBackup.
func NewScheduler(run func(ctx context.Context) error, interval time.Duration) (*Scheduler, error) {
	if run == nil {
		return nil, errors.Newf("scheduler needs a run function").
			Component("backup").
			Category(errors.CategoryValidation).
			Build()
	}
	if interval <= 0 {
		return nil, errors.Newf("snapshot interval must be positive, got %s", interval).
			Component("backup").
			Category(errors.CategoryValidation).
			Build()
	}

	logger := logging.ForService("backup")
	if logger == nil {
		logger = slog.Default().With("service", "backup")
	}

	return &Scheduler{
		run:      run,
		interval: interval,
		logger:   logger,
		done:     make(chan struct{}),
	}, nil
}

// Start launches the scheduler loop.
func (s *Scheduler) Start() {
	s.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		s.cancel = cancel
		s.started.Store(true)
		go s.loop(ctx)
		s.logger.Info("snapshot scheduler started", "interval", s.interval)
	})
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ctx.Err() != nil {
				return
			}
			runCtx, cancel := context.WithTimeout(ctx, runTimeout)
			if err := s.run(runCtx); err != nil {
				s.logger.Error("scheduled snapshot failed", "error", err)
			}
			cancel()
		}
	}
}

// Stop cancels the loop and waits for an in-flight snapshot to
// finish.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		if !s.started.Load() {
			return
		}
		s.cancel()
		<-s.done
		s.logger.Info("snapshot scheduler stopped")
	})
}

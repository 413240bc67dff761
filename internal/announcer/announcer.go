// Package announcer schedules call announcement playback. Each call
// contributes an ordered stack of sound files; stacks drain strictly
// one at a time in arrival order with a fixed pause between calls, so
// announcements for simultaneous calls never talk over each other.
package announcer

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/carebell/carebell-go/internal/conf"
	"github.com/carebell/carebell-go/internal/errors"
	"github.com/carebell/carebell-go/internal/logging"
)

// Player is the playback surface the announcer drains through.
type Player interface {
	// EnsureUnlocked reports whether playback is currently permitted,
	// attempting device initialization if needed.
	EnsureUnlocked() bool
	// PlayOne plays a single named sound to completion.
	PlayOne(ctx context.Context, name string) error
}

// stack is one call's ordered list of sound files.
type stack struct {
	code       string
	files      []string
	enqueuedAt time.Time
}

// Stats is a snapshot of announcer activity counters.
type Stats struct {
	QueueDepth    int    `json:"queue_depth"`
	Draining      bool   `json:"draining"`
	CurrentCode   string `json:"current_code,omitempty"`
	StacksPlayed  uint64 `json:"stacks_played"`
	StacksDropped uint64 `json:"stacks_dropped"`
	FilesPlayed   uint64 `json:"files_played"`
	PlayFailures  uint64 `json:"play_failures"`
}

// Announcer drains per-call sound stacks through a Player. Stacks are
// appended by the tracker and drained by a single goroutine that is
// started on demand, so no two files ever overlap.
type Announcer struct {
	player Player
	logger *slog.Logger

	pause             time.Duration
	interruptInFlight bool
	queueWarnDepth    int

	mu            sync.Mutex
	pending       []stack
	draining      bool
	running       bool
	current       string
	cancelCurrent context.CancelFunc
	stopCh        chan struct{}
	wg            sync.WaitGroup

	blockedNotified atomic.Bool
	depthWarned     atomic.Bool

	stacksPlayed  atomic.Uint64
	stacksDropped atomic.Uint64
	filesPlayed   atomic.Uint64
	playFailures  atomic.Uint64
}

// New creates an announcer draining through player.
func New(cfg conf.AnnouncerSettings, player Player) *Announcer {
	logger := logging.ForService("announcer")
	if logger == nil {
		logger = slog.Default()
	}

	pause := time.Duration(cfg.PauseMs) * time.Millisecond
	if pause < 0 {
		pause = 0
	}
	warnDepth := cfg.QueueSize
	if warnDepth <= 0 {
		warnDepth = 64
	}

	return &Announcer{
		player:            player,
		logger:            logger,
		pause:             pause,
		interruptInFlight: cfg.InterruptInFlight,
		queueWarnDepth:    warnDepth,
		pending:           make([]stack, 0, warnDepth),
		running:           true,
		stopCh:            make(chan struct{}),
	}
}

// EnqueueStack appends a call's sound stack and starts a drain if the
// announcer is idle. Blank file names are filtered out; a stack that
// ends up empty is not enqueued. Returns true if the stack was queued.
func (a *Announcer) EnqueueStack(code string, files []string) bool {
	cleaned := make([]string, 0, len(files))
	for _, f := range files {
		if f != "" {
			cleaned = append(cleaned, f)
		}
	}
	if len(cleaned) == 0 {
		return false
	}

	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return false
	}
	a.pending = append(a.pending, stack{code: code, files: cleaned, enqueuedAt: time.Now()})
	depth := len(a.pending)
	start := !a.draining
	if start {
		a.draining = true
		a.wg.Add(1)
	}
	a.mu.Unlock()

	a.logger.Debug("announcement stack queued",
		"code", code,
		"files", len(cleaned),
		"queue_depth", depth)

	if depth > a.queueWarnDepth && a.depthWarned.CompareAndSwap(false, true) {
		a.logger.Warn("announcement queue is backing up",
			"queue_depth", depth,
			"configured_size", a.queueWarnDepth)
	}

	if start {
		go a.drain()
	}
	return true
}

// DropByCode removes every pending stack for code and returns how many
// were removed. The in-flight stack is only interrupted when the
// interrupt policy is enabled; otherwise it finishes its current files.
func (a *Announcer) DropByCode(code string) int {
	a.mu.Lock()
	kept := a.pending[:0]
	removed := 0
	for _, st := range a.pending {
		if st.code == code {
			removed++
			continue
		}
		kept = append(kept, st)
	}
	a.pending = kept

	var cancel context.CancelFunc
	if a.interruptInFlight && a.current == code {
		cancel = a.cancelCurrent
	}
	a.mu.Unlock()

	if removed > 0 {
		a.stacksDropped.Add(uint64(removed))
		a.logger.Debug("dropped pending announcement stacks", "code", code, "removed", removed)
	}
	if cancel != nil {
		a.logger.Debug("interrupting in-flight announcement", "code", code)
		cancel()
	}
	return removed
}

// Kick resumes draining if stacks are pending and no drain is running.
// Safe to call at any time; used after the playback device is unlocked.
func (a *Announcer) Kick() {
	a.mu.Lock()
	if !a.running || a.draining || len(a.pending) == 0 {
		a.mu.Unlock()
		return
	}
	a.draining = true
	a.wg.Add(1)
	a.mu.Unlock()

	go a.drain()
}

// QueueDepth returns the number of stacks waiting to play.
func (a *Announcer) QueueDepth() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}

// Stats returns a snapshot of announcer activity.
func (a *Announcer) Stats() Stats {
	a.mu.Lock()
	depth := len(a.pending)
	draining := a.draining
	current := a.current
	a.mu.Unlock()

	return Stats{
		QueueDepth:    depth,
		Draining:      draining,
		CurrentCode:   current,
		StacksPlayed:  a.stacksPlayed.Load(),
		StacksDropped: a.stacksDropped.Load(),
		FilesPlayed:   a.filesPlayed.Load(),
		PlayFailures:  a.playFailures.Load(),
	}
}

// Stop drains no further, interrupts any in-flight playback and waits
// for the drain goroutine to exit.
func (a *Announcer) Stop() error {
	return a.StopWithTimeout(10 * time.Second)
}

// StopWithTimeout is Stop with a bounded wait.
func (a *Announcer) StopWithTimeout(timeout time.Duration) error {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return nil
	}
	a.running = false
	close(a.stopCh)
	if a.cancelCurrent != nil {
		a.cancelCurrent()
	}
	a.mu.Unlock()

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return errors.Newf("timed out waiting for announcement drain to stop after %v", timeout).
			Component("announcer").
			Category(errors.CategoryTimeout).
			Build()
	}
}

// drain plays pending stacks until the queue empties, playback is
// blocked, or the announcer stops. Exactly one drain runs at a time.
func (a *Announcer) drain() {
	defer a.wg.Done()

	for {
		a.mu.Lock()
		if !a.running || len(a.pending) == 0 {
			a.draining = false
			if len(a.pending) == 0 {
				a.depthWarned.Store(false)
			}
			a.mu.Unlock()
			return
		}
		a.mu.Unlock()

		// Unlock state can change between stacks, re-check every time.
		if !a.player.EnsureUnlocked() {
			a.noteBlocked()
			a.mu.Lock()
			a.draining = false
			a.mu.Unlock()
			return
		}
		a.blockedNotified.Store(false)

		a.mu.Lock()
		if !a.running || len(a.pending) == 0 {
			a.draining = false
			a.mu.Unlock()
			return
		}
		st := a.pending[0]
		a.pending = a.pending[1:]
		ctx, cancel := context.WithCancel(context.Background())
		a.current = st.code
		a.cancelCurrent = cancel
		a.mu.Unlock()

		a.playStack(ctx, st)

		a.mu.Lock()
		a.current = ""
		a.cancelCurrent = nil
		more := a.running && len(a.pending) > 0
		a.mu.Unlock()
		cancel()

		if !more {
			continue
		}

		// Silence between calls so consecutive announcements stay distinct.
		select {
		case <-a.stopCh:
		case <-time.After(a.pause):
		}
	}
}

// playStack plays each file of one stack in order. Playback failures
// skip to the next file; cancellation abandons the rest of the stack.
func (a *Announcer) playStack(ctx context.Context, st stack) {
	start := time.Now()
	played := 0
	for _, name := range st.files {
		if ctx.Err() != nil {
			a.logger.Debug("announcement stack interrupted",
				"code", st.code,
				"played", played,
				"remaining", len(st.files)-played)
			return
		}
		if err := a.player.PlayOne(ctx, name); err != nil {
			if ctx.Err() != nil {
				a.logger.Debug("announcement stack interrupted",
					"code", st.code,
					"played", played,
					"remaining", len(st.files)-played)
				return
			}
			a.playFailures.Add(1)
			a.logger.Warn("announcement playback failed",
				"code", st.code,
				"sound", name,
				"error", err)
			continue
		}
		played++
		a.filesPlayed.Add(1)
	}

	a.stacksPlayed.Add(1)
	a.logger.Debug("announcement stack finished",
		"code", st.code,
		"files", played,
		"waited", time.Since(st.enqueuedAt).Round(time.Millisecond).String(),
		"elapsed", time.Since(start).Round(time.Millisecond).String())
}

// noteBlocked reports a blocked-playback episode once. The flag resets
// when a later drain finds playback unlocked again.
func (a *Announcer) noteBlocked() {
	if !a.blockedNotified.CompareAndSwap(false, true) {
		return
	}

	a.mu.Lock()
	depth := len(a.pending)
	a.mu.Unlock()

	a.logger.Warn("audio playback is locked, announcements remain queued", "queue_depth", depth)

	// Build publishes an error event so the notification side can
	// surface the unlock prompt.
	_ = errors.Newf("audio playback is locked, %d announcement(s) queued until unlock", depth).
		Component("announcer").
		Category(errors.CategoryAudioDevice).
		Priority(errors.PriorityHigh).
		Context("operation", "drain_announcements").
		Context("queue_depth", depth).
		Build()
}

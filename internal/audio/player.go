// Package audio decodes, caches and plays announcement sounds on the
// station's output device. Playback is strictly one clip at a time; the
// announcer package owns ordering and pacing on top of PlayOne.
package audio

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/gen2brain/malgo"

	"github.com/carebell/carebell-go/internal/conf"
	"github.com/carebell/carebell-go/internal/errors"
	"github.com/carebell/carebell-go/internal/logging"
	"github.com/carebell/carebell-go/internal/suncalc"
)

const (
	// minPlayTimeout is the floor for the per-clip safety timeout, so a
	// stuck device never blocks the announcement queue.
	minPlayTimeout = 5 * time.Second
	// playTailGrace extends the timeout past the clip's natural length.
	playTailGrace = 500 * time.Millisecond
	// decodeFallbackDelay is slept after a decode or read failure before
	// PlayOne returns, standing in for the missing clip's air time.
	decodeFallbackDelay = 250 * time.Millisecond
	// deviceRetryInterval rate-limits output device init attempts while
	// the device is unavailable.
	deviceRetryInterval = 5 * time.Second
)

// Player owns the sound cache and the output device. All playback goes
// through PlayOne, which the announcer calls from its single drain
// goroutine; volume and unlock state may be changed from any goroutine.
type Player struct {
	cfg    conf.AudioSettings
	cache  *SoundCache
	sun    *suncalc.SunCalc
	logger *slog.Logger

	volumeBits atomic.Uint64
	gestured   atomic.Bool
	unlocked   atomic.Bool

	mu              sync.Mutex
	malgoCtx        *malgo.AllocatedContext
	devicePtr       unsafe.Pointer
	deviceDesc      string
	lastInitAttempt time.Time
	lastInitErr     error
	userInfoOnce    sync.Once

	// Seams for tests; default to the malgo implementations.
	initFn func() error
	playFn func(ctx context.Context, clip *Clip, volume float64) error

	minTimeout time.Duration
}

// New builds a Player from the audio settings. The output device is not
// opened here; it is brought up lazily by EnsureUnlocked or the first
// unlock gesture, depending on the unlock policy.
func New(cfg conf.AudioSettings) *Player {
	logger := logging.ForService("audio")
	if logger == nil {
		logger = slog.Default()
	}
	p := &Player{
		cfg:        cfg,
		cache:      newSoundCache(cfg.SoundsPath, logger),
		logger:     logger,
		minTimeout: minPlayTimeout,
	}
	p.SetVolume(cfg.Volume)
	// Without the explicit-unlock policy the first scheduler pass counts
	// as the gesture.
	if !cfg.Unlock {
		p.gestured.Store(true)
	}
	if cfg.Night.Enabled {
		p.sun = suncalc.NewSunCalc(cfg.Night.Latitude, cfg.Night.Longitude)
	}
	p.initFn = p.initContext
	p.playFn = p.playClip
	return p
}

// Preload decodes the given sound names into the cache, best effort.
func (p *Player) Preload(names []string) {
	p.cache.Preload(names)
}

// SoundPath resolves a sound name to its playable path.
func (p *Player) SoundPath(name string) string {
	return p.cache.Resolve(name)
}

// CacheStats exposes sound cache counters.
func (p *Player) CacheStats() CacheStats {
	return p.cache.Stats()
}

// SetVolume clamps v to [0,1] and applies it to subsequent playback.
func (p *Player) SetVolume(v float64) {
	clamped := min(1, max(0, v))
	p.volumeBits.Store(math.Float64bits(clamped))
	p.logger.Debug("playback volume set", "volume", clamped)
}

// Volume returns the configured base volume.
func (p *Player) Volume() float64 {
	return math.Float64frombits(p.volumeBits.Load())
}

// EffectiveVolume returns the volume playback will actually use right
// now: the base volume, or the night volume between dusk and dawn when
// night attenuation is configured.
func (p *Player) EffectiveVolume() float64 {
	base := p.Volume()
	if p.sun == nil {
		return base
	}
	now := time.Now()
	times, err := p.sun.GetSunEventTimes(now)
	if err != nil {
		p.logger.Debug("sun event calculation failed, using base volume", "error", err)
		return base
	}
	if isNight(now, times.CivilDawn, times.CivilDusk) {
		return min(1, max(0, p.cfg.Night.Volume))
	}
	return base
}

// isNight reports whether now falls outside the dawn..dusk daylight span
// of the same calendar day.
func isNight(now, dawn, dusk time.Time) bool {
	return now.Before(dawn) || now.After(dusk)
}

// Unlocked reports the current unlock state without attempting device
// init.
func (p *Player) Unlocked() bool {
	return p.gestured.Load() && p.unlocked.Load()
}

// EnsureUnlocked attempts to bring the output device into a playable
// state and reports whether playback is currently permitted. Cheap when
// already unlocked; while the device is unavailable, re-init attempts
// are rate limited. Under the explicit-unlock policy this returns false
// until Unlock has been called once.
func (p *Player) EnsureUnlocked() bool {
	if !p.gestured.Load() {
		return false
	}
	if p.unlocked.Load() {
		return true
	}
	return p.tryInit()
}

// Unlock is the operator-gesture entry point: it lifts the explicit
// unlock policy and attempts device init immediately, bypassing the
// retry rate limit.
func (p *Player) Unlock() bool {
	p.gestured.Store(true)
	p.mu.Lock()
	p.lastInitAttempt = time.Time{}
	p.mu.Unlock()
	return p.EnsureUnlocked()
}

func (p *Player) tryInit() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.unlocked.Load() {
		return true
	}
	if p.lastInitErr != nil && time.Since(p.lastInitAttempt) < deviceRetryInterval {
		return false
	}
	p.lastInitAttempt = time.Now()
	if err := p.initFn(); err != nil {
		p.lastInitErr = err
		p.userInfoOnce.Do(conf.PrintUserInfo)
		p.logger.Warn("audio output unavailable", "device", p.cfg.Device, "error", err)
		return false
	}
	p.lastInitErr = nil
	p.unlocked.Store(true)
	p.logger.Info("audio output unlocked", "device", p.deviceDesc)
	return true
}

// PlayOne plays the named sound to its natural end. The clip is decoded
// and cached on first use. Returns on natural end, on decode error after
// a short fallback delay, or when the safety timeout of
// max(5s, duration+500ms) expires.
func (p *Player) PlayOne(ctx context.Context, name string) error {
	clip, err := p.cache.Get(name)
	if err != nil {
		// Stand in for the clip's air time so a misprovisioned file does
		// not collapse the pacing of the queue, then surface the error.
		select {
		case <-ctx.Done():
		case <-time.After(decodeFallbackDelay):
		}
		return err
	}

	timeout := p.playTimeout(clip.Duration)
	playCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	if err := p.playFn(playCtx, clip, p.EffectiveVolume()); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return errors.Newf("playback timed out after %v", timeout).
				Component("audio").
				Category(errors.CategoryPlayback).
				Context("sound", clip.Name).
				Timing("play_one", time.Since(start)).
				Build()
		}
		return err
	}
	return nil
}

func (p *Player) playTimeout(duration time.Duration) time.Duration {
	return max(p.minTimeout, duration+playTailGrace)
}

// Close releases the output device context. The player is not usable
// afterwards.
func (p *Player) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.unlocked.Store(false)
	if p.malgoCtx != nil {
		_ = p.malgoCtx.Uninit()
		p.malgoCtx.Free()
		p.malgoCtx = nil
	}
}

package audio

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carebell/carebell-go/internal/conf"
	"github.com/carebell/carebell-go/internal/errors"
)

// newTestPlayer builds a player whose device seams are stubbed out.
func newTestPlayer(t *testing.T, cfg conf.AudioSettings) *Player {
	t.Helper()
	p := New(cfg)
	p.logger = newTestLogger()
	p.cache.logger = p.logger
	p.initFn = func() error { return nil }
	p.playFn = func(_ context.Context, _ *Clip, _ float64) error { return nil }
	return p
}

func TestSetVolumeClamps(t *testing.T) {
	t.Parallel()

	p := newTestPlayer(t, conf.AudioSettings{Volume: 0.5, SoundsPath: t.TempDir()})

	tests := []struct {
		in   float64
		want float64
	}{
		{-0.5, 0},
		{0, 0},
		{0.42, 0.42},
		{1, 1},
		{1.7, 1},
	}
	for _, tt := range tests {
		p.SetVolume(tt.in)
		assert.InDelta(t, tt.want, p.Volume(), 1e-9, "SetVolume(%v)", tt.in)
	}
}

func TestPlayTimeoutFloor(t *testing.T) {
	t.Parallel()

	p := newTestPlayer(t, conf.AudioSettings{SoundsPath: t.TempDir()})

	tests := []struct {
		duration time.Duration
		want     time.Duration
	}{
		{0, 5 * time.Second},
		{4 * time.Second, 5 * time.Second},
		{4500 * time.Millisecond, 5 * time.Second},
		{4600 * time.Millisecond, 5100 * time.Millisecond},
		{10 * time.Second, 10500 * time.Millisecond},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, p.playTimeout(tt.duration), "playTimeout(%v)", tt.duration)
	}
}

func TestPlayOnePlaysCachedClip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeTestWAV(t, dir, "nc.wav", 8000, 1, 80)
	p := newTestPlayer(t, conf.AudioSettings{Volume: 0.8, SoundsPath: dir})

	var playedName string
	var playedVolume float64
	p.playFn = func(_ context.Context, clip *Clip, volume float64) error {
		playedName = clip.Name
		playedVolume = volume
		return nil
	}

	require.NoError(t, p.PlayOne(t.Context(), "nc.wav"))
	assert.Equal(t, "nc.wav", playedName)
	assert.InDelta(t, 0.8, playedVolume, 1e-9)
}

func TestPlayOneDecodeFailureReturnsQuickly(t *testing.T) {
	t.Parallel()

	p := newTestPlayer(t, conf.AudioSettings{SoundsPath: t.TempDir()})

	start := time.Now()
	err := p.PlayOne(t.Context(), "absent.wav")
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryFileIO))
	assert.GreaterOrEqual(t, elapsed, 200*time.Millisecond, "fallback delay stands in for air time")
	assert.Less(t, elapsed, 2*time.Second)
}

func TestPlayOneTimesOut(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeTestWAV(t, dir, "nc.wav", 8000, 1, 80)
	p := newTestPlayer(t, conf.AudioSettings{Volume: 1, SoundsPath: dir})
	p.minTimeout = 30 * time.Millisecond
	p.playFn = func(ctx context.Context, _ *Clip, _ float64) error {
		<-ctx.Done()
		return ctx.Err()
	}

	err := p.PlayOne(t.Context(), "nc.wav")
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryPlayback))
}

func TestEnsureUnlockedRequiresGesture(t *testing.T) {
	t.Parallel()

	p := newTestPlayer(t, conf.AudioSettings{SoundsPath: t.TempDir(), Unlock: true})
	var initCalls atomic.Int32
	p.initFn = func() error {
		initCalls.Add(1)
		return nil
	}

	assert.False(t, p.EnsureUnlocked(), "locked until the operator gesture")
	assert.Equal(t, int32(0), initCalls.Load(), "no device init before the gesture")
	assert.False(t, p.Unlocked())

	assert.True(t, p.Unlock())
	assert.Equal(t, int32(1), initCalls.Load())
	assert.True(t, p.Unlocked())

	assert.True(t, p.EnsureUnlocked())
	assert.Equal(t, int32(1), initCalls.Load(), "already unlocked, no re-init")
}

func TestEnsureUnlockedRateLimitsRetries(t *testing.T) {
	t.Parallel()

	p := newTestPlayer(t, conf.AudioSettings{SoundsPath: t.TempDir()})
	var initCalls atomic.Int32
	var failing atomic.Bool
	failing.Store(true)
	p.initFn = func() error {
		initCalls.Add(1)
		if failing.Load() {
			return errors.NewStd("device busy")
		}
		return nil
	}

	assert.False(t, p.EnsureUnlocked())
	assert.False(t, p.EnsureUnlocked(), "second attempt inside the retry window")
	assert.Equal(t, int32(1), initCalls.Load(), "retry window must suppress the second init")

	// Age the last attempt past the retry interval.
	p.mu.Lock()
	p.lastInitAttempt = time.Now().Add(-deviceRetryInterval - time.Second)
	p.mu.Unlock()
	failing.Store(false)

	assert.True(t, p.EnsureUnlocked())
	assert.Equal(t, int32(2), initCalls.Load())
}

func TestUnlockBypassesRetryWindow(t *testing.T) {
	t.Parallel()

	p := newTestPlayer(t, conf.AudioSettings{SoundsPath: t.TempDir()})
	var initCalls atomic.Int32
	p.initFn = func() error {
		initCalls.Add(1)
		return errors.NewStd("device busy")
	}

	assert.False(t, p.EnsureUnlocked())
	assert.False(t, p.Unlock(), "gesture retries immediately even though init keeps failing")
	assert.Equal(t, int32(2), initCalls.Load())
}

func TestEffectiveVolumeWithoutNightConfig(t *testing.T) {
	t.Parallel()

	p := newTestPlayer(t, conf.AudioSettings{Volume: 0.6, SoundsPath: t.TempDir()})
	assert.InDelta(t, 0.6, p.EffectiveVolume(), 1e-9)
}

func TestIsNight(t *testing.T) {
	t.Parallel()

	day := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	dawn := day.Add(6 * time.Hour)
	dusk := day.Add(21 * time.Hour)

	tests := []struct {
		name string
		now  time.Time
		want bool
	}{
		{"before dawn", day.Add(3 * time.Hour), true},
		{"midday", day.Add(12 * time.Hour), false},
		{"after dusk", day.Add(22*time.Hour + 30*time.Minute), true},
		{"exactly dawn", dawn, false},
		{"exactly dusk", dusk, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, isNight(tt.now, dawn, dusk))
		})
	}
}

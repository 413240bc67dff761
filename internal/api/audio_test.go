package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnlockAudioKicksAnnouncer(t *testing.T) {
	t.Parallel()

	audio := &fakeAudio{unlockResult: true, volume: 0.8}
	scheduler := &fakeAnnouncer{depth: 3}
	notifier := &fakeNotifier{}
	s := newTestServer(t, nil,
		WithAudio(audio),
		WithAnnouncer(scheduler),
		WithNotifications(notifier))

	rec := perform(s, http.MethodPost, "/api/v1/audio/unlock", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, true, body["unlocked"])
	assert.InDelta(t, 0.8, body["volume"], 0.001)
	assert.InDelta(t, 3, body["queue_depth"], 0)
	assert.Equal(t, 1, scheduler.kicks())
	assert.Equal(t, 1, notifier.resolveCalls())
}

func TestUnlockAudioFailureLeavesSchedulerAlone(t *testing.T) {
	t.Parallel()

	audio := &fakeAudio{unlockResult: false}
	scheduler := &fakeAnnouncer{}
	notifier := &fakeNotifier{}
	s := newTestServer(t, nil,
		WithAudio(audio),
		WithAnnouncer(scheduler),
		WithNotifications(notifier))

	rec := perform(s, http.MethodPost, "/api/v1/audio/unlock", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, false, decodeBody(t, rec)["unlocked"])
	assert.Equal(t, 0, scheduler.kicks())
	assert.Equal(t, 0, notifier.resolveCalls())
}

func TestSetVolume(t *testing.T) {
	t.Parallel()

	audio := &fakeAudio{volume: 1}
	s := newTestServer(t, nil, WithAudio(audio))

	rec := perform(s, http.MethodPut, "/api/v1/audio/volume", `{"volume":0.35}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.InDelta(t, 0.35, audio.Volume(), 0.001)

	body := decodeBody(t, rec)
	assert.InDelta(t, 0.35, body["volume"], 0.001)
	// No config file is loaded here, so the write-through fails; the volume
	// must still be applied and the failure reported instead of swallowed.
	assert.Equal(t, false, body["persisted"])
	assert.InDelta(t, 0.35, s.settings.Audio.Volume, 0.001)
}

func TestSetVolumeValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
	}{
		{name: "above one", body: `{"volume":1.5}`},
		{name: "negative", body: `{"volume":-0.1}`},
		{name: "not json", body: `volume=0.5`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			audio := &fakeAudio{volume: 0.7}
			s := newTestServer(t, nil, WithAudio(audio))

			rec := perform(s, http.MethodPut, "/api/v1/audio/volume", tt.body, nil)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.InDelta(t, 0.7, audio.Volume(), 0.001)
		})
	}
}

func TestAudioStatusWithoutDevice(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, nil)
	rec := perform(s, http.MethodGet, "/api/v1/audio/status", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

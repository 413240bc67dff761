package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/carebell/carebell-go/internal/conf"
)

// audioStatus reports the playback device state.
type audioStatus struct {
	Unlocked        bool    `json:"unlocked"`
	Volume          float64 `json:"volume"`
	EffectiveVolume float64 `json:"effective_volume"`
	QueueDepth      int     `json:"queue_depth"`
}

func (s *Server) currentAudioStatus() audioStatus {
	status := audioStatus{
		Unlocked:        s.audio.Unlocked(),
		Volume:          s.audio.Volume(),
		EffectiveVolume: s.audio.EffectiveVolume(),
	}
	if s.announcer != nil {
		status.QueueDepth = s.announcer.QueueDepth()
	}
	return status
}

// getAudioStatus handles GET /api/v1/audio/status.
func (s *Server) getAudioStatus(ctx echo.Context) error {
	if s.audio == nil {
		return serviceUnavailable(ctx, "audio device")
	}
	return ctx.JSON(http.StatusOK, s.currentAudioStatus())
}

// unlockAudio handles POST /api/v1/audio/unlock. Browser kiosks call
// this from the operator's first gesture; on success the announcer is
// kicked so anything queued while the device was locked plays out, and
// the blocked-playback prompt is withdrawn.
func (s *Server) unlockAudio(ctx echo.Context) error {
	if s.audio == nil {
		return serviceUnavailable(ctx, "audio device")
	}

	unlocked := s.audio.EnsureUnlocked()
	if unlocked {
		if s.announcer != nil {
			s.announcer.Kick()
		}
		if s.notifications != nil {
			if cleared := s.notifications.ResolvePlaybackBlocked(); cleared > 0 {
				s.logger.Info("blocked playback prompts resolved", "count", cleared)
			}
		}
	} else {
		s.logger.Warn("audio unlock attempt failed", "ip", ctx.RealIP())
	}
	return ctx.JSON(http.StatusOK, s.currentAudioStatus())
}

// volumeRequest is the PUT /api/v1/audio/volume body.
type volumeRequest struct {
	Volume float64 `json:"volume"`
}

// volumeResponse reports the applied state plus whether the new volume
// survived into the config file.
type volumeResponse struct {
	audioStatus
	Persisted bool `json:"persisted"`
}

// setVolume handles PUT /api/v1/audio/volume. The volume is applied in
// memory first and then written through to the config file, comments
// intact; a failed write keeps the applied volume until restart and is
// reported in the response rather than dropped.
func (s *Server) setVolume(ctx echo.Context) error {
	if s.audio == nil {
		return serviceUnavailable(ctx, "audio device")
	}

	var req volumeRequest
	if err := ctx.Bind(&req); err != nil {
		return badRequest(ctx, "invalid request body")
	}
	if req.Volume < 0 || req.Volume > 1 {
		return badRequest(ctx, "volume must be between 0 and 1")
	}

	s.audio.SetVolume(req.Volume)
	s.settings.Audio.Volume = req.Volume

	persisted := true
	if err := conf.SaveSettings(); err != nil {
		persisted = false
		s.logger.Error("volume change not persisted, reverts on restart", "error", err)
	}

	s.logger.Info("volume changed", "volume", req.Volume, "persisted", persisted, "ip", ctx.RealIP())
	return ctx.JSON(http.StatusOK, volumeResponse{
		audioStatus: s.currentAudioStatus(),
		Persisted:   persisted,
	})
}

package audio

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"runtime"
	"strings"
	"time"
	"unsafe"

	"github.com/gen2brain/malgo"
	"github.com/smallnest/ringbuffer"

	"github.com/carebell/carebell-go/internal/errors"
)

const (
	// playbackRingSize stages decoded PCM between the feeder and the
	// device callback.
	playbackRingSize = 64 * 1024
	// feedRetryDelay is slept when the ring is full, roughly one device
	// period.
	feedRetryDelay = 5 * time.Millisecond
	// drainPollInterval paces the wait for the ring to empty at clip end.
	drainPollInterval = 10 * time.Millisecond
	// drainTailDelay lets the device flush its internal period buffers
	// after the ring runs dry, so clip tails are not clipped.
	drainTailDelay = 100 * time.Millisecond
)

// initContext brings up the malgo context and resolves the configured
// output device. Called under p.mu.
func (p *Player) initContext() error {
	var backends []malgo.Backend
	switch runtime.GOOS {
	case "linux":
		backends = []malgo.Backend{malgo.BackendAlsa, malgo.BackendPulseaudio}
	case "windows":
		backends = []malgo.Backend{malgo.BackendWasapi}
	case "darwin":
		backends = []malgo.Backend{malgo.BackendCoreaudio}
	}

	malgoCtx, err := malgo.InitContext(backends, malgo.ContextConfig{}, func(message string) {
		p.logger.Debug("malgo", "message", strings.TrimSpace(message))
	})
	if err != nil {
		return errors.New(err).
			Component("audio").
			Category(errors.CategoryAudioDevice).
			Context("operation", "init_context").
			Build()
	}

	devicePtr, desc, err := selectPlaybackDevice(malgoCtx, p.cfg.Device)
	if err != nil {
		// A misnamed device should not leave the station silent; fall
		// back to the system default output.
		p.logger.Warn("configured output device not found, using default",
			"device", p.cfg.Device, "error", err)
		devicePtr, desc = nil, "default"
	}

	p.malgoCtx = malgoCtx
	p.devicePtr = devicePtr
	p.deviceDesc = desc
	return nil
}

// invalidateContext tears the context down after a device failure so the
// next EnsureUnlocked rebuilds it from scratch.
func (p *Player) invalidateContext() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.unlocked.Store(false)
	if p.malgoCtx != nil {
		_ = p.malgoCtx.Uninit()
		p.malgoCtx.Free()
		p.malgoCtx = nil
	}
	p.devicePtr = nil
	p.deviceDesc = ""
}

// selectPlaybackDevice matches the configured name against the available
// playback devices by decoded ID or name substring.
func selectPlaybackDevice(malgoCtx *malgo.AllocatedContext, name string) (unsafe.Pointer, string, error) {
	if name == "" || name == "default" {
		return nil, "default", nil
	}

	infos, err := malgoCtx.Devices(malgo.Playback)
	if err != nil {
		return nil, "", errors.New(err).
			Component("audio").
			Category(errors.CategoryAudioDevice).
			Context("operation", "list_devices").
			Build()
	}

	for i := range infos {
		info := &infos[i]
		decodedID, err := hexToASCII(info.ID.String())
		if err != nil {
			continue
		}
		if decodedID == name || strings.Contains(info.Name(), name) {
			return info.ID.Pointer(), info.Name(), nil
		}
	}
	return nil, "", errors.Newf("no playback device matches %q", name).
		Component("audio").
		Category(errors.CategoryNotFound).
		Build()
}

// hexToASCII converts a hexadecimal device ID string to ASCII.
func hexToASCII(hexStr string) (string, error) {
	bytes, err := hex.DecodeString(hexStr)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

// playClip opens a playback device matching the clip's format and feeds
// the scaled PCM through a ring buffer into the device callback. Returns
// once the ring has drained and the device has flushed, or when ctx ends.
func (p *Player) playClip(ctx context.Context, clip *Clip, volume float64) error {
	p.mu.Lock()
	malgoCtx := p.malgoCtx
	devicePtr := p.devicePtr
	p.mu.Unlock()
	if malgoCtx == nil {
		return errors.Newf("audio output not initialized").
			Component("audio").
			Category(errors.CategoryAudioDevice).
			Context("sound", clip.Name).
			Build()
	}

	rb := ringbuffer.New(playbackRingSize)
	onSendFrames := func(pOutput, _ []byte, _ uint32) {
		n, _ := rb.Read(pOutput)
		// Silence past what the ring had, never stale bytes.
		for i := n; i < len(pOutput); i++ {
			pOutput[i] = 0
		}
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.Playback.Format = malgo.FormatS16
	deviceConfig.Playback.Channels = uint32(clip.Channels)
	deviceConfig.SampleRate = uint32(clip.SampleRate)
	deviceConfig.Alsa.NoMMap = 1
	deviceConfig.Playback.DeviceID = devicePtr

	device, err := malgo.InitDevice(malgoCtx.Context, deviceConfig, malgo.DeviceCallbacks{Data: onSendFrames})
	if err != nil {
		p.invalidateContext()
		return errors.New(err).
			Component("audio").
			Category(errors.CategoryAudioDevice).
			Context("operation", "init_device").
			Context("sound", clip.Name).
			Build()
	}
	defer device.Uninit()

	if err := device.Start(); err != nil {
		p.invalidateContext()
		return errors.New(err).
			Component("audio").
			Category(errors.CategoryAudioDevice).
			Context("operation", "start_device").
			Context("sound", clip.Name).
			Build()
	}
	defer func() { _ = device.Stop() }()

	pcm := scalePCM(clip.PCM, volume)
	offset := 0
	for offset < len(pcm) {
		n, err := rb.Write(pcm[offset:])
		offset += n
		if err != nil {
			if !errors.Is(err, ringbuffer.ErrIsFull) {
				return errors.New(err).
					Component("audio").
					Category(errors.CategoryPlayback).
					Context("sound", clip.Name).
					Build()
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(feedRetryDelay):
			}
		}
	}

	// All PCM staged; wait for the callback to drain the ring.
	ticker := time.NewTicker(drainPollInterval)
	defer ticker.Stop()
	for rb.Length() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(drainTailDelay):
	}
	return nil
}

// scalePCM applies the volume to interleaved s16le samples. Volume is
// already clamped to [0,1] so the product cannot overflow.
func scalePCM(pcm []byte, volume float64) []byte {
	if volume >= 1 {
		return pcm
	}
	scaled := make([]byte, len(pcm))
	for i := 0; i+1 < len(pcm); i += 2 {
		sample := int16(binary.LittleEndian.Uint16(pcm[i:]))
		binary.LittleEndian.PutUint16(scaled[i:], uint16(int16(float64(sample)*volume)))
	}
	return scaled
}

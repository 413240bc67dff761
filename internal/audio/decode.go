package audio

import (
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/tphakala/flac"

	"github.com/carebell/carebell-go/internal/errors"
)

// Clip is one decoded sound asset: interleaved 16-bit little-endian PCM
// plus the format needed to open a matching output device.
type Clip struct {
	Name       string
	Path       string
	SampleRate int
	Channels   int
	Duration   time.Duration
	PCM        []byte
}

// decodeReadSize is the PCM buffer size for WAV decoding, in samples.
const decodeReadSize = 8192

// decodeFile decodes a sound file into a Clip. Announcement assets are
// provisioned as WAV or FLAC; anything else is rejected so a bad master
// file shows up at preload instead of at playback time.
func decodeFile(path string) (*Clip, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		return decodeWAV(path)
	case ".flac":
		return decodeFLAC(path)
	default:
		return nil, errors.Newf("unsupported audio format %q, transcode to wav or flac", filepath.Ext(path)).
			Component("audio").
			Category(errors.CategoryValidation).
			FileContext(path, 0).
			Build()
	}
}

func decodeWAV(path string) (*Clip, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, openError(path, err)
	}
	defer file.Close()

	decoder := wav.NewDecoder(file)
	decoder.ReadInfo()
	if !decoder.IsValidFile() {
		return nil, decodeError(path, errors.NewStd("not a valid WAV file"))
	}
	bitDepth := int(decoder.BitDepth)
	channels := int(decoder.NumChans)
	sampleRate := int(decoder.SampleRate)
	if err := validateFormat(path, bitDepth, channels, sampleRate); err != nil {
		return nil, err
	}

	buf := &audio.IntBuffer{
		Data:   make([]int, decodeReadSize),
		Format: &audio.Format{SampleRate: sampleRate, NumChannels: channels},
	}

	var pcm []byte
	for {
		n, err := decoder.PCMBuffer(buf)
		if err != nil {
			return nil, decodeError(path, err)
		}
		if n == 0 {
			break
		}
		for _, sample := range buf.Data[:n] {
			pcm = binary.LittleEndian.AppendUint16(pcm, uint16(sampleToS16(sample, bitDepth)))
		}
	}

	return newClip(path, sampleRate, channels, pcm), nil
}

func decodeFLAC(path string) (*Clip, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, openError(path, err)
	}
	defer file.Close()

	decoder, err := flac.NewDecoder(file)
	if err != nil {
		return nil, decodeError(path, err)
	}
	bitDepth := decoder.BitsPerSample
	channels := decoder.NChannels
	if err := validateFormat(path, bitDepth, channels, decoder.SampleRate); err != nil {
		return nil, err
	}

	step := bitDepth / 8
	var pcm []byte
	for {
		frame, err := decoder.Next()
		if err == io.EOF {
			break
		} else if err != nil {
			return nil, decodeError(path, err)
		}
		for i := 0; i+step <= len(frame); i += step {
			var sample int
			switch bitDepth {
			case 16:
				sample = int(int16(binary.LittleEndian.Uint16(frame[i:])))
			case 24:
				sample = int(int32(frame[i]) | int32(frame[i+1])<<8 | int32(int8(frame[i+2]))<<16)
			case 32:
				sample = int(int32(binary.LittleEndian.Uint32(frame[i:])))
			}
			pcm = binary.LittleEndian.AppendUint16(pcm, uint16(sampleToS16(sample, bitDepth)))
		}
	}

	return newClip(path, decoder.SampleRate, channels, pcm), nil
}

func newClip(path string, sampleRate, channels int, pcm []byte) *Clip {
	frames := len(pcm) / (2 * channels)
	return &Clip{
		Name:       filepath.Base(path),
		Path:       path,
		SampleRate: sampleRate,
		Channels:   channels,
		Duration:   time.Duration(frames) * time.Second / time.Duration(sampleRate),
		PCM:        pcm,
	}
}

// sampleToS16 narrows a decoded sample to 16 bits by dropping the extra
// precision of 24 and 32 bit sources.
func sampleToS16(sample, bitDepth int) int16 {
	switch bitDepth {
	case 24:
		return int16(sample >> 8)
	case 32:
		return int16(sample >> 16)
	default:
		return int16(sample)
	}
}

func validateFormat(path string, bitDepth, channels, sampleRate int) error {
	// A zero rate in the header would divide by zero in the duration math.
	if sampleRate <= 0 {
		return errors.Newf("invalid sample rate: %d", sampleRate).
			Component("audio").
			Category(errors.CategoryAudioDecode).
			FileContext(path, 0).
			Build()
	}
	if bitDepth != 16 && bitDepth != 24 && bitDepth != 32 {
		return errors.Newf("unsupported bit depth: %d", bitDepth).
			Component("audio").
			Category(errors.CategoryAudioDecode).
			FileContext(path, 0).
			Build()
	}
	if channels != 1 && channels != 2 {
		return errors.Newf("unsupported number of channels: %d", channels).
			Component("audio").
			Category(errors.CategoryAudioDecode).
			FileContext(path, 0).
			Build()
	}
	return nil
}

func openError(path string, err error) error {
	return errors.New(err).
		Component("audio").
		Category(errors.CategoryFileIO).
		Context("operation", "open_sound").
		FileContext(path, 0).
		Build()
}

func decodeError(path string, err error) error {
	return errors.New(err).
		Component("audio").
		Category(errors.CategoryAudioDecode).
		Context("operation", "decode_sound").
		FileContext(path, 0).
		Build()
}

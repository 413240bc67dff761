package audio

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/require"
)

// writeTestWAV writes a 16-bit PCM WAV file with the given number of
// frames of a small ramp signal and returns its path.
func writeTestWAV(t *testing.T, dir, name string, sampleRate, channels, frames int) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)

	enc := wav.NewEncoder(f, sampleRate, 16, channels, 1)
	data := make([]int, frames*channels)
	for i := range data {
		data[i] = (i % 2000) - 1000
	}
	require.NoError(t, enc.Write(&audio.IntBuffer{
		Data:   data,
		Format: &audio.Format{SampleRate: sampleRate, NumChannels: channels},
	}))
	require.NoError(t, enc.Close())
	require.NoError(t, f.Close())
	return path
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

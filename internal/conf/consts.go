// conf/consts.go hard coded constants
package conf

const (
	SampleRate  = 44100 // Sample rate of the playback mixer output
	BitDepth    = 16    // Bit depth of the playback mixer output
	NumChannels = 2     // Number of channels of the playback mixer output

	// DefaultSoundExtensions are the announcement file types the decoder accepts.
	DefaultWavExtension  = ".wav"
	DefaultFlacExtension = ".flac"
)

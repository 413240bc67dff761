package conf

import (
	"testing"

	"github.com/spf13/viper"
)

// TestDefaultConfig verifies the default configuration tree carries the
// documented pacing and dedup values.
func TestDefaultConfig(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setDefaultConfig()

	tests := []struct {
		key  string
		want any
	}{
		{"main.name", "CareBell-Go"},
		{"main.timeas24h", true},
		{"audio.volume", 1.0},
		{"audio.device", "default"},
		{"announcer.pausems", 3500},
		{"announcer.interruptinflight", false},
		{"announcer.queuesize", 64},
		{"tracker.transientwindowms", 1500},
		{"tracker.standbypulses", 5},
		{"history.path", "history.json"},
		{"history.flushms", 1000},
		{"notification.title", "Nurse Call"},
		{"notification.desktop.enabled", true},
		{"feeds.tcp.enabled", true},
		{"feeds.mqtt.enabled", false},
		{"mqtt.enabled", false},
		{"sentry.enabled", false},
		{"telemetry.enabled", false},
		{"webserver.port", "8080"},
		{"backup.enabled", false},
		{"backup.retention.maxage", "30d"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			got := viper.Get(tt.key)
			switch want := tt.want.(type) {
			case int:
				if viper.GetInt(tt.key) != want {
					t.Errorf("default %s = %v, want %d", tt.key, got, want)
				}
			case float64:
				if viper.GetFloat64(tt.key) != want {
					t.Errorf("default %s = %v, want %g", tt.key, got, want)
				}
			case bool:
				if viper.GetBool(tt.key) != want {
					t.Errorf("default %s = %v, want %t", tt.key, got, want)
				}
			case string:
				if viper.GetString(tt.key) != want {
					t.Errorf("default %s = %v, want %q", tt.key, got, want)
				}
			}
		})
	}
}

// TestDefaultsUnmarshal verifies the default tree unmarshals into Settings
// and passes validation without a config file.
func TestDefaultsUnmarshal(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setDefaultConfig()

	settings := &Settings{}
	if err := viper.Unmarshal(settings); err != nil {
		t.Fatalf("unmarshal defaults: %v", err)
	}

	if err := ValidateSettings(settings); err != nil {
		t.Fatalf("defaults should validate cleanly, got: %v", err)
	}

	if settings.Announcer.PauseMs != 3500 {
		t.Errorf("Announcer.PauseMs = %d, want 3500", settings.Announcer.PauseMs)
	}
	if settings.Announcer.InterruptInFlight {
		t.Error("Announcer.InterruptInFlight should default to false")
	}
	if settings.Tracker.TransientWindowMs != 1500 {
		t.Errorf("Tracker.TransientWindowMs = %d, want 1500", settings.Tracker.TransientWindowMs)
	}
	if settings.Audio.Volume != 1.0 {
		t.Errorf("Audio.Volume = %g, want 1.0", settings.Audio.Volume)
	}
}

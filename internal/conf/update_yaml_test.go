package conf

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const updateTestConfig = `# CareBell-Go configuration
# Edit with care, the service reads this at startup.

debug: false

main:
  name: CareBell-Go # name of node
  timeas24h: true

audio:
  device: default
  volume: 1.0 # master playback volume
  soundspath: sounds/

announcer:
  pausems: 3500 # silence between announcements
  interruptinflight: false

custom:
  operatornote: keep this line
`

func writeUpdateTestConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(updateTestConfig), 0o644); err != nil {
		t.Fatalf("write test config: %v", err)
	}
	return path
}

func TestUpdateYAMLConfigPreservesCommentsAndUnknownKeys(t *testing.T) {
	path := writeUpdateTestConfig(t)

	settings := &Settings{}
	settings.Main.Name = "Ward-3"
	settings.Main.TimeAs24h = true
	settings.Audio.Device = "default"
	settings.Audio.Volume = 0.75
	settings.Audio.SoundsPath = "sounds/"
	settings.Announcer.PauseMs = 2500

	if err := UpdateYAMLConfig(path, settings); err != nil {
		t.Fatalf("UpdateYAMLConfig: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read updated config: %v", err)
	}
	content := string(data)

	// Header comment survives
	if !strings.Contains(content, "# Edit with care") {
		t.Error("header comment was lost")
	}

	// Inline comments survive next to updated values
	if !strings.Contains(content, "volume: 0.75 # master playback volume") {
		t.Errorf("volume not updated with comment preserved:\n%s", content)
	}
	if !strings.Contains(content, "pausems: 2500 # silence between announcements") {
		t.Errorf("pausems not updated with comment preserved:\n%s", content)
	}
	if !strings.Contains(content, "name: Ward-3 # name of node") {
		t.Errorf("name not updated with comment preserved:\n%s", content)
	}

	// Keys absent from the settings struct pass through untouched
	if !strings.Contains(content, "operatornote: keep this line") {
		t.Error("unknown key was dropped")
	}
}

func TestUpdateYAMLConfigMissingFileFallsBackToFullWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	settings := &Settings{}
	settings.Main.Name = "Ward-9"
	settings.Audio.SoundsPath = "sounds/"

	if err := UpdateYAMLConfig(path, settings); err != nil {
		t.Fatalf("UpdateYAMLConfig on missing file: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read created config: %v", err)
	}
	if !strings.Contains(string(data), "Ward-9") {
		t.Error("created config missing written settings")
	}
}

func TestFlattenValueSkipsRuntimeFields(t *testing.T) {
	settings := &Settings{}
	settings.Version = "v1.2.3"
	settings.Main.Name = "Ward-1"

	m := createSettingsMap(settings)

	if _, ok := m["version"]; ok {
		t.Error("runtime-only version field should not be flattened")
	}
	if got, ok := m["main.name"]; !ok || got != "Ward-1" {
		t.Errorf("main.name = %v, want Ward-1", got)
	}
	if _, ok := m["announcer.pausems"]; !ok {
		t.Error("nested scalar announcer.pausems missing from flat map")
	}
	// Slices stay out of the flat map
	if _, ok := m["notification.providers"]; ok {
		t.Error("slice field should not be flattened")
	}
}

func TestFormatYAMLValue(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  string
	}{
		{"plain string", "sounds/", "sounds/"},
		{"empty string quoted", "", `""`},
		{"string with colon quoted", "tcp://localhost:1883", `"tcp://localhost:1883"`},
		{"bool", true, "true"},
		{"int", 3500, "3500"},
		{"float", 0.75, "0.75"},
		{"rotation type", RotationDaily, "daily"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := formatYAMLValue(tt.value); got != tt.want {
				t.Errorf("formatYAMLValue(%v) = %q, want %q", tt.value, got, tt.want)
			}
		})
	}
}

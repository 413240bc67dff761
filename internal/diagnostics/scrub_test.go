package diagnostics

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRedactConfigYAML(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		line        string
		mustNotLeak string
		mustKeep    string
	}{
		{
			name:        "password masked",
			line:        "  password: s3cret",
			mustNotLeak: "s3cret",
			mustKeep:    "  password: ",
		},
		{
			name:        "bearer token hash masked",
			line:        "  bearertokenhash: $2a$10$abcdefghij",
			mustNotLeak: "$2a$10$abcdefghij",
			mustKeep:    "  bearertokenhash: ",
		},
		{
			name:        "broker masked",
			line:        "  broker: tcp://nurse:pw@broker.ward.local:1883",
			mustNotLeak: "broker.ward.local",
			mustKeep:    "  broker: ",
		},
		{
			name:        "provider url masked",
			line:        "    url: telegram://token@telegram?chats=@oncall",
			mustNotLeak: "token@telegram",
			mustKeep:    "    url: ",
		},
		{
			name:        "sentry dsn masked",
			line:        "  dsn: https://abc123@sentry.example/42",
			mustNotLeak: "abc123",
			mustKeep:    "  dsn: ",
		},
		{
			name:        "node name masked",
			line:        "  name: Ward-7-Station",
			mustNotLeak: "Ward-7-Station",
			mustKeep:    "  name: ",
		},
		{
			name:        "site latitude masked",
			line:        "    latitude: 60.1699",
			mustNotLeak: "60.1699",
			mustKeep:    "    latitude: ",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := redactConfigYAML(tt.line)
			assert.NotContains(t, got, tt.mustNotLeak)
			assert.True(t, strings.HasPrefix(got, tt.mustKeep), "got %q", got)
			assert.Contains(t, got, "*")
		})
	}
}

func TestRedactConfigYAMLKeepsLocalEndpoints(t *testing.T) {
	t.Parallel()

	content := strings.Join([]string{
		"feeds:",
		"  tcp:",
		"    listen: 127.0.0.1:8700",
		"telemetry:",
		"    listen: 0.0.0.0:8090",
	}, "\n")

	assert.Equal(t, content, redactConfigYAML(content))
}

func TestRedactConfigYAMLMasksRemoteEndpoints(t *testing.T) {
	t.Parallel()

	got := redactConfigYAML("    listen: 192.168.1.5:8700")
	assert.NotContains(t, got, "192.168.1.5")

	got = redactConfigYAML("    endpoint: https://hooks.example.org/carebell")
	assert.NotContains(t, got, "hooks.example.org")
	assert.Contains(t, got, "https://", "the scheme should stay readable")
}

func TestRedactConfigYAMLLeavesStructureAlone(t *testing.T) {
	t.Parallel()

	content := strings.Join([]string{
		"announcer:",
		"  pausems: 3500",
		"  queuesize: 64",
		"history:",
		"  path: history.json",
	}, "\n")

	assert.Equal(t, content, redactConfigYAML(content))
}

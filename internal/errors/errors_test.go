package errors

import (
	"fmt"
	"strings"
	"testing"
)

func TestFastPathNoTelemetry(t *testing.T) {
	t.Parallel()

	// No telemetry reporter and no event publisher: Build takes the fast path
	err := fmt.Errorf("test error")
	ee := New(err).Build()

	if ee.Err.Error() != "test error" {
		t.Errorf("Expected error message 'test error', got '%s'", ee.Err.Error())
	}

	if ee.GetComponent() != ComponentUnknown {
		t.Errorf("Expected component 'unknown' in fast path, got '%s'", ee.GetComponent())
	}

	if ee.Category != CategoryGeneric {
		t.Errorf("Expected category 'generic' in fast path, got '%s'", ee.Category)
	}
}

func TestBuilderFields(t *testing.T) {
	t.Parallel()

	ee := Newf("device init failed: %s", "alsa").
		Component("audio").
		Category(CategoryAudioDevice).
		Priority(PriorityHigh).
		Context("backend", "alsa").
		CallContext("101").
		Build()

	if ee.GetComponent() != "audio" {
		t.Errorf("Expected component 'audio', got '%s'", ee.GetComponent())
	}
	if ee.Category != CategoryAudioDevice {
		t.Errorf("Expected category audio-device, got '%s'", ee.Category)
	}
	if ee.GetPriority() != PriorityHigh {
		t.Errorf("Expected priority high, got '%s'", ee.GetPriority())
	}

	ctx := ee.GetContext()
	if ctx["backend"] != "alsa" {
		t.Errorf("Expected context backend=alsa, got %v", ctx["backend"])
	}
	if ctx["call_code"] != "101" {
		t.Errorf("Expected context call_code=101, got %v", ctx["call_code"])
	}

	// GetContext returns a copy; mutating it must not affect the error
	ctx["backend"] = "mutated"
	if ee.GetContext()["backend"] != "alsa" {
		t.Error("GetContext must return a defensive copy")
	}
}

func TestInvalidPriorityFallsBack(t *testing.T) {
	t.Parallel()

	ee := Newf("x").Priority("urgent!!").Build()
	if ee.GetPriority() != PriorityMedium {
		t.Errorf("Invalid priority should fall back to medium, got '%s'", ee.GetPriority())
	}
}

func TestIsMatchesCategory(t *testing.T) {
	t.Parallel()

	a := Newf("missing record").Category(CategoryNotFound).Build()
	b := Newf("different text").Category(CategoryNotFound).Build()

	if !Is(a, b) {
		t.Error("Enhanced errors with the same category should match via Is")
	}
	if !IsNotFound(a) {
		t.Error("IsNotFound should report true for CategoryNotFound")
	}
	if IsCategory(a, CategoryFileIO) {
		t.Error("IsCategory should not match a different category")
	}
}

func TestUnwrapPreservesSentinel(t *testing.T) {
	t.Parallel()

	sentinel := NewStd("history file missing")
	wrapped := New(fmt.Errorf("read failed: %w", sentinel)).Category(CategoryHistory).Build()

	if !Is(wrapped, sentinel) {
		t.Error("Is should see through EnhancedError to the wrapped sentinel")
	}

	var ee *EnhancedError
	if !As(wrapped, &ee) {
		t.Error("As should extract the EnhancedError")
	}
}

func TestBasicURLScrub(t *testing.T) {
	t.Parallel()

	scrubbed := basicURLScrub("Error at https://chat.example.com?api_key=secret123&token=abc")
	if strings.Contains(scrubbed, "secret123") {
		t.Errorf("URL query scrubbing failed: %s", scrubbed)
	}

	scrubbed = basicURLScrub("Config error: api_key=secret123 is invalid")
	if !strings.Contains(scrubbed, "[API_KEY_REDACTED]") {
		t.Errorf("API key scrubbing failed: %s", scrubbed)
	}

	scrubbed = basicURLScrub("device_id=station-7 rejected")
	if strings.Contains(scrubbed, "station-7") {
		t.Errorf("Device id scrubbing failed: %s", scrubbed)
	}
}

func TestDetectCategoryHeuristics(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		err      error
		comp     string
		expected ErrorCategory
	}{
		{"decode", fmt.Errorf("wav decode failed"), "", CategoryAudioDecode},
		{"file", fmt.Errorf("cannot open state dir"), "", CategoryFileIO},
		{"network", fmt.Errorf("dial tcp: refused"), "", CategoryNetwork},
		{"validation", fmt.Errorf("invalid code"), "", CategoryValidation},
		{"component history", fmt.Errorf("boom"), "history", CategoryHistory},
		{"component announcer", fmt.Errorf("boom"), "announcer", CategoryAnnouncer},
		{"fallback", fmt.Errorf("boom"), "", CategoryGeneric},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := detectCategory(tc.err, tc.comp); got != tc.expected {
				t.Errorf("detectCategory(%q, %q) = %s, want %s", tc.err, tc.comp, got, tc.expected)
			}
		})
	}
}

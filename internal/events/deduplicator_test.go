package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newDedupeConfig returns a config without the cleanup goroutine so tests
// control expiry explicitly
func newDedupeConfig(ttl time.Duration, maxEntries int) *DeduplicationConfig {
	return &DeduplicationConfig{
		Enabled:    true,
		TTL:        ttl,
		MaxEntries: maxEntries,
	}
}

func dedupeEvent(component, category, message string, ctx map[string]any) *mockErrorEvent {
	return &mockErrorEvent{
		component: component,
		category:  category,
		message:   message,
		context:   ctx,
		timestamp: time.Now(),
	}
}

func TestDeduplicatorFirstOccurrence(t *testing.T) {
	t.Parallel()

	ed := NewErrorDeduplicator(newDedupeConfig(time.Minute, 100), newTestLogger())
	t.Cleanup(ed.Shutdown)

	event := dedupeEvent("history", "file-io", "write failed", nil)
	assert.True(t, ed.ShouldProcess(event), "first occurrence should be processed")

	stats := ed.GetStats()
	assert.Equal(t, uint64(1), stats.TotalSeen)
	assert.Equal(t, uint64(0), stats.TotalSuppressed)
	assert.Equal(t, uint64(1), stats.CacheMisses)
	assert.Equal(t, 1, stats.CacheSize)
}

func TestDeduplicatorSuppressesWithinTTL(t *testing.T) {
	t.Parallel()

	ed := NewErrorDeduplicator(newDedupeConfig(time.Minute, 100), newTestLogger())
	t.Cleanup(ed.Shutdown)

	assert.True(t, ed.ShouldProcess(dedupeEvent("history", "file-io", "write failed", nil)))
	assert.False(t, ed.ShouldProcess(dedupeEvent("history", "file-io", "write failed", nil)))
	assert.False(t, ed.ShouldProcess(dedupeEvent("history", "file-io", "write failed", nil)))

	stats := ed.GetStats()
	assert.Equal(t, uint64(3), stats.TotalSeen)
	assert.Equal(t, uint64(2), stats.TotalSuppressed)
	assert.Equal(t, uint64(2), stats.CacheHits)
	assert.Equal(t, 1, stats.CacheSize)
}

func TestDeduplicatorDistinctSignatures(t *testing.T) {
	t.Parallel()

	ed := NewErrorDeduplicator(newDedupeConfig(time.Minute, 100), newTestLogger())
	t.Cleanup(ed.Shutdown)

	events := []*mockErrorEvent{
		dedupeEvent("history", "file-io", "write failed", nil),
		dedupeEvent("history", "file-io", "read failed", nil),
		dedupeEvent("audio", "file-io", "write failed", nil),
		dedupeEvent("history", "state", "write failed", nil),
		dedupeEvent("history", "file-io", "write failed", map[string]any{"call_code": "101"}),
		dedupeEvent("history", "file-io", "write failed", map[string]any{"call_code": "102"}),
		dedupeEvent("notification", "notification", "send failed", map[string]any{"provider": "telegram"}),
		dedupeEvent("notification", "notification", "send failed", map[string]any{"provider": "discord"}),
	}

	for i, event := range events {
		assert.True(t, ed.ShouldProcess(event), "event %d should be distinct", i)
	}

	stats := ed.GetStats()
	assert.Equal(t, uint64(0), stats.TotalSuppressed)
	assert.Equal(t, len(events), stats.CacheSize)
}

func TestDeduplicatorTTLExpiry(t *testing.T) {
	t.Parallel()

	ed := NewErrorDeduplicator(newDedupeConfig(30*time.Millisecond, 100), newTestLogger())
	t.Cleanup(ed.Shutdown)

	assert.True(t, ed.ShouldProcess(dedupeEvent("feed", "network", "connection lost", nil)))
	assert.False(t, ed.ShouldProcess(dedupeEvent("feed", "network", "connection lost", nil)))

	time.Sleep(50 * time.Millisecond)

	assert.True(t, ed.ShouldProcess(dedupeEvent("feed", "network", "connection lost", nil)),
		"idle past the TTL should count as a fresh occurrence")
}

func TestDeduplicatorDisabled(t *testing.T) {
	t.Parallel()

	ed := NewErrorDeduplicator(&DeduplicationConfig{Enabled: false}, newTestLogger())
	t.Cleanup(ed.Shutdown)

	for range 5 {
		assert.True(t, ed.ShouldProcess(dedupeEvent("history", "file-io", "write failed", nil)))
	}

	stats := ed.GetStats()
	assert.Equal(t, uint64(0), stats.TotalSeen, "disabled deduplicator should not track anything")
	assert.Equal(t, 0, stats.CacheSize)
}

func TestDeduplicatorEviction(t *testing.T) {
	t.Parallel()

	ed := NewErrorDeduplicator(newDedupeConfig(time.Minute, 3), newTestLogger())
	t.Cleanup(ed.Shutdown)

	require.True(t, ed.ShouldProcess(dedupeEvent("a", "state", "one", nil)))
	time.Sleep(2 * time.Millisecond)
	require.True(t, ed.ShouldProcess(dedupeEvent("b", "state", "two", nil)))
	time.Sleep(2 * time.Millisecond)
	require.True(t, ed.ShouldProcess(dedupeEvent("c", "state", "three", nil)))
	time.Sleep(2 * time.Millisecond)

	// Touch the first signature so the second becomes the oldest
	require.False(t, ed.ShouldProcess(dedupeEvent("a", "state", "one", nil)))
	time.Sleep(2 * time.Millisecond)

	// A fourth signature evicts the least recently seen one
	require.True(t, ed.ShouldProcess(dedupeEvent("d", "state", "four", nil)))
	assert.Equal(t, 3, ed.GetStats().CacheSize)

	// The evicted signature is treated as new again; the touched one is not
	assert.True(t, ed.ShouldProcess(dedupeEvent("b", "state", "two", nil)))
	assert.False(t, ed.ShouldProcess(dedupeEvent("a", "state", "one", nil)))
}

func TestDeduplicatorCleanup(t *testing.T) {
	t.Parallel()

	ed := NewErrorDeduplicator(newDedupeConfig(10*time.Millisecond, 100), newTestLogger())
	t.Cleanup(ed.Shutdown)

	require.True(t, ed.ShouldProcess(dedupeEvent("history", "file-io", "write failed", nil)))
	require.True(t, ed.ShouldProcess(dedupeEvent("audio", "audio-decode", "decode failed", nil)))
	require.Equal(t, 2, ed.GetStats().CacheSize)

	time.Sleep(25 * time.Millisecond)
	ed.cleanup()

	assert.Equal(t, 0, ed.GetStats().CacheSize)
}

func TestDeduplicatorSignatureStability(t *testing.T) {
	t.Parallel()

	ed := NewErrorDeduplicator(newDedupeConfig(time.Minute, 100), newTestLogger())
	t.Cleanup(ed.Shutdown)

	a := dedupeEvent("tracker", "event-tracking", "duplicate trigger", map[string]any{"call_code": "101", "operation": "handle_trigger"})
	b := dedupeEvent("tracker", "event-tracking", "duplicate trigger", map[string]any{"call_code": "101", "operation": "handle_trigger"})
	c := dedupeEvent("tracker", "event-tracking", "duplicate trigger", map[string]any{"call_code": "101", "operation": "handle_response"})

	assert.Equal(t, ed.signature(a), ed.signature(b), "identical identity fields must hash identically")
	assert.NotEqual(t, ed.signature(a), ed.signature(c), "operation is part of the identity")
}

func TestDeduplicatorShutdownIdempotent(t *testing.T) {
	t.Parallel()

	ed := NewErrorDeduplicator(&DeduplicationConfig{
		Enabled:         true,
		TTL:             time.Minute,
		MaxEntries:      10,
		CleanupInterval: 10 * time.Millisecond,
	}, newTestLogger())

	ed.Shutdown()
	ed.Shutdown() // must not panic or block
}

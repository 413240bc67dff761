package tracker

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carebell/carebell-go/internal/conf"
	"github.com/carebell/carebell-go/internal/events"
	"github.com/carebell/carebell-go/internal/registry"
)

type enqueuedStack struct {
	code  string
	files []string
}

type fakeAnnouncer struct {
	mu       sync.Mutex
	enqueued []enqueuedStack
	dropped  []string
}

func (f *fakeAnnouncer) EnqueueStack(code string, files []string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enqueued = append(f.enqueued, enqueuedStack{code: code, files: files})
	return true
}

func (f *fakeAnnouncer) DropByCode(code string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dropped = append(f.dropped, code)
	return 0
}

type fakeHistory struct {
	mu         sync.Mutex
	started    []string
	completed  []string
	startTimes map[string]time.Time
}

func (f *fakeHistory) StartCall(code, room, bed string, startedAt time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, code)
	if f.startTimes == nil {
		f.startTimes = make(map[string]time.Time)
	}
	f.startTimes[code] = startedAt
}

func (f *fakeHistory) CompleteCall(code string, endedAt time.Time) (time.Time, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = append(f.completed, code)
	started, ok := f.startTimes[code]
	delete(f.startTimes, code)
	return started, ok
}

type notice struct {
	title string
	body  string
}

type fakeNotifier struct {
	mu    sync.Mutex
	notes []notice
}

func (f *fakeNotifier) NotifyUser(title, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notes = append(f.notes, notice{title: title, body: body})
}

type fakeChat struct {
	mu       sync.Mutex
	messages []string
	fail     bool
}

func (f *fakeChat) SendChatMessage(text string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, text)
	return !f.fail
}

type fakeDirectory map[string]registry.Entry

func (f fakeDirectory) Lookup(code string) (registry.Entry, bool) {
	entry, ok := f[code]
	return entry, ok
}

type testHarness struct {
	tracker   *Tracker
	announcer *fakeAnnouncer
	history   *fakeHistory
	notifier  *fakeNotifier
	chat      *fakeChat
}

func newTestTracker(t *testing.T, cfg conf.TrackerSettings, opts ...Option) *testHarness {
	t.Helper()

	h := &testHarness{
		announcer: &fakeAnnouncer{},
		history:   &fakeHistory{},
		notifier:  &fakeNotifier{},
		chat:      &fakeChat{},
	}
	opts = append([]Option{WithNotifier(h.notifier), WithChatSender(h.chat)}, opts...)
	h.tracker = New(cfg, h.announcer, h.history, opts...)

	// Most tests exercise the connected path.
	require.NoError(t, h.tracker.ProcessCallEvent(events.NewConnectivityEvent(true, "COM3", "test")))
	return h
}

func triggerEvent(t *testing.T, code string, files []string, room, bed string) events.CallEvent {
	t.Helper()
	event, err := events.NewTriggerEvent(code, files, room, bed, "", "test")
	require.NoError(t, err)
	return event
}

func responseEvent(t *testing.T, code string) events.CallEvent {
	t.Helper()
	event, err := events.NewResponseEvent(code, "", "test")
	require.NoError(t, err)
	return event
}

func TestTriggerSideEffectsExactlyOnce(t *testing.T) {
	t.Parallel()

	h := newTestTracker(t, conf.TrackerSettings{})
	event := triggerEvent(t, "101", []string{"nc.wav", "kamar.wav"}, "Bougenville", "01")

	require.NoError(t, h.tracker.ProcessCallEvent(event))
	// Duplicate frames for a call awaiting response are ignored.
	require.NoError(t, h.tracker.ProcessCallEvent(triggerEvent(t, "101", []string{"nc.wav"}, "Bougenville", "01")))
	require.NoError(t, h.tracker.ProcessCallEvent(triggerEvent(t, "101", nil, "", "")))

	require.Len(t, h.announcer.enqueued, 1)
	assert.Equal(t, "101", h.announcer.enqueued[0].code)
	assert.Equal(t, []string{"nc.wav", "kamar.wav"}, h.announcer.enqueued[0].files)

	require.Len(t, h.notifier.notes, 1)
	assert.Equal(t, "Nurse Call", h.notifier.notes[0].title)
	assert.Equal(t, "Bougenville - 01", h.notifier.notes[0].body)

	require.Len(t, h.chat.messages, 1)
	assert.Equal(t, "Nurse call: Bougenville - 01", h.chat.messages[0])

	assert.Equal(t, []string{"101"}, h.history.started)

	stats := h.tracker.Stats()
	assert.Equal(t, uint64(1), stats.Triggered)
	assert.Equal(t, uint64(2), stats.SuppressedTriggers)
	assert.Equal(t, 1, stats.ActiveCalls)
}

func TestTriggerIgnoredWhileDisconnected(t *testing.T) {
	t.Parallel()

	h := newTestTracker(t, conf.TrackerSettings{})
	require.NoError(t, h.tracker.ProcessCallEvent(events.NewConnectivityEvent(false, "", "test")))

	require.NoError(t, h.tracker.ProcessCallEvent(triggerEvent(t, "101", []string{"nc.wav"}, "", "")))

	assert.Empty(t, h.announcer.enqueued)
	assert.Empty(t, h.notifier.notes)
	assert.Empty(t, h.chat.messages)
	assert.Empty(t, h.history.started)
	assert.Empty(t, h.tracker.ActiveSnapshot())
	assert.Equal(t, uint64(1), h.tracker.Stats().IgnoredDisconnected)

	// Reconnecting restores the trigger path.
	require.NoError(t, h.tracker.ProcessCallEvent(events.NewConnectivityEvent(true, "COM3", "test")))
	require.NoError(t, h.tracker.ProcessCallEvent(triggerEvent(t, "101", []string{"nc.wav"}, "", "")))
	assert.Len(t, h.announcer.enqueued, 1)
}

func TestResponseClosesCallExactlyOnce(t *testing.T) {
	t.Parallel()

	h := newTestTracker(t, conf.TrackerSettings{})
	require.NoError(t, h.tracker.ProcessCallEvent(triggerEvent(t, "101", []string{"nc.wav"}, "Bougenville", "01")))

	require.NoError(t, h.tracker.ProcessCallEvent(responseEvent(t, "101")))
	// Duplicate response frames are swallowed by the sent marker.
	require.NoError(t, h.tracker.ProcessCallEvent(responseEvent(t, "101")))
	require.NoError(t, h.tracker.ProcessCallEvent(responseEvent(t, "101")))

	assert.Empty(t, h.tracker.ActiveSnapshot())
	assert.Equal(t, []string{"101"}, h.announcer.dropped)
	assert.Equal(t, []string{"101"}, h.history.completed)

	// One trigger notice plus one completion notice.
	require.Len(t, h.notifier.notes, 2)
	assert.Equal(t, "Call Completed", h.notifier.notes[1].title)
	assert.True(t, strings.HasPrefix(h.notifier.notes[1].body, "Bougenville - 01"))

	require.Len(t, h.chat.messages, 2)
	assert.True(t, strings.HasPrefix(h.chat.messages[1], "Call completed: Bougenville - 01"))

	stats := h.tracker.Stats()
	assert.Equal(t, uint64(1), stats.Completed)
	assert.Equal(t, uint64(2), stats.SuppressedResponses)
}

func TestTransientWindowSwallowsRetriggerAfterClose(t *testing.T) {
	t.Parallel()

	h := newTestTracker(t, conf.TrackerSettings{TransientWindowMs: 60})

	require.NoError(t, h.tracker.ProcessCallEvent(triggerEvent(t, "101", []string{"nc.wav"}, "", "")))
	require.NoError(t, h.tracker.ProcessCallEvent(responseEvent(t, "101")))

	// A duplicate trigger frame right after the response is transport noise.
	require.NoError(t, h.tracker.ProcessCallEvent(triggerEvent(t, "101", []string{"nc.wav"}, "", "")))
	assert.Len(t, h.announcer.enqueued, 1)
	assert.Equal(t, uint64(1), h.tracker.Stats().SuppressedTriggers)

	// A genuinely new call for the same code is accepted once the window passes.
	time.Sleep(90 * time.Millisecond)
	require.NoError(t, h.tracker.ProcessCallEvent(triggerEvent(t, "101", []string{"nc.wav"}, "", "")))
	assert.Len(t, h.announcer.enqueued, 2)
	assert.Len(t, h.tracker.ActiveSnapshot(), 1)
}

func TestResponseDurationFallsBackToHistory(t *testing.T) {
	t.Parallel()

	h := newTestTracker(t, conf.TrackerSettings{})

	// Simulate a restart: history knows the call, in-memory state does not.
	h.history.StartCall("101", "Bougenville", "01", time.Now().Add(-42*time.Second))
	h.history.mu.Lock()
	h.history.started = nil
	h.history.mu.Unlock()

	require.NoError(t, h.tracker.ProcessCallEvent(responseEvent(t, "101")))

	require.Len(t, h.notifier.notes, 1)
	assert.Contains(t, h.notifier.notes[0].body, "(42s)")
	require.Len(t, h.chat.messages, 1)
	assert.Contains(t, h.chat.messages[0], "after 42s")
}

func TestResponseForUnknownCallStillNotifies(t *testing.T) {
	t.Parallel()

	directory := fakeDirectory{
		"101": {Code: "101", Room: "Bougenville", Bed: "01"},
	}
	h := newTestTracker(t, conf.TrackerSettings{}, WithDirectory(directory))

	require.NoError(t, h.tracker.ProcessCallEvent(responseEvent(t, "101")))

	require.Len(t, h.notifier.notes, 1)
	assert.Equal(t, "Bougenville - 01 (0s)", h.notifier.notes[0].body)
}

func TestDirectoryEnrichesBareTrigger(t *testing.T) {
	t.Parallel()

	directory := fakeDirectory{
		"102": {Code: "102", Room: "Kamboja", Bed: "02", Sounds: []string{"nc.wav", "bed2.wav"}},
	}
	h := newTestTracker(t, conf.TrackerSettings{}, WithDirectory(directory))

	require.NoError(t, h.tracker.ProcessCallEvent(triggerEvent(t, "102", nil, "", "")))

	require.Len(t, h.announcer.enqueued, 1)
	assert.Equal(t, []string{"nc.wav", "bed2.wav"}, h.announcer.enqueued[0].files)
	require.Len(t, h.notifier.notes, 1)
	assert.Equal(t, "Kamboja - 02", h.notifier.notes[0].body)

	snapshot := h.tracker.ActiveSnapshot()
	require.Len(t, snapshot, 1)
	assert.Equal(t, "Kamboja", snapshot[0].Room)
	assert.Equal(t, "02", snapshot[0].Bed)
}

func TestDisplayLabelRules(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		code string
		room string
		bed  string
		want string
	}{
		{name: "room and bed", code: "101", room: "Bougenville", bed: "01", want: "Bougenville - 01"},
		{name: "room only", code: "101", room: "Bougenville", bed: "", want: "Bougenville - "},
		{name: "no room", code: "101", room: "", bed: "01", want: "101"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, displayLabel(tt.code, tt.room, tt.bed))
		})
	}
}

func TestLabelsNormalizedAtBoundary(t *testing.T) {
	t.Parallel()

	h := newTestTracker(t, conf.TrackerSettings{})

	// Decomposed e + combining acute, with stray whitespace.
	require.NoError(t, h.tracker.ProcessCallEvent(triggerEvent(t, "101", []string{"nc.wav"}, "  Récaro ", " 01 ")))

	snapshot := h.tracker.ActiveSnapshot()
	require.Len(t, snapshot, 1)
	assert.Equal(t, "Récaro", snapshot[0].Room)
	assert.Equal(t, "01", snapshot[0].Bed)
	assert.Equal(t, "Récaro - 01", snapshot[0].Display)
}

func TestActiveSnapshotKeepsTriggerOrder(t *testing.T) {
	t.Parallel()

	h := newTestTracker(t, conf.TrackerSettings{})
	for _, code := range []string{"101", "102", "103"} {
		require.NoError(t, h.tracker.ProcessCallEvent(triggerEvent(t, code, []string{"nc.wav"}, "", "")))
	}

	codes := func() []string {
		var out []string
		for _, call := range h.tracker.ActiveSnapshot() {
			out = append(out, call.Code)
		}
		return out
	}
	assert.Equal(t, []string{"101", "102", "103"}, codes())

	require.NoError(t, h.tracker.ProcessCallEvent(responseEvent(t, "102")))
	assert.Equal(t, []string{"101", "103"}, codes())
}

func TestStandbyPulsesAutoCompleteLatestCall(t *testing.T) {
	t.Parallel()

	h := newTestTracker(t, conf.TrackerSettings{StandbyPulses: 3})
	require.NoError(t, h.tracker.ProcessCallEvent(triggerEvent(t, "101", []string{"nc.wav"}, "", "")))
	require.NoError(t, h.tracker.ProcessCallEvent(triggerEvent(t, "102", []string{"nc.wav"}, "", "")))

	for range 3 {
		require.NoError(t, h.tracker.ProcessCallEvent(events.NewStandbyEvent("test")))
	}

	// The most recent call closed, the older one is untouched.
	snapshot := h.tracker.ActiveSnapshot()
	require.Len(t, snapshot, 1)
	assert.Equal(t, "101", snapshot[0].Code)
	assert.Equal(t, []string{"102"}, h.history.completed)
	assert.Equal(t, uint64(1), h.tracker.Stats().AutoCompleted)

	// Counter restarts for the remaining call.
	for range 3 {
		require.NoError(t, h.tracker.ProcessCallEvent(events.NewStandbyEvent("test")))
	}
	assert.Empty(t, h.tracker.ActiveSnapshot())
	assert.Equal(t, uint64(2), h.tracker.Stats().AutoCompleted)
}

func TestStandbyCountResetByTrigger(t *testing.T) {
	t.Parallel()

	h := newTestTracker(t, conf.TrackerSettings{StandbyPulses: 3})
	require.NoError(t, h.tracker.ProcessCallEvent(triggerEvent(t, "101", []string{"nc.wav"}, "", "")))

	require.NoError(t, h.tracker.ProcessCallEvent(events.NewStandbyEvent("test")))
	require.NoError(t, h.tracker.ProcessCallEvent(events.NewStandbyEvent("test")))
	// A fresh trigger interrupts the idle streak.
	require.NoError(t, h.tracker.ProcessCallEvent(triggerEvent(t, "102", []string{"nc.wav"}, "", "")))
	require.NoError(t, h.tracker.ProcessCallEvent(events.NewStandbyEvent("test")))
	require.NoError(t, h.tracker.ProcessCallEvent(events.NewStandbyEvent("test")))

	assert.Len(t, h.tracker.ActiveSnapshot(), 2, "no call should auto-complete before the full pulse streak")
	assert.Equal(t, uint64(0), h.tracker.Stats().AutoCompleted)
}

func TestStandbyIgnoredWhenIdleOrDisconnected(t *testing.T) {
	t.Parallel()

	h := newTestTracker(t, conf.TrackerSettings{StandbyPulses: 2})

	// Nothing active, pulses are just idle chatter.
	require.NoError(t, h.tracker.ProcessCallEvent(events.NewStandbyEvent("test")))
	require.NoError(t, h.tracker.ProcessCallEvent(events.NewStandbyEvent("test")))
	assert.Equal(t, uint64(0), h.tracker.Stats().AutoCompleted)

	require.NoError(t, h.tracker.ProcessCallEvent(triggerEvent(t, "101", []string{"nc.wav"}, "", "")))
	require.NoError(t, h.tracker.ProcessCallEvent(events.NewConnectivityEvent(false, "", "test")))
	require.NoError(t, h.tracker.ProcessCallEvent(events.NewStandbyEvent("test")))
	require.NoError(t, h.tracker.ProcessCallEvent(events.NewStandbyEvent("test")))
	assert.Len(t, h.tracker.ActiveSnapshot(), 1, "pulses while disconnected must not close calls")
}

func TestChatFailureDoesNotBlockTransition(t *testing.T) {
	t.Parallel()

	h := newTestTracker(t, conf.TrackerSettings{})
	h.chat.fail = true

	require.NoError(t, h.tracker.ProcessCallEvent(triggerEvent(t, "101", []string{"nc.wav"}, "", "")))

	assert.Len(t, h.announcer.enqueued, 1)
	assert.Len(t, h.notifier.notes, 1)
	assert.Equal(t, uint64(1), h.tracker.Stats().ChatFailures)
}

func TestFormatDuration(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "0s"},
		{42 * time.Second, "42s"},
		{72 * time.Second, "1m12s"},
		{10 * time.Minute, "10m00s"},
		{3700 * time.Second, "1h01m"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, formatDuration(tt.in))
		})
	}
}

func TestEndToEndCallFlow(t *testing.T) {
	t.Parallel()

	directory := fakeDirectory{
		"101": {Code: "101", Room: "Bougenville", Bed: "01", Sounds: []string{"nc.wav", "kamar.wav"}},
	}
	h := newTestTracker(t, conf.TrackerSettings{}, WithDirectory(directory))

	require.NoError(t, h.tracker.ProcessCallEvent(triggerEvent(t, "101", nil, "", "")))

	snapshot := h.tracker.ActiveSnapshot()
	require.Len(t, snapshot, 1)
	assert.Equal(t, "101", snapshot[0].Code)
	require.Len(t, h.announcer.enqueued, 1)
	assert.Equal(t, []string{"nc.wav", "kamar.wav"}, h.announcer.enqueued[0].files)
	assert.Equal(t, notice{title: "Nurse Call", body: "Bougenville - 01"}, h.notifier.notes[0])
	assert.Equal(t, []string{"101"}, h.history.started)

	require.NoError(t, h.tracker.ProcessCallEvent(responseEvent(t, "101")))

	assert.Empty(t, h.tracker.ActiveSnapshot())
	assert.Equal(t, []string{"101"}, h.history.completed)
	assert.Equal(t, []string{"101"}, h.announcer.dropped)
	require.Len(t, h.notifier.notes, 2)
	assert.Equal(t, "Call Completed", h.notifier.notes[1].title)
	assert.Equal(t, fmt.Sprintf("%s (0s)", "Bougenville - 01"), h.notifier.notes[1].body)
}

// Package tracker owns the call lifecycle state machine. It consumes
// decoded hardware events from the dispatcher stream, guards against
// duplicate frames, and drives every side effect of a call transition:
// announcement audio, notifications, chat messages and the durable
// history record. All state mutations happen on the single dispatcher
// goroutine; concurrent readers only ever see locked snapshots.
package tracker

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/carebell/carebell-go/internal/conf"
	"github.com/carebell/carebell-go/internal/events"
	"github.com/carebell/carebell-go/internal/logging"
	"github.com/carebell/carebell-go/internal/registry"
)

// Announcer queues and cancels per-call sound stacks.
type Announcer interface {
	EnqueueStack(code string, files []string) bool
	DropByCode(code string) int
}

// History records call transitions durably. Both methods are expected
// to stay off the hot path (mark dirty, flush elsewhere).
type History interface {
	// StartCall appends an active record for a fresh trigger.
	StartCall(code, room, bed string, startedAt time.Time)
	// CompleteCall closes the most recent open record for code and
	// returns its start time, so duration survives a process restart.
	CompleteCall(code string, endedAt time.Time) (time.Time, bool)
}

// Notifier delivers a best-effort user notification.
type Notifier interface {
	NotifyUser(title, body string)
}

// ChatSender delivers a best-effort outbound chat message.
type ChatSender interface {
	SendChatMessage(text string) bool
}

// Directory resolves call codes to room/bed labels and sound files.
type Directory interface {
	Lookup(code string) (registry.Entry, bool)
}

// CallPublisher accepts synthesized events onto the dispatcher stream.
type CallPublisher interface {
	TryPublishCall(event events.CallEvent) bool
}

// TransitionSink observes accepted call transitions. Used by outbound
// publishers (MQTT, SSE); delivery is synchronous on the dispatcher, so
// implementations must not block.
type TransitionSink interface {
	CallTriggered(call ActiveCall)
	CallCompleted(code, display string, duration time.Duration)
}

// ActiveCall is a snapshot of one call awaiting response.
type ActiveCall struct {
	Code        string    `json:"code"`
	Room        string    `json:"room,omitempty"`
	Bed         string    `json:"bed,omitempty"`
	Display     string    `json:"display"`
	TriggeredAt time.Time `json:"triggered_at"`
}

// Stats is a snapshot of tracker activity counters.
type Stats struct {
	Connected           bool   `json:"connected"`
	ActiveCalls         int    `json:"active_calls"`
	Triggered           uint64 `json:"triggered"`
	Completed           uint64 `json:"completed"`
	AutoCompleted       uint64 `json:"auto_completed"`
	SuppressedTriggers  uint64 `json:"suppressed_triggers"`
	SuppressedResponses uint64 `json:"suppressed_responses"`
	IgnoredDisconnected uint64 `json:"ignored_disconnected"`
	ChatFailures        uint64 `json:"chat_failures"`
}

// Tracker is the call lifecycle state machine.
type Tracker struct {
	announcer Announcer
	history   History
	notifier  Notifier
	chat      ChatSender
	directory Directory
	publisher CallPublisher
	sinks     []TransitionSink
	logger    *slog.Logger

	transientWindow time.Duration
	standbyPulses   int

	connected atomic.Bool

	// Guarded by mu. Mutated only on the dispatcher goroutine; the
	// lock exists for snapshot readers on other goroutines.
	mu             sync.RWMutex
	active         map[string]ActiveCall
	order          []string
	sentResponses  map[string]struct{}
	recentlyClosed map[string]time.Time
	standbyCount   int

	triggered           atomic.Uint64
	completed           atomic.Uint64
	autoCompleted       atomic.Uint64
	suppressedTriggers  atomic.Uint64
	suppressedResponses atomic.Uint64
	ignoredDisconnected atomic.Uint64
	chatFailures        atomic.Uint64
}

// Option configures optional tracker collaborators.
type Option func(*Tracker)

// WithDirectory attaches a registry lookup used to enrich trigger
// events that omit room/bed/files.
func WithDirectory(d Directory) Option {
	return func(t *Tracker) { t.directory = d }
}

// WithNotifier attaches the user notification fan-out.
func WithNotifier(n Notifier) Option {
	return func(t *Tracker) { t.notifier = n }
}

// WithChatSender attaches the outbound chat channel.
func WithChatSender(c ChatSender) Option {
	return func(t *Tracker) { t.chat = c }
}

// WithPublisher attaches the stream used by operator closures to
// synthesize response events.
func WithPublisher(p CallPublisher) Option {
	return func(t *Tracker) { t.publisher = p }
}

// WithTransitionSink registers an observer of accepted transitions.
func WithTransitionSink(s TransitionSink) Option {
	return func(t *Tracker) { t.sinks = append(t.sinks, s) }
}

// New creates a tracker. The announcer and history store are required;
// everything else is optional.
func New(cfg conf.TrackerSettings, announcer Announcer, history History, opts ...Option) *Tracker {
	logger := logging.ForService("tracker")
	if logger == nil {
		logger = slog.Default()
	}

	window := time.Duration(cfg.TransientWindowMs) * time.Millisecond
	if window <= 0 {
		window = 1500 * time.Millisecond
	}
	pulses := cfg.StandbyPulses
	if pulses <= 0 {
		pulses = 5
	}

	t := &Tracker{
		announcer:       announcer,
		history:         history,
		logger:          logger,
		transientWindow: window,
		standbyPulses:   pulses,
		active:          make(map[string]ActiveCall),
		sentResponses:   make(map[string]struct{}),
		recentlyClosed:  make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Name identifies the tracker on the dispatcher stream.
func (t *Tracker) Name() string {
	return "tracker"
}

// ProcessCallEvent runs one decoded event through the state machine.
// Called by the event bus dispatcher; never concurrently.
func (t *Tracker) ProcessCallEvent(event events.CallEvent) error {
	switch event.GetType() {
	case events.CallTypeConnected:
		t.setConnected(true, event.GetPort())
	case events.CallTypeDisconnected:
		t.setConnected(false, "")
	case events.CallTypeTrigger:
		t.handleTrigger(event)
	case events.CallTypeResponse:
		t.handleResponse(event)
	case events.CallTypeStandby:
		t.handleStandby(event)
	default:
		t.logger.Debug("ignoring unknown call event type", "type", event.GetType())
	}
	return nil
}

// Connected reports whether a connectivity source currently claims the
// hardware link is up.
func (t *Tracker) Connected() bool {
	return t.connected.Load()
}

func (t *Tracker) setConnected(connected bool, port string) {
	was := t.connected.Swap(connected)

	t.mu.Lock()
	t.standbyCount = 0
	t.mu.Unlock()

	if was == connected {
		return
	}
	if connected {
		t.logger.Info("hardware link connected", "port", port)
	} else {
		t.logger.Warn("hardware link disconnected")
	}
}

// handleTrigger runs the trigger path: gate on connectivity, suppress
// duplicates, then fire every side effect exactly once.
func (t *Tracker) handleTrigger(event events.CallEvent) {
	if !t.connected.Load() {
		t.ignoredDisconnected.Add(1)
		t.logger.Debug("ignoring trigger while disconnected", "code", event.GetCode())
		return
	}

	code := strings.TrimSpace(event.GetCode())
	if code == "" {
		return
	}
	now := event.GetTimestamp()

	t.mu.Lock()
	t.standbyCount = 0

	if closedAt, ok := t.recentlyClosed[code]; ok {
		if now.Sub(closedAt) < t.transientWindow {
			t.mu.Unlock()
			t.suppressedTriggers.Add(1)
			t.logger.Debug("suppressing trigger inside post-closure window", "code", code)
			return
		}
		delete(t.recentlyClosed, code)
	}

	if _, ok := t.active[code]; ok {
		t.mu.Unlock()
		t.suppressedTriggers.Add(1)
		t.logger.Debug("suppressing repeated trigger for active call", "code", code)
		return
	}

	call := t.resolveCall(code, event, now)
	files := t.resolveFiles(code, event)

	t.active[code] = call
	t.order = append(t.order, code)
	delete(t.sentResponses, code)
	t.mu.Unlock()

	t.triggered.Add(1)
	t.logger.Info("call triggered",
		"code", code,
		"display", call.Display,
		"files", len(files),
		"source", event.GetSource())

	if t.announcer != nil {
		t.announcer.EnqueueStack(code, files)
	}
	if t.notifier != nil {
		t.notifier.NotifyUser("Nurse Call", call.Display)
	}
	t.sendChat(fmt.Sprintf("Nurse call: %s", call.Display))
	if t.history != nil {
		t.history.StartCall(code, call.Room, call.Bed, now)
	}
	for _, sink := range t.sinks {
		sink.CallTriggered(call)
	}
}

// handleResponse runs the response path. Responses are not gated on
// connectivity: an acknowledgement is honored even mid-reconnect.
func (t *Tracker) handleResponse(event events.CallEvent) {
	code := strings.TrimSpace(event.GetCode())
	if code == "" {
		return
	}
	now := event.GetTimestamp()

	t.mu.Lock()
	t.standbyCount = 0

	if _, sent := t.sentResponses[code]; sent {
		t.mu.Unlock()
		t.suppressedResponses.Add(1)
		t.logger.Debug("suppressing duplicate response", "code", code)
		return
	}
	t.sentResponses[code] = struct{}{}

	call, wasActive := t.active[code]
	delete(t.active, code)
	t.removeFromOrder(code)
	t.recentlyClosed[code] = now
	t.mu.Unlock()

	if t.announcer != nil {
		t.announcer.DropByCode(code)
	}

	var started time.Time
	var haveStart bool
	if t.history != nil {
		started, haveStart = t.history.CompleteCall(code, now)
	}

	var duration time.Duration
	switch {
	case wasActive:
		duration = now.Sub(call.TriggeredAt)
	case haveStart:
		duration = now.Sub(started)
	}
	if duration < 0 {
		duration = 0
	}

	display := t.resolveResponseDisplay(code, event, call, wasActive)

	t.completed.Add(1)
	t.logger.Info("call completed",
		"code", code,
		"display", display,
		"duration", duration.Round(time.Second).String(),
		"source", event.GetSource())

	if t.notifier != nil {
		t.notifier.NotifyUser("Call Completed", fmt.Sprintf("%s (%s)", display, formatDuration(duration)))
	}
	t.sendChat(fmt.Sprintf("Call completed: %s after %s", display, formatDuration(duration)))
	for _, sink := range t.sinks {
		sink.CallCompleted(code, display, duration)
	}
}

// handleStandby counts consecutive idle pulses. Enough of them while a
// call is still active means the response frame was lost, so the latest
// call auto-completes through the normal response path.
func (t *Tracker) handleStandby(event events.CallEvent) {
	if !t.connected.Load() {
		return
	}

	t.mu.Lock()
	if len(t.order) == 0 {
		t.standbyCount = 0
		t.mu.Unlock()
		return
	}
	t.standbyCount++
	if t.standbyCount < t.standbyPulses {
		t.mu.Unlock()
		return
	}
	t.standbyCount = 0
	code := t.order[len(t.order)-1]
	t.mu.Unlock()

	t.autoCompleted.Add(1)
	t.logger.Info("standby pulses exceeded threshold, auto-completing latest call",
		"code", code,
		"pulses", t.standbyPulses)

	response, err := events.NewResponseEvent(code, "", "standby")
	if err != nil {
		return
	}
	// Already on the dispatcher goroutine, run the response inline so
	// ordering against queued events is preserved.
	t.handleResponse(response)
}

// resolveCall builds the snapshot for a fresh trigger, enriching from
// the directory when the event lacks labels.
func (t *Tracker) resolveCall(code string, event events.CallEvent, now time.Time) ActiveCall {
	room := normalizeLabel(event.GetRoom())
	bed := normalizeLabel(event.GetBed())
	if room == "" && bed == "" && t.directory != nil {
		if entry, ok := t.directory.Lookup(code); ok {
			room = entry.Room
			bed = entry.Bed
		}
	}

	display := normalizeLabel(event.GetDisplay())
	if display == "" {
		display = displayLabel(code, room, bed)
	}

	return ActiveCall{
		Code:        code,
		Room:        room,
		Bed:         bed,
		Display:     display,
		TriggeredAt: now,
	}
}

// resolveFiles picks the trigger's sound stack, falling back to the
// directory entry when the event carries none.
func (t *Tracker) resolveFiles(code string, event events.CallEvent) []string {
	files := event.GetFiles()
	if len(files) > 0 {
		return files
	}
	if t.directory != nil {
		if entry, ok := t.directory.Lookup(code); ok {
			return entry.Sounds
		}
	}
	return nil
}

func (t *Tracker) resolveResponseDisplay(code string, event events.CallEvent, call ActiveCall, wasActive bool) string {
	if display := normalizeLabel(event.GetDisplay()); display != "" {
		return display
	}
	if wasActive && call.Display != "" {
		return call.Display
	}
	if t.directory != nil {
		if entry, ok := t.directory.Lookup(code); ok {
			return entry.Display()
		}
	}
	return code
}

// removeFromOrder drops code from the trigger-order slice. Caller holds mu.
func (t *Tracker) removeFromOrder(code string) {
	for i, c := range t.order {
		if c == code {
			t.order = append(t.order[:i], t.order[i+1:]...)
			return
		}
	}
}

func (t *Tracker) sendChat(text string) {
	if t.chat == nil {
		return
	}
	if !t.chat.SendChatMessage(text) {
		t.chatFailures.Add(1)
		t.logger.Debug("chat message delivery failed", "text", text)
	}
}

// ActiveSnapshot returns the active calls in trigger order.
func (t *Tracker) ActiveSnapshot() []ActiveCall {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]ActiveCall, 0, len(t.order))
	for _, code := range t.order {
		if call, ok := t.active[code]; ok {
			out = append(out, call)
		}
	}
	return out
}

// Stats returns a snapshot of tracker activity.
func (t *Tracker) Stats() Stats {
	t.mu.RLock()
	activeCalls := len(t.active)
	t.mu.RUnlock()

	return Stats{
		Connected:           t.connected.Load(),
		ActiveCalls:         activeCalls,
		Triggered:           t.triggered.Load(),
		Completed:           t.completed.Load(),
		AutoCompleted:       t.autoCompleted.Load(),
		SuppressedTriggers:  t.suppressedTriggers.Load(),
		SuppressedResponses: t.suppressedResponses.Load(),
		IgnoredDisconnected: t.ignoredDisconnected.Load(),
		ChatFailures:        t.chatFailures.Load(),
	}
}

// normalizeLabel trims and NFC-normalizes a room/bed/display label so
// lookups and display strings are stable across input encodings.
func normalizeLabel(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

// displayLabel renders the standard call label: "room - bed" when a
// room is known, bare code otherwise.
func displayLabel(code, room, bed string) string {
	if room != "" {
		return room + " - " + bed
	}
	return code
}

// formatDuration renders a call duration for notifications, whole
// seconds only.
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%02ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%02dm", int(d.Hours()), int(d.Minutes())%60)
}

var _ events.CallEventConsumer = (*Tracker)(nil)

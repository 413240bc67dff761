package notification

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carebell/carebell-go/internal/conf"
)

// fakeProvider records deliveries for dispatcher tests.
type fakeProvider struct {
	name    string
	enabled bool
	types   map[Type]bool
	sendErr error

	mu       sync.Mutex
	received []*Notification
}

func (f *fakeProvider) GetName() string       { return f.name }
func (f *fakeProvider) ValidateConfig() error { return nil }
func (f *fakeProvider) IsEnabled() bool       { return f.enabled }

func (f *fakeProvider) SupportsType(t Type) bool {
	if f.types == nil {
		return true
	}
	return f.types[t]
}

func (f *fakeProvider) Send(ctx context.Context, n *Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.received = append(f.received, n)
	return f.sendErr
}

func (f *fakeProvider) deliveries() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.received)
}

func newTestDispatcher(t *testing.T, svc *Service, providers ...Provider) *PushDispatcher {
	t.Helper()

	settings := &conf.NotificationSettings{}
	d := NewPushDispatcher(settings, svc)
	for _, prov := range providers {
		d.register(prov)
	}
	d.Start()
	t.Cleanup(d.Stop)
	return d
}

func TestDispatcherForwardsToMatchingProviders(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, nil)
	calls := &fakeProvider{name: "calls-only", enabled: true, types: map[Type]bool{TypeCall: true}}
	everything := &fakeProvider{name: "everything", enabled: true}
	d := newTestDispatcher(t, svc, calls, everything)

	_, err := svc.Create(TypeCall, PriorityHigh, "Nurse Call", "Bougenville - 01")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return calls.deliveries() == 1 && everything.deliveries() == 1
	}, time.Second, 10*time.Millisecond)

	_, err = svc.Create(TypeInfo, PriorityLow, "FYI", "registry reloaded")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return everything.deliveries() == 2
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, calls.deliveries(), "type filter keeps info out of the call channel")

	stats := d.Stats()
	assert.Equal(t, uint64(1), stats["calls-only"].Sent)
	assert.Equal(t, uint64(2), stats["everything"].Sent)
}

func TestDispatcherFailureCountedOnceNoRetry(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, nil)
	failing := &fakeProvider{name: "failing", enabled: true, sendErr: context.DeadlineExceeded}
	d := newTestDispatcher(t, svc, failing)

	_, err := svc.Create(TypeError, PriorityHigh, "Flush Failed", "disk full")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return d.Stats()["failing"].Failed == 1
	}, time.Second, 10*time.Millisecond)

	// Delivery is best-effort: no retry follows a failure.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, failing.deliveries())
	assert.Equal(t, uint64(1), d.Stats()["failing"].Failed)
	assert.Equal(t, uint64(0), d.Stats()["failing"].Sent)
}

func TestDispatcherSkipsDisabledProvider(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, nil)
	disabled := &fakeProvider{name: "disabled", enabled: false}
	active := &fakeProvider{name: "active", enabled: true}
	newTestDispatcher(t, svc, disabled, active)

	_, err := svc.Create(TypeWarning, PriorityMedium, "Broker Down", "mqtt unreachable")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return active.deliveries() == 1
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, disabled.deliveries())
}

func TestDispatcherDropsDeliveriesAtConcurrencyLimit(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, nil)
	prov := &fakeProvider{name: "target", enabled: true}
	d := newTestDispatcher(t, svc, prov)

	// Hold every slot so the next dispatch cannot start a delivery.
	require.True(t, d.sem.TryAcquire(maxConcurrentDeliveries))

	_, err := svc.Create(TypeCall, PriorityHigh, "Nurse Call", "Bougenville - 01")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return d.Stats()["target"].Failed == 1
	}, time.Second, 10*time.Millisecond)
	assert.Zero(t, prov.deliveries(), "a dropped delivery never reaches the provider")

	d.sem.Release(maxConcurrentDeliveries)

	_, err = svc.Create(TypeCall, PriorityHigh, "Nurse Call", "Bougenville - 02")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return prov.deliveries() == 1
	}, time.Second, 10*time.Millisecond)
}

func TestDispatcherWithoutProvidersDoesNotSubscribe(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, nil)

	d := NewPushDispatcher(&conf.NotificationSettings{}, svc)
	d.Start()
	t.Cleanup(d.Stop)

	assert.Equal(t, 0, d.ProviderCount())

	svc.subscribersMu.RLock()
	subscribers := len(svc.subscribers)
	svc.subscribersMu.RUnlock()
	assert.Equal(t, 0, subscribers)
}

func TestNewPushDispatcherFromSettings(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, nil)

	settings := &conf.NotificationSettings{
		Desktop: conf.DesktopNotificationSettings{Enabled: true},
		Providers: []conf.PushProviderConfig{
			{
				Name:    "oncall-chat",
				Type:    "shoutrrr",
				Enabled: true,
				URL:     "generic://example.com/hook",
				Types:   []string{"call", "error"},
				Timeout: "5s",
			},
			{
				Name:        "ward-board",
				Type:        "webhook",
				Enabled:     true,
				URL:         "https://board.example.com/hook",
				BearerToken: "tok",
			},
			{
				Name:    "broken",
				Type:    "webhook",
				Enabled: true,
				URL:     "ftp://wrong.example.com",
			},
			{
				Name:    "mystery",
				Type:    "smoke-signal",
				Enabled: true,
			},
			{
				Name:    "parked",
				Type:    "webhook",
				Enabled: false,
				URL:     "https://parked.example.com/hook",
			},
		},
	}

	d := NewPushDispatcher(settings, svc)
	t.Cleanup(d.Stop)

	// desktop + oncall-chat + ward-board; invalid, unknown and disabled skipped
	assert.Equal(t, 3, d.ProviderCount())

	stats := d.Stats()
	assert.Contains(t, stats, "desktop")
	assert.Contains(t, stats, "oncall-chat")
	assert.Contains(t, stats, "ward-board")
	assert.NotContains(t, stats, "broken")
	assert.NotContains(t, stats, "mystery")
	assert.NotContains(t, stats, "parked")

	chat := d.ChatSender()
	require.NotNil(t, chat)
	assert.Equal(t, "oncall-chat", chat.GetName())
}

func TestChatSenderNilWithoutShoutrrr(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, nil)
	d := NewPushDispatcher(&conf.NotificationSettings{}, svc)
	t.Cleanup(d.Stop)

	assert.Nil(t, d.ChatSender())
}

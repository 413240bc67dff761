package notification

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/carebell/carebell-go/internal/errors"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// newTestService builds a service with fast intervals and no rate cap unless
// the test overrides it.
func newTestService(t *testing.T, mutate func(*ServiceConfig)) *Service {
	t.Helper()

	cfg := &ServiceConfig{
		Debug:            true,
		MaxNotifications: 100,
		CleanupInterval:  20 * time.Millisecond,
		DedupWindow:      time.Minute,
		RatePerMinute:    0,
	}
	if mutate != nil {
		mutate(cfg)
	}

	svc := NewService(cfg)
	t.Cleanup(svc.Stop)
	return svc
}

func TestCreateStoresNotification(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, nil)

	created, err := svc.CreateWithComponent(TypeInfo, PriorityLow, "Hello", "world", "tracker")
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)
	assert.Equal(t, StatusUnread, created.Status)
	assert.Equal(t, 1, created.Occurrences)

	got, err := svc.Get(created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Hello", got.Title)
	assert.Equal(t, "tracker", got.Component)
}

func TestDuplicateContentCoalesces(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, nil)

	first, err := svc.CreateWithComponent(TypeError, PriorityHigh, "Flush Failed", "disk full", "history")
	require.NoError(t, err)

	second, err := svc.CreateWithComponent(TypeError, PriorityHigh, "Flush Failed", "disk full", "history")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID, "repeat within the window should coalesce")
	assert.Equal(t, 2, second.Occurrences)

	all, err := svc.List(nil)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestDifferentContentDoesNotCoalesce(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, nil)

	first, err := svc.Create(TypeError, PriorityHigh, "Flush Failed", "disk full")
	require.NoError(t, err)
	second, err := svc.Create(TypeError, PriorityHigh, "Flush Failed", "permission denied")
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
}

func TestDismissedNotificationSurfacesFresh(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, nil)

	first, err := svc.Create(TypeWarning, PriorityMedium, "Broker Down", "mqtt unreachable")
	require.NoError(t, err)
	require.NoError(t, svc.Delete(first.ID))

	second, err := svc.Create(TypeWarning, PriorityMedium, "Broker Down", "mqtt unreachable")
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID, "dismissal should reset the dedup window")
	assert.Equal(t, 1, second.Occurrences)
}

func TestCreateRateLimited(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, func(cfg *ServiceConfig) {
		cfg.RatePerMinute = 2
	})

	_, err := svc.Create(TypeInfo, PriorityLow, "one", "1")
	require.NoError(t, err)
	_, err = svc.Create(TypeInfo, PriorityLow, "two", "2")
	require.NoError(t, err)

	_, err = svc.Create(TypeInfo, PriorityLow, "three", "3")
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryLimit))
}

func TestSubscribeReceivesBroadcast(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, nil)
	ch, ctx := svc.Subscribe()

	created, err := svc.Create(TypeCall, PriorityHigh, "Nurse Call", "Bougenville - 01")
	require.NoError(t, err)

	select {
	case got := <-ch:
		assert.Equal(t, created.ID, got.ID)
		assert.Equal(t, "Nurse Call", got.Title)
	case <-ctx.Done():
		t.Fatal("subscription cancelled before delivery")
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for broadcast")
	}
}

func TestCoalescedRepeatReachesSubscribers(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, nil)
	ch, _ := svc.Subscribe()

	_, err := svc.Create(TypeError, PriorityHigh, "Flush Failed", "disk full")
	require.NoError(t, err)
	_, err = svc.Create(TypeError, PriorityHigh, "Flush Failed", "disk full")
	require.NoError(t, err)

	first := <-ch
	second := <-ch
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, first.Occurrences)
	assert.Equal(t, 2, second.Occurrences)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, nil)
	ch, ctx := svc.Subscribe()
	svc.Unsubscribe(ch)

	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("unsubscribe should cancel the subscriber context")
	}

	_, err := svc.Create(TypeInfo, PriorityLow, "after", "unsubscribe")
	require.NoError(t, err)

	select {
	case n := <-ch:
		t.Fatalf("received %v after unsubscribe", n.ID)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMarkAsReadUpdatesUnreadCount(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, nil)

	created, err := svc.Create(TypeInfo, PriorityLow, "unread", "message")
	require.NoError(t, err)

	count, err := svc.UnreadCount()
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	require.NoError(t, svc.MarkAsRead(created.ID))

	count, err = svc.UnreadCount()
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	got, err := svc.Get(created.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRead, got.Status)
}

func TestMarkAsReadRejectsEmptyID(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, nil)
	err := svc.MarkAsRead("")
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
}

func TestNotifyUserCreatesCallBanner(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, nil)

	svc.NotifyUser("Nurse Call", "Bougenville - 01")

	all, err := svc.List(&FilterOptions{Types: []Type{TypeCall}})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "tracker", all[0].Component)
	assert.Equal(t, PriorityHigh, all[0].Priority)
	require.NotNil(t, all[0].ExpiresAt, "call banners should expire")
}

func TestResolvePlaybackBlocked(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, nil)

	prompt := NewNotification(TypeWarning, PriorityHigh, "Audio Playback Locked", "3 announcements queued").
		WithComponent("announcer").
		WithMetadata(MetadataKeyPlaybackBlocked, true)
	_, err := svc.create(prompt)
	require.NoError(t, err)

	cleared := svc.ResolvePlaybackBlocked()
	assert.Equal(t, 1, cleared)

	_, err = svc.Get(prompt.ID)
	assert.ErrorIs(t, err, ErrNotificationNotFound)

	// Subscribers get a short-lived all-clear banner in its place.
	all, err := svc.List(&FilterOptions{Types: []Type{TypeInfo}})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "Audio Playback Unlocked", all[0].Title)

	assert.Equal(t, 0, svc.ResolvePlaybackBlocked(), "second resolve has nothing to clear")
}

func TestExpiredNotificationsCleanedUp(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, nil)

	short := NewNotification(TypeInfo, PriorityLow, "ephemeral", "gone soon").
		WithExpiry(10 * time.Millisecond)
	_, err := svc.create(short)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, err := svc.Get(short.ID)
		return errors.Is(err, ErrNotificationNotFound)
	}, time.Second, 10*time.Millisecond, "cleanup loop should remove expired notifications")
}

func TestGlobalServiceAccessors(t *testing.T) {
	svc := newTestService(t, nil)

	SetService(svc)
	t.Cleanup(func() { SetService(nil) })

	require.True(t, IsInitialized())
	assert.Same(t, svc, GetService())

	NotifyWarning("backup", "Backup Failed", "sftp unreachable")
	all, err := svc.List(&FilterOptions{Component: "backup"})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestResourceAlertHelpers(t *testing.T) {
	svc := newTestService(t, nil)

	SetService(svc)
	t.Cleanup(func() { SetService(nil) })

	NotifyResourceAlert("Disk", "/var", PriorityCritical, 96.2, 95)
	NotifyResourceRecovery("Disk", "/var", 71.4)

	all, err := svc.List(nil)
	require.NoError(t, err)
	require.Len(t, all, 2)

	byTitle := make(map[string]*Notification, len(all))
	for _, n := range all {
		byTitle[n.Title] = n
	}

	alert := byTitle["High Disk Usage"]
	require.NotNil(t, alert)
	assert.Equal(t, PriorityCritical, alert.Priority)
	assert.Contains(t, alert.Message, "96.2%")
	assert.Contains(t, alert.Message, "on /var")
	assert.Equal(t, "/var", alert.Metadata["mount_point"])
	assert.NotNil(t, alert.ExpiresAt)

	recovery := byTitle["Disk Usage Normal"]
	require.NotNil(t, recovery)
	assert.Equal(t, PriorityLow, recovery.Priority)
	assert.Contains(t, recovery.Message, "71.4%")
}

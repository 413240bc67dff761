package notification

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreSaveAndGetReturnsCopy(t *testing.T) {
	t.Parallel()

	store := NewInMemoryStore(10)

	n := NewNotification(TypeInfo, PriorityLow, "original", "body").
		WithMetadata("room", "Bougenville")
	require.NoError(t, store.Save(n))

	got, err := store.Get(n.ID)
	require.NoError(t, err)
	require.NotNil(t, got)

	got.Title = "mutated"
	got.Metadata["room"] = "Kenanga"

	again, err := store.Get(n.ID)
	require.NoError(t, err)
	assert.Equal(t, "original", again.Title, "store must hand out copies")
	assert.Equal(t, "Bougenville", again.Metadata["room"])
}

func TestStoreGetMissing(t *testing.T) {
	t.Parallel()

	store := NewInMemoryStore(10)
	got, err := store.Get("no-such-id")
	assert.ErrorIs(t, err, ErrNotificationNotFound)
	assert.Nil(t, got)
}

func TestStoreEvictsOldestAtCapacity(t *testing.T) {
	t.Parallel()

	store := NewInMemoryStore(3)

	var ids []string
	for i := 0; i < 4; i++ {
		n := NewNotification(TypeInfo, PriorityLow, fmt.Sprintf("n%d", i), "body")
		n.Timestamp = time.Now().Add(time.Duration(i) * time.Millisecond)
		require.NoError(t, store.Save(n))
		ids = append(ids, n.ID)
	}

	evicted, err := store.Get(ids[0])
	assert.ErrorIs(t, err, ErrNotificationNotFound, "oldest notification should be evicted")
	assert.Nil(t, evicted)

	for _, id := range ids[1:] {
		got, err := store.Get(id)
		require.NoError(t, err)
		assert.NotNil(t, got)
	}
}

func TestStoreUnreadCountTracking(t *testing.T) {
	t.Parallel()

	store := NewInMemoryStore(10)

	a := NewNotification(TypeInfo, PriorityLow, "a", "body")
	b := NewNotification(TypeWarning, PriorityMedium, "b", "body")
	require.NoError(t, store.Save(a))
	require.NoError(t, store.Save(b))

	count, err := store.UnreadCount()
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	a.MarkAsRead()
	require.NoError(t, store.Update(a))

	count, err = store.UnreadCount()
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	require.NoError(t, store.Delete(b.ID))

	count, err = store.UnreadCount()
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestStoreUpdateMissing(t *testing.T) {
	t.Parallel()

	store := NewInMemoryStore(10)
	ghost := NewNotification(TypeInfo, PriorityLow, "ghost", "body")

	err := store.Update(ghost)
	assert.ErrorIs(t, err, ErrNotificationNotFound)
}

func TestStoreListFilters(t *testing.T) {
	t.Parallel()

	store := NewInMemoryStore(20)
	base := time.Now()
	cutoff := base.Add(1500 * time.Millisecond)

	seed := []*Notification{
		NewNotification(TypeError, PriorityHigh, "e1", "body").WithComponent("history"),
		NewNotification(TypeWarning, PriorityMedium, "w1", "body").WithComponent("announcer"),
		NewNotification(TypeCall, PriorityHigh, "c1", "body").WithComponent("tracker"),
		NewNotification(TypeInfo, PriorityLow, "i1", "body").WithComponent("tracker"),
	}
	for i, n := range seed {
		n.Timestamp = base.Add(time.Duration(i) * time.Second)
		require.NoError(t, store.Save(n))
	}
	seed[3].MarkAsRead()
	require.NoError(t, store.Update(seed[3]))

	tests := []struct {
		name       string
		filter     *FilterOptions
		wantTitles []string
	}{
		{
			name:       "no filter newest first",
			filter:     nil,
			wantTitles: []string{"i1", "c1", "w1", "e1"},
		},
		{
			name:       "by type",
			filter:     &FilterOptions{Types: []Type{TypeCall}},
			wantTitles: []string{"c1"},
		},
		{
			name:       "by component",
			filter:     &FilterOptions{Component: "tracker"},
			wantTitles: []string{"i1", "c1"},
		},
		{
			name:       "by status",
			filter:     &FilterOptions{Status: []Status{StatusRead}},
			wantTitles: []string{"i1"},
		},
		{
			name:       "since cutoff",
			filter:     &FilterOptions{Since: &cutoff},
			wantTitles: []string{"i1", "c1"},
		},
		{
			name:       "limit and offset",
			filter:     &FilterOptions{Limit: 2, Offset: 1},
			wantTitles: []string{"c1", "w1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := store.List(tt.filter)
			require.NoError(t, err)

			titles := make([]string, 0, len(got))
			for _, n := range got {
				titles = append(titles, n.Title)
			}
			assert.Equal(t, tt.wantTitles, titles)
		})
	}
}

func TestStoreDeleteExpired(t *testing.T) {
	t.Parallel()

	store := NewInMemoryStore(10)

	expired := NewNotification(TypeInfo, PriorityLow, "expired", "body").
		WithExpiry(-time.Minute)
	keeper := NewNotification(TypeInfo, PriorityLow, "keeper", "body").
		WithExpiry(time.Hour)
	forever := NewNotification(TypeWarning, PriorityHigh, "forever", "body")

	require.NoError(t, store.Save(expired))
	require.NoError(t, store.Save(keeper))
	require.NoError(t, store.Save(forever))

	require.NoError(t, store.DeleteExpired())

	got, err := store.Get(expired.ID)
	assert.ErrorIs(t, err, ErrNotificationNotFound)
	assert.Nil(t, got)

	for _, id := range []string{keeper.ID, forever.ID} {
		got, err := store.Get(id)
		require.NoError(t, err)
		assert.NotNil(t, got)
	}

	count, err := store.UnreadCount()
	require.NoError(t, err)
	assert.Equal(t, 2, count, "expiry removal keeps the unread count honest")
}

func TestContentKeyStability(t *testing.T) {
	t.Parallel()

	a := NewNotification(TypeError, PriorityHigh, " Flush Failed ", "disk full").WithComponent("History")
	b := NewNotification(TypeError, PriorityLow, "Flush Failed", "disk full").WithComponent("history")
	c := NewNotification(TypeError, PriorityHigh, "Flush Failed", "disk almost full").WithComponent("history")

	assert.Equal(t, a.ContentKey(), b.ContentKey(), "priority and whitespace do not change identity")
	assert.NotEqual(t, a.ContentKey(), c.ContentKey())
}

func TestCloneIsDeep(t *testing.T) {
	t.Parallel()

	n := NewNotification(TypeWarning, PriorityHigh, "locked", "queued").
		WithMetadata("counts", map[string]any{"queued": 3}).
		WithMetadata("rooms", []any{"Bougenville"})

	clone := n.Clone()
	clone.Metadata["counts"].(map[string]any)["queued"] = 9
	clone.Metadata["rooms"] = append(clone.Metadata["rooms"].([]any), "Kenanga")

	assert.Equal(t, 3, n.Metadata["counts"].(map[string]any)["queued"])
	assert.Len(t, n.Metadata["rooms"].([]any), 1)
}

func TestIsExpired(t *testing.T) {
	t.Parallel()

	fresh := NewNotification(TypeInfo, PriorityLow, "fresh", "body")
	assert.False(t, fresh.IsExpired(), "no expiry means never expired")

	gone := NewNotification(TypeInfo, PriorityLow, "gone", "body").WithExpiry(-time.Second)
	assert.True(t, gone.IsExpired())
}

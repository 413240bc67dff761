package tracker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carebell/carebell-go/internal/conf"
	"github.com/carebell/carebell-go/internal/errors"
	"github.com/carebell/carebell-go/internal/events"
)

// syncPublisher delivers synthesized events straight back into the
// tracker, standing in for the dispatcher stream.
type syncPublisher struct {
	tracker *Tracker
	reject  bool
}

func (p *syncPublisher) TryPublishCall(event events.CallEvent) bool {
	if p.reject {
		return false
	}
	_ = p.tracker.ProcessCallEvent(event)
	return true
}

func TestEncloseLatestClosesNewestCall(t *testing.T) {
	t.Parallel()

	h := newTestTracker(t, conf.TrackerSettings{})
	require.NoError(t, h.tracker.ProcessCallEvent(triggerEvent(t, "101", []string{"nc.wav"}, "", "")))
	require.NoError(t, h.tracker.ProcessCallEvent(triggerEvent(t, "102", []string{"nc.wav"}, "", "")))

	code, err := h.tracker.EncloseLatest()
	require.NoError(t, err)
	assert.Equal(t, "102", code)

	snapshot := h.tracker.ActiveSnapshot()
	require.Len(t, snapshot, 1)
	assert.Equal(t, "101", snapshot[0].Code)
	assert.Equal(t, []string{"102"}, h.history.completed)
}

func TestEncloseLatestWithoutActiveCalls(t *testing.T) {
	t.Parallel()

	h := newTestTracker(t, conf.TrackerSettings{})

	_, err := h.tracker.EncloseLatest()
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}

func TestEncloseAllClosesInTriggerOrder(t *testing.T) {
	t.Parallel()

	h := newTestTracker(t, conf.TrackerSettings{})
	for _, code := range []string{"101", "102", "103"} {
		require.NoError(t, h.tracker.ProcessCallEvent(triggerEvent(t, code, []string{"nc.wav"}, "", "")))
	}

	closed, err := h.tracker.EncloseAll()
	require.NoError(t, err)
	assert.Equal(t, 3, closed)
	assert.Empty(t, h.tracker.ActiveSnapshot())
	assert.Equal(t, []string{"101", "102", "103"}, h.history.completed)

	// Idempotent when nothing is active.
	closed, err = h.tracker.EncloseAll()
	require.NoError(t, err)
	assert.Equal(t, 0, closed)
}

func TestEnclosureFlowsThroughPublisher(t *testing.T) {
	t.Parallel()

	publisher := &syncPublisher{}
	h := newTestTracker(t, conf.TrackerSettings{}, WithPublisher(publisher))
	publisher.tracker = h.tracker

	require.NoError(t, h.tracker.ProcessCallEvent(triggerEvent(t, "101", []string{"nc.wav"}, "", "")))

	code, err := h.tracker.EncloseLatest()
	require.NoError(t, err)
	assert.Equal(t, "101", code)
	assert.Empty(t, h.tracker.ActiveSnapshot())

	// A late hardware response frame for the same call is deduped.
	require.NoError(t, h.tracker.ProcessCallEvent(responseEvent(t, "101")))
	assert.Equal(t, uint64(1), h.tracker.Stats().Completed)
	assert.Equal(t, uint64(1), h.tracker.Stats().SuppressedResponses)
}

func TestEnclosureSurfacesStreamRejection(t *testing.T) {
	t.Parallel()

	publisher := &syncPublisher{reject: true}
	h := newTestTracker(t, conf.TrackerSettings{}, WithPublisher(publisher))
	publisher.tracker = h.tracker

	require.NoError(t, h.tracker.ProcessCallEvent(triggerEvent(t, "101", []string{"nc.wav"}, "", "")))

	_, err := h.tracker.EncloseLatest()
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryState))
	assert.Len(t, h.tracker.ActiveSnapshot(), 1, "call stays active when the stream rejects the closure")
}

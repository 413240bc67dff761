package api

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carebell/carebell-go/internal/errors"
	"github.com/carebell/carebell-go/internal/tracker"
)

func TestGetActiveCalls(t *testing.T) {
	t.Parallel()

	board := &fakeBoard{
		connected: true,
		snapshot: []tracker.ActiveCall{
			{Code: "101", Room: "Room 1", Display: "Room 1", TriggeredAt: time.Now()},
			{Code: "102", Bed: "Bed 2", Display: "Bed 2", TriggeredAt: time.Now()},
		},
	}
	s := newTestServer(t, nil, WithCallBoard(board))

	rec := perform(s, http.MethodGet, "/api/v1/calls/active", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, true, body["connected"])
	assert.InDelta(t, 2, body["count"], 0)
	calls, ok := body["calls"].([]any)
	require.True(t, ok)
	require.Len(t, calls, 2)
	first, ok := calls[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "101", first["code"])
}

func TestGetActiveCallsEmptyIsArray(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, nil, WithCallBoard(&fakeBoard{}))
	rec := perform(s, http.MethodGet, "/api/v1/calls/active", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"calls":[]`)
}

func TestGetActiveCallsWithoutTracker(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, nil)
	rec := perform(s, http.MethodGet, "/api/v1/calls/active", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestEncloseLatest(t *testing.T) {
	t.Parallel()

	board := &fakeBoard{latest: "101"}
	s := newTestServer(t, nil, WithCallBoard(board))

	rec := perform(s, http.MethodPost, "/api/v1/calls/enclose-latest", "", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "101", decodeBody(t, rec)["code"])
}

func TestEncloseLatestNoActiveCalls(t *testing.T) {
	t.Parallel()

	board := &fakeBoard{
		latestErr: errors.Newf("no active calls to enclose").
			Component("tracker").
			Category(errors.CategoryNotFound).
			Build(),
	}
	s := newTestServer(t, nil, WithCallBoard(board))

	rec := perform(s, http.MethodPost, "/api/v1/calls/enclose-latest", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEncloseLatestStreamFull(t *testing.T) {
	t.Parallel()

	board := &fakeBoard{
		latestErr: errors.Newf("event stream full").
			Component("tracker").
			Category(errors.CategoryBroadcast).
			Build(),
	}
	s := newTestServer(t, nil, WithCallBoard(board))

	rec := perform(s, http.MethodPost, "/api/v1/calls/enclose-latest", "", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestEncloseAll(t *testing.T) {
	t.Parallel()

	board := &fakeBoard{closedAll: 3}
	s := newTestServer(t, nil, WithCallBoard(board))

	rec := perform(s, http.MethodPost, "/api/v1/calls/enclose-all", "", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.InDelta(t, 3, decodeBody(t, rec)["closed"], 0)
}

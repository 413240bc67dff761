package api

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carebell/carebell-go/internal/history"
)

func historyRecord(code string, startedAt time.Time) history.Record {
	return history.Record{
		ID:        history.RecordID(code, startedAt),
		Code:      code,
		StartedAt: startedAt,
		Status:    history.StatusCompleted,
	}
}

func TestGetHistory(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	log := &fakeCallLog{records: []history.Record{
		historyRecord("101", now.Add(-2*time.Hour)),
		historyRecord("102", now.Add(-time.Hour)),
	}}
	s := newTestServer(t, nil, WithCallLog(log))

	rec := perform(s, http.MethodGet, "/api/v1/history?code=101", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.InDelta(t, 2, body["count"], 0)
	assert.Equal(t, "101", log.filter().Code)
	assert.False(t, log.filter().IncludeDeleted)
}

func TestGetHistoryTimeFilters(t *testing.T) {
	t.Parallel()

	log := &fakeCallLog{}
	s := newTestServer(t, nil, WithCallLog(log))

	rec := perform(s, http.MethodGet,
		"/api/v1/history?from=2025-06-01&to=2025-06-02T15:00:00Z&includeDeleted=true", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	filter := log.filter()
	require.NotNil(t, filter.From)
	require.NotNil(t, filter.To)
	wantFrom := time.Date(2025, 6, 1, 0, 0, 0, 0, time.Local)
	assert.True(t, filter.From.Equal(wantFrom), "from %v", filter.From)
	assert.True(t, filter.To.Equal(time.Date(2025, 6, 2, 15, 0, 0, 0, time.UTC)))
	assert.True(t, filter.IncludeDeleted)
}

func TestGetHistoryInvalidTime(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, nil, WithCallLog(&fakeCallLog{}))
	rec := perform(s, http.MethodGet, "/api/v1/history?from=yesterday", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetHistoryLimitKeepsRecentTail(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	log := &fakeCallLog{records: []history.Record{
		historyRecord("101", now.Add(-3*time.Hour)),
		historyRecord("102", now.Add(-2*time.Hour)),
		historyRecord("103", now.Add(-time.Hour)),
	}}
	s := newTestServer(t, nil, WithCallLog(log))

	rec := perform(s, http.MethodGet, "/api/v1/history?limit=2", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.InDelta(t, 2, body["count"], 0)
	calls, ok := body["calls"].([]any)
	require.True(t, ok)
	require.Len(t, calls, 2)
	first, ok := calls[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "102", first["code"])
}

func TestGetHistoryInvalidLimit(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, nil, WithCallLog(&fakeCallLog{}))
	rec := perform(s, http.MethodGet, "/api/v1/history?limit=-1", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeleteHistory(t *testing.T) {
	t.Parallel()

	log := &fakeCallLog{deleted: 4}
	s := newTestServer(t, nil, WithCallLog(log))

	rec := perform(s, http.MethodDelete,
		"/api/v1/history?from=2025-06-01&to=2025-06-30&reason=month+end+cleanup", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.InDelta(t, 4, decodeBody(t, rec)["deleted"], 0)

	from, to, reason := log.deleteArgs()
	require.NotNil(t, from)
	require.NotNil(t, to)
	assert.Equal(t, "month end cleanup", reason)
}

func TestDeleteHistoryDefaultsReason(t *testing.T) {
	t.Parallel()

	log := &fakeCallLog{deleted: 1}
	s := newTestServer(t, nil, WithCallLog(log))

	rec := perform(s, http.MethodDelete, "/api/v1/history", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	from, to, reason := log.deleteArgs()
	assert.Nil(t, from)
	assert.Nil(t, to)
	assert.Equal(t, "operator", reason)
}

func TestDeleteHistoryInvalidTime(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, nil, WithCallLog(&fakeCallLog{}))
	rec := perform(s, http.MethodDelete, "/api/v1/history?to=06/30/2025", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestParseTimeParam(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		value   string
		want    *time.Time
		wantErr bool
	}{
		{name: "empty", value: ""},
		{
			name:  "date only",
			value: "2025-06-01",
			want:  timePtr(time.Date(2025, 6, 1, 0, 0, 0, 0, time.Local)),
		},
		{
			name:  "rfc3339",
			value: "2025-06-01T08:30:00Z",
			want:  timePtr(time.Date(2025, 6, 1, 8, 30, 0, 0, time.UTC)),
		},
		{name: "garbage", value: "last tuesday", wantErr: true},
		{name: "us format", value: "06/01/2025", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := parseTimeParam(tt.value)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			if tt.want == nil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.True(t, got.Equal(*tt.want), "got %v want %v", got, tt.want)
		})
	}
}

func timePtr(t time.Time) *time.Time {
	return &t
}

package api

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carebell/carebell-go/internal/notification"
)

// sseEvent is one parsed event-stream message.
type sseEvent struct {
	name string
	data string
}

// readSSEEvent reads lines until one full message has been seen.
func readSSEEvent(t *testing.T, reader *bufio.Reader) sseEvent {
	t.Helper()
	var event sseEvent
	for {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case strings.HasPrefix(line, "event: "):
			event.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			event.data = strings.TrimPrefix(line, "data: ")
		case line == "":
			if event.name != "" {
				return event
			}
		}
	}
}

func TestStreamNotifications(t *testing.T) {
	t.Parallel()

	svc := newTestNotificationService(t)
	s := newTestServer(t, nil, WithNotifications(svc))

	ts := httptest.NewServer(s.Echo())
	t.Cleanup(ts.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		ts.URL+"/api/v1/notifications/stream", http.NoBody)
	require.NoError(t, err)

	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	reader := bufio.NewReader(resp.Body)

	// The connected handshake proves the subscription is in place
	// before anything is published.
	connected := readSSEEvent(t, reader)
	assert.Equal(t, "connected", connected.name)

	_, err = svc.Create(notification.TypeCall, notification.PriorityHigh, "Room 3", "call triggered")
	require.NoError(t, err)

	event := readSSEEvent(t, reader)
	assert.Equal(t, "notification", event.name)
	assert.Contains(t, event.data, `"Room 3"`)
	assert.Contains(t, event.data, `"call"`)
}

func TestStreamWithoutNotificationService(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, nil)
	rec := perform(s, http.MethodGet, "/api/v1/notifications/stream", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestStreamConnectRateLimit(t *testing.T) {
	t.Parallel()

	svc := newTestNotificationService(t)
	s := newTestServer(t, nil, WithNotifications(svc))

	ts := httptest.NewServer(s.Echo())
	t.Cleanup(ts.Close)

	// Burn through the connection burst with short-lived streams.
	limited := false
	for i := 0; i < streamConnectBurst+2; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet,
			ts.URL+"/api/v1/notifications/stream", http.NoBody)
		require.NoError(t, err)
		resp, err := ts.Client().Do(req)
		require.NoError(t, err)
		if resp.StatusCode == http.StatusTooManyRequests {
			limited = true
		}
		_ = resp.Body.Close()
		cancel()
		if limited {
			break
		}
	}
	assert.True(t, limited, "expected a 429 once the connect burst was spent")
}

package notification

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newWebhookTestServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server
}

func TestWebhookSendPostsPayload(t *testing.T) {
	t.Parallel()

	var gotBody atomic.Pointer[webhookPayload]
	var gotContentType atomic.Pointer[string]
	var gotHeader atomic.Pointer[string]

	server := newWebhookTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		var payload webhookPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err == nil {
			gotBody.Store(&payload)
		}
		ct := r.Header.Get("Content-Type")
		gotContentType.Store(&ct)
		h := r.Header.Get("X-Ward")
		gotHeader.Store(&h)
		w.WriteHeader(http.StatusOK)
	})

	provider := NewWebhookProvider("ward-webhook", true, WebhookEndpoint{
		URL:     server.URL,
		Headers: map[string]string{"X-Ward": "bougenville"},
	}, nil)
	t.Cleanup(provider.Close)

	n := NewNotification(TypeCall, PriorityHigh, "Nurse Call", "Bougenville - 01").
		WithComponent("tracker").
		WithMetadata("code", "101")
	n.Occurrences = 2

	require.NoError(t, provider.Send(context.Background(), n))

	payload := gotBody.Load()
	require.NotNil(t, payload)
	assert.Equal(t, n.ID, payload.ID)
	assert.Equal(t, "call", payload.Type)
	assert.Equal(t, "high", payload.Priority)
	assert.Equal(t, "Nurse Call", payload.Title)
	assert.Equal(t, "Bougenville - 01", payload.Message)
	assert.Equal(t, "tracker", payload.Component)
	assert.Equal(t, 2, payload.Occurrences)
	assert.Equal(t, "101", payload.Metadata["code"])
	assert.NotEmpty(t, payload.Timestamp)

	assert.Equal(t, "application/json", *gotContentType.Load())
	assert.Equal(t, "bougenville", *gotHeader.Load())
}

func TestWebhookSendBearerAuth(t *testing.T) {
	t.Parallel()

	var gotAuth atomic.Pointer[string]
	server := newWebhookTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		gotAuth.Store(&auth)
		w.WriteHeader(http.StatusNoContent)
	})

	provider := NewWebhookProvider("", true, WebhookEndpoint{
		URL:  server.URL,
		Auth: WebhookAuth{BearerToken: "s3cret"},
	}, nil)
	t.Cleanup(provider.Close)

	n := NewNotification(TypeError, PriorityHigh, "title", "message")
	require.NoError(t, provider.Send(context.Background(), n))
	assert.Equal(t, "Bearer s3cret", *gotAuth.Load())
}

func TestWebhookSendBasicAuth(t *testing.T) {
	t.Parallel()

	type creds struct {
		user, pass string
		ok         bool
	}
	var got atomic.Pointer[creds]
	server := newWebhookTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		got.Store(&creds{user, pass, ok})
		w.WriteHeader(http.StatusOK)
	})

	provider := NewWebhookProvider("", true, WebhookEndpoint{
		URL:  server.URL,
		Auth: WebhookAuth{Username: "nurse", Password: "station"},
	}, nil)
	t.Cleanup(provider.Close)

	n := NewNotification(TypeError, PriorityHigh, "title", "message")
	require.NoError(t, provider.Send(context.Background(), n))

	c := got.Load()
	require.NotNil(t, c)
	require.True(t, c.ok)
	assert.Equal(t, "nurse", c.user)
	assert.Equal(t, "station", c.pass)
}

func TestWebhookSendServerError(t *testing.T) {
	t.Parallel()

	server := newWebhookTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "queue full", http.StatusServiceUnavailable)
	})

	provider := NewWebhookProvider("", true, WebhookEndpoint{URL: server.URL}, nil)
	t.Cleanup(provider.Close)

	n := NewNotification(TypeError, PriorityHigh, "title", "message")
	err := provider.Send(context.Background(), n)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
	assert.Contains(t, err.Error(), "queue full")
}

func TestWebhookSendTimeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	server := newWebhookTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	t.Cleanup(func() { close(release) })

	provider := NewWebhookProvider("", true, WebhookEndpoint{
		URL:     server.URL,
		Timeout: 50 * time.Millisecond,
	}, nil)
	t.Cleanup(provider.Close)

	n := NewNotification(TypeError, PriorityHigh, "title", "message")

	start := time.Now()
	err := provider.Send(context.Background(), n)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second, "endpoint timeout must bound the request")
}

func TestWebhookValidateConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		enabled  bool
		endpoint WebhookEndpoint
		wantErr  string
	}{
		{
			name:     "valid https",
			enabled:  true,
			endpoint: WebhookEndpoint{URL: "https://hooks.example.com/carebell"},
		},
		{
			name:     "valid http with bearer",
			enabled:  true,
			endpoint: WebhookEndpoint{URL: "http://10.0.0.5:8080/hook", Auth: WebhookAuth{BearerToken: "tok"}},
		},
		{
			name:     "disabled skips validation",
			enabled:  false,
			endpoint: WebhookEndpoint{},
		},
		{
			name:     "missing URL",
			enabled:  true,
			endpoint: WebhookEndpoint{},
			wantErr:  "URL is required",
		},
		{
			name:     "bad scheme",
			enabled:  true,
			endpoint: WebhookEndpoint{URL: "ftp://example.com/hook"},
			wantErr:  "scheme",
		},
		{
			name:     "missing host",
			enabled:  true,
			endpoint: WebhookEndpoint{URL: "https://"},
			wantErr:  "host",
		},
		{
			name:    "bearer and basic together",
			enabled: true,
			endpoint: WebhookEndpoint{
				URL:  "https://example.com/hook",
				Auth: WebhookAuth{BearerToken: "tok", Username: "user"},
			},
			wantErr: "not both",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			provider := NewWebhookProvider("test", tt.enabled, tt.endpoint, nil)
			t.Cleanup(provider.Close)

			err := provider.ValidateConfig()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestWebhookDefaults(t *testing.T) {
	t.Parallel()

	provider := NewWebhookProvider("", true, WebhookEndpoint{URL: "https://example.com"}, []string{"error", "warning"})
	t.Cleanup(provider.Close)

	assert.Equal(t, "webhook", provider.GetName())
	assert.True(t, provider.IsEnabled())
	assert.Equal(t, defaultWebhookTimeout, provider.endpoint.Timeout)

	assert.True(t, provider.SupportsType(TypeError))
	assert.True(t, provider.SupportsType(TypeWarning))
	assert.False(t, provider.SupportsType(TypeCall))
	assert.False(t, provider.SupportsType(TypeInfo))
}

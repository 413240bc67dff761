package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/carebell/carebell-go/internal/httpclient"
)

const (
	// defaultWebhookTimeout is the default timeout for webhook HTTP requests
	defaultWebhookTimeout = 30 * time.Second

	// maxErrorBodySize limits error response body reading to prevent memory issues
	maxErrorBodySize = 1024
)

// WebhookEndpoint describes a single webhook destination.
type WebhookEndpoint struct {
	URL     string
	Headers map[string]string
	Timeout time.Duration
	Auth    WebhookAuth
}

// WebhookAuth holds webhook request credentials. A bearer token wins over
// basic auth; both empty means unauthenticated.
type WebhookAuth struct {
	BearerToken string
	Username    string
	Password    string
}

// webhookPayload is the JSON structure posted to webhooks.
type webhookPayload struct {
	ID          string         `json:"id"`
	Type        string         `json:"type"`
	Priority    string         `json:"priority,omitempty"`
	Title       string         `json:"title"`
	Message     string         `json:"message"`
	Component   string         `json:"component,omitempty"`
	Timestamp   string         `json:"timestamp"`
	Occurrences int            `json:"occurrences,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// WebhookProvider posts notifications as JSON to a configured endpoint.
// Thread-safe for concurrent use. Errors stay plain here: a failed push is
// the dispatcher's to log, not a new error event to fan out again.
type WebhookProvider struct {
	name     string
	enabled  bool
	endpoint WebhookEndpoint
	types    map[Type]bool
	client   *httpclient.Client
}

// NewWebhookProvider creates a webhook provider for a single endpoint.
func NewWebhookProvider(name string, enabled bool, endpoint WebhookEndpoint, supportedTypes []string) *WebhookProvider {
	wp := &WebhookProvider{
		name:     strings.TrimSpace(name),
		enabled:  enabled,
		endpoint: endpoint,
		types:    supportedTypeSet(supportedTypes),
	}
	if wp.name == "" {
		wp.name = "webhook"
	}
	if wp.endpoint.Headers != nil {
		wp.endpoint.Headers = maps.Clone(wp.endpoint.Headers)
	}
	if wp.endpoint.Timeout <= 0 {
		wp.endpoint.Timeout = defaultWebhookTimeout
	}

	cfg := httpclient.DefaultConfig()
	cfg.UserAgent = "CareBell-Go-Webhook/1.0"
	cfg.DefaultTimeout = defaultWebhookTimeout
	wp.client = httpclient.New(&cfg)

	return wp
}

func (w *WebhookProvider) GetName() string          { return w.name }
func (w *WebhookProvider) IsEnabled() bool          { return w.enabled }
func (w *WebhookProvider) SupportsType(t Type) bool { return w.types[t] }

// ValidateConfig validates the endpoint, called once during initialization.
func (w *WebhookProvider) ValidateConfig() error {
	if !w.enabled {
		return nil
	}

	if w.endpoint.URL == "" {
		return fmt.Errorf("endpoint URL is required")
	}
	u, err := url.Parse(w.endpoint.URL)
	if err != nil {
		return fmt.Errorf("invalid endpoint URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("endpoint URL scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("endpoint URL host is required")
	}
	if w.endpoint.Auth.BearerToken != "" && w.endpoint.Auth.Username != "" {
		return fmt.Errorf("configure either a bearer token or basic auth, not both")
	}
	return nil
}

// Send posts the notification to the endpoint as JSON. The endpoint timeout
// bounds the whole request.
func (w *WebhookProvider) Send(ctx context.Context, n *Notification) error {
	payload, err := json.Marshal(webhookPayload{
		ID:          n.ID,
		Type:        string(n.Type),
		Priority:    string(n.Priority),
		Title:       n.Title,
		Message:     n.Message,
		Component:   n.Component,
		Timestamp:   n.Timestamp.Format(time.RFC3339),
		Occurrences: n.Occurrences,
		Metadata:    n.Metadata,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, w.endpoint.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint.URL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	for key, value := range w.endpoint.Headers {
		req.Header.Set(key, value)
	}
	switch {
	case w.endpoint.Auth.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+w.endpoint.Auth.BearerToken)
	case w.endpoint.Auth.Username != "":
		req.SetBasicAuth(w.endpoint.Auth.Username, w.endpoint.Auth.Password)
	}

	resp, err := w.client.Do(ctx, req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		return fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	return nil
}

// Close releases the provider's HTTP connection pool.
func (w *WebhookProvider) Close() {
	if w.client != nil {
		w.client.Close()
	}
}

package httpclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		cfg         *Config
		wantTimeout time.Duration
		wantUA      string
	}{
		{
			name:        "nil config",
			cfg:         nil,
			wantTimeout: DefaultTimeout,
			wantUA:      defaultUserAgent,
		},
		{
			name:        "zero values use defaults",
			cfg:         &Config{},
			wantTimeout: DefaultTimeout,
			wantUA:      defaultUserAgent,
		},
		{
			name:        "custom values kept",
			cfg:         &Config{DefaultTimeout: 5 * time.Second, UserAgent: "TestAgent/1.0"},
			wantTimeout: 5 * time.Second,
			wantUA:      "TestAgent/1.0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			client := New(tt.cfg)
			t.Cleanup(client.Close)

			require.NotNil(t, client)
			assert.Equal(t, tt.wantTimeout, client.defaultTimeout)
			assert.Equal(t, tt.wantUA, client.userAgent)
		})
	}
}

func TestDoBasicRequest(t *testing.T) {
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("success"))
	})

	client := newTestClient(t)

	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, server.URL, http.NoBody)
	require.NoError(t, err)

	resp, err := client.Do(t.Context(), req)
	require.NoError(t, err)
	defer closeResponseBody(t, resp)

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "success", string(body))
}

func TestDoNilRequest(t *testing.T) {
	client := newTestClient(t)

	resp, err := client.Do(t.Context(), nil)
	require.Error(t, err)
	assert.Nil(t, resp)
}

func TestDoInjectsUserAgent(t *testing.T) {
	var gotUA atomic.Pointer[string]
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		ua := r.Header.Get("User-Agent")
		gotUA.Store(&ua)
		w.WriteHeader(http.StatusOK)
	})

	client := newTestClientWithConfig(t, &Config{UserAgent: "CustomAgent/2.0"})

	resp, err := client.Get(t.Context(), server.URL)
	require.NoError(t, err)
	closeResponseBody(t, resp)

	assert.Equal(t, "CustomAgent/2.0", *gotUA.Load())

	// An explicit User-Agent on the request wins.
	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, server.URL, http.NoBody)
	require.NoError(t, err)
	req.Header.Set("User-Agent", "Override/3.0")

	resp, err = client.Do(t.Context(), req)
	require.NoError(t, err)
	closeResponseBody(t, resp)

	assert.Equal(t, "Override/3.0", *gotUA.Load())
}

func TestDoContextCancellation(t *testing.T) {
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})

	client := newTestClient(t)

	ctx, cancel := context.WithCancel(t.Context())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL, http.NoBody)
	require.NoError(t, err)

	cancel()

	resp, err := client.Do(ctx, req)
	defer closeResponseBody(t, resp)

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDoDefaultTimeoutApplies(t *testing.T) {
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	})

	client := newTestClientWithConfig(t, &Config{DefaultTimeout: 50 * time.Millisecond})

	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, server.URL, http.NoBody)
	require.NoError(t, err)

	resp, err := client.Do(t.Context(), req)
	defer closeResponseBody(t, resp)

	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDoContextDeadlineOverridesDefault(t *testing.T) {
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(20 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	})

	// Short default, longer per-request deadline: the request deadline wins.
	client := newTestClientWithConfig(t, &Config{DefaultTimeout: 10 * time.Millisecond})

	ctx, cancel := context.WithTimeout(t.Context(), 500*time.Millisecond)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL, http.NoBody)
	require.NoError(t, err)

	resp, err := client.Do(ctx, req)
	require.NoError(t, err)
	defer closeResponseBody(t, resp)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestDoConcurrentRequests(t *testing.T) {
	var requestCount atomic.Int32
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		requestCount.Add(1)
		w.WriteHeader(http.StatusOK)
	})

	client := newTestClient(t)

	const concurrency = 50
	var wg sync.WaitGroup
	wg.Add(concurrency)
	errChan := make(chan error, concurrency)

	for range concurrency {
		go func() {
			defer wg.Done()

			resp, err := client.Get(t.Context(), server.URL)
			if err != nil {
				errChan <- err
				return
			}
			defer func() { _ = resp.Body.Close() }()

			if resp.StatusCode != http.StatusOK {
				errChan <- fmt.Errorf("expected status 200, got %d", resp.StatusCode)
			}
		}()
	}

	wg.Wait()
	close(errChan)

	for err := range errChan {
		require.NoError(t, err)
	}
	assert.Equal(t, int32(concurrency), requestCount.Load())
}

func TestDoHooks(t *testing.T) {
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	client := newTestClient(t)

	var beforeCalled, afterCalled bool
	var capturedResp *http.Response
	var capturedErr error

	client.SetBeforeRequestHook(func(r *http.Request) {
		beforeCalled = true
		assert.Equal(t, server.URL, r.URL.String())
	})
	client.SetAfterResponseHook(func(r *http.Request, resp *http.Response, err error) {
		afterCalled = true
		capturedResp = resp
		capturedErr = err
	})

	resp, err := client.Get(t.Context(), server.URL)
	require.NoError(t, err)
	defer closeResponseBody(t, resp)

	assert.True(t, beforeCalled)
	assert.True(t, afterCalled)
	assert.NotNil(t, capturedResp)
	assert.NoError(t, capturedErr)
}

func TestPost(t *testing.T) {
	var gotBody atomic.Pointer[string]
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		data, _ := io.ReadAll(r.Body)
		s := string(data)
		gotBody.Store(&s)
		w.WriteHeader(http.StatusCreated)
	})

	client := newTestClient(t)

	resp, err := client.Post(t.Context(), server.URL, "application/json", strings.NewReader(`{"ok":true}`))
	require.NoError(t, err)
	defer closeResponseBody(t, resp)

	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, `{"ok":true}`, *gotBody.Load())
}

func TestClose(t *testing.T) {
	client := New(nil)

	client.Close()
	client.Close()
}

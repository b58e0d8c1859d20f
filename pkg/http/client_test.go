package http

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHttpClient_Retry(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("success"))
	}))
	defer server.Close()

	client := NewClient(server.URL, 5*time.Second, nil, WithRetries(3, time.Millisecond, 5*time.Millisecond))
	body, err := client.Get(context.Background(), "/", nil)
	require.NoError(t, err)
	assert.Equal(t, "success", string(body))
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
}

func TestHttpClient_CircuitBreaker(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	var opened atomic.Bool
	client := NewClient(server.URL, 5*time.Second, nil,
		WithRetries(0, 0, 0),
		WithBreakerListener(func(open bool) { opened.Store(open) }),
	)

	// Policy is 5 failures out of 10
	for i := 0; i < 10; i++ {
		_, _ = client.Get(context.Background(), "/", nil)
	}
	assert.True(t, client.BreakerOpen())
	assert.True(t, opened.Load())

	startAttempts := atomic.LoadInt32(&attempts)
	_, err := client.Get(context.Background(), "/", nil)
	assert.Error(t, err)
	assert.Equal(t, startAttempts, atomic.LoadInt32(&attempts), "server reached while circuit open")
}

func TestHttpClient_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("no such market"))
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second, nil)
	_, err := client.Get(context.Background(), "/markets/9/orders", nil)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "no such market", string(apiErr.Body))
}

func TestHttpClient_SignerAndParams(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "k-123", r.Header.Get("X-API-Key"))
		assert.Equal(t, "42", r.URL.Query().Get("slot"))
		_, _ = w.Write([]byte("{}"))
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second, APIKeySigner{Key: "k-123"}, WithRateLimit(100, 1))
	_, err := client.Get(context.Background(), "/orders", map[string]string{"slot": "42"})
	assert.NoError(t, err)
}

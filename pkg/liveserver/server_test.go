package liveserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockLogger for testing
type MockLogger struct {
	mock.Mock
}

func (m *MockLogger) Info(msg string, args ...interface{}) { m.Called(msg, args) }
func (m *MockLogger) Warn(msg string, args ...interface{}) { m.Called(msg, args) }

func newLenientLogger() *MockLogger {
	logger := new(MockLogger)
	logger.On("Info", mock.Anything, mock.Anything).Return()
	logger.On("Warn", mock.Anything, mock.Anything).Return()
	return logger
}

func newTestServer(t *testing.T, logger Logger, origins []string) (*Server, *httptest.Server) {
	t.Helper()
	hub := NewHub(logger)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	server := NewServer(hub, logger, origins)
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)
	return server, ts
}

func dial(ts *httptest.Server, path, origin string) (*websocket.Conn, *http.Response, error) {
	header := http.Header{}
	if origin != "" {
		header.Set("Origin", origin)
	}
	return websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+path, header)
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestServer_PublishReachesSubscribedClient(t *testing.T) {
	server, ts := newTestServer(t, nil, []string{"http://localhost"})

	conn, _, err := dial(ts, "/ws?market=SOL-PERP", "http://localhost")
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return server.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	server.Publish("SOL", map[string]int{"slot": 1})
	server.Publish("SOL-PERP", map[string]int{"slot": 2})

	msg := readMessage(t, conn)
	assert.Equal(t, TypeL2, msg.Type)
	assert.Equal(t, "SOL-PERP", msg.Market)
	assert.Equal(t, map[string]interface{}{"slot": float64(2)}, msg.Data)
}

func TestServer_SubscribeRequest(t *testing.T) {
	server, ts := newTestServer(t, nil, []string{"*"})

	conn, _, err := dial(ts, "/ws", "http://example.com")
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(Request{Op: OpSubscribe, Markets: []string{"SOL"}}))
	ack := readMessage(t, conn)
	assert.Equal(t, TypeSubscribed, ack.Type)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{")))
	assert.Equal(t, TypeError, readMessage(t, conn).Type)

	server.Publish("SOL-PERP", "ignored")
	server.Publish("SOL", "book")
	msg := readMessage(t, conn)
	assert.Equal(t, "SOL", msg.Market)
}

func TestServer_Health(t *testing.T) {
	_, ts := newTestServer(t, nil, nil)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(0), body["clients"])
}

func TestOriginValidation(t *testing.T) {
	tests := []struct {
		name       string
		allowed    []string
		origin     string
		production bool
		accept     bool
	}{
		{"allowed origin", []string{"http://localhost:3000"}, "http://localhost:3000", false, true},
		{"second of several", []string{"http://a.example", "https://b.example"}, "https://b.example", false, true},
		{"unauthorized origin", []string{"http://localhost:3000"}, "http://evil.example", false, false},
		{"missing origin", []string{"http://localhost:3000"}, "", false, false},
		{"wildcard in development", []string{"*"}, "http://anything.example", false, true},
		{"wildcard in production", []string{"*"}, "http://anything.example", true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := newLenientLogger()
			server, ts := newTestServer(t, logger, tt.allowed)
			server.SetProduction(tt.production)

			conn, resp, err := dial(ts, "/ws", tt.origin)
			if tt.accept {
				require.NoError(t, err)
				conn.Close()
				return
			}
			assert.Error(t, err)
			require.NotNil(t, resp)
			assert.Equal(t, http.StatusForbidden, resp.StatusCode)
			logger.AssertCalled(t, "Warn", mock.Anything, mock.Anything)
		})
	}
}

func TestServer_GlobalConnectionLimit(t *testing.T) {
	server, ts := newTestServer(t, newLenientLogger(), []string{"*"})
	server.SetMaxConnections(2)

	conn1, _, err := dial(ts, "/ws", "http://localhost")
	require.NoError(t, err)
	defer conn1.Close()
	conn2, _, err := dial(ts, "/ws", "http://localhost")
	require.NoError(t, err)
	defer conn2.Close()

	conn3, resp, err := dial(ts, "/ws", "http://localhost")
	assert.Error(t, err)
	if conn3 != nil {
		conn3.Close()
	}
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestServer_IPRateLimit(t *testing.T) {
	server, ts := newTestServer(t, newLenientLogger(), []string{"*"})
	server.SetRateLimit(1, 2)

	for i := 0; i < 2; i++ {
		conn, _, err := dial(ts, "/ws", "http://localhost")
		require.NoError(t, err)
		defer conn.Close()
	}

	_, resp, err := dial(ts, "/ws", "http://localhost")
	assert.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestServer_StartStop(t *testing.T) {
	hub := NewHub(nil)
	server := NewServer(hub, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- server.Start(ctx, "127.0.0.1:0") }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
}

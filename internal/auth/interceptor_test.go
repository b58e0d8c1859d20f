package auth

import (
	"context"
	"dlob_engine/pkg/logging"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

func newValidator(t *testing.T, keys []string, limit int) *APIKeyValidator {
	t.Helper()
	logger, err := logging.NewZapLogger("ERROR", logging.WithoutOTel())
	require.NoError(t, err)
	return NewAPIKeyValidator(keys, limit, logger)
}

func TestAPIKeyValidator_ValidateAPIKey(t *testing.T) {
	v := newValidator(t, []string{"valid-key-1", "valid-key-2", ""}, 100)

	tests := []struct {
		name   string
		apiKey string
		want   bool
	}{
		{"valid key 1", "valid-key-1", true},
		{"valid key 2", "valid-key-2", true},
		{"invalid key", "invalid-key", false},
		{"empty key", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, v.ValidateAPIKey(tt.apiKey))
		})
	}
}

func TestAPIKeyValidator_AddRemoveAPIKey(t *testing.T) {
	v := newValidator(t, []string{"initial-key"}, 100)

	v.AddAPIKey("new-key")
	assert.True(t, v.ValidateAPIKey("new-key"))

	v.RemoveAPIKey("initial-key")
	assert.False(t, v.ValidateAPIKey("initial-key"))
}

func TestAPIKeyValidator_RateLimitPerKey(t *testing.T) {
	v := newValidator(t, []string{"a", "b"}, 2)

	assert.True(t, v.CheckRateLimit("a"))
	assert.True(t, v.CheckRateLimit("a"))
	assert.False(t, v.CheckRateLimit("a"))

	// a separate key has its own budget
	assert.True(t, v.CheckRateLimit("b"))
}

func TestUnaryServerInterceptor(t *testing.T) {
	v := newValidator(t, []string{"good"}, 100).Exempt("/grpc.health.v1.Health/")
	interceptor := v.UnaryServerInterceptor()

	var seenID string
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		seenID = RequestID(ctx)
		return "ok", nil
	}
	call := func(ctx context.Context, method string) error {
		_, err := interceptor(ctx, nil, &grpc.UnaryServerInfo{FullMethod: method}, handler)
		return err
	}
	withKey := func(key string) context.Context {
		return metadata.NewIncomingContext(context.Background(), metadata.Pairs(MetadataKeyAPIKey, key))
	}

	err := call(context.Background(), "/dlob.Query/L2")
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	err = call(withKey("bad"), "/dlob.Query/L2")
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	require.NoError(t, call(withKey("good"), "/dlob.Query/L2"))
	assert.NotEmpty(t, seenID)

	seenID = ""
	require.NoError(t, call(context.Background(), "/grpc.health.v1.Health/Check"))
	assert.Empty(t, seenID)
}

func TestUnaryServerInterceptor_RateLimited(t *testing.T) {
	v := newValidator(t, []string{"good"}, 1)
	interceptor := v.UnaryServerInterceptor()
	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs(MetadataKeyAPIKey, "good"))
	handler := func(ctx context.Context, req interface{}) (interface{}, error) { return nil, nil }
	info := &grpc.UnaryServerInfo{FullMethod: "/dlob.Query/L2"}

	_, err := interceptor(ctx, nil, info, handler)
	require.NoError(t, err)
	_, err = interceptor(ctx, nil, info, handler)
	assert.Equal(t, codes.ResourceExhausted, status.Code(err))
}

func TestMiddleware(t *testing.T) {
	v := newValidator(t, []string{"good"}, 1).Exempt("/health", "/metrics")
	h := v.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Seen-Request", RequestID(r.Context()))
		w.WriteHeader(http.StatusOK)
	}))

	do := func(path, key string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if key != "" {
			req.Header.Set(HeaderAPIKey, key)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, do("/health", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do("/l2", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do("/l2", "bad").Code)

	rec := do("/l2", "good")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, rec.Header().Get(HeaderRequestID), rec.Header().Get("X-Seen-Request"))

	assert.Equal(t, http.StatusTooManyRequests, do("/l2", "good").Code)
}

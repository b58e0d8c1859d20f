// Package auth authenticates API callers by key for both the gRPC and HTTP surfaces
package auth

import (
	"context"
	"dlob_engine/internal/core"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

const (
	// MetadataKeyAPIKey is the metadata key for API key authentication
	MetadataKeyAPIKey = "x-api-key"
	// HeaderAPIKey is the HTTP header carrying the API key
	HeaderAPIKey = "X-API-Key"
	// HeaderRequestID is set on every authenticated HTTP response
	HeaderRequestID = "X-Request-ID"

	// DefaultRateLimitPerKey is the default number of requests per second allowed per API key
	DefaultRateLimitPerKey = 100
)

var (
	errMissingKey  = errors.New("missing API key")
	errInvalidKey  = errors.New("invalid API key")
	errRateLimited = errors.New("rate limit exceeded for API key")
)

// APIKeyValidator validates API keys and rate limits each key independently
type APIKeyValidator struct {
	mu            sync.RWMutex
	validKeys     map[string]bool
	limiters      map[string]*rate.Limiter
	rateLimit     int
	exempt        []string
	logger        core.ILogger
	failureLogger core.ILogger
}

// NewAPIKeyValidator creates a validator. A non-positive rateLimit uses DefaultRateLimitPerKey.
func NewAPIKeyValidator(apiKeys []string, rateLimit int, logger core.ILogger) *APIKeyValidator {
	validKeys := make(map[string]bool, len(apiKeys))
	for _, key := range apiKeys {
		if key != "" {
			validKeys[key] = true
		}
	}
	if rateLimit <= 0 {
		rateLimit = DefaultRateLimitPerKey
	}
	return &APIKeyValidator{
		validKeys:     validKeys,
		limiters:      make(map[string]*rate.Limiter),
		rateLimit:     rateLimit,
		logger:        logger.WithField("component", "auth"),
		failureLogger: logger.WithField("component", "auth_failure"),
	}
}

// Exempt skips authentication for gRPC methods or HTTP paths starting with any prefix
func (v *APIKeyValidator) Exempt(prefixes ...string) *APIKeyValidator {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.exempt = append(v.exempt, prefixes...)
	return v
}

// AddAPIKey adds a key, for rotation
func (v *APIKeyValidator) AddAPIKey(apiKey string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.validKeys[apiKey] = true
	v.logger.Info("API key added")
}

// RemoveAPIKey revokes a key and drops its limiter
func (v *APIKeyValidator) RemoveAPIKey(apiKey string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.validKeys, apiKey)
	delete(v.limiters, apiKey)
	v.logger.Info("API key removed")
}

// ValidateAPIKey checks if the API key is valid
func (v *APIKeyValidator) ValidateAPIKey(apiKey string) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.validKeys[apiKey]
}

// CheckRateLimit reports whether one more request for apiKey fits its budget
func (v *APIKeyValidator) CheckRateLimit(apiKey string) bool {
	v.mu.Lock()
	limiter, ok := v.limiters[apiKey]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(v.rateLimit), v.rateLimit)
		v.limiters[apiKey] = limiter
	}
	v.mu.Unlock()
	return limiter.Allow()
}

func (v *APIKeyValidator) isExempt(method string) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	for _, p := range v.exempt {
		if strings.HasPrefix(method, p) {
			return true
		}
	}
	return false
}

func (v *APIKeyValidator) authorize(apiKey, method, clientIP, requestID string) error {
	var err error
	switch {
	case apiKey == "":
		err = errMissingKey
	case !v.ValidateAPIKey(apiKey):
		err = errInvalidKey
	case !v.CheckRateLimit(apiKey):
		err = errRateLimited
	default:
		return nil
	}
	v.failureLogger.Warn("Request rejected",
		"reason", err.Error(),
		"method", method,
		"request_id", requestID,
		"client_ip", clientIP)
	return err
}

type requestIDKey struct{}

// RequestID returns the id assigned to an authenticated request, or ""
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func withRequestID(ctx context.Context) (context.Context, string) {
	id := uuid.New().String()
	return context.WithValue(ctx, requestIDKey{}, id), id
}

func grpcClientIP(ctx context.Context) string {
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		return p.Addr.String()
	}
	return "unknown"
}

func grpcAPIKey(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if keys := md.Get(MetadataKeyAPIKey); len(keys) > 0 {
		return keys[0]
	}
	return ""
}

func grpcError(err error) error {
	if errors.Is(err, errRateLimited) {
		return status.Error(codes.ResourceExhausted, err.Error())
	}
	return status.Error(codes.Unauthenticated, err.Error())
}

// UnaryServerInterceptor returns a gRPC unary interceptor for API key authentication
func (v *APIKeyValidator) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if v.isExempt(info.FullMethod) {
			return handler(ctx, req)
		}
		ctx, requestID := withRequestID(ctx)
		if err := v.authorize(grpcAPIKey(ctx), info.FullMethod, grpcClientIP(ctx), requestID); err != nil {
			return nil, grpcError(err)
		}
		return handler(ctx, req)
	}
}

// StreamServerInterceptor returns a gRPC stream interceptor for API key authentication
func (v *APIKeyValidator) StreamServerInterceptor() grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if v.isExempt(info.FullMethod) {
			return handler(srv, ss)
		}
		ctx, requestID := withRequestID(ss.Context())
		if err := v.authorize(grpcAPIKey(ctx), info.FullMethod, grpcClientIP(ctx), requestID); err != nil {
			return grpcError(err)
		}
		return handler(srv, &wrappedServerStream{ServerStream: ss, ctx: ctx})
	}
}

// ServerOptions returns the interceptors as gRPC server options
func (v *APIKeyValidator) ServerOptions() []grpc.ServerOption {
	return []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(v.UnaryServerInterceptor()),
		grpc.ChainStreamInterceptor(v.StreamServerInterceptor()),
	}
}

// wrappedServerStream wraps grpc.ServerStream to allow context replacement
type wrappedServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (w *wrappedServerStream) Context() context.Context {
	return w.ctx
}

// Middleware authenticates HTTP requests by the X-API-Key header
func (v *APIKeyValidator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if v.isExempt(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		ctx, requestID := withRequestID(r.Context())
		clientIP, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			clientIP = r.RemoteAddr
		}
		w.Header().Set(HeaderRequestID, requestID)
		if err := v.authorize(r.Header.Get(HeaderAPIKey), r.URL.Path, clientIP, requestID); err != nil {
			code := http.StatusUnauthorized
			if errors.Is(err, errRateLimited) {
				code = http.StatusTooManyRequests
			}
			http.Error(w, err.Error(), code)
			return
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

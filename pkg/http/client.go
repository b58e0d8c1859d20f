// Package http provides a reusable HTTP client with resilience features
package http

import (
	"context"
	"dlob_engine/pkg/telemetry"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

// APIError represents an API error response
type APIError struct {
	StatusCode int
	Body       []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error: status=%d body=%s", e.StatusCode, string(e.Body))
}

// Signer is an interface for signing requests
type Signer interface {
	SignRequest(req *http.Request) error
}

// APIKeySigner sets a static key header on every request
type APIKeySigner struct {
	Header string
	Key    string
}

func (s APIKeySigner) SignRequest(req *http.Request) error {
	if s.Key == "" {
		return nil
	}
	header := s.Header
	if header == "" {
		header = "X-API-Key"
	}
	req.Header.Set(header, s.Key)
	return nil
}

// BreakerListener is told when the circuit opens (true) or closes again (false)
type BreakerListener func(open bool)

type clientOptions struct {
	limiter       *rate.Limiter
	onBreaker     BreakerListener
	maxRetries    int
	breakerDelay  time.Duration
	retryBackoff  time.Duration
	retryMaxDelay time.Duration
}

// ClientOption customizes NewClient
type ClientOption func(*clientOptions)

// WithRateLimit caps outgoing requests. A non-positive rps disables limiting.
func WithRateLimit(rps float64, burst int) ClientOption {
	return func(o *clientOptions) {
		if rps <= 0 {
			o.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		o.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithBreakerListener registers a callback for circuit breaker transitions
func WithBreakerListener(fn BreakerListener) ClientOption {
	return func(o *clientOptions) { o.onBreaker = fn }
}

// WithRetries overrides the retry count and backoff bounds
func WithRetries(maxRetries int, backoff, maxDelay time.Duration) ClientOption {
	return func(o *clientOptions) {
		o.maxRetries = maxRetries
		o.retryBackoff = backoff
		o.retryMaxDelay = maxDelay
	}
}

// WithBreakerDelay sets how long the circuit stays open before probing again
func WithBreakerDelay(d time.Duration) ClientOption {
	return func(o *clientOptions) { o.breakerDelay = d }
}

// Client is a wrapper around http.Client with resilience
type Client struct {
	client   *http.Client
	baseURL  string
	signer   Signer
	limiter  *rate.Limiter
	breaker  circuitbreaker.CircuitBreaker[*http.Response]
	pipeline failsafe.Executor[*http.Response]

	// OTel
	tracer      trace.Tracer
	reqCounter  metric.Int64Counter
	errCounter  metric.Int64Counter
	latencyHist metric.Float64Histogram
}

// NewClient creates a new HTTP client with default resilience policies
func NewClient(baseURL string, timeout time.Duration, signer Signer, opts ...ClientOption) *Client {
	o := clientOptions{
		maxRetries:    3,
		breakerDelay:  10 * time.Second,
		retryBackoff:  100 * time.Millisecond,
		retryMaxDelay: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(&o)
	}

	retryBuilder := retrypolicy.NewBuilder[*http.Response]().
		HandleIf(func(resp *http.Response, err error) bool {
			// Retry on network errors or 5xx server errors
			if err != nil {
				return true
			}
			return resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
		}).
		WithMaxRetries(o.maxRetries)
	if o.retryMaxDelay > o.retryBackoff && o.retryBackoff > 0 {
		retryBuilder = retryBuilder.WithBackoff(o.retryBackoff, o.retryMaxDelay)
	}
	retryPolicy := retryBuilder.Build()

	breakerBuilder := circuitbreaker.NewBuilder[*http.Response]().
		HandleIf(func(resp *http.Response, err error) bool {
			if err != nil {
				return true
			}
			return resp.StatusCode >= 500
		}).
		WithFailureThresholdRatio(5, 10). // 5 failures out of 10
		WithDelay(o.breakerDelay)
	if o.onBreaker != nil {
		notify := o.onBreaker
		breakerBuilder = breakerBuilder.
			OnOpen(func(circuitbreaker.StateChangedEvent) { notify(true) }).
			OnClose(func(circuitbreaker.StateChangedEvent) { notify(false) })
	}
	breaker := breakerBuilder.Build()

	tracer := telemetry.GetTracer("http-client")
	meter := telemetry.GetMeter("http-client")

	reqCounter, _ := meter.Int64Counter("http_requests_total",
		metric.WithDescription("Total number of HTTP requests"))
	errCounter, _ := meter.Int64Counter("http_errors_total",
		metric.WithDescription("Total number of HTTP errors"))
	latencyHist, _ := meter.Float64Histogram("http_request_duration_seconds",
		metric.WithDescription("HTTP request latency in seconds"))

	return &Client{
		client: &http.Client{
			Timeout: timeout,
		},
		baseURL:     baseURL,
		signer:      signer,
		limiter:     o.limiter,
		breaker:     breaker,
		pipeline:    failsafe.With[*http.Response](retryPolicy, breaker),
		tracer:      tracer,
		reqCounter:  reqCounter,
		errCounter:  errCounter,
		latencyHist: latencyHist,
	}
}

// BreakerOpen reports whether the circuit is currently rejecting requests
func (c *Client) BreakerOpen() bool {
	return c.breaker.IsOpen()
}

// Get sends a GET request
func (c *Client) Get(ctx context.Context, path string, params map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	q := req.URL.Query()
	for k, v := range params {
		q.Add(k, v)
	}
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Accept", "application/json")

	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	start := time.Now()
	ctx := req.Context()

	ctx, span := c.tracer.Start(ctx, fmt.Sprintf("%s %s", req.Method, req.URL.Path),
		trace.WithAttributes(
			attribute.String("http.method", req.Method),
			attribute.String("http.url", req.URL.String()),
		),
	)
	defer span.End()

	req = req.WithContext(ctx)

	if c.signer != nil {
		if err := c.signer.SignRequest(req); err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("failed to sign request: %w", err)
		}
	}

	resp, err := c.pipeline.WithContext(ctx).GetWithExecution(func(exec failsafe.Execution[*http.Response]) (*http.Response, error) {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}
		return c.client.Do(req)
	})

	attrs := metric.WithAttributes(
		attribute.String("method", req.Method),
		attribute.String("path", req.URL.Path),
	)
	c.reqCounter.Add(ctx, 1, attrs)
	c.latencyHist.Record(ctx, time.Since(start).Seconds(), attrs)

	if err != nil {
		span.RecordError(err)
		c.errCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("method", req.Method),
			attribute.String("path", req.URL.Path),
			attribute.String("error", "pipeline_failed"),
		))
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		c.errCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("method", req.Method),
			attribute.String("path", req.URL.Path),
			attribute.Int("status", resp.StatusCode),
		))
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Body:       body,
		}
	}

	return body, nil
}

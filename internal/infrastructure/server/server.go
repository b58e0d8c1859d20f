// Package server serves the DLOB query API alongside health, status and metrics endpoints
package server

import (
	"context"
	"dlob_engine/internal/core"
	"dlob_engine/internal/dlob"
	"dlob_engine/internal/subscriber"
	"dlob_engine/pkg/telemetry"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	apperrors "dlob_engine/pkg/apperrors"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DLOBQuerier is the read side of subscriber.Subscriber
type DLOBQuerier interface {
	GetL2(req subscriber.L2Request) (*core.L2OrderBook, error)
	GetL3(sel subscriber.MarketSelector) (*core.L3OrderBook, error)
	GetDLOB() *dlob.Store
	State() subscriber.State
}

// MarketNamer maps a market id back to its configured name
type MarketNamer interface {
	Name(id core.MarketID) (string, bool)
}

// APIServer serves /l2, /l3, /markets, /health, /status and /metrics
type APIServer struct {
	port         int
	logger       core.ILogger
	srv          *http.Server
	dlob         DLOBQuerier
	names        MarketNamer
	hm           core.IHealthMonitor
	defaultDepth int

	mu     sync.RWMutex
	status map[string]string

	middleware []func(http.Handler) http.Handler
}

// NewAPIServer creates an API server. names and hm may be nil.
func NewAPIServer(port int, q DLOBQuerier, names MarketNamer, hm core.IHealthMonitor, defaultDepth int, logger core.ILogger) *APIServer {
	return &APIServer{
		port:         port,
		logger:       logger.WithField("component", "api_server"),
		dlob:         q,
		names:        names,
		hm:           hm,
		defaultDepth: defaultDepth,
		status:       make(map[string]string),
	}
}

// Handler returns the request multiplexer
func (s *APIServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /l2", s.handleL2)
	mux.HandleFunc("GET /l3", s.handleL3)
	mux.HandleFunc("GET /markets", s.handleMarkets)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.Handle("GET /metrics", promhttp.Handler())

	var h http.Handler = mux
	for i := len(s.middleware) - 1; i >= 0; i-- {
		h = s.middleware[i](h)
	}
	return h
}

// Use wraps every route in mw; the first registered middleware runs outermost
func (s *APIServer) Use(mw func(http.Handler) http.Handler) {
	s.middleware = append(s.middleware, mw)
}

// Start serves until ctx is done
func (s *APIServer) Start(ctx context.Context) error {
	s.srv = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting API server", "port", s.port)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.logger.Info("Stopping API server")
		return s.srv.Shutdown(shutdownCtx)
	}
}

// UpdateStatus sets a free-form entry shown on /status
func (s *APIServer) UpdateStatus(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status[key] = value
}

// l2Response adds the market name to the book
type l2Response struct {
	Market      string `json:"market,omitempty"`
	MarketIndex uint16 `json:"market_index"`
	MarketType  string `json:"market_type"`
	*core.L2OrderBook
}

type l3Response struct {
	Market      string `json:"market,omitempty"`
	MarketIndex uint16 `json:"market_index"`
	MarketType  string `json:"market_type"`
	*core.L3OrderBook
}

func (s *APIServer) handleL2(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sel, err := parseSelector(q.Get("market"), q.Get("market_index"), q.Get("market_type"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	req := subscriber.L2Request{MarketSelector: sel, Depth: s.defaultDepth}
	if v := q.Get("depth"); v != "" {
		if req.Depth, err = strconv.Atoi(v); err != nil {
			s.writeError(w, fmt.Errorf("%w: depth %q", apperrors.ErrInvalidConfiguration, v))
			return
		}
	}
	if v := q.Get("include_vamm"); v != "" {
		if req.IncludeVAMM, err = strconv.ParseBool(v); err != nil {
			s.writeError(w, fmt.Errorf("%w: include_vamm %q", apperrors.ErrInvalidConfiguration, v))
			return
		}
	}
	if v := q.Get("num_vamm_orders"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.writeError(w, fmt.Errorf("%w: num_vamm_orders %q", apperrors.ErrInvalidConfiguration, v))
			return
		}
		req.NumVAMMOrders = &n
	}

	book, err := s.dlob.GetL2(req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, l2Response{
		Market:      s.nameOf(book.Market, sel.Name),
		MarketIndex: book.Market.Index,
		MarketType:  book.Market.Type.String(),
		L2OrderBook: book,
	})
}

func (s *APIServer) handleL3(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sel, err := parseSelector(q.Get("market"), q.Get("market_index"), q.Get("market_type"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	book, err := s.dlob.GetL3(sel)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, l3Response{
		Market:      s.nameOf(book.Market, sel.Name),
		MarketIndex: book.Market.Index,
		MarketType:  book.Market.Type.String(),
		L3OrderBook: book,
	})
}

type marketSummary struct {
	Market      string `json:"market,omitempty"`
	MarketIndex uint16 `json:"market_index"`
	MarketType  string `json:"market_type"`
	Orders      int    `json:"orders"`
	Triggers    int    `json:"trigger_orders"`
	BestBid     string `json:"best_bid,omitempty"`
	BestAsk     string `json:"best_ask,omitempty"`
}

func (s *APIServer) handleMarkets(w http.ResponseWriter, r *http.Request) {
	store := s.dlob.GetDLOB()
	markets := make([]marketSummary, 0)
	for _, id := range store.Markets() {
		book, _ := store.Market(id)
		m := marketSummary{
			Market:      s.nameOf(id, ""),
			MarketIndex: id.Index,
			MarketType:  id.Type.String(),
			Orders:      book.OrderCount(),
			Triggers:    len(book.TriggerOrders()),
		}
		if p, ok := book.BestBid(); ok {
			m.BestBid = p.String()
		}
		if p, ok := book.BestAsk(); ok {
			m.BestAsk = p.String()
		}
		markets = append(markets, m)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"slot":    store.Slot(),
		"markets": markets,
	})
}

func (s *APIServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	metrics := telemetry.GetGlobalMetrics()
	store := s.dlob.GetDLOB()

	health := map[string]interface{}{
		"status": "ok",
		"time":   time.Now(),
		"state":  s.dlob.State().String(),
		"dlob": map[string]interface{}{
			"slot":        store.Slot(),
			"orders":      store.OrderCount(),
			"queue_depth": metrics.GetQueueDepth(),
		},
	}

	code := http.StatusOK
	if s.hm != nil {
		health["components"] = s.hm.GetStatus()
		if !s.hm.IsHealthy() {
			health["status"] = "unhealthy"
			code = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, code, health)
}

func (s *APIServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	merged := make(map[string]string, len(s.status))
	for k, v := range s.status {
		merged[k] = v
	}
	s.mu.RUnlock()

	if s.hm != nil {
		for k, v := range s.hm.GetStatus() {
			merged[k] = v
		}
	}
	writeJSON(w, http.StatusOK, merged)
}

func (s *APIServer) nameOf(id core.MarketID, requested string) string {
	if s.names != nil {
		if name, ok := s.names.Name(id); ok {
			return name
		}
	}
	return requested
}

func (s *APIServer) writeError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		s.logger.Warn("Query failed", "error", err)
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, apperrors.ErrMarketNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperrors.ErrMissingMarketSelector),
		errors.Is(err, apperrors.ErrConflictingLiquiditySources),
		errors.Is(err, apperrors.ErrInvalidConfiguration):
		return http.StatusBadRequest
	case errors.Is(err, apperrors.ErrOraclePriceUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// parseSelector builds a selector from query parameters; a name wins over index and type
func parseSelector(name, index, typ string) (subscriber.MarketSelector, error) {
	if name != "" {
		return subscriber.ByName(name), nil
	}
	if index == "" || typ == "" {
		return subscriber.MarketSelector{}, apperrors.ErrMissingMarketSelector
	}
	idx, err := strconv.ParseUint(index, 10, 16)
	if err != nil {
		return subscriber.MarketSelector{}, fmt.Errorf("%w: market_index %q", apperrors.ErrInvalidConfiguration, index)
	}
	mt, err := core.ParseMarketType(typ)
	if err != nil {
		return subscriber.MarketSelector{}, fmt.Errorf("%w: %w", apperrors.ErrInvalidConfiguration, err)
	}
	return subscriber.ByID(core.MarketID{Index: uint16(idx), Type: mt}), nil
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// Package liveserver streams order book snapshots to WebSocket clients
package liveserver

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"
)

var (
	websocketActiveConnections = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "dlob_ws_active_connections",
		Help: "Current number of active WebSocket connections",
	}, []string{"endpoint"})

	websocketRejectedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dlob_ws_rejected_total",
		Help: "Total number of rejected WebSocket connections",
	}, []string{"reason"})
)

func init() {
	prometheus.MustRegister(websocketActiveConnections)
	prometheus.MustRegister(websocketRejectedTotal)
}

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// Server accepts WebSocket connections and attaches them to a Hub
type Server struct {
	hub            *Hub
	srv            *http.Server
	logger         Logger
	upgrader       websocket.Upgrader
	allowedOrigins []string
	mu             sync.Mutex

	maxConnections int
	connSemaphore  chan struct{}

	rateLimitEnabled bool
	ipLimiters       sync.Map // map[string]*rate.Limiter
	rateLimit        rate.Limit
	rateBurst        int

	production bool
}

// NewServer creates a new Server
func NewServer(hub *Hub, logger Logger, allowedOrigins []string) *Server {
	s := &Server{
		hub:              hub,
		logger:           logger,
		allowedOrigins:   allowedOrigins,
		maxConnections:   1000,
		connSemaphore:    make(chan struct{}, 1000),
		rateLimitEnabled: true,
		rateLimit:        10.0, // connections per second per IP
		rateBurst:        20,
	}

	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}

	return s
}

// checkOrigin validates the WebSocket connection origin against the whitelist
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		s.warn("Rejected WebSocket connection with missing Origin header", "remote_addr", r.RemoteAddr)
		websocketRejectedTotal.WithLabelValues("invalid_origin").Inc()
		return false
	}

	parsedOrigin, err := url.Parse(origin)
	if err != nil {
		s.warn("Rejected WebSocket connection with invalid Origin", "origin", origin, "error", err)
		websocketRejectedTotal.WithLabelValues("invalid_origin").Inc()
		return false
	}
	originStr := parsedOrigin.Scheme + "://" + parsedOrigin.Host

	s.mu.Lock()
	production := s.production
	s.mu.Unlock()

	for _, allowed := range s.allowedOrigins {
		if allowed == "*" {
			if production {
				s.warn("Rejected wildcard origin in production mode", "origin", origin, "remote_addr", r.RemoteAddr)
				websocketRejectedTotal.WithLabelValues("invalid_origin").Inc()
				return false
			}
			return true
		}
		if originStr == allowed {
			return true
		}
	}

	s.warn("Rejected WebSocket connection from unauthorized origin",
		"origin", origin,
		"remote_addr", r.RemoteAddr,
		"allowed_origins", s.allowedOrigins)
	websocketRejectedTotal.WithLabelValues("invalid_origin").Inc()
	return false
}

// Handler returns the HTTP handler serving /ws and /health
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

// Start serves on addr until ctx is cancelled
func (s *Server) Start(ctx context.Context, addr string) error {
	s.mu.Lock()
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	srv := s.srv
	s.mu.Unlock()

	s.info("Starting live server", "addr", addr)

	errChan := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Stop(shutdownCtx)
	}
}

// Stop gracefully stops the server
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.srv == nil {
		return nil
	}
	s.info("Stopping live server")
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	// rate and connection limits apply before the upgrade allocates anything
	if s.rateLimitEnabled {
		ip := s.getRemoteIP(r)
		if !s.getIPLimiter(ip).Allow() {
			s.warn("IP rate limit exceeded", "ip", ip)
			websocketRejectedTotal.WithLabelValues("rate_limit").Inc()
			http.Error(w, "Too many requests", http.StatusTooManyRequests)
			return
		}
	}

	s.mu.Lock()
	sem := s.connSemaphore
	s.mu.Unlock()

	select {
	case sem <- struct{}{}:
		websocketActiveConnections.WithLabelValues(r.URL.Path).Inc()
		defer func() {
			<-sem
			websocketActiveConnections.WithLabelValues(r.URL.Path).Dec()
		}()
	default:
		s.warn("Max connections reached")
		websocketRejectedTotal.WithLabelValues("connection_limit").Inc()
		http.Error(w, "Server busy", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.warn("WebSocket upgrade failed", "error", err)
		return
	}

	client := NewClient(uuid.New().String())
	if markets := r.URL.Query()["market"]; len(markets) > 0 {
		client.Subscribe(markets...)
	}
	s.hub.Register(client)
	s.info("Client connected", "client_id", client.id, "remote_addr", r.RemoteAddr)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.writePump(conn, client)
	}()
	go func() {
		defer wg.Done()
		s.readPump(conn, client)
	}()
	wg.Wait()

	s.hub.Unregister(client)
	_ = conn.Close()
	s.info("Client disconnected", "client_id", client.id)
}

// writePump sends messages from hub to WebSocket connection
func (s *Server) writePump(conn *websocket.Conn, client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	// unblocks readPump once writing stops
	defer conn.Close()

	for {
		select {
		case msg, ok := <-client.GetSendChan():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(msg); err != nil {
				s.warn("Write error", "client_id", client.id, "error", err)
				return
			}

		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump handles pongs and subscribe/unsubscribe requests
func (s *Server) readPump(conn *websocket.Conn, client *Client) {
	defer s.hub.Unregister(client)

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.warn("Read error", "client_id", client.id, "error", err)
			}
			return
		}

		var req Request
		if err := json.Unmarshal(data, &req); err != nil {
			client.Send(NewMessage(TypeError, "", "malformed request"))
			continue
		}
		switch req.Op {
		case OpSubscribe:
			client.Subscribe(req.Markets...)
			client.Send(NewMessage(TypeSubscribed, "", req.Markets))
		case OpUnsubscribe:
			client.Unsubscribe(req.Markets...)
		default:
			client.Send(NewMessage(TypeError, "", "unknown op: "+req.Op))
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  "ok",
		"clients": s.hub.ClientCount(),
		"time":    time.Now().Unix(),
	})
}

// Publish broadcasts an L2 snapshot of one market
func (s *Server) Publish(market string, book interface{}) bool {
	return s.hub.Broadcast(NewL2Message(market, book))
}

// ClientCount returns the number of connected clients
func (s *Server) ClientCount() int {
	return s.hub.ClientCount()
}

// SetProduction sets the production mode
func (s *Server) SetProduction(prod bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.production = prod
}

// SetMaxConnections updates the maximum number of concurrent connections
func (s *Server) SetMaxConnections(max int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maxConnections = max
	s.connSemaphore = make(chan struct{}, max)
}

// SetRateLimit updates the IP-based rate limiting parameters
func (s *Server) SetRateLimit(limit float64, burst int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rateLimit = rate.Limit(limit)
	s.rateBurst = burst
	s.ipLimiters.Range(func(key, _ any) bool {
		s.ipLimiters.Delete(key)
		return true
	})
}

// getRemoteIP extracts the client IP address from RemoteAddr; forwarded headers are not trusted
func (s *Server) getRemoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *Server) getIPLimiter(ip string) *rate.Limiter {
	if val, ok := s.ipLimiters.Load(ip); ok {
		return val.(*rate.Limiter)
	}

	s.mu.Lock()
	limiter := rate.NewLimiter(s.rateLimit, s.rateBurst)
	s.mu.Unlock()

	actual, _ := s.ipLimiters.LoadOrStore(ip, limiter)
	return actual.(*rate.Limiter)
}

func (s *Server) info(msg string, kv ...interface{}) {
	if s.logger != nil {
		s.logger.Info(msg, kv...)
	}
}

func (s *Server) warn(msg string, kv ...interface{}) {
	if s.logger != nil {
		s.logger.Warn(msg, kv...)
	}
}

// Package terminal serves the browser-facing API: tick history, candles,
// the trade feed and a websocket push channel for live updates.
package terminal

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"gascap/config"
	"gascap/internal/candles"
	"gascap/internal/metrics"
	"gascap/internal/models"
	"gascap/internal/poller"
	"gascap/logger"
)

const (
	defaultTimeframe = 60
	maxTimeframe     = 86400
	writeWait        = 10 * time.Second
)

// TickSource exposes the stored tick history.
type TickSource interface {
	Ticks(ctx context.Context) []models.Tick
}

// TradeSource exposes the recent-trades feed.
type TradeSource interface {
	Trades() []models.TradeEvent
}

// MarketView exposes the merged market snapshot and a manual refresh.
type MarketView interface {
	Snapshot() poller.Snapshot
	Refresh(ctx context.Context) poller.Snapshot
}

// Server is the HTTP front of the pipeline. It owns the websocket hub and
// pushes a state frame to every connected client after each poll cycle.
type Server struct {
	config config.TerminalConfig
	ticks  TickSource
	trades TradeSource
	market MarketView
	log    *logger.Log

	httpServer *http.Server
	upgrader   websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
	running bool
}

func NewServer(cfg config.TerminalConfig, ticks TickSource, trades TradeSource, market MarketView) *Server {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	s := &Server{
		config:  cfg,
		ticks:   ticks,
		trades:  trades,
		market:  market,
		log:     logger.GetLogger(),
		clients: make(map[*websocket.Conn]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// The terminal is served from arbitrary origins in development.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/candles", s.handleCandles)
	mux.HandleFunc("/api/ticks", s.handleTicks)
	mux.HandleFunc("/api/trades", s.handleTrades)
	mux.HandleFunc("/api/state", s.handleState)
	mux.HandleFunc("/api/refresh", s.handleRefresh)
	mux.HandleFunc("/ws", s.handleWebsocket)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())

	s.httpServer = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      s.requestLogger(mux),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	return s
}

func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("terminal server already running")
	}
	s.running = true
	s.mu.Unlock()

	s.log.WithComponent("terminal").WithFields(logger.Fields{
		"addr": s.config.ListenAddr,
	}).Info("starting terminal server")

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.WithComponent("terminal").WithError(err).Error("terminal server failed")
		}
	}()
	return nil
}

func (s *Server) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	for conn := range s.clients {
		conn.Close()
	}
	s.clients = make(map[*websocket.Conn]struct{})
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.log.WithComponent("terminal").WithError(err).Warn("terminal server shutdown")
	}
	s.log.WithComponent("terminal").Info("terminal server stopped")
}

// stateFrame is the payload pushed to websocket clients and served by
// /api/state.
type stateFrame struct {
	Snapshot poller.Snapshot     `json:"snapshot"`
	Trades   []models.TradeEvent `json:"trades"`
	Ticks    int                 `json:"tick_count"`
}

func (s *Server) currentFrame(ctx context.Context) stateFrame {
	return stateFrame{
		Snapshot: s.market.Snapshot(),
		Trades:   s.trades.Trades(),
		Ticks:    len(s.ticks.Ticks(ctx)),
	}
}

// Broadcast pushes the current state frame to every websocket client. Wired
// to the poll cycle so clients see fresh data without polling the API.
func (s *Server) Broadcast() {
	frame := s.currentFrame(context.Background())
	payload, err := json.Marshal(frame)
	if err != nil {
		s.log.WithComponent("terminal").WithError(err).Error("encode state frame")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.clients {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			conn.Close()
			delete(s.clients, conn)
			metrics.WebsocketClients.Dec()
		}
	}
}

func (s *Server) handleCandles(w http.ResponseWriter, r *http.Request) {
	tf := int64(defaultTimeframe)
	if raw := r.URL.Query().Get("tf"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed <= 0 || parsed > maxTimeframe {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid timeframe %q", raw))
			return
		}
		tf = parsed
	}

	ticks := s.ticks.Ticks(r.Context())
	writeJSON(w, http.StatusOK, candles.Aggregate(ticks, tf))
}

func (s *Server) handleTicks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ticks.Ticks(r.Context()))
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.trades.Trades())
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.currentFrame(r.Context()))
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "refresh requires POST")
		return
	}
	snap := s.market.Refresh(r.Context())
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithComponent("terminal").WithError(err).Warn("websocket upgrade failed")
		return
	}

	s.mu.Lock()
	s.clients[conn] = struct{}{}
	s.mu.Unlock()
	metrics.WebsocketClients.Inc()

	// Reader loop exists only to observe the close handshake.
	go func() {
		defer func() {
			s.mu.Lock()
			if _, ok := s.clients[conn]; ok {
				delete(s.clients, conn)
				metrics.WebsocketClients.Dec()
			}
			s.mu.Unlock()
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// requestLogger tags every request with a generated id and logs its outcome.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := uuid.NewString()
		w.Header().Set("X-Request-ID", requestID)

		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		s.log.WithComponent("terminal").WithFields(logger.Fields{
			"request_id": requestID,
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     recorder.status,
			"duration":   time.Since(start).String(),
		}).Info("request handled")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Hijack delegates to the wrapped writer so websocket upgrades work
// through the logging middleware.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("underlying ResponseWriter does not implement http.Hijacker")
	}
	return hj.Hijack()
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

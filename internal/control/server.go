package control

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/pquerna/otp/totp"

	"github.com/Seemysama/tradingbibot/internal/execution"
	"github.com/Seemysama/tradingbibot/internal/model"
	"github.com/Seemysama/tradingbibot/internal/risk"
)

const (
	maxBroadcastBody  = 1 << 16
	defaultTradeLimit = 50
	maxTradeLimit     = 500
)

// SymbolValidator rejects manual orders for symbols no adapter lists.
type SymbolValidator interface {
	ValidateSymbol(symbol string) error
}

// TradeLog backs the trade-tape endpoint.
type TradeLog interface {
	RecentTrades(limit int) ([]execution.TradeRecord, error)
}

// ServerConfig holds control-plane settings.
type ServerConfig struct {
	Addr string
	// TOTPSecret guards the panic endpoint when set. Empty means the
	// endpoint is open, for local development.
	TOTPSecret string
	// Adapters lists the exchange adapters reported by /health.
	Adapters []string
	Symbols  []string
	// Validator, when set, gates manual orders to listed symbols.
	Validator SymbolValidator
	// Trades, when set, enables GET /trades.
	Trades TradeLog
}

// Server is the HTTP control plane.
type Server struct {
	cfg     ServerConfig
	hub     *Hub
	guard   *risk.Guard
	execCh  chan<- model.Signal
	metrics http.Handler
	started time.Time
}

// NewServer wires the control plane. metrics may be nil to disable the
// endpoint.
func NewServer(cfg ServerConfig, hub *Hub, guard *risk.Guard, execCh chan<- model.Signal, metrics http.Handler) *Server {
	return &Server{
		cfg:     cfg,
		hub:     hub,
		guard:   guard,
		execCh:  execCh,
		metrics: metrics,
		started: time.Now(),
	}
}

// Routes builds the HTTP mux.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/orders/execute", s.handleOrder)
	mux.HandleFunc("/panic", s.handlePanic)
	mux.HandleFunc("/internal/broadcast", s.handleBroadcast)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/logs", s.hub.ServeWS)
	if s.cfg.Trades != nil {
		mux.HandleFunc("/trades", s.handleTrades)
	}
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics)
	}
	return mux
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.Routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // WebSocket connections are long-lived
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("[control] listening on %s", s.cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// orderRequest is the manual order payload. Price zero means "at market":
// the execution engine substitutes its cached mark price.
type orderRequest struct {
	Symbol string  `json:"symbol"`
	Side   string  `json:"side"`
	Price  float64 `json:"price"`
}

func (s *Server) handleOrder(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST only")
		return
	}
	if s.guard.Locked() {
		writeError(w, http.StatusConflict, "trading locked by panic stop")
		return
	}

	var req orderRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBroadcastBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed order body")
		return
	}
	if req.Symbol == "" || (req.Side != model.SignalBuy && req.Side != model.SignalSell) {
		writeError(w, http.StatusBadRequest, "symbol and side (BUY/SELL) required")
		return
	}
	if req.Price < 0 {
		writeError(w, http.StatusBadRequest, "price must not be negative")
		return
	}
	if s.cfg.Validator != nil {
		if err := s.cfg.Validator.ValidateSymbol(req.Symbol); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	sig := model.Signal{
		ID:     fmt.Sprintf("manual-%d", time.Now().UnixNano()),
		Symbol: req.Symbol,
		Side:   req.Side,
		Price:  req.Price,
		TS:     time.Now().UnixMilli(),
		Reason: "manual order",
	}

	select {
	case s.execCh <- sig:
	default:
		writeError(w, http.StatusServiceUnavailable, "execution queue full")
		return
	}

	log.Printf("[control] manual order accepted: %s %s @ %.4f (%s)", sig.Side, sig.Symbol, sig.Price, sig.ID)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "received",
		"order":  sig,
	})
}

// panicRequest optionally carries a TOTP code when the endpoint is guarded.
type panicRequest struct {
	Code   string `json:"code"`
	Reason string `json:"reason"`
}

func (s *Server) handlePanic(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST only")
		return
	}

	var req panicRequest
	// Body is optional; an empty panic request is still a panic.
	json.NewDecoder(io.LimitReader(r.Body, maxBroadcastBody)).Decode(&req)

	if s.cfg.TOTPSecret != "" {
		if !totp.Validate(req.Code, s.cfg.TOTPSecret) {
			writeError(w, http.StatusUnauthorized, "invalid TOTP code")
			return
		}
	}

	reason := req.Reason
	if reason == "" {
		reason = "manual panic"
	}
	s.guard.Trip(reason)
	s.hub.Publish(NewLogEvent("critical", "PANIC: trading locked ("+reason+")"))

	writeJSON(w, http.StatusOK, map[string]any{"status": "panic_activated"})
}

func (s *Server) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST only")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBroadcastBody))
	if err != nil || !json.Valid(body) {
		writeError(w, http.StatusBadRequest, "body must be valid JSON")
		return
	}

	s.hub.Broadcast(body)
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "GET only")
		return
	}

	limit := defaultTradeLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	if limit > maxTradeLimit {
		limit = maxTradeLimit
	}

	trades, err := s.cfg.Trades.RecentTrades(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "trade journal unavailable")
		return
	}
	if trades == nil {
		trades = []execution.TradeRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"trades": trades})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	locked, reason := s.guard.Status()
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":             true,
		"lockout":        locked,
		"lockout_reason": reason,
		"adapters":       s.cfg.Adapters,
		"symbols":        s.cfg.Symbols,
		"ws_clients":     s.hub.ClientCount(),
		"uptime_s":       int64(time.Since(s.started).Seconds()),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}

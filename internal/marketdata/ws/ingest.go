// Package ws ingests the exchange aggregated-trade WebSocket stream and
// pushes normalized ticks into the pipeline. The connection survives network
// faults through exponential-backoff reconnection and a silence watchdog.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Seemysama/tradingbibot/internal/model"
)

const (
	reconnectDelay    = 1 * time.Second
	maxReconnectDelay = 30 * time.Second
)

// IngestConfig holds configuration for the WS ingest.
type IngestConfig struct {
	// BaseURL is the combined-stream endpoint; stream names are appended.
	BaseURL string
	Symbols []string
	// WatchdogTimeout closes the socket when no message arrives for this
	// long, forcing the reconnection loop. Zero disables the watchdog.
	WatchdogTimeout time.Duration
}

// Ingest connects to the exchange WebSocket and pushes normalized ticks
// into a bounded channel. When the channel is full the newest tick is
// dropped and the episode is logged once.
type Ingest struct {
	cfg IngestConfig

	dropLogged bool

	// Optional metrics hooks
	OnReconnect func()
	OnDrop      func()
}

// New creates a new Ingest instance.
func New(cfg IngestConfig) *Ingest {
	return &Ingest{cfg: cfg}
}

// streamEnvelope matches the combined-stream JSON structure:
// {"stream":"btcusdt@aggTrade","data":{...}}
type streamEnvelope struct {
	Stream string        `json:"stream"`
	Data   aggTradeEvent `json:"data"`
}

// aggTradeEvent matches the exchange aggregated-trade record.
// m=true means the buyer was the maker, i.e. an aggressive sell filled.
type aggTradeEvent struct {
	EventType string `json:"e"`
	Symbol    string `json:"s"`
	Price     string `json:"p"`
	Qty       string `json:"q"`
	Maker     bool   `json:"m"`
	TradeTS   int64  `json:"T"`
}

// URL builds the combined-stream subscription URL for all symbols.
func (ing *Ingest) URL() string {
	streams := make([]string, 0, len(ing.cfg.Symbols))
	for _, s := range ing.cfg.Symbols {
		streams = append(streams, strings.ToLower(s)+"@aggTrade")
	}
	return ing.cfg.BaseURL + strings.Join(streams, "/")
}

// Run connects and streams ticks into tickCh until ctx is cancelled.
// Connection errors are never fatal: the loop reconnects with exponential
// backoff (1s doubling up to 30s), reset after a successful receive.
func (ing *Ingest) Run(ctx context.Context, tickCh chan<- model.Tick) {
	url := ing.URL()
	delay := reconnectDelay

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		received, err := ing.connectAndConsume(ctx, url, tickCh)
		if ctx.Err() != nil {
			return
		}
		if received {
			delay = reconnectDelay
		}
		if err != nil {
			log.Printf("[ws] connection lost: %v, reconnecting in %v", err, delay)
			if ing.OnReconnect != nil {
				ing.OnReconnect()
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			delay *= 2
			if delay > maxReconnectDelay {
				delay = maxReconnectDelay
			}
		}
	}
}

// connectAndConsume dials the stream and reads messages until an error or
// cancellation. Returns whether at least one message was received, so the
// caller can reset the backoff counter.
func (ing *Ingest) connectAndConsume(ctx context.Context, url string, tickCh chan<- model.Tick) (bool, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	log.Printf("[ws] connected, %d streams", len(ing.cfg.Symbols))

	// Unblock the read loop on cancellation.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	received := false
	for {
		// The read deadline doubles as the silence watchdog: if no
		// message arrives within the timeout, the read fails and the
		// reconnection loop takes over.
		if ing.cfg.WatchdogTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(ing.cfg.WatchdogTimeout))
		}

		_, raw, err := conn.ReadMessage()
		if err != nil {
			return received, err
		}
		received = true

		tick, err := parseAggTrade(raw)
		if err != nil {
			log.Printf("[ws] skipping malformed message: %v", err)
			continue
		}

		select {
		case tickCh <- tick:
			ing.dropLogged = false
		default:
			// Newest-drop backpressure: losing a tick beats stalling
			// the read loop and losing the connection.
			if !ing.dropLogged {
				log.Println("[ws] tick channel full, dropping newest ticks")
				ing.dropLogged = true
			}
			if ing.OnDrop != nil {
				ing.OnDrop()
			}
		}
	}
}

// parseAggTrade converts a raw combined-stream frame into a model.Tick.
func parseAggTrade(raw []byte) (model.Tick, error) {
	var env streamEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return model.Tick{}, fmt.Errorf("decode: %w", err)
	}
	d := env.Data
	if d.Symbol == "" {
		return model.Tick{}, fmt.Errorf("missing symbol")
	}

	price, err := strconv.ParseFloat(d.Price, 64)
	if err != nil || price <= 0 {
		return model.Tick{}, fmt.Errorf("bad price %q", d.Price)
	}
	qty, err := strconv.ParseFloat(d.Qty, 64)
	if err != nil || qty < 0 {
		return model.Tick{}, fmt.Errorf("bad qty %q", d.Qty)
	}
	if d.TradeTS <= 0 {
		return model.Tick{}, fmt.Errorf("missing trade time")
	}

	side := model.SideBuy
	if d.Maker {
		side = model.SideSell
	}

	return model.Tick{
		Symbol: d.Symbol,
		Price:  price,
		Qty:    qty,
		Side:   side,
		TS:     d.TradeTS,
	}, nil
}

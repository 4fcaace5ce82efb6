// Package questdb persists ticks, candles and trades to QuestDB: writes go
// over the InfluxDB line protocol (ILP) on TCP, reads over the HTTP query
// endpoint.
package questdb

import (
	"fmt"
	"log"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Seemysama/tradingbibot/internal/model"
)

const (
	dialTimeout  = 3 * time.Second
	writeTimeout = 2 * time.Second

	ticksTable   = "trades"
	candlesTable = "candles_1s"
)

// Writer streams ILP lines to QuestDB. Persistence is best-effort: a failed
// write drops the line, closes the connection, and the next write redials.
// Market data loss here never stalls the pipeline.
type Writer struct {
	addr string

	mu   sync.Mutex
	conn net.Conn

	failLogged bool

	// OnWrite observes each attempted write's duration and outcome.
	OnWrite func(d time.Duration, ok bool)
}

// NewWriter creates a writer for the given host and ILP port. The
// connection is established lazily on first write.
func NewWriter(host string, port int) *Writer {
	return &Writer{addr: net.JoinHostPort(host, strconv.Itoa(port))}
}

// WriteTick persists one trade tick.
func (w *Writer) WriteTick(tick model.Tick) {
	w.write(tickLine(tick))
}

// WriteCandle persists one completed candle.
func (w *Writer) WriteCandle(candle model.Candle) {
	w.write(candleLine(candle))
}

// WriteTrade persists one executed paper trade leg.
func (w *Writer) WriteTrade(symbol, side string, price, qty float64, tsMS int64) {
	w.write(fmt.Sprintf("exec_trades,symbol=%s,side=%s price=%s,qty=%s %d\n",
		symbol, strings.ToLower(side), formatFloat(price), formatFloat(qty), tsMS*1_000_000))
}

// Close shuts the connection down.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn != nil {
		err := w.conn.Close()
		w.conn = nil
		return err
	}
	return nil
}

func (w *Writer) write(line string) {
	start := time.Now()
	err := w.writeLine(line)
	if w.OnWrite != nil {
		w.OnWrite(time.Since(start), err == nil)
	}
	if err != nil {
		w.mu.Lock()
		if !w.failLogged {
			log.Printf("[questdb] write failing, dropping lines: %v", err)
			w.failLogged = true
		}
		w.mu.Unlock()
		return
	}
	w.mu.Lock()
	w.failLogged = false
	w.mu.Unlock()
}

func (w *Writer) writeLine(line string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn == nil {
		conn, err := net.DialTimeout("tcp", w.addr, dialTimeout)
		if err != nil {
			return fmt.Errorf("dial %s: %w", w.addr, err)
		}
		w.conn = conn
		log.Printf("[questdb] connected to %s", w.addr)
	}

	w.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if _, err := w.conn.Write([]byte(line)); err != nil {
		w.conn.Close()
		w.conn = nil
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

// tickLine renders one tick as an ILP line. Timestamps are nanoseconds.
func tickLine(t model.Tick) string {
	return fmt.Sprintf("%s,symbol=%s,side=%s price=%s,qty=%s %d\n",
		ticksTable, t.Symbol, t.Side, formatFloat(t.Price), formatFloat(t.Qty), t.TS*1_000_000)
}

func candleLine(c model.Candle) string {
	return fmt.Sprintf("%s,symbol=%s open=%s,high=%s,low=%s,close=%s,volume=%s %d\n",
		candlesTable, c.Symbol,
		formatFloat(c.Open), formatFloat(c.High), formatFloat(c.Low),
		formatFloat(c.Close), formatFloat(c.Volume), c.Start*1_000_000)
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

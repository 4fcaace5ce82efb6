package questdb

import (
	"bufio"
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Seemysama/tradingbibot/internal/model"
)

func TestTickLineFormat(t *testing.T) {
	tick := model.Tick{Symbol: "BTCUSDT", Price: 50000.5, Qty: 0.25, Side: model.SideSell, TS: 1700000000123}
	want := "trades,symbol=BTCUSDT,side=sell price=50000.5,qty=0.25 1700000000123000000\n"
	if got := tickLine(tick); got != want {
		t.Errorf("tickLine = %q, want %q", got, want)
	}
}

func TestCandleLineFormat(t *testing.T) {
	c := model.Candle{Symbol: "ETHUSDT", Start: 1700000001000, Open: 3000, High: 3001.25, Low: 2999, Close: 3000.5, Volume: 12.5}
	want := "candles_1s,symbol=ETHUSDT open=3000,high=3001.25,low=2999,close=3000.5,volume=12.5 1700000001000000000\n"
	if got := candleLine(c); got != want {
		t.Errorf("candleLine = %q, want %q", got, want)
	}
}

func TestWriterSendsLines(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	lines := make(chan string, 4)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		sc := bufio.NewScanner(conn)
		for sc.Scan() {
			lines <- sc.Text() + "\n"
		}
	}()

	host, portStr, _ := net.SplitHostPort(ln.Addr().String())
	port := 0
	for _, ch := range portStr {
		port = port*10 + int(ch-'0')
	}

	w := NewWriter(host, port)
	defer w.Close()

	w.WriteTick(model.Tick{Symbol: "BTCUSDT", Price: 100, Qty: 1, Side: model.SideBuy, TS: 1700000000000})
	w.WriteCandle(model.Candle{Symbol: "BTCUSDT", Start: 1700000000000, Open: 100, High: 101, Low: 99, Close: 100.5, Volume: 3})

	for _, wantPrefix := range []string{"trades,symbol=BTCUSDT", "candles_1s,symbol=BTCUSDT"} {
		select {
		case got := <-lines:
			if !strings.HasPrefix(got, wantPrefix) {
				t.Errorf("line = %q, want prefix %q", got, wantPrefix)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("no line with prefix %q", wantPrefix)
		}
	}
}

func TestWriterSurvivesDownSink(t *testing.T) {
	// Nothing listens here; writes must not panic or block.
	w := NewWriter("127.0.0.1", 1)
	done := make(chan struct{})
	go func() {
		for i := 0; i < 3; i++ {
			w.WriteTick(model.Tick{Symbol: "BTCUSDT", Price: 100, Qty: 1, Side: model.SideBuy, TS: 1})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(15 * time.Second):
		t.Fatal("writer blocked on a dead sink")
	}
}

const candleDataset = `{
	"query": "q",
	"columns": [
		{"name":"timestamp","type":"TIMESTAMP"},
		{"name":"open","type":"DOUBLE"},
		{"name":"high","type":"DOUBLE"},
		{"name":"low","type":"DOUBLE"},
		{"name":"close","type":"DOUBLE"},
		{"name":"volume","type":"DOUBLE"}
	],
	"dataset": [
		["2023-11-14T22:13:21.000000Z", 101, 102, 100, 101.5, 5],
		["2023-11-14T22:13:20.000000Z", 100, 101, 99, 100.5, 3]
	],
	"count": 2
}`

func TestReaderReturnsAscendingCandles(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/exec" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if !strings.Contains(r.URL.Query().Get("query"), "candles_1s") {
			t.Errorf("query = %s", r.URL.Query().Get("query"))
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(candleDataset))
	}))
	defer srv.Close()

	r := readerFor(t, srv.URL)
	candles, err := r.LoadRecentCandles(context.Background(), "BTCUSDT", 10)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(candles) != 2 {
		t.Fatalf("candles = %d, want 2", len(candles))
	}
	if candles[0].Start >= candles[1].Start {
		t.Errorf("not ascending: %d then %d", candles[0].Start, candles[1].Start)
	}
	if candles[0].Open != 100 || candles[1].Close != 101.5 {
		t.Errorf("candles = %+v", candles)
	}
}

func TestReaderFallsBackToTickResample(t *testing.T) {
	var queries []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query().Get("query")
		queries = append(queries, q)
		w.Header().Set("Content-Type", "application/json")
		if strings.Contains(q, "SAMPLE BY") {
			w.Write([]byte(candleDataset))
			return
		}
		// Candle table missing.
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"table does not exist"}`))
	}))
	defer srv.Close()

	r := readerFor(t, srv.URL)
	candles, err := r.LoadRecentCandles(context.Background(), "BTCUSDT", 10)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(candles) != 2 {
		t.Fatalf("candles = %d, want 2", len(candles))
	}
	if len(queries) != 2 || !strings.Contains(queries[1], "SAMPLE BY 1s ALIGN TO CALENDAR") {
		t.Errorf("queries = %v", queries)
	}
}

// readerFor builds a Reader pointed at a test server URL.
func readerFor(t *testing.T, rawURL string) *Reader {
	t.Helper()
	host, portStr, err := net.SplitHostPort(strings.TrimPrefix(rawURL, "http://"))
	if err != nil {
		t.Fatalf("parse test url %q: %v", rawURL, err)
	}
	port := 0
	for _, ch := range portStr {
		port = port*10 + int(ch-'0')
	}
	return NewReader(host, port)
}

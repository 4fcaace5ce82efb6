package execution

import (
	"database/sql"
	"log"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Journal persists executed trades to SQLite for analysis and audit.
type Journal struct {
	mu sync.Mutex
	db *sql.DB
}

// JournalEntry is one executed leg: an open or a close.
type JournalEntry struct {
	SignalID string
	Symbol   string
	Side     string // BUY or SELL
	Event    string // OPEN or CLOSE
	Qty      float64
	Price    float64
	Fee      float64
	PnL      float64 // realized pnl, CLOSE rows only
	Reason   string
	TS       int64 // ms epoch
}

// NewJournal opens (or creates) a SQLite journal database.
func NewJournal(dbPath string) (*Journal, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal=WAL&_sync=NORMAL")
	if err != nil {
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS trades (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		signal_id   TEXT NOT NULL,
		symbol      TEXT NOT NULL,
		side        TEXT NOT NULL,
		event       TEXT NOT NULL,
		qty         REAL NOT NULL,
		price       REAL NOT NULL,
		fee         REAL NOT NULL,
		pnl         REAL DEFAULT 0,
		reason      TEXT,
		ts          INTEGER NOT NULL,
		created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol);
	CREATE INDEX IF NOT EXISTS idx_trades_ts ON trades(ts);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}

	log.Printf("[journal] opened trade journal at %s", dbPath)
	return &Journal{db: db}, nil
}

// Record persists one executed leg.
func (j *Journal) Record(e JournalEntry) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	_, err := j.db.Exec(
		`INSERT INTO trades (signal_id, symbol, side, event, qty, price, fee, pnl, reason, ts)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.SignalID, e.Symbol, e.Side, e.Event, e.Qty, e.Price, e.Fee, e.PnL, e.Reason, e.TS,
	)
	return err
}

// TradeRecord is one row from the trades table.
type TradeRecord struct {
	ID       int64   `json:"id"`
	SignalID string  `json:"signal_id"`
	Symbol   string  `json:"symbol"`
	Side     string  `json:"side"`
	Event    string  `json:"event"`
	Qty      float64 `json:"qty"`
	Price    float64 `json:"price"`
	Fee      float64 `json:"fee"`
	PnL      float64 `json:"pnl"`
	Reason   string  `json:"reason"`
	TS       int64   `json:"ts"`
}

// RecentTrades returns the last N trades, newest first.
func (j *Journal) RecentTrades(limit int) ([]TradeRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	rows, err := j.db.Query(
		`SELECT id, signal_id, symbol, side, event, qty, price, fee, pnl, reason, ts
		 FROM trades ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []TradeRecord
	for rows.Next() {
		var t TradeRecord
		if err := rows.Scan(&t.ID, &t.SignalID, &t.Symbol, &t.Side, &t.Event,
			&t.Qty, &t.Price, &t.Fee, &t.PnL, &t.Reason, &t.TS); err != nil {
			continue
		}
		trades = append(trades, t)
	}
	return trades, nil
}

// Close closes the journal database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// nowMS is split out for tests.
var nowMS = func() int64 { return time.Now().UnixMilli() }

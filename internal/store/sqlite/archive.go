// Package sqlite keeps a local candle archive. It is the warmup fallback
// when QuestDB is unreachable and the data source for offline backtests.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/Seemysama/tradingbibot/internal/model"
)

const (
	batchSize     = 100
	flushInterval = 200 * time.Millisecond
)

// Archive stores completed candles in SQLite, batching inserts to keep the
// write path off the dispatcher's critical path.
type Archive struct {
	db *sql.DB

	mu  sync.Mutex
	buf []model.Candle
}

// NewArchive opens (or creates) the archive database.
func NewArchive(dbPath string) (*Archive, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal=WAL&_sync=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS candles_1s (
		symbol  TEXT NOT NULL,
		ts      INTEGER NOT NULL,
		open    REAL NOT NULL,
		high    REAL NOT NULL,
		low     REAL NOT NULL,
		close   REAL NOT NULL,
		volume  REAL NOT NULL,
		PRIMARY KEY (symbol, ts)
	);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	log.Printf("[sqlite] candle archive open at %s", dbPath)
	return &Archive{db: db}, nil
}

// WriteCandle buffers one candle; a full buffer flushes synchronously.
func (a *Archive) WriteCandle(candle model.Candle) {
	a.mu.Lock()
	a.buf = append(a.buf, candle)
	full := len(a.buf) >= batchSize
	a.mu.Unlock()

	if full {
		if err := a.Flush(); err != nil {
			log.Printf("[sqlite] flush failed: %v", err)
		}
	}
}

// Run flushes the buffer on a timer until ctx is cancelled, then performs a
// final flush.
func (a *Archive) Run(ctx context.Context) {
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			if err := a.Flush(); err != nil {
				log.Printf("[sqlite] final flush failed: %v", err)
			}
			return
		case <-ticker.C:
			if err := a.Flush(); err != nil {
				log.Printf("[sqlite] flush failed: %v", err)
			}
		}
	}
}

// Flush writes all buffered candles in one transaction.
func (a *Archive) Flush() error {
	a.mu.Lock()
	if len(a.buf) == 0 {
		a.mu.Unlock()
		return nil
	}
	batch := a.buf
	a.buf = nil
	a.mu.Unlock()

	tx, err := a.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	stmt, err := tx.Prepare(
		`INSERT OR REPLACE INTO candles_1s (symbol, ts, open, high, low, close, volume) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, c := range batch {
		if _, err := stmt.Exec(c.Symbol, c.Start, c.Open, c.High, c.Low, c.Close, c.Volume); err != nil {
			tx.Rollback()
			return fmt.Errorf("insert: %w", err)
		}
	}
	return tx.Commit()
}

// LoadRecentCandles returns up to limit candles for a symbol, oldest first.
func (a *Archive) LoadRecentCandles(ctx context.Context, symbol string, limit int) ([]model.Candle, error) {
	if err := a.Flush(); err != nil {
		return nil, err
	}

	rows, err := a.db.QueryContext(ctx,
		`SELECT ts, open, high, low, close, volume FROM (
			SELECT * FROM candles_1s WHERE symbol = ? ORDER BY ts DESC LIMIT ?
		) ORDER BY ts ASC`, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("query candles: %w", err)
	}
	defer rows.Close()

	var candles []model.Candle
	for rows.Next() {
		c := model.Candle{Symbol: symbol}
		if err := rows.Scan(&c.Start, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, fmt.Errorf("scan candle: %w", err)
		}
		candles = append(candles, c)
	}
	return candles, rows.Err()
}

// Close flushes and closes the database.
func (a *Archive) Close() error {
	if err := a.Flush(); err != nil {
		log.Printf("[sqlite] flush on close failed: %v", err)
	}
	return a.db.Close()
}

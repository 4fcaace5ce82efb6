package questdb

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/Seemysama/tradingbibot/internal/model"
)

// Reader loads historical candles for warmup through the QuestDB HTTP
// query endpoint. It prefers the persisted candle table and falls back to
// resampling raw ticks when the table is missing or empty.
type Reader struct {
	client *resty.Client
}

// NewReader creates a reader for the QuestDB HTTP port.
func NewReader(host string, httpPort int) *Reader {
	client := resty.New().
		SetBaseURL(fmt.Sprintf("http://%s:%d", host, httpPort)).
		SetTimeout(10 * time.Second)
	return &Reader{client: client}
}

// execResponse is the QuestDB /exec result shape.
type execResponse struct {
	Query   string `json:"query"`
	Error   string `json:"error"`
	Columns []struct {
		Name string `json:"name"`
		Type string `json:"type"`
	} `json:"columns"`
	Dataset [][]any `json:"dataset"`
	Count   int     `json:"count"`
}

// LoadRecentCandles returns up to limit candles for a symbol, oldest first.
func (r *Reader) LoadRecentCandles(ctx context.Context, symbol string, limit int) ([]model.Candle, error) {
	query := fmt.Sprintf(
		`SELECT timestamp, open, high, low, close, volume FROM %s WHERE symbol = '%s' ORDER BY timestamp DESC LIMIT %d`,
		candlesTable, symbol, limit)

	candles, err := r.exec(ctx, symbol, query)
	if err != nil || len(candles) == 0 {
		if err != nil {
			log.Printf("[questdb] candle table query failed (%v), resampling ticks", err)
		}
		return r.resampleTicks(ctx, symbol, limit)
	}
	return candles, nil
}

// resampleTicks rebuilds 1s candles from the raw trade stream.
func (r *Reader) resampleTicks(ctx context.Context, symbol string, limit int) ([]model.Candle, error) {
	query := fmt.Sprintf(
		`SELECT timestamp, first(price) open, max(price) high, min(price) low, last(price) close, sum(qty) volume`+
			` FROM %s WHERE symbol = '%s' SAMPLE BY 1s ALIGN TO CALENDAR ORDER BY timestamp DESC LIMIT %d`,
		ticksTable, symbol, limit)
	return r.exec(ctx, symbol, query)
}

// exec runs one query and converts rows (newest first) into ascending
// candles.
func (r *Reader) exec(ctx context.Context, symbol, query string) ([]model.Candle, error) {
	var out execResponse
	resp, err := r.client.R().
		SetContext(ctx).
		SetQueryParam("query", query).
		SetResult(&out).
		Get("/exec")
	if err != nil {
		return nil, fmt.Errorf("questdb exec: %w", err)
	}
	if resp.IsError() || out.Error != "" {
		return nil, fmt.Errorf("questdb exec: status %d: %s", resp.StatusCode(), out.Error)
	}

	candles := make([]model.Candle, 0, len(out.Dataset))
	for _, row := range out.Dataset {
		if len(row) < 6 {
			continue
		}
		ts, err := parseTimestamp(row[0])
		if err != nil {
			continue
		}
		c := model.Candle{
			Symbol: symbol,
			Start:  ts,
			Open:   toFloat(row[1]),
			High:   toFloat(row[2]),
			Low:    toFloat(row[3]),
			Close:  toFloat(row[4]),
			Volume: toFloat(row[5]),
		}
		if !c.Valid() {
			continue
		}
		candles = append(candles, c)
	}

	// Rows arrive newest first; warmup replays oldest first.
	for i, j := 0, len(candles)-1; i < j; i, j = i+1, j-1 {
		candles[i], candles[j] = candles[j], candles[i]
	}
	return candles, nil
}

// parseTimestamp handles both ISO timestamps and epoch micros, the two
// shapes QuestDB emits for designated timestamp columns.
func parseTimestamp(v any) (int64, error) {
	switch t := v.(type) {
	case string:
		parsed, err := time.Parse("2006-01-02T15:04:05.999999Z", t)
		if err != nil {
			parsed, err = time.Parse(time.RFC3339Nano, t)
			if err != nil {
				return 0, err
			}
		}
		return parsed.UnixMilli(), nil
	case float64:
		return int64(t) / 1000, nil // micros to ms
	default:
		return 0, fmt.Errorf("unsupported timestamp %T", v)
	}
}

func toFloat(v any) float64 {
	f, _ := v.(float64)
	return f
}

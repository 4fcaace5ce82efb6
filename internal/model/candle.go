package model

import "encoding/json"

// Candle represents a fixed-interval OHLCV bar for a single symbol.
// Start is the bucket start time in ms epoch, aligned to the interval.
type Candle struct {
	Symbol string  `json:"symbol"`
	Start  int64   `json:"timestamp"` // bucket start, ms epoch
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// Valid reports whether the candle satisfies the basic OHLC ordering
// invariants. Candles failing this check are dropped upstream.
func (c *Candle) Valid() bool {
	return c.Low <= c.Open && c.Open <= c.High &&
		c.Low <= c.Close && c.Close <= c.High &&
		c.Volume >= 0
}

// JSON returns the JSON-encoded candle (ignoring errors for hot-path usage).
func (c *Candle) JSON() []byte {
	b, _ := json.Marshal(c)
	return b
}

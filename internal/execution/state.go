package execution

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Seemysama/tradingbibot/internal/model"
)

// persistedPosition is the on-disk position shape. Timestamps are stored
// as fractional epoch seconds to stay readable alongside other tooling.
type persistedPosition struct {
	Side       string  `json:"side"`
	EntryPrice float64 `json:"entry_price"`
	Qty        float64 `json:"qty"`
	Timestamp  float64 `json:"timestamp"`
	StopLoss   float64 `json:"stop_loss"`
	TakeProfit float64 `json:"take_profit"`
}

type persistedState struct {
	Balance     float64                      `json:"balance"`
	Positions   map[string]persistedPosition `json:"positions"`
	RealizedPnL float64                      `json:"realized_pnl"`
}

// SaveState writes the portfolio atomically: marshal to a temp file in the
// same directory, then rename over the target. A crash mid-write leaves the
// previous state intact.
func SaveState(path string, pf model.Portfolio) error {
	st := persistedState{
		Balance:     pf.Balance,
		Positions:   make(map[string]persistedPosition, len(pf.Positions)),
		RealizedPnL: pf.RealizedPnL,
	}
	for sym, pos := range pf.Positions {
		st.Positions[sym] = persistedPosition{
			Side:       pos.Side,
			EntryPrice: pos.EntryPrice,
			Qty:        pos.Qty,
			Timestamp:  float64(pos.OpenedTS) / 1000.0,
			StopLoss:   pos.StopLoss,
			TakeProfit: pos.TakeProfit,
		}
	}

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create state dir: %w", err)
		}
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename state: %w", err)
	}
	return nil
}

// LoadState reads a persisted portfolio. A missing file returns a fresh
// portfolio with the given starting balance.
func LoadState(path string, initialBalance float64) (model.Portfolio, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return model.NewPortfolio(initialBalance), nil
	}
	if err != nil {
		return model.Portfolio{}, fmt.Errorf("read state: %w", err)
	}

	var st persistedState
	if err := json.Unmarshal(data, &st); err != nil {
		return model.Portfolio{}, fmt.Errorf("decode state: %w", err)
	}

	pf := model.Portfolio{
		Balance:     st.Balance,
		Positions:   make(map[string]model.Position, len(st.Positions)),
		RealizedPnL: st.RealizedPnL,
	}
	for sym, pos := range st.Positions {
		pf.Positions[sym] = model.Position{
			Symbol:     sym,
			Side:       pos.Side,
			EntryPrice: pos.EntryPrice,
			Qty:        pos.Qty,
			OpenedTS:   int64(pos.Timestamp * 1000.0),
			StopLoss:   pos.StopLoss,
			TakeProfit: pos.TakeProfit,
		}
	}
	return pf, nil
}

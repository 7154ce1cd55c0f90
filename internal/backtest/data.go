// Package backtest holds the shared pieces of the backtesting engine:
// the price series container, performance metric computation, numeric
// sanitation and the synthetic data generator used when no real history
// is available.
package backtest

import (
	"errors"

	"divetrader/internal/model"
)

// ErrInsufficientData marks a price series too short to evaluate the
// strategy's indicator windows. The engine falls back to synthetic data.
var ErrInsufficientData = errors.New("backtest: insufficient historical data")

// Data is the price series a backtest runs over. Single-symbol
// strategies read Bars; portfolio strategies read BySymbol.
type Data struct {
	Symbol   string
	Bars     []model.Bar
	BySymbol map[string][]model.Bar
	Source   model.DataSource
	Period   string
}

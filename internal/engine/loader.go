package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"divetrader/internal/backtest"
	"divetrader/internal/broker"
	"divetrader/internal/model"
	"divetrader/internal/settings"
)

// DataLoader assembles the price series a backtest runs over. Real
// broker history is preferred; when the broker has no usable data the
// loader falls back to a deterministic synthetic series so a backtest
// request never fails for lack of history.
type DataLoader struct {
	broker broker.Broker
	logger *zap.Logger
}

func NewDataLoader(b broker.Broker, logger *zap.Logger) *DataLoader {
	return &DataLoader{broker: b, logger: logger}
}

func isCrypto(symbol string) bool {
	return strings.Contains(symbol, "/")
}

// LoadSeries fetches the single-symbol series for a scalping backtest:
// hourly bars over the requested window, synthetic on fallback.
func (l *DataLoader) LoadSeries(ctx context.Context, symbol string, days int) *backtest.Data {
	end := time.Now().UTC()
	start := end.AddDate(0, 0, -days)

	bars, err := l.broker.GetBars(ctx, symbol, broker.Hour, start, end)
	if err == nil && len(bars) >= minRealBars {
		return &backtest.Data{
			Symbol: symbol,
			Bars:   bars,
			Source: model.DataReal,
			Period: fmt.Sprintf("%dd", days),
		}
	}
	l.logSyntheticFallback(symbol, len(bars), err)
	return l.SyntheticSeries(symbol, days)
}

// SyntheticSeries builds the deterministic fallback series without
// consulting the broker.
func (l *DataLoader) SyntheticSeries(symbol string, days int) *backtest.Data {
	var bars []model.Bar
	if isCrypto(symbol) {
		bars = backtest.SyntheticCrypto(symbol, days, backtest.DefaultSeed)
	} else {
		bars = backtest.SyntheticStock(symbol, days, backtest.DefaultSeed)
	}
	return &backtest.Data{
		Symbol: symbol,
		Bars:   bars,
		Source: model.DataSynthetic,
		Period: fmt.Sprintf("%dd", days),
	}
}

// SyntheticPortfolio builds a synthetic daily series for every symbol.
func (l *DataLoader) SyntheticPortfolio(cfg settings.Distributor, days int) *backtest.Data {
	data := &backtest.Data{
		BySymbol: make(map[string][]model.Bar, len(cfg.Symbols)),
		Source:   model.DataSynthetic,
		Period:   fmt.Sprintf("%dd", days),
	}
	for _, symbol := range cfg.Symbols {
		data.BySymbol[symbol] = backtest.SyntheticStock(symbol, days, backtest.DefaultSeed)
	}
	return data
}

// LoadPortfolio fetches daily series for each symbol in the portfolio
// concurrently. Symbols without usable real history get a synthetic
// series; one synthetic symbol marks the whole dataset synthetic.
func (l *DataLoader) LoadPortfolio(ctx context.Context, cfg settings.Distributor, days int) *backtest.Data {
	pool := newFetchPool(portfolioFetchWorkers, l.logger)
	results := pool.run(ctx, cfg.Symbols, func(ctx context.Context, symbol string) series {
		end := time.Now().UTC()
		start := end.AddDate(0, 0, -days)

		bars, err := l.broker.GetBars(ctx, symbol, broker.Day, start, end)
		if err == nil && len(bars) >= minRealBars {
			return series{symbol: symbol, bars: bars, source: model.DataReal}
		}
		l.logSyntheticFallback(symbol, len(bars), err)
		return series{
			symbol: symbol,
			bars:   backtest.SyntheticStock(symbol, days, backtest.DefaultSeed),
			source: model.DataSynthetic,
		}
	})

	data := &backtest.Data{
		BySymbol: make(map[string][]model.Bar, len(results)),
		Source:   model.DataReal,
		Period:   fmt.Sprintf("%dd", days),
	}
	for _, s := range results {
		data.BySymbol[s.symbol] = s.bars
		if s.source == model.DataSynthetic {
			data.Source = model.DataSynthetic
		}
	}
	return data
}

func (l *DataLoader) logSyntheticFallback(symbol string, got int, err error) {
	switch {
	case err == nil:
		l.logger.Info("too little real history, generating synthetic data",
			zap.String("symbol", symbol), zap.Int("bars", got))
	case errors.Is(err, broker.ErrDataUnavailable):
		l.logger.Info("market data unavailable, generating synthetic data",
			zap.String("symbol", symbol))
	default:
		l.logger.Warn("market data fetch failed, generating synthetic data",
			zap.String("symbol", symbol), zap.Error(err))
	}
}

// Package engine orchestrates backtests: it loads a price series for
// the strategy's universe, replays the strategy over it and returns a
// sanitized result report.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"divetrader/internal/advisor"
	"divetrader/internal/backtest"
	"divetrader/internal/events"
	"divetrader/internal/infrastructure"
	"divetrader/internal/model"
	"divetrader/internal/settings"
	"divetrader/internal/store"
	"divetrader/internal/strategy"
	"divetrader/internal/trading"
)

const (
	defaultDays = 30
	maxDays     = 365

	// below this many real bars the series is treated as unusable and
	// replaced with synthetic data
	minRealBars = 10
)

// Request selects the window and starting capital for a backtest.
// Symbol, when set, overrides the symbol in the strategy's settings.
type Request struct {
	Days           int     `json:"days"`
	Symbol         string  `json:"symbol"`
	InitialCapital float64 `json:"initial_capital"`
}

type Engine struct {
	store   store.Store
	trader  *trading.Service
	advisor advisor.Advisor
	loader  *DataLoader
	logger  *zap.Logger
}

func New(st store.Store, trader *trading.Service, adv advisor.Advisor, logger *zap.Logger) *Engine {
	return &Engine{
		store:   st,
		trader:  trader,
		advisor: adv,
		loader:  NewDataLoader(trader.Broker(), logger),
		logger:  logger,
	}
}

// Run executes one backtest for a stored strategy. Backtests run
// against an isolated strategy instance with a no-op event emitter, so
// a simulation never touches live state or the event stream.
func (e *Engine) Run(ctx context.Context, rec *model.Strategy, req Request) (*model.BacktestResult, error) {
	days := req.Days
	if days <= 0 {
		days = defaultDays
	}
	if days > maxDays {
		return nil, fmt.Errorf("backtest window %d days exceeds maximum %d", days, maxDays)
	}

	capital := req.InitialCapital
	if capital <= 0 {
		capital = rec.InitialCapital
	}
	if capital <= 0 {
		return nil, fmt.Errorf("initial capital must be positive")
	}

	strat, err := strategy.New(rec, strategy.Deps{
		Store:   e.store,
		Trading: e.trader,
		Advisor: e.advisor,
		Emitter: events.Nop{},
		Logger:  e.logger,
	})
	if err != nil {
		return nil, err
	}

	data, err := e.loadData(ctx, rec, req, days)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	result, err := strat.Backtest(ctx, data, capital)
	if err != nil && errors.Is(err, backtest.ErrInsufficientData) && data.Source == model.DataReal {
		// the real series cleared the loader's floor but is still shorter
		// than the strategy's own window; retry once on synthetic data
		e.logger.Info("real history too short for strategy window, retrying on synthetic data",
			zap.Int64("strategy_id", rec.ID), zap.Error(err))
		if data, err = e.syntheticData(rec, req, days); err == nil {
			result, err = strat.Backtest(ctx, data, capital)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("run backtest: %w", err)
	}
	backtest.SanitizeResult(result)

	infrastructure.BacktestsRun.WithLabelValues(string(rec.Kind), string(result.DataSource)).Inc()
	e.logger.Info("backtest complete",
		zap.Int64("strategy_id", rec.ID),
		zap.String("kind", string(rec.Kind)),
		zap.String("data_source", string(result.DataSource)),
		zap.Int("trades", result.TotalTrades),
		zap.Float64("return_pct", result.TotalReturnPct),
		zap.Duration("elapsed", time.Since(started)))
	return result, nil
}

// syntheticData regenerates the strategy's universe from the synthetic
// generator, bypassing the broker.
func (e *Engine) syntheticData(rec *model.Strategy, req Request, days int) (*backtest.Data, error) {
	switch rec.Kind {
	case model.KindScalping:
		cfg, err := settings.ParseScalping(rec.Settings)
		if err != nil {
			return nil, err
		}
		symbol := cfg.Symbol
		if req.Symbol != "" {
			symbol = req.Symbol
		}
		return e.loader.SyntheticSeries(symbol, days), nil

	case model.KindDistributor:
		cfg, err := settings.ParseDistributor(rec.Settings)
		if err != nil {
			return nil, err
		}
		return e.loader.SyntheticPortfolio(cfg, days), nil

	default:
		return nil, fmt.Errorf("unknown strategy kind: %s", rec.Kind)
	}
}

func (e *Engine) loadData(ctx context.Context, rec *model.Strategy, req Request, days int) (*backtest.Data, error) {
	switch rec.Kind {
	case model.KindScalping:
		cfg, err := settings.ParseScalping(rec.Settings)
		if err != nil {
			return nil, err
		}
		symbol := cfg.Symbol
		if req.Symbol != "" {
			symbol = req.Symbol
		}
		return e.loader.LoadSeries(ctx, symbol, days), nil

	case model.KindDistributor:
		cfg, err := settings.ParseDistributor(rec.Settings)
		if err != nil {
			return nil, err
		}
		return e.loader.LoadPortfolio(ctx, cfg, days), nil

	default:
		return nil, fmt.Errorf("unknown strategy kind: %s", rec.Kind)
	}
}

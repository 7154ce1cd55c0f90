// Package store persists strategy records, positions, trades and daily
// performance rows. Each entity is written independently; there are no
// cross-entity transactions, callers tolerate partial visibility.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"divetrader/internal/model"
)

var ErrNotFound = errors.New("store: not found")

type Store interface {
	CreateStrategy(ctx context.Context, s *model.Strategy) error
	GetStrategy(ctx context.Context, id int64) (*model.Strategy, error)
	ListStrategies(ctx context.Context) ([]model.Strategy, error)
	UpdateStrategyActive(ctx context.Context, id int64, active bool) error
	UpdateStrategyCapital(ctx context.Context, id int64, capital float64) error
	SaveSettings(ctx context.Context, id int64, raw json.RawMessage) error

	GetPosition(ctx context.Context, strategyID int64, symbol string) (*model.Position, error)
	ListPositions(ctx context.Context, strategyID int64) ([]model.Position, error)
	UpsertPosition(ctx context.Context, p *model.Position) error
	DeletePosition(ctx context.Context, strategyID int64, symbol string) error

	InsertTrade(ctx context.Context, t *model.Trade) error
	UpdateTradeStatus(ctx context.Context, id int64, status model.TradeStatus, fillPrice decimal.Decimal, executedAt *time.Time) error
	ListTrades(ctx context.Context, strategyID int64, limit int) ([]model.Trade, error)
	ListTradesSince(ctx context.Context, strategyID int64, since time.Time) ([]model.Trade, error)
	PendingTrades(ctx context.Context, strategyID int64) ([]model.Trade, error)

	UpsertPerformance(ctx context.Context, m *model.PerformanceMetric) error
	ListPerformance(ctx context.Context, strategyID int64, days int) ([]model.PerformanceMetric, error)
}

package model

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// StrategyKind identifies the trading algorithm behind a strategy record.
type StrategyKind string

const (
	KindScalping    StrategyKind = "scalping"
	KindDistributor StrategyKind = "distributor"
)

// Strategy 策略配置实体
type Strategy struct {
	ID             int64           `json:"id" db:"id"`
	Name           string          `json:"name" db:"name"`
	Kind           StrategyKind    `json:"kind" db:"kind"`
	IsActive       bool            `json:"is_active" db:"is_active"`
	InitialCapital float64         `json:"initial_capital" db:"initial_capital"`
	CurrentCapital float64         `json:"current_capital" db:"current_capital"`
	Settings       json.RawMessage `json:"settings" db:"settings"` // 灵活存储配置
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at" db:"updated_at"`
}

type PositionSide string

const (
	PositionLong  PositionSide = "long"
	PositionShort PositionSide = "short"
)

// Position is the strategy's live holding in one symbol. A position whose
// quantity reaches zero is deleted, not kept as a tombstone.
type Position struct {
	ID            int64           `json:"id" db:"id"`
	StrategyID    int64           `json:"strategy_id" db:"strategy_id"`
	Symbol        string          `json:"symbol" db:"symbol"`
	Quantity      decimal.Decimal `json:"quantity" db:"quantity"`
	AvgPrice      decimal.Decimal `json:"avg_price" db:"avg_price"`
	CurrentPrice  decimal.Decimal `json:"current_price" db:"current_price"`
	MarketValue   decimal.Decimal `json:"market_value" db:"market_value"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl" db:"unrealized_pnl"`
	Side          PositionSide    `json:"side" db:"side"`
	UpdatedAt     time.Time       `json:"updated_at" db:"updated_at"`
}

type TradeStatus string

const (
	TradePending   TradeStatus = "pending"
	TradeFilled    TradeStatus = "filled"
	TradeCancelled TradeStatus = "cancelled"
	TradeRejected  TradeStatus = "rejected"
)

type TradeSide string

const (
	SideBuy  TradeSide = "buy"
	SideSell TradeSide = "sell"
)

// Trade 代表一笔订单记录. Immutable after creation except for the single
// pending -> filled/cancelled/rejected transition done by order settlement.
type Trade struct {
	ID            int64           `json:"id" db:"id"`
	StrategyID    int64           `json:"strategy_id" db:"strategy_id"`
	BrokerOrderID string          `json:"broker_order_id" db:"broker_order_id"`
	Symbol        string          `json:"symbol" db:"symbol"`
	Side          TradeSide       `json:"side" db:"side"`
	Quantity      decimal.Decimal `json:"quantity" db:"quantity"`
	Price         decimal.Decimal `json:"price" db:"price"`
	Status        TradeStatus     `json:"status" db:"status"`
	RealizedPnL   decimal.Decimal `json:"realized_pnl" db:"realized_pnl"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
	ExecutedAt    *time.Time      `json:"executed_at,omitempty" db:"executed_at"`
}

// PerformanceMetric is one row per strategy per day, upserted in place.
type PerformanceMetric struct {
	ID            int64     `json:"id" db:"id"`
	StrategyID    int64     `json:"strategy_id" db:"strategy_id"`
	Date          time.Time `json:"date" db:"date"`
	TotalValue    float64   `json:"total_value" db:"total_value"`
	DailyPnL      float64   `json:"daily_pnl" db:"daily_pnl"`
	CumulativePnL float64   `json:"cumulative_pnl" db:"cumulative_pnl"`
	ROIPct        float64   `json:"roi_pct" db:"roi_pct"`
	TotalTrades   int       `json:"total_trades" db:"total_trades"`
	WinningTrades int       `json:"winning_trades" db:"winning_trades"`
	LosingTrades  int       `json:"losing_trades" db:"losing_trades"`
	WinRate       float64   `json:"win_rate" db:"win_rate"`
	SharpeRatio   float64   `json:"sharpe_ratio" db:"sharpe_ratio"`
	MaxDrawdown   float64   `json:"max_drawdown" db:"max_drawdown"`
}

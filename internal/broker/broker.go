// Package broker abstracts order execution and market data access behind
// one capability interface, with a live Alpaca implementation and a
// deterministic in-memory paper implementation.
package broker

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"divetrader/internal/model"
)

// ErrDataUnavailable marks a market-data miss. Iteration loops skip the
// tick on it, backtests fall back to synthetic data.
var ErrDataUnavailable = errors.New("broker: market data unavailable")

type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderFilled    OrderStatus = "filled"
	OrderCancelled OrderStatus = "cancelled"
	OrderRejected  OrderStatus = "rejected"
)

// Order is the broker-side view of a submitted order.
type Order struct {
	ID          string
	Symbol      string
	Side        model.TradeSide
	Quantity    decimal.Decimal
	FilledPrice decimal.Decimal
	Status      OrderStatus
	FilledAt    *time.Time
}

// Account is the broker account snapshot used for capital sync.
type Account struct {
	Equity      decimal.Decimal
	Cash        decimal.Decimal
	BuyingPower decimal.Decimal
}

type Timeframe string

const (
	Hour Timeframe = "1H"
	Day  Timeframe = "1D"
)

type Broker interface {
	PlaceOrder(ctx context.Context, symbol string, side model.TradeSide, qty decimal.Decimal) (*Order, error)
	GetOrder(ctx context.Context, id string) (*Order, error)
	GetPositions(ctx context.Context) ([]model.Position, error)
	GetAccount(ctx context.Context) (*Account, error)
	GetLatestQuote(ctx context.Context, symbol string) (*model.Quote, error)
	GetBars(ctx context.Context, symbol string, tf Timeframe, start, end time.Time) ([]model.Bar, error)
}

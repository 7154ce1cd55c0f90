package broker

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"divetrader/internal/model"
)

// Paper is a deterministic in-memory broker. Orders fill immediately at
// the current quote, quotes follow a seeded random walk. Used in offline
// paper mode and by tests.
type Paper struct {
	mu        sync.Mutex
	rng       *rand.Rand
	cash      decimal.Decimal
	prices    map[string]decimal.Decimal
	positions map[string]*model.Position
	orders    map[string]*Order
	nextID    int
	now       func() time.Time
}

func NewPaper(startingCash float64, seed int64) *Paper {
	return &Paper{
		rng:       rand.New(rand.NewSource(seed)),
		cash:      decimal.NewFromFloat(startingCash),
		prices:    make(map[string]decimal.Decimal),
		positions: make(map[string]*model.Position),
		orders:    make(map[string]*Order),
		nextID:    1,
		now:       time.Now,
	}
}

// SetPrice pins the quote for a symbol. Without a pinned price the first
// quote starts at 45000 for crypto pairs and 100 otherwise.
func (p *Paper) SetPrice(symbol string, price decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prices[symbol] = price
}

func (p *Paper) price(symbol string) decimal.Decimal {
	if px, ok := p.prices[symbol]; ok {
		return px
	}
	base := decimal.NewFromInt(100)
	if isCrypto(symbol) {
		base = decimal.NewFromInt(45000)
	}
	p.prices[symbol] = base
	return base
}

// step advances the symbol's quote by a small seeded move.
func (p *Paper) step(symbol string) decimal.Decimal {
	px := p.price(symbol)
	move := decimal.NewFromFloat(1 + (p.rng.Float64()-0.5)*0.002)
	px = px.Mul(move)
	p.prices[symbol] = px
	return px
}

func (p *Paper) PlaceOrder(_ context.Context, symbol string, side model.TradeSide, qty decimal.Decimal) (*Order, error) {
	if !qty.IsPositive() {
		return nil, fmt.Errorf("paper: quantity must be positive")
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	px := p.price(symbol)
	cost := px.Mul(qty)
	now := p.now()

	order := &Order{
		ID:          fmt.Sprintf("paper-%d", p.nextID),
		Symbol:      symbol,
		Side:        side,
		Quantity:    qty,
		FilledPrice: px,
		Status:      OrderFilled,
		FilledAt:    &now,
	}
	p.nextID++

	pos := p.positions[symbol]
	if side == model.SideBuy {
		if cost.GreaterThan(p.cash) {
			order.Status = OrderRejected
			order.FilledPrice = decimal.Zero
			p.orders[order.ID] = order
			return order, nil
		}
		p.cash = p.cash.Sub(cost)
		if pos == nil {
			p.positions[symbol] = &model.Position{
				Symbol: symbol, Quantity: qty, AvgPrice: px,
				CurrentPrice: px, MarketValue: cost, Side: model.PositionLong,
			}
		} else {
			total := pos.AvgPrice.Mul(pos.Quantity).Add(cost)
			pos.Quantity = pos.Quantity.Add(qty)
			pos.AvgPrice = total.Div(pos.Quantity)
			pos.CurrentPrice = px
			pos.MarketValue = px.Mul(pos.Quantity)
		}
	} else {
		if pos == nil || pos.Quantity.LessThan(qty) {
			order.Status = OrderRejected
			order.FilledPrice = decimal.Zero
			p.orders[order.ID] = order
			return order, nil
		}
		p.cash = p.cash.Add(cost)
		pos.Quantity = pos.Quantity.Sub(qty)
		if pos.Quantity.IsZero() {
			delete(p.positions, symbol)
		} else {
			pos.CurrentPrice = px
			pos.MarketValue = px.Mul(pos.Quantity)
		}
	}
	p.orders[order.ID] = order
	return order, nil
}

func (p *Paper) GetOrder(_ context.Context, id string) (*Order, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	o, ok := p.orders[id]
	if !ok {
		return nil, fmt.Errorf("paper: unknown order %s", id)
	}
	cp := *o
	return &cp, nil
}

func (p *Paper) GetPositions(_ context.Context) ([]model.Position, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]model.Position, 0, len(p.positions))
	for _, pos := range p.positions {
		px := p.price(pos.Symbol)
		pos.CurrentPrice = px
		pos.MarketValue = px.Mul(pos.Quantity)
		pos.UnrealizedPnL = px.Sub(pos.AvgPrice).Mul(pos.Quantity)
		out = append(out, *pos)
	}
	return out, nil
}

func (p *Paper) GetAccount(_ context.Context) (*Account, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	equity := p.cash
	for _, pos := range p.positions {
		equity = equity.Add(p.price(pos.Symbol).Mul(pos.Quantity))
	}
	return &Account{Equity: equity, Cash: p.cash, BuyingPower: p.cash}, nil
}

func (p *Paper) GetLatestQuote(_ context.Context, symbol string) (*model.Quote, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	px := p.step(symbol)
	spread := px.Mul(decimal.NewFromFloat(0.0001))
	return &model.Quote{
		Symbol:    symbol,
		BidPrice:  px.Sub(spread),
		AskPrice:  px.Add(spread),
		Timestamp: p.now(),
	}, nil
}

// GetBars reports data unavailable so callers fall back to their synthetic
// series.
func (p *Paper) GetBars(_ context.Context, symbol string, _ Timeframe, _, _ time.Time) ([]model.Bar, error) {
	return nil, fmt.Errorf("%w: paper broker has no history for %s", ErrDataUnavailable, symbol)
}

package broker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"divetrader/internal/model"
)

func TestPaperBuySellRoundTrip(t *testing.T) {
	ctx := context.Background()
	p := NewPaper(10000, 1)
	p.SetPrice("AAPL", decimal.NewFromInt(100))

	buy, err := p.PlaceOrder(ctx, "AAPL", model.SideBuy, decimal.NewFromInt(10))
	assert.NoError(t, err)
	assert.Equal(t, OrderFilled, buy.Status)
	assert.True(t, buy.FilledPrice.Equal(decimal.NewFromInt(100)))

	positions, err := p.GetPositions(ctx)
	assert.NoError(t, err)
	assert.Len(t, positions, 1)
	assert.True(t, positions[0].Quantity.Equal(decimal.NewFromInt(10)))

	sell, err := p.PlaceOrder(ctx, "AAPL", model.SideSell, decimal.NewFromInt(10))
	assert.NoError(t, err)
	assert.Equal(t, OrderFilled, sell.Status)

	positions, err = p.GetPositions(ctx)
	assert.NoError(t, err)
	assert.Empty(t, positions)

	acct, err := p.GetAccount(ctx)
	assert.NoError(t, err)
	assert.True(t, acct.Equity.Equal(decimal.NewFromInt(10000)), "flat round trip at a pinned price keeps equity")
}

func TestPaperRejectsOverdraw(t *testing.T) {
	ctx := context.Background()
	p := NewPaper(100, 1)
	p.SetPrice("AAPL", decimal.NewFromInt(100))

	o, err := p.PlaceOrder(ctx, "AAPL", model.SideBuy, decimal.NewFromInt(5))
	assert.NoError(t, err)
	assert.Equal(t, OrderRejected, o.Status)

	// selling without a position is rejected too
	o, err = p.PlaceOrder(ctx, "AAPL", model.SideSell, decimal.NewFromInt(1))
	assert.NoError(t, err)
	assert.Equal(t, OrderRejected, o.Status)
}

func TestPaperQuoteWalkIsDeterministic(t *testing.T) {
	ctx := context.Background()
	a := NewPaper(1000, 42)
	b := NewPaper(1000, 42)
	for i := 0; i < 5; i++ {
		qa, errA := a.GetLatestQuote(ctx, "BTC/USD")
		qb, errB := b.GetLatestQuote(ctx, "BTC/USD")
		assert.NoError(t, errA)
		assert.NoError(t, errB)
		assert.True(t, qa.Mid().Equal(qb.Mid()), "step %d", i)
	}
}

func TestPaperBarsUnavailable(t *testing.T) {
	p := NewPaper(1000, 1)
	_, err := p.GetBars(context.Background(), "BTC/USD", Hour, time.Now().Add(-time.Hour), time.Now())
	assert.True(t, errors.Is(err, ErrDataUnavailable))
}

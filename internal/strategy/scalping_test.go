package strategy

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"divetrader/internal/advisor"
	"divetrader/internal/backtest"
	"divetrader/internal/broker"
	"divetrader/internal/events"
	"divetrader/internal/model"
	"divetrader/internal/risk"
	"divetrader/internal/store"
	"divetrader/internal/trading"
)

// fixedAdvisor always returns the same verdict.
type fixedAdvisor struct {
	analysis advisor.Analysis
}

func (a fixedAdvisor) Analyze(context.Context, string, []model.Bar, advisor.Indicators) (advisor.Analysis, error) {
	return a.analysis, nil
}

func testDeps(t *testing.T) (Deps, *store.Memory) {
	t.Helper()
	st := store.NewMemory()
	pb := broker.NewPaper(100000, 7)
	logger := zap.NewNop()
	svc := trading.NewService(pb, st, risk.NewManager(st, logger), events.Nop{}, logger)
	return Deps{
		Store:   st,
		Trading: svc,
		Emitter: events.Nop{},
		Logger:  logger,
	}, st
}

func newScalpingRecord(t *testing.T, st *store.Memory, raw string) *model.Strategy {
	t.Helper()
	rec := &model.Strategy{
		Name:           "btc scalper",
		Kind:           model.KindScalping,
		IsActive:       true,
		InitialCapital: 100000,
		CurrentCapital: 100000,
		Settings:       json.RawMessage(raw),
	}
	if err := st.CreateStrategy(context.Background(), rec); err != nil {
		t.Fatal(err)
	}
	return rec
}

// barsFromCloses builds hourly bars with generous volume so the volume
// gate never interferes with the crossover under test.
func barsFromCloses(closes []float64) []model.Bar {
	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]model.Bar, 0, len(closes))
	for i, c := range closes {
		px := decimal.NewFromFloat(c)
		bars = append(bars, model.Bar{
			Symbol:    "BTC/USD",
			Open:      px,
			High:      px.Mul(decimal.NewFromFloat(1.0001)),
			Low:       px.Mul(decimal.NewFromFloat(0.9999)),
			Close:     px,
			Volume:    decimal.NewFromInt(2000),
			Timestamp: start.Add(time.Duration(i) * time.Hour),
		})
	}
	return bars
}

func TestScalpingLifecycle(t *testing.T) {
	ctx := context.Background()
	deps, st := testDeps(t)
	rec := newScalpingRecord(t, st, `{}`)

	s := NewScalping(rec, deps)
	assert.Equal(t, StateStopped, s.State())

	assert.NoError(t, s.Start(ctx))
	assert.Equal(t, StateRunning, s.State())

	// starting a running strategy fails without disturbing it
	err := s.Start(ctx)
	assert.Error(t, err)
	assert.Equal(t, StateRunning, s.State())

	assert.NoError(t, s.Stop(ctx))
	assert.Equal(t, StateStopped, s.State())

	// stop is idempotent
	assert.NoError(t, s.Stop(ctx))
	assert.Equal(t, StateStopped, s.State())

	// restart after a full stop is allowed
	assert.NoError(t, s.Start(ctx))
	assert.NoError(t, s.Stop(ctx))
}

func TestScalpingStartRejectsInvalidSettings(t *testing.T) {
	deps, st := testDeps(t)
	rec := newScalpingRecord(t, st, `{"short_ma_periods": 10, "long_ma_periods": 5}`)

	s := NewScalping(rec, deps)
	err := s.Start(context.Background())
	assert.True(t, errors.Is(err, ErrInvalidSettings), "got %v", err)
	assert.Equal(t, StateStopped, s.State())
}

func TestScalpingIterationIsNoopWhenStopped(t *testing.T) {
	deps, st := testDeps(t)
	rec := newScalpingRecord(t, st, `{}`)

	s := NewScalping(rec, deps)
	assert.NoError(t, s.RunIteration(context.Background()))
}

func TestScalpingStopLeavesNoPosition(t *testing.T) {
	ctx := context.Background()
	deps, st := testDeps(t)
	rec := newScalpingRecord(t, st, `{}`)

	s := NewScalping(rec, deps)
	assert.NoError(t, s.Start(ctx))

	// open a position through the broker, then stop
	assert.NoError(t, s.enterPosition(ctx, decimal.NewFromInt(45000)))
	assert.NotNil(t, s.position)

	assert.NoError(t, s.Stop(ctx))
	assert.Nil(t, s.position)
	assert.Equal(t, StateStopped, s.State())
}

func TestScalpingEntrySignalCombinesAdvisor(t *testing.T) {
	ctx := context.Background()
	deps, st := testDeps(t)
	rec := newScalpingRecord(t, st, `{"use_advisor": true, "combine_advisor_with_technical": true}`)

	// rising closes put the short MA above the long MA with price on top,
	// so the technical rule alone says buy
	bars := barsFromCloses([]float64{100, 100, 100, 101, 102, 104})

	start := func(a advisor.Advisor) *Scalping {
		d := deps
		d.Advisor = a
		s := NewScalping(rec, d)
		assert.NoError(t, s.Start(ctx))
		t.Cleanup(func() { _ = s.Stop(ctx) })
		return s
	}

	agree := start(fixedAdvisor{advisor.Analysis{Signal: advisor.Buy, Confidence: 0.9}})
	assert.Equal(t, ActionBuy, agree.entrySignal(ctx, bars))

	// a confident disagreement vetoes the technical signal
	veto := start(fixedAdvisor{advisor.Analysis{Signal: advisor.Sell, Confidence: 0.9}})
	assert.Equal(t, ActionHold, veto.entrySignal(ctx, bars))

	// below the confidence threshold the advisor is ignored
	timid := start(fixedAdvisor{advisor.Analysis{Signal: advisor.Sell, Confidence: 0.2}})
	assert.Equal(t, ActionBuy, timid.entrySignal(ctx, bars))

	// with no advisor wired the rule decides alone
	bare := start(nil)
	assert.Equal(t, ActionBuy, bare.entrySignal(ctx, bars))
}

func TestScalpingBacktestTakeProfitScenario(t *testing.T) {
	deps, st := testDeps(t)
	rec := newScalpingRecord(t, st, `{}`)
	s := NewScalping(rec, deps)

	// decline, then a sharp rise: MA(3) crosses above MA(5) at the 103
	// bar, and the next bar clears the 0.2% take profit
	closes := []float64{100, 99, 98, 97, 96, 95, 101, 103, 103.5}
	data := &backtest.Data{
		Symbol: "BTC/USD",
		Bars:   barsFromCloses(closes),
		Source: model.DataReal,
		Period: "9h",
	}

	res, err := s.Backtest(context.Background(), data, 10000)
	assert.NoError(t, err)
	if assert.Len(t, res.Trades, 1) {
		trade := res.Trades[0]
		assert.Equal(t, "take_profit", trade.ExitReason)
		assert.Greater(t, trade.PnL, 0.0)
		assert.InDelta(t, 103, trade.EntryPrice, 1e-9)
		assert.InDelta(t, 103.5, trade.ExitPrice, 1e-9)
	}
	assert.Greater(t, res.FinalCapital, res.InitialCapital)
	assert.Equal(t, model.DataReal, res.DataSource)
}

func TestScalpingBacktestEquityCurveOrdering(t *testing.T) {
	deps, st := testDeps(t)
	rec := newScalpingRecord(t, st, `{}`)
	s := NewScalping(rec, deps)

	bars := backtest.SyntheticCrypto("BTC/USD", 14, backtest.DefaultSeed)
	data := &backtest.Data{Symbol: "BTC/USD", Bars: bars, Source: model.DataSynthetic, Period: "14d"}

	res, err := s.Backtest(context.Background(), data, 10000)
	assert.NoError(t, err)
	assert.NotEmpty(t, res.EquityCurve)

	for i := 1; i < len(res.EquityCurve); i++ {
		assert.False(t, res.EquityCurve[i].Timestamp.Before(res.EquityCurve[i-1].Timestamp),
			"equity point %d out of order", i)
	}
	for _, trade := range res.Trades {
		assert.False(t, trade.EntryTime.Before(bars[0].Timestamp))
		assert.False(t, trade.ExitTime.After(bars[len(bars)-1].Timestamp))
		assert.False(t, trade.ExitTime.Before(trade.EntryTime))
	}
}

func TestScalpingBacktestOpenPositionForceClosed(t *testing.T) {
	deps, st := testDeps(t)
	// wide exits so the entered position survives to the end
	rec := newScalpingRecord(t, st, `{"take_profit_pct": 0.1, "stop_loss_pct": 0.1}`)
	s := NewScalping(rec, deps)

	closes := []float64{100, 99, 98, 97, 96, 95, 101, 103, 103.5, 104, 104.2}
	data := &backtest.Data{Symbol: "BTC/USD", Bars: barsFromCloses(closes), Source: model.DataReal}

	res, err := s.Backtest(context.Background(), data, 10000)
	assert.NoError(t, err)
	if assert.NotEmpty(t, res.Trades) {
		last := res.Trades[len(res.Trades)-1]
		assert.Equal(t, "backtest_end", last.ExitReason)
	}
}

func TestScalpingBacktestInsufficientData(t *testing.T) {
	deps, st := testDeps(t)
	rec := newScalpingRecord(t, st, `{}`)
	s := NewScalping(rec, deps)

	data := &backtest.Data{Symbol: "BTC/USD", Bars: barsFromCloses([]float64{100, 101})}
	_, err := s.Backtest(context.Background(), data, 10000)
	assert.True(t, errors.Is(err, backtest.ErrInsufficientData), "got %v", err)
}

func TestFactoryRejectsUnknownKind(t *testing.T) {
	deps, _ := testDeps(t)
	_, err := New(&model.Strategy{Kind: "martingale"}, deps)
	assert.Error(t, err)

	s, err := New(&model.Strategy{Kind: model.KindScalping}, deps)
	assert.NoError(t, err)
	assert.Equal(t, model.KindScalping, s.Kind())

	d, err := New(&model.Strategy{Kind: model.KindDistributor}, deps)
	assert.NoError(t, err)
	assert.Equal(t, model.KindDistributor, d.Kind())
}

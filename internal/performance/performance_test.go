package performance

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"divetrader/internal/model"
	"divetrader/internal/store"
)

func setup(t *testing.T) (*Tracker, *store.Memory, *model.Strategy) {
	t.Helper()
	st := store.NewMemory()
	rec := &model.Strategy{
		Name:           "tracked",
		Kind:           model.KindScalping,
		InitialCapital: 10000,
		CurrentCapital: 10000,
	}
	if err := st.CreateStrategy(context.Background(), rec); err != nil {
		t.Fatal(err)
	}
	return NewTracker(st, zap.NewNop()), st, rec
}

func TestUpdateDailyFirstDay(t *testing.T) {
	ctx := context.Background()
	tracker, st, rec := setup(t)
	assert.NoError(t, st.UpdateStrategyCapital(ctx, rec.ID, 10500))

	assert.NoError(t, tracker.UpdateDaily(ctx, rec.ID))

	rows, err := st.ListPerformance(ctx, rec.ID, 7)
	assert.NoError(t, err)
	if assert.Len(t, rows, 1) {
		row := rows[0]
		assert.Equal(t, 10500.0, row.TotalValue)
		assert.InDelta(t, 500, row.DailyPnL, 1e-9)
		assert.InDelta(t, 500, row.CumulativePnL, 1e-9)
		assert.InDelta(t, 5, row.ROIPct, 1e-9)
	}
}

func TestUpdateDailyAgainstPreviousClose(t *testing.T) {
	ctx := context.Background()
	tracker, st, rec := setup(t)

	yesterday := time.Now().UTC().AddDate(0, 0, -1)
	assert.NoError(t, st.UpsertPerformance(ctx, &model.PerformanceMetric{
		StrategyID: rec.ID,
		Date:       yesterday,
		TotalValue: 10200,
	}))
	assert.NoError(t, st.UpdateStrategyCapital(ctx, rec.ID, 10500))

	assert.NoError(t, tracker.UpdateDaily(ctx, rec.ID))

	rows, err := st.ListPerformance(ctx, rec.ID, 7)
	assert.NoError(t, err)
	if assert.Len(t, rows, 2) {
		today := rows[1]
		assert.InDelta(t, 300, today.DailyPnL, 1e-9)
		assert.InDelta(t, 500, today.CumulativePnL, 1e-9)
	}
}

func TestUpdateDailyIsIdempotentPerDay(t *testing.T) {
	ctx := context.Background()
	tracker, st, rec := setup(t)

	assert.NoError(t, tracker.UpdateDaily(ctx, rec.ID))
	assert.NoError(t, st.UpdateStrategyCapital(ctx, rec.ID, 10100))
	assert.NoError(t, tracker.UpdateDaily(ctx, rec.ID))

	rows, err := st.ListPerformance(ctx, rec.ID, 7)
	assert.NoError(t, err)
	if assert.Len(t, rows, 1) {
		assert.Equal(t, 10100.0, rows[0].TotalValue)
	}
}

func TestUpdateDailyIncludesPositionValue(t *testing.T) {
	ctx := context.Background()
	tracker, st, rec := setup(t)

	assert.NoError(t, st.UpsertPosition(ctx, &model.Position{
		StrategyID:  rec.ID,
		Symbol:      "SPY",
		Quantity:    decimal.NewFromInt(10),
		MarketValue: decimal.NewFromInt(5000),
		Side:        model.PositionLong,
	}))

	assert.NoError(t, tracker.UpdateDaily(ctx, rec.ID))

	rows, err := st.ListPerformance(ctx, rec.ID, 7)
	assert.NoError(t, err)
	if assert.Len(t, rows, 1) {
		assert.Equal(t, 15000.0, rows[0].TotalValue)
	}
}

func TestSnapshotCountsTrades(t *testing.T) {
	ctx := context.Background()
	tracker, st, rec := setup(t)

	now := time.Now().UTC()
	insert := func(side model.TradeSide, status model.TradeStatus, pnl float64) {
		t.Helper()
		assert.NoError(t, st.InsertTrade(ctx, &model.Trade{
			StrategyID:  rec.ID,
			Symbol:      "SPY",
			Side:        side,
			Quantity:    decimal.NewFromInt(1),
			Price:       decimal.NewFromInt(100),
			Status:      status,
			RealizedPnL: decimal.NewFromFloat(pnl),
			CreatedAt:   now,
		}))
	}
	insert(model.SideBuy, model.TradeFilled, 0)
	insert(model.SideSell, model.TradeFilled, 25)
	insert(model.SideSell, model.TradeFilled, -10)
	insert(model.SideBuy, model.TradePending, 0)

	snap, err := tracker.Snapshot(ctx, rec.ID, 30)
	assert.NoError(t, err)
	assert.Equal(t, 3, snap.TotalTrades)
	assert.InDelta(t, 50, snap.WinRate, 1e-9)
	assert.Equal(t, 0, snap.OpenPositions)
	assert.Equal(t, 10000.0, snap.TotalValue)
}

func TestComputeRiskStats(t *testing.T) {
	ctx := context.Background()
	tracker, st, rec := setup(t)

	// alternating gains and losses over ten recorded days
	values := []float64{10000, 10100, 10050, 10200, 10150, 10300, 10250, 10400, 10350, 10500}
	for i, v := range values {
		assert.NoError(t, st.UpsertPerformance(ctx, &model.PerformanceMetric{
			StrategyID: rec.ID,
			Date:       time.Now().UTC().AddDate(0, 0, i-len(values)),
			TotalValue: v,
		}))
	}

	stats, err := tracker.ComputeRiskStats(ctx, rec.ID)
	assert.NoError(t, err)
	assert.Greater(t, stats.SharpeRatio, 0.0)
	assert.Greater(t, stats.VolatilityPct, 0.0)
	// worst peak-to-trough is 10100 -> 10050
	assert.InDelta(t, (10100.0-10050.0)/10100.0*100, stats.MaxDrawdownPct, 1e-9)
}

func TestComputeRiskStatsSparseHistory(t *testing.T) {
	tracker, _, rec := setup(t)
	stats, err := tracker.ComputeRiskStats(context.Background(), rec.ID)
	assert.NoError(t, err)
	assert.Equal(t, RiskStats{}, stats)
}

func TestSnapshotUnknownStrategy(t *testing.T) {
	tracker, _, _ := setup(t)
	_, err := tracker.Snapshot(context.Background(), 999, 30)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

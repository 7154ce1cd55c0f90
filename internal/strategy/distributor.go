package strategy

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"divetrader/internal/backtest"
	"divetrader/internal/events"
	"divetrader/internal/model"
	"divetrader/internal/settings"
)

// minInvestment is the smallest total a scheduled investment will run
// with; per-symbol slices under one dollar are skipped.
const minInvestment = 10

// Distributor invests a fixed amount across a weighted symbol list on a
// schedule, buying whole shares only.
type Distributor struct {
	rec  *model.Strategy
	deps Deps
	lc   lifecycle

	cfg            settings.Distributor
	nextInvestment time.Time
}

func NewDistributor(rec *model.Strategy, deps Deps) *Distributor {
	return &Distributor{rec: rec, deps: deps, lc: newLifecycle()}
}

func (d *Distributor) Kind() model.StrategyKind { return model.KindDistributor }
func (d *Distributor) State() State             { return d.lc.State() }

// Interval reports the configured check interval; zero before Start, the
// scheduler then applies its per-kind fallback.
func (d *Distributor) Interval() time.Duration {
	return time.Duration(d.cfg.CheckIntervalSec) * time.Second
}

func (d *Distributor) Start(ctx context.Context) error {
	if err := d.lc.transition(StateStopped, StateStarting); err != nil {
		return err
	}

	cfg, err := settings.ParseDistributor(d.rec.Settings)
	if err != nil {
		d.lc.set(StateStopped)
		return err
	}
	d.cfg = cfg
	d.nextInvestment = nextInvestmentDate(time.Now().UTC(), cfg.Frequency)
	d.lc.set(StateRunning)

	d.deps.Logger.Info("distributor strategy started",
		zap.Int64("strategy_id", d.rec.ID),
		zap.Float64("investment_amount", cfg.InvestmentAmount),
		zap.String("frequency", string(cfg.Frequency)),
		zap.Strings("symbols", cfg.Symbols),
		zap.Time("next_investment", d.nextInvestment))
	d.deps.Emitter.Emit(d.rec.ID, events.TypeStrategyStart, "info", "distributor started", nil)
	return nil
}

func (d *Distributor) Stop(ctx context.Context) error {
	switch d.lc.State() {
	case StateStopped, StateStopping:
		return nil
	}
	d.lc.set(StateStopping)
	// holdings are long-term by design, nothing to flatten
	d.lc.set(StateStopped)
	d.deps.Logger.Info("distributor strategy stopped", zap.Int64("strategy_id", d.rec.ID))
	d.deps.Emitter.Emit(d.rec.ID, events.TypeStrategyStop, "info", "distributor stopped", nil)
	return nil
}

func (d *Distributor) RunIteration(ctx context.Context) error {
	if d.lc.State() != StateRunning {
		return nil
	}

	now := time.Now().UTC()
	if !now.Before(d.nextInvestment) {
		if err := d.executeInvestment(ctx); err != nil {
			return err
		}
		d.nextInvestment = nextInvestmentDate(now, d.cfg.Frequency)
	}

	// rebalance check near market close
	if now.Hour() == 16 && now.Minute() < 5 {
		if needed, symbol, deviation := d.rebalanceNeeded(ctx); needed {
			d.deps.Logger.Info("rebalancing needed",
				zap.Int64("strategy_id", d.rec.ID),
				zap.String("symbol", symbol),
				zap.Float64("deviation_pct", deviation))
			d.deps.Emitter.Emit(d.rec.ID, events.TypeTradeCheck, "info",
				fmt.Sprintf("rebalancing needed: %s is %.1f%% off target", symbol, deviation), nil)
		}
	}
	return nil
}

// executeInvestment splits the configured amount across the symbol list
// by weight and buys whole shares through the risk gate.
func (d *Distributor) executeInvestment(ctx context.Context) error {
	rec, err := d.deps.Store.GetStrategy(ctx, d.rec.ID)
	if err != nil {
		return fmt.Errorf("load strategy: %w", err)
	}

	total := d.cfg.InvestmentAmount
	if rec.CurrentCapital < total {
		total = rec.CurrentCapital
	}
	if total < minInvestment {
		d.deps.Logger.Warn("insufficient capital for investment",
			zap.Int64("strategy_id", d.rec.ID),
			zap.Float64("available", total))
		return nil
	}

	invested := 0.0
	for _, symbol := range d.cfg.Symbols {
		amount := total * d.cfg.Weight(symbol) / 100
		if amount < 1 {
			continue
		}

		quote, err := d.deps.Trading.Broker().GetLatestQuote(ctx, symbol)
		if err != nil {
			d.deps.Logger.Warn("failed to quote symbol",
				zap.String("symbol", symbol), zap.Error(err))
			continue
		}
		price, _ := quote.Mid().Float64()
		if price <= 0 {
			continue
		}

		shares := int64(amount / price)
		if shares < 1 {
			continue
		}

		trade, err := d.deps.Trading.PlaceOrder(ctx, d.rec.ID, symbol, model.SideBuy,
			decimal.NewFromInt(shares), quote.Mid())
		if err != nil {
			d.deps.Logger.Warn("investment order failed",
				zap.String("symbol", symbol), zap.Error(err))
			continue
		}
		invested += float64(shares) * price
		d.deps.Logger.Info("invested",
			zap.Int64("strategy_id", d.rec.ID),
			zap.String("symbol", symbol),
			zap.Int64("shares", shares),
			zap.Float64("price", price),
			zap.Int64("trade_id", trade.ID))
	}

	if invested > 0 {
		d.deps.Emitter.Emit(d.rec.ID, events.TypeOrderPlaced, "info",
			fmt.Sprintf("portfolio investment completed: %.2f across %d symbols", invested, len(d.cfg.Symbols)),
			map[string]interface{}{"total_invested": invested})
	}
	return nil
}

// rebalanceNeeded compares the live allocation against target weights;
// at least two positions are required to rebalance.
func (d *Distributor) rebalanceNeeded(ctx context.Context) (bool, string, float64) {
	positions, err := d.deps.Store.ListPositions(ctx, d.rec.ID)
	if err != nil || len(positions) < 2 {
		return false, "", 0
	}

	total := decimal.Zero
	for _, p := range positions {
		total = total.Add(p.MarketValue)
	}
	if !total.IsPositive() {
		return false, "", 0
	}

	current := make(map[string]float64, len(positions))
	for _, p := range positions {
		pct, _ := p.MarketValue.Div(total).Mul(decimal.NewFromInt(100)).Float64()
		current[p.Symbol] = pct
	}

	for _, symbol := range d.cfg.Symbols {
		target := d.cfg.Weight(symbol)
		deviation := current[symbol] - target
		if deviation < 0 {
			deviation = -deviation
		}
		if deviation > d.cfg.RebalanceThresholdPct {
			return true, symbol, deviation
		}
	}
	return false, "", 0
}

// nextInvestmentDate advances the schedule: daily is tomorrow, weekly is
// next Monday, biweekly is two weeks out, monthly is the first of next
// month.
func nextInvestmentDate(now time.Time, freq settings.InvestmentFrequency) time.Time {
	switch freq {
	case settings.Daily:
		return now.AddDate(0, 0, 1)
	case settings.Weekly:
		days := int(time.Monday - now.Weekday())
		if days <= 0 {
			days += 7
		}
		return now.AddDate(0, 0, days)
	case settings.Biweekly:
		return now.AddDate(0, 0, 14)
	case settings.Monthly:
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
	default:
		return now.AddDate(0, 0, 7)
	}
}

// investmentStep is the bar spacing between scheduled buys in a daily
// backtest series.
func investmentStep(freq settings.InvestmentFrequency) int {
	switch freq {
	case settings.Daily:
		return 1
	case settings.Weekly:
		return 7
	case settings.Biweekly:
		return 14
	case settings.Monthly:
		return 30
	default:
		return 7
	}
}

// Backtest simulates the dollar-cost schedule over daily bars per
// symbol, marking the whole-share holdings to market each day.
func (d *Distributor) Backtest(ctx context.Context, data *backtest.Data, initialCapital float64) (*model.BacktestResult, error) {
	cfg, err := settings.ParseDistributor(d.rec.Settings)
	if err != nil {
		return nil, err
	}
	if len(data.BySymbol) == 0 {
		return nil, fmt.Errorf("%w: no per-symbol series", backtest.ErrInsufficientData)
	}

	days := 0
	for _, bars := range data.BySymbol {
		if days == 0 || len(bars) < days {
			days = len(bars)
		}
	}
	if days < 2 {
		return nil, fmt.Errorf("%w: got %d days", backtest.ErrInsufficientData, days)
	}

	var (
		trades   []model.BacktestTrade
		equity   []model.EquityPoint
		cash     = initialCapital
		peak     = initialCapital
		holdings = make(map[string]*simPosition)
		step     = investmentStep(cfg.Frequency)
	)

	refBars := data.BySymbol[cfg.Symbols[0]]
	if refBars == nil {
		for _, bars := range data.BySymbol {
			refBars = bars
			break
		}
	}

	for day := 0; day < days; day++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ts := refBars[day].Timestamp

		if day%step == 0 && cash >= cfg.InvestmentAmount {
			for _, symbol := range cfg.Symbols {
				bars, ok := data.BySymbol[symbol]
				if !ok || day >= len(bars) {
					continue
				}
				price, _ := bars[day].Close.Float64()
				amount := cfg.InvestmentAmount * cfg.Weight(symbol) / 100
				if price <= 0 || amount < 1 {
					continue
				}
				shares := float64(int64(amount / price))
				if shares < 1 {
					continue
				}
				cost := shares * price
				cash -= cost
				if pos, ok := holdings[symbol]; ok {
					// average in
					totalQty := pos.quantity + shares
					pos.entryPrice = (pos.entryPrice*pos.quantity + cost) / totalQty
					pos.quantity = totalQty
				} else {
					holdings[symbol] = &simPosition{
						entryTime:  ts,
						entryPrice: price,
						quantity:   shares,
					}
				}
			}
		}

		portfolio := cash
		for symbol, pos := range holdings {
			bars := data.BySymbol[symbol]
			idx := day
			if idx >= len(bars) {
				idx = len(bars) - 1
			}
			price, _ := bars[idx].Close.Float64()
			portfolio += pos.quantity * price
		}
		if portfolio > peak {
			peak = portfolio
		}
		equity = append(equity, model.EquityPoint{
			Timestamp:      ts,
			Cash:           cash,
			PortfolioValue: portfolio,
			DrawdownPct:    (peak - portfolio) / peak * 100,
		})
	}

	// liquidate holdings at the final close so the trade log reflects
	// the full round trip
	final := cash
	for symbol, pos := range holdings {
		bars := data.BySymbol[symbol]
		last := bars[min(days, len(bars))-1]
		price, _ := last.Close.Float64()
		final += pos.quantity * price
		t := pos.trade(last.Timestamp, price, "backtest_end")
		t.Symbol = symbol
		trades = append(trades, t)
	}

	res := backtest.ComputeMetrics(trades, equity, initialCapital, final, refBars[:days])
	res.StrategyName = d.rec.Name
	res.Symbol = fmt.Sprintf("%d symbols", len(cfg.Symbols))
	res.DataSource = data.Source
	res.Period = data.Period
	res.StartTime = refBars[0].Timestamp
	res.EndTime = refBars[days-1].Timestamp
	return res, nil
}

var _ Strategy = (*Distributor)(nil)

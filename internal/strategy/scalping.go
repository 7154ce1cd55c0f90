package strategy

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"divetrader/internal/advisor"
	"divetrader/internal/backtest"
	"divetrader/internal/broker"
	"divetrader/internal/events"
	"divetrader/internal/model"
	"divetrader/internal/settings"
)

// backtestPositionPct is the fraction of current capital committed per
// simulated entry.
const backtestPositionPct = 0.1

// trailingArmPct: a long starts trailing once it is at least this far in
// profit.
const trailingArmPct = 0.001

// Scalping trades short-horizon MA crossovers on a single symbol,
// typically a crypto pair.
type Scalping struct {
	rec  *model.Strategy
	deps Deps
	lc   lifecycle

	cfg settings.Scalping

	// live position, guarded by the lifecycle mutex being per-iteration:
	// RunIteration calls are strictly sequential per instance.
	position       *livePosition
	lastSignalTime time.Time
}

type livePosition struct {
	entryTime  time.Time
	entryPrice decimal.Decimal
	quantity   decimal.Decimal
}

func NewScalping(rec *model.Strategy, deps Deps) *Scalping {
	return &Scalping{rec: rec, deps: deps, lc: newLifecycle()}
}

func (s *Scalping) Kind() model.StrategyKind { return model.KindScalping }
func (s *Scalping) State() State             { return s.lc.State() }

// Interval reports the configured check interval; zero before Start, the
// scheduler then applies its per-kind fallback.
func (s *Scalping) Interval() time.Duration {
	return time.Duration(s.cfg.CheckIntervalSec) * time.Second
}

func (s *Scalping) Start(ctx context.Context) error {
	if err := s.lc.transition(StateStopped, StateStarting); err != nil {
		return err
	}

	cfg, err := settings.ParseScalping(s.rec.Settings)
	if err != nil {
		s.lc.set(StateStopped)
		return err
	}
	s.cfg = cfg
	s.lc.set(StateRunning)

	s.deps.Logger.Info("scalping strategy started",
		zap.Int64("strategy_id", s.rec.ID),
		zap.String("symbol", cfg.Symbol),
		zap.Int("short_ma", cfg.ShortMAPeriods),
		zap.Int("long_ma", cfg.LongMAPeriods),
		zap.Float64("take_profit_pct", cfg.TakeProfitPct),
		zap.Float64("stop_loss_pct", cfg.StopLossPct))
	s.deps.Emitter.Emit(s.rec.ID, events.TypeStrategyStart, "info",
		fmt.Sprintf("scalping started on %s", cfg.Symbol), nil)
	return nil
}

func (s *Scalping) Stop(ctx context.Context) error {
	switch s.lc.State() {
	case StateStopped, StateStopping:
		return nil
	}
	s.lc.set(StateStopping)

	if s.position != nil {
		if err := s.exitPosition(ctx, "strategy_stop", decimal.Zero); err != nil {
			s.deps.Logger.Warn("failed to flatten position on stop",
				zap.Int64("strategy_id", s.rec.ID), zap.Error(err))
		}
	}

	s.lc.set(StateStopped)
	s.deps.Logger.Info("scalping strategy stopped", zap.Int64("strategy_id", s.rec.ID))
	s.deps.Emitter.Emit(s.rec.ID, events.TypeStrategyStop, "info", "scalping stopped", nil)
	return nil
}

func (s *Scalping) RunIteration(ctx context.Context) error {
	if s.lc.State() != StateRunning {
		return nil
	}

	now := time.Now().UTC()
	bars, err := s.deps.Trading.Broker().GetBars(ctx, s.cfg.Symbol, broker.Hour, now.Add(-72*time.Hour), now)
	if err != nil {
		return fmt.Errorf("fetch bars: %w", err)
	}
	if len(bars) < s.cfg.LongMAPeriods {
		s.deps.Logger.Info("insufficient data for analysis",
			zap.Int64("strategy_id", s.rec.ID),
			zap.Int("bars", len(bars)),
			zap.Int("need", s.cfg.LongMAPeriods))
		return nil
	}

	last := bars[len(bars)-1]
	price := last.Close

	// manage the open position before looking for entries
	if s.position != nil {
		return s.managePosition(ctx, price)
	}

	signal := s.entrySignal(ctx, bars)
	s.deps.Emitter.Emit(s.rec.ID, events.TypeTradeCheck, "info",
		fmt.Sprintf("checked %s at %s: %s", s.cfg.Symbol, price, signal), nil)
	if signal != ActionBuy {
		return nil
	}

	s.deps.Emitter.Emit(s.rec.ID, events.TypeSignalGenerated, "info",
		fmt.Sprintf("BUY %s at %s", s.cfg.Symbol, price),
		map[string]interface{}{"price": price.String()})
	return s.enterPosition(ctx, price)
}

// entrySignal applies the volume gate, the signal cooldown, the MA level
// rule, and optionally the advisor's verdict.
func (s *Scalping) entrySignal(ctx context.Context, bars []model.Bar) Action {
	last := bars[len(bars)-1]

	// zero volume is common on paper feeds; substitute the configured
	// fallback so the gate stays meaningful
	volume := last.Volume
	if s.cfg.PaperTradingMode && volume.IsZero() {
		volume = decimal.NewFromFloat(s.cfg.FallbackVolume)
		s.deps.Logger.Debug("paper trading mode: using fallback volume",
			zap.Int64("strategy_id", s.rec.ID),
			zap.Float64("fallback", s.cfg.FallbackVolume))
	}
	if volume.LessThan(decimal.NewFromFloat(s.cfg.MinVolume)) {
		return ActionHold
	}

	if !s.lastSignalTime.IsZero() && time.Since(s.lastSignalTime) < time.Duration(s.cfg.SignalCooldownSec)*time.Second {
		return ActionHold
	}

	shortMA, ok1 := SMA(bars, s.cfg.ShortMAPeriods, 0)
	longMA, ok2 := SMA(bars, s.cfg.LongMAPeriods, 0)
	if !ok1 || !ok2 {
		return ActionHold
	}

	technical := ActionHold
	if shortMA.GreaterThan(longMA) && last.Close.GreaterThan(shortMA) {
		technical = ActionBuy
	}
	if !s.cfg.UseAdvisor || s.deps.Advisor == nil {
		return technical
	}

	shortF, _ := shortMA.Float64()
	longF, _ := longMA.Float64()
	priceF, _ := last.Close.Float64()
	rsi, _ := RSI(bars, 14)
	analysis, err := s.deps.Advisor.Analyze(ctx, s.cfg.Symbol, bars, advisor.Indicators{
		ShortMA: shortF, LongMA: longF, RSI: rsi, Price: priceF,
	})
	if err != nil {
		s.deps.Logger.Warn("advisor analysis failed", zap.Error(err))
		return technical
	}

	// below the confidence bar the advisor is ignored entirely
	if analysis.Confidence < s.cfg.AdvisorConfidenceThreshold {
		return technical
	}
	if s.cfg.CombineAdvisorWithTechnical {
		if technical == ActionBuy && analysis.Signal == advisor.Buy {
			return ActionBuy
		}
		return ActionHold
	}
	if analysis.Signal == advisor.Buy {
		return ActionBuy
	}
	return ActionHold
}

func (s *Scalping) enterPosition(ctx context.Context, price decimal.Decimal) error {
	qty := decimal.NewFromFloat(s.cfg.PositionSize)
	trade, err := s.deps.Trading.PlaceOrder(ctx, s.rec.ID, s.cfg.Symbol, model.SideBuy, qty, price)
	if err != nil {
		return fmt.Errorf("enter position: %w", err)
	}

	s.position = &livePosition{
		entryTime:  time.Now().UTC(),
		entryPrice: price,
		quantity:   qty,
	}
	s.lastSignalTime = time.Now().UTC()
	s.deps.Logger.Info("entered position",
		zap.Int64("strategy_id", s.rec.ID),
		zap.String("symbol", s.cfg.Symbol),
		zap.String("qty", qty.String()),
		zap.String("price", price.String()),
		zap.Int64("trade_id", trade.ID))
	return nil
}

func (s *Scalping) managePosition(ctx context.Context, price decimal.Decimal) error {
	entry := s.position.entryPrice
	profitPct, _ := price.Sub(entry).Div(entry).Float64()

	switch {
	case profitPct >= s.cfg.TakeProfitPct:
		return s.exitPosition(ctx, "take_profit", price)
	case profitPct <= -s.cfg.StopLossPct:
		return s.exitPosition(ctx, "stop_loss", price)
	}
	return nil
}

func (s *Scalping) exitPosition(ctx context.Context, reason string, price decimal.Decimal) error {
	if s.position == nil {
		return nil
	}
	_, err := s.deps.Trading.PlaceOrder(ctx, s.rec.ID, s.cfg.Symbol, model.SideSell, s.position.quantity, price)
	if err != nil {
		return fmt.Errorf("exit position (%s): %w", reason, err)
	}
	s.deps.Logger.Info("exited position",
		zap.Int64("strategy_id", s.rec.ID),
		zap.String("symbol", s.cfg.Symbol),
		zap.String("reason", reason))
	s.position = nil
	return nil
}

// Backtest replays the MA crossover rules over a price series: exits are
// evaluated before entries on each bar, the equity curve is sampled per
// bar, and any open position is force closed on the last bar.
func (s *Scalping) Backtest(ctx context.Context, data *backtest.Data, initialCapital float64) (*model.BacktestResult, error) {
	cfg, err := settings.ParseScalping(s.rec.Settings)
	if err != nil {
		return nil, err
	}
	bars := data.Bars
	if len(bars) <= cfg.LongMAPeriods {
		return nil, fmt.Errorf("%w: got %d bars, need more than %d",
			backtest.ErrInsufficientData, len(bars), cfg.LongMAPeriods)
	}

	var (
		trades   []model.BacktestTrade
		equity   []model.EquityPoint
		capital  = initialCapital
		peak     = initialCapital
		position *simPosition
		minVol   = decimal.NewFromFloat(cfg.MinVolume)
	)

	for i := cfg.LongMAPeriods; i < len(bars); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		bar := bars[i]
		price, _ := bar.Close.Float64()

		if position != nil {
			if exit, reason := s.exitCondition(position, bars, i, cfg); exit {
				capital += position.close(price)
				trades = append(trades, position.trade(bar.Timestamp, price, reason))
				position = nil
			}
		}

		if position == nil && s.simEntrySignal(bars, i, cfg, minVol) {
			value := capital * backtestPositionPct
			if value > 0 && price > 0 {
				qty := value / price
				capital -= value
				position = &simPosition{
					entryTime:  bar.Timestamp,
					entryPrice: price,
					quantity:   qty,
				}
			}
		}

		portfolio := capital
		if position != nil {
			portfolio += position.quantity * price
		}
		if portfolio > peak {
			peak = portfolio
		}
		equity = append(equity, model.EquityPoint{
			Timestamp:      bar.Timestamp,
			Cash:           capital,
			PortfolioValue: portfolio,
			DrawdownPct:    (peak - portfolio) / peak * 100,
		})
	}

	if position != nil {
		last := bars[len(bars)-1]
		price, _ := last.Close.Float64()
		capital += position.close(price)
		trades = append(trades, position.trade(last.Timestamp, price, "backtest_end"))
	}

	res := backtest.ComputeMetrics(trades, equity, initialCapital, capital, bars)
	res.StrategyName = s.rec.Name
	res.Symbol = data.Symbol
	res.DataSource = data.Source
	res.Period = data.Period
	res.StartTime = bars[0].Timestamp
	res.EndTime = bars[len(bars)-1].Timestamp
	for i := range res.Trades {
		res.Trades[i].Symbol = data.Symbol
		res.Trades[i].Side = model.SideBuy
	}
	return res, nil
}

// simEntrySignal is the backtest entry rule: a fresh golden cross with
// price above the short MA, enough volume, RSI not at an extreme, and
// price below the upper Bollinger band.
func (s *Scalping) simEntrySignal(bars []model.Bar, i int, cfg settings.Scalping, minVol decimal.Decimal) bool {
	window := bars[:i+1]
	if bars[i].Volume.LessThan(minVol) {
		return false
	}

	shortMA, ok1 := SMA(window, cfg.ShortMAPeriods, 0)
	longMA, ok2 := SMA(window, cfg.LongMAPeriods, 0)
	prevShort, ok3 := SMA(window, cfg.ShortMAPeriods, 1)
	prevLong, ok4 := SMA(window, cfg.LongMAPeriods, 1)
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return false
	}

	crossed := prevShort.LessThanOrEqual(prevLong) &&
		shortMA.GreaterThan(longMA) &&
		bars[i].Close.GreaterThan(shortMA)
	if !crossed {
		return false
	}

	if rsi, ok := RSI(window, 14); ok && (rsi < cfg.RSIOversold || rsi > cfg.RSIOverbought) {
		return false
	}
	if upper, _, ok := Bollinger(window, 20, 2); ok {
		if c, _ := bars[i].Close.Float64(); c >= upper {
			return false
		}
	}
	return true
}

// exitCondition checks take profit, stop loss, and a trailing stop armed
// once the position is in profit.
func (s *Scalping) exitCondition(p *simPosition, bars []model.Bar, i int, cfg settings.Scalping) (bool, string) {
	price, _ := bars[i].Close.Float64()
	profitPct := (price - p.entryPrice) / p.entryPrice

	if profitPct >= cfg.TakeProfitPct {
		return true, "take_profit"
	}
	if profitPct <= -cfg.StopLossPct {
		return true, "stop_loss"
	}
	if profitPct > trailingArmPct {
		trailingPct := cfg.StopLossPct * 0.5
		stop := highestHigh(bars, i, 5) * (1 - trailingPct)
		if price <= stop {
			return true, "trailing_stop"
		}
	}
	return false, ""
}

type simPosition struct {
	entryTime  time.Time
	entryPrice float64
	quantity   float64
}

// close returns entry cost plus realized P&L, the cash released by the
// exit.
func (p *simPosition) close(exitPrice float64) float64 {
	return p.quantity*p.entryPrice + (exitPrice-p.entryPrice)*p.quantity
}

func (p *simPosition) trade(exitTime time.Time, exitPrice float64, reason string) model.BacktestTrade {
	pnl := (exitPrice - p.entryPrice) * p.quantity
	return model.BacktestTrade{
		Side:          model.SideBuy,
		EntryTime:     p.entryTime,
		ExitTime:      exitTime,
		EntryPrice:    p.entryPrice,
		ExitPrice:     exitPrice,
		Quantity:      p.quantity,
		PnL:           pnl,
		PnLPct:        pnl / (p.entryPrice * p.quantity) * 100,
		ExitReason:    reason,
		DurationHours: exitTime.Sub(p.entryTime).Hours(),
	}
}

var _ Strategy = (*Scalping)(nil)

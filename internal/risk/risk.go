// Package risk evaluates position sizing and trading limits for a
// strategy. Evaluation is pure over store reads: alerts are produced
// fresh per check and only logged or emitted, never persisted.
package risk

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"divetrader/internal/infrastructure"
	"divetrader/internal/model"
	"divetrader/internal/settings"
	"divetrader/internal/store"
)

// techSymbols is the simplified sector bucket used for the sector
// exposure check.
var techSymbols = map[string]bool{
	"AAPL": true, "MSFT": true, "GOOGL": true, "AMZN": true,
	"META": true, "NVDA": true, "TSLA": true,
}

type Manager struct {
	store  store.Store
	logger *zap.Logger
}

func NewManager(st store.Store, logger *zap.Logger) *Manager {
	return &Manager{store: st, logger: logger}
}

func alert(kind string, severity model.AlertSeverity, msg string, strategyID int64, data map[string]interface{}) model.RiskAlert {
	infrastructure.RiskAlerts.WithLabelValues(kind, string(severity)).Inc()
	return model.RiskAlert{
		Kind:       kind,
		Severity:   severity,
		Message:    msg,
		StrategyID: strategyID,
		Data:       data,
		Timestamp:  time.Now().UTC(),
	}
}

// Limits resolves the strategy's risk limits: its optional "risk"
// settings block overlaid on library defaults.
func (m *Manager) Limits(ctx context.Context, strategyID int64) settings.Risk {
	st, err := m.store.GetStrategy(ctx, strategyID)
	if err != nil {
		return settings.DefaultRisk()
	}
	return settings.RiskFor(st.Settings)
}

// PositionSize computes a safe whole-share quantity for a new entry.
// Stop-based sizing when a stop price is given, capital-fraction fallback
// otherwise, always clamped to the max position share of portfolio value.
func (m *Manager) PositionSize(ctx context.Context, strategyID int64, symbol string, entryPrice, stopLossPrice float64) (int64, []model.RiskAlert) {
	var alerts []model.RiskAlert

	st, err := m.store.GetStrategy(ctx, strategyID)
	if err != nil {
		return 0, []model.RiskAlert{alert("error", model.SeverityHigh, "strategy not found", strategyID, nil)}
	}
	if entryPrice <= 0 {
		return 0, []model.RiskAlert{alert("position_sizing", model.SeverityHigh, "invalid entry price", strategyID, nil)}
	}
	limits := settings.RiskFor(st.Settings)

	riskAmount := st.CurrentCapital * limits.RiskPerTradePct / 100

	var size int64
	if stopLossPrice > 0 {
		riskPerShare := math.Abs(entryPrice - stopLossPrice)
		if riskPerShare > 0 {
			size = int64(riskAmount / riskPerShare)
		} else {
			alerts = append(alerts, alert("position_sizing", model.SeverityHigh, "invalid stop loss price", strategyID, nil))
		}
	} else {
		maxValue := st.CurrentCapital * limits.MaxPositionSizePct / 100
		size = int64(maxValue / entryPrice)
	}

	maxByCapital := int64(st.CurrentCapital * limits.MaxPositionSizePct / 100 / entryPrice)
	if size > maxByCapital {
		size = maxByCapital
	}

	if size < 1 {
		alerts = append(alerts, alert("position_sizing", model.SeverityMedium,
			fmt.Sprintf("position size too small: %d", size), strategyID, nil))
		return 0, alerts
	}

	portfolioValue := m.portfolioValue(ctx, st)
	if portfolioValue > 0 {
		positionPct := float64(size) * entryPrice / portfolioValue * 100
		if positionPct > limits.MaxPositionSizePct {
			alerts = append(alerts, alert("position_size", model.SeverityHigh,
				fmt.Sprintf("position would be %.1f%% of portfolio (max: %.0f%%)", positionPct, limits.MaxPositionSizePct),
				strategyID, map[string]interface{}{"position_percentage": positionPct}))
			size = int64(limits.MaxPositionSizePct / 100 * portfolioValue / entryPrice)
		}
	}
	return size, alerts
}

// CheckDrawdown compares the drop from peak capital against the drawdown
// limit, escalating at 60% and 80% of the limit.
func (m *Manager) CheckDrawdown(ctx context.Context, strategyID int64) []model.RiskAlert {
	st, err := m.store.GetStrategy(ctx, strategyID)
	if err != nil {
		return nil
	}
	limits := settings.RiskFor(st.Settings)

	peak := m.peakCapital(ctx, st)
	if peak <= 0 {
		return nil
	}
	ddPct := (peak - st.CurrentCapital) / peak * 100
	data := map[string]interface{}{"drawdown_percent": ddPct, "limit": limits.MaxDrawdownPct}

	switch {
	case ddPct >= limits.MaxDrawdownPct:
		return []model.RiskAlert{alert("drawdown", model.SeverityCritical,
			fmt.Sprintf("maximum drawdown reached: %.1f%% (limit: %.0f%%)", ddPct, limits.MaxDrawdownPct), strategyID, data)}
	case ddPct >= limits.MaxDrawdownPct*0.8:
		return []model.RiskAlert{alert("drawdown", model.SeverityHigh,
			fmt.Sprintf("approaching drawdown limit: %.1f%% (limit: %.0f%%)", ddPct, limits.MaxDrawdownPct), strategyID, data)}
	case ddPct >= limits.MaxDrawdownPct*0.6:
		return []model.RiskAlert{alert("drawdown", model.SeverityMedium,
			fmt.Sprintf("drawdown warning: %.1f%% (limit: %.0f%%)", ddPct, limits.MaxDrawdownPct), strategyID, data)}
	}
	return nil
}

// CheckDailyLoss sums today's realized P&L from filled trades and
// compares the loss against the daily loss limit.
func (m *Manager) CheckDailyLoss(ctx context.Context, strategyID int64) []model.RiskAlert {
	st, err := m.store.GetStrategy(ctx, strategyID)
	if err != nil || st.CurrentCapital <= 0 {
		return nil
	}
	limits := settings.RiskFor(st.Settings)

	dailyPnL := m.dailyPnL(ctx, strategyID)
	if dailyPnL >= 0 {
		return nil
	}
	lossPct := math.Abs(dailyPnL) / st.CurrentCapital * 100
	data := map[string]interface{}{"loss_percent": lossPct, "daily_pnl": dailyPnL}

	switch {
	case lossPct >= limits.MaxDailyLossPct:
		return []model.RiskAlert{alert("daily_loss", model.SeverityCritical,
			fmt.Sprintf("daily loss limit exceeded: %.1f%% (limit: %.0f%%)", lossPct, limits.MaxDailyLossPct), strategyID, data)}
	case lossPct >= limits.MaxDailyLossPct*0.8:
		return []model.RiskAlert{alert("daily_loss", model.SeverityHigh,
			fmt.Sprintf("approaching daily loss limit: %.1f%% (limit: %.0f%%)", lossPct, limits.MaxDailyLossPct), strategyID, data)}
	case lossPct >= limits.MaxDailyLossPct*0.6:
		return []model.RiskAlert{alert("daily_loss", model.SeverityMedium,
			fmt.Sprintf("daily loss warning: %.1f%% (limit: %.0f%%)", lossPct, limits.MaxDailyLossPct), strategyID, data)}
	}
	return nil
}

// CheckConcentration flags positions that dominate the portfolio and
// over-exposure to the tech sector bucket.
func (m *Manager) CheckConcentration(ctx context.Context, strategyID int64) []model.RiskAlert {
	limits := m.Limits(ctx, strategyID)
	positions, err := m.store.ListPositions(ctx, strategyID)
	if err != nil || len(positions) == 0 {
		return nil
	}

	total := decimal.Zero
	for _, p := range positions {
		total = total.Add(p.MarketValue)
	}
	if !total.IsPositive() {
		return nil
	}

	var alerts []model.RiskAlert
	techExposure := decimal.Zero
	for _, p := range positions {
		pct, _ := p.MarketValue.Div(total).Mul(decimal.NewFromInt(100)).Float64()
		if pct > limits.MaxPositionSizePct {
			alerts = append(alerts, alert("concentration", model.SeverityHigh,
				fmt.Sprintf("%s is %.1f%% of portfolio (max: %.0f%%)", p.Symbol, pct, limits.MaxPositionSizePct),
				strategyID, map[string]interface{}{"symbol": p.Symbol, "percentage": pct}))
		}
		if techSymbols[p.Symbol] {
			techExposure = techExposure.Add(p.MarketValue)
		}
	}

	techPct, _ := techExposure.Div(total).Mul(decimal.NewFromInt(100)).Float64()
	if techPct > limits.MaxSectorExposurePct {
		alerts = append(alerts, alert("sector_concentration", model.SeverityMedium,
			fmt.Sprintf("tech sector exposure: %.1f%% (max: %.0f%%)", techPct, limits.MaxSectorExposurePct),
			strategyID, map[string]interface{}{"sector": "technology", "percentage": techPct}))
	}
	return alerts
}

// haltConditions combines all standing risk checks.
func (m *Manager) haltConditions(ctx context.Context, strategyID int64) []model.RiskAlert {
	var alerts []model.RiskAlert
	alerts = append(alerts, m.CheckDrawdown(ctx, strategyID)...)
	alerts = append(alerts, m.CheckDailyLoss(ctx, strategyID)...)
	alerts = append(alerts, m.CheckConcentration(ctx, strategyID)...)
	return alerts
}

// ValidateTrade decides whether a proposed trade may go to the broker.
// A trade is blocked only on critical alerts or a buy above the
// recomputed safe maximum; advisory alerts pass through for logging.
func (m *Manager) ValidateTrade(ctx context.Context, strategyID int64, symbol string, side model.TradeSide, quantity int64, price float64) (bool, []model.RiskAlert) {
	haltAlerts := m.haltConditions(ctx, strategyID)
	if hasCritical(haltAlerts) {
		return false, haltAlerts
	}

	var alerts []model.RiskAlert
	if side == model.SideBuy {
		maxSize, sizeAlerts := m.PositionSize(ctx, strategyID, symbol, price, 0)
		alerts = append(alerts, sizeAlerts...)
		if quantity > maxSize {
			alerts = append(alerts, alert("position_size", model.SeverityHigh,
				fmt.Sprintf("trade size %d exceeds maximum %d", quantity, maxSize), strategyID, nil))
			return false, alerts
		}
	}

	dailyAlerts := m.CheckDailyLoss(ctx, strategyID)
	alerts = append(alerts, dailyAlerts...)
	if hasCritical(dailyAlerts) {
		return false, alerts
	}

	ddAlerts := m.CheckDrawdown(ctx, strategyID)
	alerts = append(alerts, ddAlerts...)
	if hasCritical(ddAlerts) {
		return false, alerts
	}

	return true, alerts
}

func hasCritical(alerts []model.RiskAlert) bool {
	for _, a := range alerts {
		if a.Severity == model.SeverityCritical {
			return true
		}
	}
	return false
}

// Summary is the full risk picture served by the API.
type Summary struct {
	StrategyID     int64             `json:"strategy_id"`
	Limits         settings.Risk     `json:"risk_limits"`
	DrawdownPct    float64           `json:"drawdown_percent"`
	DailyPnL       float64           `json:"daily_pnl"`
	DailyLossPct   float64           `json:"daily_loss_percent"`
	PortfolioValue float64           `json:"portfolio_value"`
	Alerts         []model.RiskAlert `json:"alerts"`
	Status         string            `json:"status"`
}

func (m *Manager) Summary(ctx context.Context, strategyID int64) (*Summary, error) {
	st, err := m.store.GetStrategy(ctx, strategyID)
	if err != nil {
		return nil, err
	}

	peak := m.peakCapital(ctx, st)
	ddPct := 0.0
	if peak > 0 {
		ddPct = (peak - st.CurrentCapital) / peak * 100
	}

	dailyPnL := m.dailyPnL(ctx, strategyID)
	lossPct := 0.0
	if st.CurrentCapital > 0 && dailyPnL < 0 {
		lossPct = math.Abs(dailyPnL) / st.CurrentCapital * 100
	}

	alerts := m.haltConditions(ctx, strategyID)
	status := "healthy"
	for _, a := range alerts {
		if a.Severity == model.SeverityCritical {
			status = "critical"
			break
		}
		status = "warning"
	}

	return &Summary{
		StrategyID:     strategyID,
		Limits:         settings.RiskFor(st.Settings),
		DrawdownPct:    ddPct,
		DailyPnL:       dailyPnL,
		DailyLossPct:   lossPct,
		PortfolioValue: m.portfolioValue(ctx, st),
		Alerts:         alerts,
		Status:         status,
	}, nil
}

// portfolioValue is free capital plus the market value of open positions.
func (m *Manager) portfolioValue(ctx context.Context, st *model.Strategy) float64 {
	positions, err := m.store.ListPositions(ctx, st.ID)
	if err != nil {
		m.logger.Warn("failed to list positions", zap.Int64("strategy_id", st.ID), zap.Error(err))
		return st.CurrentCapital
	}
	total := decimal.Zero
	for _, p := range positions {
		total = total.Add(p.MarketValue)
	}
	v, _ := total.Float64()
	return st.CurrentCapital + v
}

// peakCapital is the highest recorded daily total value, falling back to
// initial capital when no performance rows exist yet.
func (m *Manager) peakCapital(ctx context.Context, st *model.Strategy) float64 {
	metrics, err := m.store.ListPerformance(ctx, st.ID, 365)
	if err != nil || len(metrics) == 0 {
		return st.InitialCapital
	}
	peak := st.InitialCapital
	for _, mt := range metrics {
		if mt.TotalValue > peak {
			peak = mt.TotalValue
		}
	}
	return peak
}

func (m *Manager) dailyPnL(ctx context.Context, strategyID int64) float64 {
	todayStart := time.Now().UTC().Truncate(24 * time.Hour)
	trades, err := m.store.ListTradesSince(ctx, strategyID, todayStart)
	if err != nil {
		return 0
	}
	total := decimal.Zero
	for _, t := range trades {
		if t.Status == model.TradeFilled {
			total = total.Add(t.RealizedPnL)
		}
	}
	v, _ := total.Float64()
	return v
}

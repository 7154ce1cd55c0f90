package model

import "time"

// DataSource tags where a backtest's price series came from.
type DataSource string

const (
	DataReal      DataSource = "real"
	DataSynthetic DataSource = "synthetic"
)

// BacktestTrade 回测中的单笔完整交易 (entry + exit).
type BacktestTrade struct {
	Symbol        string    `json:"symbol"`
	Side          TradeSide `json:"side"`
	EntryTime     time.Time `json:"entry_time"`
	ExitTime      time.Time `json:"exit_time"`
	EntryPrice    float64   `json:"entry_price"`
	ExitPrice     float64   `json:"exit_price"`
	Quantity      float64   `json:"quantity"`
	PnL           float64   `json:"pnl"`
	PnLPct        float64   `json:"pnl_pct"`
	ExitReason    string    `json:"exit_reason"`
	DurationHours float64   `json:"duration_hours"`
}

// EquityPoint is one mark-to-market sample of the simulated account.
type EquityPoint struct {
	Timestamp      time.Time `json:"timestamp"`
	Cash           float64   `json:"cash"`
	PortfolioValue float64   `json:"portfolio_value"`
	DrawdownPct    float64   `json:"drawdown_pct"`
}

// BacktestResult 回测结果报告
type BacktestResult struct {
	StrategyName     string          `json:"strategy_name"`
	Symbol           string          `json:"symbol"`
	InitialCapital   float64         `json:"initial_capital"`
	FinalCapital     float64         `json:"final_capital"`
	TotalReturn      float64         `json:"total_return"`
	TotalReturnPct   float64         `json:"total_return_pct"`
	TotalTrades      int             `json:"total_trades"`
	WinningTrades    int             `json:"winning_trades"`
	LosingTrades     int             `json:"losing_trades"`
	WinRate          float64         `json:"win_rate"`
	AvgWin           float64         `json:"avg_win"`
	AvgLoss          float64         `json:"avg_loss"`
	ProfitFactor     float64         `json:"profit_factor"`
	MaxDrawdownPct   float64         `json:"max_drawdown_pct"`
	SharpeRatio      float64         `json:"sharpe_ratio"`
	AvgTradeDuration float64         `json:"avg_trade_duration_hours"`
	MaxConsecLosses  int             `json:"max_consecutive_losses"`
	RecoveryFactor   float64         `json:"recovery_factor"`
	BuyHoldReturnPct float64         `json:"buy_hold_return_pct"`
	ExcessReturnPct  float64         `json:"excess_return_pct"`
	DataSource       DataSource      `json:"data_source"`
	Period           string          `json:"period"`
	StartTime        time.Time       `json:"start_time"`
	EndTime          time.Time       `json:"end_time"`
	Trades           []BacktestTrade `json:"trades"`
	EquityCurve      []EquityPoint   `json:"equity_curve"`
}

// RiskAlert is an ephemeral finding from a risk evaluation. Alerts are
// produced fresh on each check and only logged or emitted, never stored.
type RiskAlert struct {
	Kind       string                 `json:"kind"`
	Severity   AlertSeverity          `json:"severity"`
	Message    string                 `json:"message"`
	StrategyID int64                  `json:"strategy_id"`
	Data       map[string]interface{} `json:"data,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
}

type AlertSeverity string

const (
	SeverityLow      AlertSeverity = "low"
	SeverityMedium   AlertSeverity = "medium"
	SeverityHigh     AlertSeverity = "high"
	SeverityCritical AlertSeverity = "critical"
)

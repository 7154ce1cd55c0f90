// Package settings holds the typed, validated configuration blocks stored
// per strategy record. Raw JSON from the database is parsed into one of
// these structs before a strategy instance is ever constructed.
package settings

import (
	"encoding/json"
	"fmt"
	"math"

	"divetrader/internal/model"
)

var ErrInvalid = fmt.Errorf("invalid strategy settings")

type InvestmentFrequency string

const (
	Daily    InvestmentFrequency = "daily"
	Weekly   InvestmentFrequency = "weekly"
	Biweekly InvestmentFrequency = "biweekly"
	Monthly  InvestmentFrequency = "monthly"
)

// Scalping configures the short-horizon MA crossover strategy.
type Scalping struct {
	Symbol                      string  `json:"symbol"`
	CheckIntervalSec            int     `json:"check_interval"`
	PositionSize                float64 `json:"position_size"`
	TakeProfitPct               float64 `json:"take_profit_pct"`
	StopLossPct                 float64 `json:"stop_loss_pct"`
	ShortMAPeriods              int     `json:"short_ma_periods"`
	LongMAPeriods               int     `json:"long_ma_periods"`
	RSIOversold                 float64 `json:"rsi_oversold"`
	RSIOverbought               float64 `json:"rsi_overbought"`
	MaxPositions                int     `json:"max_positions"`
	MinVolume                   float64 `json:"min_volume"`
	SignalCooldownSec           int     `json:"signal_cooldown"`
	UseAdvisor                  bool    `json:"use_advisor"`
	AdvisorConfidenceThreshold  float64 `json:"advisor_confidence_threshold"`
	CombineAdvisorWithTechnical bool    `json:"combine_advisor_with_technical"`
	PaperTradingMode            bool    `json:"paper_trading_mode"`
	FallbackVolume              float64 `json:"fallback_volume"`
	RiskPerTradePct             float64 `json:"risk_per_trade_pct"`
}

func DefaultScalping() Scalping {
	return Scalping{
		Symbol:                      "BTC/USD",
		CheckIntervalSec:            60,
		PositionSize:                0.001,
		TakeProfitPct:               0.002,
		StopLossPct:                 0.001,
		ShortMAPeriods:              3,
		LongMAPeriods:               5,
		RSIOversold:                 30,
		RSIOverbought:               70,
		MaxPositions:                1,
		MinVolume:                   1000,
		SignalCooldownSec:           300,
		AdvisorConfidenceThreshold:  0.6,
		CombineAdvisorWithTechnical: true,
		PaperTradingMode:            true,
		FallbackVolume:              10000,
		RiskPerTradePct:             2,
	}
}

func (s Scalping) Validate() error {
	switch {
	case s.Symbol == "":
		return fmt.Errorf("%w: symbol is required", ErrInvalid)
	case s.CheckIntervalSec < 10 || s.CheckIntervalSec > 3600:
		return fmt.Errorf("%w: check_interval %d out of range [10, 3600]", ErrInvalid, s.CheckIntervalSec)
	case s.PositionSize <= 0 || s.PositionSize > 1:
		return fmt.Errorf("%w: position_size %v out of range (0, 1]", ErrInvalid, s.PositionSize)
	case s.TakeProfitPct <= 0 || s.TakeProfitPct > 0.1:
		return fmt.Errorf("%w: take_profit_pct %v out of range (0, 0.1]", ErrInvalid, s.TakeProfitPct)
	case s.StopLossPct <= 0 || s.StopLossPct > 0.1:
		return fmt.Errorf("%w: stop_loss_pct %v out of range (0, 0.1]", ErrInvalid, s.StopLossPct)
	case s.ShortMAPeriods < 1 || s.ShortMAPeriods > 20:
		return fmt.Errorf("%w: short_ma_periods %d out of range [1, 20]", ErrInvalid, s.ShortMAPeriods)
	case s.LongMAPeriods < 2 || s.LongMAPeriods > 50:
		return fmt.Errorf("%w: long_ma_periods %d out of range [2, 50]", ErrInvalid, s.LongMAPeriods)
	case s.ShortMAPeriods >= s.LongMAPeriods:
		return fmt.Errorf("%w: short_ma_periods must be below long_ma_periods", ErrInvalid)
	case s.RSIOversold <= 0 || s.RSIOversold >= s.RSIOverbought || s.RSIOverbought >= 100:
		return fmt.Errorf("%w: rsi thresholds %v/%v", ErrInvalid, s.RSIOversold, s.RSIOverbought)
	case s.MaxPositions < 1 || s.MaxPositions > 5:
		return fmt.Errorf("%w: max_positions %d out of range [1, 5]", ErrInvalid, s.MaxPositions)
	case s.MinVolume < 0:
		return fmt.Errorf("%w: min_volume must not be negative", ErrInvalid)
	case s.SignalCooldownSec < 0:
		return fmt.Errorf("%w: signal_cooldown must not be negative", ErrInvalid)
	case s.AdvisorConfidenceThreshold < 0 || s.AdvisorConfidenceThreshold > 1:
		return fmt.Errorf("%w: advisor_confidence_threshold %v out of range [0, 1]", ErrInvalid, s.AdvisorConfidenceThreshold)
	case s.RiskPerTradePct <= 0 || s.RiskPerTradePct > 100:
		return fmt.Errorf("%w: risk_per_trade_pct %v out of range (0, 100]", ErrInvalid, s.RiskPerTradePct)
	}
	return nil
}

// Distributor configures the scheduled dollar-cost portfolio strategy.
type Distributor struct {
	CheckIntervalSec      int                 `json:"check_interval"`
	InvestmentAmount      float64             `json:"investment_amount"`
	Frequency             InvestmentFrequency `json:"investment_frequency"`
	Symbols               []string            `json:"symbols"`
	AllocationWeights     map[string]float64  `json:"allocation_weights"`
	RebalanceThresholdPct float64             `json:"rebalance_threshold"`
	MaxPositionSizePct    float64             `json:"max_position_size_pct"`
	MinCashReservePct     float64             `json:"min_cash_reserve_pct"`
}

func DefaultDistributor() Distributor {
	return Distributor{
		CheckIntervalSec:      3600,
		InvestmentAmount:      100,
		Frequency:             Weekly,
		Symbols:               []string{"SPY", "QQQ"},
		AllocationWeights:     map[string]float64{"SPY": 60, "QQQ": 40},
		RebalanceThresholdPct: 5,
		MaxPositionSizePct:    10,
		MinCashReservePct:     10,
	}
}

func (d Distributor) Validate() error {
	if d.CheckIntervalSec < 10 || d.CheckIntervalSec > 24*3600 {
		return fmt.Errorf("%w: check_interval %d out of range [10, 86400]", ErrInvalid, d.CheckIntervalSec)
	}
	if d.InvestmentAmount <= 0 {
		return fmt.Errorf("%w: investment_amount must be positive", ErrInvalid)
	}
	switch d.Frequency {
	case Daily, Weekly, Biweekly, Monthly:
	default:
		return fmt.Errorf("%w: unknown investment_frequency %q", ErrInvalid, d.Frequency)
	}
	if len(d.Symbols) == 0 {
		return fmt.Errorf("%w: symbols list is empty", ErrInvalid)
	}
	listed := make(map[string]bool, len(d.Symbols))
	for _, sym := range d.Symbols {
		listed[sym] = true
	}
	sum := 0.0
	for sym, w := range d.AllocationWeights {
		if !listed[sym] {
			return fmt.Errorf("%w: weight for unlisted symbol %q", ErrInvalid, sym)
		}
		if w <= 0 {
			return fmt.Errorf("%w: weight for %q must be positive", ErrInvalid, sym)
		}
		sum += w
	}
	if len(d.AllocationWeights) > 0 && math.Abs(sum-100) > 0.5 {
		return fmt.Errorf("%w: allocation weights sum to %.2f, want 100", ErrInvalid, sum)
	}
	if d.RebalanceThresholdPct <= 0 || d.RebalanceThresholdPct > 50 {
		return fmt.Errorf("%w: rebalance_threshold %v out of range (0, 50]", ErrInvalid, d.RebalanceThresholdPct)
	}
	return nil
}

// Weight returns the target percentage for symbol, falling back to an
// equal split when no explicit weight is configured.
func (d Distributor) Weight(symbol string) float64 {
	if w, ok := d.AllocationWeights[symbol]; ok {
		return w
	}
	return 100.0 / float64(len(d.Symbols))
}

// Risk holds the limits enforced by the risk gate. A strategy's settings
// JSON may carry a partial "risk" block that overlays these defaults.
type Risk struct {
	MaxPortfolioRiskPct  float64 `json:"max_portfolio_risk_pct"`
	MaxDailyLossPct      float64 `json:"max_daily_loss_pct"`
	MaxDrawdownPct       float64 `json:"max_drawdown_pct"`
	MaxPositionSizePct   float64 `json:"max_position_size_pct"`
	MaxSectorExposurePct float64 `json:"max_sector_exposure_pct"`
	MinCashReservePct    float64 `json:"min_cash_reserve_pct"`
	MaxLeverage          float64 `json:"max_leverage"`
	RiskPerTradePct      float64 `json:"risk_per_trade_pct"`
}

func DefaultRisk() Risk {
	return Risk{
		MaxPortfolioRiskPct:  15,
		MaxDailyLossPct:      5,
		MaxDrawdownPct:       15,
		MaxPositionSizePct:   10,
		MaxSectorExposurePct: 30,
		MinCashReservePct:    10,
		MaxLeverage:          1,
		RiskPerTradePct:      2,
	}
}

// RiskFor overlays the strategy's optional "risk" settings block over the
// library defaults. Unknown or absent blocks yield plain defaults.
func RiskFor(raw json.RawMessage) Risk {
	limits := DefaultRisk()
	if len(raw) == 0 {
		return limits
	}
	var envelope struct {
		Risk *Risk `json:"risk"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil || envelope.Risk == nil {
		return limits
	}
	overlay := *envelope.Risk
	if overlay.MaxPortfolioRiskPct > 0 {
		limits.MaxPortfolioRiskPct = overlay.MaxPortfolioRiskPct
	}
	if overlay.MaxDailyLossPct > 0 {
		limits.MaxDailyLossPct = overlay.MaxDailyLossPct
	}
	if overlay.MaxDrawdownPct > 0 {
		limits.MaxDrawdownPct = overlay.MaxDrawdownPct
	}
	if overlay.MaxPositionSizePct > 0 {
		limits.MaxPositionSizePct = overlay.MaxPositionSizePct
	}
	if overlay.MaxSectorExposurePct > 0 {
		limits.MaxSectorExposurePct = overlay.MaxSectorExposurePct
	}
	if overlay.MinCashReservePct > 0 {
		limits.MinCashReservePct = overlay.MinCashReservePct
	}
	if overlay.MaxLeverage > 0 {
		limits.MaxLeverage = overlay.MaxLeverage
	}
	if overlay.RiskPerTradePct > 0 {
		limits.RiskPerTradePct = overlay.RiskPerTradePct
	}
	return limits
}

// ParseScalping decodes raw settings over the defaults and validates.
func ParseScalping(raw json.RawMessage) (Scalping, error) {
	s := DefaultScalping()
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &s); err != nil {
			return Scalping{}, fmt.Errorf("%w: %v", ErrInvalid, err)
		}
	}
	if err := s.Validate(); err != nil {
		return Scalping{}, err
	}
	return s, nil
}

// ParseDistributor decodes raw settings over the defaults and validates.
// The default symbol list and weight map are cleared before decoding:
// json merges into a non-nil map, which would keep default weight keys
// alongside a custom symbol list.
func ParseDistributor(raw json.RawMessage) (Distributor, error) {
	d := DefaultDistributor()
	if len(raw) > 0 {
		defaultSymbols := d.Symbols
		defaultWeights := d.AllocationWeights
		d.Symbols = nil
		d.AllocationWeights = nil
		if err := json.Unmarshal(raw, &d); err != nil {
			return Distributor{}, fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		if d.Symbols == nil {
			d.Symbols = defaultSymbols
			if d.AllocationWeights == nil {
				d.AllocationWeights = defaultWeights
			}
		}
		// a custom symbol list without weights falls back to an equal split
	}
	if err := d.Validate(); err != nil {
		return Distributor{}, err
	}
	return d, nil
}

// Default returns the default settings JSON for a strategy kind.
func Default(kind model.StrategyKind) (json.RawMessage, error) {
	switch kind {
	case model.KindScalping:
		return json.Marshal(DefaultScalping())
	case model.KindDistributor:
		return json.Marshal(DefaultDistributor())
	default:
		return nil, fmt.Errorf("unknown strategy kind: %s", kind)
	}
}

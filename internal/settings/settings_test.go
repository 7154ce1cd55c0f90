package settings

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseScalpingDefaults(t *testing.T) {
	s, err := ParseScalping(nil)
	assert.NoError(t, err)
	assert.Equal(t, 60, s.CheckIntervalSec)
	assert.Equal(t, 3, s.ShortMAPeriods)
	assert.Equal(t, 5, s.LongMAPeriods)
	assert.True(t, s.PaperTradingMode)
}

func TestParseScalpingOverlay(t *testing.T) {
	raw := json.RawMessage(`{"short_ma_periods": 5, "long_ma_periods": 20, "take_profit_pct": 0.01}`)
	s, err := ParseScalping(raw)
	assert.NoError(t, err)
	assert.Equal(t, 5, s.ShortMAPeriods)
	assert.Equal(t, 20, s.LongMAPeriods)
	assert.Equal(t, 0.01, s.TakeProfitPct)
	// untouched fields keep defaults
	assert.Equal(t, 0.001, s.StopLossPct)
}

func TestParseScalpingRejectsBadRanges(t *testing.T) {
	cases := []string{
		`{"check_interval": 5}`,
		`{"position_size": 0}`,
		`{"position_size": 1.5}`,
		`{"take_profit_pct": 0.5}`,
		`{"short_ma_periods": 10, "long_ma_periods": 5}`,
		`{"max_positions": 9}`,
	}
	for _, raw := range cases {
		_, err := ParseScalping(json.RawMessage(raw))
		if !errors.Is(err, ErrInvalid) {
			t.Errorf("settings %s: got err %v, want ErrInvalid", raw, err)
		}
	}
}

func TestParseDistributorWeights(t *testing.T) {
	raw := json.RawMessage(`{
		"symbols": ["VOO", "VTI", "BND"],
		"allocation_weights": {"VOO": 50, "VTI": 30, "BND": 20},
		"investment_frequency": "monthly"
	}`)
	d, err := ParseDistributor(raw)
	assert.NoError(t, err)
	assert.Equal(t, Monthly, d.Frequency)
	assert.Equal(t, 50.0, d.Weight("VOO"))

	// weights not summing to 100 must be rejected
	_, err = ParseDistributor(json.RawMessage(`{
		"symbols": ["VOO", "VTI"],
		"allocation_weights": {"VOO": 50, "VTI": 30}
	}`))
	assert.ErrorIs(t, err, ErrInvalid)

	// weight for a symbol not in the list must be rejected
	_, err = ParseDistributor(json.RawMessage(`{
		"symbols": ["VOO"],
		"allocation_weights": {"AAPL": 100}
	}`))
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestParseDistributorReplacesDefaultSymbols(t *testing.T) {
	// a custom symbol list must fully replace the defaults, not merge
	// default weight keys into the decoded map
	d, err := ParseDistributor(json.RawMessage(`{
		"symbols": ["VOO", "VTI", "BND"],
		"allocation_weights": {"VOO": 50, "VTI": 30, "BND": 20}
	}`))
	assert.NoError(t, err)
	assert.Equal(t, []string{"VOO", "VTI", "BND"}, d.Symbols)
	assert.Len(t, d.AllocationWeights, 3)
	assert.NotContains(t, d.AllocationWeights, "SPY")

	// symbols without weights fall back to an equal split
	d, err = ParseDistributor(json.RawMessage(`{"symbols": ["VOO", "VTI"]}`))
	assert.NoError(t, err)
	assert.Empty(t, d.AllocationWeights)
	assert.Equal(t, 50.0, d.Weight("VOO"))

	// omitting both keeps the default portfolio
	d, err = ParseDistributor(json.RawMessage(`{"investment_amount": 250}`))
	assert.NoError(t, err)
	assert.Equal(t, []string{"SPY", "QQQ"}, d.Symbols)
	assert.Equal(t, 60.0, d.Weight("SPY"))
}

func TestDistributorEqualWeightFallback(t *testing.T) {
	d := DefaultDistributor()
	d.Symbols = []string{"A", "B", "C", "D"}
	d.AllocationWeights = nil
	assert.Equal(t, 25.0, d.Weight("A"))
}

func TestRiskForOverlay(t *testing.T) {
	limits := RiskFor(json.RawMessage(`{"risk": {"max_drawdown_pct": 20, "max_daily_loss_pct": 3}}`))
	assert.Equal(t, 20.0, limits.MaxDrawdownPct)
	assert.Equal(t, 3.0, limits.MaxDailyLossPct)
	// fields not overridden keep defaults
	assert.Equal(t, 10.0, limits.MaxPositionSizePct)

	assert.Equal(t, DefaultRisk(), RiskFor(nil))
	assert.Equal(t, DefaultRisk(), RiskFor(json.RawMessage(`{"short_ma_periods": 3}`)))
}

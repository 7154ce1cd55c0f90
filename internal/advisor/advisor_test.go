package advisor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"divetrader/internal/model"
)

func TestRuleBasedBullish(t *testing.T) {
	a, err := RuleBased{}.Analyze(context.Background(), "BTC/USD", []model.Bar{{}}, Indicators{
		ShortMA: 105, LongMA: 100, Price: 110, RSI: 25,
	})
	assert.NoError(t, err)
	assert.Equal(t, Buy, a.Signal)
	assert.Greater(t, a.Confidence, 0.6)
	assert.NotEmpty(t, a.Reasoning)
}

func TestRuleBasedBearish(t *testing.T) {
	a, err := RuleBased{}.Analyze(context.Background(), "BTC/USD", []model.Bar{{}}, Indicators{
		ShortMA: 95, LongMA: 100, Price: 90, RSI: 80,
	})
	assert.NoError(t, err)
	assert.Equal(t, Sell, a.Signal)
}

func TestRuleBasedMixedSignalsHold(t *testing.T) {
	// trend up but price below the short MA: score too weak to act
	a, err := RuleBased{}.Analyze(context.Background(), "BTC/USD", []model.Bar{{}}, Indicators{
		ShortMA: 105, LongMA: 100, Price: 104, RSI: 50,
	})
	assert.NoError(t, err)
	assert.Equal(t, Hold, a.Signal)
}

func TestRuleBasedNoData(t *testing.T) {
	a, err := RuleBased{}.Analyze(context.Background(), "BTC/USD", nil, Indicators{})
	assert.NoError(t, err)
	assert.Equal(t, Hold, a.Signal)
	assert.Zero(t, a.Confidence)
}

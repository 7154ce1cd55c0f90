// Package advisor is the optional second opinion consulted by signal
// generation. Strategies work without one; when configured, its verdict
// is combined with the technical signal per strategy settings.
package advisor

import (
	"context"
	"fmt"

	"divetrader/internal/model"
)

type Signal string

const (
	Buy  Signal = "buy"
	Sell Signal = "sell"
	Hold Signal = "hold"
)

// Analysis is an advisor's verdict on a symbol.
type Analysis struct {
	Signal     Signal  `json:"signal"`
	Confidence float64 `json:"confidence"` // 0..1
	Reasoning  string  `json:"reasoning"`
}

// Indicators carries the technical context already computed by the
// caller so advisors need not recompute it.
type Indicators struct {
	ShortMA float64
	LongMA  float64
	RSI     float64
	Price   float64
}

type Advisor interface {
	Analyze(ctx context.Context, symbol string, bars []model.Bar, ind Indicators) (Analysis, error)
}

// RuleBased scores a handful of technical conditions. It is the fallback
// used when no external advisory service is configured.
type RuleBased struct{}

func (RuleBased) Analyze(_ context.Context, symbol string, bars []model.Bar, ind Indicators) (Analysis, error) {
	if len(bars) == 0 || ind.Price <= 0 {
		return Analysis{Signal: Hold, Confidence: 0, Reasoning: "no data"}, nil
	}

	score := 0.0
	if ind.ShortMA > ind.LongMA {
		score += 0.4
	} else if ind.ShortMA < ind.LongMA {
		score -= 0.4
	}
	if ind.Price > ind.ShortMA {
		score += 0.2
	} else {
		score -= 0.2
	}
	if ind.RSI > 0 {
		switch {
		case ind.RSI < 30:
			score += 0.3 // oversold
		case ind.RSI > 70:
			score -= 0.3 // overbought
		}
	}

	a := Analysis{Signal: Hold, Confidence: 0.5}
	switch {
	case score >= 0.4:
		a.Signal = Buy
		a.Confidence = 0.5 + score/2
	case score <= -0.4:
		a.Signal = Sell
		a.Confidence = 0.5 - score/2
	}
	if a.Confidence > 0.95 {
		a.Confidence = 0.95
	}
	a.Reasoning = fmt.Sprintf("%s: trend/momentum score %.2f", symbol, score)
	return a, nil
}

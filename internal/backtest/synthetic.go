package backtest

import (
	"math"
	"math/rand"
	"time"

	"github.com/shopspring/decimal"

	"divetrader/internal/model"
)

// DefaultSeed keeps synthetic runs reproducible across processes.
const DefaultSeed = 42

// SyntheticCrypto generates an hourly geometric Brownian walk shaped
// like BTC: 4% daily volatility, slight upward drift, volume coupled to
// the size of each move.
func SyntheticCrypto(symbol string, days int, seed int64) []model.Bar {
	return synthetic(symbol, days*24, time.Hour, 45000, 0.04/math.Sqrt(24), 0.0001, seed)
}

// SyntheticStock generates a daily walk for an equity symbol. Each symbol
// gets its own deterministic offset so portfolio series differ.
func SyntheticStock(symbol string, days int, seed int64) []model.Bar {
	var offset int64
	for _, c := range symbol {
		offset = offset*31 + int64(c)
	}
	return synthetic(symbol, days, 24*time.Hour, 100, 0.02, 0.0003, seed+offset)
}

func synthetic(symbol string, periods int, step time.Duration, initialPrice, volatility, drift float64, seed int64) []model.Bar {
	if periods < 2 {
		periods = 2
	}
	rng := rand.New(rand.NewSource(seed))
	start := time.Now().UTC().Add(-time.Duration(periods) * step).Truncate(step)

	bars := make([]model.Bar, 0, periods)
	logPrice := math.Log(initialPrice)
	prevClose := initialPrice

	for i := 0; i < periods; i++ {
		logPrice += drift + rng.NormFloat64()*volatility
		close := math.Exp(logPrice)

		var open float64
		if i == 0 {
			open = close * uniform(rng, 0.998, 1.002)
		} else {
			open = prevClose * uniform(rng, 0.999, 1.001)
		}

		intraVol := uniform(rng, 0.001, 0.003)
		high := close * (1 + uniform(rng, 0, intraVol))
		low := close * (1 - uniform(rng, 0, intraVol))
		high = math.Max(high, math.Max(open, close))
		low = math.Min(low, math.Min(open, close))

		// bigger moves attract more volume
		priceChange := math.Abs(close-open) / open
		volume := uniform(rng, 800, 1500) * (1 + priceChange*10)

		bars = append(bars, model.Bar{
			Symbol:    symbol,
			Open:      decimal.NewFromFloat(open),
			High:      decimal.NewFromFloat(high),
			Low:       decimal.NewFromFloat(low),
			Close:     decimal.NewFromFloat(close),
			Volume:    decimal.NewFromFloat(volume),
			Timestamp: start.Add(time.Duration(i) * step),
		})
		prevClose = close
	}
	return bars
}

func uniform(rng *rand.Rand, lo, hi float64) float64 {
	return lo + rng.Float64()*(hi-lo)
}

package strategy

import (
	"math"

	"github.com/shopspring/decimal"

	"divetrader/internal/model"
)

// SMA computes the simple moving average of closes ending offset bars
// before the last bar. ok is false when the window does not fit.
func SMA(bars []model.Bar, period, offset int) (decimal.Decimal, bool) {
	end := len(bars) - offset
	start := end - period
	if period <= 0 || start < 0 {
		return decimal.Zero, false
	}
	sum := decimal.Zero
	for i := start; i < end; i++ {
		sum = sum.Add(bars[i].Close)
	}
	return sum.Div(decimal.NewFromInt(int64(period))), true
}

// EMA computes the exponential moving average of all closes with the
// standard 2/(period+1) smoothing.
func EMA(bars []model.Bar, period int) (decimal.Decimal, bool) {
	if period <= 0 || len(bars) < period {
		return decimal.Zero, false
	}
	ema, _ := SMA(bars[:period], period, 0)
	k := decimal.NewFromFloat(2.0 / float64(period+1))
	one := decimal.NewFromInt(1)
	for i := period; i < len(bars); i++ {
		ema = bars[i].Close.Mul(k).Add(ema.Mul(one.Sub(k)))
	}
	return ema, true
}

// RSI computes the relative strength index over the trailing period
// using simple average gains and losses.
func RSI(bars []model.Bar, period int) (float64, bool) {
	if period <= 0 || len(bars) < period+1 {
		return 0, false
	}
	var gains, losses float64
	for i := len(bars) - period; i < len(bars); i++ {
		delta, _ := bars[i].Close.Sub(bars[i-1].Close).Float64()
		if delta > 0 {
			gains += delta
		} else {
			losses += -delta
		}
	}
	if losses == 0 {
		return 100, true
	}
	rs := gains / losses
	return 100 - 100/(1+rs), true
}

// Bollinger computes the upper and lower bands at stdDev standard
// deviations around the period SMA of closes.
func Bollinger(bars []model.Bar, period int, stdDev float64) (upper, lower float64, ok bool) {
	if period <= 0 || len(bars) < period {
		return 0, 0, false
	}
	sma, _ := SMA(bars, period, 0)
	mean, _ := sma.Float64()

	var sq float64
	for i := len(bars) - period; i < len(bars); i++ {
		c, _ := bars[i].Close.Float64()
		sq += (c - mean) * (c - mean)
	}
	std := math.Sqrt(sq / float64(period))
	return mean + std*stdDev, mean - std*stdDev, true
}

// highestHigh is the maximum high over the last n bars ending at index i.
func highestHigh(bars []model.Bar, i, n int) float64 {
	start := i - n
	if start < 0 {
		start = 0
	}
	high := 0.0
	for j := start; j <= i; j++ {
		h, _ := bars[j].High.Float64()
		if h > high {
			high = h
		}
	}
	return high
}

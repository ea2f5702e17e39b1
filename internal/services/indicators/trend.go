package indicators

import "SweepTrader/internal/domain/models"

// SMA of the last n values; ok is false when fewer than n exist.
func SMA(values []float64, n int) (float64, bool) {
	if n <= 0 || len(values) < n {
		return 0, false
	}
	sum := 0.0
	for _, v := range values[len(values)-n:] {
		sum += v
	}
	return sum / float64(n), true
}

// TrendBias compares the latest close to SMA(period) with a relative band:
// above sma*(1+band) is bullish, below sma*(1-band) bearish, otherwise range.
func TrendBias(bars models.Bars, period int, band float64) models.Bias {
	sma, ok := SMA(bars.Closes(), period)
	if !ok || sma <= 0 {
		return models.BiasUnknown
	}
	last := bars[len(bars)-1].Close
	switch {
	case last > sma*(1+band):
		return models.BiasBull
	case last < sma*(1-band):
		return models.BiasBear
	default:
		return models.BiasRange
	}
}

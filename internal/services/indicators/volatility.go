// Package indicators holds the pure bar-series math used by the engine.
// Every function takes a series ordered oldest to newest and keeps no state.
package indicators

import (
	"math"

	"SweepTrader/internal/domain/models"
)

// MinATR is returned instead of zero when there is not enough data, so
// callers can divide by an ATR without guarding.
const MinATR = 0.001

// TrueRange of bar i. The first bar has no previous close and uses high-low.
func TrueRange(bars models.Bars, i int) float64 {
	b := bars[i]
	tr := b.High - b.Low
	if i == 0 {
		return tr
	}
	prevClose := bars[i-1].Close
	return math.Max(tr, math.Max(math.Abs(b.High-prevClose), math.Abs(b.Low-prevClose)))
}

// ATR is the simple mean of the last period true ranges.
func ATR(bars models.Bars, period int) float64 {
	if period <= 0 || len(bars) < period {
		return MinATR
	}
	sum := 0.0
	for i := len(bars) - period; i < len(bars); i++ {
		sum += TrueRange(bars, i)
	}
	atr := sum / float64(period)
	if atr <= 0 || math.IsNaN(atr) {
		return MinATR
	}
	return atr
}

// ADX is Wilder's average directional index. It returns 0 when fewer than
// 2*period+1 bars are available.
func ADX(bars models.Bars, period int) float64 {
	if period <= 0 || len(bars) < 2*period+1 {
		return 0
	}

	n := len(bars) - 1
	tr := make([]float64, n)
	plusDM := make([]float64, n)
	minusDM := make([]float64, n)
	for i := 1; i < len(bars); i++ {
		up := bars[i].High - bars[i-1].High
		down := bars[i-1].Low - bars[i].Low
		if up > down && up > 0 {
			plusDM[i-1] = up
		}
		if down > up && down > 0 {
			minusDM[i-1] = down
		}
		tr[i-1] = TrueRange(bars, i)
	}

	var sTR, sPlus, sMinus float64
	for i := 0; i < period; i++ {
		sTR += tr[i]
		sPlus += plusDM[i]
		sMinus += minusDM[i]
	}

	p := float64(period)
	dx := make([]float64, 0, n-period+1)
	dx = append(dx, directionalIndex(sTR, sPlus, sMinus))
	for i := period; i < n; i++ {
		sTR = sTR - sTR/p + tr[i]
		sPlus = sPlus - sPlus/p + plusDM[i]
		sMinus = sMinus - sMinus/p + minusDM[i]
		dx = append(dx, directionalIndex(sTR, sPlus, sMinus))
	}
	if len(dx) < period {
		return 0
	}

	adx := 0.0
	for i := 0; i < period; i++ {
		adx += dx[i]
	}
	adx /= p
	for i := period; i < len(dx); i++ {
		adx = (adx*(p-1) + dx[i]) / p
	}
	return adx
}

func directionalIndex(tr, plusDM, minusDM float64) float64 {
	if tr == 0 {
		return 0
	}
	plusDI := 100 * plusDM / tr
	minusDI := 100 * minusDM / tr
	if plusDI+minusDI == 0 {
		return 0
	}
	return 100 * math.Abs(plusDI-minusDI) / (plusDI + minusDI)
}

// VelocityRatio compares the latest bar's range with the mean range of the
// baseline bars before it. It returns 0 when there is not enough history or
// the baseline is flat.
func VelocityRatio(bars models.Bars, baseline int) float64 {
	if baseline <= 0 || len(bars) < baseline+1 {
		return 0
	}
	last := bars[len(bars)-1].Range()
	sum := 0.0
	for _, b := range bars[len(bars)-1-baseline : len(bars)-1] {
		sum += b.Range()
	}
	mean := sum / float64(baseline)
	if mean <= 0 {
		return 0
	}
	return last / mean
}

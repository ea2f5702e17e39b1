package threshold

import (
	"math"

	"SweepTrader/internal/domain/models"
	"SweepTrader/internal/services/indicators"
	"SweepTrader/pkg/config"
)

// Calculator derives the sweep threshold and displacement multiplier.
// It is a value type; every call recomputes from its inputs.
type Calculator struct {
	FloorPips      float64
	RangePct       float64
	ATRCoefficient float64
	KNormal        float64
	KHigh          float64
	HighVolATRPips float64
}

func New(s config.Strategy) Calculator {
	return Calculator{
		FloorPips:      s.Threshold.FloorPips,
		RangePct:       s.Threshold.RangePct,
		ATRCoefficient: s.Threshold.ATRCoefficient,
		KNormal:        s.Displacement.KNormal,
		KHigh:          s.Displacement.KHigh,
		HighVolATRPips: s.Displacement.HighVolATRPips,
	}
}

// Sweep returns max(floor, range*pct, coef*atr) with every candidate kept
// for audit. Ties resolve in the order floor, range, atr.
func (c Calculator) Sweep(rangePips, atrH1Pips float64) models.ThresholdBreakdown {
	floor := indicators.Round1(c.FloorPips)
	byRange := indicators.Round1(rangePips * c.RangePct)
	byATR := indicators.Round1(atrH1Pips * c.ATRCoefficient)

	threshold := math.Max(floor, math.Max(byRange, byATR))

	chosen := models.ComponentATR
	switch threshold {
	case floor:
		chosen = models.ComponentFloor
	case byRange:
		chosen = models.ComponentRange
	}

	return models.ThresholdBreakdown{
		FloorPips:     floor,
		RangePips:     byRange,
		ATRPips:       byATR,
		ATRH1Pips:     indicators.Round1(atrH1Pips),
		ThresholdPips: threshold,
		Chosen:        chosen,
	}
}

// Displacement is the body/ATR multiple a confirmation candle must reach.
func (c Calculator) Displacement(atrH1Pips float64) float64 {
	if atrH1Pips > c.HighVolATRPips {
		return c.KHigh
	}
	return c.KNormal
}

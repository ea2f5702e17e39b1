package indicators

import (
	"math"
	"time"

	"SweepTrader/internal/domain/models"
	"SweepTrader/pkg/config"
)

// Grade classifies a range size in pips. The mapping is total:
// below NoTradeBelow and above WideMax both grade NO_TRADE.
func Grade(rangePips float64, l config.RangeGradeLimits) models.RangeGrade {
	switch {
	case rangePips < l.NoTradeBelow:
		return models.GradeNoTrade
	case rangePips <= l.TightMax:
		return models.GradeTight
	case rangePips <= l.NormalMax:
		return models.GradeNormal
	case rangePips <= l.WideMax:
		return models.GradeWide
	default:
		return models.GradeNoTrade
	}
}

// Pips converts a price distance to pips.
func Pips(distance, pipSize float64) float64 {
	if pipSize <= 0 {
		return 0
	}
	return distance / pipSize
}

// Round1 rounds to one decimal, the precision pip values are audited at.
func Round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// AsianRange builds the frozen range from bars opening in [from, to).
// ok is false when no bar falls inside the window.
func AsianRange(bars models.Bars, from, to time.Time, pipSize float64, l config.RangeGradeLimits) (models.AsianRange, bool) {
	window := bars.Between(from, to)
	high, low, ok := window.HighLow()
	if !ok {
		return models.AsianRange{}, false
	}
	size := Round1(Pips(high-low, pipSize))
	return models.AsianRange{
		High:     high,
		Low:      low,
		Mid:      (high + low) / 2,
		SizePips: size,
		Grade:    Grade(size, l),
		From:     from,
		To:       to,
		Bars:     len(window),
	}, true
}

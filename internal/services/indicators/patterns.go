package indicators

import (
	"time"

	"SweepTrader/internal/domain/models"
)

type Trigger struct {
	Detected bool
	Kind     models.TriggerKind
	Price    float64
	Time     time.Time
}

// MicroTrigger scans bars overlapping [zoneLow, zoneHigh] for the first
// engulfing or breakout bar in the direction of side.
func MicroTrigger(bars models.Bars, side models.Side, zoneLow, zoneHigh float64) Trigger {
	inZone := make(models.Bars, 0, len(bars))
	for _, b := range bars {
		if b.Low <= zoneHigh && b.High >= zoneLow {
			inZone = append(inZone, b)
		}
	}

	for i := 1; i < len(inZone); i++ {
		cur, prev := inZone[i], inZone[i-1]
		var engulfing, breakout bool
		if side == models.SideBuy {
			engulfing = cur.Bullish() && prev.Bearish() && cur.Close > prev.Open && cur.Open < prev.Close
			breakout = cur.Bullish() && cur.Close > prev.High
		} else {
			engulfing = cur.Bearish() && prev.Bullish() && cur.Close < prev.Open && cur.Open > prev.Close
			breakout = cur.Bearish() && cur.Close < prev.Low
		}
		switch {
		case engulfing:
			return Trigger{Detected: true, Kind: models.TriggerEngulfing, Price: cur.Close, Time: cur.Time}
		case breakout:
			return Trigger{Detected: true, Kind: models.TriggerBreakout, Price: cur.Close, Time: cur.Time}
		}
	}
	return Trigger{}
}

// BandWalk is true when the last n bars print strictly higher highs each
// bar, or strictly lower lows each bar.
func BandWalk(bars models.Bars, n int) bool {
	if n < 2 || len(bars) < n {
		return false
	}
	tail := bars[len(bars)-n:]
	up, down := true, true
	for i := 1; i < len(tail); i++ {
		if tail[i].High <= tail[i-1].High {
			up = false
		}
		if tail[i].Low >= tail[i-1].Low {
			down = false
		}
	}
	return up || down
}

// ConsecutiveClosesOutside is the longest run of closes above high or below low.
func ConsecutiveClosesOutside(bars models.Bars, high, low float64) int {
	best, run := 0, 0
	for _, b := range bars {
		if b.Close > high || b.Close < low {
			run++
			best = max(best, run)
			continue
		}
		run = 0
	}
	return best
}

package risk

import (
	"math"
	"time"

	"SweepTrader/internal/domain/models"
	"SweepTrader/pkg/util"
)

// RealizedR is the trade result in multiples of the initial stop distance,
// rounded to two decimals. A zero stop distance yields 0.
func RealizedR(side models.Side, entry, stop, exit float64) float64 {
	risk := math.Abs(entry - stop)
	if risk == 0 {
		return 0
	}
	r := (exit - entry) / risk
	if side == models.SideSell {
		r = -r
	}
	return math.Round(r*100) / 100
}

// ApplyClose folds a closed trade into the session counters. The daily and
// weekly totals only ever change here and reset with a new session/week.
func ApplyClose(s *models.Session, r, pnl float64) {
	s.DailyRealizedR = round2(s.DailyRealizedR + r)
	s.DailyRealizedPnL = round2(s.DailyRealizedPnL + pnl)
	s.WeeklyRealizedR = round2(s.WeeklyRealizedR + r)
}

// WeekBounds returns [Monday 00:00 UTC, next Monday 00:00 UTC).
func WeekBounds(t time.Time) (time.Time, time.Time) {
	start := util.WeekStart(t)
	return start, start.AddDate(0, 0, 7)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

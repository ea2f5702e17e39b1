package indicators

import (
	"time"

	"SweepTrader/internal/domain/models"
)

type Swing struct {
	Index int
	Price float64
	Time  time.Time
}

type StructureType string

const (
	StructureNone    StructureType = ""
	StructureBullish StructureType = "BULLISH"
	StructureBearish StructureType = "BEARISH"
)

// Structure is a BOS or CHOCH detection result.
type Structure struct {
	Type  StructureType
	Level float64
	Time  time.Time
}

func (s Structure) Detected() bool { return s.Type != StructureNone }

// SwingHighs returns bars whose high is strictly greater than every other
// high within lookback bars on either side. Ties disqualify.
func SwingHighs(bars models.Bars, lookback int) []Swing {
	return swings(bars, lookback, func(b models.Bar) float64 { return b.High }, func(a, b float64) bool { return a > b })
}

// SwingLows mirrors SwingHighs on lows.
func SwingLows(bars models.Bars, lookback int) []Swing {
	return swings(bars, lookback, func(b models.Bar) float64 { return b.Low }, func(a, b float64) bool { return a < b })
}

func swings(bars models.Bars, lookback int, price func(models.Bar) float64, beats func(a, b float64) bool) []Swing {
	if lookback <= 0 || len(bars) < 2*lookback+1 {
		return nil
	}
	var out []Swing
	for i := lookback; i < len(bars)-lookback; i++ {
		p := price(bars[i])
		extreme := true
		for j := i - lookback; j <= i+lookback; j++ {
			if j != i && !beats(p, price(bars[j])) {
				extreme = false
				break
			}
		}
		if extreme {
			out = append(out, Swing{Index: i, Price: p, Time: bars[i].Time})
		}
	}
	return out
}

// DetectBOS reports a break of structure: the latest close beyond the prior
// swing extreme while the newest swing already extends in that direction.
func DetectBOS(bars models.Bars, highs, lows []Swing) Structure {
	last, ok := bars.Last()
	if !ok {
		return Structure{}
	}
	if len(highs) >= 2 {
		prev, newest := highs[len(highs)-2], highs[len(highs)-1]
		if last.Close > prev.Price && newest.Price > prev.Price {
			return Structure{Type: StructureBullish, Level: prev.Price, Time: last.Time}
		}
	}
	if len(lows) >= 2 {
		prev, newest := lows[len(lows)-2], lows[len(lows)-1]
		if last.Close < prev.Price && newest.Price < prev.Price {
			return Structure{Type: StructureBearish, Level: prev.Price, Time: last.Time}
		}
	}
	return Structure{}
}

// DetectCHOCH reports a change of character over the last three swings:
// highs rising then falling is bearish, lows falling then rising is bullish.
func DetectCHOCH(highs, lows []Swing) Structure {
	if len(highs) >= 3 {
		h := highs[len(highs)-3:]
		if h[1].Price > h[0].Price && h[2].Price < h[1].Price {
			return Structure{Type: StructureBearish, Level: h[2].Price, Time: h[2].Time}
		}
	}
	if len(lows) >= 3 {
		l := lows[len(lows)-3:]
		if l[1].Price < l[0].Price && l[2].Price > l[1].Price {
			return Structure{Type: StructureBullish, Level: l[2].Price, Time: l[2].Time}
		}
	}
	return Structure{}
}

// StructureBias classifies the last two swings: HH+HL is bullish, LH+LL bearish.
func StructureBias(highs, lows []Swing) models.Bias {
	if len(highs) < 2 || len(lows) < 2 {
		return models.BiasUnknown
	}
	hh := highs[len(highs)-1].Price > highs[len(highs)-2].Price
	hl := lows[len(lows)-1].Price > lows[len(lows)-2].Price
	lh := highs[len(highs)-1].Price < highs[len(highs)-2].Price
	ll := lows[len(lows)-1].Price < lows[len(lows)-2].Price
	switch {
	case hh && hl:
		return models.BiasBull
	case lh && ll:
		return models.BiasBear
	default:
		return models.BiasRange
	}
}

// QuickCHOCH is the fine-timeframe reversal check after a sweep: following an
// UP sweep the latest bar must print a lower high than the one before it,
// following a DOWN sweep a higher low.
func QuickCHOCH(bars models.Bars, dir models.Direction) bool {
	if len(bars) < 3 {
		return false
	}
	last, prev := bars[len(bars)-1], bars[len(bars)-2]
	if dir == models.DirectionUp {
		return last.High < prev.High
	}
	return last.Low > prev.Low
}

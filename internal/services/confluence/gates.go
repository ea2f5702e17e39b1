package confluence

import (
	"fmt"
	"math"
	"time"

	"SweepTrader/internal/domain/models"
	"SweepTrader/internal/services/indicators"
	"SweepTrader/pkg/util"
)

func pass(name string, value, threshold float64, desc string) models.GateCheck {
	return models.GateCheck{Name: name, Passed: true, Value: value, Threshold: threshold, Description: desc}
}

func fail(name string, value, threshold float64, desc string) models.GateCheck {
	return models.GateCheck{Name: name, Passed: false, Value: value, Threshold: threshold, Description: desc}
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

const spreadEpsilon = 1e-9

func (e *Evaluator) spread(in Input, raw *models.ConfluenceInputs) models.GateCheck {
	pips := indicators.Pips(in.Quote.Spread(), in.PipSize)
	shown := math.Round(pips*100) / 100
	raw.SpreadPips = indicators.Round1(pips)
	// compared unrounded; the epsilon only absorbs float noise from ask-bid
	if pips > e.cfg.MaxSpreadPips+spreadEpsilon {
		return fail(GateSpread, shown, e.cfg.MaxSpreadPips,
			fmt.Sprintf("spread %g pips exceeds max %.1f", shown, e.cfg.MaxSpreadPips))
	}
	return pass(GateSpread, shown, e.cfg.MaxSpreadPips, "spread ok")
}

func (e *Evaluator) auctionBlackout(in Input, raw *models.ConfluenceInputs) models.GateCheck {
	for _, hhmm := range e.cfg.AuctionTimes {
		at, err := util.ClockOn(in.Now, hhmm, e.auction)
		if err != nil {
			continue
		}
		if util.Within(in.Now, at, e.cfg.AuctionBuffer) {
			raw.AuctionBlackout = true
			return fail(GateAuction, 1, 0,
				fmt.Sprintf("auction blackout around %s %s", hhmm, e.auction))
		}
	}
	return pass(GateAuction, 0, 0, "outside auction windows")
}

func (e *Evaluator) newsBlackout(in Input, raw *models.ConfluenceInputs) models.GateCheck {
	// Tier-1 events win over other high-impact events regardless of order.
	for _, tier := range []models.NewsTier{models.NewsTier1, models.NewsOther} {
		buffer := e.cfg.NewsOtherBuffer
		if tier == models.NewsTier1 {
			buffer = e.cfg.NewsTier1Buffer
		}
		for _, ev := range in.News {
			if ev.Tier != tier || !ev.Severity.HighImpact() {
				continue
			}
			if !util.Within(in.Now, ev.Time, buffer) {
				continue
			}
			raw.NewsBlackout = true
			raw.NewsTier = tier
			raw.NewsEvent = ev.Name
			raw.NewsBufferMinutes = int(buffer / time.Minute)
			return fail(GateNews, 1, buffer.Minutes(),
				fmt.Sprintf("news blackout: %s (%s, within %dm)", ev.Name, tier, raw.NewsBufferMinutes))
		}
	}
	return pass(GateNews, 0, 0, "no high-impact news nearby")
}

func (e *Evaluator) velocity(in Input, raw *models.ConfluenceInputs) models.GateCheck {
	ratio := indicators.VelocityRatio(in.M1, e.cfg.VelocityBaselineBars)
	raw.VelocityRatio = ratio
	if ratio > e.cfg.VelocityMultiplier {
		raw.VelocitySpike = true
		return fail(GateVelocity, ratio, e.cfg.VelocityMultiplier,
			fmt.Sprintf("velocity spike %.2fx baseline", ratio))
	}
	return pass(GateVelocity, ratio, e.cfg.VelocityMultiplier, "velocity normal")
}

func (e *Evaluator) biasGate(in Input, raw *models.ConfluenceInputs) models.GateCheck {
	d1, h4 := e.bias(in.D1), e.bias(in.H4)
	raw.BiasD1, raw.BiasH4 = d1, h4

	switch {
	case in.Direction == models.DirectionUp && d1 == models.BiasBull && h4 == models.BiasBull:
		return fail(GateBias, 1, 0, "bias: fading strong uptrend (D1 and H4 bullish)")
	case in.Direction == models.DirectionDown && d1 == models.BiasBear && h4 == models.BiasBear:
		return fail(GateBias, 1, 0, "bias: fading strong downtrend (D1 and H4 bearish)")
	}
	return pass(GateBias, 0, 0, fmt.Sprintf("bias D1=%s H4=%s", d1, h4))
}

func (e *Evaluator) trendDay(in Input, raw *models.ConfluenceInputs) models.GateCheck {
	adx := indicators.ADX(in.M15, e.cfg.ADXPeriod)
	walk := indicators.BandWalk(in.H1, e.cfg.BandWalkBars)
	raw.ADX15m = adx
	raw.TrendDayHighADX = adx > e.cfg.ADXThreshold
	raw.H1BandWalk = walk

	h4 := raw.BiasH4
	if h4 == "" {
		h4 = e.bias(in.H4)
	}
	aligned := (in.Direction == models.DirectionUp && h4 == models.BiasBull) ||
		(in.Direction == models.DirectionDown && h4 == models.BiasBear)

	if raw.TrendDayHighADX && walk && aligned {
		return fail(GateTrendDay, adx, e.cfg.ADXThreshold,
			fmt.Sprintf("trend day: ADX(M15) %.1f with H1 band walk against the fade", adx))
	}
	return pass(GateTrendDay, adx, e.cfg.ADXThreshold, "no trend day")
}

func (e *Evaluator) nyFreshSweep(in Input, raw *models.ConfluenceInputs) models.GateCheck {
	r := in.Session.Range
	londonStart := util.MustClockOn(in.Now, e.cfg.LondonStart, time.UTC)
	londonEnd := util.MustClockOn(in.Now, e.cfg.LondonEnd, time.UTC)
	nyStart := util.MustClockOn(in.Now, e.cfg.NYStart, time.UTC)

	lh, ll, ok := in.M5.Between(londonStart, londonEnd).HighLow()
	traversed := ok && lh >= r.High && ll <= r.Low
	raw.LondonTraversedAsia = traversed

	if !traversed || in.Now.Before(nyStart) {
		return pass(GateNYFreshSweep, 0, 0, "no fresh sweep required")
	}

	buffer := in.ThresholdPips * in.PipSize
	nh, nl, ok := in.M5.Between(nyStart, in.Now.Add(time.Nanosecond)).HighLow()
	fresh := ok && (nh > r.High+buffer || nl < r.Low-buffer)
	if !fresh {
		raw.NYRequiresFreshSweep = true
		return fail(GateNYFreshSweep, 1, 0, "London already traversed the Asian range; NY needs its own sweep")
	}
	return pass(GateNYFreshSweep, 0, 0, "NY printed its own sweep")
}

func (e *Evaluator) participation(in Input, raw *models.ConfluenceInputs) models.GateCheck {
	d := in.Now.UTC()
	reason := ""
	switch {
	case d.Month() == time.December && d.Day() >= e.cfg.YearEndFromDay:
		reason = "year-end holiday period"
	case d.Month() == time.January && d.Day() <= e.cfg.YearStartToDay:
		reason = "new-year holiday period"
	}
	if reason == "" {
		md := d.Format("01-02")
		for _, h := range e.cfg.Holidays {
			if h == md {
				reason = "market holiday " + md
				break
			}
		}
	}
	if reason != "" {
		raw.ParticipationFilter = true
		return fail(GateParticipation, 1, 0, "low participation: "+reason)
	}
	return pass(GateParticipation, 0, 0, "normal participation")
}

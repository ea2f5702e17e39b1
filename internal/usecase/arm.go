package usecase

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"SweepTrader/internal/domain/errs"
	"SweepTrader/internal/domain/models"
	"SweepTrader/internal/services/indicators"
	"SweepTrader/internal/services/risk"
)

const zoneReference = "CONFIRM_BODY"

// Arm attempts CONFIRMED -> ARMED without the eager execution step.
func (e *Engine) Arm(ctx context.Context, s *models.Session, now time.Time) (models.StepResult, error) {
	res, _, err := e.arm(ctx, s, now)
	return res, err
}

// arm returns the committed ARMED session when the transition happened.
func (e *Engine) arm(ctx context.Context, s *models.Session, now time.Time) (models.StepResult, *models.Session, error) {
	sweep, err := e.openSweep(ctx, s)
	if err != nil {
		return models.StepResult{}, nil, err
	}
	if !sweep.Confirmed() {
		return models.StepResult{}, nil, &errs.StateConsistencyError{SessionID: s.ID, Expected: "confirmed sweep", Actual: "unconfirmed sweep " + sweep.ID}
	}

	conf, m, err := e.evaluateConfluence(ctx, s, sweep, models.StageConfirm, now)
	if err != nil {
		return models.StepResult{}, nil, err
	}
	if !conf.Passed {
		res, err := e.cooldown(ctx, s, change{
			stage:      StageArm,
			kind:       models.AuditGate,
			reason:     "confluence failed: " + conf.Reasons(),
			context:    map[string]any{"confluence_id": conf.ID, "stage": string(conf.Stage)},
			confluence: &conf,
		}, e.holdFor(now, e.cfg.Cooldown.AfterGateFailure))
		return res, nil, err
	}

	deadline := sweep.ConfirmationTime.Add(e.cfg.Retest.Window())
	if now.After(deadline) {
		res, err := e.cooldown(ctx, s, change{
			stage:      StageArm,
			kind:       models.AuditGate,
			reason:     fmt.Sprintf("retest expired (%d x %dm bars)", e.cfg.Retest.MaxBars, e.cfg.Retest.BarMinutes),
			context:    map[string]any{"retest_deadline": deadline.UTC().Format(time.RFC3339)},
			confluence: &conf,
		}, e.holdFor(now, e.cfg.Cooldown.AfterGateFailure))
		return res, nil, err
	}

	side := sweep.Direction.FadeSide()
	zoneLow, zoneHigh := entryZone(sweep, side, e.cfg.Retest.ZoneFraction)

	after := m.m5.Since(*sweep.ConfirmationTime)
	touched := false
	for _, b := range after {
		if b.Low <= zoneHigh && b.High >= zoneLow {
			touched = true
			break
		}
	}
	if len(after) < e.cfg.Retest.MinBars || !touched {
		if err := e.saveConfluence(ctx, conf); err != nil {
			return models.StepResult{}, nil, err
		}
		return waiting(s, StageArm, fmt.Sprintf("awaiting retest of %.5f-%.5f (%d M5 bars since confirmation)",
			zoneLow, zoneHigh, len(after))), nil, nil
	}

	trig := indicators.MicroTrigger(m.m1.Since(now.Add(-e.cfg.Retest.TriggerLookback)), side, zoneLow, zoneHigh)
	if !trig.Detected {
		if err := e.saveConfluence(ctx, conf); err != nil {
			return models.StepResult{}, nil, err
		}
		return waiting(s, StageArm, fmt.Sprintf("awaiting %s micro-trigger in zone", side)), nil, nil
	}

	sig, reject, err := e.buildSignal(ctx, s, sweep, conf, m, side, zoneLow, zoneHigh, trig, deadline, now)
	if err != nil {
		return models.StepResult{}, nil, err
	}
	if reject != "" {
		res, err := e.cooldown(ctx, s, change{
			stage:      StageArm,
			kind:       models.AuditGate,
			reason:     reject,
			confluence: &conf,
		}, e.holdFor(now, e.cfg.Cooldown.AfterGateFailure))
		return res, nil, err
	}

	next, res, err := e.commit(ctx, s, s.Clone(), change{
		to:    models.StateArmed,
		stage: StageArm,
		reason: fmt.Sprintf("armed %s %.2f lots @ %.5f, SL %.5f, TP1 %.5f (%s trigger)",
			sig.Side, sig.Volume, sig.Entry, sig.StopLoss, sig.TP1, trig.Kind),
		context: map[string]any{
			"signal_id":   sig.ID,
			"risk_pct":    sig.RiskPct,
			"risk_amount": sig.RiskAmount,
			"sl_pips":     sig.SLPips,
			"rr":          sig.RiskReward,
			"zone_low":    zoneLow,
			"zone_high":   zoneHigh,
		},
		signal:     sig,
		confluence: &conf,
	})
	if err != nil {
		return models.StepResult{}, nil, err
	}
	return res, next, nil
}

// entryZone is the half of the confirmation body price should revisit: the
// upper half for a SELL fade, the lower half for a BUY fade.
func entryZone(sweep *models.Sweep, side models.Side, fraction float64) (float64, float64) {
	top := math.Max(sweep.ConfirmBodyOpen, sweep.ConfirmBodyClose)
	bottom := math.Min(sweep.ConfirmBodyOpen, sweep.ConfirmBodyClose)
	span := (top - bottom) * fraction
	if side == models.SideSell {
		return top - span, top
	}
	return bottom, bottom + span
}

// buildSignal sizes the trade plan. A non-empty reject means the plan is not
// tradeable and the session should cool down.
func (e *Engine) buildSignal(
	ctx context.Context,
	s *models.Session,
	sweep *models.Sweep,
	conf models.ConfluenceResult,
	m *marketView,
	side models.Side,
	zoneLow, zoneHigh float64,
	trig indicators.Trigger,
	deadline, now time.Time,
) (*models.Signal, string, error) {
	inst, err := e.cfg.Instrument(s.Symbol)
	if err != nil {
		return nil, "", errs.Validation("symbol", "%v", err)
	}
	pip := inst.PipSize
	r := s.Range

	var entry, stop, tp2 float64
	if side == models.SideBuy {
		entry = m.quote.Ask
		stop = sweep.Price - e.cfg.Entry.SLBufferPips*pip
		tp2 = r.High - e.cfg.Entry.TP2BufferPips*pip
	} else {
		entry = m.quote.Bid
		stop = sweep.Price + e.cfg.Entry.SLBufferPips*pip
		tp2 = r.Low + e.cfg.Entry.TP2BufferPips*pip
	}
	tp1 := r.Mid

	ordered := (side == models.SideBuy && stop < entry && entry < tp1) ||
		(side == models.SideSell && stop > entry && entry > tp1)
	if !ordered {
		return nil, fmt.Sprintf("invalid trade geometry: entry %.5f, SL %.5f, TP1 %.5f", entry, stop, tp1), nil
	}

	slPips := indicators.Round1(indicators.Pips(math.Abs(entry-stop), pip))
	tp1Pips := indicators.Round1(indicators.Pips(math.Abs(tp1-entry), pip))
	tp2Pips := indicators.Round1(indicators.Pips(math.Abs(tp2-entry), pip))

	acct, err := e.gateway.Account(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("account: %w", err)
	}
	sizing, err := e.sizer.Size(risk.SizingInput{
		Equity:         acct.Equity,
		StopPips:       slPips,
		PipValuePerLot: inst.PipValuePerLot,
		ATRH1Pips:      m.atrH1Pips(e.cfg.Threshold.ATRPeriod),
		Grade:          r.Grade,
		Direction:      sweep.Direction,
		Bias:           conf.Inputs.BiasH4,
	})
	if err != nil {
		return nil, "", err
	}

	rr := 0.0
	if slPips > 0 {
		rr = math.Round(tp1Pips/slPips*100) / 100
	}
	return &models.Signal{
		ID:                 uuid.NewString(),
		SessionID:          s.ID,
		SweepID:            sweep.ID,
		Symbol:             s.Symbol,
		Side:               side,
		Entry:              entry,
		StopLoss:           stop,
		TP1:                tp1,
		TP2:                tp2,
		SLPips:             slPips,
		TP1Pips:            tp1Pips,
		TP2Pips:            tp2Pips,
		RiskReward:         rr,
		Volume:             sizing.Volume,
		RiskPct:            sizing.RiskPct,
		RiskAmount:         sizing.RiskAmount,
		EntryMethod:        models.EntryConfirmOnTrigger,
		EntryZoneTop:       zoneHigh,
		EntryZoneBottom:    zoneLow,
		EntryZoneReference: zoneReference,
		MicroTrigger:       trig.Kind,
		RetestDeadline:     deadline,
		CreatedAt:          now,
	}, "", nil
}

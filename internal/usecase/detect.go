package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"SweepTrader/internal/domain/errs"
	"SweepTrader/internal/domain/models"
	drepo "SweepTrader/internal/domain/repository"
	"SweepTrader/internal/services/indicators"
)

// DetectSweep attempts IDLE -> SWEPT.
func (e *Engine) DetectSweep(ctx context.Context, s *models.Session, now time.Time) (models.StepResult, error) {
	inst, err := e.cfg.Instrument(s.Symbol)
	if err != nil {
		return models.StepResult{}, errs.Validation("symbol", "%v", err)
	}
	q, err := e.quote(ctx, s.Symbol)
	if err != nil {
		return models.StepResult{}, err
	}

	atrH1Pips, err := e.atrH1Pips(ctx, s.Symbol, inst.PipSize, now)
	if err != nil {
		return models.StepResult{}, err
	}
	th := e.threshold.Sweep(s.Range.SizePips, atrH1Pips)
	dist := th.ThresholdPips * inst.PipSize

	var dir models.Direction
	switch {
	case q.Bid >= s.Range.High+dist:
		dir = models.DirectionUp
	case q.Bid <= s.Range.Low-dist:
		dir = models.DirectionDown
	default:
		return waiting(s, StageDetect, fmt.Sprintf("no sweep: bid %.5f inside range %.5f-%.5f +/- %.1f pips",
			q.Bid, s.Range.Low, s.Range.High, th.ThresholdPips)), nil
	}

	beyond := q.Bid - s.Range.High
	if dir == models.DirectionDown {
		beyond = s.Range.Low - q.Bid
	}
	ctxMap := map[string]any{
		"direction":      string(dir),
		"price":          q.Bid,
		"beyond_pips":    indicators.Round1(indicators.Pips(beyond, inst.PipSize)),
		"threshold_pips": th.ThresholdPips,
		"chosen":         string(th.Chosen),
		"floor_pips":     th.FloorPips,
		"range_term":     th.RangePips,
		"atr_term":       th.ATRPips,
	}

	if s.Swept(dir.Opposite()) {
		next := s.Clone()
		next.BothSidesSwept = true
		markSwept(next, dir)
		return e.cooldownFrom(ctx, s, next, change{
			stage:   StageDetect,
			kind:    models.AuditGate,
			reason:  "both sides swept",
			context: ctxMap,
		}, nil)
	}

	m5, err := e.gateway.Bars(ctx, s.Symbol, drepo.TFM5, now.Add(-e.cfg.Acceptance.Lookback), now)
	if err != nil {
		return models.StepResult{}, fmt.Errorf("acceptance bars: %w", err)
	}
	outside := indicators.ConsecutiveClosesOutside(m5.Since(e.rangeEnd(s.Day)), s.Range.High, s.Range.Low)
	ctxMap["closes_outside"] = outside
	if outside >= e.cfg.Acceptance.MaxClosesOutside {
		next := s.Clone()
		next.AcceptanceOutsideCount = outside
		markSwept(next, dir)
		return e.cooldownFrom(ctx, s, next, change{
			stage:   StageDetect,
			kind:    models.AuditGate,
			reason:  fmt.Sprintf("breakout not reversal (acceptance outside: %d closes)", outside),
			context: ctxMap,
		}, nil)
	}

	sweep := &models.Sweep{
		ID:              uuid.NewString(),
		SessionID:       s.ID,
		Symbol:          s.Symbol,
		Direction:       dir,
		Price:           q.Bid,
		Time:            now,
		Threshold:       th,
		ConfirmDeadline: now.Add(e.cfg.Confirmation.Timeout),
	}
	next := s.Clone()
	next.SweepDirection = dir
	next.SweepTime = models.TimePtr(now)
	next.ConfirmationTime = nil
	next.DisplacementATRRatio = 0
	next.AcceptanceOutsideCount = outside
	markSwept(next, dir)

	_, res, err := e.commit(ctx, s, next, change{
		to:      models.StateSwept,
		stage:   StageDetect,
		reason:  fmt.Sprintf("sweep %s: %.1f pips beyond range (threshold %.1f, %s)", dir, ctxMap["beyond_pips"], th.ThresholdPips, th.Chosen),
		context: ctxMap,
		sweep:   sweep,
	})
	return res, err
}

func markSwept(s *models.Session, dir models.Direction) {
	if dir == models.DirectionUp {
		s.SweptUp = true
	} else {
		s.SweptDown = true
	}
	s.BothSidesSwept = s.SweptUp && s.SweptDown
}

func (e *Engine) quote(ctx context.Context, symbol string) (models.Quote, error) {
	q, err := e.gateway.Quote(ctx, symbol)
	if err != nil {
		return models.Quote{}, fmt.Errorf("quote: %w", err)
	}
	if q.Bid <= 0 || q.Ask <= 0 || q.Ask < q.Bid {
		return models.Quote{}, errs.Validation("quote", "bid=%v ask=%v", q.Bid, q.Ask)
	}
	return q, nil
}

func (e *Engine) atrH1Pips(ctx context.Context, symbol string, pipSize float64, now time.Time) (float64, error) {
	n := e.cfg.Threshold.ATRPeriod + 2
	h1, err := e.gateway.Bars(ctx, symbol, drepo.TFH1, drepo.TFH1.Lookback(now, n), now)
	if err != nil {
		return 0, fmt.Errorf("H1 bars: %w", err)
	}
	return indicators.Pips(indicators.ATR(h1, e.cfg.Threshold.ATRPeriod), pipSize), nil
}

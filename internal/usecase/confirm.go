package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"SweepTrader/internal/domain/errs"
	"SweepTrader/internal/domain/models"
	drepo "SweepTrader/internal/domain/repository"
	"SweepTrader/internal/services/indicators"
)

// ConfirmReversal attempts SWEPT -> CONFIRMED. Past the confirmation deadline
// the session cools down with confirmed=false in the audit context.
func (e *Engine) ConfirmReversal(ctx context.Context, s *models.Session, now time.Time) (models.StepResult, error) {
	sweep, err := e.openSweep(ctx, s)
	if err != nil {
		return models.StepResult{}, err
	}

	if now.After(sweep.ConfirmDeadline) {
		return e.cooldown(ctx, s, change{
			stage:  StageConfirm,
			kind:   models.AuditGate,
			reason: fmt.Sprintf("confirmation timeout (%s)", shortDuration(e.cfg.Confirmation.Timeout)),
			context: map[string]any{
				"confirmed":        false,
				"sweep_time":       sweep.Time.UTC().Format(time.RFC3339),
				"confirm_deadline": sweep.ConfirmDeadline.UTC().Format(time.RFC3339),
				"elapsed_minutes":  int(now.Sub(sweep.Time).Minutes()),
			},
		}, e.holdFor(now, e.cfg.Cooldown.AfterGateFailure))
	}

	inst, err := e.cfg.Instrument(s.Symbol)
	if err != nil {
		return models.StepResult{}, errs.Validation("symbol", "%v", err)
	}

	period := e.cfg.Displacement.ATRPeriod
	m5, err := e.gateway.Bars(ctx, s.Symbol, drepo.TFM5, drepo.TFM5.Lookback(now, period+6), now)
	if err != nil {
		return models.StepResult{}, fmt.Errorf("M5 bars: %w", err)
	}
	last, ok := m5.Last()
	if !ok {
		return models.StepResult{}, errs.Validation("bars", "no M5 bars before %s", now.Format(time.RFC3339))
	}
	m1, err := e.gateway.Bars(ctx, s.Symbol, drepo.TFM1, drepo.TFM1.Lookback(now, e.cfg.Confirmation.CHOCHBars), now)
	if err != nil {
		return models.StepResult{}, fmt.Errorf("M1 bars: %w", err)
	}
	atrH1Pips, err := e.atrH1Pips(ctx, s.Symbol, inst.PipSize, now)
	if err != nil {
		return models.StepResult{}, err
	}

	k := e.threshold.Displacement(atrH1Pips)
	atrM5 := indicators.ATR(m5, period)
	ratio := last.Body() / atrM5

	inside := last.Close < s.Range.High && last.Close > s.Range.Low
	reversing := (sweep.Direction == models.DirectionUp && last.Bearish()) ||
		(sweep.Direction == models.DirectionDown && last.Bullish())
	displaced := reversing && ratio >= k
	choch := indicators.QuickCHOCH(m1, sweep.Direction)

	var missing []string
	if !inside {
		missing = append(missing, fmt.Sprintf("close %.5f not back inside range", last.Close))
	}
	if !displaced {
		missing = append(missing, fmt.Sprintf("displacement %.2fx ATR(M5) below %.2fx", ratio, k))
	}
	if !choch {
		missing = append(missing, "no M1 CHOCH against the sweep")
	}
	if len(missing) > 0 {
		return waiting(s, StageConfirm, "awaiting confirmation: "+strings.Join(missing, "; ")), nil
	}

	confirmed := sweep.Clone()
	confirmed.ConfirmationPrice = last.Close
	confirmed.ConfirmationTime = models.TimePtr(now)
	confirmed.ConfirmBodyOpen = last.Open
	confirmed.ConfirmBodyClose = last.Close
	confirmed.DisplacementATR = math.Round(ratio*100) / 100
	confirmed.DisplacementK = k

	next := s.Clone()
	next.ConfirmationTime = models.TimePtr(now)
	next.DisplacementATRRatio = confirmed.DisplacementATR

	_, res, err := e.commit(ctx, s, next, change{
		to:     models.StateConfirmed,
		stage:  StageConfirm,
		reason: fmt.Sprintf("reversal confirmed: close back inside, body %.2fx ATR(M5) >= %.2fx, M1 CHOCH", ratio, k),
		context: map[string]any{
			"confirmed":          true,
			"confirmation_price": last.Close,
			"body_open":          last.Open,
			"body_close":         last.Close,
			"atr_m5":             atrM5,
			"displacement_ratio": ratio,
			"displacement_k":     k,
		},
		sweep: confirmed,
	})
	return res, err
}

// openSweep loads the sweep behind the current session cycle.
func (e *Engine) openSweep(ctx context.Context, s *models.Session) (*models.Sweep, error) {
	sweep, err := e.repo.LatestSweep(ctx, s.ID)
	if errors.Is(err, errs.ErrNotFound) {
		return nil, &errs.StateConsistencyError{SessionID: s.ID, Expected: "sweep for " + string(s.State), Actual: "none"}
	}
	if err != nil {
		return nil, errs.Dependency("session store", err)
	}
	return sweep, nil
}

func shortDuration(d time.Duration) string {
	if d%time.Hour == 0 && d >= time.Hour {
		return fmt.Sprintf("%dh", int(d.Hours()))
	}
	if d%time.Minute == 0 {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	return d.String()
}

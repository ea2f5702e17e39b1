package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"SweepTrader/internal/domain/errs"
	"SweepTrader/internal/domain/models"
	drepo "SweepTrader/internal/domain/repository"
	"SweepTrader/internal/services/indicators"
	"SweepTrader/internal/services/risk"
	"SweepTrader/pkg/logger"
	"SweepTrader/pkg/util"
)

// EnsureSession returns today's session for symbol, creating it on the first
// tick after the Asian range closes. The range and the weekly R carried in
// from earlier days are frozen at creation.
func (e *Engine) EnsureSession(ctx context.Context, symbol string, now time.Time) (*models.Session, error) {
	day := util.TradingDay(now)
	s, err := e.repo.FindBySymbolDay(ctx, symbol, day)
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, errs.ErrNotFound) {
		return nil, errs.Dependency("session store", err)
	}

	inst, err := e.cfg.Instrument(symbol)
	if err != nil {
		return nil, errs.Validation("symbol", "%v", err)
	}

	from := util.MustClockOn(day, e.cfg.AsianSession.Start, time.UTC)
	to := e.rangeEnd(day)
	if now.Before(to) {
		return nil, errs.Validation("asian_range", "window closes at %s", to.Format(time.RFC3339))
	}
	bars, err := e.gateway.Bars(ctx, symbol, drepo.TFM5, from, to)
	if err != nil {
		return nil, fmt.Errorf("asian range bars: %w", err)
	}
	rng, ok := indicators.AsianRange(bars, from, to, inst.PipSize, e.cfg.RangeGrade)
	if !ok {
		return nil, errs.Validation("asian_range", "no M5 bars between %s and %s", from.Format("15:04"), to.Format("15:04"))
	}
	if rng.SizePips > e.cfg.RangeGrade.WideMax {
		rng.Grade = models.GradeExtreme
	}

	weekStart, _ := risk.WeekBounds(now)
	weekly, err := e.repo.WeeklyRealizedR(ctx, symbol, weekStart, day)
	if err != nil {
		return nil, errs.Dependency("session store", fmt.Errorf("weekly R: %w", err))
	}

	s = &models.Session{
		ID:              uuid.NewString(),
		Symbol:          symbol,
		Day:             day,
		State:           models.StateIdle,
		Version:         1,
		Range:           rng,
		DailyLossLimit:  e.cfg.Risk.DailyLossLimit,
		WeeklyRealizedR: weekly,
		WeekStart:       weekStart,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	kind := models.AuditCreated
	reason := "session created"
	if e.breaker.WeeklyTripped(weekly) {
		s.State = models.StateCooldown
		s.CooldownReason = fmt.Sprintf("weekly circuit breaker tripped (%.2fR)", weekly)
		kind = models.AuditRisk
		reason = s.CooldownReason
		e.metrics.RecordRiskBreach(risk.CheckWeeklyR)
	}

	rec := models.AuditRecord{
		ID:        uuid.NewString(),
		SessionID: s.ID,
		Symbol:    symbol,
		Kind:      kind,
		ToState:   s.State,
		Reason:    reason,
		Context: map[string]any{
			"range_high":  rng.High,
			"range_low":   rng.Low,
			"range_pips":  rng.SizePips,
			"range_grade": string(rng.Grade),
			"range_bars":  rng.Bars,
			"weekly_r":    weekly,
		},
		Timestamp: now,
	}
	if err := e.repo.Create(ctx, s, rec); err != nil {
		return nil, errs.Dependency("session store", fmt.Errorf("create session: %w", err))
	}

	e.metrics.RecordState(symbol, string(s.State))
	e.publish(ctx, rec, nil)
	e.log.Info("session created",
		logger.String("session_id", s.ID),
		logger.String("symbol", symbol),
		logger.String("state", string(s.State)),
		logger.Float64("range_pips", rng.SizePips),
		logger.String("grade", string(rng.Grade)),
	)
	return s, nil
}

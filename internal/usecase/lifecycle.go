package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"SweepTrader/internal/domain/errs"
	"SweepTrader/internal/domain/models"
	"SweepTrader/pkg/util"
)

// Release attempts COOLDOWN -> IDLE. Terminal cooldowns have no deadline and
// hold until the next day's session.
func (e *Engine) Release(ctx context.Context, s *models.Session, now time.Time) (models.StepResult, error) {
	if s.CooldownUntil == nil {
		return waiting(s, StageRelease, "cooldown for the rest of the day: "+s.CooldownReason), nil
	}
	if !s.CooldownElapsed(now) {
		return waiting(s, StageRelease, fmt.Sprintf("cooldown until %s: %s",
			s.CooldownUntil.UTC().Format("15:04"), s.CooldownReason)), nil
	}

	next := s.Clone()
	clearCycle(next)
	_, res, err := e.commit(ctx, s, next, change{
		to:      models.StateIdle,
		stage:   StageRelease,
		reason:  "cooldown elapsed",
		context: map[string]any{"previous_reason": s.CooldownReason},
	})
	return res, err
}

// clearCycle resets the per-cycle fields. The swept sides stay so a later
// sweep of the other side is still caught.
func clearCycle(s *models.Session) {
	s.CooldownReason = ""
	s.CooldownUntil = nil
	s.SweepDirection = ""
	s.SweepTime = nil
	s.ConfirmationTime = nil
	s.DisplacementATRRatio = 0
}

// ForceReset moves today's session to IDLE or COOLDOWN on operator request.
// It takes the session lock, so it is rejected with ErrSessionBusy while a
// tick is running.
func (e *Engine) ForceReset(ctx context.Context, symbol string, target models.State, reason string) (models.StepResult, error) {
	if target != models.StateIdle && target != models.StateCooldown {
		return models.StepResult{}, errs.Validation("target", "must be IDLE or COOLDOWN, got %q", target)
	}
	now := e.now()
	day := util.TradingDay(now)

	var res models.StepResult
	err := e.withLock(ctx, symbol, day, func(ctx context.Context) error {
		s, err := e.repo.FindBySymbolDay(ctx, symbol, day)
		if err != nil {
			return fmt.Errorf("load session %s: %w", symbol, err)
		}
		next := s.Clone()
		c := change{
			to:      target,
			stage:   StageReset,
			kind:    models.AuditReset,
			reason:  "operator reset: " + reason,
			context: map[string]any{"previous_state": string(s.State)},
			force:   true,
		}
		if target == models.StateIdle {
			clearCycle(next)
			_, res, err = e.commit(ctx, s, next, c)
			return err
		}
		res, err = e.cooldownFrom(ctx, s, next, c, nil)
		return err
	})
	return res, err
}

// Recover rebuilds a session whose stored state disagrees with what a writer
// expected. The latest signal's lifecycle fields are trusted over the state
// flag for the trade states; the sweep decides for SWEPT and CONFIRMED.
func (e *Engine) Recover(ctx context.Context, s *models.Session) (models.StepResult, error) {
	target, why, err := e.recoveredState(ctx, s)
	if err != nil {
		return models.StepResult{}, err
	}
	if target == s.State {
		return waiting(s, StageRecover, "state consistent after reload: "+why), nil
	}

	next := s.Clone()
	c := change{
		to:      target,
		stage:   StageRecover,
		kind:    models.AuditRecovery,
		reason:  "recovered: " + why,
		context: map[string]any{"previous_state": string(s.State)},
		force:   true,
	}
	switch target {
	case models.StateIdle:
		clearCycle(next)
	case models.StateCooldown:
		return e.cooldownFrom(ctx, s, next, c, e.holdFor(e.now(), e.cfg.Cooldown.AfterTrade))
	}
	_, res, err := e.commit(ctx, s, next, c)
	return res, err
}

func (e *Engine) recoveredState(ctx context.Context, s *models.Session) (models.State, string, error) {
	sig, err := e.repo.LatestSignal(ctx, s.ID)
	if err != nil && !errors.Is(err, errs.ErrNotFound) {
		return "", "", errs.Dependency("session store", err)
	}
	hasSignal := err == nil

	// an open trade always wins
	if hasSignal && sig.EntryTime != nil && sig.ExitTime == nil {
		return models.StateInTrade, "signal " + sig.ID + " has an open position", nil
	}

	switch s.State {
	case models.StateArmed, models.StateInTrade:
		switch {
		case !hasSignal:
			return models.StateIdle, "no signal", nil
		case sig.ExitTime != nil:
			return models.StateCooldown, "signal " + sig.ID + " already exited", nil
		default:
			return models.StateArmed, "signal " + sig.ID + " not filled", nil
		}
	case models.StateSwept, models.StateConfirmed:
		sweep, err := e.repo.LatestSweep(ctx, s.ID)
		if errors.Is(err, errs.ErrNotFound) {
			return models.StateIdle, "no sweep", nil
		}
		if err != nil {
			return "", "", errs.Dependency("session store", err)
		}
		if s.State == models.StateConfirmed && !sweep.Confirmed() {
			return models.StateSwept, "sweep " + sweep.ID + " not confirmed", nil
		}
	}
	return s.State, "state matches stored records", nil
}

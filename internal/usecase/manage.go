package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"SweepTrader/internal/domain/errs"
	"SweepTrader/internal/domain/models"
	drepo "SweepTrader/internal/domain/repository"
	"SweepTrader/internal/services/indicators"
	"SweepTrader/internal/services/risk"
)

// ManageTrade polls the open position. A closed position is folded in through
// CloseTrade; an open one may get its stop moved to breakeven or trailed.
// Stop moves are audited without a state change.
func (e *Engine) ManageTrade(ctx context.Context, s *models.Session, now time.Time) (models.StepResult, error) {
	sig, err := e.liveSignal(ctx, s)
	if err != nil {
		return models.StepResult{}, err
	}

	pos, err := e.gateway.Position(ctx, sig.BrokerOrderID)
	if err != nil {
		return models.StepResult{}, fmt.Errorf("position %s: %w", sig.BrokerOrderID, err)
	}
	if !pos.Open {
		exit := pos.ExitPrice
		if exit <= 0 {
			exit = pos.CurrentPrice
		}
		exitTime := now
		if pos.ExitTime != nil {
			exitTime = *pos.ExitTime
		}
		return e.closeTrade(ctx, s, sig, models.TradeClose{
			SessionID:     s.ID,
			Symbol:        s.Symbol,
			BrokerOrderID: sig.BrokerOrderID,
			ExitPrice:     exit,
			ExitTime:      exitTime,
			Reason:        "position closed",
			Profit:        pos.Profit,
		})
	}
	if !e.cfg.Management.Enabled {
		return waiting(s, StageManage, fmt.Sprintf("position %s open", sig.BrokerOrderID)), nil
	}

	stop, note, err := e.nextStop(ctx, s, sig, pos.CurrentPrice, now)
	if err != nil {
		return models.StepResult{}, err
	}
	if note == "" {
		return waiting(s, StageManage, fmt.Sprintf("position %s open, stop %.5f unchanged", sig.BrokerOrderID, sig.ActiveStop())), nil
	}

	if err := e.gateway.ModifyStop(ctx, sig.BrokerOrderID, stop); err != nil {
		return models.StepResult{}, fmt.Errorf("modify stop: %w", err)
	}

	updated := sig.Clone()
	updated.CurrentStop = stop
	switch note {
	case "breakeven":
		updated.BreakevenMoved = true
	case "trailing":
		updated.TrailingActive = true
	}
	_, res, err := e.commit(ctx, s, s.Clone(), change{
		to:     models.StateInTrade,
		stage:  StageManage,
		kind:   models.AuditManagement,
		reason: fmt.Sprintf("stop moved %.5f -> %.5f (%s)", sig.ActiveStop(), stop, note),
		context: map[string]any{
			"order_id":      sig.BrokerOrderID,
			"price":         pos.CurrentPrice,
			"previous_stop": sig.ActiveStop(),
			"stop":          stop,
		},
		signal: updated,
	})
	return res, err
}

// nextStop returns the tighter stop and why, or an empty note when the stop stays.
func (e *Engine) nextStop(ctx context.Context, s *models.Session, sig *models.Signal, price float64, now time.Time) (float64, string, error) {
	mc := e.cfg.Management
	entry := sig.EffectiveEntry()
	riskDist := math.Abs(entry - sig.StopLoss)
	current := sig.ActiveStop()

	tighter := func(candidate float64) bool {
		if sig.Side == models.SideBuy {
			return candidate > current
		}
		return candidate < current
	}

	unrealized := price - entry
	tp1Hit := price >= sig.TP1
	if sig.Side == models.SideSell {
		unrealized = entry - price
		tp1Hit = price <= sig.TP1
	}

	if tp1Hit && mc.TrailATRMultiplier > 0 {
		m5, err := e.gateway.Bars(ctx, s.Symbol, drepo.TFM5, drepo.TFM5.Lookback(now, mc.TrailATRPeriod+2), now)
		if err != nil {
			return 0, "", fmt.Errorf("trail bars: %w", err)
		}
		offset := mc.TrailATRMultiplier * indicators.ATR(m5, mc.TrailATRPeriod)
		trail := price - offset
		if sig.Side == models.SideSell {
			trail = price + offset
		}
		if tighter(trail) {
			return trail, "trailing", nil
		}
	}

	if !sig.BreakevenMoved && riskDist > 0 && unrealized >= mc.BreakevenAtR*riskDist && tighter(entry) {
		return entry, "breakeven", nil
	}
	return current, "", nil
}

// CloseTrade applies a broker-reported close. It is idempotent: a session that
// is no longer IN_TRADE, or a signal that already has an exit, is left alone.
func (e *Engine) CloseTrade(ctx context.Context, tc models.TradeClose) (models.StepResult, error) {
	s, _, err := e.repo.FindByOrderID(ctx, tc.BrokerOrderID)
	if err != nil {
		return models.StepResult{}, fmt.Errorf("find order %s: %w", tc.BrokerOrderID, err)
	}

	var res models.StepResult
	err = e.withLock(ctx, s.Symbol, s.Day, func(ctx context.Context) error {
		// reload under the lock
		s, sig, err := e.repo.FindByOrderID(ctx, tc.BrokerOrderID)
		if err != nil {
			return fmt.Errorf("find order %s: %w", tc.BrokerOrderID, err)
		}
		res, err = e.closeTrade(ctx, s, sig, tc)
		return err
	})
	return res, err
}

func (e *Engine) closeTrade(ctx context.Context, s *models.Session, sig *models.Signal, tc models.TradeClose) (models.StepResult, error) {
	if s.State != models.StateInTrade || sig.ExitTime != nil {
		return waiting(s, StageClose, fmt.Sprintf("trade %s already closed", tc.BrokerOrderID)), nil
	}
	if tc.ExitPrice <= 0 {
		return models.StepResult{}, errs.Validation("exit_price", "must be positive, got %v", tc.ExitPrice)
	}

	r := risk.RealizedR(sig.Side, sig.EffectiveEntry(), sig.StopLoss, tc.ExitPrice)
	pnl := r * sig.RiskAmount
	if tc.Profit != nil {
		pnl = *tc.Profit
	}
	pnl = math.Round(pnl*100) / 100

	closed := sig.Clone()
	closed.ExitPrice = tc.ExitPrice
	closed.ExitTime = models.TimePtr(tc.ExitTime)
	closed.ExitReason = tc.Reason
	closed.RealizedR = &r
	closed.RealizedPnL = &pnl

	next := s.Clone()
	risk.ApplyClose(next, r, pnl)

	reason := fmt.Sprintf("trade closed %+.2fR", r)
	if tc.Reason != "" {
		reason = fmt.Sprintf("trade closed (%s) %+.2fR", tc.Reason, r)
	}
	c := change{
		stage:  StageClose,
		reason: reason,
		context: map[string]any{
			"order_id":     tc.BrokerOrderID,
			"exit_price":   tc.ExitPrice,
			"realized_r":   r,
			"realized_pnl": pnl,
			"daily_r":      next.DailyRealizedR,
			"weekly_r":     next.WeeklyRealizedR,
		},
		signal: closed,
	}
	return e.cooldownFrom(ctx, s, next, c, e.holdFor(tc.ExitTime, e.cfg.Cooldown.AfterTrade))
}

// liveSignal loads the filled signal of an IN_TRADE session.
func (e *Engine) liveSignal(ctx context.Context, s *models.Session) (*models.Signal, error) {
	sig, err := e.repo.LatestSignal(ctx, s.ID)
	if errors.Is(err, errs.ErrNotFound) {
		return nil, &errs.StateConsistencyError{SessionID: s.ID, Expected: "filled signal", Actual: "none"}
	}
	if err != nil {
		return nil, errs.Dependency("session store", err)
	}
	if sig.BrokerOrderID == "" || sig.EntryTime == nil || sig.ExitTime != nil {
		return nil, &errs.StateConsistencyError{SessionID: s.ID, Expected: "open trade", Actual: "signal " + sig.ID + " not open"}
	}
	return sig, nil
}

package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"SweepTrader/internal/domain/errs"
	"SweepTrader/internal/domain/models"
	"SweepTrader/pkg/logger"
)

// Execute attempts ARMED -> IN_TRADE. Every blocked path cools the session
// down with its own reason; nothing is retried at this stage.
func (e *Engine) Execute(ctx context.Context, s *models.Session, now time.Time) (models.StepResult, error) {
	return e.execute(ctx, s, now)
}

func (e *Engine) execute(ctx context.Context, s *models.Session, now time.Time) (models.StepResult, error) {
	sig, err := e.pendingSignal(ctx, s)
	if err != nil {
		return models.StepResult{}, err
	}
	// the broker already holds this order; only the session write is missing
	if fill, ok := e.pendingFill(sig.ID); ok {
		e.log.Warn("recording accepted order",
			logger.String("session_id", s.ID),
			logger.String("order_id", fill.order.BrokerOrderID),
		)
		return e.enterTrade(ctx, s, sig, fill, now)
	}

	if d := e.breaker.Check(s); !d.Allowed {
		e.metrics.RecordRiskBreach(d.Check)
		return e.cooldown(ctx, s, change{
			stage:   StageExecute,
			kind:    models.AuditRisk,
			reason:  d.Reason,
			context: map[string]any{"check": d.Check, "signal_id": sig.ID},
		}, nil)
	}

	sweep, err := e.openSweep(ctx, s)
	if err != nil {
		return models.StepResult{}, err
	}
	conf, m, err := e.evaluateConfluence(ctx, s, sweep, models.StageArming, now)
	if err != nil {
		return models.StepResult{}, err
	}
	if !conf.Passed {
		return e.cooldown(ctx, s, change{
			stage:      StageExecute,
			kind:       models.AuditGate,
			reason:     "confluence failed at arming: " + conf.Reasons(),
			context:    map[string]any{"confluence_id": conf.ID, "signal_id": sig.ID},
			confluence: &conf,
		}, e.holdFor(now, e.cfg.Cooldown.AfterGateFailure))
	}

	advice, err := e.decide(ctx, models.TradeSnapshot{
		Symbol:     s.Symbol,
		Time:       now,
		Session:    s,
		Sweep:      sweep,
		Signal:     sig,
		Confluence: conf,
		Quote:      m.quote,
	})
	if err != nil {
		// the advisor is asked once per signal, so a cancelled call ends the setup
		return e.cooldown(context.WithoutCancel(ctx), s, change{
			stage:      StageExecute,
			kind:       models.AuditAdvisor,
			reason:     fmt.Sprintf("advisor call cancelled: %v", err),
			context:    map[string]any{"signal_id": sig.ID},
			confluence: &conf,
		}, e.holdFor(now, e.cfg.Cooldown.AfterGateFailure))
	}
	if !advice.Proceed {
		return e.cooldown(ctx, s, change{
			stage:      StageExecute,
			kind:       models.AuditAdvisor,
			reason:     "advisor declined: " + advice.Rationale,
			context:    map[string]any{"source": string(advice.Source), "signal_id": sig.ID},
			confluence: &conf,
		}, e.holdFor(now, e.cfg.Cooldown.AfterAdvisorDecline))
	}

	start := time.Now()
	order, err := e.gateway.PlaceOrder(ctx, models.OrderRequest{
		Symbol:     s.Symbol,
		Side:       sig.Side,
		Volume:     sig.Volume,
		StopLoss:   sig.StopLoss,
		TakeProfit: sig.TP2,
		Comment:    "sweeptrader:" + s.ID,
	})
	e.metrics.RecordLatency("place_order", time.Since(start).Seconds())
	// from here on the outcome is recorded even if the caller gave up
	wctx := context.WithoutCancel(ctx)

	if err == nil && order.Success {
		fill := acceptedOrder{order: order, advice: advice, confluence: conf}
		e.holdFill(sig.ID, fill)
		return e.enterTrade(wctx, s, sig, fill, now)
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		e.log.Error("order call cancelled before the broker answered",
			logger.String("session_id", s.ID),
			logger.String("symbol", s.Symbol),
			logger.Error(ctxErr),
		)
		return e.cooldown(wctx, s, change{
			stage:      StageExecute,
			kind:       models.AuditTransition,
			reason:     fmt.Sprintf("order cancelled: %v", ctxErr),
			context:    map[string]any{"signal_id": sig.ID, "volume": sig.Volume},
			confluence: &conf,
		}, e.holdFor(now, e.cfg.Cooldown.AfterGateFailure))
	}

	if err == nil {
		err = errors.New(order.Error)
	}
	e.log.Warn("order rejected",
		logger.String("session_id", s.ID),
		logger.String("symbol", s.Symbol),
		logger.Error(err),
	)
	return e.cooldown(wctx, s, change{
		stage:      StageExecute,
		kind:       models.AuditTransition,
		reason:     fmt.Sprintf("order rejected: %v", err),
		context:    map[string]any{"signal_id": sig.ID, "volume": sig.Volume},
		confluence: &conf,
	}, e.holdFor(now, e.cfg.Cooldown.AfterGateFailure))
}

// acceptedOrder is a broker fill waiting for its IN_TRADE commit.
type acceptedOrder struct {
	order      models.OrderResult
	advice     models.Advice
	confluence models.ConfluenceResult
}

func (e *Engine) holdFill(signalID string, f acceptedOrder) {
	e.mu.Lock()
	e.fills[signalID] = f
	e.mu.Unlock()
}

func (e *Engine) pendingFill(signalID string) (acceptedOrder, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	f, ok := e.fills[signalID]
	return f, ok
}

// enterTrade commits ARMED -> IN_TRADE for an order the broker accepted. The
// held fill is dropped only once the commit succeeded.
func (e *Engine) enterTrade(ctx context.Context, s *models.Session, sig *models.Signal, f acceptedOrder, now time.Time) (models.StepResult, error) {
	filled := sig.Clone()
	filled.BrokerOrderID = f.order.BrokerOrderID
	filled.EntryTime = models.TimePtr(now)
	filled.FillPrice = f.order.FillPrice
	filled.CurrentStop = sig.StopLoss

	next := s.Clone()
	next.DailyTrades++

	conf := f.confluence
	_, res, err := e.commit(ctx, s, next, change{
		to:     models.StateInTrade,
		stage:  StageExecute,
		reason: fmt.Sprintf("order %s filled at %.5f", f.order.BrokerOrderID, filled.EffectiveEntry()),
		context: map[string]any{
			"signal_id":     sig.ID,
			"order_id":      f.order.BrokerOrderID,
			"fill_price":    f.order.FillPrice,
			"volume":        sig.Volume,
			"advice_source": string(f.advice.Source),
			"advice":        f.advice.Rationale,
			"daily_trades":  next.DailyTrades,
			"confluence_id": conf.ID,
		},
		signal:     filled,
		confluence: &conf,
	})
	if err != nil {
		e.log.Error("broker accepted order but the session was not updated",
			logger.String("session_id", s.ID),
			logger.String("order_id", f.order.BrokerOrderID),
			logger.Error(err),
		)
		return res, err
	}
	e.mu.Lock()
	delete(e.fills, sig.ID)
	e.mu.Unlock()
	return res, nil
}

// decide makes the single advisor call. Errors fail open here as well, so a
// bare advisor without the FailOpen wrapper still cannot block a trade. Only
// cancellation of ctx is returned.
func (e *Engine) decide(ctx context.Context, snap models.TradeSnapshot) (models.Advice, error) {
	start := time.Now()
	advice, err := e.advisor.Decide(ctx, snap)
	e.metrics.RecordLatency("advisor", time.Since(start).Seconds())
	if ctxErr := ctx.Err(); ctxErr != nil {
		return models.Advice{}, ctxErr
	}
	if err != nil {
		e.log.Warn("advisor error, proceeding", logger.String("symbol", snap.Symbol), logger.Error(err))
		advice = models.Advice{Proceed: true, Rationale: err.Error(), Source: models.AdviceFailOpen}
	}
	e.metrics.RecordAdvice(string(advice.Source), advice.Proceed)
	return advice, nil
}

// pendingSignal loads the armed signal that has not been sent yet.
func (e *Engine) pendingSignal(ctx context.Context, s *models.Session) (*models.Signal, error) {
	sig, err := e.repo.LatestSignal(ctx, s.ID)
	if errors.Is(err, errs.ErrNotFound) {
		return nil, &errs.StateConsistencyError{SessionID: s.ID, Expected: "armed signal", Actual: "none"}
	}
	if err != nil {
		return nil, errs.Dependency("session store", err)
	}
	if sig.EntryTime != nil {
		return nil, &errs.StateConsistencyError{SessionID: s.ID, Expected: "unfilled signal", Actual: "signal " + sig.ID + " already filled"}
	}
	return sig, nil
}

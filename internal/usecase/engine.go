package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"SweepTrader/internal/domain/errs"
	"SweepTrader/internal/domain/models"
	drepo "SweepTrader/internal/domain/repository"
	"SweepTrader/internal/domain/service"
	"SweepTrader/internal/services/advisor"
	"SweepTrader/internal/services/confluence"
	"SweepTrader/internal/services/risk"
	"SweepTrader/internal/services/threshold"
	"SweepTrader/pkg/cache"
	"SweepTrader/pkg/config"
	"SweepTrader/pkg/logger"
	"SweepTrader/pkg/metrics"
	"SweepTrader/pkg/util"
)

// Clock lets tests pin the engine's notion of now.
type Clock func() time.Time

// Stage names reported in StepResult.
const (
	StageSession = "session"
	StageLimits  = "limits"
	StageDetect  = "detect"
	StageConfirm = "confirm"
	StageArm     = "arm"
	StageExecute = "execute"
	StageManage  = "manage"
	StageClose   = "close"
	StageRelease = "release"
	StageReset   = "reset"
	StageRecover = "recover"
)

// Engine runs the per (symbol, day) session state machine. Every state change
// goes through commit, which persists the new snapshot and its audit record in
// one repository transaction.
type Engine struct {
	cfg      config.Strategy
	gateway  drepo.MarketDataGateway
	repo     drepo.SessionRepository
	locker   drepo.SessionLocker
	audit    drepo.AuditSink
	calendar service.EconomicCalendar
	advisor  service.TradeAdvisor
	metrics  drepo.Metrics
	log      *logger.Logger
	now      Clock

	lockTTL     time.Duration
	newsHorizon time.Duration

	threshold  threshold.Calculator
	confluence *confluence.Evaluator
	confOpts   []confluence.Option
	breaker    *risk.Breaker
	sizer      *risk.Sizer

	mu    sync.Mutex
	fills map[string]acceptedOrder // by signal id
}

type EngineOption func(*Engine)

func WithClock(c Clock) EngineOption {
	return func(e *Engine) { e.now = c }
}

func WithEngineLogger(l *logger.Logger) EngineOption {
	return func(e *Engine) { e.log = l }
}

func WithMetrics(m drepo.Metrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

func WithAuditSink(s drepo.AuditSink) EngineOption {
	return func(e *Engine) { e.audit = s }
}

func WithCalendar(c service.EconomicCalendar) EngineOption {
	return func(e *Engine) { e.calendar = c }
}

func WithAdvisor(a service.TradeAdvisor) EngineOption {
	return func(e *Engine) { e.advisor = a }
}

func WithLockTTL(d time.Duration) EngineOption {
	return func(e *Engine) { e.lockTTL = d }
}

// WithNewsHorizon sets how far around now the calendar is queried.
func WithNewsHorizon(d time.Duration) EngineOption {
	return func(e *Engine) { e.newsHorizon = d }
}

// WithConfluenceOptions forwards options to the gate evaluator.
func WithConfluenceOptions(opts ...confluence.Option) EngineOption {
	return func(e *Engine) { e.confOpts = append(e.confOpts, opts...) }
}

func NewEngine(
	cfg config.Strategy,
	gateway drepo.MarketDataGateway,
	repo drepo.SessionRepository,
	locker drepo.SessionLocker,
	opts ...EngineOption,
) (*Engine, error) {
	e := &Engine{
		cfg:         cfg,
		gateway:     gateway,
		repo:        repo,
		locker:      locker,
		advisor:     advisor.Noop{},
		metrics:     metrics.Nop{},
		log:         logger.Nop(),
		now:         time.Now,
		lockTTL:     2 * time.Minute,
		newsHorizon: 2 * time.Hour,
		threshold:   threshold.New(cfg),
		breaker:     risk.NewBreaker(cfg.Risk),
		sizer:       risk.NewSizer(cfg.Risk),
		fills:       make(map[string]acceptedOrder),
	}
	for _, opt := range opts {
		opt(e)
	}

	ev, err := confluence.NewEvaluator(cfg.Confluence, e.confOpts...)
	if err != nil {
		return nil, fmt.Errorf("confluence evaluator: %w", err)
	}
	e.confluence = ev
	return e, nil
}

// LockKey is the per-session lock shared by the driver, one-shot evaluations,
// trade-close events and operator resets.
func LockKey(symbol string, day time.Time) string {
	return cache.GenerateKeyWithParams("lock:session", symbol, day.Format(time.DateOnly))
}

func (e *Engine) withLock(ctx context.Context, symbol string, day time.Time, fn func(ctx context.Context) error) error {
	key := LockKey(symbol, day)
	ok, err := e.locker.TryLock(ctx, key, e.lockTTL)
	if err != nil {
		return errs.Dependency("session lock", err)
	}
	if !ok {
		return errs.ErrSessionBusy
	}
	defer func() {
		if err := e.locker.Unlock(context.WithoutCancel(ctx), key); err != nil {
			e.log.Warn("release session lock", logger.String("key", key), logger.Error(err))
		}
	}()
	return fn(ctx)
}

// change describes one committed write against a session.
type change struct {
	to         models.State
	stage      string
	kind       models.AuditKind
	reason     string
	context    map[string]any
	sweep      *models.Sweep
	signal     *models.Signal
	confluence *models.ConfluenceResult
	// force skips the transition graph; only operator resets and recovery use it.
	force bool
}

// commit persists next as the successor of cur. cur is never modified; the
// caller only adopts the returned snapshot after the repository accepted it.
func (e *Engine) commit(ctx context.Context, cur, next *models.Session, c change) (*models.Session, models.StepResult, error) {
	if c.kind == "" {
		c.kind = models.AuditTransition
	}
	if c.to != cur.State && !c.force && !cur.State.CanTransition(c.to) {
		return nil, models.StepResult{}, fmt.Errorf("%w: %s -> %s", errs.ErrInvalidTransition, cur.State, c.to)
	}

	now := e.now()
	next.State = c.to
	next.Version = cur.Version + 1
	next.UpdatedAt = now

	rec := models.AuditRecord{
		ID:        uuid.NewString(),
		SessionID: cur.ID,
		Symbol:    cur.Symbol,
		Kind:      c.kind,
		FromState: cur.State,
		ToState:   c.to,
		Reason:    c.reason,
		Context:   c.context,
		Timestamp: now,
	}

	err := e.repo.Commit(ctx, models.Transition{
		From:       cur.State,
		Version:    cur.Version,
		Session:    next,
		Sweep:      c.sweep,
		Signal:     c.signal,
		Confluence: c.confluence,
		Audit:      rec,
	})
	if err != nil {
		e.metrics.RecordError("commit")
		if errs.IsStateConsistency(err) {
			return nil, models.StepResult{}, err
		}
		return nil, models.StepResult{}, errs.Dependency("session store", fmt.Errorf("commit %s -> %s: %w", cur.State, c.to, err))
	}

	if c.to != cur.State {
		e.metrics.RecordTransition(cur.Symbol, string(cur.State), string(c.to))
		e.log.Info("session transition",
			logger.String("session_id", cur.ID),
			logger.String("symbol", cur.Symbol),
			logger.String("from", string(cur.State)),
			logger.String("to", string(c.to)),
			logger.String("reason", c.reason),
		)
	}
	e.metrics.RecordState(cur.Symbol, string(c.to))
	e.publish(ctx, rec, c.confluence)

	return next, models.StepResult{
		SessionID:    cur.ID,
		Symbol:       cur.Symbol,
		Stage:        c.stage,
		From:         cur.State,
		To:           c.to,
		Transitioned: c.to != cur.State,
		Reason:       c.reason,
	}, nil
}

// cooldown commits a move to COOLDOWN. A nil until makes it terminal for the day.
func (e *Engine) cooldown(ctx context.Context, cur *models.Session, c change, until *time.Time) (models.StepResult, error) {
	return e.cooldownFrom(ctx, cur, cur.Clone(), c, until)
}

// cooldownFrom is cooldown with session fields already prepared by the caller.
func (e *Engine) cooldownFrom(ctx context.Context, cur, next *models.Session, c change, until *time.Time) (models.StepResult, error) {
	next.CooldownReason = c.reason
	next.CooldownUntil = until
	c.to = models.StateCooldown
	if c.context == nil {
		c.context = map[string]any{}
	}
	if until != nil {
		c.context["cooldown_until"] = until.UTC().Format(time.RFC3339)
	} else {
		c.context["terminal"] = true
	}
	_, res, err := e.commit(ctx, cur, next, c)
	return res, err
}

func (e *Engine) holdFor(from time.Time, d time.Duration) *time.Time {
	return models.TimePtr(from.Add(d))
}

// publish is best effort: the repository already holds the record.
func (e *Engine) publish(ctx context.Context, rec models.AuditRecord, conf *models.ConfluenceResult) {
	if e.audit == nil {
		return
	}
	if err := e.audit.PublishAudit(ctx, rec); err != nil {
		e.metrics.RecordError("audit_sink")
		e.log.Warn("publish audit record", logger.String("session_id", rec.SessionID), logger.Error(err))
	}
	if conf != nil {
		if err := e.audit.PublishConfluence(ctx, *conf); err != nil {
			e.metrics.RecordError("audit_sink")
			e.log.Warn("publish confluence result", logger.String("session_id", conf.SessionID), logger.Error(err))
		}
	}
}

// saveConfluence persists a result that did not change state.
func (e *Engine) saveConfluence(ctx context.Context, res models.ConfluenceResult) error {
	if err := e.repo.SaveConfluence(ctx, res); err != nil {
		return errs.Dependency("session store", fmt.Errorf("save confluence: %w", err))
	}
	if e.audit != nil {
		if err := e.audit.PublishConfluence(ctx, res); err != nil {
			e.metrics.RecordError("audit_sink")
			e.log.Warn("publish confluence result", logger.String("session_id", res.SessionID), logger.Error(err))
		}
	}
	return nil
}

func waiting(s *models.Session, stage, reason string) models.StepResult {
	return models.StepResult{
		SessionID: s.ID,
		Symbol:    s.Symbol,
		Stage:     stage,
		From:      s.State,
		To:        s.State,
		Reason:    reason,
	}
}

func (e *Engine) rangeEnd(day time.Time) time.Time {
	return util.MustClockOn(day, e.cfg.AsianSession.End, time.UTC)
}

// Tick is one driver iteration: manage a trade carried over from an earlier
// day, or else ensure today's session, enforce the limits and make exactly one
// stage attempt.
func (e *Engine) Tick(ctx context.Context, symbol string) (models.StepResult, error) {
	now := e.now()
	start := time.Now()
	var res models.StepResult
	err := e.withLock(ctx, symbol, util.TradingDay(now), func(ctx context.Context) error {
		var err error
		res, err = e.tick(ctx, symbol, now)
		return err
	})
	e.metrics.RecordLatency("tick", time.Since(start).Seconds())
	e.metrics.RecordTick(symbol, tickOutcome(res, err))
	return res, err
}

// Evaluate is a one-shot tick requested from outside the driver. It shares
// the driver's lock, so it fails with ErrSessionBusy while a tick runs.
func (e *Engine) Evaluate(ctx context.Context, symbol string) (models.StepResult, error) {
	return e.Tick(ctx, symbol)
}

// Step attempts the next stage of an existing session without creating one
// or running the limits pre-check.
func (e *Engine) Step(ctx context.Context, symbol string) (models.StepResult, error) {
	now := e.now()
	var res models.StepResult
	err := e.withLock(ctx, symbol, util.TradingDay(now), func(ctx context.Context) error {
		s, err := e.repo.FindBySymbolDay(ctx, symbol, util.TradingDay(now))
		if err != nil {
			return fmt.Errorf("load session %s: %w", symbol, err)
		}
		if s, err = e.withCurrentWeek(ctx, s); err != nil {
			return err
		}
		res, err = e.stepOrRecover(ctx, s, now)
		return err
	})
	return res, err
}

func (e *Engine) tick(ctx context.Context, symbol string, now time.Time) (models.StepResult, error) {
	day := util.TradingDay(now)
	if res, blocked, err := e.manageCarried(ctx, symbol, day, now); blocked || err != nil {
		return res, err
	}
	if end := e.rangeEnd(day); now.Before(end) {
		return models.StepResult{
			Symbol: symbol,
			Stage:  StageSession,
			Reason: "asian range forming until " + end.Format("15:04"),
		}, nil
	}

	s, err := e.EnsureSession(ctx, symbol, now)
	if err != nil {
		return models.StepResult{Symbol: symbol, Stage: StageSession}, err
	}
	if s, err = e.withCurrentWeek(ctx, s); err != nil {
		return models.StepResult{Symbol: symbol, Stage: StageSession}, err
	}

	if res, blocked, err := e.checkLimits(ctx, s); blocked || err != nil {
		return res, err
	}
	return e.stepOrRecover(ctx, s, now)
}

// manageCarried polls a trade still open from an earlier day under that
// session's lock. While one exists today's session is not stepped, so a
// second position cannot be opened next to it. The tick that closes it ends
// there as well.
func (e *Engine) manageCarried(ctx context.Context, symbol string, day, now time.Time) (models.StepResult, bool, error) {
	prev, err := e.repo.FindOpenBefore(ctx, symbol, day)
	if errors.Is(err, errs.ErrNotFound) {
		return models.StepResult{}, false, nil
	}
	if err != nil {
		return models.StepResult{Symbol: symbol, Stage: StageManage}, true, errs.Dependency("session store", fmt.Errorf("open trade: %w", err))
	}

	var (
		res     models.StepResult
		managed bool
	)
	err = e.withLock(ctx, symbol, prev.Day, func(ctx context.Context) error {
		// reload under the lock; a trade-close event may have won the race
		cur, err := e.repo.FindBySymbolDay(ctx, symbol, prev.Day)
		if err != nil {
			return errs.Dependency("session store", fmt.Errorf("load session %s: %w", prev.ID, err))
		}
		if cur.State != models.StateInTrade {
			return nil
		}
		managed = true
		if cur, err = e.withCurrentWeek(ctx, cur); err != nil {
			return err
		}
		res, err = e.ManageTrade(ctx, cur, now)
		return err
	})
	if err != nil {
		return res, true, err
	}
	if !managed {
		return models.StepResult{}, false, nil
	}
	res.Reason = fmt.Sprintf("carried over from %s: %s", prev.Day.Format(time.DateOnly), res.Reason)
	return res, true, nil
}

// withCurrentWeek returns a copy of s whose weekly R is re-read from the
// store. Closes folded into earlier sessions after s was created count.
func (e *Engine) withCurrentWeek(ctx context.Context, s *models.Session) (*models.Session, error) {
	weekStart := s.WeekStart
	if weekStart.IsZero() {
		weekStart, _ = risk.WeekBounds(s.Day)
	}
	prior, err := e.repo.WeeklyRealizedR(ctx, s.Symbol, weekStart, s.Day)
	if err != nil {
		return nil, errs.Dependency("session store", fmt.Errorf("weekly R: %w", err))
	}
	next := s.Clone()
	next.WeeklyRealizedR = prior + s.DailyRealizedR
	return next, nil
}

// checkLimits short-circuits the tick when a circuit breaker is open. Only
// sessions that could still open a trade are moved to COOLDOWN.
func (e *Engine) checkLimits(ctx context.Context, s *models.Session) (models.StepResult, bool, error) {
	switch s.State {
	case models.StateIdle, models.StateSwept, models.StateConfirmed, models.StateArmed:
	default:
		return models.StepResult{}, false, nil
	}
	d := e.breaker.Check(s)
	if d.Allowed {
		return models.StepResult{}, false, nil
	}
	e.metrics.RecordRiskBreach(d.Check)
	res, err := e.cooldown(ctx, s, change{
		stage:   StageLimits,
		kind:    models.AuditRisk,
		reason:  d.Reason,
		context: map[string]any{"check": d.Check},
	}, nil)
	return res, true, err
}

func (e *Engine) stepOrRecover(ctx context.Context, s *models.Session, now time.Time) (models.StepResult, error) {
	res, err := e.step(ctx, s, now)
	if err == nil || !errs.IsStateConsistency(err) {
		return res, err
	}
	e.log.Warn("session state inconsistent, recovering",
		logger.String("session_id", s.ID),
		logger.String("symbol", s.Symbol),
		logger.Error(err),
	)
	fresh, ferr := e.repo.FindBySymbolDay(ctx, s.Symbol, s.Day)
	if ferr != nil {
		return res, errors.Join(err, ferr)
	}
	return e.Recover(ctx, fresh)
}

func (e *Engine) step(ctx context.Context, s *models.Session, now time.Time) (models.StepResult, error) {
	switch s.State {
	case models.StateIdle:
		return e.DetectSweep(ctx, s, now)
	case models.StateSwept:
		return e.ConfirmReversal(ctx, s, now)
	case models.StateConfirmed:
		res, next, err := e.arm(ctx, s, now)
		if err != nil || next == nil {
			return res, err
		}
		// execution is attempted in the same step as arming
		exec, err := e.execute(ctx, next, now)
		if err != nil {
			return res, err
		}
		exec.From = s.State
		exec.Transitioned = true
		exec.Stage = StageArm + "+" + StageExecute
		return exec, nil
	case models.StateArmed:
		return e.execute(ctx, s, now)
	case models.StateInTrade:
		return e.ManageTrade(ctx, s, now)
	case models.StateCooldown:
		return e.Release(ctx, s, now)
	}
	return models.StepResult{}, &errs.StateConsistencyError{SessionID: s.ID, Expected: "known state", Actual: string(s.State)}
}

func tickOutcome(res models.StepResult, err error) string {
	switch {
	case errors.Is(err, errs.ErrSessionBusy):
		return "busy"
	case err != nil:
		return "error"
	case res.Transitioned:
		return "transition"
	default:
		return "hold"
	}
}

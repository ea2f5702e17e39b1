package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SweepTrader/internal/domain/errs"
	"SweepTrader/internal/domain/models"
	drepo "SweepTrader/internal/domain/repository"
	"SweepTrader/internal/repository"
	"SweepTrader/pkg/cache"
	"SweepTrader/pkg/config"
)

const symbol = "XAUUSD"

var day0 = time.Date(2025, 3, 4, 0, 0, 0, 0, time.UTC)

func at(h, m int) time.Time {
	return day0.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute)
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

type fakeGateway struct {
	mu       sync.Mutex
	bars     map[drepo.Timeframe]models.Bars
	quote    models.Quote
	account  models.Account
	order    models.OrderResult
	orderErr error
	orders   []models.OrderRequest
	position models.Position
	stops    []float64
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		bars: map[drepo.Timeframe]models.Bars{
			drepo.TFM5: m5Series(),
			drepo.TFM1: m1Series(),
			drepo.TFH1: h1Series(),
		},
		quote:   models.Quote{Symbol: symbol, Bid: 2005.0, Ask: 2005.1},
		account: models.Account{Equity: 10000, Balance: 10000},
		order:   models.OrderResult{Success: true, BrokerOrderID: "T-1", FillPrice: 2009.9},
	}
}

func (g *fakeGateway) Bars(_ context.Context, _ string, tf drepo.Timeframe, from, to time.Time) (models.Bars, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.bars[tf].Between(from, to), nil
}

func (g *fakeGateway) Quote(context.Context, string) (models.Quote, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.quote, nil
}

func (g *fakeGateway) setQuote(bid, ask float64) {
	g.mu.Lock()
	g.quote = models.Quote{Symbol: symbol, Bid: bid, Ask: ask}
	g.mu.Unlock()
}

func (g *fakeGateway) Account(context.Context) (models.Account, error) { return g.account, nil }

func (g *fakeGateway) PlaceOrder(_ context.Context, req models.OrderRequest) (models.OrderResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.orders = append(g.orders, req)
	return g.order, g.orderErr
}

func (g *fakeGateway) Position(context.Context, string) (models.Position, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.position, nil
}

func (g *fakeGateway) ModifyStop(_ context.Context, _ string, stop float64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stops = append(g.stops, stop)
	return nil
}

func (g *fakeGateway) Health(context.Context) error { return nil }

// m5Series: a 2000-2010 Asian range, quiet London, then a bearish
// displacement bar at 09:05 and two retest bars into its upper half.
func m5Series() models.Bars {
	var bars models.Bars
	for ts := day0; ts.Before(at(9, 5)); ts = ts.Add(5 * time.Minute) {
		bars = append(bars, models.Bar{Time: ts, Open: 2005, High: 2005.25, Low: 2004.75, Close: 2005})
	}
	bars[12].High = 2010
	bars[24].Low = 2000
	return append(bars,
		models.Bar{Time: at(9, 5), Open: 2011.5, High: 2011.8, Low: 2007.9, Close: 2008},
		models.Bar{Time: at(9, 10), Open: 2008.1, High: 2010.2, Low: 2008.0, Close: 2009.9},
		models.Bar{Time: at(9, 15), Open: 2009.9, High: 2010.1, Low: 2009.7, Close: 2009.8},
	)
}

// m1Series prints lower highs into 09:17, then a bearish engulfing at 09:18.
func m1Series() models.Bars {
	var bars models.Bars
	i := 0
	for ts := at(8, 30); ts.Before(at(9, 17)); ts = ts.Add(time.Minute) {
		p := 2011.0 - 0.02*float64(i)
		bars = append(bars, models.Bar{Time: ts, Open: p, High: p + 0.2, Low: p - 0.2, Close: p - 0.05})
		i++
	}
	return append(bars,
		models.Bar{Time: at(9, 17), Open: 2009.9, High: 2010.1, Low: 2009.7, Close: 2010.0},
		models.Bar{Time: at(9, 18), Open: 2010.1, High: 2010.2, Low: 2009.8, Close: 2009.85},
		models.Bar{Time: at(9, 19), Open: 2009.85, High: 2010.0, Low: 2009.6, Close: 2009.7},
	)
}

// h1Series has a flat 16 pip true range, so the sweep threshold is the floor.
func h1Series() models.Bars {
	var bars models.Bars
	for ts := day0.Add(-24 * time.Hour); ts.Before(at(9, 0)); ts = ts.Add(time.Hour) {
		bars = append(bars, models.Bar{Time: ts, Open: 2005, High: 2005.8, Low: 2004.2, Close: 2005})
	}
	return bars
}

// hookedGateway runs afterOrder once the broker has seen the order and can
// replace the broker's answer with an error.
type hookedGateway struct {
	*fakeGateway
	afterOrder func()
	failWith   error
}

func (g *hookedGateway) PlaceOrder(ctx context.Context, req models.OrderRequest) (models.OrderResult, error) {
	res, err := g.fakeGateway.PlaceOrder(ctx, req)
	if g.afterOrder != nil {
		g.afterOrder()
	}
	if g.failWith != nil {
		return models.OrderResult{}, g.failWith
	}
	return res, err
}

type cancellingAdvisor struct {
	cancel context.CancelFunc
	calls  int
}

func (a *cancellingAdvisor) Decide(ctx context.Context, _ models.TradeSnapshot) (models.Advice, error) {
	a.calls++
	a.cancel()
	return models.Advice{}, ctx.Err()
}

type stubAdvisor struct {
	advice models.Advice
	err    error
	calls  int
}

func (a *stubAdvisor) Decide(context.Context, models.TradeSnapshot) (models.Advice, error) {
	a.calls++
	return a.advice, a.err
}

type harness struct {
	engine *Engine
	gw     *fakeGateway
	repo   *repository.MemorySessionRepository
	locker drepo.SessionLocker
	clock  *testClock
}

func newHarness(t *testing.T, opts ...EngineOption) *harness {
	t.Helper()
	mc := cache.NewMemoryCache()
	t.Cleanup(func() { _ = mc.Close() })

	h := &harness{
		gw:     newFakeGateway(),
		repo:   repository.NewMemorySessionRepository(),
		locker: repository.NewCacheSessionLocker(mc),
		clock:  &testClock{t: at(9, 0)},
	}
	h.engine = h.build(t, opts...)
	return h
}

func (h *harness) build(t *testing.T, opts ...EngineOption) *Engine {
	t.Helper()
	e, err := NewEngine(config.DefaultStrategy(), h.gw, h.repo, h.locker,
		append([]EngineOption{WithClock(h.clock.Now)}, opts...)...)
	require.NoError(t, err)
	return e
}

// withGateway rebuilds the engine on a wrapped gateway.
func (h *harness) withGateway(t *testing.T, gw drepo.MarketDataGateway, opts ...EngineOption) {
	t.Helper()
	e, err := NewEngine(config.DefaultStrategy(), gw, h.repo, h.locker,
		append([]EngineOption{WithClock(h.clock.Now)}, opts...)...)
	require.NoError(t, err)
	h.engine = e
}

func (h *harness) tickAt(t *testing.T, ts time.Time) models.StepResult {
	t.Helper()
	h.clock.Set(ts)
	res, err := h.engine.Tick(context.Background(), symbol)
	require.NoError(t, err)
	return res
}

func (h *harness) session(t *testing.T) *models.Session {
	t.Helper()
	s, err := h.repo.FindBySymbolDay(context.Background(), symbol, day0)
	require.NoError(t, err)
	return s
}

// toConfirmed drives a fresh session through the UP sweep at 09:00 and the
// confirmation at 09:10.
func (h *harness) toConfirmed(t *testing.T) {
	t.Helper()
	h.gw.setQuote(2011.5, 2011.6)
	res := h.tickAt(t, at(9, 0))
	require.Equal(t, models.StateSwept, res.To, res.Reason)
	res = h.tickAt(t, at(9, 10))
	require.Equal(t, models.StateConfirmed, res.To, res.Reason)
	h.gw.setQuote(2009.9, 2010.0)
}

func TestTick_AsianRangeForming(t *testing.T) {
	h := newHarness(t)

	res := h.tickAt(t, at(5, 30))

	assert.False(t, res.Transitioned)
	assert.Equal(t, "asian range forming until 06:00", res.Reason)
	_, err := h.repo.FindBySymbolDay(context.Background(), symbol, day0)
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestTick_CreatesSessionWithFrozenRange(t *testing.T) {
	h := newHarness(t)

	res := h.tickAt(t, at(8, 0))

	assert.False(t, res.Transitioned)
	assert.Equal(t, StageDetect, res.Stage)
	s := h.session(t)
	assert.Equal(t, models.StateIdle, s.State)
	assert.Equal(t, 2010.0, s.Range.High)
	assert.Equal(t, 2000.0, s.Range.Low)
	assert.Equal(t, 100.0, s.Range.SizePips)
	assert.Equal(t, models.GradeNormal, s.Range.Grade)

	trail, err := h.repo.AuditTrail(context.Background(), s.ID, 10)
	require.NoError(t, err)
	require.Len(t, trail, 1)
	assert.Equal(t, models.AuditCreated, trail[0].Kind)
}

func TestTick_WeeklyBreakerCreatesInCooldown(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	monday := day0.Add(-24 * time.Hour)
	loser := &models.Session{ID: "mon", Symbol: symbol, Day: monday, State: models.StateCooldown, Version: 3, DailyRealizedR: -6.5}
	require.NoError(t, h.repo.Create(ctx, loser, models.AuditRecord{SessionID: "mon"}))

	h.tickAt(t, at(8, 0))

	s := h.session(t)
	assert.Equal(t, models.StateCooldown, s.State)
	assert.Nil(t, s.CooldownUntil)
	assert.InDelta(t, -6.5, s.WeeklyRealizedR, 1e-9)
	assert.Contains(t, s.CooldownReason, "weekly")
}

func TestTick_DetectsSweepUp(t *testing.T) {
	h := newHarness(t)
	h.gw.setQuote(2011.5, 2011.6)

	res := h.tickAt(t, at(9, 0))

	assert.True(t, res.Transitioned)
	assert.Equal(t, models.StateIdle, res.From)
	assert.Equal(t, models.StateSwept, res.To)

	s := h.session(t)
	assert.Equal(t, models.DirectionUp, s.SweepDirection)
	assert.True(t, s.SweptUp)
	assert.False(t, s.SweptDown)

	sweep, err := h.repo.LatestSweep(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, 2011.5, sweep.Price)
	assert.Equal(t, models.ComponentFloor, sweep.Threshold.Chosen)
	assert.Equal(t, 10.0, sweep.Threshold.ThresholdPips)
	assert.Equal(t, at(9, 30), sweep.ConfirmDeadline)
}

func TestTick_NoSweepInsideThreshold(t *testing.T) {
	h := newHarness(t)
	h.gw.setQuote(2010.5, 2010.6)

	res := h.tickAt(t, at(9, 0))

	assert.False(t, res.Transitioned)
	assert.Equal(t, models.StateIdle, res.To)
	assert.True(t, strings.HasPrefix(res.Reason, "no sweep"), res.Reason)
}

func TestTick_ConfirmsButNeverSkipsToArmed(t *testing.T) {
	h := newHarness(t)
	h.gw.setQuote(2011.5, 2011.6)
	h.tickAt(t, at(9, 0))

	res := h.tickAt(t, at(9, 10))

	// the retest and trigger conditions already hold at 09:10, yet one tick
	// only moves one stage
	assert.Equal(t, models.StateConfirmed, res.To)
	sweep, err := h.repo.LatestSweep(context.Background(), res.SessionID)
	require.NoError(t, err)
	require.NotNil(t, sweep.ConfirmationTime)
	assert.Equal(t, 2011.5, sweep.ConfirmBodyOpen)
	assert.Equal(t, 2008.0, sweep.ConfirmBodyClose)
	assert.Equal(t, 1.3, sweep.DisplacementK)
	assert.Greater(t, sweep.DisplacementATR, 1.3)
}

func TestTick_ConfirmationTimeout(t *testing.T) {
	h := newHarness(t)
	h.gw.setQuote(2011.5, 2011.6)
	h.tickAt(t, at(9, 0))

	res := h.tickAt(t, at(9, 31))

	assert.Equal(t, models.StateCooldown, res.To)
	assert.Contains(t, res.Reason, "timeout")
	s := h.session(t)
	require.NotNil(t, s.CooldownUntil)
	assert.Equal(t, at(9, 46), *s.CooldownUntil)

	trail, err := h.repo.AuditTrail(context.Background(), s.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, false, trail[0].Context["confirmed"])

	res = h.tickAt(t, at(9, 40))
	assert.False(t, res.Transitioned)
	assert.Contains(t, res.Reason, "cooldown until 09:46")

	res = h.tickAt(t, at(9, 47))
	assert.Equal(t, models.StateIdle, res.To)
	assert.Equal(t, "cooldown elapsed", res.Reason)
}

func TestTick_BothSidesSweptIsTerminal(t *testing.T) {
	h := newHarness(t)
	h.gw.setQuote(2011.5, 2011.6)
	h.tickAt(t, at(9, 0))
	h.tickAt(t, at(9, 31))
	h.tickAt(t, at(9, 47))

	h.gw.setQuote(1998.9, 1999.0)
	res := h.tickAt(t, at(9, 48))

	assert.Equal(t, models.StateCooldown, res.To)
	assert.Equal(t, "both sides swept", res.Reason)
	s := h.session(t)
	assert.True(t, s.BothSidesSwept)
	assert.Nil(t, s.CooldownUntil)

	res = h.tickAt(t, at(15, 0))
	assert.False(t, res.Transitioned)
	assert.Equal(t, "cooldown for the rest of the day: both sides swept", res.Reason)
}

func TestTick_ArmsAndExecutesInOneStep(t *testing.T) {
	h := newHarness(t)
	h.toConfirmed(t)

	res := h.tickAt(t, at(9, 20))

	require.Equal(t, models.StateInTrade, res.To, res.Reason)
	assert.Equal(t, models.StateConfirmed, res.From)
	assert.Equal(t, StageArm+"+"+StageExecute, res.Stage)
	assert.Equal(t, "order T-1 filled at 2009.90000", res.Reason)

	require.Len(t, h.gw.orders, 1)
	order := h.gw.orders[0]
	assert.Equal(t, models.SideSell, order.Side)
	assert.InDelta(t, 0.27, order.Volume, 1e-9)
	assert.InDelta(t, 2011.7, order.StopLoss, 1e-9)
	assert.InDelta(t, 2000.2, order.TakeProfit, 1e-9)

	s := h.session(t)
	assert.Equal(t, 1, s.DailyTrades)
	sig, err := h.repo.LatestSignal(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, "T-1", sig.BrokerOrderID)
	assert.Equal(t, models.TriggerEngulfing, sig.MicroTrigger)
	assert.Equal(t, zoneReference, sig.EntryZoneReference)
	assert.InDelta(t, 2009.75, sig.EntryZoneBottom, 1e-9)
	assert.InDelta(t, 2011.5, sig.EntryZoneTop, 1e-9)
	assert.InDelta(t, 2005.0, sig.TP1, 1e-9)
	assert.Equal(t, 18.0, sig.SLPips)
	assert.Equal(t, 2.72, sig.RiskReward)
	assert.Equal(t, at(9, 25), sig.RetestDeadline)
}

func TestTick_SpreadFailsAtArm(t *testing.T) {
	h := newHarness(t)
	h.toConfirmed(t)
	h.gw.setQuote(2009.9, 2010.15)

	res := h.tickAt(t, at(9, 20))

	assert.Equal(t, models.StateCooldown, res.To)
	assert.Contains(t, res.Reason, "confluence failed: spread 2.5 pips exceeds max 2.0")
	assert.Empty(t, h.gw.orders)

	conf, err := h.repo.LatestConfluence(context.Background(), res.SessionID)
	require.NoError(t, err)
	assert.False(t, conf.Passed)
	assert.Equal(t, models.StageConfirm, conf.Stage)
}

func TestTick_RetestExpired(t *testing.T) {
	h := newHarness(t)
	h.toConfirmed(t)

	res := h.tickAt(t, at(9, 26))

	assert.Equal(t, models.StateCooldown, res.To)
	assert.Equal(t, "retest expired (3 x 5m bars)", res.Reason)
}

func TestTick_AdvisorDeclineDoesNotCountTrade(t *testing.T) {
	adv := &stubAdvisor{advice: models.Advice{Proceed: false, Rationale: "late in the move", Source: models.AdviceModel}}
	h := newHarness(t, WithAdvisor(adv))
	h.toConfirmed(t)

	res := h.tickAt(t, at(9, 20))

	assert.Equal(t, models.StateCooldown, res.To)
	assert.Equal(t, "advisor declined: late in the move", res.Reason)
	assert.Equal(t, 1, adv.calls)
	assert.Empty(t, h.gw.orders)
	s := h.session(t)
	assert.Equal(t, 0, s.DailyTrades)
	require.NotNil(t, s.CooldownUntil)
	assert.Equal(t, at(9, 35), *s.CooldownUntil)
}

func TestTick_AdvisorErrorFailsOpen(t *testing.T) {
	adv := &stubAdvisor{err: errors.New("model timeout")}
	h := newHarness(t, WithAdvisor(adv))
	h.toConfirmed(t)

	res := h.tickAt(t, at(9, 20))

	assert.Equal(t, models.StateInTrade, res.To)
	trail, err := h.repo.AuditTrail(context.Background(), res.SessionID, 10)
	require.NoError(t, err)
	var found bool
	for _, rec := range trail {
		if rec.ToState == models.StateInTrade {
			found = true
			assert.Equal(t, string(models.AdviceFailOpen), rec.Context["advice_source"])
		}
	}
	assert.True(t, found)
}

func TestTick_OrderRejected(t *testing.T) {
	h := newHarness(t)
	h.gw.order = models.OrderResult{Success: false, Error: "market closed"}
	h.toConfirmed(t)

	res := h.tickAt(t, at(9, 20))

	assert.Equal(t, models.StateCooldown, res.To)
	assert.Equal(t, "order rejected: market closed", res.Reason)
	assert.Equal(t, 0, h.session(t).DailyTrades)
}

func TestTick_DailyTradeLimit(t *testing.T) {
	h := newHarness(t)
	h.tickAt(t, at(8, 0))
	s := h.session(t)
	next := s.Clone()
	next.DailyTrades = 2
	next.WeeklyRealizedR = -7
	next.Version++
	require.NoError(t, h.repo.Commit(context.Background(), models.Transition{From: s.State, Version: s.Version, Session: next}))

	res := h.tickAt(t, at(8, 5))

	assert.Equal(t, models.StateCooldown, res.To)
	assert.Equal(t, StageLimits, res.Stage)
	assert.Contains(t, res.Reason, "daily trade limit")
	assert.Nil(t, h.session(t).CooldownUntil)
}

func TestCloseTrade(t *testing.T) {
	h := newHarness(t)
	h.toConfirmed(t)
	h.tickAt(t, at(9, 20))

	tc := models.TradeClose{BrokerOrderID: "T-1", ExitPrice: 2005.0, ExitTime: at(9, 40), Reason: "tp"}
	res, err := h.engine.CloseTrade(context.Background(), tc)
	require.NoError(t, err)

	assert.Equal(t, models.StateCooldown, res.To)
	assert.Equal(t, "trade closed (tp) +2.72R", res.Reason)
	s := h.session(t)
	assert.InDelta(t, 2.72, s.DailyRealizedR, 0.01)
	assert.InDelta(t, 136.0, s.DailyRealizedPnL, 1e-9)
	require.NotNil(t, s.CooldownUntil)
	assert.Equal(t, at(10, 10), *s.CooldownUntil)

	again, err := h.engine.CloseTrade(context.Background(), tc)
	require.NoError(t, err)
	assert.False(t, again.Transitioned)
	assert.Contains(t, again.Reason, "already closed")
	assert.InDelta(t, 2.72, h.session(t).DailyRealizedR, 0.01)
}

func TestManageTrade_Breakeven(t *testing.T) {
	h := newHarness(t)
	h.toConfirmed(t)
	h.tickAt(t, at(9, 20))

	// 1.0 in favour against 1.8 of risk clears the 0.5R breakeven mark
	h.gw.position = models.Position{BrokerOrderID: "T-1", Open: true, CurrentPrice: 2008.9}
	res := h.tickAt(t, at(9, 25))

	assert.False(t, res.Transitioned)
	assert.Equal(t, StageManage, res.Stage)
	assert.Contains(t, res.Reason, "breakeven")
	require.Len(t, h.gw.stops, 1)
	assert.InDelta(t, 2009.9, h.gw.stops[0], 1e-9)

	sig, err := h.repo.LatestSignal(context.Background(), res.SessionID)
	require.NoError(t, err)
	assert.True(t, sig.BreakevenMoved)
	assert.InDelta(t, 2009.9, sig.CurrentStop, 1e-9)
	assert.Equal(t, models.StateInTrade, h.session(t).State)
}

func TestManageTrade_ClosedPosition(t *testing.T) {
	h := newHarness(t)
	h.toConfirmed(t)
	h.tickAt(t, at(9, 20))

	profit := -50.0
	h.gw.position = models.Position{BrokerOrderID: "T-1", Open: false, ExitPrice: 2011.7, Profit: &profit}
	res := h.tickAt(t, at(9, 30))

	assert.Equal(t, models.StateCooldown, res.To)
	s := h.session(t)
	assert.InDelta(t, -1.0, s.DailyRealizedR, 1e-9)
	assert.InDelta(t, -50.0, s.DailyRealizedPnL, 1e-9)
}

func TestCommit_RejectsSkippedStage(t *testing.T) {
	h := newHarness(t)
	h.tickAt(t, at(8, 0))
	s := h.session(t)

	_, _, err := h.engine.commit(context.Background(), s, s.Clone(), change{to: models.StateArmed, stage: StageArm})

	assert.ErrorIs(t, err, errs.ErrInvalidTransition)
	assert.Equal(t, models.StateIdle, h.session(t).State)
}

func TestCommit_FailureLeavesStateUntouched(t *testing.T) {
	h := newHarness(t)
	h.tickAt(t, at(8, 0))
	h.repo.FailCommit = errors.New("disk full")
	h.gw.setQuote(2011.5, 2011.6)

	h.clock.Set(at(9, 0))
	_, err := h.engine.Tick(context.Background(), symbol)

	assert.True(t, errs.IsDependency(err))
	s := h.session(t)
	assert.Equal(t, models.StateIdle, s.State)
	_, err = h.repo.LatestSweep(context.Background(), s.ID)
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestTick_BusyWhenLocked(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ok, err := h.locker.TryLock(ctx, LockKey(symbol, day0), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	h.clock.Set(at(9, 0))
	_, err = h.engine.Tick(ctx, symbol)
	assert.ErrorIs(t, err, errs.ErrSessionBusy)

	_, err = h.engine.ForceReset(ctx, symbol, models.StateIdle, "manual")
	assert.ErrorIs(t, err, errs.ErrSessionBusy)
}

func TestForceReset(t *testing.T) {
	h := newHarness(t)
	h.gw.setQuote(2011.5, 2011.6)
	h.tickAt(t, at(9, 0))

	res, err := h.engine.ForceReset(context.Background(), symbol, models.StateIdle, "bad feed")
	require.NoError(t, err)

	assert.Equal(t, models.StateSwept, res.From)
	assert.Equal(t, models.StateIdle, res.To)
	assert.Equal(t, "operator reset: bad feed", res.Reason)

	trail, err := h.repo.AuditTrail(context.Background(), res.SessionID, 1)
	require.NoError(t, err)
	assert.Equal(t, models.AuditReset, trail[0].Kind)

	_, err = h.engine.ForceReset(context.Background(), symbol, models.StateArmed, "nope")
	assert.True(t, errs.IsValidation(err))
}

func TestRecover_FilledSignalWins(t *testing.T) {
	h := newHarness(t)
	h.toConfirmed(t)
	h.tickAt(t, at(9, 20))
	ctx := context.Background()

	// simulate a crash that left the flag behind the signal
	s := h.session(t)
	stale := s.Clone()
	stale.State = models.StateArmed
	stale.Version++
	require.NoError(t, h.repo.Commit(ctx, models.Transition{From: s.State, Version: s.Version, Session: stale}))

	res, err := h.engine.Recover(ctx, h.session(t))
	require.NoError(t, err)

	assert.Equal(t, models.StateArmed, res.From)
	assert.Equal(t, models.StateInTrade, res.To)
	trail, err := h.repo.AuditTrail(ctx, res.SessionID, 1)
	require.NoError(t, err)
	assert.Equal(t, models.AuditRecovery, trail[0].Kind)
}

func TestRecover_ConfirmedWithoutSweep(t *testing.T) {
	h := newHarness(t)
	h.tickAt(t, at(8, 0))
	ctx := context.Background()
	s := h.session(t)
	broken := s.Clone()
	broken.State = models.StateConfirmed
	broken.Version++
	require.NoError(t, h.repo.Commit(ctx, models.Transition{From: s.State, Version: s.Version, Session: broken}))

	// the confirm stage finds no sweep and the tick recovers to IDLE
	res := h.tickAt(t, at(8, 5))

	assert.Equal(t, StageRecover, res.Stage)
	assert.Equal(t, models.StateIdle, res.To)
}

func TestEngine_FreshInstancesMatchLongLived(t *testing.T) {
	ticks := []time.Time{at(9, 0), at(9, 10), at(9, 20)}
	quotes := [][2]float64{{2011.5, 2011.6}, {2011.0, 2011.1}, {2009.9, 2010.0}}

	long := newHarness(t)
	fresh := newHarness(t)
	for i, ts := range ticks {
		long.gw.setQuote(quotes[i][0], quotes[i][1])
		fresh.gw.setQuote(quotes[i][0], quotes[i][1])

		a := long.tickAt(t, ts)
		fresh.engine = fresh.build(t)
		b := fresh.tickAt(t, ts)

		assert.Equal(t, a.Stage, b.Stage)
		assert.Equal(t, a.From, b.From)
		assert.Equal(t, a.To, b.To)
		assert.Equal(t, a.Reason, b.Reason)
	}
	assert.Equal(t, models.StateInTrade, long.session(t).State)
}

func TestExecute_CancelAfterAcceptedOrderEntersTrade(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.withGateway(t, &hookedGateway{fakeGateway: h.gw, afterOrder: cancel})
	h.toConfirmed(t)

	h.clock.Set(at(9, 20))
	res, err := h.engine.Tick(ctx, symbol)
	require.NoError(t, err)
	assert.Equal(t, models.StateInTrade, res.To, res.Reason)

	h.gw.position = models.Position{BrokerOrderID: "T-1", Open: true, CurrentPrice: 2009.8}
	res = h.tickAt(t, at(9, 21))

	assert.Equal(t, StageManage, res.Stage)
	assert.Len(t, h.gw.orders, 1)
	s := h.session(t)
	assert.Equal(t, models.StateInTrade, s.State)
	assert.Equal(t, 1, s.DailyTrades)
}

func TestExecute_CancelledOrderCallCoolsDown(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.withGateway(t, &hookedGateway{fakeGateway: h.gw, afterOrder: cancel, failWith: context.Canceled})
	h.toConfirmed(t)

	h.clock.Set(at(9, 20))
	res, err := h.engine.Tick(ctx, symbol)
	require.NoError(t, err)

	assert.Equal(t, models.StateCooldown, res.To)
	assert.Equal(t, "order cancelled: context canceled", res.Reason)

	h.tickAt(t, at(9, 21))
	assert.Len(t, h.gw.orders, 1)
	assert.Equal(t, 0, h.session(t).DailyTrades)
}

func TestExecute_UnrecordedFillIsNotReordered(t *testing.T) {
	adv := &stubAdvisor{advice: models.Advice{Proceed: true, Source: models.AdviceModel}}
	h := newHarness(t)
	h.withGateway(t, &hookedGateway{fakeGateway: h.gw, afterOrder: func() {
		h.repo.FailCommit = errors.New("disk full")
	}}, WithAdvisor(adv))
	h.toConfirmed(t)

	h.clock.Set(at(9, 20))
	_, err := h.engine.Tick(context.Background(), symbol)
	require.True(t, errs.IsDependency(err), "%v", err)
	assert.Equal(t, models.StateArmed, h.session(t).State)

	res := h.tickAt(t, at(9, 21))

	assert.Equal(t, models.StateInTrade, res.To, res.Reason)
	assert.Equal(t, "order T-1 filled at 2009.90000", res.Reason)
	assert.Len(t, h.gw.orders, 1)
	assert.Equal(t, 1, adv.calls)
	assert.Equal(t, 1, h.session(t).DailyTrades)
}

func TestExecute_CancelledAdvisorCoolsDown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	adv := &cancellingAdvisor{cancel: cancel}
	h := newHarness(t, WithAdvisor(adv))
	h.toConfirmed(t)

	h.clock.Set(at(9, 20))
	res, err := h.engine.Tick(ctx, symbol)
	require.NoError(t, err)
	assert.Equal(t, models.StateCooldown, res.To)
	assert.Contains(t, res.Reason, "advisor call cancelled")

	res = h.tickAt(t, at(9, 21))

	assert.Equal(t, models.StateCooldown, res.To)
	assert.Equal(t, 1, adv.calls)
	assert.Empty(t, h.gw.orders)
	require.NotNil(t, h.session(t).CooldownUntil)
}

func TestTick_CarriedTradeBlocksNextDay(t *testing.T) {
	h := newHarness(t)
	h.toConfirmed(t)
	h.tickAt(t, at(9, 20))
	opened := h.session(t)
	require.Equal(t, models.StateInTrade, opened.State)

	// next morning, a quote that would sweep today's range
	h.gw.position = models.Position{BrokerOrderID: "T-1", Open: true, CurrentPrice: 2009.8}
	h.gw.setQuote(2011.5, 2011.6)
	res := h.tickAt(t, at(31, 0))

	assert.Equal(t, opened.ID, res.SessionID)
	assert.Equal(t, StageManage, res.Stage)
	assert.True(t, strings.HasPrefix(res.Reason, "carried over from 2025-03-04: "), res.Reason)
	_, err := h.repo.FindBySymbolDay(context.Background(), symbol, day0.AddDate(0, 0, 1))
	assert.ErrorIs(t, err, errs.ErrNotFound)
	assert.Len(t, h.gw.orders, 1)

	profit := -50.0
	h.gw.position = models.Position{BrokerOrderID: "T-1", Open: false, ExitPrice: 2011.7, Profit: &profit}
	res = h.tickAt(t, at(31, 5))

	assert.Equal(t, opened.ID, res.SessionID)
	assert.Equal(t, models.StateCooldown, res.To)
	closed := h.session(t)
	assert.InDelta(t, -1.0, closed.DailyRealizedR, 1e-9)
	_, err = h.repo.FindOpenBefore(context.Background(), symbol, day0.AddDate(0, 0, 1))
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestTick_WeeklyRReadAtCheckTime(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.tickAt(t, at(8, 0))
	require.Equal(t, models.StateIdle, h.session(t).State)

	// a late close lands on Monday's session after today's was created
	monday := day0.Add(-24 * time.Hour)
	late := &models.Session{ID: "mon", Symbol: symbol, Day: monday, State: models.StateCooldown, Version: 3, DailyRealizedR: -6.5}
	require.NoError(t, h.repo.Create(ctx, late, models.AuditRecord{SessionID: "mon"}))

	res := h.tickAt(t, at(8, 5))

	assert.Equal(t, models.StateCooldown, res.To)
	assert.Equal(t, StageLimits, res.Stage)
	assert.Contains(t, res.Reason, "weekly circuit breaker")
	assert.InDelta(t, -6.5, h.session(t).WeeklyRealizedR, 1e-9)
}

package usecase

import (
	"context"
	"fmt"
	"time"

	"SweepTrader/internal/domain/errs"
	"SweepTrader/internal/domain/models"
	drepo "SweepTrader/internal/domain/repository"
	"SweepTrader/internal/services/confluence"
	"SweepTrader/internal/services/indicators"
	"SweepTrader/pkg/logger"
	"SweepTrader/pkg/util"
)

// marketView is the multi-timeframe picture loaded once per evaluation.
type marketView struct {
	quote   models.Quote
	pipSize float64
	d1      models.Bars
	h4      models.Bars
	h1      models.Bars
	m15     models.Bars
	m5      models.Bars
	m1      models.Bars
	news    []models.NewsEvent
}

func (m *marketView) atrH1Pips(period int) float64 {
	return indicators.Pips(indicators.ATR(m.h1, period), m.pipSize)
}

func (e *Engine) loadMarket(ctx context.Context, symbol string, now time.Time) (*marketView, error) {
	inst, err := e.cfg.Instrument(symbol)
	if err != nil {
		return nil, errs.Validation("symbol", "%v", err)
	}
	q, err := e.quote(ctx, symbol)
	if err != nil {
		return nil, err
	}
	m := &marketView{quote: q, pipSize: inst.PipSize}

	c := e.cfg.Confluence
	biasBars := c.BiasSMAPeriod + 5
	fetch := []struct {
		tf   drepo.Timeframe
		from time.Time
		dst  *models.Bars
	}{
		{drepo.TFD1, drepo.TFD1.Lookback(now, biasBars), &m.d1},
		{drepo.TFH4, drepo.TFH4.Lookback(now, biasBars), &m.h4},
		{drepo.TFH1, drepo.TFH1.Lookback(now, max(e.cfg.Threshold.ATRPeriod, c.BandWalkBars)+2), &m.h1},
		{drepo.TFM15, drepo.TFM15.Lookback(now, 2*c.ADXPeriod+10), &m.m15},
		{drepo.TFM5, util.TradingDay(now), &m.m5},
		{drepo.TFM1, drepo.TFM1.Lookback(now, max(c.VelocityBaselineBars+1, e.cfg.Confirmation.CHOCHBars)), &m.m1},
	}
	for _, f := range fetch {
		bars, err := e.gateway.Bars(ctx, symbol, f.tf, f.from, now)
		if err != nil {
			return nil, fmt.Errorf("%s bars: %w", f.tf, err)
		}
		*f.dst = bars
	}

	if e.calendar != nil {
		news, err := e.calendar.UpcomingHighImpact(ctx, c.NewsCurrency, now, e.newsHorizon)
		if err != nil {
			return nil, errs.Dependency("calendar", err)
		}
		m.news = news
	}
	return m, nil
}

// evaluateConfluence runs every gate against a fresh market view and records
// gate failures. Persisting the result is left to the caller so it can ride
// along with a transition when one happens.
func (e *Engine) evaluateConfluence(ctx context.Context, s *models.Session, sweep *models.Sweep, stage models.ConfluenceStage, now time.Time) (models.ConfluenceResult, *marketView, error) {
	m, err := e.loadMarket(ctx, s.Symbol, now)
	if err != nil {
		return models.ConfluenceResult{}, nil, err
	}
	res, err := e.confluence.Evaluate(confluence.Input{
		Session:       s,
		Direction:     sweep.Direction,
		ThresholdPips: sweep.Threshold.ThresholdPips,
		Stage:         stage,
		Quote:         m.quote,
		PipSize:       m.pipSize,
		D1:            m.d1,
		H4:            m.h4,
		H1:            m.h1,
		M15:           m.m15,
		M5:            m.m5,
		M1:            m.m1,
		News:          m.news,
		Now:           now,
	})
	if err != nil {
		return models.ConfluenceResult{}, nil, err
	}
	for _, g := range res.Gates {
		if !g.Passed {
			e.metrics.RecordGateFailure(g.Name)
		}
	}
	e.log.Debug("confluence evaluated",
		logger.String("session_id", s.ID),
		logger.String("stage", string(stage)),
		logger.Bool("passed", res.Passed),
		logger.Strings("reasons", res.FailureReasons),
	)
	return res, m, nil
}

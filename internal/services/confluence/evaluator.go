package confluence

import (
	"fmt"
	"time"
	_ "time/tzdata"

	"github.com/google/uuid"

	"SweepTrader/internal/domain/errs"
	"SweepTrader/internal/domain/models"
	"SweepTrader/internal/services/indicators"
	"SweepTrader/pkg/config"
)

// Gate names, in evaluation order.
const (
	GateSpread        = "spread"
	GateAuction       = "auction_blackout"
	GateNews          = "news_blackout"
	GateVelocity      = "velocity_spike"
	GateBias          = "bias_gate"
	GateTrendDay      = "trend_day"
	GateNYFreshSweep  = "ny_fresh_sweep"
	GateParticipation = "participation"
)

// BiasFunc classifies the higher-timeframe trend of a bar series.
type BiasFunc func(bars models.Bars) models.Bias

// Input is everything a single evaluation looks at. Bars are oldest first.
type Input struct {
	Session       *models.Session
	Direction     models.Direction
	ThresholdPips float64
	Stage         models.ConfluenceStage
	Quote         models.Quote
	PipSize       float64
	D1            models.Bars
	H4            models.Bars
	H1            models.Bars
	M15           models.Bars
	M5            models.Bars // today's bars, used for the London/NY traversal check
	M1            models.Bars
	News          []models.NewsEvent
	Now           time.Time
}

type Evaluator struct {
	cfg     config.ConfluenceConfig
	auction *time.Location
	bias    BiasFunc
}

type Option func(*Evaluator)

// WithBias replaces the default SMA band classifier.
func WithBias(fn BiasFunc) Option {
	return func(e *Evaluator) { e.bias = fn }
}

func NewEvaluator(cfg config.ConfluenceConfig, opts ...Option) (*Evaluator, error) {
	loc, err := time.LoadLocation(cfg.AuctionTimezone)
	if err != nil {
		return nil, fmt.Errorf("load auction timezone: %w", err)
	}
	e := &Evaluator{cfg: cfg, auction: loc}
	e.bias = func(bars models.Bars) models.Bias {
		return indicators.TrendBias(bars, cfg.BiasSMAPeriod, cfg.BiasBand)
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Evaluate runs every gate and aggregates them. It never short-circuits, so
// the persisted result always carries the full picture.
func (e *Evaluator) Evaluate(in Input) (models.ConfluenceResult, error) {
	if in.Session == nil {
		return models.ConfluenceResult{}, errs.Validation("session", "missing")
	}
	if in.Quote.Bid <= 0 || in.Quote.Ask <= 0 || in.Quote.Ask < in.Quote.Bid {
		return models.ConfluenceResult{}, errs.Validation("quote", "bid=%v ask=%v", in.Quote.Bid, in.Quote.Ask)
	}
	if in.PipSize <= 0 {
		return models.ConfluenceResult{}, errs.Validation("pip_size", "must be positive")
	}

	inputs := models.ConfluenceInputs{SweepDirection: in.Direction}
	gates := []models.GateCheck{
		e.spread(in, &inputs),
		e.auctionBlackout(in, &inputs),
		e.newsBlackout(in, &inputs),
		e.velocity(in, &inputs),
		e.biasGate(in, &inputs),
		e.trendDay(in, &inputs),
		e.nyFreshSweep(in, &inputs),
		e.participation(in, &inputs),
	}

	res := models.ConfluenceResult{
		ID:          uuid.NewString(),
		SessionID:   in.Session.ID,
		Symbol:      in.Session.Symbol,
		Stage:       in.Stage,
		EvaluatedAt: in.Now,
		Passed:      true,
		Gates:       gates,
		Inputs:      inputs,
	}
	for _, g := range gates {
		if !g.Passed {
			res.Passed = false
			res.FailureReasons = append(res.FailureReasons, g.Description)
		}
	}
	return res, nil
}

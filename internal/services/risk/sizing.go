package risk

import (
	"github.com/shopspring/decimal"

	"SweepTrader/internal/domain/errs"
	"SweepTrader/internal/domain/models"
	"SweepTrader/pkg/config"
)

type SizingInput struct {
	Equity         float64
	StopPips       float64
	PipValuePerLot float64
	ATRH1Pips      float64
	Grade          models.RangeGrade
	Direction      models.Direction
	// Bias is the higher-timeframe bias recorded by the latest confluence run.
	Bias models.Bias
}

type Sizing struct {
	RiskPct     float64
	RiskAmount  float64
	ValuePerLot float64
	Volume      float64
	Elevated    bool
}

type Sizer struct {
	cfg config.RiskConfig
}

func NewSizer(cfg config.RiskConfig) *Sizer {
	return &Sizer{cfg: cfg}
}

// BiasAligned follows the desk rule: an UP sweep counts as aligned under a
// bullish bias and a DOWN sweep under a bearish one.
func BiasAligned(dir models.Direction, bias models.Bias) bool {
	return (dir == models.DirectionUp && bias == models.BiasBull) ||
		(dir == models.DirectionDown && bias == models.BiasBear)
}

// RiskPct picks the elevated tier only for a NORMAL range with aligned bias
// and ATR inside the normal band. Untradeable grades get half the default.
func (s *Sizer) RiskPct(in SizingInput) (float64, bool) {
	switch in.Grade {
	case models.GradeNoTrade, models.GradeExtreme:
		return s.cfg.DefaultPct * s.cfg.ReducedGradeFactor, false
	case models.GradeTight, models.GradeWide:
		return s.cfg.DefaultPct, false
	}
	normalVol := in.ATRH1Pips >= s.cfg.NormalATRLowPips && in.ATRH1Pips <= s.cfg.NormalATRHighPips
	if in.Grade == models.GradeNormal && normalVol && BiasAligned(in.Direction, in.Bias) {
		return s.cfg.ElevatedPct, true
	}
	return s.cfg.DefaultPct, false
}

// Size converts the risk budget into lots, floored to the lot step and
// clamped to [min_lot, max_lot].
func (s *Sizer) Size(in SizingInput) (Sizing, error) {
	if in.Equity <= 0 {
		return Sizing{}, errs.Validation("equity", "must be positive, got %v", in.Equity)
	}
	if in.StopPips <= 0 {
		return Sizing{}, errs.Validation("stop_distance", "must be positive, got %v", in.StopPips)
	}
	if in.PipValuePerLot <= 0 {
		return Sizing{}, errs.Validation("pip_value", "must be positive, got %v", in.PipValuePerLot)
	}

	pct, elevated := s.RiskPct(in)
	riskAmount := decimal.NewFromFloat(in.Equity).Mul(decimal.NewFromFloat(pct))
	valuePerLot := decimal.NewFromFloat(in.StopPips).Mul(decimal.NewFromFloat(in.PipValuePerLot))

	step := decimal.NewFromFloat(s.cfg.LotStep)
	lots := riskAmount.Div(valuePerLot).Div(step).Floor().Mul(step)

	minLot, maxLot := decimal.NewFromFloat(s.cfg.MinLot), decimal.NewFromFloat(s.cfg.MaxLot)
	if lots.LessThan(minLot) {
		lots = minLot
	}
	if lots.GreaterThan(maxLot) {
		lots = maxLot
	}

	return Sizing{
		RiskPct:     pct,
		RiskAmount:  riskAmount.Round(2).InexactFloat64(),
		ValuePerLot: valuePerLot.Round(2).InexactFloat64(),
		Volume:      lots.InexactFloat64(),
		Elevated:    elevated,
	}, nil
}

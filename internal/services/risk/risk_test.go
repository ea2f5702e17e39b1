package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SweepTrader/internal/domain/errs"
	"SweepTrader/internal/domain/models"
	"SweepTrader/pkg/config"
)

func riskCfg() config.RiskConfig {
	return config.DefaultStrategy().Risk
}

func TestRiskPct(t *testing.T) {
	s := NewSizer(riskCfg())
	tests := []struct {
		name     string
		in       SizingInput
		want     float64
		elevated bool
	}{
		{"normal aligned normal vol", SizingInput{Grade: models.GradeNormal, Direction: models.DirectionDown, Bias: models.BiasBear, ATRH1Pips: 40}, 0.01, true},
		{"normal misaligned", SizingInput{Grade: models.GradeNormal, Direction: models.DirectionDown, Bias: models.BiasBull, ATRH1Pips: 40}, 0.005, false},
		{"normal high vol", SizingInput{Grade: models.GradeNormal, Direction: models.DirectionUp, Bias: models.BiasBull, ATRH1Pips: 95}, 0.005, false},
		{"tight", SizingInput{Grade: models.GradeTight, Direction: models.DirectionUp, Bias: models.BiasBull, ATRH1Pips: 40}, 0.005, false},
		{"wide", SizingInput{Grade: models.GradeWide, Direction: models.DirectionUp, Bias: models.BiasBull, ATRH1Pips: 40}, 0.005, false},
		{"no trade halves", SizingInput{Grade: models.GradeNoTrade}, 0.0025, false},
		{"extreme halves", SizingInput{Grade: models.GradeExtreme}, 0.0025, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pct, elevated := s.RiskPct(tt.in)
			assert.InDelta(t, tt.want, pct, 1e-12)
			assert.Equal(t, tt.elevated, elevated)
		})
	}
}

func TestSize(t *testing.T) {
	s := NewSizer(riskCfg())

	t.Run("floors to lot step", func(t *testing.T) {
		// 10000 * 0.5% = 50; 12 pips * 10 = 120 per lot; 0.4166 -> 0.41
		got, err := s.Size(SizingInput{Equity: 10000, StopPips: 12, PipValuePerLot: 10, Grade: models.GradeTight})
		require.NoError(t, err)
		assert.Equal(t, 50.0, got.RiskAmount)
		assert.Equal(t, 120.0, got.ValuePerLot)
		assert.Equal(t, 0.41, got.Volume)
	})

	t.Run("clamps to min lot", func(t *testing.T) {
		got, err := s.Size(SizingInput{Equity: 100, StopPips: 50, PipValuePerLot: 10, Grade: models.GradeTight})
		require.NoError(t, err)
		assert.Equal(t, 0.01, got.Volume)
	})

	t.Run("clamps to max lot", func(t *testing.T) {
		got, err := s.Size(SizingInput{Equity: 10_000_000, StopPips: 10, PipValuePerLot: 10, Grade: models.GradeTight})
		require.NoError(t, err)
		assert.Equal(t, 1.0, got.Volume)
	})

	t.Run("rejects bad inputs", func(t *testing.T) {
		_, err := s.Size(SizingInput{Equity: 0, StopPips: 10, PipValuePerLot: 10})
		assert.True(t, errs.IsValidation(err))
		_, err = s.Size(SizingInput{Equity: 1000, StopPips: 0, PipValuePerLot: 10})
		assert.True(t, errs.IsValidation(err))
	})
}

func TestBreakerOrder(t *testing.T) {
	b := NewBreaker(riskCfg())

	tests := []struct {
		name  string
		s     models.Session
		check string
	}{
		{"clean", models.Session{DailyLossLimit: 100}, ""},
		{"daily loss wins over everything", models.Session{DailyLossLimit: 100, DailyRealizedPnL: -100, DailyRealizedR: -3, DailyTrades: 5, WeeklyRealizedR: -9}, CheckDailyLoss},
		{"daily R before trade count", models.Session{DailyLossLimit: 100, DailyRealizedPnL: -40, DailyRealizedR: -2, DailyTrades: 2, WeeklyRealizedR: -9}, CheckDailyLossR},
		{"trade count before weekly", models.Session{DailyLossLimit: 100, DailyTrades: 2, WeeklyRealizedR: -6}, CheckDailyTrades},
		{"weekly alone", models.Session{DailyLossLimit: 100, DailyTrades: 1, WeeklyRealizedR: -6}, CheckWeeklyR},
		{"weekly just under", models.Session{DailyLossLimit: 100, WeeklyRealizedR: -5.99}, ""},
		{"falls back to configured limit", models.Session{DailyRealizedPnL: -100}, CheckDailyLoss},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := b.Check(&tt.s)
			assert.Equal(t, tt.check == "", d.Allowed)
			assert.Equal(t, tt.check, d.Check)
			if !d.Allowed {
				assert.NotEmpty(t, d.Reason)
			}
		})
	}
}

func TestRealizedR(t *testing.T) {
	assert.Equal(t, 2.0, RealizedR(models.SideBuy, 2000, 1990, 2020))
	assert.Equal(t, -1.0, RealizedR(models.SideBuy, 2000, 1990, 1990))
	assert.Equal(t, 1.5, RealizedR(models.SideSell, 2000, 2010, 1985))
	assert.Equal(t, -1.0, RealizedR(models.SideSell, 2000, 2010, 2010))
	assert.Zero(t, RealizedR(models.SideSell, 2000, 2000, 1990))
}

func TestApplyClose(t *testing.T) {
	s := &models.Session{DailyRealizedR: 0.5, DailyRealizedPnL: 25, WeeklyRealizedR: -2}
	ApplyClose(s, -1, -50)
	assert.Equal(t, -0.5, s.DailyRealizedR)
	assert.Equal(t, -25.0, s.DailyRealizedPnL)
	assert.Equal(t, -3.0, s.WeeklyRealizedR)
}

func TestWeekBounds(t *testing.T) {
	from, to := WeekBounds(time.Date(2025, 3, 6, 15, 0, 0, 0, time.UTC))
	assert.Equal(t, time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC), from)
	assert.Equal(t, time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC), to)
}

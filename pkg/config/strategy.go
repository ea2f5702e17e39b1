package config

import (
	"fmt"
	"strings"
	"time"
)

// Strategy holds every tunable of the sweep-reversal engine.
type Strategy struct {
	Instruments  map[string]Instrument `yaml:"instruments"`
	AsianSession struct {
		Start string `yaml:"start" default:"00:00"`
		End   string `yaml:"end" default:"06:00"`
	} `yaml:"asian_session"`
	RangeGrade   RangeGradeLimits   `yaml:"range_grade"`
	Threshold    ThresholdConfig    `yaml:"threshold"`
	Displacement DisplacementConfig `yaml:"displacement"`
	Acceptance   AcceptanceConfig   `yaml:"acceptance"`
	Confirmation ConfirmationConfig `yaml:"confirmation"`
	Retest       RetestConfig       `yaml:"retest"`
	Entry        EntryConfig        `yaml:"entry"`
	Confluence   ConfluenceConfig   `yaml:"confluence"`
	Risk         RiskConfig         `yaml:"risk"`
	Cooldown     CooldownConfig     `yaml:"cooldown"`
	Management   ManagementConfig   `yaml:"management"`
}

type Instrument struct {
	PipSize        float64 `yaml:"pip_size" validate:"gt=0"`
	PipValuePerLot float64 `yaml:"pip_value_per_lot" validate:"gt=0"`
}

var builtinInstruments = map[string]Instrument{
	"XAUUSD": {PipSize: 0.1, PipValuePerLot: 10},
	"EURUSD": {PipSize: 0.0001, PipValuePerLot: 10},
	"GBPUSD": {PipSize: 0.0001, PipValuePerLot: 10},
	"USDJPY": {PipSize: 0.01, PipValuePerLot: 10},
}

// Instrument resolves pip metadata, preferring configured entries over the
// built-in table.
func (s *Strategy) Instrument(symbol string) (Instrument, error) {
	symbol = strings.ToUpper(symbol)
	if in, ok := s.Instruments[symbol]; ok {
		return in, nil
	}
	if in, ok := builtinInstruments[symbol]; ok {
		return in, nil
	}
	return Instrument{}, fmt.Errorf("no pip metadata for symbol %s", symbol)
}

type RangeGradeLimits struct {
	NoTradeBelow float64 `yaml:"no_trade_below" default:"30"`
	TightMax     float64 `yaml:"tight_max" default:"49"`
	NormalMax    float64 `yaml:"normal_max" default:"150"`
	WideMax      float64 `yaml:"wide_max" default:"180"`
}

type ThresholdConfig struct {
	FloorPips      float64 `yaml:"floor_pips" default:"10" validate:"gte=0"`
	RangePct       float64 `yaml:"range_pct" default:"0.09" validate:"gte=0"`
	ATRCoefficient float64 `yaml:"atr_coefficient" default:"0.5" validate:"gte=0"`
	ATRPeriod      int     `yaml:"atr_period" default:"14" validate:"gt=0"`
}

type DisplacementConfig struct {
	KNormal        float64 `yaml:"k_normal" default:"1.3" validate:"gt=0"`
	KHigh          float64 `yaml:"k_high" default:"1.5" validate:"gt=0"`
	HighVolATRPips float64 `yaml:"high_vol_atr_pips" default:"80" validate:"gt=0"`
	ATRPeriod      int     `yaml:"atr_period" default:"14" validate:"gt=0"`
}

type AcceptanceConfig struct {
	MaxClosesOutside int           `yaml:"max_closes_outside" default:"2" validate:"gte=1"`
	Lookback         time.Duration `yaml:"lookback" default:"60m"`
}

type ConfirmationConfig struct {
	Timeout time.Duration `yaml:"timeout" default:"30m"`
	// CHOCHBars is how many M1 bars feed the change-of-character check.
	CHOCHBars int `yaml:"choch_bars" default:"30" validate:"gte=3"`
}

type RetestConfig struct {
	MinBars         int           `yaml:"min_bars" default:"1" validate:"gte=0"`
	MaxBars         int           `yaml:"max_bars" default:"3" validate:"gte=1"`
	BarMinutes      int           `yaml:"bar_minutes" default:"5" validate:"gt=0"`
	ZoneFraction    float64       `yaml:"zone_fraction" default:"0.5" validate:"gt=0,lte=1"`
	TriggerLookback time.Duration `yaml:"trigger_lookback" default:"15m"`
}

// Window is the time allowed between confirmation and the retest.
func (r RetestConfig) Window() time.Duration {
	return time.Duration(r.MaxBars*r.BarMinutes) * time.Minute
}

type EntryConfig struct {
	SLBufferPips  float64 `yaml:"sl_buffer_pips" default:"2" validate:"gte=2,lte=5"`
	TP2BufferPips float64 `yaml:"tp2_buffer_pips" default:"2" validate:"gte=0"`
}

type ConfluenceConfig struct {
	MaxSpreadPips        float64       `yaml:"max_spread_pips" default:"2.0" validate:"gt=0"`
	VelocityMultiplier   float64       `yaml:"velocity_multiplier" default:"2.0" validate:"gt=0"`
	VelocityBaselineBars int           `yaml:"velocity_baseline_bars" default:"5" validate:"gte=1"`
	AuctionTimes         []string      `yaml:"auction_times" default:"[\"10:30\",\"15:00\"]"`
	AuctionTimezone      string        `yaml:"auction_timezone" default:"Europe/London"`
	AuctionBuffer        time.Duration `yaml:"auction_buffer" default:"15m"`
	NewsTier1Buffer      time.Duration `yaml:"news_tier1_buffer" default:"60m"`
	NewsOtherBuffer      time.Duration `yaml:"news_other_buffer" default:"30m"`
	NewsCurrency         string        `yaml:"news_currency" default:"USD"`
	ADXPeriod            int           `yaml:"adx_period" default:"14" validate:"gt=0"`
	ADXThreshold         float64       `yaml:"adx_threshold" default:"25"`
	BandWalkBars         int           `yaml:"band_walk_bars" default:"3" validate:"gte=2"`
	BiasSMAPeriod        int           `yaml:"bias_sma_period" default:"20" validate:"gt=0"`
	BiasBand             float64       `yaml:"bias_band" default:"0.001" validate:"gte=0"`
	LondonStart          string        `yaml:"london_start" default:"08:00"`
	LondonEnd            string        `yaml:"london_end" default:"16:00"`
	NYStart              string        `yaml:"ny_start" default:"13:00"`
	Holidays             []string      `yaml:"holidays" default:"[\"01-01\",\"12-25\",\"07-04\"]"`
	YearEndFromDay       int           `yaml:"year_end_from_day" default:"20" validate:"gte=1,lte=31"`
	YearStartToDay       int           `yaml:"year_start_to_day" default:"5" validate:"gte=0,lte=31"`
}

type RiskConfig struct {
	ElevatedPct        float64 `yaml:"elevated_pct" default:"0.01" validate:"gt=0,lte=0.05"`
	DefaultPct         float64 `yaml:"default_pct" default:"0.005" validate:"gt=0,lte=0.05"`
	ReducedGradeFactor float64 `yaml:"reduced_grade_factor" default:"0.5" validate:"gt=0,lte=1"`
	NormalATRLowPips   float64 `yaml:"normal_atr_low_pips" default:"20"`
	NormalATRHighPips  float64 `yaml:"normal_atr_high_pips" default:"80"`
	DailyLossLimit     float64 `yaml:"daily_loss_limit" default:"100" validate:"gt=0"`
	DailyLossLimitR    float64 `yaml:"daily_loss_limit_r" default:"2" validate:"gt=0"`
	DailyTradeLimit    int     `yaml:"daily_trade_limit" default:"2" validate:"gte=1"`
	WeeklyLossLimitR   float64 `yaml:"weekly_loss_limit_r" default:"6" validate:"gt=0"`
	MinLot             float64 `yaml:"min_lot" default:"0.01" validate:"gt=0"`
	LotStep            float64 `yaml:"lot_step" default:"0.01" validate:"gt=0"`
	MaxLot             float64 `yaml:"max_lot" default:"1.0" validate:"gt=0"`
}

type CooldownConfig struct {
	AfterTrade          time.Duration `yaml:"after_trade" default:"30m"`
	AfterGateFailure    time.Duration `yaml:"after_gate_failure" default:"15m"`
	AfterAdvisorDecline time.Duration `yaml:"after_advisor_decline" default:"15m"`
}

type ManagementConfig struct {
	Enabled            bool    `yaml:"enabled" default:"true"`
	BreakevenAtR       float64 `yaml:"breakeven_at_r" default:"0.5" validate:"gte=0"`
	TrailATRMultiplier float64 `yaml:"trail_atr_multiplier" default:"0.75" validate:"gte=0"`
	TrailATRPeriod     int     `yaml:"trail_atr_period" default:"14" validate:"gt=0"`
}

// Validate covers the rules that tags cannot express.
func (s *Strategy) Validate() error {
	for _, hhmm := range append([]string{
		s.AsianSession.Start, s.AsianSession.End,
		s.Confluence.LondonStart, s.Confluence.LondonEnd, s.Confluence.NYStart,
	}, s.Confluence.AuctionTimes...) {
		if _, err := time.Parse("15:04", hhmm); err != nil {
			return fmt.Errorf("invalid clock time %q: %w", hhmm, err)
		}
	}
	for _, md := range s.Confluence.Holidays {
		if _, err := time.Parse("01-02", md); err != nil {
			return fmt.Errorf("invalid holiday %q: %w", md, err)
		}
	}
	if _, err := time.LoadLocation(s.Confluence.AuctionTimezone); err != nil {
		return fmt.Errorf("auction timezone: %w", err)
	}

	g := s.RangeGrade
	if !(g.NoTradeBelow < g.TightMax && g.TightMax < g.NormalMax && g.NormalMax < g.WideMax) {
		return fmt.Errorf("range_grade limits must be strictly increasing")
	}
	if s.Displacement.KHigh < s.Displacement.KNormal {
		return fmt.Errorf("displacement.k_high must be >= k_normal")
	}
	if s.Risk.NormalATRLowPips >= s.Risk.NormalATRHighPips {
		return fmt.Errorf("risk normal ATR band is empty")
	}
	if s.Risk.ElevatedPct < s.Risk.DefaultPct {
		return fmt.Errorf("risk.elevated_pct must be >= default_pct")
	}
	if s.Risk.MinLot > s.Risk.MaxLot {
		return fmt.Errorf("risk.min_lot must be <= max_lot")
	}
	if s.Retest.MinBars > s.Retest.MaxBars {
		return fmt.Errorf("retest.min_bars must be <= max_bars")
	}
	for sym, in := range s.Instruments {
		if in.PipSize <= 0 || in.PipValuePerLot <= 0 {
			return fmt.Errorf("instrument %s: pip_size and pip_value_per_lot must be positive", sym)
		}
	}
	return nil
}

// DefaultStrategy returns the strategy with every default applied.
func DefaultStrategy() Strategy {
	c, err := read("")
	if err != nil {
		panic(err)
	}
	return c.Strategy
}

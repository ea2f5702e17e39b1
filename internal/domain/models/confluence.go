package models

import (
	"strings"
	"time"
)

type ConfluenceStage string

const (
	StageConfirm ConfluenceStage = "confirm"
	StageArming  ConfluenceStage = "arming"
)

// GateCheck is the outcome of one admission gate.
type GateCheck struct {
	Name        string  `json:"name"`
	Passed      bool    `json:"passed"`
	Value       float64 `json:"value"`
	Threshold   float64 `json:"threshold"`
	Description string  `json:"description"`
}

// ConfluenceInputs are the raw values behind the gates.
type ConfluenceInputs struct {
	SpreadPips           float64   `json:"spread_pips"`
	VelocityRatio        float64   `json:"velocity_ratio"`
	VelocitySpike        bool      `json:"velocity_spike"`
	NewsBlackout         bool      `json:"news_blackout"`
	NewsTier             NewsTier  `json:"news_tier,omitempty"`
	NewsEvent            string    `json:"news_event,omitempty"`
	NewsBufferMinutes    int       `json:"news_buffer_minutes,omitempty"`
	AuctionBlackout      bool      `json:"auction_blackout"`
	BiasD1               Bias      `json:"bias_d1"`
	BiasH4               Bias      `json:"bias_h4"`
	ADX15m               float64   `json:"adx_15m"`
	TrendDayHighADX      bool      `json:"trend_day_high_adx"`
	H1BandWalk           bool      `json:"h1_band_walk"`
	LondonTraversedAsia  bool      `json:"london_traversed_asia"`
	NYRequiresFreshSweep bool      `json:"ny_requires_fresh_sweep"`
	ParticipationFilter  bool      `json:"participation_filter"`
	SweepDirection       Direction `json:"sweep_direction"`
}

// ConfluenceResult is immutable once built and persisted on pass and fail.
type ConfluenceResult struct {
	ID             string           `json:"id"`
	SessionID      string           `json:"session_id"`
	Symbol         string           `json:"symbol"`
	Stage          ConfluenceStage  `json:"stage"`
	EvaluatedAt    time.Time        `json:"evaluated_at"`
	Passed         bool             `json:"passed"`
	Gates          []GateCheck      `json:"gates"`
	Inputs         ConfluenceInputs `json:"inputs"`
	FailureReasons []string         `json:"failure_reasons"`
}

// Reasons joins the failure reasons in gate order.
func (r ConfluenceResult) Reasons() string {
	return strings.Join(r.FailureReasons, "; ")
}

func (r ConfluenceResult) Gate(name string) (GateCheck, bool) {
	for _, g := range r.Gates {
		if g.Name == name {
			return g, true
		}
	}
	return GateCheck{}, false
}

package models

import "time"

type EntryMethod string

const (
	EntryMarket           EntryMethod = "MARKET"
	EntryLimit            EntryMethod = "LIMIT"
	EntryConfirmOnTrigger EntryMethod = "CONFIRM_ON_TRIGGER"
)

type TriggerKind string

const (
	TriggerEngulfing TriggerKind = "ENGULFING"
	TriggerBreakout  TriggerKind = "BREAKOUT"
)

// Signal is the trade plan built on CONFIRMED to ARMED. The plan fields are
// frozen; lifecycle fields below the marker are written by later transitions.
type Signal struct {
	ID        string  `json:"id"`
	SessionID string  `json:"session_id"`
	SweepID   string  `json:"sweep_id"`
	Symbol    string  `json:"symbol"`
	Side      Side    `json:"side"`
	Entry     float64 `json:"entry_price"`
	StopLoss  float64 `json:"stop_loss"`
	TP1       float64 `json:"take_profit_1"`
	TP2       float64 `json:"take_profit_2"`
	SLPips    float64 `json:"sl_pips"`
	TP1Pips   float64 `json:"tp1_pips"`
	TP2Pips   float64 `json:"tp2_pips"`
	// RiskReward is TP1 distance over stop distance.
	RiskReward float64 `json:"risk_reward"`
	Volume     float64 `json:"volume"`
	RiskPct    float64 `json:"risk_pct"`
	RiskAmount float64 `json:"risk_amount"`

	EntryMethod        EntryMethod `json:"entry_method"`
	EntryZoneTop       float64     `json:"entry_zone_top"`
	EntryZoneBottom    float64     `json:"entry_zone_bottom"`
	EntryZoneReference string      `json:"entry_zone_reference"`
	MicroTrigger       TriggerKind `json:"micro_trigger"`
	RetestDeadline     time.Time   `json:"retest_deadline"`
	CreatedAt          time.Time   `json:"created_at"`

	// lifecycle
	BrokerOrderID  string     `json:"broker_order_id,omitempty"`
	EntryTime      *time.Time `json:"entry_time,omitempty"`
	FillPrice      float64    `json:"fill_price,omitempty"`
	CurrentStop    float64    `json:"current_stop,omitempty"`
	BreakevenMoved bool       `json:"breakeven_moved"`
	TrailingActive bool       `json:"trailing_active"`
	ExitPrice      float64    `json:"exit_price,omitempty"`
	ExitTime       *time.Time `json:"exit_time,omitempty"`
	ExitReason     string     `json:"exit_reason,omitempty"`
	RealizedPnL    *float64   `json:"realized_pnl,omitempty"`
	RealizedR      *float64   `json:"realized_r,omitempty"`
}

func (s *Signal) Clone() *Signal {
	if s == nil {
		return nil
	}
	c := *s
	c.EntryTime = cloneTime(s.EntryTime)
	c.ExitTime = cloneTime(s.ExitTime)
	if s.RealizedPnL != nil {
		v := *s.RealizedPnL
		c.RealizedPnL = &v
	}
	if s.RealizedR != nil {
		v := *s.RealizedR
		c.RealizedR = &v
	}
	return &c
}

// EffectiveEntry prefers the broker fill over the planned price.
func (s *Signal) EffectiveEntry() float64 {
	if s.FillPrice > 0 {
		return s.FillPrice
	}
	return s.Entry
}

// ActiveStop is the stop currently working at the broker.
func (s *Signal) ActiveStop() float64 {
	if s.CurrentStop > 0 {
		return s.CurrentStop
	}
	return s.StopLoss
}

// TradeClose is reported by the broker (poll or event stream) when a position ends.
type TradeClose struct {
	SessionID     string    `json:"session_id,omitempty"`
	Symbol        string    `json:"symbol,omitempty"`
	BrokerOrderID string    `json:"order_id" validate:"required"`
	ExitPrice     float64   `json:"exit_price" validate:"gt=0"`
	ExitTime      time.Time `json:"exit_time" validate:"required"`
	Reason        string    `json:"reason,omitempty"`
	Profit        *float64  `json:"profit,omitempty"`
}

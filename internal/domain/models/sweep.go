package models

import "time"

type ThresholdComponent string

const (
	ComponentFloor ThresholdComponent = "floor"
	ComponentRange ThresholdComponent = "range"
	ComponentATR   ThresholdComponent = "atr"
)

// ThresholdBreakdown records every candidate term of the sweep threshold.
type ThresholdBreakdown struct {
	FloorPips     float64            `json:"floor_pips"`
	RangePips     float64            `json:"range_pips"`
	ATRPips       float64            `json:"atr_pips"`
	ATRH1Pips     float64            `json:"atr_h1_pips"`
	ThresholdPips float64            `json:"threshold_pips"`
	Chosen        ThresholdComponent `json:"chosen"`
}

// Sweep is created on IDLE to SWEPT. Only the confirmation fields are filled
// later, inside the SWEPT to CONFIRMED transition.
type Sweep struct {
	ID              string             `json:"id"`
	SessionID       string             `json:"session_id"`
	Symbol          string             `json:"symbol"`
	Direction       Direction          `json:"direction"`
	Price           float64            `json:"price"`
	Time            time.Time          `json:"time"`
	Threshold       ThresholdBreakdown `json:"threshold"`
	ConfirmDeadline time.Time          `json:"confirm_deadline"`

	ConfirmationPrice float64    `json:"confirmation_price,omitempty"`
	ConfirmationTime  *time.Time `json:"confirmation_time,omitempty"`
	ConfirmBodyOpen   float64    `json:"confirm_body_open,omitempty"`
	ConfirmBodyClose  float64    `json:"confirm_body_close,omitempty"`
	DisplacementATR   float64    `json:"displacement_atr,omitempty"`
	DisplacementK     float64    `json:"displacement_k,omitempty"`
}

func (s *Sweep) Clone() *Sweep {
	if s == nil {
		return nil
	}
	c := *s
	c.ConfirmationTime = cloneTime(s.ConfirmationTime)
	return &c
}

func (s *Sweep) Confirmed() bool { return s.ConfirmationTime != nil }

package models

import (
	"time"
)

type State string

const (
	StateIdle      State = "IDLE"
	StateSwept     State = "SWEPT"
	StateConfirmed State = "CONFIRMED"
	StateArmed     State = "ARMED"
	StateInTrade   State = "IN_TRADE"
	StateCooldown  State = "COOLDOWN"
)

var transitions = map[State][]State{
	StateIdle:      {StateSwept, StateCooldown},
	StateSwept:     {StateConfirmed, StateCooldown},
	StateConfirmed: {StateArmed, StateCooldown},
	StateArmed:     {StateInTrade, StateCooldown},
	StateInTrade:   {StateCooldown},
	StateCooldown:  {StateIdle},
}

// CanTransition reports whether to is a legal successor of s.
func (s State) CanTransition(to State) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// States lists every state in lifecycle order.
func States() []State {
	return []State{StateIdle, StateSwept, StateConfirmed, StateArmed, StateInTrade, StateCooldown}
}

func (s State) Valid() bool {
	_, ok := transitions[s]
	return ok
}

type RangeGrade string

const (
	GradeNoTrade RangeGrade = "NO_TRADE"
	GradeTight   RangeGrade = "TIGHT"
	GradeNormal  RangeGrade = "NORMAL"
	GradeWide    RangeGrade = "WIDE"
	// GradeExtreme is never produced by grading; it tags ranges above the wide
	// limit in audit context.
	GradeExtreme RangeGrade = "EXTREME"
)

// Direction is the side of the Asian range that was swept.
type Direction string

const (
	DirectionUp   Direction = "UP"
	DirectionDown Direction = "DOWN"
)

func (d Direction) Opposite() Direction {
	if d == DirectionUp {
		return DirectionDown
	}
	return DirectionUp
}

// FadeSide is the trade side that fades a sweep in direction d.
func (d Direction) FadeSide() Side {
	if d == DirectionUp {
		return SideSell
	}
	return SideBuy
}

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

type Bias string

const (
	BiasBull    Bias = "BULL"
	BiasBear    Bias = "BEAR"
	BiasRange   Bias = "RANGE"
	BiasUnknown Bias = "UNKNOWN"
)

// AsianRange is frozen on the session at creation.
type AsianRange struct {
	High     float64    `json:"high"`
	Low      float64    `json:"low"`
	Mid      float64    `json:"mid"`
	SizePips float64    `json:"size_pips"`
	Grade    RangeGrade `json:"grade"`
	From     time.Time  `json:"from"`
	To       time.Time  `json:"to"`
	Bars     int        `json:"bars"`
}

// Session is the per (symbol, day) state machine record.
type Session struct {
	ID      string    `json:"id"`
	Symbol  string    `json:"symbol"`
	Day     time.Time `json:"day"`
	State   State     `json:"state"`
	Version int64     `json:"version"`

	Range AsianRange `json:"range"`

	SweepDirection         Direction  `json:"sweep_direction,omitempty"`
	SweepTime              *time.Time `json:"sweep_time,omitempty"`
	SweptUp                bool       `json:"swept_up"`
	SweptDown              bool       `json:"swept_down"`
	BothSidesSwept         bool       `json:"both_sides_swept"`
	AcceptanceOutsideCount int        `json:"acceptance_outside_count"`
	ConfirmationTime       *time.Time `json:"confirmation_time,omitempty"`
	DisplacementATRRatio   float64    `json:"displacement_atr_ratio,omitempty"`
	LondonTraversedAsia    bool       `json:"london_traversed_asia"`

	DailyTrades      int       `json:"daily_trades"`
	DailyRealizedPnL float64   `json:"daily_realized_pnl"`
	DailyRealizedR   float64   `json:"daily_realized_r"`
	DailyLossLimit   float64   `json:"daily_loss_limit"`
	WeeklyRealizedR  float64   `json:"weekly_realized_r"`
	WeekStart        time.Time `json:"week_start"`

	CooldownReason string     `json:"cooldown_reason,omitempty"`
	CooldownUntil  *time.Time `json:"cooldown_until,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy so a candidate transition never aliases the
// committed value.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.SweepTime = cloneTime(s.SweepTime)
	c.ConfirmationTime = cloneTime(s.ConfirmationTime)
	c.CooldownUntil = cloneTime(s.CooldownUntil)
	return &c
}

// Swept reports whether the given side was already swept this session.
func (s *Session) Swept(d Direction) bool {
	if d == DirectionUp {
		return s.SweptUp
	}
	return s.SweptDown
}

// CooldownElapsed is true only for timed cooldowns whose deadline passed.
func (s *Session) CooldownElapsed(now time.Time) bool {
	return s.State == StateCooldown && s.CooldownUntil != nil && !now.Before(*s.CooldownUntil)
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// TimePtr is a small helper for optional timestamps.
func TimePtr(t time.Time) *time.Time { return &t }

package models

import "time"

// TradeSnapshot is what the advisor sees right before an order goes out.
type TradeSnapshot struct {
	Symbol     string           `json:"symbol"`
	Time       time.Time        `json:"time"`
	Session    *Session         `json:"session"`
	Sweep      *Sweep           `json:"sweep"`
	Signal     *Signal          `json:"signal"`
	Confluence ConfluenceResult `json:"confluence"`
	Quote      Quote            `json:"quote"`
}

type AdviceSource string

const (
	AdviceModel    AdviceSource = "model"
	AdviceNoop     AdviceSource = "noop"
	AdviceFailOpen AdviceSource = "fail-open"
)

type Advice struct {
	Proceed   bool         `json:"proceed"`
	Rationale string       `json:"rationale"`
	Source    AdviceSource `json:"source"`
}

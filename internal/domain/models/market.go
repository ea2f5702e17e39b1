package models

import "time"

// Bar is one OHLC candle. Series are always ordered oldest to newest.
type Bar struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume,omitempty"`
}

func (b Bar) Range() float64 { return b.High - b.Low }

// Body is the absolute open-to-close distance.
func (b Bar) Body() float64 {
	if b.Close >= b.Open {
		return b.Close - b.Open
	}
	return b.Open - b.Close
}

func (b Bar) BodyTop() float64    { return max(b.Open, b.Close) }
func (b Bar) BodyBottom() float64 { return min(b.Open, b.Close) }
func (b Bar) Bullish() bool       { return b.Close > b.Open }
func (b Bar) Bearish() bool       { return b.Close < b.Open }

type Bars []Bar

func (bs Bars) Last() (Bar, bool) {
	if len(bs) == 0 {
		return Bar{}, false
	}
	return bs[len(bs)-1], true
}

// Since returns the bars whose open time is at or after t.
func (bs Bars) Since(t time.Time) Bars {
	for i, b := range bs {
		if !b.Time.Before(t) {
			return bs[i:]
		}
	}
	return nil
}

// Between returns the bars opening in [from, to).
func (bs Bars) Between(from, to time.Time) Bars {
	out := make(Bars, 0, len(bs))
	for _, b := range bs {
		if !b.Time.Before(from) && b.Time.Before(to) {
			out = append(out, b)
		}
	}
	return out
}

// HighLow returns the extreme high and low across the series.
func (bs Bars) HighLow() (high, low float64, ok bool) {
	if len(bs) == 0 {
		return 0, 0, false
	}
	high, low = bs[0].High, bs[0].Low
	for _, b := range bs[1:] {
		high = max(high, b.High)
		low = min(low, b.Low)
	}
	return high, low, true
}

func (bs Bars) Closes() []float64 {
	out := make([]float64, len(bs))
	for i, b := range bs {
		out[i] = b.Close
	}
	return out
}

type Quote struct {
	Symbol string    `json:"symbol"`
	Bid    float64   `json:"bid"`
	Ask    float64   `json:"ask"`
	Time   time.Time `json:"time"`
}

func (q Quote) Spread() float64 { return q.Ask - q.Bid }

type Account struct {
	Equity   float64 `json:"equity"`
	Balance  float64 `json:"balance"`
	Currency string  `json:"currency,omitempty"`
}

type OrderRequest struct {
	Symbol     string  `json:"symbol"`
	Side       Side    `json:"side"`
	Volume     float64 `json:"volume"`
	StopLoss   float64 `json:"sl"`
	TakeProfit float64 `json:"tp"`
	Comment    string  `json:"comment,omitempty"`
}

type OrderResult struct {
	Success       bool    `json:"success"`
	BrokerOrderID string  `json:"order_id,omitempty"`
	FillPrice     float64 `json:"price,omitempty"`
	Error         string  `json:"error,omitempty"`
}

// Position is the broker's view of an order opened by the engine.
type Position struct {
	BrokerOrderID string     `json:"order_id"`
	Open          bool       `json:"open"`
	CurrentPrice  float64    `json:"current_price"`
	StopLoss      float64    `json:"sl"`
	TakeProfit    float64    `json:"tp"`
	ExitPrice     float64    `json:"exit_price,omitempty"`
	ExitTime      *time.Time `json:"exit_time,omitempty"`
	Profit        *float64   `json:"profit,omitempty"`
}

package repository

import (
	"fmt"
	"strings"
	"time"
)

// Timeframe represents candle resolution buckets.
type Timeframe string

const (
	TFM1  Timeframe = "M1"
	TFM5  Timeframe = "M5"
	TFM15 Timeframe = "M15"
	TFH1  Timeframe = "H1"
	TFH4  Timeframe = "H4"
	TFD1  Timeframe = "D1"
)

var timeframeDurations = map[Timeframe]time.Duration{
	TFM1:  time.Minute,
	TFM5:  5 * time.Minute,
	TFM15: 15 * time.Minute,
	TFH1:  time.Hour,
	TFH4:  4 * time.Hour,
	TFD1:  24 * time.Hour,
}

// IsValidTimeframe returns true if tf is a supported timeframe.
func IsValidTimeframe(tf Timeframe) bool {
	_, ok := timeframeDurations[tf]
	return ok
}

// Duration is the length of one bar.
func (tf Timeframe) Duration() time.Duration {
	return timeframeDurations[tf]
}

// Lookback is the window covering n bars of tf ending at now.
func (tf Timeframe) Lookback(now time.Time, n int) time.Time {
	return now.Add(-time.Duration(n) * tf.Duration())
}

// ParseTimeframe accepts "M5", "m5" and the "5m" style used by some bridges.
func ParseTimeframe(s string) (Timeframe, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if tf := Timeframe(s); IsValidTimeframe(tf) {
		return tf, nil
	}
	switch s {
	case "1M":
		return TFM1, nil
	case "5M":
		return TFM5, nil
	case "15M":
		return TFM15, nil
	case "1H":
		return TFH1, nil
	case "4H":
		return TFH4, nil
	case "1D":
		return TFD1, nil
	}
	return "", fmt.Errorf("unsupported timeframe %q", s)
}

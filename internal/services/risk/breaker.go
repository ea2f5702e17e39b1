package risk

import (
	"fmt"

	"SweepTrader/internal/domain/models"
	"SweepTrader/pkg/config"
)

const (
	CheckDailyLoss   = "daily_loss"
	CheckDailyLossR  = "daily_loss_r"
	CheckDailyTrades = "daily_trades"
	CheckWeeklyR     = "weekly_r"
)

type Decision struct {
	Allowed bool
	Check   string
	Reason  string
}

// Breaker enforces the daily and weekly limits in a fixed order; the first
// breach wins and no further checks run.
type Breaker struct {
	cfg config.RiskConfig
}

func NewBreaker(cfg config.RiskConfig) *Breaker {
	return &Breaker{cfg: cfg}
}

func (b *Breaker) Check(s *models.Session) Decision {
	dailyLimit := s.DailyLossLimit
	if dailyLimit <= 0 {
		dailyLimit = b.cfg.DailyLossLimit
	}

	if loss := -s.DailyRealizedPnL; loss >= dailyLimit {
		return Decision{Check: CheckDailyLoss,
			Reason: fmt.Sprintf("daily loss limit reached (%.2f >= %.2f)", loss, dailyLimit)}
	}
	if lossR := -s.DailyRealizedR; lossR >= b.cfg.DailyLossLimitR {
		return Decision{Check: CheckDailyLossR,
			Reason: fmt.Sprintf("daily R loss limit reached (%.2fR >= %.2fR)", lossR, b.cfg.DailyLossLimitR)}
	}
	if s.DailyTrades >= b.cfg.DailyTradeLimit {
		return Decision{Check: CheckDailyTrades,
			Reason: fmt.Sprintf("daily trade limit reached (%d/%d)", s.DailyTrades, b.cfg.DailyTradeLimit)}
	}
	if lossR := -s.WeeklyRealizedR; lossR >= b.cfg.WeeklyLossLimitR {
		return Decision{Check: CheckWeeklyR,
			Reason: fmt.Sprintf("weekly circuit breaker tripped (%.2fR >= %.2fR)", lossR, b.cfg.WeeklyLossLimitR)}
	}
	return Decision{Allowed: true}
}

// WeeklyTripped reports the weekly breaker alone, used when a new session is
// opened mid-week.
func (b *Breaker) WeeklyTripped(weeklyR float64) bool {
	return -weeklyR >= b.cfg.WeeklyLossLimitR
}

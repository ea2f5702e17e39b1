package service

import (
	"context"
	"time"

	"SweepTrader/internal/domain/models"
)

// TradeAdvisor gives a go/no-go before order placement.
type TradeAdvisor interface {
	Decide(ctx context.Context, snapshot models.TradeSnapshot) (models.Advice, error)
}

// EconomicCalendar lists high-impact events for a currency around now.
type EconomicCalendar interface {
	UpcomingHighImpact(ctx context.Context, currency string, now time.Time, horizon time.Duration) ([]models.NewsEvent, error)
}

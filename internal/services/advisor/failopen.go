package advisor

import (
	"context"

	"SweepTrader/internal/domain/models"
	"SweepTrader/internal/domain/service"
	"SweepTrader/pkg/guard"
	"SweepTrader/pkg/logger"
)

// FailOpen wraps an advisor so that any error or timeout approves the trade.
// Only an explicit decline blocks execution.
type FailOpen struct {
	next  service.TradeAdvisor
	guard *guard.Guard
	log   *logger.Logger
}

func NewFailOpen(next service.TradeAdvisor, g *guard.Guard, log *logger.Logger) *FailOpen {
	if log == nil {
		log = logger.Nop()
	}
	return &FailOpen{next: next, guard: g, log: log}
}

func (f *FailOpen) Decide(ctx context.Context, snapshot models.TradeSnapshot) (models.Advice, error) {
	advice, err := guard.Call(ctx, f.guard, func(ctx context.Context) (models.Advice, error) {
		return f.next.Decide(ctx, snapshot)
	})
	if err != nil {
		f.log.Warn("advisor unavailable, proceeding",
			logger.String("symbol", snapshot.Symbol),
			logger.Error(err),
		)
		return models.Advice{Proceed: true, Rationale: err.Error(), Source: models.AdviceFailOpen}, nil
	}
	return advice, nil
}

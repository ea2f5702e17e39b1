package repository

import (
	"context"
	"time"

	"SweepTrader/internal/domain/models"
)

// MarketDataGateway is the single handle to the broker. Implementations must
// be safe for use by one writer per session.
type MarketDataGateway interface {
	Bars(ctx context.Context, symbol string, tf Timeframe, from, to time.Time) (models.Bars, error)
	Quote(ctx context.Context, symbol string) (models.Quote, error)
	Account(ctx context.Context) (models.Account, error)
	PlaceOrder(ctx context.Context, req models.OrderRequest) (models.OrderResult, error)
	Position(ctx context.Context, brokerOrderID string) (models.Position, error)
	ModifyStop(ctx context.Context, brokerOrderID string, stop float64) error
	Health(ctx context.Context) error
}

// SessionRepository persists sessions and everything hanging off them.
// Commit is the only write path for state changes: it applies the session
// snapshot, sweep, signal, confluence result and audit row atomically, and
// fails with a StateConsistencyError if the stored state or version moved.
type SessionRepository interface {
	Init(ctx context.Context) error
	FindBySymbolDay(ctx context.Context, symbol string, day time.Time) (*models.Session, error)
	Create(ctx context.Context, s *models.Session, audit models.AuditRecord) error
	Commit(ctx context.Context, t models.Transition) error
	SaveConfluence(ctx context.Context, r models.ConfluenceResult) error

	LatestSweep(ctx context.Context, sessionID string) (*models.Sweep, error)
	LatestSignal(ctx context.Context, sessionID string) (*models.Signal, error)
	LatestConfluence(ctx context.Context, sessionID string) (*models.ConfluenceResult, error)
	FindByOrderID(ctx context.Context, brokerOrderID string) (*models.Session, *models.Signal, error)
	// FindOpenBefore returns the latest IN_TRADE session of symbol from a day
	// before day, or ErrNotFound.
	FindOpenBefore(ctx context.Context, symbol string, day time.Time) (*models.Session, error)
	WeeklyRealizedR(ctx context.Context, symbol string, from, to time.Time) (float64, error)
	AuditTrail(ctx context.Context, sessionID string, limit int) ([]models.AuditRecord, error)
	Close() error
}

// AuditSink receives committed audit records and confluence results for
// downstream consumers. Delivery is best effort; the repository is the
// system of record.
type AuditSink interface {
	PublishAudit(ctx context.Context, rec models.AuditRecord) error
	PublishConfluence(ctx context.Context, r models.ConfluenceResult) error
	Close() error
}

// SessionLocker serializes evaluators of the same session across processes.
type SessionLocker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
}

type Metrics interface {
	RecordTick(symbol, outcome string)
	RecordTransition(symbol, from, to string)
	RecordState(symbol, state string)
	RecordGateFailure(gate string)
	RecordRiskBreach(check string)
	RecordAdvice(source string, proceed bool)
	RecordError(kind string)
	RecordLatency(op string, seconds float64)
}

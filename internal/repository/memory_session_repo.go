package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"SweepTrader/internal/domain/errs"
	"SweepTrader/internal/domain/models"
	drepo "SweepTrader/internal/domain/repository"
)

// MemorySessionRepository keeps everything in process. It is the store for
// paper mode and engine tests and follows the same commit rules as Postgres.
type MemorySessionRepository struct {
	mu         sync.RWMutex
	sessions   map[string]*models.Session // by id
	byKey      map[string]string          // symbol|day -> id
	sweeps     map[string][]*models.Sweep
	signals    map[string][]*models.Signal
	confluence map[string][]models.ConfluenceResult
	audit      map[string][]models.AuditRecord

	// FailCommit, when set, is returned by the next Commit before any write.
	FailCommit error
}

func NewMemorySessionRepository() *MemorySessionRepository {
	return &MemorySessionRepository{
		sessions:   make(map[string]*models.Session),
		byKey:      make(map[string]string),
		sweeps:     make(map[string][]*models.Sweep),
		signals:    make(map[string][]*models.Signal),
		confluence: make(map[string][]models.ConfluenceResult),
		audit:      make(map[string][]models.AuditRecord),
	}
}

var _ drepo.SessionRepository = (*MemorySessionRepository)(nil)

func sessionKey(symbol string, day time.Time) string {
	return symbol + "|" + day.Format(time.DateOnly)
}

func (r *MemorySessionRepository) Init(context.Context) error { return nil }

func (r *MemorySessionRepository) FindBySymbolDay(_ context.Context, symbol string, day time.Time) (*models.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byKey[sessionKey(symbol, day)]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return r.sessions[id].Clone(), nil
}

func (r *MemorySessionRepository) Create(_ context.Context, s *models.Session, audit models.AuditRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := sessionKey(s.Symbol, s.Day)
	if _, exists := r.byKey[key]; exists {
		return fmt.Errorf("session for %s already exists", key)
	}
	r.sessions[s.ID] = s.Clone()
	r.byKey[key] = s.ID
	r.audit[s.ID] = append(r.audit[s.ID], audit)
	return nil
}

func (r *MemorySessionRepository) Commit(_ context.Context, t models.Transition) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.FailCommit; err != nil {
		r.FailCommit = nil
		return err
	}
	if t.Session == nil {
		return fmt.Errorf("commit: nil session")
	}
	cur, ok := r.sessions[t.Session.ID]
	if !ok {
		return errs.ErrNotFound
	}
	if cur.State != t.From || cur.Version != t.Version {
		return &errs.StateConsistencyError{
			SessionID: cur.ID,
			Expected:  fmt.Sprintf("%s@v%d", t.From, t.Version),
			Actual:    fmt.Sprintf("%s@v%d", cur.State, cur.Version),
		}
	}

	r.sessions[cur.ID] = t.Session.Clone()
	if t.Sweep != nil {
		r.sweeps[cur.ID] = upsert(r.sweeps[cur.ID], t.Sweep.Clone(), func(s *models.Sweep) string { return s.ID })
	}
	if t.Signal != nil {
		r.signals[cur.ID] = upsert(r.signals[cur.ID], t.Signal.Clone(), func(s *models.Signal) string { return s.ID })
	}
	if t.Confluence != nil {
		r.confluence[cur.ID] = append(r.confluence[cur.ID], *t.Confluence)
	}
	r.audit[cur.ID] = append(r.audit[cur.ID], t.Audit)
	return nil
}

func upsert[T any](list []*T, v *T, id func(*T) string) []*T {
	for i, existing := range list {
		if id(existing) == id(v) {
			list[i] = v
			return list
		}
	}
	return append(list, v)
}

func (r *MemorySessionRepository) SaveConfluence(_ context.Context, c models.ConfluenceResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.confluence[c.SessionID] = append(r.confluence[c.SessionID], c)
	return nil
}

func (r *MemorySessionRepository) LatestSweep(_ context.Context, sessionID string) (*models.Sweep, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := r.sweeps[sessionID]
	if len(list) == 0 {
		return nil, errs.ErrNotFound
	}
	return list[len(list)-1].Clone(), nil
}

func (r *MemorySessionRepository) LatestSignal(_ context.Context, sessionID string) (*models.Signal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := r.signals[sessionID]
	if len(list) == 0 {
		return nil, errs.ErrNotFound
	}
	return list[len(list)-1].Clone(), nil
}

func (r *MemorySessionRepository) LatestConfluence(_ context.Context, sessionID string) (*models.ConfluenceResult, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := r.confluence[sessionID]
	if len(list) == 0 {
		return nil, errs.ErrNotFound
	}
	c := list[len(list)-1]
	return &c, nil
}

func (r *MemorySessionRepository) FindByOrderID(_ context.Context, brokerOrderID string) (*models.Session, *models.Signal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for sessionID, list := range r.signals {
		for _, sig := range list {
			if sig.BrokerOrderID == brokerOrderID {
				return r.sessions[sessionID].Clone(), sig.Clone(), nil
			}
		}
	}
	return nil, nil, errs.ErrNotFound
}

func (r *MemorySessionRepository) FindOpenBefore(_ context.Context, symbol string, day time.Time) (*models.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var latest *models.Session
	for _, s := range r.sessions {
		if s.Symbol != symbol || s.State != models.StateInTrade || !s.Day.Before(day) {
			continue
		}
		if latest == nil || s.Day.After(latest.Day) {
			latest = s
		}
	}
	if latest == nil {
		return nil, errs.ErrNotFound
	}
	return latest.Clone(), nil
}

func (r *MemorySessionRepository) WeeklyRealizedR(_ context.Context, symbol string, from, to time.Time) (float64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var total float64
	for _, s := range r.sessions {
		if s.Symbol == symbol && !s.Day.Before(from) && s.Day.Before(to) {
			total += s.DailyRealizedR
		}
	}
	return total, nil
}

// AuditTrail returns the newest records first.
func (r *MemorySessionRepository) AuditTrail(_ context.Context, sessionID string, limit int) ([]models.AuditRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := append([]models.AuditRecord(nil), r.audit[sessionID]...)
	sort.SliceStable(list, func(i, j int) bool { return list[i].Timestamp.After(list[j].Timestamp) })
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

func (r *MemorySessionRepository) Close() error { return nil }

package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"SweepTrader/internal/domain/errs"
	"SweepTrader/internal/domain/models"
	drepo "SweepTrader/internal/domain/repository"
	"SweepTrader/pkg/postgres"
)

// PostgresSessionRepository stores each aggregate as a JSONB document next to
// the columns needed for lookups and the optimistic state/version guard.
type PostgresSessionRepository struct {
	client *postgres.Client
	db     *sqlx.DB
}

func NewPostgresSessionRepository(client *postgres.Client) drepo.SessionRepository {
	return &PostgresSessionRepository{client: client, db: client.DB()}
}

type documentRow struct {
	Data []byte `db:"data"`
}

type signalRow struct {
	SessionID string `db:"session_id"`
	Data      []byte `db:"data"`
}

type auditRow struct {
	ID        string    `db:"id"`
	SessionID string    `db:"session_id"`
	Symbol    string    `db:"symbol"`
	Kind      string    `db:"kind"`
	FromState string    `db:"from_state"`
	ToState   string    `db:"to_state"`
	Reason    string    `db:"reason"`
	Context   []byte    `db:"context"`
	Timestamp time.Time `db:"ts"`
}

func (r *PostgresSessionRepository) Init(ctx context.Context) error {
	for _, stmt := range PostgresSchema {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

func (r *PostgresSessionRepository) FindBySymbolDay(ctx context.Context, symbol string, day time.Time) (*models.Session, error) {
	ctx, cancel := r.client.WithTimeout(ctx)
	defer cancel()

	var row documentRow
	err := r.db.GetContext(ctx, &row, `SELECT data FROM sessions WHERE symbol = $1 AND day = $2`, symbol, day.Format(time.DateOnly))
	if err != nil {
		return nil, notFound(err)
	}
	return decode[models.Session](row.Data)
}

func (r *PostgresSessionRepository) Create(ctx context.Context, s *models.Session, audit models.AuditRecord) error {
	return r.inTx(ctx, func(ctx context.Context, tx *sqlx.Tx) error {
		data, err := json.Marshal(s)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO sessions (id, symbol, day, state, version, realized_r, data, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			s.ID, s.Symbol, s.Day.Format(time.DateOnly), string(s.State), s.Version, s.DailyRealizedR, data, s.CreatedAt, s.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert session: %w", err)
		}
		return insertAudit(ctx, tx, audit)
	})
}

// Commit applies one transition. Zero updated rows means another writer
// moved the session first; nothing is written in that case.
func (r *PostgresSessionRepository) Commit(ctx context.Context, t models.Transition) error {
	if t.Session == nil {
		return fmt.Errorf("commit: nil session")
	}
	return r.inTx(ctx, func(ctx context.Context, tx *sqlx.Tx) error {
		s := t.Session
		data, err := json.Marshal(s)
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `UPDATE sessions
			SET state = $1, version = $2, realized_r = $3, data = $4, updated_at = $5
			WHERE id = $6 AND state = $7 AND version = $8`,
			string(s.State), s.Version, s.DailyRealizedR, data, s.UpdatedAt, s.ID, string(t.From), t.Version)
		if err != nil {
			return fmt.Errorf("update session: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return &errs.StateConsistencyError{
				SessionID: s.ID,
				Expected:  fmt.Sprintf("%s@v%d", t.From, t.Version),
				Actual:    "a newer state",
			}
		}

		if t.Sweep != nil {
			if err := upsertDocument(ctx, tx, `INSERT INTO sweeps (id, session_id, data, created_at) VALUES ($1, $2, $3, $4)
				ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data`, t.Sweep.ID, t.Sweep.SessionID, t.Sweep, t.Sweep.Time); err != nil {
				return fmt.Errorf("upsert sweep: %w", err)
			}
		}
		if t.Signal != nil {
			if err := upsertSignal(ctx, tx, t.Signal); err != nil {
				return fmt.Errorf("upsert signal: %w", err)
			}
		}
		if t.Confluence != nil {
			if err := insertConfluence(ctx, tx, *t.Confluence); err != nil {
				return err
			}
		}
		return insertAudit(ctx, tx, t.Audit)
	})
}

func (r *PostgresSessionRepository) SaveConfluence(ctx context.Context, c models.ConfluenceResult) error {
	return r.inTx(ctx, func(ctx context.Context, tx *sqlx.Tx) error {
		return insertConfluence(ctx, tx, c)
	})
}

func (r *PostgresSessionRepository) LatestSweep(ctx context.Context, sessionID string) (*models.Sweep, error) {
	return latest[models.Sweep](ctx, r, `SELECT data FROM sweeps WHERE session_id = $1 ORDER BY created_at DESC LIMIT 1`, sessionID)
}

func (r *PostgresSessionRepository) LatestSignal(ctx context.Context, sessionID string) (*models.Signal, error) {
	return latest[models.Signal](ctx, r, `SELECT data FROM signals WHERE session_id = $1 ORDER BY created_at DESC LIMIT 1`, sessionID)
}

func (r *PostgresSessionRepository) LatestConfluence(ctx context.Context, sessionID string) (*models.ConfluenceResult, error) {
	return latest[models.ConfluenceResult](ctx, r, `SELECT data FROM confluence_results WHERE session_id = $1 ORDER BY evaluated_at DESC LIMIT 1`, sessionID)
}

func (r *PostgresSessionRepository) FindByOrderID(ctx context.Context, brokerOrderID string) (*models.Session, *models.Signal, error) {
	ctx, cancel := r.client.WithTimeout(ctx)
	defer cancel()

	var sig signalRow
	if err := r.db.GetContext(ctx, &sig, `SELECT session_id, data FROM signals WHERE broker_order_id = $1 LIMIT 1`, brokerOrderID); err != nil {
		return nil, nil, notFound(err)
	}
	signal, err := decode[models.Signal](sig.Data)
	if err != nil {
		return nil, nil, err
	}

	var row documentRow
	if err := r.db.GetContext(ctx, &row, `SELECT data FROM sessions WHERE id = $1`, sig.SessionID); err != nil {
		return nil, nil, notFound(err)
	}
	session, err := decode[models.Session](row.Data)
	if err != nil {
		return nil, nil, err
	}
	return session, signal, nil
}

// WeeklyRealizedR sums the realized R of sessions whose day is in [from, to).
func (r *PostgresSessionRepository) FindOpenBefore(ctx context.Context, symbol string, day time.Time) (*models.Session, error) {
	ctx, cancel := r.client.WithTimeout(ctx)
	defer cancel()

	var row documentRow
	err := r.db.GetContext(ctx, &row, `SELECT data FROM sessions WHERE symbol = $1 AND day < $2 AND state = $3
		ORDER BY day DESC LIMIT 1`, symbol, day.Format(time.DateOnly), string(models.StateInTrade))
	if err != nil {
		return nil, notFound(err)
	}
	return decode[models.Session](row.Data)
}

func (r *PostgresSessionRepository) WeeklyRealizedR(ctx context.Context, symbol string, from, to time.Time) (float64, error) {
	ctx, cancel := r.client.WithTimeout(ctx)
	defer cancel()

	var total sql.NullFloat64
	err := r.db.GetContext(ctx, &total, `SELECT SUM(realized_r) FROM sessions WHERE symbol = $1 AND day >= $2 AND day < $3`,
		symbol, from.Format(time.DateOnly), to.Format(time.DateOnly))
	if err != nil {
		return 0, fmt.Errorf("weekly realized r: %w", err)
	}
	return total.Float64, nil
}

func (r *PostgresSessionRepository) AuditTrail(ctx context.Context, sessionID string, limit int) ([]models.AuditRecord, error) {
	ctx, cancel := r.client.WithTimeout(ctx)
	defer cancel()

	var rows []auditRow
	err := r.db.SelectContext(ctx, &rows, `SELECT id, session_id, symbol, kind, from_state, to_state, reason, context, ts
		FROM audit_log WHERE session_id = $1 ORDER BY ts DESC LIMIT $2`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("audit trail: %w", err)
	}

	out := make([]models.AuditRecord, 0, len(rows))
	for _, row := range rows {
		rec := models.AuditRecord{
			ID:        row.ID,
			SessionID: row.SessionID,
			Symbol:    row.Symbol,
			Kind:      models.AuditKind(row.Kind),
			FromState: models.State(row.FromState),
			ToState:   models.State(row.ToState),
			Reason:    row.Reason,
			Timestamp: row.Timestamp,
		}
		if len(row.Context) > 0 {
			if err := json.Unmarshal(row.Context, &rec.Context); err != nil {
				return nil, fmt.Errorf("decode audit context: %w", err)
			}
		}
		out = append(out, rec)
	}
	return out, nil
}

func (r *PostgresSessionRepository) Close() error {
	return nil // pool owned by pkg/postgres
}

func (r *PostgresSessionRepository) inTx(ctx context.Context, fn func(ctx context.Context, tx *sqlx.Tx) error) error {
	ctx, cancel := r.client.WithTimeout(ctx)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(ctx, tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func upsertDocument(ctx context.Context, tx *sqlx.Tx, query, id, sessionID string, doc any, at time.Time) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, query, id, sessionID, data, at)
	return err
}

func upsertSignal(ctx context.Context, tx *sqlx.Tx, s *models.Signal) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	var orderID sql.NullString
	if s.BrokerOrderID != "" {
		orderID = sql.NullString{String: s.BrokerOrderID, Valid: true}
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO signals (id, session_id, broker_order_id, data, created_at) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET broker_order_id = EXCLUDED.broker_order_id, data = EXCLUDED.data`,
		s.ID, s.SessionID, orderID, data, s.CreatedAt)
	return err
}

func insertConfluence(ctx context.Context, tx *sqlx.Tx, c models.ConfluenceResult) error {
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO confluence_results (id, session_id, stage, passed, data, evaluated_at)
		VALUES ($1, $2, $3, $4, $5, $6) ON CONFLICT (id) DO NOTHING`,
		c.ID, c.SessionID, string(c.Stage), c.Passed, data, c.EvaluatedAt)
	if err != nil {
		return fmt.Errorf("insert confluence: %w", err)
	}
	return nil
}

func insertAudit(ctx context.Context, tx *sqlx.Tx, a models.AuditRecord) error {
	var ctxData []byte
	if len(a.Context) > 0 {
		var err error
		if ctxData, err = json.Marshal(a.Context); err != nil {
			return err
		}
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO audit_log (id, session_id, symbol, kind, from_state, to_state, reason, context, ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		a.ID, a.SessionID, a.Symbol, string(a.Kind), string(a.FromState), string(a.ToState), a.Reason, ctxData, a.Timestamp)
	if err != nil {
		return fmt.Errorf("insert audit: %w", err)
	}
	return nil
}

func latest[T any](ctx context.Context, r *PostgresSessionRepository, query, sessionID string) (*T, error) {
	ctx, cancel := r.client.WithTimeout(ctx)
	defer cancel()

	var row documentRow
	if err := r.db.GetContext(ctx, &row, query, sessionID); err != nil {
		return nil, notFound(err)
	}
	return decode[T](row.Data)
}

func decode[T any](data []byte) (*T, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("decode %T: %w", v, err)
	}
	return &v, nil
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return errs.ErrNotFound
	}
	return err
}

package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"SweepTrader/internal/domain/models"
	drepo "SweepTrader/internal/domain/repository"
	"SweepTrader/pkg/clickhouse"
)

// ClickHouseSchema holds the analytics tables. Engines are append-only.
var ClickHouseSchema = []string{
	`CREATE TABLE IF NOT EXISTS audit_log (
		ts          DateTime64(3, 'UTC'),
		id          String,
		session_id  String,
		symbol      LowCardinality(String),
		kind        LowCardinality(String),
		from_state  LowCardinality(String),
		to_state    LowCardinality(String),
		reason      String,
		context     String
	) ENGINE = MergeTree ORDER BY (symbol, ts)`,
	`CREATE TABLE IF NOT EXISTS confluence_log (
		ts              DateTime64(3, 'UTC'),
		id              String,
		session_id      String,
		symbol          LowCardinality(String),
		stage           LowCardinality(String),
		passed          UInt8,
		failed_gates    Array(String),
		failure_reasons String,
		spread_pips     Float64,
		velocity_ratio  Float64,
		adx_15m         Float64,
		bias_d1         LowCardinality(String),
		bias_h4         LowCardinality(String),
		inputs          String
	) ENGINE = MergeTree ORDER BY (symbol, ts)`,
}

type ClickHouseAuditSink struct {
	client *clickhouse.Client
}

func NewClickHouseAuditSink(client *clickhouse.Client) drepo.AuditSink {
	return &ClickHouseAuditSink{client: client}
}

// Init creates the analytics tables.
func (s *ClickHouseAuditSink) Init(ctx context.Context) error {
	return s.client.InitSchema(ctx, ClickHouseSchema)
}

func (s *ClickHouseAuditSink) PublishAudit(ctx context.Context, a models.AuditRecord) error {
	raw, err := json.Marshal(a.Context)
	if err != nil {
		return err
	}
	return s.client.InsertBatch(ctx,
		`INSERT INTO audit_log (ts, id, session_id, symbol, kind, from_state, to_state, reason, context)`,
		[][]any{{a.Timestamp, a.ID, a.SessionID, a.Symbol, string(a.Kind), string(a.FromState), string(a.ToState), a.Reason, string(raw)}},
	)
}

func (s *ClickHouseAuditSink) PublishConfluence(ctx context.Context, c models.ConfluenceResult) error {
	inputs, err := json.Marshal(c.Inputs)
	if err != nil {
		return err
	}
	var failed []string
	for _, g := range c.Gates {
		if !g.Passed {
			failed = append(failed, g.Name)
		}
	}
	passed := uint8(0)
	if c.Passed {
		passed = 1
	}
	err = s.client.InsertBatch(ctx,
		`INSERT INTO confluence_log (ts, id, session_id, symbol, stage, passed, failed_gates, failure_reasons,
			spread_pips, velocity_ratio, adx_15m, bias_d1, bias_h4, inputs)`,
		[][]any{{
			c.EvaluatedAt, c.ID, c.SessionID, c.Symbol, string(c.Stage), passed, failed,
			strings.Join(c.FailureReasons, "; "), c.Inputs.SpreadPips, c.Inputs.VelocityRatio,
			c.Inputs.ADX15m, string(c.Inputs.BiasD1), string(c.Inputs.BiasH4), string(inputs),
		}},
	)
	if err != nil {
		return fmt.Errorf("insert confluence_log: %w", err)
	}
	return nil
}

func (s *ClickHouseAuditSink) Close() error {
	return nil // client owned by pkg/clickhouse
}

package repository

import (
	"context"

	"SweepTrader/internal/domain/models"
	drepo "SweepTrader/internal/domain/repository"
	pkgkafka "SweepTrader/pkg/kafka"
)

type auditEnvelope struct {
	Type       string                   `json:"type"`
	Audit      *models.AuditRecord      `json:"audit,omitempty"`
	Confluence *models.ConfluenceResult `json:"confluence,omitempty"`
}

// KafkaAuditSink streams audit and confluence records, keyed by session ID so
// one session's history stays ordered on a single partition.
type KafkaAuditSink struct {
	producer *pkgkafka.Producer
	topic    string
}

func NewKafkaAuditSink(producer *pkgkafka.Producer, topic string) drepo.AuditSink {
	return &KafkaAuditSink{producer: producer, topic: topic}
}

func (s *KafkaAuditSink) PublishAudit(ctx context.Context, a models.AuditRecord) error {
	return s.producer.Publish(ctx, s.topic, []byte(a.SessionID), auditEnvelope{Type: "audit", Audit: &a})
}

func (s *KafkaAuditSink) PublishConfluence(ctx context.Context, c models.ConfluenceResult) error {
	return s.producer.Publish(ctx, s.topic, []byte(c.SessionID), auditEnvelope{Type: "confluence", Confluence: &c})
}

func (s *KafkaAuditSink) Close() error {
	return nil // producer owned by pkg/kafka
}

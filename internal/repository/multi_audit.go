package repository

import (
	"context"
	"errors"

	"SweepTrader/internal/domain/models"
	drepo "SweepTrader/internal/domain/repository"
)

// MultiAuditSink fans out to every sink and joins their errors.
type MultiAuditSink struct {
	sinks []drepo.AuditSink
}

func NewMultiAuditSink(sinks ...drepo.AuditSink) drepo.AuditSink {
	out := make([]drepo.AuditSink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return &MultiAuditSink{sinks: out}
}

func (m *MultiAuditSink) PublishAudit(ctx context.Context, a models.AuditRecord) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.PublishAudit(ctx, a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *MultiAuditSink) PublishConfluence(ctx context.Context, c models.ConfluenceResult) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.PublishConfluence(ctx, c); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *MultiAuditSink) Close() error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

package models

import "time"

type AuditKind string

const (
	AuditTransition AuditKind = "transition"
	AuditGate       AuditKind = "gate"
	AuditRisk       AuditKind = "risk"
	AuditAdvisor    AuditKind = "advisor"
	AuditManagement AuditKind = "management"
	AuditReset      AuditKind = "reset"
	AuditRecovery   AuditKind = "recovery"
	AuditCreated    AuditKind = "created"
)

// AuditRecord is the append-only explanation of a state change or evaluation.
type AuditRecord struct {
	ID        string         `json:"id"`
	SessionID string         `json:"session_id"`
	Symbol    string         `json:"symbol"`
	Kind      AuditKind      `json:"kind"`
	FromState State          `json:"old_state"`
	ToState   State          `json:"new_state"`
	Reason    string         `json:"reason"`
	Context   map[string]any `json:"context,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Transition is the unit of atomic persistence: the new session snapshot,
// any sweep/signal written alongside it, and the audit row explaining it.
// From is the state the writer observed; the commit fails if it no longer holds.
type Transition struct {
	From       State
	Version    int64
	Session    *Session
	Sweep      *Sweep
	Signal     *Signal
	Confluence *ConfluenceResult
	Audit      AuditRecord
}

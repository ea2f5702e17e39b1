package models

// Requests for the ops HTTP endpoints. Defined in domain so the CLI and the
// handlers share the same validation rules.

type SessionRequest struct {
	Symbol string `param:"symbol" json:"symbol" validate:"required,alphanum,min=3,max=12"`
	// Day defaults to today's trading day.
	Day string `query:"day" json:"day" validate:"omitempty,datetime=2006-01-02"`
}

type AuditListRequest struct {
	Symbol string `param:"symbol" json:"symbol" validate:"required,alphanum,min=3,max=12"`
	Day    string `query:"day" json:"day" validate:"omitempty,datetime=2006-01-02"`
	Limit  int    `query:"limit" json:"limit" default:"50" validate:"gte=1,lte=1000"`
}

type ResetRequest struct {
	Symbol string `param:"symbol" json:"symbol" validate:"required,alphanum,min=3,max=12"`
	Target State  `json:"target" default:"IDLE" validate:"oneof=IDLE COOLDOWN"`
	Reason string `json:"reason" validate:"required,min=3,max=256"`
}

type EvaluateRequest struct {
	Symbol string `json:"symbol" validate:"required,alphanum,min=3,max=12"`
}

// SessionView is the read model returned by the status endpoint.
type SessionView struct {
	Session    *Session          `json:"session"`
	Sweep      *Sweep            `json:"sweep,omitempty"`
	Signal     *Signal           `json:"signal,omitempty"`
	Confluence *ConfluenceResult `json:"confluence,omitempty"`
}

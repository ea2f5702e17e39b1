package models

// StepResult describes one tick of the state machine. Reason is never empty
// when Transitioned is false.
type StepResult struct {
	SessionID    string `json:"session_id"`
	Symbol       string `json:"symbol"`
	Stage        string `json:"stage"`
	From         State  `json:"from"`
	To           State  `json:"to"`
	Transitioned bool   `json:"transitioned"`
	Reason       string `json:"reason"`
}

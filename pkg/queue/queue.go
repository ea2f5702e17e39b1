// Package queue is a small Redis list-backed job queue with delayed retries
// and a dead-letter list.
package queue

import (
	"context"
	"encoding/json"
	"time"
)

// Job handles every message of one type.
type Job interface {
	Type() string
	Handle(ctx context.Context, payload []byte) error
}

type Config struct {
	Workers     int           // concurrent BRPOP loops
	RetryLimit  int           // attempts after the first before dead-lettering
	RetryDelay  time.Duration // delay before a failed message is re-queued
	PollTimeout time.Duration // BRPOP block time
}

func (c *Config) applyDefaults() {
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 10 * time.Second
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = time.Second
	}
}

// Message is the envelope stored in Redis.
type Message struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	Attempts   int             `json:"attempts"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// Package queue is a small Redis list queue: LPUSH to enqueue, BRPOP workers, a sorted
// set for delayed retries and a dead-letter list once retries run out.
package queue

import (
	"context"
	"encoding/json"
	"time"
)

// Job handles one message type.
type Job interface {
	Name() string
	Type() string
	Handle(ctx context.Context, msg *Message) error
}

// Publisher is the enqueue side.
type Publisher interface {
	Enqueue(ctx context.Context, msgType, requestID string, payload interface{}) error
}

type Config struct {
	Workers    int           `yaml:"workers" default:"2"`
	RetryLimit int           `yaml:"retry_limit" default:"3"`
	RetryDelay time.Duration `yaml:"retry_delay" default:"10s"`
	KeyPrefix  string        `yaml:"key_prefix" default:"arbrelay:bus"`
}

// Message is the envelope stored in Redis. Payload stays raw until a Job decodes it.
type Message struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	Attempts  int             `json:"attempts"`
	Timestamp time.Time       `json:"timestamp"`
}

// Decode unmarshals the payload into dest.
func (m *Message) Decode(dest interface{}) error {
	return json.Unmarshal(m.Payload, dest)
}

type keys struct {
	queue, retry, dead string
}

func keysFor(prefix string) keys {
	if prefix == "" {
		prefix = "arbrelay:bus"
	}
	return keys{queue: prefix + ":queue", retry: prefix + ":retry", dead: prefix + ":dead"}
}

type action int

const (
	actionDone action = iota
	actionRetry
	actionDead
)

// decide maps a handler outcome to what happens to the message next.
func decide(err error, attempts, limit int) action {
	switch {
	case err == nil:
		return actionDone
	case attempts < limit:
		return actionRetry
	default:
		return actionDead
	}
}

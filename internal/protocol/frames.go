// Package protocol defines the frames exchanged between the relay and agents over the
// persistent websocket. Every frame is one JSON text message.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"ArbRelay/internal/domain/apperr"
)

type FrameType string

const (
	FrameRegister   FrameType = "register"
	FrameRegistered FrameType = "registered"
	FrameRequest    FrameType = "request"
	FrameResponse   FrameType = "response"
	FramePing       FrameType = "ping"
	FramePong       FrameType = "pong"
)

type Frame struct {
	Type       FrameType       `json:"type"`
	RequestID  string          `json:"request_id,omitempty"`
	UserID     string          `json:"user_id,omitempty"`
	AuthToken  string          `json:"auth_token,omitempty"`
	Op         Op              `json:"op,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      *apperr.Error   `json:"error,omitempty"`
	DeadlineMs int64           `json:"deadline_ms,omitempty"`
	SentAtMs   int64           `json:"sent_at_ms,omitempty"`
}

func NewRegister(userID, token string) *Frame {
	return &Frame{Type: FrameRegister, UserID: userID, AuthToken: token, SentAtMs: nowMs()}
}

// NewRegistered acknowledges a registration; a non-nil err rejects it.
func NewRegistered(userID string, err *apperr.Error) *Frame {
	return &Frame{Type: FrameRegistered, UserID: userID, Error: err, SentAtMs: nowMs()}
}

func NewRequest(requestID string, op Op, payload interface{}, deadline time.Time) (*Frame, error) {
	raw, err := marshalRaw(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", op, err)
	}
	return &Frame{
		Type:       FrameRequest,
		RequestID:  requestID,
		Op:         op,
		Payload:    raw,
		DeadlineMs: deadline.UnixMilli(),
		SentAtMs:   nowMs(),
	}, nil
}

// NewResponse builds the reply to requestID. A non-nil err wins over result.
func NewResponse(requestID string, result interface{}, err error) *Frame {
	f := &Frame{Type: FrameResponse, RequestID: requestID, SentAtMs: nowMs()}
	if err != nil {
		f.Error = apperr.Wrap(err)
		return f
	}
	raw, mErr := marshalRaw(result)
	if mErr != nil {
		f.Error = apperr.Internal("encode result", mErr)
		return f
	}
	f.Result = raw
	return f
}

func Ping() *Frame { return &Frame{Type: FramePing, SentAtMs: nowMs()} }
func Pong() *Frame { return &Frame{Type: FramePong, SentAtMs: nowMs()} }

func Encode(f *Frame) ([]byte, error) {
	return json.Marshal(f)
}

func Decode(b []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	if f.Type == "" {
		return nil, fmt.Errorf("decode frame: missing type")
	}
	return &f, nil
}

// Deadline returns the request deadline, zero if none was sent.
func (f *Frame) Deadline() time.Time {
	if f.DeadlineMs == 0 {
		return time.Time{}
	}
	return time.UnixMilli(f.DeadlineMs)
}

func marshalRaw(v interface{}) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(v)
}

func nowMs() int64 { return time.Now().UnixMilli() }

// Package audit records masked transaction events for traceability. Sinks are
// best-effort: a failed append is logged by the caller, never fatal.
package audit

import (
	"context"
	"time"

	"github.com/lumapay/paybot/internal/mask"
)

// Event types emitted by the conversation orchestrator.
const (
	EventTurn      = "conversation_turn"
	EventCancelled = "payment_cancelled"
	EventTokenized = "payment_tokenized"
	EventDeclined  = "payment_declined"
	EventError     = "payment_error"
)

// Event is one masked audit record.
type Event struct {
	SessionID  string         `json:"sessionId"`
	Timestamp  time.Time      `json:"timestamp"`
	EventType  string         `json:"eventType"`
	Data       map[string]any `json:"data"`
	Compliance Compliance     `json:"compliance"`
}

// Compliance annotates every record with the masking guarantees it carries.
type Compliance struct {
	CHDMasked bool `json:"chd_masked"`
	AISafe    bool `json:"ai_safe"`
}

// Sink appends audit events to durable (or test) storage.
type Sink interface {
	Append(ctx context.Context, event Event) error
}

// NewEvent builds a record with the payload run through the masker one more
// time. Callers already mask; the sink boundary does not trust them.
func NewEvent(sessionID, eventType string, data map[string]any) Event {
	masked, _ := mask.Payload(data).(map[string]any)
	return Event{
		SessionID:  sessionID,
		Timestamp:  time.Now().UTC(),
		EventType:  eventType,
		Data:       masked,
		Compliance: Compliance{CHDMasked: true, AISafe: true},
	}
}

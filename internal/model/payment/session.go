package payment

import (
	"time"

	"github.com/lumapay/paybot/internal/mask"
)

// Field names the values collected over the conversation.
const (
	FieldName   = "name"
	FieldCard   = "card"
	FieldExpiry = "expiry"
	FieldCvv    = "cvv"
)

// HistoryLimit caps the retained conversation turns per session.
const HistoryLimit = 10

// Turn is one conversation exchange entry. Text is always masked before it is
// appended, so history can be persisted and replayed to the AI responder.
type Turn struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// Session captures one payment conversation. Raw card number and CVV are never
// part of this struct; Collected holds the masked forms only.
type Session struct {
	ID          string            `json:"sessionId"`
	CurrentStep Step              `json:"currentStep"`
	Status      Status            `json:"status"`
	Collected   map[string]string `json:"collectedData"`
	History     []Turn            `json:"conversationHistory"`

	PaymentToken string `json:"paymentToken,omitempty"`
	CardBrand    string `json:"cardBrand,omitempty"`
	Last4        string `json:"last4,omitempty"`

	// Version drives the store's compare-and-swap; zero means never persisted.
	Version     int64     `json:"version"`
	CreatedAt   time.Time `json:"createdAt"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// NewSession starts a fresh session at the head of the collection sequence.
func NewSession(id string) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:          id,
		CurrentStep: StepName,
		Status:      StatusCollecting,
		Collected:   make(map[string]string),
		History:     make([]Turn, 0, HistoryLimit),
		CreatedAt:   now,
		LastUpdated: now,
	}
}

// SetStep moves the session and keeps the mirrored status in sync.
func (s *Session) SetStep(step Step) {
	s.CurrentStep = step
	s.Status = step.Status()
}

// AppendTurn records a conversation turn and evicts the oldest beyond the cap.
func (s *Session) AppendTurn(role, text string) {
	s.History = append(s.History, Turn{Role: role, Text: text})
	if len(s.History) > HistoryLimit {
		s.History = s.History[len(s.History)-HistoryLimit:]
	}
}

// AllFieldsCollected reports whether every payment field has been captured.
func (s *Session) AllFieldsCollected() bool {
	for _, f := range []string{FieldName, FieldCard, FieldExpiry, FieldCvv} {
		if s.Collected[f] == "" {
			return false
		}
	}
	return true
}

// Sanitize re-masks card data in place. Collected values are masked at
// assignment time already; this is the single funnel every store write goes
// through, so a future caller slipping raw digits in cannot leak them.
func (s *Session) Sanitize() *Session {
	if v, ok := s.Collected[FieldCard]; ok {
		if mask.ContainsPAN(v) {
			masked, _ := mask.Card(v)
			s.Collected[FieldCard] = masked
		}
	}
	if _, ok := s.Collected[FieldCvv]; ok {
		s.Collected[FieldCvv] = "***"
	}
	for i, turn := range s.History {
		s.History[i].Text = mask.FreeText(turn.Text)
	}
	return s
}

// Clone returns a deep copy safe to hand outside the store.
func (s *Session) Clone() *Session {
	out := *s
	out.Collected = make(map[string]string, len(s.Collected))
	for k, v := range s.Collected {
		out.Collected[k] = v
	}
	out.History = append([]Turn(nil), s.History...)
	return &out
}

// CardDetails aggregates raw cardholder data for the one-shot tokenization
// exchange. It lives in the orchestrator's in-process vault and on the wire to
// the tokenization provider, nowhere else.
type CardDetails struct {
	Name     string
	Number   string
	ExpMonth int
	ExpYear  int
	CVV      string
}

// Complete reports whether tokenization can be attempted.
func (c CardDetails) Complete() bool {
	return c.Name != "" && c.Number != "" && c.ExpMonth != 0 && c.ExpYear != 0 && c.CVV != ""
}

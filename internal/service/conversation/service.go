// Package conversation implements the payment-collection state machine. Given
// a session and one inbound message it produces a deterministic transition,
// the outbound response, and a masked audit record, keeping raw cardholder
// data away from the AI responder and from every persisted byte.
package conversation

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lumapay/paybot/internal/audit"
	"github.com/lumapay/paybot/internal/extract"
	"github.com/lumapay/paybot/internal/mask"
	"github.com/lumapay/paybot/internal/model/payment"
	"github.com/lumapay/paybot/internal/service/responder"
	"github.com/lumapay/paybot/internal/service/tokenizer"
	"github.com/lumapay/paybot/internal/store"
	"github.com/lumapay/paybot/internal/validate"
)

// ErrEmptyMessage rejects blank inbound messages before any state is touched.
var ErrEmptyMessage = errors.New("message is empty")

// TerminalPolicy decides what happens when a message arrives for a session
// that already completed or was cancelled.
type TerminalPolicy string

const (
	// TerminalReject answers with a fixed closed-session message.
	TerminalReject TerminalPolicy = "reject"
	// TerminalRestart silently begins a fresh session under the same id.
	TerminalRestart TerminalPolicy = "restart"
)

// DefaultCancelWords is the cancellation synonym set carried over from the
// product flow. "no" is known to be aggressive; it is configurable for a
// reason.
var DefaultCancelWords = []string{
	"cancel", "stop", "quit", "abort", "exit", "no", "nevermind", "never mind",
}

// Options tune the orchestrator.
type Options struct {
	CancelWords    []string
	TerminalPolicy TerminalPolicy
	VaultTTL       time.Duration
	// PutAttempts bounds the reload-and-retry loop on store version conflicts.
	PutAttempts int
}

// Result is the outbound envelope for one processed message.
type Result struct {
	Response    string         `json:"response"`
	SessionID   string         `json:"sessionId"`
	Status      payment.Status `json:"status"`
	CurrentStep payment.Step   `json:"currentStep"`
	StripeToken string         `json:"stripeToken,omitempty"`
	CardBrand   string         `json:"cardBrand,omitempty"`
	Last4       string         `json:"last4,omitempty"`
}

// Service orchestrates extraction, validation, masking, AI phrasing,
// tokenization and persistence for every inbound message.
type Service struct {
	store     store.SessionStore
	responder responder.Responder
	tokens    tokenizer.Tokenizer
	sink      audit.Sink
	logger    *zap.Logger
	opts      Options
	vault     *chdVault

	now func() time.Time
}

// NewService wires the orchestrator. responder may be nil, in which case the
// deterministic fallback prompts carry the whole conversation.
func NewService(st store.SessionStore, rsp responder.Responder, tok tokenizer.Tokenizer, sink audit.Sink, logger *zap.Logger, opts Options) *Service {
	if len(opts.CancelWords) == 0 {
		opts.CancelWords = DefaultCancelWords
	}
	if opts.TerminalPolicy == "" {
		opts.TerminalPolicy = TerminalReject
	}
	if opts.PutAttempts <= 0 {
		opts.PutAttempts = 3
	}
	if sink == nil {
		sink = audit.NopSink{}
	}
	return &Service{
		store:     st,
		responder: rsp,
		tokens:    tok,
		sink:      sink,
		logger:    logger,
		opts:      opts,
		vault:     newVault(opts.VaultTTL),
		now:       time.Now,
	}
}

// ProcessMessage runs one full transition. Store conflicts retry against the
// freshly loaded session; adapter failures become response-level errors; only
// a masking-invariant violation propagates as a hard error.
func (s *Service) ProcessMessage(ctx context.Context, sessionID, message string) (*Result, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, ErrEmptyMessage
	}
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	var minted *tokenizer.Tokenization
	for attempt := 0; attempt < s.opts.PutAttempts; attempt++ {
		sess, err := s.loadOrCreate(ctx, sessionID)
		if err != nil {
			s.logger.Error("failed to load session",
				zap.String("session_id", sessionID), zap.Error(err))
			return &Result{
				Response:    msgStoreFailure,
				SessionID:   sessionID,
				Status:      payment.StatusError,
				CurrentStep: payment.StepErrored,
			}, nil
		}
		expected := sess.Version
		prior := sess.Clone()

		var outcome *turnOutcome
		if minted != nil {
			// A previous attempt already minted the token and lost the write
			// race. Merge the result into the fresh session instead of
			// re-running the turn; the provider is never called twice.
			applyTokenization(sess, minted)
			outcome = &turnOutcome{response: successMessage(minted), event: audit.EventTokenized}
			s.appendTurns(sess, message, outcome.response)
		} else {
			if sess.CurrentStep.Terminal() {
				if res, done := s.handleTerminal(sess, message); done {
					return res, nil
				}
				fresh := payment.NewSession(sess.ID)
				fresh.Version = sess.Version
				sess = fresh
			}
			if sess.CurrentStep == payment.StepErrored {
				// The failure reply invited a retry; collection starts over,
				// card details are re-entered from scratch.
				fresh := payment.NewSession(sess.ID)
				fresh.Version = sess.Version
				sess = fresh
			}

			outcome, err = s.processTurn(ctx, sess, message)
			if err != nil {
				return nil, err
			}
			if outcome.minted != nil {
				minted = outcome.minted
			}
		}

		if err := s.store.Put(ctx, sess.Sanitize(), expected); err != nil {
			if errors.Is(err, store.ErrVersionConflict) {
				s.logger.Warn("session version conflict, retrying message",
					zap.String("session_id", sess.ID), zap.Int("attempt", attempt+1))
				continue
			}
			// Transition aborted: prior state stays untouched in the store.
			s.logger.Error("failed to persist session",
				zap.String("session_id", sess.ID), zap.Error(err))
			return buildResult(prior, msgStoreFailure), nil
		}

		s.recordAudit(ctx, sess, outcome)
		return buildResult(sess, outcome.response), nil
	}

	s.logger.Error("session conflict retries exhausted", zap.String("session_id", sessionID))
	return &Result{
		Response:    msgStoreFailure,
		SessionID:   sessionID,
		Status:      payment.StatusError,
		CurrentStep: payment.StepErrored,
	}, nil
}

type turnOutcome struct {
	response string
	event    string
	// minted carries a tokenization result that still has to survive the
	// store write; a version conflict must not re-run the provider call.
	minted *tokenizer.Tokenization
}

func (s *Service) processTurn(ctx context.Context, sess *payment.Session, message string) (*turnOutcome, error) {
	if s.isCancellation(message) {
		sess.SetStep(payment.StepCancelled)
		s.vault.clear(sess.ID)
		return &turnOutcome{response: msgFarewell, event: audit.EventCancelled}, nil
	}

	if sess.Status == payment.StatusAwaitingConfirmation && containsConfirm(message) {
		outcome := s.handleConfirmation(ctx, sess)
		s.appendTurns(sess, message, outcome.response)
		return outcome, nil
	}

	validationErr := ""
	if value, ok := extract.Value(message, sess.CurrentStep); ok {
		validationErr = s.applyField(sess, value)
	}

	var response string
	switch {
	case validationErr != "":
		// Deterministic and verbatim; the AI responder never paraphrases a
		// validation failure.
		response = validationErr
	case sess.CurrentStep == payment.StepConfirmation && sess.AllFieldsCollected():
		// The summary always wins so the user sees exact masked values.
		response = summaryMessage(sess)
	default:
		var err error
		response, err = s.respond(ctx, sess, message)
		if err != nil {
			return nil, err
		}
	}

	s.appendTurns(sess, message, response)
	return &turnOutcome{response: response, event: audit.EventTurn}, nil
}

// applyField validates the extracted value for the current step. It returns
// the re-prompt text on failure, and advances the step on success. Raw card
// number and CVV go into the vault; the session only ever sees masked forms.
func (s *Service) applyField(sess *payment.Session, value string) string {
	switch sess.CurrentStep {
	case payment.StepName:
		sess.Collected[payment.FieldName] = value
		s.vault.update(sess.ID, func(d *payment.CardDetails) { d.Name = value })

	case payment.StepCard:
		if !validate.CardNumber(value) {
			return msgCardInvalid
		}
		masked, last4 := mask.Card(value)
		sess.Collected[payment.FieldCard] = masked
		sess.CardBrand = validate.Brand(value)
		sess.Last4 = last4
		s.vault.update(sess.ID, func(d *payment.CardDetails) { d.Number = value })

	case payment.StepExpiry:
		mm, yy, err := validate.ParseExpiry(value)
		if err != nil || !validate.Expiry(mm, yy, s.now()) {
			return msgExpiryInvalid
		}
		sess.Collected[payment.FieldExpiry] = value
		s.vault.update(sess.ID, func(d *payment.CardDetails) {
			d.ExpMonth = mm
			d.ExpYear = 2000 + yy
		})

	case payment.StepCvv:
		cardDigits := s.vault.peek(sess.ID).Number
		if cardDigits == "" && sess.CardBrand == "amex" {
			// Vault lost (restart); the stored brand still fixes the length.
			cardDigits = "34"
		}
		if !validate.CVV(value, cardDigits) {
			return msgCvvInvalid
		}
		sess.Collected[payment.FieldCvv] = "***"
		s.vault.update(sess.ID, func(d *payment.CardDetails) { d.CVV = value })

	default:
		return ""
	}

	if next, ok := sess.CurrentStep.Next(); ok {
		sess.SetStep(next)
	}
	return ""
}

// handleConfirmation performs the one-shot tokenization exchange. This is the
// only call site where raw CHD leaves the process.
func (s *Service) handleConfirmation(ctx context.Context, sess *payment.Session) *turnOutcome {
	if sess.PaymentToken != "" {
		// Already tokenized; repeat confirms ack without touching the provider.
		return &turnOutcome{
			response: successMessage(&tokenizer.Tokenization{
				Token: sess.PaymentToken, Brand: sess.CardBrand, Last4: sess.Last4,
			}),
			event: audit.EventTurn,
		}
	}

	// Taking the entry removes it, so of two racing confirmations only one
	// can reach the provider; the other sees an empty vault below.
	details, _ := s.vault.take(sess.ID)
	if details.Name == "" {
		details.Name = sess.Collected[payment.FieldName]
	}
	if details.ExpMonth == 0 {
		if mm, yy, err := validate.ParseExpiry(sess.Collected[payment.FieldExpiry]); err == nil {
			details.ExpMonth, details.ExpYear = mm, 2000+yy
		}
	}
	if !details.Complete() {
		// Raw card data did not survive to this turn (vault TTL or restart).
		sess.SetStep(payment.StepErrored)
		return &turnOutcome{response: msgDetailsGone, event: audit.EventError}
	}

	result, err := s.tokens.Tokenize(ctx, details)
	var decline *tokenizer.DeclineError
	switch {
	case err == nil:
		applyTokenization(sess, result)
		s.logger.Info("payment tokenized",
			zap.String("session_id", sess.ID),
			zap.String("brand", result.Brand),
			zap.String("last4", result.Last4))
		return &turnOutcome{response: successMessage(result), event: audit.EventTokenized, minted: result}

	case errors.As(err, &decline):
		sess.SetStep(payment.StepErrored)
		return &turnOutcome{response: declineMessage(decline.Reason), event: audit.EventDeclined}

	default:
		// Transport failure: the session stays confirmable and the details go
		// back into the vault so the user can retry without re-entering them.
		s.vault.restore(sess.ID, details)
		s.logger.Warn("tokenization provider unavailable",
			zap.String("session_id", sess.ID), zap.Error(err))
		return &turnOutcome{response: msgProviderDown, event: audit.EventError}
	}
}

func applyTokenization(sess *payment.Session, result *tokenizer.Tokenization) {
	sess.SetStep(payment.StepCompleted)
	sess.PaymentToken = result.Token
	sess.CardBrand = result.Brand
	sess.Last4 = result.Last4
}

// respond phrases the reply through the AI responder, falling back to the
// deterministic per-step prompt when the responder is absent or down. An
// unsafe-prompt refusal is a masking bug and aborts the whole operation.
func (s *Service) respond(ctx context.Context, sess *payment.Session, message string) (string, error) {
	if s.responder == nil {
		return fallbackPrompt(sess), nil
	}

	text, err := s.responder.Generate(ctx, sess.History, mask.FreeText(message))
	if err != nil {
		if errors.Is(err, responder.ErrUnsafePrompt) {
			s.logger.Error("masking invariant violated, aborting message",
				zap.String("session_id", sess.ID))
			return "", err
		}
		s.logger.Warn("AI responder unavailable, using fallback prompt",
			zap.String("session_id", sess.ID), zap.Error(err))
		return fallbackPrompt(sess), nil
	}
	return text, nil
}

func (s *Service) appendTurns(sess *payment.Session, userMessage, response string) {
	sess.AppendTurn("user", mask.FreeText(userMessage))
	sess.AppendTurn("assistant", response)
}

func (s *Service) handleTerminal(sess *payment.Session, message string) (*Result, bool) {
	// A repeated confirm against a completed session stays idempotent no
	// matter the policy: acknowledge the existing token, never re-tokenize.
	if sess.CurrentStep == payment.StepCompleted && sess.PaymentToken != "" && containsConfirm(message) {
		return buildResult(sess, successMessage(&tokenizer.Tokenization{
			Token: sess.PaymentToken, Brand: sess.CardBrand, Last4: sess.Last4,
		})), true
	}
	if s.opts.TerminalPolicy == TerminalReject {
		return buildResult(sess, msgSessionClosed), true
	}
	return nil, false
}

// Snapshot returns the persisted, sanitized view of a session for read-only
// consumers. Raw CHD is never part of the stored record, so this is safe to
// expose as-is.
func (s *Service) Snapshot(ctx context.Context, sessionID string) (*payment.Session, error) {
	return s.store.Get(ctx, sessionID)
}

func (s *Service) loadOrCreate(ctx context.Context, sessionID string) (*payment.Session, error) {
	sess, err := s.store.Get(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return payment.NewSession(sessionID), nil
	}
	if err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *Service) isCancellation(message string) bool {
	lower := strings.ToLower(message)
	words := make(map[string]struct{})
	for _, w := range strings.FieldsFunc(lower, func(r rune) bool {
		return !('a' <= r && r <= 'z')
	}) {
		words[w] = struct{}{}
	}

	for _, cancel := range s.opts.CancelWords {
		if strings.Contains(cancel, " ") {
			if strings.Contains(lower, cancel) {
				return true
			}
			continue
		}
		if _, ok := words[cancel]; ok {
			return true
		}
	}
	return false
}

func (s *Service) recordAudit(ctx context.Context, sess *payment.Session, outcome *turnOutcome) {
	collected := make(map[string]any, len(sess.Collected))
	for k, v := range sess.Collected {
		collected[k] = v
	}
	event := audit.NewEvent(sess.ID, outcome.event, map[string]any{
		"status":        string(sess.Status),
		"currentStep":   string(sess.CurrentStep),
		"collectedData": collected,
		"response":      mask.FreeText(outcome.response),
	})
	if err := s.sink.Append(ctx, event); err != nil {
		s.logger.Warn("failed to append audit event",
			zap.String("session_id", sess.ID), zap.Error(err))
	}
}

func containsConfirm(message string) bool {
	return strings.Contains(strings.ToLower(message), "confirm")
}

func buildResult(sess *payment.Session, response string) *Result {
	res := &Result{
		Response:    response,
		SessionID:   sess.ID,
		Status:      sess.Status,
		CurrentStep: sess.CurrentStep,
	}
	if sess.Status == payment.StatusComplete {
		res.StripeToken = sess.PaymentToken
		res.CardBrand = sess.CardBrand
		res.Last4 = sess.Last4
	}
	return res
}

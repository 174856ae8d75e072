package conversation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lumapay/paybot/internal/audit"
	"github.com/lumapay/paybot/internal/model/payment"
	"github.com/lumapay/paybot/internal/service/responder"
	"github.com/lumapay/paybot/internal/service/tokenizer"
	"github.com/lumapay/paybot/internal/store"
)

var testNow = time.Date(2026, time.September, 1, 12, 0, 0, 0, time.UTC)

type scriptedTokenizer struct {
	result   *tokenizer.Tokenization
	err      error
	calls    int
	lastCard payment.CardDetails
}

func (f *scriptedTokenizer) Tokenize(_ context.Context, card payment.CardDetails) (*tokenizer.Tokenization, error) {
	f.calls++
	f.lastCard = card
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type scriptedResponder struct {
	reply string
	err   error
}

func (f *scriptedResponder) Generate(context.Context, []payment.Turn, string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func newTestService(tok tokenizer.Tokenizer, rsp responder.Responder, opts Options) (*Service, *store.MemoryStore, *audit.MemorySink) {
	st := store.NewMemoryStore()
	sink := &audit.MemorySink{}
	svc := NewService(st, rsp, tok, sink, zap.NewNop(), opts)
	svc.now = func() time.Time { return testNow }
	return svc, st, sink
}

func send(t *testing.T, svc *Service, sessionID, message string) *Result {
	t.Helper()
	res, err := svc.ProcessMessage(context.Background(), sessionID, message)
	require.NoError(t, err)
	return res
}

func collectAllFields(t *testing.T, svc *Service, sessionID string) {
	t.Helper()
	send(t, svc, sessionID, "jane doe")
	send(t, svc, sessionID, "4242 4242 4242 4242")
	send(t, svc, sessionID, "12/30")
	res := send(t, svc, sessionID, "123")
	require.Equal(t, payment.StatusAwaitingConfirmation, res.Status)
}

func TestFullCollectionFlow(t *testing.T) {
	tok := &scriptedTokenizer{result: &tokenizer.Tokenization{Token: "pm_abc123", Brand: "visa", Last4: "4242"}}
	svc, _, sink := newTestService(tok, nil, Options{})

	res := send(t, svc, "", "hi")
	require.NotEmpty(t, res.SessionID)
	require.Equal(t, payment.StatusCollecting, res.Status)
	require.Equal(t, payment.StepName, res.CurrentStep)
	id := res.SessionID

	res = send(t, svc, id, "jane doe")
	require.Equal(t, payment.StepCard, res.CurrentStep)
	require.Contains(t, res.Response, "Jane")

	res = send(t, svc, id, "4242 4242 4242 4242")
	require.Equal(t, payment.StepExpiry, res.CurrentStep)
	require.NotContains(t, res.Response, "4242 4242")

	res = send(t, svc, id, "12/30")
	require.Equal(t, payment.StepCvv, res.CurrentStep)

	res = send(t, svc, id, "123")
	require.Equal(t, payment.StatusAwaitingConfirmation, res.Status)
	require.Contains(t, res.Response, "Jane Doe")
	require.Contains(t, res.Response, "************4242")
	require.Contains(t, res.Response, "CVV: ***")

	res = send(t, svc, id, "confirm")
	require.Equal(t, payment.StatusComplete, res.Status)
	require.Equal(t, "pm_abc123", res.StripeToken)
	require.Equal(t, "visa", res.CardBrand)
	require.Equal(t, "4242", res.Last4)
	require.Equal(t, 1, tok.calls)

	require.Equal(t, "Jane Doe", tok.lastCard.Name)
	require.Equal(t, "4242424242424242", tok.lastCard.Number)
	require.Equal(t, 12, tok.lastCard.ExpMonth)
	require.Equal(t, 2030, tok.lastCard.ExpYear)
	require.Equal(t, "123", tok.lastCard.CVV)

	var events []string
	for _, e := range sink.Events {
		events = append(events, e.EventType)
	}
	require.Contains(t, events, audit.EventTokenized)
}

func TestEmptyMessageRejected(t *testing.T) {
	svc, _, _ := newTestService(&scriptedTokenizer{}, nil, Options{})
	_, err := svc.ProcessMessage(context.Background(), "s1", "   ")
	require.ErrorIs(t, err, ErrEmptyMessage)
}

func TestInvalidCardRepromptsVerbatim(t *testing.T) {
	svc, _, _ := newTestService(&scriptedTokenizer{}, &scriptedResponder{reply: "paraphrased"}, Options{})

	send(t, svc, "s1", "jane doe")
	res := send(t, svc, "s1", "4242424242424241")
	require.Equal(t, msgCardInvalid, res.Response)
	require.Equal(t, payment.StepCard, res.CurrentStep)
}

func TestInvalidExpiryAndCvvReprompt(t *testing.T) {
	svc, _, _ := newTestService(&scriptedTokenizer{}, nil, Options{})

	send(t, svc, "s1", "jane doe")
	send(t, svc, "s1", "4242424242424242")

	res := send(t, svc, "s1", "01/20")
	require.Equal(t, msgExpiryInvalid, res.Response)
	require.Equal(t, payment.StepExpiry, res.CurrentStep)

	send(t, svc, "s1", "12/30")
	res = send(t, svc, "s1", "1234")
	require.Equal(t, msgCvvInvalid, res.Response)
	require.Equal(t, payment.StepCvv, res.CurrentStep)
}

func TestAmexRequiresFourDigitCvv(t *testing.T) {
	tok := &scriptedTokenizer{result: &tokenizer.Tokenization{Token: "pm_x", Brand: "amex", Last4: "0005"}}
	svc, _, _ := newTestService(tok, nil, Options{})

	send(t, svc, "s1", "jane doe")
	send(t, svc, "s1", "378282246310005")
	send(t, svc, "s1", "12/30")

	res := send(t, svc, "s1", "123")
	require.Equal(t, msgCvvInvalid, res.Response)

	res = send(t, svc, "s1", "1234")
	require.Equal(t, payment.StatusAwaitingConfirmation, res.Status)
}

func TestCancellationAtAnyPoint(t *testing.T) {
	svc, _, sink := newTestService(&scriptedTokenizer{}, nil, Options{})

	send(t, svc, "s1", "jane doe")
	send(t, svc, "s1", "4242424242424242")

	res := send(t, svc, "s1", "actually, cancel that")
	require.Equal(t, payment.StatusCancelled, res.Status)
	require.Equal(t, msgFarewell, res.Response)

	last := sink.Events[len(sink.Events)-1]
	require.Equal(t, audit.EventCancelled, last.EventType)
}

func TestCancellationMatchesWholeWordsOnly(t *testing.T) {
	svc, _, _ := newTestService(&scriptedTokenizer{}, nil, Options{})

	res := send(t, svc, "s1", "I don't know the exact spelling of my name")
	require.NotEqual(t, payment.StatusCancelled, res.Status)

	res = send(t, svc, "s1", "no thanks")
	require.Equal(t, payment.StatusCancelled, res.Status)
}

func TestDeclineMovesSessionToError(t *testing.T) {
	tok := &scriptedTokenizer{err: &tokenizer.DeclineError{Reason: "insufficient funds"}}
	svc, _, sink := newTestService(tok, nil, Options{})

	collectAllFields(t, svc, "s1")
	res := send(t, svc, "s1", "confirm")
	require.Equal(t, payment.StatusError, res.Status)
	require.Contains(t, res.Response, "insufficient funds")
	require.Empty(t, res.StripeToken)

	last := sink.Events[len(sink.Events)-1]
	require.Equal(t, audit.EventDeclined, last.EventType)
}

func TestProviderOutageKeepsSessionConfirmable(t *testing.T) {
	tok := &scriptedTokenizer{err: tokenizer.ErrUnavailable}
	svc, _, _ := newTestService(tok, nil, Options{})

	collectAllFields(t, svc, "s1")
	res := send(t, svc, "s1", "confirm")
	require.Equal(t, payment.StatusAwaitingConfirmation, res.Status)
	require.Equal(t, msgProviderDown, res.Response)

	// Provider recovers; the retained details complete without re-entry.
	tok.err = nil
	tok.result = &tokenizer.Tokenization{Token: "pm_retry", Brand: "visa", Last4: "4242"}
	res = send(t, svc, "s1", "confirm")
	require.Equal(t, payment.StatusComplete, res.Status)
	require.Equal(t, "pm_retry", res.StripeToken)
	require.Equal(t, 2, tok.calls)
}

// gatedTokenizer blocks inside the provider call so a second confirmation can
// be delivered while the first is still in flight.
type gatedTokenizer struct {
	mu      sync.Mutex
	calls   int
	entered chan struct{}
	release chan struct{}
}

func (g *gatedTokenizer) Tokenize(context.Context, payment.CardDetails) (*tokenizer.Tokenization, error) {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()
	g.entered <- struct{}{}
	<-g.release
	return &tokenizer.Tokenization{Token: "pm_gated", Brand: "visa", Last4: "4242"}, nil
}

func TestConcurrentConfirmTokenizesOnce(t *testing.T) {
	tok := &gatedTokenizer{entered: make(chan struct{}, 2), release: make(chan struct{})}
	svc, _, _ := newTestService(tok, nil, Options{})

	collectAllFields(t, svc, "s1")

	firstDone := make(chan *Result, 1)
	firstErr := make(chan error, 1)
	go func() {
		res, err := svc.ProcessMessage(context.Background(), "s1", "confirm")
		firstErr <- err
		firstDone <- res
	}()

	// Wait until the first confirmation is inside the provider call, then
	// deliver a second one while it is still pending.
	<-tok.entered
	second := send(t, svc, "s1", "confirm")
	require.Equal(t, msgDetailsGone, second.Response)

	close(tok.release)
	require.NoError(t, <-firstErr)
	first := <-firstDone

	require.Equal(t, payment.StatusComplete, first.Status)
	require.Equal(t, "pm_gated", first.StripeToken)
	require.Equal(t, 1, tok.calls)
}

type confirmConflictStore struct {
	store.SessionStore
	injected bool
}

func (s *confirmConflictStore) Put(ctx context.Context, sess *payment.Session, expectedVersion int64) error {
	if !s.injected && sess.Status == payment.StatusComplete {
		// Simulate a concurrent writer landing between load and save.
		s.injected = true
		return store.ErrVersionConflict
	}
	return s.SessionStore.Put(ctx, sess, expectedVersion)
}

func TestTokenSurvivesWriteConflictAtConfirmation(t *testing.T) {
	st := &confirmConflictStore{SessionStore: store.NewMemoryStore()}
	tok := &scriptedTokenizer{result: &tokenizer.Tokenization{Token: "pm_keep", Brand: "visa", Last4: "4242"}}
	svc := NewService(st, nil, tok, nil, zap.NewNop(), Options{})
	svc.now = func() time.Time { return testNow }

	collectAllFields(t, svc, "s1")
	res := send(t, svc, "s1", "confirm")

	require.Equal(t, payment.StatusComplete, res.Status)
	require.Equal(t, "pm_keep", res.StripeToken)
	require.Equal(t, 1, tok.calls)

	stored, err := st.Get(context.Background(), "s1")
	require.NoError(t, err)
	require.Equal(t, "pm_keep", stored.PaymentToken)
}

func TestErroredSessionRestartsCollection(t *testing.T) {
	tok := &scriptedTokenizer{err: &tokenizer.DeclineError{Reason: "insufficient funds"}}
	svc, _, _ := newTestService(tok, nil, Options{})

	collectAllFields(t, svc, "s1")
	res := send(t, svc, "s1", "confirm")
	require.Equal(t, payment.StatusError, res.Status)

	// The decline reply invites another attempt; the next message starts over.
	res = send(t, svc, "s1", "jane doe")
	require.Equal(t, payment.StatusCollecting, res.Status)
	require.Equal(t, payment.StepCard, res.CurrentStep)
}

func TestRepeatedConfirmIsIdempotent(t *testing.T) {
	tok := &scriptedTokenizer{result: &tokenizer.Tokenization{Token: "pm_once", Brand: "visa", Last4: "4242"}}
	svc, _, _ := newTestService(tok, nil, Options{})

	collectAllFields(t, svc, "s1")
	send(t, svc, "s1", "confirm")

	res := send(t, svc, "s1", "confirm")
	require.Equal(t, payment.StatusComplete, res.Status)
	require.Equal(t, "pm_once", res.StripeToken)
	require.Equal(t, 1, tok.calls)
}

func TestTerminalRejectPolicy(t *testing.T) {
	svc, _, _ := newTestService(&scriptedTokenizer{}, nil, Options{})

	send(t, svc, "s1", "cancel")
	res := send(t, svc, "s1", "hello again")
	require.Equal(t, msgSessionClosed, res.Response)
	require.Equal(t, payment.StatusCancelled, res.Status)
}

func TestTerminalRestartPolicy(t *testing.T) {
	svc, _, _ := newTestService(&scriptedTokenizer{}, nil, Options{TerminalPolicy: TerminalRestart})

	send(t, svc, "s1", "cancel")
	res := send(t, svc, "s1", "jane doe")
	require.Equal(t, payment.StatusCollecting, res.Status)
	require.Equal(t, payment.StepCard, res.CurrentStep)
}

func TestVaultLossAtConfirmation(t *testing.T) {
	ctx := context.Background()
	svc, st, _ := newTestService(&scriptedTokenizer{}, nil, Options{})

	// A session persisted by another instance: all fields masked, no local vault.
	sess := payment.NewSession("s1")
	sess.Collected[payment.FieldName] = "Jane Doe"
	sess.Collected[payment.FieldCard] = "************4242"
	sess.Collected[payment.FieldExpiry] = "12/30"
	sess.Collected[payment.FieldCvv] = "***"
	sess.CardBrand = "visa"
	sess.Last4 = "4242"
	sess.SetStep(payment.StepConfirmation)
	require.NoError(t, st.Put(ctx, sess, 0))

	res := send(t, svc, "s1", "confirm")
	require.Equal(t, payment.StatusError, res.Status)
	require.Equal(t, msgDetailsGone, res.Response)
}

func TestPersistedSessionNeverHoldsRawCard(t *testing.T) {
	ctx := context.Background()
	svc, st, sink := newTestService(&scriptedTokenizer{}, nil, Options{})

	send(t, svc, "s1", "jane doe")
	send(t, svc, "s1", "my card is 4242 4242 4242 4242")

	stored, err := st.Get(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, "************4242", stored.Collected[payment.FieldCard])
	for _, turn := range stored.History {
		require.NotContains(t, turn.Text, "4242 4242")
	}
	for _, event := range sink.Events {
		require.True(t, event.Compliance.CHDMasked)
	}
}

func TestResponderFallbackWhenDown(t *testing.T) {
	rsp := &scriptedResponder{err: errors.New("model timeout")}
	svc, _, _ := newTestService(&scriptedTokenizer{}, rsp, Options{})

	res := send(t, svc, "s1", "hello")
	require.Contains(t, res.Response, "full name")
}

func TestUnsafePromptAbortsMessage(t *testing.T) {
	rsp := &scriptedResponder{err: responder.ErrUnsafePrompt}
	svc, st, _ := newTestService(&scriptedTokenizer{}, rsp, Options{})

	_, err := svc.ProcessMessage(context.Background(), "s1", "hello")
	require.ErrorIs(t, err, responder.ErrUnsafePrompt)

	// The aborted transition left nothing behind.
	_, err = st.Get(context.Background(), "s1")
	require.ErrorIs(t, err, store.ErrNotFound)
}

type conflictingStore struct {
	store.SessionStore
	conflicts int
}

func (s *conflictingStore) Put(ctx context.Context, sess *payment.Session, expectedVersion int64) error {
	if s.conflicts > 0 {
		s.conflicts--
		return store.ErrVersionConflict
	}
	return s.SessionStore.Put(ctx, sess, expectedVersion)
}

func TestVersionConflictRetries(t *testing.T) {
	st := &conflictingStore{SessionStore: store.NewMemoryStore(), conflicts: 2}
	svc := NewService(st, nil, &scriptedTokenizer{}, nil, zap.NewNop(), Options{})
	svc.now = func() time.Time { return testNow }

	res := send(t, svc, "s1", "jane doe")
	require.Equal(t, payment.StepCard, res.CurrentStep)
	require.Zero(t, st.conflicts)
}

func TestConflictRetriesExhausted(t *testing.T) {
	st := &conflictingStore{SessionStore: store.NewMemoryStore(), conflicts: 100}
	svc := NewService(st, nil, &scriptedTokenizer{}, nil, zap.NewNop(), Options{PutAttempts: 2})

	res := send(t, svc, "s1", "jane doe")
	require.Equal(t, msgStoreFailure, res.Response)
	require.Equal(t, payment.StatusError, res.Status)
}

func TestHistoryCappedAtLimit(t *testing.T) {
	svc, st, _ := newTestService(&scriptedTokenizer{}, nil, Options{})

	for i := 0; i < 12; i++ {
		send(t, svc, "s1", "not a valid name "+strings.Repeat("x", i+1))
	}

	stored, err := st.Get(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, stored.History, payment.HistoryLimit)
}

func TestSnapshotReturnsPersistedView(t *testing.T) {
	svc, _, _ := newTestService(&scriptedTokenizer{}, nil, Options{})

	send(t, svc, "s1", "jane doe")
	sess, err := svc.Snapshot(context.Background(), "s1")
	require.NoError(t, err)
	require.Equal(t, "s1", sess.ID)
	require.Equal(t, payment.StepCard, sess.CurrentStep)

	_, err = svc.Snapshot(context.Background(), "missing")
	require.ErrorIs(t, err, store.ErrNotFound)
}

package payment_test

import (
	"strings"
	"testing"

	"github.com/lumapay/paybot/internal/model/payment"
)

func TestStepOrder(t *testing.T) {
	order := []payment.Step{
		payment.StepName, payment.StepCard, payment.StepExpiry,
		payment.StepCvv, payment.StepConfirmation,
	}
	for i := 0; i < len(order)-1; i++ {
		next, ok := order[i].Next()
		if !ok {
			t.Fatalf("%s has no next step", order[i])
		}
		if next != order[i+1] {
			t.Fatalf("%s advances to %s, want %s", order[i], next, order[i+1])
		}
	}
	if _, ok := payment.StepConfirmation.Next(); ok {
		t.Fatal("confirmation must not advance through the collection order")
	}
}

func TestStepTerminal(t *testing.T) {
	if !payment.StepCompleted.Terminal() || !payment.StepCancelled.Terminal() {
		t.Fatal("completed and cancelled are terminal")
	}
	if payment.StepErrored.Terminal() {
		t.Fatal("errored must stay re-enterable")
	}
	if payment.StepName.Terminal() {
		t.Fatal("collection steps are not terminal")
	}
}

func TestParseStepRejectsUnknown(t *testing.T) {
	if _, err := payment.ParseStep("awaiting_card"); err != nil {
		t.Fatalf("ParseStep err: %v", err)
	}
	if _, err := payment.ParseStep("awaiting_fax"); err == nil {
		t.Fatal("unknown step accepted")
	}
}

func TestSetStepSyncsStatus(t *testing.T) {
	s := payment.NewSession("s1")
	s.SetStep(payment.StepConfirmation)
	if s.Status != payment.StatusAwaitingConfirmation {
		t.Fatalf("status = %s", s.Status)
	}
	s.SetStep(payment.StepCompleted)
	if s.Status != payment.StatusComplete {
		t.Fatalf("status = %s", s.Status)
	}
}

func TestSanitizeMasksLeakedData(t *testing.T) {
	s := payment.NewSession("s1")
	s.Collected[payment.FieldCard] = "4242424242424242"
	s.Collected[payment.FieldCvv] = "123"
	s.AppendTurn("user", "card 4242 4242 4242 4242 please")

	s.Sanitize()

	if s.Collected[payment.FieldCard] != "************4242" {
		t.Fatalf("card = %q", s.Collected[payment.FieldCard])
	}
	if s.Collected[payment.FieldCvv] != "***" {
		t.Fatalf("cvv = %q", s.Collected[payment.FieldCvv])
	}
	if strings.Contains(s.History[0].Text, "4242 4242") {
		t.Fatalf("history still holds a digit run: %q", s.History[0].Text)
	}
}

func TestSanitizeKeepsMaskedValues(t *testing.T) {
	s := payment.NewSession("s1")
	s.Collected[payment.FieldCard] = "************4242"
	s.Sanitize()
	if s.Collected[payment.FieldCard] != "************4242" {
		t.Fatalf("card = %q", s.Collected[payment.FieldCard])
	}
}

func TestCloneIsIndependent(t *testing.T) {
	s := payment.NewSession("s1")
	s.Collected[payment.FieldName] = "Jane Doe"
	s.AppendTurn("user", "hello")

	c := s.Clone()
	c.Collected[payment.FieldName] = "changed"
	c.AppendTurn("user", "more")

	if s.Collected[payment.FieldName] != "Jane Doe" {
		t.Fatal("clone shares the collected map")
	}
	if len(s.History) != 1 {
		t.Fatal("clone shares the history slice")
	}
}

func TestHistoryEviction(t *testing.T) {
	s := payment.NewSession("s1")
	for i := 0; i < payment.HistoryLimit+3; i++ {
		s.AppendTurn("user", "turn")
	}
	if len(s.History) != payment.HistoryLimit {
		t.Fatalf("history length = %d", len(s.History))
	}
}

func TestAllFieldsCollected(t *testing.T) {
	s := payment.NewSession("s1")
	if s.AllFieldsCollected() {
		t.Fatal("fresh session reports complete")
	}
	s.Collected[payment.FieldName] = "Jane Doe"
	s.Collected[payment.FieldCard] = "************4242"
	s.Collected[payment.FieldExpiry] = "12/30"
	s.Collected[payment.FieldCvv] = "***"
	if !s.AllFieldsCollected() {
		t.Fatal("complete session reports missing fields")
	}
}

// Package tokenizer wraps the one-shot exchange of raw cardholder data for a
// non-sensitive payment token. This is the only component that sends raw CHD
// over the network.
package tokenizer

import (
	"context"
	"errors"
	"fmt"

	"github.com/lumapay/paybot/internal/model/payment"
)

// ErrUnavailable marks transport-level failures (provider unreachable,
// timeout). The caller may safely let the user retry confirmation.
var ErrUnavailable = errors.New("tokenization provider unavailable")

// DeclineError is returned when the provider rejected the card itself.
// Retrying with the same values is pointless; the user must re-enter them.
type DeclineError struct {
	Reason string
}

func (e *DeclineError) Error() string {
	return fmt.Sprintf("card declined: %s", e.Reason)
}

// Tokenization is the non-sensitive result of a successful exchange.
type Tokenization struct {
	Token string
	Brand string
	Last4 string
}

// Tokenizer is the adapter boundary to the card-network tokenization provider.
type Tokenizer interface {
	Tokenize(ctx context.Context, card payment.CardDetails) (*Tokenization, error)
}

// Package responder generates conversational replies through the configured
// chat model. It sits outside PCI scope: every prompt is screened for card
// digit runs before it can leave the process.
package responder

import (
	"context"
	"errors"

	"github.com/lumapay/paybot/internal/model/payment"
)

// ErrUnsafePrompt is returned when an outbound prompt still contains a 13-19
// digit run. That is a masking-pipeline bug, not a user error; callers must
// abort the operation instead of sending the prompt.
var ErrUnsafePrompt = errors.New("unmasked card data detected in AI prompt")

// Responder produces conversational text from masked inputs only.
type Responder interface {
	Generate(ctx context.Context, history []payment.Turn, userMessage string) (string, error)
}

// systemPrompt steers the model through the collection flow. It never sees
// card numbers; the summary and validation messages are deterministic and
// bypass the model entirely.
const systemPrompt = `You are a polite and secure payment assistant. Your job is to collect payment information step-by-step:

1. Name on card (full name as it appears)
2. Card number (16 digits for Visa/MC, 15 for Amex)
3. Expiry date (MM/YY format)
4. CVV (3 digits for Visa/MC, 4 for Amex)

Rules:
- Ask for ONE piece of information at a time
- Be polite and reassuring about security
- If user provides invalid input, politely ask them to try again
- Never repeat or store full card numbers in responses
- Mask sensitive data (e.g., show "****1234" for card ending in 1234)
- Confirm all details before finalizing (with masked data)
- If user says "cancel" or "stop", end the session politely

Be conversational but efficient. Make users feel their payment is secure.`

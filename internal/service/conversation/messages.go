package conversation

import (
	"fmt"
	"strings"

	"github.com/lumapay/paybot/internal/model/payment"
	"github.com/lumapay/paybot/internal/service/tokenizer"
)

// Deterministic response catalogue. Validation errors, the confirmation
// summary and the tokenization outcomes are never phrased by the AI responder
// so the user always sees exact masked values.
const (
	msgFarewell = "No problem! Payment cancelled. Have a great day!"

	msgCardInvalid   = "That card number doesn't pass validation. Could you double-check it?"
	msgExpiryInvalid = "That expiry date seems invalid or expired. Please use MM/YY format."
	msgCvvInvalid    = "CVV should be 3 digits (4 for Amex). Please try again."

	msgSessionClosed = "This payment session is already closed. Please start a new session to make a payment."
	msgStoreFailure  = "Sorry, we couldn't save your progress just now. Please send your message again in a moment."
	msgProviderDown  = "We couldn't reach the payment processor. Nothing was charged - please reply 'confirm' to try again."
	msgDetailsGone   = "For security, your card details are no longer held. Let's start over - please tell me the name on the card."
)

func summaryMessage(sess *payment.Session) string {
	return fmt.Sprintf(
		"Please confirm:\nName: %s\nCard: %s\nExpiry: %s\nCVV: ***\nReply 'confirm' to proceed or 'cancel' to abort.",
		sess.Collected[payment.FieldName],
		sess.Collected[payment.FieldCard],
		sess.Collected[payment.FieldExpiry],
	)
}

func successMessage(result *tokenizer.Tokenization) string {
	return fmt.Sprintf(
		"Payment method saved successfully!\n\nToken: %s\nCard: %s ending in %s\n\nThank you for your payment!",
		result.Token, result.Brand, result.Last4,
	)
}

func declineMessage(reason string) string {
	return fmt.Sprintf(
		"Payment processing failed: %s\n\nPlease check your card details and try again.",
		reason,
	)
}

// fallbackPrompt keeps the conversation moving when the AI responder is
// disabled or unreachable. One deterministic prompt per collection step.
func fallbackPrompt(sess *payment.Session) string {
	switch sess.CurrentStep {
	case payment.StepName:
		return "I can help you set up a payment securely. May I have the full name as it appears on the card?"
	case payment.StepCard:
		name := sess.Collected[payment.FieldName]
		if name != "" {
			return fmt.Sprintf("Thanks, %s. Please share your card number.", firstName(name))
		}
		return "Please share your card number."
	case payment.StepExpiry:
		return "Got it. What's the card's expiry date, in MM/YY format?"
	case payment.StepCvv:
		return "Almost done. What's the security code (CVV) on the card?"
	case payment.StepConfirmation:
		return "Please reply 'confirm' to proceed with the payment, or 'cancel' to abort."
	default:
		return "How can I help with your payment?"
	}
}

func firstName(full string) string {
	if fields := strings.Fields(full); len(fields) > 0 {
		return fields[0]
	}
	return full
}

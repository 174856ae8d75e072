// Package extract derives candidate field values from raw user text. A miss
// is not an error; the orchestrator re-prompts for the same step.
package extract

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/lumapay/paybot/internal/model/payment"
)

var (
	nonDigitRe = regexp.MustCompile(`[^\d]`)
	expiryRe   = regexp.MustCompile(`(0[1-9]|1[0-2])/([0-9]{2})`)
	cvvRe      = regexp.MustCompile(`\b([0-9]{3,4})\b`)
)

// Value applies the heuristic for the step currently being collected and
// returns the candidate value, or ok=false when nothing usable was found.
// Upper-bound and checksum concerns belong to the validators, not here.
func Value(text string, step payment.Step) (string, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", false
	}

	switch step {
	case payment.StepCard:
		digits := nonDigitRe.ReplaceAllString(text, "")
		if len(digits) >= 13 {
			return digits, true
		}

	case payment.StepExpiry:
		if m := expiryRe.FindString(text); m != "" {
			return m, true
		}

	case payment.StepCvv:
		if m := cvvRe.FindStringSubmatch(text); m != nil {
			return m[1], true
		}

	case payment.StepName:
		if len(strings.Fields(text)) >= 2 && !strings.ContainsFunc(text, unicode.IsDigit) {
			return titleCase(text), true
		}
	}

	return "", false
}

func titleCase(s string) string {
	fields := strings.Fields(s)
	for i, f := range fields {
		runes := []rune(strings.ToLower(f))
		runes[0] = unicode.ToUpper(runes[0])
		fields[i] = string(runes)
	}
	return strings.Join(fields, " ")
}

// Package mask redacts cardholder data from structured payloads and free text
// before anything crosses the AI or audit boundary.
package mask

import (
	"regexp"
	"strings"
)

// InvalidCard is returned when the input cannot be a card number; downstream
// consumers render it instead of panicking on malformed input.
const (
	InvalidCard         = "****INVALID****"
	InvalidLast4        = "0000"
	cvvReplacement      = "***"
	redactedReplacement = "****MASKED****"
)

var (
	nonDigitRe = regexp.MustCompile(`[^0-9]`)

	// panRe finds 13-19 digit runs, tolerating single space/dash separators
	// between digits the way cards are usually read out or typed.
	panRe = regexp.MustCompile(`(?:\d[ -]?){12,18}\d`)

	// sensitiveKeyRe mirrors the field-name heuristic for structured payloads.
	sensitiveKeyRe = regexp.MustCompile(`card.*number|pan|cvv|cvc|security.*code|expir.*date|exp.*date`)
	cardKeyRe      = regexp.MustCompile(`card|pan`)
	cvvKeyRe       = regexp.MustCompile(`cvv|cvc`)
)

// Card masks all but the last four digits of a card number. Separators are
// stripped first; inputs outside the 13-19 digit range yield the sentinel pair.
func Card(raw string) (masked, last4 string) {
	clean := nonDigitRe.ReplaceAllString(raw, "")
	if len(clean) < 13 || len(clean) > 19 {
		return InvalidCard, InvalidLast4
	}
	last4 = clean[len(clean)-4:]
	return strings.Repeat("*", len(clean)-4) + last4, last4
}

// Payload recursively masks sensitive values in an arbitrary decoded-JSON
// shape. Maps and sequences of maps are walked uniformly; non-sensitive
// leaves pass through untouched.
func Payload(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			key := strings.ToLower(k)
			str, isString := inner.(string)
			if isString && sensitiveKeyRe.MatchString(key) {
				switch {
				case cardKeyRe.MatchString(key):
					if ContainsPAN(str) {
						masked, _ := Card(str)
						out[k] = masked
					} else {
						// Already masked or not a card number; nothing to hide.
						out[k] = str
					}
				case cvvKeyRe.MatchString(key):
					out[k] = cvvReplacement
				default:
					out[k] = redactedReplacement
				}
				continue
			}
			out[k] = Payload(inner)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = Payload(item)
		}
		return out
	default:
		return v
	}
}

// FreeText replaces every 13-19 digit run in text with its masked card form.
// This is the defense-in-depth scan applied to anything headed for the AI
// responder or the audit log, independent of structured-field masking.
func FreeText(text string) string {
	return panRe.ReplaceAllStringFunc(text, func(match string) string {
		digits := nonDigitRe.ReplaceAllString(match, "")
		if len(digits) < 13 || len(digits) > 19 {
			return match
		}
		masked, _ := Card(digits)
		return masked
	})
}

// ContainsPAN reports whether text still carries a 13-19 digit run. A true
// result on an outbound AI prompt means the masking pipeline has a bug.
func ContainsPAN(text string) bool {
	for _, match := range panRe.FindAllString(text, -1) {
		digits := nonDigitRe.ReplaceAllString(match, "")
		if len(digits) >= 13 && len(digits) <= 19 {
			return true
		}
	}
	return false
}

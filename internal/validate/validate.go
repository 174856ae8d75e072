// Package validate holds the pure field validators. Every validation decision
// in the service funnels through here so the policy stays in one place.
package validate

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var expiryRe = regexp.MustCompile(`^(0[1-9]|1[0-2])/([0-9]{2})$`)

// CardNumber strips separators and applies the Luhn checksum. Inputs that are
// not all digits or fall outside 13-19 digits are rejected outright.
func CardNumber(digits string) bool {
	clean := strings.NewReplacer(" ", "", "-", "").Replace(digits)
	if len(clean) < 13 || len(clean) > 19 {
		return false
	}

	sum := 0
	double := false
	for i := len(clean) - 1; i >= 0; i-- {
		c := clean[i]
		if c < '0' || c > '9' {
			return false
		}
		d := int(c - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}

// ParseExpiry parses a strict MM/YY value into its month and two-digit year.
func ParseExpiry(raw string) (mm, yy int, err error) {
	m := expiryRe.FindStringSubmatch(strings.TrimSpace(raw))
	if m == nil {
		return 0, 0, fmt.Errorf("expiry %q is not in MM/YY format", raw)
	}
	mm, _ = strconv.Atoi(m[1])
	yy, _ = strconv.Atoi(m[2])
	return mm, yy, nil
}

// Expiry reports whether the card expiring in month mm of year 2000+yy is
// still valid at now. The card remains valid through the last day of its
// expiry month; now is truncated to day granularity before comparing.
func Expiry(mm, yy int, now time.Time) bool {
	if mm < 1 || mm > 12 || yy < 0 || yy > 99 {
		return false
	}
	year := 2000 + yy
	// First day of the following month minus one day is the last valid day.
	lastDay := time.Date(year, time.Month(mm)+1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -1)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return !lastDay.Before(today)
}

// CVV checks the security code length against the card brand: 4 digits for
// cards with the 34/37 prefix, 3 digits for everything else.
func CVV(cvv, cardDigits string) bool {
	expected := 3
	if strings.HasPrefix(cardDigits, "34") || strings.HasPrefix(cardDigits, "37") {
		expected = 4
	}
	if len(cvv) != expected {
		return false
	}
	for i := 0; i < len(cvv); i++ {
		if cvv[i] < '0' || cvv[i] > '9' {
			return false
		}
	}
	return true
}

// Brand infers a coarse card brand from the leading digits. It exists for the
// masked confirmation echo and the CVV length rule, not for routing decisions.
func Brand(cardDigits string) string {
	switch {
	case strings.HasPrefix(cardDigits, "34"), strings.HasPrefix(cardDigits, "37"):
		return "amex"
	case strings.HasPrefix(cardDigits, "4"):
		return "visa"
	case strings.HasPrefix(cardDigits, "6011"), strings.HasPrefix(cardDigits, "65"):
		return "discover"
	}
	if len(cardDigits) >= 2 {
		if two, err := strconv.Atoi(cardDigits[:2]); err == nil {
			if (two >= 51 && two <= 55) || (two >= 22 && two <= 27) {
				return "mastercard"
			}
		}
	}
	return "card"
}

package util

import "strings"

const (
	phoneMinDigits = 8
	phoneMaxDigits = 15
)

// NormalizePhone strips everything but digits from a phone number. Returns
// false if the remainder is not a plausible international number.
func NormalizePhone(phone string) (string, bool) {
	var b strings.Builder
	for _, c := range phone {
		if c >= '0' && c <= '9' {
			b.WriteRune(c)
		}
	}
	digits := b.String()
	if len(digits) < phoneMinDigits || len(digits) > phoneMaxDigits {
		return "", false
	}
	return digits, true
}

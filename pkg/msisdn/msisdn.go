// Package msisdn normalizes Kenyan mobile numbers into the 2547XXXXXXXX form
// that M-Pesa uses in its callbacks.
package msisdn

import (
	"errors"
	"strings"
)

const countryCode = "254"

// ErrInvalid is returned for any input that does not reduce to a 9 digit subscriber number.
var ErrInvalid = errors.New("msisdn: invalid phone number")

// Normalize strips every non-digit and returns the number as 254 followed by 9 digits.
//
// Accepted shapes: 0XXXXXXXXX, 254XXXXXXXXX, +254XXXXXXXXX and a bare 9 digit
// subscriber number that does not start with 0.
func Normalize(raw string) (string, error) {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()

	switch {
	case len(digits) == 10 && digits[0] == '0':
		return countryCode + digits[1:], nil
	case len(digits) == 12 && strings.HasPrefix(digits, countryCode):
		return digits, nil
	case len(digits) == 9 && digits[0] != '0':
		return countryCode + digits, nil
	}
	return "", ErrInvalid
}

// Valid reports whether raw can be normalized.
func Valid(raw string) bool {
	_, err := Normalize(raw)
	return err == nil
}

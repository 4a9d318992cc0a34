// Package phone reduces raw phone strings to comparable keys.
package phone

import (
	"errors"
	"strings"
)

// ErrEmpty is returned when a raw phone string contains no digits.
var ErrEmpty = errors.New("phone number has no digits")

// Key is a normalized phone number: digits only. Two raw inputs denote the same
// phone iff their keys are equal.
type Key string

func (k Key) String() string {
	return string(k)
}

// Normalize strips every character that is not an ASCII digit, including a
// leading '+'. No country-code inference is attempted.
func Normalize(raw string) (Key, error) {
	var digits strings.Builder
	digits.Grow(len(raw))
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	if digits.Len() == 0 {
		return "", ErrEmpty
	}
	return Key(digits.String()), nil
}

// Digits is Normalize without the error, for search matching where an empty
// result simply matches nothing.
func Digits(raw string) string {
	k, err := Normalize(raw)
	if err != nil {
		return ""
	}
	return string(k)
}

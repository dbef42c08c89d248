package domain

import (
	"strings"

	dErrors "fieldsync/pkg/domain-errors"
)

// Phone is a normalized subscriber number: digits only, optional leading +
// stripped during parsing. It is the primary identity handle for field agents
// and merchants, who authenticate by phone challenge rather than password.
type Phone string

const (
	minPhoneDigits = 8
	maxPhoneDigits = 15 // E.164 upper bound
)

// ParsePhone normalizes raw input into a Phone. Spaces, dashes and a leading
// "+" are tolerated; anything else is rejected.
func ParsePhone(raw string) (Phone, error) {
	trimmed := strings.TrimSpace(raw)
	trimmed = strings.TrimPrefix(trimmed, "+")
	var b strings.Builder
	for _, r := range trimmed {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-':
			// separator, skip
		default:
			return "", dErrors.New(dErrors.CodeInvalidInput, "phone contains invalid characters")
		}
	}
	digits := b.String()
	if len(digits) < minPhoneDigits || len(digits) > maxPhoneDigits {
		return "", dErrors.New(dErrors.CodeInvalidInput, "phone length out of range")
	}
	return Phone(digits), nil
}

func (p Phone) String() string { return string(p) }

// Masked returns the phone with all but the last two digits obscured, for logs.
func (p Phone) Masked() string {
	s := string(p)
	if len(s) <= 2 {
		return "****"
	}
	return strings.Repeat("*", len(s)-2) + s[len(s)-2:]
}

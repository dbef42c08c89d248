// Package otp implements the phone challenge half of the login flow: one-time
// codes issued over SMS, verified once, expiring after five minutes.
package otp

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"time"

	"fieldsync/pkg/domain"
)

// ChallengeTTL is how long an issued code stays valid.
const ChallengeTTL = 5 * time.Minute

const codeDigits = 6

// Challenge is a single-use, time-boxed one-time code bound to a phone number.
// At most one unconsumed, unexpired Challenge exists per phone: issuing a new
// one invalidates prior ones. The raw code is never persisted, only its hash.
type Challenge struct {
	Phone     domain.Phone
	CodeHash  string
	CreatedAt time.Time
	ExpiresAt time.Time
	Verified  bool
}

// Expired reports whether the challenge has passed its expiry at the given time.
func (c *Challenge) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// GenerateCode returns a 6-digit numeric code using crypto/rand. Bytes at or
// above 250, the largest multiple of 10 in a byte, are redrawn so every digit
// is equally likely.
func GenerateCode() (string, error) {
	s := make([]byte, codeDigits)
	buf := make([]byte, 1)
	for i := 0; i < codeDigits; {
		if _, err := rand.Read(buf); err != nil {
			return "", err
		}
		if buf[0] >= 250 {
			continue
		}
		s[i] = '0' + buf[0]%10
		i++
	}
	return string(s), nil
}

// HashCode returns a SHA-256 hash of the code, hex-encoded.
func HashCode(code string) string {
	h := sha256.Sum256([]byte(code))
	return hex.EncodeToString(h[:])
}

// CodeEqual compares the provided code's hash with the stored hash in
// constant time.
func CodeEqual(providedCode, storedHash string) bool {
	providedHash := HashCode(providedCode)
	return subtle.ConstantTimeCompare([]byte(providedHash), []byte(storedHash)) == 1
}

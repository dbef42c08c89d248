package otp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateCode(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		code, err := GenerateCode()
		require.NoError(t, err)
		require.Len(t, code, 6)
		for _, r := range code {
			assert.True(t, r >= '0' && r <= '9', "non-digit in code %q", code)
		}
		seen[code] = true
	}
	// 50 draws from a million-value space colliding down to a handful would
	// mean a broken generator.
	assert.Greater(t, len(seen), 40)
}

func TestGenerateCode_EveryDigitOccurs(t *testing.T) {
	counts := make(map[rune]int)
	for i := 0; i < 200; i++ {
		code, err := GenerateCode()
		require.NoError(t, err)
		for _, r := range code {
			counts[r]++
		}
	}
	// 1200 digits with any digit absent would mean the generator cannot
	// produce it at all.
	for d := '0'; d <= '9'; d++ {
		assert.Positive(t, counts[d], "digit %c never generated", d)
	}
}

func TestCodeEqual(t *testing.T) {
	hash := HashCode("493021")
	assert.True(t, CodeEqual("493021", hash))
	assert.False(t, CodeEqual("493022", hash))
	assert.False(t, CodeEqual("", hash))
}

func TestChallengeExpired(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	ch := &Challenge{ExpiresAt: now.Add(ChallengeTTL)}

	assert.False(t, ch.Expired(now))
	assert.False(t, ch.Expired(now.Add(ChallengeTTL-time.Second)))
	assert.True(t, ch.Expired(now.Add(ChallengeTTL)))
	assert.True(t, ch.Expired(now.Add(ChallengeTTL+time.Second)))
}

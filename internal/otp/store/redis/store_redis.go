package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"fieldsync/internal/otp"
	"fieldsync/pkg/domain"
	"fieldsync/pkg/platform/sentinel"
)

const (
	challengeKeyPrefix = "otp:challenge:"
	issuedKeyPrefix    = "otp:issued:"
)

// ChallengeStore is the Redis-backed challenge store recommended for
// production: TTLs enforce expiry natively, and single-key commands give the
// per-phone write atomicity the single-active-challenge invariant needs.
type ChallengeStore struct {
	client *redis.Client
}

func NewChallengeStore(client *redis.Client) *ChallengeStore {
	return &ChallengeStore{client: client}
}

type challengeRecord struct {
	Phone     string    `json:"phone"`
	CodeHash  string    `json:"code_hash"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Verified  bool      `json:"verified"`
}

// Replace overwrites the phone's challenge key with the new challenge. SET is
// atomic, so a concurrent issuance cannot leave two active codes.
func (s *ChallengeStore) Replace(ctx context.Context, challenge *otp.Challenge) error {
	rec := challengeRecord{
		Phone:     challenge.Phone.String(),
		CodeHash:  challenge.CodeHash,
		CreatedAt: challenge.CreatedAt,
		ExpiresAt: challenge.ExpiresAt,
		Verified:  challenge.Verified,
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal challenge: %w", err)
	}
	ttl := time.Until(challenge.ExpiresAt)
	if ttl <= 0 {
		ttl = time.Second
	}
	key := challengeKeyPrefix + challenge.Phone.String()
	if err := s.client.Set(ctx, key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("set challenge: %w", err)
	}
	return nil
}

func (s *ChallengeStore) Get(ctx context.Context, phone domain.Phone) (*otp.Challenge, error) {
	raw, err := s.client.Get(ctx, challengeKeyPrefix+phone.String()).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("challenge for phone: %w", sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get challenge: %w", err)
	}
	var rec challengeRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal challenge: %w", err)
	}
	return &otp.Challenge{
		Phone:     domain.Phone(rec.Phone),
		CodeHash:  rec.CodeHash,
		CreatedAt: rec.CreatedAt,
		ExpiresAt: rec.ExpiresAt,
		Verified:  rec.Verified,
	}, nil
}

// consumeScript flips verified inside Redis so two concurrent verifications
// cannot both observe an unverified challenge. A hash mismatch counts as
// missing: it means a reissue replaced the challenge after the caller read
// it. The key's TTL is preserved so the consumed row still ages out on
// schedule.
var consumeScript = redis.NewScript(`
local raw = redis.call('GET', KEYS[1])
if not raw then
	return 'missing'
end
local rec = cjson.decode(raw)
if rec.verified then
	return 'used'
end
if rec.code_hash ~= ARGV[1] then
	return 'missing'
end
rec.verified = true
redis.call('SET', KEYS[1], cjson.encode(rec), 'KEEPTTL')
return 'ok'
`)

func (s *ChallengeStore) Consume(ctx context.Context, phone domain.Phone, codeHash string) error {
	key := challengeKeyPrefix + phone.String()
	res, err := consumeScript.Run(ctx, s.client, []string{key}, codeHash).Text()
	if err != nil {
		return fmt.Errorf("consume challenge: %w", err)
	}
	switch res {
	case "ok":
		return nil
	case "used":
		return fmt.Errorf("challenge for phone: %w", sentinel.ErrAlreadyUsed)
	default:
		return fmt.Errorf("challenge for phone: %w", sentinel.ErrNotFound)
	}
}

// IncrIssued counts issuances in a fixed window using INCR with an expiry set
// on first increment.
func (s *ChallengeStore) IncrIssued(ctx context.Context, phone domain.Phone, window time.Duration) (int, error) {
	key := issuedKeyPrefix + phone.String()
	count, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("incr issued: %w", err)
	}
	if count == 1 {
		if err := s.client.Expire(ctx, key, window).Err(); err != nil {
			return 0, fmt.Errorf("expire issued window: %w", err)
		}
	}
	return int(count), nil
}

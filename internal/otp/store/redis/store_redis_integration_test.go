//go:build integration

package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fieldsync/internal/otp"
	otpredis "fieldsync/internal/otp/store/redis"
	"fieldsync/pkg/domain"
	"fieldsync/pkg/platform/sentinel"
	"fieldsync/pkg/testutil/containers"
)

func TestChallengeStore_Lifecycle(t *testing.T) {
	rc := containers.NewRedisContainer(t)
	store := otpredis.NewChallengeStore(rc.Client)
	ctx := context.Background()

	phone, err := domain.ParsePhone("+46701112233")
	require.NoError(t, err)

	_, err = store.Get(ctx, phone)
	assert.ErrorIs(t, err, sentinel.ErrNotFound)

	now := time.Now().UTC().Truncate(time.Millisecond)
	first := &otp.Challenge{
		Phone:     phone,
		CodeHash:  otp.HashCode("111111"),
		CreatedAt: now,
		ExpiresAt: now.Add(otp.ChallengeTTL),
	}
	require.NoError(t, store.Replace(ctx, first))

	second := &otp.Challenge{
		Phone:     phone,
		CodeHash:  otp.HashCode("222222"),
		CreatedAt: now,
		ExpiresAt: now.Add(otp.ChallengeTTL),
	}
	require.NoError(t, store.Replace(ctx, second))

	got, err := store.Get(ctx, phone)
	require.NoError(t, err)
	assert.Equal(t, second.CodeHash, got.CodeHash, "reissue must supersede the prior challenge")
	assert.False(t, got.Verified)

	err = store.Consume(ctx, phone, first.CodeHash)
	assert.ErrorIs(t, err, sentinel.ErrNotFound, "a superseded hash must not consume the new challenge")

	require.NoError(t, store.Consume(ctx, phone, second.CodeHash))

	got, err = store.Get(ctx, phone)
	require.NoError(t, err)
	assert.True(t, got.Verified)

	err = store.Consume(ctx, phone, second.CodeHash)
	assert.ErrorIs(t, err, sentinel.ErrAlreadyUsed, "a consumed challenge must not consume twice")
}

func TestChallengeStore_ConsumeMissing(t *testing.T) {
	rc := containers.NewRedisContainer(t)
	store := otpredis.NewChallengeStore(rc.Client)

	phone, err := domain.ParsePhone("+46709998877")
	require.NoError(t, err)

	err = store.Consume(context.Background(), phone, otp.HashCode("123456"))
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestChallengeStore_ExpiryEviction(t *testing.T) {
	rc := containers.NewRedisContainer(t)
	store := otpredis.NewChallengeStore(rc.Client)
	ctx := context.Background()

	phone, err := domain.ParsePhone("+46705556677")
	require.NoError(t, err)

	now := time.Now().UTC()
	ch := &otp.Challenge{
		Phone:     phone,
		CodeHash:  otp.HashCode("333333"),
		CreatedAt: now,
		ExpiresAt: now.Add(time.Second),
	}
	require.NoError(t, store.Replace(ctx, ch))

	require.Eventually(t, func() bool {
		_, err := store.Get(ctx, phone)
		return err != nil
	}, 5*time.Second, 200*time.Millisecond, "challenge should be evicted at its TTL")
}

func TestChallengeStore_IncrIssuedWindow(t *testing.T) {
	rc := containers.NewRedisContainer(t)
	store := otpredis.NewChallengeStore(rc.Client)
	ctx := context.Background()

	phone, err := domain.ParsePhone("+46703334455")
	require.NoError(t, err)

	for want := 1; want <= 3; want++ {
		count, err := store.IncrIssued(ctx, phone, time.Hour)
		require.NoError(t, err)
		assert.Equal(t, want, count)
	}
}

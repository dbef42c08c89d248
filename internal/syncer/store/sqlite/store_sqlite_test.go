package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fieldsync/internal/syncer"
	"fieldsync/pkg/domain"
	"fieldsync/pkg/platform/sentinel"
)

func openStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "queue.db")
	store, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, store.Migrate(context.Background()))
	t.Cleanup(func() { _ = store.Close() })
	return store, path
}

func newMutation(entityType, entityID string, at time.Time) *syncer.QueuedMutation {
	return &syncer.QueuedMutation{
		ID:          domain.NewMutationID(),
		EntityType:  entityType,
		EntityID:    entityID,
		BaseVersion: 1,
		Payload:     map[string]any{"amount": float64(10)},
		State:       syncer.StatePending,
		CreatedAt:   at,
		UpdatedAt:   at,
	}
}

func TestStore_FIFOPerEntityType(t *testing.T) {
	store, _ := openStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)

	first := newMutation("transaction", "tx-1", base)
	second := newMutation("transaction", "tx-2", base.Add(time.Second))
	other := newMutation("stock", "item-1", base)
	for _, m := range []*syncer.QueuedMutation{second, first, other} {
		require.NoError(t, store.Enqueue(ctx, m))
	}

	next, err := store.NextPending(ctx, "transaction")
	require.NoError(t, err)
	assert.Equal(t, first.ID, next.ID, "oldest pending first")

	types, err := store.EntityTypesWithPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"stock", "transaction"}, types)
}

func TestStore_ClaimIsConditional(t *testing.T) {
	store, _ := openStore(t)
	ctx := context.Background()

	m := newMutation("transaction", "tx-1", time.Now().UTC())
	require.NoError(t, store.Enqueue(ctx, m))

	require.NoError(t, store.Claim(ctx, m.ID))

	err := store.Claim(ctx, m.ID)
	assert.ErrorIs(t, err, sentinel.ErrInvalidState, "double claim must be rejected")

	err = store.Claim(ctx, domain.NewMutationID())
	assert.ErrorIs(t, err, sentinel.ErrNotFound)

	_, err = store.NextPending(ctx, "transaction")
	assert.ErrorIs(t, err, sentinel.ErrNotFound, "claimed mutation is no longer pending")
}

func TestStore_QueueSurvivesReopen(t *testing.T) {
	store, path := openStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)

	inFlight := newMutation("transaction", "tx-1", base)
	queued := newMutation("transaction", "tx-2", base.Add(time.Second))
	require.NoError(t, store.Enqueue(ctx, inFlight))
	require.NoError(t, store.Enqueue(ctx, queued))
	require.NoError(t, store.Claim(ctx, inFlight.ID))
	require.NoError(t, store.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()
	require.NoError(t, reopened.Migrate(ctx))

	reset, err := reopened.ResetInFlight(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, reset)

	next, err := reopened.NextPending(ctx, "transaction")
	require.NoError(t, err)
	assert.Equal(t, inFlight.ID, next.ID, "reset mutation is back at the head of its queue")
	assert.Equal(t, map[string]any{"amount": float64(10)}, next.Payload)
}

func TestStore_UpdatePersistsTransition(t *testing.T) {
	store, _ := openStore(t)
	ctx := context.Background()

	m := newMutation("credit", "cr-1", time.Now().UTC())
	require.NoError(t, store.Enqueue(ctx, m))

	m.State = syncer.StateConflicted
	m.Attempts = 2
	m.LastError = "manual resolution required"
	m.Payload = map[string]any{"amount": float64(150)}
	m.BaseVersion = 7
	require.NoError(t, store.Update(ctx, m))

	got, err := store.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, syncer.StateConflicted, got.State)
	assert.Equal(t, 2, got.Attempts)
	assert.Equal(t, int64(7), got.BaseVersion)
	assert.Equal(t, float64(150), got.Payload["amount"])

	conflicted, err := store.List(ctx, syncer.StateConflicted, 10)
	require.NoError(t, err)
	require.Len(t, conflicted, 1)

	err = store.Update(ctx, newMutation("credit", "cr-2", time.Now().UTC()))
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}

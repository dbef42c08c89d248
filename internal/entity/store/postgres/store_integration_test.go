//go:build integration

package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fieldsync/internal/entity"
	entitypg "fieldsync/internal/entity/store/postgres"
	"fieldsync/pkg/domain"
	"fieldsync/pkg/platform/sentinel"
	"fieldsync/pkg/testutil/containers"
)

func TestStore_CommitVersioning(t *testing.T) {
	pc := containers.NewPostgresContainer(t)
	ctx := context.Background()
	store := entitypg.New(pc.DB)
	require.NoError(t, store.Migrate(ctx))

	now := time.Now().UTC().Truncate(time.Microsecond)

	created, err := store.Commit(ctx, entity.CommitRequest{
		EntityType: "stock", EntityID: "item-1",
		Payload:    map[string]any{"quantity": 10},
		MutationID: domain.NewMutationID(),
	}, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), created.Version)

	// Creating again on base 0 is a stale base, not an upsert.
	_, err = store.Commit(ctx, entity.CommitRequest{
		EntityType: "stock", EntityID: "item-1",
		Payload:    map[string]any{"quantity": 5},
		MutationID: domain.NewMutationID(),
	}, now)
	assert.ErrorIs(t, err, sentinel.ErrStaleBase)

	advanced, err := store.Commit(ctx, entity.CommitRequest{
		EntityType: "stock", EntityID: "item-1", BaseVersion: 1,
		Payload:    map[string]any{"quantity": 5},
		MutationID: domain.NewMutationID(),
	}, now)
	require.NoError(t, err)
	assert.Equal(t, int64(2), advanced.Version)

	_, err = store.Commit(ctx, entity.CommitRequest{
		EntityType: "stock", EntityID: "item-1", BaseVersion: 1,
		Payload:    map[string]any{"quantity": 7},
		MutationID: domain.NewMutationID(),
	}, now)
	assert.ErrorIs(t, err, sentinel.ErrStaleBase)

	state, err := store.Get(ctx, "stock", "item-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), state.Version)
	assert.Equal(t, float64(5), state.Payload["quantity"])
	assert.Equal(t, advanced.LastMutation, state.LastMutation)

	_, err = store.Get(ctx, "stock", "missing")
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}

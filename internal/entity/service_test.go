package entity_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fieldsync/internal/entity"
	entitymemory "fieldsync/internal/entity/store/memory"
	"fieldsync/pkg/domain"
	dErrors "fieldsync/pkg/domain-errors"
)

func TestCommit_CreateAndAdvance(t *testing.T) {
	svc := entity.NewService(entitymemory.NewInMemoryStore())
	ctx := context.Background()

	result, err := svc.Commit(ctx, entity.CommitRequest{
		EntityType: "stock",
		EntityID:   "item-7",
		Payload:    map[string]any{"quantity": 10},
		MutationID: domain.NewMutationID(),
	})
	require.NoError(t, err)
	assert.False(t, result.Conflict)
	assert.Equal(t, int64(1), result.State.Version)

	result, err = svc.Commit(ctx, entity.CommitRequest{
		EntityType:  "stock",
		EntityID:    "item-7",
		BaseVersion: 1,
		Payload:     map[string]any{"quantity": 8},
		MutationID:  domain.NewMutationID(),
	})
	require.NoError(t, err)
	assert.False(t, result.Conflict)
	assert.Equal(t, int64(2), result.State.Version)
	assert.Equal(t, 8, result.State.Payload["quantity"])
}

func TestCommit_StaleBaseReturnsCurrentState(t *testing.T) {
	svc := entity.NewService(entitymemory.NewInMemoryStore())
	ctx := context.Background()

	_, err := svc.Commit(ctx, entity.CommitRequest{
		EntityType: "stock",
		EntityID:   "item-7",
		Payload:    map[string]any{"quantity": 10},
		MutationID: domain.NewMutationID(),
	})
	require.NoError(t, err)
	_, err = svc.Commit(ctx, entity.CommitRequest{
		EntityType:  "stock",
		EntityID:    "item-7",
		BaseVersion: 1,
		Payload:     map[string]any{"quantity": 6},
		MutationID:  domain.NewMutationID(),
	})
	require.NoError(t, err)

	// A client still holding version 1 commits against the now stale base.
	result, err := svc.Commit(ctx, entity.CommitRequest{
		EntityType:  "stock",
		EntityID:    "item-7",
		BaseVersion: 1,
		Payload:     map[string]any{"quantity": 9},
		MutationID:  domain.NewMutationID(),
	})
	require.NoError(t, err)
	assert.True(t, result.Conflict)
	assert.Equal(t, int64(2), result.State.Version)
	assert.Equal(t, 6, result.State.Payload["quantity"], "conflict carries the server copy, not the rejected one")
}

func TestCommit_ReplayedMutationIsIdempotent(t *testing.T) {
	svc := entity.NewService(entitymemory.NewInMemoryStore())
	ctx := context.Background()
	mutation := domain.NewMutationID()

	req := entity.CommitRequest{
		EntityType: "transaction",
		EntityID:   "tx-1",
		Payload:    map[string]any{"amount": 100},
		MutationID: mutation,
	}
	first, err := svc.Commit(ctx, req)
	require.NoError(t, err)
	require.Equal(t, int64(1), first.State.Version)

	// Client lost the response and replays the identical commit.
	replay, err := svc.Commit(ctx, req)
	require.NoError(t, err)
	assert.False(t, replay.Conflict, "a replay is answered as success, not a conflict")
	assert.Equal(t, int64(1), replay.State.Version)
}

func TestCommit_Validation(t *testing.T) {
	svc := entity.NewService(entitymemory.NewInMemoryStore())
	ctx := context.Background()

	_, err := svc.Commit(ctx, entity.CommitRequest{EntityID: "x", MutationID: domain.NewMutationID()})
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))

	_, err = svc.Commit(ctx, entity.CommitRequest{EntityType: "stock", EntityID: "x"})
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))

	_, err = svc.Commit(ctx, entity.CommitRequest{
		EntityType: "stock", EntityID: "x", BaseVersion: -1, MutationID: domain.NewMutationID(),
	})
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func TestGet(t *testing.T) {
	store := entitymemory.NewInMemoryStore()
	svc := entity.NewService(store)
	ctx := context.Background()

	_, err := svc.Get(ctx, "stock", "missing")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))

	_, err = svc.Commit(ctx, entity.CommitRequest{
		EntityType: "stock", EntityID: "item-1",
		Payload:    map[string]any{"quantity": 3},
		MutationID: domain.NewMutationID(),
	})
	require.NoError(t, err)

	state, err := svc.Get(ctx, "stock", "item-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), state.Version)
}

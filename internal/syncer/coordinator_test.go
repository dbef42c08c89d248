package syncer_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fieldsync/internal/syncer"
	syncmemory "fieldsync/internal/syncer/store/memory"
	"fieldsync/pkg/domain"
	dErrors "fieldsync/pkg/domain-errors"
)

type commitCall struct {
	ID          domain.MutationID
	EntityType  string
	EntityID    string
	BaseVersion int64
	Payload     map[string]any
}

// fakeBackend answers commits from a script keyed by call number.
type fakeBackend struct {
	mu     sync.Mutex
	calls  []commitCall
	script func(call int, m *syncer.QueuedMutation) (*syncer.CommitOutcome, error)
}

func (b *fakeBackend) Commit(_ context.Context, m *syncer.QueuedMutation) (*syncer.CommitOutcome, error) {
	b.mu.Lock()
	call := len(b.calls)
	b.calls = append(b.calls, commitCall{
		ID: m.ID, EntityType: m.EntityType, EntityID: m.EntityID,
		BaseVersion: m.BaseVersion, Payload: m.Payload,
	})
	b.mu.Unlock()
	return b.script(call, m)
}

func (b *fakeBackend) Fetch(context.Context, string, string) (map[string]any, int64, error) {
	return nil, 0, errors.New("not implemented")
}

func (b *fakeBackend) committed() []commitCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]commitCall, len(b.calls))
	copy(out, b.calls)
	return out
}

func accept() func(int, *syncer.QueuedMutation) (*syncer.CommitOutcome, error) {
	version := int64(0)
	var mu sync.Mutex
	return func(int, *syncer.QueuedMutation) (*syncer.CommitOutcome, error) {
		mu.Lock()
		defer mu.Unlock()
		version++
		return &syncer.CommitOutcome{Version: version}, nil
	}
}

func newCoordinator(store syncer.Store, backend syncer.Backend, opts ...syncer.Option) *syncer.Coordinator {
	base := []syncer.Option{
		syncer.WithBaseBackoff(time.Millisecond),
		syncer.WithMaxAttempts(5),
	}
	return syncer.NewCoordinator(store, backend, syncer.DefaultPolicy(), append(base, opts...)...)
}

func enqueue(t *testing.T, c *syncer.Coordinator, entityType, entityID string, payload map[string]any) *syncer.QueuedMutation {
	t.Helper()
	m, err := c.Enqueue(context.Background(), entityType, entityID, 0, payload)
	require.NoError(t, err)
	// Memory and SQLite stores order by creation time; keep enqueues distinct.
	time.Sleep(time.Millisecond)
	return m
}

func TestDrain_FIFOWithinTypeAndResumeAfterInterruption(t *testing.T) {
	store := syncmemory.NewInMemoryStore()
	backend := &fakeBackend{}
	c := newCoordinator(store, backend)
	ctx := context.Background()

	a := enqueue(t, c, "transaction", "tx-a", map[string]any{"amount": 1})
	b := enqueue(t, c, "transaction", "tx-b", map[string]any{"amount": 2})
	d := enqueue(t, c, "transaction", "tx-c", map[string]any{"amount": 3})

	// A and B commit; the link drops before C.
	backend.script = func(call int, _ *syncer.QueuedMutation) (*syncer.CommitOutcome, error) {
		if call < 2 {
			return &syncer.CommitOutcome{Version: int64(call + 1)}, nil
		}
		return nil, errors.New("connection reset")
	}
	require.NoError(t, c.Drain(ctx))

	calls := backend.committed()
	require.Len(t, calls, 3)
	assert.Equal(t, []domain.MutationID{a.ID, b.ID, d.ID},
		[]domain.MutationID{calls[0].ID, calls[1].ID, calls[2].ID})

	stateOf := func(id domain.MutationID) syncer.SyncState {
		m, err := store.Get(ctx, id)
		require.NoError(t, err)
		return m.State
	}
	assert.Equal(t, syncer.StateSynced, stateOf(a.ID))
	assert.Equal(t, syncer.StateSynced, stateOf(b.ID))
	assert.Equal(t, syncer.StatePending, stateOf(d.ID), "interrupted mutation stays queued")

	// Connectivity returns; the resumed drain picks up exactly where it left off.
	backend.script = accept()
	require.NoError(t, c.Drain(ctx))

	calls = backend.committed()
	require.Len(t, calls, 4)
	assert.Equal(t, d.ID, calls[3].ID, "resume does not re-send synced mutations")
	assert.Equal(t, syncer.StateSynced, stateOf(d.ID))
}

func TestRun_ResetsInFlightMutationsOnStart(t *testing.T) {
	store := syncmemory.NewInMemoryStore()
	backend := &fakeBackend{script: accept()}
	c := newCoordinator(store, backend, syncer.WithDrainInterval(time.Hour))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := enqueue(t, c, "stock", "item-1", map[string]any{"quantity": 5})
	// Simulate a crash mid-flight: the mutation was claimed but never concluded.
	require.NoError(t, store.Claim(ctx, m.ID))

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	c.NotifyConnectivity()

	require.Eventually(t, func() bool {
		got, err := store.Get(context.Background(), m.ID)
		return err == nil && got.State == syncer.StateSynced
	}, 2*time.Second, 10*time.Millisecond, "reset mutation should be re-driven to synced")

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestDrain_TransientFailuresExhaustIntoFailed(t *testing.T) {
	store := syncmemory.NewInMemoryStore()
	backend := &fakeBackend{script: func(int, *syncer.QueuedMutation) (*syncer.CommitOutcome, error) {
		return nil, errors.New("gateway timeout")
	}}
	c := newCoordinator(store, backend, syncer.WithMaxAttempts(3))
	ctx := context.Background()

	m := enqueue(t, c, "order", "ord-1", map[string]any{"status": "placed"})

	for i := 0; i < 3; i++ {
		require.NoError(t, c.Drain(ctx))
	}

	got, err := store.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, syncer.StateFailed, got.State)
	assert.Equal(t, 3, got.Attempts)
	assert.Contains(t, got.LastError, "gateway timeout")

	failed, err := store.List(ctx, syncer.StateFailed, 10)
	require.NoError(t, err)
	assert.Len(t, failed, 1, "failed mutations stay visible, never discarded")

	// No further commits once terminal.
	before := len(backend.committed())
	require.NoError(t, c.Drain(ctx))
	assert.Len(t, backend.committed(), before)
}

func TestDrain_StaleBaseResolvedAndRecommitted(t *testing.T) {
	store := syncmemory.NewInMemoryStore()
	backend := &fakeBackend{}
	c := newCoordinator(store, backend)
	ctx := context.Background()

	m := enqueue(t, c, "transaction", "tx-9", map[string]any{"amount": 100, "note": "field sale"})

	backend.script = func(call int, _ *syncer.QueuedMutation) (*syncer.CommitOutcome, error) {
		if call == 0 {
			return &syncer.CommitOutcome{
				Conflict:      true,
				ServerVersion: 4,
				ServerPayload: map[string]any{"amount": 250, "receiptNo": "R-17"},
			}, nil
		}
		return &syncer.CommitOutcome{Version: 5}, nil
	}
	require.NoError(t, c.Drain(ctx))

	calls := backend.committed()
	require.Len(t, calls, 2)
	assert.Equal(t, int64(4), calls[1].BaseVersion, "recommit targets the authoritative version")
	assert.Equal(t, 100, calls[1].Payload["amount"], "client wins for transactions")
	assert.Equal(t, "R-17", calls[1].Payload["receiptNo"], "server-only fields carried through")

	got, err := store.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, syncer.StateSynced, got.State)
}

func TestDrain_ManualConflictNeverAutoCommits(t *testing.T) {
	store := syncmemory.NewInMemoryStore()
	backend := &fakeBackend{script: func(int, *syncer.QueuedMutation) (*syncer.CommitOutcome, error) {
		return &syncer.CommitOutcome{
			Conflict:      true,
			ServerVersion: 2,
			ServerPayload: map[string]any{"points": 40},
		}, nil
	}}
	c := newCoordinator(store, backend)
	ctx := context.Background()

	// loyalty_points has no configured strategy, so the conflict is manual.
	m := enqueue(t, c, "loyalty_points", "lp-1", map[string]any{"points": 90})

	require.NoError(t, c.Drain(ctx))

	got, err := store.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, syncer.StateConflicted, got.State)
	require.Len(t, backend.committed(), 1)

	// Further drains leave it alone until an operator steps in.
	require.NoError(t, c.Drain(ctx))
	assert.Len(t, backend.committed(), 1)

	t.Run("operator resolution requeues it", func(t *testing.T) {
		backend.script = accept()
		require.NoError(t, c.ResolveConflict(ctx, m.ID, map[string]any{"points": 95}, 2))
		require.NoError(t, c.Drain(ctx))

		got, err := store.Get(ctx, m.ID)
		require.NoError(t, err)
		assert.Equal(t, syncer.StateSynced, got.State)
		calls := backend.committed()
		assert.Equal(t, 95, calls[len(calls)-1].Payload["points"])
	})
}

func TestDeclineConflict(t *testing.T) {
	store := syncmemory.NewInMemoryStore()
	backend := &fakeBackend{script: func(int, *syncer.QueuedMutation) (*syncer.CommitOutcome, error) {
		return &syncer.CommitOutcome{Conflict: true, ServerVersion: 2, ServerPayload: map[string]any{}}, nil
	}}
	c := newCoordinator(store, backend)
	ctx := context.Background()

	m := enqueue(t, c, "unconfigured", "x-1", map[string]any{"v": 1})
	require.NoError(t, c.Drain(ctx))

	require.NoError(t, c.DeclineConflict(ctx, m.ID))
	got, err := store.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, syncer.StateFailed, got.State)
	assert.Equal(t, "declined by operator", got.LastError)

	err = c.DeclineConflict(ctx, m.ID)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeConflict), "only conflicted mutations can be declined")

	err = c.DeclineConflict(ctx, domain.NewMutationID())
	assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
}

func TestDrain_EntityTypesProgressIndependently(t *testing.T) {
	store := syncmemory.NewInMemoryStore()
	backend := &fakeBackend{}
	c := newCoordinator(store, backend, syncer.WithMaxAttempts(10))
	ctx := context.Background()

	tx := enqueue(t, c, "transaction", "tx-1", map[string]any{"amount": 10})
	st := enqueue(t, c, "stock", "item-1", map[string]any{"quantity": 2})

	// Transactions fail; stock succeeds.
	backend.script = func(_ int, m *syncer.QueuedMutation) (*syncer.CommitOutcome, error) {
		if m.EntityType == "transaction" {
			return nil, errors.New("unreachable")
		}
		return &syncer.CommitOutcome{Version: 1}, nil
	}
	require.NoError(t, c.Drain(ctx))

	gotTx, err := store.Get(ctx, tx.ID)
	require.NoError(t, err)
	gotSt, err := store.Get(ctx, st.ID)
	require.NoError(t, err)
	assert.Equal(t, syncer.StatePending, gotTx.State)
	assert.Equal(t, syncer.StateSynced, gotSt.State, "a stuck type does not block the others")
}

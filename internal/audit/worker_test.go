package audit_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fieldsync/internal/audit"
	auditmem "fieldsync/internal/audit/store/memory"
	"fieldsync/pkg/domain"
)

func TestAsyncPublisher_DrainsToStore(t *testing.T) {
	store := auditmem.NewInMemoryStore()
	pub := audit.NewAsyncPublisher(store)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		pub.Run(ctx)
		close(done)
	}()

	for i := 0; i < 10; i++ {
		pub.Emit(ctx, audit.Event{Action: audit.ActionDecisionMade})
	}

	require.Eventually(t, func() bool {
		return len(store.All()) == 10
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done

	for _, e := range store.All() {
		assert.False(t, e.ID.String() == "00000000-0000-0000-0000-000000000000")
		assert.False(t, e.Timestamp.IsZero())
	}
}

func TestAsyncPublisher_OverflowDropsOldest(t *testing.T) {
	store := auditmem.NewInMemoryStore()
	pub := audit.NewAsyncPublisher(store, audit.WithCapacity(3))

	// No worker running: buffer fills and wraps.
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		pub.Emit(ctx, audit.Event{Action: audit.ActionOTPIssued})
	}

	assert.Equal(t, int64(2), pub.Dropped())
}

type failingStore struct {
	mu       sync.Mutex
	attempts int
}

func (f *failingStore) Append(context.Context, audit.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	return errors.New("disk full")
}

func (f *failingStore) ListBySubject(context.Context, domain.SubjectID) ([]audit.Event, error) {
	return nil, nil
}

func (f *failingStore) ListRecent(context.Context, int) ([]audit.Event, error) {
	return nil, nil
}

func TestAsyncPublisher_StoreFailureHitsFallback(t *testing.T) {
	store := &failingStore{}

	var fbMu sync.Mutex
	var fallbackCount int
	pub := audit.NewAsyncPublisher(store, audit.WithFallback(func(audit.Event, error) {
		fbMu.Lock()
		fallbackCount++
		fbMu.Unlock()
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go pub.Run(ctx)

	pub.Emit(ctx, audit.Event{Action: audit.ActionMutationFailed})

	require.Eventually(t, func() bool {
		fbMu.Lock()
		defer fbMu.Unlock()
		return fallbackCount == 1
	}, time.Second, 5*time.Millisecond)
}

func TestStorePublisher_FillsIDAndTimestamp(t *testing.T) {
	store := auditmem.NewInMemoryStore()
	pub := audit.NewStorePublisher(store, nil)

	pub.Emit(context.Background(), audit.Event{Action: audit.ActionOTPVerified})

	events := store.All()
	require.Len(t, events, 1)
	assert.NotZero(t, events[0].Timestamp)
	assert.NotEqual(t, "00000000-0000-0000-0000-000000000000", events[0].ID.String())
}

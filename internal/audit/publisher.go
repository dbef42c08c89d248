package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Publisher captures structured audit events. Implementations must be
// best-effort from the caller's perspective: a failed write never blocks or
// reverses the action it describes, but is never silently swallowed either;
// failures surface on a fallback log channel.
type Publisher interface {
	Emit(ctx context.Context, event Event)
}

// StorePublisher writes events synchronously to a store. Used in tests and in
// the agent process where the write target is local.
type StorePublisher struct {
	store    Store
	fallback Fallback
}

// Fallback receives events that could not be persisted so they at least reach
// the process log. Must not fail.
type Fallback func(event Event, err error)

// NewStorePublisher constructs a synchronous publisher. fallback may be nil.
func NewStorePublisher(store Store, fallback Fallback) *StorePublisher {
	return &StorePublisher{store: store, fallback: fallback}
}

func (p *StorePublisher) Emit(ctx context.Context, event Event) {
	fill(&event)
	if err := p.store.Append(ctx, event); err != nil && p.fallback != nil {
		p.fallback(event, err)
	}
}

func fill(event *Event) {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
}

// Discard is a Publisher that drops everything. Useful for tests that do not
// assert on audit output.
type Discard struct{}

func (Discard) Emit(context.Context, Event) {}

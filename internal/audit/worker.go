package audit

import (
	"context"
	"sync"
	"time"
)

// AsyncPublisher decouples audit emission from persistence. Events go into a
// bounded ring buffer; a background worker drains them to the store. When the
// buffer is full the oldest event is dropped and counted; callers are never
// blocked by a slow or unavailable audit store.
type AsyncPublisher struct {
	mu     sync.Mutex
	events []Event
	head   int
	tail   int
	count  int

	capacity int
	dropped  int64
	notify   chan struct{}

	store    Store
	sinks    []Sink
	fallback Fallback
	metrics  *Metrics
}

// Sink receives every drained event after it has been persisted (or failed
// persistence). Used to mirror the trail into Kafka. Best-effort.
type Sink interface {
	Deliver(ctx context.Context, event Event) error
}

// AsyncOption configures an AsyncPublisher.
type AsyncOption func(*AsyncPublisher)

// WithCapacity bounds the in-flight buffer. Default 4096.
func WithCapacity(n int) AsyncOption {
	return func(p *AsyncPublisher) {
		if n > 0 {
			p.capacity = n
		}
	}
}

// WithSink adds a delivery sink invoked after store persistence.
func WithSink(s Sink) AsyncOption {
	return func(p *AsyncPublisher) {
		if s != nil {
			p.sinks = append(p.sinks, s)
		}
	}
}

// WithFallback sets the channel that receives events which failed to persist.
func WithFallback(f Fallback) AsyncOption {
	return func(p *AsyncPublisher) { p.fallback = f }
}

// WithMetrics attaches prometheus instrumentation.
func WithMetrics(m *Metrics) AsyncOption {
	return func(p *AsyncPublisher) { p.metrics = m }
}

// NewAsyncPublisher constructs an AsyncPublisher draining into store.
// Call Run in a goroutine to start the worker.
func NewAsyncPublisher(store Store, opts ...AsyncOption) *AsyncPublisher {
	p := &AsyncPublisher{
		capacity: 4096,
		store:    store,
		notify:   make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.events = make([]Event, p.capacity)
	return p
}

// Emit enqueues the event, dropping the oldest entry when the buffer is full.
// Never blocks.
func (p *AsyncPublisher) Emit(_ context.Context, event Event) {
	fill(&event)

	p.mu.Lock()
	if p.count >= p.capacity {
		p.tail = (p.tail + 1) % p.capacity
		p.count--
		p.dropped++
		p.metrics.IncDropped()
	}
	p.events[p.head] = event
	p.head = (p.head + 1) % p.capacity
	p.count++
	p.mu.Unlock()

	select {
	case p.notify <- struct{}{}:
	default:
	}
}

// Dropped returns how many events were discarded due to buffer overflow.
func (p *AsyncPublisher) Dropped() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dropped
}

func (p *AsyncPublisher) dequeue() (Event, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.count == 0 {
		return Event{}, false
	}
	event := p.events[p.tail]
	p.tail = (p.tail + 1) % p.capacity
	p.count--
	return event, true
}

// Run drains buffered events until ctx is cancelled. Store failures go to the
// fallback channel; they do not stop the worker.
func (p *AsyncPublisher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.drainRemaining()
			return
		case <-p.notify:
			for {
				event, ok := p.dequeue()
				if !ok {
					break
				}
				p.persist(ctx, event)
			}
		}
	}
}

// drainRemaining gives buffered events one last persistence attempt with a
// short deadline so shutdown does not lose the tail of the trail.
func (p *AsyncPublisher) drainRemaining() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		event, ok := p.dequeue()
		if !ok {
			return
		}
		p.persist(ctx, event)
	}
}

func (p *AsyncPublisher) persist(ctx context.Context, event Event) {
	if err := p.store.Append(ctx, event); err != nil {
		p.metrics.IncStoreFailure()
		if p.fallback != nil {
			p.fallback(event, err)
		}
	} else {
		p.metrics.IncPersisted(event.Action)
	}
	for _, sink := range p.sinks {
		if err := sink.Deliver(ctx, event); err != nil {
			p.metrics.IncSinkFailure()
			if p.fallback != nil {
				p.fallback(event, err)
			}
		}
	}
}

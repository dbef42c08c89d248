package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"fieldsync/internal/audit"
	"fieldsync/pkg/domain"
	dErrors "fieldsync/pkg/domain-errors"
	"fieldsync/pkg/platform/sentinel"
	"fieldsync/pkg/requestcontext"
)

const (
	defaultDrainInterval = 30 * time.Second
	defaultCommitTimeout = 20 * time.Second
	defaultMaxAttempts   = 5
	defaultBaseBackoff   = time.Second
	maxBackoff           = 30 * time.Second
)

// Coordinator drains the mutation queue to the backend. Entity types drain in
// parallel; within a type mutations go strictly in order, one in flight at a
// time, and every state transition is persisted before the next mutation is
// touched.
type Coordinator struct {
	store   Store
	backend Backend
	policy  Policy

	publisher audit.Publisher
	logger    *slog.Logger
	metrics   *Metrics
	tracer    trace.Tracer

	drainInterval time.Duration
	commitTimeout time.Duration
	maxAttempts   int
	baseBackoff   time.Duration

	connectivity chan struct{}
}

// Option configures the Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = logger }
}

// WithPublisher sets the audit publisher.
func WithPublisher(p audit.Publisher) Option {
	return func(c *Coordinator) { c.publisher = p }
}

// WithMetrics sets the Prometheus metrics.
func WithMetrics(m *Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithDrainInterval sets the periodic drain tick.
func WithDrainInterval(d time.Duration) Option {
	return func(c *Coordinator) { c.drainInterval = d }
}

// WithCommitTimeout bounds each backend commit attempt.
func WithCommitTimeout(d time.Duration) Option {
	return func(c *Coordinator) { c.commitTimeout = d }
}

// WithMaxAttempts sets how many transient failures a mutation survives before
// it is marked failed.
func WithMaxAttempts(n int) Option {
	return func(c *Coordinator) { c.maxAttempts = n }
}

// WithBaseBackoff sets the first retry delay; later retries double up to a cap.
func WithBaseBackoff(d time.Duration) Option {
	return func(c *Coordinator) { c.baseBackoff = d }
}

func NewCoordinator(store Store, backend Backend, policy Policy, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:         store,
		backend:       backend,
		policy:        policy,
		publisher:     audit.Discard{},
		logger:        slog.Default(),
		tracer:        otel.Tracer("fieldsync/syncer"),
		drainInterval: defaultDrainInterval,
		commitTimeout: defaultCommitTimeout,
		maxAttempts:   defaultMaxAttempts,
		baseBackoff:   defaultBaseBackoff,
		connectivity:  make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Enqueue records a new offline mutation as pending.
func (c *Coordinator) Enqueue(ctx context.Context, entityType, entityID string, baseVersion int64, payload map[string]any) (*QueuedMutation, error) {
	if entityType == "" || entityID == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "entity type and id are required")
	}
	now := requestcontext.Now(ctx)
	m := &QueuedMutation{
		ID:          domain.NewMutationID(),
		EntityType:  entityType,
		EntityID:    entityID,
		BaseVersion: baseVersion,
		Payload:     payload,
		State:       StatePending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := c.store.Enqueue(ctx, m); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "enqueue mutation")
	}
	return m, nil
}

// NotifyConnectivity wakes the drain loop. Safe to call from any goroutine;
// redundant notifications coalesce.
func (c *Coordinator) NotifyConnectivity() {
	select {
	case c.connectivity <- struct{}{}:
	default:
	}
}

// Run starts the drain loop and blocks until ctx is cancelled. Mutations left
// in syncing by a previous crash are reset to pending first, so nothing stays
// stuck in flight.
func (c *Coordinator) Run(ctx context.Context) error {
	reset, err := c.store.ResetInFlight(ctx)
	if err != nil {
		return fmt.Errorf("reset in-flight mutations: %w", err)
	}
	if reset > 0 {
		c.logger.InfoContext(ctx, "reset in-flight mutations", slog.Int("count", reset))
	}
	c.metrics.AddResets(reset)

	ticker := time.NewTicker(c.drainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.connectivity:
		case <-ticker.C:
		}
		if err := c.Drain(ctx); err != nil && !errors.Is(err, context.Canceled) {
			c.logger.ErrorContext(ctx, "drain cycle failed", slog.Any("error", err))
		}
	}
}

// Drain processes every entity type with pending work. Types run in parallel;
// an error in one type does not stop the others mid-mutation.
func (c *Coordinator) Drain(ctx context.Context) error {
	ctx, span := c.tracer.Start(ctx, "syncer.Drain")
	defer span.End()
	c.metrics.IncDrainRun()

	types, err := c.store.EntityTypesWithPending(ctx)
	if err != nil {
		return fmt.Errorf("list pending entity types: %w", err)
	}
	span.SetAttributes(attribute.Int("sync.entity_types", len(types)))

	g, ctx := errgroup.WithContext(ctx)
	for _, entityType := range types {
		g.Go(func() error {
			return c.drainType(ctx, entityType)
		})
	}
	return g.Wait()
}

// drainType drains one entity type strictly in FIFO order. It stops at the
// first mutation that cannot make progress right now (transient failure or
// cancelled context) so later mutations never overtake an earlier one.
func (c *Coordinator) drainType(ctx context.Context, entityType string) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		m, err := c.store.NextPending(ctx, entityType)
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("next pending for %s: %w", entityType, err)
		}

		if err := c.store.Claim(ctx, m.ID); err != nil {
			if errors.Is(err, sentinel.ErrInvalidState) {
				// Another drain holds this mutation. Two drains on one
				// queue breaks the at-most-one-in-flight guarantee, so
				// stop instead of racing.
				c.logger.ErrorContext(ctx, "mutation claim rejected, concurrent drain suspected",
					slog.String("mutation_id", m.ID.String()),
					slog.String("entity_type", entityType))
				return err
			}
			return fmt.Errorf("claim mutation %s: %w", m.ID, err)
		}
		m.State = StateSyncing

		proceed, err := c.process(ctx, m)
		if err != nil {
			return err
		}
		if !proceed {
			return nil
		}
	}
}

// process pushes one claimed mutation through a commit attempt and persists
// the resulting transition. It reports whether the type's drain should
// continue with the next mutation.
func (c *Coordinator) process(ctx context.Context, m *QueuedMutation) (bool, error) {
	commitCtx, cancel := context.WithTimeout(ctx, c.commitTimeout)
	outcome, err := c.backend.Commit(commitCtx, m)
	cancel()

	now := requestcontext.Now(ctx)
	m.UpdatedAt = now

	switch {
	case err != nil:
		return c.handleTransientFailure(ctx, m, err)
	case outcome.Conflict:
		return c.handleConflict(ctx, m, outcome)
	default:
		m.State = StateSynced
		m.BaseVersion = outcome.Version
		m.LastError = ""
		if err := c.store.Update(ctx, m); err != nil {
			return false, fmt.Errorf("persist synced state: %w", err)
		}
		c.metrics.IncSynced(m.EntityType)
		c.publisher.Emit(ctx, audit.Event{
			Action:   audit.ActionMutationSynced,
			Metadata: mutationMetadata(m),
		})
		c.logger.InfoContext(ctx, "mutation synced",
			slog.String("mutation_id", m.ID.String()),
			slog.String("entity_type", m.EntityType),
			slog.Int64("version", outcome.Version))
		return true, nil
	}
}

// handleTransientFailure retries with capped exponential backoff until the
// attempt budget runs out, then parks the mutation as failed. Failed
// mutations stay queryable; they are never discarded.
func (c *Coordinator) handleTransientFailure(ctx context.Context, m *QueuedMutation, commitErr error) (bool, error) {
	m.Attempts++
	m.LastError = commitErr.Error()

	if m.Attempts >= c.maxAttempts {
		m.State = StateFailed
		if err := c.store.Update(ctx, m); err != nil {
			return false, fmt.Errorf("persist failed state: %w", err)
		}
		c.metrics.IncFailed(m.EntityType)
		c.publisher.Emit(ctx, audit.Event{
			Action:   audit.ActionMutationFailed,
			Reason:   m.LastError,
			Metadata: mutationMetadata(m),
		})
		c.logger.ErrorContext(ctx, "mutation failed permanently",
			slog.String("mutation_id", m.ID.String()),
			slog.String("entity_type", m.EntityType),
			slog.Int("attempts", m.Attempts),
			slog.Any("error", commitErr))
		return true, nil
	}

	m.State = StatePending
	if err := c.store.Update(ctx, m); err != nil {
		return false, fmt.Errorf("persist retry state: %w", err)
	}
	c.metrics.IncRetry()
	c.logger.WarnContext(ctx, "mutation commit failed, will retry",
		slog.String("mutation_id", m.ID.String()),
		slog.Int("attempt", m.Attempts),
		slog.Any("error", commitErr))

	backoff := c.backoffFor(m.Attempts)
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case <-time.After(backoff):
	}
	// Stop this cycle; the mutation stays at the head of its queue for the
	// next drain, preserving FIFO.
	return false, nil
}

func (c *Coordinator) handleConflict(ctx context.Context, m *QueuedMutation, outcome *CommitOutcome) (bool, error) {
	resolution := Resolve(m.EntityType, m.Payload, outcome.ServerPayload, c.policy)

	if !resolution.Resolved {
		m.State = StateConflicted
		m.LastError = "manual resolution required"
		if err := c.store.Update(ctx, m); err != nil {
			return false, fmt.Errorf("persist conflicted state: %w", err)
		}
		c.metrics.IncConflict(m.EntityType, "manual")
		c.publisher.Emit(ctx, audit.Event{
			Action:   audit.ActionMutationConflict,
			Decision: "manual",
			Metadata: mutationMetadata(m),
		})
		c.publisher.Emit(ctx, audit.Event{
			Action:   audit.ActionRiskEventRaised,
			Reason:   "suspicious_pattern",
			Metadata: mutationMetadata(m),
		})
		c.logger.WarnContext(ctx, "mutation conflicted, manual resolution required",
			slog.String("mutation_id", m.ID.String()),
			slog.String("entity_type", m.EntityType))
		// The head of this type's queue is now conflicted; later mutations
		// for the same entity would race the operator, so stop the type.
		return false, nil
	}

	if discardsMoney(m.Payload, resolution.Merged) {
		c.publisher.Emit(ctx, audit.Event{
			Action:   audit.ActionRiskEventRaised,
			Reason:   "high_amount",
			Metadata: mutationMetadata(m),
		})
	}

	m.Payload = resolution.Merged
	m.BaseVersion = outcome.ServerVersion
	m.State = StatePending
	m.LastError = ""
	if err := c.store.Update(ctx, m); err != nil {
		return false, fmt.Errorf("persist resolved state: %w", err)
	}
	c.metrics.IncConflict(m.EntityType, "resolved")
	c.publisher.Emit(ctx, audit.Event{
		Action:   audit.ActionMutationConflict,
		Decision: "resolved",
		Metadata: mutationMetadata(m),
	})
	c.logger.InfoContext(ctx, "conflict resolved, recommitting",
		slog.String("mutation_id", m.ID.String()),
		slog.String("entity_type", m.EntityType),
		slog.Int64("base_version", m.BaseVersion))
	return true, nil
}

// ResolveConflict lets an operator replace a conflicted mutation's payload
// and re-queue it against the given base version.
func (c *Coordinator) ResolveConflict(ctx context.Context, id domain.MutationID, payload map[string]any, baseVersion int64) error {
	m, err := c.getConflicted(ctx, id)
	if err != nil {
		return err
	}
	m.Payload = payload
	m.BaseVersion = baseVersion
	m.State = StatePending
	m.Attempts = 0
	m.LastError = ""
	m.UpdatedAt = requestcontext.Now(ctx)
	if err := c.store.Update(ctx, m); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "requeue resolved mutation")
	}
	return nil
}

// DeclineConflict lets an operator discard a conflicted mutation's local
// change. The mutation moves to failed so the decline stays visible.
func (c *Coordinator) DeclineConflict(ctx context.Context, id domain.MutationID) error {
	m, err := c.getConflicted(ctx, id)
	if err != nil {
		return err
	}
	m.State = StateFailed
	m.LastError = "declined by operator"
	m.UpdatedAt = requestcontext.Now(ctx)
	if err := c.store.Update(ctx, m); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "persist declined mutation")
	}
	c.publisher.Emit(ctx, audit.Event{
		Action:   audit.ActionMutationFailed,
		Reason:   "declined by operator",
		Metadata: mutationMetadata(m),
	})
	return nil
}

// Conflicts lists mutations awaiting manual resolution, for operator review.
func (c *Coordinator) Conflicts(ctx context.Context, limit int) ([]*QueuedMutation, error) {
	if limit <= 0 {
		limit = 50
	}
	conflicted, err := c.store.List(ctx, StateConflicted, limit)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "list conflicted mutations")
	}
	return conflicted, nil
}

// Conflict returns one conflicted mutation together with the current server
// copy of its entity, so operators resolve against fresh state rather than
// the snapshot attached when the conflict was detected.
func (c *Coordinator) Conflict(ctx context.Context, id domain.MutationID) (*QueuedMutation, map[string]any, int64, error) {
	m, err := c.getConflicted(ctx, id)
	if err != nil {
		return nil, nil, 0, err
	}
	payload, version, err := c.backend.Fetch(ctx, m.EntityType, m.EntityID)
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return nil, nil, 0, dErrors.New(dErrors.CodeNotFound, "entity not found on server")
	case errors.Is(err, sentinel.ErrUnavailable):
		return nil, nil, 0, dErrors.Wrap(err, dErrors.CodeUnavailable, "server unreachable")
	case err != nil:
		return nil, nil, 0, dErrors.Wrap(err, dErrors.CodeInternal, "fetch server state")
	}
	return m, payload, version, nil
}

func (c *Coordinator) getConflicted(ctx context.Context, id domain.MutationID) (*QueuedMutation, error) {
	m, err := c.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "mutation not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load mutation")
	}
	if m.State != StateConflicted {
		return nil, dErrors.New(dErrors.CodeConflict, "mutation is not awaiting manual resolution")
	}
	return m, nil
}

func (c *Coordinator) backoffFor(attempt int) time.Duration {
	backoff := c.baseBackoff << (attempt - 1)
	if backoff > maxBackoff || backoff <= 0 {
		return maxBackoff
	}
	return backoff
}

func mutationMetadata(m *QueuedMutation) map[string]any {
	return map[string]any{
		"mutation_id": m.ID.String(),
		"entity_type": m.EntityType,
		"entity_id":   m.EntityID,
		"attempts":    m.Attempts,
	}
}

// discardsMoney reports whether resolution dropped the local side's amount.
// Losing money fields silently is exactly what operators need flagged.
func discardsMoney(local, merged map[string]any) bool {
	for _, field := range []string{"amount", "total", "balance"} {
		localVal, inLocal := local[field]
		if !inLocal {
			continue
		}
		if mergedVal, inMerged := merged[field]; !inMerged || !equal(localVal, mergedVal) {
			return true
		}
	}
	return false
}

package entity

import (
	"context"
	"errors"
	"log/slog"

	dErrors "fieldsync/pkg/domain-errors"
	"fieldsync/pkg/platform/sentinel"
	"fieldsync/pkg/requestcontext"
)

// Service applies client mutations against authoritative state.
type Service struct {
	store  Store
	logger *slog.Logger
}

// Option configures the Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func NewService(store Store, opts ...Option) *Service {
	s := &Service{store: store, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Commit applies one mutation. A stale base is not an error at this level: the
// result carries Conflict=true with the current server state so the client can
// resolve and retry.
func (s *Service) Commit(ctx context.Context, req CommitRequest) (*CommitResult, error) {
	if req.EntityType == "" || req.EntityID == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "entity type and id are required")
	}
	if req.BaseVersion < 0 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "base version must not be negative")
	}
	if req.MutationID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "mutation id is required")
	}

	now := requestcontext.Now(ctx)
	state, err := s.store.Commit(ctx, req, now)
	if err == nil {
		s.logger.InfoContext(ctx, "entity committed",
			slog.String("entity_type", req.EntityType),
			slog.String("entity_id", req.EntityID),
			slog.Int64("version", state.Version))
		return &CommitResult{State: state}, nil
	}

	if errors.Is(err, sentinel.ErrStaleBase) {
		current, getErr := s.store.Get(ctx, req.EntityType, req.EntityID)
		if getErr != nil {
			return nil, dErrors.Wrap(getErr, dErrors.CodeInternal, "load current state after stale base")
		}
		if current.LastMutation == req.MutationID {
			// The client committed this mutation already and lost the
			// response. Answer as if the commit just succeeded.
			return &CommitResult{State: current}, nil
		}
		s.logger.InfoContext(ctx, "stale base rejected",
			slog.String("entity_type", req.EntityType),
			slog.String("entity_id", req.EntityID),
			slog.Int64("base_version", req.BaseVersion),
			slog.Int64("current_version", current.Version))
		return &CommitResult{State: current, Conflict: true}, nil
	}

	return nil, dErrors.Wrap(err, dErrors.CodeInternal, "commit entity")
}

// Get returns the current authoritative state.
func (s *Service) Get(ctx context.Context, entityType, entityID string) (*State, error) {
	if entityType == "" || entityID == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "entity type and id are required")
	}
	state, err := s.store.Get(ctx, entityType, entityID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "entity not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load entity")
	}
	return state, nil
}

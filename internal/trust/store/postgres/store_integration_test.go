//go:build integration

package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fieldsync/internal/trust"
	trustpg "fieldsync/internal/trust/store/postgres"
	"fieldsync/pkg/domain"
	"fieldsync/pkg/platform/sentinel"
	"fieldsync/pkg/testutil/containers"
)

func TestDecisionStore_OutcomeLifecycle(t *testing.T) {
	pc := containers.NewPostgresContainer(t)
	ctx := context.Background()
	require.NoError(t, trustpg.Migrate(ctx, pc.DB))

	store := trustpg.NewDecisionStore(pc.DB)

	decision := &trust.AuthDecision{
		ID:      domain.NewDecisionID(),
		Subject: domain.NewSubjectID(),
		Factors: trust.Factors{GeoMatch: true, ExternalConfidence: 0.4},
		Score:   33,
		Decision: trust.DecisionHumanFallback,
		Fingerprint: "fp-1",
		Region:      "SE-AB",
		Outcome:     trust.OutcomePending,
		CreatedAt:   time.Now().UTC().Truncate(time.Microsecond),
	}
	require.NoError(t, store.Create(ctx, decision))

	got, err := store.Get(ctx, decision.ID)
	require.NoError(t, err)
	assert.Equal(t, decision.Subject, got.Subject)
	assert.Equal(t, decision.Score, got.Score)
	assert.Equal(t, trust.OutcomePending, got.Outcome)
	assert.InDelta(t, 0.4, got.Factors.ExternalConfidence, 1e-9)

	at := time.Now().UTC().Truncate(time.Microsecond)
	updated, err := store.SetOutcome(ctx, decision.ID, trust.OutcomeFailure, at)
	require.NoError(t, err)
	assert.True(t, updated)

	// Second outcome write is a no-op, not an overwrite.
	updated, err = store.SetOutcome(ctx, decision.ID, trust.OutcomeSuccess, at.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, updated)

	got, err = store.Get(ctx, decision.ID)
	require.NoError(t, err)
	assert.Equal(t, trust.OutcomeFailure, got.Outcome)
	require.NotNil(t, got.OutcomeAt)
	assert.True(t, got.OutcomeAt.Equal(at))

	_, err = store.SetOutcome(ctx, domain.NewDecisionID(), trust.OutcomeSuccess, at)
	assert.ErrorIs(t, err, sentinel.ErrNotFound)

	attempts, err := store.IncChallengeAttempts(ctx, decision.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
	attempts, err = store.IncChallengeAttempts(ctx, decision.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
}

func TestRiskStore_AppendAndList(t *testing.T) {
	pc := containers.NewPostgresContainer(t)
	ctx := context.Background()
	require.NoError(t, trustpg.Migrate(ctx, pc.DB))

	store := trustpg.NewRiskStore(pc.DB)
	subject := domain.NewSubjectID()
	base := time.Now().UTC().Truncate(time.Microsecond)

	for i, kind := range []trust.RiskKind{trust.RiskNewDevice, trust.RiskUnusualLocation} {
		require.NoError(t, store.Append(ctx, &trust.RiskEvent{
			ID:        domain.NewRiskEventID(),
			Subject:   subject,
			Kind:      kind,
			Severity:  trust.SeverityHigh,
			Details:   map[string]any{"score": 12},
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}

	events, err := store.ListBySubject(ctx, subject, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, trust.RiskUnusualLocation, events[0].Kind, "newest first")
	assert.Equal(t, float64(12), events[0].Details["score"])

	events, err = store.ListBySubject(ctx, domain.NewSubjectID(), 10)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestHistoryStore_RecordAndGet(t *testing.T) {
	pc := containers.NewPostgresContainer(t)
	ctx := context.Background()
	require.NoError(t, trustpg.Migrate(ctx, pc.DB))

	store := trustpg.NewHistoryStore(pc.DB)
	subject := domain.NewSubjectID()

	_, err := store.Get(ctx, subject)
	assert.ErrorIs(t, err, sentinel.ErrNotFound)

	morning := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	evening := time.Date(2026, 3, 11, 19, 0, 0, 0, time.UTC)
	require.NoError(t, store.RecordObservation(ctx, subject, "fp-1", "SE-AB", morning))
	require.NoError(t, store.RecordObservation(ctx, subject, "fp-2", "SE-AB", evening))

	history, err := store.Get(ctx, subject)
	require.NoError(t, err)
	assert.True(t, history.DeviceSeen("fp-1"))
	assert.True(t, history.DeviceSeen("fp-2"))
	assert.False(t, history.DeviceSeen("fp-3"))
	assert.True(t, history.RegionSeen("SE-AB"))
	assert.Len(t, history.Regions, 1, "duplicate region not re-added")
	assert.True(t, history.HourTypical(8))
	assert.True(t, history.HourTypical(19))
	assert.False(t, history.HourTypical(3))
}

func TestQuestionStore_RoundTrip(t *testing.T) {
	pc := containers.NewPostgresContainer(t)
	ctx := context.Background()
	require.NoError(t, trustpg.Migrate(ctx, pc.DB))

	store := trustpg.NewQuestionStore(pc.DB)
	subject := domain.NewSubjectID()

	_, err := store.AnswerHash(ctx, subject)
	assert.ErrorIs(t, err, sentinel.ErrNotFound)

	require.NoError(t, store.SetAnswer(ctx, subject, []byte("hash-1")))
	hash, err := store.AnswerHash(ctx, subject)
	require.NoError(t, err)
	assert.Equal(t, []byte("hash-1"), hash)

	require.NoError(t, store.SetAnswer(ctx, subject, []byte("hash-2")))
	hash, err = store.AnswerHash(ctx, subject)
	require.NoError(t, err)
	assert.Equal(t, []byte("hash-2"), hash)
}

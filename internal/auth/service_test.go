package auth_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fieldsync/internal/audit"
	"fieldsync/internal/auth"
	authmemory "fieldsync/internal/auth/store/memory"
	"fieldsync/internal/otp"
	otpmemory "fieldsync/internal/otp/store/memory"
	"fieldsync/internal/token"
	"fieldsync/internal/trust"
	trustmemory "fieldsync/internal/trust/store/memory"
	"fieldsync/pkg/domain"
	dErrors "fieldsync/pkg/domain-errors"
	"fieldsync/pkg/platform/sentinel"
	"fieldsync/pkg/requestcontext"
)

// recordingPublisher captures emitted audit events for assertions.
type recordingPublisher struct {
	mu     sync.Mutex
	events []audit.Event
}

func (p *recordingPublisher) Emit(_ context.Context, event audit.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *recordingPublisher) actions() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Action)
	}
	return out
}

type fixture struct {
	svc       *auth.Service
	trust     *trust.Service
	tokens    *token.Service
	subjects  *authmemory.InMemorySubjectStore
	history   *trustmemory.InMemoryHistoryStore
	decisions *trustmemory.InMemoryDecisionStore
	publisher *recordingPublisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		subjects:  authmemory.NewInMemorySubjectStore(),
		history:   trustmemory.NewInMemoryHistoryStore(),
		decisions: trustmemory.NewInMemoryDecisionStore(),
		publisher: &recordingPublisher{},
	}
	otpSvc := otp.NewService(otpmemory.NewInMemoryChallengeStore(), nil, otp.WithTestMode(true))
	f.trust = trust.NewService(f.decisions, trustmemory.NewInMemoryRiskStore(), f.history, trustmemory.NewInMemoryQuestionStore())
	f.tokens = token.NewService("test-signing-key", "fieldsync-test")
	f.svc = auth.NewService(otpSvc, f.trust, f.tokens, f.subjects,
		auth.WithPublisher(f.publisher))
	return f
}

// issueCode requests an OTP and returns the raw code (test mode).
func (f *fixture) issueCode(t *testing.T, ctx context.Context, phone domain.Phone) string {
	t.Helper()
	result, err := f.svc.RequestCode(ctx, phone)
	require.NoError(t, err)
	require.True(t, result.TestMode)
	require.NotEmpty(t, result.Code)
	return result.Code
}

func mustPhone(t *testing.T, raw string) domain.Phone {
	t.Helper()
	phone, err := domain.ParsePhone(raw)
	require.NoError(t, err)
	return phone
}

// knownContext returns a context carrying the fingerprint and time that match
// the subject's recorded history.
func knownContext(fingerprint string, at time.Time) context.Context {
	ctx := requestcontext.WithDeviceFingerprint(context.Background(), fingerprint)
	return requestcontext.WithTime(ctx, at)
}

func TestLogin_FirstLoginEnrollsButNeverGrantsDirectly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	phone := mustPhone(t, "0701234567")

	code := f.issueCode(t, ctx, phone)
	result, err := f.svc.Login(ctx, phone, code, "stockholm", 1.0)
	require.NoError(t, err)

	assert.NotEqual(t, auth.StatusGranted, result.Status, "an unseen subject has no trusted context")
	assert.Empty(t, result.Token)
	assert.False(t, result.Subject.IsNil(), "first login enrolls the phone")

	enrolled, err := f.subjects.FindByPhone(ctx, phone)
	require.NoError(t, err)
	assert.Equal(t, result.Subject, enrolled)

	assert.Contains(t, f.publisher.actions(), audit.ActionOTPIssued)
	assert.Contains(t, f.publisher.actions(), audit.ActionOTPVerified)
}

func TestLogin_RepeatLoginsShareOneSubject(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	phone := mustPhone(t, "0701234567")

	code := f.issueCode(t, ctx, phone)
	first, err := f.svc.Login(ctx, phone, code, "stockholm", 0)
	require.NoError(t, err)

	code = f.issueCode(t, ctx, phone)
	second, err := f.svc.Login(ctx, phone, code, "stockholm", 0)
	require.NoError(t, err)

	assert.Equal(t, first.Subject, second.Subject)
}

func TestLogin_KnownContextGrantsToken(t *testing.T) {
	f := newFixture(t)
	phone := mustPhone(t, "0701234567")
	at := time.Now().UTC()
	ctx := knownContext("device-fp-1", at)

	subject, err := f.subjects.Enroll(ctx, phone)
	require.NoError(t, err)
	require.NoError(t, f.history.RecordObservation(ctx, subject, "device-fp-1", "stockholm", at))

	code := f.issueCode(t, ctx, phone)
	result, err := f.svc.Login(ctx, phone, code, "stockholm", 0.5)
	require.NoError(t, err)

	assert.Equal(t, auth.StatusGranted, result.Status)
	assert.Equal(t, subject, result.Subject)
	require.NotEmpty(t, result.Token)

	claims, err := f.tokens.Validate(result.Token)
	require.NoError(t, err)
	assert.Equal(t, subject.String(), claims.SubjectID)
	assert.Equal(t, result.DecisionID.String(), claims.DecisionID)

	decision, err := f.trust.Decision(ctx, result.DecisionID)
	require.NoError(t, err)
	assert.Equal(t, trust.OutcomeSuccess, decision.Outcome, "a granted login concludes its own decision")
}

func TestLogin_NewDeviceChallengesAndAnswerMintsToken(t *testing.T) {
	f := newFixture(t)
	phone := mustPhone(t, "0701234567")
	at := time.Now().UTC()
	// Same region and hour as the history, but a device never seen before.
	ctx := knownContext("device-fp-new", at)

	subject, err := f.subjects.Enroll(ctx, phone)
	require.NoError(t, err)
	require.NoError(t, f.history.RecordObservation(ctx, subject, "device-fp-old", "stockholm", at))
	require.NoError(t, f.trust.SetChallengeAnswer(ctx, subject, "blue bicycle"))

	code := f.issueCode(t, ctx, phone)
	result, err := f.svc.Login(ctx, phone, code, "stockholm", 0)
	require.NoError(t, err)

	require.Equal(t, auth.StatusChallenge, result.Status)
	assert.Empty(t, result.Token)
	require.False(t, result.DecisionID.IsNil())

	t.Run("wrong answer stays unauthorized", func(t *testing.T) {
		_, err := f.svc.AnswerChallenge(ctx, result.DecisionID, "red car")
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	t.Run("correct answer grants the session", func(t *testing.T) {
		granted, err := f.svc.AnswerChallenge(ctx, result.DecisionID, "blue bicycle")
		require.NoError(t, err)
		assert.Equal(t, auth.StatusGranted, granted.Status)
		assert.Equal(t, subject, granted.Subject)

		claims, err := f.tokens.Validate(granted.Token)
		require.NoError(t, err)
		assert.Equal(t, subject.String(), claims.SubjectID)
	})
}

func TestLogin_WrongCodeFailsWithoutEnrollment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	phone := mustPhone(t, "0701234567")

	f.issueCode(t, ctx, phone)
	_, err := f.svc.Login(ctx, phone, "000000", "stockholm", 0)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))

	_, err = f.subjects.FindByPhone(ctx, phone)
	assert.True(t, errors.Is(err, sentinel.ErrNotFound), "a failed verification never enrolls")

	assert.Contains(t, f.publisher.actions(), audit.ActionOTPVerifyFailed)
}

func TestRequestCode_ThrottleIsAudited(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	phone := mustPhone(t, "0701234567")

	for i := 0; i < 5; i++ {
		f.issueCode(t, ctx, phone)
	}
	_, err := f.svc.RequestCode(ctx, phone)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeRateLimited))

	assert.Contains(t, f.publisher.actions(), audit.ActionOTPThrottled)
}

package token

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fieldsync/pkg/domain"
	dErrors "fieldsync/pkg/domain-errors"
)

func TestMintAndValidate(t *testing.T) {
	svc := NewService("test-signing-key", "fieldsync")
	subject := domain.NewSubjectID()
	decision := domain.NewDecisionID()

	raw, err := svc.Mint(subject, decision, time.Now())
	require.NoError(t, err)

	claims, err := svc.Validate(raw)
	require.NoError(t, err)
	assert.Equal(t, subject.String(), claims.SubjectID)
	assert.Equal(t, decision.String(), claims.DecisionID)
	assert.Equal(t, "fieldsync", claims.Issuer)

	got, err := svc.Subject(raw)
	require.NoError(t, err)
	assert.Equal(t, subject, got)
}

func TestValidate_ExpiredToken(t *testing.T) {
	svc := NewService("test-signing-key", "fieldsync", WithTTL(time.Minute))

	raw, err := svc.Mint(domain.NewSubjectID(), domain.NewDecisionID(), time.Now().Add(-time.Hour))
	require.NoError(t, err)

	_, err = svc.Validate(raw)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
	assert.Contains(t, err.Error(), "expired")
}

func TestValidate_WrongKey(t *testing.T) {
	minted := NewService("key-one", "fieldsync")
	raw, err := minted.Mint(domain.NewSubjectID(), domain.NewDecisionID(), time.Now())
	require.NoError(t, err)

	other := NewService("key-two", "fieldsync")
	_, err = other.Validate(raw)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func TestValidate_Garbage(t *testing.T) {
	svc := NewService("test-signing-key", "fieldsync")
	_, err := svc.Validate("not.a.token")
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

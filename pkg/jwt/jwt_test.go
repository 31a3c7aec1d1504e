package jwt_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tourwise/gatekeeper/pkg/jwt"
)

const testSecret = "unit-test-secret-at-least-32-chars!!"

func newTestManager(t *testing.T, cfg jwt.Config) *jwt.Manager {
	t.Helper()
	if cfg.Secret == "" {
		cfg.Secret = testSecret
	}
	m, err := jwt.NewManager(cfg)
	require.NoError(t, err)
	return m
}

func TestNewManagerRequiresSecret(t *testing.T) {
	_, err := jwt.NewManager(jwt.Config{})
	assert.Error(t, err)
}

func TestGenerateAndValidate(t *testing.T) {
	m := newTestManager(t, jwt.Config{Issuer: "gatekeeper"})

	token, expiresAt, err := m.Generate("user-1", "u1@example.com", "premium")
	require.NoError(t, err)
	require.NotEmpty(t, token)
	assert.WithinDuration(t, time.Now().Add(15*time.Minute), expiresAt, 5*time.Second)

	claims, err := m.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, "u1@example.com", claims.Email)
	assert.Equal(t, "premium", claims.Tier)
	assert.Equal(t, "gatekeeper", claims.Issuer)
	assert.NotEmpty(t, claims.ID, "tokens carry a unique jti")
}

func TestGenerateRequiresUserID(t *testing.T) {
	m := newTestManager(t, jwt.Config{})

	_, _, err := m.Generate("", "u@example.com", "")
	assert.ErrorIs(t, err, jwt.ErrEmptyUserID)
}

func TestValidateRejectsEmptyToken(t *testing.T) {
	m := newTestManager(t, jwt.Config{})

	_, err := m.Validate("")
	assert.ErrorIs(t, err, jwt.ErrInvalidToken)
}

func TestValidateRejectsTamperedToken(t *testing.T) {
	m := newTestManager(t, jwt.Config{})

	token, _, err := m.Generate("user-2", "", "")
	require.NoError(t, err)

	_, err = m.Validate(token + "x")
	assert.ErrorIs(t, err, jwt.ErrInvalidToken)
}

func TestValidateRejectsWrongSecret(t *testing.T) {
	issuing := newTestManager(t, jwt.Config{})
	verifying := newTestManager(t, jwt.Config{Secret: "a-completely-different-32-char-secret"})

	token, _, err := issuing.Generate("user-3", "", "")
	require.NoError(t, err)

	_, err = verifying.Validate(token)
	assert.ErrorIs(t, err, jwt.ErrInvalidToken)
}

func TestValidateRejectsExpiredToken(t *testing.T) {
	m := newTestManager(t, jwt.Config{Duration: -time.Minute})

	token, _, err := m.Generate("user-4", "", "")
	require.NoError(t, err)

	_, err = m.Validate(token)
	assert.ErrorIs(t, err, jwt.ErrExpiredToken)
}

func TestValidateRejectsIssuerMismatch(t *testing.T) {
	issuing := newTestManager(t, jwt.Config{Issuer: "someone-else"})
	verifying := newTestManager(t, jwt.Config{Issuer: "gatekeeper"})

	token, _, err := issuing.Generate("user-5", "", "")
	require.NoError(t, err)

	_, err = verifying.Validate(token)
	assert.ErrorIs(t, err, jwt.ErrInvalidToken)
}

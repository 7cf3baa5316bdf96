package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/examtrack/examtrack-go/internal/errors"
	"github.com/examtrack/examtrack-go/internal/notification"
)

const testSecret = "test-signing-secret"

func signToken(t *testing.T, secret string, subject, role, adminID string, expiresIn time.Duration) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":      subject,
		"role":     role,
		"admin_id": adminID,
		"exp":      time.Now().Add(expiresIn).Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestVerifyTeacherToken(t *testing.T) {
	t.Parallel()
	verifier := NewJWTVerifier(testSecret, 0)

	identity, err := verifier.Verify(signToken(t, testSecret, "T1", "teacher", "A1", time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "T1", identity.UserID)
	assert.Equal(t, notification.RoleTeacher, identity.Role)
	assert.Equal(t, "A1", identity.AdminID)
}

func TestVerifyAdminTokenDefaultsAdminID(t *testing.T) {
	t.Parallel()
	verifier := NewJWTVerifier(testSecret, 0)

	identity, err := verifier.Verify(signToken(t, testSecret, "A1", "admin", "", time.Hour))
	require.NoError(t, err)
	assert.Equal(t, notification.RoleAdmin, identity.Role)
	assert.Equal(t, "A1", identity.AdminID)
}

func TestVerifyEnforcesMaxTokenAge(t *testing.T) {
	t.Parallel()
	verifier := NewJWTVerifier(testSecret, time.Hour)

	signAged := func(issuedAt time.Time) string {
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"sub":      "T1",
			"role":     "teacher",
			"admin_id": "A1",
			"iat":      issuedAt.Unix(),
			"exp":      time.Now().Add(24 * time.Hour).Unix(),
		})
		signed, err := token.SignedString([]byte(testSecret))
		require.NoError(t, err)
		return signed
	}

	// fresh token passes
	_, err := verifier.Verify(signAged(time.Now()))
	require.NoError(t, err)

	// a long exp claim does not stretch past the configured cap
	_, err = verifier.Verify(signAged(time.Now().Add(-2 * time.Hour)))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryUnauthorized))

	// without an issued-at claim the age cannot be checked, so reject
	_, err = verifier.Verify(signToken(t, testSecret, "T1", "teacher", "A1", time.Hour))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryUnauthorized))
}

func TestVerifyRejectsBadTokens(t *testing.T) {
	t.Parallel()
	verifier := NewJWTVerifier(testSecret, 0)

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"garbage", "not-a-jwt"},
		{"wrong secret", signToken(t, "other-secret", "T1", "teacher", "A1", time.Hour)},
		{"expired", signToken(t, testSecret, "T1", "teacher", "A1", -time.Hour)},
		{"teacher without admin", signToken(t, testSecret, "T1", "teacher", "", time.Hour)},
		{"unknown role", signToken(t, testSecret, "T1", "superuser", "A1", time.Hour)},
		{"no subject", signToken(t, testSecret, "", "teacher", "A1", time.Hour)},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := verifier.Verify(tc.token)
			require.Error(t, err)
			assert.True(t, errors.IsCategory(err, errors.CategoryUnauthorized))
		})
	}
}

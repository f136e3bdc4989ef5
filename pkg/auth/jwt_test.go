package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bearerRequest(token string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func TestNewJWTStrategy_RequiresSecret(t *testing.T) {
	_, err := NewJWTStrategy("", "warden")
	assert.Error(t, err)
}

func TestJWTStrategy_RoundTrip(t *testing.T) {
	s, err := NewJWTStrategy("test-secret", "warden")
	require.NoError(t, err)

	token, err := s.IssueToken(Claims{
		SysAdmin:         true,
		OrganizationID:   "org-1",
		RegisteredClaims: jwt.RegisteredClaims{Subject: "user1"},
	}, time.Hour)
	require.NoError(t, err)

	principal, err := s.Authenticate(context.Background(), bearerRequest(token))
	require.NoError(t, err)
	require.NotNil(t, principal)
	assert.Equal(t, "user1", principal.UserID)
	assert.Equal(t, "org-1", principal.OrganizationID)
	assert.True(t, principal.IsSystemAdmin)
	assert.Equal(t, StrategyJWT, principal.Strategy)
}

func TestJWTStrategy_Declines(t *testing.T) {
	s, err := NewJWTStrategy("test-secret", "")
	require.NoError(t, err)

	t.Run("no header", func(t *testing.T) {
		principal, err := s.Authenticate(context.Background(), httptest.NewRequest(http.MethodGet, "/", nil))
		assert.NoError(t, err)
		assert.Nil(t, principal)
	})

	t.Run("api key bearer", func(t *testing.T) {
		principal, err := s.Authenticate(context.Background(), bearerRequest(APIKeyPrefix+"abcdefgh"))
		assert.NoError(t, err)
		assert.Nil(t, principal)
	})
}

func TestJWTStrategy_Rejects(t *testing.T) {
	s, err := NewJWTStrategy("test-secret", "warden")
	require.NoError(t, err)

	other, err := NewJWTStrategy("other-secret", "warden")
	require.NoError(t, err)

	foreignIssuer, err := NewJWTStrategy("test-secret", "someone-else")
	require.NoError(t, err)

	wrongSecret, err := other.IssueToken(Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "user1"}}, time.Hour)
	require.NoError(t, err)

	wrongIssuer, err := foreignIssuer.IssueToken(Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "user1"}}, time.Hour)
	require.NoError(t, err)

	past, err := NewJWTStrategy("test-secret", "warden")
	require.NoError(t, err)
	past.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired, err := past.IssueToken(Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "user1"}}, time.Hour)
	require.NoError(t, err)

	noSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "warden",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Issuer: "warden", Subject: "user1"},
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	wrongAlg, err := jwt.NewWithClaims(jwt.SigningMethodHS512, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "warden",
			Subject:   "user1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	tests := map[string]string{
		"wrong secret": wrongSecret,
		"wrong issuer": wrongIssuer,
		"expired":      expired,
		"missing sub":  noSubject,
		"missing exp":  noExpiry,
		"wrong alg":    wrongAlg,
		"not a jwt":    "garbage",
	}

	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			principal, err := s.Authenticate(context.Background(), bearerRequest(token))
			assert.Error(t, err)
			assert.Nil(t, principal)
		})
	}
}

func TestJWTStrategy_IssueTokenRequiresSubject(t *testing.T) {
	s, err := NewJWTStrategy("test-secret", "warden")
	require.NoError(t, err)

	_, err = s.IssueToken(Claims{}, time.Hour)
	assert.Error(t, err)
}

package auth

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAPIKey(t *testing.T) {
	key, hash, prefix, err := GenerateAPIKey()
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(key, APIKeyPrefix))
	encoded := strings.TrimPrefix(key, APIKeyPrefix)
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	require.NoError(t, err)
	assert.Len(t, raw, 32)

	assert.Equal(t, HashAPIKey(key), hash)
	assert.Len(t, hash, 64)
	assert.Equal(t, APIKeyPrefix+encoded[:8], prefix)

	other, _, _, err := GenerateAPIKey()
	require.NoError(t, err)
	assert.NotEqual(t, key, other)
}

func TestValidateKeyFormat(t *testing.T) {
	tests := []struct {
		key     string
		wantErr bool
	}{
		{"wdn_YWJjZGVmZ2g", false},
		{"sk_YWJjZGVmZ2g", true},
		{"wdn_", true},
		{"wdn_***", true},
		{"", true},
	}

	for _, tt := range tests {
		err := ValidateKeyFormat(tt.key)
		if tt.wantErr {
			assert.Error(t, err, tt.key)
		} else {
			assert.NoError(t, err, tt.key)
		}
	}
}

func TestExtractPrefix(t *testing.T) {
	assert.Equal(t, "wdn_abcdefgh", ExtractPrefix("wdn_abcdefghijkl"))
	assert.Equal(t, "wdn_abc", ExtractPrefix("wdn_abc"))
	assert.Equal(t, "", ExtractPrefix("other_abcdefghijkl"))
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("s3cret")
	require.NoError(t, err)
	assert.NoError(t, VerifyPassword(hash, "s3cret"))
	assert.Error(t, VerifyPassword(hash, "wrong"))
	assert.Error(t, VerifyPassword("", "s3cret"))

	_, err = HashPassword("")
	assert.Error(t, err)
}

func TestBasicStrategy(t *testing.T) {
	hash, err := HashPassword("s3cret")
	require.NoError(t, err)

	s, err := NewBasicStrategy(BasicCredentials{Username: "admin", PasswordHash: hash, IsSystemAdmin: true})
	require.NoError(t, err)

	request := func(user, pass string) *http.Request {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.SetBasicAuth(user, pass)
		return req
	}

	principal, err := s.Authenticate(context.Background(), request("admin", "s3cret"))
	require.NoError(t, err)
	require.NotNil(t, principal)
	assert.Equal(t, "admin", principal.UserID)
	assert.True(t, principal.IsSystemAdmin)
	assert.Equal(t, StrategyBasic, principal.Strategy)

	_, err = s.Authenticate(context.Background(), request("admin", "wrong"))
	assert.Error(t, err)

	_, err = s.Authenticate(context.Background(), request("root", "s3cret"))
	assert.Error(t, err)

	principal, err = s.Authenticate(context.Background(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NoError(t, err)
	assert.Nil(t, principal)

	_, err = NewBasicStrategy(BasicCredentials{Username: "admin"})
	assert.Error(t, err)
}

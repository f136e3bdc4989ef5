package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const (
	// APIKeyPrefix identifies warden API keys
	APIKeyPrefix = "wdn_"
	// apiKeyBytes is the amount of randomness in a key (256 bits)
	apiKeyBytes = 32
	// displayPrefixLen is how many encoded characters are kept for display
	displayPrefixLen = 8
)

// GenerateAPIKey creates a new key.
// Format: wdn_<base64url(32 random bytes)>
// Only the hash is stored. The display prefix identifies the key in listings.
func GenerateAPIKey() (key, keyHash, displayPrefix string, err error) {
	randomBytes := make([]byte, apiKeyBytes)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", "", "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	key = APIKeyPrefix + base64.RawURLEncoding.EncodeToString(randomBytes)
	return key, HashAPIKey(key), ExtractPrefix(key), nil
}

// HashAPIKey computes the SHA256 hash used for lookup
func HashAPIKey(key string) string {
	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:])
}

// ValidateKeyFormat checks if a key has the correct format
func ValidateKeyFormat(key string) error {
	if !strings.HasPrefix(key, APIKeyPrefix) {
		return fmt.Errorf("api key must start with %q", APIKeyPrefix)
	}

	encoded := strings.TrimPrefix(key, APIKeyPrefix)
	if len(encoded) == 0 {
		return fmt.Errorf("api key is too short")
	}

	if _, err := base64.RawURLEncoding.DecodeString(encoded); err != nil {
		return fmt.Errorf("invalid api key encoding: %w", err)
	}

	return nil
}

// ExtractPrefix returns the display prefix of a key
func ExtractPrefix(key string) string {
	if !strings.HasPrefix(key, APIKeyPrefix) {
		return ""
	}

	encoded := strings.TrimPrefix(key, APIKeyPrefix)
	if len(encoded) >= displayPrefixLen {
		return APIKeyPrefix + encoded[:displayPrefixLen]
	}

	return key
}

// HashPassword hashes a plaintext password using bcrypt.
func HashPassword(password string) (string, error) {
	if len(password) == 0 {
		return "", fmt.Errorf("password is empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword compares a plaintext password with a stored hash.
func VerifyPassword(hash, password string) error {
	if hash == "" {
		return fmt.Errorf("password hash is empty")
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}

package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
)

// BasicCredentials is the single static identity accepted by BasicStrategy
type BasicCredentials struct {
	Username     string
	PasswordHash string
	// UserID defaults to Username.
	UserID        string
	IsSystemAdmin bool
}

// BasicStrategy authenticates HTTP basic credentials against one bcrypt hash
type BasicStrategy struct {
	creds BasicCredentials
}

// NewBasicStrategy creates a basic strategy
func NewBasicStrategy(creds BasicCredentials) (*BasicStrategy, error) {
	if creds.Username == "" || creds.PasswordHash == "" {
		return nil, errors.New("basic auth requires a username and password hash")
	}
	if creds.UserID == "" {
		creds.UserID = creds.Username
	}
	return &BasicStrategy{creds: creds}, nil
}

// Name implements Strategy
func (s *BasicStrategy) Name() string { return StrategyBasic }

// Authenticate implements Strategy. Requests without basic credentials
// decline; wrong credentials are an error.
func (s *BasicStrategy) Authenticate(_ context.Context, r *http.Request) (*Principal, error) {
	username, password, ok := r.BasicAuth()
	if !ok {
		return nil, nil
	}

	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(s.creds.Username)) == 1
	// Always run bcrypt so a wrong username costs the same as a wrong password.
	passErr := VerifyPassword(s.creds.PasswordHash, password)
	if !userOK || passErr != nil {
		return nil, errors.New("invalid basic credentials")
	}

	return &Principal{
		UserID:        s.creds.UserID,
		IsSystemAdmin: s.creds.IsSystemAdmin,
		Strategy:      StrategyBasic,
	}, nil
}

package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the JWT claims issued and accepted by warden
type Claims struct {
	SysAdmin       bool   `json:"sys_admin,omitempty"`
	OrganizationID string `json:"org_id,omitempty"`
	jwt.RegisteredClaims
}

// JWTStrategy verifies HS256 bearer tokens
type JWTStrategy struct {
	secret []byte
	issuer string
	leeway time.Duration
	now    func() time.Time
}

// NewJWTStrategy creates a JWT strategy. An empty issuer disables the issuer check.
func NewJWTStrategy(secret, issuer string) (*JWTStrategy, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is required")
	}
	return &JWTStrategy{
		secret: []byte(secret),
		issuer: issuer,
		leeway: 30 * time.Second,
		now:    time.Now,
	}, nil
}

// Name implements Strategy
func (s *JWTStrategy) Name() string { return StrategyJWT }

// Authenticate declines requests without a bearer token, and bearer tokens
// that are API keys.
func (s *JWTStrategy) Authenticate(ctx context.Context, r *http.Request) (*Principal, error) {
	raw := bearerToken(r)
	if raw == "" || strings.HasPrefix(raw, APIKeyPrefix) {
		return nil, nil
	}

	claims, err := s.parse(raw)
	if err != nil {
		return nil, err
	}

	return &Principal{
		UserID:         claims.Subject,
		OrganizationID: claims.OrganizationID,
		IsSystemAdmin:  claims.SysAdmin,
		Strategy:       StrategyJWT,
	}, nil
}

func (s *JWTStrategy) parse(raw string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(s.leeway),
		jwt.WithTimeFunc(s.now),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	if claims.Subject == "" {
		return nil, errors.New("invalid token: subject is required")
	}
	return claims, nil
}

// IssueToken signs a token for claims. Subject and expiry are required.
func (s *JWTStrategy) IssueToken(claims Claims, ttl time.Duration) (string, error) {
	if claims.Subject == "" {
		return "", errors.New("subject is required")
	}
	now := s.now()
	if claims.IssuedAt == nil {
		claims.IssuedAt = jwt.NewNumericDate(now)
	}
	if claims.ExpiresAt == nil {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	if claims.Issuer == "" {
		claims.Issuer = s.issuer
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

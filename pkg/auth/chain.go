package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/platinummonkey/warden/pkg/apierr"
	"github.com/platinummonkey/warden/pkg/observability"
)

// Strategy names
const (
	StrategyJWT      = "jwt"
	StrategyOIDC     = "oidc"
	StrategyAPIKey   = "apikey"
	StrategyBasic    = "basic"
	StrategyInternal = "internal"
)

// InternalHeader marks trusted service-to-service requests
const InternalHeader = "X-Warden-Internal"

// DefaultStrategyTimeout applies when ChainOptions.Timeout is zero
const DefaultStrategyTimeout = 3 * time.Second

// Strategy resolves a request to a Principal. Returning (nil, nil) declines.
type Strategy interface {
	Name() string
	Authenticate(ctx context.Context, r *http.Request) (*Principal, error)
}

var (
	errStrategyTimeout  = errors.New("strategy timed out")
	errStrategyPanicked = errors.New("strategy panicked")
)

// ChainOptions configures a Chain
type ChainOptions struct {
	// Primary names the token strategy tried first (jwt or oidc).
	Primary string
	// MandatoryPrimary removes the basic strategy from the chain.
	MandatoryPrimary bool
	Timeout          time.Duration

	// InternalSecret enables the internal bypass when non-empty.
	InternalSecret string
	// InternalAuthRequired makes internal requests run the strategies too.
	InternalAuthRequired bool

	Logger  *observability.Logger
	Metrics *observability.Metrics
}

// Chain tries strategies in order until one resolves a principal
type Chain struct {
	strategies     []Strategy
	timeout        time.Duration
	internalSecret []byte
	internalAuth   bool
	logger         *observability.Logger
	metrics        *observability.Metrics
}

// NewChain orders strategies as primary, other token strategies, API key,
// then basic. Strategies of the same rank keep their given order.
func NewChain(strategies []Strategy, opts ChainOptions) *Chain {
	logger := opts.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultStrategyTimeout
	}

	ordered := make([]Strategy, 0, len(strategies))
	for _, s := range strategies {
		if s == nil {
			continue
		}
		if opts.MandatoryPrimary && s.Name() == StrategyBasic {
			continue
		}
		ordered = append(ordered, s)
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return strategyRank(ordered[i].Name(), opts.Primary) < strategyRank(ordered[j].Name(), opts.Primary)
	})

	return &Chain{
		strategies:     ordered,
		timeout:        timeout,
		internalSecret: []byte(opts.InternalSecret),
		internalAuth:   opts.InternalAuthRequired,
		logger:         logger.WithField("component", "auth"),
		metrics:        opts.Metrics,
	}
}

func strategyRank(name, primary string) int {
	switch {
	case name == primary:
		return 0
	case name == StrategyAPIKey:
		return 2
	case name == StrategyBasic:
		return 3
	default:
		return 1
	}
}

// Strategies returns the strategy names in execution order
func (c *Chain) Strategies() []string {
	names := make([]string, len(c.strategies))
	for i, s := range c.strategies {
		names[i] = s.Name()
	}
	return names
}

// Authenticate resolves the principal of r or returns apierr.ErrUnauthenticated
func (c *Chain) Authenticate(ctx context.Context, r *http.Request) (*Principal, error) {
	ctx, span := observability.Tracer().Start(ctx, "auth.Authenticate")
	defer span.End()

	if c.isInternal(r) && !c.internalAuth {
		span.SetAttributes(attribute.String("auth.strategy", StrategyInternal))
		c.metrics.RecordAuthAttempt(StrategyInternal, "success")
		return &Principal{Internal: true, Strategy: StrategyInternal}, nil
	}

	for _, s := range c.strategies {
		principal, err := c.run(ctx, s, r)
		switch {
		case errors.Is(err, errStrategyTimeout):
			c.metrics.RecordAuthAttempt(s.Name(), "timeout")
			c.logger.WithField("strategy", s.Name()).Warn("authentication strategy timed out, trying next")
			continue
		case err != nil:
			c.metrics.RecordAuthAttempt(s.Name(), "error")
			c.logger.WithError(err).WithField("strategy", s.Name()).Warn("authentication strategy failed, trying next")
			continue
		case principal == nil:
			c.metrics.RecordAuthAttempt(s.Name(), "decline")
			continue
		}

		if principal.Strategy == "" {
			principal.Strategy = s.Name()
		}
		c.metrics.RecordAuthAttempt(s.Name(), "success")
		span.SetAttributes(
			attribute.String("auth.strategy", principal.Strategy),
			attribute.String("auth.user_id", principal.UserID),
		)
		return principal, nil
	}

	span.SetStatus(codes.Error, "unauthenticated")
	return nil, fmt.Errorf("%w: no strategy accepted the request", apierr.ErrUnauthenticated)
}

// run executes one strategy under the chain timeout. A panicking strategy
// reports errStrategyPanicked instead of crashing the request.
func (c *Chain) run(ctx context.Context, s Strategy, r *http.Request) (*Principal, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	type result struct {
		principal *Principal
		err       error
	}
	done := make(chan result, 1)

	go func() {
		res := result{err: errStrategyPanicked}
		defer observability.Recover(c.logger, "auth strategy "+s.Name(), func() {
			done <- res
		})
		res.principal, res.err = s.Authenticate(ctx, r.WithContext(ctx))
	}()

	select {
	case res := <-done:
		return res.principal, res.err
	case <-ctx.Done():
		return nil, errStrategyTimeout
	}
}

func (c *Chain) isInternal(r *http.Request) bool {
	if len(c.internalSecret) == 0 {
		return false
	}
	value := r.Header.Get(InternalHeader)
	if value == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(value), c.internalSecret) == 1
}

// bearerToken returns the token of an "Authorization: Bearer" header
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

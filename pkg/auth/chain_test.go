package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/warden/pkg/apierr"
	"github.com/platinummonkey/warden/pkg/observability"
)

type fakeStrategy struct {
	name      string
	principal *Principal
	err       error
	sleep     time.Duration
	panics    bool
	calls     int32
}

func (f *fakeStrategy) Name() string { return f.name }

func (f *fakeStrategy) Authenticate(ctx context.Context, r *http.Request) (*Principal, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.panics {
		panic("boom")
	}
	if f.sleep > 0 {
		time.Sleep(f.sleep)
	}
	if f.principal == nil {
		return nil, f.err
	}
	p := *f.principal
	return &p, f.err
}

func (f *fakeStrategy) callCount() int {
	return int(atomic.LoadInt32(&f.calls))
}

func TestNewChain_Ordering(t *testing.T) {
	basic := &fakeStrategy{name: StrategyBasic}
	apikey := &fakeStrategy{name: StrategyAPIKey}
	jwtS := &fakeStrategy{name: StrategyJWT}
	oidcS := &fakeStrategy{name: StrategyOIDC}

	tests := []struct {
		name string
		opts ChainOptions
		want []string
	}{
		{
			name: "jwt primary",
			opts: ChainOptions{Primary: StrategyJWT},
			want: []string{StrategyJWT, StrategyOIDC, StrategyAPIKey, StrategyBasic},
		},
		{
			name: "oidc primary",
			opts: ChainOptions{Primary: StrategyOIDC},
			want: []string{StrategyOIDC, StrategyJWT, StrategyAPIKey, StrategyBasic},
		},
		{
			name: "mandatory primary drops basic",
			opts: ChainOptions{Primary: StrategyJWT, MandatoryPrimary: true},
			want: []string{StrategyJWT, StrategyOIDC, StrategyAPIKey},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chain := NewChain([]Strategy{basic, apikey, nil, jwtS, oidcS}, tt.opts)
			assert.Equal(t, tt.want, chain.Strategies())
		})
	}
}

func TestChain_FirstSuccessWins(t *testing.T) {
	declining := &fakeStrategy{name: StrategyJWT}
	failing := &fakeStrategy{name: StrategyAPIKey, err: errors.New("store down")}
	basic := &fakeStrategy{name: StrategyBasic, principal: &Principal{UserID: "user1"}}
	never := &fakeStrategy{name: "extra", principal: &Principal{UserID: "other"}}

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)
	chain := NewChain([]Strategy{declining, failing, basic}, ChainOptions{Primary: StrategyJWT, Metrics: metrics})
	chain.strategies = append(chain.strategies, never)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	principal, err := chain.Authenticate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "user1", principal.UserID)
	assert.Equal(t, StrategyBasic, principal.Strategy)

	assert.Equal(t, 1, declining.callCount())
	assert.Equal(t, 1, failing.callCount())
	assert.Equal(t, 0, never.callCount())

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.AuthAttemptsTotal.WithLabelValues(StrategyJWT, "decline")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.AuthAttemptsTotal.WithLabelValues(StrategyAPIKey, "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.AuthAttemptsTotal.WithLabelValues(StrategyBasic, "success")))
}

func TestChain_AllDecline(t *testing.T) {
	chain := NewChain([]Strategy{
		&fakeStrategy{name: StrategyJWT},
		&fakeStrategy{name: StrategyAPIKey, err: errors.New("bad key")},
	}, ChainOptions{Primary: StrategyJWT})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	principal, err := chain.Authenticate(context.Background(), req)
	assert.Nil(t, principal)
	assert.ErrorIs(t, err, apierr.ErrUnauthenticated)
}

func TestChain_EmptyChain(t *testing.T) {
	chain := NewChain(nil, ChainOptions{})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	_, err := chain.Authenticate(context.Background(), req)
	assert.ErrorIs(t, err, apierr.ErrUnauthenticated)
}

func TestChain_TimeoutDeclines(t *testing.T) {
	slow := &fakeStrategy{name: StrategyOIDC, principal: &Principal{UserID: "slow"}, sleep: 500 * time.Millisecond}
	fast := &fakeStrategy{name: StrategyAPIKey, principal: &Principal{UserID: "fast"}}

	metrics := observability.NewMetrics(prometheus.NewRegistry())
	chain := NewChain([]Strategy{slow, fast}, ChainOptions{
		Primary: StrategyOIDC,
		Timeout: 20 * time.Millisecond,
		Metrics: metrics,
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	start := time.Now()
	principal, err := chain.Authenticate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "fast", principal.UserID)
	assert.Less(t, time.Since(start), 400*time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.AuthAttemptsTotal.WithLabelValues(StrategyOIDC, "timeout")))
}

func TestChain_PanickingStrategyIsSkipped(t *testing.T) {
	panicking := &fakeStrategy{name: StrategyJWT, panics: true}
	next := &fakeStrategy{name: StrategyAPIKey, principal: &Principal{UserID: "user1"}}

	chain := NewChain([]Strategy{panicking, next}, ChainOptions{Primary: StrategyJWT})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	principal, err := chain.Authenticate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "user1", principal.UserID)
}

func TestChain_InternalBypass(t *testing.T) {
	strategy := &fakeStrategy{name: StrategyJWT, principal: &Principal{UserID: "user1"}}

	t.Run("matching secret skips strategies", func(t *testing.T) {
		chain := NewChain([]Strategy{strategy}, ChainOptions{InternalSecret: "s3cret"})
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(InternalHeader, "s3cret")

		before := strategy.callCount()
		principal, err := chain.Authenticate(context.Background(), req)
		require.NoError(t, err)
		assert.True(t, principal.Internal)
		assert.Equal(t, StrategyInternal, principal.Strategy)
		assert.Equal(t, before, strategy.callCount())
	})

	t.Run("wrong secret runs strategies", func(t *testing.T) {
		chain := NewChain([]Strategy{strategy}, ChainOptions{InternalSecret: "s3cret"})
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(InternalHeader, "guess")

		principal, err := chain.Authenticate(context.Background(), req)
		require.NoError(t, err)
		assert.False(t, principal.Internal)
		assert.Equal(t, "user1", principal.UserID)
	})

	t.Run("no secret configured disables bypass", func(t *testing.T) {
		chain := NewChain(nil, ChainOptions{})
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(InternalHeader, "")

		_, err := chain.Authenticate(context.Background(), req)
		assert.ErrorIs(t, err, apierr.ErrUnauthenticated)
	})

	t.Run("internal auth required runs strategies", func(t *testing.T) {
		chain := NewChain([]Strategy{strategy}, ChainOptions{InternalSecret: "s3cret", InternalAuthRequired: true})
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(InternalHeader, "s3cret")

		principal, err := chain.Authenticate(context.Background(), req)
		require.NoError(t, err)
		assert.False(t, principal.Internal)
		assert.Equal(t, "user1", principal.UserID)
	})
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"", ""},
		{"Bearer abc", "abc"},
		{"bearer  abc ", "abc"},
		{"Basic dXNlcjpwYXNz", ""},
		{"Bearer", ""},
	}

	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if tt.header != "" {
			req.Header.Set("Authorization", tt.header)
		}
		assert.Equal(t, tt.want, bearerToken(req), "header %q", tt.header)
	}
}

func TestPrincipalContext(t *testing.T) {
	ctx := context.Background()
	assert.Nil(t, PrincipalFromContext(ctx))

	ctx = WithPrincipal(ctx, &Principal{UserID: "user1"})
	require.NotNil(t, PrincipalFromContext(ctx))
	assert.Equal(t, "user1", PrincipalFromContext(ctx).UserID)
}

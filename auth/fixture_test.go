package auth_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jrsteele09/wecom-session/auth"
	"github.com/jrsteele09/wecom-session/auth/authfake"
	"github.com/jrsteele09/wecom-session/backend"
	"github.com/jrsteele09/wecom-session/backend/backendfake"
	"github.com/jrsteele09/wecom-session/cache"
	"github.com/jrsteele09/wecom-session/environment"
	"github.com/jrsteele09/wecom-session/events"
	"github.com/jrsteele09/wecom-session/sdk"
	"github.com/jrsteele09/wecom-session/users"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const (
	testOrgID       = "wx1"
	testAppID       = "a1"
	testRedirectURI = "https://x/cb"
	testCallbackURL = "https://x/cb?code=ABC&state=S1"
	testIssuedState = "S1"
	testPrefix      = "wecom"
)

var testStart = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

// clock is a settable time source
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// testFixture holds all test dependencies
type testFixture struct {
	clock   *clock
	backend *backendfake.Backend
	nav     *authfake.Navigator
	cache   *cache.Cache
	bus     *events.Bus

	envMu sync.Mutex
	env   environment.Environment

	manager *auth.Manager
}

func testConfig() auth.Config {
	return auth.Config{Session: sdk.SessionConfig{
		OrgID:       testOrgID,
		AppID:       testAppID,
		RedirectURI: testRedirectURI,
		Scope:       "snsapi_base",
	}}
}

func testLoginResponse() *backend.LoginResponse {
	return &backend.LoginResponse{
		AccessToken: "tok",
		ExpiresIn:   7200,
		User:        users.User{ID: "u1", Name: "Alice"},
	}
}

// setupTestFixture creates a manager inside the enterprise webview, landed on pageURL
func setupTestFixture(t *testing.T, pageURL string, opts ...auth.Option) *testFixture {
	t.Helper()

	f := &testFixture{
		clock:   &clock{now: testStart},
		backend: backendfake.NewBackend(),
		nav:     authfake.NewNavigator(pageURL),
		cache:   cache.New(cache.NewMemoryStore(), testPrefix, cache.WithLogger(zerolog.Nop())),
		bus:     events.NewBus(zerolog.Nop()),
		env:     environment.Environment{EnterpriseWebview: true, Mobile: true, SDKCapable: true},
	}
	f.backend.LoginResponse = testLoginResponse()

	defaults := []auth.Option{
		auth.WithLogger(zerolog.Nop()),
		auth.WithNowTime(f.clock.Now),
		auth.WithStateGenerator(func() string { return testIssuedState }),
	}
	m, err := auth.NewManager(f.backend, f.nav, auth.EnvironmentFunc(f.environment), f.cache, f.bus, append(defaults, opts...)...)
	require.NoError(t, err)
	f.manager = m
	return f
}

func (f *testFixture) environment() environment.Environment {
	f.envMu.Lock()
	defer f.envMu.Unlock()
	return f.env
}

func (f *testFixture) setBrowser() {
	f.envMu.Lock()
	f.env = environment.Environment{Browser: "chrome", OS: "macos"}
	f.envMu.Unlock()
}

// seedSession stores a session the way a previous page load would have
func (f *testFixture) seedSession(t *testing.T, expiresAt time.Time, refreshToken string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.cache.Set(ctx, cache.KeyUserInfo, users.User{ID: "u1", Name: "Alice"}))
	require.NoError(t, f.cache.Set(ctx, cache.KeyAccessToken, "cached-tok"))
	require.NoError(t, f.cache.Set(ctx, cache.KeyTokenExpiration, expiresAt.UnixMilli()))
	if refreshToken != "" {
		require.NoError(t, f.cache.Set(ctx, cache.KeyRefreshToken, refreshToken))
	}
}

// authenticate completes a callback exchange for code ABC
func (f *testFixture) authenticate(t *testing.T) {
	t.Helper()
	require.NoError(t, f.manager.Initialize(context.Background(), testConfig()))
	_, err := f.manager.HandleAuthCallback(context.Background(), "ABC", "S1")
	require.NoError(t, err)
	require.True(t, f.manager.IsAuthenticated())
}

// recorder collects events of the given kinds
type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (f *testFixture) record(kinds ...events.Kind) *recorder {
	r := &recorder{}
	for _, kind := range kinds {
		f.bus.On(kind, func(e events.Event) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.events = append(r.events, e)
		})
	}
	return r
}

func (r *recorder) kinds() []events.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]events.Kind, 0, len(r.events))
	for _, e := range r.events {
		kinds = append(kinds, e.Kind)
	}
	return kinds
}

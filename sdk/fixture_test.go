package sdk_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jrsteele09/wecom-session/bridge/bridgefake"
	"github.com/jrsteele09/wecom-session/cache"
	"github.com/jrsteele09/wecom-session/environment"
	"github.com/jrsteele09/wecom-session/events"
	"github.com/jrsteele09/wecom-session/sdk"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const (
	testOrgID     = "wx1"
	testAppID     = "a1"
	testScriptURL = "https://res.example.com/jweixin.js"
	wecomUA       = "Mozilla/5.0 (iPhone; CPU iPhone OS 16_0 like Mac OS X) Mobile/15E148 wxwork/4.1.0 MicroMessenger/7.0.1"
	browserUA     = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) Chrome/120.0 Safari/537.36"
)

var (
	wecomSignals   = environment.Signals{UA: wecomUA, Viewport: 390, Window: true}
	browserSignals = environment.Signals{UA: browserUA, Viewport: 1440, Window: true}
)

func testSessionConfig() sdk.SessionConfig {
	return sdk.SessionConfig{
		OrgID:       testOrgID,
		AppID:       testAppID,
		RedirectURI: "https://x/cb",
		Scope:       "snsapi_base",
	}
}

func testSignedConfig() sdk.SignedJSConfig {
	return sdk.SignedJSConfig{
		Timestamp: 1700000000,
		NonceStr:  "nonce-1",
		Signature: "sig-1",
		JSAPIList: []string{"scanQRCode", "getLocation"},
	}
}

// testFixture holds a manager and its fakes
type testFixture struct {
	bridge  *bridgefake.Bridge
	loader  *bridgefake.Loader
	store   *cache.MemoryStore
	cache   *cache.Cache
	bus     *events.Bus
	manager *sdk.Manager
}

func setupTestFixture(t *testing.T, signals environment.Signals, opts ...sdk.Option) *testFixture {
	t.Helper()

	fb := bridgefake.New()
	loader := bridgefake.NewLoader(fb)
	store := cache.NewMemoryStore()
	c := cache.New(store, "wecom", cache.WithLogger(zerolog.Nop()))
	bus := events.NewBus(zerolog.Nop())

	defaults := []sdk.Option{
		sdk.WithLogger(zerolog.Nop()),
		sdk.WithScriptURL(testScriptURL),
		sdk.WithRetry(3, time.Millisecond),
		sdk.WithConfigReadyWait(200 * time.Millisecond),
	}
	m, err := sdk.NewManager(signals, loader, c, bus, append(defaults, opts...)...)
	require.NoError(t, err)

	return &testFixture{
		bridge:  fb,
		loader:  loader,
		store:   store,
		cache:   c,
		bus:     bus,
		manager: m,
	}
}

// configured initialises and configures the manager
func (f *testFixture) configured(t *testing.T) *testFixture {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.manager.Initialize(ctx, testSessionConfig()))
	require.NoError(t, f.manager.Configure(ctx, testSignedConfig()))
	return f
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

func (r *recorder) last() events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

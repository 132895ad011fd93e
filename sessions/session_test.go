package sessions_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jrsteele09/wecom-session/auth"
	"github.com/jrsteele09/wecom-session/auth/authfake"
	"github.com/jrsteele09/wecom-session/backend"
	"github.com/jrsteele09/wecom-session/backend/backendfake"
	"github.com/jrsteele09/wecom-session/bridge/bridgefake"
	"github.com/jrsteele09/wecom-session/cache"
	"github.com/jrsteele09/wecom-session/environment"
	apperrors "github.com/jrsteele09/wecom-session/internal/errors"
	"github.com/jrsteele09/wecom-session/sdk"
	"github.com/jrsteele09/wecom-session/sessions"
	"github.com/jrsteele09/wecom-session/users"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const (
	wecomUA   = "Mozilla/5.0 (iPhone; CPU iPhone OS 16_0 like Mac OS X) Mobile/15E148 wxwork/4.1.0 MicroMessenger/7.0.1"
	browserUA = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) Chrome/120.0 Safari/537.36"

	pageURL     = "https://x/cb"
	callbackURL = "https://x/cb?code=ABC&state=S1"
)

var (
	wecomSignals   = environment.Signals{UA: wecomUA, Viewport: 390, Window: true}
	browserSignals = environment.Signals{UA: browserUA, Viewport: 1440, Window: true}
)

// testFixture holds the fakes behind a session
type testFixture struct {
	store   *cache.MemoryStore
	bridge  *bridgefake.Bridge
	loader  *bridgefake.Loader
	backend *backendfake.Backend
	nav     *authfake.Navigator
}

func setupTestFixture(t *testing.T, currentURL string) *testFixture {
	t.Helper()
	fb := bridgefake.New()
	f := &testFixture{
		store:   cache.NewMemoryStore(),
		bridge:  fb,
		loader:  bridgefake.NewLoader(fb),
		backend: backendfake.NewBackend(),
		nav:     authfake.NewNavigator(currentURL),
	}
	f.backend.LoginResponse = &backend.LoginResponse{
		AccessToken: "tok",
		ExpiresIn:   7200,
		User:        users.User{ID: "u1", Name: "Alice"},
	}
	f.backend.Signed = sdk.SignedJSConfig{Timestamp: 1700000000, NonceStr: "n", Signature: "sig", JSAPIList: []string{"scanQRCode"}}
	return f
}

func (f *testFixture) newSession(t *testing.T, signals environment.Signals, autoRedirect bool) *sessions.Session {
	t.Helper()
	logger := zerolog.Nop()
	s, err := sessions.New(sessions.Deps{
		Store:     f.store,
		Loader:    f.loader,
		Source:    signals,
		Navigator: f.nav,
		Backend:   f.backend,
		Logger:    &logger,
	}, sessions.Options{
		Session:      sdk.SessionConfig{OrgID: "wx1", AppID: "a1", RedirectURI: pageURL, Scope: "snsapi_base"},
		AutoRedirect: autoRedirect,
		CachePrefix:  "test",
		SDKOptions:   []sdk.Option{sdk.WithRetry(2, time.Millisecond), sdk.WithConfigReadyWait(100 * time.Millisecond)},
	})
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestNew_RequiresDependencies(t *testing.T) {
	f := setupTestFixture(t, pageURL)
	valid := sdk.SessionConfig{OrgID: "wx1", AppID: "a1"}

	_, err := sessions.New(sessions.Deps{Loader: f.loader, Source: wecomSignals, Navigator: f.nav, Backend: f.backend}, sessions.Options{Session: valid})
	require.Error(t, err)
	_, err = sessions.New(sessions.Deps{Store: f.store, Loader: f.loader, Source: wecomSignals, Navigator: f.nav}, sessions.Options{Session: valid})
	require.Error(t, err)
	_, err = sessions.New(sessions.Deps{Store: f.store, Loader: f.loader, Source: wecomSignals, Backend: f.backend}, sessions.Options{Session: valid})
	require.Error(t, err)
	_, err = sessions.New(sessions.Deps{Store: f.store, Loader: f.loader, Source: wecomSignals, Navigator: f.nav, Backend: f.backend}, sessions.Options{})
	require.Error(t, err)
	_, err = sessions.New(sessions.Deps{Store: f.store, Source: wecomSignals, Navigator: f.nav, Backend: f.backend}, sessions.Options{Session: valid})
	require.Error(t, err)
}

func TestBootstrap_EnterpriseWebviewCallback(t *testing.T) {
	f := setupTestFixture(t, callbackURL)
	s := f.newSession(t, wecomSignals, false)

	require.NoError(t, s.Bootstrap(context.Background()))

	require.True(t, s.Auth.IsAuthenticated())
	require.Equal(t, "u1", s.Auth.CurrentUser().ID)
	require.True(t, s.SDK.IsConfigured())
	require.Equal(t, 1, f.loader.Loads())

	// the signature is requested for the scrubbed URL
	require.Equal(t, []string{pageURL}, f.backend.PageURLs())
	require.Equal(t, "sig", f.bridge.ConfigCalls()[0].Signature)
	require.Equal(t, "wx1", f.bridge.ConfigCalls()[0].AppID)
}

func TestBootstrap_BrowserSkipsBridge(t *testing.T) {
	f := setupTestFixture(t, pageURL)
	s := f.newSession(t, browserSignals, true)

	require.NoError(t, s.Bootstrap(context.Background()))

	require.Equal(t, sdk.StateReady, s.SDK.State())
	require.False(t, s.SDK.IsConfigured())
	require.Zero(t, f.loader.Loads())
	require.Zero(t, f.backend.Calls(backendfake.OpJSConfig))
	require.Empty(t, f.nav.Navigations())
	require.Equal(t, auth.StateAnonymous, s.Auth.State())
}

func TestBootstrap_RedirectPending(t *testing.T) {
	f := setupTestFixture(t, pageURL)
	s := f.newSession(t, wecomSignals, true)

	err := s.Bootstrap(context.Background())
	require.ErrorIs(t, err, apperrors.ErrRedirectPending)
	require.Len(t, f.nav.Navigations(), 1)
	require.Zero(t, f.backend.Calls(backendfake.OpJSConfig))
}

func TestBootstrap_ScriptLoadFailure(t *testing.T) {
	f := setupTestFixture(t, callbackURL)
	f.loader.Err = errors.New("blocked by csp")
	s := f.newSession(t, wecomSignals, false)

	err := s.Bootstrap(context.Background())
	require.ErrorIs(t, err, apperrors.ErrScriptLoadFailed)
	require.Zero(t, f.backend.TotalCalls())
}

func TestBootstrap_ConfigFailureSurfaces(t *testing.T) {
	f := setupTestFixture(t, pageURL)
	f.bridge.ReplyToConfig(bridgefake.ConfigError)
	s := f.newSession(t, wecomSignals, false)

	err := s.Bootstrap(context.Background())
	require.ErrorIs(t, err, apperrors.ErrBridgeConfigFailed)
	require.False(t, s.SDK.IsConfigured())
}

func TestBootstrap_ReloadReusesCachedSession(t *testing.T) {
	f := setupTestFixture(t, callbackURL)
	first := f.newSession(t, wecomSignals, false)
	require.NoError(t, first.Bootstrap(context.Background()))
	require.Equal(t, 1, f.backend.Calls(backendfake.OpLogin))

	second := f.newSession(t, wecomSignals, true)
	require.NoError(t, second.Bootstrap(context.Background()))

	require.True(t, second.Auth.IsAuthenticated())
	require.Equal(t, 1, f.backend.Calls(backendfake.OpLogin))
	require.Empty(t, f.nav.Navigations())
}

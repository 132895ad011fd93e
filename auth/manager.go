// Package auth owns the authenticated user and token lifecycle: the vendor
// OAuth redirect, the code exchange, refresh and logout.
package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jrsteele09/wecom-session/backend"
	"github.com/jrsteele09/wecom-session/cache"
	"github.com/jrsteele09/wecom-session/environment"
	"github.com/jrsteele09/wecom-session/events"
	"github.com/jrsteele09/wecom-session/internal/config"
	apperrors "github.com/jrsteele09/wecom-session/internal/errors"
	"github.com/jrsteele09/wecom-session/sdk"
	"github.com/jrsteele09/wecom-session/users"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

// State of the authentication lifecycle.
type State int

const (
	StateAnonymous State = iota
	StateAwaitingCallback
	StateAuthenticated
	StateRefreshing
	StateLoggedOut
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateAnonymous:
		return "anonymous"
	case StateAwaitingCallback:
		return "awaiting_callback"
	case StateAuthenticated:
		return "authenticated"
	case StateRefreshing:
		return "refreshing"
	case StateLoggedOut:
		return "logged_out"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

const (
	exchangeKey = "exchange"
	refreshKey  = "refresh"

	// used when the exchange reports no lifetime and the token is not a JWT
	defaultTokenLifetime     = 2 * time.Hour
	backgroundRefreshTimeout = 30 * time.Second
)

// Backend is the HTTP collaborator the manager consumes.
type Backend interface {
	Login(ctx context.Context, code, state string) (*backend.LoginResponse, error)
	UserInfo(ctx context.Context, tok *oauth2.Token) (users.User, error)
	Logout(ctx context.Context, tok *oauth2.Token) error
	Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error)
}

// Navigator reads and changes the host page location.
type Navigator interface {
	CurrentURL() string
	// Navigate performs a hard navigation. The host unloads afterwards.
	Navigate(url string) error
	// ReplaceURL rewrites the current location without navigating.
	ReplaceURL(url string) error
}

// EnvironmentProvider reports the current hosting environment.
type EnvironmentProvider interface {
	Environment() environment.Environment
}

// EnvironmentFunc adapts a function to EnvironmentProvider.
type EnvironmentFunc func() environment.Environment

func (f EnvironmentFunc) Environment() environment.Environment { return f() }

// Config is passed to Initialize.
type Config struct {
	Session      sdk.SessionConfig
	AutoRedirect bool
}

// SilentOptions controls SilentAuth.
type SilentOptions struct {
	// Redirect allows a hard navigation to the vendor when no session exists.
	Redirect bool
}

// Manager drives authentication for one session.
type Manager struct {
	mu    sync.RWMutex
	state State
	cfg   *Config
	user  *users.User
	token *oauth2.Token
	// gen changes whenever the session is replaced or cleared
	gen uint64

	backend Backend
	nav     Navigator
	env     EnvironmentProvider
	cache   *cache.Cache
	bus     *events.Bus
	group   singleflight.Group
	logger  zerolog.Logger

	nowTime       func() time.Time
	newState      func() string
	authorizeURL  string
	refreshMargin time.Duration
	consumedLimit int
	background    sync.WaitGroup
}

// Option configures a Manager.
type Option func(*Manager)

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) Option {
	return func(m *Manager) {
		m.nowTime = nowFunc
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithSettings takes the authorize URL, refresh margin and code ledger size from cfg.
func WithSettings(cfg config.OAuthConfig) Option {
	return func(m *Manager) {
		m.authorizeURL = cfg.GetAuthorizeURL()
		m.refreshMargin = cfg.GetRefreshMargin()
		m.consumedLimit = cfg.GetConsumedCodeLimit()
	}
}

// WithRefreshMargin sets how long before expiry a token is refreshed.
func WithRefreshMargin(margin time.Duration) Option {
	return func(m *Manager) {
		m.refreshMargin = margin
	}
}

// WithStateGenerator replaces the CSRF state generator.
func WithStateGenerator(gen func() string) Option {
	return func(m *Manager) {
		m.newState = gen
	}
}

// NewManager creates a Manager. All dependencies are required.
func NewManager(b Backend, nav Navigator, env EnvironmentProvider, c *cache.Cache, bus *events.Bus, opts ...Option) (*Manager, error) {
	if b == nil {
		return nil, errors.New("[auth.NewManager] backend is required")
	}
	if nav == nil {
		return nil, errors.New("[auth.NewManager] navigator is required")
	}
	if env == nil {
		return nil, errors.New("[auth.NewManager] environment provider is required")
	}
	if c == nil {
		return nil, errors.New("[auth.NewManager] cache is required")
	}
	if bus == nil {
		return nil, errors.New("[auth.NewManager] event bus is required")
	}

	m := &Manager{
		backend:  b,
		nav:      nav,
		env:      env,
		cache:    c,
		bus:      bus,
		logger:   log.Logger,
		nowTime:  time.Now,
		newState: uuid.NewString,
	}
	WithSettings(config.OAuth{})(m)
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Initialize rehydrates a cached session. A valid token authenticates without
// any network call. A callback in the current URL is exchanged. With
// AutoRedirect inside the enterprise webview and no session, it navigates to
// the vendor and returns ErrRedirectPending.
func (m *Manager) Initialize(ctx context.Context, cfg Config) error {
	if err := cfg.Session.Validate(); err != nil {
		return errors.Wrap(err, "[auth.Initialize] invalid session config")
	}

	m.mu.Lock()
	m.cfg = &cfg
	m.mu.Unlock()

	code, state, hasCallback := callbackParams(m.nav.CurrentURL())
	if m.rehydrate(ctx) {
		if hasCallback {
			m.retireCode(ctx, code)
		}
		return nil
	}

	if hasCallback {
		_, err := m.HandleAuthCallback(ctx, code, state)
		return err
	}

	if cfg.AutoRedirect && m.env.Environment().EnterpriseWebview {
		if err := m.StartAuth(ctx, ""); err != nil {
			return err
		}
		return apperrors.ErrRedirectPending
	}
	return nil
}

// rehydrate restores user and token from the cache and reports whether they
// form a valid session.
func (m *Manager) rehydrate(ctx context.Context) bool {
	var user users.User
	hasUser := m.cache.Get(ctx, cache.KeyUserInfo, &user)
	tok, hasToken := m.loadToken(ctx)

	if !hasUser || !hasToken {
		if hasUser || hasToken {
			m.logger.Debug().Bool("user", hasUser).Bool("token", hasToken).Msg("partial session in cache, discarding")
			m.clearSession(ctx)
		}
		m.setState(StateAnonymous)
		return false
	}
	now := m.nowTime()
	if !now.Before(tok.Expiry) {
		m.logger.Debug().Time("expired_at", tok.Expiry).Msg("cached token expired")
		m.clearSession(ctx)
		m.setState(StateAnonymous)
		return false
	}

	m.mu.Lock()
	m.user = &user
	m.token = tok
	m.gen++
	m.state = StateAuthenticated
	m.mu.Unlock()

	m.logger.Debug().Str("user_id", user.ID).Time("expires_at", tok.Expiry).Msg("session rehydrated")
	if tok.Expiry.Sub(now) < m.refreshMargin {
		m.refreshInBackground()
	}
	return true
}

func (m *Manager) refreshInBackground() {
	m.background.Add(1)
	go func() {
		defer m.background.Done()
		ctx, cancel := context.WithTimeout(context.Background(), backgroundRefreshTimeout)
		defer cancel()
		if err := m.RefreshToken(ctx); err != nil {
			m.logger.Warn().Err(err).Msg("background token refresh failed")
		}
	}()
}

// Wait blocks until background refreshes started by Initialize have finished.
func (m *Manager) Wait() {
	m.background.Wait()
}

// SilentAuth returns the cached user when the token is valid, exchanges a
// callback found in the URL, or redirects when allowed. Otherwise it returns
// nil and no error.
func (m *Manager) SilentAuth(ctx context.Context, opts SilentOptions) (*users.User, error) {
	if m.IsAuthenticated() {
		return m.CurrentUser(), nil
	}
	if code, state, ok := callbackParams(m.nav.CurrentURL()); ok {
		return m.HandleAuthCallback(ctx, code, state)
	}
	if opts.Redirect && m.env.Environment().EnterpriseWebview {
		if err := m.StartAuth(ctx, ""); err != nil {
			return nil, err
		}
		return nil, apperrors.ErrRedirectPending
	}
	return nil, nil
}

// RefreshUserInfo fetches the latest profile. The token expiry is unchanged.
func (m *Manager) RefreshUserInfo(ctx context.Context) (*users.User, error) {
	tok, gen := m.snapshot()
	if tok == nil {
		return nil, apperrors.New(apperrors.ErrNotAuthenticated, "auth.RefreshUserInfo", "no token", nil, nil)
	}
	if !m.validAt(tok, m.nowTime()) {
		if tok.RefreshToken == "" {
			return nil, apperrors.New(apperrors.ErrNotAuthenticated, "auth.RefreshUserInfo", "token expired", tok.Expiry, nil)
		}
		if err := m.RefreshToken(ctx); err != nil {
			return nil, errors.Wrap(err, "[auth.RefreshUserInfo] token refresh failed")
		}
		if tok, gen = m.snapshot(); tok == nil {
			return nil, apperrors.New(apperrors.ErrNotAuthenticated, "auth.RefreshUserInfo", "session ended", nil, nil)
		}
	}

	user, err := m.backend.UserInfo(ctx, tok)
	if err != nil {
		return nil, errors.Wrap(err, "[auth.RefreshUserInfo] failed to fetch profile")
	}

	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		return nil, apperrors.New(apperrors.ErrNotAuthenticated, "auth.RefreshUserInfo", "session changed while fetching profile", nil, nil)
	}
	m.user = &user
	m.persistUser(ctx, user)
	m.mu.Unlock()
	return m.CurrentUser(), nil
}

// RefreshToken renews the token with its refresh token, or revalidates the
// profile when there is none. Concurrent calls share one request.
func (m *Manager) RefreshToken(ctx context.Context) error {
	_, err, _ := m.group.Do(refreshKey, func() (any, error) {
		return nil, m.refresh(ctx)
	})
	return err
}

// refresh runs the network call outside the lock. Its result is committed
// only if the session it started from is still current.
func (m *Manager) refresh(ctx context.Context) error {
	m.mu.Lock()
	if m.token == nil {
		m.mu.Unlock()
		return apperrors.New(apperrors.ErrNotAuthenticated, "auth.RefreshToken", "no token", nil, nil)
	}
	current := *m.token
	gen := m.gen
	m.state = StateRefreshing
	m.mu.Unlock()

	var (
		user *users.User
		tok  *oauth2.Token
		err  error
	)
	if current.RefreshToken == "" {
		var u users.User
		if u, err = m.backend.UserInfo(ctx, &current); err != nil {
			err = errors.Wrap(err, "[auth.RefreshToken] profile revalidation failed")
		}
		user = &u
	} else if tok, err = m.backend.Refresh(ctx, current.RefreshToken); err != nil {
		err = errors.Wrap(err, "[auth.RefreshToken] refresh grant failed")
	}

	m.mu.Lock()
	if m.gen != gen {
		ended := m.token == nil
		m.mu.Unlock()
		m.logger.Debug().Msg("session changed during refresh, result dropped")
		if ended {
			return apperrors.New(apperrors.ErrNotAuthenticated, "auth.RefreshToken", "session ended during refresh", nil, nil)
		}
		return nil
	}
	if err != nil {
		m.settleState()
		m.mu.Unlock()
		return err
	}

	expiry := current.Expiry
	if tok != nil {
		if tok.RefreshToken == "" {
			tok.RefreshToken = current.RefreshToken
		}
		if tok.Expiry.IsZero() {
			tok.Expiry = m.expiryFor(tok.AccessToken, 0)
		}
		m.token = tok
		m.persistToken(ctx, tok)
		expiry = tok.Expiry
	} else {
		m.user = user
		m.persistUser(ctx, *user)
	}
	m.settleState()
	m.mu.Unlock()

	m.logger.Debug().Time("expires_at", expiry).Msg("token refreshed")
	m.bus.Emit(events.TokenRefreshed, expiry)
	return nil
}

// Logout asks the backend to invalidate the token, then clears local state
// whatever the outcome. It always returns nil.
func (m *Manager) Logout(ctx context.Context) error {
	if tok := m.currentToken(); tok != nil {
		if err := m.backend.Logout(ctx, tok); err != nil {
			m.logger.Warn().Err(err).Msg("server logout failed, clearing local session anyway")
		}
	}

	m.clearSession(ctx)
	if err := m.cache.Remove(ctx, cache.KeyOAuthState); err != nil {
		m.logger.Warn().Err(err).Msg("failed to clear oauth state")
	}
	m.setState(StateLoggedOut)
	m.bus.Emit(events.LoggedOut, nil)
	return nil
}

// IsAuthenticated reports whether a user is present with a valid token.
func (m *Manager) IsAuthenticated() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.user != nil && m.validAt(m.token, m.nowTime())
}

// IsTokenValid reports whether now is before the token expiry.
func (m *Manager) IsTokenValid() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.validAt(m.token, m.nowTime())
}

// CurrentUser returns a copy of the authenticated user, or nil.
func (m *Manager) CurrentUser() *users.User {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.user == nil {
		return nil
	}
	user := *m.user
	return &user
}

// AccessToken returns the access token while it is valid.
func (m *Manager) AccessToken() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.validAt(m.token, m.nowTime()) {
		return ""
	}
	return m.token.AccessToken
}

func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

func (m *Manager) config() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

func (m *Manager) currentToken() *oauth2.Token {
	tok, _ := m.snapshot()
	return tok
}

// snapshot copies the token together with the session generation it belongs to.
func (m *Manager) snapshot() (*oauth2.Token, uint64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.token == nil {
		return nil, m.gen
	}
	tok := *m.token
	return &tok, m.gen
}

func (m *Manager) validAt(tok *oauth2.Token, now time.Time) bool {
	return tok != nil && tok.AccessToken != "" && now.Before(tok.Expiry)
}

// settleState leaves Refreshing for Authenticated or Anonymous. Callers hold m.mu.
func (m *Manager) settleState() {
	if m.user != nil && m.validAt(m.token, m.nowTime()) {
		m.state = StateAuthenticated
		return
	}
	m.state = StateAnonymous
}

func (m *Manager) setState(state State) {
	m.mu.Lock()
	m.state = state
	m.mu.Unlock()
}

func (m *Manager) clearSession(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.user = nil
	m.token = nil
	m.gen++

	if err := m.cache.Remove(ctx, cache.KeyUserInfo, cache.KeyAccessToken, cache.KeyRefreshToken, cache.KeyTokenExpiration); err != nil {
		m.logger.Warn().Err(err).Msg("failed to clear cached session")
	}
}

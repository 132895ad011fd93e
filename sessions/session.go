// Package sessions wires the cache, event bus and both managers into one
// caller-constructed session object.
package sessions

import (
	"context"
	"errors"

	"github.com/jrsteele09/wecom-session/auth"
	"github.com/jrsteele09/wecom-session/bridge"
	"github.com/jrsteele09/wecom-session/cache"
	"github.com/jrsteele09/wecom-session/environment"
	"github.com/jrsteele09/wecom-session/events"
	"github.com/jrsteele09/wecom-session/internal/config"
	apperrors "github.com/jrsteele09/wecom-session/internal/errors"
	"github.com/jrsteele09/wecom-session/sdk"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Backend serves both the auth exchange and JS-config signing.
type Backend interface {
	auth.Backend
	sdk.JSConfigSource
}

// Deps holds the host-provided collaborators.
type Deps struct {
	Store     cache.Store
	Loader    bridge.Loader
	Source    environment.Source
	Navigator auth.Navigator
	Backend   Backend
	Logger    *zerolog.Logger
}

// Options configures a Session. Zero SDK or OAuth settings fall back to the
// environment-backed defaults.
type Options struct {
	Session      sdk.SessionConfig
	AutoRedirect bool
	CachePrefix  string
	SDK          config.SDKConfig
	OAuth        config.OAuthConfig
	SDKOptions   []sdk.Option
	AuthOptions  []auth.Option
}

// Session is one page's enterprise-SDK session.
type Session struct {
	Cache *cache.Cache
	Bus   *events.Bus
	SDK   *sdk.Manager
	Auth  *auth.Manager

	backend Backend
	nav     auth.Navigator
	opts    Options
	logger  zerolog.Logger
}

// New builds a Session. Nothing runs until Bootstrap.
func New(deps Deps, opts Options) (*Session, error) {
	if deps.Store == nil {
		return nil, errors.New("[sessions.New] store is required")
	}
	if deps.Backend == nil {
		return nil, errors.New("[sessions.New] backend is required")
	}
	if deps.Navigator == nil {
		return nil, errors.New("[sessions.New] navigator is required")
	}
	if err := opts.Session.Validate(); err != nil {
		return nil, apperrors.Wrapf(err, "[sessions.New] invalid session config")
	}
	if opts.CachePrefix == "" {
		opts.CachePrefix = config.EnvVars{}.GetCachePrefix()
	}
	if opts.SDK == nil {
		opts.SDK = config.SDK{}
	}
	if opts.OAuth == nil {
		opts.OAuth = config.OAuth{}
	}

	logger := log.Logger
	if deps.Logger != nil {
		logger = *deps.Logger
	}

	c := cache.New(deps.Store, opts.CachePrefix, cache.WithLogger(logger.With().Str("component", "cache").Logger()))
	bus := events.NewBus(logger.With().Str("component", "events").Logger())

	sdkOpts := append([]sdk.Option{
		sdk.WithSettings(opts.SDK),
		sdk.WithLogger(logger.With().Str("component", "sdk").Logger()),
	}, opts.SDKOptions...)
	sdkManager, err := sdk.NewManager(deps.Source, deps.Loader, c, bus, sdkOpts...)
	if err != nil {
		return nil, apperrors.Wrapf(err, "[sessions.New] sdk manager")
	}

	authOpts := append([]auth.Option{
		auth.WithSettings(opts.OAuth),
		auth.WithLogger(logger.With().Str("component", "auth").Logger()),
	}, opts.AuthOptions...)
	authManager, err := auth.NewManager(deps.Backend, deps.Navigator, sdkManager, c, bus, authOpts...)
	if err != nil {
		return nil, apperrors.Wrapf(err, "[sessions.New] auth manager")
	}

	return &Session{
		Cache:   c,
		Bus:     bus,
		SDK:     sdkManager,
		Auth:    authManager,
		backend: deps.Backend,
		nav:     deps.Navigator,
		opts:    opts,
		logger:  logger,
	}, nil
}

// Bootstrap initialises the bridge, then authentication, then signs and
// configures the bridge for the current URL. The bridge is configured last
// because the callback exchange rewrites the URL the signature is bound to.
// ErrRedirectPending is returned unchanged.
func (s *Session) Bootstrap(ctx context.Context) error {
	if err := s.SDK.Initialize(ctx, s.opts.Session); err != nil {
		return err
	}

	err := s.Auth.Initialize(ctx, auth.Config{Session: s.opts.Session, AutoRedirect: s.opts.AutoRedirect})
	if err != nil {
		if errors.Is(err, apperrors.ErrRedirectPending) {
			s.logger.Debug().Msg("redirect pending, bootstrap stopped")
		}
		return err
	}

	if !s.SDK.Environment().SDKCapable {
		s.logger.Debug().Msg("bridge unavailable, skipping js config")
		return nil
	}
	return s.SDK.FetchAndConfigure(ctx, s.backend, s.nav.CurrentURL())
}

// Close releases the bridge and listeners.
func (s *Session) Close() {
	s.SDK.Destroy()
}

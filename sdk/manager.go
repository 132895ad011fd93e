// Package sdk owns the native bridge lifecycle: script load, signed config, and
// capability calls, plus the event bus observers subscribe to.
package sdk

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jrsteele09/wecom-session/bridge"
	"github.com/jrsteele09/wecom-session/cache"
	"github.com/jrsteele09/wecom-session/environment"
	"github.com/jrsteele09/wecom-session/events"
	"github.com/jrsteele09/wecom-session/internal/config"
	apperrors "github.com/jrsteele09/wecom-session/internal/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// State of the bridge lifecycle.
type State int

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateConfiguring
	StateConfigured
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateConfiguring:
		return "configuring"
	case StateConfigured:
		return "configured"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// singleflight keys
const (
	initializeKey = "initialize"
	configureKey  = "configure"
)

var errConfigReadyTimeout = errors.New("bridge did not report ready")

// JSConfigSource fetches a signature for a page URL.
type JSConfigSource interface {
	JSConfig(ctx context.Context, pageURL, agentID string) (SignedJSConfig, error)
}

// Manager drives the bridge from Uninitialized to Configured.
type Manager struct {
	mu     sync.RWMutex
	state  State
	config *SessionConfig
	bridge bridge.Bridge
	signed *SignedJSConfig

	source environment.Source
	loader bridge.Loader
	cache  *cache.Cache
	bus    *events.Bus
	group  singleflight.Group
	logger zerolog.Logger

	scriptURL       string
	retryAttempts   int
	retryBaseDelay  time.Duration
	configReadyWait time.Duration
	debug           bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithSettings takes script URL, retry budget and ready wait from cfg.
func WithSettings(cfg config.SDKConfig) Option {
	return func(m *Manager) {
		m.scriptURL = cfg.GetScriptURL()
		m.retryAttempts = cfg.GetRetryAttempts()
		m.retryBaseDelay = cfg.GetRetryBaseDelay()
		m.configReadyWait = cfg.GetConfigReadyWait()
	}
}

// WithRetry sets the total attempt count and the linear backoff step.
func WithRetry(attempts int, baseDelay time.Duration) Option {
	return func(m *Manager) {
		m.retryAttempts = attempts
		m.retryBaseDelay = baseDelay
	}
}

// WithConfigReadyWait sets how long each configure attempt waits for the bridge.
func WithConfigReadyWait(wait time.Duration) Option {
	return func(m *Manager) {
		m.configReadyWait = wait
	}
}

// WithScriptURL overrides the bridge script location.
func WithScriptURL(scriptURL string) Option {
	return func(m *Manager) {
		m.scriptURL = scriptURL
	}
}

// WithDebug turns on the bridge's debug mode.
func WithDebug(debug bool) Option {
	return func(m *Manager) {
		m.debug = debug
	}
}

// NewManager creates a Manager. source, loader, cache and bus are required.
func NewManager(source environment.Source, loader bridge.Loader, c *cache.Cache, bus *events.Bus, opts ...Option) (*Manager, error) {
	if source == nil {
		return nil, errors.New("[sdk.NewManager] environment source is required")
	}
	if loader == nil {
		return nil, errors.New("[sdk.NewManager] bridge loader is required")
	}
	if c == nil {
		return nil, errors.New("[sdk.NewManager] cache is required")
	}
	if bus == nil {
		return nil, errors.New("[sdk.NewManager] event bus is required")
	}

	m := &Manager{
		source: source,
		loader: loader,
		cache:  c,
		bus:    bus,
		logger: log.Logger,
	}
	WithSettings(config.SDK{})(m)
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Initialize records cfg, classifies the environment and, where the bridge
// can run, loads it. Concurrent calls share one load, which keeps running
// when the caller that started it gives up.
func (m *Manager) Initialize(ctx context.Context, cfg SessionConfig) error {
	if err := cfg.Validate(); err != nil {
		return apperrors.Wrapf(err, "[sdk.Initialize] invalid session config")
	}

	res, err := m.shared(ctx, initializeKey, func(ctx context.Context) error {
		return m.initialize(ctx, cfg)
	})
	if err != nil {
		return err
	}
	if res.Shared {
		// another caller's config may have won the shared call
		if current := m.Config(); current != nil && *current != cfg {
			return apperrors.New(apperrors.ErrConfigConflict, "sdk.Initialize", "", cfg, nil)
		}
	}
	return nil
}

func (m *Manager) initialize(ctx context.Context, cfg SessionConfig) error {
	m.mu.Lock()
	if m.config != nil && *m.config != cfg {
		m.mu.Unlock()
		return apperrors.New(apperrors.ErrConfigConflict, "sdk.Initialize", "", cfg, nil)
	}
	if m.config != nil && (m.state == StateReady || m.state == StateConfiguring || m.state == StateConfigured) {
		m.mu.Unlock()
		return nil
	}
	m.config = &cfg
	m.state = StateInitializing
	loaded := m.bridge
	m.mu.Unlock()

	if err := m.cache.Set(ctx, cache.KeyConfig, cfg); err != nil {
		m.logger.Warn().Err(err).Msg("failed to persist session config")
	}

	env := environment.Compute(m.source)
	if !env.SDKCapable {
		m.setState(StateReady)
		m.logger.Info().Str("os", env.OS).Str("browser", env.Browser).Msg("bridge unavailable in this environment")
		m.bus.Emit(events.Ready, env)
		return nil
	}

	if loaded == nil {
		b, err := m.loader.Load(ctx, m.scriptURL)
		if err == nil && b == nil {
			err = errors.New("bridge missing after script load")
		}
		if err != nil {
			wrapped := apperrors.New(apperrors.ErrScriptLoadFailed, "sdk.Initialize", "failed to load bridge script", m.scriptURL, err)
			m.setState(StateFailed)
			m.logger.Error().Err(err).Str("script", m.scriptURL).Msg("bridge script load failed")
			m.bus.Emit(events.Error, wrapped)
			return wrapped
		}
		loaded = b
	}

	m.mu.Lock()
	m.bridge = loaded
	m.state = StateReady
	m.mu.Unlock()

	m.logger.Debug().Str("script", m.scriptURL).Msg("bridge ready")
	m.bus.Emit(events.Ready, env)
	return nil
}

// Configure hands a signed config to the bridge and waits for its ready or
// error callback. Concurrent calls share one attempt, so a signature is never
// consumed twice. Calling it again later replaces the signature.
func (m *Manager) Configure(ctx context.Context, signed SignedJSConfig) error {
	_, err := m.shared(ctx, configureKey, func(ctx context.Context) error {
		return m.configure(ctx, signed)
	})
	return err
}

// shared runs fn once per key for all concurrent callers. fn gets a context
// detached from cancellation; each caller still returns early on its own ctx.
func (m *Manager) shared(ctx context.Context, key string, fn func(context.Context) error) (singleflight.Result, error) {
	ch := m.group.DoChan(key, func() (any, error) {
		return nil, fn(context.WithoutCancel(ctx))
	})
	select {
	case <-ctx.Done():
		return singleflight.Result{}, ctx.Err()
	case res := <-ch:
		return res, res.Err
	}
}

func (m *Manager) configure(ctx context.Context, signed SignedJSConfig) error {
	m.mu.Lock()
	if m.config == nil || m.state == StateUninitialized || m.state == StateInitializing {
		state := m.state
		m.mu.Unlock()
		return apperrors.New(apperrors.ErrNotReady, "sdk.Configure", "initialize must complete first", state.String(), nil)
	}
	if m.bridge == nil {
		state := m.state
		m.mu.Unlock()
		if state == StateReady {
			return apperrors.New(apperrors.ErrEnvironmentUnsupported, "sdk.Configure", "bridge unavailable in this environment", nil, nil)
		}
		return apperrors.New(apperrors.ErrNotReady, "sdk.Configure", "bridge not loaded", state.String(), nil)
	}
	b := m.bridge
	opts := bridge.ConfigOptions{
		Debug:     m.debug,
		Beta:      true,
		AppID:     m.config.OrgID,
		Timestamp: signed.Timestamp,
		NonceStr:  signed.NonceStr,
		Signature: signed.Signature,
		JSAPIList: signed.JSAPIList,
	}
	m.state = StateConfiguring
	m.mu.Unlock()

	attempt := 0
	err := backoff.RetryNotify(func() error {
		attempt++
		err := m.awaitConfig(ctx, b, opts)
		if err == nil || errors.Is(err, errConfigReadyTimeout) {
			return err
		}
		return backoff.Permanent(err)
	}, m.newBackOff(ctx), func(err error, wait time.Duration) {
		m.logger.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", wait).Msg("bridge config not acknowledged, retrying")
	})
	if err != nil {
		var payload any
		var ve *bridge.VendorError
		if errors.As(err, &ve) {
			payload = ve.Payload
		}
		wrapped := apperrors.New(apperrors.ErrBridgeConfigFailed, "sdk.Configure",
			fmt.Sprintf("bridge config failed after %d attempt(s)", attempt), payload, err)
		m.setState(StateFailed)
		m.logger.Error().Err(err).Int("attempts", attempt).Msg("bridge config failed")
		m.bus.Emit(events.Error, wrapped)
		return wrapped
	}

	m.mu.Lock()
	m.signed = &signed
	m.state = StateConfigured
	m.mu.Unlock()

	m.bus.Emit(events.Configured, signed.JSAPIList)
	return nil
}

func (m *Manager) awaitConfig(ctx context.Context, b bridge.Bridge, opts bridge.ConfigOptions) error {
	outcome := make(chan error, 1)
	var once sync.Once
	settle := func(err error) {
		once.Do(func() { outcome <- err })
	}

	b.Ready(func() { settle(nil) })
	b.Error(func(res map[string]any) { settle(bridge.NewVendorError("config", res)) })
	b.Config(opts)

	timer := time.NewTimer(m.configReadyWait)
	defer timer.Stop()

	select {
	case err := <-outcome:
		return err
	case <-timer.C:
		return errConfigReadyTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

// FetchAndConfigure fetches a signature for pageURL (fragment removed, as the
// vendor signs without it) and configures the bridge with it.
func (m *Manager) FetchAndConfigure(ctx context.Context, src JSConfigSource, pageURL string) error {
	cfg := m.Config()
	if cfg == nil {
		return apperrors.New(apperrors.ErrNotReady, "sdk.FetchAndConfigure", "initialize must complete first", nil, nil)
	}

	signURL := pageURL
	if u, err := url.Parse(pageURL); err == nil {
		u.Fragment = ""
		u.RawFragment = ""
		signURL = u.String()
	}

	signed, err := src.JSConfig(ctx, signURL, cfg.AppID)
	if err != nil {
		wrapped := apperrors.New(apperrors.ErrBridgeConfigFailed, "sdk.FetchAndConfigure", "failed to fetch signed js config", signURL, err)
		m.bus.Emit(events.Error, wrapped)
		return wrapped
	}
	return m.Configure(ctx, signed)
}

// Destroy returns the manager to Uninitialized and drops config, bridge and listeners.
func (m *Manager) Destroy() {
	m.mu.Lock()
	m.state = StateUninitialized
	m.config = nil
	m.bridge = nil
	m.signed = nil
	m.mu.Unlock()

	if err := m.cache.Remove(context.Background(), cache.KeyConfig); err != nil {
		m.logger.Warn().Err(err).Msg("failed to clear cached session config")
	}
	m.bus.Clear()
}

// On subscribes to bridge events.
func (m *Manager) On(kind events.Kind, listener events.Listener) events.Subscription {
	return m.bus.On(kind, listener)
}

// Off removes a subscription.
func (m *Manager) Off(kind events.Kind, sub events.Subscription) {
	m.bus.Off(kind, sub)
}

// Environment recomputes the hosting environment.
func (m *Manager) Environment() environment.Environment {
	return environment.Compute(m.source)
}

func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

func (m *Manager) IsReady() bool {
	state := m.State()
	return state == StateReady || state == StateConfiguring || state == StateConfigured
}

func (m *Manager) IsConfigured() bool {
	return m.State() == StateConfigured
}

// Config returns a copy of the accepted session config, or nil.
func (m *Manager) Config() *SessionConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.config == nil {
		return nil
	}
	cfg := *m.config
	return &cfg
}

// SignedConfig returns the signature currently applied, or nil.
func (m *Manager) SignedConfig() *SignedJSConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.signed == nil {
		return nil
	}
	signed := *m.signed
	signed.JSAPIList = append([]string(nil), m.signed.JSAPIList...)
	return &signed
}

func (m *Manager) setState(state State) {
	m.mu.Lock()
	m.state = state
	m.mu.Unlock()
}

package auth

import (
	"context"
	"encoding/hex"
	"net/url"
	"slices"
	"strings"

	"github.com/jrsteele09/wecom-session/cache"
	"github.com/jrsteele09/wecom-session/events"
	apperrors "github.com/jrsteele09/wecom-session/internal/errors"
	"github.com/jrsteele09/wecom-session/users"
	"github.com/pkg/errors"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/oauth2"
)

// StartAuth navigates to the vendor authorize page. Outside the enterprise
// webview it fails without navigating. An empty redirectURI uses the configured one.
func (m *Manager) StartAuth(ctx context.Context, redirectURI string) error {
	if !m.env.Environment().EnterpriseWebview {
		return apperrors.New(apperrors.ErrEnvironmentUnsupported, "auth.StartAuth", "vendor OAuth requires the enterprise webview", nil, nil)
	}
	cfg := m.config()
	if cfg == nil {
		return apperrors.New(apperrors.ErrNotReady, "auth.StartAuth", "initialize must complete first", nil, nil)
	}

	state := cfg.Session.CSRFState
	if state == "" {
		state = m.newState()
	}
	target := m.BuildAuthURL(redirectURI, state)

	if err := m.cache.Set(ctx, cache.KeyOAuthState, state); err != nil {
		m.logger.Warn().Err(err).Msg("failed to persist oauth state")
	}
	m.setState(StateAwaitingCallback)
	m.logger.Info().Str("redirect_uri", m.redirectURI(redirectURI)).Msg("redirecting to vendor authorize page")

	if err := m.nav.Navigate(target); err != nil {
		m.setState(StateFailed)
		return errors.Wrap(err, "[auth.StartAuth] navigation failed")
	}
	return nil
}

// BuildAuthURL renders the vendor authorize URL. The parameter order is fixed
// and the vendor requires the #wechat_redirect fragment.
func (m *Manager) BuildAuthURL(redirectURI, state string) string {
	var orgID, appID, scope string
	if cfg := m.config(); cfg != nil {
		orgID, appID, scope = cfg.Session.OrgID, cfg.Session.AppID, cfg.Session.Scope
	}
	if scope == "" {
		scope = "snsapi_base"
	}

	var b strings.Builder
	b.WriteString(m.authorizeURL)
	b.WriteString("?appid=")
	b.WriteString(url.QueryEscape(orgID))
	b.WriteString("&redirect_uri=")
	b.WriteString(url.QueryEscape(m.redirectURI(redirectURI)))
	b.WriteString("&response_type=code&scope=")
	b.WriteString(url.QueryEscape(scope))
	b.WriteString("&state=")
	b.WriteString(url.QueryEscape(state))
	b.WriteString("&agentid=")
	b.WriteString(url.QueryEscape(appID))
	b.WriteString("#wechat_redirect")
	return b.String()
}

func (m *Manager) redirectURI(override string) string {
	if override != "" {
		return override
	}
	if cfg := m.config(); cfg != nil && cfg.Session.RedirectURI != "" {
		return cfg.Session.RedirectURI
	}
	return stripCallbackParams(m.nav.CurrentURL())
}

// HandleAuthCallback exchanges an authorization code for a session.
// Concurrent calls share one exchange whatever their arguments, so a code is
// never spent twice. A code already consumed is rejected. The exchange is not
// tied to the first caller's ctx: a caller that gives up returns ctx.Err()
// while the exchange completes for the others.
func (m *Manager) HandleAuthCallback(ctx context.Context, code, state string) (*users.User, error) {
	ch := m.group.DoChan(exchangeKey, func() (any, error) {
		return m.exchange(context.WithoutCancel(ctx), code, state)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		user := *res.Val.(*users.User)
		return &user, nil
	}
}

func (m *Manager) exchange(ctx context.Context, code, state string) (*users.User, error) {
	cfg := m.config()
	if cfg == nil {
		return nil, apperrors.New(apperrors.ErrNotReady, "auth.HandleAuthCallback", "initialize must complete first", nil, nil)
	}
	if code == "" {
		return nil, m.failExchange(apperrors.New(apperrors.ErrCodeExchangeFailed, "auth.HandleAuthCallback", "missing authorization code", nil, nil))
	}

	fp := fingerprint(code)
	logger := m.logger.With().Str("code_fp", fp).Logger()

	consumed := m.consumedCodes(ctx)
	if slices.Contains(consumed, fp) {
		logger.Warn().Msg("authorization code replayed")
		m.scrubURL()
		return nil, m.failExchange(apperrors.New(apperrors.ErrCodeConsumed, "auth.HandleAuthCallback", "", nil, nil))
	}

	expected := cfg.Session.CSRFState
	var issued string
	if m.cache.Get(ctx, cache.KeyOAuthState, &issued) && issued != "" {
		expected = issued
	}
	if expected != "" && expected != state {
		logger.Warn().Msg("oauth state mismatch")
		return nil, m.failExchange(apperrors.New(apperrors.ErrStateMismatch, "auth.HandleAuthCallback", "", state, nil))
	}

	// the vendor accepts a code once, so it is spent as soon as it is sent
	m.recordConsumed(ctx, consumed, fp)

	resp, err := m.backend.Login(ctx, code, state)
	if err != nil {
		logger.Error().Err(err).Msg("code exchange failed")
		return nil, m.failExchange(apperrors.New(apperrors.ErrCodeExchangeFailed, "auth.HandleAuthCallback", "code exchange failed", nil, err))
	}

	tok := &oauth2.Token{
		AccessToken:  resp.AccessToken,
		TokenType:    "Bearer",
		RefreshToken: resp.RefreshToken,
		Expiry:       m.expiryFor(resp.AccessToken, resp.ExpiresIn),
	}
	user := resp.User

	m.mu.Lock()
	m.user = &user
	m.token = tok
	m.gen++
	m.state = StateAuthenticated
	m.persistUser(ctx, user)
	m.persistToken(ctx, tok)
	m.mu.Unlock()

	if err := m.cache.Remove(ctx, cache.KeyOAuthState); err != nil {
		logger.Warn().Err(err).Msg("failed to clear oauth state")
	}
	m.scrubURL()

	logger.Info().Str("user_id", user.ID).Time("expires_at", tok.Expiry).Msg("authenticated")
	m.bus.Emit(events.AuthSuccess, user)
	return &user, nil
}

// failExchange reports a failed exchange. A session that is still valid is kept.
func (m *Manager) failExchange(err error) error {
	m.mu.Lock()
	if m.user == nil || !m.validAt(m.token, m.nowTime()) {
		m.state = StateFailed
	}
	m.mu.Unlock()
	m.bus.Emit(events.AuthFailed, err)
	return err
}

// scrubURL removes code and state from the current location.
func (m *Manager) scrubURL() {
	current := m.nav.CurrentURL()
	cleaned := stripCallbackParams(current)
	if cleaned == current {
		return
	}
	if err := m.nav.ReplaceURL(cleaned); err != nil {
		m.logger.Warn().Err(err).Msg("failed to scrub callback parameters from url")
	}
}

// retireCode marks a callback code that arrived alongside a valid cached
// session as consumed and removes it from the URL. No network call is made.
func (m *Manager) retireCode(ctx context.Context, code string) {
	fp := fingerprint(code)
	if consumed := m.consumedCodes(ctx); !slices.Contains(consumed, fp) {
		m.recordConsumed(ctx, consumed, fp)
	}
	m.logger.Debug().Str("code_fp", fp).Msg("session already valid, callback code retired")
	m.scrubURL()
}

func (m *Manager) consumedCodes(ctx context.Context) []string {
	var consumed []string
	m.cache.Get(ctx, cache.KeyConsumedCodes, &consumed)
	return consumed
}

// recordConsumed appends fp, keeping only the most recent consumedLimit entries.
func (m *Manager) recordConsumed(ctx context.Context, consumed []string, fp string) {
	consumed = append(consumed, fp)
	if m.consumedLimit > 0 && len(consumed) > m.consumedLimit {
		consumed = consumed[len(consumed)-m.consumedLimit:]
	}
	if err := m.cache.Set(ctx, cache.KeyConsumedCodes, consumed); err != nil {
		m.logger.Warn().Err(err).Msg("failed to record consumed code")
	}
}

// fingerprint identifies a code without storing it.
func fingerprint(code string) string {
	sum := blake2b.Sum256([]byte(code))
	return hex.EncodeToString(sum[:16])
}

// callbackParams extracts code and state from a callback URL.
func callbackParams(raw string) (code, state string, ok bool) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", false
	}
	query := u.Query()
	code = query.Get("code")
	return code, query.Get("state"), code != ""
}

func stripCallbackParams(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	query := u.Query()
	if !query.Has("code") && !query.Has("state") {
		return raw
	}
	query.Del("code")
	query.Del("state")
	u.RawQuery = query.Encode()
	return u.String()
}

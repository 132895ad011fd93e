package auth

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/wecom-session/cache"
	"github.com/jrsteele09/wecom-session/users"
	"golang.org/x/oauth2"
)

// expiryFor computes the token expiry from the exchange's expiresIn. Without
// one, the exp claim of a JWT access token is used.
func (m *Manager) expiryFor(accessToken string, expiresIn int64) time.Time {
	now := m.nowTime()
	if expiresIn > 0 {
		return now.Add(time.Duration(expiresIn) * time.Second)
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, claims); err == nil {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			return exp.Time
		}
	}
	m.logger.Debug().Dur("lifetime", defaultTokenLifetime).Msg("token lifetime unknown, using default")
	return now.Add(defaultTokenLifetime)
}

// loadToken reads the token from the cache. The expiry is stored in Unix milliseconds.
func (m *Manager) loadToken(ctx context.Context) (*oauth2.Token, bool) {
	var access string
	var expiresAtMs int64
	if !m.cache.Get(ctx, cache.KeyAccessToken, &access) || access == "" {
		return nil, false
	}
	if !m.cache.Get(ctx, cache.KeyTokenExpiration, &expiresAtMs) {
		return nil, false
	}
	var refresh string
	m.cache.Get(ctx, cache.KeyRefreshToken, &refresh)

	return &oauth2.Token{
		AccessToken:  access,
		TokenType:    "Bearer",
		RefreshToken: refresh,
		Expiry:       time.UnixMilli(expiresAtMs),
	}, true
}

func (m *Manager) persistUser(ctx context.Context, user users.User) {
	if err := m.cache.Set(ctx, cache.KeyUserInfo, user); err != nil {
		m.logger.Warn().Err(err).Msg("failed to persist user info")
	}
}

func (m *Manager) persistToken(ctx context.Context, tok *oauth2.Token) {
	if err := m.cache.Set(ctx, cache.KeyAccessToken, tok.AccessToken); err != nil {
		m.logger.Warn().Err(err).Msg("failed to persist access token")
	}
	if err := m.cache.Set(ctx, cache.KeyTokenExpiration, tok.Expiry.UnixMilli()); err != nil {
		m.logger.Warn().Err(err).Msg("failed to persist token expiration")
	}
	if tok.RefreshToken == "" {
		if err := m.cache.Remove(ctx, cache.KeyRefreshToken); err != nil {
			m.logger.Warn().Err(err).Msg("failed to clear refresh token")
		}
		return
	}
	if err := m.cache.Set(ctx, cache.KeyRefreshToken, tok.RefreshToken); err != nil {
		m.logger.Warn().Err(err).Msg("failed to persist refresh token")
	}
}

package config

import "time"

type OAuthConfig interface {
	GetAuthorizeURL() string
	GetRefreshMargin() time.Duration
	GetConsumedCodeLimit() int
	GetOrgID() string
	GetAppID() string
	GetRedirectURI() string
	GetScope() string
}

type OAuth struct{}

var _ OAuthConfig = OAuth{}

func (OAuth) GetAuthorizeURL() string {
	return GetEnv("OAUTH_AUTHORIZE_URL", "https://open.weixin.qq.com/connect/oauth2/authorize")
}

func (OAuth) GetRefreshMargin() time.Duration {
	return GetEnvDuration("OAUTH_REFRESH_MARGIN", 5*time.Minute)
}

// GetConsumedCodeLimit bounds how many consumed authorization code
// fingerprints are remembered.
func (OAuth) GetConsumedCodeLimit() int {
	return GetEnvInt("OAUTH_CONSUMED_CODE_LIMIT", 32)
}

func (OAuth) GetOrgID() string {
	return GetEnv("WECOM_ORG_ID", "")
}

func (OAuth) GetAppID() string {
	return GetEnv("WECOM_APP_ID", "")
}

func (OAuth) GetRedirectURI() string {
	return GetEnv("WECOM_REDIRECT_URI", "http://localhost:8080/callback")
}

func (OAuth) GetScope() string {
	return GetEnv("WECOM_SCOPE", "snsapi_base")
}

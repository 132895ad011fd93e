package sdk

import (
	"errors"
	"strings"
)

// SessionConfig identifies the enterprise app. It is fixed for the lifetime of
// a Manager once Initialize has accepted it.
type SessionConfig struct {
	OrgID       string `json:"orgId"`
	AppID       string `json:"appId"`
	RedirectURI string `json:"redirectUri"`
	Scope       string `json:"scope"`
	CSRFState   string `json:"state,omitempty"`
}

// Validate checks the fields every flow needs.
func (c SessionConfig) Validate() error {
	if strings.TrimSpace(c.OrgID) == "" {
		return errors.New("orgId is required")
	}
	if strings.TrimSpace(c.AppID) == "" {
		return errors.New("appId is required")
	}
	return nil
}

// SignedJSConfig unlocks bridge capabilities. The signature is bound to the
// exact page URL it was issued for and must be refetched after navigation.
type SignedJSConfig struct {
	Timestamp int64    `json:"timestamp"`
	NonceStr  string   `json:"nonceStr"`
	Signature string   `json:"signature"`
	JSAPIList []string `json:"jsApiList"`
}

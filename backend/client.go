// Package backend is the HTTP client for the REST endpoints the session core
// consumes: code exchange, profile, logout, token refresh and JS-config signing.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	apperrors "github.com/jrsteele09/wecom-session/internal/errors"
	"github.com/jrsteele09/wecom-session/sdk"
	"github.com/jrsteele09/wecom-session/users"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

const (
	DefaultHTTPTimeout = 15 * time.Second

	loginPath    = "/auth/login"
	userInfoPath = "/auth/userinfo"
	logoutPath   = "/auth/logout"
	refreshPath  = "/auth/refresh"
	jsConfigPath = "/wechat/js-config"

	maxErrorBody = 4 << 10
)

// LoginResponse is the body returned by a successful code exchange.
type LoginResponse struct {
	AccessToken  string     `json:"accessToken"`
	RefreshToken string     `json:"refreshToken,omitempty"`
	ExpiresIn    int64      `json:"expiresIn"`
	User         users.User `json:"user"`
}

type loginRequest struct {
	Code  string `json:"code"`
	State string `json:"state"`
}

type jsConfigResponse struct {
	Timestamp int64    `json:"timestamp"`
	NonceStr  string   `json:"nonceStr"`
	Signature string   `json:"signature"`
	JSAPIList []string `json:"jsApiList"`
}

// StatusError is returned when the backend answers with a non-2xx status.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("[%s] unexpected status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("[%s] unexpected status %d: %s", e.Op, e.StatusCode, e.Body)
}

// Client talks to the backend rooted at baseURL.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     zerolog.Logger
}

var _ sdk.JSConfigSource = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client used for every request.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a Client for baseURL, e.g. "http://localhost:3000/api".
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, errors.Wrap(err, "[backend.NewClient] invalid base URL")
	}
	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: DefaultHTTPTimeout},
		logger:     log.Logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Login exchanges an authorization code for a token and profile.
func (c *Client) Login(ctx context.Context, code, state string) (*LoginResponse, error) {
	var resp LoginResponse
	if err := c.do(ctx, "backend.Login", http.MethodPost, loginPath, nil, loginRequest{Code: code, State: state}, &resp); err != nil {
		return nil, err
	}
	if resp.AccessToken == "" {
		return nil, errors.New("[backend.Login] response carried no access token")
	}
	return &resp, nil
}

// UserInfo fetches the profile of the token's owner.
func (c *Client) UserInfo(ctx context.Context, tok *oauth2.Token) (users.User, error) {
	var u users.User
	err := c.do(ctx, "backend.UserInfo", http.MethodGet, userInfoPath, tok, nil, &u)
	return u, err
}

// Logout invalidates the token server-side.
func (c *Client) Logout(ctx context.Context, tok *oauth2.Token) error {
	return c.do(ctx, "backend.Logout", http.MethodPost, logoutPath, tok, nil, nil)
}

// Refresh redeems a refresh token using the standard refresh_token grant.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	cfg := oauth2.Config{
		Endpoint: oauth2.Endpoint{
			TokenURL:  c.baseURL + refreshPath,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)

	tok, err := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
			return nil, &StatusError{Op: "backend.Refresh", StatusCode: retrieveErr.Response.StatusCode, Body: string(retrieveErr.Body)}
		}
		return nil, apperrors.New(apperrors.ErrNetwork, "backend.Refresh", "refresh request failed", nil, err)
	}
	return tok, nil
}

// JSConfig fetches a signature for pageURL. The vendor binds it to the exact URL.
func (c *Client) JSConfig(ctx context.Context, pageURL, agentID string) (sdk.SignedJSConfig, error) {
	query := url.Values{}
	query.Set("url", pageURL)
	if agentID != "" {
		query.Set("agentId", agentID)
	}

	var resp jsConfigResponse
	if err := c.do(ctx, "backend.JSConfig", http.MethodGet, jsConfigPath, nil, nil, &resp, query); err != nil {
		return sdk.SignedJSConfig{}, err
	}
	if resp.Signature == "" {
		return sdk.SignedJSConfig{}, errors.New("[backend.JSConfig] response carried no signature")
	}
	return sdk.SignedJSConfig{
		Timestamp: resp.Timestamp,
		NonceStr:  resp.NonceStr,
		Signature: resp.Signature,
		JSAPIList: resp.JSAPIList,
	}, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, tok *oauth2.Token, body, out any, query ...url.Values) error {
	target := c.baseURL + path
	if len(query) > 0 && len(query[0]) > 0 {
		target += "?" + query[0].Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return errors.Wrapf(err, "[%s] failed to encode request", op)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return errors.Wrapf(err, "[%s] failed to build request", op)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok != nil {
		tok.SetAuthHeader(req)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn().Err(err).Str("op", op).Str("url", path).Msg("backend request failed")
		return apperrors.New(apperrors.ErrNetwork, op, "request failed", nil, err)
	}
	defer resp.Body.Close()

	c.logger.Debug().Str("op", op).Str("method", method).Str("url", path).
		Int("status", resp.StatusCode).Dur("elapsed", time.Since(start)).Msg("backend request")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrapf(err, "[%s] failed to decode response", op)
	}
	return nil
}

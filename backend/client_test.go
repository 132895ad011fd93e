package backend_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/jrsteele09/wecom-session/backend"
	apperrors "github.com/jrsteele09/wecom-session/internal/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *backend.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := backend.NewClient(srv.URL+"/api/", backend.WithLogger(zerolog.Nop()))
	require.NoError(t, err)
	return client
}

func TestNewClient_InvalidBaseURL(t *testing.T) {
	_, err := backend.NewClient("not a url")
	require.Error(t, err)
}

func TestLogin(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/auth/login", r.URL.Path)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, map[string]string{"code": "ABC", "state": "S1"}, body)

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"accessToken":"tok","expiresIn":7200,"user":{"id":"u1","name":"Alice"}}`)
	})

	resp, err := client.Login(context.Background(), "ABC", "S1")
	require.NoError(t, err)
	require.Equal(t, "tok", resp.AccessToken)
	require.Empty(t, resp.RefreshToken)
	require.EqualValues(t, 7200, resp.ExpiresIn)
	require.Equal(t, "u1", resp.User.ID)
	require.Equal(t, "Alice", resp.User.Name)
}

func TestLogin_StatusError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid code", http.StatusBadRequest)
	})

	_, err := client.Login(context.Background(), "bad", "")
	var statusErr *backend.StatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusBadRequest, statusErr.StatusCode)
	require.Equal(t, "invalid code", statusErr.Body)
	require.Contains(t, err.Error(), "[backend.Login]")
}

func TestLogin_MissingToken(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"expiresIn":7200}`)
	})

	_, err := client.Login(context.Background(), "ABC", "S1")
	require.Error(t, err)
}

func TestLogin_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	client, err := backend.NewClient(srv.URL, backend.WithLogger(zerolog.Nop()))
	require.NoError(t, err)

	_, err = client.Login(context.Background(), "ABC", "S1")
	require.ErrorIs(t, err, apperrors.ErrNetwork)
}

func TestUserInfo_SendsBearer(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "/api/auth/userinfo", r.URL.Path)
		require.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		_, _ = io.WriteString(w, `{"id":"u1","name":"Alice B","department":["d1"]}`)
	})

	u, err := client.UserInfo(context.Background(), &oauth2.Token{AccessToken: "tok"})
	require.NoError(t, err)
	require.Equal(t, "Alice B", u.Name)
	require.Equal(t, []string{"d1"}, u.Department)
}

func TestLogout(t *testing.T) {
	called := false
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/auth/logout", r.URL.Path)
		require.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusNoContent)
	})

	require.NoError(t, client.Logout(context.Background(), &oauth2.Token{AccessToken: "tok"}))
	require.True(t, called)
}

func TestRefresh(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/auth/refresh", r.URL.Path)
		require.NoError(t, r.ParseForm())
		require.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		require.Equal(t, "r1", r.PostForm.Get("refresh_token"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"access_token":"tok2","token_type":"Bearer","refresh_token":"r2","expires_in":3600}`)
	})

	tok, err := client.Refresh(context.Background(), "r1")
	require.NoError(t, err)
	require.Equal(t, "tok2", tok.AccessToken)
	require.Equal(t, "r2", tok.RefreshToken)
	require.WithinDuration(t, time.Now().Add(time.Hour), tok.Expiry, time.Minute)
}

func TestRefresh_Rejected(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error":"invalid_grant"}`)
	})

	_, err := client.Refresh(context.Background(), "r1")
	var statusErr *backend.StatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusUnauthorized, statusErr.StatusCode)
}

func TestJSConfig(t *testing.T) {
	pageURL := "https://x/page?a=1"
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/wechat/js-config", r.URL.Path)
		query, err := url.ParseQuery(r.URL.RawQuery)
		require.NoError(t, err)
		require.Equal(t, pageURL, query.Get("url"))
		require.Equal(t, "a1", query.Get("agentId"))
		_, _ = io.WriteString(w, `{"timestamp":1700000000,"nonceStr":"n","signature":"sig","jsApiList":["scanQRCode"]}`)
	})

	signed, err := client.JSConfig(context.Background(), pageURL, "a1")
	require.NoError(t, err)
	require.EqualValues(t, 1700000000, signed.Timestamp)
	require.Equal(t, "n", signed.NonceStr)
	require.Equal(t, "sig", signed.Signature)
	require.Equal(t, []string{"scanQRCode"}, signed.JSAPIList)
}

func TestJSConfig_NoSignature(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"timestamp":1}`)
	})

	_, err := client.JSConfig(context.Background(), "https://x", "")
	require.Error(t, err)
}

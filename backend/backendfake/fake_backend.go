// Package backendfake provides an in-memory stand-in for the backend client.
package backendfake

import (
	"context"
	"sync"

	"github.com/jrsteele09/wecom-session/backend"
	"github.com/jrsteele09/wecom-session/sdk"
	"github.com/jrsteele09/wecom-session/users"
	"golang.org/x/oauth2"
)

// Operation names accepted by Calls.
const (
	OpLogin    = "login"
	OpUserInfo = "userinfo"
	OpLogout   = "logout"
	OpRefresh  = "refresh"
	OpJSConfig = "jsconfig"
)

// Backend records calls and answers with the configured responses. Set the
// exported fields before use. A non-nil gate blocks its operation until closed.
type Backend struct {
	mu    sync.Mutex
	calls map[string]int

	LoginResponse *backend.LoginResponse
	LoginErr      error
	LoginGate     chan struct{}

	User         users.User
	UserInfoErr  error
	UserInfoGate chan struct{}

	LogoutErr error

	RefreshToken *oauth2.Token
	RefreshErr   error
	RefreshGate  chan struct{}

	Signed      sdk.SignedJSConfig
	JSConfigErr error

	codes    []string
	pageURLs []string
}

func NewBackend() *Backend {
	return &Backend{calls: make(map[string]int)}
}

func (b *Backend) Login(ctx context.Context, code, _ string) (*backend.LoginResponse, error) {
	b.record(OpLogin)
	b.mu.Lock()
	b.codes = append(b.codes, code)
	gate := b.LoginGate
	b.mu.Unlock()
	if err := wait(ctx, gate); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.LoginErr != nil {
		return nil, b.LoginErr
	}
	resp := *b.LoginResponse
	return &resp, nil
}

func (b *Backend) UserInfo(ctx context.Context, _ *oauth2.Token) (users.User, error) {
	b.record(OpUserInfo)
	b.mu.Lock()
	gate := b.UserInfoGate
	b.mu.Unlock()
	if err := wait(ctx, gate); err != nil {
		return users.User{}, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	return b.User, b.UserInfoErr
}

func (b *Backend) Logout(context.Context, *oauth2.Token) error {
	b.record(OpLogout)
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.LogoutErr
}

func (b *Backend) Refresh(ctx context.Context, _ string) (*oauth2.Token, error) {
	b.record(OpRefresh)
	b.mu.Lock()
	gate := b.RefreshGate
	b.mu.Unlock()
	if err := wait(ctx, gate); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.RefreshErr != nil {
		return nil, b.RefreshErr
	}
	tok := *b.RefreshToken
	return &tok, nil
}

func (b *Backend) JSConfig(_ context.Context, pageURL, _ string) (sdk.SignedJSConfig, error) {
	b.record(OpJSConfig)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pageURLs = append(b.pageURLs, pageURL)
	return b.Signed, b.JSConfigErr
}

// Calls returns how many times op was invoked.
func (b *Backend) Calls(op string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[op]
}

// TotalCalls returns the number of calls across all operations.
func (b *Backend) TotalCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	total := 0
	for _, n := range b.calls {
		total += n
	}
	return total
}

// Codes returns the authorization codes sent to Login.
func (b *Backend) Codes() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.codes...)
}

// PageURLs returns the URLs signatures were requested for.
func (b *Backend) PageURLs() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.pageURLs...)
}

func (b *Backend) record(op string) {
	b.mu.Lock()
	b.calls[op]++
	b.mu.Unlock()
}

func wait(ctx context.Context, gate chan struct{}) error {
	if gate == nil {
		return nil
	}
	select {
	case <-gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

package server

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/jrsteele09/wecom-session/auth"
	"github.com/jrsteele09/wecom-session/bridge"
	"github.com/jrsteele09/wecom-session/environment"
)

var errNoBridge = errors.New("the native bridge only exists inside the client webview")

// Page stands in for the browser page the session lives in. It is the
// session's Navigator and environment Source: navigations are recorded and
// turned into redirects by the handler.
type Page struct {
	mu         sync.Mutex
	current    string
	userAgent  string
	navigateTo string
	replacedBy string
}

var (
	_ auth.Navigator     = (*Page)(nil)
	_ environment.Source = (*Page)(nil)
)

func NewPage() *Page {
	return &Page{}
}

// Open starts a page load on pageURL and forgets earlier navigations.
func (p *Page) Open(pageURL, userAgent string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current = pageURL
	p.userAgent = userAgent
	p.navigateTo = ""
	p.replacedBy = ""
}

func (p *Page) load(r *http.Request) {
	p.Open(requestURL(r), r.UserAgent())
}

func (p *Page) CurrentURL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

func (p *Page) Navigate(target string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.navigateTo = target
	return nil
}

func (p *Page) ReplaceURL(target string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replacedBy = target
	p.current = target
	return nil
}

// Navigation returns the pending hard navigation, if any.
func (p *Page) Navigation() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.navigateTo, p.navigateTo != ""
}

// Replaced returns the URL the page rewrote itself to, if any.
func (p *Page) Replaced() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.replacedBy, p.replacedBy != ""
}

func (p *Page) UserAgent() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.userAgent
}

// ViewportWidth is unknown on the server side.
func (p *Page) ViewportWidth() int { return 0 }

// Windowed is false: there is no window object to load the bridge into, so the
// environment is never SDK capable here.
func (p *Page) Windowed() bool { return false }

// HeadlessLoader is the bridge loader for the harness. It is never reached
// because Page never reports a window.
type HeadlessLoader struct{}

var _ bridge.Loader = HeadlessLoader{}

func (HeadlessLoader) Load(context.Context, string) (bridge.Bridge, error) {
	return nil, errNoBridge
}

// Package server is a small development host for the session core. Each
// request is treated as a page load, so the OAuth redirect and callback can be
// exercised from a real browser or the enterprise client.
package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/jrsteele09/wecom-session/internal/config"
	"github.com/jrsteele09/wecom-session/sessions"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Server struct {
	env     string // Environment (e.g., "DEV", "PROD")
	mux     *http.ServeMux
	routes  []string
	config  config.Config
	session *sessions.Session
	page    *Page
	logger  zerolog.Logger

	// the session models a single page, so page loads are served one at a time
	pageLock sync.Mutex
}

type Option func(*Server)

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// New creates the harness. page must be the Navigator and Source the session was built with.
func New(config config.Config, session *sessions.Session, page *Page, opts ...Option) (*Server, error) {
	if session == nil {
		return nil, fmt.Errorf("[Server New] session is required")
	}
	if page == nil {
		return nil, fmt.Errorf("[Server New] page is required")
	}

	s := &Server{
		env:     config.GetEnv(),
		mux:     http.NewServeMux(),
		config:  config,
		session: session,
		page:    page,
		logger:  log.Logger,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.initRoutes()
	s.logRoutes()
	return s, nil
}

// Bootstrap runs the session bootstrap as if the page had loaded on pageURL.
func (s *Server) Bootstrap(ctx context.Context, pageURL string) error {
	s.pageLock.Lock()
	defer s.pageLock.Unlock()

	s.page.Open(pageURL, "")
	if err := s.session.Bootstrap(ctx); err != nil {
		return fmt.Errorf("[Server Bootstrap] %w", err)
	}
	return nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) RegisterRouteHandler(pattern string, handler http.Handler) {
	s.routes = append(s.routes, pattern)
	s.mux.Handle(pattern, handler)
}

func (s *Server) RegisterRouteFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	s.routes = append(s.routes, pattern)
	s.mux.HandleFunc(pattern, handler)
}

func (s *Server) logRoutes() {
	if s.env != "DEV" {
		return // Skip logging in non-development environments
	}
	for _, route := range s.routes {
		parts := strings.SplitN(route, " ", 2)

		if len(parts) > 1 {
			s.logRoute(parts[0], parts[1])
		} else {
			s.logRoute("", parts[0])
		}
	}
}

func (s *Server) logRoute(method, path string) {
	s.logger.Info().Msgf("[%-19s] %s", colourMethod(method), path)
}

func (s *Server) logError(method, path string, err error) {
	s.logger.Error().Msgf("[%-19s] %s %s", colourMethod(method), path, Red+err.Error()+ResetColor)
}

// Helper function to determine the scheme (http/https)
func getScheme(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	if scheme := r.Header.Get("X-Forwarded-Proto"); scheme != "" {
		return scheme
	}
	return "http"
}

// requestURL rebuilds the absolute URL the client requested.
func requestURL(r *http.Request) string {
	return getScheme(r) + "://" + r.Host + r.URL.RequestURI()
}

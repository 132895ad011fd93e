package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/jrsteele09/wecom-session/environment"
	apperrors "github.com/jrsteele09/wecom-session/internal/errors"
	"github.com/jrsteele09/wecom-session/users"
)

func (s *Server) initRoutes() {
	s.RegisterRouteHandler("GET "+RouteStatus+"{$}", ChainMiddleware(s.StatusHandler(), s.PageMiddleware()...))
	s.RegisterRouteHandler("GET "+RouteAuthStart, ChainMiddleware(s.AuthStartHandler(), s.PageMiddleware()...))
	s.RegisterRouteHandler("GET "+RouteCallback, ChainMiddleware(s.CallbackHandler(), s.PageMiddleware()...))
	s.RegisterRouteHandler("POST "+RouteLogout, ChainMiddleware(s.LogoutHandler(), s.PageMiddleware()...))
}

// StatusResponse is the body of GET /.
type StatusResponse struct {
	App           string                  `json:"app"`
	Environment   environment.Environment `json:"environment"`
	SDKState      string                  `json:"sdkState"`
	AuthState     string                  `json:"authState"`
	Authenticated bool                    `json:"authenticated"`
	TokenValid    bool                    `json:"tokenValid"`
	User          *users.User             `json:"user,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// StatusHandler reports the session state as seen from the requesting client.
func (s *Server) StatusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.pageLock.Lock()
		defer s.pageLock.Unlock()
		s.page.load(r)

		writeJSON(w, http.StatusOK, StatusResponse{
			App:           s.config.GetAppName(),
			Environment:   s.session.SDK.Environment(),
			SDKState:      s.session.SDK.State().String(),
			AuthState:     s.session.Auth.State().String(),
			Authenticated: s.session.Auth.IsAuthenticated(),
			TokenValid:    s.session.Auth.IsTokenValid(),
			User:          s.session.Auth.CurrentUser(),
		})
	}
}

// AuthStartHandler redirects to the vendor authorize page. An optional
// redirect_uri query parameter overrides the configured one.
func (s *Server) AuthStartHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.pageLock.Lock()
		defer s.pageLock.Unlock()
		s.page.load(r)

		if err := s.session.Auth.StartAuth(r.Context(), r.URL.Query().Get("redirect_uri")); err != nil {
			s.writeError(w, r, err)
			return
		}
		target, ok := s.page.Navigation()
		if !ok {
			s.writeError(w, r, errors.New("no navigation was issued"))
			return
		}
		http.Redirect(w, r, target, http.StatusFound)
	}
}

// CallbackHandler exchanges the code the vendor redirected back with.
func (s *Server) CallbackHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.pageLock.Lock()
		defer s.pageLock.Unlock()
		s.page.load(r)

		query := r.URL.Query()
		user, err := s.session.Auth.HandleAuthCallback(r.Context(), query.Get("code"), query.Get("state"))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if cleaned, ok := s.page.Replaced(); ok {
			w.Header().Set("Content-Location", cleaned)
		}
		writeJSON(w, http.StatusOK, user)
	}
}

// LogoutHandler always succeeds locally.
func (s *Server) LogoutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.pageLock.Lock()
		defer s.pageLock.Unlock()
		s.page.load(r)

		_ = s.session.Auth.Logout(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	s.logError(r.Method, r.URL.Path, err)
	writeJSON(w, statusFor(err), errorResponse{Error: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, apperrors.ErrEnvironmentUnsupported), errors.Is(err, apperrors.ErrStateMismatch):
		return http.StatusBadRequest
	case errors.Is(err, apperrors.ErrCodeConsumed), errors.Is(err, apperrors.ErrConfigConflict):
		return http.StatusConflict
	case errors.Is(err, apperrors.ErrNotReady):
		return http.StatusServiceUnavailable
	case errors.Is(err, apperrors.ErrCodeExchangeFailed), errors.Is(err, apperrors.ErrNetwork):
		return http.StatusBadGateway
	case errors.Is(err, apperrors.ErrNotAuthenticated):
		return http.StatusUnauthorized
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

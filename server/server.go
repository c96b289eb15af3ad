// Package server exposes the daemon's health, metrics and session status
// over HTTP.
package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/jrsteele09/go-crm-session/app"
	"github.com/jrsteele09/go-crm-session/internal/config"
	"github.com/jrsteele09/go-crm-session/permissions"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Server struct {
	env      string // Environment (e.g., "DEV", "PROD")
	mux      *http.ServeMux
	routes   []string
	app      *app.App
	gatherer prometheus.Gatherer
	logger   zerolog.Logger
}

// New builds the status server for a. A nil gatherer serves the default
// Prometheus registry.
func New(cfg config.EnvConfig, a *app.App, gatherer prometheus.Gatherer) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("[Server New] config is required")
	}
	if a == nil {
		return nil, fmt.Errorf("[Server New] app is required")
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		env:      cfg.GetEnv(),
		mux:      http.NewServeMux(),
		app:      a,
		gatherer: gatherer,
		logger:   log.Logger,
	}
	s.initRoutes()
	s.logRoutes()
	return s, nil
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

func (s *Server) initRoutes() {
	mw := s.StdMiddleware()
	s.RegisterRouteFunc("GET /healthz", ChainMiddleware(s.handleHealth, mw...))
	s.RegisterRouteHandler("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	s.RegisterRouteFunc("GET /session", ChainMiddleware(s.handleSession, mw...))
	s.RegisterRouteFunc("GET /permissions", ChainMiddleware(s.handlePermissions, mw...))
	s.RegisterRouteFunc("POST /permissions/retry", ChainMiddleware(s.handlePermissionsRetry, mw...))
	s.RegisterRouteFunc("POST /logout", ChainMiddleware(s.handleLogout, mw...))
}

func (s *Server) logRoutes() {
	if s.env != "DEV" {
		return
	}
	for _, route := range s.routes {
		parts := strings.SplitN(route, " ", 2)
		if len(parts) > 1 {
			s.logRoute(parts[0], parts[1], 0)
		} else {
			s.logRoute("", parts[0], 0)
		}
	}
}

// logRoute prints a coloured method and path. A non-zero status is appended.
func (s *Server) logRoute(method, path string, status int) {
	paddedMethod := fmt.Sprintf(" %-7s", method)
	color, ok := methodColors[method]
	if !ok {
		color = Gray
	}
	line := fmt.Sprintf("[%-19s] %s", color+paddedMethod+ResetColor, path)
	if status != 0 {
		line += fmt.Sprintf(" %s%d%s", statusColor(status), status, ResetColor)
	}
	s.logger.Info().Msg(line)
}

type healthResponse struct {
	Status        string `json:"status"`
	Authenticated bool   `json:"authenticated"`
	Notifications bool   `json:"notifications"`
	Refresh       string `json:"refresh"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:        "ok",
		Authenticated: s.app.Store.IsAuthenticated(r.Context()),
		Refresh:       s.app.Scheduler.State().String(),
	}
	if ch := s.app.Binder.Current(); ch != nil {
		resp.Notifications = ch.Connected()
	}
	writeJSON(w, http.StatusOK, resp)
}

type sessionResponse struct {
	Authenticated bool       `json:"authenticated"`
	UserID        string     `json:"userId,omitempty"`
	TenantID      string     `json:"tenantId,omitempty"`
	Role          string     `json:"role,omitempty"`
	Remember      bool       `json:"remember"`
	SavedEmail    string     `json:"savedEmail,omitempty"`
	HomePage      string     `json:"homePage"`
	ExpiresAt     *time.Time `json:"expiresAt,omitempty"`
	RefreshState  string     `json:"refreshState"`
	RefreshError  string     `json:"refreshError,omitempty"`
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	store := s.app.Store
	resp := sessionResponse{
		Authenticated: store.IsAuthenticated(ctx),
		UserID:        store.UserID(ctx),
		TenantID:      store.TenantID(ctx),
		Remember:      store.Remember(ctx),
		SavedEmail:    store.SavedEmail(ctx),
		HomePage:      store.HomePage(ctx),
		RefreshState:  s.app.Scheduler.State().String(),
	}
	if u := store.User(ctx); u != nil {
		resp.Role = u.Role.String()
	}
	if claims := store.DecodedToken(ctx); claims != nil {
		resp.ExpiresAt = &claims.ExpiresAt
	}
	if err := s.app.Scheduler.LastError(); err != nil {
		resp.RefreshError = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

type permissionsResponse struct {
	Status      string   `json:"status"`
	Role        string   `json:"role,omitempty"`
	Permissions []string `json:"permissions"`
	Stale       bool     `json:"stale,omitempty"`
	Error       string   `json:"error,omitempty"`
	BreakerOpen bool     `json:"breakerOpen"`
}

func (s *Server) permissionsResponse(st permissions.State) permissionsResponse {
	resp := permissionsResponse{
		Status:      st.Status.String(),
		Role:        st.Role,
		Permissions: st.Permissions,
		Stale:       st.Stale,
		BreakerOpen: s.app.Permissions.Breaker().IsOpen(),
	}
	if resp.Permissions == nil {
		resp.Permissions = []string{}
	}
	if st.Err != nil {
		resp.Error = st.Err.Error()
	}
	return resp
}

func (s *Server) handlePermissions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.permissionsResponse(s.app.Permissions.State()))
}

func (s *Server) handlePermissionsRetry(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.permissionsResponse(s.app.Permissions.Retry(r.Context())))
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.app.Logout(r.Context()); err != nil {
		s.logger.Error().Err(err).Msg("logout failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "logout failed"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

package notify

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/jrsteele09/go-crm-session/metrics"
	"github.com/jrsteele09/go-crm-session/sessions"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	DefaultForceLogoutDelay = 3 * time.Second

	defaultLogoutTitle   = "Session ended"
	defaultLogoutMessage = "Your session was ended by the server. Please sign in again."
)

// benignLogoutKeywords identify the server's own token refresh cycle.
var benignLogoutKeywords = []string{"token_refresh", "token-refresh", "token refresh"}

// Alerter shows a blocking message to the user.
type Alerter interface {
	Alert(title, message string)
}

// ForceLogoutHandler ends the session when the server says so, unless the
// push is an echo of a token refresh.
type ForceLogoutHandler struct {
	store     *sessions.Store
	navigator sessions.Navigator
	alerter   Alerter
	loginPath string
	delay     time.Duration
	metrics   *metrics.Metrics
	logger    zerolog.Logger

	mu      sync.Mutex
	pending *time.Timer
}

// ForceLogoutOption defines a function type to modify the ForceLogoutHandler instance.
type ForceLogoutOption func(*ForceLogoutHandler)

// WithDelay sets how long the alert is shown before navigating to login.
func WithDelay(d time.Duration) ForceLogoutOption {
	return func(h *ForceLogoutHandler) {
		if d >= 0 {
			h.delay = d
		}
	}
}

func WithLoginPath(path string) ForceLogoutOption {
	return func(h *ForceLogoutHandler) {
		if path != "" {
			h.loginPath = path
		}
	}
}

func WithForceLogoutLogger(logger zerolog.Logger) ForceLogoutOption {
	return func(h *ForceLogoutHandler) {
		h.logger = logger
	}
}

func WithForceLogoutMetrics(m *metrics.Metrics) ForceLogoutOption {
	return func(h *ForceLogoutHandler) {
		h.metrics = m
	}
}

func NewForceLogoutHandler(store *sessions.Store, navigator sessions.Navigator, alerter Alerter, options ...ForceLogoutOption) *ForceLogoutHandler {
	h := &ForceLogoutHandler{
		store:     store,
		navigator: navigator,
		alerter:   alerter,
		loginPath: "/login",
		delay:     DefaultForceLogoutDelay,
		logger:    log.Logger,
	}
	for _, opt := range options {
		opt(h)
	}
	return h
}

// IsBenign reports whether e only echoes a token refresh.
func IsBenign(e ForceLogoutEvent) bool {
	text := strings.ToLower(e.Reason + " " + e.Message)
	for _, k := range benignLogoutKeywords {
		if strings.Contains(text, k) {
			return true
		}
	}
	return false
}

// Handle processes a forced-logout push and reports whether it ended the
// session.
func (h *ForceLogoutHandler) Handle(ctx context.Context, e ForceLogoutEvent) bool {
	if IsBenign(e) {
		h.metrics.ForcedLogout("benign")
		h.logger.Debug().Str("reason", e.Reason).Msg("ignoring forced logout from token refresh")
		return false
	}

	h.metrics.ForcedLogout("forced")
	h.logger.Warn().Str("reason", e.Reason).Str("message", e.Message).Msg("session ended by server")
	if err := h.store.Clear(ctx, sessions.ClearFull); err != nil {
		h.logger.Error().Err(err).Msg("clearing session after forced logout")
	}

	message := e.Message
	if message == "" {
		message = defaultLogoutMessage
	}
	if h.alerter != nil {
		h.alerter.Alert(defaultLogoutTitle, message)
	}

	h.mu.Lock()
	if h.pending != nil {
		h.pending.Stop()
	}
	var timer *time.Timer
	timer = time.AfterFunc(h.delay, func() {
		h.mu.Lock()
		if h.pending != timer {
			h.mu.Unlock()
			return
		}
		h.pending = nil
		h.mu.Unlock()
		h.navigator.Navigate(h.loginPath)
	})
	h.pending = timer
	h.mu.Unlock()
	return true
}

// Pending reports whether a navigation to login is scheduled.
func (h *ForceLogoutHandler) Pending() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pending != nil
}

// Stop cancels a scheduled navigation.
func (h *ForceLogoutHandler) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.pending != nil {
		h.pending.Stop()
		h.pending = nil
	}
}

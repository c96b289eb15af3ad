// Package refresh keeps the access token alive: a single-flight refresh
// routine shared by the periodic scheduler and the HTTP client.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	errs "github.com/jrsteele09/go-crm-session/internal/errors"
	"github.com/jrsteele09/go-crm-session/metrics"
	"github.com/jrsteele09/go-crm-session/sessions"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// NowTimeFunc returns the current time. It can be overridden in tests.
var NowTimeFunc = time.Now

const (
	refreshKey       = "refresh"
	defaultLoginPath = "/login"
	defaultTimeout   = 15 * time.Second
)

// Client exchanges a refresh token for a new token pair.
type Client interface {
	Refresh(ctx context.Context, refreshToken string) (*sessions.Tokens, error)
}

// Manager runs token refreshes against the session store. At most one
// network refresh is in flight at a time.
type Manager struct {
	store     *sessions.Store
	client    Client
	navigator sessions.Navigator
	loginPath string
	timeout   time.Duration
	metrics   *metrics.Metrics
	logger    zerolog.Logger

	group    singleflight.Group
	inFlight atomic.Bool
}

// ManagerOption defines a function type to modify the Manager instance.
type ManagerOption func(*Manager)

func WithLogger(logger zerolog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

func WithLoginPath(path string) ManagerOption {
	return func(m *Manager) {
		if path != "" {
			m.loginPath = path
		}
	}
}

// WithTimeout bounds a single refresh call.
func WithTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.timeout = d
		}
	}
}

func WithMetrics(mt *metrics.Metrics) ManagerOption {
	return func(m *Manager) {
		m.metrics = mt
	}
}

// NewManager creates a new refresh manager
func NewManager(store *sessions.Store, client Client, navigator sessions.Navigator, options ...ManagerOption) (*Manager, error) {
	if store == nil {
		return nil, errors.New("[NewManager] session store is required")
	}
	if client == nil {
		return nil, errors.New("[NewManager] refresh client is required")
	}
	if navigator == nil {
		return nil, errors.New("[NewManager] navigator is required")
	}

	m := &Manager{
		store:     store,
		client:    client,
		navigator: navigator,
		loginPath: defaultLoginPath,
		timeout:   defaultTimeout,
		logger:    log.Logger,
	}
	for _, opt := range options {
		opt(m)
	}
	return m, nil
}

// TryRefresh refreshes unless a refresh is already running, in which case it
// returns false without touching the network.
func (m *Manager) TryRefresh(ctx context.Context) (bool, error) {
	if !m.inFlight.CompareAndSwap(false, true) {
		m.logger.Debug().Msg("refresh already in flight")
		return false, nil
	}
	defer m.inFlight.Store(false)

	_, err, _ := m.group.Do(refreshKey, func() (any, error) {
		return m.refresh(ctx)
	})
	return true, err
}

// Refresh refreshes the session, joining a refresh that is already running.
// It is the entry point for callers that need the new token, such as an HTTP
// client that just saw a 401.
func (m *Manager) Refresh(ctx context.Context) (*sessions.Session, error) {
	v, err, shared := m.group.Do(refreshKey, func() (any, error) {
		m.inFlight.Store(true)
		defer m.inFlight.Store(false)
		return m.refresh(ctx)
	})
	if shared {
		m.logger.Debug().Msg("joined in-flight refresh")
	}
	if err != nil {
		return nil, err
	}
	return v.(*sessions.Session), nil
}

// Reauthenticate refreshes after the backend rejected the access token.
func (m *Manager) Reauthenticate(ctx context.Context) error {
	_, err := m.Refresh(ctx)
	return err
}

// InFlight reports whether a refresh is running.
func (m *Manager) InFlight() bool {
	return m.inFlight.Load()
}

func (m *Manager) refresh(ctx context.Context) (*sessions.Session, error) {
	refreshToken := m.store.RefreshToken(ctx)
	if refreshToken == "" {
		m.metrics.Refresh("skipped")
		return nil, errs.Wrapf(errs.ErrNoRefreshToken, "[Manager refresh]")
	}
	user := m.store.User(ctx)
	remember := m.store.Remember(ctx)

	rctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	tokens, err := m.client.Refresh(rctx, refreshToken)
	if err == nil && (tokens == nil || tokens.AccessToken == "") {
		err = errs.Wrapf(errs.ErrInvalidToken, "refresh response carried no access token")
	}
	if err != nil {
		m.fail(ctx, err)
		return nil, fmt.Errorf("[Manager refresh] %w: %w", errs.ErrRefreshFailed, err)
	}

	// Some servers rotate the refresh token, some don't.
	if tokens.RefreshToken == "" {
		tokens.RefreshToken = refreshToken
	}
	session := sessions.Session{
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		User:         user,
	}
	if err := m.store.Save(ctx, session, remember); err != nil {
		m.fail(ctx, err)
		return nil, fmt.Errorf("[Manager refresh] save: %w: %w", errs.ErrRefreshFailed, err)
	}

	m.metrics.Refresh("success")
	m.logger.Info().Bool("remember", remember).Msg("access token refreshed")
	return &session, nil
}

// fail ends the session: a refresh that does not succeed cannot be retried
// with the same credentials.
func (m *Manager) fail(ctx context.Context, cause error) {
	m.metrics.Refresh("failure")
	m.logger.Warn().Err(cause).Msg("token refresh failed, ending session")
	if err := m.store.Clear(context.WithoutCancel(ctx), sessions.ClearFull); err != nil {
		m.logger.Error().Err(err).Msg("clearing session after failed refresh")
	}
	m.navigator.Navigate(m.loginPath)
}

// Package app builds the session services from configuration and runs them
// as one unit.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"sync"

	"github.com/jrsteele09/go-crm-session/api"
	"github.com/jrsteele09/go-crm-session/events"
	"github.com/jrsteele09/go-crm-session/internal/config"
	errs "github.com/jrsteele09/go-crm-session/internal/errors"
	"github.com/jrsteele09/go-crm-session/metrics"
	"github.com/jrsteele09/go-crm-session/notify"
	"github.com/jrsteele09/go-crm-session/permissions"
	"github.com/jrsteele09/go-crm-session/sessions"
	"github.com/jrsteele09/go-crm-session/storage"
	"github.com/jrsteele09/go-crm-session/token/jwt"
	"github.com/jrsteele09/go-crm-session/token/refresh"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	BackendFile   = "file"
	BackendRedis  = "redis"
	BackendMemory = "memory"

	sessionFileName = "session.json"
	redisNamespace  = "crm_session"
)

// Deps are the host supplied collaborators. Navigator and Alerter are
// required; the rest fall back to defaults.
type Deps struct {
	Navigator  sessions.Navigator
	Alerter    notify.Alerter
	Registerer prometheus.Registerer // nil leaves metrics unregistered
	HTTPClient *http.Client
	Redis      redis.UniversalClient // used by the redis backend instead of dialing CRM_REDIS_ADDR
	Logger     *zerolog.Logger
	// OnPermissions is called with every new permission state.
	OnPermissions func(permissions.State)
}

// App owns every service. Build it with New, start it with Init and stop it
// with Close.
type App struct {
	config config.Config
	deps   Deps
	logger zerolog.Logger

	Bus         *events.Bus
	Metrics     *metrics.Metrics
	Store       *sessions.Store
	Refresh     *refresh.Manager
	Scheduler   *refresh.Scheduler
	Cache       *permissions.Cache
	Permissions *permissions.Controller
	Binder      *notify.Binder
	ForceLogout *notify.ForceLogoutHandler
	CrossTab    *sessions.CrossTabWatcher // nil when the durable scope cannot report changes

	closeRedis func() error

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
	closed  bool
	bg      sync.WaitGroup
}

// New builds every service once.
func New(cfg config.Config, deps Deps) (*App, error) {
	if cfg == nil {
		return nil, errors.New("[app New] config is required")
	}
	if deps.Navigator == nil {
		return nil, errors.New("[app New] navigator is required")
	}
	if deps.Alerter == nil {
		return nil, errors.New("[app New] alerter is required")
	}

	a := &App{
		config: cfg,
		deps:   deps,
		logger: log.Logger,
		ctx:    context.Background(),
		cancel: func() {},
	}
	if deps.Logger != nil {
		a.logger = *deps.Logger
	}

	durable, err := a.openDurable()
	if err != nil {
		return nil, fmt.Errorf("[app New] open %s storage: %w", cfg.GetStorageBackend(), err)
	}

	a.Bus = events.NewBus(events.WithLogger(a.logger))
	a.Metrics = metrics.New(deps.Registerer)

	storeOpts := []sessions.StoreOption{
		sessions.WithLogger(a.logger),
		sessions.WithPrefix(cfg.GetStoragePrefix()),
		sessions.WithDefaultHome(cfg.GetDefaultHomePath()),
	}
	if issuer := cfg.GetOIDCIssuer(); issuer != "" {
		storeOpts = append(storeOpts, sessions.WithVerifier(jwt.NewOIDCVerifier(issuer)))
	}
	if a.Store, err = sessions.NewStore(durable, storage.NewMemoryStore(), a.Bus, storeOpts...); err != nil {
		return nil, fmt.Errorf("[app New] session store: %w", err)
	}

	apiOpts := []api.Option{api.WithLogger(a.logger)}
	if deps.HTTPClient != nil {
		apiOpts = append(apiOpts, api.WithHTTPClient(deps.HTTPClient))
	}
	authClient := api.NewAuthClient(cfg.GetAPIBaseURL(), apiOpts...)

	a.Refresh, err = refresh.NewManager(a.Store, authClient, deps.Navigator,
		refresh.WithLogger(a.logger),
		refresh.WithLoginPath(cfg.GetLoginPath()),
		refresh.WithTimeout(cfg.GetRefreshTimeout()),
		refresh.WithMetrics(a.Metrics),
	)
	if err != nil {
		return nil, fmt.Errorf("[app New] refresh manager: %w", err)
	}
	a.Scheduler, err = refresh.NewScheduler(a.Refresh,
		refresh.WithInterval(cfg.GetRefreshInterval()),
		refresh.WithThreshold(cfg.GetRefreshThreshold()),
		refresh.WithSchedulerLogger(a.logger),
	)
	if err != nil {
		return nil, fmt.Errorf("[app New] refresh scheduler: %w", err)
	}

	permissionsClient := api.NewPermissionsClient(
		cfg.GetAPIBaseURL(),
		cfg.GetPermissionsEndpoint(),
		refresh.NewTokenSource(context.Background(), a.Refresh),
		a.Refresh,
		apiOpts...,
	)

	a.Cache, err = permissions.NewCache(durable, a.Store, a.Bus,
		permissions.WithKey(cfg.GetStoragePrefix()+"permissions_cache"),
		permissions.WithFreshFor(cfg.GetPermissionsFreshFor()),
		permissions.WithMaxAge(cfg.GetPermissionsMaxAge()),
		permissions.WithCacheLogger(a.logger),
		permissions.WithCacheMetrics(a.Metrics),
	)
	if err != nil {
		return nil, fmt.Errorf("[app New] permissions cache: %w", err)
	}
	controllerOpts := []permissions.ControllerOption{
		permissions.WithEntitlementKeywords(cfg.GetEntitlementKeywords()),
		permissions.WithLogger(a.logger),
		permissions.WithMetrics(a.Metrics),
	}
	if deps.OnPermissions != nil {
		controllerOpts = append(controllerOpts, permissions.WithOnChange(deps.OnPermissions))
	}
	if a.Permissions, err = permissions.NewController(a.Cache, permissionsClient, controllerOpts...); err != nil {
		return nil, fmt.Errorf("[app New] permissions controller: %w", err)
	}

	a.ForceLogout = notify.NewForceLogoutHandler(a.Store, deps.Navigator, deps.Alerter,
		notify.WithDelay(cfg.GetForceLogoutDelay()),
		notify.WithLoginPath(cfg.GetLoginPath()),
		notify.WithForceLogoutLogger(a.logger),
		notify.WithForceLogoutMetrics(a.Metrics),
	)
	a.Binder = notify.NewBinder(a.Store, a.Bus, a.newChannel, notify.WithBinderLogger(a.logger))

	if watcher, ok := durable.(storage.Watcher); ok {
		a.CrossTab = sessions.NewCrossTabWatcher(a.Store, watcher, deps.Navigator, cfg.GetLoginPath())
	}

	a.logger.Info().
		Str("backend", cfg.GetStorageBackend()).
		Str("api", cfg.GetAPIBaseURL()).
		Str("notifications", cfg.GetNotificationURL()).
		Msg("session services built")
	return a, nil
}

func (a *App) openDurable() (storage.Store, error) {
	switch backend := a.config.GetStorageBackend(); backend {
	case BackendFile:
		path := filepath.Join(a.config.GetDataFolder(), sessionFileName)
		return storage.OpenFileStore(path, storage.WithSealingKey(a.config.GetStorageKey()))
	case BackendRedis:
		client := a.deps.Redis
		if client == nil {
			c := redis.NewClient(&redis.Options{
				Addr:     a.config.GetRedisAddr(),
				Password: a.config.GetRedisPassword(),
				DB:       a.config.GetRedisDB(),
			})
			a.closeRedis = c.Close
			client = c
		}
		return storage.NewRedisStore(client, redisNamespace, storage.WithRedisLogger(a.logger)), nil
	case BackendMemory:
		return storage.NewMemoryStore(), nil
	default:
		return nil, errs.Wrapf(errs.ErrUnsupported, "storage backend %q", backend)
	}
}

// newChannel is the binder's channel factory. Server pushes are handed to the
// permission controller and the force-logout handler.
func (a *App) newChannel(token, userID string) *notify.Channel {
	ch := notify.NewChannel(a.config.GetNotificationURL(), token, userID,
		notify.WithReconnect(a.config.GetReconnectAttempts(), a.config.GetReconnectDelay()),
		notify.WithLogger(a.logger),
		notify.WithMetrics(a.Metrics),
	)
	ch.OnPermissionsChanged(func(e notify.PermissionsChangedEvent) {
		a.logger.Info().Str("action", e.Action).Strs("permissions", e.Permissions).Msg("permissions changed on server")
		a.goBackground(func(ctx context.Context) { a.Permissions.HandlePermissionsChanged(ctx) })
	})
	ch.OnRoleChanged(func(e notify.RoleChangedEvent) {
		a.logger.Info().Str("from", e.OldRole.String()).Str("to", e.NewRole.String()).Msg("role changed on server")
		a.goBackground(func(ctx context.Context) { a.Permissions.HandleRoleChanged(ctx) })
	})
	ch.OnForceLogout(func(e notify.ForceLogoutEvent) {
		a.ForceLogout.Handle(a.context(), e)
	})
	ch.OnConnectionChange(func(connected bool) {
		a.logger.Debug().Bool("connected", connected).Str("user", userID).Msg("notification channel")
	})
	return ch
}

func (a *App) context() context.Context {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ctx
}

// goBackground runs fn bound to the app context unless the app is closing.
func (a *App) goBackground(fn func(ctx context.Context)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	ctx := a.ctx
	a.bg.Add(1)
	go func() {
		defer a.bg.Done()
		fn(ctx)
	}()
}

// Init starts the permission controller, the cross-tab watcher, the
// notification binder and the refresh scheduler. A stored session gets its
// permissions resolved before Init returns.
func (a *App) Init(ctx context.Context) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return errors.New("[app Init] app is closed")
	}
	if a.started {
		a.mu.Unlock()
		return nil
	}
	a.ctx, a.cancel = context.WithCancel(ctx)
	a.started = true
	runCtx := a.ctx
	a.mu.Unlock()

	a.Permissions.Start(runCtx)
	if a.CrossTab != nil {
		if err := a.CrossTab.Start(runCtx); err != nil {
			return fmt.Errorf("[app Init] cross-tab watcher: %w", err)
		}
	}
	a.Binder.Follow(runCtx)
	a.Scheduler.Start(runCtx)

	if a.Store.IsAuthenticated(runCtx) {
		st := a.Permissions.Ensure(runCtx, false)
		a.logger.Info().Str("status", st.Status.String()).Int("permissions", len(st.Permissions)).Msg("session restored")
	}
	return nil
}

// Login stores a session obtained from the login endpoint. A different user
// than before triggers a permission refetch through the event bus.
func (a *App) Login(ctx context.Context, session sessions.Session, remember bool) error {
	if err := a.Store.Save(ctx, session, remember); err != nil {
		return fmt.Errorf("[app Login] %w", err)
	}
	return nil
}

// Logout ends the session, keeping the remembered email when asked to.
func (a *App) Logout(ctx context.Context) error {
	if err := a.Store.Clear(ctx, sessions.ClearLogout); err != nil {
		return fmt.Errorf("[app Logout] %w", err)
	}
	return nil
}

// Reset clears all auth data and the materialized permission state.
func (a *App) Reset(ctx context.Context) error {
	if err := a.Store.Clear(ctx, sessions.ClearFull); err != nil {
		return fmt.Errorf("[app Reset] %w", err)
	}
	a.Permissions.Drop()
	return nil
}

// Close stops everything in reverse start order. It is safe to call twice.
func (a *App) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.mu.Unlock()

	a.Scheduler.Stop()
	a.Binder.Close()
	if a.CrossTab != nil {
		a.CrossTab.Stop()
	}
	a.Permissions.Stop()
	a.ForceLogout.Stop()
	a.cancel()
	a.bg.Wait()

	if a.closeRedis != nil {
		if err := a.closeRedis(); err != nil {
			return fmt.Errorf("[app Close] redis: %w", err)
		}
	}
	a.logger.Info().Msg("session services stopped")
	return nil
}

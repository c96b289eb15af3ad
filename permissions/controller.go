package permissions

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/jrsteele09/go-crm-session/api"
	"github.com/jrsteele09/go-crm-session/events"
	errs "github.com/jrsteele09/go-crm-session/internal/errors"
	"github.com/jrsteele09/go-crm-session/metrics"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultEntitlementKeywords mark an error message as an entitlement refusal.
var DefaultEntitlementKeywords = []string{"subscription"}

const controllerSource = "permissions-controller"

// Fetcher loads the logged-in user's permissions from the backend.
type Fetcher interface {
	MyPermissions(ctx context.Context) (*api.PermissionsResponse, error)
}

// Status is what the UI should show for the permission set.
type Status int

const (
	Loading Status = iota
	Ready
	// NoAccess means the backend refused for entitlement reasons.
	NoAccess
	Error
)

func (s Status) String() string {
	switch s {
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	case NoAccess:
		return "no-access"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// State is the materialized permission set.
type State struct {
	Status      Status
	Permissions []string
	Role        string
	// Stale is set when Permissions came from an old cache entry.
	Stale bool
	Err   error
}

// Controller reconciles the permission set seen by the UI with the cache and
// the backend.
type Controller struct {
	cache    *Cache
	fetcher  Fetcher
	identity Identity
	bus      *events.Bus
	breaker  *Breaker
	keywords []string
	metrics  *metrics.Metrics
	logger   zerolog.Logger
	onChange func(State)

	mu    sync.RWMutex
	state State
	set   map[string]struct{}
	gen   uint64

	life        sync.Mutex
	ctx         context.Context
	cancel      context.CancelFunc
	stopped     bool
	unsubscribe []func()
	bg          sync.WaitGroup
	bgRefresh   atomic.Bool
}

// ControllerOption defines a function type to modify the Controller instance.
type ControllerOption func(*Controller)

// WithEntitlementKeywords replaces the keywords that classify an error as an
// entitlement refusal.
func WithEntitlementKeywords(keywords []string) ControllerOption {
	return func(c *Controller) {
		c.keywords = keywords
	}
}

func WithLogger(logger zerolog.Logger) ControllerOption {
	return func(c *Controller) {
		c.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) ControllerOption {
	return func(c *Controller) {
		c.metrics = m
	}
}

// WithOnChange registers a callback run after every state change.
func WithOnChange(fn func(State)) ControllerOption {
	return func(c *Controller) {
		c.onChange = fn
	}
}

// WithBreaker shares a breaker, mostly so tests can inspect it.
func WithBreaker(b *Breaker) ControllerOption {
	return func(c *Controller) {
		c.breaker = b
	}
}

func NewController(cache *Cache, fetcher Fetcher, options ...ControllerOption) (*Controller, error) {
	if cache == nil {
		return nil, errors.New("[NewController] permissions cache is required")
	}
	if fetcher == nil {
		return nil, errors.New("[NewController] fetcher is required")
	}
	c := &Controller{
		cache:    cache,
		fetcher:  fetcher,
		identity: cache.identity,
		bus:      cache.bus,
		keywords: DefaultEntitlementKeywords,
		logger:   log.Logger,
	}
	for _, opt := range options {
		opt(c)
	}
	if c.breaker == nil {
		c.breaker = NewBreaker(cache.nowFunc)
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	return c, nil
}

// Breaker returns the fetch circuit breaker.
func (c *Controller) Breaker() *Breaker {
	return c.breaker
}

// State returns a copy of the current state.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	st := c.state
	st.Permissions = append([]string(nil), c.state.Permissions...)
	return st
}

// Ensure makes the permission set current. A forced call skips the cache and
// the breaker and asks the backend once. Otherwise nothing happens while the
// breaker is open, a fresh cache entry is used as is, a stale one is used and
// refreshed in the background, and without one the backend is asked
// synchronously.
func (c *Controller) Ensure(ctx context.Context, force bool) State {
	if force {
		return c.fetch(ctx, false)
	}
	if c.breaker.IsOpen() {
		c.logger.Debug().Msg("permission fetch suppressed, breaker open")
		return c.State()
	}

	if lookup, ok := c.cache.Read(ctx); ok {
		c.apply(c.generation(), State{
			Status:      Ready,
			Permissions: lookup.Entry.Permissions,
			Role:        lookup.Entry.Role,
			Stale:       lookup.State == Stale,
		})
		if lookup.State == Stale {
			c.refreshInBackground()
		}
		return c.State()
	}
	return c.fetch(ctx, false)
}

// Retry is the user's explicit retry: it closes the breaker and fetches once.
func (c *Controller) Retry(ctx context.Context) State {
	c.breaker.Reset(ResetExplicitRetry)
	return c.fetch(ctx, false)
}

// Refetch drops the cache and fetches synchronously.
func (c *Controller) Refetch(ctx context.Context, trigger ResetTrigger) State {
	if err := c.cache.Invalidate(ctx, controllerSource); err != nil {
		c.logger.Warn().Err(err).Msg("permissions cache invalidation failed")
	}
	if c.breaker.Reset(trigger) {
		c.logger.Info().Str("trigger", string(trigger)).Msg("permission fetch breaker closed")
	}
	return c.fetch(ctx, false)
}

// HandlePermissionsChanged reacts to a pushed permissions-changed event.
func (c *Controller) HandlePermissionsChanged(ctx context.Context) State {
	c.logger.Info().Msg("server reported permission change")
	return c.Refetch(ctx, ResetServerPush)
}

// HandleRoleChanged reacts to a pushed role-changed event.
func (c *Controller) HandleRoleChanged(ctx context.Context) State {
	c.logger.Info().Msg("server reported role change")
	return c.Refetch(ctx, ResetServerPush)
}

// Start subscribes to identity and cache events. Work triggered by events
// runs in the background and is bound to ctx.
func (c *Controller) Start(ctx context.Context) {
	c.life.Lock()
	defer c.life.Unlock()
	if len(c.unsubscribe) > 0 {
		return
	}
	c.cancel()
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.stopped = false

	c.unsubscribe = []func(){
		events.Subscribe(c.bus, func(e events.UserChanged) {
			c.drop()
			c.spawn(func(ctx context.Context) { c.Refetch(ctx, ResetUserChanged) })
		}),
		events.Subscribe(c.bus, func(e events.TenantChanged) {
			c.drop()
			c.spawn(func(ctx context.Context) { c.Refetch(ctx, ResetTenantChanged) })
		}),
		events.Subscribe(c.bus, func(e events.PermissionsCacheInvalidated) {
			if e.Source == controllerSource {
				return
			}
			c.spawn(func(ctx context.Context) {
				c.breaker.Reset(ResetCacheInvalidated)
				c.fetch(ctx, false)
			})
		}),
		events.Subscribe(c.bus, func(events.AuthCleared) {
			c.drop()
		}),
	}
}

// Stop unsubscribes and waits for background fetches.
func (c *Controller) Stop() {
	c.life.Lock()
	for _, unsub := range c.unsubscribe {
		unsub()
	}
	c.unsubscribe = nil
	c.stopped = true
	c.cancel()
	c.life.Unlock()

	c.bg.Wait()
}

// Drop forgets the materialized set. Queries fail closed until the next fetch.
func (c *Controller) Drop() {
	c.drop()
}

func (c *Controller) HasPermission(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.set == nil {
		return false
	}
	_, ok := c.set[name]
	return ok
}

func (c *Controller) HasAny(names ...string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.set == nil {
		return false
	}
	for _, n := range names {
		if _, ok := c.set[n]; ok {
			return true
		}
	}
	return false
}

func (c *Controller) HasAll(names ...string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.set == nil || len(names) == 0 {
		return false
	}
	for _, n := range names {
		if _, ok := c.set[n]; !ok {
			return false
		}
	}
	return true
}

func (c *Controller) fetch(ctx context.Context, background bool) State {
	gen := c.generation()
	userID, tenantID := c.identity.UserID(ctx), c.identity.TenantID(ctx)
	if userID == "" {
		c.apply(gen, State{Status: Error, Err: errs.Wrapf(errs.ErrNotAuthenticated, "[Controller fetch]")})
		return c.State()
	}
	if !background {
		c.setLoading(gen)
	}

	resp, err := c.fetcher.MyPermissions(ctx)
	if err != nil {
		c.fail(ctx, gen, err, background)
		return c.State()
	}
	if c.generation() != gen {
		c.logger.Debug().Msg("discarding permissions fetched for a previous identity")
		return c.State()
	}

	if _, err := c.cache.DiffAndWrite(ctx, resp.Names, resp.Role, tenantID, userID); err != nil {
		c.logger.Warn().Err(err).Msg("permissions cache write failed")
	}
	c.breaker.Reset(ResetFetchSucceeded)
	c.metrics.Fetch("success")
	c.apply(gen, State{Status: Ready, Permissions: resp.Names, Role: resp.Role})
	return c.State()
}

func (c *Controller) fail(ctx context.Context, gen uint64, err error, background bool) {
	if c.IsEntitlementError(err) {
		// No invalidation event here, it would reset the breakers of other consumers.
		if c.generation() == gen {
			c.cache.discard(ctx)
		}
		c.breaker.Trip(err.Error())
		c.metrics.Fetch("no_access")
		c.logger.Warn().Err(err).Msg("permissions refused, automatic fetches suspended")
		c.apply(gen, State{
			Status:      NoAccess,
			Permissions: []string{},
			Err:         fmt.Errorf("%w: %w", errs.ErrNoAccess, err),
		})
		return
	}

	if background {
		c.metrics.Fetch("error")
		c.logger.Warn().Err(err).Msg("background permissions refresh failed, keeping cached set")
		return
	}

	if entry, ok := c.cache.ReadExpired(ctx); ok {
		c.metrics.Fetch("stale_fallback")
		c.logger.Warn().Err(err).Msg("permissions fetch failed, using last cached set")
		c.apply(gen, State{
			Status:      Ready,
			Permissions: entry.Permissions,
			Role:        entry.Role,
			Stale:       true,
			Err:         err,
		})
		return
	}

	c.metrics.Fetch("error")
	c.logger.Error().Err(err).Msg("permissions fetch failed")
	c.apply(gen, State{Status: Error, Err: fmt.Errorf("%w: %w", errs.ErrPermissionsFailed, err)})
}

// IsEntitlementError reports whether err means the user is not entitled to
// the application, as opposed to a transient failure.
func (c *Controller) IsEntitlementError(err error) bool {
	var se *api.StatusError
	if errs.As(err, &se) && (se.StatusCode == http.StatusPaymentRequired || se.StatusCode == http.StatusForbidden) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, k := range c.keywords {
		if k != "" && strings.Contains(msg, strings.ToLower(k)) {
			return true
		}
	}
	return false
}

func (c *Controller) refreshInBackground() {
	if !c.bgRefresh.CompareAndSwap(false, true) {
		return
	}
	if !c.spawn(func(ctx context.Context) {
		defer c.bgRefresh.Store(false)
		c.fetch(ctx, true)
	}) {
		c.bgRefresh.Store(false)
	}
}

func (c *Controller) spawn(fn func(ctx context.Context)) bool {
	c.life.Lock()
	if c.stopped {
		c.life.Unlock()
		return false
	}
	ctx := c.ctx
	c.bg.Add(1)
	c.life.Unlock()

	go func() {
		defer c.bg.Done()
		fn(ctx)
	}()
	return true
}

func (c *Controller) generation() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.gen
}

// apply replaces the state unless the identity changed since gen was read.
func (c *Controller) apply(gen uint64, st State) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.state = st
	c.set = nil
	if st.Status == Ready || st.Status == NoAccess {
		c.set = make(map[string]struct{}, len(st.Permissions))
		for _, p := range st.Permissions {
			c.set[p] = struct{}{}
		}
	}
	c.mu.Unlock()
	c.notify(st)
}

func (c *Controller) setLoading(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.state.Status == Loading {
		c.mu.Unlock()
		return
	}
	c.state.Status = Loading
	st := c.state
	c.mu.Unlock()
	c.notify(st)
}

func (c *Controller) drop() {
	c.mu.Lock()
	c.gen++
	c.state = State{Status: Loading}
	c.set = nil
	c.mu.Unlock()
	c.notify(State{Status: Loading})
}

func (c *Controller) notify(st State) {
	if c.onChange != nil {
		c.onChange(st)
	}
}

package permissions

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/jrsteele09/go-crm-session/events"
	errs "github.com/jrsteele09/go-crm-session/internal/errors"
	"github.com/jrsteele09/go-crm-session/internal/utils"
	"github.com/jrsteele09/go-crm-session/metrics"
	"github.com/jrsteele09/go-crm-session/storage"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Identity reports who is logged in. *sessions.Store satisfies it.
type Identity interface {
	UserID(ctx context.Context) string
	TenantID(ctx context.Context) string
}

// Cache stores the permission set in the durable scope. Entries are only
// handed out to the user and tenant they were written for.
type Cache struct {
	store    storage.Store
	identity Identity
	bus      *events.Bus
	key      string
	freshFor time.Duration
	maxAge   time.Duration
	nowFunc  func() time.Time
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

// CacheOption defines a function type to modify the Cache instance.
type CacheOption func(*Cache)

// WithKey sets the storage key of the entry.
func WithKey(key string) CacheOption {
	return func(c *Cache) {
		if key != "" {
			c.key = key
		}
	}
}

// WithFreshFor sets the age after which an entry is stale.
func WithFreshFor(d time.Duration) CacheOption {
	return func(c *Cache) {
		if d > 0 {
			c.freshFor = d
		}
	}
}

// WithMaxAge sets the age after which an entry is no longer served.
func WithMaxAge(d time.Duration) CacheOption {
	return func(c *Cache) {
		if d > 0 {
			c.maxAge = d
		}
	}
}

// WithNowFunc sets the now time function (primarily for testing)
func WithNowFunc(now func() time.Time) CacheOption {
	return func(c *Cache) {
		c.nowFunc = now
	}
}

func WithCacheLogger(logger zerolog.Logger) CacheOption {
	return func(c *Cache) {
		c.logger = logger
	}
}

func WithCacheMetrics(m *metrics.Metrics) CacheOption {
	return func(c *Cache) {
		c.metrics = m
	}
}

func NewCache(store storage.Store, identity Identity, bus *events.Bus, options ...CacheOption) (*Cache, error) {
	if store == nil {
		return nil, errors.New("[NewCache] storage is required")
	}
	if identity == nil {
		return nil, errors.New("[NewCache] identity is required")
	}
	if bus == nil {
		return nil, errors.New("[NewCache] event bus is required")
	}
	c := &Cache{
		store:    store,
		identity: identity,
		bus:      bus,
		key:      DefaultCacheKey,
		freshFor: DefaultFreshFor,
		maxAge:   DefaultMaxAge,
		nowFunc:  time.Now,
		logger:   log.Logger,
	}
	for _, opt := range options {
		opt(c)
	}
	return c, nil
}

// Key returns the storage key of the entry.
func (c *Cache) Key() string {
	return c.key
}

// Write overwrites the entry.
func (c *Cache) Write(ctx context.Context, permissions []string, role, tenantID, userID string) error {
	entry := Entry{
		Permissions: utils.UniqueSorted(permissions),
		Role:        strings.TrimSpace(role),
		TenantID:    tenantID,
		UserID:      userID,
		Timestamp:   c.nowFunc().UnixMilli(),
		Version:     SchemaVersion,
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return errs.Wrapf(err, "[Cache Write] encode")
	}
	if err := c.store.Set(ctx, c.key, string(data)); err != nil {
		return errs.Wrapf(err, "[Cache Write]")
	}
	return nil
}

// load returns the stored entry if it has the current schema. Entries with
// another schema or that cannot be decoded are removed.
func (c *Cache) load(ctx context.Context) (*Entry, bool) {
	raw, ok, err := c.store.Get(ctx, c.key)
	if err != nil {
		c.logger.Warn().Err(err).Msg("permissions cache read failed")
		return nil, false
	}
	if !ok || raw == "" {
		return nil, false
	}

	var entry Entry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		c.logger.Warn().Err(err).Msg("discarding undecodable permissions cache")
		c.discard(ctx)
		return nil, false
	}
	if entry.Version != SchemaVersion {
		c.logger.Debug().Int("version", entry.Version).Msg(errs.ErrCacheVersion.Error())
		c.discard(ctx)
		return nil, false
	}
	return &entry, true
}

// current is load plus the identity check. Entries of another user or tenant
// are removed.
func (c *Cache) current(ctx context.Context) (*Entry, bool) {
	entry, ok := c.load(ctx)
	if !ok {
		return nil, false
	}
	userID, tenantID := c.identity.UserID(ctx), c.identity.TenantID(ctx)
	if !entry.belongsTo(userID, tenantID) {
		c.logger.Debug().
			Str("cachedUser", entry.UserID).Str("cachedTenant", entry.TenantID).
			Str("user", userID).Str("tenant", tenantID).
			Msg("permissions cache belongs to another identity")
		c.discard(ctx)
		return nil, false
	}
	return entry, true
}

func (c *Cache) discard(ctx context.Context) {
	if err := c.store.Delete(ctx, c.key); err != nil {
		c.logger.Warn().Err(err).Msg("permissions cache delete failed")
	}
}

// Read returns the entry when it belongs to the live session and is younger
// than the max age. Entries past the max age are left in place for
// ReadExpired.
func (c *Cache) Read(ctx context.Context) (Lookup, bool) {
	entry, ok := c.current(ctx)
	if !ok {
		c.metrics.CacheLookup("miss")
		return Lookup{}, false
	}
	age := entry.Age(c.nowFunc())
	switch {
	case age > c.maxAge:
		c.metrics.CacheLookup("expired")
		return Lookup{}, false
	case age > c.freshFor:
		c.metrics.CacheLookup("stale")
		return Lookup{Entry: entry, State: Stale}, true
	default:
		c.metrics.CacheLookup("fresh")
		return Lookup{Entry: entry, State: Fresh}, true
	}
}

// ReadExpired returns the last entry of the live session whatever its age.
func (c *Cache) ReadExpired(ctx context.Context) (*Entry, bool) {
	return c.current(ctx)
}

// DiffAndWrite stores the new set and announces what changed relative to the
// previous entry of the same identity. It returns nil when nothing changed.
func (c *Cache) DiffAndWrite(ctx context.Context, permissions []string, role, tenantID, userID string) (*Delta, error) {
	var previous []string
	if entry, ok := c.load(ctx); ok && entry.belongsTo(userID, tenantID) {
		previous = entry.Permissions
	}
	if err := c.Write(ctx, permissions, role, tenantID, userID); err != nil {
		return nil, err
	}

	next := utils.UniqueSorted(permissions)
	delta := Diff(previous, next)
	if !delta.Changed {
		return nil, nil
	}
	c.logger.Info().
		Strs("added", delta.Added).Strs("removed", delta.Removed).
		Msg("permissions changed")
	c.bus.Publish(events.PermissionsChanged{
		Added:       delta.Added,
		Removed:     delta.Removed,
		Permissions: next,
		Previous:    utils.UniqueSorted(previous),
		Role:        strings.TrimSpace(role),
	})
	return &delta, nil
}

// Invalidate removes the entry and tells other consumers to refetch. source
// identifies the caller so it can ignore its own announcement.
func (c *Cache) Invalidate(ctx context.Context, source string) error {
	if err := c.store.Delete(ctx, c.key); err != nil {
		return errs.Wrapf(err, "[Cache Invalidate]")
	}
	c.bus.Publish(events.PermissionsCacheInvalidated{Source: source})
	return nil
}

// Stats describes the stored entry without touching it.
func (c *Cache) Stats(ctx context.Context) Stats {
	raw, ok, err := c.store.Get(ctx, c.key)
	if err != nil || !ok || raw == "" {
		return Stats{}
	}
	s := Stats{Exists: true, Size: len(raw)}
	var entry Entry
	if json.Unmarshal([]byte(raw), &entry) != nil {
		return s
	}
	age := entry.Age(c.nowFunc())
	s.AgeSeconds = int64(age / time.Second)
	s.Role = entry.Role
	s.Valid = entry.Version == SchemaVersion && age <= c.maxAge &&
		entry.belongsTo(c.identity.UserID(ctx), c.identity.TenantID(ctx))
	s.Stale = s.Valid && age > c.freshFor
	return s
}

// Package sessions owns the session record: the access and refresh tokens and
// the user snapshot, persisted in a durable or an ephemeral scope depending
// on the user's "remember me" choice.
package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/jrsteele09/go-crm-session/events"
	errs "github.com/jrsteele09/go-crm-session/internal/errors"
	"github.com/jrsteele09/go-crm-session/storage"
	"github.com/jrsteele09/go-crm-session/token/jwt"
	"github.com/jrsteele09/go-crm-session/users"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	defaultPrefix   = "crm_"
	defaultHomePage = "/dashboard"
	verifyTimeout   = 5 * time.Second
)

// Store is the single reader and writer of the session record.
type Store struct {
	durable     storage.Store
	ephemeral   storage.Store
	bus         *events.Bus
	keys        Keys
	verifier    jwt.Verifier
	defaultHome string
	logger      zerolog.Logger
	nowFunc     func() time.Time

	mu sync.Mutex // serializes writers
}

// StoreOption defines a function type to modify the Store instance.
type StoreOption func(*Store)

func WithLogger(logger zerolog.Logger) StoreOption {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithNowFunc sets the now time function (primarily for testing)
func WithNowFunc(now func() time.Time) StoreOption {
	return func(s *Store) {
		s.nowFunc = now
	}
}

// WithPrefix sets the application key prefix.
func WithPrefix(prefix string) StoreOption {
	return func(s *Store) {
		s.keys = NewKeys(prefix)
	}
}

// WithVerifier checks access-token signatures on save. Failures are logged.
func WithVerifier(v jwt.Verifier) StoreOption {
	return func(s *Store) {
		s.verifier = v
	}
}

// WithDefaultHome sets the home page used when no preference is stored.
func WithDefaultHome(path string) StoreOption {
	return func(s *Store) {
		s.defaultHome = path
	}
}

// NewStore builds a Store over the two scopes.
func NewStore(durable, ephemeral storage.Store, bus *events.Bus, options ...StoreOption) (*Store, error) {
	if durable == nil {
		return nil, errors.New("[NewStore] durable storage is required")
	}
	if ephemeral == nil {
		return nil, errors.New("[NewStore] ephemeral storage is required")
	}
	if bus == nil {
		return nil, errors.New("[NewStore] event bus is required")
	}

	s := &Store{
		durable:     durable,
		ephemeral:   ephemeral,
		bus:         bus,
		keys:        NewKeys(defaultPrefix),
		defaultHome: defaultHomePage,
		logger:      log.Logger,
		nowFunc:     time.Now,
	}
	for _, opt := range options {
		opt(s)
	}
	return s, nil
}

// Keys returns the storage keys in use.
func (s *Store) Keys() Keys {
	return s.keys
}

// Durable returns the durable scope.
func (s *Store) Durable() storage.Store {
	return s.durable
}

// Save writes the session into the scope chosen by remember and empties the
// other scope. The access token is decoded only to log problems; the server
// remains the judge of its validity, so the record is written regardless.
func (s *Store) Save(ctx context.Context, session Session, remember bool) error {
	if !session.Complete() {
		return errs.Wrapf(errs.ErrSessionIncomplete, "[Store Save]")
	}
	s.inspect(ctx, session.AccessToken)

	userJSON, err := json.Marshal(session.User)
	if err != nil {
		return errs.Wrapf(err, "[Store Save] encode user")
	}

	s.mu.Lock()
	previous := s.User(ctx)

	target, other := s.ephemeral, s.durable
	if remember {
		target, other = s.durable, s.ephemeral
	}

	writes := []struct{ key, value string }{
		{s.keys.Token, session.AccessToken},
		{s.keys.RefreshToken, session.RefreshToken},
		{s.keys.User, string(userJSON)},
	}
	for _, w := range writes {
		if err := target.Set(ctx, w.key, w.value); err != nil {
			s.mu.Unlock()
			return errs.Wrapf(err, "[Store Save] write %s", w.key)
		}
	}
	if err := other.Delete(ctx, s.keys.session()...); err != nil {
		s.mu.Unlock()
		return errs.Wrapf(err, "[Store Save] clear other scope")
	}
	if err := s.writeRemember(ctx, remember, session.User.Email); err != nil {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	s.bus.Publish(events.StorageChanged{Key: s.keys.Token})
	if !previous.SameIdentity(session.User) {
		s.bus.Publish(events.UserChanged{UserID: session.User.ID, TenantID: session.User.TenantID})
	}
	return nil
}

func (s *Store) writeRemember(ctx context.Context, remember bool, email string) error {
	flag := "false"
	if remember {
		flag = "true"
	}
	if err := s.durable.Set(ctx, s.keys.RememberMe, flag); err != nil {
		return errs.Wrapf(err, "[Store Save] write remember flag")
	}
	if remember && email != "" {
		if err := s.durable.Set(ctx, s.keys.SavedEmail, email); err != nil {
			return errs.Wrapf(err, "[Store Save] write saved email")
		}
		return nil
	}
	if err := s.durable.Delete(ctx, s.keys.SavedEmail); err != nil {
		return errs.Wrapf(err, "[Store Save] clear saved email")
	}
	return nil
}

func (s *Store) inspect(ctx context.Context, accessToken string) {
	claims, err := jwt.Decode(accessToken)
	if err != nil {
		s.logger.Warn().Err(err).Msg("saving access token that could not be decoded")
		return
	}
	s.logger.Debug().Str("sub", claims.Subject).Time("exp", claims.ExpiresAt).Msg("saving session")

	if s.verifier == nil {
		return
	}
	vctx, cancel := context.WithTimeout(ctx, verifyTimeout)
	defer cancel()
	if err := s.verifier.Verify(vctx, accessToken); err != nil {
		s.logger.Warn().Err(err).Msg("access token signature could not be verified")
	}
}

// read returns key from the durable scope, falling back to the ephemeral one.
// Storage errors are logged and read as absent.
func (s *Store) read(ctx context.Context, key string) string {
	for _, scope := range []storage.Store{s.durable, s.ephemeral} {
		v, ok, err := scope.Get(ctx, key)
		if err != nil {
			s.logger.Warn().Err(err).Str("key", key).Msg("storage read failed")
			continue
		}
		if ok && v != "" {
			return v
		}
	}
	return ""
}

// Token returns the access token, or "" when none is stored.
func (s *Store) Token(ctx context.Context) string {
	return s.read(ctx, s.keys.Token)
}

// RefreshToken returns the refresh token, or "" when none is stored.
func (s *Store) RefreshToken(ctx context.Context) string {
	return s.read(ctx, s.keys.RefreshToken)
}

// User returns the stored user snapshot with its role normalized, or nil.
func (s *Store) User(ctx context.Context) *users.User {
	raw := s.read(ctx, s.keys.User)
	if raw == "" {
		return nil
	}
	var u users.User
	if err := json.Unmarshal([]byte(raw), &u); err != nil {
		s.logger.Warn().Err(err).Msg("stored user could not be decoded")
		return nil
	}
	return &u
}

// Session returns the full record, or nil when any part is missing.
func (s *Store) Session(ctx context.Context) *Session {
	session := Session{
		AccessToken:  s.Token(ctx),
		RefreshToken: s.RefreshToken(ctx),
		User:         s.User(ctx),
	}
	if !session.Complete() {
		return nil
	}
	return &session
}

// Remember reports the durable "remember me" flag.
func (s *Store) Remember(ctx context.Context) bool {
	v, ok, err := s.durable.Get(ctx, s.keys.RememberMe)
	if err != nil {
		s.logger.Warn().Err(err).Msg("remember flag read failed")
		return false
	}
	return ok && v == "true"
}

// SavedEmail returns the email remembered for login prefill.
func (s *Store) SavedEmail(ctx context.Context) string {
	v, _, err := s.durable.Get(ctx, s.keys.SavedEmail)
	if err != nil {
		s.logger.Warn().Err(err).Msg("saved email read failed")
		return ""
	}
	return v
}

// UserID is the id of the stored user, or "".
func (s *Store) UserID(ctx context.Context) string {
	if u := s.User(ctx); u != nil {
		return u.ID
	}
	return ""
}

// TenantID is the tenant of the stored user, falling back to the tenant
// claim of the access token.
func (s *Store) TenantID(ctx context.Context) string {
	if u := s.User(ctx); u != nil && u.TenantID != "" {
		return u.TenantID
	}
	if claims := s.DecodedToken(ctx); claims != nil {
		return claims.TenantID
	}
	return ""
}

// SetTenant switches the active tenant of the stored user and announces it.
func (s *Store) SetTenant(ctx context.Context, tenantID string) error {
	s.mu.Lock()
	u := s.User(ctx)
	if u == nil {
		s.mu.Unlock()
		return errs.Wrapf(errs.ErrNotAuthenticated, "[Store SetTenant]")
	}
	if u.TenantID == tenantID {
		s.mu.Unlock()
		return nil
	}
	u.TenantID = tenantID
	data, err := json.Marshal(u)
	if err != nil {
		s.mu.Unlock()
		return errs.Wrapf(err, "[Store SetTenant] encode user")
	}

	target := s.ephemeral
	if s.Remember(ctx) {
		target = s.durable
	}
	if err := target.Set(ctx, s.keys.User, string(data)); err != nil {
		s.mu.Unlock()
		return errs.Wrapf(err, "[Store SetTenant] write user")
	}
	s.mu.Unlock()

	s.bus.Publish(events.TenantChanged{TenantID: tenantID})
	return nil
}

// HomePage returns the remembered landing page.
func (s *Store) HomePage(ctx context.Context) string {
	v, ok, err := s.durable.Get(ctx, s.keys.HomePage)
	if err != nil || !ok || v == "" {
		return s.defaultHome
	}
	return v
}

// SetHomePage remembers the landing page for the next login.
func (s *Store) SetHomePage(ctx context.Context, path string) error {
	return s.durable.Set(ctx, s.keys.HomePage, path)
}

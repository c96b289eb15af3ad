package notify

import (
	"context"
	"sync"

	"github.com/jrsteele09/go-crm-session/events"
	"github.com/jrsteele09/go-crm-session/sessions"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ChannelFactory builds an unconnected channel for token. Callbacks are
// registered on it before it is connected.
type ChannelFactory func(token, userID string) *Channel

// Binder keeps exactly one channel open for the current access token. The
// token value is the binding key: binding the same token again does nothing,
// a new token replaces the channel and an empty one closes it.
type Binder struct {
	store      *sessions.Store
	bus        *events.Bus
	newChannel ChannelFactory
	logger     zerolog.Logger

	mu    sync.Mutex
	ctx   context.Context
	token string
	ch    *Channel
	unsub []func()
}

// BinderOption defines a function type to modify the Binder instance.
type BinderOption func(*Binder)

func WithBinderLogger(logger zerolog.Logger) BinderOption {
	return func(b *Binder) {
		b.logger = logger
	}
}

func NewBinder(store *sessions.Store, bus *events.Bus, factory ChannelFactory, options ...BinderOption) *Binder {
	b := &Binder{
		store:      store,
		bus:        bus,
		newChannel: factory,
		logger:     log.Logger,
		ctx:        context.Background(),
	}
	for _, opt := range options {
		opt(b)
	}
	return b
}

// Bind makes token the bound token.
func (b *Binder) Bind(token string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if token == b.token {
		return
	}
	if b.ch != nil {
		b.logger.Debug().Msg("access token changed, closing notification channel")
		b.ch.Close()
		b.ch = nil
	}
	b.token = token
	if token == "" {
		return
	}

	b.ch = b.newChannel(token, b.store.UserID(b.ctx))
	b.ch.Connect(b.ctx)
}

// Current returns the bound channel, or nil.
func (b *Binder) Current() *Channel {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ch
}

// Follow binds the stored token now and again whenever it is written or the
// session is cleared. Channels are tied to ctx.
func (b *Binder) Follow(ctx context.Context) {
	b.mu.Lock()
	b.ctx = ctx
	tokenKey := b.store.Keys().Token
	b.unsub = append(b.unsub,
		events.Subscribe(b.bus, func(e events.StorageChanged) {
			if e.Key == tokenKey {
				b.Bind(b.store.Token(ctx))
			}
		}),
		events.Subscribe(b.bus, func(events.AuthCleared) {
			b.Bind(b.store.Token(ctx))
		}),
	)
	b.mu.Unlock()

	b.Bind(b.store.Token(ctx))
}

// Close stops following and closes the channel, waiting for it to finish.
func (b *Binder) Close() {
	b.mu.Lock()
	for _, unsub := range b.unsub {
		unsub()
	}
	b.unsub = nil
	ch := b.ch
	b.ch = nil
	b.token = ""
	b.mu.Unlock()

	if ch != nil {
		ch.Close()
		<-ch.Done()
	}
}

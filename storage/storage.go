// Package storage provides the two key/value scopes session data lives in:
// a durable scope that survives restarts and an ephemeral one that lives as
// long as the process.
package storage

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Store is a string key/value area.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, keys ...string) error
	Keys(ctx context.Context) ([]string, error)
}

// Change describes one write to a store.
type Change struct {
	Key     string `json:"key"`
	Value   string `json:"value,omitempty"`
	Deleted bool   `json:"deleted,omitempty"`
	Origin  string `json:"origin"`
}

// Watcher is implemented by stores that can report their writes. Origin is
// the id stamped on changes made through this instance, so a consumer can
// tell its own writes apart from another process sharing the same backend.
type Watcher interface {
	Watch(ctx context.Context) (<-chan Change, error)
	Origin() string
}

const watchBuffer = 64

// feed fans local changes out to watchers.
type feed struct {
	origin string
	mu     sync.Mutex
	subs   map[chan Change]struct{}
}

func newFeed() *feed {
	return &feed{
		origin: uuid.New().String(),
		subs:   make(map[chan Change]struct{}),
	}
}

func (f *feed) watch(ctx context.Context) <-chan Change {
	ch := make(chan Change, watchBuffer)
	f.mu.Lock()
	f.subs[ch] = struct{}{}
	f.mu.Unlock()

	go func() {
		<-ctx.Done()
		f.mu.Lock()
		delete(f.subs, ch)
		f.mu.Unlock()
		close(ch)
	}()
	return ch
}

func (f *feed) emit(c Change) {
	c.Origin = f.origin
	f.mu.Lock()
	defer f.mu.Unlock()
	for ch := range f.subs {
		select {
		case ch <- c:
		default:
		}
	}
}

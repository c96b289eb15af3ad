package sessions

import (
	"context"
	"sync"

	"github.com/jrsteele09/go-crm-session/storage"
	"github.com/rs/zerolog"
)

// CrossTabWatcher sends the user to login when another process sharing the
// durable store removes the access token.
type CrossTabWatcher struct {
	watcher     storage.Watcher
	keys        Keys
	navigator   Navigator
	loginPath   string
	publicPaths []string
	logger      zerolog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewCrossTabWatcher(store *Store, watcher storage.Watcher, navigator Navigator, loginPath string) *CrossTabWatcher {
	if loginPath == "" {
		loginPath = "/login"
	}
	return &CrossTabWatcher{
		watcher:   watcher,
		keys:      store.keys,
		navigator: navigator,
		loginPath: loginPath,
		logger:    store.logger,
	}
}

// Start begins consuming the change feed until Stop or ctx ends.
func (w *CrossTabWatcher) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	changes, err := w.watcher.Watch(ctx)
	if err != nil {
		cancel()
		return err
	}
	w.cancel = cancel

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for c := range changes {
			w.Handle(c)
		}
	}()
	return nil
}

// Handle applies one change. It is exported so hosts with their own change
// source can drive the watcher directly.
func (w *CrossTabWatcher) Handle(c storage.Change) {
	if c.Key != w.keys.Token || !c.Deleted || c.Origin == w.watcher.Origin() {
		return
	}
	if IsPublicPath(w.navigator.CurrentPath(), w.publicPaths) {
		return
	}
	w.logger.Info().Str("origin", c.Origin).Msg("session ended in another process")
	w.navigator.Navigate(w.loginPath)
}

func (w *CrossTabWatcher) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}

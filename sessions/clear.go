package sessions

import (
	"context"

	"github.com/jrsteele09/go-crm-session/events"
	errs "github.com/jrsteele09/go-crm-session/internal/errors"
	"github.com/jrsteele09/go-crm-session/storage"
)

// Clear removes session data at the granularity given by mode. ClearFull and
// ClearLogout announce AuthCleared so other services can reset.
func (s *Store) Clear(ctx context.Context, mode ClearMode) error {
	if mode == ClearSessionOnly {
		if !s.Remember(ctx) {
			return s.Clear(ctx, ClearFull)
		}
		s.mu.Lock()
		err := s.sweep(ctx, s.ephemeral)
		s.mu.Unlock()
		if err != nil {
			return errs.Wrapf(err, "[Store Clear] %s", mode)
		}
		return nil
	}

	s.mu.Lock()
	var err error
	switch mode {
	case ClearFull:
		if err = s.sweep(ctx, s.durable); err == nil {
			err = s.sweep(ctx, s.ephemeral)
		}
	case ClearLogout:
		err = s.clearLogout(ctx)
	default:
		err = errs.Wrapf(errs.ErrUnsupported, "clear mode %q", mode)
	}
	s.mu.Unlock()
	if err != nil {
		return errs.Wrapf(err, "[Store Clear] %s", mode)
	}

	s.logger.Info().Str("mode", string(mode)).Msg("auth data cleared")
	s.bus.Publish(events.AuthCleared{Mode: string(mode)})
	return nil
}

func (s *Store) clearLogout(ctx context.Context) error {
	remember := s.Remember(ctx)
	for _, scope := range []storage.Store{s.durable, s.ephemeral} {
		if err := scope.Delete(ctx, s.keys.session()...); err != nil {
			return err
		}
	}
	if remember {
		return nil
	}
	return s.durable.Delete(ctx, s.keys.RememberMe, s.keys.SavedEmail)
}

// sweep deletes every sweepable key in scope.
func (s *Store) sweep(ctx context.Context, scope storage.Store) error {
	keys, err := scope.Keys(ctx)
	if err != nil {
		return err
	}
	var doomed []string
	for _, k := range keys {
		if s.keys.Sweepable(k) {
			doomed = append(doomed, k)
		}
	}
	if len(doomed) == 0 {
		return nil
	}
	return scope.Delete(ctx, doomed...)
}

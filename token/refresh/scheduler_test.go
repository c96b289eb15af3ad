package refresh_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jrsteele09/go-crm-session/token/refresh"
	"github.com/stretchr/testify/require"
)

func newTestScheduler(t *testing.T, f *testFixture) *refresh.Scheduler {
	t.Helper()
	s, err := refresh.NewScheduler(f.manager, refresh.WithNowFunc(func() time.Time { return testNow }))
	require.NoError(t, err)
	return s
}

func TestScheduler_Check(t *testing.T) {
	ctx := context.Background()

	t.Run("no token", func(t *testing.T) {
		f := setupTestFixture(t, nil)
		res := newTestScheduler(t, f).Check(ctx)
		require.False(t, res.HasToken)
		require.Empty(t, f.client.Calls())
	})

	t.Run("plenty of time left", func(t *testing.T) {
		f := setupTestFixture(t, nil)
		f.login(t, time.Hour, true)
		res := newTestScheduler(t, f).Check(ctx)
		require.True(t, res.HasToken)
		require.Equal(t, time.Hour, res.Remaining)
		require.False(t, res.Refreshed)
		require.Empty(t, f.client.Calls())
	})

	t.Run("already expired", func(t *testing.T) {
		f := setupTestFixture(t, nil)
		f.login(t, -time.Minute, true)
		res := newTestScheduler(t, f).Check(ctx)
		require.True(t, res.HasToken)
		require.False(t, res.Refreshed)
		require.Empty(t, f.client.Calls())
	})

	t.Run("close to expiry", func(t *testing.T) {
		f := setupTestFixture(t, nil)
		f.login(t, 120*time.Second, true)
		s := newTestScheduler(t, f)

		res := s.Check(ctx)
		require.True(t, res.Refreshed)
		require.NoError(t, res.Err)
		require.Equal(t, []string{"refresh-1"}, f.client.Calls())
		require.Equal(t, f.newTokens.AccessToken, f.store.Token(ctx))
		require.True(t, f.store.Remember(ctx))
		require.Equal(t, refresh.Idle, s.State())
	})

	t.Run("refresh failure", func(t *testing.T) {
		f := setupTestFixture(t, errors.New("boom"))
		f.login(t, 120*time.Second, false)
		s := newTestScheduler(t, f)

		res := s.Check(ctx)
		require.Error(t, res.Err)
		require.False(t, res.Refreshed)
		require.Error(t, s.LastError())
		require.Equal(t, refresh.Failed, s.State())
		require.Empty(t, f.store.Token(ctx))
		require.Equal(t, []string{"/login"}, f.navigator.Visited())

		// The next tick finds nothing to do.
		res = s.Check(ctx)
		require.False(t, res.HasToken)
		require.Len(t, f.client.Calls(), 1)
		require.Equal(t, refresh.Idle, s.State())
	})
}

func TestScheduler_StartChecksImmediately(t *testing.T) {
	f := setupTestFixture(t, nil)
	f.login(t, 120*time.Second, true)
	s := newTestScheduler(t, f)

	s.Start(context.Background())
	defer s.Stop()

	require.Eventually(t, func() bool {
		return len(f.client.Calls()) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestScheduler_StopIsIdempotent(t *testing.T) {
	f := setupTestFixture(t, nil)
	s := newTestScheduler(t, f)
	s.Stop()
	s.Start(context.Background())
	s.Stop()
	s.Stop()
}

func TestState_String(t *testing.T) {
	require.Equal(t, "idle", refresh.Idle.String())
	require.Equal(t, "refreshing", refresh.Refreshing.String())
	require.Equal(t, "failed", refresh.Failed.String())
}

package refresh_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jrsteele09/go-crm-session/events"
	errs "github.com/jrsteele09/go-crm-session/internal/errors"
	"github.com/jrsteele09/go-crm-session/sessions"
	"github.com/jrsteele09/go-crm-session/sessions/sessionsfake"
	"github.com/jrsteele09/go-crm-session/storage"
	"github.com/jrsteele09/go-crm-session/token/jwt/jwttest"
	"github.com/jrsteele09/go-crm-session/token/refresh"
	"github.com/jrsteele09/go-crm-session/token/refresh/refreshfake"
	"github.com/jrsteele09/go-crm-session/users"
	"github.com/stretchr/testify/require"
)

var testNow = time.Unix(1_700_000_000, 0)

// testFixture holds all test dependencies
type testFixture struct {
	store     *sessions.Store
	client    *refreshfake.FakeClient
	navigator *sessionsfake.FakeNavigator
	manager   *refresh.Manager
	newTokens sessions.Tokens
}

func setupTestFixture(t *testing.T, clientErr error) *testFixture {
	t.Helper()

	store, err := sessions.NewStore(storage.NewMemoryStore(), storage.NewMemoryStore(), events.NewBus(),
		sessions.WithNowFunc(func() time.Time { return testNow }),
	)
	require.NoError(t, err)

	f := &testFixture{
		store:     store,
		navigator: sessionsfake.NewFakeNavigator("/dashboard"),
		newTokens: sessions.Tokens{
			AccessToken:  jwttest.ExpiringIn("user-1", testNow, time.Hour),
			RefreshToken: "refresh-2",
		},
	}
	f.client = refreshfake.NewFakeClient(&f.newTokens, clientErr)
	f.manager, err = refresh.NewManager(store, f.client, f.navigator)
	require.NoError(t, err)
	return f
}

func (f *testFixture) login(t *testing.T, expiresIn time.Duration, remember bool) {
	t.Helper()
	require.NoError(t, f.store.Save(context.Background(), sessions.Session{
		AccessToken:  jwttest.ExpiringIn("user-1", testNow, expiresIn),
		RefreshToken: "refresh-1",
		User:         &users.User{ID: "user-1", Email: "x@y.com", TenantID: "tenant-1"},
	}, remember))
}

func TestNewManager_RequiresDependencies(t *testing.T) {
	f := setupTestFixture(t, nil)
	_, err := refresh.NewManager(nil, f.client, f.navigator)
	require.Error(t, err)
	_, err = refresh.NewManager(f.store, nil, f.navigator)
	require.Error(t, err)
	_, err = refresh.NewManager(f.store, f.client, nil)
	require.Error(t, err)
}

func TestManager_RefreshSuccess(t *testing.T) {
	ctx := context.Background()

	for _, remember := range []bool{true, false} {
		f := setupTestFixture(t, nil)
		f.login(t, time.Minute, remember)

		performed, err := f.manager.TryRefresh(ctx)
		require.NoError(t, err)
		require.True(t, performed)

		require.Equal(t, []string{"refresh-1"}, f.client.Calls())
		require.Equal(t, f.newTokens.AccessToken, f.store.Token(ctx))
		require.Equal(t, "refresh-2", f.store.RefreshToken(ctx))
		require.Equal(t, "user-1", f.store.UserID(ctx))
		require.Equal(t, remember, f.store.Remember(ctx))
		require.Empty(t, f.navigator.Visited())
	}
}

func TestManager_KeepsRefreshTokenWhenNotRotated(t *testing.T) {
	ctx := context.Background()
	f := setupTestFixture(t, nil)
	f.newTokens.RefreshToken = ""
	f.login(t, time.Minute, true)

	session, err := f.manager.Refresh(ctx)
	require.NoError(t, err)
	require.Equal(t, "refresh-1", session.RefreshToken)
	require.Equal(t, "refresh-1", f.store.RefreshToken(ctx))
}

func TestManager_NoRefreshToken(t *testing.T) {
	ctx := context.Background()
	f := setupTestFixture(t, nil)

	performed, err := f.manager.TryRefresh(ctx)
	require.True(t, performed)
	require.True(t, errs.Is(err, errs.ErrNoRefreshToken))
	require.Empty(t, f.client.Calls())
	require.Empty(t, f.navigator.Visited())
}

func TestManager_FailureEndsSession(t *testing.T) {
	ctx := context.Background()
	cause := errors.New("refresh token revoked")
	f := setupTestFixture(t, cause)
	f.login(t, time.Minute, true)

	_, err := f.manager.Refresh(ctx)
	require.True(t, errs.Is(err, errs.ErrRefreshFailed))
	require.True(t, errs.Is(err, cause))

	require.Empty(t, f.store.Token(ctx))
	require.Empty(t, f.store.RefreshToken(ctx))
	require.Nil(t, f.store.User(ctx))
	require.False(t, f.store.Remember(ctx))
	require.Equal(t, []string{"/login"}, f.navigator.Visited())
}

func TestManager_SingleFlight(t *testing.T) {
	ctx := context.Background()
	f := setupTestFixture(t, nil)
	f.login(t, time.Minute, true)
	f.client.Block()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		performed, err := f.manager.TryRefresh(ctx)
		require.NoError(t, err)
		require.True(t, performed)
	}()
	<-f.client.Entered()
	require.True(t, f.manager.InFlight())

	performed, err := f.manager.TryRefresh(ctx)
	require.NoError(t, err)
	require.False(t, performed)

	results := make([]*sessions.Session, 3)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := f.manager.Refresh(ctx)
			require.NoError(t, err)
			results[i] = s
		}(i)
	}

	time.Sleep(50 * time.Millisecond)
	f.client.Release()
	wg.Wait()

	require.Len(t, f.client.Calls(), 1)
	for _, s := range results {
		require.Equal(t, f.newTokens.AccessToken, s.AccessToken)
	}
	require.False(t, f.manager.InFlight())
}

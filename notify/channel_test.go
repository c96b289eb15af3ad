package notify_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jrsteele09/go-crm-session/notify"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu          sync.Mutex
	permissions []notify.PermissionsChangedEvent
	roles       []notify.RoleChangedEvent
	logouts     []notify.ForceLogoutEvent
	connections []bool
}

func (r *recorder) attach(c *notify.Channel) {
	c.OnPermissionsChanged(func(e notify.PermissionsChangedEvent) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.permissions = append(r.permissions, e)
	})
	c.OnRoleChanged(func(e notify.RoleChangedEvent) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.roles = append(r.roles, e)
	})
	c.OnForceLogout(func(e notify.ForceLogoutEvent) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.logouts = append(r.logouts, e)
	})
	c.OnConnectionChange(func(up bool) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.connections = append(r.connections, up)
	})
}

func (r *recorder) counts() (int, int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.permissions), len(r.roles), len(r.logouts)
}

func TestChannel_ConnectJoinAndDispatch(t *testing.T) {
	srv := newTestServer(t)
	ch := notify.NewChannel(srv.url(), "tok-1", "user-1")
	rec := &recorder{}
	rec.attach(ch)

	ch.Connect(context.Background())
	defer ch.Close()

	conn := srv.accept(t)
	require.Equal(t, "tok-1", conn.token)
	require.Equal(t, "Bearer tok-1", conn.auth)
	require.Equal(t, "user-1", conn.joined(t))
	require.Eventually(t, ch.Connected, time.Second, 5*time.Millisecond)

	conn.push(t, notify.EventPermissionsChanged, map[string]any{"action": "added", "message": "granted"})
	conn.push(t, notify.EventRoleChanged, map[string]any{"oldRole": "viewer", "newRole": map[string]string{"name": "admin"}})
	conn.push(t, notify.EventForceLogout, map[string]any{"reason": "admin_revoked", "message": "bye"})
	conn.push(t, "something-else", map[string]any{})

	require.Eventually(t, func() bool {
		p, r, l := rec.counts()
		return p == 1 && r == 1 && l == 1
	}, time.Second, 5*time.Millisecond)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Equal(t, "added", rec.permissions[0].Action)
	require.Equal(t, "viewer", rec.roles[0].OldRole.String())
	require.Equal(t, "admin", rec.roles[0].NewRole.String())
	require.Equal(t, "admin_revoked", rec.logouts[0].Reason)
	require.Equal(t, []bool{true}, rec.connections)
}

func TestChannel_ReconnectsAfterDrop(t *testing.T) {
	srv := newTestServer(t)
	ch := notify.NewChannel(srv.url(), "tok-1", "user-1", notify.WithReconnect(3, 10*time.Millisecond))
	ch.Connect(context.Background())
	defer ch.Close()

	first := srv.accept(t)
	first.joined(t)
	require.NoError(t, first.conn.Close())

	second := srv.accept(t)
	require.Equal(t, "user-1", second.joined(t))
}

func TestChannel_GivesUpAfterAttempts(t *testing.T) {
	srv := newTestServer(t)
	srv.setReject(true)

	rec := &recorder{}
	ch := notify.NewChannel(srv.url(), "tok-1", "", notify.WithReconnect(2, 5*time.Millisecond))
	rec.attach(ch)
	ch.Connect(context.Background())

	select {
	case <-ch.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("channel kept retrying")
	}
	require.False(t, ch.Connected())
	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Empty(t, rec.connections)
}

func TestChannel_CloseDisconnects(t *testing.T) {
	srv := newTestServer(t)
	ch := notify.NewChannel(srv.url(), "tok-1", "")
	rec := &recorder{}
	rec.attach(ch)
	ch.Connect(context.Background())
	srv.accept(t)
	require.Eventually(t, ch.Connected, time.Second, 5*time.Millisecond)

	ch.Close()
	<-ch.Done()
	require.False(t, ch.Connected())
	srv.expectNoConnection(t, 50*time.Millisecond)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Equal(t, []bool{true, false}, rec.connections)
}

func TestChannel_CloseBeforeConnect(t *testing.T) {
	ch := notify.NewChannel("ws://127.0.0.1:1/notifications", "tok", "")
	ch.Close()
	<-ch.Done()
	ch.Connect(context.Background())
	ch.Close()
}

func TestChannel_HandlerAddedDuringDispatch(t *testing.T) {
	srv := newTestServer(t)
	ch := notify.NewChannel(srv.url(), "tok-1", "")

	var mu sync.Mutex
	var first, second int
	ch.OnPermissionsChanged(func(notify.PermissionsChangedEvent) {
		mu.Lock()
		first++
		register := first == 1
		mu.Unlock()
		if register {
			ch.OnPermissionsChanged(func(notify.PermissionsChangedEvent) {
				mu.Lock()
				defer mu.Unlock()
				second++
			})
		}
	})
	ch.Connect(context.Background())
	defer ch.Close()

	conn := srv.accept(t)
	conn.push(t, notify.EventPermissionsChanged, map[string]any{"action": "added"})
	conn.push(t, notify.EventPermissionsChanged, map[string]any{"action": "removed"})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return first == 2 && second == 1
	}, time.Second, 5*time.Millisecond)
}

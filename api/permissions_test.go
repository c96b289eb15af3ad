package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/jrsteele09/go-crm-session/api"
	errs "github.com/jrsteele09/go-crm-session/internal/errors"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func TestPermissionsResponse_Unmarshal(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		names []string
		role  string
	}{
		{"names", `{"permissionNames":["b.read","a.write"],"role":"admin"}`, []string{"a.write", "b.read"}, "admin"},
		{"objects", `{"permissions":[{"name":"x"},{"name":"y"}],"role":{"name":"sales"}}`, []string{"x", "y"}, "sales"},
		{"mixed and duplicated", `{"permissionNames":["x"],"permissions":["x",{"name":"z"}]}`, []string{"x", "z"}, ""},
		{"empty", `{}`, []string{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var resp api.PermissionsResponse
			require.NoError(t, json.Unmarshal([]byte(tt.body), &resp))
			require.Equal(t, tt.names, resp.Names)
			require.Equal(t, tt.role, resp.Role)
		})
	}
}

// rotatingSource hands out the current token.
type rotatingSource struct {
	mu    sync.Mutex
	token string
}

func (s *rotatingSource) Token() (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &oauth2.Token{AccessToken: s.token, TokenType: "Bearer"}, nil
}

func (s *rotatingSource) set(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
}

type fakeReauth struct {
	calls  atomic.Int32
	source *rotatingSource
	err    error
}

func (r *fakeReauth) Reauthenticate(context.Context) error {
	r.calls.Add(1)
	if r.err != nil {
		return r.err
	}
	r.source.set("fresh")
	return nil
}

func newPermissionsServer(t *testing.T, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		require.Equal(t, "/api/permissions/me", r.URL.Path)
		if r.Header.Get("Authorization") != "Bearer fresh" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"message":"Unauthorized"}`))
			return
		}
		_, _ = w.Write([]byte(`{"permissionNames":["clients.read"],"role":"admin"}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestPermissionsClient_MyPermissions(t *testing.T) {
	var hits atomic.Int32
	srv := newPermissionsServer(t, &hits)
	source := &rotatingSource{token: "fresh"}

	client := api.NewPermissionsClient(srv.URL+"/api", "", source, nil)
	resp, err := client.MyPermissions(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"clients.read"}, resp.Names)
	require.Equal(t, "admin", resp.Role)
	require.EqualValues(t, 1, hits.Load())
}

func TestPermissionsClient_RetriesOnceAfter401(t *testing.T) {
	var hits atomic.Int32
	srv := newPermissionsServer(t, &hits)
	source := &rotatingSource{token: "stale"}
	reauth := &fakeReauth{source: source}

	client := api.NewPermissionsClient(srv.URL+"/api", "/permissions/me", source, reauth)
	resp, err := client.MyPermissions(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"clients.read"}, resp.Names)
	require.EqualValues(t, 1, reauth.calls.Load())
	require.EqualValues(t, 2, hits.Load())
}

func TestPermissionsClient_ReauthFailureSurfaces401(t *testing.T) {
	var hits atomic.Int32
	srv := newPermissionsServer(t, &hits)
	source := &rotatingSource{token: "stale"}
	reauth := &fakeReauth{source: source, err: errs.ErrRefreshFailed}

	client := api.NewPermissionsClient(srv.URL+"/api", "permissions/me", source, reauth)
	_, err := client.MyPermissions(context.Background())

	var se *api.StatusError
	require.True(t, errs.As(err, &se))
	require.Equal(t, http.StatusUnauthorized, se.StatusCode)
	require.Equal(t, "Unauthorized", se.Message)
	require.EqualValues(t, 1, hits.Load())
}

func TestStatusError_Message(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"message":["No active subscription","contact billing"]}`))
	}))
	defer srv.Close()

	client := api.NewPermissionsClient(srv.URL, "", &rotatingSource{token: "t"}, nil)
	_, err := client.MyPermissions(context.Background())

	var se *api.StatusError
	require.True(t, errs.As(err, &se))
	require.Equal(t, http.StatusForbidden, se.StatusCode)
	require.Equal(t, "No active subscription; contact billing", se.Message)
	require.Contains(t, se.Error(), "403")
}

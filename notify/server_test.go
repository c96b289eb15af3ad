package notify_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jrsteele09/go-crm-session/notify"
	"github.com/stretchr/testify/require"
)

// testConn is one accepted connection on the fake notification server.
type testConn struct {
	conn  *websocket.Conn
	token string
	auth  string
	joins chan string
	mu    sync.Mutex
}

func (c *testConn) push(t *testing.T, event string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	c.mu.Lock()
	defer c.mu.Unlock()
	require.NoError(t, c.conn.WriteJSON(notify.Frame{Event: event, Data: raw}))
}

func (c *testConn) joined(t *testing.T) string {
	t.Helper()
	select {
	case id := <-c.joins:
		return id
	case <-time.After(2 * time.Second):
		t.Fatal("no join frame")
		return ""
	}
}

// testServer accepts notification connections on /notifications.
type testServer struct {
	*httptest.Server
	conns  chan *testConn
	reject bool
	mu     sync.Mutex
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	s := &testServer{conns: make(chan *testConn, 16)}
	upgrader := websocket.Upgrader{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		reject := s.reject
		s.mu.Unlock()
		if reject || r.URL.Path != "/notifications" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		tc := &testConn{
			conn:  conn,
			token: r.URL.Query().Get("token"),
			auth:  r.Header.Get("Authorization"),
			joins: make(chan string, 4),
		}
		s.conns <- tc
		go func() {
			defer conn.Close()
			for {
				var f notify.Frame
				if err := conn.ReadJSON(&f); err != nil {
					return
				}
				if f.Event == notify.EventJoin {
					var id string
					_ = json.Unmarshal(f.Data, &id)
					tc.joins <- id
				}
			}
		}()
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *testServer) url() string {
	return "ws" + strings.TrimPrefix(s.URL, "http") + "/notifications"
}

func (s *testServer) setReject(reject bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reject = reject
}

func (s *testServer) accept(t *testing.T) *testConn {
	t.Helper()
	select {
	case c := <-s.conns:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("no connection")
		return nil
	}
}

func (s *testServer) expectNoConnection(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case c := <-s.conns:
		t.Fatalf("unexpected connection with token %q", c.token)
	case <-time.After(wait):
	}
}

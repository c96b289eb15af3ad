// Package notify keeps a WebSocket subscription to the backend's
// notification namespace and turns pushed events into callbacks.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	errs "github.com/jrsteele09/go-crm-session/internal/errors"
	"github.com/jrsteele09/go-crm-session/metrics"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	DefaultReconnectAttempts = 5
	DefaultReconnectDelay    = time.Second

	writeTimeout = 10 * time.Second
)

// Channel is one authenticated connection, bound to a single access token.
// It reconnects on its own a bounded number of times.
type Channel struct {
	url      string
	token    string
	userID   string
	attempts int
	delay    time.Duration
	dialer   *websocket.Dialer
	metrics  *metrics.Metrics
	logger   zerolog.Logger

	mu                 sync.Mutex
	conn               *websocket.Conn
	connected          bool
	cancel             context.CancelFunc
	done               chan struct{}
	onPermissions      []func(PermissionsChangedEvent)
	onRole             []func(RoleChangedEvent)
	onForceLogout      []func(ForceLogoutEvent)
	onConnectionChange []func(bool)
}

type Option func(*Channel)

// WithReconnect sets how many consecutive reconnects are tried and the wait
// between them.
func WithReconnect(attempts int, delay time.Duration) Option {
	return func(c *Channel) {
		if attempts >= 0 {
			c.attempts = attempts
		}
		if delay > 0 {
			c.delay = delay
		}
	}
}

func WithDialer(d *websocket.Dialer) Option {
	return func(c *Channel) {
		c.dialer = d
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(c *Channel) {
		c.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Channel) {
		c.metrics = m
	}
}

// NewChannel prepares a channel to rawURL authenticated with token. It does
// not dial until Connect.
func NewChannel(rawURL, token, userID string, options ...Option) *Channel {
	c := &Channel{
		url:      rawURL,
		token:    token,
		userID:   userID,
		attempts: DefaultReconnectAttempts,
		delay:    DefaultReconnectDelay,
		dialer:   websocket.DefaultDialer,
		logger:   log.Logger,
		done:     make(chan struct{}),
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

func (c *Channel) Token() string {
	return c.token
}

func (c *Channel) OnPermissionsChanged(fn func(PermissionsChangedEvent)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onPermissions = append(c.onPermissions, fn)
}

func (c *Channel) OnRoleChanged(fn func(RoleChangedEvent)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onRole = append(c.onRole, fn)
}

func (c *Channel) OnForceLogout(fn func(ForceLogoutEvent)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onForceLogout = append(c.onForceLogout, fn)
}

func (c *Channel) OnConnectionChange(fn func(connected bool)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onConnectionChange = append(c.onConnectionChange, fn)
}

// Connected reports whether the socket is currently open.
func (c *Channel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Connect starts the connection loop in the background. It returns at once;
// Done is closed when the loop gives up or the channel is closed.
func (c *Channel) Connect(ctx context.Context) {
	c.mu.Lock()
	if c.cancel != nil {
		c.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.mu.Unlock()

	go func() {
		defer close(c.done)
		c.run(ctx)
	}()
}

// Close tears the connection down without waiting. Callbacks may call it.
func (c *Channel) Close() {
	c.mu.Lock()
	cancel := c.cancel
	conn := c.conn
	if cancel == nil {
		c.cancel = func() {}
		close(c.done)
	}
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close()
	}
}

// Done is closed once the channel has stopped for good.
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

func (c *Channel) run(ctx context.Context) {
	for {
		var established bool
		policy := backoff.WithContext(
			backoff.WithMaxRetries(backoff.NewConstantBackOff(c.delay), uint64(c.attempts)),
			ctx,
		)
		err := backoff.RetryNotify(func() error {
			ok, err := c.connectAndServe(ctx)
			if ok {
				established = true
				return backoff.Permanent(err)
			}
			return err
		}, policy, func(err error, wait time.Duration) {
			c.logger.Warn().Err(err).Dur("backoff", wait).Msg("notification channel unavailable, retrying")
		})

		if ctx.Err() != nil {
			return
		}
		if !established {
			c.logger.Error().Err(err).Int("attempts", c.attempts).Msg("notification channel gave up reconnecting")
			return
		}

		c.logger.Warn().Err(err).Msg("notification channel lost, reconnecting")
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.delay):
		}
	}
}

// connectAndServe dials and reads until the socket fails. The bool reports
// whether the connection was established.
func (c *Channel) connectAndServe(ctx context.Context) (bool, error) {
	u, err := url.Parse(c.url)
	if err != nil {
		return false, backoff.Permanent(fmt.Errorf("notification url: %w", err))
	}
	q := u.Query()
	q.Set("token", c.token)
	u.RawQuery = q.Encode()
	header := http.Header{"Authorization": {"Bearer " + c.token}}

	conn, resp, err := c.dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
			return false, fmt.Errorf("dial: status %d: %w", resp.StatusCode, err)
		}
		return false, fmt.Errorf("dial: %w", err)
	}

	c.mu.Lock()
	if ctx.Err() != nil {
		c.mu.Unlock()
		conn.Close()
		return false, ctx.Err()
	}
	c.conn = conn
	c.mu.Unlock()
	c.setConnected(true)
	c.logger.Info().Str("url", c.url).Msg("notification channel connected")

	defer func() {
		conn.Close()
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		c.setConnected(false)
	}()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if c.userID != "" {
		if err := c.send(EventJoin, c.userID); err != nil {
			return true, fmt.Errorf("join: %w", err)
		}
	}

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return true, fmt.Errorf("read: %w", err)
		}
		var frame Frame
		if err := json.Unmarshal(msg, &frame); err != nil {
			c.logger.Warn().Err(err).Msg("invalid notification frame")
			continue
		}
		c.dispatch(frame)
	}
}

func (c *Channel) send(event string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	msg, err := json.Marshal(Frame{Event: event, Data: raw})
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return errs.Wrapf(errs.ErrChannelClosed, "[Channel send] %s", event)
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, msg)
}

func (c *Channel) dispatch(frame Frame) {
	c.metrics.Notification(frame.Event)

	c.mu.Lock()
	onPermissions := slices.Clone(c.onPermissions)
	onRole := slices.Clone(c.onRole)
	onForceLogout := slices.Clone(c.onForceLogout)
	c.mu.Unlock()

	switch frame.Event {
	case EventPermissionsChanged:
		var e PermissionsChangedEvent
		if !c.decode(frame, &e) {
			return
		}
		for _, fn := range onPermissions {
			fn(e)
		}
	case EventRoleChanged:
		var e RoleChangedEvent
		if !c.decode(frame, &e) {
			return
		}
		for _, fn := range onRole {
			fn(e)
		}
	case EventForceLogout:
		var e ForceLogoutEvent
		if !c.decode(frame, &e) {
			return
		}
		for _, fn := range onForceLogout {
			fn(e)
		}
	default:
		c.logger.Debug().Str("event", frame.Event).Msg("ignoring notification")
	}
}

func (c *Channel) decode(frame Frame, v any) bool {
	if len(frame.Data) == 0 {
		return true
	}
	if err := json.Unmarshal(frame.Data, v); err != nil {
		c.logger.Warn().Err(err).Str("event", frame.Event).Msg("invalid notification payload")
		return false
	}
	return true
}

func (c *Channel) setConnected(up bool) {
	c.mu.Lock()
	if c.connected == up {
		c.mu.Unlock()
		return
	}
	c.connected = up
	handlers := slices.Clone(c.onConnectionChange)
	c.mu.Unlock()

	c.metrics.Connected(up)
	for _, fn := range handlers {
		fn(up)
	}
}

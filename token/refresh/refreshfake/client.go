package refreshfake

import (
	"context"
	"sync"

	"github.com/jrsteele09/go-crm-session/sessions"
	"github.com/jrsteele09/go-crm-session/token/refresh"
)

var _ refresh.Client = (*FakeClient)(nil)

// FakeClient answers refresh calls from a canned response and counts them.
type FakeClient struct {
	lock      sync.Mutex
	tokens    *sessions.Tokens
	err       error
	calls     []string
	gate      chan struct{}
	entered   chan struct{}
	enteredOK sync.Once
}

func NewFakeClient(tokens *sessions.Tokens, err error) *FakeClient {
	return &FakeClient{tokens: tokens, err: err, entered: make(chan struct{})}
}

// Block makes calls wait until Release is called.
func (c *FakeClient) Block() {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.gate = make(chan struct{})
}

func (c *FakeClient) Release() {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.gate != nil {
		close(c.gate)
		c.gate = nil
	}
}

// Entered is closed once the first call has started.
func (c *FakeClient) Entered() <-chan struct{} {
	return c.entered
}

func (c *FakeClient) Refresh(ctx context.Context, refreshToken string) (*sessions.Tokens, error) {
	c.lock.Lock()
	c.calls = append(c.calls, refreshToken)
	gate := c.gate
	c.lock.Unlock()
	c.enteredOK.Do(func() { close(c.entered) })

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	c.lock.Lock()
	defer c.lock.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	out := *c.tokens
	return &out, nil
}

// Calls returns the refresh tokens presented, oldest first.
func (c *FakeClient) Calls() []string {
	c.lock.Lock()
	defer c.lock.Unlock()
	return append([]string(nil), c.calls...)
}

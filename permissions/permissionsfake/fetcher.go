package permissionsfake

import (
	"context"
	"sync"

	"github.com/jrsteele09/go-crm-session/api"
	"github.com/jrsteele09/go-crm-session/permissions"
)

var _ permissions.Fetcher = (*FakeFetcher)(nil)

// FakeFetcher serves a settable permission set and counts calls.
type FakeFetcher struct {
	lock  sync.Mutex
	names []string
	role  string
	err   error
	calls int
	gate  chan struct{}
}

func NewFakeFetcher(role string, names ...string) *FakeFetcher {
	return &FakeFetcher{role: role, names: names}
}

// Set changes the permission set served from now on.
func (f *FakeFetcher) Set(role string, names ...string) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.role = role
	f.names = names
}

// Fail makes every call return err until Fail(nil).
func (f *FakeFetcher) Fail(err error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.err = err
}

// Block makes calls wait until Release.
func (f *FakeFetcher) Block() {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.gate = make(chan struct{})
}

func (f *FakeFetcher) Release() {
	f.lock.Lock()
	defer f.lock.Unlock()
	if f.gate != nil {
		close(f.gate)
		f.gate = nil
	}
}

func (f *FakeFetcher) Calls() int {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.calls
}

func (f *FakeFetcher) MyPermissions(ctx context.Context) (*api.PermissionsResponse, error) {
	f.lock.Lock()
	f.calls++
	gate := f.gate
	f.lock.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.lock.Lock()
	defer f.lock.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &api.PermissionsResponse{
		Names: append([]string(nil), f.names...),
		Role:  f.role,
	}, nil
}

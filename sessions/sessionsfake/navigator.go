package sessionsfake

import (
	"sync"

	"github.com/jrsteele09/go-crm-session/sessions"
)

var _ sessions.Navigator = (*FakeNavigator)(nil)

// FakeNavigator records navigations instead of performing them.
type FakeNavigator struct {
	mu      sync.Mutex
	current string
	visited []string
}

func NewFakeNavigator(current string) *FakeNavigator {
	return &FakeNavigator{current: current}
}

func (n *FakeNavigator) Navigate(path string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.current = path
	n.visited = append(n.visited, path)
}

func (n *FakeNavigator) CurrentPath() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.current
}

// Visited returns every path navigated to, oldest first.
func (n *FakeNavigator) Visited() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.visited...)
}

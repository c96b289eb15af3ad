package main

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// logNavigator stands in for a router: it remembers the current path and
// logs navigation requests.
type logNavigator struct {
	mu      sync.Mutex
	current string
}

func (n *logNavigator) Navigate(path string) {
	n.mu.Lock()
	from := n.current
	n.current = path
	n.mu.Unlock()
	log.Info().Str("from", from).Str("to", path).Msg("navigate")
}

func (n *logNavigator) CurrentPath() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.current
}

type logAlerter struct{}

func (logAlerter) Alert(title, message string) {
	log.Warn().Str("title", title).Msg(message)
}

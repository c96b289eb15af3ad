package permissions

import (
	"sync"
	"time"
)

// BreakerState is the position of the fetch circuit breaker.
type BreakerState int

const (
	// Closed lets automatic fetches through.
	Closed BreakerState = iota
	// Open suppresses automatic fetches after an entitlement failure.
	Open
)

func (s BreakerState) String() string {
	if s == Open {
		return "open"
	}
	return "closed"
}

// ResetTrigger names an event allowed to close the breaker.
type ResetTrigger string

const (
	ResetUserChanged      ResetTrigger = "user-changed"
	ResetTenantChanged    ResetTrigger = "tenant-changed"
	ResetServerPush       ResetTrigger = "server-push"
	ResetCacheInvalidated ResetTrigger = "cache-invalidated"
	ResetFetchSucceeded   ResetTrigger = "fetch-succeeded"
	ResetExplicitRetry    ResetTrigger = "explicit-retry"
)

// BreakerStatus is the breaker's state plus its last transitions.
type BreakerStatus struct {
	State       BreakerState
	TripReason  string
	TrippedAt   time.Time
	LastTrigger ResetTrigger
	ResetAt     time.Time
}

// Breaker stops automatic permission fetches once the backend has refused
// the user for entitlement reasons, until one of the reset triggers occurs.
type Breaker struct {
	mu      sync.Mutex
	status  BreakerStatus
	nowFunc func() time.Time
}

func NewBreaker(now func() time.Time) *Breaker {
	if now == nil {
		now = time.Now
	}
	return &Breaker{nowFunc: now}
}

// Trip opens the breaker.
func (b *Breaker) Trip(reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.status.State = Open
	b.status.TripReason = reason
	b.status.TrippedAt = b.nowFunc()
}

// Reset closes the breaker and reports whether it was open.
func (b *Breaker) Reset(trigger ResetTrigger) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	wasOpen := b.status.State == Open
	b.status.State = Closed
	b.status.LastTrigger = trigger
	b.status.ResetAt = b.nowFunc()
	return wasOpen
}

func (b *Breaker) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status.State == Open
}

func (b *Breaker) Status() BreakerStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status
}

// Package permissions keeps the logged-in user's permission set consistent
// across the local cache, the backend and pushed notifications.
package permissions

import "time"

const (
	// SchemaVersion is bumped whenever Entry changes shape.
	SchemaVersion = 2

	DefaultCacheKey = "crm_permissions_cache"
	DefaultFreshFor = 5 * time.Minute
	DefaultMaxAge   = 30 * time.Minute
)

// Entry is the cached permission set of one user in one tenant.
type Entry struct {
	Permissions []string `json:"permissions"`
	Role        string   `json:"role"`
	TenantID    string   `json:"tenantId"`
	UserID      string   `json:"userId"`
	Timestamp   int64    `json:"timestamp"` // unix millis
	Version     int      `json:"version"`
}

// WrittenAt is the time the entry was stored.
func (e *Entry) WrittenAt() time.Time {
	return time.UnixMilli(e.Timestamp)
}

// Age is how long ago the entry was stored.
func (e *Entry) Age(now time.Time) time.Duration {
	return now.Sub(e.WrittenAt())
}

func (e *Entry) belongsTo(userID, tenantID string) bool {
	return userID != "" && e.UserID == userID && e.TenantID == tenantID
}

// Freshness says whether a cached entry can be used without refetching.
type Freshness int

const (
	Fresh Freshness = iota
	// Stale entries are usable but should be refreshed in the background.
	Stale
)

func (f Freshness) String() string {
	if f == Stale {
		return "stale"
	}
	return "fresh"
}

// Lookup is a successful cache read.
type Lookup struct {
	Entry *Entry
	State Freshness
}

// Stats describes the cache for diagnostics.
type Stats struct {
	Exists     bool
	Valid      bool
	Stale      bool
	AgeSeconds int64
	Size       int
	Role       string
}

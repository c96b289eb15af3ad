// Package events is the in-process publish/subscribe bus the session services
// use to tell each other about auth, identity and permission changes.
package events

// Name identifies an event kind. The values double as the names other
// application modules listen for.
type Name string

const (
	NameAuthCleared                 Name = "auth-cleared"
	NameUserChanged                 Name = "user-changed"
	NameTenantChanged               Name = "tenant-changed"
	NamePermissionsChanged          Name = "permissions-changed"
	NamePermissionsCacheInvalidated Name = "permissions-cache-invalidated"
	NameStorageChanged              Name = "storage-changed"
)

// Event is implemented by every payload type in this package. The set is
// closed: the unexported method keeps other packages from adding kinds.
type Event interface {
	EventName() Name
	event()
}

// AuthCleared is published after the token store drops credentials.
type AuthCleared struct {
	Mode string
}

// UserChanged is published when a save brings in a different user or tenant.
type UserChanged struct {
	UserID   string
	TenantID string
}

// TenantChanged is published when the active tenant is switched.
type TenantChanged struct {
	TenantID string
}

// PermissionsChanged carries the delta between two cached permission sets.
type PermissionsChanged struct {
	Added       []string
	Removed     []string
	Permissions []string
	Previous    []string
	Role        string
}

// PermissionsCacheInvalidated asks consumers to re-fetch from scratch.
// Source names the component that invalidated the cache.
type PermissionsCacheInvalidated struct {
	Source string
}

// StorageChanged mirrors a write to session storage within this process.
type StorageChanged struct {
	Key string
}

func (AuthCleared) EventName() Name                 { return NameAuthCleared }
func (UserChanged) EventName() Name                 { return NameUserChanged }
func (TenantChanged) EventName() Name               { return NameTenantChanged }
func (PermissionsChanged) EventName() Name          { return NamePermissionsChanged }
func (PermissionsCacheInvalidated) EventName() Name { return NamePermissionsCacheInvalidated }
func (StorageChanged) EventName() Name              { return NameStorageChanged }

func (AuthCleared) event()                 {}
func (UserChanged) event()                 {}
func (TenantChanged) event()               {}
func (PermissionsChanged) event()          {}
func (PermissionsCacheInvalidated) event() {}
func (StorageChanged) event()              {}

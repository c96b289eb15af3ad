package notify

import (
	"encoding/json"

	"github.com/jrsteele09/go-crm-session/users"
)

// Frame is one JSON text message on the socket.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

const (
	EventJoin               = "join"
	EventPermissionsChanged = "permissions-changed"
	EventRoleChanged        = "role-changed"
	EventForceLogout        = "force-logout"
)

// PermissionsChangedEvent says the user's permissions were changed by an
// administrator.
type PermissionsChangedEvent struct {
	Action      string   `json:"action"` // added, removed or updated
	Permissions []string `json:"permissions,omitempty"`
	Message     string   `json:"message"`
}

// RoleChangedEvent says the user was given another role.
type RoleChangedEvent struct {
	OldRole users.Role `json:"oldRole"`
	NewRole users.Role `json:"newRole"`
	Message string     `json:"message"`
}

// ForceLogoutEvent is a server initiated end of the session.
type ForceLogoutEvent struct {
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

package sessions

import (
	"github.com/jrsteele09/go-crm-session/users"
)

// Session is the record kept for the logged-in user. It is either fully
// present (both tokens plus a user snapshot) or treated as absent.
type Session struct {
	AccessToken  string      // Short-lived JWT sent with API requests
	RefreshToken string      // Long-lived opaque token exchanged for new access tokens
	User         *users.User // Snapshot returned at login
}

// Tokens is a token pair returned by the refresh endpoint.
type Tokens struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// Complete reports whether the record has both tokens and a user.
func (s Session) Complete() bool {
	return s.AccessToken != "" && s.RefreshToken != "" && s.User != nil
}

// ClearMode selects how much Clear removes.
type ClearMode string

const (
	// ClearFull removes everything in both scopes, including the remember
	// flag, the saved email and per-user cached keys.
	ClearFull ClearMode = "full"
	// ClearLogout removes tokens and the user, keeping the remember flag and
	// saved email when remember was active.
	ClearLogout ClearMode = "logout"
	// ClearSessionOnly empties the ephemeral scope when remember is active and
	// behaves like ClearFull otherwise.
	ClearSessionOnly ClearMode = "sessionOnly"
)

// Navigator moves the host application between routes.
type Navigator interface {
	Navigate(path string)
	CurrentPath() string
}

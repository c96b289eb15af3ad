package users

import (
	"encoding/json"
	"fmt"
)

// Role is a user's role name. The server sends it either as a plain string or
// as an object with a name field; both decode to the plain string.
type Role string

func (r *Role) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		*r = Role(name)
		return nil
	}
	var obj struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("role: %w", err)
	}
	*r = Role(obj.Name)
	return nil
}

func (r Role) String() string {
	return string(r)
}

// NormalizeRole reduces an already decoded role value to its name.
func NormalizeRole(v any) string {
	switch role := v.(type) {
	case nil:
		return ""
	case string:
		return role
	case Role:
		return string(role)
	case map[string]any:
		name, _ := role["name"].(string)
		return name
	case fmt.Stringer:
		return role.String()
	default:
		return ""
	}
}

// User is the snapshot of the logged-in user kept alongside the tokens.
type User struct {
	ID       string `json:"id"`                 // Unique identifier for the user
	Name     string `json:"name,omitempty"`     // Display name
	Email    string `json:"email,omitempty"`    // User's email address
	Role     Role   `json:"role,omitempty"`     // Normalized role name
	TenantID string `json:"tenantId,omitempty"` // Company the user is acting for
	Avatar   string `json:"avatar,omitempty"`   // Avatar URL
	Document string `json:"document,omitempty"` // Tax or identity document number
	IsOwner  bool   `json:"isOwner,omitempty"`  // IsOwner, does the user own the tenant account
}

// UnmarshalJSON also accepts companyId for the tenant, which is how the
// backend names it in login responses.
func (u *User) UnmarshalJSON(data []byte) error {
	type plain User
	aux := struct {
		*plain
		CompanyID string `json:"companyId"`
	}{plain: (*plain)(u)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if u.TenantID == "" {
		u.TenantID = aux.CompanyID
	}
	return nil
}

// SameIdentity reports whether both snapshots are the same user acting for
// the same tenant.
func (u *User) SameIdentity(other *User) bool {
	if u == nil || other == nil {
		return u == other
	}
	return u.ID == other.ID && u.TenantID == other.TenantID
}

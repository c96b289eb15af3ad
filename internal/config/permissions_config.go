package config

import "time"

type PermissionsConfig interface {
	GetPermissionsEndpoint() string
	GetPermissionsFreshFor() time.Duration
	GetPermissionsMaxAge() time.Duration
	GetEntitlementKeywords() []string
}

type Permissions struct {
	v values
}

var _ PermissionsConfig = Permissions{}

func (p Permissions) GetPermissionsEndpoint() string {
	return p.v.get("CRM_PERMISSIONS_ENDPOINT", "/permissions/me")
}

func (p Permissions) GetPermissionsFreshFor() time.Duration {
	return p.v.duration("CRM_PERMISSIONS_FRESH", 5*time.Minute)
}

func (p Permissions) GetPermissionsMaxAge() time.Duration {
	return p.v.duration("CRM_PERMISSIONS_MAX_AGE", 30*time.Minute)
}

// GetEntitlementKeywords lists message fragments that mark a fetch failure as
// a subscription/entitlement denial.
func (p Permissions) GetEntitlementKeywords() []string {
	return p.v.list("CRM_ENTITLEMENT_KEYWORDS", []string{"subscription"})
}

package config

import "time"

type SessionConfig interface {
	GetRefreshInterval() time.Duration
	GetRefreshThreshold() time.Duration
	GetRefreshTimeout() time.Duration
	GetLoginPath() string
	GetDefaultHomePath() string
	GetOIDCIssuer() string
}

type Session struct {
	v values
}

var _ SessionConfig = Session{}

func (s Session) GetRefreshInterval() time.Duration {
	return s.v.duration("CRM_REFRESH_INTERVAL", 60*time.Second)
}

// GetRefreshThreshold is how close to expiry the access token must be before
// the scheduler renews it.
func (s Session) GetRefreshThreshold() time.Duration {
	return s.v.duration("CRM_REFRESH_THRESHOLD", 180*time.Second)
}

func (s Session) GetRefreshTimeout() time.Duration {
	return s.v.duration("CRM_REFRESH_TIMEOUT", 15*time.Second)
}

func (s Session) GetLoginPath() string {
	return s.v.get("CRM_LOGIN_PATH", "/login")
}

func (s Session) GetDefaultHomePath() string {
	return s.v.get("CRM_DEFAULT_HOME", "/dashboard")
}

// GetOIDCIssuer enables signature checks of saved access tokens when set.
func (s Session) GetOIDCIssuer() string {
	return s.v.get("CRM_OIDC_ISSUER", "")
}

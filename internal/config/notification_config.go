package config

import (
	"net/url"
	"time"
)

type NotificationConfig interface {
	GetNotificationURL() string
	GetReconnectAttempts() int
	GetReconnectDelay() time.Duration
	GetForceLogoutDelay() time.Duration
}

type Notifications struct {
	v values
}

var _ NotificationConfig = Notifications{}

// GetNotificationURL defaults to the API host with a ws(s) scheme and the
// /notifications namespace.
func (n Notifications) GetNotificationURL() string {
	if raw := n.v.get("CRM_NOTIFY_URL", ""); raw != "" {
		return raw
	}
	u, err := url.Parse(EnvVars{n.v}.GetAPIBaseURL())
	if err != nil {
		return ""
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = n.v.get("CRM_NOTIFY_NAMESPACE", "/notifications")
	return u.String()
}

func (n Notifications) GetReconnectAttempts() int {
	return n.v.integer("CRM_NOTIFY_RECONNECT_ATTEMPTS", 5)
}

func (n Notifications) GetReconnectDelay() time.Duration {
	return n.v.duration("CRM_NOTIFY_RECONNECT_DELAY", time.Second)
}

func (n Notifications) GetForceLogoutDelay() time.Duration {
	return n.v.duration("CRM_FORCE_LOGOUT_DELAY", 3*time.Second)
}

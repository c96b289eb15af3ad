package config_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jrsteele09/go-crm-session/internal/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, doc string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	c, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, "DEV", c.GetEnv())
	assert.Equal(t, 60*time.Second, c.GetRefreshInterval())
	assert.Equal(t, 180*time.Second, c.GetRefreshThreshold())
	assert.Equal(t, "/login", c.GetLoginPath())
	assert.Equal(t, "/dashboard", c.GetDefaultHomePath())
	assert.Equal(t, "/permissions/me", c.GetPermissionsEndpoint())
	assert.Equal(t, 5*time.Minute, c.GetPermissionsFreshFor())
	assert.Equal(t, 30*time.Minute, c.GetPermissionsMaxAge())
	assert.Equal(t, []string{"subscription"}, c.GetEntitlementKeywords())
	assert.Equal(t, 5, c.GetReconnectAttempts())
	assert.Equal(t, time.Second, c.GetReconnectDelay())
	assert.Equal(t, 3*time.Second, c.GetForceLogoutDelay())
	assert.Equal(t, "file", c.GetStorageBackend())
	assert.Equal(t, "crm_", c.GetStoragePrefix())
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
CRM_API_URL: "https://crm.example.com/api/"
CRM_REFRESH_INTERVAL: "30s"
CRM_NOTIFY_RECONNECT_ATTEMPTS: "2"
CRM_ENTITLEMENT_KEYWORDS: "subscription, plan ,"
CRM_STORAGE_BACKEND: "redis"
CRM_REDIS_DB: "3"
`)
	c, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://crm.example.com/api", c.GetAPIBaseURL())
	assert.Equal(t, 30*time.Second, c.GetRefreshInterval())
	assert.Equal(t, 2, c.GetReconnectAttempts())
	assert.Equal(t, []string{"subscription", "plan"}, c.GetEntitlementKeywords())
	assert.Equal(t, "redis", c.GetStorageBackend())
	assert.Equal(t, 3, c.GetRedisDB())
}

func TestLoad_EnvironmentWins(t *testing.T) {
	path := writeConfig(t, `CRM_LOGIN_PATH: "/signin"`)
	t.Setenv("CRM_LOGIN_PATH", "/auth/login")

	c, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/auth/login", c.GetLoginPath())
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	path := writeConfig(t, `
CRM_REFRESH_INTERVAL: "soon"
CRM_PERMISSIONS_MAX_AGE: "-5m"
`)
	c, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 60*time.Second, c.GetRefreshInterval())
	assert.Equal(t, 30*time.Minute, c.GetPermissionsMaxAge())
}

func TestLoad_Errors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
		require.Error(t, err)
	})

	t.Run("bad yaml", func(t *testing.T) {
		_, err := config.Load(writeConfig(t, "CRM_LOGIN_PATH: [unclosed"))
		require.Error(t, err)
	})
}

func TestNew_ConfigFileVariable(t *testing.T) {
	t.Setenv("CRM_CONFIG_FILE", writeConfig(t, `APP_NAME: "Acme CRM"`))
	assert.Equal(t, "Acme CRM", config.New().GetAppName())
}

func TestNew_BadConfigFileIsLogged(t *testing.T) {
	var buf bytes.Buffer
	original := log.Logger
	log.Logger = zerolog.New(&buf)
	t.Cleanup(func() { log.Logger = original })

	t.Setenv("APP_NAME", "From Env")
	t.Setenv("CRM_CONFIG_FILE", writeConfig(t, "APP_NAME: [unterminated"))

	assert.Equal(t, "From Env", config.New().GetAppName())
	assert.Contains(t, buf.String(), "config file ignored")
	assert.Contains(t, buf.String(), "parse")
}

func TestGetNotificationURL(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{
			name: "derived from https api",
			env:  map[string]string{"CRM_API_URL": "https://crm.example.com/api"},
			want: "wss://crm.example.com/notifications",
		},
		{
			name: "derived from http api",
			env:  map[string]string{"CRM_API_URL": "http://localhost:3000/api"},
			want: "ws://localhost:3000/notifications",
		},
		{
			name: "custom namespace",
			env:  map[string]string{"CRM_API_URL": "http://localhost:3000", "CRM_NOTIFY_NAMESPACE": "/ws"},
			want: "ws://localhost:3000/ws",
		},
		{
			name: "explicit url",
			env:  map[string]string{"CRM_NOTIFY_URL": "wss://push.example.com/n"},
			want: "wss://push.example.com/n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			c, err := config.Load("")
			require.NoError(t, err)
			assert.Equal(t, tt.want, c.GetNotificationURL())
		})
	}
}

package config

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

const configFileVar = "CRM_CONFIG_FILE"

type Config interface {
	EnvConfig
	SessionConfig
	PermissionsConfig
	NotificationConfig
	StorageConfig
}

type EnvConfig interface {
	GetAppName() string
	GetEnv() string
	GetDataFolder() string
	GetAPIBaseURL() string
	GetMetricsAddr() string
}

type mainConfig struct {
	EnvVars
	Session
	Permissions
	Notifications
	Storage
}

// New returns a Config resolved from environment variables and defaults. When
// CRM_CONFIG_FILE names a readable YAML file its values sit between the two.
// A file that cannot be loaded is logged and ignored.
func New() Config {
	c, err := Load(os.Getenv(configFileVar))
	if err != nil {
		log.Warn().Err(err).Str("file", os.Getenv(configFileVar)).Msg("config file ignored, using environment only")
		return newConfig(values{})
	}
	return c
}

// Load reads a flat YAML document of VARIABLE: value pairs. An empty path
// yields a config backed by the environment only.
func Load(path string) (Config, error) {
	v := values{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("[config Load] read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("[config Load] parse %s: %w", path, err)
		}
	}
	return newConfig(v), nil
}

func newConfig(v values) Config {
	return mainConfig{
		EnvVars:       EnvVars{v},
		Session:       Session{v},
		Permissions:   Permissions{v},
		Notifications: Notifications{v},
		Storage:       Storage{v},
	}
}

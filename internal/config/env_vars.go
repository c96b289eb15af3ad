package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	appNameVar     = "APP_NAME"
	folderEnvVar   = "FOLDER"
	apiBaseURLVar  = "CRM_API_URL"
	metricsAddrVar = "CRM_METRICS_ADDR"
)

// values holds settings read from the optional config file.
type values map[string]string

func (v values) get(envVar, defaultValue string) string {
	if value := os.Getenv(envVar); value != "" {
		return value
	}
	if value, ok := v[envVar]; ok && value != "" {
		return value
	}
	return defaultValue
}

func (v values) duration(envVar string, defaultValue time.Duration) time.Duration {
	d, err := time.ParseDuration(v.get(envVar, ""))
	if err != nil || d <= 0 {
		return defaultValue
	}
	return d
}

func (v values) integer(envVar string, defaultValue int) int {
	i, err := strconv.Atoi(v.get(envVar, ""))
	if err != nil {
		return defaultValue
	}
	return i
}

func (v values) list(envVar string, defaultValue []string) []string {
	raw := v.get(envVar, "")
	if raw == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

type EnvVars struct {
	v values
}

var _ EnvConfig = EnvVars{}

func (e EnvVars) GetAppName() string {
	return e.v.get(appNameVar, "CRM Session")
}

func (e EnvVars) GetDataFolder() string {
	return e.v.get(folderEnvVar, "./data")
}

func (e EnvVars) GetEnv() string {
	return e.v.get("ENV", "DEV")
}

// GetAPIBaseURL returns the REST backend root (e.g., "https://crm.example.com/api")
func (e EnvVars) GetAPIBaseURL() string {
	return strings.TrimRight(e.v.get(apiBaseURLVar, "http://localhost:3000/api"), "/")
}

func (e EnvVars) GetMetricsAddr() string {
	return e.v.get(metricsAddrVar, ":9090")
}

func GetEnv(envVar, defaultValue string) string {
	return values{}.get(envVar, defaultValue)
}

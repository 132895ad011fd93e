package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	portEnvVar        = "PORT"
	appNameVar        = "APP_NAME"
	backendURLVar     = "BACKEND_URL"
	redisURLVar       = "REDIS_URL"
	cachePrefixEnvVar = "CACHE_PREFIX"
)

type EnvVars struct{}

var _ EnvConfig = EnvVars{}

func (EnvVars) GetPort() string {
	port := GetEnv(portEnvVar, "8080")
	if !strings.HasPrefix(port, ":") {
		port = fmt.Sprintf(":%s", port)
	}
	return port
}

func (EnvVars) GetAppName() string {
	return GetEnv(appNameVar, "WeCom Session")
}

func (EnvVars) GetEnv() string {
	env := os.Getenv("ENV")
	if env == "" {
		return "DEV"
	}
	return env
}

// GetBackendURL returns the base URL of the REST collaborator serving
// /auth/* and /wechat/js-config (e.g., "https://plans.example.com/api")
func (EnvVars) GetBackendURL() string {
	return strings.TrimSuffix(GetEnv(backendURLVar, "http://localhost:3000/api"), "/")
}

// GetRedisURL returns the Redis URL used for the persistent cache. Empty means
// an in-memory cache that does not survive restarts.
func (EnvVars) GetRedisURL() string {
	return GetEnv(redisURLVar, "")
}

func (EnvVars) GetCachePrefix() string {
	return GetEnv(cachePrefixEnvVar, "wecom")
}

func GetEnv(envVar, defaultValue string) string {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	return value
}

// GetEnvInt reads an integer env var, falling back on a missing or malformed value.
func GetEnvInt(envVar string, defaultValue int) int {
	value, err := strconv.Atoi(os.Getenv(envVar))
	if err != nil {
		return defaultValue
	}
	return value
}

// GetEnvDuration reads a duration env var such as "250ms".
func GetEnvDuration(envVar string, defaultValue time.Duration) time.Duration {
	value, err := time.ParseDuration(os.Getenv(envVar))
	if err != nil {
		return defaultValue
	}
	return value
}

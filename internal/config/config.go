package config

type Config interface {
	EnvConfig
	SDKConfig
	OAuthConfig
}

type EnvConfig interface {
	GetPort() string
	GetAppName() string
	GetEnv() string
	GetBackendURL() string
	GetRedisURL() string
	GetCachePrefix() string
}

type mainConfig struct {
	EnvVars
	SDK
	OAuth
}

func New() Config {
	return mainConfig{}
}

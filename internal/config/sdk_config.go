package config

import "time"

type SDKConfig interface {
	GetScriptURL() string
	GetRetryAttempts() int
	GetRetryBaseDelay() time.Duration
	GetConfigReadyWait() time.Duration
}

type SDK struct{}

var _ SDKConfig = SDK{}

func (SDK) GetScriptURL() string {
	return GetEnv("SDK_SCRIPT_URL", "https://res.wx.qq.com/open/js/jweixin-1.2.0.js")
}

func (SDK) GetRetryAttempts() int {
	return GetEnvInt("SDK_RETRY_ATTEMPTS", 3)
}

func (SDK) GetRetryBaseDelay() time.Duration {
	return GetEnvDuration("SDK_RETRY_BASE_DELAY", 1*time.Second)
}

// GetConfigReadyWait is how long one configure attempt waits for the bridge's
// ready or error callback before it is retried.
func (SDK) GetConfigReadyWait() time.Duration {
	return GetEnvDuration("SDK_CONFIG_READY_WAIT", 5*time.Second)
}

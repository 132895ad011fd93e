// Package environment classifies the runtime hosting the session core from
// user-agent and viewport signals.
package environment

import "strings"

const (
	enterpriseUAToken = "wxwork"
	wechatUAToken     = "micromessenger"

	// mobileViewportWidth is the widest viewport treated as a handset.
	mobileViewportWidth = 768
)

var mobileUATokens = []string{"android", "iphone", "ipad", "ipod", "mobile", "harmonyos"}

// Source provides the raw runtime signals.
type Source interface {
	UserAgent() string
	ViewportWidth() int
	Windowed() bool // a window object is available to host the bridge
}

// Signals is a plain Source.
type Signals struct {
	UA       string
	Viewport int
	Window   bool
}

var _ Source = Signals{}

func (s Signals) UserAgent() string  { return s.UA }
func (s Signals) ViewportWidth() int { return s.Viewport }
func (s Signals) Windowed() bool     { return s.Window }

// Environment describes the hosting runtime. SDKCapable implies EnterpriseWebview.
type Environment struct {
	EnterpriseWebview bool   `json:"enterpriseWebview"`
	Mobile            bool   `json:"mobile"`
	SDKCapable        bool   `json:"sdkCapable"`
	UserAgent         string `json:"userAgent"`
	OS                string `json:"os"`
	Browser           string `json:"browser"`
}

// Compute classifies src. It performs no I/O and caches nothing, so it can be
// called again whenever the signals may have changed.
func Compute(src Source) Environment {
	if src == nil {
		return Environment{OS: "unknown", Browser: "unknown"}
	}
	ua := src.UserAgent()
	lowerUA := strings.ToLower(ua)

	enterprise := strings.Contains(lowerUA, enterpriseUAToken)
	return Environment{
		EnterpriseWebview: enterprise,
		Mobile:            isMobile(lowerUA, src.ViewportWidth()),
		SDKCapable:        enterprise && src.Windowed(),
		UserAgent:         ua,
		OS:                detectOS(lowerUA),
		Browser:           detectBrowser(lowerUA),
	}
}

func isMobile(lowerUA string, viewport int) bool {
	for _, token := range mobileUATokens {
		if strings.Contains(lowerUA, token) {
			return true
		}
	}
	return viewport > 0 && viewport <= mobileViewportWidth
}

func detectOS(lowerUA string) string {
	switch {
	case strings.Contains(lowerUA, "harmonyos"):
		return "HarmonyOS"
	case strings.Contains(lowerUA, "iphone"), strings.Contains(lowerUA, "ipad"), strings.Contains(lowerUA, "ipod"):
		return "iOS"
	case strings.Contains(lowerUA, "android"):
		return "Android"
	case strings.Contains(lowerUA, "windows"):
		return "Windows"
	case strings.Contains(lowerUA, "mac os"), strings.Contains(lowerUA, "macintosh"):
		return "macOS"
	case strings.Contains(lowerUA, "linux"):
		return "Linux"
	}
	return "unknown"
}

// Order matters: WeCom UAs also carry the WeChat token, and Chrome UAs carry Safari.
func detectBrowser(lowerUA string) string {
	switch {
	case strings.Contains(lowerUA, enterpriseUAToken):
		return "WeCom"
	case strings.Contains(lowerUA, wechatUAToken):
		return "WeChat"
	case strings.Contains(lowerUA, "edg/"):
		return "Edge"
	case strings.Contains(lowerUA, "chrome/"):
		return "Chrome"
	case strings.Contains(lowerUA, "firefox/"):
		return "Firefox"
	case strings.Contains(lowerUA, "safari/"):
		return "Safari"
	}
	return "unknown"
}

package browser

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"regexp"
	"strings"
)

//go:embed evasions.js
var evasionsJS string

// UserAgents is the pool of desktop Chrome user agents a fallback session
// presents as.
var UserAgents = []string{
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/130.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/130.0.0.0 Safari/537.36",
}

var chromeVersionRe = regexp.MustCompile(`Chrome/(\d+)\.`)

// Identity is the browser fingerprint a fallback session presents. It is
// chosen once per session and every override is derived from it so the
// signals agree with each other.
type Identity struct {
	UserAgent           string   `json:"-"`
	Platform            string   `json:"-"`
	ChromeMajor         string   `json:"-"`
	Locale              string   `json:"-"`
	Timezone            string   `json:"-"`
	ScreenWidth         int      `json:"-"`
	ScreenHeight        int      `json:"-"`
	NavigatorPlatform   string   `json:"navigatorPlatform"`
	Languages           []string `json:"languages"`
	HardwareConcurrency int      `json:"hardwareConcurrency"`
	DeviceMemory        int      `json:"deviceMemory"`
	RTT                 int      `json:"rtt"`
	WebGLVendor         string   `json:"webglVendor"`
	WebGLRenderer       string   `json:"webglRenderer"`
}

// SelectIdentity picks a user agent uniformly from UserAgents and derives
// the rest of the identity from it. It has no side effects; the caller
// owns the random source.
func SelectIdentity(r *rand.Rand) Identity {
	return IdentityFor(UserAgents[r.IntN(len(UserAgents))])
}

// IdentityFor derives an Identity from a user agent string.
func IdentityFor(ua string) Identity {
	id := Identity{
		UserAgent:           ua,
		Platform:            "macOS",
		ChromeMajor:         "131",
		Locale:              "en-US",
		Timezone:            "America/New_York",
		ScreenWidth:         1920,
		ScreenHeight:        1080,
		NavigatorPlatform:   "MacIntel",
		Languages:           []string{"en-US", "en"},
		HardwareConcurrency: 8,
		DeviceMemory:        8,
		RTT:                 50,
		WebGLVendor:         "Google Inc. (Apple)",
		WebGLRenderer:       "ANGLE (Apple, ANGLE Metal Renderer: Apple M1 Pro, Unspecified Version)",
	}
	if m := chromeVersionRe.FindStringSubmatch(ua); m != nil {
		id.ChromeMajor = m[1]
	}
	if strings.Contains(ua, "Windows") {
		id.Platform = "Windows"
		id.NavigatorPlatform = "Win32"
		id.WebGLVendor = "Google Inc. (Intel)"
		id.WebGLRenderer = "ANGLE (Intel, Intel(R) UHD Graphics 630 (0x00003E9B) Direct3D11 vs_5_0 ps_5_0, D3D11)"
	}
	return id
}

// ClientHintHeaders returns the extra HTTP headers that match the
// identity's user agent.
func (id Identity) ClientHintHeaders() map[string]string {
	return map[string]string{
		"Accept-Language":    "en-US,en;q=0.9",
		"sec-ch-ua":          fmt.Sprintf(`"Google Chrome";v="%[1]s", "Chromium";v="%[1]s", "Not_A Brand";v="24"`, id.ChromeMajor),
		"sec-ch-ua-mobile":   "?0",
		"sec-ch-ua-platform": fmt.Sprintf(`"%s"`, id.Platform),
	}
}

// EvasionScript returns the init script that hides automation signals.
// It must be installed on the browser context before any page exists.
func (id Identity) EvasionScript() string {
	cfg, err := json.Marshal(id)
	if err != nil {
		// Identity only holds strings and ints
		panic(fmt.Sprintf("browser: encode identity: %v", err))
	}
	return "(" + strings.TrimSpace(evasionsJS) + ")(" + string(cfg) + ");"
}

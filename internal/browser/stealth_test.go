package browser

import (
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectIdentityIsDeterministicForSeed(t *testing.T) {
	a := SelectIdentity(rand.New(rand.NewPCG(7, 11)))
	b := SelectIdentity(rand.New(rand.NewPCG(7, 11)))
	assert.Equal(t, a, b)
	assert.Contains(t, UserAgents, a.UserAgent)
}

func TestSelectIdentityCoversPool(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	seen := make(map[string]bool)
	for i := 0; i < 500; i++ {
		seen[SelectIdentity(r).UserAgent] = true
	}
	assert.Len(t, seen, len(UserAgents))
}

func TestIdentityForPlatforms(t *testing.T) {
	mac := IdentityFor(UserAgents[1])
	assert.Equal(t, "macOS", mac.Platform)
	assert.Equal(t, "MacIntel", mac.NavigatorPlatform)
	assert.Equal(t, "130", mac.ChromeMajor)
	assert.Contains(t, mac.WebGLRenderer, "Apple")

	win := IdentityFor(UserAgents[2])
	assert.Equal(t, "Windows", win.Platform)
	assert.Equal(t, "Win32", win.NavigatorPlatform)
	assert.Equal(t, "131", win.ChromeMajor)
	assert.Contains(t, win.WebGLVendor, "Intel")

	for _, id := range []Identity{mac, win} {
		assert.Equal(t, "en-US", id.Locale)
		assert.Equal(t, "America/New_York", id.Timezone)
		assert.Equal(t, 1920, id.ScreenWidth)
		assert.Equal(t, 1080, id.ScreenHeight)
		assert.Equal(t, []string{"en-US", "en"}, id.Languages)
	}
}

func TestClientHintsMatchUserAgent(t *testing.T) {
	h := IdentityFor(UserAgents[3]).ClientHintHeaders()
	assert.Equal(t, `"Windows"`, h["sec-ch-ua-platform"])
	assert.Equal(t, "?0", h["sec-ch-ua-mobile"])
	assert.Contains(t, h["sec-ch-ua"], `"Google Chrome";v="130"`)
	assert.Contains(t, h["sec-ch-ua"], `"Chromium";v="130"`)
	assert.Equal(t, "en-US,en;q=0.9", h["Accept-Language"])

	mac := IdentityFor(UserAgents[0]).ClientHintHeaders()
	assert.Equal(t, `"macOS"`, mac["sec-ch-ua-platform"])
}

func TestEvasionScriptCoversOverrides(t *testing.T) {
	script := IdentityFor(UserAgents[0]).EvasionScript()

	require.True(t, strings.HasPrefix(script, "((cfg) =>"))
	require.True(t, strings.HasSuffix(script, ");"))

	for _, want := range []string{
		"'webdriver'",
		"'plugins'",
		"'languages'",
		"permissions.query",
		"cdc_",
		"37445",
		"37446",
		"WebGL2RenderingContext",
		"'hardwareConcurrency'",
		"'deviceMemory'",
		"'rtt'",
		"attachShadow",
		"chrome.runtime",
		`"hardwareConcurrency":8`,
		`"languages":["en-US","en"]`,
		`"webglVendor":"Google Inc. (Apple)"`,
	} {
		assert.Contains(t, script, want)
	}
	assert.NotContains(t, script, "Mozilla/5.0", "user agent is set on the context, not in script")
}

// Package browser launches the capture browser for a revapi session.
// It owns the launch strategy, the isolated profile copy, the fingerprint
// evasion profile and the drivers that speak to Chrome.
package browser

import "time"

const (
	// DefaultPollInterval is the page-count polling period while a session waits.
	DefaultPollInterval = 100 * time.Millisecond

	// DefaultNavigationTimeout bounds the initial navigation to the start URL.
	DefaultNavigationTimeout = 30 * time.Second

	// chromeChannel selects the installed Google Chrome in Playwright.
	chromeChannel = "chrome"
)

// Driver names for the real-browser path. The fallback path always uses
// Playwright because it needs context-level init scripts.
const (
	// DriverPlaywright launches Chrome through the Playwright driver.
	DriverPlaywright = "playwright"

	// DriverCDP launches Chrome directly and speaks DevTools protocol.
	DriverCDP = "cdp"
)

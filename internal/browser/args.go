package browser

import "runtime"

// ignoredDefaultArgs are Playwright defaults that mark the browser as
// automated or weaken it.
var ignoredDefaultArgs = []string{"--enable-automation", "--no-sandbox"}

// realBrowserArgs are passed when launching the user's installed Chrome.
func realBrowserArgs() []string {
	return []string{
		"--start-maximized",
		"--disable-blink-features=AutomationControlled",
	}
}

// fallbackArgs are passed to the bundled Chromium. They suppress the
// background services and first-run UI that make a fresh automated
// instance stand out.
func fallbackArgs() []string {
	args := []string{
		"--disable-blink-features=AutomationControlled",
		"--disable-infobars",
		"--disable-background-timer-throttling",
		"--disable-backgrounding-occluded-windows",
		"--disable-renderer-backgrounding",
		"--disable-breakpad",
		"--disable-client-side-phishing-detection",
		"--disable-component-extensions-with-background-pages",
		"--disable-component-update",
		"--disable-default-apps",
		"--disable-dev-shm-usage",
		"--disable-domain-reliability",
		"--disable-extensions",
		"--disable-features=TranslateUI,OptimizationHints,MediaRouter,DialMediaRouteProvider",
		"--disable-hang-monitor",
		"--disable-ipc-flooding-protection",
		"--disable-popup-blocking",
		"--disable-prompt-on-repost",
		"--disable-sync",
		"--disable-webrtc-hw-decoding",
		"--disable-webrtc-hw-encoding",
		"--metrics-recording-only",
		"--no-first-run",
		"--no-default-browser-check",
		"--no-service-autorun",
		"--disable-search-engine-choice-screen",
		"--autoplay-policy=user-gesture-required",
		"--password-store=basic",
		"--use-mock-keychain",
		"--start-maximized",
	}
	if runtime.GOOS == "linux" {
		args = append(args, "--disable-gpu-sandbox")
	}
	return args
}

// cdpFlags maps realBrowserArgs onto chromedp allocator flags.
func cdpFlags() map[string]any {
	return map[string]any{
		"start-maximized":           true,
		"disable-blink-features":    "AutomationControlled",
		"no-first-run":              true,
		"no-default-browser-check":  true,
		"hide-crash-restore-bubble": true,
	}
}

package browser

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config is the browser section of the revapi config.
type Config struct {
	// PreferRealBrowser launches the installed Chrome with a copy of the
	// user's profile when that profile exists.
	PreferRealBrowser bool `json:"preferRealBrowser" yaml:"prefer_real_browser"`

	// RealBrowserDriver is DriverPlaywright or DriverCDP.
	RealBrowserDriver string `json:"realBrowserDriver,omitempty" yaml:"real_browser_driver,omitempty"`

	// ExecutablePath is the Chrome binary for the real-browser path. It
	// replaces auto-detection for cdp and the chrome channel for playwright.
	ExecutablePath string `json:"executablePath,omitempty" yaml:"executable_path,omitempty"`

	// ProfileDir overrides the platform Chrome user data directory.
	ProfileDir string `json:"profileDir,omitempty" yaml:"profile_dir,omitempty"`

	// PollInterval is how often the session checks for open pages.
	PollInterval time.Duration `json:"pollInterval,omitempty" yaml:"poll_interval,omitempty"`

	// NavigationTimeout bounds the initial navigation.
	NavigationTimeout time.Duration `json:"navigationTimeout,omitempty" yaml:"navigation_timeout,omitempty"`

	// InstallBrowsers downloads the Playwright driver and Chromium on start.
	InstallBrowsers bool `json:"installBrowsers" yaml:"install_browsers"`
}

// ResolvedConfig is the browser configuration with defaults and paths applied.
type ResolvedConfig struct {
	PreferRealBrowser bool
	RealBrowserDriver string
	ExecutablePath    string
	ProfileDir        string
	PollInterval      time.Duration
	NavigationTimeout time.Duration
	InstallBrowsers   bool
}

// DefaultConfig returns the default browser configuration.
func DefaultConfig() Config {
	return Config{
		PreferRealBrowser: true,
		RealBrowserDriver: DriverPlaywright,
		PollInterval:      DefaultPollInterval,
		NavigationTimeout: DefaultNavigationTimeout,
		InstallBrowsers:   true,
	}
}

// ResolveConfig fills in defaults and expands paths.
func ResolveConfig(cfg Config) (*ResolvedConfig, error) {
	resolved := &ResolvedConfig{
		PreferRealBrowser: cfg.PreferRealBrowser,
		RealBrowserDriver: strings.ToLower(strings.TrimSpace(cfg.RealBrowserDriver)),
		ExecutablePath:    expandHome(cfg.ExecutablePath),
		ProfileDir:        expandHome(cfg.ProfileDir),
		PollInterval:      cfg.PollInterval,
		NavigationTimeout: cfg.NavigationTimeout,
		InstallBrowsers:   cfg.InstallBrowsers,
	}

	switch resolved.RealBrowserDriver {
	case "":
		resolved.RealBrowserDriver = DriverPlaywright
	case DriverPlaywright, DriverCDP:
	default:
		return nil, fmt.Errorf("unknown real browser driver %q (want %s or %s)", cfg.RealBrowserDriver, DriverPlaywright, DriverCDP)
	}

	if resolved.PollInterval <= 0 {
		resolved.PollInterval = DefaultPollInterval
	}
	if resolved.NavigationTimeout <= 0 {
		resolved.NavigationTimeout = DefaultNavigationTimeout
	}
	if resolved.ProfileDir == "" {
		dir, err := DefaultUserDataDir()
		if err != nil {
			return nil, err
		}
		resolved.ProfileDir = dir
	}

	return resolved, nil
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path
}

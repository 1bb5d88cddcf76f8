package browser

import (
	"context"
	"log/slog"
	"time"
)

// Driver is the automation backend a session launches its browser with.
// Implementations are not safe for concurrent launches; one session owns
// one driver.
type Driver interface {
	Name() string

	// Start brings up the controlling connection. Calling it twice is a no-op.
	Start(ctx context.Context) error

	// LaunchPersistent launches a browser bound to a user data dir. The
	// returned context owns the browser: closing it closes the browser.
	LaunchPersistent(ctx context.Context, opts PersistentOptions) (Context, error)

	// LaunchEphemeral launches a throwaway browser and one recording
	// context in it. The browser is returned even when context creation
	// fails so the caller can close it.
	LaunchEphemeral(ctx context.Context, opts EphemeralOptions) (Browser, Context, error)

	// Stop tears down the controlling connection.
	Stop() error
}

// Browser is a top-level browser process launched by LaunchEphemeral.
type Browser interface {
	Close() error
}

// Context is the recording browser context. Closing it finalizes the
// capture archive.
type Context interface {
	// Pages returns how many pages are open. An error means the browser
	// is gone and is treated like zero pages.
	Pages() (int, error)

	// EnsurePage returns the first open page, creating one if none exist.
	EnsurePage() (Page, error)

	Close() error
}

// Page is an open tab.
type Page interface {
	Goto(url string, timeout time.Duration) error
}

// PersistentOptions configures LaunchPersistent.
type PersistentOptions struct {
	UserDataDir       string
	HARPath           string
	ExecutablePath    string
	Args              []string
	IgnoreDefaultArgs []string
}

// EphemeralOptions configures LaunchEphemeral.
type EphemeralOptions struct {
	HARPath           string
	Args              []string
	IgnoreDefaultArgs []string
	Identity          Identity

	// InitScripts run in every page of the context, before page scripts.
	InitScripts []string
}

// NewDriver builds the driver registered under name.
func NewDriver(name string, cfg *ResolvedConfig, logger *slog.Logger) Driver {
	if name == DriverCDP {
		return NewCDPDriver(cfg.ExecutablePath, logger)
	}
	return NewPlaywrightDriver(cfg.InstallBrowsers, logger)
}

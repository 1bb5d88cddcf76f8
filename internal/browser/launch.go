package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrLaunch wraps every failure that prevents a recording context from
// existing.
var ErrLaunch = errors.New("browser launch failed")

// Strategy is how a session gets its browser.
type Strategy string

const (
	// StrategyRealBrowser launches the installed Chrome on a copy of the
	// user's profile.
	StrategyRealBrowser Strategy = "real-browser"

	// StrategyFallback launches the bundled Chromium with fingerprint evasion.
	StrategyFallback Strategy = "fallback"
)

// HandleKind tells teardown whether a separate browser object exists.
type HandleKind int

const (
	// HandleEphemeral has a browser closed separately from its context.
	HandleEphemeral HandleKind = iota

	// HandlePersistent has its browser lifetime tied to the context.
	HandlePersistent
)

func (k HandleKind) String() string {
	if k == HandlePersistent {
		return "persistent"
	}
	return "ephemeral"
}

// Handle is everything a launch produced. After a failed launch it holds
// whatever was started so teardown can release it; unset fields were
// never created.
type Handle struct {
	Kind     HandleKind
	Strategy Strategy
	Driver   Driver
	Browser  Browser
	Context  Context
	Profile  *IsolatedProfile
}

// LaunchRequest is the per-session input to Launch.
type LaunchRequest struct {
	HARPath           string
	StartURL          string
	PreferRealBrowser bool
	Identity          Identity
}

// Launcher chooses and executes a launch strategy.
type Launcher struct {
	cfg      *ResolvedConfig
	real     Driver
	fallback Driver
	profiles *ProfileIsolator
	logger   *slog.Logger
}

// NewLauncher wires a launcher. real serves the real-browser path and
// fallback the bundled-Chromium path; they may be the same driver.
func NewLauncher(cfg *ResolvedConfig, real, fallback Driver, profiles *ProfileIsolator, logger *slog.Logger) *Launcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Launcher{
		cfg:      cfg,
		real:     real,
		fallback: fallback,
		profiles: profiles,
		logger:   logger.With("component", "launcher"),
	}
}

// NewDefaultLauncher builds drivers and the profile isolator from config.
func NewDefaultLauncher(cfg *ResolvedConfig, logger *slog.Logger) *Launcher {
	fallback := NewPlaywrightDriver(cfg.InstallBrowsers, logger)
	real := Driver(fallback)
	if cfg.RealBrowserDriver == DriverCDP {
		real = NewDriver(DriverCDP, cfg, logger)
	}
	return NewLauncher(cfg, real, fallback, &ProfileIsolator{Source: cfg.ProfileDir}, logger)
}

// Select picks the strategy. Only an absent real profile downgrades a
// real-browser preference.
func (l *Launcher) Select(preferReal bool) Strategy {
	if !preferReal {
		return StrategyFallback
	}
	if l.profiles == nil || !l.profiles.Available() {
		source := ""
		if l.profiles != nil {
			source = l.profiles.Source
		}
		l.logger.Info("real browser profile not found, falling back to bundled browser", "profile_dir", source)
		return StrategyFallback
	}
	return StrategyRealBrowser
}

// Launch starts a browser with a recording context and one page. The
// returned handle is never nil.
func (l *Launcher) Launch(ctx context.Context, req LaunchRequest) (*Handle, error) {
	h := &Handle{Strategy: l.Select(req.PreferRealBrowser)}

	var err error
	if h.Strategy == StrategyRealBrowser {
		err = l.launchReal(ctx, req, h)
	} else {
		err = l.launchFallback(ctx, req, h)
	}
	if err != nil {
		return h, fmt.Errorf("%w: %w", ErrLaunch, err)
	}

	page, err := h.Context.EnsurePage()
	if err != nil {
		return h, fmt.Errorf("%w: open page: %w", ErrLaunch, err)
	}

	if req.StartURL != "" {
		if err := page.Goto(req.StartURL, l.cfg.NavigationTimeout); err != nil {
			l.logger.Warn("initial navigation failed, continuing", "url", req.StartURL, "error", err)
		}
	}

	l.logger.Info("browser launched",
		"strategy", h.Strategy,
		"driver", h.Driver.Name(),
		"handle", h.Kind.String())
	return h, nil
}

func (l *Launcher) launchReal(ctx context.Context, req LaunchRequest, h *Handle) error {
	h.Kind = HandlePersistent

	profile, err := l.profiles.Isolate(ctx)
	if err != nil {
		return err
	}
	h.Profile = profile
	l.logger.Debug("profile copied", "dir", profile.Dir, "files", profile.Files, "bytes", profile.Bytes)

	if err := l.real.Start(ctx); err != nil {
		return fmt.Errorf("start %s driver: %w", l.real.Name(), err)
	}
	h.Driver = l.real

	bctx, err := l.real.LaunchPersistent(ctx, PersistentOptions{
		UserDataDir:       profile.Dir,
		HARPath:           req.HARPath,
		ExecutablePath:    l.cfg.ExecutablePath,
		Args:              realBrowserArgs(),
		IgnoreDefaultArgs: ignoredDefaultArgs,
	})
	if err != nil {
		return err
	}
	h.Context = bctx
	return nil
}

func (l *Launcher) launchFallback(ctx context.Context, req LaunchRequest, h *Handle) error {
	h.Kind = HandleEphemeral

	if err := l.fallback.Start(ctx); err != nil {
		return fmt.Errorf("start %s driver: %w", l.fallback.Name(), err)
	}
	h.Driver = l.fallback

	b, bctx, err := l.fallback.LaunchEphemeral(ctx, EphemeralOptions{
		HARPath:           req.HARPath,
		Args:              fallbackArgs(),
		IgnoreDefaultArgs: ignoredDefaultArgs,
		Identity:          req.Identity,
		InitScripts:       []string{req.Identity.EvasionScript()},
	})
	h.Browser = b
	h.Context = bctx
	return err
}

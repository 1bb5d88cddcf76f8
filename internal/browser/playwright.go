package browser

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/playwright-community/playwright-go"
)

// PlaywrightDriver drives Chrome through the Playwright node driver. HAR
// recording is done by Playwright itself and written on context close.
type PlaywrightDriver struct {
	install bool
	logger  *slog.Logger
	pw      *playwright.Playwright
}

// NewPlaywrightDriver returns a driver that is started lazily by Start.
func NewPlaywrightDriver(install bool, logger *slog.Logger) *PlaywrightDriver {
	if logger == nil {
		logger = slog.Default()
	}
	return &PlaywrightDriver{
		install: install,
		logger:  logger.With("component", "playwright"),
	}
}

// InstallPlaywright downloads the Playwright driver and bundled Chromium.
func InstallPlaywright() error {
	if err := playwright.Install(&playwright.RunOptions{Browsers: []string{"chromium"}}); err != nil {
		return fmt.Errorf("failed to install playwright browsers: %w", err)
	}
	return nil
}

func (d *PlaywrightDriver) Name() string { return DriverPlaywright }

func (d *PlaywrightDriver) Start(ctx context.Context) error {
	if d.pw != nil {
		return nil
	}
	if d.install {
		if err := InstallPlaywright(); err != nil {
			return err
		}
	}
	pw, err := playwright.Run()
	if err != nil {
		return fmt.Errorf("failed to start playwright: %w", err)
	}
	d.pw = pw
	return nil
}

func (d *PlaywrightDriver) LaunchPersistent(ctx context.Context, o PersistentOptions) (Context, error) {
	if d.pw == nil {
		return nil, fmt.Errorf("playwright driver not started")
	}

	opts := playwright.BrowserTypeLaunchPersistentContextOptions{
		Channel:           playwright.String(chromeChannel),
		Headless:          playwright.Bool(false),
		Args:              o.Args,
		IgnoreDefaultArgs: o.IgnoreDefaultArgs,
		NoViewport:        playwright.Bool(true),
		RecordHarPath:     playwright.String(o.HARPath),
		RecordHarContent:  playwright.HarContentPolicyEmbed,
		RecordHarMode:     playwright.HarModeFull,
	}
	if o.ExecutablePath != "" {
		opts.Channel = nil
		opts.ExecutablePath = playwright.String(o.ExecutablePath)
	}

	bctx, err := d.pw.Chromium.LaunchPersistentContext(o.UserDataDir, opts)
	if err != nil {
		return nil, fmt.Errorf("launch chrome: %w", err)
	}
	return newPWContext(bctx, nil), nil
}

func (d *PlaywrightDriver) LaunchEphemeral(ctx context.Context, o EphemeralOptions) (Browser, Context, error) {
	if d.pw == nil {
		return nil, nil, fmt.Errorf("playwright driver not started")
	}

	b, err := d.pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless:          playwright.Bool(false),
		Args:              o.Args,
		IgnoreDefaultArgs: o.IgnoreDefaultArgs,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("launch chromium: %w", err)
	}
	browser := &pwBrowser{b: b}

	id := o.Identity
	bctx, err := b.NewContext(playwright.BrowserNewContextOptions{
		UserAgent:        playwright.String(id.UserAgent),
		Locale:           playwright.String(id.Locale),
		TimezoneId:       playwright.String(id.Timezone),
		Screen:           &playwright.Size{Width: id.ScreenWidth, Height: id.ScreenHeight},
		NoViewport:       playwright.Bool(true),
		ColorScheme:      playwright.ColorSchemeLight,
		ReducedMotion:    playwright.ReducedMotionNoPreference,
		ForcedColors:     playwright.ForcedColorsNone,
		ExtraHttpHeaders: id.ClientHintHeaders(),
		RecordHarPath:    playwright.String(o.HARPath),
		RecordHarContent: playwright.HarContentPolicyEmbed,
		RecordHarMode:    playwright.HarModeFull,
	})
	if err != nil {
		return browser, nil, fmt.Errorf("create context: %w", err)
	}
	c := newPWContext(bctx, b)

	// Installed before any page exists so the first page gets them too
	for _, script := range o.InitScripts {
		if err := bctx.AddInitScript(playwright.Script{Content: playwright.String(script)}); err != nil {
			return browser, c, fmt.Errorf("add init script: %w", err)
		}
	}
	return browser, c, nil
}

func (d *PlaywrightDriver) Stop() error {
	if d.pw == nil {
		return nil
	}
	err := d.pw.Stop()
	d.pw = nil
	return err
}

type pwBrowser struct {
	b playwright.Browser
}

func (b *pwBrowser) Close() error {
	return b.b.Close()
}

type pwContext struct {
	ctx  playwright.BrowserContext
	gone atomic.Bool
}

func newPWContext(bctx playwright.BrowserContext, b playwright.Browser) *pwContext {
	c := &pwContext{ctx: bctx}
	bctx.OnClose(func(playwright.BrowserContext) {
		c.gone.Store(true)
	})
	if b != nil {
		b.OnDisconnected(func(playwright.Browser) {
			c.gone.Store(true)
		})
	}
	return c
}

func (c *pwContext) Pages() (int, error) {
	if c.gone.Load() {
		return 0, nil
	}
	return len(c.ctx.Pages()), nil
}

func (c *pwContext) EnsurePage() (Page, error) {
	if pages := c.ctx.Pages(); len(pages) > 0 {
		return &pwPage{page: pages[0]}, nil
	}
	p, err := c.ctx.NewPage()
	if err != nil {
		return nil, err
	}
	return &pwPage{page: p}, nil
}

// Close flushes the HAR file. For a persistent context it also closes
// the browser.
func (c *pwContext) Close() error {
	return c.ctx.Close()
}

type pwPage struct {
	page playwright.Page
}

func (p *pwPage) Goto(url string, timeout time.Duration) error {
	_, err := p.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(float64(timeout.Milliseconds())),
	})
	return err
}

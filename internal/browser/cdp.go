package browser

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"

	"github.com/neboloop/revapi/internal/capture"
)

// bodyFlushTimeout bounds how long Close waits for in-flight response
// body fetches before writing the archive.
const bodyFlushTimeout = 5 * time.Second

// CDPDriver launches the installed Chrome directly and records traffic
// from DevTools network events. It only serves the real-browser path:
// tabs the user opens are attached after creation, so their first
// requests may be missed.
type CDPDriver struct {
	execPath string
	logger   *slog.Logger

	exe         *BrowserExecutable
	allocCancel context.CancelFunc
}

// NewCDPDriver returns a driver for the Chrome at execPath, or the
// detected Chrome when execPath is empty.
func NewCDPDriver(execPath string, logger *slog.Logger) *CDPDriver {
	if logger == nil {
		logger = slog.Default()
	}
	return &CDPDriver{
		execPath: execPath,
		logger:   logger.With("component", "cdp"),
	}
}

func (d *CDPDriver) Name() string { return DriverCDP }

// Start resolves the Chrome binary. The browser itself starts on launch.
func (d *CDPDriver) Start(ctx context.Context) error {
	if d.exe != nil {
		return nil
	}
	exe, err := FindChromeExecutable(d.execPath)
	if err != nil {
		return err
	}
	d.exe = exe
	d.logger.Debug("using chrome", "kind", exe.Kind, "path", exe.Path)
	return nil
}

func (d *CDPDriver) LaunchPersistent(ctx context.Context, o PersistentOptions) (Context, error) {
	if d.exe == nil {
		return nil, fmt.Errorf("cdp driver not started")
	}

	opts := []chromedp.ExecAllocatorOption{
		chromedp.ExecPath(d.exe.Path),
		chromedp.UserDataDir(o.UserDataDir),
	}
	for name, value := range cdpFlags() {
		opts = append(opts, chromedp.Flag(name, value))
	}

	// Not derived from ctx: an interrupt must not kill the browser before
	// the archive is written.
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	d.allocCancel = allocCancel

	browserCtx, cancel := chromedp.NewContext(allocCtx,
		chromedp.WithErrorf(func(format string, args ...any) {
			d.logger.Debug(fmt.Sprintf(format, args...))
		}))

	c := &cdpContext{
		browserCtx: browserCtx,
		cancel:     cancel,
		harPath:    o.HARPath,
		rec:        capture.NewRecorder(capture.DefaultCreator()),
		attached:   make(map[target.ID]bool),
		logger:     d.logger,
	}
	if err := c.start(); err != nil {
		cancel()
		return nil, fmt.Errorf("launch chrome: %w", err)
	}
	return c, nil
}

func (d *CDPDriver) LaunchEphemeral(ctx context.Context, o EphemeralOptions) (Browser, Context, error) {
	return nil, nil, fmt.Errorf("cdp driver only supports the real-browser path")
}

// Stop kills the browser process if it is still running and waits for it.
func (d *CDPDriver) Stop() error {
	if d.allocCancel != nil {
		d.allocCancel()
		d.allocCancel = nil
	}
	return nil
}

type cdpContext struct {
	browserCtx context.Context
	cancel     context.CancelFunc
	harPath    string
	rec        *capture.Recorder
	logger     *slog.Logger

	mu       sync.Mutex
	attached map[target.ID]bool
	closed   bool
	bodies   sync.WaitGroup
}

const initialTab = "tab-0"

func (c *cdpContext) start() error {
	chromedp.ListenTarget(c.browserCtx, c.listener(c.browserCtx, initialTab))

	// First Run allocates the browser and attaches to its initial tab
	if err := chromedp.Run(c.browserCtx, network.Enable()); err != nil {
		return err
	}
	if t := chromedp.FromContext(c.browserCtx).Target; t != nil {
		c.markAttached(t.TargetID)
	}

	chromedp.ListenBrowser(c.browserCtx, func(ev any) {
		if e, ok := ev.(*target.EventTargetCreated); ok && e.TargetInfo != nil && e.TargetInfo.Type == "page" {
			go c.attach(e.TargetInfo.TargetID)
		}
	})

	return chromedp.Run(c.browserCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		return target.SetDiscoverTargets(true).Do(cdp.WithExecutor(ctx, chromedp.FromContext(ctx).Browser))
	}))
}

func (c *cdpContext) markAttached(id target.ID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.attached[id] {
		return false
	}
	c.attached[id] = true
	return true
}

// attach starts recording a tab the user opened.
func (c *cdpContext) attach(id target.ID) {
	if !c.markAttached(id) {
		return
	}
	// The tab context is released with the browser context.
	tabCtx, _ := chromedp.NewContext(c.browserCtx, chromedp.WithTargetID(id))
	chromedp.ListenTarget(tabCtx, c.listener(tabCtx, string(id)))
	if err := chromedp.Run(tabCtx, network.Enable()); err != nil {
		c.logger.Debug("failed to attach tab", "target", id, "error", err)
	}
}

func (c *cdpContext) listener(tabCtx context.Context, tab string) func(ev any) {
	return func(ev any) {
		switch e := ev.(type) {
		case *network.EventRequestWillBeSent:
			c.rec.RequestWillBeSent(tab, e)
		case *network.EventResponseReceived:
			c.rec.ResponseReceived(tab, e)
		case *network.EventLoadingFinished:
			if c.rec.LoadingFinished(tab, e) {
				c.fetchBody(tabCtx, tab, e.RequestID)
			}
		case *network.EventLoadingFailed:
			c.rec.LoadingFailed(tab, e)
		}
	}
}

// fetchBody runs off the event goroutine; issuing a command from a
// listener would deadlock it.
func (c *cdpContext) fetchBody(tabCtx context.Context, tab string, id network.RequestID) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.bodies.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.bodies.Done()
		var body []byte
		err := chromedp.Run(tabCtx, chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			body, err = network.GetResponseBody(id).Do(ctx)
			return err
		}))
		if err != nil {
			// redirects, 204s and evicted resources have no body
			return
		}
		c.rec.SetBody(tab, id, body)
	}()
}

func (c *cdpContext) Pages() (int, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return 0, nil
	}

	infos, err := chromedp.Targets(c.browserCtx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, info := range infos {
		if info.Type == "page" {
			n++
		}
	}
	return n, nil
}

func (c *cdpContext) EnsurePage() (Page, error) {
	return &cdpPage{ctx: c.browserCtx}, nil
}

// Close writes the archive, then closes the browser gracefully.
func (c *cdpContext) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.bodies.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(bodyFlushTimeout):
		c.logger.Warn("timed out waiting for response bodies", "timeout", bodyFlushTimeout)
	}

	err := c.rec.Flush(c.harPath)
	if cerr := chromedp.Cancel(c.browserCtx); cerr != nil && err == nil {
		err = fmt.Errorf("close browser: %w", cerr)
	}
	c.cancel()
	return err
}

type cdpPage struct {
	ctx context.Context
}

func (p *cdpPage) Goto(url string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(p.ctx, timeout)
	defer cancel()
	return chromedp.Run(ctx, chromedp.Navigate(url))
}

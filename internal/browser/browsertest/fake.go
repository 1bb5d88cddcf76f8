// Package browsertest provides in-memory browser drivers for tests. The
// fakes record every call in a shared CallLog so tests can assert ordering
// across driver, browser and context.
package browsertest

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/neboloop/revapi/internal/browser"
)

// CallLog is an ordered, concurrency-safe list of call names.
type CallLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *CallLog) Add(format string, args ...any) {
	if l == nil {
		return
	}
	l.mu.Lock()
	l.calls = append(l.calls, fmt.Sprintf(format, args...))
	l.mu.Unlock()
}

func (l *CallLog) Calls() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

// Count returns how many times call was recorded.
func (l *CallLog) Count(call string) int {
	n := 0
	for _, c := range l.Calls() {
		if c == call {
			n++
		}
	}
	return n
}

// Driver is a fake browser.Driver.
type Driver struct {
	Log        *CallLog
	DriverName string

	StartErr   error
	LaunchErr  error
	ContextErr error // ephemeral only: browser launches, context fails
	StopErr    error

	// Context is returned by both launch methods; created on demand.
	Context *Context

	mu             sync.Mutex
	persistentOpts *browser.PersistentOptions
	ephemeralOpts  *browser.EphemeralOptions
	browser        *Browser
}

// NewDriver returns a fake driver sharing log.
func NewDriver(name string, log *CallLog) *Driver {
	return &Driver{Log: log, DriverName: name}
}

func (d *Driver) Name() string { return d.DriverName }

func (d *Driver) Start(ctx context.Context) error {
	d.Log.Add("%s.start", d.DriverName)
	return d.StartErr
}

func (d *Driver) LaunchPersistent(ctx context.Context, o browser.PersistentOptions) (browser.Context, error) {
	d.Log.Add("%s.launch-persistent", d.DriverName)
	d.mu.Lock()
	d.persistentOpts = &o
	d.mu.Unlock()
	if d.LaunchErr != nil {
		return nil, d.LaunchErr
	}
	c := d.context()
	c.HARPath = o.HARPath
	return c, nil
}

func (d *Driver) LaunchEphemeral(ctx context.Context, o browser.EphemeralOptions) (browser.Browser, browser.Context, error) {
	d.Log.Add("%s.launch-ephemeral", d.DriverName)
	d.mu.Lock()
	d.ephemeralOpts = &o
	d.mu.Unlock()
	if d.LaunchErr != nil {
		return nil, nil, d.LaunchErr
	}
	b := &Browser{Log: d.Log}
	d.mu.Lock()
	d.browser = b
	d.mu.Unlock()
	if d.ContextErr != nil {
		return b, nil, d.ContextErr
	}
	c := d.context()
	c.HARPath = o.HARPath
	for range o.InitScripts {
		d.Log.Add("context.init-script")
	}
	c.mu.Lock()
	c.InitScripts = append(c.InitScripts, o.InitScripts...)
	c.mu.Unlock()
	return b, c, nil
}

func (d *Driver) Stop() error {
	d.Log.Add("%s.stop", d.DriverName)
	return d.StopErr
}

func (d *Driver) context() *Context {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Context == nil {
		d.Context = NewContext(d.Log)
	}
	if d.Context.Log == nil {
		d.Context.Log = d.Log
	}
	return d.Context
}

// PersistentOptions returns the options of the last persistent launch.
func (d *Driver) PersistentOptions() *browser.PersistentOptions {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.persistentOpts
}

// EphemeralOptions returns the options of the last ephemeral launch.
func (d *Driver) EphemeralOptions() *browser.EphemeralOptions {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ephemeralOpts
}

// Browser returns the browser of the last ephemeral launch.
func (d *Driver) Browser() *Browser {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.browser
}

// Browser is a fake browser.Browser.
type Browser struct {
	Log      *CallLog
	CloseErr error
}

func (b *Browser) Close() error {
	b.Log.Add("browser.close")
	return b.CloseErr
}

// Context is a fake browser.Context. Close writes an empty archive to
// HARPath the way Playwright flushes on context close.
type Context struct {
	Log      *CallLog
	HARPath  string
	GotoErr  error
	PagesErr error
	CloseErr error

	mu          sync.Mutex
	pages       int
	closed      bool
	visited     []string
	InitScripts []string
}

// NewContext returns a context with no pages.
func NewContext(log *CallLog) *Context {
	return &Context{Log: log}
}

// SetPages simulates the user opening or closing tabs.
func (c *Context) SetPages(n int) {
	c.mu.Lock()
	c.pages = n
	c.mu.Unlock()
}

func (c *Context) Pages() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.PagesErr != nil {
		return 0, c.PagesErr
	}
	if c.closed {
		return 0, nil
	}
	return c.pages, nil
}

func (c *Context) EnsurePage() (browser.Page, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pages == 0 {
		c.pages = 1
		c.Log.Add("context.new-page")
	}
	return &page{ctx: c}, nil
}

func (c *Context) Close() error {
	c.Log.Add("context.close")
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	if c.CloseErr != nil {
		return c.CloseErr
	}
	if c.HARPath != "" {
		body := `{"log":{"version":"1.2","creator":{"name":"browsertest","version":"0"},"entries":[]}}`
		return os.WriteFile(c.HARPath, []byte(body), 0o644)
	}
	return nil
}

// Visited returns the URLs passed to Goto.
func (c *Context) Visited() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.visited...)
}

// Closed reports whether Close was called.
func (c *Context) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type page struct {
	ctx *Context
}

func (p *page) Goto(url string, timeout time.Duration) error {
	p.ctx.Log.Add("page.goto")
	p.ctx.mu.Lock()
	p.ctx.visited = append(p.ctx.visited, url)
	p.ctx.mu.Unlock()
	return p.ctx.GotoErr
}

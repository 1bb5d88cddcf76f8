// Package session drives one capture session from browser launch to a
// finalized archive and its metadata record.
package session

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/neboloop/revapi/internal/browser"
	"github.com/neboloop/revapi/internal/capture"
	"github.com/neboloop/revapi/internal/lifecycle"
)

// ErrAlreadyStarted is returned by Run on a controller that was run or
// closed before.
var ErrAlreadyStarted = errors.New("session already started")

// Launcher starts the browser for a session. *browser.Launcher
// implements it.
type Launcher interface {
	Launch(ctx context.Context, req browser.LaunchRequest) (*browser.Handle, error)
}

// SignalNotifier relays sig to c until stop is called. The default wraps
// signal.Notify.
type SignalNotifier func(c chan<- os.Signal, sig ...os.Signal) (stop func())

func notifySignals(c chan<- os.Signal, sig ...os.Signal) func() {
	signal.Notify(c, sig...)
	return func() { signal.Stop(c) }
}

// Session is the user-facing record of one capture.
type Session struct {
	RunID             string
	Prompt            string
	OutputDir         string
	PreferRealBrowser bool
	StartURL          string
	StartedAt         time.Time
	EndedAt           *time.Time
}

// Options are the inputs of one session.
type Options struct {
	RunID             string
	Prompt            string
	OutputRoot        string
	StartURL          string
	PreferRealBrowser bool

	// PollInterval is how often open pages are counted. Zero means
	// browser.DefaultPollInterval.
	PollInterval time.Duration

	// Rand picks the fallback identity. Nil means a randomly seeded source.
	Rand *rand.Rand

	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

// Option customizes a Controller.
type Option func(*Controller)

// WithSignalNotifier replaces OS signal delivery, mostly for tests.
func WithSignalNotifier(n SignalNotifier) Option {
	return func(c *Controller) { c.notify = n }
}

// WithHooks sets the lifecycle manager transitions are emitted on.
func WithHooks(m *lifecycle.Manager) Option {
	return func(c *Controller) { c.hooks = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// Controller owns the state machine of one session. Run drives it from a
// single goroutine; Close may be called from any goroutine, any number of
// times.
type Controller struct {
	launcher Launcher
	paths    Paths
	identity browser.Identity
	poll     time.Duration
	now      func() time.Time
	notify   SignalNotifier
	hooks    *lifecycle.Manager
	logger   *slog.Logger

	mu          sync.Mutex
	state       State
	session     Session
	handle      *browser.Handle
	cancel      context.CancelFunc
	closing     bool
	interrupted bool
	launched chan struct{}
	closed   chan struct{}
}

// New validates the options, creates the run directories and picks the
// fallback identity. The controller starts in StateInit.
func New(opts Options, launcher Launcher, options ...Option) (*Controller, error) {
	paths, err := NewPaths(opts.OutputRoot, opts.RunID)
	if err != nil {
		return nil, err
	}
	if err := paths.Ensure(); err != nil {
		return nil, err
	}

	r := opts.Rand
	if r == nil {
		r = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}

	c := &Controller{
		launcher: launcher,
		paths:    paths,
		identity: browser.SelectIdentity(r),
		poll:     opts.PollInterval,
		now:      opts.Now,
		notify:   notifySignals,
		hooks:    lifecycle.Default(),
		logger:   slog.Default(),
		state:    StateInit,
		session: Session{
			RunID:             opts.RunID,
			Prompt:            opts.Prompt,
			OutputDir:         paths.Root,
			PreferRealBrowser: opts.PreferRealBrowser,
			StartURL:          opts.StartURL,
		},
		launched: make(chan struct{}),
		closed:   make(chan struct{}),
	}
	if c.poll <= 0 {
		c.poll = browser.DefaultPollInterval
	}
	if c.now == nil {
		c.now = time.Now
	}
	for _, o := range options {
		o(c)
	}
	c.logger = c.logger.With("component", "session", "run_id", opts.RunID)
	return c, nil
}

// Paths returns the run layout.
func (c *Controller) Paths() Paths { return c.paths }

// Identity returns the identity a fallback launch uses.
func (c *Controller) Identity() browser.Identity { return c.identity }

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Session returns a snapshot of the session record.
func (c *Controller) Session() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Run launches the browser, waits until the user closes every page or a
// signal arrives, then tears down and returns the archive path. On launch
// failure it tears down whatever was started and returns the path along
// with the error.
func (c *Controller) Run(ctx context.Context) (string, error) {
	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.mu.Lock()
	if c.state != StateInit || c.closing {
		c.mu.Unlock()
		return "", ErrAlreadyStarted
	}
	c.cancel = cancel
	c.session.StartedAt = c.now()
	c.state = StateLaunching
	sess := c.session
	c.mu.Unlock()
	c.emit(lifecycle.EventSessionLaunching, StateLaunching, "", nil)

	stop := c.watchSignals(waitCtx, cancel)
	defer stop()

	h, err := c.launcher.Launch(waitCtx, browser.LaunchRequest{
		HARPath:           c.paths.HARPath,
		StartURL:          sess.StartURL,
		PreferRealBrowser: sess.PreferRealBrowser,
		Identity:          c.identity,
	})
	c.mu.Lock()
	c.handle = h
	c.mu.Unlock()
	close(c.launched)

	if err != nil {
		c.logger.Error("launch failed", "error", err)
		return c.Close(), err
	}

	if sess.PreferRealBrowser && h.Strategy == browser.StrategyFallback {
		c.emit(lifecycle.EventSessionFallback, StateLaunching, h.Strategy, nil)
	}

	if c.advance(StateActive) {
		c.emit(lifecycle.EventSessionActive, StateActive, h.Strategy, nil)
		c.logger.Info("session active, close all browser tabs or press Ctrl+C to finish")
		c.wait(waitCtx, h.Context)
	}
	return c.Close(), nil
}

// wait blocks until the context has no open pages or ctx is done.
func (c *Controller) wait(ctx context.Context, bctx browser.Context) {
	ticker := time.NewTicker(c.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := bctx.Pages()
			if err != nil {
				c.logger.Debug("page count unavailable, treating browser as closed", "error", err)
				return
			}
			if n == 0 {
				c.logger.Info("all pages closed")
				return
			}
		}
	}
}

// watchSignals cancels the session on the first SIGINT or SIGTERM. Later
// signals are swallowed until stop is called.
func (c *Controller) watchSignals(ctx context.Context, cancel context.CancelFunc) (stop func()) {
	sigCh := make(chan os.Signal, 1)
	unregister := c.notify(sigCh, os.Interrupt, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		defer close(done)
		select {
		case sig := <-sigCh:
			c.logger.Info("received signal, closing session", "signal", sig.String())
			c.mu.Lock()
			c.interrupted = true
			state := c.state
			c.mu.Unlock()
			c.emit(lifecycle.EventSignalReceived, state, "", nil)
			cancel()
		case <-ctx.Done():
		}
	}()

	return func() {
		unregister()
		cancel()
		<-done
	}
}

// advance moves to a pre-closing state unless Close already started or
// a signal asked for shutdown.
func (c *Controller) advance(to State) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closing || c.interrupted || to <= c.state {
		return false
	}
	c.state = to
	return true
}

// Close tears the session down and returns the archive path. Steps run in
// order and each one is best-effort: close the context, which finalizes the
// archive; close the browser if it is ephemeral; stop the driver; write
// the metadata record, even when nothing was launched; remove the isolated
// profile. Calls after the first
// wait for it to finish and return the same path without repeating work.
func (c *Controller) Close() string {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		<-c.closed
		return c.paths.HARPath
	}
	c.closing = true
	launching := c.state == StateLaunching
	cancel := c.cancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	// An in-flight launch sees the cancellation; its handle is torn down
	// once it returns.
	if launching {
		<-c.launched
	}

	c.mu.Lock()
	c.state = StateClosing
	h := c.handle
	c.mu.Unlock()
	c.emit(lifecycle.EventSessionClosing, StateClosing, strategyOf(h), nil)

	c.teardown(h)

	end := c.now()
	c.mu.Lock()
	if c.session.StartedAt.IsZero() {
		c.session.StartedAt = end
	}
	if end.Before(c.session.StartedAt) {
		end = c.session.StartedAt
	}
	c.session.EndedAt = &end
	sess := c.session
	c.mu.Unlock()

	c.persist(h, sess)
	if h != nil {
		if err := h.Profile.Remove(); err != nil {
			c.logger.Warn("failed to remove isolated profile", "dir", h.Profile.Dir, "error", err)
		}
	}

	c.mu.Lock()
	c.state = StateClosed
	c.mu.Unlock()
	c.emit(lifecycle.EventSessionClosed, StateClosed, strategyOf(h), nil)
	close(c.closed)

	return c.paths.HARPath
}

func (c *Controller) teardown(h *browser.Handle) {
	if h == nil {
		return
	}
	if h.Context != nil {
		if err := h.Context.Close(); err != nil {
			c.logger.Warn("failed to close browser context", "error", err)
		}
	}
	if h.Kind == browser.HandleEphemeral && h.Browser != nil {
		if err := h.Browser.Close(); err != nil {
			c.logger.Warn("failed to close browser", "error", err)
		}
	}
	if h.Driver != nil {
		if err := h.Driver.Stop(); err != nil {
			c.logger.Warn("failed to stop driver", "driver", h.Driver.Name(), "error", err)
		}
	}
}

// persist writes the metadata record. The archive summary is logged only
// when a context existed to produce one.
func (c *Controller) persist(h *browser.Handle, sess Session) {
	m := Metadata{
		RunID:     sess.RunID,
		Prompt:    sess.Prompt,
		StartTime: sess.StartedAt,
		EndTime:   *sess.EndedAt,
		HARFile:   c.paths.HARPath,
		Strategy:  string(strategyOf(h)),
		StartURL:  sess.StartURL,
	}
	if h != nil && h.Driver != nil {
		m.Driver = h.Driver.Name()
	}
	if err := WriteMetadata(c.paths.MetadataPath, m); err != nil {
		c.logger.Warn("failed to write metadata", "path", c.paths.MetadataPath, "error", err)
	}
	if h == nil || h.Context == nil {
		return
	}

	har, err := capture.Load(c.paths.HARPath)
	if err != nil {
		c.logger.Warn("capture archive not readable", "path", c.paths.HARPath, "error", err)
		return
	}
	s := har.Summary()
	c.logger.Info("capture saved",
		"path", c.paths.HARPath,
		"entries", s.Entries,
		"failed", s.Failed,
		"hosts", len(s.Hosts),
		"duration", sess.EndedAt.Sub(sess.StartedAt).Round(time.Second))
}

func (c *Controller) emit(event lifecycle.Event, state State, strategy browser.Strategy, err error) {
	c.hooks.Emit(event, lifecycle.SessionEventData{
		RunID:    c.session.RunID,
		State:    state.String(),
		Strategy: string(strategy),
		HARPath:  c.paths.HARPath,
		At:       c.now(),
		Err:      err,
	})
}

func strategyOf(h *browser.Handle) browser.Strategy {
	if h == nil {
		return ""
	}
	return h.Strategy
}

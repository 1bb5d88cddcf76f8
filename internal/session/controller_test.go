package session

import (
	"context"
	"errors"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neboloop/revapi/internal/browser"
	"github.com/neboloop/revapi/internal/browser/browsertest"
	"github.com/neboloop/revapi/internal/lifecycle"
	"github.com/neboloop/revapi/internal/logging"
)

const testPoll = 10 * time.Millisecond

// fakeSignals hands the registered channel to the test.
type fakeSignals struct {
	mu      sync.Mutex
	ch      chan<- os.Signal
	stopped bool
}

func (f *fakeSignals) notify(c chan<- os.Signal, sig ...os.Signal) func() {
	f.mu.Lock()
	f.ch = c
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		f.stopped = true
		f.mu.Unlock()
	}
}

func (f *fakeSignals) send(sig os.Signal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	select {
	case f.ch <- sig:
	default:
	}
}

// stepClock advances one second per reading.
func stepClock() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

type rig struct {
	log      *browsertest.CallLog
	real     *browsertest.Driver
	fallback *browsertest.Driver
	page     *browsertest.Context
	signals  *fakeSignals
	hooks    *lifecycle.Manager
	events   []lifecycle.Event
	eventsMu sync.Mutex
	profile  string
}

func newRig(t *testing.T, withProfile bool) *rig {
	t.Helper()
	log := &browsertest.CallLog{}
	r := &rig{
		log:      log,
		real:     browsertest.NewDriver("real", log),
		fallback: browsertest.NewDriver("fallback", log),
		page:     browsertest.NewContext(log),
		signals:  &fakeSignals{},
		hooks:    lifecycle.NewManager(),
		profile:  filepath.Join(t.TempDir(), "Chrome"),
	}
	r.real.Context = r.page
	r.fallback.Context = r.page
	if withProfile {
		require.NoError(t, os.MkdirAll(filepath.Join(r.profile, "Default"), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(r.profile, "Default", "Cookies"), []byte("c"), 0o600))
	}
	r.hooks.OnSession(func(e lifecycle.Event, d lifecycle.SessionEventData) {
		r.eventsMu.Lock()
		r.events = append(r.events, e)
		r.eventsMu.Unlock()
	})
	return r
}

func (r *rig) launcher(t *testing.T) *browser.Launcher {
	t.Helper()
	cfg := &browser.ResolvedConfig{NavigationTimeout: time.Second}
	return browser.NewLauncher(cfg, r.real, r.fallback,
		&browser.ProfileIsolator{Source: r.profile, TempDir: t.TempDir()}, logging.Discard())
}

func (r *rig) controller(t *testing.T, opts Options) *Controller {
	t.Helper()
	return r.controllerWith(t, opts, r.launcher(t))
}

func (r *rig) controllerWith(t *testing.T, opts Options, launcher Launcher) *Controller {
	t.Helper()
	if opts.RunID == "" {
		opts.RunID = "run-1"
	}
	if opts.OutputRoot == "" {
		opts.OutputRoot = t.TempDir()
	}
	opts.PollInterval = testPoll
	opts.Rand = rand.New(rand.NewPCG(7, 7))
	opts.Now = stepClock()

	c, err := New(opts, launcher,
		WithSignalNotifier(r.signals.notify),
		WithHooks(r.hooks),
		WithLogger(logging.Discard()))
	require.NoError(t, err)
	return c
}

// gatedLauncher holds Launch until release is closed.
type gatedLauncher struct {
	next    Launcher
	entered chan struct{}
	release chan struct{}
}

func newGatedLauncher(next Launcher) *gatedLauncher {
	return &gatedLauncher{next: next, entered: make(chan struct{}), release: make(chan struct{})}
}

func (g *gatedLauncher) Launch(ctx context.Context, req browser.LaunchRequest) (*browser.Handle, error) {
	close(g.entered)
	<-g.release
	return g.next.Launch(ctx, req)
}

func (r *rig) recorded() []lifecycle.Event {
	r.eventsMu.Lock()
	defer r.eventsMu.Unlock()
	return append([]lifecycle.Event(nil), r.events...)
}

type runResult struct {
	path string
	err  error
}

func runAsync(c *Controller) <-chan runResult {
	out := make(chan runResult, 1)
	go func() {
		path, err := c.Run(context.Background())
		out <- runResult{path, err}
	}()
	return out
}

func waitActive(t *testing.T, c *Controller) {
	t.Helper()
	require.Eventually(t, func() bool { return c.State() == StateActive }, 2*time.Second, time.Millisecond)
}

func TestRealBrowserSessionEndsWhenPagesClose(t *testing.T) {
	r := newRig(t, true)
	c := r.controller(t, Options{Prompt: "list my orders", StartURL: "https://shop.example", PreferRealBrowser: true})

	done := runAsync(c)
	waitActive(t, c)
	r.page.SetPages(0)

	var res runResult
	select {
	case res = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("session did not end after the last page closed")
	}
	require.NoError(t, res.err)
	assert.Equal(t, c.Paths().HARPath, res.path)
	assert.Equal(t, StateClosed, c.State())

	assert.Equal(t, []string{
		"real.start",
		"real.launch-persistent",
		"context.new-page",
		"page.goto",
		"context.close",
		"real.stop",
	}, r.log.Calls())

	// the browser ran on a copy that is gone afterwards
	opts := r.real.PersistentOptions()
	require.NotNil(t, opts)
	assert.NotEqual(t, r.profile, opts.UserDataDir)
	assert.NoDirExists(t, opts.UserDataDir)
	assert.DirExists(t, r.profile)

	m, err := ReadMetadata(c.Paths().MetadataPath)
	require.NoError(t, err)
	assert.Equal(t, "run-1", m.RunID)
	assert.Equal(t, "list my orders", m.Prompt)
	assert.Equal(t, res.path, m.HARFile)
	assert.Equal(t, string(browser.StrategyRealBrowser), m.Strategy)
	assert.Equal(t, "real", m.Driver)
	assert.Equal(t, "https://shop.example", m.StartURL)
	assert.False(t, m.EndTime.Before(m.StartTime))
	assert.FileExists(t, res.path)

	assert.Equal(t, []lifecycle.Event{
		lifecycle.EventSessionLaunching,
		lifecycle.EventSessionActive,
		lifecycle.EventSessionClosing,
		lifecycle.EventSessionClosed,
	}, r.recorded())
}

func TestMissingProfileFallsBack(t *testing.T) {
	r := newRig(t, false)
	c := r.controller(t, Options{PreferRealBrowser: true})

	done := runAsync(c)
	waitActive(t, c)
	r.page.SetPages(0)
	res := <-done
	require.NoError(t, res.err)

	assert.Zero(t, r.log.Count("real.start"))
	assert.Zero(t, r.log.Count("real.launch-persistent"))
	assert.Equal(t, []string{
		"fallback.start",
		"fallback.launch-ephemeral",
		"context.init-script",
		"context.new-page",
		"context.close",
		"browser.close",
		"fallback.stop",
	}, r.log.Calls())

	m, err := ReadMetadata(c.Paths().MetadataPath)
	require.NoError(t, err)
	assert.Equal(t, string(browser.StrategyFallback), m.Strategy)
	assert.FileExists(t, m.HARFile)

	eph := r.fallback.EphemeralOptions()
	require.NotNil(t, eph)
	assert.Equal(t, c.Identity(), eph.Identity)
	assert.Contains(t, r.recorded(), lifecycle.EventSessionFallback)
}

func TestSignalWhileActiveClosesWithinPollInterval(t *testing.T) {
	r := newRig(t, false)
	c := r.controller(t, Options{})

	done := runAsync(c)
	waitActive(t, c)

	sent := time.Now()
	r.signals.send(syscall.SIGINT)

	select {
	case res := <-done:
		require.NoError(t, res.err)
	case <-time.After(time.Second):
		t.Fatal("session ignored the interrupt")
	}
	// one poll interval plus scheduling slack
	assert.Less(t, time.Since(sent), 500*time.Millisecond)
	assert.Equal(t, StateClosed, c.State())
	assert.Equal(t, 1, r.log.Count("context.close"))
	assert.FileExists(t, c.Paths().MetadataPath)
	assert.Contains(t, r.recorded(), lifecycle.EventSignalReceived)

	r.signals.mu.Lock()
	assert.True(t, r.signals.stopped)
	r.signals.mu.Unlock()
}

func TestSignalWhileLaunchingSkipsActive(t *testing.T) {
	r := newRig(t, false)
	gate := newGatedLauncher(r.launcher(t))
	c := r.controllerWith(t, Options{}, gate)

	var (
		statesMu sync.Mutex
		states   []string
	)
	r.hooks.OnSession(func(e lifecycle.Event, d lifecycle.SessionEventData) {
		statesMu.Lock()
		states = append(states, d.State)
		statesMu.Unlock()
	})

	done := runAsync(c)
	<-gate.entered
	r.signals.send(syscall.SIGINT)
	require.Eventually(t, func() bool {
		statesMu.Lock()
		defer statesMu.Unlock()
		return len(states) == 2
	}, time.Second, time.Millisecond)
	close(gate.release)

	select {
	case res := <-done:
		require.NoError(t, res.err)
		assert.Equal(t, c.Paths().HARPath, res.path)
	case <-time.After(2 * time.Second):
		t.Fatal("session did not close after the interrupt")
	}

	assert.Equal(t, []lifecycle.Event{
		lifecycle.EventSessionLaunching,
		lifecycle.EventSignalReceived,
		lifecycle.EventSessionClosing,
		lifecycle.EventSessionClosed,
	}, r.recorded())
	statesMu.Lock()
	assert.Equal(t, []string{"LAUNCHING", "LAUNCHING", "CLOSING", "CLOSED"}, states)
	statesMu.Unlock()
	assert.Equal(t, 1, r.log.Count("context.close"))
	assert.Equal(t, 1, r.log.Count("browser.close"))
	assert.FileExists(t, c.Paths().MetadataPath)
}

func TestCloseTwiceIsIdempotent(t *testing.T) {
	r := newRig(t, false)
	c := r.controller(t, Options{})

	done := runAsync(c)
	waitActive(t, c)

	first := c.Close()
	res := <-done
	require.NoError(t, res.err)
	second := c.Close()

	assert.Equal(t, first, second)
	assert.Equal(t, first, res.path)
	assert.Equal(t, 1, r.log.Count("context.close"))
	assert.Equal(t, 1, r.log.Count("browser.close"))
	assert.Equal(t, 1, r.log.Count("fallback.stop"))

	m1, err := ReadMetadata(c.Paths().MetadataPath)
	require.NoError(t, err)
	c.Close()
	m2, err := ReadMetadata(c.Paths().MetadataPath)
	require.NoError(t, err)
	assert.Equal(t, m1.EndTime, m2.EndTime)
}

func TestConcurrentCloseWaitsForFirst(t *testing.T) {
	r := newRig(t, false)
	c := r.controller(t, Options{})

	done := runAsync(c)
	waitActive(t, c)

	var wg sync.WaitGroup
	paths := make([]string, 5)
	for i := range paths {
		wg.Add(1)
		go func() {
			defer wg.Done()
			paths[i] = c.Close()
			// every caller returns only after teardown finished
			assert.Equal(t, StateClosed, c.State())
		}()
	}
	wg.Wait()
	<-done

	for _, p := range paths {
		assert.Equal(t, c.Paths().HARPath, p)
	}
	assert.Equal(t, 1, r.log.Count("context.close"))
}

func TestPageCountErrorEndsSession(t *testing.T) {
	r := newRig(t, false)
	r.page.PagesErr = errors.New("target closed")
	c := r.controller(t, Options{})

	res := <-runAsync(c)
	require.NoError(t, res.err)
	assert.Equal(t, StateClosed, c.State())
	assert.FileExists(t, c.Paths().MetadataPath)
}

func TestLaunchFailureTearsDownAndReturnsError(t *testing.T) {
	r := newRig(t, false)
	r.fallback.LaunchErr = errors.New("chromium missing")
	c := r.controller(t, Options{})

	path, err := c.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, browser.ErrLaunch))
	assert.Equal(t, c.Paths().HARPath, path)
	assert.Equal(t, StateClosed, c.State())

	// the driver was started, so it is stopped
	assert.Equal(t, 1, r.log.Count("fallback.stop"))

	m, err := ReadMetadata(c.Paths().MetadataPath)
	require.NoError(t, err)
	assert.Equal(t, path, m.HARFile)
	assert.Equal(t, string(browser.StrategyFallback), m.Strategy)
	assert.Equal(t, "fallback", m.Driver)
	assert.False(t, m.EndTime.Before(m.StartTime))
}

func TestContextFailureStillClosesBrowserAndRecords(t *testing.T) {
	r := newRig(t, false)
	r.fallback.ContextErr = errors.New("context refused")
	c := r.controller(t, Options{})

	_, err := c.Run(context.Background())
	require.Error(t, err)

	assert.Equal(t, []string{
		"fallback.start",
		"fallback.launch-ephemeral",
		"browser.close",
		"fallback.stop",
	}, r.log.Calls())
	assert.FileExists(t, c.Paths().MetadataPath)
}

func TestTeardownStepFailuresDoNotStopLaterSteps(t *testing.T) {
	r := newRig(t, false)
	r.page.CloseErr = errors.New("context already gone")
	r.fallback.StopErr = errors.New("driver gone")
	c := r.controller(t, Options{})

	done := runAsync(c)
	waitActive(t, c)
	r.page.SetPages(0)
	res := <-done

	require.NoError(t, res.err)
	assert.Equal(t, 1, r.log.Count("browser.close"))
	assert.Equal(t, 1, r.log.Count("fallback.stop"))
	assert.FileExists(t, c.Paths().MetadataPath)
}

func TestCloseBeforeRun(t *testing.T) {
	r := newRig(t, false)
	c := r.controller(t, Options{})

	assert.Equal(t, c.Paths().HARPath, c.Close())
	assert.Equal(t, StateClosed, c.State())
	assert.Empty(t, r.log.Calls())

	m, err := ReadMetadata(c.Paths().MetadataPath)
	require.NoError(t, err)
	assert.Equal(t, c.Paths().HARPath, m.HARFile)
	assert.Empty(t, m.Strategy)
	assert.Equal(t, m.StartTime, m.EndTime)

	_, err := c.Run(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyStarted)
}

func TestParentContextCancelEndsSession(t *testing.T) {
	r := newRig(t, false)
	c := r.controller(t, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.Run(ctx)
		done <- err
	}()
	waitActive(t, c)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("session ignored context cancellation")
	}
	assert.FileExists(t, c.Paths().MetadataPath)
}

func TestNewRejectsBadRunID(t *testing.T) {
	_, err := New(Options{RunID: "../escape", OutputRoot: t.TempDir()}, nil)
	assert.ErrorIs(t, err, ErrInvalidRunID)
}

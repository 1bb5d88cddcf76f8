package cli

import (
	"errors"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neboloop/revapi/internal/browser"
	"github.com/neboloop/revapi/internal/config"
	"github.com/neboloop/revapi/internal/lifecycle"
	"github.com/neboloop/revapi/internal/session"
)

func execute(t *testing.T, args ...string) error {
	t.Helper()
	cfgFile = ""
	root := SetupRootCmd()
	root.SetArgs(args)
	return root.Execute()
}

func TestNewRunID(t *testing.T) {
	id := newRunID(time.Date(2026, 3, 1, 10, 15, 0, 0, time.UTC))
	assert.Regexp(t, regexp.MustCompile(`^20260301-101500-[0-9a-f]{8}$`), id)
	assert.NoError(t, session.ValidateRunID(id))
	assert.NotEqual(t, id, newRunID(time.Date(2026, 3, 1, 10, 15, 0, 0, time.UTC)))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcd…", truncate("abcdefgh", 5))
}

func TestConfigSetWritesDataDirConfig(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("REVAPI_DATA_DIR", dir)

	require.NoError(t, execute(t, "config", "set", "browser.real_browser_driver", "cdp"))

	cfg, err := config.Load(filepath.Join(dir, "config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, browser.DriverCDP, cfg.Browser.RealBrowserDriver)

	assert.Error(t, execute(t, "config", "set", "browser.real_browser_driver", "selenium"))
	assert.Error(t, execute(t, "config", "set", "no.such.key", "x"))
}

func TestHistoryOnEmptyCatalog(t *testing.T) {
	t.Setenv("REVAPI_DATA_DIR", t.TempDir())
	assert.NoError(t, execute(t, "history", "--limit", "5"))
}

func TestInspectMissingRun(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("REVAPI_DATA_DIR", dir)
	assert.Error(t, execute(t, "inspect", "no-such-run"))
}

func TestConfigResetRestoresDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("REVAPI_DATA_DIR", dir)

	require.NoError(t, execute(t, "config", "set", "model", "other-model"))
	require.NoError(t, execute(t, "config", "reset"))

	cfg, err := config.Load(filepath.Join(dir, "config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, config.DefaultConfig().Model, cfg.Model)
}

func TestNotifyAnalysis(t *testing.T) {
	var bodies []string
	send := func(title, body string) error {
		assert.Equal(t, "revapi", title)
		bodies = append(bodies, body)
		return errors.New("no notification daemon")
	}

	m := lifecycle.NewManager()
	m.On(lifecycle.EventAnalysisComplete, notifyAnalysis(send))

	m.Emit(lifecycle.EventAnalysisComplete, lifecycle.AnalysisEventData{RunID: "run-1", Output: "/out/api_client.py"})
	m.Emit(lifecycle.EventAnalysisComplete, lifecycle.AnalysisEventData{RunID: "run-2", Err: errors.New("exit status 2")})
	m.Emit(lifecycle.EventAnalysisComplete, "not a payload")

	assert.Equal(t, []string{
		"Analysis of run run-1 finished: /out/api_client.py",
		"Analysis of run run-2 failed: exit status 2",
	}, bodies)
}

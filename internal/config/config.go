package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/neboloop/revapi/internal/browser"
	"github.com/neboloop/revapi/internal/defaults"
)

// ErrMalformed is returned by Load, together with the default config, when
// the config file exists but is not valid YAML.
var ErrMalformed = errors.New("malformed config file")

// Config holds the revapi configuration
type Config struct {
	// Model is passed to the analysis command as REVAPI_MODEL.
	Model string `yaml:"model"`

	// OutputDir is the root for run output (empty = <data dir>/runs)
	OutputDir string `yaml:"output_dir"`

	// Notify shows a desktop notification when analysis finishes.
	Notify bool `yaml:"notify"`

	Browser  browser.Config `yaml:"browser"`
	Analysis AnalysisConfig `yaml:"analysis"`
}

// AnalysisConfig describes the external agent the capture is handed to.
type AnalysisConfig struct {
	Command string        `yaml:"command"`           // Executable; empty disables hand-off
	Args    []string      `yaml:"args,omitempty"`    // Extra arguments
	Timeout time.Duration `yaml:"timeout,omitempty"` // Upper bound for one analysis run
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Model:    "claude-sonnet-4-5",
		Notify:   true,
		Browser:  browser.DefaultConfig(),
		Analysis: AnalysisConfig{Timeout: 30 * time.Minute},
	}
}

// Load reads the config at path on top of the defaults. A missing file
// yields the defaults; keys the Config does not know are ignored.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return DefaultConfig(), fmt.Errorf("%w %s: %v", ErrMalformed, path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config to path, creating parent directories.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// Validate checks values that would otherwise fail late, mid-session.
func (c *Config) Validate() error {
	if _, err := browser.ResolveConfig(c.Browser); err != nil {
		return fmt.Errorf("browser: %w", err)
	}
	if c.Analysis.Timeout < 0 {
		return fmt.Errorf("analysis.timeout must not be negative")
	}
	return nil
}

// OutputRoot returns the directory run output is written under.
func (c *Config) OutputRoot() (string, error) {
	if c.OutputDir != "" {
		return expandHome(c.OutputDir), nil
	}
	dir, err := defaults.DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, defaults.RunsDir), nil
}

// Keys lists the dotted keys accepted by Set.
func Keys() []string {
	return []string{
		"model",
		"output_dir",
		"notify",
		"browser.prefer_real_browser",
		"browser.real_browser_driver",
		"browser.executable_path",
		"browser.profile_dir",
		"browser.poll_interval",
		"browser.navigation_timeout",
		"browser.install_browsers",
		"analysis.command",
		"analysis.timeout",
	}
}

// Set assigns a value by dotted key, parsing it for the field's type. The
// config is left unchanged when the value does not parse or validate.
func (c *Config) Set(key, value string) error {
	next := *c
	var err error
	switch key {
	case "model":
		next.Model = value
	case "output_dir":
		next.OutputDir = value
	case "notify":
		next.Notify, err = strconv.ParseBool(value)
	case "browser.prefer_real_browser":
		next.Browser.PreferRealBrowser, err = strconv.ParseBool(value)
	case "browser.real_browser_driver":
		next.Browser.RealBrowserDriver = value
	case "browser.executable_path":
		next.Browser.ExecutablePath = value
	case "browser.profile_dir":
		next.Browser.ProfileDir = value
	case "browser.poll_interval":
		next.Browser.PollInterval, err = time.ParseDuration(value)
	case "browser.navigation_timeout":
		next.Browser.NavigationTimeout, err = time.ParseDuration(value)
	case "browser.install_browsers":
		next.Browser.InstallBrowsers, err = strconv.ParseBool(value)
	case "analysis.command":
		next.Analysis.Command = value
	case "analysis.timeout":
		next.Analysis.Timeout, err = time.ParseDuration(value)
	default:
		return fmt.Errorf("unknown config key %q (valid: %s)", key, strings.Join(Keys(), ", "))
	}
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	if err := next.Validate(); err != nil {
		return err
	}
	*c = next
	return nil
}

func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

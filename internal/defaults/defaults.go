// Package defaults provides the embedded default configuration and the
// platform data directory it is copied into on first run.
//
// Platform paths:
//
//	macOS:   ~/Library/Application Support/Revapi/
//	Windows: %AppData%\Revapi\
//	Linux:   ~/.config/revapi/
//
// Override with REVAPI_DATA_DIR environment variable.
package defaults

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

//go:embed dotrevapi/*
var defaultFiles embed.FS

const (
	// ConfigFile is the name of the user config file inside the data dir.
	ConfigFile = "config.yaml"

	// CatalogFile is the run catalog database inside the data dir.
	CatalogFile = "runs.db"

	// RunsDir is the default output root inside the data dir.
	RunsDir = "runs"
)

// DataDir returns the platform-appropriate data directory.
// Set REVAPI_DATA_DIR to override.
func DataDir() (string, error) {
	if dir := os.Getenv("REVAPI_DATA_DIR"); dir != "" {
		return dir, nil
	}

	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine config directory: %w", err)
	}

	// Linux: lowercase per XDG convention
	if runtime.GOOS == "linux" {
		return filepath.Join(configDir, "revapi"), nil
	}
	return filepath.Join(configDir, "Revapi"), nil
}

// EnsureDataDir creates the data directory if it doesn't exist
// and copies default files if they're missing.
func EnsureDataDir() (string, error) {
	dir, err := DataDir()
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create data directory: %w", err)
	}

	if err := copyDefaults(dir, false); err != nil {
		return "", err
	}

	return dir, nil
}

// Reset replaces the config files in dir with the embedded defaults.
// The run catalog and run output are left alone.
func Reset(dir string) error {
	return copyDefaults(dir, true)
}

func copyDefaults(dir string, overwrite bool) error {
	return fs.WalkDir(defaultFiles, "dotrevapi", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == "dotrevapi" {
			return nil
		}

		// embed.FS always uses forward slashes
		relPath := strings.TrimPrefix(path, "dotrevapi/")
		destPath := filepath.Join(dir, relPath)

		if d.IsDir() {
			return os.MkdirAll(destPath, 0755)
		}

		if !overwrite {
			if _, err := os.Stat(destPath); err == nil {
				return nil
			}
		}

		data, err := defaultFiles.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read embedded %s: %w", path, err)
		}
		if err := os.WriteFile(destPath, data, 0644); err != nil {
			return fmt.Errorf("failed to write %s: %w", destPath, err)
		}
		return nil
	})
}

// GetDefault returns the content of a default file by name.
// Example: GetDefault("config.yaml")
func GetDefault(name string) ([]byte, error) {
	return defaultFiles.ReadFile("dotrevapi/" + name)
}

// ListDefaults returns the names of all default files.
func ListDefaults() ([]string, error) {
	var files []string
	err := fs.WalkDir(defaultFiles, "dotrevapi", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && path != "dotrevapi" {
			files = append(files, strings.TrimPrefix(path, "dotrevapi/"))
		}
		return nil
	})
	return files, err
}

// ConfigPath returns <data dir>/config.yaml.
func ConfigPath() (string, error) {
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, ConfigFile), nil
}

// CatalogPath returns <data dir>/runs.db.
func CatalogPath() (string, error) {
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, CatalogFile), nil
}

package browser

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
)

// BrowserKind identifies the type of Chromium-based browser.
type BrowserKind string

const (
	BrowserChrome   BrowserKind = "chrome"
	BrowserChromium BrowserKind = "chromium"
	BrowserCanary   BrowserKind = "canary"
	BrowserCustom   BrowserKind = "custom"
)

// BrowserExecutable represents a found browser binary.
type BrowserExecutable struct {
	Kind BrowserKind
	Path string
}

type candidate struct {
	kind BrowserKind
	path string
}

// FindChromeExecutable finds the installed Chrome. Only Google Chrome (and
// Chromium as a last resort) share the user-data layout we copy, so other
// Chromium browsers are not considered.
func FindChromeExecutable(customPath string) (*BrowserExecutable, error) {
	if customPath != "" {
		if !fileExists(customPath) {
			return nil, fmt.Errorf("browser executable not found: %s", customPath)
		}
		return &BrowserExecutable{Kind: BrowserCustom, Path: customPath}, nil
	}

	var candidates []candidate
	switch runtime.GOOS {
	case "darwin":
		candidates = macCandidates()
	case "linux":
		candidates = linuxCandidates()
	case "windows":
		candidates = windowsCandidates()
	default:
		return nil, fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}

	for _, c := range candidates {
		if fileExists(c.path) {
			return &BrowserExecutable{Kind: c.kind, Path: c.path}, nil
		}
	}

	// PATH lookup catches distro-specific locations
	for _, name := range []string{"google-chrome", "google-chrome-stable", "chrome", "chromium", "chromium-browser"} {
		if p, err := exec.LookPath(name); err == nil {
			kind := BrowserChrome
			if strings.HasPrefix(name, "chromium") {
				kind = BrowserChromium
			}
			return &BrowserExecutable{Kind: kind, Path: p}, nil
		}
	}

	return nil, fmt.Errorf("no Chrome installation found")
}

// DefaultUserDataDir returns where Chrome keeps the user's real profile.
func DefaultUserDataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}

	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "Google", "Chrome"), nil
	case "windows":
		localAppData := os.Getenv("LOCALAPPDATA")
		if localAppData == "" {
			localAppData = filepath.Join(home, "AppData", "Local")
		}
		return filepath.Join(localAppData, "Google", "Chrome", "User Data"), nil
	default:
		configDir := os.Getenv("XDG_CONFIG_HOME")
		if configDir == "" {
			configDir = filepath.Join(home, ".config")
		}
		return filepath.Join(configDir, "google-chrome"), nil
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func macCandidates() []candidate {
	home := os.Getenv("HOME")
	return []candidate{
		{BrowserChrome, "/Applications/Google Chrome.app/Contents/MacOS/Google Chrome"},
		{BrowserChrome, filepath.Join(home, "Applications/Google Chrome.app/Contents/MacOS/Google Chrome")},
		{BrowserCanary, "/Applications/Google Chrome Canary.app/Contents/MacOS/Google Chrome Canary"},
		{BrowserChromium, "/Applications/Chromium.app/Contents/MacOS/Chromium"},
	}
}

func linuxCandidates() []candidate {
	return []candidate{
		{BrowserChrome, "/usr/bin/google-chrome"},
		{BrowserChrome, "/usr/bin/google-chrome-stable"},
		{BrowserChrome, "/opt/google/chrome/chrome"},
		{BrowserChromium, "/usr/bin/chromium"},
		{BrowserChromium, "/usr/bin/chromium-browser"},
		{BrowserChromium, "/snap/bin/chromium"},
	}
}

func windowsCandidates() []candidate {
	programFiles := os.Getenv("ProgramFiles")
	if programFiles == "" {
		programFiles = "C:\\Program Files"
	}
	programFilesX86 := os.Getenv("ProgramFiles(x86)")
	if programFilesX86 == "" {
		programFilesX86 = "C:\\Program Files (x86)"
	}

	var out []candidate
	if localAppData := os.Getenv("LOCALAPPDATA"); localAppData != "" {
		out = append(out,
			candidate{BrowserChrome, filepath.Join(localAppData, "Google", "Chrome", "Application", "chrome.exe")},
			candidate{BrowserCanary, filepath.Join(localAppData, "Google", "Chrome SxS", "Application", "chrome.exe")},
		)
	}
	return append(out,
		candidate{BrowserChrome, filepath.Join(programFiles, "Google", "Chrome", "Application", "chrome.exe")},
		candidate{BrowserChrome, filepath.Join(programFilesX86, "Google", "Chrome", "Application", "chrome.exe")},
	)
}

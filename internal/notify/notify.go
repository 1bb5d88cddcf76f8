// Package notify shows native desktop notifications. Long analysis runs
// use it to tell the user the client is ready while they are elsewhere.
package notify

import (
	"fmt"
	"log/slog"
	"os/exec"
	"runtime"
	"strings"

	"github.com/neboloop/revapi/internal/logging"
)

const maxLen = 256

// Notifier sends notifications through the platform's command line tool.
type Notifier struct {
	goos   string
	run    func(name string, args ...string) error
	logger *slog.Logger
}

// New returns a notifier for the current platform.
func New() *Notifier {
	return &Notifier{
		goos: runtime.GOOS,
		run: func(name string, args ...string) error {
			return exec.Command(name, args...).Run()
		},
		logger: logging.Component("notify"),
	}
}

// Send displays a notification. Platforms without a supported tool are
// skipped silently; a failing tool is logged at debug and returned.
func (n *Notifier) Send(title, body string) error {
	name, args, ok := command(n.goos, sanitize(title), sanitize(body))
	if !ok {
		return nil
	}
	if err := n.run(name, args...); err != nil {
		n.logger.Debug("notification failed", "tool", name, "error", err)
		return fmt.Errorf("notify via %s: %w", name, err)
	}
	return nil
}

func command(goos, title, body string) (string, []string, bool) {
	switch goos {
	case "darwin":
		script := fmt.Sprintf(`display notification %q with title %q`, body, title)
		return "osascript", []string{"-e", script}, true
	case "linux":
		return "notify-send", []string{"--app-name=revapi", title, body}, true
	case "windows":
		ps := fmt.Sprintf(`
[Windows.UI.Notifications.ToastNotificationManager, Windows.UI.Notifications, ContentType = WindowsRuntime] > $null
$template = [Windows.UI.Notifications.ToastNotificationManager]::GetTemplateContent([Windows.UI.Notifications.ToastTemplateType]::ToastText02)
$textNodes = $template.GetElementsByTagName('text')
$textNodes.Item(0).AppendChild($template.CreateTextNode('%s')) > $null
$textNodes.Item(1).AppendChild($template.CreateTextNode('%s')) > $null
$toast = [Windows.UI.Notifications.ToastNotification]::new($template)
[Windows.UI.Notifications.ToastNotificationManager]::CreateToastNotifier('revapi').Show($toast)
`, title, body)
		return "powershell", []string{"-NoProfile", "-NonInteractive", "-Command", ps}, true
	default:
		return "", nil, false
	}
}

// sanitize keeps text inside the single-quoted PowerShell and AppleScript
// literals it is embedded in.
func sanitize(s string) string {
	s = strings.ReplaceAll(s, "'", "’")
	s = strings.ReplaceAll(s, "\\", "")
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > maxLen {
		s = string(r[:maxLen]) + "..."
	}
	return s
}

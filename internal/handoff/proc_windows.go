//go:build windows

package handoff

import (
	"os"
	"os/exec"
)

// setProcessGroup is a no-op on Windows.
func setProcessGroup(cmd *exec.Cmd) {}

// interruptProcessGroup kills the main process; Windows has no
// Unix-style process groups to signal.
func interruptProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return cmd.Process.Signal(os.Kill)
}

func killProcessGroup(cmd *exec.Cmd) {}

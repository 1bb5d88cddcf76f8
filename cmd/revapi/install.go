package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/neboloop/revapi/internal/browser"
)

// InstallCmd creates the install command
func InstallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "install",
		Short: "Download the Playwright driver and Chromium",
		Long: `Download the Playwright driver and the bundled Chromium used when no
real Chrome profile is available. capture does this on demand when
browser.install_browsers is true; run it ahead of time to avoid the wait.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("Installing Playwright driver and Chromium...")
			if err := browser.InstallPlaywright(); err != nil {
				return err
			}
			fmt.Println("\033[32m✓\033[0m Done")
			return nil
		},
	}
}

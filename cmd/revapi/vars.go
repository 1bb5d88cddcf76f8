package cli

import (
	"errors"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/neboloop/revapi/internal/config"
	"github.com/neboloop/revapi/internal/defaults"
	"github.com/neboloop/revapi/internal/logging"
)

// Shared CLI flags (used across multiple command files)
var (
	cfgFile  string
	verbose  bool
	jsonLogs bool
	noColor  bool
	quiet    bool
)

// AppConfig is the loaded configuration (set by the root PersistentPreRunE)
var AppConfig *config.Config

// SetupRootCmd configures the root command with all subcommands and flags
func SetupRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "revapi",
		Short: "revapi - capture a browser session and reverse engineer its APIs",
		Long: `revapi opens a browser, records every HTTP exchange while you use a
site, and saves the traffic as a HAR archive. When an analysis command is
configured the archive is handed to it to generate an API client.

Run 'revapi capture "what you want to automate"' to start.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: loadConfig,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: <data dir>/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonLogs, "log-json", false, "write logs as JSON")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored log output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "hide catalog and analysis log messages")

	// Add commands
	rootCmd.AddCommand(CaptureCmd())
	rootCmd.AddCommand(HistoryCmd())
	rootCmd.AddCommand(InspectCmd())
	rootCmd.AddCommand(ConfigCmd())
	rootCmd.AddCommand(InstallCmd())

	return rootCmd
}

// loadConfig sets up logging and loads the config file. A malformed file
// is reported and the defaults are used.
func loadConfig(cmd *cobra.Command, args []string) error {
	logging.Setup(logging.Options{Verbose: verbose, JSON: jsonLogs, NoColor: noColor})
	if quiet {
		logging.Disable()
	} else {
		logging.Enable()
	}

	path, err := configPath()
	if err != nil {
		return err
	}

	cfg, err := config.Load(path)
	if errors.Is(err, config.ErrMalformed) {
		slog.Warn("ignoring config file", "error", err)
		err = nil
	}
	if err != nil {
		return err
	}
	AppConfig = cfg
	return nil
}

// configPath returns the --config flag or the data dir config, creating
// the data dir with its defaults on first use.
func configPath() (string, error) {
	if cfgFile != "" {
		return cfgFile, nil
	}
	if _, err := defaults.EnsureDataDir(); err != nil {
		return "", err
	}
	return defaults.ConfigPath()
}

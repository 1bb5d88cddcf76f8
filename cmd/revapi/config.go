package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/neboloop/revapi/internal/config"
	"github.com/neboloop/revapi/internal/defaults"
)

// ConfigCmd creates the config command
func ConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or change configuration",
	}

	var showDefaults bool
	show := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			if showDefaults {
				data, err := defaults.GetDefault(defaults.ConfigFile)
				if err != nil {
					return err
				}
				_, err = os.Stdout.Write(data)
				return err
			}
			out, err := yaml.Marshal(AppConfig)
			if err != nil {
				return err
			}
			_, err = os.Stdout.Write(out)
			return err
		},
	}
	show.Flags().BoolVar(&showDefaults, "defaults", false, "print the built-in default config file")
	cmd.AddCommand(show)

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Print the config file path",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := configPath()
			if err != nil {
				return err
			}
			fmt.Println(path)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a configuration value",
		Long:  "Set a configuration value by dotted key, for example:\n  revapi config set browser.real_browser_driver cdp",
		Args:  cobra.ExactArgs(2),
		ValidArgsFunction: func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
			if len(args) == 0 {
				return config.Keys(), cobra.ShellCompDirectiveNoFileComp
			}
			return nil, cobra.ShellCompDirectiveNoFileComp
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := configPath()
			if err != nil {
				return err
			}
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			if err := cfg.Set(args[0], args[1]); err != nil {
				return err
			}
			if err := config.Save(path, cfg); err != nil {
				return err
			}
			fmt.Printf("%s = %s\n", args[0], args[1])
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "reset",
		Short: "Restore the default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := defaults.DataDir()
			if err != nil {
				return err
			}
			if err := defaults.Reset(dir); err != nil {
				return err
			}
			fmt.Printf("Restored defaults in %s\n", dir)
			return nil
		},
	})

	return cmd
}

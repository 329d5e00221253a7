package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/MrSnakeDoc/relayswitch/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the task file",
	Long:  "Commands for locating, creating and checking the task file (config.yaml in the data directory).",
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the task file location",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintln(os.Stdout, cfg.ConfigFile)
	},
}

var configGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Write an example task file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		force, _ := cmd.Flags().GetBool("force")
		if err := config.WriteTemplate(cfg.ConfigFile, force); err != nil {
			if errors.Is(err, config.ErrExists) {
				return fmt.Errorf("%w (use --force to overwrite)", err)
			}
			return err
		}
		fmt.Fprintf(os.Stdout, "Config template written to %s\nEdit it, then start with `relayswitch run`.\n", cfg.ConfigFile)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Validate and print the task file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		fmt.Fprintf(os.Stdout, "# %s\n", cfg.ConfigFile)

		tf, err := config.LoadTasks(cfg.ConfigFile)
		if errors.Is(err, fs.ErrNotExist) {
			fmt.Fprintln(os.Stdout, "# not found, create it with `relayswitch config generate`")
			return nil
		}
		if err != nil {
			return err
		}

		if tf.Clash.Secret != "" {
			tf.Clash.Secret = "***REDACTED***"
		}
		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		defer func() { _ = enc.Close() }()
		return enc.Encode(tf)
	},
}

func init() {
	configGenerateCmd.Flags().Bool("force", false, "overwrite an existing file")
	configCmd.AddCommand(configPathCmd, configGenerateCmd, configShowCmd)
	rootCmd.AddCommand(configCmd)
}

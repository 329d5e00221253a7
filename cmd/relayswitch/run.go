package main

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/spf13/cobra"

	"github.com/MrSnakeDoc/relayswitch/internal/config"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Monitor every enabled task",
	Long:  "Probes each enabled task's service, records the outcome and switches relays on failure. Also serves the HTTP API unless RELAYSWITCH_API_ENABLED=false.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		once, _ := cmd.Flags().GetBool("once")

		tf, err := config.LoadTasks(cfg.ConfigFile)
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("no config file at %s, create one with `relayswitch config generate`", cfg.ConfigFile)
		}
		if err != nil {
			return err
		}

		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		return a.Run(cmd.Context(), tf, once)
	},
}

func init() {
	runCmd.Flags().Bool("once", false, "stop each task at its first successful probe")
	rootCmd.AddCommand(runCmd)
}

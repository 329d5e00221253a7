package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/MrSnakeDoc/relayswitch/internal/app"
	"github.com/MrSnakeDoc/relayswitch/internal/config"
	"github.com/MrSnakeDoc/relayswitch/internal/logger"
	"github.com/MrSnakeDoc/relayswitch/internal/version"
)

var (
	cfg *config.Config
	log logger.Logger
)

var rootCmd = &cobra.Command{
	Use:   "relayswitch",
	Short: "Keep Clash relay-groups on relays that unlock your services",
	Long: "Probes streaming and AI services through a Clash relay-group, keeps a per-relay reliability " +
		"history and switches the group to the most reliable relay when a service stops working.",
	Version:       version.String(),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		cfg = config.Load()
		log = logger.New(cfg.LogLevel, cfg.PrettyLog)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if log != nil {
			_ = log.Sync()
		}
	},
}

// openApp opens the history for commands that read or write it.
func openApp(cmd *cobra.Command) (*app.App, error) {
	return app.New(cmd.Context(), cfg, log)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "❌ relayswitch: %v\n", err)
		stop()
		os.Exit(1)
	}
}

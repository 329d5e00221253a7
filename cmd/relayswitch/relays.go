package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/MrSnakeDoc/relayswitch/internal/clash"
	"github.com/MrSnakeDoc/relayswitch/internal/config"
)

const delayTestURL = "https://www.gstatic.com/generate_204"

// relayRow is one line of `relays`.
type relayRow struct {
	Relay   string
	Alive   bool
	Current bool
	Delay   int // ms, 0 when unknown
}

var relaysCmd = &cobra.Command{
	Use:   "relays <group>",
	Short: "List a group's relays with their liveness and delay",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tf, err := config.LoadTasks(cfg.ConfigFile)
		if err != nil {
			return err
		}
		ctl, err := clash.NewClient(clash.Options{Controller: tf.Clash.Controller, Secret: tf.Clash.Secret})
		if err != nil {
			return err
		}

		timeout, _ := cmd.Flags().GetDuration("timeout")
		rows, err := collectRelays(cmd.Context(), ctl, args[0], timeout)
		if err != nil {
			return err
		}
		formatRelays(os.Stdout, rows)
		return nil
	},
}

func init() {
	relaysCmd.Flags().Duration("timeout", 5*time.Second, "delay test timeout per relay")
	rootCmd.AddCommand(relaysCmd)
}

// collectRelays lists the group and measures the delay of every alive
// relay, a few at a time.
func collectRelays(ctx context.Context, ctl *clash.Client, group string, timeout time.Duration) ([]relayRow, error) {
	all, alive, current, err := clash.Candidates(ctx, ctl, group)
	if err != nil && (len(all) == 0 || !errors.Is(err, clash.ErrNoCandidates)) {
		return nil, err
	}

	isAlive := make(map[string]bool, len(alive))
	for _, r := range alive {
		isAlive[r] = true
	}
	rows := make([]relayRow, len(all))
	for i, r := range all {
		rows[i] = relayRow{Relay: r, Alive: isAlive[r], Current: r == current}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i := range rows {
		if !rows[i].Alive {
			continue
		}
		g.Go(func() error {
			ms, err := ctl.Delay(gctx, rows[i].Relay, delayTestURL, timeout)
			if err == nil {
				rows[i].Delay = ms
			}
			return nil
		})
	}
	_ = g.Wait()
	return rows, nil
}

func formatRelays(w io.Writer, rows []relayRow) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "\tRELAY\tALIVE\tDELAY")
	for _, r := range rows {
		mark, delay := "", "-"
		if r.Current {
			mark = "*"
		}
		if r.Delay > 0 {
			delay = fmt.Sprintf("%dms", r.Delay)
		}
		fmt.Fprintf(tw, "%s\t%s\t%v\t%s\n", mark, r.Relay, r.Alive, delay)
	}
	_ = tw.Flush()
}

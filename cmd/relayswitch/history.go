package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrSnakeDoc/relayswitch/internal/domain"
)

// -- stats --

var statsCmd = &cobra.Command{
	Use:   "stats <group> <service>",
	Short: "Show the reliability statistics of a group for a service",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := cmd.Context()
		stats := a.Engine().Statistics(ctx, args[0], args[1])
		if stats.TotalNodes == 0 {
			fmt.Fprintf(os.Stderr, "No history for %s/%s.\n", args[0], args[1])
			return nil
		}

		minScore, _ := cmd.Flags().GetFloat64("min-score")
		limit, _ := cmd.Flags().GetInt("limit")
		formatStats(os.Stdout, stats, a.Engine().Rankings(ctx, args[0], args[1], minScore, limit))
		return nil
	},
}

// -- summary --

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Summarise every group and service with history",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		s := a.Engine().Summary(cmd.Context())
		if s.TotalServices == 0 {
			fmt.Fprintln(os.Stderr, "No history yet.")
			return nil
		}
		formatSummary(os.Stdout, s)
		return nil
	},
}

// -- export --

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the whole history to a JSON file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		output, _ := cmd.Flags().GetString("output")

		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		path, err := a.Engine().Export(cmd.Context(), output)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "History exported to %s\n", path)
		return nil
	},
}

// -- prune --

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Drop records older than 30 days when the history is over 5 MiB",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		n := a.Engine().Prune(cmd.Context())
		fmt.Fprintf(os.Stdout, "Removed %d records.\n", n)
		return nil
	},
}

// -- recommend --

var recommendCmd = &cobra.Command{
	Use:   "recommend <group> <service> <relay>...",
	Short: "Pick the relay to switch to among the given ones",
	Args:  cobra.MinimumNArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		current, _ := cmd.Flags().GetString("current")
		explain, _ := cmd.Flags().GetBool("explain")

		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		group, service, available := args[0], args[1], args[2:]
		candidates, relay, ok := a.Engine().Advise(cmd.Context(), group, service, available, current)
		if explain {
			formatCandidates(os.Stdout, candidates)
		}
		if !ok {
			return fmt.Errorf("no relay to recommend")
		}
		fmt.Fprintln(os.Stdout, relay)
		return nil
	},
}

func init() {
	statsCmd.Flags().Float64("min-score", 0, "hide relays scoring below this")
	statsCmd.Flags().Int("limit", 0, "show at most this many relays (0 = all)")
	exportCmd.Flags().StringP("output", "o", "", "output file (default: relayswitch_export_<timestamp>.json)")
	recommendCmd.Flags().String("current", "", "relay the group currently selects")
	recommendCmd.Flags().Bool("explain", false, "print every candidate's score")

	rootCmd.AddCommand(statsCmd, summaryCmd, exportCmd, pruneCmd, recommendCmd)
}

func formatStats(w io.Writer, s domain.Statistics, rankings []domain.Ranking) {
	fmt.Fprintf(w, "%s / %s\n", s.Group, s.Service)
	fmt.Fprintf(w, "  relays: %d  checks: %d  success rate: %.1f%%\n",
		s.TotalNodes, s.TotalChecks, s.SuccessRate*100)
	if s.MostReliableNode != nil {
		fmt.Fprintf(w, "  most reliable: %s (%.3f)\n", *s.MostReliableNode, *s.HighestReliabilityScore)
	}
	if s.LastSuccessfulNode != nil {
		fmt.Fprintf(w, "  last success: %s\n", *s.LastSuccessfulNode)
	}
	fmt.Fprintln(w)

	lastCheck := make(map[string]time.Time, len(s.Nodes))
	for _, n := range s.Nodes {
		lastCheck[n.Relay] = n.LastCheck
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tRELAY\tSCORE\tSUCCESS\tCHECKS\tSTATUS\tLAST CHECK")
	for i, r := range rankings {
		fmt.Fprintf(tw, "%d\t%s\t%.3f\t%.0f%%\t%d\t%s\t%s\n",
			i+1, r.Relay, r.ReliabilityScore, r.SuccessRate*100, r.TotalChecks, r.Status,
			lastCheck[r.Relay].Local().Format(time.DateTime))
	}
	_ = tw.Flush()
}

func formatSummary(w io.Writer, s domain.Summary) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "GROUP\tSERVICE\tRELAYS\tCHECKS\tSUCCESS\tBEST RELAY\tSCORE")
	for _, svc := range s.Services {
		best, score := "-", "-"
		if svc.MostReliableNode != nil {
			best = *svc.MostReliableNode
			score = fmt.Sprintf("%.3f", *svc.HighestReliabilityScore)
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%.0f%%\t%s\t%s\n",
			svc.Group, svc.Service, svc.TotalNodes, svc.TotalChecks, svc.SuccessRate*100, best, score)
	}
	_ = tw.Flush()
	fmt.Fprintf(w, "\n%d group/service pairs\n", s.TotalServices)
}

func formatCandidates(w io.Writer, cs []domain.Candidate) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RELAY\tFINAL\tCOMBINED\tBOOST\tHISTORY")
	for _, c := range cs {
		hist := "no"
		if c.HasHistory {
			hist = "yes"
		}
		fmt.Fprintf(tw, "%s\t%.3f\t%.3f\t%.3f\t%s\n", c.Relay, c.FinalScore, c.Combined, c.Boost, hist)
	}
	_ = tw.Flush()
}

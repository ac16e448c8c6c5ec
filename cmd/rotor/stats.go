package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/foxzi/rotor/internal/models"
)

var statsCmd = &cobra.Command{
	Use:   "stats <owner>",
	Short: "Show pool statistics for an owner",
	Args:  cobra.ExactArgs(1),
	RunE:  runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	mgr, _, closeFn, err := openManager()
	if err != nil {
		return err
	}
	defer closeFn()

	stats, err := mgr.Stats(args[0])
	if err != nil {
		return fmt.Errorf("failed to get stats: %w", err)
	}

	fmt.Printf("Owner: %s\n\n", stats.OwnerID)
	printKindStats("SMTP", stats.SMTP)
	printKindStats("Proxy", stats.Proxy)

	if len(stats.Servers) == 0 {
		return nil
	}

	fmt.Println()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tKIND\tENDPOINT\tACTIVE\tHEALTHY\tSCORE\tSUCCESS\tAVG MS\tSTREAK")
	fmt.Fprintln(w, "--\t----\t--------\t------\t-------\t-----\t-------\t------\t------")

	for _, srv := range stats.Servers {
		fmt.Fprintf(w, "%s\t%s\t%s:%d\t%s\t%s\t%.3f\t%.0f%%\t%.0f\t%d\n",
			truncateID(srv.ID),
			srv.Kind,
			srv.Host, srv.Port,
			yesNo(srv.IsActive),
			yesNo(srv.IsHealthy),
			srv.Score,
			srv.SuccessRate*100,
			srv.AverageResponseMs,
			srv.ConsecutiveFailures,
		)
	}

	w.Flush()
	return nil
}

func printKindStats(label string, ks models.KindStats) {
	fmt.Printf("%-6s %d total, %d active, %d healthy; %d requests (%d ok, %d failed)\n",
		label+":", ks.Total, ks.Active, ks.Healthy, ks.Requests, ks.Successful, ks.Failed)
}

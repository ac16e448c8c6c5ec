package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var (
	cleanupWindow      time.Duration
	cleanupMinFailures int
	cleanupDryRun      bool
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Deactivate servers that stayed unhealthy",
	Long:  `Deactivate servers that have been unhealthy longer than the window with enough consecutive failures. Records are kept; use "servers enable" to bring one back.`,
	RunE:  runCleanupCmd,
}

func init() {
	cleanupCmd.Flags().DurationVar(&cleanupWindow, "window", 0, "Unhealthy-for-longer-than window (default from config)")
	cleanupCmd.Flags().IntVar(&cleanupMinFailures, "min-failures", 0, "Minimum consecutive failures (default from config)")
	cleanupCmd.Flags().BoolVar(&cleanupDryRun, "dry-run", false, "Report matches without deactivating")
	rootCmd.AddCommand(cleanupCmd)
}

func runCleanupCmd(cmd *cobra.Command, args []string) error {
	mgr, cfg, closeFn, err := openManager()
	if err != nil {
		return err
	}
	defer closeFn()

	window := cleanupWindow
	if window == 0 {
		window = cfg.Worker.CleanupWindow
	}
	minFailures := cleanupMinFailures
	if minFailures == 0 {
		minFailures = cfg.Worker.CleanupMinFailures
	}

	n, err := mgr.Cleanup(window, minFailures, cleanupDryRun)
	if err != nil {
		return fmt.Errorf("cleanup failed: %w", err)
	}

	if cleanupDryRun {
		fmt.Printf("%d servers would be deactivated (unhealthy > %s with >= %d consecutive failures)\n", n, window, minFailures)
		return nil
	}

	fmt.Printf("%d servers deactivated\n", n)
	return nil
}

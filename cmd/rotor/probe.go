package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/foxzi/rotor/internal/config"
	"github.com/foxzi/rotor/internal/models"
	"github.com/foxzi/rotor/internal/probe"
	"github.com/foxzi/rotor/internal/rotation"
	"github.com/foxzi/rotor/internal/state"
	"github.com/foxzi/rotor/internal/store"
)

var probeKind string

var probeCmd = &cobra.Command{
	Use:   "probe <owner>",
	Short: "Probe an owner's servers and apply the results",
	Long:  `Probe every active server of an owner and update health state from the outcome.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runProbe,
}

func init() {
	probeCmd.Flags().StringVar(&probeKind, "kind", "", "Probe only one kind (smtp, proxy)")
	rootCmd.AddCommand(probeCmd)
}

// openManager builds the rotation manager over an existing store for
// one-shot subcommands. The returned func releases both databases.
func openManager() (*rotation.Manager, *config.Config, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, nil, err
	}

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to open store: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, nil, nil, fmt.Errorf("failed to migrate store: %w", err)
	}

	cache, err := state.New(cfg.State.Path)
	if err != nil {
		db.Close()
		return nil, nil, nil, fmt.Errorf("failed to open state cache: %w", err)
	}

	// Quiet logger; subcommands print their own output
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	servers := store.NewServerRepository(db.DB)
	settings := store.NewSettingsRepository(db.DB)
	smtpProber := probe.NewSMTPProber(cfg.Probe.Timeout, cfg.Probe.HELOName)
	proxyProber := probe.NewProxyProber(cfg.Probe.Timeout, cfg.Probe.CheckURL)
	monitor := rotation.NewHealthMonitor(servers, smtpProber, proxyProber, logger)

	defaults, err := cfg.Rotation.DefaultSettings()
	if err != nil {
		cache.Close()
		db.Close()
		return nil, nil, nil, err
	}

	mgr := rotation.NewManager(servers, settings, cache, monitor, defaults, cfg.State.CursorTTL, logger)

	closeFn := func() {
		cache.Close()
		db.Close()
	}
	return mgr, cfg, closeFn, nil
}

func runProbe(cmd *cobra.Command, args []string) error {
	var kind models.Kind
	if probeKind != "" {
		k, err := models.ParseKind(probeKind)
		if err != nil {
			return err
		}
		kind = k
	}

	mgr, _, closeFn, err := openManager()
	if err != nil {
		return err
	}
	defer closeFn()

	report, err := mgr.ProbeOwner(context.Background(), args[0], kind)
	if err != nil {
		return fmt.Errorf("probe failed: %w", err)
	}

	if report.Probed == 0 {
		fmt.Printf("No active servers for owner %s\n", args[0])
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tKIND\tENDPOINT\tRESULT\tCONNECT MS\tDETAIL")
	fmt.Fprintln(w, "--\t----\t--------\t------\t----------\t------")

	for _, res := range report.Servers {
		result := "healthy"
		if !res.Healthy {
			result = string(res.Failure)
		}
		fmt.Fprintf(w, "%s\t%s\t%s:%d\t%s\t%.0f\t%s\n",
			truncateID(res.ServerID),
			res.Kind,
			res.Host, res.Port,
			result,
			res.ConnectMs,
			res.Message,
		)
	}

	w.Flush()
	fmt.Printf("\nProbed %d servers: %d healthy, %d unhealthy\n", report.Probed, report.Healthy, report.Unhealthy)

	return nil
}

package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/foxzi/rotor/internal/models"
	"github.com/foxzi/rotor/internal/store"
)

var (
	serversListOwner string
	serversListKind  string

	serversAddOwner    string
	serversAddKind     string
	serversAddHost     string
	serversAddPort     int
	serversAddUsername string
	serversAddPassword string
	serversAddTLS      string
	serversAddScheme   string
)

var serversCmd = &cobra.Command{
	Use:   "servers",
	Short: "Server pool management commands",
}

var serversListCmd = &cobra.Command{
	Use:   "list",
	Short: "List servers in the pool",
	RunE:  runServersList,
}

var serversShowCmd = &cobra.Command{
	Use:   "show <server_id>",
	Short: "Show server details",
	Args:  cobra.ExactArgs(1),
	RunE:  runServersShow,
}

var serversAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a server to the pool",
	RunE:  runServersAdd,
}

var serversEnableCmd = &cobra.Command{
	Use:   "enable <server_id>",
	Short: "Return a server to rotation",
	Args:  cobra.ExactArgs(1),
	RunE:  runServersEnable,
}

var serversDisableCmd = &cobra.Command{
	Use:   "disable <server_id>",
	Short: "Remove a server from rotation",
	Args:  cobra.ExactArgs(1),
	RunE:  runServersDisable,
}

func init() {
	serversListCmd.Flags().StringVar(&serversListOwner, "owner", "", "Filter by owner")
	serversListCmd.Flags().StringVar(&serversListKind, "kind", "", "Filter by kind (smtp, proxy)")

	serversAddCmd.Flags().StringVar(&serversAddOwner, "owner", "", "Owner the server belongs to")
	serversAddCmd.Flags().StringVar(&serversAddKind, "kind", "", "Server kind (smtp, proxy)")
	serversAddCmd.Flags().StringVar(&serversAddHost, "host", "", "Server host")
	serversAddCmd.Flags().IntVar(&serversAddPort, "port", 0, "Server port")
	serversAddCmd.Flags().StringVar(&serversAddUsername, "username", "", "Authentication username")
	serversAddCmd.Flags().StringVar(&serversAddPassword, "password", "", "Authentication password")
	serversAddCmd.Flags().StringVar(&serversAddTLS, "tls", "", "TLS mode for relays (none, starttls, tls)")
	serversAddCmd.Flags().StringVar(&serversAddScheme, "scheme", "", "Scheme for proxies (http, https, socks5)")
	serversAddCmd.MarkFlagRequired("owner")
	serversAddCmd.MarkFlagRequired("kind")
	serversAddCmd.MarkFlagRequired("host")
	serversAddCmd.MarkFlagRequired("port")

	serversCmd.AddCommand(serversListCmd, serversShowCmd, serversAddCmd, serversEnableCmd, serversDisableCmd)
	rootCmd.AddCommand(serversCmd)
}

func openStore() (*store.DB, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate store: %w", err)
	}
	return db, nil
}

func runServersList(cmd *cobra.Command, args []string) error {
	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	filter := models.ServerFilter{OwnerID: serversListOwner}
	if serversListKind != "" {
		kind, err := models.ParseKind(serversListKind)
		if err != nil {
			return err
		}
		filter.Kind = kind
	}

	repo := store.NewServerRepository(db.DB)
	servers, err := repo.List(filter)
	if err != nil {
		return fmt.Errorf("failed to list servers: %w", err)
	}

	if len(servers) == 0 {
		fmt.Println("No servers found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tOWNER\tKIND\tENDPOINT\tACTIVE\tHEALTHY\tREQS\tFAILED\tLAST USED")
	fmt.Fprintln(w, "--\t-----\t----\t--------\t------\t-------\t----\t------\t---------")

	for _, srv := range servers {
		lastUsed := "never"
		if srv.LastUsed != nil {
			lastUsed = srv.LastUsed.Format("2006-01-02 15:04")
		}

		fmt.Fprintf(w, "%s\t%s\t%s\t%s:%d\t%s\t%s\t%d\t%d\t%s\n",
			truncateID(srv.ID),
			srv.OwnerID,
			srv.Kind,
			srv.Host, srv.Port,
			yesNo(srv.IsActive),
			yesNo(srv.IsHealthy),
			srv.TotalRequests,
			srv.FailedRequests,
			lastUsed,
		)
	}

	w.Flush()
	fmt.Printf("\nTotal: %d servers\n", len(servers))

	return nil
}

func runServersShow(cmd *cobra.Command, args []string) error {
	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	repo := store.NewServerRepository(db.DB)
	srv, err := repo.GetByID(args[0])
	if err != nil {
		return fmt.Errorf("failed to get server: %w", err)
	}
	if srv == nil {
		return fmt.Errorf("server not found: %s", args[0])
	}

	fmt.Printf("Server: %s\n\n", srv.ID)
	fmt.Printf("Owner:        %s\n", srv.OwnerID)
	fmt.Printf("Kind:         %s\n", srv.Kind)
	fmt.Printf("Endpoint:     %s:%d\n", srv.Host, srv.Port)
	if srv.Kind == models.KindSMTP {
		fmt.Printf("TLS:          %s\n", srv.TLSMode)
	} else {
		fmt.Printf("Scheme:       %s\n", srv.Scheme)
	}
	if srv.Username != "" {
		fmt.Printf("Username:     %s\n", srv.Username)
	}
	fmt.Printf("Active:       %s\n", yesNo(srv.IsActive))
	fmt.Printf("Healthy:      %s\n", yesNo(srv.IsHealthy))
	fmt.Printf("Requests:     %d (%d ok, %d failed)\n", srv.TotalRequests, srv.SuccessfulRequests, srv.FailedRequests)
	fmt.Printf("Streak:       %d consecutive failures\n", srv.ConsecutiveFailures)
	if srv.AverageResponseMs > 0 {
		fmt.Printf("Avg Response: %.1f ms\n", srv.AverageResponseMs)
	}
	if srv.LastUsed != nil {
		fmt.Printf("Last Used:    %s\n", srv.LastUsed.Format(time.RFC3339))
	}
	if srv.LastHealthCheck != nil {
		fmt.Printf("Last Probe:   %s\n", srv.LastHealthCheck.Format(time.RFC3339))
	}
	if srv.UnhealthySince != nil {
		fmt.Printf("Unhealthy:    since %s\n", srv.UnhealthySince.Format(time.RFC3339))
	}
	if srv.LastError != "" {
		fmt.Printf("\nLast Error:\n  %s\n", srv.LastError)
	}

	return nil
}

func runServersAdd(cmd *cobra.Command, args []string) error {
	kind, err := models.ParseKind(serversAddKind)
	if err != nil {
		return err
	}
	tlsMode, err := models.ParseTLSMode(serversAddTLS)
	if err != nil {
		return err
	}

	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	srv := &models.Server{
		OwnerID:  serversAddOwner,
		Kind:     kind,
		Host:     serversAddHost,
		Port:     serversAddPort,
		Username: serversAddUsername,
		Password: serversAddPassword,
		TLSMode:  tlsMode,
		Scheme:   serversAddScheme,
	}

	repo := store.NewServerRepository(db.DB)
	if err := repo.UpsertEndpoint(srv); err != nil {
		return fmt.Errorf("failed to add server: %w", err)
	}

	fmt.Printf("Server %s added (%s %s:%d for %s)\n", srv.ID, srv.Kind, srv.Host, srv.Port, srv.OwnerID)
	return nil
}

func runServersEnable(cmd *cobra.Command, args []string) error {
	return setServerActive(args[0], true, "returned to rotation")
}

func runServersDisable(cmd *cobra.Command, args []string) error {
	return setServerActive(args[0], false, "removed from rotation")
}

func setServerActive(id string, active bool, verb string) error {
	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	repo := store.NewServerRepository(db.DB)
	srv, err := repo.GetByID(id)
	if err != nil {
		return fmt.Errorf("failed to get server: %w", err)
	}
	if srv == nil {
		return fmt.Errorf("server not found: %s", id)
	}

	if err := repo.SetActive(id, active); err != nil {
		return fmt.Errorf("failed to update server: %w", err)
	}

	fmt.Printf("Server %s (%s:%d) %s\n", truncateID(id), srv.Host, srv.Port, verb)
	return nil
}

func truncateID(id string) string {
	if len(id) <= 12 {
		return id
	}
	return id[:12] + "..."
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/anstrom/bifrost/internal/daemon"
	"github.com/anstrom/bifrost/internal/discovery"
	"github.com/anstrom/bifrost/internal/logging"
	"github.com/anstrom/bifrost/internal/targets"
)

var (
	discoverSave    bool
	discoverPorts   string
	discoverTimeout time.Duration
)

var discoverCmd = &cobra.Command{
	Use:   "discover [network...]",
	Short: "Run a one-shot discovery scan",
	Long: `Scan the given networks (CIDR) for live hosts and open ports. Without
arguments the configured networks are used, or the local IPv4 networks when
none are configured. With --save the result is merged into the target table.`,
	Example: `  bifrost discover
  bifrost discover 192.168.1.0/24
  bifrost discover --save --ports 22,80,443`,
	RunE: runDiscover,
}

func init() {
	rootCmd.AddCommand(discoverCmd)

	discoverCmd.Flags().BoolVar(&discoverSave, "save", false, "merge the result into the target table")
	discoverCmd.Flags().StringVar(&discoverPorts, "ports", "", "TCP ports to probe (overrides discovery.ports)")
	discoverCmd.Flags().DurationVar(&discoverTimeout, "timeout", 0, "scan timeout (overrides discovery.timeout)")
}

func runDiscover(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if len(args) > 0 {
		cfg.Discovery.Networks = args
	}
	if discoverPorts != "" {
		cfg.Discovery.Ports = discoverPorts
	}
	if discoverTimeout > 0 {
		cfg.Discovery.Timeout = discoverTimeout
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	logger := logging.Default()

	store, database, err := daemon.OpenStore(ctx, &cfg.Store, logger)
	if err != nil {
		return fmt.Errorf("failed to open target store: %w", err)
	}
	if database != nil {
		defer func() { _ = database.Close() }()
	}

	engine := discovery.NewEngine(cfg.Discovery, store, discovery.WithLogger(logger))
	if discoverSave {
		if err := engine.Scan(ctx); err != nil {
			return err
		}
		rows, err := store.Read(ctx)
		if err != nil {
			return fmt.Errorf("failed to read targets: %w", err)
		}
		return renderTargets(cmd.OutOrStdout(), rows, true)
	}

	networks, err := engine.Networks(ctx)
	if err != nil {
		return err
	}
	hosts, err := engine.Discover(ctx, networks)
	if err != nil {
		return fmt.Errorf("discovery failed: %w", err)
	}
	return renderHosts(cmd.OutOrStdout(), hosts)
}

func renderHosts(w io.Writer, hosts []targets.Host) error {
	if len(hosts) == 0 {
		_, err := fmt.Fprintln(w, "No live hosts found.")
		return err
	}
	table := tablewriter.NewWriter(w)
	table.Header("IP", "MAC", "Hostname", "Ports")
	for _, h := range hosts {
		if err := table.Append([]string{h.IP, h.MAC, h.Hostname, formatPorts(h.Ports)}); err != nil {
			return err
		}
	}
	return table.Render()
}

package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/anstrom/bifrost/internal/config"
	"github.com/anstrom/bifrost/internal/daemon"
	"github.com/anstrom/bifrost/internal/logging"
)

var (
	runSerial  bool
	runNoAPI   bool
	runPIDFile string
)

// runCmd runs the daemon in the foreground.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the bifrost daemon in the foreground",
	Long: `Run the scheduler loop, the status API and the optional Wi-Fi watch
in the foreground until SIGINT or SIGTERM. SIGUSR1 logs a status dump.`,
	Example: `  bifrost run
  bifrost run --config /etc/bifrost/config.yaml
  bifrost run --serial --no-api`,
	RunE: runDaemon,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().BoolVar(&runSerial, "serial", false, "dispatch one action at a time")
	runCmd.Flags().BoolVar(&runNoAPI, "no-api", false, "disable the status API")
	runCmd.Flags().StringVar(&runPIDFile, "pid-file", "", "override the configured PID file")
}

func runDaemon(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	applyRunFlags(cfg)

	logger := logging.Default()
	d := daemon.New(cfg, version, logger)
	if err := d.Start(); err != nil {
		return fmt.Errorf("daemon failed: %w", err)
	}
	return nil
}

func applyRunFlags(cfg *config.Config) {
	if runSerial {
		cfg.Orchestrator.DispatchMode = config.DispatchSerial
	}
	if runNoAPI {
		cfg.API.Enabled = false
	}
	if runPIDFile != "" {
		cfg.Daemon.PIDFile = runPIDFile
	}
}

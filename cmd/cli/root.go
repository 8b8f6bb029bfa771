// Package cli provides the bifrost command-line interface: the foreground
// daemon, one-shot discovery, and inspection of the target table and the
// action registry.
package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/anstrom/bifrost/internal/config"
	"github.com/anstrom/bifrost/internal/logging"
)

const (
	envPrefix         = "BIFROST"
	defaultConfigFile = "config.yaml"
)

var (
	cfgFile string
	verbose bool
)

// Build information - these will be set by ldflags during build.
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

// envOverrides are the config keys that BIFROST_* environment variables may
// override, e.g. BIFROST_STORE_DRIVER for store.driver.
var envOverrides = []string{
	"logging.level",
	"logging.format",
	"store.driver",
	"store.path",
	"api.listen_addr",
	"api.port",
	"api.api_key_hash",
	"orchestrator.dispatch_mode",
	"actions.file",
	"events.nats.enabled",
	"events.nats.url",
}

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "bifrost",
	Short: "Network action scheduler",
	Long: `Bifrost keeps a table of discovered hosts and runs a registry of
network actions against them, honoring port gating, parent dependencies
and per-action retry cooldowns.`,
	Version:      getVersion(),
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	if err := viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose")); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to bind verbose flag: %v\n", err)
	}
}

// initConfig loads .env and sets up the environment layer.
func initConfig() {
	// A missing .env is the common case.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Warning: failed to load .env: %v\n", err)
	}

	bindEnv()
	initLogging()
}

// bindEnv maps config keys to BIFROST_* environment variables.
func bindEnv() {
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
}

// configPath returns the --config value, then BIFROST_CONFIG, then the default.
func configPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if p := viper.GetString("config"); p != "" {
		return p
	}
	return defaultConfigFile
}

// loadConfig reads the config file and applies environment overrides.
func loadConfig() (*config.Config, error) {
	path := configPath()
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from %s: %w", path, err)
	}
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *config.Config) error {
	for _, key := range envOverrides {
		if !viper.IsSet(key) {
			continue
		}
		switch key {
		case "logging.level":
			cfg.Logging.Level = logging.LogLevel(viper.GetString(key))
		case "logging.format":
			cfg.Logging.Format = logging.LogFormat(viper.GetString(key))
		case "store.driver":
			cfg.Store.Driver = viper.GetString(key)
		case "store.path":
			cfg.Store.Path = viper.GetString(key)
		case "api.listen_addr":
			cfg.API.ListenAddr = viper.GetString(key)
		case "api.port":
			port := viper.GetInt(key)
			if port == 0 && viper.GetString(key) != "0" {
				return fmt.Errorf("invalid %s_API_PORT: %q", envPrefix, viper.GetString(key))
			}
			cfg.API.Port = port
		case "api.api_key_hash":
			cfg.API.APIKeyHash = viper.GetString(key)
		case "orchestrator.dispatch_mode":
			cfg.Orchestrator.DispatchMode = viper.GetString(key)
		case "actions.file":
			cfg.Actions.File = viper.GetString(key)
		case "events.nats.enabled":
			cfg.Events.NATS.Enabled = viper.GetBool(key)
		case "events.nats.url":
			cfg.Events.NATS.URL = viper.GetString(key)
		}
	}
	return nil
}

// getVersion returns the version string.
func getVersion() string {
	return fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildTime)
}

// SetVersion sets the version information (called from main).
func SetVersion(v, c, bt string) {
	version = v
	commit = c
	buildTime = bt
	rootCmd.Version = getVersion()
}

// initLogging initializes structured logging based on configuration.
func initLogging() {
	cfg, err := loadConfig()
	if err != nil {
		logging.SetDefault(logging.NewDefault())
		return
	}

	logConfig := cfg.Logging
	if verbose {
		logConfig.Level = logging.LevelDebug
	}
	logConfig.AddSource = logConfig.Level == logging.LevelDebug

	logger, err := logging.New(logConfig)
	if err != nil {
		logger = logging.NewDefault()
		fmt.Fprintf(os.Stderr, "Warning: failed to initialize logging: %v\n", err)
	}
	logging.SetDefault(logger)

	if verbose {
		logger.Debug("Structured logging initialized",
			"config", configPath(), "level", logConfig.Level, "format", logConfig.Format)
	}
}

// Package config loads and validates the bifrost daemon configuration.
package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/anstrom/bifrost/internal/db"
	"github.com/anstrom/bifrost/internal/errors"
	"github.com/anstrom/bifrost/internal/logging"
)

const (
	configDirPerm  = 0750
	configFilePerm = 0600
)

// Dispatch modes.
const (
	DispatchConcurrent = "concurrent"
	DispatchSerial     = "serial"
)

// Config represents the complete daemon configuration
type Config struct {
	// Daemon configuration
	Daemon DaemonConfig `yaml:"daemon" json:"daemon"`

	// Scheduling policy
	Orchestrator OrchestratorConfig `yaml:"orchestrator" json:"orchestrator"`

	// Action registry and built-in action settings
	Actions ActionsConfig `yaml:"actions" json:"actions"`

	// Network discovery
	Discovery DiscoveryConfig `yaml:"discovery" json:"discovery"`

	// Target store
	Store db.Config `yaml:"store" json:"store"`

	// Idle recovery
	Remediation RemediationConfig `yaml:"remediation" json:"remediation"`

	// Event publishing
	Events EventsConfig `yaml:"events" json:"events"`

	// API configuration
	API APIConfig `yaml:"api" json:"api"`

	// Logging configuration
	Logging logging.Config `yaml:"logging" json:"logging"`
}

// DaemonConfig holds daemon-specific settings
type DaemonConfig struct {
	// PID file location
	PIDFile string `yaml:"pid_file" json:"pid_file"`

	// Working directory
	WorkDir string `yaml:"work_dir" json:"work_dir"`

	// Graceful shutdown timeout
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout" validate:"gte=0"`
}

// OrchestratorConfig holds the scheduling policy.
type OrchestratorConfig struct {
	// Wait after a success before the pair may run again
	SuccessRetryDelay time.Duration `yaml:"success_retry_delay" json:"success_retry_delay" validate:"gte=0"`

	// Wait after a failure before the pair may run again
	FailedRetryDelay time.Duration `yaml:"failed_retry_delay" json:"failed_retry_delay" validate:"gte=0"`

	// Whether a successful pair is ever retried
	RetrySuccessfulActions bool `yaml:"retry_successful_actions" json:"retry_successful_actions"`

	// Sleep between idle cycles
	ScanInterval time.Duration `yaml:"scan_interval" json:"scan_interval" validate:"gt=0"`

	// Maximum number of concurrently executing actions
	MaxConcurrentActions int `yaml:"max_concurrent_actions" json:"max_concurrent_actions" validate:"gte=1"`

	// concurrent or serial
	DispatchMode string `yaml:"dispatch_mode" json:"dispatch_mode" validate:"oneof=concurrent serial"`
}

// ActionsConfig holds the registry source and settings for built-in actions.
type ActionsConfig struct {
	// Registry source (YAML or JSON list of action records)
	File string `yaml:"file" json:"file" validate:"required"`

	// Per-invocation timeout applied to built-in actions
	Timeout time.Duration `yaml:"timeout" json:"timeout" validate:"gt=0"`

	// SNMP community used by SNMPSysDescr
	SNMPCommunity string `yaml:"snmp_community" json:"snmp_community"`

	// Resolver address for DNSReverse; empty uses /etc/resolv.conf
	DNSResolver string `yaml:"dns_resolver" json:"dns_resolver"`

	// NSE scripts run by NmapVulnScanner
	VulnScripts []string `yaml:"vuln_scripts" json:"vuln_scripts"`
}

// DiscoveryConfig holds network discovery settings.
type DiscoveryConfig struct {
	// Networks to scan in CIDR notation; empty auto-detects local networks
	Networks []string `yaml:"networks" json:"networks" validate:"dive,cidr"`

	// TCP ports to probe
	Ports string `yaml:"ports" json:"ports" validate:"required"`

	// UDP ports to probe (requires privileges)
	UDPPorts string `yaml:"udp_ports" json:"udp_ports"`

	// Scan timeout
	Timeout time.Duration `yaml:"timeout" json:"timeout" validate:"gt=0"`

	// Cron expression for scheduled rescans; empty rescans only when idle
	RescanCron string `yaml:"rescan_cron" json:"rescan_cron"`
}

// RemediationConfig holds idle recovery settings.
type RemediationConfig struct {
	WiFi WiFiConfig `yaml:"wifi" json:"wifi"`
}

// WiFiConfig holds Wi-Fi network switching settings.
type WiFiConfig struct {
	// Enable Wi-Fi switching when idle
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Wireless interface
	Interface string `yaml:"interface" json:"interface"`

	// Known networks file
	CredentialsFile string `yaml:"credentials_file" json:"credentials_file"`

	// OS keyring service for passwords missing from the credentials file
	KeyringService string `yaml:"keyring_service" json:"keyring_service"`

	// Also check periodically while the daemon stays idle
	Watch bool `yaml:"watch" json:"watch"`

	// Period of the watch check
	CheckInterval time.Duration `yaml:"check_interval" json:"check_interval" validate:"gt=0"`
}

// EventsConfig holds event publishing settings.
type EventsConfig struct {
	NATS NATSConfig `yaml:"nats" json:"nats"`
}

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	// Publish events to NATS
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Server URL
	URL string `yaml:"url" json:"url"`

	// Subject prefix
	SubjectPrefix string `yaml:"subject_prefix" json:"subject_prefix"`
}

// APIConfig holds status API server settings
type APIConfig struct {
	// Enable API server
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Listen address
	ListenAddr string `yaml:"listen_addr" json:"listen_addr"`

	// Listen port
	Port int `yaml:"port" json:"port" validate:"gte=0,lte=65535"`

	// bcrypt hash of the API key; empty disables authentication
	APIKeyHash string `yaml:"api_key_hash" json:"api_key_hash"`

	// Expose Prometheus metrics at /metrics
	Metrics bool `yaml:"metrics" json:"metrics"`

	// Request read timeout
	ReadTimeout time.Duration `yaml:"read_timeout" json:"read_timeout"`

	// Response write timeout
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`

	// Allowed CORS origins
	AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins"`
}

// Default returns a configuration with sensible defaults
func Default() *Config {
	return &Config{
		Daemon: DaemonConfig{
			PIDFile:         "/var/run/bifrost.pid",
			WorkDir:         "/var/lib/bifrost",
			ShutdownTimeout: 30 * time.Second,
		},
		Orchestrator: OrchestratorConfig{
			SuccessRetryDelay:      time.Hour,
			FailedRetryDelay:       10 * time.Minute,
			RetrySuccessfulActions: true,
			ScanInterval:           3 * time.Minute,
			MaxConcurrentActions:   10,
			DispatchMode:           DispatchConcurrent,
		},
		Actions: ActionsConfig{
			File:          "/etc/bifrost/actions.yaml",
			Timeout:       30 * time.Second,
			SNMPCommunity: "public",
			VulnScripts:   []string{"vulners"},
		},
		Discovery: DiscoveryConfig{
			Ports:   "21,22,23,25,53,80,110,139,143,443,445,554,3306,3389,5900,8080,8443",
			Timeout: 5 * time.Minute,
		},
		Store: db.DefaultConfig(),
		Remediation: RemediationConfig{
			WiFi: WiFiConfig{
				Enabled:         false,
				Interface:       "wlan0",
				CredentialsFile: "/etc/bifrost/wifi.json",
				KeyringService:  "bifrost-wifi",
				CheckInterval:   time.Minute,
			},
		},
		Events: EventsConfig{
			NATS: NATSConfig{
				URL:           "nats://127.0.0.1:4222",
				SubjectPrefix: "bifrost",
			},
		},
		API: APIConfig{
			Enabled:        true,
			ListenAddr:     "127.0.0.1",
			Port:           8080,
			Metrics:        true,
			ReadTimeout:    10 * time.Second,
			WriteTimeout:   10 * time.Second,
			AllowedOrigins: []string{"*"},
		},
		Logging: logging.DefaultConfig(),
	}
}

// Load loads configuration from a file. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	config := Default()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapConfigError(errors.CodeConfiguration, "failed to read config file", err)
	}

	// yaml.v3 also accepts JSON documents.
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, errors.WrapConfigError(errors.CodeConfiguration,
			fmt.Sprintf("failed to parse %s config", strings.TrimPrefix(filepath.Ext(path), ".")), err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Save saves configuration to a file
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), configDirPerm); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, configFilePerm); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks struct constraints and cross-field rules.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
			first := verrs[0]
			return errors.NewConfigFieldError(errors.CodeValidation,
				fmt.Sprintf("invalid configuration: %s failed %q", first.Namespace(), first.Tag()),
				first.Namespace(), first.Value())
		}
		return errors.WrapConfigError(errors.CodeValidation, "invalid configuration", err)
	}

	switch c.Store.Driver {
	case db.DriverPostgres:
		if c.Store.Database == "" {
			return errors.ErrConfigMissing("store.database")
		}
		if c.Store.Username == "" {
			return errors.ErrConfigMissing("store.username")
		}
	case db.DriverSQLite:
		if c.Store.Path == "" {
			return errors.ErrConfigMissing("store.path")
		}
	}

	if c.API.Enabled {
		if c.API.Port == 0 {
			return errors.ErrConfigInvalid("api.port", c.API.Port)
		}
		if net.ParseIP(c.API.ListenAddr) == nil && c.API.ListenAddr != "localhost" {
			return errors.ErrConfigInvalid("api.listen_addr", c.API.ListenAddr)
		}
	}

	if c.Discovery.RescanCron != "" {
		if _, err := cron.ParseStandard(c.Discovery.RescanCron); err != nil {
			return errors.NewConfigFieldError(errors.CodeValidation,
				"invalid cron expression", "discovery.rescan_cron", c.Discovery.RescanCron)
		}
	}

	if c.Remediation.WiFi.Enabled {
		if c.Remediation.WiFi.Interface == "" {
			return errors.ErrConfigMissing("remediation.wifi.interface")
		}
		if c.Remediation.WiFi.CredentialsFile == "" {
			return errors.ErrConfigMissing("remediation.wifi.credentials_file")
		}
	}

	if c.Events.NATS.Enabled && c.Events.NATS.URL == "" {
		return errors.ErrConfigMissing("events.nats.url")
	}

	return nil
}

// GetAPIAddress returns the full API address
func (c *Config) GetAPIAddress() string {
	return net.JoinHostPort(c.API.ListenAddr, fmt.Sprint(c.API.Port))
}

// IsSerialDispatch reports whether actions run one at a time in registry order.
func (c *Config) IsSerialDispatch() bool {
	return c.Orchestrator.DispatchMode == DispatchSerial
}

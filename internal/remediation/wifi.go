// Package remediation switches the host to another known Wi-Fi network when
// the scheduler has run out of work on the current one.
package remediation

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"os"
	"os/exec"
	"slices"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/zalando/go-keyring"

	"github.com/anstrom/bifrost/internal/config"
	"github.com/anstrom/bifrost/internal/errors"
	"github.com/anstrom/bifrost/internal/logging"
	"github.com/anstrom/bifrost/internal/orchestrator"
)

// ErrNoKnownNetwork is returned when no known network is in range or none of
// them accepted the connection.
var ErrNoKnownNetwork = stderrors.New("no known network in range")

// Network is one entry of the credentials file.
type Network struct {
	SSID     string `json:"SSID" validate:"required"`
	BSSID    string `json:"BSSID,omitempty" validate:"omitempty,mac"`
	Password string `json:"Password,omitempty"`
}

// AccessPoint is a network seen by a scan.
type AccessPoint struct {
	SSID  string `json:"ssid"`
	BSSID string `json:"bssid"`
}

// CommandRunner runs an external command and returns its standard output.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// Run implements CommandRunner.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	out, err := exec.CommandContext(ctx, name, args...).Output()
	var exitErr *exec.ExitError
	if stderrors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
		return out, fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(string(exitErr.Stderr)))
	}
	if err != nil {
		return out, fmt.Errorf("%s: %w", name, err)
	}
	return out, nil
}

// SecretStore looks up a password for an SSID.
type SecretStore interface {
	Get(service, user string) (string, error)
}

// Keyring reads passwords from the OS keyring.
type Keyring struct{}

// Get implements SecretStore. A missing entry yields an empty password.
func (Keyring) Get(service, user string) (string, error) {
	secret, err := keyring.Get(service, user)
	if stderrors.Is(err, keyring.ErrNotFound) {
		return "", nil
	}
	return secret, err
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// ParseCredentials decodes a JSON list of known networks.
func ParseCredentials(data []byte) ([]Network, error) {
	var networks []Network
	if err := json.Unmarshal(data, &networks); err != nil {
		return nil, fmt.Errorf("failed to parse credentials: %w", err)
	}
	for i := range networks {
		if err := validate.Struct(networks[i]); err != nil {
			return nil, fmt.Errorf("credentials entry %d: %w", i, err)
		}
	}
	return networks, nil
}

// LoadCredentials reads the known networks file.
func LoadCredentials(path string) ([]Network, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials: %w", err)
	}
	return ParseCredentials(data)
}

// WiFiSwitcher connects to the first known network in range.
type WiFiSwitcher struct {
	iface           string
	credentialsFile string
	keyringService  string
	runner          CommandRunner
	secrets         SecretStore
	logger          *logging.Logger

	// switchMu is held for a whole scan-and-connect sequence on iface.
	switchMu sync.Mutex
}

// Option customizes a WiFiSwitcher.
type Option func(*WiFiSwitcher)

// WithRunner replaces the command runner.
func WithRunner(r CommandRunner) Option { return func(w *WiFiSwitcher) { w.runner = r } }

// WithSecrets replaces the keyring lookup.
func WithSecrets(s SecretStore) Option { return func(w *WiFiSwitcher) { w.secrets = s } }

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(w *WiFiSwitcher) { w.logger = l.WithComponent("remediation") }
}

// NewWiFiSwitcher creates a switcher for the configured interface.
func NewWiFiSwitcher(cfg config.WiFiConfig, opts ...Option) *WiFiSwitcher {
	w := &WiFiSwitcher{
		iface:           cfg.Interface,
		credentialsFile: cfg.CredentialsFile,
		keyringService:  cfg.KeyringService,
		runner:          ExecRunner{},
		secrets:         Keyring{},
		logger:          logging.Default().WithComponent("remediation"),
	}
	if w.iface == "" {
		w.iface = "wlan0"
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// OnIdle switches networks when label reports the scheduler idle. Any other
// label is ignored, as is an idle report that arrives while a switch is
// already running.
func (w *WiFiSwitcher) OnIdle(ctx context.Context, label string) error {
	if label != orchestrator.LabelIdle {
		w.logger.Debug("Not idle, keeping current network", "label", label)
		return nil
	}
	if !w.switchMu.TryLock() {
		w.logger.Debug("Network switch already in progress", "interface", w.iface)
		return nil
	}
	defer w.switchMu.Unlock()

	_, err := w.switchNetwork(ctx)
	return err
}

// Switch scans for networks and connects to the first known one in range,
// in credentials file order. It returns the SSID joined. Concurrent calls
// run one after another.
func (w *WiFiSwitcher) Switch(ctx context.Context) (string, error) {
	w.switchMu.Lock()
	defer w.switchMu.Unlock()
	return w.switchNetwork(ctx)
}

func (w *WiFiSwitcher) switchNetwork(ctx context.Context) (string, error) {
	known := w.credentials()
	if len(known) == 0 {
		return "", ErrNoKnownNetwork
	}

	w.logger.Info("Scanning for known networks", "interface", w.iface)
	seen, err := w.ScanNetworks(ctx)
	if err != nil {
		return "", errors.WrapRemediationError("Wi-Fi scan failed", "", err)
	}

	for _, n := range known {
		if !inRange(n, seen) {
			continue
		}
		w.logger.InfoRemediation("Found known network, connecting", n.SSID)
		if err := w.Connect(ctx, n); err != nil {
			w.logger.Warn("Failed to connect", "ssid", n.SSID, "error", err)
			continue
		}
		w.logger.InfoRemediation("Connected, network switching complete", n.SSID)
		return n.SSID, nil
	}
	return "", ErrNoKnownNetwork
}

// ScanNetworks lists the access points visible on the interface.
func (w *WiFiSwitcher) ScanNetworks(ctx context.Context) ([]AccessPoint, error) {
	out, err := w.runner.Run(ctx, "sudo", "iwlist", w.iface, "scan")
	if err != nil {
		return nil, err
	}
	return parseIwlist(out), nil
}

// Connect drops the current connection and joins n. A password missing from
// the credentials file is looked up in the keyring; without one the network
// is joined as open.
func (w *WiFiSwitcher) Connect(ctx context.Context, n Network) error {
	password := n.Password
	if password == "" && w.keyringService != "" {
		secret, err := w.secrets.Get(w.keyringService, n.SSID)
		if err != nil {
			w.logger.Warn("Keyring lookup failed", "ssid", n.SSID, "error", err)
		}
		password = secret
	}

	if _, err := w.runner.Run(ctx, "nmcli", "device", "disconnect", w.iface); err != nil {
		return errors.WrapRemediationError("failed to disconnect", n.SSID, err)
	}

	args := []string{"device", "wifi", "connect", n.SSID}
	if password != "" {
		args = append(args, "password", password)
	}
	if _, err := w.runner.Run(ctx, "nmcli", args...); err != nil {
		return errors.WrapRemediationError("failed to connect", n.SSID, err)
	}
	return nil
}

// credentials loads the known networks; failures yield an empty list.
func (w *WiFiSwitcher) credentials() []Network {
	networks, err := LoadCredentials(w.credentialsFile)
	if err != nil {
		w.logger.Error("Error loading Wi-Fi credentials", "file", w.credentialsFile, "error", err)
		return nil
	}
	w.logger.Debug("Wi-Fi credentials loaded", "networks", len(networks))
	return networks
}

func inRange(n Network, seen []AccessPoint) bool {
	return slices.ContainsFunc(seen, func(ap AccessPoint) bool {
		return ap.SSID == n.SSID || (n.BSSID != "" && strings.EqualFold(ap.BSSID, n.BSSID))
	})
}

// parseIwlist extracts cells from `iwlist scan` output. Each "Address:" line
// opens a cell and the following "ESSID:" line names it.
func parseIwlist(out []byte) []AccessPoint {
	var aps []AccessPoint
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case strings.Contains(line, "Address:"):
			_, addr, _ := strings.Cut(line, "Address:")
			aps = append(aps, AccessPoint{BSSID: strings.TrimSpace(addr)})
		case strings.HasPrefix(line, "ESSID:"):
			ssid := strings.Trim(strings.TrimPrefix(line, "ESSID:"), `"`)
			if len(aps) == 0 {
				aps = append(aps, AccessPoint{})
			}
			aps[len(aps)-1].SSID = ssid
		}
	}
	return aps
}

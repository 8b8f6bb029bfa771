// Package discovery finds live hosts and their open ports on the local
// networks and folds them into the target table.
package discovery

import (
	"context"
	"fmt"
	"net"
	"slices"
	"strings"
	"time"

	"github.com/Ullaakut/nmap/v3"
	psnet "github.com/shirou/gopsutil/v3/net"

	"github.com/anstrom/bifrost/internal/config"
	"github.com/anstrom/bifrost/internal/errors"
	"github.com/anstrom/bifrost/internal/logging"
	"github.com/anstrom/bifrost/internal/metrics"
	"github.com/anstrom/bifrost/internal/targets"
)

const (
	// Default discovery configuration values.
	defaultTimeout     = 5 * time.Minute
	defaultPorts       = "22,80,443"
	maxNetworkSizeBits = 16 // Limit auto-detected networks to /16 or smaller
	fastTimeout        = 30 * time.Second
	normalTimeout      = 2 * time.Minute
)

// Scanner runs a single nmap invocation.
type Scanner interface {
	Scan(ctx context.Context, options ...nmap.Option) (*nmap.Run, []string, error)
}

// InterfaceLister returns the local network interfaces.
type InterfaceLister func(ctx context.Context) (psnet.InterfaceStatList, error)

// NmapScanner runs the nmap binary.
type NmapScanner struct{}

// Scan implements Scanner.
func (NmapScanner) Scan(ctx context.Context, options ...nmap.Option) (*nmap.Run, []string, error) {
	scanner, err := nmap.NewScanner(ctx, options...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create nmap scanner: %w", err)
	}

	result, warnings, err := scanner.Run()
	var w []string
	if warnings != nil {
		w = *warnings
	}
	if err != nil {
		return nil, w, fmt.Errorf("nmap discovery failed: %w", err)
	}
	return result, w, nil
}

// Engine handles network discovery operations.
type Engine struct {
	store      targets.Store
	scanner    Scanner
	interfaces InterfaceLister
	metrics    metrics.Recorder
	logger     *logging.Logger
	now        func() time.Time

	networks []string
	ports    string
	udpPorts string
	timeout  time.Duration
}

// Option customizes an Engine.
type Option func(*Engine)

// WithScanner replaces the nmap runner.
func WithScanner(s Scanner) Option { return func(e *Engine) { e.scanner = s } }

// WithInterfaces replaces the local interface lookup used for auto-detection.
func WithInterfaces(l InterfaceLister) Option { return func(e *Engine) { e.interfaces = l } }

// WithMetrics sets the metrics recorder.
func WithMetrics(m metrics.Recorder) Option { return func(e *Engine) { e.metrics = m } }

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(e *Engine) { e.logger = l.WithComponent("discovery") }
}

// NewEngine creates a new discovery engine writing into store.
func NewEngine(cfg config.DiscoveryConfig, store targets.Store, opts ...Option) *Engine {
	e := &Engine{
		store:      store,
		scanner:    NmapScanner{},
		interfaces: psnet.InterfacesWithContext,
		metrics:    metrics.Nop{},
		logger:     logging.Default().WithComponent("discovery"),
		now:        time.Now,
		networks:   cfg.Networks,
		ports:      cfg.Ports,
		udpPorts:   cfg.UDPPorts,
		timeout:    cfg.Timeout,
	}
	if e.ports == "" {
		e.ports = defaultPorts
	}
	if e.timeout <= 0 {
		e.timeout = defaultTimeout
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Scan discovers live hosts, merges them into the table and writes it back.
// Rows not seen in this scan are marked not alive; status cells are kept.
func (e *Engine) Scan(ctx context.Context) error {
	start := e.now()

	networks, err := e.Networks(ctx)
	if err != nil {
		e.metrics.ObserveDiscovery(metrics.OutcomeError, e.now().Sub(start), 0)
		e.logger.ErrorDiscovery("No network to scan", "", err)
		return errors.ErrDiscoveryFailed("", err)
	}
	label := strings.Join(networks, ",")

	hosts, err := e.Discover(ctx, networks)
	if err == nil {
		err = e.merge(ctx, hosts)
	}
	duration := e.now().Sub(start)
	if err != nil {
		e.metrics.ObserveDiscovery(metrics.OutcomeError, duration, 0)
		e.logger.ErrorDiscovery("Discovery failed", label, err)
		return errors.ErrDiscoveryFailed(label, err)
	}

	e.metrics.ObserveDiscovery(metrics.OutcomeSuccess, duration, len(hosts))
	e.logger.InfoDiscovery("Discovery completed", label, "hosts", len(hosts), "duration", duration)
	return nil
}

// Discover runs nmap over networks and returns the live hosts with their
// open ports. The table is not touched.
func (e *Engine) Discover(ctx context.Context, networks []string) ([]targets.Host, error) {
	scanCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	result, warnings, err := e.scanner.Scan(scanCtx, buildNmapOptions(networks, e.ports, e.udpPorts, e.timeout)...)
	if len(warnings) > 0 {
		e.logger.Warn("Discovery completed with warnings", "warnings", warnings)
	}
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, nil
	}

	hosts := make([]targets.Host, 0, len(result.Hosts))
	for i := range result.Hosts {
		if h, ok := convertNmapHost(&result.Hosts[i]); ok {
			hosts = append(hosts, h)
		}
	}
	return hosts, nil
}

func (e *Engine) merge(ctx context.Context, hosts []targets.Host) error {
	existing, err := e.store.Read(ctx)
	if err != nil {
		return fmt.Errorf("failed to read targets: %w", err)
	}
	if err := e.store.Write(ctx, targets.Merge(existing, hosts)); err != nil {
		return fmt.Errorf("failed to write targets: %w", err)
	}
	return nil
}

// Networks returns the configured networks, or the IPv4 networks attached to
// the local interfaces when none are configured.
func (e *Engine) Networks(ctx context.Context) ([]string, error) {
	if len(e.networks) > 0 {
		return e.networks, nil
	}

	ifaces, err := e.interfaces(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list interfaces: %w", err)
	}
	networks := localNetworks(ifaces)
	if len(networks) == 0 {
		return nil, fmt.Errorf("no local IPv4 network found")
	}
	e.logger.Debug("Auto-detected networks", "networks", networks)
	return networks, nil
}

// localNetworks returns the distinct IPv4 networks of interfaces that are up,
// skipping loopback and anything larger than a /16.
func localNetworks(ifaces psnet.InterfaceStatList) []string {
	var networks []string
	for _, iface := range ifaces {
		if !slices.Contains(iface.Flags, "up") || slices.Contains(iface.Flags, "loopback") {
			continue
		}
		for _, addr := range iface.Addrs {
			_, ipnet, err := net.ParseCIDR(addr.Addr)
			if err != nil || ipnet.IP.To4() == nil {
				continue
			}
			if ones, _ := ipnet.Mask.Size(); ones < maxNetworkSizeBits {
				continue
			}
			if n := ipnet.String(); !slices.Contains(networks, n) {
				networks = append(networks, n)
			}
		}
	}
	return networks
}

// buildNmapOptions constructs nmap options based on network and timeout configuration.
func buildNmapOptions(networks []string, ports, udpPorts string, timeout time.Duration) []nmap.Option {
	options := []nmap.Option{
		nmap.WithTargets(networks...),
		nmap.WithConnectScan(),
	}

	if udpPorts != "" {
		options = append(options,
			nmap.WithUDPScan(),
			nmap.WithPorts(portSpec(ports, udpPorts)),
		)
	} else {
		options = append(options, nmap.WithPorts(ports))
	}

	// Add timing based on timeout
	switch {
	case timeout <= fastTimeout:
		options = append(options, nmap.WithTimingTemplate(nmap.TimingAggressive))
	case timeout <= normalTimeout:
		options = append(options, nmap.WithTimingTemplate(nmap.TimingNormal))
	default:
		options = append(options, nmap.WithTimingTemplate(nmap.TimingPolite))
	}

	return options
}

// portSpec combines TCP and UDP port lists into nmap's protocol-qualified form.
func portSpec(tcp, udp string) string {
	if tcp == "" {
		return "U:" + udp
	}
	return "T:" + tcp + ",U:" + udp
}

// convertNmapHost converts an nmap host result to a discovered host.
func convertNmapHost(host *nmap.Host) (targets.Host, bool) {
	if host.Status.State != "up" {
		return targets.Host{}, false
	}

	var h targets.Host
	for _, addr := range host.Addresses {
		switch addr.AddrType {
		case "ipv4", "ipv6", "":
			if h.IP == "" {
				h.IP = addr.Addr
			}
		case "mac":
			h.MAC = addr.Addr
		}
	}
	if h.IP == "" {
		return targets.Host{}, false
	}

	if len(host.Hostnames) > 0 {
		h.Hostname = host.Hostnames[0].Name
	}

	for i := range host.Ports {
		p := &host.Ports[i]
		if p.State.State == "open" {
			h.Ports = append(h.Ports, int(p.ID))
		}
	}
	return h, true
}

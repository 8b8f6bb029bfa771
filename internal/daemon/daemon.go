// Package daemon runs bifrost as a long-lived service. It wires the target
// store, the action registry, discovery, idle recovery, event publishing,
// metrics, the background scheduler and the status API around the
// orchestrator, and handles the PID file and process signals.
package daemon

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/anstrom/bifrost/internal/actions"
	"github.com/anstrom/bifrost/internal/actions/builtin"
	"github.com/anstrom/bifrost/internal/api"
	"github.com/anstrom/bifrost/internal/config"
	"github.com/anstrom/bifrost/internal/db"
	"github.com/anstrom/bifrost/internal/discovery"
	"github.com/anstrom/bifrost/internal/events"
	"github.com/anstrom/bifrost/internal/logging"
	"github.com/anstrom/bifrost/internal/metrics"
	"github.com/anstrom/bifrost/internal/orchestrator"
	"github.com/anstrom/bifrost/internal/remediation"
	"github.com/anstrom/bifrost/internal/scheduler"
	"github.com/anstrom/bifrost/internal/targets"
)

// Interval of the system metrics refresh.
const systemMetricsInterval = 15 * time.Second

// File permission constants.
const (
	DefaultDirPermissions  = 0o750
	DefaultFilePermissions = 0o600
)

// Daemon represents the main daemon process.
type Daemon struct {
	config  *config.Config
	version string
	logger  *logging.Logger

	database   *db.DB
	store      targets.Store
	publisher  events.Publisher
	prom       *metrics.Prometheus
	registry   *actions.Registry
	discoverer *discovery.Engine
	wifi       *remediation.WiFiSwitcher
	core       *orchestrator.Core
	scheduler  *scheduler.Scheduler
	apiServer  *api.Server

	pidFile string
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	sigChan chan os.Signal
}

// New creates a new daemon instance.
func New(cfg *config.Config, version string, logger *logging.Logger) *Daemon {
	if logger == nil {
		logger = logging.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		config:  cfg,
		version: version,
		logger:  logger.WithComponent("daemon"),
		pidFile: cfg.Daemon.PIDFile,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
}

// Start initializes every component and blocks until the daemon is told to
// stop. Components are torn down before it returns.
func (d *Daemon) Start() error {
	defer close(d.done)
	d.logger.InfoDaemon("Starting bifrost daemon", "version", d.version)

	if err := d.config.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	if d.config.Daemon.WorkDir != "" {
		if err := os.MkdirAll(d.config.Daemon.WorkDir, DefaultDirPermissions); err != nil {
			return fmt.Errorf("failed to create working directory: %w", err)
		}
		if err := os.Chdir(d.config.Daemon.WorkDir); err != nil {
			return fmt.Errorf("failed to change to working directory: %w", err)
		}
	}

	if err := d.createPIDFile(); err != nil {
		return fmt.Errorf("failed to create PID file: %w", err)
	}

	if err := d.initComponents(); err != nil {
		d.cleanup()
		return err
	}

	d.setupSignalHandlers()

	d.logger.InfoDaemon("Daemon started successfully")
	err := d.run()
	d.cleanup()
	return err
}

// Stop asks the daemon to shut down and waits up to the configured timeout
// for Start to return.
func (d *Daemon) Stop() error {
	d.logger.InfoDaemon("Stopping daemon")
	d.cancel()

	timeout := d.config.Daemon.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	select {
	case <-d.done:
		d.logger.InfoDaemon("Daemon stopped gracefully")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("shutdown timeout of %s reached", timeout)
	}
}

// initComponents builds everything the run loop needs, in dependency order.
func (d *Daemon) initComponents() error {
	store, database, err := OpenStore(d.ctx, &d.config.Store, d.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize target store: %w", err)
	}
	d.store, d.database = store, database

	d.publisher = d.initEvents()
	d.prom = metrics.NewPrometheus()

	registry, err := LoadRegistry(d.config, d.publisher, d.logger)
	if err != nil {
		return fmt.Errorf("failed to load action registry: %w", err)
	}
	d.registry = registry

	opts := orchestrator.OptionsFromConfig(d.config.Orchestrator)
	opts.Label = orchestrator.NewLabel()
	opts.Metrics = d.prom
	opts.Events = d.publisher
	opts.Logger = d.logger

	if registry.DiscoveryEnabled() {
		d.discoverer = discovery.NewEngine(d.config.Discovery, d.store,
			discovery.WithMetrics(d.prom), discovery.WithLogger(d.logger))
		opts.Discoverer = d.discoverer
	}
	if d.config.Remediation.WiFi.Enabled {
		d.wifi = remediation.NewWiFiSwitcher(d.config.Remediation.WiFi, remediation.WithLogger(d.logger))
		opts.Recovery = d.wifi
	}

	opts.Label.OnChange(d.publishLabel)
	d.core = orchestrator.New(d.registry, d.store, opts)

	if err := d.initScheduler(); err != nil {
		return fmt.Errorf("failed to initialize scheduler: %w", err)
	}
	if err := d.initAPIServer(); err != nil {
		return fmt.Errorf("failed to initialize API server: %w", err)
	}
	return nil
}

// initEvents connects to NATS when enabled. A server that is down is retried
// in the background; a connect error disables events rather than the daemon.
func (d *Daemon) initEvents() events.Publisher {
	nc := d.config.Events.NATS
	if !nc.Enabled {
		return events.Nop{}
	}
	pub, err := events.Connect(nc.URL, nc.SubjectPrefix, d.logger)
	if err != nil {
		d.logger.Warn("NATS unavailable, events disabled", "url", nc.URL, "error", err)
		return events.Nop{}
	}
	return pub
}

func (d *Daemon) initScheduler() error {
	d.scheduler = scheduler.NewScheduler(d.logger)

	wifi := d.config.Remediation.WiFi
	if d.wifi != nil && wifi.Watch {
		if _, err := d.scheduler.AddEvery("wifi-watch", wifi.CheckInterval,
			scheduler.IdleWatch(d.core.Label(), d.wifi)); err != nil {
			return err
		}
	}

	if spec := d.config.Discovery.RescanCron; spec != "" {
		if d.discoverer == nil {
			d.logger.Warn("Rescan schedule ignored, no network discoverer loaded", "schedule", spec)
			return nil
		}
		if _, err := d.scheduler.Add("rescan", spec, scheduler.Rescan(d.core)); err != nil {
			return err
		}
	}
	return nil
}

func (d *Daemon) initAPIServer() error {
	if !d.config.API.Enabled {
		d.logger.InfoDaemon("API server disabled, skipping initialization")
		return nil
	}

	deps := api.Deps{
		Core:    d.core,
		Store:   d.store,
		Metrics: d.prom.Registry(),
		Version: d.version,
		Logger:  d.logger,
	}
	if d.database != nil {
		deps.StorePinger = d.database
	}

	server, err := api.New(d.config.API, deps)
	if err != nil {
		return err
	}
	d.apiServer = server
	return nil
}

// run drives the orchestrator and its companions until the context ends or
// one of them fails.
func (d *Daemon) run() error {
	if err := d.scheduler.Start(); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(d.ctx)

	g.Go(func() error {
		return d.core.Run(ctx)
	})
	g.Go(func() error {
		d.prom.StartPeriodicUpdates(ctx, systemMetricsInterval)
		return nil
	})
	if d.apiServer != nil {
		g.Go(func() error {
			return d.apiServer.Start(ctx)
		})
	}

	err := g.Wait()
	if err != nil && !stderrors.Is(err, context.Canceled) {
		d.logger.ErrorDaemon("Daemon component failed", err)
		return err
	}
	d.logger.InfoDaemon("Shutdown signal received")
	return nil
}

// publishLabel forwards label changes to the event bus.
func (d *Daemon) publishLabel(state orchestrator.LabelState) {
	ev := events.StatusEvent{Action: state.Action, Target: state.Target, At: state.At}
	if err := d.publisher.PublishStatus(d.ctx, ev); err != nil {
		d.logger.Debug("Failed to publish status event", "error", err)
	}
}

// createPIDFile creates the PID file.
func (d *Daemon) createPIDFile() error {
	if d.pidFile == "" {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(d.pidFile), DefaultDirPermissions); err != nil {
		return fmt.Errorf("failed to create PID file directory: %w", err)
	}

	if err := d.checkExistingPID(); err != nil {
		return err
	}

	pid := os.Getpid()
	if err := os.WriteFile(d.pidFile, []byte(strconv.Itoa(pid)), DefaultFilePermissions); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}

	d.logger.InfoDaemon("Created PID file", "path", d.pidFile, "pid", pid)
	return nil
}

// checkExistingPID fails when the PID file names a live process and removes
// it when stale.
func (d *Daemon) checkExistingPID() error {
	data, err := os.ReadFile(d.pidFile)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read existing PID file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err == nil && isProcessRunning(pid) {
		return fmt.Errorf("daemon already running with PID %d", pid)
	}

	_ = os.Remove(d.pidFile)
	return nil
}

func isProcessRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}

// setupSignalHandlers stops the daemon on SIGTERM or SIGINT and dumps its
// status on SIGUSR1.
func (d *Daemon) setupSignalHandlers() {
	d.sigChan = make(chan os.Signal, 1)
	signal.Notify(d.sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGUSR1)

	go func() {
		for {
			select {
			case <-d.ctx.Done():
				return
			case sig := <-d.sigChan:
				d.logger.InfoDaemon("Received signal", "signal", sig.String())
				switch sig {
				case syscall.SIGTERM, syscall.SIGINT:
					d.logger.InfoDaemon("Initiating graceful shutdown")
					d.cancel()
					return
				case syscall.SIGUSR1:
					d.dumpStatus()
				}
			}
		}
	}()
}

// dumpStatus logs the daemon state.
func (d *Daemon) dumpStatus() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	label := d.core.Label().Snapshot()
	last := d.core.LastCycle()

	storeStatus := "memory"
	if d.database != nil {
		storeStatus = "connected"
		if err := d.database.Ping(d.ctx); err != nil {
			storeStatus = "disconnected: " + err.Error()
		}
	}

	apiStatus := "disabled"
	if d.apiServer != nil {
		apiStatus = d.apiServer.Addr()
	}

	d.logger.InfoDaemon("Status dump",
		"pid", os.Getpid(),
		"label", label.Action,
		"label_target", label.Target,
		"last_cycle_attempted", last.Attempted,
		"last_cycle_succeeded", last.Succeeded,
		"last_cycle_at", last.StartedAt,
		"actions", d.registry.Len(),
		"discovery", d.discoverer != nil,
		"wifi", d.wifi != nil,
		"store", storeStatus,
		"api", apiStatus,
		"scheduled_jobs", len(d.scheduler.Jobs()),
		"goroutines", runtime.NumGoroutine(),
		"alloc_kb", m.Alloc/1024,
		"sys_kb", m.Sys/1024)
}

// cleanup releases everything initComponents acquired.
func (d *Daemon) cleanup() {
	d.logger.InfoDaemon("Performing cleanup")
	d.cancel()

	if d.sigChan != nil {
		signal.Stop(d.sigChan)
	}
	if d.scheduler != nil {
		d.scheduler.Stop()
	}
	if d.publisher != nil {
		d.publisher.Close()
	}
	if d.database != nil {
		if err := d.database.Close(); err != nil {
			d.logger.ErrorDaemon("Error closing database", err)
		}
	}
	if d.pidFile != "" {
		if err := os.Remove(d.pidFile); err != nil && !os.IsNotExist(err) {
			d.logger.ErrorDaemon("Error removing PID file", err)
		}
	}

	d.logger.InfoDaemon("Cleanup completed")
}

// Core returns the orchestrator once the daemon has started.
func (d *Daemon) Core() *orchestrator.Core {
	return d.core
}

// IsRunning reports whether the daemon has not been told to stop.
func (d *Daemon) IsRunning() bool {
	return d.ctx.Err() == nil
}

// Done is closed when Start has returned.
func (d *Daemon) Done() <-chan struct{} {
	return d.done
}

// OpenStore opens the configured target store. The returned *db.DB is nil
// for the in-memory store.
func OpenStore(ctx context.Context, cfg *db.Config, logger *logging.Logger) (targets.Store, *db.DB, error) {
	if cfg.Driver == db.DriverMemory {
		logger.InfoDatabase("Using in-memory target store")
		return targets.NewMemoryStore(), nil, nil
	}
	database, err := db.ConnectAndMigrate(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return db.NewTargetStore(database), database, nil
}

// LoadRegistry builds the action registry from the configured source with
// the built-in actions available.
func LoadRegistry(cfg *config.Config, findings actions.FindingSink, logger *logging.Logger) (*actions.Registry, error) {
	catalog := builtin.NewCatalog(builtin.Deps{
		Timeout:       cfg.Actions.Timeout,
		SNMPCommunity: cfg.Actions.SNMPCommunity,
		DNSResolver:   cfg.Actions.DNSResolver,
		VulnScripts:   cfg.Actions.VulnScripts,
		Findings:      findings,
		Logger:        logger,
	})
	return actions.Load(cfg.Actions.File, catalog, logger)
}

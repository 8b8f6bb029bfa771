package metrics

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const (
	namespace = "bifrost"

	subsystemAction      = "action"
	subsystemCycle       = "cycle"
	subsystemDiscovery   = "discovery"
	subsystemRemediation = "remediation"
	subsystemStore       = "store"
	subsystemSystem      = "system"
)

// Prometheus holds every bifrost collector on a private registry.
type Prometheus struct {
	// Action metrics
	actionsTotal   *prometheus.CounterVec
	actionDuration *prometheus.HistogramVec
	actionSkips    *prometheus.CounterVec
	inFlight       prometheus.Gauge

	// Cycle metrics
	cyclesTotal   *prometheus.CounterVec
	cycleDuration prometheus.Histogram
	idleTotal     prometheus.Counter

	// Discovery metrics
	discoveryTotal    *prometheus.CounterVec
	discoveryDuration prometheus.Histogram
	hostsDiscovered   prometheus.Gauge
	targets           *prometheus.GaugeVec

	remediationTotal *prometheus.CounterVec
	storeErrors      *prometheus.CounterVec

	// System metrics
	memoryUsage prometheus.Gauge
	goroutines  prometheus.Gauge
	uptime      prometheus.Gauge

	startTime  time.Time
	lastUpdate time.Time
	mu         sync.RWMutex
	registry   *prometheus.Registry
}

var _ Recorder = (*Prometheus)(nil)

// NewPrometheus creates the collectors and registers them together with the
// standard Go and process collectors.
func NewPrometheus() *Prometheus {
	registry := prometheus.NewRegistry()

	pm := &Prometheus{
		startTime: time.Now(),
		registry:  registry,
	}

	pm.initActionMetrics()
	pm.initCycleMetrics()
	pm.initDiscoveryMetrics()
	pm.initSystemMetrics()
	pm.registerMetrics()

	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return pm
}

func (pm *Prometheus) initActionMetrics() {
	pm.actionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemAction,
			Name:      "executions_total",
			Help:      "Total number of action executions by action and outcome",
		},
		[]string{"action", "outcome"},
	)

	pm.actionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemAction,
			Name:      "duration_seconds",
			Help:      "Duration of action executions in seconds",
			Buckets:   []float64{0.05, 0.1, 0.5, 1.0, 5.0, 10.0, 30.0, 60.0, 300.0},
		},
		[]string{"action"},
	)

	pm.actionSkips = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemAction,
			Name:      "skipped_total",
			Help:      "Total number of ineligible (target, action) pairs by reason",
		},
		[]string{"action", "reason"},
	)

	pm.inFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemAction,
			Name:      "in_flight",
			Help:      "Number of action invocations currently holding a dispatch slot",
		},
	)
}

func (pm *Prometheus) initCycleMetrics() {
	pm.cyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemCycle,
			Name:      "total",
			Help:      "Total number of scheduling cycles by result",
		},
		[]string{"result"},
	)

	pm.cycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemCycle,
			Name:      "duration_seconds",
			Help:      "Duration of scheduling cycles in seconds",
			Buckets:   []float64{0.01, 0.1, 1.0, 5.0, 30.0, 60.0, 300.0, 900.0},
		},
	)

	pm.idleTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemCycle,
			Name:      "idle_total",
			Help:      "Total number of iterations that ended idle and invoked recovery",
		},
	)

	pm.remediationTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemRemediation,
			Name:      "total",
			Help:      "Total number of idle remediation attempts by outcome",
		},
		[]string{"outcome"},
	)

	pm.storeErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemStore,
			Name:      "errors_total",
			Help:      "Total number of target store failures by operation",
		},
		[]string{"operation"},
	)
}

func (pm *Prometheus) initDiscoveryMetrics() {
	pm.discoveryTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemDiscovery,
			Name:      "total",
			Help:      "Total number of discovery scans by outcome",
		},
		[]string{"outcome"},
	)

	pm.discoveryDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemDiscovery,
			Name:      "duration_seconds",
			Help:      "Duration of discovery scans in seconds",
			Buckets:   []float64{1.0, 5.0, 10.0, 30.0, 60.0, 300.0, 600.0, 1800.0},
		},
	)

	pm.hostsDiscovered = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemDiscovery,
			Name:      "hosts_last_scan",
			Help:      "Number of hosts found up by the most recent scan",
		},
	)

	pm.targets = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "targets",
			Help:      "Number of rows in the target table by liveness",
		},
		[]string{"state"},
	)
}

func (pm *Prometheus) initSystemMetrics() {
	pm.memoryUsage = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemSystem,
			Name:      "memory_bytes",
			Help:      "Current memory usage in bytes",
		},
	)

	pm.goroutines = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemSystem,
			Name:      "goroutines",
			Help:      "Current number of goroutines",
		},
	)

	pm.uptime = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemSystem,
			Name:      "uptime_seconds",
			Help:      "Daemon uptime in seconds",
		},
	)
}

func (pm *Prometheus) registerMetrics() {
	pm.registry.MustRegister(
		pm.actionsTotal,
		pm.actionDuration,
		pm.actionSkips,
		pm.inFlight,
		pm.cyclesTotal,
		pm.cycleDuration,
		pm.idleTotal,
		pm.discoveryTotal,
		pm.discoveryDuration,
		pm.hostsDiscovered,
		pm.targets,
		pm.remediationTotal,
		pm.storeErrors,
		pm.memoryUsage,
		pm.goroutines,
		pm.uptime,
	)
}

// Registry returns the registry for the HTTP handler.
func (pm *Prometheus) Registry() *prometheus.Registry {
	return pm.registry
}

// ObserveAction counts one finished invocation and its duration.
func (pm *Prometheus) ObserveAction(action, outcome string, d time.Duration) {
	pm.actionsTotal.WithLabelValues(action, outcome).Inc()
	pm.actionDuration.WithLabelValues(action).Observe(d.Seconds())
}

// ActionStarted marks a dispatch slot as taken.
func (pm *Prometheus) ActionStarted(string) {
	pm.inFlight.Inc()
}

// ActionFinished marks a dispatch slot as released.
func (pm *Prometheus) ActionFinished(string) {
	pm.inFlight.Dec()
}

// ObserveSkip counts an ineligible pair.
func (pm *Prometheus) ObserveSkip(action, reason string) {
	pm.actionSkips.WithLabelValues(action, reason).Inc()
}

// ObserveCycle counts a finished cycle.
func (pm *Prometheus) ObserveCycle(executed bool, d time.Duration) {
	result := "idle"
	if executed {
		result = "executed"
	}
	pm.cyclesTotal.WithLabelValues(result).Inc()
	pm.cycleDuration.Observe(d.Seconds())
}

// IncIdle counts an idle iteration.
func (pm *Prometheus) IncIdle() {
	pm.idleTotal.Inc()
}

// ObserveDiscovery records a finished discovery scan.
func (pm *Prometheus) ObserveDiscovery(outcome string, d time.Duration, hosts int) {
	pm.discoveryTotal.WithLabelValues(outcome).Inc()
	pm.discoveryDuration.Observe(d.Seconds())
	if outcome == OutcomeSuccess {
		pm.hostsDiscovered.Set(float64(hosts))
	}
}

// ObserveRemediation counts an idle remediation attempt.
func (pm *Prometheus) ObserveRemediation(outcome string) {
	pm.remediationTotal.WithLabelValues(outcome).Inc()
}

// SetTargets publishes the size of the target table.
func (pm *Prometheus) SetTargets(total, alive int) {
	pm.targets.WithLabelValues("alive").Set(float64(alive))
	pm.targets.WithLabelValues("down").Set(float64(total - alive))
}

// IncStoreErrors counts a failed store operation.
func (pm *Prometheus) IncStoreErrors(operation string) {
	pm.storeErrors.WithLabelValues(operation).Inc()
}

// UpdateSystemMetrics refreshes the memory, goroutine and uptime gauges.
func (pm *Prometheus) UpdateSystemMetrics() {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	pm.memoryUsage.Set(float64(memStats.Alloc))
	pm.goroutines.Set(float64(runtime.NumGoroutine()))
	pm.uptime.Set(time.Since(pm.startTime).Seconds())
	pm.lastUpdate = time.Now()
}

// Uptime returns the time since the collectors were created.
func (pm *Prometheus) Uptime() time.Duration {
	return time.Since(pm.startTime)
}

// LastUpdate returns when system metrics were last refreshed.
func (pm *Prometheus) LastUpdate() time.Time {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.lastUpdate
}

// StartPeriodicUpdates refreshes system metrics every interval until ctx is
// cancelled.
func (pm *Prometheus) StartPeriodicUpdates(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	pm.UpdateSystemMetrics()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pm.UpdateSystemMetrics()
		}
	}
}

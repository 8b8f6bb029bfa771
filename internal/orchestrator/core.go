// Package orchestrator decides which action runs against which target.
//
// Each cycle reads the target table once and walks it in two passes. The
// top-level pass takes every action without a parent in registry order and
// walks the live targets in table order until one dispatch succeeds; the
// children of that action are then tried on the same target. The child sweep
// then gives every dependent action one success across all live targets,
// which picks up parents that succeeded in earlier cycles.
//
// In concurrent mode each action's walk is its own goroutine and a weighted
// semaphore bounds how many invocations are in flight. Serial mode runs the
// same walks one after another on the calling goroutine.
package orchestrator

//go:generate mockgen -destination=mocks/mocks.go -package=mocks github.com/anstrom/bifrost/internal/orchestrator Discoverer,IdleRecovery

import (
	"context"
	"sync"
	"time"

	"github.com/anstrom/bifrost/internal/actions"
	"github.com/anstrom/bifrost/internal/config"
	"github.com/anstrom/bifrost/internal/events"
	"github.com/anstrom/bifrost/internal/logging"
	"github.com/anstrom/bifrost/internal/metrics"
	"github.com/anstrom/bifrost/internal/targets"
)

// Discoverer refreshes the target table from the network.
type Discoverer interface {
	Scan(ctx context.Context) error
}

// IdleRecovery is invoked when an iteration found nothing to do, even after a
// rescan. label is the status label at that moment.
type IdleRecovery interface {
	OnIdle(ctx context.Context, label string) error
}

// Mode selects how the walks of one pass are executed.
type Mode string

const (
	ModeConcurrent Mode = "concurrent"
	ModeSerial     Mode = "serial"
)

// DefaultScanInterval is the idle sleep used when none is set.
const DefaultScanInterval = 3 * time.Minute

// Options configures a Core. Zero values get working defaults.
type Options struct {
	Policy        Policy
	MaxConcurrent int
	Mode          Mode
	ScanInterval  time.Duration

	// Discoverer may be nil, in which case idle iterations skip the rescan.
	Discoverer Discoverer
	// Recovery may be nil.
	Recovery IdleRecovery

	Label   *Label
	Metrics metrics.Recorder
	Events  events.Publisher
	Logger  *logging.Logger
	Clock   func() time.Time
}

func (o Options) withDefaults() Options {
	if o.MaxConcurrent < 1 {
		o.MaxConcurrent = DefaultMaxConcurrent
	}
	if o.Mode == "" {
		o.Mode = ModeConcurrent
	}
	if o.ScanInterval <= 0 {
		o.ScanInterval = DefaultScanInterval
	}
	if o.Label == nil {
		o.Label = NewLabel()
	}
	if o.Metrics == nil {
		o.Metrics = metrics.Nop{}
	}
	if o.Events == nil {
		o.Events = events.Nop{}
	}
	if o.Logger == nil {
		o.Logger = logging.Default()
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	return o
}

// OptionsFromConfig maps the orchestrator section of the configuration.
func OptionsFromConfig(cfg config.OrchestratorConfig) Options {
	mode := ModeConcurrent
	if cfg.DispatchMode == config.DispatchSerial {
		mode = ModeSerial
	}
	return Options{
		Policy: Policy{
			SuccessRetryDelay:      cfg.SuccessRetryDelay,
			FailedRetryDelay:       cfg.FailedRetryDelay,
			RetrySuccessfulActions: cfg.RetrySuccessfulActions,
		},
		MaxConcurrent: cfg.MaxConcurrentActions,
		Mode:          mode,
		ScanInterval:  cfg.ScanInterval,
	}
}

// Core is the scheduling engine.
type Core struct {
	registry   *actions.Registry
	store      targets.Store
	dispatcher *Dispatcher
	opts       Options
	logger     *logging.Logger

	rescanReq chan struct{}

	mu   sync.RWMutex
	last CycleResult
}

// New creates a Core scheduling registry against store.
func New(registry *actions.Registry, store targets.Store, opts Options) *Core {
	opts = opts.withDefaults()
	return &Core{
		registry:   registry,
		store:      store,
		dispatcher: NewDispatcher(opts.MaxConcurrent, store, opts),
		opts:       opts,
		logger:     opts.Logger.WithComponent("orchestrator"),
		rescanReq:  make(chan struct{}, 1),
	}
}

// RequestRescan asks Run to refresh the table before its next cycle, waking
// it if it is sleeping. Requests coalesce while one is pending. It reports
// false when no discoverer is configured.
func (c *Core) RequestRescan() bool {
	if c.opts.Discoverer == nil {
		return false
	}
	select {
	case c.rescanReq <- struct{}{}:
	default:
	}
	return true
}

// Label returns the advisory status label.
func (c *Core) Label() *Label { return c.opts.Label }

// Registry returns the action registry being scheduled.
func (c *Core) Registry() *actions.Registry { return c.registry }

// Dispatcher returns the dispatcher, mainly for inspection.
func (c *Core) Dispatcher() *Dispatcher { return c.dispatcher }

// Mode returns the dispatch mode in effect.
func (c *Core) Mode() Mode { return c.opts.Mode }

// LastCycle returns the result of the most recent cycle.
func (c *Core) LastCycle() CycleResult {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.last
}

func (c *Core) setLast(r CycleResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last = r
}

package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/anstrom/bifrost/internal/actions"
	"github.com/anstrom/bifrost/internal/errors"
	"github.com/anstrom/bifrost/internal/events"
	"github.com/anstrom/bifrost/internal/logging"
	"github.com/anstrom/bifrost/internal/metrics"
	"github.com/anstrom/bifrost/internal/status"
	"github.com/anstrom/bifrost/internal/targets"
)

// DefaultMaxConcurrent is the dispatch slot count used when none is set.
const DefaultMaxConcurrent = 10

// Dispatcher runs one eligible pair at a time per slot and records its
// outcome. At most capacity invocations hold a slot at any instant.
type Dispatcher struct {
	slots    *semaphore.Weighted
	capacity int64
	store    targets.Store
	label    *Label
	metrics  metrics.Recorder
	events   events.Publisher
	logger   *logging.Logger
	now      func() time.Time

	// writeMu serializes full-table writes so the last persisted snapshot
	// always includes every recorded outcome.
	writeMu sync.Mutex

	inFlight atomic.Int64
	peak     atomic.Int64
}

// NewDispatcher creates a dispatcher with capacity slots.
func NewDispatcher(capacity int, store targets.Store, opts Options) *Dispatcher {
	if capacity < 1 {
		capacity = DefaultMaxConcurrent
	}
	opts = opts.withDefaults()
	return &Dispatcher{
		slots:    semaphore.NewWeighted(int64(capacity)),
		capacity: int64(capacity),
		store:    store,
		label:    opts.Label,
		metrics:  opts.Metrics,
		events:   opts.Events,
		logger:   opts.Logger.WithComponent("dispatcher"),
		now:      opts.Clock,
	}
}

// Capacity returns the number of dispatch slots.
func (d *Dispatcher) Capacity() int { return int(d.capacity) }

// InFlight returns the number of invocations currently holding a slot.
func (d *Dispatcher) InFlight() int { return int(d.inFlight.Load()) }

// Peak returns the highest InFlight value observed.
func (d *Dispatcher) Peak() int { return int(d.peak.Load()) }

// Dispatch runs a against row, records success@now or failed@now in the
// row, persists table and reports whether the action succeeded. An error is
// returned only when ctx ends before a slot is free; the action is then not
// run. Once started, an invocation is not cancelled by ctx.
func (d *Dispatcher) Dispatch(ctx context.Context, cycleID string, table *targets.Table, row *targets.Row, a actions.Action) (bool, error) {
	if err := d.slots.Acquire(ctx, 1); err != nil {
		return false, err
	}
	runCtx := context.WithoutCancel(ctx)

	d.enter(a.Name())
	ip := row.IP()
	d.label.Set(a.Name(), ip)

	start := d.now()
	outcome, runErr := d.invoke(runCtx, a, ip, row.Snapshot())
	finished := d.now()
	elapsed := finished.Sub(start)

	succeeded := runErr == nil && outcome == status.OutcomeSuccess
	cell := status.Failure(finished)
	if succeeded {
		cell = status.Success(finished)
	}
	row.SetStatus(a.Name(), cell)
	d.persist(runCtx, table)

	d.leave(a.Name())
	d.slots.Release(1)

	d.report(runCtx, cycleID, a, ip, succeeded, runErr, elapsed, finished)
	return succeeded, nil
}

func (d *Dispatcher) enter(action string) {
	n := d.inFlight.Add(1)
	for {
		p := d.peak.Load()
		if n <= p || d.peak.CompareAndSwap(p, n) {
			break
		}
	}
	d.metrics.ActionStarted(action)
}

func (d *Dispatcher) leave(action string) {
	d.inFlight.Add(-1)
	d.metrics.ActionFinished(action)
}

// invoke calls Run, turning a panic into an error.
func (d *Dispatcher) invoke(ctx context.Context, a actions.Action, ip string, row targets.Snapshot) (outcome status.Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			outcome = status.OutcomeFailed
			err = errors.ErrActionPanic(a.Name(), ip, r)
		}
	}()

	outcome, err = a.Run(ctx, ip, a.Port(), row, a.Name())
	if err != nil {
		return status.OutcomeFailed, err
	}
	if outcome != status.OutcomeSuccess && outcome != status.OutcomeFailed {
		return status.OutcomeFailed, fmt.Errorf("unknown outcome %q", outcome)
	}
	return outcome, nil
}

// persist writes the full table. A failure leaves the in-memory status in
// place so the cycle can continue.
func (d *Dispatcher) persist(ctx context.Context, table *targets.Table) {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()

	if err := d.store.Write(ctx, table.Snapshot()); err != nil {
		d.metrics.IncStoreErrors("write")
		d.logger.Error("Failed to persist target table", "code", errors.CodeStoreWrite, "error", err)
	}
}

func (d *Dispatcher) report(ctx context.Context, cycleID string, a actions.Action, ip string,
	succeeded bool, runErr error, elapsed time.Duration, at time.Time) {
	outcome := metrics.OutcomeFailed
	if succeeded {
		outcome = metrics.OutcomeSuccess
	}
	d.metrics.ObserveAction(a.Name(), outcome, elapsed)

	ev := events.ActionEvent{
		CycleID:  cycleID,
		Action:   a.Name(),
		Target:   ip,
		Port:     a.Port(),
		Outcome:  outcome,
		Duration: elapsed,
		At:       at,
	}
	if runErr != nil {
		ev.Error = runErr.Error()
	}
	if err := d.events.PublishAction(ctx, ev); err != nil {
		d.logger.Warn("Failed to publish action event", "action", a.Name(), "target", ip, "error", err)
	}

	if runErr != nil {
		code := errors.CodeActionFailed
		if errors.IsCode(runErr, errors.CodeActionPanic) {
			code = errors.CodeActionPanic
		}
		d.logger.ErrorAction("Action failed", a.Name(), ip, runErr, "code", code, "duration", elapsed)
		return
	}
	d.logger.InfoAction("Action finished", a.Name(), ip, "outcome", outcome, "duration", elapsed)
}

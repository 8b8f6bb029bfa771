package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/anstrom/bifrost/internal/actions"
	"github.com/anstrom/bifrost/internal/errors"
	"github.com/anstrom/bifrost/internal/logging"
	"github.com/anstrom/bifrost/internal/status"
	"github.com/anstrom/bifrost/internal/targets"
)

// CycleResult summarizes one walk of the target table.
type CycleResult struct {
	ID        uuid.UUID     `json:"id"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration_ns"`
	Live      int           `json:"live_targets"`
	Attempted int           `json:"attempted"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"`
}

// Executed reports whether any pair ran successfully. Failed attempts do not
// count as work performed.
func (r CycleResult) Executed() bool {
	return r.Succeeded > 0
}

// tally accumulates counts from concurrent walks.
type tally struct {
	mu sync.Mutex
	r  CycleResult
}

func (t *tally) attempted(succeeded bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.r.Attempted++
	if succeeded {
		t.r.Succeeded++
	} else {
		t.r.Failed++
	}
}

func (t *tally) skipped() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.r.Skipped++
}

func (t *tally) result() CycleResult {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.r
}

// RunCycle reads the table once and runs the top-level pass followed by the
// child sweep. A store read failure is logged and reported as a cycle that
// executed nothing.
func (c *Core) RunCycle(ctx context.Context) (result CycleResult) {
	start := c.opts.Clock()
	t := &tally{r: CycleResult{ID: uuid.New(), StartedAt: start}}
	logger := c.logger.WithCycle(t.r.ID.String())

	defer func() {
		result = t.result()
		result.Duration = c.opts.Clock().Sub(start)
		c.opts.Metrics.ObserveCycle(result.Executed(), result.Duration)
		c.setLast(result)
		if result.Live > 0 {
			logger.Info("Cycle finished",
				"live", result.Live, "attempted", result.Attempted, "succeeded", result.Succeeded,
				"failed", result.Failed, "skipped", result.Skipped, "duration", result.Duration)
		}
	}()

	snaps, err := c.store.Read(ctx)
	if err != nil {
		c.opts.Metrics.IncStoreErrors("read")
		logger.Error("Failed to read target table", "code", errors.CodeStoreRead, "error", err)
		return
	}

	table := targets.NewTable(snaps)
	live := table.Live()
	c.opts.Metrics.SetTargets(table.Len(), len(live))
	if len(live) == 0 {
		logger.Debug("No live targets")
		return
	}
	t.r.Live = len(live)

	w := &walker{
		core:   c,
		cycle:  t.r.ID.String(),
		table:  table,
		live:   live,
		tally:  t,
		logger: logger,
	}
	w.topLevelPass(ctx)
	w.childSweep(ctx)
	return
}

type walker struct {
	core   *Core
	cycle  string
	table  *targets.Table
	live   []*targets.Row
	tally  *tally
	logger *logging.Logger
}

// topLevelPass gives each top-level action one success, trying its direct
// children on the target it succeeded against.
func (w *walker) topLevelPass(ctx context.Context) {
	top := w.core.registry.TopLevel()
	tasks := make([]func(context.Context), 0, len(top))
	for _, a := range top {
		tasks = append(tasks, func(ctx context.Context) { w.walkTopLevel(ctx, a) })
	}
	w.run(ctx, tasks)
}

func (w *walker) walkTopLevel(ctx context.Context, a actions.Action) {
	for _, row := range w.live {
		ok, err := w.attempt(ctx, a, row)
		if err != nil {
			return
		}
		if !ok {
			continue
		}
		for _, child := range w.core.registry.Children(a.Name()) {
			cok, err := w.attempt(ctx, child, row)
			if err != nil {
				return
			}
			if cok {
				break
			}
		}
		return
	}
}

// childSweep gives each dependent action one success across all live rows.
func (w *walker) childSweep(ctx context.Context) {
	deps := w.core.registry.Dependent()
	tasks := make([]func(context.Context), 0, len(deps))
	for _, a := range deps {
		tasks = append(tasks, func(ctx context.Context) { w.walkChild(ctx, a) })
	}
	w.run(ctx, tasks)
}

func (w *walker) walkChild(ctx context.Context, a actions.Action) {
	for _, row := range w.live {
		ok, err := w.attempt(ctx, a, row)
		if err != nil || ok {
			return
		}
	}
}

// run executes the walks of one pass and returns when all are done.
func (w *walker) run(ctx context.Context, tasks []func(context.Context)) {
	if w.core.opts.Mode == ModeSerial {
		for _, task := range tasks {
			task(ctx)
		}
		return
	}

	var g errgroup.Group
	for _, task := range tasks {
		g.Go(func() error {
			task(ctx)
			return nil
		})
	}
	_ = g.Wait()
}

// attempt evaluates and, when eligible, dispatches a against row. err is
// non-nil only when ctx ended while waiting for a slot.
func (w *walker) attempt(ctx context.Context, a actions.Action, row *targets.Row) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	snap := row.Snapshot()
	d := w.core.opts.Policy.Evaluate(a, snap, w.core.opts.Clock())
	if !d.Eligible {
		w.skip(ctx, a, row, snap, d)
		return false, nil
	}

	ok, err := w.core.dispatcher.Dispatch(ctx, w.cycle, w.table, row, a)
	if err != nil {
		w.logger.Debug("Dispatch abandoned", "action", a.Name(), "target", row.IP(), "error", err)
		return false, err
	}
	w.tally.attempted(ok)
	return ok, nil
}

// skip records a skipped pair. An undecodable cell is replaced with
// failed@now and persisted, so the pair is retried after the failure delay.
func (w *walker) skip(ctx context.Context, a actions.Action, row *targets.Row, snap targets.Snapshot, d Decision) {
	w.tally.skipped()
	w.core.opts.Metrics.ObserveSkip(a.Name(), string(d.Reason))

	switch d.Reason {
	case ReasonCorrupt:
		cell := snap.Status(a.Name())
		w.logger.Warn("Skipping pair with undecodable status",
			"action", a.Name(), "target", snap.IP, "code", errors.CodeStatusCorrupt, "raw", cell.Raw)
		row.SetStatus(a.Name(), status.Failure(w.core.opts.Clock()))
		w.core.dispatcher.persist(context.WithoutCancel(ctx), w.table)
	case ReasonCooldown:
		w.logger.Debug("Pair cooling down",
			"action", a.Name(), "target", snap.IP, "retry_in", d.RetryIn.Round(time.Second))
	}
}

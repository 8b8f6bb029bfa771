package orchestrator

import (
	"context"
	"time"

	"github.com/anstrom/bifrost/internal/errors"
	"github.com/anstrom/bifrost/internal/metrics"
)

// Run drives cycles until ctx is cancelled. After an initial discovery scan
// it loops: when a cycle executed something the next one starts right away;
// otherwise the network is rescanned and the cycle retried once, and if that
// is idle too the idle recovery runs once before sleeping ScanInterval.
// Actions already running when ctx is cancelled finish before Run returns.
func (c *Core) Run(ctx context.Context) error {
	c.logger.Info("Orchestrator started",
		"actions", c.registry.Len(), "mode", c.opts.Mode,
		"max_concurrent", c.dispatcher.Capacity(), "scan_interval", c.opts.ScanInterval)
	defer c.opts.Label.Set(LabelStopped, "")

	if c.opts.Discoverer != nil {
		c.rescan(ctx)
	}

	for {
		if ctx.Err() != nil {
			c.logger.Info("Orchestrator stopping")
			return nil
		}

		select {
		case <-c.rescanReq:
			c.rescan(ctx)
		default:
		}

		if c.RunCycle(ctx).Executed() {
			continue
		}

		c.opts.Label.Set(LabelIdle, "")
		if c.opts.Discoverer == nil {
			c.logger.Warn("No network discoverer loaded, skipping rescan")
		} else if ctx.Err() == nil {
			c.rescan(ctx)
			if c.RunCycle(ctx).Executed() {
				continue
			}
			c.opts.Label.Set(LabelIdle, "")
		}

		if ctx.Err() != nil {
			continue
		}
		c.idle(ctx)
		c.sleep(ctx, c.opts.ScanInterval)
	}
}

// rescan asks the discoverer to refresh the table. Failures count as "no new
// targets".
func (c *Core) rescan(ctx context.Context) {
	c.opts.Label.Set(LabelScanner, "")
	start := c.opts.Clock()
	if err := c.opts.Discoverer.Scan(ctx); err != nil {
		c.logger.Error("Network rescan failed", "code", errors.CodeDiscoveryFailed, "error", err,
			"duration", c.opts.Clock().Sub(start))
		return
	}
	c.logger.Debug("Network rescan finished", "duration", c.opts.Clock().Sub(start))
}

// idle invokes the idle recovery exactly once.
func (c *Core) idle(ctx context.Context) {
	c.opts.Metrics.IncIdle()
	if c.opts.Recovery == nil {
		c.logger.Debug("Idle with no recovery configured")
		return
	}

	label := c.opts.Label.Snapshot().Action
	c.logger.Info("Nothing to do, invoking idle recovery", "label", label)
	if err := c.opts.Recovery.OnIdle(ctx, label); err != nil {
		c.opts.Metrics.ObserveRemediation(metrics.OutcomeError)
		c.logger.Warn("Idle recovery failed", "code", errors.CodeRemediationFailed, "error", err)
		return
	}
	c.opts.Metrics.ObserveRemediation(metrics.OutcomeSuccess)
}

// sleep waits for d, until ctx ends, or until a rescan is requested, which it
// then performs.
func (c *Core) sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	case <-c.rescanReq:
		c.rescan(ctx)
	}
}

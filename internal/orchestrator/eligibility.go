package orchestrator

import (
	"time"

	"github.com/anstrom/bifrost/internal/actions"
	"github.com/anstrom/bifrost/internal/status"
	"github.com/anstrom/bifrost/internal/targets"
)

// Reason explains an eligibility decision.
type Reason string

const (
	ReasonPending       Reason = "pending"
	ReasonRetryDue      Reason = "retry_due"
	ReasonPortClosed    Reason = "port_closed"
	ReasonParentPending Reason = "parent_not_succeeded"
	ReasonSucceeded     Reason = "succeeded"
	ReasonCooldown      Reason = "cooldown"
	ReasonCorrupt       Reason = "status_corrupt"
)

// Decision is the result of evaluating one (target, action) pair.
type Decision struct {
	Eligible bool
	Reason   Reason
	// RetryIn is the remaining cooldown when Reason is ReasonCooldown.
	RetryIn time.Duration
}

// Policy holds the retry rules applied to every pair.
type Policy struct {
	SuccessRetryDelay      time.Duration
	FailedRetryDelay       time.Duration
	RetrySuccessfulActions bool
}

// Evaluate decides whether a may run against row at now. The rules are
// applied in order and the first one that rejects the pair wins:
//
//  1. a port-bound action needs its port open on the row;
//  2. a child action needs its parent's cell to read success;
//  3. a success is final unless successful actions are retried, in which
//     case it cools down for SuccessRetryDelay;
//  4. a failure cools down for FailedRetryDelay;
//  5. a pending cell is eligible;
//  6. an undecodable cell is skipped.
func (p Policy) Evaluate(a actions.Action, row targets.Snapshot, now time.Time) Decision {
	if !actions.IsStandalone(a) && !row.HasPort(a.Port()) {
		return Decision{Reason: ReasonPortClosed}
	}
	if parent := a.Parent(); parent != "" && !row.Status(parent).IsSuccess() {
		return Decision{Reason: ReasonParentPending}
	}

	cell := row.Status(a.Name())
	switch cell.Kind {
	case status.Succeeded:
		if !p.RetrySuccessfulActions {
			return Decision{Reason: ReasonSucceeded}
		}
		return cooldown(cell.At, p.SuccessRetryDelay, now)
	case status.Failed:
		return cooldown(cell.At, p.FailedRetryDelay, now)
	case status.Pending:
		return Decision{Eligible: true, Reason: ReasonPending}
	default:
		return Decision{Reason: ReasonCorrupt}
	}
}

func cooldown(at time.Time, delay time.Duration, now time.Time) Decision {
	due := at.Add(delay)
	if now.Before(due) {
		return Decision{Reason: ReasonCooldown, RetryIn: due.Sub(now)}
	}
	return Decision{Eligible: true, Reason: ReasonRetryDue}
}

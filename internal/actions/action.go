// Package actions defines the action capability run by the scheduler and the
// registry that loads actions from a declarative source.
//
// An action is either port-bound (it only runs against targets with that port
// open) or standalone (Port() == 0, no port gating). An action may name a
// parent; it then only runs against targets where the parent has succeeded.
package actions

import (
	"context"
	"time"

	"github.com/anstrom/bifrost/internal/status"
	"github.com/anstrom/bifrost/internal/targets"
)

// Action is a pluggable unit of work executed against one target.
type Action interface {
	// Name is unique across the registry and doubles as the status key.
	Name() string
	// Port is the port the action needs open on the target; 0 for standalone.
	Port() int
	// Parent names the action that must have succeeded first; "" for none.
	Parent() string
	// Run executes the action against ip. row is a copy of the target row at
	// dispatch time and statusKey is the cell the outcome will be written to.
	Run(ctx context.Context, ip string, port int, row targets.Snapshot, statusKey string) (status.Outcome, error)
}

// Spec is the static description of an action.
type Spec struct {
	Name   string
	Port   int
	Parent string
}

// Base implements the descriptive part of Action for embedding.
type Base struct {
	spec Spec
}

// NewBase creates a Base for spec.
func NewBase(spec Spec) Base {
	return Base{spec: spec}
}

// Name implements Action.
func (b Base) Name() string { return b.spec.Name }

// Port implements Action.
func (b Base) Port() int { return b.spec.Port }

// Parent implements Action.
func (b Base) Parent() string { return b.spec.Parent }

// IsStandalone reports whether a skips port gating.
func IsStandalone(a Action) bool {
	return a.Port() == 0
}

// Finding is a piece of information an action learned about a target.
type Finding struct {
	IP     string    `json:"ip"`
	Action string    `json:"action"`
	Key    string    `json:"key"`
	Value  string    `json:"value"`
	At     time.Time `json:"at"`
}

// FindingSink receives findings reported by actions.
type FindingSink interface {
	Record(ctx context.Context, f Finding)
}

// NopSink drops every finding.
type NopSink struct{}

// Record implements FindingSink.
func (NopSink) Record(context.Context, Finding) {}

// Func adapts a function to Action. It is handy for tests and small
// in-process actions.
type Func struct {
	Base
	Fn func(ctx context.Context, ip string, port int, row targets.Snapshot) (status.Outcome, error)
}

// Run implements Action.
func (f *Func) Run(ctx context.Context, ip string, port int, row targets.Snapshot, _ string) (status.Outcome, error) {
	return f.Fn(ctx, ip, port, row)
}

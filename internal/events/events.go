// Package events publishes action outcomes, findings and status label changes
// to an event bus so other services can follow what the daemon is doing.
package events

import (
	"context"
	"time"

	"github.com/anstrom/bifrost/internal/actions"
)

// ActionEvent describes one finished (target, action) attempt.
type ActionEvent struct {
	CycleID  string        `json:"cycle_id,omitempty"`
	Action   string        `json:"action"`
	Target   string        `json:"target"`
	Port     int           `json:"port,omitempty"`
	Outcome  string        `json:"outcome"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration_ns"`
	At       time.Time     `json:"at"`
}

// StatusEvent is emitted whenever the advisory status label changes.
type StatusEvent struct {
	Action string    `json:"action"`
	Target string    `json:"target,omitempty"`
	At     time.Time `json:"at"`
}

// Publisher delivers events. Publishing is best effort: callers log errors
// and carry on.
type Publisher interface {
	actions.FindingSink
	PublishAction(ctx context.Context, ev ActionEvent) error
	PublishStatus(ctx context.Context, ev StatusEvent) error
	Close()
}

// Nop drops every event.
type Nop struct{}

var _ Publisher = Nop{}

// Record implements actions.FindingSink.
func (Nop) Record(context.Context, actions.Finding) {}

// PublishAction implements Publisher.
func (Nop) PublishAction(context.Context, ActionEvent) error { return nil }

// PublishStatus implements Publisher.
func (Nop) PublishStatus(context.Context, StatusEvent) error { return nil }

// Close implements Publisher.
func (Nop) Close() {}

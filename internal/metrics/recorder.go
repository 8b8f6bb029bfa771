// Package metrics exposes bifrost's operational metrics through Prometheus.
package metrics

import "time"

// Outcome labels.
const (
	OutcomeSuccess = "success"
	OutcomeFailed  = "failed"
	OutcomeError   = "error"
)

// Recorder receives the measurements taken by the orchestrator and its
// collaborators.
type Recorder interface {
	ObserveAction(action, outcome string, d time.Duration)
	ActionStarted(action string)
	ActionFinished(action string)
	ObserveSkip(action, reason string)
	ObserveCycle(executed bool, d time.Duration)
	IncIdle()
	ObserveDiscovery(outcome string, d time.Duration, hosts int)
	ObserveRemediation(outcome string)
	SetTargets(total, alive int)
	IncStoreErrors(operation string)
}

// Nop discards every measurement.
type Nop struct{}

var _ Recorder = Nop{}

func (Nop) ObserveAction(string, string, time.Duration) {}
func (Nop) ActionStarted(string) {}
func (Nop) ActionFinished(string) {}
func (Nop) ObserveSkip(string, string) {}
func (Nop) ObserveCycle(bool, time.Duration) {}
func (Nop) IncIdle() {}
func (Nop) ObserveDiscovery(string, time.Duration, int) {}
func (Nop) ObserveRemediation(string) {}
func (Nop) SetTargets(int, int) {}
func (Nop) IncStoreErrors(string) {}

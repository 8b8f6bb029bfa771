package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/anstrom/bifrost/internal/actions"
	"github.com/anstrom/bifrost/internal/logging"
	"github.com/anstrom/bifrost/internal/status"
	"github.com/anstrom/bifrost/internal/targets"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{now: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// scriptedAction is an action that records every invocation.
type scriptedAction struct {
	actions.Base

	mu    sync.Mutex
	calls []string
	run   func(ip string) (status.Outcome, error)
}

func newScripted(name string, port int, parent string) *scriptedAction {
	return &scriptedAction{Base: actions.NewBase(actions.Spec{Name: name, Port: port, Parent: parent})}
}

func (p *scriptedAction) returning(fn func(ip string) (status.Outcome, error)) *scriptedAction {
	p.run = fn
	return p
}

func (p *scriptedAction) Run(_ context.Context, ip string, _ int, _ targets.Snapshot, _ string) (status.Outcome, error) {
	p.mu.Lock()
	p.calls = append(p.calls, ip)
	p.mu.Unlock()
	if p.run != nil {
		return p.run(ip)
	}
	return status.OutcomeSuccess, nil
}

func (p *scriptedAction) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

func failAlways(string) (status.Outcome, error) { return status.OutcomeFailed, nil }

func registryOf(t *testing.T, list ...actions.Action) *actions.Registry {
	t.Helper()
	reg, problems := actions.New(list...)
	require.Empty(t, problems)
	return reg
}

func host(ip string, ports ...int) targets.Snapshot {
	return targets.Snapshot{IP: ip, Alive: true, Ports: ports}
}

func withStatus(s targets.Snapshot, action string, st status.Status) targets.Snapshot {
	if s.Statuses == nil {
		s.Statuses = map[string]status.Status{}
	}
	s.Statuses[action] = st
	return s
}

func testOptions(clock *fakeClock, mode Mode) Options {
	return Options{
		Policy: Policy{
			SuccessRetryDelay:      time.Hour,
			FailedRetryDelay:       10 * time.Minute,
			RetrySuccessfulActions: true,
		},
		MaxConcurrent: DefaultMaxConcurrent,
		Mode:          mode,
		ScanInterval:  time.Millisecond,
		Logger:        logging.NewDiscard(),
		Clock:         clock.Now,
	}
}

func storedStatus(t *testing.T, store targets.Store, ip, action string) status.Status {
	t.Helper()
	rows, err := store.Read(context.Background())
	require.NoError(t, err)
	for _, r := range rows {
		if r.IP == ip {
			return r.Status(action)
		}
	}
	t.Fatalf("row %s not stored", ip)
	return status.None
}

var bothModes = []Mode{ModeSerial, ModeConcurrent}

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/bifrost/internal/actions"
	"github.com/anstrom/bifrost/internal/events"
	"github.com/anstrom/bifrost/internal/status"
	"github.com/anstrom/bifrost/internal/targets"
)

var t0 = time.Date(2024, 1, 1, 12, 0, 0, 0, time.Local)

func TestChildRunsAfterParentInSameCycle(t *testing.T) {
	for _, mode := range bothModes {
		t.Run(string(mode), func(t *testing.T) {
			clock := newFakeClock(t0)
			x := newScripted("ActionX", 80, "")
			y := newScripted("ActionY", 0, "ActionX")
			store := targets.NewMemoryStore(host("10.0.0.1", 80))
			core := New(registryOf(t, x, y), store, testOptions(clock, mode))

			res := core.RunCycle(context.Background())

			assert.True(t, res.Executed())
			assert.Equal(t, 2, res.Succeeded)
			assert.Equal(t, []string{"10.0.0.1"}, x.Calls())
			assert.Equal(t, []string{"10.0.0.1"}, y.Calls())
			assert.Equal(t, status.Success(t0), storedStatus(t, store, "10.0.0.1", "ActionX"))
			assert.Equal(t, status.Success(t0), storedStatus(t, store, "10.0.0.1", "ActionY"))
			assert.Equal(t, 2, store.Writes(), "every attempt is persisted on its own")
		})
	}
}

func TestFailedParentCoolingDownBlocksChild(t *testing.T) {
	for _, mode := range bothModes {
		t.Run(string(mode), func(t *testing.T) {
			clock := newFakeClock(time.Date(2024, 1, 1, 0, 30, 0, 0, time.Local))
			x := newScripted("ActionX", 80, "")
			y := newScripted("ActionY", 0, "ActionX")
			row := withStatus(host("10.0.0.1", 80), "ActionX", status.MustParse("failed_20240101_000000"))
			store := targets.NewMemoryStore(row)

			opts := testOptions(clock, mode)
			opts.Policy.FailedRetryDelay = time.Hour
			core := New(registryOf(t, x, y), store, opts)

			res := core.RunCycle(context.Background())

			assert.False(t, res.Executed())
			assert.Zero(t, res.Attempted)
			assert.Equal(t, 2, res.Skipped)
			assert.Empty(t, x.Calls())
			assert.Empty(t, y.Calls())
			assert.Zero(t, store.Writes())
		})
	}
}

func TestClosedPortNeverDispatches(t *testing.T) {
	clock := newFakeClock(t0)
	x := newScripted("ActionX", 80, "")
	store := targets.NewMemoryStore(
		host("10.0.0.1", 81),
		withStatus(host("10.0.0.2", 81), "ActionX", status.Failure(t0.Add(-48*time.Hour))),
	)
	core := New(registryOf(t, x), store, testOptions(clock, ModeSerial))

	for range 3 {
		core.RunCycle(context.Background())
		clock.Advance(24 * time.Hour)
	}
	assert.Empty(t, x.Calls())
}

func TestNoLiveRowsIsIdempotent(t *testing.T) {
	clock := newFakeClock(t0)
	x := newScripted("ActionX", 0, "")
	down := host("10.0.0.1", 80)
	down.Alive = false
	store := targets.NewMemoryStore(down)
	core := New(registryOf(t, x), store, testOptions(clock, ModeConcurrent))

	before, err := store.Read(context.Background())
	require.NoError(t, err)

	res := core.RunCycle(context.Background())

	after, err := store.Read(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Executed())
	assert.Zero(t, res.Live)
	assert.Empty(t, x.Calls())
	assert.Zero(t, store.Writes())
	assert.Equal(t, before, after)
}

func TestNoRedispatchAfterSuccessWhenRetriesDisabled(t *testing.T) {
	clock := newFakeClock(t0)
	x := newScripted("ActionX", 0, "")
	store := targets.NewMemoryStore(host("10.0.0.1"))
	opts := testOptions(clock, ModeSerial)
	opts.Policy.RetrySuccessfulActions = false
	opts.Policy.SuccessRetryDelay = 0
	core := New(registryOf(t, x), store, opts)

	for range 5 {
		core.RunCycle(context.Background())
		clock.Advance(30 * 24 * time.Hour)
	}
	assert.Len(t, x.Calls(), 1)
}

func TestFailedCooldownBoundary(t *testing.T) {
	clock := newFakeClock(t0)
	x := newScripted("ActionX", 0, "").returning(failAlways)
	store := targets.NewMemoryStore(host("10.0.0.1"))
	opts := testOptions(clock, ModeSerial)
	opts.Policy.FailedRetryDelay = time.Hour
	core := New(registryOf(t, x), store, opts)

	core.RunCycle(context.Background())
	require.Len(t, x.Calls(), 1)
	assert.Equal(t, status.Failure(t0), storedStatus(t, store, "10.0.0.1", "ActionX"))

	clock.Advance(time.Hour - time.Second)
	res := core.RunCycle(context.Background())
	assert.Len(t, x.Calls(), 1, "still cooling down")
	assert.Equal(t, 1, res.Skipped)

	clock.Advance(time.Second)
	res = core.RunCycle(context.Background())
	assert.Len(t, x.Calls(), 2, "eligible exactly at the boundary")
	assert.False(t, res.Executed(), "a failed attempt is not work performed")
	assert.Equal(t, 1, res.Failed)
}

func TestTopLevelStopsAfterFirstSuccess(t *testing.T) {
	for _, mode := range bothModes {
		t.Run(string(mode), func(t *testing.T) {
			clock := newFakeClock(t0)
			x := newScripted("ActionX", 80, "").returning(func(ip string) (status.Outcome, error) {
				if ip == "10.0.0.1" {
					return status.OutcomeFailed, nil
				}
				return status.OutcomeSuccess, nil
			})
			store := targets.NewMemoryStore(host("10.0.0.1", 80), host("10.0.0.2", 80), host("10.0.0.3", 80))
			core := New(registryOf(t, x), store, testOptions(clock, mode))

			core.RunCycle(context.Background())
			assert.Equal(t, []string{"10.0.0.1", "10.0.0.2"}, x.Calls(), "failures keep walking, the first success stops")

			core.RunCycle(context.Background())
			assert.Equal(t, []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"}, x.Calls(), "next cycle advances to the next target")
		})
	}
}

// sequence records the global order of invocations.
type sequence struct {
	mu    sync.Mutex
	steps []string
}

func (s *sequence) action(name string, port int, parent string) *scriptedAction {
	p := newScripted(name, port, parent)
	p.run = func(ip string) (status.Outcome, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.steps = append(s.steps, name+"@"+ip)
		return status.OutcomeSuccess, nil
	}
	return p
}

func TestSerialOrderAndChildCutoff(t *testing.T) {
	clock := newFakeClock(t0)
	seq := &sequence{}
	x := seq.action("X", 0, "")
	c1 := seq.action("C1", 0, "X")
	z := seq.action("Z", 0, "")
	c2 := seq.action("C2", 0, "X")
	w := seq.action("W", 0, "C1")
	store := targets.NewMemoryStore(host("10.0.0.1"))
	core := New(registryOf(t, x, c1, z, c2, w), store, testOptions(clock, ModeSerial))

	res := core.RunCycle(context.Background())

	assert.Equal(t, []string{
		"X@10.0.0.1",
		"C1@10.0.0.1", // first child success ends the fast path for X
		"Z@10.0.0.1",
		"C2@10.0.0.1", // picked up by the child sweep
		"W@10.0.0.1",  // grandchildren only run in the sweep
	}, seq.steps)
	assert.Equal(t, 5, res.Succeeded)
}

func TestChildSweepRecoversEarlierParentSuccess(t *testing.T) {
	for _, mode := range bothModes {
		t.Run(string(mode), func(t *testing.T) {
			clock := newFakeClock(t0)
			x := newScripted("ActionX", 80, "")
			y := newScripted("ActionY", 0, "ActionX")
			store := targets.NewMemoryStore(
				withStatus(host("10.0.0.1", 80), "ActionX", status.Success(t0.Add(-time.Minute))),
				host("10.0.0.2"),
			)
			opts := testOptions(clock, mode)
			opts.Policy.RetrySuccessfulActions = false
			core := New(registryOf(t, x, y), store, opts)

			res := core.RunCycle(context.Background())

			assert.Empty(t, x.Calls())
			assert.Equal(t, []string{"10.0.0.1"}, y.Calls())
			assert.Equal(t, 1, res.Succeeded)
		})
	}
}

func TestChildNeverRunsWithoutParentSuccess(t *testing.T) {
	clock := newFakeClock(t0)
	x := newScripted("ActionX", 0, "").returning(failAlways)
	y := newScripted("ActionY", 0, "ActionX")
	store := targets.NewMemoryStore(host("10.0.0.1"), host("10.0.0.2"), host("10.0.0.3"))
	opts := testOptions(clock, ModeConcurrent)
	opts.Policy.FailedRetryDelay = 0
	core := New(registryOf(t, x, y), store, opts)

	for range 4 {
		core.RunCycle(context.Background())
		clock.Advance(time.Minute)
	}
	assert.NotEmpty(t, x.Calls())
	assert.Empty(t, y.Calls())
}

func TestPanicsAndErrorsRecordFailure(t *testing.T) {
	for _, mode := range bothModes {
		t.Run(string(mode), func(t *testing.T) {
			clock := newFakeClock(t0)
			boom := newScripted("Boom", 0, "").returning(func(string) (status.Outcome, error) {
				panic("nil map write")
			})
			broken := newScripted("Broken", 0, "").returning(func(string) (status.Outcome, error) {
				return status.OutcomeSuccess, errors.New("connection reset")
			})
			odd := newScripted("Odd", 0, "").returning(func(string) (status.Outcome, error) {
				return status.Outcome("maybe"), nil
			})
			fine := newScripted("Fine", 0, "")
			store := targets.NewMemoryStore(host("10.0.0.1"))
			core := New(registryOf(t, boom, broken, odd, fine), store, testOptions(clock, mode))

			var res CycleResult
			require.NotPanics(t, func() { res = core.RunCycle(context.Background()) })

			assert.Equal(t, status.Failure(t0), storedStatus(t, store, "10.0.0.1", "Boom"))
			assert.Equal(t, status.Failure(t0), storedStatus(t, store, "10.0.0.1", "Broken"))
			assert.Equal(t, status.Failure(t0), storedStatus(t, store, "10.0.0.1", "Odd"))
			assert.Equal(t, status.Success(t0), storedStatus(t, store, "10.0.0.1", "Fine"))
			assert.Equal(t, 3, res.Failed)
			assert.Equal(t, 1, res.Succeeded)
			assert.Zero(t, core.Dispatcher().InFlight(), "slots are released after a panic")
		})
	}
}

func TestCorruptStatusIsSkippedThenRecovered(t *testing.T) {
	clock := newFakeClock(t0)
	x := newScripted("ActionX", 0, "")
	bad, err := status.Parse("success_notatime")
	require.Error(t, err)
	store := targets.NewMemoryStore(withStatus(host("10.0.0.1"), "ActionX", bad))
	core := New(registryOf(t, x), store, testOptions(clock, ModeSerial))

	res := core.RunCycle(context.Background())

	assert.Empty(t, x.Calls())
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 1, store.Writes())
	assert.Equal(t, status.Failure(t0), storedStatus(t, store, "10.0.0.1", "ActionX"))
}

func TestCorruptParentStatusDoesNotBlockForever(t *testing.T) {
	for _, mode := range bothModes {
		t.Run(string(mode), func(t *testing.T) {
			clock := newFakeClock(t0)
			x := newScripted("ActionX", 80, "")
			y := newScripted("ActionY", 0, "ActionX")
			bad, err := status.Parse("failed_2024XX01_000000")
			require.Error(t, err)
			store := targets.NewMemoryStore(withStatus(host("10.0.0.1", 80), "ActionX", bad))
			core := New(registryOf(t, x, y), store, testOptions(clock, mode))

			first := core.RunCycle(context.Background())
			assert.False(t, first.Executed())
			assert.Equal(t, 2, first.Skipped)

			for range 4 {
				clock.Advance(30 * 24 * time.Hour)
				core.RunCycle(context.Background())
			}

			assert.NotEmpty(t, x.Calls())
			assert.NotEmpty(t, y.Calls())
			assert.True(t, storedStatus(t, store, "10.0.0.1", "ActionX").IsSuccess())
		})
	}
}

// flakyStore fails reads or writes on demand.
type flakyStore struct {
	*targets.MemoryStore
	failRead  bool
	failWrite bool
}

func (s *flakyStore) Read(ctx context.Context) ([]targets.Snapshot, error) {
	if s.failRead {
		return nil, errors.New("disk I/O error")
	}
	return s.MemoryStore.Read(ctx)
}

func (s *flakyStore) Write(ctx context.Context, rows []targets.Snapshot) error {
	if s.failWrite {
		return errors.New("database is locked")
	}
	return s.MemoryStore.Write(ctx, rows)
}

func TestStoreWriteFailureKeepsCycleGoing(t *testing.T) {
	clock := newFakeClock(t0)
	x := newScripted("ActionX", 0, "")
	y := newScripted("ActionY", 0, "ActionX")
	store := &flakyStore{MemoryStore: targets.NewMemoryStore(host("10.0.0.1")), failWrite: true}
	core := New(registryOf(t, x, y), store, testOptions(clock, ModeSerial))

	res := core.RunCycle(context.Background())

	assert.Equal(t, 2, res.Succeeded, "in-memory status still lets the child run")
	assert.Len(t, y.Calls(), 1)
	assert.Zero(t, store.Writes())
}

func TestStoreReadFailureExecutesNothing(t *testing.T) {
	clock := newFakeClock(t0)
	x := newScripted("ActionX", 0, "")
	store := &flakyStore{MemoryStore: targets.NewMemoryStore(host("10.0.0.1")), failRead: true}
	core := New(registryOf(t, x), store, testOptions(clock, ModeConcurrent))

	res := core.RunCycle(context.Background())

	assert.False(t, res.Executed())
	assert.Zero(t, res.Attempted)
	assert.Empty(t, x.Calls())
	assert.Equal(t, res.ID, core.LastCycle().ID)
}

func TestConcurrencyBound(t *testing.T) {
	tests := []struct {
		mode     Mode
		capacity int
		wantPeak int
	}{
		{ModeConcurrent, 3, 3},
		{ModeSerial, 3, 1},
	}

	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			clock := newFakeClock(t0)
			var running, peak atomic.Int32
			list := make([]actions.Action, 0, 8)
			for i := range 8 {
				p := newScripted(fmt.Sprintf("Slow%d", i), 0, "").returning(func(string) (status.Outcome, error) {
					n := running.Add(1)
					for {
						old := peak.Load()
						if n <= old || peak.CompareAndSwap(old, n) {
							break
						}
					}
					time.Sleep(30 * time.Millisecond)
					running.Add(-1)
					return status.OutcomeSuccess, nil
				})
				list = append(list, p)
			}
			store := targets.NewMemoryStore(host("10.0.0.1"))
			opts := testOptions(clock, tt.mode)
			opts.MaxConcurrent = tt.capacity
			core := New(registryOf(t, list...), store, opts)

			res := core.RunCycle(context.Background())

			assert.Equal(t, 8, res.Succeeded)
			assert.LessOrEqual(t, int(peak.Load()), tt.capacity)
			assert.Equal(t, tt.wantPeak, core.Dispatcher().Peak())
			assert.Zero(t, core.Dispatcher().InFlight())
		})
	}
}

func TestCancelledContextStopsNewDispatches(t *testing.T) {
	clock := newFakeClock(t0)
	x := newScripted("ActionX", 0, "")
	store := targets.NewMemoryStore(host("10.0.0.1"))
	core := New(registryOf(t, x), store, testOptions(clock, ModeSerial))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := core.RunCycle(ctx)

	assert.False(t, res.Executed())
	assert.Empty(t, x.Calls())
}

type recordingPublisher struct {
	events.Nop
	mu      sync.Mutex
	actions []events.ActionEvent
}

func (p *recordingPublisher) PublishAction(_ context.Context, ev events.ActionEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.actions = append(p.actions, ev)
	return nil
}

func TestDispatchPublishesEventsAndSetsLabel(t *testing.T) {
	clock := newFakeClock(t0)
	x := newScripted("ActionX", 0, "").returning(func(string) (status.Outcome, error) {
		clock.Advance(2 * time.Second)
		return status.OutcomeFailed, errors.New("timeout")
	})
	pub := &recordingPublisher{}
	store := targets.NewMemoryStore(host("10.0.0.9"))
	opts := testOptions(clock, ModeSerial)
	opts.Events = pub
	core := New(registryOf(t, x), store, opts)

	res := core.RunCycle(context.Background())

	require.Len(t, pub.actions, 1)
	ev := pub.actions[0]
	assert.Equal(t, "ActionX", ev.Action)
	assert.Equal(t, "10.0.0.9", ev.Target)
	assert.Equal(t, "failed", ev.Outcome)
	assert.Equal(t, "timeout", ev.Error)
	assert.Equal(t, 2*time.Second, ev.Duration)
	assert.Equal(t, res.ID.String(), ev.CycleID)

	label := core.Label().Snapshot()
	assert.Equal(t, "ActionX", label.Action)
	assert.Equal(t, "10.0.0.9", label.Target)
	assert.Equal(t, status.Failure(t0.Add(2*time.Second)), storedStatus(t, store, "10.0.0.9", "ActionX"))
}

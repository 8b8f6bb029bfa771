package orchestrator

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/anstrom/bifrost/internal/orchestrator/mocks"
	"github.com/anstrom/bifrost/internal/targets"
)

// countingStore counts reads, one per cycle.
type countingStore struct {
	*targets.MemoryStore
	reads atomic.Int32
}

func (s *countingStore) Read(ctx context.Context) ([]targets.Snapshot, error) {
	s.reads.Add(1)
	return s.MemoryStore.Read(ctx)
}

func runUntilReturn(t *testing.T, core *Core, ctx context.Context) {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- core.Run(ctx) }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestIdleRescanThenRecoverOnce(t *testing.T) {
	ctrl := gomock.NewController(t)
	discoverer := mocks.NewMockDiscoverer(ctrl)
	recovery := mocks.NewMockIdleRecovery(ctrl)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gomock.InOrder(
		discoverer.EXPECT().Scan(gomock.Any()).Return(nil),
		discoverer.EXPECT().Scan(gomock.Any()).Return(nil),
		recovery.EXPECT().OnIdle(gomock.Any(), LabelIdle).DoAndReturn(func(context.Context, string) error {
			cancel()
			return nil
		}),
	)

	clock := newFakeClock(t0)
	x := newScripted("ActionX", 80, "")
	store := &countingStore{MemoryStore: targets.NewMemoryStore(host("10.0.0.1", 81))}
	opts := testOptions(clock, ModeConcurrent)
	opts.ScanInterval = time.Hour
	opts.Discoverer = discoverer
	opts.Recovery = recovery
	core := New(registryOf(t, x), store, opts)

	runUntilReturn(t, core, ctx)

	assert.Equal(t, int32(2), store.reads.Load(), "one cycle plus one retry after the rescan")
	assert.Empty(t, x.Calls())
	assert.Equal(t, LabelStopped, core.Label().Snapshot().Action)
}

func TestRunLoopsImmediatelyWhileWorkRemains(t *testing.T) {
	ctrl := gomock.NewController(t)
	discoverer := mocks.NewMockDiscoverer(ctrl)
	recovery := mocks.NewMockIdleRecovery(ctrl)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	discoverer.EXPECT().Scan(gomock.Any()).Return(nil).Times(2)
	recovery.EXPECT().OnIdle(gomock.Any(), LabelIdle).DoAndReturn(func(context.Context, string) error {
		cancel()
		return nil
	}).Times(1)

	clock := newFakeClock(t0)
	x := newScripted("ActionX", 80, "")
	store := &countingStore{MemoryStore: targets.NewMemoryStore(
		host("10.0.0.1", 80), host("10.0.0.2", 80), host("10.0.0.3", 80),
	)}
	opts := testOptions(clock, ModeSerial)
	opts.Policy.RetrySuccessfulActions = false
	opts.ScanInterval = time.Hour
	opts.Discoverer = discoverer
	opts.Recovery = recovery
	core := New(registryOf(t, x), store, opts)

	runUntilReturn(t, core, ctx)

	assert.Equal(t, []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"}, x.Calls())
	assert.Equal(t, int32(5), store.reads.Load(), "three productive cycles, then idle and retry")
}

func TestRunWithoutDiscovererSkipsRetry(t *testing.T) {
	ctrl := gomock.NewController(t)
	recovery := mocks.NewMockIdleRecovery(ctrl)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	recovery.EXPECT().OnIdle(gomock.Any(), LabelIdle).DoAndReturn(func(context.Context, string) error {
		cancel()
		return nil
	})

	clock := newFakeClock(t0)
	store := &countingStore{MemoryStore: targets.NewMemoryStore()}
	opts := testOptions(clock, ModeConcurrent)
	opts.Recovery = recovery
	core := New(registryOf(t, newScripted("ActionX", 80, "")), store, opts)

	runUntilReturn(t, core, ctx)

	assert.Equal(t, int32(1), store.reads.Load())
}

func TestRunTreatsDiscoveryErrorsAsNoNewTargets(t *testing.T) {
	ctrl := gomock.NewController(t)
	discoverer := mocks.NewMockDiscoverer(ctrl)
	recovery := mocks.NewMockIdleRecovery(ctrl)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	discoverer.EXPECT().Scan(gomock.Any()).Return(errors.New("nmap: exit status 1")).Times(2)
	recovery.EXPECT().OnIdle(gomock.Any(), LabelIdle).DoAndReturn(func(context.Context, string) error {
		cancel()
		return nil
	})

	clock := newFakeClock(t0)
	store := &countingStore{MemoryStore: targets.NewMemoryStore()}
	opts := testOptions(clock, ModeSerial)
	opts.Discoverer = discoverer
	opts.Recovery = recovery
	core := New(registryOf(t, newScripted("ActionX", 0, "")), store, opts)

	runUntilReturn(t, core, ctx)

	assert.Equal(t, int32(2), store.reads.Load())
}

func TestRunSleepsAfterRecoveryFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	recovery := mocks.NewMockIdleRecovery(ctrl)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	recovery.EXPECT().OnIdle(gomock.Any(), LabelIdle).DoAndReturn(func(context.Context, string) error {
		if calls.Add(1) == 2 {
			cancel()
			return nil
		}
		return errors.New("no known network in range")
	}).Times(2)

	clock := newFakeClock(t0)
	opts := testOptions(clock, ModeSerial)
	opts.ScanInterval = time.Millisecond
	opts.Recovery = recovery
	core := New(registryOf(t), targets.NewMemoryStore(), opts)

	runUntilReturn(t, core, ctx)
}

func TestRunReturnsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	clock := newFakeClock(t0)
	store := &countingStore{MemoryStore: targets.NewMemoryStore(host("10.0.0.1"))}
	core := New(registryOf(t, newScripted("ActionX", 0, "")), store, testOptions(clock, ModeSerial))

	runUntilReturn(t, core, ctx)
	assert.Zero(t, store.reads.Load())
}

func TestOptionsDefaults(t *testing.T) {
	o := Options{}.withDefaults()
	assert.Equal(t, DefaultMaxConcurrent, o.MaxConcurrent)
	assert.Equal(t, ModeConcurrent, o.Mode)
	assert.Equal(t, DefaultScanInterval, o.ScanInterval)
	assert.NotNil(t, o.Label)
	assert.NotNil(t, o.Metrics)
	assert.NotNil(t, o.Events)
	assert.NotNil(t, o.Clock)
}

func TestRequestRescan(t *testing.T) {
	clock := newFakeClock(t0)
	withoutDiscoverer := New(registryOf(t), targets.NewMemoryStore(), testOptions(clock, ModeSerial))
	assert.False(t, withoutDiscoverer.RequestRescan())

	ctrl := gomock.NewController(t)
	discoverer := mocks.NewMockDiscoverer(ctrl)
	recovery := mocks.NewMockIdleRecovery(ctrl)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initial scan, one coalesced request, then the idle rescan.
	discoverer.EXPECT().Scan(gomock.Any()).Return(nil).Times(3)
	recovery.EXPECT().OnIdle(gomock.Any(), LabelIdle).DoAndReturn(func(context.Context, string) error {
		cancel()
		return nil
	})

	opts := testOptions(clock, ModeSerial)
	opts.ScanInterval = time.Hour
	opts.Discoverer = discoverer
	opts.Recovery = recovery
	core := New(registryOf(t), targets.NewMemoryStore(), opts)

	assert.True(t, core.RequestRescan())
	assert.True(t, core.RequestRescan())
	runUntilReturn(t, core, ctx)
}

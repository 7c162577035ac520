package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"reseller-billing/services/billing"
	"reseller-billing/services/coordinator"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type fakeCoordinator struct {
	mu          sync.Mutex
	registerErr error
	beatErr     error
	peerActive  bool
	beats       int
	states      []coordinator.State
	cycles      []coordinator.CycleSummary
}

func (f *fakeCoordinator) Register(ctx context.Context, role coordinator.Role) (*coordinator.ExecutorHeartbeat, error) {
	if f.registerErr != nil {
		return nil, f.registerErr
	}
	return &coordinator.ExecutorHeartbeat{ExecutorID: "exec-1", Role: role, Status: coordinator.StateStarting}, nil
}

func (f *fakeCoordinator) Beat(ctx context.Context, executorID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.beats++
	return f.beatErr
}

func (f *fakeCoordinator) MarkStatus(ctx context.Context, executorID string, state coordinator.State) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states = append(f.states, state)
	return nil
}

func (f *fakeCoordinator) RecordCycle(ctx context.Context, executorID string, sum coordinator.CycleSummary) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cycles = append(f.cycles, sum)
	return nil
}

func (f *fakeCoordinator) IsPeerActive(ctx context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.peerActive
}

func (f *fakeCoordinator) snapshot() (beats int, states []coordinator.State, cycles int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.beats, append([]coordinator.State(nil), f.states...), len(f.cycles)
}

type fakeRunner struct {
	calls atomic.Int32
	fn    func(n int32) (*billing.RunResult, error)
}

func (r *fakeRunner) Run(ctx context.Context, t billing.Trigger) (*billing.RunResult, error) {
	n := r.calls.Add(1)
	if r.fn != nil {
		return r.fn(n)
	}
	return &billing.RunResult{RunID: fmt.Sprint(n), Trigger: t.Kind, CompletedAt: time.Now(), TotalAmount: decimal.Zero}, nil
}

func fastOptions(role coordinator.Role) Options {
	return Options{
		Role:              role,
		Interval:          50 * time.Millisecond,
		GraceDelay:        10 * time.Millisecond,
		HeartbeatInterval: 20 * time.Millisecond,
	}
}

func stop(t *testing.T, h *Harness) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.Stop(ctx))
}

func TestHarnessRunsImmediatelyThenOnInterval(t *testing.T) {
	coord := &fakeCoordinator{}
	runner := &fakeRunner{}
	h := New(fastOptions(coordinator.RoleExternal), runner, coord)

	require.NoError(t, h.Start(context.Background()))
	require.Equal(t, "exec-1", h.ExecutorID())

	require.Eventually(t, func() bool { return runner.calls.Load() >= 1 }, time.Second, 5*time.Millisecond)
	require.Equal(t, coordinator.StateRunning, h.State())
	require.Eventually(t, func() bool { return runner.calls.Load() >= 3 }, 2*time.Second, 10*time.Millisecond)

	stop(t, h)
	require.Equal(t, coordinator.StateStopped, h.State())

	beats, states, cycles := coord.snapshot()
	require.Positive(t, beats)
	require.GreaterOrEqual(t, cycles, 3)
	require.Equal(t, coordinator.StateRunning, states[0])
	require.Equal(t, coordinator.StateStopped, states[len(states)-1])

	after := runner.calls.Load()
	time.Sleep(120 * time.Millisecond)
	require.Equal(t, after, runner.calls.Load())
}

func TestHarnessEmbeddedDefersToActivePeer(t *testing.T) {
	coord := &fakeCoordinator{peerActive: true}
	runner := &fakeRunner{}
	h := New(fastOptions(coordinator.RoleEmbedded), runner, coord)

	require.NoError(t, h.Start(context.Background()))
	defer stop(t, h)

	require.Eventually(t, func() bool { return h.State() == coordinator.StateRunning }, time.Second, 5*time.Millisecond)
	require.Never(t, func() bool { return runner.calls.Load() > 0 }, 200*time.Millisecond, 10*time.Millisecond)

	_, _, cycles := coord.snapshot()
	require.Zero(t, cycles)

	res, err := h.RunNow(context.Background())
	require.NoError(t, err)
	require.Equal(t, billing.TriggerManual, res.Trigger)
	require.Equal(t, int32(1), runner.calls.Load())
}

func TestHarnessExternalIgnoresPeerGate(t *testing.T) {
	coord := &fakeCoordinator{peerActive: true}
	runner := &fakeRunner{}
	h := New(fastOptions(coordinator.RoleExternal), runner, coord)

	require.NoError(t, h.Start(context.Background()))
	defer stop(t, h)

	require.Eventually(t, func() bool { return runner.calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
}

func TestHarnessIgnoresOverlappingTicks(t *testing.T) {
	release := make(chan struct{})
	runner := &fakeRunner{}
	runner.fn = func(n int32) (*billing.RunResult, error) {
		if n == 2 {
			<-release
		}
		return &billing.RunResult{CompletedAt: time.Now()}, nil
	}

	opts := fastOptions(coordinator.RoleExternal)
	opts.Interval = 20 * time.Millisecond
	h := New(opts, runner, &fakeCoordinator{})

	require.NoError(t, h.Start(context.Background()))
	defer stop(t, h)

	require.Eventually(t, func() bool { return runner.calls.Load() == 2 }, time.Second, 5*time.Millisecond)
	require.Never(t, func() bool { return runner.calls.Load() > 2 }, 150*time.Millisecond, 10*time.Millisecond)

	_, err := h.RunNow(context.Background())
	require.ErrorIs(t, err, ErrCycleInProgress)

	close(release)
	require.Eventually(t, func() bool { return runner.calls.Load() >= 3 }, time.Second, 5*time.Millisecond)
}

func TestHarnessStopWaitsForInFlightCycle(t *testing.T) {
	release := make(chan struct{})
	var finished atomic.Bool
	runner := &fakeRunner{}
	runner.fn = func(n int32) (*billing.RunResult, error) {
		<-release
		finished.Store(true)
		return &billing.RunResult{CompletedAt: time.Now()}, nil
	}

	coord := &fakeCoordinator{}
	h := New(fastOptions(coordinator.RoleExternal), runner, coord)
	require.NoError(t, h.Start(context.Background()))
	require.Eventually(t, func() bool { return runner.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	stopped := make(chan error, 1)
	go func() { stopped <- h.Stop(context.Background()) }()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a cycle was in flight")
	case <-time.After(80 * time.Millisecond):
	}

	close(release)
	select {
	case err := <-stopped:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after the cycle finished")
	}

	require.True(t, finished.Load())
	require.Equal(t, coordinator.StateStopped, h.State())
	require.Equal(t, int32(1), runner.calls.Load())

	_, states, cycles := coord.snapshot()
	require.Equal(t, 1, cycles)
	require.Equal(t, coordinator.StateStopped, states[len(states)-1])
}

func TestHarnessStopDeadline(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	runner := &fakeRunner{}
	runner.fn = func(n int32) (*billing.RunResult, error) {
		<-release
		return &billing.RunResult{CompletedAt: time.Now()}, nil
	}

	h := New(fastOptions(coordinator.RoleExternal), runner, &fakeCoordinator{})
	require.NoError(t, h.Start(context.Background()))
	require.Eventually(t, func() bool { return runner.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, h.Stop(ctx), context.DeadlineExceeded)
}

func TestHarnessSurvivesPanickingCycle(t *testing.T) {
	runner := &fakeRunner{}
	runner.fn = func(n int32) (*billing.RunResult, error) {
		if n == 1 {
			panic("nil instance row")
		}
		return &billing.RunResult{CompletedAt: time.Now()}, nil
	}

	coord := &fakeCoordinator{}
	h := New(fastOptions(coordinator.RoleExternal), runner, coord)
	require.NoError(t, h.Start(context.Background()))
	defer stop(t, h)

	require.Eventually(t, func() bool { return runner.calls.Load() >= 3 }, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, coordinator.StateRunning, h.State())

	_, _, cycles := coord.snapshot()
	require.GreaterOrEqual(t, cycles, 2)
}

func TestHarnessCycleErrorDoesNotStopSchedule(t *testing.T) {
	runner := &fakeRunner{}
	runner.fn = func(n int32) (*billing.RunResult, error) {
		return &billing.RunResult{CompletedAt: time.Now()}, errors.New("database is down")
	}

	coord := &fakeCoordinator{}
	h := New(fastOptions(coordinator.RoleExternal), runner, coord)
	require.NoError(t, h.Start(context.Background()))
	defer stop(t, h)

	require.Eventually(t, func() bool { return runner.calls.Load() >= 3 }, 2*time.Second, 10*time.Millisecond)
	_, _, cycles := coord.snapshot()
	require.Zero(t, cycles)
}

func TestHarnessRegisterFailure(t *testing.T) {
	coord := &fakeCoordinator{registerErr: errors.New("no database")}
	h := New(fastOptions(coordinator.RoleExternal), &fakeRunner{}, coord)

	err := h.Start(context.Background())
	require.Error(t, err)
	require.Equal(t, coordinator.StateError, h.State())
	require.NoError(t, h.Stop(context.Background()))
	require.ErrorIs(t, h.Start(context.Background()), ErrAlreadyStarted)
}

func TestHarnessFaultsWhenIdentityIsLost(t *testing.T) {
	faulted := make(chan error, 1)
	opts := fastOptions(coordinator.RoleExternal)
	opts.GraceDelay = time.Hour
	opts.OnFault = func(err error) { faulted <- err }

	coord := &fakeCoordinator{beatErr: coordinator.ErrUnknownExecutor}
	runner := &fakeRunner{}
	h := New(opts, runner, coord)
	require.NoError(t, h.Start(context.Background()))

	select {
	case err := <-faulted:
		require.ErrorIs(t, err, coordinator.ErrUnknownExecutor)
	case <-time.After(2 * time.Second):
		t.Fatal("harness did not fault")
	}

	require.Equal(t, coordinator.StateError, h.State())
	require.NoError(t, h.Stop(context.Background()))
	require.Equal(t, coordinator.StateError, h.State())
	require.Zero(t, runner.calls.Load())

	_, err := h.RunNow(context.Background())
	require.ErrorIs(t, err, ErrNotRunning)
}

func TestRunNowBeforeStart(t *testing.T) {
	h := New(fastOptions(coordinator.RoleEmbedded), &fakeRunner{}, &fakeCoordinator{})

	_, err := h.RunNow(context.Background())
	require.ErrorIs(t, err, ErrNotRunning)
}

func TestEverySchedule(t *testing.T) {
	base := time.Date(2025, 3, 1, 10, 0, 0, 250, time.UTC)
	require.Equal(t, base.Add(time.Hour), every(time.Hour).Next(base))
	require.Equal(t, base.Add(20*time.Millisecond), every(20*time.Millisecond).Next(base))
}

func TestHarnessReportsCycleOutcome(t *testing.T) {
	tests := []struct {
		name      string
		billed    int
		failed    []string
		succeeded bool
	}{
		{name: "all billed", billed: 2, succeeded: true},
		{name: "partial", billed: 1, failed: []string{"vm-b"}, succeeded: true},
		{name: "every charge failed", failed: []string{"vm-a", "vm-b"}, succeeded: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			coord := &fakeCoordinator{}
			runner := &fakeRunner{fn: func(n int32) (*billing.RunResult, error) {
				return &billing.RunResult{
					RunID:           fmt.Sprint(n),
					CompletedAt:     time.Now(),
					BilledInstances: tt.billed,
					FailedInstances: tt.failed,
					TotalAmount:     decimal.Zero,
				}, nil
			}}
			h := New(fastOptions(coordinator.RoleExternal), runner, coord)

			require.NoError(t, h.Start(context.Background()))
			require.Eventually(t, func() bool {
				_, _, cycles := coord.snapshot()
				return cycles >= 1
			}, time.Second, 5*time.Millisecond)
			stop(t, h)

			coord.mu.Lock()
			defer coord.mu.Unlock()
			for _, c := range coord.cycles {
				require.Equal(t, tt.succeeded, c.Succeeded)
				require.Equal(t, tt.billed, c.InstancesBilled)
			}
		})
	}
}

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"reseller-billing/services/billing"
	"reseller-billing/services/coordinator"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

var (
	ErrCycleInProgress = errors.New("scheduler: billing cycle already in progress")
	ErrHarnessFault    = errors.New("scheduler: billing cycle panicked")
	ErrNotRunning      = errors.New("scheduler: harness is not running")
	ErrAlreadyStarted  = errors.New("scheduler: harness already started")
)

type CycleRunner interface {
	Run(ctx context.Context, t billing.Trigger) (*billing.RunResult, error)
}

type Coordinator interface {
	Register(ctx context.Context, role coordinator.Role) (*coordinator.ExecutorHeartbeat, error)
	Beat(ctx context.Context, executorID string) error
	MarkStatus(ctx context.Context, executorID string, state coordinator.State) error
	RecordCycle(ctx context.Context, executorID string, sum coordinator.CycleSummary) error
	IsPeerActive(ctx context.Context) bool
}

type Options struct {
	Role              coordinator.Role
	Interval          time.Duration
	GraceDelay        time.Duration
	HeartbeatInterval time.Duration

	// OnFault is called once when the harness enters the error state.
	OnFault func(error)
}

// Harness hosts the billing cycle on a recurring timer. One Harness is one
// executor identity; after Stop or a fault a new Harness must be built.
type Harness struct {
	opts   Options
	runner CycleRunner
	coord  Coordinator
	logger *zap.Logger

	mu         sync.Mutex
	state      coordinator.State
	executorID string
	cron       *cron.Cron
	stopping   bool
	stopCh     chan struct{}
	cycles     sync.WaitGroup

	inCycle atomic.Bool
	runCtx  context.Context
}

func New(opts Options, runner CycleRunner, coord Coordinator) *Harness {
	return &Harness{
		opts:   opts,
		runner: runner,
		coord:  coord,
		logger: zap.L().With(zap.String("role", string(opts.Role))),
		stopCh: make(chan struct{}),
	}
}

func (h *Harness) State() coordinator.State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

func (h *Harness) ExecutorID() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.executorID
}

// Start registers a new executor identity and arms the timers. It returns
// once the heartbeat is running; the first cycle starts after the grace
// delay in the background.
func (h *Harness) Start(ctx context.Context) error {
	h.mu.Lock()
	if h.state != "" {
		h.mu.Unlock()
		return ErrAlreadyStarted
	}
	h.state = coordinator.StateStarting
	h.mu.Unlock()

	hb, err := h.coord.Register(ctx, h.opts.Role)
	if err != nil {
		h.setState(coordinator.StateError)
		return fmt.Errorf("register executor: %w", err)
	}

	h.mu.Lock()
	h.executorID = hb.ExecutorID
	h.logger = h.logger.With(zap.String("executor_id", hb.ExecutorID))
	h.runCtx = context.WithoutCancel(ctx)
	h.cron = cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(newCronLogger(h.logger)),
		cron.WithChain(cron.Recover(newCronLogger(h.logger))),
	)
	h.cron.Schedule(every(h.opts.HeartbeatInterval), cron.FuncJob(h.beat))
	h.cron.Start()
	h.mu.Unlock()

	h.logger.Info("billing harness starting",
		zap.Duration("interval", h.opts.Interval),
		zap.Duration("grace_delay", h.opts.GraceDelay),
		zap.Duration("heartbeat_interval", h.opts.HeartbeatInterval),
	)

	go h.arm()
	return nil
}

// arm waits for the grace delay, runs the first cycle and schedules the
// recurring one.
func (h *Harness) arm() {
	select {
	case <-time.After(h.opts.GraceDelay):
	case <-h.stopCh:
		return
	}

	err := h.coord.MarkStatus(h.runCtx, h.ExecutorID(), coordinator.StateRunning)
	switch {
	case errors.Is(err, coordinator.ErrUnknownExecutor):
		h.fault(fmt.Errorf("mark running: %w", err))
		return
	case err != nil:
		h.logger.Warn("failed to mark executor running", zap.Error(err))
	}
	h.setState(coordinator.StateRunning)

	h.tick()

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopping || h.state.Terminal() {
		return
	}
	h.cron.Schedule(every(h.opts.Interval), cron.FuncJob(h.tick))
	h.logger.Info("billing harness running")
}

func (h *Harness) tick() {
	_, err := h.cycle(h.runCtx, billing.TriggerScheduled, true)
	switch {
	case errors.Is(err, ErrCycleInProgress):
		h.logger.Warn("billing tick ignored, previous cycle still running")
	case errors.Is(err, ErrNotRunning):
	case err != nil:
		h.logger.Error("scheduled billing cycle failed", zap.Error(err))
	}
}

// RunNow runs one cycle immediately, for manual triggers. It does not consult
// the peer gate and fails with ErrCycleInProgress instead of waiting.
func (h *Harness) RunNow(ctx context.Context) (*billing.RunResult, error) {
	return h.cycle(context.WithoutCancel(ctx), billing.TriggerManual, false)
}

func (h *Harness) cycle(ctx context.Context, kind billing.TriggerKind, gated bool) (res *billing.RunResult, err error) {
	h.mu.Lock()
	if h.stopping || h.state != coordinator.StateRunning {
		h.mu.Unlock()
		return nil, ErrNotRunning
	}
	if !h.inCycle.CompareAndSwap(false, true) {
		h.mu.Unlock()
		return nil, ErrCycleInProgress
	}
	h.cycles.Add(1)
	executorID := h.executorID
	h.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			res = nil
			err = fmt.Errorf("%w: %v", ErrHarnessFault, r)
			h.logger.Error("billing cycle fault, waiting for next tick", zap.Error(err), zap.Stack("stack"))
		}
		h.inCycle.Store(false)
		h.cycles.Done()
	}()

	if gated && h.opts.Role == coordinator.RoleEmbedded && h.coord.IsPeerActive(ctx) {
		h.logger.Info("external billing daemon is active and holds priority, skipping cycle")
		return nil, nil
	}

	res, err = h.runner.Run(ctx, billing.Trigger{Kind: kind, ExecutorID: executorID})
	if err != nil {
		return res, err
	}

	if rerr := h.coord.RecordCycle(ctx, executorID, coordinator.CycleSummary{
		CompletedAt:     res.CompletedAt,
		InstancesBilled: res.BilledInstances,
		TotalAmount:     res.TotalAmount,
		Succeeded:       res.Status() != billing.RunFailed,
	}); rerr != nil {
		h.logger.Warn("failed to record cycle on heartbeat", zap.Error(rerr))
	}
	return res, nil
}

func (h *Harness) beat() {
	id := h.ExecutorID()
	ctx, cancel := context.WithTimeout(h.runCtx, h.opts.HeartbeatInterval)
	defer cancel()

	err := h.coord.Beat(ctx, id)
	switch {
	case err == nil:
	case errors.Is(err, coordinator.ErrUnknownExecutor):
		h.mu.Lock()
		stopping := h.stopping
		h.mu.Unlock()
		if !stopping {
			h.fault(err)
		}
	default:
		h.logger.Warn("heartbeat failed", zap.Error(err))
	}
}

// fault moves the harness into the terminal error state. Timers stop; an
// in-flight cycle is left to finish.
func (h *Harness) fault(cause error) {
	h.mu.Lock()
	if h.stopping || h.state.Terminal() {
		h.mu.Unlock()
		return
	}
	h.state = coordinator.StateError
	h.stopping = true
	close(h.stopCh)
	c := h.cron
	id := h.executorID
	h.mu.Unlock()

	h.logger.Error("billing harness entered error state", zap.Error(cause))
	if c != nil {
		c.Stop()
	}

	ctx, cancel := context.WithTimeout(h.runCtx, 5*time.Second)
	defer cancel()
	if err := h.coord.MarkStatus(ctx, id, coordinator.StateError); err != nil {
		h.logger.Warn("failed to mark executor error", zap.Error(err))
	}

	if h.opts.OnFault != nil {
		h.opts.OnFault(cause)
	}
}

// Stop stops accepting ticks, waits for the in-flight cycle and marks the
// identity stopped. If ctx expires first the identity is left to go stale.
func (h *Harness) Stop(ctx context.Context) error {
	h.mu.Lock()
	if h.stopping || h.state == "" || h.state.Terminal() {
		h.mu.Unlock()
		return nil
	}
	h.stopping = true
	close(h.stopCh)
	c := h.cron
	id := h.executorID
	h.mu.Unlock()

	h.logger.Info("billing harness stopping")

	done := make(chan struct{})
	go func() {
		if c != nil {
			<-c.Stop().Done()
		}
		h.cycles.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		h.logger.Error("billing cycle still running at shutdown deadline", zap.Error(ctx.Err()))
		return ctx.Err()
	}

	markCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := h.coord.MarkStatus(markCtx, id, coordinator.StateStopped); err != nil {
		h.logger.Warn("failed to mark executor stopped", zap.Error(err))
	}
	h.setState(coordinator.StateStopped)

	h.logger.Info("billing harness stopped")
	return nil
}

func (h *Harness) setState(s coordinator.State) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state.Terminal() {
		return
	}
	h.state = s
}

// every fires at a fixed delay after the previous activation.
type every time.Duration

func (e every) Next(t time.Time) time.Time {
	return t.Add(time.Duration(e))
}

package scheduler

import (
	"context"
	"errors"
	"fmt"

	"reseller-billing/pkg/task"
	"reseller-billing/pkg/taskname"
	"reseller-billing/services/billing"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// TaskModule serves manual billing triggers from the asynq queue through the
// embedded harness.
var TaskModule = fx.Module("billing.scheduler.task",
	fx.Invoke(RegisterTaskHandler),
)

type manualRunner interface {
	RunNow(ctx context.Context) (*billing.RunResult, error)
}

func RegisterTaskHandler(mux *asynq.ServeMux, h *Harness) {
	mux.Handle(taskname.BillingCycleRun, NewCycleTaskHandler(h))
}

func NewCycleTaskHandler(r manualRunner) asynq.Handler {
	return asynq.HandlerFunc(func(ctx context.Context, t *asynq.Task) error {
		p, err := task.ParseBillingCyclePayload(t)
		if err != nil {
			return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
		}

		logger := zap.L().With(zap.String("requested_by", p.RequestedBy), zap.String("reason", p.Reason))
		logger.Info("manual billing cycle requested")

		res, err := r.RunNow(ctx)
		switch {
		case errors.Is(err, ErrCycleInProgress), errors.Is(err, ErrNotRunning):
			logger.Warn("manual billing cycle rejected", zap.Error(err))
			return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
		case err != nil:
			return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
		}

		logger.Info("manual billing cycle completed",
			zap.String("run_id", res.RunID),
			zap.Int("instances_billed", res.BilledInstances),
			zap.Int("instances_failed", len(res.FailedInstances)),
			zap.String("total_amount", res.TotalAmount.StringFixed(2)),
		)
		return nil
	})
}

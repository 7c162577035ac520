package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"reseller-billing/pkg/config"
	"reseller-billing/pkg/sequence"
	"reseller-billing/services/instance"
	"reseller-billing/services/wallet"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const defaultChargeTimeout = 30 * time.Second

// Executor runs one billing cycle: a flat charge of hourly_rate for every
// active instance, one instance at a time.
type Executor struct {
	db            *gorm.DB
	ledger        Ledger
	instances     InstanceSource
	node          *snowflake.Node
	seq           sequence.Generator
	publisher     CyclePublisher
	metrics       *Metrics
	tracer        trace.Tracer
	chargeTimeout time.Duration
	now           func() time.Time
}

type ExecutorParams struct {
	fx.In
	DB        *gorm.DB
	Ledger    Ledger
	Instances InstanceSource
	Node      *snowflake.Node
	Metrics   *Metrics
	Config    *config.Config     `optional:"true"`
	Sequence  sequence.Generator `optional:"true"`
	Publisher CyclePublisher     `optional:"true"`
}

func NewExecutor(p ExecutorParams) *Executor {
	timeout := defaultChargeTimeout
	if p.Config != nil && p.Config.Billing.ChargeTimeout > 0 {
		timeout = p.Config.Billing.ChargeTimeout
	}

	return &Executor{
		db:            p.DB,
		ledger:        p.Ledger,
		instances:     p.Instances,
		node:          p.Node,
		seq:           p.Sequence,
		publisher:     p.Publisher,
		metrics:       p.Metrics,
		tracer:        otel.Tracer(instrumentationName),
		chargeTimeout: timeout,
		now:           time.Now,
	}
}

// Run executes one cycle. Per-instance failures are collected in the result;
// an error is returned only when the run could not be recorded or the
// instance snapshot could not be read.
func (e *Executor) Run(ctx context.Context, t Trigger) (*RunResult, error) {
	if t.Kind == "" {
		t.Kind = TriggerScheduled
	}

	res := &RunResult{
		RunID:            e.node.Generate().String(),
		Trigger:          t.Kind,
		StartedAt:        e.now().UTC(),
		TotalAmount:      decimal.Zero,
		FailedInstances:  []string{},
		SkippedInstances: []string{},
		Errors:           []string{},
	}

	ctx, span := e.tracer.Start(ctx, "billing.run", trace.WithAttributes(
		attribute.String("billing.run_id", res.RunID),
		attribute.String("billing.trigger", string(t.Kind)),
		attribute.String("billing.executor_id", t.ExecutorID),
	))
	defer span.End()

	if e.seq != nil {
		code, err := e.seq.NextRunCode(ctx)
		if err != nil {
			zap.L().Warn("billing run code unavailable", zap.Error(err))
		} else {
			res.Code = code
		}
	}

	logger := zap.L().With(
		zap.String("run_id", res.RunID),
		zap.String("run_code", res.Code),
		zap.String("trigger", string(t.Kind)),
		zap.String("executor_id", t.ExecutorID),
	)

	run := BillingRun{
		ID:          res.RunID,
		Code:        res.Code,
		ExecutorID:  t.ExecutorID,
		Trigger:     t.Kind,
		Status:      RunRunning,
		TotalAmount: decimal.Zero,
		StartedAt:   res.StartedAt,
	}
	if err := e.db.WithContext(ctx).Create(&run).Error; err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create billing run")
		logger.Error("failed to create billing run", zap.Error(err))
		return nil, fmt.Errorf("create billing run: %w", err)
	}

	logger.Info("billing cycle started")

	rows, err := e.instances.ListActive(ctx)
	if err != nil {
		res.Errors = append(res.Errors, err.Error())
		res.CompletedAt = e.now().UTC()
		e.finish(ctx, logger, &run, res, RunFailed, err.Error())
		span.RecordError(err)
		span.SetStatus(codes.Error, "list instances")
		return res, err
	}

	for i := range rows {
		e.charge(ctx, logger, res, &rows[i])
	}

	res.CompletedAt = e.now().UTC()
	status := res.Status()
	e.finish(ctx, logger, &run, res, status, "")

	span.SetAttributes(
		attribute.Int("billing.instances_billed", res.BilledInstances),
		attribute.Int("billing.instances_failed", len(res.FailedInstances)),
		attribute.String("billing.total_amount", res.TotalAmount.StringFixed(2)),
	)
	if status != RunSuccess {
		span.SetStatus(codes.Error, string(status))
	}

	return res, nil
}

// charge bills a single instance and writes its audit record. It never
// returns an error; every outcome lands in res.
func (e *Executor) charge(ctx context.Context, logger *zap.Logger, res *RunResult, row *instance.ComputeInstance) {
	ctx, span := e.tracer.Start(ctx, "billing.charge", trace.WithAttributes(
		attribute.String("billing.instance_id", row.ID),
		attribute.String("billing.organization_id", row.OrganizationID),
	))
	defer span.End()

	now := e.now().UTC()
	record := BillingCycleRecord{
		ID:             e.node.Generate().String(),
		RunID:          res.RunID,
		InstanceID:     row.ID,
		OrganizationID: row.OrganizationID,
		BilledAt:       now,
		AmountCharged:  decimal.Zero,
	}
	logger = logger.With(zap.String("instance_id", row.ID), zap.String("organization_id", row.OrganizationID))

	var written bool
	inst, err := row.Validate()
	switch {
	case err != nil:
		e.fail(res, &record, err)
		logger.Warn("instance skipped: invalid billing data", zap.Error(err))
	case inst.HourlyRate.IsZero():
		record.Status = RecordSkipped
		res.SkippedInstances = append(res.SkippedInstances, inst.ID)
		logger.Debug("instance has zero hourly rate")
	default:
		record.Status = RecordSuccess
		record.AmountCharged = inst.HourlyRate
		written, err = e.debit(ctx, inst, &record)
		if err != nil {
			record.AmountCharged = decimal.Zero
			e.fail(res, &record, err)
			if errors.Is(err, wallet.ErrInsufficientFunds) {
				logger.Warn("instance charge declined", zap.Error(err))
			} else {
				logger.Error("instance charge failed", zap.Error(err))
			}
			break
		}
		res.BilledInstances++
		res.TotalAmount = res.TotalAmount.Add(inst.HourlyRate)
		logger.Debug("instance charged", zap.String("amount", inst.HourlyRate.StringFixed(2)))
	}

	if record.Status == RecordFailed {
		span.SetStatus(codes.Error, record.ErrorMessage)
	}
	span.SetAttributes(attribute.String("billing.status", string(record.Status)))
	e.metrics.observeCharge(ctx, record.Status)

	if written {
		return
	}
	if err := e.db.WithContext(ctx).Create(&record).Error; err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("instance %s: write cycle record: %v", row.ID, err))
		logger.Error("failed to write billing cycle record", zap.Error(err))
	}
}

// debit charges one cycle. last_billed_at and the success record are written
// inside the same ledger transaction; written reports whether the record
// committed with it.
func (e *Executor) debit(ctx context.Context, inst instance.Instance, record *BillingCycleRecord) (written bool, err error) {
	ctx, cancel := context.WithTimeout(ctx, e.chargeTimeout)
	defer cancel()

	_, err = e.ledger.Debit(ctx, wallet.PostParams{
		OrganizationID: inst.OrganizationID,
		Amount:         inst.HourlyRate,
		Description:    fmt.Sprintf("hourly charge for instance %s", inst.ID),
		ReferenceID:    fmt.Sprintf("run:%s:instance:%s", record.RunID, inst.ID),
		Hook: func(tx *gorm.DB) error {
			if err := e.instances.MarkBilled(tx, inst.ID, record.BilledAt); err != nil {
				return err
			}
			if err := tx.Create(record).Error; err != nil {
				return fmt.Errorf("write cycle record: %w", err)
			}
			written = true
			return nil
		},
	})
	if err == nil {
		return written, nil
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("%w: %w", context.DeadlineExceeded, err)
	}
	return false, err
}

func (e *Executor) fail(res *RunResult, record *BillingCycleRecord, err error) {
	record.Status = RecordFailed
	record.ErrorMessage = err.Error()
	res.FailedInstances = append(res.FailedInstances, record.InstanceID)
	res.Errors = append(res.Errors, fmt.Sprintf("instance %s: %v", record.InstanceID, err))
}

func (e *Executor) finish(ctx context.Context, logger *zap.Logger, run *BillingRun, res *RunResult, status RunStatus, errMsg string) {
	metadata, _ := json.Marshal(map[string]any{
		"failed_instances":  res.FailedInstances,
		"skipped_instances": res.SkippedInstances,
		"errors":            res.Errors,
	})

	completedAt := res.CompletedAt
	updates := map[string]any{
		"status":           status,
		"instances_billed": res.BilledInstances,
		"instances_failed": len(res.FailedInstances),
		"total_amount":     res.TotalAmount,
		"error_msg":        errMsg,
		"completed_at":     &completedAt,
		"metadata":         datatypes.JSON(metadata),
	}
	if err := e.db.WithContext(ctx).Model(run).Updates(updates).Error; err != nil {
		logger.Error("failed to finalize billing run", zap.Error(err))
	}

	e.metrics.observeRun(ctx, res, status)

	logger.Info("billing cycle completed",
		zap.String("status", string(status)),
		zap.Int("instances_billed", res.BilledInstances),
		zap.Int("instances_failed", len(res.FailedInstances)),
		zap.Int("instances_skipped", len(res.SkippedInstances)),
		zap.String("total_amount", res.TotalAmount.StringFixed(2)),
		zap.Duration("duration", res.CompletedAt.Sub(res.StartedAt)),
	)

	if e.publisher == nil {
		return
	}
	ev := CycleCompleted{
		RunID:           res.RunID,
		Code:            res.Code,
		ExecutorID:      run.ExecutorID,
		Trigger:         res.Trigger,
		Status:          status,
		BilledInstances: res.BilledInstances,
		FailedInstances: len(res.FailedInstances),
		TotalAmount:     res.TotalAmount,
		CompletedAt:     res.CompletedAt,
	}
	if err := e.publisher.PublishCycle(ctx, ev); err != nil {
		logger.Warn("failed to publish cycle completed event", zap.Error(err))
	}
}

// Runs returns the most recent billing runs, newest first.
func (e *Executor) Runs(ctx context.Context, limit int) ([]BillingRun, error) {
	switch {
	case limit <= 0:
		limit = 20
	case limit > 100:
		limit = 100
	}
	var runs []BillingRun
	if err := e.db.WithContext(ctx).Order("started_at DESC").Limit(limit).Find(&runs).Error; err != nil {
		return nil, err
	}
	return runs, nil
}

// Records returns the audit rows of one run.
func (e *Executor) Records(ctx context.Context, runID string) ([]BillingCycleRecord, error) {
	var records []BillingCycleRecord
	if err := e.db.WithContext(ctx).Where("run_id = ?", runID).Order("billed_at ASC, id ASC").Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

package coordinator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"reseller-billing/pkg/config"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultActiveThreshold = 90 * time.Minute

type Service struct {
	db        *gorm.DB
	node      *snowflake.Node
	threshold time.Duration
	hostname  string
	now       func() time.Time
}

type ServiceParams struct {
	fx.In
	DB     *gorm.DB
	Node   *snowflake.Node
	Config *config.Config `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	threshold := defaultActiveThreshold
	if p.Config != nil && p.Config.Billing.ActiveThreshold > 0 {
		threshold = p.Config.Billing.ActiveThreshold
	}

	hostname, _ := os.Hostname()

	return &Service{
		db:        p.DB,
		node:      p.Node,
		threshold: threshold,
		hostname:  hostname,
		now:       time.Now,
	}
}

// Register creates a fresh executor identity in the starting state.
func (s *Service) Register(ctx context.Context, role Role) (*ExecutorHeartbeat, error) {
	now := s.now().UTC()
	hb := &ExecutorHeartbeat{
		ExecutorID:           s.node.Generate().String(),
		Role:                 role,
		Hostname:             s.hostname,
		Status:               StateStarting,
		StartedAt:            now,
		LastHeartbeatAt:      now,
		LastCycleTotalAmount: decimal.Zero,
	}
	if err := s.db.WithContext(ctx).Create(hb).Error; err != nil {
		return nil, fmt.Errorf("register %s executor: %w", role, err)
	}

	zap.L().Info("executor registered",
		zap.String("executor_id", hb.ExecutorID),
		zap.String("role", string(role)),
		zap.String("hostname", hb.Hostname),
	)
	return hb, nil
}

// Beat refreshes last_heartbeat_at of a live identity.
func (s *Service) Beat(ctx context.Context, executorID string) error {
	return s.update(ctx, executorID, map[string]any{
		"last_heartbeat_at": s.now().UTC(),
	})
}

// MarkStatus moves a live identity to state. Terminal identities are never
// changed again.
func (s *Service) MarkStatus(ctx context.Context, executorID string, state State) error {
	return s.update(ctx, executorID, map[string]any{
		"status":            state,
		"last_heartbeat_at": s.now().UTC(),
	})
}

// RecordCycle stores the outcome of a completed cycle on the executor row.
func (s *Service) RecordCycle(ctx context.Context, executorID string, sum CycleSummary) error {
	completedAt := sum.CompletedAt.UTC()
	updates := map[string]any{
		"last_cycle_at":               &completedAt,
		"last_cycle_instances_billed": sum.InstancesBilled,
		"last_cycle_total_amount":     sum.TotalAmount,
		"last_heartbeat_at":           s.now().UTC(),
	}
	if sum.Succeeded {
		updates["last_success_at"] = &completedAt
	}
	return s.update(ctx, executorID, updates)
}

func (s *Service) update(ctx context.Context, executorID string, updates map[string]any) error {
	res := s.db.WithContext(ctx).Model(&ExecutorHeartbeat{}).
		Where("executor_id = ? AND status IN ?", executorID, liveStates).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("%w: %w", ErrCoordinatorUnavailable, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrUnknownExecutor, executorID)
	}
	return nil
}

// IsPeerActive reports whether a live external executor has beaten within
// the active threshold. Store errors fail open and report false, so the
// embedded scheduler keeps billing.
func (s *Service) IsPeerActive(ctx context.Context) bool {
	cutoff := s.now().UTC().Add(-s.threshold)

	var count int64
	err := s.db.WithContext(ctx).Model(&ExecutorHeartbeat{}).
		Where("role = ? AND status IN ? AND last_heartbeat_at >= ?", RoleExternal, liveStates, cutoff).
		Count(&count).Error
	if err != nil {
		zap.L().Warn("peer check failed, assuming no active peer",
			zap.Error(fmt.Errorf("%w: %w", ErrCoordinatorUnavailable, err)),
		)
		return false
	}
	return count > 0
}

// Status summarises the most recent completed cycle across all executors.
func (s *Service) Status(ctx context.Context) (*Status, error) {
	db := s.db.WithContext(ctx)

	lastSuccess, err := s.lastSuccess(db)
	if err != nil {
		return nil, err
	}
	stale := lastSuccess == nil || s.now().UTC().Sub(lastSuccess.UTC()) > s.threshold

	var last ExecutorHeartbeat
	err = db.Where("last_cycle_at IS NOT NULL").Order("last_cycle_at DESC").Take(&last).Error
	switch {
	case err == nil:
		return &Status{
			Status:          string(last.Status),
			ExecutorID:      last.ExecutorID,
			Role:            last.Role,
			LastRunAt:       last.LastCycleAt,
			LastSuccessAt:   lastSuccess,
			InstancesBilled: last.LastCycleInstancesBilled,
			TotalAmount:     last.LastCycleTotalAmount,
			Stale:           stale,
		}, nil
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, fmt.Errorf("%w: %w", ErrCoordinatorUnavailable, err)
	}

	st := &Status{Status: "unknown", TotalAmount: decimal.Zero, Stale: true}

	var seen ExecutorHeartbeat
	err = db.Order("last_heartbeat_at DESC").Take(&seen).Error
	switch {
	case err == nil:
		st.Status = string(seen.Status)
		st.ExecutorID = seen.ExecutorID
		st.Role = seen.Role
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, fmt.Errorf("%w: %w", ErrCoordinatorUnavailable, err)
	}
	return st, nil
}

func (s *Service) lastSuccess(db *gorm.DB) (*time.Time, error) {
	var row ExecutorHeartbeat
	err := db.Where("last_success_at IS NOT NULL").Order("last_success_at DESC").Take(&row).Error
	switch {
	case err == nil:
		return row.LastSuccessAt, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: %w", ErrCoordinatorUnavailable, err)
	}
}

// Executors lists heartbeat rows, most recently seen first.
func (s *Service) Executors(ctx context.Context) ([]ExecutorHeartbeat, error) {
	var rows []ExecutorHeartbeat
	if err := s.db.WithContext(ctx).Order("last_heartbeat_at DESC").Limit(50).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCoordinatorUnavailable, err)
	}
	return rows, nil
}

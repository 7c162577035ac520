package bootstrap

import (
	"context"
	"fmt"

	"reseller-billing/services/billing"
	"reseller-billing/services/coordinator"
	"reseller-billing/services/instance"
	"reseller-billing/services/wallet"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Models lists every table the billing processes read or write.
func Models() []any {
	return []any{
		&wallet.WalletAccount{},
		&wallet.LedgerEntry{},
		&instance.ComputeInstance{},
		&billing.BillingRun{},
		&billing.BillingCycleRecord{},
		&coordinator.ExecutorHeartbeat{},
	}
}

type Service struct {
	db *gorm.DB
}

type ServiceParams struct {
	fx.In
	DB *gorm.DB
}

func NewService(p ServiceParams) *Service {
	return &Service{db: p.DB}
}

func (s *Service) Migrate(ctx context.Context) error {
	models := Models()
	if err := s.db.WithContext(ctx).AutoMigrate(models...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}

	zap.L().Info("[bootstrap] schema migrated", zap.Int("tables", len(models)))
	return nil
}

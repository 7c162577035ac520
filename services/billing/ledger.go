package billing

import (
	"context"
	"time"

	"reseller-billing/services/instance"
	"reseller-billing/services/wallet"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

//go:generate mockgen -source=ledger.go -destination=mock_ledger_test.go -package=billing

type Ledger interface {
	Debit(ctx context.Context, p wallet.PostParams) (decimal.Decimal, error)
}

type InstanceSource interface {
	ListActive(ctx context.Context) ([]instance.ComputeInstance, error)
	MarkBilled(tx *gorm.DB, id string, at time.Time) error
}

type CyclePublisher interface {
	PublishCycle(ctx context.Context, ev CycleCompleted) error
}

package instance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/fx"
	"gorm.io/gorm"
)

type Store struct {
	db *gorm.DB
}

type StoreParams struct {
	fx.In
	DB *gorm.DB
}

func NewStore(p StoreParams) *Store {
	return &Store{db: p.DB}
}

// ListActive returns a snapshot of every instance that is not soft deleted.
func (s *Store) ListActive(ctx context.Context) ([]ComputeInstance, error) {
	var rows []ComputeInstance
	if err := s.db.WithContext(ctx).Order("created_at ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list active instances: %w", err)
	}
	return rows, nil
}

func (s *Store) Get(ctx context.Context, id string) (*ComputeInstance, error) {
	var row ComputeInstance
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: instance %s not found", ErrInstanceDataUnavailable, id)
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// MarkBilled sets last_billed_at using tx, normally the ledger transaction of
// the matching debit. An instance deleted meanwhile is not updated and the
// call fails, which rolls that debit back.
func (s *Store) MarkBilled(tx *gorm.DB, id string, at time.Time) error {
	res := tx.Model(&ComputeInstance{}).Where("id = ?", id).Update("last_billed_at", at.UTC())
	if res.Error != nil {
		return fmt.Errorf("mark instance %s billed: %w", id, res.Error)
	}
	if res.RowsAffected != 1 {
		return fmt.Errorf("%w: instance %s is gone", ErrInstanceDataUnavailable, id)
	}
	return nil
}

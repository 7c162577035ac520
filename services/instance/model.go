package instance

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ComputeInstance is the billing view of a provisioned instance. Rows are
// created by provisioning; billing only writes last_billed_at.
type ComputeInstance struct {
	ID             string              `gorm:"column:id;primaryKey;type:varchar(64)"`
	OrganizationID string              `gorm:"column:organization_id;type:varchar(64);index"`
	HourlyRate     decimal.NullDecimal `gorm:"column:hourly_rate;type:decimal(20,4)"`
	LastBilledAt   *time.Time          `gorm:"column:last_billed_at"`
	CreatedAt      time.Time           `gorm:"column:created_at"`
	DeletedAt      gorm.DeletedAt      `gorm:"column:deleted_at;index"`
}

func (ComputeInstance) TableName() string { return "compute_instances" }

// Instance is a validated ComputeInstance, safe to bill.
type Instance struct {
	ID             string
	OrganizationID string
	HourlyRate     decimal.Decimal
	LastBilledAt   *time.Time
	CreatedAt      time.Time
}

// Validate converts a raw row into an Instance. Every failure wraps
// ErrInstanceDataUnavailable.
func (c *ComputeInstance) Validate() (Instance, error) {
	id := strings.TrimSpace(c.ID)
	if id == "" {
		return Instance{}, fmt.Errorf("%w: missing id", ErrInstanceDataUnavailable)
	}
	org := strings.TrimSpace(c.OrganizationID)
	if org == "" {
		return Instance{}, fmt.Errorf("%w: instance %s has no organization", ErrInstanceDataUnavailable, id)
	}
	if !c.HourlyRate.Valid {
		return Instance{}, fmt.Errorf("%w: instance %s has no hourly rate", ErrInstanceDataUnavailable, id)
	}
	if c.HourlyRate.Decimal.IsNegative() {
		return Instance{}, fmt.Errorf("%w: instance %s has negative hourly rate %s", ErrInstanceDataUnavailable, id, c.HourlyRate.Decimal)
	}

	return Instance{
		ID:             id,
		OrganizationID: org,
		HourlyRate:     c.HourlyRate.Decimal,
		LastBilledAt:   c.LastBilledAt,
		CreatedAt:      c.CreatedAt,
	}, nil
}

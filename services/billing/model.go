package billing

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type RecordStatus string

const (
	RecordSuccess RecordStatus = "success"
	RecordFailed  RecordStatus = "failed"
	RecordSkipped RecordStatus = "skipped"
)

type RunStatus string

const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunPartial RunStatus = "partial"
	RunFailed  RunStatus = "failed"
)

type TriggerKind string

const (
	TriggerScheduled TriggerKind = "scheduled"
	TriggerManual    TriggerKind = "manual"
)

// Trigger identifies who asked for a cycle.
type Trigger struct {
	Kind       TriggerKind
	ExecutorID string
}

// BillingRun is one execution of the cycle.
type BillingRun struct {
	ID              string          `gorm:"column:id;primaryKey;type:varchar(32)" json:"id"`
	Code            string          `gorm:"column:code;type:varchar(32);index" json:"code,omitempty"`
	ExecutorID      string          `gorm:"column:executor_id;type:varchar(32);index" json:"executor_id"`
	Trigger         TriggerKind     `gorm:"column:trigger_kind;type:varchar(20);not null" json:"trigger"`
	Status          RunStatus       `gorm:"column:status;type:varchar(20);not null;default:'running'" json:"status"`
	InstancesBilled int             `gorm:"column:instances_billed" json:"instances_billed"`
	InstancesFailed int             `gorm:"column:instances_failed" json:"instances_failed"`
	TotalAmount     decimal.Decimal `gorm:"column:total_amount;type:decimal(20,4)" json:"total_amount"`
	ErrorMsg        string          `gorm:"column:error_msg;type:text" json:"error_msg,omitempty"`
	StartedAt       time.Time       `gorm:"column:started_at" json:"started_at"`
	CompletedAt     *time.Time      `gorm:"column:completed_at" json:"completed_at"`
	Metadata        datatypes.JSON  `gorm:"column:metadata" json:"metadata,omitempty"`
}

func (BillingRun) TableName() string { return "billing_runs" }

// BillingCycleRecord is the audit row of one attempted charge.
type BillingCycleRecord struct {
	ID             string          `gorm:"column:id;primaryKey;type:varchar(32)" json:"id"`
	RunID          string          `gorm:"column:run_id;type:varchar(32);index" json:"run_id"`
	InstanceID     string          `gorm:"column:instance_id;type:varchar(64);index" json:"instance_id"`
	OrganizationID string          `gorm:"column:organization_id;type:varchar(64)" json:"organization_id"`
	BilledAt       time.Time       `gorm:"column:billed_at" json:"billed_at"`
	AmountCharged  decimal.Decimal `gorm:"column:amount_charged;type:decimal(20,4)" json:"amount_charged"`
	Status         RecordStatus    `gorm:"column:status;type:varchar(10);not null" json:"status"`
	ErrorMessage   string          `gorm:"column:error_message;type:text" json:"error_message,omitempty"`
}

func (BillingCycleRecord) TableName() string { return "billing_cycle_records" }

type RunResult struct {
	RunID            string          `json:"run_id"`
	Code             string          `json:"code,omitempty"`
	Trigger          TriggerKind     `json:"trigger"`
	StartedAt        time.Time       `json:"started_at"`
	CompletedAt      time.Time       `json:"completed_at"`
	BilledInstances  int             `json:"billed_instances"`
	TotalAmount      decimal.Decimal `json:"total_amount"`
	FailedInstances  []string        `json:"failed_instances"`
	SkippedInstances []string        `json:"skipped_instances"`
	Errors           []string        `json:"errors"`
}

func (r *RunResult) Status() RunStatus {
	switch {
	case len(r.FailedInstances) == 0:
		return RunSuccess
	case r.BilledInstances == 0:
		return RunFailed
	default:
		return RunPartial
	}
}

// CycleCompleted is published once per finished run.
type CycleCompleted struct {
	RunID           string          `json:"run_id"`
	Code            string          `json:"code,omitempty"`
	ExecutorID      string          `json:"executor_id"`
	Trigger         TriggerKind     `json:"trigger"`
	Status          RunStatus       `json:"status"`
	BilledInstances int             `json:"billed_instances"`
	FailedInstances int             `json:"failed_instances"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	CompletedAt     time.Time       `json:"completed_at"`
}

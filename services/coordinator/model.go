package coordinator

import (
	"time"

	"github.com/shopspring/decimal"
)

type Role string

const (
	RoleEmbedded Role = "embedded"
	RoleExternal Role = "external"
)

type State string

const (
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopped  State = "stopped"
	StateError    State = "error"
)

// Terminal reports whether no further transition is allowed.
func (s State) Terminal() bool {
	return s == StateStopped || s == StateError
}

var liveStates = []State{StateStarting, StateRunning}

// ExecutorHeartbeat is the liveness row of one executor identity. Only the
// process that registered it writes to it.
type ExecutorHeartbeat struct {
	ExecutorID               string          `gorm:"column:executor_id;primaryKey;type:varchar(32)" json:"executor_id"`
	Role                     Role            `gorm:"column:role;type:varchar(16);not null;index:idx_heartbeat_role_seen,priority:1" json:"role"`
	Hostname                 string          `gorm:"column:hostname;type:varchar(255)" json:"hostname"`
	Status                   State           `gorm:"column:status;type:varchar(16);not null" json:"status"`
	StartedAt                time.Time       `gorm:"column:started_at" json:"started_at"`
	LastHeartbeatAt          time.Time       `gorm:"column:last_heartbeat_at;index:idx_heartbeat_role_seen,priority:2" json:"last_heartbeat_at"`
	LastCycleAt              *time.Time      `gorm:"column:last_cycle_at;index" json:"last_cycle_at,omitempty"`
	LastCycleInstancesBilled int             `gorm:"column:last_cycle_instances_billed" json:"last_cycle_instances_billed"`
	LastCycleTotalAmount     decimal.Decimal `gorm:"column:last_cycle_total_amount;type:decimal(20,4)" json:"last_cycle_total_amount"`
	LastSuccessAt            *time.Time      `gorm:"column:last_success_at;index" json:"last_success_at,omitempty"`
}

func (ExecutorHeartbeat) TableName() string { return "executor_heartbeats" }

// CycleSummary is what an executor reports after a completed cycle.
// Succeeded is false when the run ended failed, i.e. every charge failed.
type CycleSummary struct {
	CompletedAt     time.Time
	InstancesBilled int
	TotalAmount     decimal.Decimal
	Succeeded       bool
}

// Status is the read model served to observability tooling. Stale is judged
// on the last successful cycle, so a run of failed cycles still goes stale.
type Status struct {
	Status          string          `json:"status"`
	ExecutorID      string          `json:"executor_id,omitempty"`
	Role            Role            `json:"role,omitempty"`
	LastRunAt       *time.Time      `json:"last_run_at"`
	LastSuccessAt   *time.Time      `json:"last_success_at"`
	InstancesBilled int             `json:"instances_billed"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	Stale           bool            `json:"stale"`
}

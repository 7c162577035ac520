package wallet

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type EntryKind string

const (
	KindCredit EntryKind = "credit"
	KindDebit  EntryKind = "debit"
)

// GenesisHash is the previous_hash of the first entry of every organization.
const GenesisHash = "GENESIS"

// WalletAccount is the running balance of one organization. It is written only
// inside Credit/Debit, in the same transaction that appends the entry.
type WalletAccount struct {
	OrganizationID string          `gorm:"column:organization_id;primaryKey;type:varchar(64)" json:"organization_id"`
	Balance        decimal.Decimal `gorm:"column:balance;type:decimal(20,4);not null" json:"balance"`
	Currency       string          `gorm:"column:currency;type:varchar(3);not null" json:"currency"`
	EntryCount     int64           `gorm:"column:entry_count;not null" json:"entry_count"`
	LastEntryHash  string          `gorm:"column:last_entry_hash;type:varchar(64)" json:"last_entry_hash"`
	CreatedAt      time.Time       `gorm:"column:created_at" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"column:updated_at" json:"updated_at"`
}

func (WalletAccount) TableName() string { return "wallet_accounts" }

type LedgerEntry struct {
	ID             string          `gorm:"column:id;primaryKey;type:varchar(32)" json:"id"`
	OrganizationID string          `gorm:"column:organization_id;type:varchar(64);not null;uniqueIndex:idx_ledger_org_seq,priority:1;index:idx_ledger_org_ref,priority:1" json:"organization_id"`
	Sequence       int64           `gorm:"column:sequence;not null;uniqueIndex:idx_ledger_org_seq,priority:2" json:"sequence"`
	Kind           EntryKind       `gorm:"column:kind;type:varchar(10);not null" json:"kind"`
	Amount         decimal.Decimal `gorm:"column:amount;type:decimal(20,4);not null" json:"amount"`
	BalanceAfter   decimal.Decimal `gorm:"column:balance_after;type:decimal(20,4);not null" json:"balance_after"`
	Description    string          `gorm:"column:description;type:text" json:"description"`
	ReferenceID    string          `gorm:"column:reference_id;type:varchar(128);index:idx_ledger_org_ref,priority:2" json:"reference_id"`
	PreviousHash   string          `gorm:"column:previous_hash;type:varchar(64)" json:"previous_hash"`
	Hash           string          `gorm:"column:hash;type:varchar(64)" json:"hash"`
	CreatedAt      time.Time       `gorm:"column:created_at" json:"created_at"`
}

func (LedgerEntry) TableName() string { return "ledger_entries" }

// BeforeUpdate keeps entries append-only at the ORM level.
func (e *LedgerEntry) BeforeUpdate(*gorm.DB) error {
	return fmt.Errorf("ledger entry %s is immutable", e.ID)
}

// BeforeDelete keeps entries append-only at the ORM level.
func (e *LedgerEntry) BeforeDelete(*gorm.DB) error {
	return fmt.Errorf("ledger entry %s is immutable", e.ID)
}

func (e *LedgerEntry) HashFields() map[string]string {
	return map[string]string{
		"id":              e.ID,
		"organization_id": e.OrganizationID,
		"sequence":        fmt.Sprintf("%d", e.Sequence),
		"kind":            string(e.Kind),
		"amount":          e.Amount.StringFixed(4),
		"balance_after":   e.BalanceAfter.StringFixed(4),
		"reference_id":    e.ReferenceID,
		"description":     e.Description,
		"created_at":      e.CreatedAt.UTC().Format(time.RFC3339Nano),
		"previous_hash":   e.PreviousHash,
	}
}

func (e *LedgerEntry) GenerateHash() string {
	fields := e.HashFields()
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, fields[k]))
	}

	hash := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(hash[:])
}

// PostParams describes one credit or debit.
type PostParams struct {
	OrganizationID string
	Amount         decimal.Decimal
	Description    string
	ReferenceID    string

	// Hook runs inside the posting transaction after the entry is appended.
	// Returning an error rolls back the entry and the balance change.
	Hook func(tx *gorm.DB) error
}

type ReconcileReport struct {
	OrganizationID string          `json:"organization_id"`
	Balance        decimal.Decimal `json:"balance"`
	EntrySum       decimal.Decimal `json:"entry_sum"`
	Entries        int64           `json:"entries"`
	Consistent     bool            `json:"consistent"`
}

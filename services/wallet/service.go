package wallet

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"reseller-billing/pkg/config"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Service struct {
	db       *gorm.DB
	node     *snowflake.Node
	currency string
	now      func() time.Time

	mapMu sync.Mutex
	muMap map[string]*sync.Mutex
}

type ServiceParams struct {
	fx.In
	DB     *gorm.DB
	Node   *snowflake.Node
	Config *config.Config `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	currency := "USD"
	if p.Config != nil && p.Config.Billing.Currency != "" {
		currency = strings.ToUpper(p.Config.Billing.Currency)
	}

	return &Service{
		db:       p.DB,
		node:     p.Node,
		currency: currency,
		now:      time.Now,
		muMap:    make(map[string]*sync.Mutex),
	}
}

// orgLock serializes posts for one organization inside this process. The row
// lock taken in the transaction covers other processes.
func (s *Service) orgLock(organizationID string) *sync.Mutex {
	s.mapMu.Lock()
	defer s.mapMu.Unlock()

	mu, ok := s.muMap[organizationID]
	if !ok {
		mu = &sync.Mutex{}
		s.muMap[organizationID] = mu
	}
	return mu
}

// Credit appends a credit entry and returns the new balance.
func (s *Service) Credit(ctx context.Context, p PostParams) (decimal.Decimal, error) {
	entry, err := s.post(ctx, KindCredit, p)
	if err != nil {
		return decimal.Zero, err
	}
	return entry.BalanceAfter, nil
}

// Debit appends a debit entry and returns the new balance. It fails with
// ErrInsufficientFunds when the balance does not cover the full amount.
func (s *Service) Debit(ctx context.Context, p PostParams) (decimal.Decimal, error) {
	entry, err := s.post(ctx, KindDebit, p)
	if err != nil {
		return decimal.Zero, err
	}
	return entry.BalanceAfter, nil
}

func (s *Service) post(ctx context.Context, kind EntryKind, p PostParams) (*LedgerEntry, error) {
	if strings.TrimSpace(p.OrganizationID) == "" {
		return nil, ErrInvalidOrganization
	}
	if !p.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	logger := zap.L().With(
		zap.String("organization_id", p.OrganizationID),
		zap.String("kind", string(kind)),
		zap.String("amount", p.Amount.String()),
		zap.String("reference_id", p.ReferenceID),
	)
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		logger = logger.With(zap.String("trace_id", sc.TraceID().String()))
	}

	mu := s.orgLock(p.OrganizationID)
	mu.Lock()
	defer mu.Unlock()

	var entry *LedgerEntry
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		account, err := s.lockAccount(tx, p.OrganizationID)
		if err != nil {
			return err
		}

		if p.ReferenceID != "" {
			var count int64
			if err := tx.Model(&LedgerEntry{}).
				Where("organization_id = ? AND kind = ? AND reference_id = ?", p.OrganizationID, kind, p.ReferenceID).
				Count(&count).Error; err != nil {
				return fmt.Errorf("%w: %w", ErrLedgerWrite, err)
			}
			if count > 0 {
				return ErrDuplicateReference
			}
		}

		signed := p.Amount
		if kind == KindDebit {
			if account.Balance.LessThan(p.Amount) {
				return fmt.Errorf("%w: balance=%s amount=%s", ErrInsufficientFunds, account.Balance.StringFixed(2), p.Amount.StringFixed(2))
			}
			signed = p.Amount.Neg()
		}

		now := s.now().UTC().Truncate(time.Millisecond)
		entry = &LedgerEntry{
			ID:             s.node.Generate().String(),
			OrganizationID: p.OrganizationID,
			Sequence:       account.EntryCount + 1,
			Kind:           kind,
			Amount:         signed,
			BalanceAfter:   account.Balance.Add(signed),
			Description:    p.Description,
			ReferenceID:    p.ReferenceID,
			PreviousHash:   account.LastEntryHash,
			CreatedAt:      now,
		}
		entry.Hash = entry.GenerateHash()

		if err := tx.Create(entry).Error; err != nil {
			return fmt.Errorf("%w: %w", ErrLedgerWrite, err)
		}

		res := tx.Model(&WalletAccount{}).
			Where("organization_id = ? AND entry_count = ?", account.OrganizationID, account.EntryCount).
			Updates(map[string]any{
				"balance":         entry.BalanceAfter,
				"entry_count":     entry.Sequence,
				"last_entry_hash": entry.Hash,
				"updated_at":      now,
			})
		if res.Error != nil {
			return fmt.Errorf("%w: %w", ErrLedgerWrite, res.Error)
		}
		if res.RowsAffected != 1 {
			return fmt.Errorf("%w: %w", ErrLedgerWrite, ErrConcurrentPost)
		}

		if p.Hook != nil {
			return p.Hook(tx)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrInsufficientFunds) || errors.Is(err, ErrDuplicateReference) {
			logger.Warn("ledger post rejected", zap.Error(err))
		} else {
			logger.Error("ledger post failed", zap.Error(err))
		}
		return nil, err
	}

	logger.Debug("ledger entry appended",
		zap.String("entry_id", entry.ID),
		zap.String("balance_after", entry.BalanceAfter.String()),
	)
	return entry, nil
}

// lockAccount loads the account row FOR UPDATE, creating an empty one first
// if the organization has never been posted to.
func (s *Service) lockAccount(tx *gorm.DB, organizationID string) (*WalletAccount, error) {
	var account WalletAccount
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("organization_id = ?", organizationID).
		Take(&account).Error
	if err == nil {
		return &account, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %w", ErrLedgerWrite, err)
	}

	now := s.now().UTC()
	account = WalletAccount{
		OrganizationID: organizationID,
		Balance:        decimal.Zero,
		Currency:       s.currency,
		LastEntryHash:  GenesisHash,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&account).Error; err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLedgerWrite, err)
	}

	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("organization_id = ?", organizationID).
		Take(&account).Error; err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLedgerWrite, err)
	}
	return &account, nil
}

// GetBalance returns the stored balance, zero for unknown organizations.
func (s *Service) GetBalance(ctx context.Context, organizationID string) (decimal.Decimal, error) {
	account, err := s.GetAccount(ctx, organizationID)
	if err != nil {
		return decimal.Zero, err
	}
	if account == nil {
		return decimal.Zero, nil
	}
	return account.Balance, nil
}

func (s *Service) GetAccount(ctx context.Context, organizationID string) (*WalletAccount, error) {
	var account WalletAccount
	err := s.db.WithContext(ctx).Where("organization_id = ?", organizationID).Take(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// ListEntries returns the organization's entries in posting order.
func (s *Service) ListEntries(ctx context.Context, organizationID string) ([]LedgerEntry, error) {
	var entries []LedgerEntry
	if err := s.db.WithContext(ctx).
		Where("organization_id = ?", organizationID).
		Order("sequence ASC").
		Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

// Reconcile recomputes the sum of all entries and compares it with the stored
// balance.
func (s *Service) Reconcile(ctx context.Context, organizationID string) (*ReconcileReport, error) {
	entries, err := s.ListEntries(ctx, organizationID)
	if err != nil {
		return nil, err
	}

	balance, err := s.GetBalance(ctx, organizationID)
	if err != nil {
		return nil, err
	}

	sum := decimal.Zero
	for _, e := range entries {
		sum = sum.Add(e.Amount)
	}

	report := &ReconcileReport{
		OrganizationID: organizationID,
		Balance:        balance,
		EntrySum:       sum,
		Entries:        int64(len(entries)),
		Consistent:     sum.Equal(balance),
	}
	if !report.Consistent {
		zap.L().Error("wallet balance does not match ledger",
			zap.String("organization_id", organizationID),
			zap.String("balance", balance.String()),
			zap.String("entry_sum", sum.String()),
		)
	}
	return report, nil
}

// VerifyChain checks the hash chain and the running balances of an
// organization's entries.
func (s *Service) VerifyChain(ctx context.Context, organizationID string) (bool, error) {
	entries, err := s.ListEntries(ctx, organizationID)
	if err != nil {
		return false, err
	}

	previous := GenesisHash
	running := decimal.Zero
	for i := range entries {
		e := &entries[i]
		running = running.Add(e.Amount)
		if e.PreviousHash != previous || e.GenerateHash() != e.Hash || !running.Equal(e.BalanceAfter) {
			zap.L().Warn("ledger chain broken",
				zap.String("organization_id", organizationID),
				zap.String("entry_id", e.ID),
				zap.Int64("sequence", e.Sequence),
			)
			return false, nil
		}
		previous = e.Hash
	}
	return true, nil
}

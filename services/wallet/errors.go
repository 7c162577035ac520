package wallet

import "errors"

var (
	ErrInsufficientFunds   = errors.New("wallet: insufficient funds")
	ErrInvalidAmount       = errors.New("wallet: amount must be greater than zero")
	ErrInvalidOrganization = errors.New("wallet: organization id is required")
	ErrDuplicateReference  = errors.New("wallet: reference_id already exists")
	ErrLedgerWrite         = errors.New("wallet: ledger write failed")
	ErrConcurrentPost      = errors.New("wallet: account changed during posting")
)

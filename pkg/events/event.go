package events

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

var ErrInvalidEvent = errors.New("events: invalid credit event")

// CreditEvent is a confirmed payment published by the payment gateway.
type CreditEvent struct {
	OrganizationID string          `json:"organization_id"`
	Amount         decimal.Decimal `json:"amount"`
	ReferenceID    string          `json:"reference_id"`
	Description    string          `json:"description,omitempty"`
}

func (e CreditEvent) Validate() error {
	switch {
	case strings.TrimSpace(e.OrganizationID) == "":
		return errors.Join(ErrInvalidEvent, errors.New("organization_id is required"))
	case strings.TrimSpace(e.ReferenceID) == "":
		return errors.Join(ErrInvalidEvent, errors.New("reference_id is required"))
	case !e.Amount.IsPositive():
		return errors.Join(ErrInvalidEvent, errors.New("amount must be positive"))
	}
	return nil
}

package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"reseller-billing/services/wallet"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Crediter interface {
	Credit(ctx context.Context, p wallet.PostParams) (decimal.Decimal, error)
}

// CreditConsumer applies payment events to wallets. A message is committed
// once it is credited, found to be a duplicate, or rejected as malformed.
// Transient wallet failures are retried until ctx ends, so the partition
// stalls instead of dropping money.
type CreditConsumer struct {
	reader     messageReader
	crediter   Crediter
	minBackoff time.Duration
	maxBackoff time.Duration
}

func NewCreditConsumer(reader messageReader, crediter Crediter) *CreditConsumer {
	return &CreditConsumer{
		reader:     reader,
		crediter:   crediter,
		minBackoff: 500 * time.Millisecond,
		maxBackoff: 30 * time.Second,
	}
}

func (c *CreditConsumer) Run(ctx context.Context) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("fetch credit event: %w", err)
		}

		if err := c.handle(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("commit credit event: %w", err)
		}
	}
}

func (c *CreditConsumer) handle(ctx context.Context, msg kafka.Message) error {
	logger := zap.L().With(
		zap.String("topic", msg.Topic),
		zap.Int("partition", msg.Partition),
		zap.Int64("offset", msg.Offset),
	)

	var ev CreditEvent
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		logger.Error("dropping undecodable credit event", zap.Error(err))
		return nil
	}
	if err := ev.Validate(); err != nil {
		logger.Error("dropping invalid credit event", zap.Error(err))
		return nil
	}

	logger = logger.With(
		zap.String("organization_id", ev.OrganizationID),
		zap.String("reference_id", ev.ReferenceID),
	)

	backoff := c.minBackoff
	for attempt := 1; ; attempt++ {
		balance, err := c.crediter.Credit(ctx, wallet.PostParams{
			OrganizationID: ev.OrganizationID,
			Amount:         ev.Amount,
			Description:    ev.Description,
			ReferenceID:    ev.ReferenceID,
		})
		switch {
		case err == nil:
			logger.Info("wallet credited",
				zap.String("amount", ev.Amount.StringFixed(2)),
				zap.String("balance", balance.StringFixed(2)),
			)
			return nil
		case errors.Is(err, wallet.ErrDuplicateReference):
			logger.Info("credit event already applied")
			return nil
		case errors.Is(err, wallet.ErrInvalidAmount), errors.Is(err, wallet.ErrInvalidOrganization):
			logger.Error("dropping rejected credit event", zap.Error(err))
			return nil
		}

		logger.Warn("credit failed, retrying", zap.Int("attempt", attempt), zap.Duration("backoff", backoff), zap.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, c.maxBackoff)
	}
}

func (c *CreditConsumer) Close() error {
	return c.reader.Close()
}

package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"reseller-billing/services/testutil"
	"reseller-billing/services/wallet"

	"github.com/bwmarrin/snowflake"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type fakeReader struct {
	mu        sync.Mutex
	pending   []kafka.Message
	committed []int64
	drained   chan struct{}
}

func newFakeReader(msgs ...kafka.Message) *fakeReader {
	for i := range msgs {
		msgs[i].Offset = int64(i)
		msgs[i].Topic = "wallet.credits"
	}
	return &fakeReader{pending: msgs, drained: make(chan struct{})}
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.pending) > 0 {
		msg := r.pending[0]
		r.pending = r.pending[1:]
		r.mu.Unlock()
		return msg, nil
	}
	r.mu.Unlock()

	select {
	case <-r.drained:
	default:
		close(r.drained)
	}
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

func (r *fakeReader) commits() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

func message(t *testing.T, ev CreditEvent) kafka.Message {
	t.Helper()
	body, err := json.Marshal(ev)
	require.NoError(t, err)
	return kafka.Message{Value: body}
}

func runUntilDrained(t *testing.T, c *CreditConsumer, r *fakeReader) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	select {
	case <-r.drained:
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not drain the topic")
	}
	cancel()
	require.NoError(t, <-done)
}

func TestCreditConsumerAppliesCredits(t *testing.T) {
	db := testutil.NewTestDB(t, &wallet.WalletAccount{}, &wallet.LedgerEntry{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	ws := wallet.NewService(wallet.ServiceParams{DB: db, Node: node})

	reader := newFakeReader(
		message(t, CreditEvent{OrganizationID: "org-1", Amount: decimal.NewFromInt(50), ReferenceID: "pay-1"}),
		message(t, CreditEvent{OrganizationID: "org-1", Amount: decimal.NewFromInt(50), ReferenceID: "pay-1"}),
		kafka.Message{Value: []byte("{not json")},
		message(t, CreditEvent{OrganizationID: "org-1", Amount: decimal.NewFromInt(-5), ReferenceID: "pay-2"}),
		message(t, CreditEvent{OrganizationID: "org-1", Amount: decimal.RequireFromString("12.50"), ReferenceID: "pay-3"}),
	)

	runUntilDrained(t, NewCreditConsumer(reader, ws), reader)

	require.Equal(t, []int64{0, 1, 2, 3, 4}, reader.commits())

	balance, err := ws.GetBalance(context.Background(), "org-1")
	require.NoError(t, err)
	require.True(t, balance.Equal(decimal.RequireFromString("62.50")), balance.String())

	entries, err := ws.ListEntries(context.Background(), "org-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
}

type flakyCrediter struct {
	mu    sync.Mutex
	fails int
	calls int
}

func (f *flakyCrediter) Credit(ctx context.Context, p wallet.PostParams) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.fails {
		return decimal.Zero, wallet.ErrLedgerWrite
	}
	return p.Amount, nil
}

func TestCreditConsumerRetriesTransientFailures(t *testing.T) {
	crediter := &flakyCrediter{fails: 2}
	reader := newFakeReader(message(t, CreditEvent{OrganizationID: "org-1", Amount: decimal.NewFromInt(10), ReferenceID: "pay-1"}))

	c := NewCreditConsumer(reader, crediter)
	c.minBackoff = time.Millisecond
	runUntilDrained(t, c, reader)

	require.Equal(t, 3, crediter.calls)
	require.Equal(t, []int64{0}, reader.commits())
}

func TestCreditConsumerDoesNotCommitOnShutdown(t *testing.T) {
	crediter := &flakyCrediter{fails: 1 << 30}
	reader := newFakeReader(message(t, CreditEvent{OrganizationID: "org-1", Amount: decimal.NewFromInt(10), ReferenceID: "pay-1"}))

	c := NewCreditConsumer(reader, crediter)
	c.minBackoff = 5 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.NoError(t, c.Run(ctx))
	require.Empty(t, reader.commits())
}

func TestCreditEventValidate(t *testing.T) {
	tests := []struct {
		name string
		ev   CreditEvent
		ok   bool
	}{
		{name: "valid", ev: CreditEvent{OrganizationID: "org-1", Amount: decimal.NewFromInt(1), ReferenceID: "r"}, ok: true},
		{name: "no_org", ev: CreditEvent{Amount: decimal.NewFromInt(1), ReferenceID: "r"}},
		{name: "no_reference", ev: CreditEvent{OrganizationID: "org-1", Amount: decimal.NewFromInt(1)}},
		{name: "zero_amount", ev: CreditEvent{OrganizationID: "org-1", ReferenceID: "r"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.ev.Validate()
			if tt.ok {
				require.NoError(t, err)
				return
			}
			require.True(t, errors.Is(err, ErrInvalidEvent))
		})
	}
}

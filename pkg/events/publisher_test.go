package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"reseller-billing/services/billing"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	err  error
	msgs []kafka.Message
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestPublishCycle(t *testing.T) {
	w := &fakeWriter{}
	p := &Publisher{writer: w}

	ev := billing.CycleCompleted{
		RunID:           "run-1",
		Trigger:         billing.TriggerScheduled,
		Status:          billing.RunSuccess,
		BilledInstances: 2,
		TotalAmount:     decimal.RequireFromString("25.00"),
		CompletedAt:     time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, p.PublishCycle(context.Background(), ev))
	require.Len(t, w.msgs, 1)
	require.Equal(t, "run-1", string(w.msgs[0].Key))

	var got billing.CycleCompleted
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &got))
	require.Equal(t, 2, got.BilledInstances)
	require.True(t, got.TotalAmount.Equal(decimal.NewFromInt(25)))

	w.err = errors.New("leader not available")
	require.ErrorIs(t, p.PublishCycle(context.Background(), ev), w.err)
}

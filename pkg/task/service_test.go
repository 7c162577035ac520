package task

import (
	"context"
	"testing"

	"reseller-billing/pkg/taskname"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestBillingCycleTaskRoundTrip(t *testing.T) {
	task, err := NewBillingCycleTask(BillingCyclePayload{RequestedBy: "ops@example.com", Reason: "backfill"})
	require.NoError(t, err)
	require.Equal(t, taskname.BillingCycleRun, task.Type())

	p, err := ParseBillingCyclePayload(task)
	require.NoError(t, err)
	require.Equal(t, "ops@example.com", p.RequestedBy)
	require.False(t, p.RequestedAt.IsZero())

	_, err = ParseBillingCyclePayload(asynq.NewTask(taskname.BillingCycleRun, []byte("{")))
	require.Error(t, err)
}

func TestEnqueueBillingCycle(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	client := asynq.NewClientFromRedisClient(rdb)
	t.Cleanup(func() { _ = rdb.Close() })

	task, err := NewBillingCycleTask(BillingCyclePayload{RequestedBy: "billingctl"})
	require.NoError(t, err)

	info, err := NewEnqueuer(client).Enqueue(context.Background(), task)
	require.NoError(t, err)
	require.Equal(t, taskname.BillingCycleRun, info.Type)
	require.Equal(t, taskname.QueueCritical, info.Queue)
	require.Equal(t, 0, info.MaxRetry)
	require.Equal(t, asynq.TaskStatePending, info.State)
}

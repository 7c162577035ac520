package task

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"reseller-billing/pkg/taskname"

	"github.com/hibiken/asynq"
)

type Enqueuer interface {
	Enqueue(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

type enqueuerImpl struct {
	client *asynq.Client
}

// NewEnqueuer creates a new Enqueuer instance using asynq.Client.
func NewEnqueuer(client *asynq.Client) Enqueuer {
	return &enqueuerImpl{client: client}
}

func (e *enqueuerImpl) Enqueue(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	info, err := e.client.EnqueueContext(ctx, task, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue task: %w", err)
	}
	return info, nil
}

// BillingCyclePayload is the body of a manual billing trigger.
type BillingCyclePayload struct {
	RequestedBy string    `json:"requested_by"`
	Reason      string    `json:"reason,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
}

// NewBillingCycleTask builds a manual trigger. Manual runs are not retried:
// a retried run would charge every instance again.
func NewBillingCycleTask(p BillingCyclePayload) (*asynq.Task, error) {
	if p.RequestedAt.IsZero() {
		p.RequestedAt = time.Now().UTC()
	}
	body, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskname.BillingCycleRun, body,
		asynq.Queue(taskname.QueueCritical),
		asynq.MaxRetry(0),
		asynq.Timeout(time.Hour),
	), nil
}

func ParseBillingCyclePayload(t *asynq.Task) (BillingCyclePayload, error) {
	var p BillingCyclePayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return p, fmt.Errorf("decode %s payload: %w", t.Type(), err)
	}
	return p, nil
}

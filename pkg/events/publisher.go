package events

import (
	"context"
	"encoding/json"
	"fmt"

	"reseller-billing/services/billing"

	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher emits one CycleCompleted message per billing run, keyed by run id.
type Publisher struct {
	writer messageWriter
}

func NewPublisher(brokers []string, topic string) *Publisher {
	return &Publisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
		},
	}
}

func (p *Publisher) PublishCycle(ctx context.Context, ev billing.CycleCompleted) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	if err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.RunID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte("billing.cycle.completed")},
		},
	}); err != nil {
		return fmt.Errorf("publish cycle %s: %w", ev.RunID, err)
	}
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

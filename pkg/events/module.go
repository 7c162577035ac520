package events

import (
	"context"

	"reseller-billing/pkg/config"
	"reseller-billing/services/billing"
	"reseller-billing/services/wallet"

	"github.com/segmentio/kafka-go"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Publishing provides the billing.CyclePublisher. Without KAFKA.ADDR the
// executor gets no publisher and skips the event.
var Publishing = fx.Module("events.publisher",
	fx.Provide(newCyclePublisher),
)

// Consuming runs the wallet credit consumer for the lifetime of the app.
var Consuming = fx.Module("events.consumer",
	fx.Invoke(registerCreditConsumer),
)

func newCyclePublisher(lc fx.Lifecycle, cfg *config.Config) billing.CyclePublisher {
	brokers := cfg.KafkaBrokers()
	if len(brokers) == 0 {
		zap.L().Info("kafka disabled, cycle events will not be published")
		return nil
	}

	p := NewPublisher(brokers, cfg.Kafka.CycleTopic)
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return p.Close()
		},
	})
	return p
}

func registerCreditConsumer(lc fx.Lifecycle, cfg *config.Config, ws *wallet.Service, shutdowner fx.Shutdowner) {
	brokers := cfg.KafkaBrokers()
	if len(brokers) == 0 {
		zap.L().Info("kafka disabled, credit consumer not started")
		return
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		GroupID:  cfg.Kafka.GroupID,
		Topic:    cfg.Kafka.CreditTopic,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	consumer := NewCreditConsumer(reader, ws)

	var (
		cancel context.CancelFunc
		g      *errgroup.Group
	)

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			var ctx context.Context
			ctx, cancel = context.WithCancel(context.Background())
			g, ctx = errgroup.WithContext(ctx)
			g.Go(func() error {
				err := consumer.Run(ctx)
				if err != nil {
					zap.L().Error("credit consumer stopped", zap.Error(err))
					_ = shutdowner.Shutdown(fx.ExitCode(1))
				}
				return err
			})

			zap.L().Info("credit consumer started",
				zap.Strings("brokers", brokers),
				zap.String("topic", cfg.Kafka.CreditTopic),
				zap.String("group_id", cfg.Kafka.GroupID),
			)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			err := g.Wait()
			if cerr := consumer.Close(); cerr != nil {
				zap.L().Warn("failed to close kafka reader", zap.Error(cerr))
			}
			return err
		},
	})
}

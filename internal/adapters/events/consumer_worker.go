package events

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/viralforge/escrow-commission-engine/internal/domain"
)

type Message struct {
	Topic   string
	Key     string
	Payload []byte
}

type Consumer interface {
	Poll(ctx context.Context, max int) ([]Message, error)
}

// InboundHandler applies events produced by other services.
type InboundHandler interface {
	HandleDisputeOpened(ctx context.Context, payload []byte) error
}

type ConsumerWorker struct {
	logger       *slog.Logger
	consumer     Consumer
	handler      InboundHandler
	disputeTopic string
	interval     time.Duration
}

func NewConsumerWorker(logger *slog.Logger, consumer Consumer, handler InboundHandler, disputeTopic string, interval time.Duration) *ConsumerWorker {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if disputeTopic == "" {
		disputeTopic = domain.EventDisputeOpened
	}
	return &ConsumerWorker{
		logger: logger, consumer: consumer, handler: handler, disputeTopic: disputeTopic, interval: interval,
	}
}

func (w *ConsumerWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		if _, err := w.processOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			w.logger.ErrorContext(ctx, "consumer iteration failed",
				"module", "events.consumer_worker",
				"layer", "adapter",
				"operation", "process_once",
				"outcome", "failure",
				"error", err,
			)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// processOnce returns the number of messages handled without error.
func (w *ConsumerWorker) processOnce(ctx context.Context) (int, error) {
	msgs, err := w.consumer.Poll(ctx, 50)
	if err != nil {
		return 0, err
	}
	handled := 0
	for _, msg := range msgs {
		switch msg.Topic {
		case w.disputeTopic:
			if err := w.handler.HandleDisputeOpened(ctx, msg.Payload); err != nil {
				w.logger.WarnContext(ctx, "failed to handle dispute.opened",
					"module", "events.consumer_worker",
					"layer", "adapter",
					"operation", "handle_dispute_opened",
					"outcome", "failure",
					"partition_key", msg.Key,
					"error", err,
				)
				continue
			}
			handled++
		default:
			w.logger.DebugContext(ctx, "ignoring message from unexpected topic",
				"module", "events.consumer_worker",
				"layer", "adapter",
				"operation", "process_once",
				"outcome", "skipped",
				"topic", msg.Topic,
			)
		}
	}
	return handled, nil
}

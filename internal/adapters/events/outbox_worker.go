package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/viralforge/escrow-commission-engine/internal/ports"
)

// OutboxWorker relays ledger events written inside escrow units to the
// broker. Each pass claims a batch under a fresh token; a record whose
// delivery keeps failing is parked as dead-lettered after maxRetries.
type OutboxWorker struct {
	logger     *slog.Logger
	outbox     ports.OutboxRepository
	publisher  ports.EventPublisher
	interval   time.Duration
	batchSize  int
	claimTTL   time.Duration
	maxRetries int
}

func NewOutboxWorker(
	logger *slog.Logger,
	outbox ports.OutboxRepository,
	publisher ports.EventPublisher,
	interval time.Duration,
	batchSize int,
	claimTTL time.Duration,
	maxRetries int,
) *OutboxWorker {
	w := &OutboxWorker{
		logger:     logger.With("module", "events.outbox_relay", "layer", "adapter"),
		outbox:     outbox,
		publisher:  publisher,
		interval:   interval,
		batchSize:  batchSize,
		claimTTL:   claimTTL,
		maxRetries: maxRetries,
	}
	if w.interval <= 0 {
		w.interval = 2 * time.Second
	}
	if w.batchSize <= 0 {
		w.batchSize = 100
	}
	if w.claimTTL <= 0 {
		w.claimTTL = 30 * time.Second
	}
	if w.maxRetries <= 0 {
		w.maxRetries = 5
	}
	return w
}

// Run relays until ctx is cancelled. A failed pass is logged and retried on
// the next tick.
func (w *OutboxWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		if _, err := w.ProcessOnce(ctx); err != nil {
			w.logger.ErrorContext(ctx, "ledger event relay pass failed",
				"operation", "relay_pass",
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

type OutboxBatchResult struct {
	Claimed      int
	Published    int
	Failed       int
	DeadLettered int
}

type deliveryOutcome int

const (
	delivered deliveryOutcome = iota
	retryLater
	parked
)

// ProcessOnce claims one batch and attempts delivery of every record in it.
func (w *OutboxWorker) ProcessOnce(ctx context.Context) (OutboxBatchResult, error) {
	token := uuid.NewString()
	batch, err := w.outbox.ClaimUnpublished(ctx, w.batchSize, token, time.Now().UTC().Add(w.claimTTL))
	if err != nil {
		return OutboxBatchResult{}, err
	}

	result := OutboxBatchResult{Claimed: len(batch)}
	for _, rec := range batch {
		switch w.deliver(ctx, token, rec) {
		case delivered:
			result.Published++
		case retryLater:
			result.Failed++
		case parked:
			result.DeadLettered++
			if rec.RetryCount < w.maxRetries {
				result.Failed++
			}
		}
	}
	if result.Claimed > 0 {
		w.logger.InfoContext(ctx, "ledger events relayed",
			"operation", "relay_pass",
			"outcome", "success",
			"claimed", result.Claimed,
			"published", result.Published,
			"failed", result.Failed,
			"dead_lettered", result.DeadLettered,
		)
	}
	return result, nil
}

func (w *OutboxWorker) deliver(ctx context.Context, token string, rec ports.OutboxRecord) deliveryOutcome {
	now := time.Now().UTC()
	if rec.RetryCount >= w.maxRetries {
		w.settle(ctx, "park_event", rec, w.outbox.MarkDeadLettered(ctx, rec.OutboxID, token, "retry budget exhausted before delivery", now))
		return parked
	}

	err := w.publisher.Publish(ctx, rec.EventType, rec.Payload, rec.PartitionKey)
	if err == nil {
		w.settle(ctx, "confirm_event", rec, w.outbox.MarkPublished(ctx, rec.OutboxID, token, now))
		return delivered
	}

	attempts := rec.RetryCount + 1
	fields := []any{
		"operation", "publish_event",
		"outcome", "failure",
		"outbox_id", rec.OutboxID,
		"event_type", rec.EventType,
		"partition_key", rec.PartitionKey,
		"attempts", attempts,
		"error", err,
	}
	if attempts >= w.maxRetries {
		w.logger.ErrorContext(ctx, "ledger event parked after repeated delivery failures", fields...)
		w.settle(ctx, "park_event", rec, w.outbox.MarkDeadLettered(ctx, rec.OutboxID, token, err.Error(), now))
		return parked
	}
	w.logger.WarnContext(ctx, "ledger event delivery failed; will retry", fields...)
	w.settle(ctx, "defer_event", rec, w.outbox.MarkFailed(ctx, rec.OutboxID, token, err.Error(), now))
	return retryLater
}

// settle logs a failed status write. The claim expires on its own, so the
// record is picked up again by a later pass.
func (w *OutboxWorker) settle(ctx context.Context, operation string, rec ports.OutboxRecord, err error) {
	if err == nil {
		return
	}
	w.logger.ErrorContext(ctx, "outbox status write failed",
		"operation", operation,
		"outcome", "failure",
		"outbox_id", rec.OutboxID,
		"event_type", rec.EventType,
		"error", err,
	)
}

package ports

import (
	"context"
	"time"
)

type OutboxRecord struct {
	OutboxID       string
	EventType      string
	PartitionKey   string
	Payload        []byte
	RetryCount     int
	LastError      string
	CreatedAt      time.Time
	PublishedAt    *time.Time
	LastErrorAt    *time.Time
	ClaimToken     string
	ClaimUntil     *time.Time
	DeadLetteredAt *time.Time
}

type OutboxRepository interface {
	ClaimUnpublished(ctx context.Context, limit int, claimToken string, claimUntil time.Time) ([]OutboxRecord, error)
	MarkPublished(ctx context.Context, outboxID, claimToken string, at time.Time) error
	MarkFailed(ctx context.Context, outboxID, claimToken, errMsg string, at time.Time) error
	MarkDeadLettered(ctx context.Context, outboxID, claimToken, errMsg string, at time.Time) error
}

type EventPublisher interface {
	Publish(ctx context.Context, eventType string, payload []byte, partitionKey string) error
}

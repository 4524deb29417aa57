package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/viralforge/escrow-commission-engine/internal/domain"
	"github.com/viralforge/escrow-commission-engine/internal/ports"
)

func (s *Store) ClaimUnpublished(_ context.Context, limit int, claimToken string, claimUntil time.Time) ([]ports.OutboxRecord, error) {
	if limit <= 0 {
		return nil, nil
	}
	if claimToken == "" {
		return nil, fmt.Errorf("claim token is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	out := make([]ports.OutboxRecord, 0, limit)
	for _, id := range s.outboxOrder {
		row := s.outbox[id]
		if row.PublishedAt != nil || row.DeadLetteredAt != nil {
			continue
		}
		if row.ClaimUntil != nil && !row.ClaimUntil.Before(now) {
			continue
		}
		until := claimUntil
		row.ClaimToken = claimToken
		row.ClaimUntil = &until
		s.outbox[id] = row
		out = append(out, row)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *Store) MarkPublished(_ context.Context, outboxID, claimToken string, at time.Time) error {
	return s.updateClaimed(outboxID, claimToken, func(row *ports.OutboxRecord) {
		row.PublishedAt = &at
	})
}

func (s *Store) MarkFailed(_ context.Context, outboxID, claimToken, errMsg string, at time.Time) error {
	return s.updateClaimed(outboxID, claimToken, func(row *ports.OutboxRecord) {
		row.RetryCount++
		row.LastError = errMsg
		row.LastErrorAt = &at
	})
}

func (s *Store) MarkDeadLettered(_ context.Context, outboxID, claimToken, errMsg string, at time.Time) error {
	return s.updateClaimed(outboxID, claimToken, func(row *ports.OutboxRecord) {
		row.RetryCount++
		row.LastError = errMsg
		row.LastErrorAt = &at
		row.DeadLetteredAt = &at
	})
}

func (s *Store) updateClaimed(outboxID, claimToken string, apply func(*ports.OutboxRecord)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.outbox[outboxID]
	if !ok {
		return domain.ErrNotFound
	}
	if row.ClaimToken != claimToken {
		return nil
	}
	apply(&row)
	row.ClaimToken = ""
	row.ClaimUntil = nil
	s.outbox[outboxID] = row
	return nil
}

// Outbox returns every outbox record in enqueue order.
func (s *Store) Outbox() []ports.OutboxRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ports.OutboxRecord, 0, len(s.outboxOrder))
	for _, id := range s.outboxOrder {
		out = append(out, s.outbox[id])
	}
	return out
}

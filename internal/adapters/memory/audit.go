package memory

import (
	"context"
	"time"

	"github.com/viralforge/escrow-commission-engine/internal/domain"
)

func (s *Store) AppendEntry(_ context.Context, entry domain.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.auditEntries = append(s.auditEntries, entry)
	return nil
}

func (s *Store) AppendSecurityEvent(_ context.Context, event domain.SecurityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.securityEvents = append(s.securityEvents, event)
	return nil
}

// ListEntries returns the newest entries first. An empty contractID lists
// every entry.
func (s *Store) ListEntries(_ context.Context, contractID string, limit int) ([]domain.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.AuditEntry, 0)
	for i := len(s.auditEntries) - 1; i >= 0; i-- {
		row := s.auditEntries[i]
		if contractID != "" && row.ContractID != contractID {
			continue
		}
		out = append(out, row)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *Store) ListSecurityEvents(_ context.Context, filter domain.SecurityEventFilter) ([]domain.SecurityEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.SecurityEvent, 0)
	for i := len(s.securityEvents) - 1; i >= 0; i-- {
		row := s.securityEvents[i]
		if filter.Severity != "" && row.Severity != filter.Severity {
			continue
		}
		if filter.UserID != "" && row.UserID != filter.UserID {
			continue
		}
		if filter.Since != nil && row.DetectedAt.Before(*filter.Since) {
			continue
		}
		out = append(out, row)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func (s *Store) IsDuplicate(_ context.Context, eventID string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.dedup[eventID]
	if !ok {
		return false, nil
	}
	if now.After(row.ExpiresAt) {
		delete(s.dedup, eventID)
		return false, nil
	}
	return true, nil
}

func (s *Store) MarkProcessed(_ context.Context, eventID, eventType string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dedup[eventID] = dedupRow{EventType: eventType, ExpiresAt: expiresAt}
	return nil
}

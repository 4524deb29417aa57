package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/viralforge/escrow-commission-engine/internal/contracts"
	"github.com/viralforge/escrow-commission-engine/internal/domain"
	"github.com/viralforge/escrow-commission-engine/internal/ports"
)

const redactedValue = "[REDACTED]"

var sensitiveKeyFragments = []string{
	"secret", "token", "password", "authorization", "api_key", "apikey", "credential",
	"payout_destination", "card", "cvv", "iban", "account_number", "private_key",
}

// Record appends an audit entry and runs the suspicious-activity detectors
// over it. Detector failures are logged and never fail the record.
func (s *Service) Record(ctx context.Context, event AuditEvent) (domain.AuditEntry, error) {
	if s.audit == nil {
		return domain.AuditEntry{}, fmt.Errorf("%w: audit repository not configured", domain.ErrStorageUnavailable)
	}
	event.Action = strings.TrimSpace(event.Action)
	if event.Action == "" {
		return domain.AuditEntry{}, fmt.Errorf("%w: action is required", domain.ErrInvalidArgument)
	}
	if event.Category == "" {
		event.Category = domain.AuditCategorySystem
	}
	if !event.Severity.Valid() {
		event.Severity = domain.SeverityLow
	}
	entry := domain.AuditEntry{
		EntryID:       uuid.NewString(),
		Action:        event.Action,
		Category:      event.Category,
		Severity:      event.Severity,
		ActorID:       event.ActorID,
		ActorRole:     event.ActorRole,
		ContractID:    event.ContractID,
		TransactionID: event.TransactionID,
		SubjectUserID: event.SubjectUserID,
		Amount:        event.Amount,
		Before:        redactMap(event.Before),
		After:         redactMap(event.After),
		Metadata:      redactMap(event.Metadata),
		RequestID:     event.RequestID,
		OccurredAt:    s.nowFn(),
	}
	if err := s.audit.AppendEntry(ctx, entry); err != nil {
		return domain.AuditEntry{}, err
	}
	s.detectSuspiciousActivity(ctx, entry)
	return entry, nil
}

func redactMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		if sensitiveKey(k) {
			out[k] = redactedValue
			continue
		}
		out[k] = redactValue(v)
	}
	return out
}

func redactValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return redactMap(val)
	case []any:
		out := make([]any, len(val))
		for i := range val {
			out[i] = redactValue(val[i])
		}
		return out
	case string:
		val = reAPIKey.ReplaceAllString(val, redactedValue)
		return reBearer.ReplaceAllString(val, "Bearer "+redactedValue)
	default:
		return v
	}
}

func sensitiveKey(key string) bool {
	key = strings.ToLower(key)
	for _, fragment := range sensitiveKeyFragments {
		if strings.Contains(key, fragment) {
			return true
		}
	}
	return false
}

func (s *Service) detectSuspiciousActivity(ctx context.Context, entry domain.AuditEntry) {
	if s.activity != nil && entry.ContractID != "" && domain.IsContractStateChange(entry.Action) {
		s.checkThreshold(ctx, entry, "contract_state_changes:"+entry.ContractID,
			s.cfg.ContractStateChangeLimit, s.cfg.ContractStateChangeWindow,
			domain.SecurityEventExcessiveStateChanges, entry.SubjectUserID)
	}
	if s.activity != nil && entry.Action == domain.AuditActionEscrowCreated && entry.SubjectUserID != "" {
		s.checkThreshold(ctx, entry, "client_transactions:"+entry.SubjectUserID,
			s.cfg.ClientTransactionLimit, s.cfg.ClientTransactionWindow,
			domain.SecurityEventHighTransactionVelocity, entry.SubjectUserID)
	}
	// Later entries of the same transaction carry the same amount, so only
	// creation is checked.
	if entry.Action == domain.AuditActionEscrowCreated && entry.Amount > s.cfg.LargeTransactionThreshold {
		s.emitDetection(ctx, domain.SecurityEvent{
			Type:          domain.SecurityEventLargeTransaction,
			Severity:      domain.SeverityMedium,
			UserID:        entry.SubjectUserID,
			ContractID:    entry.ContractID,
			TransactionID: entry.TransactionID,
			AuditEntryID:  entry.EntryID,
			Details: map[string]any{
				"amount":    entry.Amount,
				"threshold": s.cfg.LargeTransactionThreshold,
				"action":    entry.Action,
			},
			DetectedAt: entry.OccurredAt,
		})
	}
}

// checkThreshold raises once when the count first exceeds limit and again,
// as critical, when it first exceeds twice the limit.
func (s *Service) checkThreshold(ctx context.Context, entry domain.AuditEntry, key string, limit int, window time.Duration, eventType domain.SecurityEventType, userID string) {
	count, err := s.activity.Incr(ctx, key, window)
	if err != nil {
		s.logger.WarnContext(ctx, "activity counter unavailable",
			"module", "application.audit",
			"layer", "application",
			"operation", "detect_suspicious_activity",
			"outcome", "failure",
			"key", key,
			"error", err,
		)
		return
	}
	var severity domain.Severity
	switch count {
	case int64(limit) + 1:
		severity = domain.SeverityHigh
	case int64(2*limit) + 1:
		severity = domain.SeverityCritical
	default:
		return
	}
	s.emitDetection(ctx, domain.SecurityEvent{
		Type:          eventType,
		Severity:      severity,
		UserID:        userID,
		ContractID:    entry.ContractID,
		TransactionID: entry.TransactionID,
		AuditEntryID:  entry.EntryID,
		Details: map[string]any{
			"count":          count,
			"limit":          limit,
			"window_seconds": int64(window.Seconds()),
			"action":         entry.Action,
		},
		DetectedAt: entry.OccurredAt,
	})
}

func (s *Service) emitDetection(ctx context.Context, event domain.SecurityEvent) {
	if err := s.raiseSecurityEvent(ctx, event); err != nil {
		s.logger.ErrorContext(ctx, "security event record failed",
			"module", "application.audit",
			"layer", "application",
			"operation", "detect_suspicious_activity",
			"outcome", "failure",
			"type", string(event.Type),
			"error", err,
		)
	}
}

// raiseSecurityEvent stores the event. A critical event naming a user
// suspends that account and publishes security.critical_event.
func (s *Service) raiseSecurityEvent(ctx context.Context, event domain.SecurityEvent) error {
	if s.audit == nil {
		return fmt.Errorf("%w: audit repository not configured", domain.ErrStorageUnavailable)
	}
	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}
	if event.DetectedAt.IsZero() {
		event.DetectedAt = s.nowFn()
	}
	event.Details = redactMap(event.Details)
	if err := s.audit.AppendSecurityEvent(ctx, event); err != nil {
		return err
	}
	s.metrics.ObserveSecurityEvent(string(event.Type), string(event.Severity))
	s.logger.WarnContext(ctx, "security event detected",
		"module", "application.audit",
		"layer", "application",
		"operation", "raise_security_event",
		"outcome", "detected",
		"type", string(event.Type),
		"severity", string(event.Severity),
		"user_id", event.UserID,
		"contract_id", event.ContractID,
	)
	if event.Severity != domain.SeverityCritical || event.UserID == "" || s.store == nil {
		return nil
	}
	return s.suspendForCriticalEvent(ctx, event)
}

func (s *Service) suspendForCriticalEvent(ctx context.Context, event domain.SecurityEvent) error {
	now := s.nowFn()
	suspended := false
	var before, after map[string]any
	err := s.store.RunAtomic(ctx, func(ltx ports.LedgerTx) error {
		account, err := ltx.GetAccount(ctx, event.UserID)
		switch {
		case err == nil && !account.Suspended:
			before = map[string]any{"suspended": false}
			account.Suspend("security:"+string(event.Type), now)
			if err := ltx.UpdateAccount(ctx, account); err != nil {
				return err
			}
			suspended = true
			after = map[string]any{"suspended": true, "suspended_reason": account.SuspendedReason}
		case err != nil && !errors.Is(err, domain.ErrNotFound):
			return err
		}
		return s.enqueueEvent(ctx, ltx, domain.EventSecurityCriticalEvent, "", contracts.SecurityCriticalPayload{
			SecurityEventID:  event.EventID,
			Type:             string(event.Type),
			UserID:           event.UserID,
			ContractID:       event.ContractID,
			AccountSuspended: suspended,
			DetectedAt:       event.DetectedAt.Format(time.RFC3339),
		}, event.UserID, now)
	})
	if err != nil {
		return err
	}
	if !suspended {
		return nil
	}
	// Appended directly: routing this through Record would re-enter the
	// detectors for the same user.
	return s.audit.AppendEntry(ctx, domain.AuditEntry{
		EntryID:       uuid.NewString(),
		Action:        domain.AuditActionAccountSuspended,
		Category:      domain.AuditCategorySecurity,
		Severity:      domain.SeverityCritical,
		ActorID:       "system",
		ActorRole:     domain.RoleSystem,
		ContractID:    event.ContractID,
		SubjectUserID: event.UserID,
		Before:        before,
		After:         after,
		Metadata:      map[string]any{"security_event_id": event.EventID, "type": string(event.Type)},
		OccurredAt:    now,
	})
}

// ListSecurityEvents returns detected events, newest first. Admin only.
func (s *Service) ListSecurityEvents(ctx context.Context, actor Actor, filter domain.SecurityEventFilter) (out []domain.SecurityEvent, err error) {
	start := time.Now()
	defer func() { err = s.finish(ctx, "list_security_events", start, err) }()

	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if actor.Role != domain.RoleAdmin {
		return nil, s.denyAccess(ctx, actor, "list_security_events", "", "")
	}
	if filter.Severity != "" && !filter.Severity.Valid() {
		return nil, fmt.Errorf("%w: unknown severity %q", domain.ErrInvalidArgument, filter.Severity)
	}
	filter.Limit = clampLimit(filter.Limit)
	return s.audit.ListSecurityEvents(ctx, filter)
}

// ListAuditEntries returns the audit trail of one contract. Admin only.
func (s *Service) ListAuditEntries(ctx context.Context, actor Actor, contractID string, limit int) (out []domain.AuditEntry, err error) {
	start := time.Now()
	defer func() { err = s.finish(ctx, "list_audit_entries", start, err) }()

	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if actor.Role != domain.RoleAdmin {
		return nil, s.denyAccess(ctx, actor, "list_audit_entries", contractID, "")
	}
	contractID = strings.TrimSpace(contractID)
	if contractID == "" {
		return nil, fmt.Errorf("%w: contract_id is required", domain.ErrInvalidArgument)
	}
	return s.audit.ListEntries(ctx, contractID, clampLimit(limit))
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 50
	}
	if limit > 500 {
		return 500
	}
	return limit
}

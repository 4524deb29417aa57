package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/viralforge/escrow-commission-engine/internal/domain"
)

// finish records the operation outcome and hides infrastructure failures
// behind domain.ErrInternal after logging them in full.
func (s *Service) finish(ctx context.Context, operation string, start time.Time, err error) error {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	s.metrics.ObserveOperation(operation, outcome, time.Since(start))
	if err == nil {
		return nil
	}
	code := domain.ErrorCode(err)
	if code == domain.CodeInternal {
		s.logger.ErrorContext(ctx, "operation failed",
			"module", "application.ledger",
			"layer", "application",
			"operation", operation,
			"outcome", "failure",
			"error", err,
		)
		return fmt.Errorf("%w: %s", domain.ErrInternal, operation)
	}
	s.logger.WarnContext(ctx, "operation rejected",
		"module", "application.ledger",
		"layer", "application",
		"operation", operation,
		"outcome", "rejected",
		"error_code", code,
		"error", err,
	)
	return err
}

func (s *Service) callGateway(ctx context.Context, call string, fn func(context.Context) error) error {
	if s.gateway == nil {
		return fmt.Errorf("%w: no payment gateway configured", domain.ErrGatewayUnavailable)
	}
	start := time.Now()
	err := fn(ctx)
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	s.metrics.ObserveGatewayCall(call, outcome, time.Since(start))
	if err != nil {
		return fmt.Errorf("%w: %s: %v", domain.ErrGatewayUnavailable, call, err)
	}
	return nil
}

func (s *Service) recordAudit(ctx context.Context, event AuditEvent) {
	if _, err := s.Record(ctx, event); err != nil {
		s.logger.ErrorContext(ctx, "audit record failed",
			"module", "application.audit",
			"layer", "application",
			"operation", "record",
			"outcome", "failure",
			"action", event.Action,
			"transaction_id", event.TransactionID,
			"error", err,
		)
	}
}

// denyAccess logs the attempt as a security event and returns the error the
// caller sees. The error never says whether the resource exists.
func (s *Service) denyAccess(ctx context.Context, actor Actor, operation, contractID, transactionID string) error {
	now := s.nowFn()
	s.recordAudit(ctx, AuditEvent{
		Action:        domain.AuditActionUnauthorizedAccessAttempt,
		Category:      domain.AuditCategorySecurity,
		Severity:      domain.SeverityMedium,
		ActorID:       actor.SubjectID,
		ActorRole:     actor.Role,
		ContractID:    contractID,
		TransactionID: transactionID,
		SubjectUserID: actor.SubjectID,
		Metadata:      map[string]any{"operation": operation},
		RequestID:     actor.RequestID,
	})
	if err := s.raiseSecurityEvent(ctx, domain.SecurityEvent{
		Type:          domain.SecurityEventUnauthorizedAccessAttempt,
		Severity:      domain.SeverityMedium,
		UserID:        actor.SubjectID,
		ContractID:    contractID,
		TransactionID: transactionID,
		Details:       map[string]any{"operation": operation, "role": actor.Role},
		DetectedAt:    now,
	}); err != nil {
		s.logger.ErrorContext(ctx, "security event record failed",
			"module", "application.audit",
			"layer", "application",
			"operation", "deny_access",
			"outcome", "failure",
			"error", err,
		)
	}
	return fmt.Errorf("%w: %s", domain.ErrPermissionDenied, operation)
}

func requireActor(actor Actor) error {
	if strings.TrimSpace(actor.SubjectID) == "" {
		return domain.ErrUnauthenticated
	}
	return nil
}

func notFoundAs(err error, format string, args ...any) error {
	if errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("%w: "+format, append([]any{domain.ErrNotFound}, args...)...)
	}
	return err
}

func stateIn(state domain.TransactionState, allowed []domain.TransactionState) bool {
	for _, a := range allowed {
		if a == state {
			return true
		}
	}
	return false
}

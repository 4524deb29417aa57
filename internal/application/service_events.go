package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/viralforge/escrow-commission-engine/internal/contracts"
	"github.com/viralforge/escrow-commission-engine/internal/domain"
	"github.com/viralforge/escrow-commission-engine/internal/ports"
)

func (s *Service) enqueueEvent(ctx context.Context, ltx ports.LedgerTx, eventType, traceID string, data any, partitionKey string, now time.Time) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if strings.TrimSpace(traceID) == "" {
		traceID = uuid.NewString()
	}
	envelope := contracts.EventEnvelope{
		EventID:          uuid.NewString(),
		EventType:        eventType,
		OccurredAt:       now.UTC(),
		PartitionKeyPath: domain.CanonicalPartitionKeyPath(eventType),
		PartitionKey:     partitionKey,
		SourceService:    s.cfg.ServiceName,
		TraceID:          traceID,
		SchemaVersion:    "v1",
		Data:             raw,
	}
	payload, err := json.Marshal(envelope)
	if err != nil {
		return err
	}
	return ltx.EnqueueOutbox(ctx, ports.OutboxRecord{
		OutboxID:     envelope.EventID,
		EventType:    eventType,
		PartitionKey: partitionKey,
		Payload:      payload,
		CreatedAt:    now.UTC(),
	})
}

// HandleDisputeOpened consumes dispute.opened. A held transaction on the
// contract moves to disputed; anything else is acknowledged without effect.
func (s *Service) HandleDisputeOpened(ctx context.Context, payload []byte) error {
	envelope, err := parseInboundEnvelope(payload)
	if err != nil {
		return err
	}
	if envelope.EventType != domain.EventDisputeOpened {
		return domain.ErrUnsupportedEventType
	}
	var data contracts.DisputeOpenedPayload
	if err := json.Unmarshal(envelope.Data, &data); err != nil {
		return domain.ErrInvalidEnvelope
	}
	data.ContractID = strings.TrimSpace(data.ContractID)
	if data.ContractID == "" {
		return domain.ErrInvalidEnvelope
	}

	now := s.nowFn()
	if s.eventDedup != nil {
		dup, err := s.eventDedup.IsDuplicate(ctx, envelope.EventID, now)
		if err != nil {
			return err
		}
		if dup {
			return nil
		}
	}
	if err := s.markDisputed(ctx, envelope.TraceID, data); err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrFailedPrecondition):
			s.logger.InfoContext(ctx, "dispute opened without held escrow",
				"module", "application.events",
				"layer", "application",
				"operation", "handle_dispute_opened",
				"outcome", "skipped",
				"contract_id", data.ContractID,
				"event_id", envelope.EventID,
			)
		default:
			return err
		}
	}
	if s.eventDedup == nil {
		return nil
	}
	return s.eventDedup.MarkProcessed(ctx, envelope.EventID, envelope.EventType, now.Add(s.cfg.EventDedupTTL))
}

func (s *Service) markDisputed(ctx context.Context, traceID string, data contracts.DisputeOpenedPayload) error {
	now := s.nowFn()
	var (
		before   map[string]any
		disputed domain.EscrowTransaction
	)
	err := s.store.RunAtomic(ctx, func(ltx ports.LedgerTx) error {
		locked, err := ltx.FindContractTransaction(ctx, data.ContractID, domain.TransactionStateHeld)
		if err != nil {
			return err
		}
		before = locked.Snapshot()
		if err := locked.Transition(domain.TransactionStateDisputed, now); err != nil {
			return err
		}
		if err := ltx.UpdateTransaction(ctx, locked); err != nil {
			return err
		}
		contract, err := ltx.GetContract(ctx, locked.ContractID)
		if err != nil {
			return err
		}
		contract.State = domain.ContractStateDisputed
		contract.UpdatedAt = now
		if err := ltx.UpdateContract(ctx, contract); err != nil {
			return err
		}
		disputed = locked
		return s.enqueueStateChange(ctx, ltx, domain.EventEscrowDisputed, traceID, locked, domain.TransactionStateHeld, data.Reason, now)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, AuditEvent{
		Action:        domain.AuditActionEscrowDisputed,
		Category:      domain.AuditCategoryFinancial,
		Severity:      domain.SeverityMedium,
		ActorID:       data.OpenedBy,
		ActorRole:     domain.RoleSystem,
		ContractID:    disputed.ContractID,
		TransactionID: disputed.TransactionID,
		SubjectUserID: disputed.ClientID,
		Amount:        disputed.Amount,
		Before:        before,
		After:         disputed.Snapshot(),
		Metadata:      map[string]any{"dispute_id": data.DisputeID, "reason": data.Reason},
		RequestID:     traceID,
	})
	return nil
}

// parseInboundEnvelope checks the envelope shape on the raw bytes before
// decoding, including that partition_key matches the value at
// partition_key_path.
func parseInboundEnvelope(payload []byte) (contracts.EventEnvelope, error) {
	if !gjson.ValidBytes(payload) {
		return contracts.EventEnvelope{}, domain.ErrInvalidEnvelope
	}
	root := gjson.ParseBytes(payload)
	for _, field := range []string{"event_id", "event_type", "occurred_at", "source_service", "trace_id", "schema_version"} {
		if strings.TrimSpace(root.Get(field).String()) == "" {
			return contracts.EventEnvelope{}, fmt.Errorf("%w: missing %s", domain.ErrInvalidEnvelope, field)
		}
	}
	if _, err := time.Parse(time.RFC3339, root.Get("occurred_at").String()); err != nil {
		return contracts.EventEnvelope{}, fmt.Errorf("%w: occurred_at", domain.ErrInvalidEnvelope)
	}
	if !root.Get("data").IsObject() {
		return contracts.EventEnvelope{}, fmt.Errorf("%w: data", domain.ErrInvalidEnvelope)
	}
	eventType := root.Get("event_type").String()
	if !domain.IsCanonicalInputEvent(eventType) {
		return contracts.EventEnvelope{}, domain.ErrUnsupportedEventType
	}
	expectedPath := domain.CanonicalPartitionKeyPath(eventType)
	path := root.Get("partition_key_path").String()
	if path != expectedPath {
		return contracts.EventEnvelope{}, fmt.Errorf("%w: partition_key_path", domain.ErrInvalidEnvelope)
	}
	key := root.Get(path)
	if !key.Exists() || key.String() != root.Get("partition_key").String() {
		return contracts.EventEnvelope{}, fmt.Errorf("%w: partition_key", domain.ErrInvalidEnvelope)
	}
	var envelope contracts.EventEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return contracts.EventEnvelope{}, domain.ErrInvalidEnvelope
	}
	return envelope, nil
}

package postgres

import (
	"encoding/json"

	"github.com/viralforge/escrow-commission-engine/internal/domain"
	"github.com/viralforge/escrow-commission-engine/internal/ports"
)

func toTransactionModel(t domain.EscrowTransaction) escrowTransactionModel {
	return escrowTransactionModel{
		TransactionID:      t.TransactionID,
		ContractID:         t.ContractID,
		ClientID:           t.ClientID,
		SpecialistID:       t.SpecialistID,
		Amount:             t.Amount,
		Currency:           t.Currency,
		PlatformCommission: t.PlatformCommission,
		SpecialistPayout:   t.SpecialistPayout,
		CommissionRateBps:  t.CommissionRateBps,
		Tier:               string(t.Tier),
		State:              string(t.State),
		PaymentIntentRef:   t.PaymentIntentRef,
		ClientSecret:       t.ClientSecret,
		TransferRef:        t.TransferRef,
		RefundRef:          t.RefundRef,
		ReferenceCode:      t.ReferenceCode,
		CancellationReason: t.CancellationReason,
		RefundReason:       t.RefundReason,
		CreatedAt:          t.CreatedAt,
		UpdatedAt:          t.UpdatedAt,
		DepositedAt:        t.DepositedAt,
		ReleasedAt:         t.ReleasedAt,
		RefundedAt:         t.RefundedAt,
		DisputedAt:         t.DisputedAt,
		CancelledAt:        t.CancelledAt,
	}
}

func fromTransactionModel(m escrowTransactionModel) domain.EscrowTransaction {
	return domain.EscrowTransaction{
		TransactionID:      m.TransactionID,
		ContractID:         m.ContractID,
		ClientID:           m.ClientID,
		SpecialistID:       m.SpecialistID,
		Amount:             m.Amount,
		Currency:           m.Currency,
		PlatformCommission: m.PlatformCommission,
		SpecialistPayout:   m.SpecialistPayout,
		CommissionRateBps:  m.CommissionRateBps,
		Tier:               domain.Tier(m.Tier),
		State:              domain.TransactionState(m.State),
		PaymentIntentRef:   m.PaymentIntentRef,
		ClientSecret:       m.ClientSecret,
		TransferRef:        m.TransferRef,
		RefundRef:          m.RefundRef,
		ReferenceCode:      m.ReferenceCode,
		CancellationReason: m.CancellationReason,
		RefundReason:       m.RefundReason,
		CreatedAt:          m.CreatedAt.UTC(),
		UpdatedAt:          m.UpdatedAt.UTC(),
		DepositedAt:        m.DepositedAt,
		ReleasedAt:         m.ReleasedAt,
		RefundedAt:         m.RefundedAt,
		DisputedAt:         m.DisputedAt,
		CancelledAt:        m.CancelledAt,
	}
}

func toQRModel(q domain.PaymentQR) paymentQRModel {
	return paymentQRModel{
		QRID:           q.QRID,
		TransactionID:  q.TransactionID,
		ContractID:     q.ContractID,
		Amount:         q.Amount,
		EncodedPayload: q.EncodedPayload,
		ExpiresAt:      q.ExpiresAt,
		State:          string(q.State),
		CreatedAt:      q.CreatedAt,
		UpdatedAt:      q.UpdatedAt,
	}
}

func fromQRModel(m paymentQRModel) domain.PaymentQR {
	return domain.PaymentQR{
		QRID:           m.QRID,
		TransactionID:  m.TransactionID,
		ContractID:     m.ContractID,
		Amount:         m.Amount,
		EncodedPayload: m.EncodedPayload,
		ExpiresAt:      m.ExpiresAt.UTC(),
		State:          domain.QRState(m.State),
		CreatedAt:      m.CreatedAt.UTC(),
		UpdatedAt:      m.UpdatedAt.UTC(),
	}
}

func toContractModel(c domain.Contract) contractModel {
	return contractModel{
		ContractID:   c.ContractID,
		ClientID:     c.ClientID,
		SpecialistID: c.SpecialistID,
		State:        string(c.State),
		UpdatedAt:    c.UpdatedAt,
	}
}

func fromContractModel(m contractModel) domain.Contract {
	return domain.Contract{
		ContractID:   m.ContractID,
		ClientID:     m.ClientID,
		SpecialistID: m.SpecialistID,
		State:        domain.ContractState(m.State),
		UpdatedAt:    m.UpdatedAt.UTC(),
	}
}

func toAccountModel(a domain.Account) accountModel {
	return accountModel{
		UserID:            a.UserID,
		Role:              a.Role,
		EscrowBalance:     a.EscrowBalance,
		LifetimeEarnings:  a.LifetimeEarnings,
		CompletedJobs:     a.CompletedJobs,
		AvgRating:         a.AvgRating,
		PayoutDestination: a.PayoutDestination,
		Tier:              string(a.Tier),
		CommissionRateBps: a.CommissionRateBps,
		TierPerks:         encodeJSON(a.TierPerks, "[]"),
		TierComputedAt:    a.TierComputedAt,
		Suspended:         a.Suspended,
		SuspendedReason:   a.SuspendedReason,
		SuspendedAt:       a.SuspendedAt,
		UpdatedAt:         a.UpdatedAt,
	}
}

func fromAccountModel(m accountModel) domain.Account {
	var perks []string
	decodeJSON(m.TierPerks, &perks)
	return domain.Account{
		UserID:            m.UserID,
		Role:              m.Role,
		EscrowBalance:     m.EscrowBalance,
		LifetimeEarnings:  m.LifetimeEarnings,
		CompletedJobs:     m.CompletedJobs,
		AvgRating:         m.AvgRating,
		PayoutDestination: m.PayoutDestination,
		Tier:              domain.Tier(m.Tier),
		CommissionRateBps: m.CommissionRateBps,
		TierPerks:         perks,
		TierComputedAt:    m.TierComputedAt,
		Suspended:         m.Suspended,
		SuspendedReason:   m.SuspendedReason,
		SuspendedAt:       m.SuspendedAt,
		UpdatedAt:         m.UpdatedAt.UTC(),
	}
}

func toCommissionModel(c domain.Commission) commissionModel {
	return commissionModel{
		CommissionID:  c.CommissionID,
		TransactionID: c.TransactionID,
		ContractID:    c.ContractID,
		SpecialistID:  c.SpecialistID,
		Amount:        c.Amount,
		Type:          string(c.Type),
		CreatedAt:     c.CreatedAt,
	}
}

func fromCommissionModel(m commissionModel) domain.Commission {
	return domain.Commission{
		CommissionID:  m.CommissionID,
		TransactionID: m.TransactionID,
		ContractID:    m.ContractID,
		SpecialistID:  m.SpecialistID,
		Amount:        m.Amount,
		Type:          domain.CommissionType(m.Type),
		CreatedAt:     m.CreatedAt.UTC(),
	}
}

func toSummaryModel(s domain.CommissionSummary) commissionSummaryModel {
	return commissionSummaryModel{
		Period:            s.Period,
		TotalCommissions:  s.TotalCommissions,
		TotalTransactions: s.TotalTransactions,
		ByType:            encodeJSON(s.ByType, "{}"),
		BySpecialist:      encodeJSON(s.BySpecialist, "{}"),
		Average:           s.Average,
		UpdatedAt:         s.UpdatedAt,
	}
}

func fromSummaryModel(m commissionSummaryModel) domain.CommissionSummary {
	out := domain.NewCommissionSummary(m.Period)
	out.TotalCommissions = m.TotalCommissions
	out.TotalTransactions = m.TotalTransactions
	decodeJSON(m.ByType, &out.ByType)
	decodeJSON(m.BySpecialist, &out.BySpecialist)
	out.Average = m.Average
	out.UpdatedAt = m.UpdatedAt.UTC()
	return out
}

func toAuditEntryModel(e domain.AuditEntry) auditEntryModel {
	return auditEntryModel{
		EntryID:       e.EntryID,
		Action:        e.Action,
		Category:      string(e.Category),
		Severity:      string(e.Severity),
		ActorID:       e.ActorID,
		ActorRole:     e.ActorRole,
		ContractID:    e.ContractID,
		TransactionID: e.TransactionID,
		SubjectUserID: e.SubjectUserID,
		Amount:        e.Amount,
		BeforeState:   encodeJSON(e.Before, ""),
		AfterState:    encodeJSON(e.After, ""),
		Metadata:      encodeJSON(e.Metadata, ""),
		RequestID:     e.RequestID,
		OccurredAt:    e.OccurredAt,
	}
}

func fromAuditEntryModel(m auditEntryModel) domain.AuditEntry {
	out := domain.AuditEntry{
		EntryID:       m.EntryID,
		Action:        m.Action,
		Category:      domain.AuditCategory(m.Category),
		Severity:      domain.Severity(m.Severity),
		ActorID:       m.ActorID,
		ActorRole:     m.ActorRole,
		ContractID:    m.ContractID,
		TransactionID: m.TransactionID,
		SubjectUserID: m.SubjectUserID,
		Amount:        m.Amount,
		RequestID:     m.RequestID,
		OccurredAt:    m.OccurredAt.UTC(),
	}
	decodeJSON(m.BeforeState, &out.Before)
	decodeJSON(m.AfterState, &out.After)
	decodeJSON(m.Metadata, &out.Metadata)
	return out
}

func toSecurityEventModel(e domain.SecurityEvent) securityEventModel {
	return securityEventModel{
		EventID:       e.EventID,
		Type:          string(e.Type),
		Severity:      string(e.Severity),
		UserID:        e.UserID,
		ContractID:    e.ContractID,
		TransactionID: e.TransactionID,
		AuditEntryID:  e.AuditEntryID,
		Details:       encodeJSON(e.Details, ""),
		DetectedAt:    e.DetectedAt,
	}
}

func fromSecurityEventModel(m securityEventModel) domain.SecurityEvent {
	out := domain.SecurityEvent{
		EventID:       m.EventID,
		Type:          domain.SecurityEventType(m.Type),
		Severity:      domain.Severity(m.Severity),
		UserID:        m.UserID,
		ContractID:    m.ContractID,
		TransactionID: m.TransactionID,
		AuditEntryID:  m.AuditEntryID,
		DetectedAt:    m.DetectedAt.UTC(),
	}
	decodeJSON(m.Details, &out.Details)
	return out
}

func fromOutboxModel(m outboxModel) ports.OutboxRecord {
	rec := ports.OutboxRecord{
		OutboxID:       m.OutboxID,
		EventType:      m.EventType,
		PartitionKey:   m.PartitionKey,
		Payload:        []byte(m.Payload),
		RetryCount:     m.RetryCount,
		LastError:      m.LastError,
		CreatedAt:      m.CreatedAt,
		PublishedAt:    m.PublishedAt,
		LastErrorAt:    m.LastErrorAt,
		ClaimUntil:     m.ClaimUntil,
		DeadLetteredAt: m.DeadLetteredAt,
	}
	if m.ClaimToken != nil {
		rec.ClaimToken = *m.ClaimToken
	}
	return rec
}

func encodeJSON(v any, empty string) string {
	raw, err := json.Marshal(v)
	if err != nil || string(raw) == "null" {
		return empty
	}
	return string(raw)
}

func decodeJSON(raw string, out any) {
	if raw == "" {
		return
	}
	_ = json.Unmarshal([]byte(raw), out)
}

package postgres

import (
	"context"

	"github.com/viralforge/escrow-commission-engine/internal/domain"
	"github.com/viralforge/escrow-commission-engine/internal/ports"
	"gorm.io/gorm"
)

type AuditRepository struct {
	db *gorm.DB
}

func NewAuditRepository(db *gorm.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

func (r *AuditRepository) AppendEntry(ctx context.Context, entry domain.AuditEntry) error {
	row := toAuditEntryModel(entry)
	return r.db.WithContext(ctx).Create(&row).Error
}

func (r *AuditRepository) AppendSecurityEvent(ctx context.Context, event domain.SecurityEvent) error {
	row := toSecurityEventModel(event)
	return r.db.WithContext(ctx).Create(&row).Error
}

func (r *AuditRepository) ListEntries(ctx context.Context, contractID string, limit int) ([]domain.AuditEntry, error) {
	q := r.db.WithContext(ctx).Order("occurred_at DESC")
	if contractID != "" {
		q = q.Where("contract_id = ?", contractID)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []auditEntryModel
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]domain.AuditEntry, 0, len(rows))
	for _, row := range rows {
		out = append(out, fromAuditEntryModel(row))
	}
	return out, nil
}

func (r *AuditRepository) ListSecurityEvents(ctx context.Context, filter domain.SecurityEventFilter) ([]domain.SecurityEvent, error) {
	q := r.db.WithContext(ctx).Order("detected_at DESC")
	if filter.Severity != "" {
		q = q.Where("severity = ?", string(filter.Severity))
	}
	if filter.UserID != "" {
		q = q.Where("user_id = ?", filter.UserID)
	}
	if filter.Since != nil {
		q = q.Where("detected_at >= ?", *filter.Since)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	var rows []securityEventModel
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]domain.SecurityEvent, 0, len(rows))
	for _, row := range rows {
		out = append(out, fromSecurityEventModel(row))
	}
	return out, nil
}

var _ ports.AuditRepository = (*AuditRepository)(nil)

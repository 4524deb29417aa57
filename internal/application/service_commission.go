package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/viralforge/escrow-commission-engine/internal/contracts"
	"github.com/viralforge/escrow-commission-engine/internal/domain"
	"github.com/viralforge/escrow-commission-engine/internal/ports"
)

// GetSpecialistTier classifies the specialist and persists the result on the
// account. It never fails: any lookup error yields the bronze fallback.
func (s *Service) GetSpecialistTier(ctx context.Context, specialistID string) domain.SpecialistTier {
	now := s.nowFn()
	tier, err := s.computeSpecialistTier(ctx, specialistID, now)
	if err != nil {
		s.logger.WarnContext(ctx, "tier lookup failed, using bronze fallback",
			"module", "application.commission",
			"layer", "application",
			"operation", "get_specialist_tier",
			"outcome", "fallback",
			"specialist_id", specialistID,
			"error", err,
		)
		return domain.BronzeFallback(specialistID, now)
	}
	if err := s.persistTier(ctx, tier); err != nil {
		s.logger.WarnContext(ctx, "tier persist failed",
			"module", "application.commission",
			"layer", "application",
			"operation", "get_specialist_tier",
			"outcome", "failure",
			"specialist_id", specialistID,
			"error", err,
		)
	}
	return tier
}

func (s *Service) computeSpecialistTier(ctx context.Context, specialistID string, now time.Time) (domain.SpecialistTier, error) {
	specialistID = strings.TrimSpace(specialistID)
	if specialistID == "" {
		return domain.SpecialistTier{}, fmt.Errorf("%w: specialist_id is required", domain.ErrInvalidArgument)
	}
	account, err := s.store.GetAccount(ctx, specialistID)
	if err != nil {
		return domain.SpecialistTier{}, err
	}
	volume, err := s.store.SumReleasedVolume(ctx, specialistID, now.Add(-s.cfg.TierVolumeWindow))
	if err != nil {
		return domain.SpecialistTier{}, err
	}
	rule := domain.ClassifyTier(s.cfg.TierTable, account.CompletedJobs, account.AvgRating, volume)
	return domain.NewSpecialistTier(specialistID, account.CompletedJobs, account.AvgRating, volume, rule, now), nil
}

func (s *Service) persistTier(ctx context.Context, tier domain.SpecialistTier) error {
	return s.store.RunAtomic(ctx, func(ltx ports.LedgerTx) error {
		account, err := ltx.GetAccount(ctx, tier.SpecialistID)
		if err != nil {
			return err
		}
		account.ApplyTier(tier)
		return ltx.UpdateAccount(ctx, account)
	})
}

// applyCommissionToSummary updates the period summary inside the caller's
// atomic unit so concurrent releases never lose an increment.
func (s *Service) applyCommissionToSummary(ctx context.Context, ltx ports.LedgerTx, commission domain.Commission, now time.Time) error {
	period := domain.PeriodOf(commission.CreatedAt)
	summary, err := ltx.GetCommissionSummary(ctx, period)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		summary = domain.NewCommissionSummary(period)
	case err != nil:
		return err
	}
	summary.Apply(commission, now)
	return ltx.PutCommissionSummary(ctx, summary)
}

// GetCommissionSummary returns the running totals for a YYYY-MM period.
// Admin only.
func (s *Service) GetCommissionSummary(ctx context.Context, actor Actor, period string) (out domain.CommissionSummary, err error) {
	start := time.Now()
	defer func() { err = s.finish(ctx, "get_commission_summary", start, err) }()

	if err := requireActor(actor); err != nil {
		return domain.CommissionSummary{}, err
	}
	if actor.Role != domain.RoleAdmin {
		return domain.CommissionSummary{}, s.denyAccess(ctx, actor, "get_commission_summary", "", "")
	}
	period = strings.TrimSpace(period)
	if _, _, err := domain.PeriodBounds(period); err != nil {
		return domain.CommissionSummary{}, fmt.Errorf("%w: period must be YYYY-MM", domain.ErrInvalidArgument)
	}
	summary, err := s.store.GetCommissionSummary(ctx, period)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.NewCommissionSummary(period), nil
	}
	return summary, err
}

// GenerateMonthlyReport rebuilds the report for period from the commission
// records and stores it. Running it twice for the same period overwrites the
// earlier report.
func (s *Service) GenerateMonthlyReport(ctx context.Context, actor Actor, period string) (out domain.MonthlyCommissionReport, err error) {
	start := time.Now()
	defer func() { err = s.finish(ctx, "generate_monthly_report", start, err) }()

	if err := requireActor(actor); err != nil {
		return domain.MonthlyCommissionReport{}, err
	}
	if !actor.privileged() {
		return domain.MonthlyCommissionReport{}, s.denyAccess(ctx, actor, "generate_monthly_report", "", "")
	}
	period = strings.TrimSpace(period)
	from, to, err := domain.PeriodBounds(period)
	if err != nil {
		return domain.MonthlyCommissionReport{}, fmt.Errorf("%w: period must be YYYY-MM", domain.ErrInvalidArgument)
	}

	var (
		commissions []domain.Commission
		afterID     string
	)
	for {
		page, err := s.store.ListCommissions(ctx, from, to, afterID, s.cfg.ReconciliationBatchSize)
		if err != nil {
			return domain.MonthlyCommissionReport{}, err
		}
		commissions = append(commissions, page...)
		if len(page) < s.cfg.ReconciliationBatchSize {
			break
		}
		afterID = page[len(page)-1].CommissionID
	}

	var previousTotal *int64
	prev, err := domain.PreviousPeriod(period)
	if err != nil {
		return domain.MonthlyCommissionReport{}, err
	}
	prevSummary, err := s.store.GetCommissionSummary(ctx, prev)
	switch {
	case err == nil:
		total := prevSummary.TotalCommissions
		previousTotal = &total
	case !errors.Is(err, domain.ErrNotFound):
		return domain.MonthlyCommissionReport{}, err
	}

	now := s.nowFn()
	report, err := domain.BuildMonthlyReport(period, commissions, previousTotal, now)
	if err != nil {
		return domain.MonthlyCommissionReport{}, err
	}
	if err := s.store.PutMonthlyReport(ctx, report); err != nil {
		return domain.MonthlyCommissionReport{}, err
	}
	if err := s.store.RunAtomic(ctx, func(ltx ports.LedgerTx) error {
		return s.enqueueEvent(ctx, ltx, domain.EventCommissionReportReady, actor.RequestID, contracts.MonthlyReportGeneratedPayload{
			Period:            report.Period,
			TotalCommissions:  report.TotalCommissions,
			TotalTransactions: report.TotalTransactions,
			GeneratedAt:       now.Format(time.RFC3339),
		}, report.Period, now)
	}); err != nil {
		return domain.MonthlyCommissionReport{}, err
	}

	s.recordAudit(ctx, AuditEvent{
		Action:    domain.AuditActionMonthlyReportGenerated,
		Category:  domain.AuditCategorySystem,
		Severity:  domain.SeverityLow,
		ActorID:   actor.SubjectID,
		ActorRole: actor.Role,
		Amount:    report.TotalCommissions,
		Metadata: map[string]any{
			"period":             report.Period,
			"total_transactions": report.TotalTransactions,
		},
		RequestID: actor.RequestID,
	})
	return report, nil
}

// GetMonthlyReport returns a stored report. Admin only.
func (s *Service) GetMonthlyReport(ctx context.Context, actor Actor, period string) (out domain.MonthlyCommissionReport, err error) {
	start := time.Now()
	defer func() { err = s.finish(ctx, "get_monthly_report", start, err) }()

	if err := requireActor(actor); err != nil {
		return domain.MonthlyCommissionReport{}, err
	}
	if actor.Role != domain.RoleAdmin {
		return domain.MonthlyCommissionReport{}, s.denyAccess(ctx, actor, "get_monthly_report", "", "")
	}
	period = strings.TrimSpace(period)
	if _, _, err := domain.PeriodBounds(period); err != nil {
		return domain.MonthlyCommissionReport{}, fmt.Errorf("%w: period must be YYYY-MM", domain.ErrInvalidArgument)
	}
	report, err := s.store.GetMonthlyReport(ctx, period)
	if err != nil {
		return domain.MonthlyCommissionReport{}, notFoundAs(err, "no report for %s", period)
	}
	return report, nil
}

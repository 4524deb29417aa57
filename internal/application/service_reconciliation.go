package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/viralforge/escrow-commission-engine/internal/domain"
	"github.com/viralforge/escrow-commission-engine/internal/ports"
)

var errSkipped = errors.New("skipped")

// RunJob runs one reconciliation job by name.
func (s *Service) RunJob(ctx context.Context, name string) (JobResult, error) {
	switch strings.TrimSpace(name) {
	case JobExpireQRCodes:
		return s.ExpireQRCodes(ctx), nil
	case JobCancelStuckDeposits:
		return s.CancelStuckDeposits(ctx), nil
	case JobRecomputeTiers:
		return s.RecomputeTiers(ctx), nil
	case JobMonthlyReport:
		return s.RunMonthlyReport(ctx), nil
	default:
		return JobResult{}, fmt.Errorf("%w: unknown job %q", domain.ErrInvalidArgument, name)
	}
}

// ExpireQRCodes marks active QR codes past their expiry as expired.
func (s *Service) ExpireQRCodes(ctx context.Context) JobResult {
	result := s.startJob(JobExpireQRCodes)
	now := s.nowFn()
	afterID := ""
	for batch := 0; batch < s.cfg.ReconciliationMaxBatches; batch++ {
		page, err := s.store.ListExpiredQRs(ctx, now, afterID, s.cfg.ReconciliationBatchSize)
		if err != nil {
			result.Errors = append(result.Errors, JobError{Message: PublicMessage(err)})
			s.logJobError(ctx, result.Job, "", err)
			break
		}
		for _, qr := range page {
			s.tally(ctx, &result, qr.QRID, s.expireQR(ctx, qr.QRID, now))
		}
		if len(page) < s.cfg.ReconciliationBatchSize {
			break
		}
		afterID = page[len(page)-1].QRID
	}
	return s.finishJob(ctx, result)
}

func (s *Service) expireQR(ctx context.Context, qrID string, now time.Time) error {
	return s.store.RunAtomic(ctx, func(ltx ports.LedgerTx) error {
		qr, err := ltx.GetQR(ctx, qrID)
		if err != nil {
			return err
		}
		if !qr.ExpiredAt(now) {
			return errSkipped
		}
		qr.State = domain.QRStateExpired
		qr.UpdatedAt = now
		return ltx.UpdateQR(ctx, qr)
	})
}

// CancelStuckDeposits cancels transactions that stayed in pending_deposit
// longer than the deposit timeout, together with their contracts.
func (s *Service) CancelStuckDeposits(ctx context.Context) JobResult {
	result := s.startJob(JobCancelStuckDeposits)
	cutoff := s.nowFn().Add(-s.cfg.DepositTimeout)
	actor := SystemActor("reconciliation:" + JobCancelStuckDeposits)
	afterID := ""
	for batch := 0; batch < s.cfg.ReconciliationMaxBatches; batch++ {
		page, err := s.store.ListTransactionsByState(ctx, domain.TransactionStatePendingDeposit, cutoff, afterID, s.cfg.ReconciliationBatchSize)
		if err != nil {
			result.Errors = append(result.Errors, JobError{Message: PublicMessage(err)})
			s.logJobError(ctx, result.Job, "", err)
			break
		}
		for _, tx := range page {
			_, err := s.cancelPending(ctx, actor, tx.TransactionID, domain.CancellationReasonTimeoutDeposit, "", cutoff)
			if errors.Is(err, domain.ErrFailedPrecondition) {
				err = errSkipped
			}
			s.tally(ctx, &result, tx.TransactionID, err)
		}
		if len(page) < s.cfg.ReconciliationBatchSize {
			break
		}
		afterID = page[len(page)-1].TransactionID
	}
	return s.finishJob(ctx, result)
}

// RecomputeTiers refreshes the stored tier of every specialist.
func (s *Service) RecomputeTiers(ctx context.Context) JobResult {
	result := s.startJob(JobRecomputeTiers)
	now := s.nowFn()
	afterID := ""
	for batch := 0; batch < s.cfg.ReconciliationMaxBatches; batch++ {
		page, err := s.store.ListSpecialists(ctx, afterID, s.cfg.ReconciliationBatchSize)
		if err != nil {
			result.Errors = append(result.Errors, JobError{Message: PublicMessage(err)})
			s.logJobError(ctx, result.Job, "", err)
			break
		}
		for _, account := range page {
			tier, err := s.computeSpecialistTier(ctx, account.UserID, now)
			if err == nil {
				err = s.persistTier(ctx, tier)
			}
			s.tally(ctx, &result, account.UserID, err)
		}
		if len(page) < s.cfg.ReconciliationBatchSize {
			break
		}
		afterID = page[len(page)-1].UserID
	}
	return s.finishJob(ctx, result)
}

// RunMonthlyReport generates the report for the month before the current one.
func (s *Service) RunMonthlyReport(ctx context.Context) JobResult {
	result := s.startJob(JobMonthlyReport)
	now := s.nowFn()
	firstOfMonth := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	period := domain.PeriodOf(firstOfMonth.AddDate(0, -1, 0))
	_, err := s.GenerateMonthlyReport(ctx, SystemActor("reconciliation:"+JobMonthlyReport), period)
	s.tally(ctx, &result, period, err)
	return s.finishJob(ctx, result)
}

func (s *Service) startJob(name string) JobResult {
	return JobResult{Job: name, Errors: []JobError{}, StartedAt: s.nowFn()}
}

func (s *Service) tally(ctx context.Context, result *JobResult, itemID string, err error) {
	switch {
	case err == nil:
		result.ItemsProcessed++
	case errors.Is(err, errSkipped):
		result.ItemsSkipped++
	default:
		result.Errors = append(result.Errors, JobError{ItemID: itemID, Message: PublicMessage(err)})
		s.logJobError(ctx, result.Job, itemID, err)
	}
}

func (s *Service) finishJob(ctx context.Context, result JobResult) JobResult {
	result.FinishedAt = s.nowFn()
	s.metrics.ObserveJob(result.Job, result.ItemsProcessed, len(result.Errors), result.FinishedAt.Sub(result.StartedAt))
	s.logger.InfoContext(ctx, "reconciliation job finished",
		"module", "application.reconciliation",
		"layer", "application",
		"operation", result.Job,
		"outcome", jobOutcome(result),
		"items_processed", result.ItemsProcessed,
		"items_skipped", result.ItemsSkipped,
		"errors", len(result.Errors),
	)
	return result
}

func (s *Service) logJobError(ctx context.Context, job, itemID string, err error) {
	s.logger.ErrorContext(ctx, "reconciliation item failed",
		"module", "application.reconciliation",
		"layer", "application",
		"operation", job,
		"outcome", "failure",
		"item_id", itemID,
		"error", err,
	)
}

func jobOutcome(result JobResult) string {
	if len(result.Errors) > 0 {
		return "partial"
	}
	return "success"
}

// PublicMessage is the sanitized message of err as shown to callers.
func PublicMessage(err error) string {
	_, msg := PublicError(err)
	return msg
}

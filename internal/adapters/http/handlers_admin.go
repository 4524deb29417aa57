package http

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/viralforge/escrow-commission-engine/internal/application"
	"github.com/viralforge/escrow-commission-engine/internal/contracts"
	"github.com/viralforge/escrow-commission-engine/internal/domain"
)

func (h *Handler) refundFunds(w http.ResponseWriter, r *http.Request) {
	var req contracts.RefundRequest
	if err := decodeBody(r, &req); err != nil {
		writeValidationError(r.Context(), w, "refund_funds", err)
		return
	}
	tx, err := h.service.RefundFunds(r.Context(), actorFromContext(r.Context()), application.RefundFundsInput{
		ContractID: chi.URLParam(r, "contract_id"),
		Reason:     req.Reason,
	})
	if err != nil {
		writeMappedError(r.Context(), w, "refund_funds", err)
		return
	}
	writeSuccess(w, http.StatusOK, "funds refunded", toTransactionResponse(tx))
}

func (h *Handler) cancelTransaction(w http.ResponseWriter, r *http.Request) {
	var req contracts.CancelTransactionRequest
	if err := decodeBody(r, &req); err != nil {
		writeValidationError(r.Context(), w, "cancel_transaction", err)
		return
	}
	tx, err := h.service.CancelTransaction(r.Context(), actorFromContext(r.Context()), application.CancelTransactionInput{
		TransactionID: chi.URLParam(r, "transaction_id"),
		Reason:        req.Reason,
	})
	if err != nil {
		writeMappedError(r.Context(), w, "cancel_transaction", err)
		return
	}
	writeSuccess(w, http.StatusOK, "transaction cancelled", toTransactionResponse(tx))
}

func (h *Handler) resolveDispute(w http.ResponseWriter, r *http.Request) {
	var req contracts.ResolveDisputeRequest
	if err := decodeBody(r, &req); err != nil {
		writeValidationError(r.Context(), w, "resolve_dispute", err)
		return
	}
	tx, err := h.service.ResolveDispute(r.Context(), actorFromContext(r.Context()), application.ResolveDisputeInput{
		ContractID: chi.URLParam(r, "contract_id"),
		Outcome:    req.Outcome,
		Reason:     req.Reason,
	})
	if err != nil {
		writeMappedError(r.Context(), w, "resolve_dispute", err)
		return
	}
	writeSuccess(w, http.StatusOK, "dispute resolved", toTransactionResponse(tx))
}

func (h *Handler) commissionSummary(w http.ResponseWriter, r *http.Request) {
	period := strings.TrimSpace(r.URL.Query().Get("period"))
	if period == "" {
		period = domain.PeriodOf(time.Now().UTC())
	}
	summary, err := h.service.GetCommissionSummary(r.Context(), actorFromContext(r.Context()), period)
	if err != nil {
		writeMappedError(r.Context(), w, "get_commission_summary", err)
		return
	}
	writeSuccess(w, http.StatusOK, "", summary)
}

func (h *Handler) monthlyReport(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.GetMonthlyReport(r.Context(), actorFromContext(r.Context()), chi.URLParam(r, "period"))
	if err != nil {
		writeMappedError(r.Context(), w, "get_monthly_report", err)
		return
	}
	writeSuccess(w, http.StatusOK, "", report)
}

func (h *Handler) generateMonthlyReport(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.GenerateMonthlyReport(r.Context(), actorFromContext(r.Context()), chi.URLParam(r, "period"))
	if err != nil {
		writeMappedError(r.Context(), w, "generate_monthly_report", err)
		return
	}
	writeSuccess(w, http.StatusOK, "monthly report generated", report)
}

func (h *Handler) securityEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.SecurityEventFilter{
		Severity: domain.Severity(strings.ToLower(strings.TrimSpace(q.Get("severity")))),
		UserID:   strings.TrimSpace(q.Get("user_id")),
		Limit:    parseIntDefault(q.Get("limit"), 0),
	}
	if raw := strings.TrimSpace(q.Get("since")); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeValidationError(r.Context(), w, "list_security_events", fmt.Errorf("since: %w", err))
			return
		}
		filter.Since = &since
	}
	events, err := h.service.ListSecurityEvents(r.Context(), actorFromContext(r.Context()), filter)
	if err != nil {
		writeMappedError(r.Context(), w, "list_security_events", err)
		return
	}
	writeSuccess(w, http.StatusOK, "", events)
}

func (h *Handler) auditEntries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	entries, err := h.service.ListAuditEntries(r.Context(), actorFromContext(r.Context()),
		strings.TrimSpace(q.Get("contract_id")), parseIntDefault(q.Get("limit"), 0))
	if err != nil {
		writeMappedError(r.Context(), w, "list_audit_entries", err)
		return
	}
	writeSuccess(w, http.StatusOK, "", entries)
}

func (h *Handler) runJob(w http.ResponseWriter, r *http.Request) {
	actor := actorFromContext(r.Context())
	if actor.Role != domain.RoleAdmin {
		writeMappedError(r.Context(), w, "run_job", domain.ErrPermissionDenied)
		return
	}
	result, err := h.service.RunJob(r.Context(), chi.URLParam(r, "job"))
	if err != nil {
		writeMappedError(r.Context(), w, "run_job", err)
		return
	}
	writeSuccess(w, http.StatusOK, "job completed", toJobResultResponse(result))
}

func toJobResultResponse(result application.JobResult) contracts.JobResultResponse {
	errs := make([]contracts.JobErrorResponse, 0, len(result.Errors))
	for _, e := range result.Errors {
		errs = append(errs, contracts.JobErrorResponse{ItemID: e.ItemID, Message: e.Message})
	}
	return contracts.JobResultResponse{
		Job:            result.Job,
		ItemsProcessed: result.ItemsProcessed,
		ItemsSkipped:   result.ItemsSkipped,
		Errors:         errs,
		StartedAt:      formatTime(result.StartedAt),
		FinishedAt:     formatTime(result.FinishedAt),
	}
}

package http

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/viralforge/escrow-commission-engine/internal/application"
	"github.com/viralforge/escrow-commission-engine/internal/contracts"
	"github.com/viralforge/escrow-commission-engine/internal/domain"
)

func (h *Handler) createTransaction(w http.ResponseWriter, r *http.Request) {
	var req contracts.CreateTransactionRequest
	if err := decodeBody(r, &req); err != nil {
		writeValidationError(r.Context(), w, "create_transaction", err)
		return
	}
	result, err := h.service.CreateTransaction(r.Context(), actorFromContext(r.Context()), application.CreateTransactionInput{
		ContractID:   req.ContractID,
		ClientID:     req.ClientID,
		SpecialistID: req.SpecialistID,
		Amount:       req.Amount,
	})
	if err != nil {
		writeMappedError(r.Context(), w, "create_transaction", err)
		return
	}
	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	writeSuccess(w, status, "escrow transaction created", toCreateTransactionResponse(result))
}

func (h *Handler) confirmDeposit(w http.ResponseWriter, r *http.Request) {
	var req contracts.ConfirmDepositRequest
	if err := decodeBody(r, &req); err != nil {
		writeValidationError(r.Context(), w, "confirm_deposit", err)
		return
	}
	tx, err := h.service.ConfirmDeposit(r.Context(), actorFromContext(r.Context()), application.ConfirmDepositInput{
		TransactionID: chi.URLParam(r, "transaction_id"),
		PaymentRef:    req.PaymentRef,
	})
	if err != nil {
		writeMappedError(r.Context(), w, "confirm_deposit", err)
		return
	}
	writeSuccess(w, http.StatusOK, "deposit confirmed", toTransactionResponse(tx))
}

func (h *Handler) releaseFunds(w http.ResponseWriter, r *http.Request) {
	tx, err := h.service.ReleaseFunds(r.Context(), actorFromContext(r.Context()), application.ReleaseFundsInput{
		ContractID: chi.URLParam(r, "contract_id"),
	})
	if err != nil {
		writeMappedError(r.Context(), w, "release_funds", err)
		return
	}
	writeSuccess(w, http.StatusOK, "funds released", toTransactionResponse(tx))
}

func (h *Handler) getTransaction(w http.ResponseWriter, r *http.Request) {
	tx, err := h.service.GetTransaction(r.Context(), actorFromContext(r.Context()), chi.URLParam(r, "transaction_id"))
	if err != nil {
		writeMappedError(r.Context(), w, "get_transaction", err)
		return
	}
	writeSuccess(w, http.StatusOK, "", toTransactionResponse(tx))
}

func (h *Handler) specialistTier(w http.ResponseWriter, r *http.Request) {
	specialistID := strings.TrimSpace(chi.URLParam(r, "specialist_id"))
	if specialistID == "" {
		writeValidationError(r.Context(), w, "get_specialist_tier", domain.ErrInvalidArgument)
		return
	}
	writeSuccess(w, http.StatusOK, "", h.service.GetSpecialistTier(r.Context(), specialistID))
}

func toCreateTransactionResponse(result application.CreateTransactionResult) contracts.CreateTransactionResponse {
	tx := result.Transaction
	return contracts.CreateTransactionResponse{
		TransactionID:      tx.TransactionID,
		ContractID:         tx.ContractID,
		ReferenceCode:      tx.ReferenceCode,
		State:              string(tx.State),
		Amount:             tx.Amount,
		Currency:           tx.Currency,
		PlatformCommission: tx.PlatformCommission,
		SpecialistPayout:   tx.SpecialistPayout,
		CommissionRateBps:  tx.CommissionRateBps,
		Tier:               string(tx.Tier),
		PaymentIntentRef:   tx.PaymentIntentRef,
		ClientSecret:       result.ClientSecret,
		QRPayload:          result.QRPayload,
		QRExpiresAt:        formatTime(result.QRExpiresAt),
		Replayed:           result.Replayed,
	}
}

func toTransactionResponse(tx domain.EscrowTransaction) contracts.TransactionResponse {
	return contracts.TransactionResponse{
		TransactionID:      tx.TransactionID,
		ContractID:         tx.ContractID,
		ClientID:           tx.ClientID,
		SpecialistID:       tx.SpecialistID,
		ReferenceCode:      tx.ReferenceCode,
		State:              string(tx.State),
		Amount:             tx.Amount,
		Currency:           tx.Currency,
		PlatformCommission: tx.PlatformCommission,
		SpecialistPayout:   tx.SpecialistPayout,
		CommissionRateBps:  tx.CommissionRateBps,
		Tier:               string(tx.Tier),
		PaymentIntentRef:   tx.PaymentIntentRef,
		TransferRef:        tx.TransferRef,
		RefundRef:          tx.RefundRef,
		CancellationReason: tx.CancellationReason,
		CreatedAt:          formatTime(tx.CreatedAt),
		UpdatedAt:          formatTime(tx.UpdatedAt),
		DepositedAt:        formatTimePtr(tx.DepositedAt),
		ReleasedAt:         formatTimePtr(tx.ReleasedAt),
		RefundedAt:         formatTimePtr(tx.RefundedAt),
		CancelledAt:        formatTimePtr(tx.CancelledAt),
	}
}

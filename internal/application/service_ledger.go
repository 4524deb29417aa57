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

// CreateTransaction opens escrow for a contract awaiting deposit. The
// specialist's current commission rate is frozen into the transaction. A
// retried call for the same contract, parties and amount returns the pending
// transaction it created the first time.
func (s *Service) CreateTransaction(ctx context.Context, actor Actor, input CreateTransactionInput) (result CreateTransactionResult, err error) {
	start := time.Now()
	defer func() { err = s.finish(ctx, "create_transaction", start, err) }()

	if err := requireActor(actor); err != nil {
		return CreateTransactionResult{}, err
	}
	input.ContractID = strings.TrimSpace(input.ContractID)
	input.ClientID = strings.TrimSpace(input.ClientID)
	input.SpecialistID = strings.TrimSpace(input.SpecialistID)
	if input.ContractID == "" || input.ClientID == "" || input.SpecialistID == "" {
		return CreateTransactionResult{}, fmt.Errorf("%w: contract_id, client_id and specialist_id are required", domain.ErrInvalidArgument)
	}
	if input.Amount <= 0 {
		return CreateTransactionResult{}, fmt.Errorf("%w: amount must be positive", domain.ErrInvalidArgument)
	}
	if input.Amount > domain.MaxTransactionAmount {
		return CreateTransactionResult{}, fmt.Errorf("%w: amount exceeds maximum", domain.ErrInvalidArgument)
	}
	if input.ClientID == input.SpecialistID {
		return CreateTransactionResult{}, fmt.Errorf("%w: client and specialist must differ", domain.ErrInvalidArgument)
	}
	if !actor.privileged() && actor.SubjectID != input.ClientID {
		return CreateTransactionResult{}, s.denyAccess(ctx, actor, "create_transaction", input.ContractID, "")
	}

	contract, err := s.store.GetContract(ctx, input.ContractID)
	if err != nil {
		return CreateTransactionResult{}, notFoundAs(err, "contract %s", input.ContractID)
	}
	if contract.ClientID != input.ClientID || contract.SpecialistID != input.SpecialistID {
		return CreateTransactionResult{}, fmt.Errorf("%w: parties do not match contract", domain.ErrInvalidArgument)
	}
	if contract.State != domain.ContractStateAwaitingDeposit {
		return CreateTransactionResult{}, fmt.Errorf("%w: contract is %s, not awaiting deposit", domain.ErrFailedPrecondition, contract.State)
	}
	existing, err := s.store.FindContractTransaction(ctx, contract.ContractID, domain.NonTerminalTransactionStates()...)
	switch {
	case err == nil:
		if existing.State == domain.TransactionStatePendingDeposit && existing.Amount == input.Amount &&
			existing.ClientID == input.ClientID && existing.SpecialistID == input.SpecialistID {
			return s.creationResult(existing, true), nil
		}
		return CreateTransactionResult{}, fmt.Errorf("%w: contract already has an open escrow transaction", domain.ErrFailedPrecondition)
	case !errors.Is(err, domain.ErrNotFound):
		return CreateTransactionResult{}, err
	}

	client, err := s.store.GetAccount(ctx, input.ClientID)
	if err != nil {
		return CreateTransactionResult{}, notFoundAs(err, "client account")
	}
	if client.Suspended {
		return CreateTransactionResult{}, fmt.Errorf("%w: account suspended", domain.ErrPermissionDenied)
	}

	tier := s.GetSpecialistTier(ctx, input.SpecialistID)
	commission, payout, err := domain.CalculateCommission(input.Amount, tier.RateBps)
	if err != nil {
		return CreateTransactionResult{}, err
	}

	now := s.nowFn()
	transactionID := uuid.NewString()
	referenceCode := domain.NewReferenceCode(now, transactionID)
	var intent ports.PaymentIntent
	if err := s.callGateway(ctx, "create_intent", func(ctx context.Context) error {
		var callErr error
		intent, callErr = s.gateway.CreateIntent(ctx, ports.CreateIntentRequest{
			Amount:         input.Amount,
			Currency:       s.cfg.Currency,
			IdempotencyKey: "intent-" + transactionID,
			Metadata: map[string]string{
				"transaction_id": transactionID,
				"contract_id":    input.ContractID,
				"reference_code": referenceCode,
			},
		})
		return callErr
	}); err != nil {
		return CreateTransactionResult{}, err
	}

	tx := domain.EscrowTransaction{
		TransactionID:      transactionID,
		ContractID:         input.ContractID,
		ClientID:           input.ClientID,
		SpecialistID:       input.SpecialistID,
		Amount:             input.Amount,
		Currency:           s.cfg.Currency,
		PlatformCommission: commission,
		SpecialistPayout:   payout,
		CommissionRateBps:  tier.RateBps,
		Tier:               tier.Tier,
		State:              domain.TransactionStatePendingDeposit,
		PaymentIntentRef:   intent.ID,
		ClientSecret:       intent.ClientSecret,
		ReferenceCode:      referenceCode,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	qr := domain.PaymentQR{
		QRID:           uuid.NewString(),
		TransactionID:  tx.TransactionID,
		ContractID:     tx.ContractID,
		Amount:         tx.Amount,
		EncodedPayload: domain.EncodeQRPayload(referenceCode, intent.ID, tx.Amount, tx.Currency),
		ExpiresAt:      now.Add(s.cfg.QRTTL),
		State:          domain.QRStateActive,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	err = s.store.RunAtomic(ctx, func(ltx ports.LedgerTx) error {
		current, err := ltx.GetContract(ctx, tx.ContractID)
		if err != nil {
			return err
		}
		if current.State != domain.ContractStateAwaitingDeposit {
			return fmt.Errorf("%w: contract is %s, not awaiting deposit", domain.ErrFailedPrecondition, current.State)
		}
		if _, err := ltx.FindContractTransaction(ctx, tx.ContractID, domain.NonTerminalTransactionStates()...); err == nil {
			return fmt.Errorf("%w: contract already has an open escrow transaction", domain.ErrFailedPrecondition)
		} else if !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		if err := ltx.CreateTransaction(ctx, tx); err != nil {
			return err
		}
		if err := ltx.CreateQR(ctx, qr); err != nil {
			return err
		}
		return s.enqueueEvent(ctx, ltx, domain.EventEscrowCreated, actor.RequestID, contracts.EscrowCreatedPayload{
			TransactionID:      tx.TransactionID,
			ContractID:         tx.ContractID,
			ClientID:           tx.ClientID,
			SpecialistID:       tx.SpecialistID,
			Amount:             tx.Amount,
			Currency:           tx.Currency,
			PlatformCommission: tx.PlatformCommission,
			Tier:               string(tx.Tier),
			ReferenceCode:      tx.ReferenceCode,
			CreatedAt:          now.Format(time.RFC3339),
		}, tx.ContractID, now)
	})
	if err != nil {
		s.logger.WarnContext(ctx, "payment intent left unused after failed escrow write",
			"module", "application.ledger",
			"layer", "application",
			"operation", "create_transaction",
			"outcome", "failure",
			"payment_intent_ref", intent.ID,
			"contract_id", tx.ContractID,
		)
		return CreateTransactionResult{}, err
	}

	s.recordAudit(ctx, AuditEvent{
		Action:        domain.AuditActionEscrowCreated,
		Category:      domain.AuditCategoryFinancial,
		Severity:      domain.SeverityLow,
		ActorID:       actor.SubjectID,
		ActorRole:     actor.Role,
		ContractID:    tx.ContractID,
		TransactionID: tx.TransactionID,
		SubjectUserID: tx.ClientID,
		Amount:        tx.Amount,
		After:         tx.Snapshot(),
		Metadata: map[string]any{
			"tier":           string(tier.Tier),
			"rate_bps":       tier.RateBps,
			"tier_fallback":  tier.Fallback,
			"reference_code": tx.ReferenceCode,
		},
		RequestID: actor.RequestID,
	})
	return s.creationResult(tx, false), nil
}

func (s *Service) creationResult(tx domain.EscrowTransaction, replayed bool) CreateTransactionResult {
	return CreateTransactionResult{
		Transaction:  tx,
		ClientSecret: tx.ClientSecret,
		QRPayload:    domain.EncodeQRPayload(tx.ReferenceCode, tx.PaymentIntentRef, tx.Amount, tx.Currency),
		QRExpiresAt:  tx.CreatedAt.Add(s.cfg.QRTTL),
		Replayed:     replayed,
	}
}

// ConfirmDeposit moves a pending transaction to held once the gateway reports
// the payment intent as succeeded. Only the first call applies; later calls
// fail the pending_deposit precondition without touching balances.
func (s *Service) ConfirmDeposit(ctx context.Context, actor Actor, input ConfirmDepositInput) (out domain.EscrowTransaction, err error) {
	start := time.Now()
	defer func() { err = s.finish(ctx, "confirm_deposit", start, err) }()

	if err := requireActor(actor); err != nil {
		return domain.EscrowTransaction{}, err
	}
	input.TransactionID = strings.TrimSpace(input.TransactionID)
	input.PaymentRef = strings.TrimSpace(input.PaymentRef)
	if input.TransactionID == "" || input.PaymentRef == "" {
		return domain.EscrowTransaction{}, fmt.Errorf("%w: transaction_id and payment_ref are required", domain.ErrInvalidArgument)
	}
	current, err := s.store.GetTransaction(ctx, input.TransactionID)
	if err != nil {
		return domain.EscrowTransaction{}, notFoundAs(err, "transaction %s", input.TransactionID)
	}
	if !actor.privileged() && actor.SubjectID != current.ClientID {
		return domain.EscrowTransaction{}, s.denyAccess(ctx, actor, "confirm_deposit", current.ContractID, current.TransactionID)
	}
	if current.State != domain.TransactionStatePendingDeposit {
		return domain.EscrowTransaction{}, fmt.Errorf("%w: transaction is %s, not pending deposit", domain.ErrFailedPrecondition, current.State)
	}
	if input.PaymentRef != current.PaymentIntentRef {
		return domain.EscrowTransaction{}, fmt.Errorf("%w: payment reference does not match transaction", domain.ErrInvalidArgument)
	}

	var intent ports.PaymentIntent
	if err := s.callGateway(ctx, "get_intent", func(ctx context.Context) error {
		var callErr error
		intent, callErr = s.gateway.GetIntent(ctx, input.PaymentRef)
		return callErr
	}); err != nil {
		return domain.EscrowTransaction{}, err
	}
	if intent.Status != ports.IntentStatusSucceeded {
		return domain.EscrowTransaction{}, fmt.Errorf("%w: payment status is %s", domain.ErrFailedPrecondition, intent.Status)
	}

	now := s.nowFn()
	var before map[string]any
	err = s.store.RunAtomic(ctx, func(ltx ports.LedgerTx) error {
		locked, err := ltx.GetTransaction(ctx, input.TransactionID)
		if err != nil {
			return err
		}
		if locked.State != domain.TransactionStatePendingDeposit {
			return fmt.Errorf("%w: transaction is %s, not pending deposit", domain.ErrFailedPrecondition, locked.State)
		}
		before = locked.Snapshot()
		if err := locked.Transition(domain.TransactionStateHeld, now); err != nil {
			return err
		}
		if err := ltx.UpdateTransaction(ctx, locked); err != nil {
			return err
		}

		contract, err := ltx.GetContract(ctx, locked.ContractID)
		if err != nil {
			return err
		}
		if contract.State == domain.ContractStateAwaitingDeposit {
			contract.State = domain.ContractStateInProgress
			contract.UpdatedAt = now
			if err := ltx.UpdateContract(ctx, contract); err != nil {
				return err
			}
		}

		qr, err := ltx.GetQRByTransaction(ctx, locked.TransactionID)
		switch {
		case err == nil && qr.State != domain.QRStateUsed:
			qr.State = domain.QRStateUsed
			qr.UpdatedAt = now
			if err := ltx.UpdateQR(ctx, qr); err != nil {
				return err
			}
		case err != nil && !errors.Is(err, domain.ErrNotFound):
			return err
		}

		client, err := ltx.GetAccount(ctx, locked.ClientID)
		if err != nil {
			return err
		}
		client.EscrowBalance += locked.Amount
		client.UpdatedAt = now
		if err := ltx.UpdateAccount(ctx, client); err != nil {
			return err
		}

		out = locked
		return s.enqueueStateChange(ctx, ltx, domain.EventEscrowFunded, actor.RequestID, locked, domain.TransactionStatePendingDeposit, "", now)
	})
	if err != nil {
		return domain.EscrowTransaction{}, err
	}

	s.recordAudit(ctx, AuditEvent{
		Action:        domain.AuditActionEscrowFunded,
		Category:      domain.AuditCategoryFinancial,
		Severity:      domain.SeverityLow,
		ActorID:       actor.SubjectID,
		ActorRole:     actor.Role,
		ContractID:    out.ContractID,
		TransactionID: out.TransactionID,
		SubjectUserID: out.ClientID,
		Amount:        out.Amount,
		Before:        before,
		After:         out.Snapshot(),
		Metadata:      map[string]any{"payment_ref": input.PaymentRef},
		RequestID:     actor.RequestID,
	})
	return out, nil
}

// ConfirmDepositFromGateway applies a verified gateway notification. A
// redelivered notification for an already funded transaction is accepted.
// A payment that lands after the transaction was cancelled stays rejected
// and is flagged for an admin refund.
func (s *Service) ConfirmDepositFromGateway(ctx context.Context, requestID, transactionID, intentID string) error {
	_, err := s.ConfirmDeposit(ctx, SystemActor(requestID), ConfirmDepositInput{TransactionID: transactionID, PaymentRef: intentID})
	if err == nil || !errors.Is(err, domain.ErrFailedPrecondition) {
		return err
	}
	current, getErr := s.store.GetTransaction(ctx, transactionID)
	if getErr != nil || current.PaymentIntentRef != intentID {
		return err
	}
	switch current.State {
	case domain.TransactionStateHeld, domain.TransactionStateReleased,
		domain.TransactionStateRefunded, domain.TransactionStateDisputed:
		return nil
	case domain.TransactionStateCancelled:
		s.flagPaymentAfterCancellation(ctx, requestID, current)
	}
	return err
}

// flagPaymentAfterCancellation records a captured payment on a cancelled
// transaction once per intent, however often the gateway redelivers.
func (s *Service) flagPaymentAfterCancellation(ctx context.Context, requestID string, tx domain.EscrowTransaction) {
	now := s.nowFn()
	dedupKey := "payment_after_cancellation:" + tx.PaymentIntentRef
	if s.eventDedup != nil {
		dup, err := s.eventDedup.IsDuplicate(ctx, dedupKey, now)
		if err != nil {
			s.logger.WarnContext(ctx, "payment dedup lookup failed",
				"module", "application.ledger",
				"layer", "application",
				"operation", "confirm_deposit_from_gateway",
				"outcome", "failure",
				"transaction_id", tx.TransactionID,
				"error", err,
			)
		} else if dup {
			return
		}
	}

	s.recordAudit(ctx, AuditEvent{
		Action:        domain.AuditActionPaymentAfterCancellation,
		Category:      domain.AuditCategoryFinancial,
		Severity:      domain.SeverityHigh,
		ActorID:       "system",
		ActorRole:     domain.RoleSystem,
		ContractID:    tx.ContractID,
		TransactionID: tx.TransactionID,
		SubjectUserID: tx.ClientID,
		Amount:        tx.Amount,
		After:         tx.Snapshot(),
		Metadata:      map[string]any{"payment_ref": tx.PaymentIntentRef, "cancellation_reason": tx.CancellationReason},
		RequestID:     requestID,
	})
	s.emitDetection(ctx, domain.SecurityEvent{
		Type:          domain.SecurityEventPaymentAfterCancellation,
		Severity:      domain.SeverityHigh,
		UserID:        tx.ClientID,
		ContractID:    tx.ContractID,
		TransactionID: tx.TransactionID,
		Details: map[string]any{
			"amount":      tx.Amount,
			"payment_ref": tx.PaymentIntentRef,
		},
		DetectedAt: now,
	})
	if s.eventDedup == nil {
		return
	}
	if err := s.eventDedup.MarkProcessed(ctx, dedupKey, string(domain.SecurityEventPaymentAfterCancellation), now.Add(s.cfg.EventDedupTTL)); err != nil {
		s.logger.WarnContext(ctx, "payment dedup mark failed",
			"module", "application.ledger",
			"layer", "application",
			"operation", "confirm_deposit_from_gateway",
			"outcome", "failure",
			"transaction_id", tx.TransactionID,
			"error", err,
		)
	}
}

// ReleaseFunds pays the specialist once the client approves delivered work.
func (s *Service) ReleaseFunds(ctx context.Context, actor Actor, input ReleaseFundsInput) (out domain.EscrowTransaction, err error) {
	start := time.Now()
	defer func() { err = s.finish(ctx, "release_funds", start, err) }()

	if err := requireActor(actor); err != nil {
		return domain.EscrowTransaction{}, err
	}
	input.ContractID = strings.TrimSpace(input.ContractID)
	if input.ContractID == "" {
		return domain.EscrowTransaction{}, fmt.Errorf("%w: contract_id is required", domain.ErrInvalidArgument)
	}
	contract, err := s.store.GetContract(ctx, input.ContractID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.EscrowTransaction{}, s.denyAccess(ctx, actor, "release_funds", input.ContractID, "")
		}
		return domain.EscrowTransaction{}, err
	}
	if contract.ClientID != actor.SubjectID {
		return domain.EscrowTransaction{}, s.denyAccess(ctx, actor, "release_funds", input.ContractID, "")
	}
	if contract.State != domain.ContractStateDelivered {
		return domain.EscrowTransaction{}, fmt.Errorf("%w: contract is %s, not delivered", domain.ErrFailedPrecondition, contract.State)
	}
	held, err := s.store.FindContractTransaction(ctx, contract.ContractID, domain.TransactionStateHeld)
	if err != nil {
		return domain.EscrowTransaction{}, notFoundAs(err, "no held transaction for contract %s", contract.ContractID)
	}
	return s.release(ctx, actor, held, domain.TransactionStateHeld, domain.CommissionTypeEscrowRelease)
}

func (s *Service) release(ctx context.Context, actor Actor, tx domain.EscrowTransaction, source domain.TransactionState, commissionType domain.CommissionType) (domain.EscrowTransaction, error) {
	specialist, err := s.store.GetAccount(ctx, tx.SpecialistID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return domain.EscrowTransaction{}, err
	}
	if err != nil || strings.TrimSpace(specialist.PayoutDestination) == "" {
		return domain.EscrowTransaction{}, fmt.Errorf("%w: specialist has no payout destination", domain.ErrFailedPrecondition)
	}

	var transferRef string
	if err := s.callGateway(ctx, "create_transfer", func(ctx context.Context) error {
		var callErr error
		transferRef, callErr = s.gateway.CreateTransfer(ctx, ports.TransferRequest{
			Amount:         tx.SpecialistPayout,
			Currency:       tx.Currency,
			Destination:    specialist.PayoutDestination,
			IdempotencyKey: "release-" + tx.TransactionID,
			Metadata: map[string]string{
				"transaction_id": tx.TransactionID,
				"contract_id":    tx.ContractID,
			},
		})
		return callErr
	}); err != nil {
		return domain.EscrowTransaction{}, err
	}

	now := s.nowFn()
	var (
		before   map[string]any
		released domain.EscrowTransaction
		clamped  bool
	)
	err = s.store.RunAtomic(ctx, func(ltx ports.LedgerTx) error {
		locked, err := ltx.GetTransaction(ctx, tx.TransactionID)
		if err != nil {
			return err
		}
		if locked.State != source {
			return fmt.Errorf("%w: transaction is %s, not %s", domain.ErrFailedPrecondition, locked.State, source)
		}
		before = locked.Snapshot()
		if err := locked.Transition(domain.TransactionStateReleased, now); err != nil {
			return err
		}
		locked.TransferRef = transferRef
		if err := ltx.UpdateTransaction(ctx, locked); err != nil {
			return err
		}

		contract, err := ltx.GetContract(ctx, locked.ContractID)
		if err != nil {
			return err
		}
		contract.State = domain.ContractStateCompleted
		contract.UpdatedAt = now
		if err := ltx.UpdateContract(ctx, contract); err != nil {
			return err
		}

		client, err := ltx.GetAccount(ctx, locked.ClientID)
		if err != nil {
			return err
		}
		clamped = client.DebitEscrow(locked.Amount, now)
		if err := ltx.UpdateAccount(ctx, client); err != nil {
			return err
		}

		payee, err := ltx.GetAccount(ctx, locked.SpecialistID)
		if err != nil {
			return err
		}
		payee.LifetimeEarnings += locked.SpecialistPayout
		payee.CompletedJobs++
		payee.UpdatedAt = now
		if err := ltx.UpdateAccount(ctx, payee); err != nil {
			return err
		}

		commission := domain.Commission{
			CommissionID:  uuid.NewString(),
			TransactionID: locked.TransactionID,
			ContractID:    locked.ContractID,
			SpecialistID:  locked.SpecialistID,
			Amount:        locked.PlatformCommission,
			Type:          commissionType,
			CreatedAt:     now,
		}
		if err := ltx.CreateCommission(ctx, commission); err != nil {
			return err
		}
		if err := s.applyCommissionToSummary(ctx, ltx, commission, now); err != nil {
			return err
		}

		released = locked
		return s.enqueueEvent(ctx, ltx, domain.EventEscrowReleased, actor.RequestID, contracts.EscrowReleasedPayload{
			TransactionID:      locked.TransactionID,
			ContractID:         locked.ContractID,
			ClientID:           locked.ClientID,
			SpecialistID:       locked.SpecialistID,
			Amount:             locked.Amount,
			PlatformCommission: locked.PlatformCommission,
			SpecialistPayout:   locked.SpecialistPayout,
			CommissionType:     string(commissionType),
			ReleasedAt:         now.Format(time.RFC3339),
		}, locked.ContractID, now)
	})
	if err != nil {
		return domain.EscrowTransaction{}, err
	}
	if clamped {
		s.logger.WarnContext(ctx, "client escrow balance clamped at zero",
			"module", "application.ledger",
			"layer", "application",
			"operation", "release_funds",
			"outcome", "warning",
			"transaction_id", released.TransactionID,
			"client_id", released.ClientID,
		)
	}

	s.recordAudit(ctx, AuditEvent{
		Action:        domain.AuditActionEscrowReleased,
		Category:      domain.AuditCategoryFinancial,
		Severity:      domain.SeverityLow,
		ActorID:       actor.SubjectID,
		ActorRole:     actor.Role,
		ContractID:    released.ContractID,
		TransactionID: released.TransactionID,
		SubjectUserID: released.ClientID,
		Amount:        released.Amount,
		Before:        before,
		After:         released.Snapshot(),
		Metadata: map[string]any{
			"commission_type":    string(commissionType),
			"specialist_payout":  released.SpecialistPayout,
			"payout_destination": specialist.PayoutDestination,
		},
		RequestID: actor.RequestID,
	})
	return released, nil
}

// RefundFunds returns the full amount to the client. Admin only.
func (s *Service) RefundFunds(ctx context.Context, actor Actor, input RefundFundsInput) (out domain.EscrowTransaction, err error) {
	start := time.Now()
	defer func() { err = s.finish(ctx, "refund_funds", start, err) }()

	if err := requireActor(actor); err != nil {
		return domain.EscrowTransaction{}, err
	}
	if actor.Role != domain.RoleAdmin {
		return domain.EscrowTransaction{}, s.denyAccess(ctx, actor, "refund_funds", strings.TrimSpace(input.ContractID), "")
	}
	input.ContractID = strings.TrimSpace(input.ContractID)
	input.Reason = strings.TrimSpace(input.Reason)
	if input.ContractID == "" || input.Reason == "" {
		return domain.EscrowTransaction{}, fmt.Errorf("%w: contract_id and reason are required", domain.ErrInvalidArgument)
	}
	tx, err := s.store.FindContractTransaction(ctx, input.ContractID, domain.TransactionStateHeld, domain.TransactionStateDisputed)
	if err != nil {
		return domain.EscrowTransaction{}, notFoundAs(err, "no refundable transaction for contract %s", input.ContractID)
	}
	return s.refund(ctx, actor, tx, input.Reason, domain.TransactionStateHeld, domain.TransactionStateDisputed)
}

func (s *Service) refund(ctx context.Context, actor Actor, tx domain.EscrowTransaction, reason string, allowed ...domain.TransactionState) (domain.EscrowTransaction, error) {
	var refundRef string
	if err := s.callGateway(ctx, "create_refund", func(ctx context.Context) error {
		var callErr error
		refundRef, callErr = s.gateway.CreateRefund(ctx, ports.RefundRequest{
			PaymentIntentID: tx.PaymentIntentRef,
			Amount:          tx.Amount,
			IdempotencyKey:  "refund-" + tx.TransactionID,
			Metadata: map[string]string{
				"transaction_id": tx.TransactionID,
				"contract_id":    tx.ContractID,
			},
		})
		return callErr
	}); err != nil {
		return domain.EscrowTransaction{}, err
	}

	now := s.nowFn()
	var (
		before   map[string]any
		refunded domain.EscrowTransaction
		from     domain.TransactionState
	)
	err := s.store.RunAtomic(ctx, func(ltx ports.LedgerTx) error {
		locked, err := ltx.GetTransaction(ctx, tx.TransactionID)
		if err != nil {
			return err
		}
		if !stateIn(locked.State, allowed) {
			return fmt.Errorf("%w: transaction is %s and cannot be refunded", domain.ErrFailedPrecondition, locked.State)
		}
		from = locked.State
		before = locked.Snapshot()
		if err := locked.Transition(domain.TransactionStateRefunded, now); err != nil {
			return err
		}
		locked.RefundRef = refundRef
		locked.RefundReason = reason
		if err := ltx.UpdateTransaction(ctx, locked); err != nil {
			return err
		}

		contract, err := ltx.GetContract(ctx, locked.ContractID)
		if err != nil {
			return err
		}
		contract.State = domain.ContractStateCancelled
		contract.UpdatedAt = now
		if err := ltx.UpdateContract(ctx, contract); err != nil {
			return err
		}

		client, err := ltx.GetAccount(ctx, locked.ClientID)
		if err != nil {
			return err
		}
		client.DebitEscrow(locked.Amount, now)
		if err := ltx.UpdateAccount(ctx, client); err != nil {
			return err
		}

		refunded = locked
		return s.enqueueStateChange(ctx, ltx, domain.EventEscrowRefunded, actor.RequestID, locked, from, reason, now)
	})
	if err != nil {
		return domain.EscrowTransaction{}, err
	}

	s.recordAudit(ctx, AuditEvent{
		Action:        domain.AuditActionEscrowRefunded,
		Category:      domain.AuditCategoryFinancial,
		Severity:      domain.SeverityMedium,
		ActorID:       actor.SubjectID,
		ActorRole:     actor.Role,
		ContractID:    refunded.ContractID,
		TransactionID: refunded.TransactionID,
		SubjectUserID: refunded.ClientID,
		Amount:        refunded.Amount,
		Before:        before,
		After:         refunded.Snapshot(),
		Metadata:      map[string]any{"reason": reason, "from_state": string(from)},
		RequestID:     actor.RequestID,
	})
	return refunded, nil
}

// CancelTransaction withdraws a pending deposit. Admin only. The contract is
// left awaiting deposit so a new transaction can be opened.
func (s *Service) CancelTransaction(ctx context.Context, actor Actor, input CancelTransactionInput) (out domain.EscrowTransaction, err error) {
	start := time.Now()
	defer func() { err = s.finish(ctx, "cancel_transaction", start, err) }()

	if err := requireActor(actor); err != nil {
		return domain.EscrowTransaction{}, err
	}
	if actor.Role != domain.RoleAdmin {
		return domain.EscrowTransaction{}, s.denyAccess(ctx, actor, "cancel_transaction", "", strings.TrimSpace(input.TransactionID))
	}
	input.TransactionID = strings.TrimSpace(input.TransactionID)
	input.Reason = strings.TrimSpace(input.Reason)
	if input.TransactionID == "" || input.Reason == "" {
		return domain.EscrowTransaction{}, fmt.Errorf("%w: transaction_id and reason are required", domain.ErrInvalidArgument)
	}
	current, err := s.store.GetTransaction(ctx, input.TransactionID)
	if err != nil {
		return domain.EscrowTransaction{}, notFoundAs(err, "transaction %s", input.TransactionID)
	}
	if current.State != domain.TransactionStatePendingDeposit {
		return domain.EscrowTransaction{}, fmt.Errorf("%w: transaction is %s, not pending deposit", domain.ErrFailedPrecondition, current.State)
	}
	return s.cancelPending(ctx, actor, current.TransactionID, domain.CancellationReasonAdmin, input.Reason, time.Time{})
}

// cancelPending cancels a pending_deposit transaction after re-checking its
// state under lock. A non-zero createdBefore also requires the transaction to
// be older than that instant and cancels the contract with it.
func (s *Service) cancelPending(ctx context.Context, actor Actor, transactionID, reason, note string, createdBefore time.Time) (domain.EscrowTransaction, error) {
	now := s.nowFn()
	var (
		before    map[string]any
		cancelled domain.EscrowTransaction
	)
	timeout := !createdBefore.IsZero()
	err := s.store.RunAtomic(ctx, func(ltx ports.LedgerTx) error {
		locked, err := ltx.GetTransaction(ctx, transactionID)
		if err != nil {
			return err
		}
		if locked.State != domain.TransactionStatePendingDeposit {
			return fmt.Errorf("%w: transaction is %s, not pending deposit", domain.ErrFailedPrecondition, locked.State)
		}
		if timeout && !locked.CreatedAt.Before(createdBefore) {
			return fmt.Errorf("%w: transaction has not timed out", domain.ErrFailedPrecondition)
		}
		before = locked.Snapshot()
		if err := locked.Transition(domain.TransactionStateCancelled, now); err != nil {
			return err
		}
		locked.CancellationReason = reason
		if err := ltx.UpdateTransaction(ctx, locked); err != nil {
			return err
		}

		if timeout {
			contract, err := ltx.GetContract(ctx, locked.ContractID)
			if err != nil && !errors.Is(err, domain.ErrNotFound) {
				return err
			}
			if err == nil && contract.State == domain.ContractStateAwaitingDeposit {
				contract.State = domain.ContractStateCancelled
				contract.UpdatedAt = now
				if err := ltx.UpdateContract(ctx, contract); err != nil {
					return err
				}
			}
		}

		qr, err := ltx.GetQRByTransaction(ctx, locked.TransactionID)
		switch {
		case err == nil && qr.State == domain.QRStateActive:
			qr.State = domain.QRStateExpired
			qr.UpdatedAt = now
			if err := ltx.UpdateQR(ctx, qr); err != nil {
				return err
			}
		case err != nil && !errors.Is(err, domain.ErrNotFound):
			return err
		}

		cancelled = locked
		return s.enqueueStateChange(ctx, ltx, domain.EventEscrowCancelled, actor.RequestID, locked, domain.TransactionStatePendingDeposit, reason, now)
	})
	if err != nil {
		return domain.EscrowTransaction{}, err
	}

	category := domain.AuditCategoryAdmin
	if actor.Role == domain.RoleSystem {
		category = domain.AuditCategorySystem
	}
	metadata := map[string]any{"reason": reason}
	if note != "" {
		metadata["note"] = note
	}
	s.recordAudit(ctx, AuditEvent{
		Action:        domain.AuditActionEscrowCancelled,
		Category:      category,
		Severity:      domain.SeverityLow,
		ActorID:       actor.SubjectID,
		ActorRole:     actor.Role,
		ContractID:    cancelled.ContractID,
		TransactionID: cancelled.TransactionID,
		SubjectUserID: cancelled.ClientID,
		Amount:        cancelled.Amount,
		Before:        before,
		After:         cancelled.Snapshot(),
		Metadata:      metadata,
		RequestID:     actor.RequestID,
	})
	return cancelled, nil
}

// ResolveDispute settles a disputed transaction by paying the specialist or
// refunding the client. Admin only.
func (s *Service) ResolveDispute(ctx context.Context, actor Actor, input ResolveDisputeInput) (out domain.EscrowTransaction, err error) {
	start := time.Now()
	defer func() { err = s.finish(ctx, "resolve_dispute", start, err) }()

	if err := requireActor(actor); err != nil {
		return domain.EscrowTransaction{}, err
	}
	if actor.Role != domain.RoleAdmin {
		return domain.EscrowTransaction{}, s.denyAccess(ctx, actor, "resolve_dispute", strings.TrimSpace(input.ContractID), "")
	}
	input.ContractID = strings.TrimSpace(input.ContractID)
	input.Outcome = strings.ToLower(strings.TrimSpace(input.Outcome))
	input.Reason = strings.TrimSpace(input.Reason)
	if input.ContractID == "" {
		return domain.EscrowTransaction{}, fmt.Errorf("%w: contract_id is required", domain.ErrInvalidArgument)
	}
	if input.Outcome != DisputeOutcomeRelease && input.Outcome != DisputeOutcomeRefund {
		return domain.EscrowTransaction{}, fmt.Errorf("%w: outcome must be release or refund", domain.ErrInvalidArgument)
	}
	if input.Outcome == DisputeOutcomeRefund && input.Reason == "" {
		return domain.EscrowTransaction{}, fmt.Errorf("%w: reason is required for refunds", domain.ErrInvalidArgument)
	}
	disputed, err := s.store.FindContractTransaction(ctx, input.ContractID, domain.TransactionStateDisputed)
	if err != nil {
		return domain.EscrowTransaction{}, notFoundAs(err, "no disputed transaction for contract %s", input.ContractID)
	}
	if input.Outcome == DisputeOutcomeRelease {
		return s.release(ctx, actor, disputed, domain.TransactionStateDisputed, domain.CommissionTypeDisputeRelease)
	}
	return s.refund(ctx, actor, disputed, input.Reason, domain.TransactionStateDisputed)
}

// GetTransaction returns a transaction to one of its parties or an admin.
func (s *Service) GetTransaction(ctx context.Context, actor Actor, transactionID string) (out domain.EscrowTransaction, err error) {
	start := time.Now()
	defer func() { err = s.finish(ctx, "get_transaction", start, err) }()

	if err := requireActor(actor); err != nil {
		return domain.EscrowTransaction{}, err
	}
	transactionID = strings.TrimSpace(transactionID)
	if transactionID == "" {
		return domain.EscrowTransaction{}, fmt.Errorf("%w: transaction_id is required", domain.ErrInvalidArgument)
	}
	tx, err := s.store.GetTransaction(ctx, transactionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) && !actor.privileged() {
			return domain.EscrowTransaction{}, s.denyAccess(ctx, actor, "get_transaction", "", transactionID)
		}
		return domain.EscrowTransaction{}, notFoundAs(err, "transaction %s", transactionID)
	}
	if !actor.privileged() && !tx.HasParty(actor.SubjectID) {
		return domain.EscrowTransaction{}, s.denyAccess(ctx, actor, "get_transaction", tx.ContractID, tx.TransactionID)
	}
	return tx, nil
}

func (s *Service) enqueueStateChange(ctx context.Context, ltx ports.LedgerTx, eventType, traceID string, tx domain.EscrowTransaction, from domain.TransactionState, reason string, now time.Time) error {
	return s.enqueueEvent(ctx, ltx, eventType, traceID, contracts.EscrowStateChangedPayload{
		TransactionID: tx.TransactionID,
		ContractID:    tx.ContractID,
		ClientID:      tx.ClientID,
		SpecialistID:  tx.SpecialistID,
		Amount:        tx.Amount,
		FromState:     string(from),
		ToState:       string(tx.State),
		Reason:        reason,
		OccurredAt:    now.Format(time.RFC3339),
	}, tx.ContractID, now)
}

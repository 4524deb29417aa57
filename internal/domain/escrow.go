package domain

import (
	"fmt"
	"strings"
	"time"
)

type TransactionState string

const (
	TransactionStatePendingDeposit TransactionState = "pending_deposit"
	TransactionStateHeld           TransactionState = "held"
	TransactionStateReleased       TransactionState = "released"
	TransactionStateRefunded       TransactionState = "refunded"
	TransactionStateDisputed       TransactionState = "disputed"
	TransactionStateCancelled      TransactionState = "cancelled"
)

const (
	CancellationReasonTimeoutDeposit = "timeout_deposit"
	CancellationReasonAdmin          = "admin_cancelled"
)

var transactionTransitions = map[TransactionState][]TransactionState{
	TransactionStatePendingDeposit: {TransactionStateHeld, TransactionStateCancelled},
	TransactionStateHeld:           {TransactionStateReleased, TransactionStateRefunded, TransactionStateDisputed},
	TransactionStateDisputed:       {TransactionStateReleased, TransactionStateRefunded},
}

func (s TransactionState) Valid() bool {
	switch s {
	case TransactionStatePendingDeposit, TransactionStateHeld, TransactionStateReleased,
		TransactionStateRefunded, TransactionStateDisputed, TransactionStateCancelled:
		return true
	default:
		return false
	}
}

func (s TransactionState) IsTerminal() bool {
	return s == TransactionStateReleased || s == TransactionStateRefunded || s == TransactionStateCancelled
}

func (s TransactionState) CanTransitionTo(next TransactionState) bool {
	for _, allowed := range transactionTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// NonTerminalTransactionStates lists the states that count toward the
// one-open-transaction-per-contract rule.
func NonTerminalTransactionStates() []TransactionState {
	return []TransactionState{TransactionStatePendingDeposit, TransactionStateHeld, TransactionStateDisputed}
}

type EscrowTransaction struct {
	TransactionID      string           `json:"transaction_id"`
	ContractID         string           `json:"contract_id"`
	ClientID           string           `json:"client_id"`
	SpecialistID       string           `json:"specialist_id"`
	Amount             int64            `json:"amount"`
	Currency           string           `json:"currency"`
	PlatformCommission int64            `json:"platform_commission"`
	SpecialistPayout   int64            `json:"specialist_payout"`
	CommissionRateBps  int64            `json:"commission_rate_bps"`
	Tier               Tier             `json:"tier"`
	State              TransactionState `json:"state"`
	PaymentIntentRef   string           `json:"payment_intent_ref"`
	ClientSecret       string           `json:"-"`
	TransferRef        string           `json:"transfer_ref,omitempty"`
	RefundRef          string           `json:"refund_ref,omitempty"`
	ReferenceCode      string           `json:"reference_code"`
	CancellationReason string           `json:"cancellation_reason,omitempty"`
	RefundReason       string           `json:"refund_reason,omitempty"`
	CreatedAt          time.Time        `json:"created_at"`
	UpdatedAt          time.Time        `json:"updated_at"`
	DepositedAt        *time.Time       `json:"deposited_at,omitempty"`
	ReleasedAt         *time.Time       `json:"released_at,omitempty"`
	RefundedAt         *time.Time       `json:"refunded_at,omitempty"`
	DisputedAt         *time.Time       `json:"disputed_at,omitempty"`
	CancelledAt        *time.Time       `json:"cancelled_at,omitempty"`
}

// Transition moves the transaction along a declared edge and stamps the
// matching timestamp. Undeclared edges fail with ErrFailedPrecondition.
func (t *EscrowTransaction) Transition(next TransactionState, at time.Time) error {
	if !t.State.CanTransitionTo(next) {
		return fmt.Errorf("%w: transaction %s cannot move from %s to %s", ErrFailedPrecondition, t.TransactionID, t.State, next)
	}
	at = at.UTC()
	switch next {
	case TransactionStateHeld:
		t.DepositedAt = &at
	case TransactionStateReleased:
		t.ReleasedAt = &at
	case TransactionStateRefunded:
		t.RefundedAt = &at
	case TransactionStateDisputed:
		t.DisputedAt = &at
	case TransactionStateCancelled:
		t.CancelledAt = &at
	}
	t.State = next
	t.UpdatedAt = at
	return nil
}

// HasParty reports whether userID is the client or specialist on the transaction.
func (t EscrowTransaction) HasParty(userID string) bool {
	return userID != "" && (userID == t.ClientID || userID == t.SpecialistID)
}

// Snapshot is the audit representation of the transaction.
func (t EscrowTransaction) Snapshot() map[string]any {
	return map[string]any{
		"transaction_id":      t.TransactionID,
		"contract_id":         t.ContractID,
		"state":               string(t.State),
		"amount":              t.Amount,
		"platform_commission": t.PlatformCommission,
		"specialist_payout":   t.SpecialistPayout,
		"commission_rate_bps": t.CommissionRateBps,
		"tier":                string(t.Tier),
		"payment_intent_ref":  t.PaymentIntentRef,
		"client_secret":       t.ClientSecret,
		"transfer_ref":        t.TransferRef,
		"refund_ref":          t.RefundRef,
		"cancellation_reason": t.CancellationReason,
	}
}

// NewReferenceCode builds the human readable reference printed on receipts.
func NewReferenceCode(at time.Time, transactionID string) string {
	compact := strings.ToUpper(strings.ReplaceAll(transactionID, "-", ""))
	if len(compact) > 8 {
		compact = compact[:8]
	}
	return fmt.Sprintf("ESC-%s-%s", at.UTC().Format("20060102"), compact)
}

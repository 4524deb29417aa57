package domain

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestTransactionTransitions(t *testing.T) {
	allowed := map[[2]TransactionState]bool{
		{TransactionStatePendingDeposit, TransactionStateHeld}:      true,
		{TransactionStatePendingDeposit, TransactionStateCancelled}: true,
		{TransactionStateHeld, TransactionStateReleased}:            true,
		{TransactionStateHeld, TransactionStateRefunded}:            true,
		{TransactionStateHeld, TransactionStateDisputed}:            true,
		{TransactionStateDisputed, TransactionStateReleased}:        true,
		{TransactionStateDisputed, TransactionStateRefunded}:        true,
	}
	states := []TransactionState{
		TransactionStatePendingDeposit, TransactionStateHeld, TransactionStateReleased,
		TransactionStateRefunded, TransactionStateDisputed, TransactionStateCancelled,
	}
	for _, from := range states {
		for _, to := range states {
			if got := from.CanTransitionTo(to); got != allowed[[2]TransactionState{from, to}] {
				t.Fatalf("%s -> %s: expected %v, got %v", from, to, !got, got)
			}
		}
	}
}

func TestTransitionStampsTimestamps(t *testing.T) {
	now := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	tx := EscrowTransaction{TransactionID: "t1", State: TransactionStatePendingDeposit}

	if err := tx.Transition(TransactionStateReleased, now); !errors.Is(err, ErrFailedPrecondition) {
		t.Fatalf("expected pending -> released to fail, got %v", err)
	}
	if err := tx.Transition(TransactionStateHeld, now); err != nil {
		t.Fatalf("Transition held: %v", err)
	}
	if tx.DepositedAt == nil || !tx.DepositedAt.Equal(now) {
		t.Fatalf("expected deposited_at to be stamped")
	}
	if err := tx.Transition(TransactionStateReleased, now.Add(time.Hour)); err != nil {
		t.Fatalf("Transition released: %v", err)
	}
	if !tx.State.IsTerminal() || tx.ReleasedAt == nil {
		t.Fatalf("expected terminal released state, got %s", tx.State)
	}
	if err := tx.Transition(TransactionStateRefunded, now); err == nil {
		t.Fatalf("expected released -> refunded to fail")
	}
}

func TestNewReferenceCode(t *testing.T) {
	code := NewReferenceCode(time.Date(2026, 1, 2, 23, 0, 0, 0, time.UTC), "ab12cd34-ef56-7890")
	if code != "ESC-20260102-AB12CD34" {
		t.Fatalf("unexpected reference code %q", code)
	}
	if !strings.HasPrefix(NewReferenceCode(time.Now(), "x"), "ESC-") {
		t.Fatalf("short ids should still produce a code")
	}
}

func TestDebitEscrowClampsAtZero(t *testing.T) {
	acct := Account{UserID: "c1", EscrowBalance: 100}
	if clamped := acct.DebitEscrow(40, time.Now()); clamped || acct.EscrowBalance != 60 {
		t.Fatalf("expected 60 unclamped, got %d clamped=%v", acct.EscrowBalance, clamped)
	}
	if clamped := acct.DebitEscrow(100, time.Now()); !clamped || acct.EscrowBalance != 0 {
		t.Fatalf("expected clamp to zero, got %d clamped=%v", acct.EscrowBalance, clamped)
	}
}

func TestErrorCode(t *testing.T) {
	cases := map[error]string{
		ErrInvalidArgument:    CodeInvalidArgument,
		ErrInvalidEnvelope:    CodeInvalidArgument,
		ErrNotFound:           CodeNotFound,
		ErrConflict:           CodeFailedPrecondition,
		ErrFailedPrecondition: CodeFailedPrecondition,
		ErrPermissionDenied:   CodePermissionDenied,
		ErrUnauthenticated:    CodeUnauthenticated,
		ErrGatewayUnavailable: CodeInternal,
		errors.New("boom"):    CodeInternal,
	}
	for err, want := range cases {
		if got := ErrorCode(err); got != want {
			t.Fatalf("ErrorCode(%v) = %s, want %s", err, got, want)
		}
	}
}

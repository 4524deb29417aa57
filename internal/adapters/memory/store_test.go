package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viralforge/escrow-commission-engine/internal/domain"
	"github.com/viralforge/escrow-commission-engine/internal/ports"
)

func TestRunAtomicDiscardsFailedUnit(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	store.PutAccount(domain.Account{UserID: "client-1", Role: domain.RoleClient})

	boom := errors.New("boom")
	err := store.RunAtomic(ctx, func(tx ports.LedgerTx) error {
		acct, err := tx.GetAccount(ctx, "client-1")
		require.NoError(t, err)
		acct.EscrowBalance = 500
		require.NoError(t, tx.UpdateAccount(ctx, acct))

		staged, err := tx.GetAccount(ctx, "client-1")
		require.NoError(t, err)
		assert.Equal(t, int64(500), staged.EscrowBalance, "writes are visible inside the unit")

		require.NoError(t, tx.CreateTransaction(ctx, domain.EscrowTransaction{TransactionID: "t1", ContractID: "c1", State: domain.TransactionStatePendingDeposit}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	acct, err := store.GetAccount(ctx, "client-1")
	require.NoError(t, err)
	assert.Zero(t, acct.EscrowBalance)
	_, err = store.GetTransaction(ctx, "t1")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestFindContractTransactionSeesStagedRows(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	require.NoError(t, store.RunAtomic(ctx, func(tx ports.LedgerTx) error {
		return tx.CreateTransaction(ctx, domain.EscrowTransaction{TransactionID: "t1", ContractID: "c1", State: domain.TransactionStatePendingDeposit})
	}))

	require.NoError(t, store.RunAtomic(ctx, func(tx ports.LedgerTx) error {
		row, err := tx.FindContractTransaction(ctx, "c1", domain.NonTerminalTransactionStates()...)
		require.NoError(t, err)
		row.State = domain.TransactionStateCancelled
		require.NoError(t, tx.UpdateTransaction(ctx, row))

		_, err = tx.FindContractTransaction(ctx, "c1", domain.NonTerminalTransactionStates()...)
		assert.ErrorIs(t, err, domain.ErrNotFound, "staged update hides the committed row")
		assert.ErrorIs(t, tx.CreateTransaction(ctx, row), domain.ErrConflict)
		return nil
	}))
}

func TestCommissionIsWrittenOncePerTransaction(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	write := func(id string) error {
		return store.RunAtomic(ctx, func(tx ports.LedgerTx) error {
			return tx.CreateCommission(ctx, domain.Commission{CommissionID: id, TransactionID: "t1", Amount: 75, CreatedAt: time.Now()})
		})
	}
	require.NoError(t, write("c-1"))
	require.ErrorIs(t, write("c-2"), domain.ErrConflict)
	assert.Len(t, store.Commissions(), 1)
}

func TestOutboxClaimsAreExclusive(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	require.NoError(t, store.RunAtomic(ctx, func(tx ports.LedgerTx) error {
		for _, id := range []string{"e1", "e2", "e3"} {
			if err := tx.EnqueueOutbox(ctx, ports.OutboxRecord{OutboxID: id, EventType: domain.EventEscrowCreated}); err != nil {
				return err
			}
		}
		return nil
	}))

	until := time.Now().Add(time.Minute)
	first, err := store.ClaimUnpublished(ctx, 2, "claim-a", until)
	require.NoError(t, err)
	require.Len(t, first, 2)
	second, err := store.ClaimUnpublished(ctx, 10, "claim-b", until)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, "e3", second[0].OutboxID)

	require.NoError(t, store.MarkPublished(ctx, "e1", "claim-b", time.Now()))
	assert.Nil(t, store.Outbox()[0].PublishedAt, "a foreign claim token is ignored")
	require.NoError(t, store.MarkPublished(ctx, "e1", "claim-a", time.Now()))
	assert.NotNil(t, store.Outbox()[0].PublishedAt)

	blocked, err := store.ClaimUnpublished(ctx, 10, "claim-c", time.Now())
	require.NoError(t, err)
	assert.Empty(t, blocked, "unexpired claims block reclaiming")
}

func TestSecurityEventFilter(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, sev := range []domain.Severity{domain.SeverityLow, domain.SeverityCritical, domain.SeverityCritical} {
		require.NoError(t, store.AppendSecurityEvent(ctx, domain.SecurityEvent{
			EventID: string(rune('a' + i)), Severity: sev, UserID: "u1", DetectedAt: base.Add(time.Duration(i) * time.Hour),
		}))
	}
	since := base.Add(90 * time.Minute)
	got, err := store.ListSecurityEvents(ctx, domain.SecurityEventFilter{Severity: domain.SeverityCritical, Since: &since})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "c", got[0].EventID)

	dup, err := store.IsDuplicate(ctx, "evt-1", base)
	require.NoError(t, err)
	assert.False(t, dup)
	require.NoError(t, store.MarkProcessed(ctx, "evt-1", domain.EventDisputeOpened, base.Add(time.Hour)))
	dup, _ = store.IsDuplicate(ctx, "evt-1", base)
	assert.True(t, dup)
	dup, _ = store.IsDuplicate(ctx, "evt-1", base.Add(2*time.Hour))
	assert.False(t, dup)
}

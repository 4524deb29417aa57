package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viralforge/escrow-commission-engine/internal/domain"
	"github.com/viralforge/escrow-commission-engine/internal/ports"
	"gorm.io/gorm"
)

var errStopUnit = errors.New("stop unit")

func TestRunAtomicLocksTransactionRow(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewLedgerStore(db)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM "escrow_transactions" WHERE transaction_id = \$1.*FOR UPDATE`).
		WillReturnRows(sqlmock.NewRows([]string{"transaction_id", "contract_id", "state", "amount"}).
			AddRow("tx-1", "contract-1", "held", int64(500)))
	mock.ExpectRollback()

	var seen domain.EscrowTransaction
	err := store.RunAtomic(context.Background(), func(ltx ports.LedgerTx) error {
		var err error
		seen, err = ltx.GetTransaction(context.Background(), "tx-1")
		require.NoError(t, err)
		return errStopUnit
	})
	require.ErrorIs(t, err, errStopUnit)
	assert.Equal(t, domain.TransactionStateHeld, seen.State)
	assert.Equal(t, int64(500), seen.Amount)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunAtomicCommitsLockedReadsAndWrites(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewLedgerStore(db)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM "contracts" WHERE contract_id = \$1.*FOR UPDATE`).
		WillReturnRows(sqlmock.NewRows([]string{"contract_id", "client_id", "specialist_id", "state"}).
			AddRow("contract-1", "client-1", "spec-1", "awaiting_deposit"))
	mock.ExpectExec(`UPDATE "contracts" SET`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.RunAtomic(context.Background(), func(ltx ports.LedgerTx) error {
		contract, err := ltx.GetContract(context.Background(), "contract-1")
		if err != nil {
			return err
		}
		contract.State = domain.ContractStateInProgress
		contract.UpdatedAt = time.Now().UTC()
		return ltx.UpdateContract(context.Background(), contract)
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCommissionSummarySeedsBeforeLocking(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewLedgerStore(db)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "commission_summaries" .*ON CONFLICT DO NOTHING`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT \* FROM "commission_summaries" WHERE period = \$1.*FOR UPDATE`).
		WillReturnRows(sqlmock.NewRows([]string{"period", "total_commissions", "total_transactions", "by_type", "by_specialist"}).
			AddRow("2026-03", int64(150), int64(2), `{"release":150}`, `{"spec-1":150}`))
	mock.ExpectCommit()

	var summary domain.CommissionSummary
	err := store.RunAtomic(context.Background(), func(ltx ports.LedgerTx) error {
		var err error
		summary, err = ltx.GetCommissionSummary(context.Background(), "2026-03")
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, "2026-03", summary.Period)
	assert.Equal(t, int64(150), summary.TotalCommissions)
	assert.Equal(t, int64(2), summary.TotalTransactions)
	assert.Equal(t, int64(150), summary.BySpecialist["spec-1"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateWithoutMatchingRowIsNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewLedgerStore(db)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "accounts" SET`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := store.RunAtomic(context.Background(), func(ltx ports.LedgerTx) error {
		return ltx.UpdateAccount(context.Background(), domain.Account{UserID: "ghost", Role: domain.RoleClient})
	})
	require.ErrorIs(t, err, domain.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateDuplicateTransactionIsConflict(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewLedgerStore(db)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "escrow_transactions"`).
		WillReturnError(errors.New(`ERROR: duplicate key value violates unique constraint "escrow_transactions_pkey" (SQLSTATE 23505)`))
	mock.ExpectRollback()

	err := store.RunAtomic(context.Background(), func(ltx ports.LedgerTx) error {
		return ltx.CreateTransaction(context.Background(), domain.EscrowTransaction{
			TransactionID: "tx-1",
			ContractID:    "contract-1",
			Amount:        500,
			State:         domain.TransactionStatePendingDeposit,
		})
	})
	require.ErrorIs(t, err, domain.ErrConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetTransactionMissingRowIsNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewLedgerStore(db)

	mock.ExpectQuery(`SELECT \* FROM "escrow_transactions" WHERE transaction_id = \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"transaction_id"}))

	_, err := store.GetTransaction(context.Background(), "missing")
	require.ErrorIs(t, err, domain.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want error
	}{
		{"gorm duplicate", gorm.ErrDuplicatedKey, domain.ErrConflict},
		{"unique violation text", errors.New("pq: duplicate key value violates unique constraint"), domain.ErrConflict},
		{"other", errors.New("connection reset"), nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := mapConflict(tc.err)
			if tc.want == nil {
				assert.Equal(t, tc.err, got)
				return
			}
			assert.ErrorIs(t, got, tc.want)
		})
	}
	assert.NoError(t, mapConflict(nil))
	assert.ErrorIs(t, mapNotFound(gorm.ErrRecordNotFound), domain.ErrNotFound)
}

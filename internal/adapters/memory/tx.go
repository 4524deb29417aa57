package memory

import (
	"context"
	"strings"

	"github.com/viralforge/escrow-commission-engine/internal/domain"
	"github.com/viralforge/escrow-commission-engine/internal/ports"
)

// stagedTx reads through to the store and buffers writes until commit. The
// store lock is held by RunAtomic for its whole lifetime.
type stagedTx struct {
	store *Store

	transactions map[string]domain.EscrowTransaction
	qrs          map[string]domain.PaymentQR
	contracts    map[string]domain.Contract
	accounts     map[string]domain.Account
	summaries    map[string]domain.CommissionSummary
	commissions  []domain.Commission
	outbox       []ports.OutboxRecord
}

func newStagedTx(store *Store) *stagedTx {
	return &stagedTx{
		store:        store,
		transactions: map[string]domain.EscrowTransaction{},
		qrs:          map[string]domain.PaymentQR{},
		contracts:    map[string]domain.Contract{},
		accounts:     map[string]domain.Account{},
		summaries:    map[string]domain.CommissionSummary{},
	}
}

func (t *stagedTx) commit() {
	s := t.store
	for id, row := range t.transactions {
		s.transactions[id] = row
	}
	for id, row := range t.qrs {
		s.qrs[id] = row
	}
	for id, row := range t.contracts {
		s.contracts[id] = row
	}
	for id, row := range t.accounts {
		s.accounts[id] = row
	}
	for period, row := range t.summaries {
		s.summaries[period] = row
	}
	s.commissions = append(s.commissions, t.commissions...)
	for _, rec := range t.outbox {
		s.outbox[rec.OutboxID] = rec
		s.outboxOrder = append(s.outboxOrder, rec.OutboxID)
	}
}

func (t *stagedTx) GetTransaction(_ context.Context, transactionID string) (domain.EscrowTransaction, error) {
	id := strings.TrimSpace(transactionID)
	if row, ok := t.transactions[id]; ok {
		return row, nil
	}
	row, ok := t.store.transactions[id]
	if !ok {
		return domain.EscrowTransaction{}, domain.ErrNotFound
	}
	return row, nil
}

func (t *stagedTx) FindContractTransaction(_ context.Context, contractID string, states ...domain.TransactionState) (domain.EscrowTransaction, error) {
	return findContractTransaction(t.store.transactions, t.transactions, contractID, states)
}

func (t *stagedTx) CreateTransaction(ctx context.Context, tx domain.EscrowTransaction) error {
	if _, err := t.GetTransaction(ctx, tx.TransactionID); err == nil {
		return domain.ErrConflict
	}
	t.transactions[tx.TransactionID] = tx
	return nil
}

func (t *stagedTx) UpdateTransaction(ctx context.Context, tx domain.EscrowTransaction) error {
	if _, err := t.GetTransaction(ctx, tx.TransactionID); err != nil {
		return err
	}
	t.transactions[tx.TransactionID] = tx
	return nil
}

func (t *stagedTx) GetQR(_ context.Context, qrID string) (domain.PaymentQR, error) {
	if row, ok := t.qrs[qrID]; ok {
		return row, nil
	}
	row, ok := t.store.qrs[qrID]
	if !ok {
		return domain.PaymentQR{}, domain.ErrNotFound
	}
	return row, nil
}

func (t *stagedTx) GetQRByTransaction(_ context.Context, transactionID string) (domain.PaymentQR, error) {
	for _, row := range t.qrs {
		if row.TransactionID == transactionID {
			return row, nil
		}
	}
	for id, row := range t.store.qrs {
		if _, staged := t.qrs[id]; !staged && row.TransactionID == transactionID {
			return row, nil
		}
	}
	return domain.PaymentQR{}, domain.ErrNotFound
}

func (t *stagedTx) CreateQR(ctx context.Context, qr domain.PaymentQR) error {
	if _, err := t.GetQR(ctx, qr.QRID); err == nil {
		return domain.ErrConflict
	}
	t.qrs[qr.QRID] = qr
	return nil
}

func (t *stagedTx) UpdateQR(ctx context.Context, qr domain.PaymentQR) error {
	if _, err := t.GetQR(ctx, qr.QRID); err != nil {
		return err
	}
	t.qrs[qr.QRID] = qr
	return nil
}

func (t *stagedTx) GetContract(_ context.Context, contractID string) (domain.Contract, error) {
	id := strings.TrimSpace(contractID)
	if row, ok := t.contracts[id]; ok {
		return row, nil
	}
	row, ok := t.store.contracts[id]
	if !ok {
		return domain.Contract{}, domain.ErrNotFound
	}
	return row, nil
}

func (t *stagedTx) UpdateContract(ctx context.Context, contract domain.Contract) error {
	if _, err := t.GetContract(ctx, contract.ContractID); err != nil {
		return err
	}
	t.contracts[contract.ContractID] = contract
	return nil
}

func (t *stagedTx) GetAccount(_ context.Context, userID string) (domain.Account, error) {
	id := strings.TrimSpace(userID)
	if row, ok := t.accounts[id]; ok {
		return cloneAccount(row), nil
	}
	row, ok := t.store.accounts[id]
	if !ok {
		return domain.Account{}, domain.ErrNotFound
	}
	return cloneAccount(row), nil
}

func (t *stagedTx) UpdateAccount(ctx context.Context, account domain.Account) error {
	if _, err := t.GetAccount(ctx, account.UserID); err != nil {
		return err
	}
	t.accounts[account.UserID] = cloneAccount(account)
	return nil
}

func (t *stagedTx) CreateCommission(_ context.Context, commission domain.Commission) error {
	for _, row := range t.store.commissions {
		if row.CommissionID == commission.CommissionID || row.TransactionID == commission.TransactionID {
			return domain.ErrConflict
		}
	}
	for _, row := range t.commissions {
		if row.TransactionID == commission.TransactionID {
			return domain.ErrConflict
		}
	}
	t.commissions = append(t.commissions, commission)
	return nil
}

func (t *stagedTx) GetCommissionSummary(_ context.Context, period string) (domain.CommissionSummary, error) {
	if row, ok := t.summaries[period]; ok {
		return cloneSummary(row), nil
	}
	row, ok := t.store.summaries[period]
	if !ok {
		return domain.CommissionSummary{}, domain.ErrNotFound
	}
	return cloneSummary(row), nil
}

func (t *stagedTx) PutCommissionSummary(_ context.Context, summary domain.CommissionSummary) error {
	t.summaries[summary.Period] = cloneSummary(summary)
	return nil
}

func (t *stagedTx) EnqueueOutbox(_ context.Context, record ports.OutboxRecord) error {
	if _, ok := t.store.outbox[record.OutboxID]; ok {
		return domain.ErrConflict
	}
	record.Payload = append([]byte(nil), record.Payload...)
	t.outbox = append(t.outbox, record)
	return nil
}

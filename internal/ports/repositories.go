package ports

import (
	"context"
	"time"

	"github.com/viralforge/escrow-commission-engine/internal/domain"
)

// LedgerTx is the view of the store inside one atomic unit. Reads taken
// through a LedgerTx lock the row until the unit commits or rolls back, and
// writes become visible only on commit. Missing rows yield domain.ErrNotFound.
type LedgerTx interface {
	GetTransaction(ctx context.Context, transactionID string) (domain.EscrowTransaction, error)
	FindContractTransaction(ctx context.Context, contractID string, states ...domain.TransactionState) (domain.EscrowTransaction, error)
	CreateTransaction(ctx context.Context, tx domain.EscrowTransaction) error
	UpdateTransaction(ctx context.Context, tx domain.EscrowTransaction) error

	GetQR(ctx context.Context, qrID string) (domain.PaymentQR, error)
	GetQRByTransaction(ctx context.Context, transactionID string) (domain.PaymentQR, error)
	CreateQR(ctx context.Context, qr domain.PaymentQR) error
	UpdateQR(ctx context.Context, qr domain.PaymentQR) error

	GetContract(ctx context.Context, contractID string) (domain.Contract, error)
	UpdateContract(ctx context.Context, contract domain.Contract) error

	GetAccount(ctx context.Context, userID string) (domain.Account, error)
	UpdateAccount(ctx context.Context, account domain.Account) error

	CreateCommission(ctx context.Context, commission domain.Commission) error
	GetCommissionSummary(ctx context.Context, period string) (domain.CommissionSummary, error)
	PutCommissionSummary(ctx context.Context, summary domain.CommissionSummary) error

	EnqueueOutbox(ctx context.Context, record OutboxRecord) error
}

// LedgerStore owns transactions, QR codes, commissions and summaries, and
// exposes the collaborator contract and account records.
type LedgerStore interface {
	RunAtomic(ctx context.Context, fn func(tx LedgerTx) error) error

	GetTransaction(ctx context.Context, transactionID string) (domain.EscrowTransaction, error)
	FindContractTransaction(ctx context.Context, contractID string, states ...domain.TransactionState) (domain.EscrowTransaction, error)
	GetContract(ctx context.Context, contractID string) (domain.Contract, error)
	GetAccount(ctx context.Context, userID string) (domain.Account, error)

	// Cursor pages are ordered by id; afterID is exclusive.
	ListTransactionsByState(ctx context.Context, state domain.TransactionState, createdBefore time.Time, afterID string, limit int) ([]domain.EscrowTransaction, error)
	ListExpiredQRs(ctx context.Context, now time.Time, afterID string, limit int) ([]domain.PaymentQR, error)
	ListSpecialists(ctx context.Context, afterID string, limit int) ([]domain.Account, error)
	ListCommissions(ctx context.Context, from, to time.Time, afterID string, limit int) ([]domain.Commission, error)
	SumReleasedVolume(ctx context.Context, specialistID string, since time.Time) (int64, error)

	GetCommissionSummary(ctx context.Context, period string) (domain.CommissionSummary, error)
	GetMonthlyReport(ctx context.Context, period string) (domain.MonthlyCommissionReport, error)
	PutMonthlyReport(ctx context.Context, report domain.MonthlyCommissionReport) error
}

type AuditRepository interface {
	AppendEntry(ctx context.Context, entry domain.AuditEntry) error
	AppendSecurityEvent(ctx context.Context, event domain.SecurityEvent) error
	ListEntries(ctx context.Context, contractID string, limit int) ([]domain.AuditEntry, error)
	ListSecurityEvents(ctx context.Context, filter domain.SecurityEventFilter) ([]domain.SecurityEvent, error)
}

type EventDedupRepository interface {
	IsDuplicate(ctx context.Context, eventID string, now time.Time) (bool, error)
	MarkProcessed(ctx context.Context, eventID, eventType string, expiresAt time.Time) error
}

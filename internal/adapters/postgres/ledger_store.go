package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/viralforge/escrow-commission-engine/internal/domain"
	"github.com/viralforge/escrow-commission-engine/internal/ports"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LedgerStore keeps the ledger in Postgres. Every read made through a
// ledgerTx takes a row lock, so a unit run by RunAtomic sees and holds the
// rows it decides on until commit.
type LedgerStore struct {
	db *gorm.DB
}

func NewLedgerStore(db *gorm.DB) *LedgerStore {
	return &LedgerStore{db: db}
}

func (s *LedgerStore) RunAtomic(ctx context.Context, fn func(tx ports.LedgerTx) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&ledgerTx{db: tx})
	})
}

func (s *LedgerStore) GetTransaction(ctx context.Context, transactionID string) (domain.EscrowTransaction, error) {
	return getTransaction(s.db.WithContext(ctx), transactionID)
}

func (s *LedgerStore) FindContractTransaction(ctx context.Context, contractID string, states ...domain.TransactionState) (domain.EscrowTransaction, error) {
	return findContractTransaction(s.db.WithContext(ctx), contractID, states)
}

func (s *LedgerStore) GetContract(ctx context.Context, contractID string) (domain.Contract, error) {
	return getContract(s.db.WithContext(ctx), contractID)
}

func (s *LedgerStore) GetAccount(ctx context.Context, userID string) (domain.Account, error) {
	return getAccount(s.db.WithContext(ctx), userID)
}

func (s *LedgerStore) ListTransactionsByState(ctx context.Context, state domain.TransactionState, createdBefore time.Time, afterID string, limit int) ([]domain.EscrowTransaction, error) {
	q := s.db.WithContext(ctx).Where("state = ? AND transaction_id > ?", string(state), afterID)
	if !createdBefore.IsZero() {
		q = q.Where("created_at < ?", createdBefore)
	}
	var rows []escrowTransactionModel
	if err := q.Order("transaction_id ASC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]domain.EscrowTransaction, 0, len(rows))
	for _, row := range rows {
		out = append(out, fromTransactionModel(row))
	}
	return out, nil
}

func (s *LedgerStore) ListExpiredQRs(ctx context.Context, now time.Time, afterID string, limit int) ([]domain.PaymentQR, error) {
	var rows []paymentQRModel
	err := s.db.WithContext(ctx).
		Where("state = ? AND expires_at < ? AND qr_id > ?", string(domain.QRStateActive), now, afterID).
		Order("qr_id ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]domain.PaymentQR, 0, len(rows))
	for _, row := range rows {
		out = append(out, fromQRModel(row))
	}
	return out, nil
}

func (s *LedgerStore) ListSpecialists(ctx context.Context, afterID string, limit int) ([]domain.Account, error) {
	var rows []accountModel
	err := s.db.WithContext(ctx).
		Where("role = ? AND user_id > ?", domain.RoleSpecialist, afterID).
		Order("user_id ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]domain.Account, 0, len(rows))
	for _, row := range rows {
		out = append(out, fromAccountModel(row))
	}
	return out, nil
}

func (s *LedgerStore) ListCommissions(ctx context.Context, from, to time.Time, afterID string, limit int) ([]domain.Commission, error) {
	var rows []commissionModel
	err := s.db.WithContext(ctx).
		Where("created_at >= ? AND created_at < ? AND commission_id > ?", from, to, afterID).
		Order("commission_id ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]domain.Commission, 0, len(rows))
	for _, row := range rows {
		out = append(out, fromCommissionModel(row))
	}
	return out, nil
}

func (s *LedgerStore) SumReleasedVolume(ctx context.Context, specialistID string, since time.Time) (int64, error) {
	var total int64
	err := s.db.WithContext(ctx).
		Model(&escrowTransactionModel{}).
		Select("COALESCE(SUM(amount), 0)").
		Where("specialist_id = ? AND state = ? AND released_at >= ?", specialistID, string(domain.TransactionStateReleased), since).
		Scan(&total).Error
	return total, err
}

func (s *LedgerStore) GetCommissionSummary(ctx context.Context, period string) (domain.CommissionSummary, error) {
	var row commissionSummaryModel
	if err := s.db.WithContext(ctx).Where("period = ?", period).Take(&row).Error; err != nil {
		return domain.CommissionSummary{}, mapNotFound(err)
	}
	return fromSummaryModel(row), nil
}

func (s *LedgerStore) GetMonthlyReport(ctx context.Context, period string) (domain.MonthlyCommissionReport, error) {
	var row monthlyReportModel
	if err := s.db.WithContext(ctx).Where("period = ?", period).Take(&row).Error; err != nil {
		return domain.MonthlyCommissionReport{}, mapNotFound(err)
	}
	var report domain.MonthlyCommissionReport
	if err := json.Unmarshal([]byte(row.Payload), &report); err != nil {
		return domain.MonthlyCommissionReport{}, err
	}
	return report, nil
}

func (s *LedgerStore) PutMonthlyReport(ctx context.Context, report domain.MonthlyCommissionReport) error {
	raw, err := json.Marshal(report)
	if err != nil {
		return err
	}
	row := monthlyReportModel{Period: report.Period, Payload: string(raw), GeneratedAt: report.GeneratedAt}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "period"}},
			DoUpdates: clause.AssignmentColumns([]string{"payload", "generated_at"}),
		}).
		Create(&row).Error
}

type ledgerTx struct {
	db *gorm.DB
}

func (t *ledgerTx) locked() *gorm.DB {
	return t.db.Clauses(clause.Locking{Strength: "UPDATE"})
}

func (t *ledgerTx) GetTransaction(_ context.Context, transactionID string) (domain.EscrowTransaction, error) {
	return getTransaction(t.locked(), transactionID)
}

func (t *ledgerTx) FindContractTransaction(_ context.Context, contractID string, states ...domain.TransactionState) (domain.EscrowTransaction, error) {
	return findContractTransaction(t.locked(), contractID, states)
}

func (t *ledgerTx) CreateTransaction(_ context.Context, tx domain.EscrowTransaction) error {
	row := toTransactionModel(tx)
	return mapConflict(t.db.Create(&row).Error)
}

func (t *ledgerTx) UpdateTransaction(_ context.Context, tx domain.EscrowTransaction) error {
	row := toTransactionModel(tx)
	return updateAll(t.db, &row, "transaction_id = ?", row.TransactionID)
}

func (t *ledgerTx) GetQR(_ context.Context, qrID string) (domain.PaymentQR, error) {
	var row paymentQRModel
	if err := t.locked().Where("qr_id = ?", qrID).Take(&row).Error; err != nil {
		return domain.PaymentQR{}, mapNotFound(err)
	}
	return fromQRModel(row), nil
}

func (t *ledgerTx) GetQRByTransaction(_ context.Context, transactionID string) (domain.PaymentQR, error) {
	var row paymentQRModel
	if err := t.locked().Where("transaction_id = ?", transactionID).Take(&row).Error; err != nil {
		return domain.PaymentQR{}, mapNotFound(err)
	}
	return fromQRModel(row), nil
}

func (t *ledgerTx) CreateQR(_ context.Context, qr domain.PaymentQR) error {
	row := toQRModel(qr)
	return mapConflict(t.db.Create(&row).Error)
}

func (t *ledgerTx) UpdateQR(_ context.Context, qr domain.PaymentQR) error {
	row := toQRModel(qr)
	return updateAll(t.db, &row, "qr_id = ?", row.QRID)
}

func (t *ledgerTx) GetContract(_ context.Context, contractID string) (domain.Contract, error) {
	return getContract(t.locked(), contractID)
}

func (t *ledgerTx) UpdateContract(_ context.Context, contract domain.Contract) error {
	row := toContractModel(contract)
	return updateAll(t.db, &row, "contract_id = ?", row.ContractID)
}

func (t *ledgerTx) GetAccount(_ context.Context, userID string) (domain.Account, error) {
	return getAccount(t.locked(), userID)
}

func (t *ledgerTx) UpdateAccount(_ context.Context, account domain.Account) error {
	row := toAccountModel(account)
	return updateAll(t.db, &row, "user_id = ?", row.UserID)
}

func (t *ledgerTx) CreateCommission(_ context.Context, commission domain.Commission) error {
	row := toCommissionModel(commission)
	return mapConflict(t.db.Create(&row).Error)
}

// GetCommissionSummary inserts an empty row first so that concurrent units
// creating the same period serialize on its row lock.
func (t *ledgerTx) GetCommissionSummary(_ context.Context, period string) (domain.CommissionSummary, error) {
	seed := commissionSummaryModel{Period: period, ByType: "{}", BySpecialist: "{}", UpdatedAt: time.Now().UTC()}
	if err := t.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&seed).Error; err != nil {
		return domain.CommissionSummary{}, err
	}
	var row commissionSummaryModel
	if err := t.locked().Where("period = ?", period).Take(&row).Error; err != nil {
		return domain.CommissionSummary{}, mapNotFound(err)
	}
	return fromSummaryModel(row), nil
}

func (t *ledgerTx) PutCommissionSummary(_ context.Context, summary domain.CommissionSummary) error {
	row := toSummaryModel(summary)
	return t.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error
}

func (t *ledgerTx) EnqueueOutbox(_ context.Context, record ports.OutboxRecord) error {
	row := outboxModel{
		OutboxID:     record.OutboxID,
		EventType:    record.EventType,
		PartitionKey: record.PartitionKey,
		Payload:      string(record.Payload),
		CreatedAt:    record.CreatedAt,
	}
	return mapConflict(t.db.Create(&row).Error)
}

func getTransaction(db *gorm.DB, transactionID string) (domain.EscrowTransaction, error) {
	var row escrowTransactionModel
	if err := db.Where("transaction_id = ?", strings.TrimSpace(transactionID)).Take(&row).Error; err != nil {
		return domain.EscrowTransaction{}, mapNotFound(err)
	}
	return fromTransactionModel(row), nil
}

func findContractTransaction(db *gorm.DB, contractID string, states []domain.TransactionState) (domain.EscrowTransaction, error) {
	q := db.Where("contract_id = ?", strings.TrimSpace(contractID))
	if len(states) > 0 {
		names := make([]string, 0, len(states))
		for _, st := range states {
			names = append(names, string(st))
		}
		q = q.Where("state IN ?", names)
	}
	var row escrowTransactionModel
	if err := q.Order("created_at DESC").Take(&row).Error; err != nil {
		return domain.EscrowTransaction{}, mapNotFound(err)
	}
	return fromTransactionModel(row), nil
}

func getContract(db *gorm.DB, contractID string) (domain.Contract, error) {
	var row contractModel
	if err := db.Where("contract_id = ?", strings.TrimSpace(contractID)).Take(&row).Error; err != nil {
		return domain.Contract{}, mapNotFound(err)
	}
	return fromContractModel(row), nil
}

func getAccount(db *gorm.DB, userID string) (domain.Account, error) {
	var row accountModel
	if err := db.Where("user_id = ?", strings.TrimSpace(userID)).Take(&row).Error; err != nil {
		return domain.Account{}, mapNotFound(err)
	}
	return fromAccountModel(row), nil
}

func updateAll(db *gorm.DB, row any, where string, id string) error {
	res := db.Model(row).Where(where, id).Select("*").Updates(row)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func mapNotFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.ErrNotFound
	}
	return err
}

func mapConflict(err error) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) || isUniqueViolation(err) {
		return domain.ErrConflict
	}
	return err
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "unique constraint")
}

var _ ports.LedgerStore = (*LedgerStore)(nil)
var _ ports.LedgerTx = (*ledgerTx)(nil)

package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/viralforge/escrow-commission-engine/internal/domain"
	"github.com/viralforge/escrow-commission-engine/internal/ports"
)

// Store is an in-process ledger. RunAtomic holds the store lock for the whole
// unit and applies staged writes only when fn succeeds, so every unit is
// serializable and a failed unit leaves no trace.
type Store struct {
	mu sync.Mutex

	transactions map[string]domain.EscrowTransaction
	qrs          map[string]domain.PaymentQR
	contracts    map[string]domain.Contract
	accounts     map[string]domain.Account
	commissions  []domain.Commission
	summaries    map[string]domain.CommissionSummary
	reports      map[string]domain.MonthlyCommissionReport

	outbox      map[string]ports.OutboxRecord
	outboxOrder []string

	auditEntries   []domain.AuditEntry
	securityEvents []domain.SecurityEvent
	dedup          map[string]dedupRow
}

type dedupRow struct {
	EventType string
	ExpiresAt time.Time
}

func NewStore() *Store {
	return &Store{
		transactions: map[string]domain.EscrowTransaction{},
		qrs:          map[string]domain.PaymentQR{},
		contracts:    map[string]domain.Contract{},
		accounts:     map[string]domain.Account{},
		summaries:    map[string]domain.CommissionSummary{},
		reports:      map[string]domain.MonthlyCommissionReport{},
		outbox:       map[string]ports.OutboxRecord{},
		dedup:        map[string]dedupRow{},
	}
}

// PutContract seeds or replaces a collaborator contract record.
func (s *Store) PutContract(contract domain.Contract) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contracts[contract.ContractID] = contract
}

// PutAccount seeds or replaces a collaborator account record.
func (s *Store) PutAccount(account domain.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[account.UserID] = cloneAccount(account)
}

func (s *Store) RunAtomic(ctx context.Context, fn func(tx ports.LedgerTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := newStagedTx(s)
	if err := fn(tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

func (s *Store) GetTransaction(_ context.Context, transactionID string) (domain.EscrowTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.transactions[strings.TrimSpace(transactionID)]
	if !ok {
		return domain.EscrowTransaction{}, domain.ErrNotFound
	}
	return row, nil
}

func (s *Store) FindContractTransaction(_ context.Context, contractID string, states ...domain.TransactionState) (domain.EscrowTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return findContractTransaction(s.transactions, nil, contractID, states)
}

func (s *Store) GetContract(_ context.Context, contractID string) (domain.Contract, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.contracts[strings.TrimSpace(contractID)]
	if !ok {
		return domain.Contract{}, domain.ErrNotFound
	}
	return row, nil
}

func (s *Store) GetAccount(_ context.Context, userID string) (domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.accounts[strings.TrimSpace(userID)]
	if !ok {
		return domain.Account{}, domain.ErrNotFound
	}
	return cloneAccount(row), nil
}

func (s *Store) ListTransactionsByState(_ context.Context, state domain.TransactionState, createdBefore time.Time, afterID string, limit int) ([]domain.EscrowTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.EscrowTransaction, 0)
	for _, row := range s.transactions {
		if row.State != state || row.TransactionID <= afterID {
			continue
		}
		if !createdBefore.IsZero() && !row.CreatedAt.Before(createdBefore) {
			continue
		}
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TransactionID < out[j].TransactionID })
	return truncate(out, limit), nil
}

func (s *Store) ListExpiredQRs(_ context.Context, now time.Time, afterID string, limit int) ([]domain.PaymentQR, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.PaymentQR, 0)
	for _, row := range s.qrs {
		if row.QRID > afterID && row.ExpiredAt(now) {
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QRID < out[j].QRID })
	return truncate(out, limit), nil
}

func (s *Store) ListSpecialists(_ context.Context, afterID string, limit int) ([]domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Account, 0)
	for _, row := range s.accounts {
		if row.Role == domain.RoleSpecialist && row.UserID > afterID {
			out = append(out, cloneAccount(row))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return truncate(out, limit), nil
}

func (s *Store) ListCommissions(_ context.Context, from, to time.Time, afterID string, limit int) ([]domain.Commission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Commission, 0)
	for _, row := range s.commissions {
		if row.CommissionID <= afterID || row.CreatedAt.Before(from) || !row.CreatedAt.Before(to) {
			continue
		}
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CommissionID < out[j].CommissionID })
	return truncate(out, limit), nil
}

func (s *Store) SumReleasedVolume(_ context.Context, specialistID string, since time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total int64
	for _, row := range s.transactions {
		if row.SpecialistID != specialistID || row.State != domain.TransactionStateReleased || row.ReleasedAt == nil {
			continue
		}
		if !row.ReleasedAt.Before(since) {
			total += row.Amount
		}
	}
	return total, nil
}

func (s *Store) GetCommissionSummary(_ context.Context, period string) (domain.CommissionSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.summaries[period]
	if !ok {
		return domain.CommissionSummary{}, domain.ErrNotFound
	}
	return cloneSummary(row), nil
}

func (s *Store) GetMonthlyReport(_ context.Context, period string) (domain.MonthlyCommissionReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.reports[period]
	if !ok {
		return domain.MonthlyCommissionReport{}, domain.ErrNotFound
	}
	return row, nil
}

func (s *Store) PutMonthlyReport(_ context.Context, report domain.MonthlyCommissionReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports[report.Period] = report
	return nil
}

// Commissions returns every stored commission in insertion order.
func (s *Store) Commissions() []domain.Commission {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Commission(nil), s.commissions...)
}

func findContractTransaction(base, staged map[string]domain.EscrowTransaction, contractID string, states []domain.TransactionState) (domain.EscrowTransaction, error) {
	contractID = strings.TrimSpace(contractID)
	match := func(row domain.EscrowTransaction) bool {
		if row.ContractID != contractID {
			return false
		}
		if len(states) == 0 {
			return true
		}
		for _, st := range states {
			if row.State == st {
				return true
			}
		}
		return false
	}
	var found []domain.EscrowTransaction
	for id, row := range base {
		if override, ok := staged[id]; ok {
			row = override
		}
		if match(row) {
			found = append(found, row)
		}
	}
	for id, row := range staged {
		if _, ok := base[id]; !ok && match(row) {
			found = append(found, row)
		}
	}
	if len(found) == 0 {
		return domain.EscrowTransaction{}, domain.ErrNotFound
	}
	sort.Slice(found, func(i, j int) bool { return found[i].CreatedAt.After(found[j].CreatedAt) })
	return found[0], nil
}

func truncate[T any](rows []T, limit int) []T {
	if limit > 0 && len(rows) > limit {
		return rows[:limit]
	}
	return rows
}

func cloneAccount(a domain.Account) domain.Account {
	a.TierPerks = append([]string(nil), a.TierPerks...)
	return a
}

func cloneSummary(s domain.CommissionSummary) domain.CommissionSummary {
	byType := make(map[string]int64, len(s.ByType))
	for k, v := range s.ByType {
		byType[k] = v
	}
	bySpecialist := make(map[string]int64, len(s.BySpecialist))
	for k, v := range s.BySpecialist {
		bySpecialist[k] = v
	}
	s.ByType = byType
	s.BySpecialist = bySpecialist
	return s
}

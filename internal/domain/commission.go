package domain

import (
	"time"
)

type CommissionType string

const (
	CommissionTypeEscrowRelease  CommissionType = "escrow_release"
	CommissionTypeDisputeRelease CommissionType = "dispute_release"
)

// Commission is written once on release and never updated.
type Commission struct {
	CommissionID  string         `json:"commission_id"`
	TransactionID string         `json:"transaction_id"`
	ContractID    string         `json:"contract_id"`
	SpecialistID  string         `json:"specialist_id"`
	Amount        int64          `json:"amount"`
	Type          CommissionType `json:"type"`
	CreatedAt     time.Time      `json:"created_at"`
}

const periodLayout = "2006-01"

// PeriodOf returns the YYYY-MM summary key for t in UTC.
func PeriodOf(t time.Time) string {
	return t.UTC().Format(periodLayout)
}

// PeriodBounds parses a YYYY-MM period into its [start, end) range.
func PeriodBounds(period string) (time.Time, time.Time, error) {
	start, err := time.Parse(periodLayout, period)
	if err != nil {
		return time.Time{}, time.Time{}, ErrInvalidArgument
	}
	start = start.UTC()
	return start, start.AddDate(0, 1, 0), nil
}

// PreviousPeriod returns the period one month before period.
func PreviousPeriod(period string) (string, error) {
	start, _, err := PeriodBounds(period)
	if err != nil {
		return "", err
	}
	return PeriodOf(start.AddDate(0, -1, 0)), nil
}

type CommissionSummary struct {
	Period            string           `json:"period"`
	TotalCommissions  int64            `json:"total_commissions"`
	TotalTransactions int64            `json:"total_transactions"`
	ByType            map[string]int64 `json:"by_type"`
	BySpecialist      map[string]int64 `json:"by_specialist"`
	Average           float64          `json:"average"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

func NewCommissionSummary(period string) CommissionSummary {
	return CommissionSummary{
		Period:       period,
		ByType:       map[string]int64{},
		BySpecialist: map[string]int64{},
	}
}

// Apply folds one commission into the running totals.
func (s *CommissionSummary) Apply(c Commission, at time.Time) {
	if s.ByType == nil {
		s.ByType = map[string]int64{}
	}
	if s.BySpecialist == nil {
		s.BySpecialist = map[string]int64{}
	}
	s.TotalCommissions += c.Amount
	s.TotalTransactions++
	s.ByType[string(c.Type)] += c.Amount
	s.BySpecialist[c.SpecialistID] += c.Amount
	s.Average = roundTo(float64(s.TotalCommissions)/float64(s.TotalTransactions), 2)
	s.UpdatedAt = at.UTC()
}

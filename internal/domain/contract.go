package domain

import "time"

// Contract and Account are owned by other subsystems; this service reads them
// and mutates only the fields listed on each type.

type ContractState string

const (
	ContractStateAwaitingDeposit ContractState = "awaiting_deposit"
	ContractStateInProgress      ContractState = "in_progress"
	ContractStateDelivered       ContractState = "delivered"
	ContractStateCompleted       ContractState = "completed"
	ContractStateCancelled       ContractState = "cancelled"
	ContractStateDisputed        ContractState = "disputed"
)

type Contract struct {
	ContractID   string        `json:"contract_id"`
	ClientID     string        `json:"client_id"`
	SpecialistID string        `json:"specialist_id"`
	State        ContractState `json:"state"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

const (
	RoleClient     = "client"
	RoleSpecialist = "specialist"
	RoleAdmin      = "admin"
	RoleSystem     = "system"
)

// Account carries the balance, earnings and tier fields this service writes.
type Account struct {
	UserID            string     `json:"user_id"`
	Role              string     `json:"role"`
	EscrowBalance     int64      `json:"escrow_balance"`
	LifetimeEarnings  int64      `json:"lifetime_earnings"`
	CompletedJobs     int        `json:"completed_jobs"`
	AvgRating         float64    `json:"avg_rating"`
	PayoutDestination string     `json:"-"`
	Tier              Tier       `json:"tier,omitempty"`
	CommissionRateBps int64      `json:"commission_rate_bps,omitempty"`
	TierPerks         []string   `json:"tier_perks,omitempty"`
	TierComputedAt    *time.Time `json:"tier_computed_at,omitempty"`
	Suspended         bool       `json:"suspended"`
	SuspendedReason   string     `json:"suspended_reason,omitempty"`
	SuspendedAt       *time.Time `json:"suspended_at,omitempty"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

func (a *Account) ApplyTier(t SpecialistTier) {
	at := t.ComputedAt
	a.Tier = t.Tier
	a.CommissionRateBps = t.RateBps
	a.TierPerks = append([]string(nil), t.Perks...)
	a.TierComputedAt = &at
	a.UpdatedAt = at
}

func (a *Account) Suspend(reason string, at time.Time) {
	at = at.UTC()
	a.Suspended = true
	a.SuspendedReason = reason
	a.SuspendedAt = &at
	a.UpdatedAt = at
}

// DebitEscrow lowers the escrow balance by amount and reports whether the
// balance had to be clamped at zero.
func (a *Account) DebitEscrow(amount int64, at time.Time) (clamped bool) {
	a.EscrowBalance -= amount
	if a.EscrowBalance < 0 {
		a.EscrowBalance = 0
		clamped = true
	}
	a.UpdatedAt = at.UTC()
	return clamped
}

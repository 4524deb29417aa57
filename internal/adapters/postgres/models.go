package postgres

import "time"

type contractModel struct {
	ContractID   string    `gorm:"column:contract_id;primaryKey"`
	ClientID     string    `gorm:"column:client_id"`
	SpecialistID string    `gorm:"column:specialist_id"`
	State        string    `gorm:"column:state"`
	UpdatedAt    time.Time `gorm:"column:updated_at"`
}

func (contractModel) TableName() string { return "contracts" }

type accountModel struct {
	UserID            string     `gorm:"column:user_id;primaryKey"`
	Role              string     `gorm:"column:role"`
	EscrowBalance     int64      `gorm:"column:escrow_balance"`
	LifetimeEarnings  int64      `gorm:"column:lifetime_earnings"`
	CompletedJobs     int        `gorm:"column:completed_jobs"`
	AvgRating         float64    `gorm:"column:avg_rating"`
	PayoutDestination string     `gorm:"column:payout_destination"`
	Tier              string     `gorm:"column:tier"`
	CommissionRateBps int64      `gorm:"column:commission_rate_bps"`
	TierPerks         string     `gorm:"column:tier_perks"`
	TierComputedAt    *time.Time `gorm:"column:tier_computed_at"`
	Suspended         bool       `gorm:"column:suspended"`
	SuspendedReason   string     `gorm:"column:suspended_reason"`
	SuspendedAt       *time.Time `gorm:"column:suspended_at"`
	UpdatedAt         time.Time  `gorm:"column:updated_at"`
}

func (accountModel) TableName() string { return "accounts" }

type escrowTransactionModel struct {
	TransactionID      string     `gorm:"column:transaction_id;primaryKey"`
	ContractID         string     `gorm:"column:contract_id"`
	ClientID           string     `gorm:"column:client_id"`
	SpecialistID       string     `gorm:"column:specialist_id"`
	Amount             int64      `gorm:"column:amount"`
	Currency           string     `gorm:"column:currency"`
	PlatformCommission int64      `gorm:"column:platform_commission"`
	SpecialistPayout   int64      `gorm:"column:specialist_payout"`
	CommissionRateBps  int64      `gorm:"column:commission_rate_bps"`
	Tier               string     `gorm:"column:tier"`
	State              string     `gorm:"column:state"`
	PaymentIntentRef   string     `gorm:"column:payment_intent_ref"`
	ClientSecret       string     `gorm:"column:client_secret"`
	TransferRef        string     `gorm:"column:transfer_ref"`
	RefundRef          string     `gorm:"column:refund_ref"`
	ReferenceCode      string     `gorm:"column:reference_code"`
	CancellationReason string     `gorm:"column:cancellation_reason"`
	RefundReason       string     `gorm:"column:refund_reason"`
	CreatedAt          time.Time  `gorm:"column:created_at"`
	UpdatedAt          time.Time  `gorm:"column:updated_at"`
	DepositedAt        *time.Time `gorm:"column:deposited_at"`
	ReleasedAt         *time.Time `gorm:"column:released_at"`
	RefundedAt         *time.Time `gorm:"column:refunded_at"`
	DisputedAt         *time.Time `gorm:"column:disputed_at"`
	CancelledAt        *time.Time `gorm:"column:cancelled_at"`
}

func (escrowTransactionModel) TableName() string { return "escrow_transactions" }

type paymentQRModel struct {
	QRID           string    `gorm:"column:qr_id;primaryKey"`
	TransactionID  string    `gorm:"column:transaction_id"`
	ContractID     string    `gorm:"column:contract_id"`
	Amount         int64     `gorm:"column:amount"`
	EncodedPayload string    `gorm:"column:encoded_payload"`
	ExpiresAt      time.Time `gorm:"column:expires_at"`
	State          string    `gorm:"column:state"`
	CreatedAt      time.Time `gorm:"column:created_at"`
	UpdatedAt      time.Time `gorm:"column:updated_at"`
}

func (paymentQRModel) TableName() string { return "payment_qr_codes" }

type commissionModel struct {
	CommissionID  string    `gorm:"column:commission_id;primaryKey"`
	TransactionID string    `gorm:"column:transaction_id"`
	ContractID    string    `gorm:"column:contract_id"`
	SpecialistID  string    `gorm:"column:specialist_id"`
	Amount        int64     `gorm:"column:amount"`
	Type          string    `gorm:"column:type"`
	CreatedAt     time.Time `gorm:"column:created_at"`
}

func (commissionModel) TableName() string { return "commissions" }

type commissionSummaryModel struct {
	Period            string    `gorm:"column:period;primaryKey"`
	TotalCommissions  int64     `gorm:"column:total_commissions"`
	TotalTransactions int64     `gorm:"column:total_transactions"`
	ByType            string    `gorm:"column:by_type"`
	BySpecialist      string    `gorm:"column:by_specialist"`
	Average           float64   `gorm:"column:average"`
	UpdatedAt         time.Time `gorm:"column:updated_at"`
}

func (commissionSummaryModel) TableName() string { return "commission_summaries" }

type monthlyReportModel struct {
	Period      string    `gorm:"column:period;primaryKey"`
	Payload     string    `gorm:"column:payload"`
	GeneratedAt time.Time `gorm:"column:generated_at"`
}

func (monthlyReportModel) TableName() string { return "monthly_commission_reports" }

type auditEntryModel struct {
	EntryID       string    `gorm:"column:entry_id;primaryKey"`
	Action        string    `gorm:"column:action"`
	Category      string    `gorm:"column:category"`
	Severity      string    `gorm:"column:severity"`
	ActorID       string    `gorm:"column:actor_id"`
	ActorRole     string    `gorm:"column:actor_role"`
	ContractID    string    `gorm:"column:contract_id"`
	TransactionID string    `gorm:"column:transaction_id"`
	SubjectUserID string    `gorm:"column:subject_user_id"`
	Amount        int64     `gorm:"column:amount"`
	BeforeState   string    `gorm:"column:before_state"`
	AfterState    string    `gorm:"column:after_state"`
	Metadata      string    `gorm:"column:metadata"`
	RequestID     string    `gorm:"column:request_id"`
	OccurredAt    time.Time `gorm:"column:occurred_at"`
}

func (auditEntryModel) TableName() string { return "audit_log" }

type securityEventModel struct {
	EventID       string    `gorm:"column:event_id;primaryKey"`
	Type          string    `gorm:"column:type"`
	Severity      string    `gorm:"column:severity"`
	UserID        string    `gorm:"column:user_id"`
	ContractID    string    `gorm:"column:contract_id"`
	TransactionID string    `gorm:"column:transaction_id"`
	AuditEntryID  string    `gorm:"column:audit_entry_id"`
	Details       string    `gorm:"column:details"`
	DetectedAt    time.Time `gorm:"column:detected_at"`
}

func (securityEventModel) TableName() string { return "security_events" }

type outboxModel struct {
	OutboxID       string     `gorm:"column:outbox_id;primaryKey"`
	EventType      string     `gorm:"column:event_type"`
	PartitionKey   string     `gorm:"column:partition_key"`
	Payload        string     `gorm:"column:payload"`
	RetryCount     int        `gorm:"column:retry_count"`
	LastError      string     `gorm:"column:last_error"`
	CreatedAt      time.Time  `gorm:"column:created_at"`
	PublishedAt    *time.Time `gorm:"column:published_at"`
	LastErrorAt    *time.Time `gorm:"column:last_error_at"`
	ClaimToken     *string    `gorm:"column:claim_token"`
	ClaimUntil     *time.Time `gorm:"column:claim_until"`
	DeadLetteredAt *time.Time `gorm:"column:dead_lettered_at"`
}

func (outboxModel) TableName() string { return "escrow_outbox" }

type eventDedupModel struct {
	EventID     string    `gorm:"column:event_id;primaryKey"`
	EventType   string    `gorm:"column:event_type"`
	ProcessedAt time.Time `gorm:"column:processed_at"`
	ExpiresAt   time.Time `gorm:"column:expires_at"`
}

func (eventDedupModel) TableName() string { return "escrow_event_dedup" }

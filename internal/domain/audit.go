package domain

import "time"

type AuditCategory string

const (
	AuditCategoryFinancial AuditCategory = "financial"
	AuditCategorySecurity  AuditCategory = "security"
	AuditCategoryAdmin     AuditCategory = "admin"
	AuditCategorySystem    AuditCategory = "system"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	default:
		return false
	}
}

// Audit actions written by the ledger.
const (
	AuditActionEscrowCreated             = "escrow_created"
	AuditActionEscrowFunded              = "escrow_funded"
	AuditActionEscrowReleased            = "escrow_released"
	AuditActionEscrowRefunded            = "escrow_refunded"
	AuditActionEscrowCancelled           = "escrow_cancelled"
	AuditActionEscrowDisputed            = "escrow_disputed"
	AuditActionAccountSuspended          = "account_suspended"
	AuditActionUnauthorizedAccessAttempt = "unauthorized_access_attempt"
	AuditActionMonthlyReportGenerated    = "monthly_report_generated"
	AuditActionPaymentAfterCancellation  = "payment_after_cancellation"
)

// IsContractStateChange reports whether action moves a contract's escrow state.
func IsContractStateChange(action string) bool {
	switch action {
	case AuditActionEscrowCreated, AuditActionEscrowFunded, AuditActionEscrowReleased,
		AuditActionEscrowRefunded, AuditActionEscrowCancelled, AuditActionEscrowDisputed:
		return true
	default:
		return false
	}
}

// AuditEntry is append-only. Before, After and Metadata are stored redacted.
type AuditEntry struct {
	EntryID       string         `json:"entry_id"`
	Action        string         `json:"action"`
	Category      AuditCategory  `json:"category"`
	Severity      Severity       `json:"severity"`
	ActorID       string         `json:"actor_id"`
	ActorRole     string         `json:"actor_role"`
	ContractID    string         `json:"contract_id,omitempty"`
	TransactionID string         `json:"transaction_id,omitempty"`
	SubjectUserID string         `json:"subject_user_id,omitempty"`
	Amount        int64          `json:"amount,omitempty"`
	Before        map[string]any `json:"before,omitempty"`
	After         map[string]any `json:"after,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	RequestID     string         `json:"request_id,omitempty"`
	OccurredAt    time.Time      `json:"occurred_at"`
}

type SecurityEventType string

const (
	SecurityEventExcessiveStateChanges     SecurityEventType = "excessive_state_changes"
	SecurityEventHighTransactionVelocity   SecurityEventType = "high_transaction_velocity"
	SecurityEventLargeTransaction          SecurityEventType = "large_transaction"
	SecurityEventUnauthorizedAccessAttempt SecurityEventType = "unauthorized_access_attempt"
	SecurityEventPaymentAfterCancellation  SecurityEventType = "payment_after_cancellation"
)

type SecurityEvent struct {
	EventID       string            `json:"event_id"`
	Type          SecurityEventType `json:"type"`
	Severity      Severity          `json:"severity"`
	UserID        string            `json:"user_id,omitempty"`
	ContractID    string            `json:"contract_id,omitempty"`
	TransactionID string            `json:"transaction_id,omitempty"`
	AuditEntryID  string            `json:"audit_entry_id,omitempty"`
	Details       map[string]any    `json:"details,omitempty"`
	DetectedAt    time.Time         `json:"detected_at"`
}

type SecurityEventFilter struct {
	Severity Severity
	UserID   string
	Since    *time.Time
	Limit    int
}

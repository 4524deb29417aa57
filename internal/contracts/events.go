package contracts

import (
	"encoding/json"
	"time"
)

type EventEnvelope struct {
	EventID          string          `json:"event_id"`
	EventType        string          `json:"event_type"`
	OccurredAt       time.Time       `json:"occurred_at"`
	PartitionKeyPath string          `json:"partition_key_path"`
	PartitionKey     string          `json:"partition_key"`
	SourceService    string          `json:"source_service"`
	TraceID          string          `json:"trace_id"`
	SchemaVersion    string          `json:"schema_version"`
	Data             json.RawMessage `json:"data"`
}

type EscrowCreatedPayload struct {
	TransactionID      string `json:"transaction_id"`
	ContractID         string `json:"contract_id"`
	ClientID           string `json:"client_id"`
	SpecialistID       string `json:"specialist_id"`
	Amount             int64  `json:"amount"`
	Currency           string `json:"currency"`
	PlatformCommission int64  `json:"platform_commission"`
	Tier               string `json:"tier"`
	ReferenceCode      string `json:"reference_code"`
	CreatedAt          string `json:"created_at"`
}

type EscrowStateChangedPayload struct {
	TransactionID string `json:"transaction_id"`
	ContractID    string `json:"contract_id"`
	ClientID      string `json:"client_id"`
	SpecialistID  string `json:"specialist_id"`
	Amount        int64  `json:"amount"`
	FromState     string `json:"from_state"`
	ToState       string `json:"to_state"`
	Reason        string `json:"reason,omitempty"`
	OccurredAt    string `json:"occurred_at"`
}

type EscrowReleasedPayload struct {
	TransactionID      string `json:"transaction_id"`
	ContractID         string `json:"contract_id"`
	ClientID           string `json:"client_id"`
	SpecialistID       string `json:"specialist_id"`
	Amount             int64  `json:"amount"`
	PlatformCommission int64  `json:"platform_commission"`
	SpecialistPayout   int64  `json:"specialist_payout"`
	CommissionType     string `json:"commission_type"`
	ReleasedAt         string `json:"released_at"`
}

type SecurityCriticalPayload struct {
	SecurityEventID  string `json:"security_event_id"`
	Type             string `json:"type"`
	UserID           string `json:"user_id"`
	ContractID       string `json:"contract_id,omitempty"`
	AccountSuspended bool   `json:"account_suspended"`
	DetectedAt       string `json:"detected_at"`
}

type MonthlyReportGeneratedPayload struct {
	Period            string `json:"period"`
	TotalCommissions  int64  `json:"total_commissions"`
	TotalTransactions int64  `json:"total_transactions"`
	GeneratedAt       string `json:"generated_at"`
}

// DisputeOpenedPayload is published by the resolution center when a contract
// is escalated.
type DisputeOpenedPayload struct {
	DisputeID  string `json:"dispute_id"`
	ContractID string `json:"contract_id"`
	OpenedBy   string `json:"opened_by"`
	Reason     string `json:"reason"`
}

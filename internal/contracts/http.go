package contracts

type SuccessResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

type ErrorPayload struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

type ErrorResponse struct {
	Status string       `json:"status"`
	Error  ErrorPayload `json:"error"`
}

type CreateTransactionRequest struct {
	ContractID   string `json:"contract_id"`
	ClientID     string `json:"client_id"`
	SpecialistID string `json:"specialist_id"`
	Amount       int64  `json:"amount"`
}

type CreateTransactionResponse struct {
	TransactionID      string `json:"transaction_id"`
	ContractID         string `json:"contract_id"`
	ReferenceCode      string `json:"reference_code"`
	State              string `json:"state"`
	Amount             int64  `json:"amount"`
	Currency           string `json:"currency"`
	PlatformCommission int64  `json:"platform_commission"`
	SpecialistPayout   int64  `json:"specialist_payout"`
	CommissionRateBps  int64  `json:"commission_rate_bps"`
	Tier               string `json:"tier"`
	PaymentIntentRef   string `json:"payment_intent_ref"`
	ClientSecret       string `json:"client_secret"`
	QRPayload          string `json:"qr_payload"`
	QRExpiresAt        string `json:"qr_expires_at"`
	Replayed           bool   `json:"replayed,omitempty"`
}

type ConfirmDepositRequest struct {
	PaymentRef string `json:"payment_ref"`
}

type RefundRequest struct {
	Reason string `json:"reason"`
}

type CancelTransactionRequest struct {
	Reason string `json:"reason"`
}

type ResolveDisputeRequest struct {
	Outcome string `json:"outcome"`
	Reason  string `json:"reason"`
}

type TransactionResponse struct {
	TransactionID      string `json:"transaction_id"`
	ContractID         string `json:"contract_id"`
	ClientID           string `json:"client_id"`
	SpecialistID       string `json:"specialist_id"`
	ReferenceCode      string `json:"reference_code"`
	State              string `json:"state"`
	Amount             int64  `json:"amount"`
	Currency           string `json:"currency"`
	PlatformCommission int64  `json:"platform_commission"`
	SpecialistPayout   int64  `json:"specialist_payout"`
	CommissionRateBps  int64  `json:"commission_rate_bps"`
	Tier               string `json:"tier"`
	PaymentIntentRef   string `json:"payment_intent_ref"`
	TransferRef        string `json:"transfer_ref,omitempty"`
	RefundRef          string `json:"refund_ref,omitempty"`
	CancellationReason string `json:"cancellation_reason,omitempty"`
	CreatedAt          string `json:"created_at"`
	UpdatedAt          string `json:"updated_at"`
	DepositedAt        string `json:"deposited_at,omitempty"`
	ReleasedAt         string `json:"released_at,omitempty"`
	RefundedAt         string `json:"refunded_at,omitempty"`
	CancelledAt        string `json:"cancelled_at,omitempty"`
}

type JobErrorResponse struct {
	ItemID  string `json:"item_id"`
	Message string `json:"message"`
}

type JobResultResponse struct {
	Job            string             `json:"job"`
	ItemsProcessed int                `json:"items_processed"`
	ItemsSkipped   int                `json:"items_skipped"`
	Errors         []JobErrorResponse `json:"errors"`
	StartedAt      string             `json:"started_at"`
	FinishedAt     string             `json:"finished_at"`
}

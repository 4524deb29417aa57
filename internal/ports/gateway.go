package ports

import "context"

// Intent statuses reported by the payment gateway.
const (
	IntentStatusRequiresPayment = "requires_payment_method"
	IntentStatusProcessing      = "processing"
	IntentStatusSucceeded       = "succeeded"
	IntentStatusCanceled        = "canceled"
)

type CreateIntentRequest struct {
	Amount         int64
	Currency       string
	IdempotencyKey string
	Metadata       map[string]string
}

type PaymentIntent struct {
	ID           string
	ClientSecret string
	Status       string
	Amount       int64
}

type TransferRequest struct {
	Amount         int64
	Currency       string
	Destination    string
	IdempotencyKey string
	Metadata       map[string]string
}

type RefundRequest struct {
	PaymentIntentID string
	Amount          int64
	IdempotencyKey  string
	Metadata        map[string]string
}

// PaymentGateway is the external processor. Calls are synchronous and are
// not retried by the caller.
type PaymentGateway interface {
	CreateIntent(ctx context.Context, req CreateIntentRequest) (PaymentIntent, error)
	GetIntent(ctx context.Context, intentID string) (PaymentIntent, error)
	CreateTransfer(ctx context.Context, req TransferRequest) (string, error)
	CreateRefund(ctx context.Context, req RefundRequest) (string, error)
}

package domain

import (
	"encoding/base64"
	"fmt"
	"time"
)

type QRState string

const (
	QRStateActive  QRState = "active"
	QRStateUsed    QRState = "used"
	QRStateExpired QRState = "expired"
)

const DefaultQRTTL = 24 * time.Hour

type PaymentQR struct {
	QRID           string    `json:"qr_id"`
	TransactionID  string    `json:"transaction_id"`
	ContractID     string    `json:"contract_id"`
	Amount         int64     `json:"amount"`
	EncodedPayload string    `json:"encoded_payload"`
	ExpiresAt      time.Time `json:"expires_at"`
	State          QRState   `json:"state"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// ExpiredAt reports whether the code is still active past its expiry.
func (q PaymentQR) ExpiredAt(now time.Time) bool {
	return q.State == QRStateActive && q.ExpiresAt.Before(now)
}

// EncodeQRPayload produces the opaque payload scanned by the client. It only
// references the payment intent; the client secret never leaves the API response.
func EncodeQRPayload(referenceCode, paymentIntentRef string, amount int64, currency string) string {
	raw := fmt.Sprintf("ecx1|%s|%s|%d|%s", referenceCode, paymentIntentRef, amount, currency)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

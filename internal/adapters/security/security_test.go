package security

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenVerifierRoundTrip(t *testing.T) {
	v, err := NewTokenVerifier("s3cret", "identity")
	require.NoError(t, err)

	raw, err := v.Sign(Claims{UserID: "client-1", Role: "Client"}, time.Minute)
	require.NoError(t, err)

	claims, err := v.Verify(raw)
	require.NoError(t, err)
	assert.Equal(t, "client-1", claims.UserID)
	assert.Equal(t, "client", claims.Role)
}

func TestTokenVerifierRejectsWrongSecretAndExpiry(t *testing.T) {
	v, err := NewTokenVerifier("s3cret", "")
	require.NoError(t, err)
	other, err := NewTokenVerifier("other", "")
	require.NoError(t, err)

	raw, err := other.Sign(Claims{UserID: "u", Role: "admin"}, time.Minute)
	require.NoError(t, err)
	_, err = v.Verify(raw)
	require.ErrorIs(t, err, ErrInvalidToken)

	expired, err := v.Sign(Claims{UserID: "u", Role: "admin"}, -time.Hour)
	require.NoError(t, err)
	_, err = v.Verify(expired)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenVerifierRejectsNoneAlgorithm(t *testing.T) {
	v, err := NewTokenVerifier("s3cret", "")
	require.NoError(t, err)
	token := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"user_id": "u",
		"role":    "admin",
		"exp":     time.Now().Add(time.Hour).Unix(),
	})
	raw, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = v.Verify(raw)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestWebhookVerifier(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	v := NewWebhookVerifier("whsec", time.Minute)
	v.nowFn = func() time.Time { return now }
	body := []byte(`{"type":"payment_intent.succeeded"}`)

	header := v.SignatureHeader(now, body)
	require.NoError(t, v.Verify(header, body))

	require.ErrorIs(t, v.Verify(header, []byte(`{"type":"tampered"}`)), ErrInvalidSignature)
	require.ErrorIs(t, v.Verify(v.SignatureHeader(now.Add(-2*time.Minute), body), body), ErrInvalidSignature)
	require.ErrorIs(t, v.Verify("garbage", body), ErrInvalidSignature)
}

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viralforge/escrow-commission-engine/internal/ports"
)

func TestClientCreateIntent(t *testing.T) {
	var got struct {
		method, path, auth, idem, contentType string
		body                                  map[string]any
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.method, got.path = r.Method, r.URL.Path
		got.auth = r.Header.Get("Authorization")
		got.idem = r.Header.Get("Idempotency-Key")
		got.contentType = r.Header.Get("Content-Type")
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &got.body)
		_, _ = w.Write([]byte(`{"id":"pi_1","client_secret":"pi_1_secret","status":"requires_payment_method","amount":500}`))
	}))
	t.Cleanup(srv.Close)

	client := NewClient(ClientConfig{BaseURL: srv.URL + "/", SecretKey: "sk_test_x"})
	intent, err := client.CreateIntent(context.Background(), ports.CreateIntentRequest{
		Amount: 500, Currency: "usd", IdempotencyKey: "intent-t1", Metadata: map[string]string{"transaction_id": "t1"},
	})
	require.NoError(t, err)
	assert.Equal(t, ports.PaymentIntent{ID: "pi_1", ClientSecret: "pi_1_secret", Status: ports.IntentStatusRequiresPayment, Amount: 500}, intent)

	assert.Equal(t, http.MethodPost, got.method)
	assert.Equal(t, "/v1/payment_intents", got.path)
	assert.Equal(t, "Bearer sk_test_x", got.auth)
	assert.Equal(t, "intent-t1", got.idem)
	assert.Equal(t, "application/json", got.contentType)
	assert.Equal(t, float64(500), got.body["amount"])
	assert.Equal(t, "t1", got.body["metadata"].(map[string]any)["transaction_id"])
}

func TestClientGetIntentEscapesID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/v1/payment_intents/pi%2F1", r.URL.EscapedPath())
		assert.Empty(t, r.Header.Get("Idempotency-Key"))
		_, _ = w.Write([]byte(`{"id":"pi/1","status":"succeeded","amount":10}`))
	}))
	t.Cleanup(srv.Close)

	intent, err := NewClient(ClientConfig{BaseURL: srv.URL}).GetIntent(context.Background(), "pi/1")
	require.NoError(t, err)
	assert.Equal(t, ports.IntentStatusSucceeded, intent.Status)
}

func TestClientSurfacesGatewayErrorMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		_, _ = w.Write([]byte(`{"error":{"type":"card_error","message":"insufficient funds in destination"}}`))
	}))
	t.Cleanup(srv.Close)

	_, err := NewClient(ClientConfig{BaseURL: srv.URL}).CreateTransfer(context.Background(), ports.TransferRequest{
		Amount: 425, Currency: "usd", Destination: "acct_1", IdempotencyKey: "release-t1",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 402")
	assert.Contains(t, err.Error(), "insufficient funds in destination")
}

func TestClientHonoursContextCancellation(t *testing.T) {
	client := NewClient(ClientConfig{BaseURL: "http://127.0.0.1:1", RequestsPerSecond: 1, Burst: 1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := client.CreateRefund(ctx, ports.RefundRequest{PaymentIntentID: "pi_1", Amount: 10})
	require.Error(t, err)
}

func TestSandboxIdempotency(t *testing.T) {
	ctx := context.Background()
	sb := NewSandbox()
	first, err := sb.CreateIntent(ctx, ports.CreateIntentRequest{Amount: 100, IdempotencyKey: "k1"})
	require.NoError(t, err)
	second, err := sb.CreateIntent(ctx, ports.CreateIntentRequest{Amount: 100, IdempotencyKey: "k1"})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	tr1, err := sb.CreateTransfer(ctx, ports.TransferRequest{Amount: 90, Destination: "acct", IdempotencyKey: "release-1"})
	require.NoError(t, err)
	tr2, err := sb.CreateTransfer(ctx, ports.TransferRequest{Amount: 90, Destination: "acct", IdempotencyKey: "release-1"})
	require.NoError(t, err)
	assert.Equal(t, tr1, tr2)
	assert.Equal(t, 1, sb.Transfers())

	_, err = sb.CreateRefund(ctx, ports.RefundRequest{PaymentIntentID: "pi_missing", IdempotencyKey: "refund-1"})
	require.Error(t, err)

	sb.FailCalls("get_intent", true)
	_, err = sb.GetIntent(ctx, first.ID)
	require.True(t, errors.Is(err, ErrSandboxFailure))
	sb.FailCalls("get_intent", false)
	require.NoError(t, sb.MarkSucceeded(first.ID))
	intent, err := sb.GetIntent(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, ports.IntentStatusSucceeded, intent.Status)
}

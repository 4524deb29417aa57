package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viralforge/escrow-commission-engine/internal/adapters/cache"
	"github.com/viralforge/escrow-commission-engine/internal/adapters/gateway"
	"github.com/viralforge/escrow-commission-engine/internal/adapters/memory"
	"github.com/viralforge/escrow-commission-engine/internal/adapters/security"
	"github.com/viralforge/escrow-commission-engine/internal/application"
	"github.com/viralforge/escrow-commission-engine/internal/domain"
)

type fixture struct {
	router   http.Handler
	store    *memory.Store
	sandbox  *gateway.Sandbox
	tokens   *security.TokenVerifier
	webhooks *security.WebhookVerifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewStore()
	sandbox := gateway.NewSandbox()
	now := time.Now().UTC()
	store.PutContract(domain.Contract{
		ContractID:   "contract-1",
		ClientID:     "client-1",
		SpecialistID: "specialist-1",
		State:        domain.ContractStateAwaitingDeposit,
		UpdatedAt:    now,
	})
	store.PutAccount(domain.Account{UserID: "client-1", Role: domain.RoleClient, UpdatedAt: now})
	store.PutAccount(domain.Account{UserID: "specialist-1", Role: domain.RoleSpecialist, PayoutDestination: "acct_123", UpdatedAt: now})

	svc := application.NewService(application.Dependencies{
		Store:      store,
		Audit:      store,
		Gateway:    sandbox,
		Activity:   cache.NewMemoryActivityCounter(nil),
		EventDedup: store,
	})
	tokens, err := security.NewTokenVerifier("test-secret", "")
	require.NoError(t, err)
	webhooks := security.NewWebhookVerifier("whsec_test", time.Minute)
	opts := Options{Verifier: tokens, Webhooks: webhooks, RateLimiter: NewRateLimiter(1000, 1000)}
	return &fixture{
		router:   NewRouter(NewHandler(svc, opts), opts),
		store:    store,
		sandbox:  sandbox,
		tokens:   tokens,
		webhooks: webhooks,
	}
}

func (f *fixture) do(t *testing.T, method, path, userID, role string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if userID != "" {
		token, err := f.tokens.Sign(security.Claims{UserID: userID, Role: role}, time.Minute)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

type envelope struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
	Error  struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/healthz", "", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestRequestIDPropagation(t *testing.T) {
	f := newFixture(t)
	cases := []struct {
		name   string
		header string
		keep   bool
	}{
		{"caller id kept", "req-abc-123", true},
		{"blank replaced", "", false},
		{"control characters replaced", "req\tinjected", false},
		{"oversized replaced", strings.Repeat("r", 200), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
			if tc.header != "" {
				req.Header.Set("X-Request-Id", tc.header)
			}
			rec := httptest.NewRecorder()
			f.router.ServeHTTP(rec, req)
			got := rec.Header().Get("X-Request-Id")
			require.NotEmpty(t, got)
			if tc.keep {
				assert.Equal(t, tc.header, got)
			} else {
				assert.NotEqual(t, tc.header, got)
			}
		})
	}
}

func TestProtectedRouteRequiresToken(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/v1/transactions/tx-1", "", "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, domain.CodeUnauthenticated, decode(t, rec).Error.Code)
}

func TestCreateConfirmReleaseFlow(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/v1/transactions", "client-1", domain.RoleClient, map[string]any{
		"contract_id":   "contract-1",
		"client_id":     "client-1",
		"specialist_id": "specialist-1",
		"amount":        500,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created struct {
		TransactionID      string `json:"transaction_id"`
		PaymentIntentRef   string `json:"payment_intent_ref"`
		PlatformCommission int64  `json:"platform_commission"`
		SpecialistPayout   int64  `json:"specialist_payout"`
		State              string `json:"state"`
	}
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &created))
	assert.Equal(t, int64(75), created.PlatformCommission)
	assert.Equal(t, int64(425), created.SpecialistPayout)
	assert.Equal(t, string(domain.TransactionStatePendingDeposit), created.State)

	require.NoError(t, f.sandbox.MarkSucceeded(created.PaymentIntentRef))
	rec = f.do(t, http.MethodPost, "/v1/transactions/"+created.TransactionID+"/confirm-deposit", "client-1", domain.RoleClient,
		map[string]any{"payment_ref": created.PaymentIntentRef})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/v1/contracts/contract-1/release", "client-1", domain.RoleClient, nil)
	require.Equal(t, http.StatusConflict, rec.Code, "contract is not delivered yet")
	assert.Equal(t, domain.CodeFailedPrecondition, decode(t, rec).Error.Code)

	contract, err := f.store.GetContract(context.Background(), "contract-1")
	require.NoError(t, err)
	contract.State = domain.ContractStateDelivered
	f.store.PutContract(contract)

	rec = f.do(t, http.MethodPost, "/v1/contracts/contract-1/release", "client-1", domain.RoleClient, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 1, f.sandbox.Transfers())
}

func TestGetTransactionHidesExistenceFromStrangers(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/v1/transactions", "client-1", domain.RoleClient, map[string]any{
		"contract_id": "contract-1", "client_id": "client-1", "specialist_id": "specialist-1", "amount": 1000,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var created struct {
		TransactionID string `json:"transaction_id"`
	}
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &created))

	existing := f.do(t, http.MethodGet, "/v1/transactions/"+created.TransactionID, "intruder", domain.RoleClient, nil)
	missing := f.do(t, http.MethodGet, "/v1/transactions/does-not-exist", "intruder", domain.RoleClient, nil)

	require.Equal(t, http.StatusForbidden, existing.Code)
	require.Equal(t, http.StatusForbidden, missing.Code)
	assert.Equal(t, decode(t, existing).Error.Message, decode(t, missing).Error.Message)
}

func TestCreateTransactionRejectsBadInput(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/v1/transactions", "client-1", domain.RoleClient, map[string]any{
		"contract_id": "contract-1", "client_id": "client-1", "specialist_id": "specialist-1", "amount": 0,
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, domain.CodeInvalidArgument, decode(t, rec).Error.Code)

	rec = f.do(t, http.MethodPost, "/v1/transactions", "client-1", domain.RoleClient, map[string]any{"unknown": true})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminRoutesRejectNonAdmins(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/v1/admin/jobs/expire_qr_codes", "client-1", domain.RoleClient, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodGet, "/v1/admin/security-events", "client-1", domain.RoleClient, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodPost, "/v1/admin/jobs/expire_qr_codes", "ops-1", domain.RoleAdmin, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/v1/admin/jobs/unknown", "ops-1", domain.RoleAdmin, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPaymentWebhookConfirmsDeposit(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/v1/transactions", "client-1", domain.RoleClient, map[string]any{
		"contract_id": "contract-1", "client_id": "client-1", "specialist_id": "specialist-1", "amount": 2000,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var created struct {
		TransactionID    string `json:"transaction_id"`
		PaymentIntentRef string `json:"payment_intent_ref"`
	}
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &created))
	require.NoError(t, f.sandbox.MarkSucceeded(created.PaymentIntentRef))

	body, err := json.Marshal(map[string]any{
		"type": "payment_intent.succeeded",
		"data": map[string]any{"object": map[string]any{
			"id":       created.PaymentIntentRef,
			"metadata": map[string]any{"transaction_id": created.TransactionID},
		}},
	})
	require.NoError(t, err)

	send := func(signature string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/payments", bytes.NewReader(body))
		req.Header.Set(signatureHeader, signature)
		out := httptest.NewRecorder()
		f.router.ServeHTTP(out, req)
		return out
	}

	require.Equal(t, http.StatusUnauthorized, send("t=1,v1=deadbeef").Code)

	signature := f.webhooks.SignatureHeader(time.Now(), body)
	require.Equal(t, http.StatusOK, send(signature).Code)
	require.Equal(t, http.StatusOK, send(signature).Code, "redelivery is accepted")

	tx, err := f.store.GetTransaction(context.Background(), created.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStateHeld, tx.State)
	client, err := f.store.GetAccount(context.Background(), "client-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2000), client.EscrowBalance)
}

func TestRateLimiterRejectsBurst(t *testing.T) {
	rl := NewRateLimiter(0.001, 1)
	h := rl.Handler(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) }))

	first := httptest.NewRecorder()
	h.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/", nil))
	second := httptest.NewRecorder()
	h.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusNoContent, first.Code)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
}

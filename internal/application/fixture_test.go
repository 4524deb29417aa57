package application_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/viralforge/escrow-commission-engine/internal/adapters/cache"
	"github.com/viralforge/escrow-commission-engine/internal/adapters/gateway"
	"github.com/viralforge/escrow-commission-engine/internal/adapters/memory"
	"github.com/viralforge/escrow-commission-engine/internal/application"
	"github.com/viralforge/escrow-commission-engine/internal/domain"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	svc     *application.Service
	store   *memory.Store
	gateway *gateway.Sandbox
	clock   *testClock
}

var (
	adminActor = application.Actor{SubjectID: "admin-1", Role: domain.RoleAdmin, RequestID: "req-admin"}
	ctx        = context.Background()
)

func clientActor(id string) application.Actor {
	return application.Actor{SubjectID: id, Role: domain.RoleClient, RequestID: "req-" + id}
}

func newFixture(t *testing.T, configure func(*application.Config)) *fixture {
	t.Helper()
	clock := &testClock{now: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}
	cfg := application.Config{}
	if configure != nil {
		configure(&cfg)
	}
	store := memory.NewStore()
	sandbox := gateway.NewSandbox()
	svc := application.NewService(application.Dependencies{
		Config:     cfg,
		Store:      store,
		Audit:      store,
		Gateway:    sandbox,
		Activity:   cache.NewMemoryActivityCounter(clock.Now),
		EventDedup: store,
		Clock:      clock.Now,
	})
	return &fixture{svc: svc, store: store, gateway: sandbox, clock: clock}
}

// seedContract stores a contract awaiting deposit along with both accounts.
func (f *fixture) seedContract(contractID, clientID, specialistID string) {
	f.store.PutContract(domain.Contract{
		ContractID:   contractID,
		ClientID:     clientID,
		SpecialistID: specialistID,
		State:        domain.ContractStateAwaitingDeposit,
	})
	if _, err := f.store.GetAccount(ctx, clientID); err != nil {
		f.store.PutAccount(domain.Account{UserID: clientID, Role: domain.RoleClient})
	}
	if _, err := f.store.GetAccount(ctx, specialistID); err != nil {
		f.store.PutAccount(domain.Account{UserID: specialistID, Role: domain.RoleSpecialist, PayoutDestination: "acct_" + specialistID})
	}
}

func (f *fixture) create(t *testing.T, contractID, clientID, specialistID string, amount int64) domain.EscrowTransaction {
	t.Helper()
	res, err := f.svc.CreateTransaction(ctx, clientActor(clientID), application.CreateTransactionInput{
		ContractID: contractID, ClientID: clientID, SpecialistID: specialistID, Amount: amount,
	})
	require.NoError(t, err)
	return res.Transaction
}

func (f *fixture) fund(t *testing.T, tx domain.EscrowTransaction) domain.EscrowTransaction {
	t.Helper()
	require.NoError(t, f.gateway.MarkSucceeded(tx.PaymentIntentRef))
	held, err := f.svc.ConfirmDeposit(ctx, clientActor(tx.ClientID), application.ConfirmDepositInput{
		TransactionID: tx.TransactionID, PaymentRef: tx.PaymentIntentRef,
	})
	require.NoError(t, err)
	return held
}

func (f *fixture) setContractState(t *testing.T, contractID string, state domain.ContractState) {
	t.Helper()
	contract, err := f.store.GetContract(ctx, contractID)
	require.NoError(t, err)
	contract.State = state
	f.store.PutContract(contract)
}

func (f *fixture) account(t *testing.T, userID string) domain.Account {
	t.Helper()
	acct, err := f.store.GetAccount(ctx, userID)
	require.NoError(t, err)
	return acct
}

func (f *fixture) outboxTypes() []string {
	out := []string{}
	for _, rec := range f.store.Outbox() {
		out = append(out, rec.EventType)
	}
	return out
}

func disputeEnvelope(t *testing.T, eventID, contractID string) []byte {
	t.Helper()
	raw, err := json.Marshal(map[string]any{
		"event_id":           eventID,
		"event_type":         domain.EventDisputeOpened,
		"occurred_at":        time.Now().UTC().Format(time.RFC3339),
		"partition_key_path": "data.contract_id",
		"partition_key":      contractID,
		"source_service":     "resolution-center",
		"trace_id":           "trace-" + eventID,
		"schema_version":     "v1",
		"data": map[string]any{
			"dispute_id":  "dispute-" + eventID,
			"contract_id": contractID,
			"opened_by":   "client-1",
			"reason":      "work not delivered",
		},
	})
	require.NoError(t, err)
	return raw
}

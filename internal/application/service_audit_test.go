package application_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viralforge/escrow-commission-engine/internal/adapters/memory"
	"github.com/viralforge/escrow-commission-engine/internal/application"
	"github.com/viralforge/escrow-commission-engine/internal/domain"
)

func TestRecordRedactsSensitiveValues(t *testing.T) {
	f := newFixture(t, nil)
	entry, err := f.svc.Record(ctx, application.AuditEvent{
		Action:     "manual_note",
		ContractID: "contract-1",
		Metadata: map[string]any{
			"client_secret": "pi_123_secret_abc",
			"nested":        map[string]any{"api_token": "abc", "kept": "value"},
			"note":          "rotated sk_live_abc123 after Bearer eyJhbGciOi.x.y leaked",
		},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.AuditCategorySystem, entry.Category)
	assert.Equal(t, domain.SeverityLow, entry.Severity)
	assert.Equal(t, "[REDACTED]", entry.Metadata["client_secret"])
	nested := entry.Metadata["nested"].(map[string]any)
	assert.Equal(t, "[REDACTED]", nested["api_token"])
	assert.Equal(t, "value", nested["kept"])
	assert.NotContains(t, entry.Metadata["note"], "sk_live_abc123")
	assert.NotContains(t, entry.Metadata["note"], "eyJhbGciOi")

	_, err = f.svc.Record(ctx, application.AuditEvent{Action: "  "})
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestEscrowAuditTrailHidesClientSecret(t *testing.T) {
	f := newFixture(t, nil)
	f.seedContract("contract-1", "client-1", "spec-1")
	f.fund(t, f.create(t, "contract-1", "client-1", "spec-1", 500))

	entries, err := f.svc.ListAuditEntries(ctx, adminActor, "contract-1", 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, domain.AuditActionEscrowFunded, entries[0].Action)
	assert.Equal(t, domain.AuditActionEscrowCreated, entries[1].Action)
	assert.Equal(t, "[REDACTED]", entries[1].After["client_secret"])
	assert.Equal(t, int64(500), entries[1].Amount)

	_, err = f.svc.ListAuditEntries(ctx, clientActor("client-1"), "contract-1", 0)
	require.ErrorIs(t, err, domain.ErrPermissionDenied)
	_, err = f.svc.ListAuditEntries(ctx, adminActor, "", 0)
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestLargeTransactionDetection(t *testing.T) {
	f := newFixture(t, func(cfg *application.Config) { cfg.LargeTransactionThreshold = 1000 })
	f.seedContract("contract-1", "client-1", "spec-1")
	f.seedContract("contract-2", "client-2", "spec-1")
	f.create(t, "contract-1", "client-1", "spec-1", 1000)
	large := f.fund(t, f.create(t, "contract-2", "client-2", "spec-1", 1001))
	f.setContractState(t, "contract-2", domain.ContractStateDelivered)
	_, err := f.svc.ReleaseFunds(ctx, clientActor("client-2"), application.ReleaseFundsInput{ContractID: "contract-2"})
	require.NoError(t, err)

	events, err := f.svc.ListSecurityEvents(ctx, adminActor, domain.SecurityEventFilter{})
	require.NoError(t, err)
	require.Len(t, events, 1, "funding and release do not flag the same transaction again")
	assert.Equal(t, domain.SecurityEventLargeTransaction, events[0].Type)
	assert.Equal(t, "client-2", events[0].UserID)
	assert.Equal(t, large.TransactionID, events[0].TransactionID)
	assert.False(t, f.account(t, "client-2").Suspended, "medium severity does not suspend")
}

func TestTransactionVelocityEscalatesToSuspension(t *testing.T) {
	f := newFixture(t, func(cfg *application.Config) { cfg.ClientTransactionLimit = 1 })
	for i := 1; i <= 4; i++ {
		f.seedContract(fmt.Sprintf("contract-%d", i), "client-1", "spec-1")
	}
	f.create(t, "contract-1", "client-1", "spec-1", 100)
	f.create(t, "contract-2", "client-1", "spec-1", 100)

	high, err := f.svc.ListSecurityEvents(ctx, adminActor, domain.SecurityEventFilter{Severity: domain.SeverityHigh})
	require.NoError(t, err)
	require.Len(t, high, 1)
	assert.Equal(t, domain.SecurityEventHighTransactionVelocity, high[0].Type)
	assert.False(t, f.account(t, "client-1").Suspended)

	f.create(t, "contract-3", "client-1", "spec-1", 100)
	critical, err := f.svc.ListSecurityEvents(ctx, adminActor, domain.SecurityEventFilter{Severity: domain.SeverityCritical})
	require.NoError(t, err)
	require.Len(t, critical, 1)

	client := f.account(t, "client-1")
	assert.True(t, client.Suspended)
	assert.Equal(t, "security:high_transaction_velocity", client.SuspendedReason)
	assert.Contains(t, f.outboxTypes(), domain.EventSecurityCriticalEvent)

	_, err = f.svc.CreateTransaction(ctx, clientActor("client-1"), application.CreateTransactionInput{
		ContractID: "contract-4", ClientID: "client-1", SpecialistID: "spec-1", Amount: 100,
	})
	require.ErrorIs(t, err, domain.ErrPermissionDenied)
}

func TestExcessiveContractStateChanges(t *testing.T) {
	f := newFixture(t, func(cfg *application.Config) { cfg.ContractStateChangeLimit = 2 })
	f.seedContract("contract-1", "client-1", "spec-1")
	f.fund(t, f.create(t, "contract-1", "client-1", "spec-1", 100))
	f.setContractState(t, "contract-1", domain.ContractStateDelivered)
	_, err := f.svc.ReleaseFunds(ctx, clientActor("client-1"), application.ReleaseFundsInput{ContractID: "contract-1"})
	require.NoError(t, err)

	events, err := f.svc.ListSecurityEvents(ctx, adminActor, domain.SecurityEventFilter{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.SecurityEventExcessiveStateChanges, events[0].Type)
	assert.Equal(t, domain.SeverityHigh, events[0].Severity)
	assert.Equal(t, "contract-1", events[0].ContractID)
}

func TestListSecurityEventsValidatesSeverity(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.svc.ListSecurityEvents(ctx, adminActor, domain.SecurityEventFilter{Severity: "urgent"})
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestPublicError(t *testing.T) {
	cases := []struct {
		err  error
		code string
		msg  string
	}{
		{nil, "", ""},
		{fmt.Errorf("%w: amount must be positive", domain.ErrInvalidArgument), domain.CodeInvalidArgument, "invalid argument: amount must be positive"},
		{fmt.Errorf("%w: transaction 42", domain.ErrPermissionDenied), domain.CodePermissionDenied, "permission denied"},
		{domain.ErrUnauthenticated, domain.CodeUnauthenticated, "invalid or missing credentials"},
		{fmt.Errorf("dial tcp 10.1.2.3:5432: refused"), domain.CodeInternal, "internal error"},
	}
	for _, tc := range cases {
		code, msg := application.PublicError(tc.err)
		assert.Equal(t, tc.code, code)
		assert.Equal(t, tc.msg, msg)
	}
}

func TestSanitizeMessage(t *testing.T) {
	cases := map[string][]string{
		"dial tcp 10.1.2.3:5432: connection refused":          {"10.1.2.3", "5432"},
		"request to https://api.gateway.example/v1 failed":    {"https://", "gateway.example"},
		"auth header Bearer abc.def.ghi rejected":             {"abc.def.ghi"},
		"password=hunter2 token: t0k3n":                       {"hunter2", "t0k3n"},
		"lookup db.internal:5432 failed":                      {"db.internal"},
		"key sk_test_51Habc rejected":                         {"sk_test_51Habc"},
		"panic: boom\ngoroutine 1 [running]:\nmain.go:12 +0x": {"goroutine", "main.go"},
	}
	for input, secrets := range cases {
		got := application.SanitizeMessage(input)
		for _, secret := range secrets {
			assert.NotContains(t, got, secret, "input %q", input)
		}
	}
	assert.Equal(t, "contract is held, not delivered", application.SanitizeMessage("contract is held, not delivered"))
}

type unavailableAudit struct {
	*memory.Store
}

func (unavailableAudit) AppendEntry(context.Context, domain.AuditEntry) error {
	return errors.New("audit log unavailable")
}

func TestAuditOutageKeepsCommittedTransition(t *testing.T) {
	f := newFixture(t, nil)
	f.seedContract("contract-1", "client-1", "spec-1")
	svc := application.NewService(application.Dependencies{
		Store:      f.store,
		Audit:      unavailableAudit{f.store},
		Gateway:    f.gateway,
		EventDedup: f.store,
		Clock:      f.clock.Now,
	})

	res, err := svc.CreateTransaction(ctx, clientActor("client-1"), application.CreateTransactionInput{
		ContractID: "contract-1", ClientID: "client-1", SpecialistID: "spec-1", Amount: 500,
	})
	require.NoError(t, err)

	stored, err := f.store.GetTransaction(ctx, res.Transaction.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatePendingDeposit, stored.State)
	assert.Equal(t, []string{domain.EventEscrowCreated}, f.outboxTypes(), "the outbox event commits with the transition")

	entries, err := f.store.ListEntries(ctx, "contract-1", 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

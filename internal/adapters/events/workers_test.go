package events

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viralforge/escrow-commission-engine/internal/adapters/memory"
	"github.com/viralforge/escrow-commission-engine/internal/domain"
	"github.com/viralforge/escrow-commission-engine/internal/ports"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

type recordingPublisher struct {
	mu        sync.Mutex
	fail      bool
	published []string
}

func (p *recordingPublisher) Publish(_ context.Context, eventType string, _ []byte, _ string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return errors.New("broker unavailable")
	}
	p.published = append(p.published, eventType)
	return nil
}

func enqueue(t *testing.T, store *memory.Store, id, eventType string) {
	t.Helper()
	require.NoError(t, store.RunAtomic(context.Background(), func(tx ports.LedgerTx) error {
		return tx.EnqueueOutbox(context.Background(), ports.OutboxRecord{
			OutboxID: id, EventType: eventType, PartitionKey: "contract-1", Payload: []byte(`{}`), CreatedAt: time.Now().UTC(),
		})
	}))
}

func TestOutboxWorkerPublishes(t *testing.T) {
	store := memory.NewStore()
	enqueue(t, store, "evt-1", domain.EventEscrowCreated)
	enqueue(t, store, "evt-2", domain.EventEscrowFunded)
	publisher := &recordingPublisher{}
	worker := NewOutboxWorker(discardLogger(), store, publisher, time.Second, 10, time.Minute, 3)

	result, err := worker.ProcessOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutboxBatchResult{Claimed: 2, Published: 2}, result)
	assert.Equal(t, []string{domain.EventEscrowCreated, domain.EventEscrowFunded}, publisher.published)
	for _, rec := range store.Outbox() {
		assert.NotNil(t, rec.PublishedAt)
		assert.Empty(t, rec.ClaimToken)
	}

	result, err = worker.ProcessOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, result.Claimed)
}

func TestOutboxWorkerRetriesThenDeadLetters(t *testing.T) {
	store := memory.NewStore()
	enqueue(t, store, "evt-1", domain.EventEscrowReleased)
	publisher := &recordingPublisher{fail: true}
	worker := NewOutboxWorker(discardLogger(), store, publisher, time.Second, 10, time.Minute, 2)

	result, err := worker.ProcessOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutboxBatchResult{Claimed: 1, Failed: 1}, result)
	rec := store.Outbox()[0]
	assert.Equal(t, 1, rec.RetryCount)
	assert.Equal(t, "broker unavailable", rec.LastError)
	assert.Nil(t, rec.DeadLetteredAt)

	result, err = worker.ProcessOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutboxBatchResult{Claimed: 1, Failed: 1, DeadLettered: 1}, result)
	assert.NotNil(t, store.Outbox()[0].DeadLetteredAt)

	publisher.fail = false
	result, err = worker.ProcessOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, result.Claimed, "dead-lettered records are never claimed again")
	assert.Empty(t, publisher.published)
}

func TestOutboxWorkerRunStopsOnCancel(t *testing.T) {
	store := memory.NewStore()
	enqueue(t, store, "evt-1", domain.EventEscrowCreated)
	publisher := &recordingPublisher{}
	worker := NewOutboxWorker(discardLogger(), store, publisher, 10*time.Millisecond, 10, time.Minute, 3)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- worker.Run(ctx) }()
	require.Eventually(t, func() bool {
		publisher.mu.Lock()
		defer publisher.mu.Unlock()
		return len(publisher.published) == 1
	}, 2*time.Second, 10*time.Millisecond)
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}

type stubConsumer struct {
	messages []Message
}

func (c *stubConsumer) Poll(_ context.Context, _ int) ([]Message, error) {
	out := c.messages
	c.messages = nil
	return out, nil
}

type recordingHandler struct {
	payloads []string
	fail     bool
}

func (h *recordingHandler) HandleDisputeOpened(_ context.Context, payload []byte) error {
	if h.fail {
		return domain.ErrInvalidEnvelope
	}
	h.payloads = append(h.payloads, string(payload))
	return nil
}

func TestConsumerWorkerRoutesDisputeTopic(t *testing.T) {
	consumer := &stubConsumer{messages: []Message{
		{Topic: "prod.dispute.opened", Key: "contract-1", Payload: []byte(`{"n":1}`)},
		{Topic: "escrow.created", Key: "contract-1", Payload: []byte(`{"n":2}`)},
		{Topic: "prod.dispute.opened", Key: "contract-2", Payload: []byte(`{"n":3}`)},
	}}
	handler := &recordingHandler{}
	worker := NewConsumerWorker(discardLogger(), consumer, handler, "prod.dispute.opened", time.Second)

	handled, err := worker.processOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, handled)
	assert.Equal(t, []string{`{"n":1}`, `{"n":3}`}, handler.payloads)
}

func TestConsumerWorkerSkipsFailedMessages(t *testing.T) {
	consumer := &stubConsumer{messages: []Message{{Topic: domain.EventDisputeOpened, Payload: []byte(`bad`)}}}
	worker := NewConsumerWorker(discardLogger(), consumer, &recordingHandler{fail: true}, "", time.Second)

	handled, err := worker.processOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, handled)

	handled, err = worker.processOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, handled)
}

func TestKafkaPublisherTopicMapping(t *testing.T) {
	publisher, err := NewKafkaPublisher([]string{"localhost:9092"}, map[string]string{
		domain.EventEscrowReleased: "prod.escrow.released",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = publisher.Close() })

	assert.Equal(t, "prod.escrow.released", publisher.topicFor(domain.EventEscrowReleased))
	assert.Equal(t, domain.EventEscrowFunded, publisher.topicFor(domain.EventEscrowFunded))

	_, err = NewKafkaPublisher(nil, nil)
	require.Error(t, err)
}

package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/viralforge/escrow-commission-engine/internal/ports"
)

var ErrSandboxFailure = errors.New("sandbox gateway failure")

// Sandbox is an in-process PaymentGateway. Intents start in
// requires_payment_method and succeed only through MarkSucceeded. Repeated
// calls with the same idempotency key return the first result.
type Sandbox struct {
	mu        sync.Mutex
	intents   map[string]ports.PaymentIntent
	byKey     map[string]string
	transfers map[string]ports.TransferRequest
	refunds   map[string]ports.RefundRequest
	failing   map[string]bool
}

func NewSandbox() *Sandbox {
	return &Sandbox{
		intents:   map[string]ports.PaymentIntent{},
		byKey:     map[string]string{},
		transfers: map[string]ports.TransferRequest{},
		refunds:   map[string]ports.RefundRequest{},
		failing:   map[string]bool{},
	}
}

// FailCalls makes every later call of the named kind fail until cleared with
// fail set to false. Call names are create_intent, get_intent, create_transfer
// and create_refund.
func (s *Sandbox) FailCalls(call string, fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failing[call] = fail
}

// MarkSucceeded simulates the client completing payment.
func (s *Sandbox) MarkSucceeded(intentID string) error {
	return s.setStatus(intentID, ports.IntentStatusSucceeded)
}

func (s *Sandbox) setStatus(intentID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	intent, ok := s.intents[intentID]
	if !ok {
		return fmt.Errorf("intent %s not found", intentID)
	}
	intent.Status = status
	s.intents[intentID] = intent
	return nil
}

func (s *Sandbox) CreateIntent(ctx context.Context, req ports.CreateIntentRequest) (ports.PaymentIntent, error) {
	if err := s.check(ctx, "create_intent"); err != nil {
		return ports.PaymentIntent{}, err
	}
	if req.Amount <= 0 {
		return ports.PaymentIntent{}, fmt.Errorf("amount must be positive")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.byKey[req.IdempotencyKey]; ok && req.IdempotencyKey != "" {
		return s.intents[id], nil
	}
	id := "pi_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	intent := ports.PaymentIntent{
		ID:           id,
		ClientSecret: id + "_secret_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16],
		Status:       ports.IntentStatusRequiresPayment,
		Amount:       req.Amount,
	}
	s.intents[id] = intent
	if req.IdempotencyKey != "" {
		s.byKey[req.IdempotencyKey] = id
	}
	return intent, nil
}

func (s *Sandbox) GetIntent(ctx context.Context, intentID string) (ports.PaymentIntent, error) {
	if err := s.check(ctx, "get_intent"); err != nil {
		return ports.PaymentIntent{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	intent, ok := s.intents[intentID]
	if !ok {
		return ports.PaymentIntent{}, fmt.Errorf("intent %s not found", intentID)
	}
	return intent, nil
}

func (s *Sandbox) CreateTransfer(ctx context.Context, req ports.TransferRequest) (string, error) {
	if err := s.check(ctx, "create_transfer"); err != nil {
		return "", err
	}
	if req.Amount <= 0 || strings.TrimSpace(req.Destination) == "" {
		return "", fmt.Errorf("invalid transfer")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.byKey[req.IdempotencyKey]; ok && req.IdempotencyKey != "" {
		return id, nil
	}
	id := "tr_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	s.transfers[id] = req
	if req.IdempotencyKey != "" {
		s.byKey[req.IdempotencyKey] = id
	}
	return id, nil
}

func (s *Sandbox) CreateRefund(ctx context.Context, req ports.RefundRequest) (string, error) {
	if err := s.check(ctx, "create_refund"); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.byKey[req.IdempotencyKey]; ok && req.IdempotencyKey != "" {
		return id, nil
	}
	if _, ok := s.intents[req.PaymentIntentID]; !ok {
		return "", fmt.Errorf("intent %s not found", req.PaymentIntentID)
	}
	id := "re_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	s.refunds[id] = req
	if req.IdempotencyKey != "" {
		s.byKey[req.IdempotencyKey] = id
	}
	return id, nil
}

// Transfers returns the number of distinct transfers made.
func (s *Sandbox) Transfers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.transfers)
}

// Refunds returns the number of distinct refunds made.
func (s *Sandbox) Refunds() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.refunds)
}

func (s *Sandbox) check(ctx context.Context, call string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing[call] {
		return fmt.Errorf("%w: %s", ErrSandboxFailure, call)
	}
	return nil
}

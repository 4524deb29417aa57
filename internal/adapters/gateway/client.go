package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/viralforge/escrow-commission-engine/internal/ports"
	"golang.org/x/time/rate"
)

type ClientConfig struct {
	BaseURL           string
	SecretKey         string
	RequestsPerSecond float64
	Burst             int
	HTTPClient        *http.Client
}

// Client talks to a card processor's REST API. Requests are throttled
// client-side and every mutating call carries the caller's idempotency key.
type Client struct {
	baseURL    string
	secretKey  string
	httpClient *http.Client
	limiter    *rate.Limiter
}

func NewClient(cfg ClientConfig) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 25
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 10
	}
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		secretKey:  cfg.SecretKey,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(rate.Limit(rps), burst),
	}
}

type intentBody struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret"`
	Status       string `json:"status"`
	Amount       int64  `json:"amount"`
}

type objectBody struct {
	ID string `json:"id"`
}

func (c *Client) CreateIntent(ctx context.Context, req ports.CreateIntentRequest) (ports.PaymentIntent, error) {
	var out intentBody
	err := c.do(ctx, http.MethodPost, "/v1/payment_intents", req.IdempotencyKey, map[string]any{
		"amount":   req.Amount,
		"currency": req.Currency,
		"metadata": req.Metadata,
	}, &out)
	if err != nil {
		return ports.PaymentIntent{}, err
	}
	return ports.PaymentIntent(out), nil
}

func (c *Client) GetIntent(ctx context.Context, intentID string) (ports.PaymentIntent, error) {
	var out intentBody
	if err := c.do(ctx, http.MethodGet, "/v1/payment_intents/"+url.PathEscape(intentID), "", nil, &out); err != nil {
		return ports.PaymentIntent{}, err
	}
	return ports.PaymentIntent(out), nil
}

func (c *Client) CreateTransfer(ctx context.Context, req ports.TransferRequest) (string, error) {
	var out objectBody
	err := c.do(ctx, http.MethodPost, "/v1/transfers", req.IdempotencyKey, map[string]any{
		"amount":      req.Amount,
		"currency":    req.Currency,
		"destination": req.Destination,
		"metadata":    req.Metadata,
	}, &out)
	return out.ID, err
}

func (c *Client) CreateRefund(ctx context.Context, req ports.RefundRequest) (string, error) {
	var out objectBody
	err := c.do(ctx, http.MethodPost, "/v1/refunds", req.IdempotencyKey, map[string]any{
		"payment_intent": req.PaymentIntentID,
		"amount":         req.Amount,
		"metadata":       req.Metadata,
	}, &out)
	return out.ID, err
}

func (c *Client) do(ctx context.Context, method, path, idempotencyKey string, body any, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := gjson.GetBytes(raw, "error.message").String()
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return fmt.Errorf("gateway %s %s: status %d: %s", method, path, resp.StatusCode, msg)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode gateway response: %w", err)
	}
	return nil
}

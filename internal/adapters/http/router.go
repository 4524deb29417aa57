package http

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/viralforge/escrow-commission-engine/internal/application"
)

// WebhookVerifier authenticates inbound gateway notifications.
type WebhookVerifier interface {
	Verify(header string, body []byte) error
}

type Options struct {
	Verifier        TokenVerifier
	Webhooks        WebhookVerifier
	RateLimiter     *RateLimiter
	Instrument      func(http.Handler) http.Handler
	MetricsHandler  http.Handler
	ReadinessProbes []func(context.Context) error
}

// Handler is the HTTP adapter over the escrow service.
type Handler struct {
	service  *application.Service
	verifier TokenVerifier
	webhooks WebhookVerifier
	probes   []func(context.Context) error
}

func NewHandler(service *application.Service, opts Options) *Handler {
	return &Handler{
		service:  service,
		verifier: opts.Verifier,
		webhooks: opts.Webhooks,
		probes:   opts.ReadinessProbes,
	}
}

func NewRouter(handler *Handler, opts Options) http.Handler {
	r := chi.NewRouter()
	r.Use(withRequestID)
	r.Use(recoverPanics)
	r.Use(accessLog)
	if opts.Instrument != nil {
		r.Use(opts.Instrument)
	}

	r.Get("/healthz", handler.healthz)
	r.Get("/readyz", handler.readyz)
	if opts.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", opts.MetricsHandler)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/webhooks/payments", handler.paymentWebhook)

		r.Group(func(r chi.Router) {
			r.Use(handler.authMiddleware)
			if opts.RateLimiter != nil {
				r.Use(opts.RateLimiter.Handler)
			}

			r.Post("/transactions", handler.createTransaction)
			r.Get("/transactions/{transaction_id}", handler.getTransaction)
			r.Post("/transactions/{transaction_id}/confirm-deposit", handler.confirmDeposit)
			r.Post("/contracts/{contract_id}/release", handler.releaseFunds)
			r.Get("/specialists/{specialist_id}/tier", handler.specialistTier)

			r.Route("/admin", func(r chi.Router) {
				r.Post("/contracts/{contract_id}/refund", handler.refundFunds)
				r.Post("/contracts/{contract_id}/resolve-dispute", handler.resolveDispute)
				r.Post("/transactions/{transaction_id}/cancel", handler.cancelTransaction)
				r.Get("/commissions/summary", handler.commissionSummary)
				r.Get("/commissions/reports/{period}", handler.monthlyReport)
				r.Post("/commissions/reports/{period}", handler.generateMonthlyReport)
				r.Get("/security-events", handler.securityEvents)
				r.Get("/audit", handler.auditEntries)
				r.Post("/jobs/{job}", handler.runJob)
			})
		})
	})

	return r
}

func (h *Handler) healthz(w http.ResponseWriter, _ *http.Request) {
	writeSuccess(w, http.StatusOK, "ok", nil)
}

func (h *Handler) readyz(w http.ResponseWriter, r *http.Request) {
	for _, probe := range h.probes {
		if err := probe(r.Context()); err != nil {
			logHTTPOperationError(r.Context(), "readyz", http.StatusServiceUnavailable, "unavailable", "dependency not ready", err)
			writeError(w, http.StatusServiceUnavailable, "unavailable", "dependency not ready", requestIDFromContext(r.Context()))
			return
		}
	}
	writeSuccess(w, http.StatusOK, "ready", nil)
}

package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/viralforge/escrow-commission-engine/internal/adapters/security"
	"github.com/viralforge/escrow-commission-engine/internal/application"
	"github.com/viralforge/escrow-commission-engine/internal/domain"
)

type ctxKey string

const (
	ctxKeyRequestID ctxKey = "request_id"
	ctxKeyActor     ctxKey = "actor"
)

// TokenVerifier resolves a bearer token to the caller identity.
type TokenVerifier interface {
	Verify(raw string) (security.Claims, error)
}

const (
	requestIDHeader    = "X-Request-Id"
	maxRequestIDLength = 128
)

// withRequestID propagates the caller's request id into logs, audit entries
// and outbox envelopes. Ids that are oversized or carry control characters
// are replaced.
func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if !usableRequestID(reqID) {
			reqID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, reqID)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKeyRequestID, reqID)))
	})
}

func usableRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLength {
		return false
	}
	for _, c := range id {
		if c < 0x21 || c > 0x7e {
			return false
		}
	}
	return true
}

// recoverPanics turns a handler panic into a 500.
func recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			reqID := requestIDFromContext(r.Context())
			httpLogger().ErrorContext(r.Context(), "escrow api handler panicked",
				"operation", "recover_panic",
				"outcome", "failure",
				"request_id", reqID,
				"route", routePattern(r),
				"panic", rec,
			)
			writeError(w, http.StatusInternalServerError, domain.CodeInternal, "internal error", reqID)
		}()
		next.ServeHTTP(w, r)
	})
}

// responseCapture remembers what a handler wrote for the access log.
type responseCapture struct {
	http.ResponseWriter
	status int
	size   int
}

func (c *responseCapture) WriteHeader(status int) {
	if c.status == 0 {
		c.status = status
	}
	c.ResponseWriter.WriteHeader(status)
}

func (c *responseCapture) Write(payload []byte) (int, error) {
	if c.status == 0 {
		c.status = http.StatusOK
	}
	n, err := c.ResponseWriter.Write(payload)
	c.size += n
	return n, err
}

// accessLog writes one line per request, keyed by the chi route pattern
// rather than the raw path.
func accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		capture := &responseCapture{ResponseWriter: w}
		next.ServeHTTP(capture, r)

		status := capture.status
		if status == 0 {
			status = http.StatusOK
		}
		outcome := "success"
		level := slog.LevelInfo
		switch {
		case status >= 500:
			outcome, level = "failure", slog.LevelError
		case status >= 400:
			outcome, level = "rejected", slog.LevelWarn
		}
		httpLogger().Log(r.Context(), level, "escrow api request",
			"operation", "serve_request",
			"outcome", outcome,
			"method", r.Method,
			"route", routePattern(r),
			"status_code", status,
			"response_bytes", capture.size,
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", requestIDFromContext(r.Context()),
		)
	})
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}

func (h *Handler) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := bearerTokenFromHeader(r.Header.Get("Authorization"))
		if err != nil {
			writeUnauthenticated(r.Context(), w, "authenticate", err)
			return
		}
		claims, err := h.verifier.Verify(token)
		if err != nil {
			writeUnauthenticated(r.Context(), w, "authenticate", err)
			return
		}
		actor := application.Actor{
			SubjectID: claims.UserID,
			Role:      claims.Role,
			RequestID: requestIDFromContext(r.Context()),
		}
		ctx := context.WithValue(r.Context(), ctxKeyActor, actor)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestIDFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(ctxKeyRequestID).(string); ok {
		return s
	}
	return ""
}

func actorFromContext(ctx context.Context) application.Actor {
	if a, ok := ctx.Value(ctxKeyActor).(application.Actor); ok {
		return a
	}
	return application.Actor{RequestID: requestIDFromContext(ctx)}
}

func bearerTokenFromHeader(header string) (string, error) {
	const prefix = "bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", errors.New("missing bearer token")
	}
	token := strings.TrimSpace(header[len(prefix):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

func mapDomainError(err error) (int, string, string) {
	code, message := application.PublicError(err)
	switch code {
	case domain.CodeInvalidArgument:
		return http.StatusBadRequest, code, message
	case domain.CodeUnauthenticated:
		return http.StatusUnauthorized, code, message
	case domain.CodePermissionDenied:
		return http.StatusForbidden, code, message
	case domain.CodeNotFound:
		return http.StatusNotFound, code, message
	case domain.CodeFailedPrecondition:
		return http.StatusConflict, code, message
	default:
		return http.StatusInternalServerError, domain.CodeInternal, "internal error"
	}
}

package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/viralforge/escrow-commission-engine/internal/domain"
)

const maxBodyBytes = 1 << 20

func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("request body must contain a single JSON value")
	}
	return nil
}

func parseIntDefault(raw string, fallback int) int {
	if strings.TrimSpace(raw) == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

func readIP(r *http.Request) string {
	if xff := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	host := strings.TrimSpace(r.RemoteAddr)
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

func writeMappedError(ctx context.Context, w http.ResponseWriter, operation string, err error) {
	status, code, msg := mapDomainError(err)
	logHTTPOperationError(ctx, operation, status, code, msg, err)
	writeError(w, status, code, msg, requestIDFromContext(ctx))
}

func writeValidationError(ctx context.Context, w http.ResponseWriter, operation string, err error) {
	msg := "invalid request body"
	logHTTPOperationError(ctx, operation, http.StatusBadRequest, domain.CodeInvalidArgument, msg, err)
	writeError(w, http.StatusBadRequest, domain.CodeInvalidArgument, msg, requestIDFromContext(ctx))
}

func writeUnauthenticated(ctx context.Context, w http.ResponseWriter, operation string, err error) {
	msg := "invalid or missing credentials"
	logHTTPOperationError(ctx, operation, http.StatusUnauthorized, domain.CodeUnauthenticated, msg, err)
	writeError(w, http.StatusUnauthorized, domain.CodeUnauthenticated, msg, requestIDFromContext(ctx))
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

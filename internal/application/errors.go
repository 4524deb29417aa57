package application

import (
	"regexp"
	"strings"

	"github.com/viralforge/escrow-commission-engine/internal/domain"
)

var (
	reURL        = regexp.MustCompile(`(?i)\b[a-z][a-z0-9+.-]*://[^\s"']+`)
	reBearer     = regexp.MustCompile(`(?i)bearer\s+[a-z0-9._~+/=-]+`)
	reAPIKey     = regexp.MustCompile(`\b(sk|pk|rk|whsec)_(live|test)_[A-Za-z0-9]+`)
	reKeyValue   = regexp.MustCompile(`(?i)(token|secret|password|api_key|apikey|authorization|client_secret)\s*[=:]\s*([^\s,;]+)`)
	reHostPort   = regexp.MustCompile(`\b(\d{1,3}\.){3}\d{1,3}(:\d+)?\b`)
	reHostname   = regexp.MustCompile(`(?i)\b([a-z0-9-]+\.)+(com|net|org|io|internal|local|cloud|svc)(:\d+)?\b`)
	reStackFrame = regexp.MustCompile(`(?s)(goroutine \d+ \[|\n\s+\S+\.go:\d+).*$`)
)

// PublicError converts err into the code and message that may leave the
// service. Internal failures collapse to a generic message, and permission
// failures never describe the resource.
func PublicError(err error) (string, string) {
	code := domain.ErrorCode(err)
	switch code {
	case "":
		return "", ""
	case domain.CodeInternal:
		return code, "internal error"
	case domain.CodePermissionDenied:
		return code, "permission denied"
	case domain.CodeUnauthenticated:
		return code, "invalid or missing credentials"
	}
	return code, SanitizeMessage(err.Error())
}

// SanitizeMessage strips credentials, hostnames and stack traces.
func SanitizeMessage(msg string) string {
	msg = reStackFrame.ReplaceAllString(msg, "")
	msg = reURL.ReplaceAllString(msg, "[REDACTED]")
	msg = reBearer.ReplaceAllString(msg, "Bearer [REDACTED]")
	msg = reAPIKey.ReplaceAllString(msg, "[REDACTED]")
	msg = reKeyValue.ReplaceAllStringFunc(msg, func(s string) string {
		idx := strings.IndexAny(s, "=:")
		if idx < 0 {
			return s
		}
		return s[:idx+1] + "[REDACTED]"
	})
	msg = reHostPort.ReplaceAllString(msg, "[REDACTED]")
	msg = reHostname.ReplaceAllString(msg, "[REDACTED]")
	return strings.TrimSpace(msg)
}

package erp

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Remote failure taxonomy. Callers match with errors.Is; the wrapped message
// carries the action and remote detail.
var (
	ErrNotConfigured = errors.New("erp: api key is not configured")
	ErrAuth          = errors.New("erp: authentication failed")
	ErrForbidden     = errors.New("erp: access forbidden")
	ErrNotFound      = errors.New("erp: object not found")
	ErrServer        = errors.New("erp: remote server error")
	ErrNetwork       = errors.New("erp: network failure")
	ErrRateLimited   = errors.New("erp: concurrent request limit")
)

// The remote signals its concurrent-access rejection inside an otherwise
// ordinary error body; match it by signature.
var rateLimitSignatures = []string{
	"concurrent request",
	"too many requests",
	"parallel request",
}

func isRateLimitBody(body string) bool {
	lower := strings.ToLower(body)
	for _, sig := range rateLimitSignatures {
		if strings.Contains(lower, sig) {
			return true
		}
	}
	return false
}

func classifyStatus(action string, status int, body string) error {
	if status == http.StatusTooManyRequests || isRateLimitBody(body) {
		return fmt.Errorf("%w: action %s: %d %s", ErrRateLimited, action, status, truncate(body))
	}
	switch {
	case status == http.StatusUnauthorized:
		return fmt.Errorf("%w: action %s: %s", ErrAuth, action, truncate(body))
	case status == http.StatusForbidden:
		return fmt.Errorf("%w: action %s: %s", ErrForbidden, action, truncate(body))
	case status == http.StatusNotFound:
		return fmt.Errorf("%w: action %s: %s", ErrNotFound, action, truncate(body))
	case status >= 500:
		return fmt.Errorf("%w: action %s: %d %s", ErrServer, action, status, truncate(body))
	default:
		return fmt.Errorf("erp: action %s: unexpected status %d: %s", action, status, truncate(body))
	}
}

func truncate(body string) string {
	body = strings.TrimSpace(body)
	if len(body) > 200 {
		return body[:200] + "..."
	}
	return body
}

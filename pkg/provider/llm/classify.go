package llm

import (
	"fmt"
	"net/http"
	"strings"
)

// ClassifyStatus maps an HTTP status code returned by a backend to one of the
// package sentinel errors. It returns nil for codes that carry no retry
// semantics.
func ClassifyStatus(code int) error {
	switch code {
	case http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusGatewayTimeout:
		return ErrOverloaded
	case http.StatusTooManyRequests, http.StatusUnauthorized, http.StatusForbidden:
		return ErrQuotaExceeded
	}
	return nil
}

// ClassifyMessage inspects an error message for overload or quota markers.
// SDKs that do not expose a typed status code are classified this way.
func ClassifyMessage(msg string) error {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "503"),
		strings.Contains(lower, "overloaded"),
		strings.Contains(lower, "unavailable"):
		return ErrOverloaded
	case strings.Contains(lower, "429"),
		strings.Contains(lower, "quota"),
		strings.Contains(lower, "rate limit"),
		strings.Contains(lower, "resource_exhausted"):
		return ErrQuotaExceeded
	}
	return nil
}

// Wrap annotates err with the sentinel class (if any) while keeping the
// original error in the chain.
func Wrap(class error, prefix string, err error) error {
	if class == nil {
		return fmt.Errorf("%s: %w", prefix, err)
	}
	return fmt.Errorf("%s: %w: %w", prefix, class, err)
}

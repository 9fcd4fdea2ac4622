package fetcher

import (
	"errors"
	"net"
	"strings"
	"syscall"
)

// ErrEndpointsExhausted is returned by the controller once every endpoint in
// the pool has failed a full rotation cycle for the same range. The caller is
// expected to retry the range on a later iteration; the controller has
// already paused for the cooldown.
var ErrEndpointsExhausted = errors.New("all RPC endpoints failed consecutively in a full cycle")

// IsTransient classifies an error as a retryable transient condition:
// RPC-level timeout markers, rate limiting, gateway failures and
// transport-level drops. Anything else (decode mismatch, malformed response)
// is a hard failure and is never retried.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}

	errStr := strings.ToLower(err.Error())

	if strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "deadline exceeded") {
		return true
	}

	// Rate limiting
	if strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "too many requests") ||
		strings.Contains(errStr, "rate limit") {
		return true
	}

	// Gateway / availability errors
	if strings.Contains(errStr, "408") ||
		strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "504") ||
		strings.Contains(errStr, "bad gateway") ||
		strings.Contains(errStr, "service unavailable") ||
		strings.Contains(errStr, "gateway timeout") {
		return true
	}

	if strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "broken pipe") ||
		strings.Contains(errStr, "eof") {
		return true
	}

	return false
}

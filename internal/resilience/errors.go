package resilience

import (
	"errors"
	"net"
	"strings"
	"syscall"

	"github.com/medmatch-ai/medmatch/pkg/llm"
)

// IsRetryable returns true if the error is an upstream completion failure
// or matches common transient network patterns. Malformed-output and
// unavailable-capability errors are never retryable here: the former tends
// to reproduce at low temperature, the latter needs operator intervention.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, llm.ErrMalformedOutput) ||
		errors.Is(err, llm.ErrUnavailable) ||
		errors.Is(err, llm.ErrEmptyProfile) {
		return false
	}

	if errors.Is(err, llm.ErrUpstream) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	// String-based heuristics for wrapped errors from HTTP clients.
	msg := strings.ToLower(err.Error())
	transientPatterns := []string{
		"connection reset by peer",
		"broken pipe",
		"temporary failure in name resolution",
		"no such host",
		"tls handshake timeout",
		"i/o timeout",
		"server closed idle connection",
		"overloaded",
		"rate limit",
	}
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}

	return false
}

package llm

import "github.com/rotisserie/eris"

// Failure taxonomy for the completion pipeline. Callers match with
// errors.Is; eris wrapping preserves the sentinel through the stack.
var (
	// ErrUnavailable means the capability was never initialized or is not
	// reachable. Fatal for the request; not retried automatically.
	ErrUnavailable = eris.New("completion capability unavailable")

	// ErrUpstream means the capability call failed or timed out during
	// generation. Transient; safe to retry with backoff.
	ErrUpstream = eris.New("completion upstream failure")

	// ErrMalformedOutput means the completion text did not parse into the
	// expected schema. Not retried by default: identical prompts at low
	// temperature tend to reproduce the same malformed shape.
	ErrMalformedOutput = eris.New("completion output did not match schema")

	// ErrEmptyProfile means the supplied patient profile failed minimal
	// shape validation. Caller input defect; never retried.
	ErrEmptyProfile = eris.New("patient profile is empty or malformed")
)

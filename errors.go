package concierge

import (
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// ErrHTTP is a transport-level failure from an LLM or search backend.
// RetryAfter carries the parsed Retry-After header when the server sent one.
type ErrHTTP struct {
	Status     int
	Body       string
	RetryAfter time.Duration // 0 if absent
}

func (e *ErrHTTP) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Body)
}

// ParseRetryAfter parses a Retry-After header value, which is either a number
// of seconds or an HTTP date. Returns 0 for empty, malformed, or past values.
func ParseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// ErrDecision means the decision capability returned malformed output or an
// action outside the routing vocabulary after its own retries were exhausted.
// The pipeline recovers by falling back to the intrinsic action.
type ErrDecision struct {
	Raw     string // last raw model output, truncated
	Message string
}

func (e *ErrDecision) Error() string {
	return fmt.Sprintf("routing decision: %s", e.Message)
}

// ErrProvider is an evidence provider outage or timeout. Callers degrade to
// not-found evidence; it never fails a turn.
type ErrProvider struct {
	Provider string
	Err      error
}

func (e *ErrProvider) Error() string {
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *ErrProvider) Unwrap() error { return e.Err }

// ErrGeneration is a final text generation failure. It is the only error the
// pipeline surfaces to the caller; failed turns are never cached.
type ErrGeneration struct {
	Err error
}

func (e *ErrGeneration) Error() string {
	return fmt.Sprintf("generation: %v", e.Err)
}

func (e *ErrGeneration) Unwrap() error { return e.Err }

// ErrCacheUnavailable means the cache backend cannot be reached. The pipeline
// treats every lookup as a miss and every store as a no-op while it persists.
type ErrCacheUnavailable struct {
	Err error
}

func (e *ErrCacheUnavailable) Error() string {
	return fmt.Sprintf("cache unavailable: %v", e.Err)
}

func (e *ErrCacheUnavailable) Unwrap() error { return e.Err }

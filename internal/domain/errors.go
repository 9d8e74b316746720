package domain

import "errors"

// Error kinds shared across the engine. Callers wrap them with fmt.Errorf("%w: ...")
// and test with errors.Is.
var (
	// ErrUpstreamFetch means a platform's event listing could not be retrieved.
	ErrUpstreamFetch = errors.New("upstream fetch failed")
	// ErrEmbedding means the embedding provider failed after retries or timed out.
	ErrEmbedding = errors.New("embedding failed")
	// ErrCacheUnavailable means the match cache backend could not be read or written.
	ErrCacheUnavailable = errors.New("match cache unavailable")
	// ErrValidation marks a malformed normalized record.
	ErrValidation = errors.New("invalid record")
	// ErrRunFailed is returned when a run cannot produce any result.
	ErrRunFailed = errors.New("run failed")
)

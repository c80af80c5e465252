// Package embed defines the embedding port: the outbound capability that
// maps text to dense vectors. The core treats model names and proxy URLs as
// opaque and forwards them to the provider unchanged.
package embed

import (
	"context"
	"fmt"
	"time"
)

// Provider constants.
const (
	// DefaultTimeout bounds a single embedding request.
	DefaultTimeout = 60 * time.Second

	// DefaultConnectTimeout bounds connection establishment.
	DefaultConnectTimeout = 5 * time.Second

	// DefaultMaxRetries is the retry budget for transient provider failures.
	DefaultMaxRetries = 3

	// DefaultPoolSize sizes the HTTP connection pool.
	DefaultPoolSize = 4
)

// Provider computes embeddings for a batch of texts. Implementations return
// one vector per input text, in input order. model and proxyURL come from
// the collection's settings and are forwarded opaquely.
type Provider interface {
	Embed(ctx context.Context, texts []string, model, proxyURL string) ([][]float32, error)
}

// ErrorKind classifies provider failures.
type ErrorKind string

const (
	// KindRateLimited indicates the provider rejected the request for rate
	// or quota reasons; retryable after backoff.
	KindRateLimited ErrorKind = "rate_limited"
	// KindInvalidResponse indicates the provider answered but the payload
	// was unusable (wrong count, undecodable, wrong shape).
	KindInvalidResponse ErrorKind = "invalid_response"
	// KindTransport indicates the request never completed (connect, TLS,
	// timeout); retryable.
	KindTransport ErrorKind = "transport"
	// KindOther covers everything else.
	KindOther ErrorKind = "other"
)

// ProviderError is the typed failure returned by providers.
type ProviderError struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	return fmt.Sprintf("embedding provider %s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause.
func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// Retryable reports whether the failure may clear on its own.
func (e *ProviderError) Retryable() bool {
	return e.Kind == KindTransport || e.Kind == KindRateLimited
}

// NewProviderError builds a typed provider error.
func NewProviderError(kind ErrorKind, message string, cause error) *ProviderError {
	return &ProviderError{Kind: kind, Message: message, Cause: cause}
}

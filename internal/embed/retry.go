package embed

import (
	"context"
	"errors"
	"time"
)

// RetryConfig configures retry behavior for transient provider failures.
type RetryConfig struct {
	MaxRetries   int           // retry attempts beyond the initial one
	InitialDelay time.Duration // delay before first retry
	MaxDelay     time.Duration // cap on the backoff delay
	Multiplier   float64       // exponential backoff multiplier
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   DefaultMaxRetries,
		InitialDelay: 1 * time.Second,
		MaxDelay:     16 * time.Second,
		Multiplier:   2.0,
	}
}

// RetryingProvider wraps a Provider with exponential backoff on retryable
// failures. Rate-limit and transport errors retry; invalid responses do not,
// since the same request would fail the same way.
type RetryingProvider struct {
	inner Provider
	cfg   RetryConfig
}

// Verify interface implementation at compile time
var _ Provider = (*RetryingProvider)(nil)

// NewRetryingProvider wraps inner with the given retry policy.
func NewRetryingProvider(inner Provider, cfg RetryConfig) *RetryingProvider {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = time.Second
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 16 * time.Second
	}
	if cfg.Multiplier <= 1 {
		cfg.Multiplier = 2.0
	}
	return &RetryingProvider{inner: inner, cfg: cfg}
}

// Embed delegates to the wrapped provider, retrying retryable failures.
func (r *RetryingProvider) Embed(ctx context.Context, texts []string, model, proxyURL string) ([][]float32, error) {
	delay := r.cfg.InitialDelay
	var lastErr error

	for attempt := 0; attempt <= r.cfg.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return nil, NewProviderError(KindTransport, "context cancelled", ctx.Err())
		default:
		}

		vectors, err := r.inner.Embed(ctx, texts, model, proxyURL)
		if err == nil {
			return vectors, nil
		}
		lastErr = err

		var pe *ProviderError
		if !errors.As(err, &pe) || !pe.Retryable() || attempt >= r.cfg.MaxRetries {
			return nil, err
		}

		select {
		case <-ctx.Done():
			return nil, NewProviderError(KindTransport, "context cancelled", ctx.Err())
		case <-time.After(delay):
		}
		delay = time.Duration(float64(delay) * r.cfg.Multiplier)
		if delay > r.cfg.MaxDelay {
			delay = r.cfg.MaxDelay
		}
	}

	return nil, lastErr
}

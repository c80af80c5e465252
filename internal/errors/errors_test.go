package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_DerivesMetadataFromCode(t *testing.T) {
	tests := []struct {
		name      string
		code      string
		category  Category
		severity  Severity
		retryable bool
	}{
		{"store full", ErrCodeRegionFull, CategoryStore, SeverityError, false},
		{"corrupt entry is fatal", ErrCodeCorruptEntry, CategoryStore, SeverityFatal, false},
		{"not found", ErrCodeNotFound, CategoryLookup, SeverityError, false},
		{"provider transport retryable", ErrCodeProviderTransport, CategoryProvider, SeverityError, true},
		{"rate limited retryable", ErrCodeProviderRateLimited, CategoryProvider, SeverityError, true},
		{"invalid input", ErrCodeInvalidInput, CategoryValidation, SeverityError, false},
		{"not authorized", ErrCodeNotAuthorized, CategoryValidation, SeverityError, false},
		{"in progress retryable", ErrCodeAlreadyInProgress, CategoryInternal, SeverityError, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.code, "boom", nil)
			assert.Equal(t, tt.category, err.Category)
			assert.Equal(t, tt.severity, err.Severity)
			assert.Equal(t, tt.retryable, err.Retryable)
		})
	}
}

func TestErrorsIs_MatchesByCode(t *testing.T) {
	// Given: two distinct errors with the same code
	a := NotFound("collection c1")
	b := NotFound("collection c2")

	// Then: errors.Is matches by code, not message
	assert.True(t, stderrors.Is(a, b))
	assert.False(t, stderrors.Is(a, AlreadyExists("collection c1")))
}

func TestWrap_PreservesCause(t *testing.T) {
	cause := fmt.Errorf("disk on fire")
	err := Wrap(ErrCodeCorruptEntry, cause)
	require.NotNil(t, err)

	assert.Equal(t, ErrCodeCorruptEntry, err.Code)
	assert.ErrorIs(t, err, cause)
}

func TestWrap_NilReturnsNil(t *testing.T) {
	assert.Nil(t, Wrap(ErrCodeInternal, nil))
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, ErrCodeNotAuthorized, CodeOf(NotAuthorized("nope")))
	assert.Equal(t, ErrCodeInternal, CodeOf(fmt.Errorf("plain")))

	// Wrapped BluebandError is still discoverable through the chain.
	wrapped := fmt.Errorf("context: %w", NotFound("document d1"))
	assert.Equal(t, ErrCodeNotFound, CodeOf(wrapped))
	assert.True(t, HasCode(wrapped, ErrCodeNotFound))
}

func TestInvalidInput_CarriesFieldDetail(t *testing.T) {
	err := InvalidInput("chunk_overlap", "must be smaller than chunk_size")
	assert.Equal(t, "chunk_overlap", err.Details["field"])
	assert.Contains(t, err.Error(), "ERR_401_INVALID_INPUT")
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(EmbeddingFailed("batch 3 failed", nil)))
	assert.False(t, IsRetryable(NotFound("vector v1")))
	assert.False(t, IsRetryable(fmt.Errorf("plain")))
}

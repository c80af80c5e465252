package embed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticProvider_Deterministic(t *testing.T) {
	p := NewStaticProvider()
	a, err := p.Embed(context.Background(), []string{"hello world"}, "m", "")
	require.NoError(t, err)
	b, err := p.Embed(context.Background(), []string{"hello world"}, "m", "")
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a[0], StaticDimensions)
}

func TestStaticProvider_TokenOverlapScoresHigher(t *testing.T) {
	p := NewStaticProvider()
	vecs, err := p.Embed(context.Background(),
		[]string{
			"soccer is the most popular sport",
			"soccer is a popular sport worldwide",
			"quantum chromodynamics lattice simulations",
		}, "m", "")
	require.NoError(t, err)

	dot := func(a, b []float32) float32 {
		var s float32
		for i := range a {
			s += a[i] * b[i]
		}
		return s
	}
	// Vectors are unit-normalized, so the dot product is cosine similarity.
	assert.Greater(t, dot(vecs[0], vecs[1]), dot(vecs[0], vecs[2]))
}

func TestStaticProvider_EmptyTextIsNonZero(t *testing.T) {
	p := NewStaticProvider()
	vecs, err := p.Embed(context.Background(), []string{"   "}, "m", "")
	require.NoError(t, err)
	var sum float32
	for _, x := range vecs[0] {
		sum += x * x
	}
	assert.Greater(t, sum, float32(0))
}

func TestHTTPProvider_Embed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req embedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req.Model)

		resp := embedResponse{Embeddings: make([][]float32, len(req.Input))}
		for i := range req.Input {
			resp.Embeddings[i] = []float32{1, 0, 0}
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	p := NewHTTPProvider(HTTPConfig{}, nil)
	vecs, err := p.Embed(context.Background(), []string{"a", "b"}, "test-model", srv.URL)
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Equal(t, []float32{1, 0, 0}, vecs[0])
}

func TestHTTPProvider_ErrorKinds(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		kind    ErrorKind
	}{
		{
			"rate limited",
			func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusTooManyRequests) },
			KindRateLimited,
		},
		{
			"server error is transport",
			func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusBadGateway) },
			KindTransport,
		},
		{
			"garbage body",
			func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("not json")) },
			KindInvalidResponse,
		},
		{
			"count mismatch",
			func(w http.ResponseWriter, r *http.Request) {
				_ = json.NewEncoder(w).Encode(embedResponse{Embeddings: [][]float32{{1}}})
			},
			KindInvalidResponse,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			p := NewHTTPProvider(HTTPConfig{}, nil)
			_, err := p.Embed(context.Background(), []string{"a", "b"}, "m", srv.URL)
			require.Error(t, err)
			var pe *ProviderError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, tt.kind, pe.Kind)
		})
	}
}

// flakyProvider fails with the given error until failures runs out.
type flakyProvider struct {
	failures int32
	err      *ProviderError
	calls    int32
}

func (f *flakyProvider) Embed(_ context.Context, texts []string, _, _ string) ([][]float32, error) {
	atomic.AddInt32(&f.calls, 1)
	if atomic.AddInt32(&f.failures, -1) >= 0 {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = []float32{1}
	}
	return out, nil
}

func TestRetryingProvider_RetriesTransient(t *testing.T) {
	inner := &flakyProvider{failures: 2, err: NewProviderError(KindTransport, "conn reset", nil)}
	p := NewRetryingProvider(inner, RetryConfig{
		MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: 4 * time.Millisecond, Multiplier: 2,
	})

	vecs, err := p.Embed(context.Background(), []string{"a"}, "m", "")
	require.NoError(t, err)
	assert.Len(t, vecs, 1)
	assert.EqualValues(t, 3, inner.calls)
}

func TestRetryingProvider_DoesNotRetryInvalidResponse(t *testing.T) {
	inner := &flakyProvider{failures: 10, err: NewProviderError(KindInvalidResponse, "bad shape", nil)}
	p := NewRetryingProvider(inner, RetryConfig{
		MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 2,
	})

	_, err := p.Embed(context.Background(), []string{"a"}, "m", "")
	require.Error(t, err)
	assert.EqualValues(t, 1, inner.calls)
}

func TestRetryingProvider_ExhaustsBudget(t *testing.T) {
	inner := &flakyProvider{failures: 10, err: NewProviderError(KindRateLimited, "slow down", nil)}
	p := NewRetryingProvider(inner, RetryConfig{
		MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 2,
	})

	_, err := p.Embed(context.Background(), []string{"a"}, "m", "")
	require.Error(t, err)
	assert.EqualValues(t, 3, inner.calls)
}

package embed

import (
	"context"
	"hash/fnv"
	"math"
	"regexp"
	"strings"
)

// StaticDimensions is the embedding dimension of the static provider.
const StaticDimensions = 128

// Weights for vector generation: whole tokens dominate, character n-grams
// add partial-match signal.
const (
	tokenWeight = 0.8
	ngramWeight = 0.2
	ngramSize   = 3
)

// staticStopWords are filtered before hashing so function words don't
// dominate similarity.
var staticStopWords = map[string]bool{
	"a": true, "an": true, "the": true, "is": true, "are": true, "was": true,
	"were": true, "be": true, "in": true, "on": true, "of": true, "for": true,
	"to": true, "and": true, "or": true, "with": true, "it": true, "its": true,
	"this": true, "that": true, "which": true, "what": true,
}

var staticTokenRegex = regexp.MustCompile(`[a-zA-Z0-9]+`)

// StaticProvider generates deterministic hash-based embeddings without any
// network dependency. Semantic quality is reduced but token overlap still
// produces meaningful cosine similarity, which is enough for the demo path
// and for tests.
type StaticProvider struct{}

// Verify interface implementation at compile time
var _ Provider = (*StaticProvider)(nil)

// NewStaticProvider creates the hash-based provider.
func NewStaticProvider() *StaticProvider {
	return &StaticProvider{}
}

// Embed generates one deterministic vector per text. model and proxyURL are
// ignored.
func (p *StaticProvider) Embed(_ context.Context, texts []string, _, _ string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = staticVector(text)
	}
	return out, nil
}

// staticVector hashes tokens and character n-grams into a fixed-dimension
// vector and L2-normalizes it. Input with no kept tokens (empty, or only stop
// words) maps to the unit vector on dimension 0 rather than the zero vector,
// which would be rejected downstream.
func staticVector(text string) []float32 {
	vec := make([]float32, StaticDimensions)

	tokens := staticTokenRegex.FindAllString(strings.ToLower(text), -1)
	kept := 0
	for _, tok := range tokens {
		if staticStopWords[tok] {
			continue
		}
		kept++
		vec[bucket(tok)] += tokenWeight
		for j := 0; j+ngramSize <= len(tok); j++ {
			vec[bucket(tok[j:j+ngramSize])] += ngramWeight
		}
	}
	if kept == 0 {
		vec[0] = 1
		return vec
	}

	var sum float64
	for _, x := range vec {
		sum += float64(x) * float64(x)
	}
	if sum > 0 {
		inv := float32(1 / math.Sqrt(sum))
		for i := range vec {
			vec[i] *= inv
		}
	}
	return vec
}

func bucket(s string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return int(h.Sum32() % StaticDimensions)
}

// Package chunk segments document text into ordered, overlapping semantic
// chunks with stable IDs.
//
// The chunker is a pure function: identical inputs always produce identical
// chunks, so rebuilding an index from stored documents yields stable chunk
// and vector IDs.
package chunk

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/acgodson/blueband/internal/errors"
	"github.com/acgodson/blueband/internal/store"
)

// TokensPerChar is the rough character-to-token ratio used for the optional
// token count estimate.
const TokensPerChar = 4

// Options configures a chunking run.
type Options struct {
	// ChunkSize is the target chunk length in characters.
	ChunkSize int
	// ChunkOverlap is the overlap between adjacent chunks in characters.
	// Must be smaller than ChunkSize.
	ChunkOverlap int
}

// DefaultOptions returns the default chunking configuration.
func DefaultOptions() Options {
	return Options{ChunkSize: store.DefaultChunkSize, ChunkOverlap: store.DefaultChunkOverlap}
}

// Split segments text into chunks for the given document. Chunk boundaries
// prefer paragraph breaks (double newline), then sentence terminators, then
// any whitespace, falling back to a hard cut at ChunkSize when no suitable
// boundary exists within the window.
//
// Whitespace-only windows are skipped; position numbering stays dense.
// Offsets are character (rune) offsets into the input.
func Split(text, documentID string, opts Options) ([]*store.SemanticChunk, error) {
	if opts.ChunkSize <= 0 {
		return nil, errors.InvalidInput("chunk_size", "must be positive")
	}
	if opts.ChunkOverlap < 0 || opts.ChunkOverlap >= opts.ChunkSize {
		return nil, errors.InvalidInput("chunk_overlap", "must be smaller than chunk_size")
	}

	runes := []rune(text)
	n := len(runes)

	var chunks []*store.SemanticChunk
	position := 0
	start := 0

	for start < n {
		end := start + opts.ChunkSize
		if end >= n {
			end = n
		} else {
			end = cutPoint(runes, start, end)
		}

		segment := string(runes[start:end])
		if strings.TrimSpace(segment) != "" {
			chunks = append(chunks, &store.SemanticChunk{
				ID:         ChunkID(documentID, position),
				DocumentID: documentID,
				Text:       segment,
				Position:   uint32(position),
				CharStart:  uint64(start),
				CharEnd:    uint64(end),
				TokenCount: uint32((end - start + TokensPerChar - 1) / TokensPerChar),
			})
			position++
		}

		if end >= n {
			break
		}
		next := end - opts.ChunkOverlap
		if next <= start {
			// Overlap would stall the scan on a short cut; force progress.
			next = start + 1
		}
		start = next
	}

	return chunks, nil
}

// ChunkID derives the stable chunk identifier for a document position.
func ChunkID(documentID string, position int) string {
	return fmt.Sprintf("%s:c:%d", documentID, position)
}

// VectorID derives the stable vector identifier for a document position.
func VectorID(documentID string, position int) string {
	return fmt.Sprintf("%s:v:%d", documentID, position)
}

// cutPoint finds the best boundary in (start, limit], scanning backwards by
// preference tier. The returned cut is exclusive: the chunk covers
// runes[start:cut].
func cutPoint(runes []rune, start, limit int) int {
	// Paragraph break: cut after the blank line.
	for i := limit - 1; i > start; i-- {
		if runes[i] == '\n' && runes[i-1] == '\n' {
			return i + 1
		}
	}

	// Sentence terminator followed by whitespace (or at the window edge):
	// cut after the terminator.
	for i := limit - 1; i > start; i-- {
		if isSentenceEnd(runes[i]) && (i+1 >= limit || unicode.IsSpace(runes[i+1])) {
			return i + 1
		}
	}

	// Any whitespace: cut after it so the next chunk starts on a word.
	for i := limit - 1; i > start; i-- {
		if unicode.IsSpace(runes[i]) {
			return i + 1
		}
	}

	// No boundary in the window: hard cut.
	return limit
}

func isSentenceEnd(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

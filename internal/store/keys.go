package store

import (
	"encoding/binary"
	"fmt"
)

// Composite keys concatenate length-prefixed components so that the encoding
// of (A) is a byte-prefix of the encoding of (A, B). Range scans over the
// prefix of a leading component therefore enumerate all entries under it.
// Each component is prefixed with its length as a 4-byte big-endian integer.

// CompositeKey encodes the given components into a single region key.
func CompositeKey(parts ...string) []byte {
	n := 0
	for _, p := range parts {
		n += 4 + len(p)
	}
	key := make([]byte, 0, n)
	for _, p := range parts {
		var l [4]byte
		binary.BigEndian.PutUint32(l[:], uint32(len(p)))
		key = append(key, l[:]...)
		key = append(key, p...)
	}
	return key
}

// SplitCompositeKey decodes a key produced by CompositeKey.
func SplitCompositeKey(key []byte) ([]string, error) {
	var parts []string
	for len(key) > 0 {
		if len(key) < 4 {
			return nil, fmt.Errorf("truncated component length in key")
		}
		l := binary.BigEndian.Uint32(key[:4])
		key = key[4:]
		if uint32(len(key)) < l {
			return nil, fmt.Errorf("truncated component in key: want %d bytes, have %d", l, len(key))
		}
		parts = append(parts, string(key[:l]))
		key = key[l:]
	}
	return parts, nil
}

// prefixSuccessor returns the smallest byte string greater than every string
// having the given prefix, or nil when no upper bound exists (all 0xFF).
func prefixSuccessor(prefix []byte) []byte {
	for i := len(prefix) - 1; i >= 0; i-- {
		if prefix[i] != 0xFF {
			end := make([]byte, i+1)
			copy(end, prefix[:i+1])
			end[i]++
			return end
		}
	}
	return nil
}

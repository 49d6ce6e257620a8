// Package fingerprint computes the content keys that drive result
// caching. All functions are pure and deterministic.
package fingerprint

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"strings"
)

// Digest returns the lowercase hex SHA-256 digest of raw dataset bytes.
// Identical content always produces the identical digest regardless of
// file name or upload path.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// NormalizeQuestion lowercases the question and collapses runs of
// whitespace so trivially rephrased questions map to the same cache key.
func NormalizeQuestion(q string) string {
	return strings.Join(strings.Fields(strings.ToLower(q)), " ")
}

// Key returns the cache key for one (dataset, question, agent) triple.
// Each field is encoded as a 4-byte big-endian length prefix followed by
// the field bytes, so freeform question text can never collide with a
// field boundary.
func Key(datasetDigest, question, agentID string) string {
	h := sha256.New()
	writeField := func(s string) {
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(s)))
		h.Write(lenBuf[:])
		h.Write([]byte(s))
	}
	writeField(datasetDigest)
	writeField(NormalizeQuestion(question))
	writeField(agentID)
	return hex.EncodeToString(h.Sum(nil))
}

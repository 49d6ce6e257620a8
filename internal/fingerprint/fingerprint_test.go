package fingerprint_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ashita-ai/hirameki/internal/fingerprint"
)

func TestDigest(t *testing.T) {
	// Known SHA-256 vectors.
	assert.Equal(t,
		"e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		fingerprint.Digest(nil))
	assert.Equal(t,
		"2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824",
		fingerprint.Digest([]byte("hello")))

	// Same bytes, same digest; different bytes, different digest.
	assert.Equal(t, fingerprint.Digest([]byte("a,b\n1,2\n")), fingerprint.Digest([]byte("a,b\n1,2\n")))
	assert.NotEqual(t, fingerprint.Digest([]byte("a,b\n1,2\n")), fingerprint.Digest([]byte("a,b\n1,3\n")))
}

func TestNormalizeQuestion(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"What drives churn?", "what drives churn?"},
		{"  what   drives\tchurn? ", "what drives churn?"},
		{"WHAT\nDRIVES\nCHURN?", "what drives churn?"},
		{"", ""},
		{"   ", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, fingerprint.NormalizeQuestion(tt.in))
	}
}

func TestKeyDeterministic(t *testing.T) {
	k1 := fingerprint.Key("digest-a", "what drives churn?", "trend-detector")
	k2 := fingerprint.Key("digest-a", "what drives churn?", "trend-detector")
	assert.Equal(t, k1, k2)
	assert.Len(t, k1, 64)
}

func TestKeyDiscriminates(t *testing.T) {
	base := fingerprint.Key("digest-a", "what drives churn?", "trend-detector")
	assert.NotEqual(t, base, fingerprint.Key("digest-b", "what drives churn?", "trend-detector"), "dataset must matter")
	assert.NotEqual(t, base, fingerprint.Key("digest-a", "what drives revenue?", "trend-detector"), "question must matter")
	assert.NotEqual(t, base, fingerprint.Key("digest-a", "what drives churn?", "outlier-scanner"), "agent must matter")
}

func TestKeyNormalizesQuestion(t *testing.T) {
	a := fingerprint.Key("digest-a", "What   Drives Churn?", "trend-detector")
	b := fingerprint.Key("digest-a", "what drives churn?", "trend-detector")
	assert.Equal(t, a, b, "case and whitespace differences should not split the cache")
}

func TestKeyFieldBoundaries(t *testing.T) {
	// Length prefixing keeps shifted field contents distinct.
	a := fingerprint.Key("ab", "c", "agent")
	b := fingerprint.Key("a", "bc", "agent")
	assert.NotEqual(t, a, b)
}

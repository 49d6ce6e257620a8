package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOllamaProviderEmbed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embeddings", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)

		var req ollamaEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "mxbai-embed-large", req.Model)

		vec := make([]float32, 1024)
		for i := range vec {
			vec[i] = float32(i) * 0.001
		}
		json.NewEncoder(w).Encode(ollamaEmbedResponse{Embedding: vec})
	}))
	defer server.Close()

	p := NewOllamaProvider(server.URL, "mxbai-embed-large", 1024)
	assert.Equal(t, 1024, p.Dimensions())

	vec, err := p.Embed(context.Background(), "weekly seasonality in orders")
	require.NoError(t, err)
	assert.Len(t, vec, 1024)
}

func TestOllamaProviderEmbedBatch(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var req ollamaEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		// Echo text length as the first component to verify ordering.
		json.NewEncoder(w).Encode(ollamaEmbedResponse{
			Embedding: []float32{float32(len(req.Prompt))},
		})
	}))
	defer server.Close()

	p := NewOllamaProvider(server.URL, "m", 1)
	vecs, err := p.EmbedBatch(context.Background(), []string{"a", "bb", "ccc"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	assert.Equal(t, float32(1), vecs[0][0])
	assert.Equal(t, float32(2), vecs[1][0])
	assert.Equal(t, float32(3), vecs[2][0])
	assert.Equal(t, int64(3), calls.Load())
}

func TestOllamaProviderServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer server.Close()

	_, err := NewOllamaProvider(server.URL, "m", 8).Embed(context.Background(), "text")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
}

func TestNewOpenAIProviderValidation(t *testing.T) {
	_, err := NewOpenAIProvider("", "text-embedding-3-large", 1024)
	require.Error(t, err)

	_, err = NewOpenAIProvider("sk-test", "text-embedding-3-large", 0)
	require.Error(t, err)

	p, err := NewOpenAIProvider("sk-test", "text-embedding-3-large", 1024)
	require.NoError(t, err)
	assert.Equal(t, 1024, p.Dimensions())
}

func TestNoopProvider(t *testing.T) {
	p := NewNoopProvider(4)
	vec, err := p.Embed(context.Background(), "anything")
	require.NoError(t, err)
	assert.Equal(t, make([]float32, 4), vec)

	vecs, err := p.EmbedBatch(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
}

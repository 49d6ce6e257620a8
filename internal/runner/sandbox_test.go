package runner

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/hirameki/internal/model"
)

var testDataset = model.DatasetRef{
	Digest: "3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855b",
	Ref:    "file:///tmp/sales.csv",
}

func TestSandboxRunnerSuccess(t *testing.T) {
	codegen := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req codegenRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "trend-detector", req.Agent.ID)
		assert.Equal(t, testDataset.Digest, req.Dataset.Digest)

		json.NewEncoder(w).Encode(codegenResponse{
			Code:     "import pandas as pd",
			Language: "python",
		})
	}))
	defer codegen.Close()

	sandbox := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req executeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "import pandas as pd", req.Code)
		assert.Equal(t, "python", req.Language)

		json.NewEncoder(w).Encode(executeResponse{
			Narrative: "orders trend upward 4% week over week",
			Data:      map[string]any{"slope": 0.04},
		})
	}))
	defer sandbox.Close()

	r := NewSandboxRunner(codegen.URL, sandbox.URL)
	payload, err := r.Run(context.Background(),
		model.AgentDescriptor{ID: "trend-detector"}, testDataset, "how are orders trending?")
	require.NoError(t, err)
	assert.Equal(t, "orders trend upward 4% week over week", payload.Narrative)
	assert.Equal(t, 0.04, payload.Data["slope"])
}

func TestSandboxRunnerGenerationFailure(t *testing.T) {
	codegen := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`{"error":{"message":"model unavailable"}}`))
	}))
	defer codegen.Close()

	r := NewSandboxRunner(codegen.URL, "http://sandbox.invalid")
	_, err := r.Run(context.Background(), model.AgentDescriptor{ID: "a"}, testDataset, "q")
	require.Error(t, err)
	assert.Equal(t, model.FailureGeneration, Categorize(err))
	assert.Contains(t, err.Error(), "model unavailable")
}

func TestSandboxRunnerEmptyCode(t *testing.T) {
	codegen := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"code":""}`))
	}))
	defer codegen.Close()

	r := NewSandboxRunner(codegen.URL, "http://sandbox.invalid")
	_, err := r.Run(context.Background(), model.AgentDescriptor{ID: "a"}, testDataset, "q")
	require.Error(t, err)
	assert.Equal(t, model.FailureGeneration, Categorize(err))
}

func TestSandboxRunnerExecutionFailure(t *testing.T) {
	codegen := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"code":"x = 1","language":"python"}`))
	}))
	defer codegen.Close()

	sandbox := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"error":{"message":"process killed: out of memory"}}`))
	}))
	defer sandbox.Close()

	r := NewSandboxRunner(codegen.URL, sandbox.URL)
	_, err := r.Run(context.Background(), model.AgentDescriptor{ID: "a"}, testDataset, "q")
	require.Error(t, err)
	assert.Equal(t, model.FailureExecution, Categorize(err))
	assert.Contains(t, err.Error(), "out of memory")
}

func TestSandboxRunnerDeadlineCategorisedAsTimeout(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer slow.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	r := NewSandboxRunner(slow.URL, slow.URL)
	_, err := r.Run(ctx, model.AgentDescriptor{ID: "a"}, testDataset, "q")
	require.Error(t, err)
	assert.Equal(t, model.FailureTimeout, Categorize(err))
}

func TestCategorize(t *testing.T) {
	assert.Equal(t, model.FailureTimeout, Categorize(context.DeadlineExceeded))
	assert.Equal(t, model.FailureCancelled, Categorize(context.Canceled))
	assert.Equal(t, model.FailureGeneration,
		Categorize(&Error{Category: model.FailureGeneration, Message: "m"}))
	assert.Equal(t, model.FailureExecution, Categorize(errors.New("plain")))
}

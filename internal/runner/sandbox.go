package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/ashita-ai/hirameki/internal/model"
)

// SandboxRunner generates analysis code for the agent and executes it
// in the external sandbox. Fail-fast: neither stage retries; the
// collaborators own their own retry policies.
type SandboxRunner struct {
	codegenURL string
	sandboxURL string
	httpClient *http.Client
}

// NewSandboxRunner creates a runner against the given collaborator
// endpoints.
func NewSandboxRunner(codegenURL, sandboxURL string) *SandboxRunner {
	return &SandboxRunner{
		codegenURL: codegenURL,
		sandboxURL: sandboxURL,
		httpClient: &http.Client{},
	}
}

type serviceError struct {
	Message string `json:"message"`
}

type codegenRequest struct {
	Agent    model.AgentDescriptor `json:"agent"`
	Dataset  model.DatasetRef      `json:"dataset"`
	Question string                `json:"question"`
}

type codegenResponse struct {
	Code     string        `json:"code"`
	Language string        `json:"language"`
	Error    *serviceError `json:"error"`
}

type executeRequest struct {
	Code     string           `json:"code"`
	Language string           `json:"language"`
	Dataset  model.DatasetRef `json:"dataset"`
	Params   map[string]any   `json:"params,omitempty"`
}

type executeResponse struct {
	Narrative string           `json:"narrative"`
	Artifacts []model.Artifact `json:"artifacts,omitempty"`
	Data      map[string]any   `json:"data,omitempty"`
	Error     *serviceError    `json:"error"`
}

// Run generates then executes. Each stage's failure is normalised to a
// categorised Error.
func (r *SandboxRunner) Run(ctx context.Context, agent model.AgentDescriptor, dataset model.DatasetRef, question string) (model.AgentPayload, error) {
	var gen codegenResponse
	if err := r.post(ctx, r.codegenURL, codegenRequest{
		Agent:    agent,
		Dataset:  dataset,
		Question: question,
	}, &gen, func() *serviceError { return gen.Error }); err != nil {
		return model.AgentPayload{}, &Error{
			Category: model.FailureGeneration,
			Message:  fmt.Sprintf("code generation for agent %s failed", agent.ID),
			Err:      err,
		}
	}
	if gen.Code == "" {
		return model.AgentPayload{}, &Error{
			Category: model.FailureGeneration,
			Message:  fmt.Sprintf("code generation for agent %s returned no code", agent.ID),
		}
	}

	var exec executeResponse
	if err := r.post(ctx, r.sandboxURL, executeRequest{
		Code:     gen.Code,
		Language: gen.Language,
		Dataset:  dataset,
		Params:   agent.Params,
	}, &exec, func() *serviceError { return exec.Error }); err != nil {
		return model.AgentPayload{}, &Error{
			Category: model.FailureExecution,
			Message:  fmt.Sprintf("sandbox execution for agent %s failed", agent.ID),
			Err:      err,
		}
	}

	return model.AgentPayload{
		Narrative: exec.Narrative,
		Artifacts: exec.Artifacts,
		Data:      exec.Data,
	}, nil
}

// post sends one JSON request and decodes the response into out.
// svcErr surfaces the collaborator's structured error when the decoded
// body carries one.
func (r *SandboxRunner) post(ctx context.Context, url string, payload any, out any, svcErr func() *serviceError) error {
	reqBody, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}

	if e := svcErr(); e != nil {
		return fmt.Errorf("service error: %s", e.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

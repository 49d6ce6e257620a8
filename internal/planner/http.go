package planner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/ashita-ai/hirameki/internal/model"
)

// HTTPPlanner calls the external planning service. No retries and no
// caching: the planning service owns both.
type HTTPPlanner struct {
	url        string
	httpClient *http.Client
}

// NewHTTPPlanner creates a planner client for the given endpoint URL.
func NewHTTPPlanner(url string) *HTTPPlanner {
	return &HTTPPlanner{
		url:        url,
		httpClient: &http.Client{},
	}
}

type planRequest struct {
	Dataset  model.DatasetSummary `json:"dataset"`
	Question string               `json:"question"`
}

type planResponse struct {
	Agents []model.AgentDescriptor `json:"agents"`
	Error  *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Plan posts the dataset profile and question and returns the selected
// agents.
func (p *HTTPPlanner) Plan(ctx context.Context, summary model.DatasetSummary, question string) ([]model.AgentDescriptor, error) {
	reqBody, err := json.Marshal(planRequest{Dataset: summary, Question: question})
	if err != nil {
		return nil, fmt.Errorf("planner: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("planner: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("planner: send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("planner: read response: %w", err)
	}

	var result planResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("planner: unmarshal response: %w", err)
	}

	if result.Error != nil {
		return nil, fmt.Errorf("planner: service error: %s", result.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("planner: unexpected status %d: %s", resp.StatusCode, string(body))
	}

	if len(result.Agents) == 0 {
		return nil, ErrNoAgents
	}
	for _, agent := range result.Agents {
		if err := model.ValidateAgentID(agent.ID); err != nil {
			return nil, fmt.Errorf("planner: invalid agent in plan: %w", err)
		}
	}
	return result.Agents, nil
}

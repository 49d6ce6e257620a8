// Package mcp implements the Model Context Protocol server for
// hirameki.
//
// The MCP server exposes the same capabilities as the HTTP API through
// MCP resources and tools, so MCP-compatible AI agents can submit
// analysis runs and mine past insights without speaking the REST API.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/hirameki/internal/catalog"
	"github.com/ashita-ai/hirameki/internal/dataset"
	"github.com/ashita-ai/hirameki/internal/embedding"
	"github.com/ashita-ai/hirameki/internal/orchestrator"
	"github.com/ashita-ai/hirameki/internal/search"
	"github.com/ashita-ai/hirameki/internal/storage"
)

// Server wraps the MCP server with hirameki's engine and ledger.
type Server struct {
	mcpServer *mcpserver.MCPServer
	ledger    storage.Ledger
	engine    *orchestrator.Engine
	catalog   *catalog.Catalog
	spool     *dataset.Spool
	searcher  search.Searcher
	embedder  embedding.Provider
	logger    *slog.Logger
}

// Deps carries the dependencies for the MCP server. Searcher and
// Embedder are optional; without them the insights tool reports that
// search is disabled.
type Deps struct {
	Ledger   storage.Ledger
	Engine   *orchestrator.Engine
	Catalog  *catalog.Catalog
	Spool    *dataset.Spool
	Searcher search.Searcher
	Embedder embedding.Provider
	Logger   *slog.Logger
}

// New creates and configures a new MCP server with all resources and
// tools.
func New(deps Deps) *Server {
	s := &Server{
		ledger:   deps.Ledger,
		engine:   deps.Engine,
		catalog:  deps.Catalog,
		spool:    deps.Spool,
		searcher: deps.Searcher,
		embedder: deps.Embedder,
		logger:   deps.Logger,
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"hirameki",
		"0.1.0",
		mcpserver.WithResourceCapabilities(true, true),
		mcpserver.WithToolCapabilities(true),
	)

	s.registerResources()
	s.registerTools()

	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

func (s *Server) registerResources() {
	// hirameki://agents — the analysis agent catalog.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			"hirameki://agents",
			"Agent Catalog",
			mcplib.WithResourceDescription("Available analysis agents with their tags and descriptions"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleAgentCatalog,
	)

	// hirameki://runs/recent — recent analysis runs.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			"hirameki://runs/recent",
			"Recent Runs",
			mcplib.WithResourceDescription("Recent analysis runs with their statuses"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleRecentRuns,
	)

	// hirameki://runs/{id}/report — a finished run's report.
	s.mcpServer.AddResourceTemplate(
		mcplib.NewResourceTemplate(
			"hirameki://runs/{id}/report",
			"Run Report",
			mcplib.WithTemplateDescription("Aggregated report for a finished analysis run"),
			mcplib.WithTemplateMIMEType("application/json"),
		),
		s.handleRunReport,
	)
}

func (s *Server) handleAgentCatalog(_ context.Context, _ mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	data, err := json.MarshalIndent(s.catalog.List(), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal catalog: %w", err)
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      "hirameki://agents",
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) handleRecentRuns(ctx context.Context, _ mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	runs, total, err := s.ledger.ListRecentRuns(ctx, 20, 0)
	if err != nil {
		return nil, fmt.Errorf("mcp: recent runs: %w", err)
	}

	data, err := json.MarshalIndent(map[string]any{
		"runs":  runs,
		"total": total,
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal runs: %w", err)
	}

	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      "hirameki://runs/recent",
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) handleRunReport(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	uri := request.Params.URI
	id, ok := runIDFromReportURI(uri)
	if !ok {
		return nil, fmt.Errorf("mcp: invalid report URI: %s", uri)
	}

	run, err := s.ledger.GetRun(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("mcp: run report: %w", err)
	}
	if run.Report == nil {
		return nil, fmt.Errorf("mcp: run %s has no report (status %s)", id, run.Status)
	}

	data, err := json.MarshalIndent(run.Report, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal report: %w", err)
	}

	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

// runIDFromReportURI extracts the run id from
// hirameki://runs/{id}/report.
func runIDFromReportURI(uri string) (runID uuid.UUID, ok bool) {
	const prefix = "hirameki://runs/"
	const suffix = "/report"
	if !strings.HasPrefix(uri, prefix) || !strings.HasSuffix(uri, suffix) {
		return uuid.Nil, false
	}
	raw := strings.TrimSuffix(strings.TrimPrefix(uri, prefix), suffix)
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}

func textResult(v any) *mcplib.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResult(fmt.Sprintf("marshal result: %v", err))
	}
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(data)},
		},
	}
}

package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/falaimagem/internal/storage"
	"github.com/kalambet/falaimagem/internal/survey"
)

// SurveyProgresser reports survey progress for the MCP layer.
type SurveyProgresser interface {
	Progress(ctx context.Context, senderID, imageID string) (survey.Progress, error)
}

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store  *storage.Store
	Survey SurveyProgresser
}

// NewMCPServer creates a read-only MCP server over stored metrics and survey answers.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"falaimagem",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("falaimagem: latency metrics and satisfaction survey answers for spoken image descriptions."),
		server.WithRecovery(),
	)

	// Tools
	s.AddTool(
		mcp.NewTool("list_metrics",
			mcp.WithDescription("List recorded pipeline latency metrics, newest first."),
			mcp.WithNumber("limit", mcp.Description("Maximum number of rows (default 20, max 100)")),
			mcp.WithNumber("offset", mcp.Description("Rows to skip")),
		),
		mcpListMetrics(deps),
	)

	s.AddTool(
		mcp.NewTool("survey_progress",
			mcp.WithDescription("Show the satisfaction survey answers and current question for one image."),
			mcp.WithString("from", mcp.Description("Sender phone number"), mcp.Required()),
			mcp.WithString("image_id", mcp.Description("Image id returned by the webhook"), mcp.Required()),
		),
		mcpSurveyProgress(deps),
	)

	// Resources
	s.AddResource(
		mcp.NewResource(
			"metrics://recent",
			"Recent Metrics",
			mcp.WithResourceDescription("Last 10 pipeline runs with latency breakdown"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceRecentMetrics(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"metrics://summary",
			"Metrics Summary",
			mcp.WithResourceDescription("Run count, anomaly count and average stage latencies"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceSummary(deps),
	)

	return s
}

func mcpListMetrics(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		limit := req.GetInt("limit", 20)
		if limit <= 0 {
			limit = 20
		}
		if limit > 100 {
			limit = 100
		}
		offset := max(req.GetInt("offset", 0), 0)

		metrics, err := deps.Store.ListMetrics(ctx, limit, offset)
		if err != nil {
			return mcpError(fmt.Sprintf("listing metrics failed: %v", err)), nil
		}
		if len(metrics) == 0 {
			return mcpText("[]"), nil
		}

		b, err := json.Marshal(metrics)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal metrics: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpSurveyProgress(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		from, err := req.RequireString("from")
		if err != nil {
			return mcpError("from is required"), nil
		}
		imageID, err := req.RequireString("image_id")
		if err != nil {
			return mcpError("image_id is required"), nil
		}

		p, err := deps.Survey.Progress(ctx, from, imageID)
		if err != nil {
			return mcpError(fmt.Sprintf("survey progress failed: %v", err)), nil
		}

		b, err := json.Marshal(p)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal progress: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceRecentMetrics(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		metrics, err := deps.Store.ListMetrics(ctx, 10, 0)
		if err != nil {
			return nil, fmt.Errorf("failed to list recent metrics: %w", err)
		}
		if metrics == nil {
			metrics = []storage.PerformanceMetric{}
		}
		return jsonResource(req.Params.URI, metrics)
	}
}

func mcpResourceSummary(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		sum, err := deps.Store.SummarizeMetrics(ctx)
		if err != nil {
			return nil, err
		}
		return jsonResource(req.Params.URI, sum)
	}
}

func jsonResource(uri string, v any) ([]mcp.ResourceContents, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", uri, err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(b),
		},
	}, nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}

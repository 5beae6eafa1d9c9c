package api

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kalambet/falaimagem/internal/storage"
	"github.com/kalambet/falaimagem/internal/survey"
)

// --- helpers ---

func newTestMCPDeps(t *testing.T) (MCPDeps, *storage.Store) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	return MCPDeps{
		Store:  store,
		Survey: survey.NewCoordinator(store, &recordingBridge{}),
	}, store
}

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func makeReadResourceRequest(uri string) mcp.ReadResourceRequest {
	return mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{
			URI: uri,
		},
	}
}

func seedMetrics(t *testing.T, store *storage.Store, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := store.InsertMetric(context.Background(), storage.PerformanceMetric{
			SenderID:              "+55",
			ImageID:               "img",
			DescriptionDurationMs: 100,
			SynthesisDurationMs:   50,
			DeliveryDurationMs:    10,
			TotalDurationMs:       160,
			RecordedAt:            time.Now(),
		})
		if err != nil {
			t.Fatalf("InsertMetric: %v", err)
		}
	}
}

// --- tests ---

func TestMCPTool_ListMetrics(t *testing.T) {
	deps, store := newTestMCPDeps(t)
	seedMetrics(t, store, 3)
	handler := mcpListMetrics(deps)

	result, err := handler(context.Background(), makeCallToolRequest("list_metrics", map[string]interface{}{
		"limit": 2,
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}

	var metrics []storage.PerformanceMetric
	if err := json.Unmarshal([]byte(toolText(t, result)), &metrics); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(metrics) != 2 {
		t.Fatalf("expected 2 metrics, got %d", len(metrics))
	}
	if metrics[0].ID < metrics[1].ID {
		t.Error("metrics should be newest first")
	}
}

func TestMCPTool_ListMetrics_Empty(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	result, err := mcpListMetrics(deps)(context.Background(), makeCallToolRequest("list_metrics", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := toolText(t, result); got != "[]" {
		t.Fatalf("expected [], got %s", got)
	}
}

func TestMCPTool_SurveyProgress(t *testing.T) {
	deps, store := newTestMCPDeps(t)
	store.InsertSurveyAnswer(context.Background(), storage.SurveyAnswer{
		SenderID: "+55", ImageID: "img", QuestionNumber: 1, Score: 5,
	})

	result, err := mcpSurveyProgress(deps)(context.Background(), makeCallToolRequest("survey_progress", map[string]interface{}{
		"from":     "+55",
		"image_id": "img",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}

	var p survey.Progress
	if err := json.Unmarshal([]byte(toolText(t, result)), &p); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if p.CurrentQuestion != 2 || len(p.Answers) != 1 {
		t.Fatalf("progress = %+v, want current question 2 with 1 answer", p)
	}
}

func TestMCPTool_SurveyProgress_MissingArgs(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	handler := mcpSurveyProgress(deps)

	result, err := handler(context.Background(), makeCallToolRequest("survey_progress", map[string]interface{}{
		"from": "+55",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected error result when image_id is missing")
	}
}

func TestMCPResource_RecentMetrics(t *testing.T) {
	deps, store := newTestMCPDeps(t)
	seedMetrics(t, store, 12)

	contents, err := mcpResourceRecentMetrics(deps)(context.Background(), makeReadResourceRequest("metrics://recent"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(contents) != 1 {
		t.Fatalf("expected 1 content, got %d", len(contents))
	}
	tc, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("expected TextResourceContents, got %T", contents[0])
	}
	if tc.URI != "metrics://recent" {
		t.Errorf("URI = %q", tc.URI)
	}

	var metrics []storage.PerformanceMetric
	if err := json.Unmarshal([]byte(tc.Text), &metrics); err != nil {
		t.Fatalf("failed to parse: %v", err)
	}
	if len(metrics) != 10 {
		t.Fatalf("expected 10 metrics, got %d", len(metrics))
	}
}

func TestMCPResource_Summary(t *testing.T) {
	deps, store := newTestMCPDeps(t)
	seedMetrics(t, store, 2)

	contents, err := mcpResourceSummary(deps)(context.Background(), makeReadResourceRequest("metrics://summary"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tc := contents[0].(mcp.TextResourceContents)
	var sum storage.MetricsSummary
	if err := json.Unmarshal([]byte(tc.Text), &sum); err != nil {
		t.Fatalf("failed to parse: %v", err)
	}
	if sum.Count != 2 || sum.AvgTotalMs != 160 {
		t.Fatalf("summary = %+v, want count 2 avg 160", sum)
	}
}

func TestNewMCPServer(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	if s := NewMCPServer(deps); s == nil {
		t.Fatal("NewMCPServer returned nil")
	}
}

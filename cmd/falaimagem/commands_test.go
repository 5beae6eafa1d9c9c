package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/kalambet/falaimagem/internal/config"
	"github.com/kalambet/falaimagem/internal/describe"
	"github.com/kalambet/falaimagem/internal/speech"
	"github.com/kalambet/falaimagem/internal/storage"
)

type recordedRequest struct {
	Method string
	Path   string
	Auth   string
}

type testServer struct {
	server   *httptest.Server
	mu       sync.Mutex
	requests []recordedRequest
}

func newTestServer(t *testing.T, responses map[string]string) *testServer {
	t.Helper()
	ts := &testServer{}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ts.mu.Lock()
		ts.requests = append(ts.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.RequestURI(),
			Auth:   r.Header.Get("Authorization"),
		})
		ts.mu.Unlock()

		key := r.Method + " " + r.URL.Path
		if resp, ok := responses[key]; ok {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(resp))
			return
		}

		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":{"message":"not found","type":"not_found"}}`))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) client() *apiClient {
	return &apiClient{
		baseURL:    ts.server.URL,
		token:      "test-token",
		httpClient: ts.server.Client(),
	}
}

func (ts *testServer) last() recordedRequest {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.requests[len(ts.requests)-1]
}

// captureOutput redirects stdout and stderr for the duration of the test.
func captureOutput(t *testing.T) (out, errOut *bytes.Buffer) {
	t.Helper()
	out, errOut = &bytes.Buffer{}, &bytes.Buffer{}
	prevOut, prevErr, prevColor := stdout, stderr, noColor
	stdout, stderr, noColor = out, errOut, true
	t.Cleanup(func() { stdout, stderr, noColor = prevOut, prevErr, prevColor })
	return out, errOut
}

var ctx = context.Background()

const metricsBody = `[
  {"id":2,"sender_id":"5511999999999@c.us","image_id":"img-2","description_ms":1200,"synthesis_ms":300,"delivery_ms":40,"total_ms":1540,"anomaly":false},
  {"id":1,"sender_id":"5511999999999@c.us","image_id":"img-1","description_ms":-5,"synthesis_ms":300,"delivery_ms":40,"total_ms":335,"anomaly":true}
]`

func TestMetricsList_Table(t *testing.T) {
	out, _ := captureOutput(t)
	ts := newTestServer(t, map[string]string{"GET /metrics": metricsBody})

	if err := listMetrics(ctx, ts.client(), 5, 10, false); err != nil {
		t.Fatalf("listMetrics: %v", err)
	}

	req := ts.last()
	if req.Path != "/metrics?limit=5&offset=10" {
		t.Errorf("path = %q", req.Path)
	}
	if req.Auth != "Bearer test-token" {
		t.Errorf("auth = %q", req.Auth)
	}

	text := out.String()
	for _, want := range []string{"img-2", "1.20s", "1.54s", "img-1", "-5ms", "(anomaly)"} {
		if !strings.Contains(text, want) {
			t.Errorf("output missing %q:\n%s", want, text)
		}
	}
	if strings.Count(text, "(anomaly)") != 1 {
		t.Errorf("expected exactly one anomaly marker:\n%s", text)
	}
}

func TestMetricsList_JSON(t *testing.T) {
	out, _ := captureOutput(t)
	ts := newTestServer(t, map[string]string{"GET /metrics": metricsBody})

	if err := listMetrics(ctx, ts.client(), 20, 0, true); err != nil {
		t.Fatalf("listMetrics: %v", err)
	}
	var rows []storage.PerformanceMetric
	if err := json.Unmarshal(out.Bytes(), &rows); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if len(rows) != 2 || rows[1].DescriptionDurationMs != -5 || !rows[1].Anomaly {
		t.Errorf("rows = %+v", rows)
	}
}

func TestMetricsList_Empty(t *testing.T) {
	out, errOut := captureOutput(t)
	ts := newTestServer(t, map[string]string{"GET /metrics": `[]`})

	if err := listMetrics(ctx, ts.client(), 20, 0, false); err != nil {
		t.Fatalf("listMetrics: %v", err)
	}
	if out.Len() != 0 {
		t.Errorf("unexpected stdout: %q", out.String())
	}
	if !strings.Contains(errOut.String(), "no runs recorded") {
		t.Errorf("stderr = %q", errOut.String())
	}
}

func TestMetricsSummary(t *testing.T) {
	_, errOut := captureOutput(t)
	ts := newTestServer(t, map[string]string{
		"GET /metrics/summary": `{"count":3,"anomalies":1,"avg_total_ms":2500,"avg_description_ms":2000,"avg_synthesis_ms":400,"avg_delivery_ms":100}`,
	})

	if err := showSummary(ctx, ts.client(), false); err != nil {
		t.Fatalf("showSummary: %v", err)
	}
	text := errOut.String()
	for _, want := range []string{"Runs: 3", "Anomalies: 1", "Total: 2.50s", "Delivery: 100ms"} {
		if !strings.Contains(text, want) {
			t.Errorf("output missing %q:\n%s", want, text)
		}
	}
}

func TestSurveyShow(t *testing.T) {
	out, errOut := captureOutput(t)
	ts := newTestServer(t, map[string]string{
		"GET /surveys/img 1": `{"sender_id":"a@c.us","image_id":"img 1","current_question":3,"completed":false,
			"answers":[{"question_number":1,"score":5,"answered_at":"2026-01-02T03:04:05Z"},{"question_number":2,"score":4,"answered_at":"2026-01-02T03:05:05Z"}]}`,
	})

	if err := showSurvey(ctx, ts.client(), "img 1", "a@c.us"); err != nil {
		t.Fatalf("showSurvey: %v", err)
	}
	if got := ts.last().Path; got != "/surveys/img%201?from=a%40c.us" {
		t.Errorf("path = %q", got)
	}
	if !strings.Contains(errOut.String(), "question 3 of 5") {
		t.Errorf("stderr = %q", errOut.String())
	}
	if !strings.Contains(out.String(), "Q1  5/5") || !strings.Contains(out.String(), "Q2  4/5") {
		t.Errorf("stdout = %q", out.String())
	}
}

func TestSurveyShow_ServerError(t *testing.T) {
	captureOutput(t)
	ts := newTestServer(t, nil)

	err := showSurvey(ctx, ts.client(), "img-1", "a@c.us")
	if err == nil || !strings.Contains(err.Error(), "404: not found") {
		t.Errorf("err = %v, want 404 with server message", err)
	}
}

func TestDecodeJSON_PlainErrorBody(t *testing.T) {
	rec := httptest.NewRecorder()
	rec.WriteHeader(http.StatusBadGateway)
	rec.WriteString("upstream down")

	err := decodeJSON(rec.Result(), &struct{}{})
	if err == nil || err.Error() != "server returned 502: upstream down" {
		t.Errorf("err = %v", err)
	}
}

type stubPinger struct{ err error }

func (p stubPinger) Ping(context.Context) error { return p.err }

func TestProbeStatus(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /health":          `{"status":"ok","database":"ok"}`,
		"GET /metrics/summary": `{"count":7,"anomalies":0,"avg_total_ms":900}`,
	})

	report := probeStatus(ctx, ts.client(), stubPinger{err: errors.New("connection refused")})
	if report.server != nil {
		t.Fatalf("server err = %v", report.server)
	}
	if report.health["database"] != "ok" {
		t.Errorf("health = %v", report.health)
	}
	if report.summary == nil || report.summary.Count != 7 {
		t.Errorf("summary = %+v", report.summary)
	}
	if report.bridge == nil {
		t.Error("expected bridge error")
	}
}

func TestProbeStatus_ServerDown(t *testing.T) {
	ts := newTestServer(t, nil)
	client := ts.client()
	ts.server.Close()

	report := probeStatus(ctx, client, stubPinger{})
	if report.server == nil {
		t.Error("expected server error")
	}
	if report.summary != nil {
		t.Errorf("summary = %+v, want nil", report.summary)
	}
	if report.bridge != nil {
		t.Errorf("bridge = %v, want nil", report.bridge)
	}
}

func TestNewDescriber(t *testing.T) {
	cfg := config.Config{Description: config.DescriptionConfig{Provider: "openai", OpenAIAPIKey: "sk", MaxTokens: 200}}
	d, err := newDescriber(ctx, cfg)
	if err != nil {
		t.Fatalf("newDescriber: %v", err)
	}
	if _, ok := d.(*describe.OpenAIClient); !ok {
		t.Errorf("describer = %T, want *describe.OpenAIClient", d)
	}

	cfg.Description.Provider = "llava"
	if _, err := newDescriber(ctx, cfg); err == nil {
		t.Error("expected error for unknown provider")
	}
}

func TestNewSynthesizer(t *testing.T) {
	cfg := config.Config{
		Description: config.DescriptionConfig{OpenAIAPIKey: "sk"},
		Speech:      config.SpeechConfig{Provider: "openai", Model: "tts-1", Voice: "nova"},
	}
	s, err := newSynthesizer(ctx, cfg)
	if err != nil {
		t.Fatalf("newSynthesizer: %v", err)
	}
	if _, ok := s.(*speech.OpenAIClient); !ok {
		t.Errorf("synthesizer = %T, want *speech.OpenAIClient", s)
	}

	cfg.Speech.Voice = "robot"
	if _, err := newSynthesizer(ctx, cfg); err == nil {
		t.Error("expected error for unknown voice")
	}

	cfg.Speech.Provider = "espeak"
	if _, err := newSynthesizer(ctx, cfg); err == nil {
		t.Error("expected error for unknown provider")
	}
}

func TestFormatMs(t *testing.T) {
	cases := map[float64]string{0: "0ms", 999: "999ms", 1000: "1.00s", 2340: "2.34s", -5: "-5ms", 12.4: "12ms"}
	for in, want := range cases {
		if got := formatMs(in); got != want {
			t.Errorf("formatMs(%v) = %q, want %q", in, got, want)
		}
	}
}

package describe

import (
	"context"
	"errors"
	"testing"
	"time"

	"google.golang.org/genai"
)

type fakeGenerator struct {
	resp     *genai.GenerateContentResponse
	err      error
	model    string
	contents []*genai.Content
	config   *genai.GenerateContentConfig
}

func (f *fakeGenerator) GenerateContent(_ context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.model = model
	f.contents = contents
	f.config = config
	return f.resp, f.err
}

func textResponse(s string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Role: "model", Parts: []*genai.Part{{Text: s}}},
		}},
	}
}

// 1x1 PNG.
const pngBase64 = "iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJAAAADUlEQVR42mNkYPhfDwAChwGA60e6kgAAAABJRU5ErkJggg=="

func TestGemini_Describe(t *testing.T) {
	fg := &fakeGenerator{resp: textResponse(" Um gato laranja dormindo. ")}
	c := newGeminiWithGenerator(fg, "", 0, time.Second)

	text, err := c.Describe(context.Background(), pngBase64)
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}
	if text != "Um gato laranja dormindo." {
		t.Errorf("text = %q", text)
	}
	if fg.model != DefaultGeminiModel {
		t.Errorf("model = %q, want %q", fg.model, DefaultGeminiModel)
	}
	if fg.config.MaxOutputTokens != DefaultMaxTokens {
		t.Errorf("MaxOutputTokens = %d, want %d", fg.config.MaxOutputTokens, DefaultMaxTokens)
	}
	if got := fg.config.SystemInstruction.Parts[0].Text; got != SystemPrompt {
		t.Errorf("system instruction not set")
	}
	blob := fg.contents[0].Parts[0].InlineData
	if blob == nil {
		t.Fatal("first part has no inline data")
	}
	if blob.MIMEType != "image/png" {
		t.Errorf("MIMEType = %q, want image/png", blob.MIMEType)
	}
}

func TestGemini_UnknownImageTypeFallsBackToJPEG(t *testing.T) {
	fg := &fakeGenerator{resp: textResponse("ok")}
	c := newGeminiWithGenerator(fg, "m", 10, time.Second)

	if _, err := c.Describe(context.Background(), "aGVsbG8="); err != nil {
		t.Fatalf("Describe: %v", err)
	}
	if mt := fg.contents[0].Parts[0].InlineData.MIMEType; mt != "image/jpeg" {
		t.Errorf("MIMEType = %q, want image/jpeg", mt)
	}
}

func TestGemini_Errors(t *testing.T) {
	c := newGeminiWithGenerator(&fakeGenerator{err: errors.New("quota")}, "", 0, time.Second)
	if _, err := c.Describe(context.Background(), pngBase64); err == nil {
		t.Error("expected error from generator")
	}

	c = newGeminiWithGenerator(&fakeGenerator{resp: textResponse("  ")}, "", 0, time.Second)
	if _, err := c.Describe(context.Background(), pngBase64); !errors.Is(err, ErrEmptyDescription) {
		t.Errorf("err = %v, want ErrEmptyDescription", err)
	}

	if _, err := c.Describe(context.Background(), "!!not base64!!"); err == nil {
		t.Error("expected base64 decode error")
	}

	if _, err := c.Describe(context.Background(), ""); !errors.Is(err, ErrEmptyImage) {
		t.Errorf("err = %v, want ErrEmptyImage", err)
	}
}

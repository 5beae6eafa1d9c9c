package describe

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"
)

// generator is the subset of genai.Models used here, split out for tests.
type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiClient describes images with a Gemini model.
type GeminiClient struct {
	models    generator
	model     string
	maxTokens int32
	timeout   time.Duration
	logger    *slog.Logger
}

// NewGeminiClient connects to the Gemini API with the given key.
func NewGeminiClient(ctx context.Context, apiKey, model string, maxTokens int, timeout time.Duration) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating Gemini client: %w", err)
	}
	return newGeminiWithGenerator(client.Models, model, maxTokens, timeout), nil
}

func newGeminiWithGenerator(g generator, model string, maxTokens int, timeout time.Duration) *GeminiClient {
	if model == "" {
		model = DefaultGeminiModel
	}
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &GeminiClient{
		models:    g,
		model:     model,
		maxTokens: int32(maxTokens),
		timeout:   timeout,
		logger:    slog.Default(),
	}
}

func (c *GeminiClient) Describe(ctx context.Context, imageBase64 string) (string, error) {
	imageBase64 = stripDataURL(imageBase64)
	if imageBase64 == "" {
		return "", ErrEmptyImage
	}
	data, err := base64.StdEncoding.DecodeString(imageBase64)
	if err != nil {
		return "", fmt.Errorf("decoding image: %w", err)
	}

	mimeType := http.DetectContentType(data)
	if !strings.HasPrefix(mimeType, "image/") {
		mimeType = "image/jpeg"
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	contents := []*genai.Content{{
		Role: "user",
		Parts: []*genai.Part{
			{InlineData: &genai.Blob{MIMEType: mimeType, Data: data}},
			{Text: "Descreva esta imagem."},
		},
	}}
	config := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: SystemPrompt}},
		},
		MaxOutputTokens: c.maxTokens,
	}

	start := time.Now()
	resp, err := c.models.GenerateContent(reqCtx, c.model, contents, config)
	if err != nil {
		return "", fmt.Errorf("gemini generate content: %w", err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", ErrEmptyDescription
	}
	c.logger.Debug("gemini description extracted", "model", c.model, "chars", len(text), "elapsed", time.Since(start))
	return text, nil
}

package describe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	defaultOpenAIBaseURL = "https://api.openai.com/v1"
	defaultTimeout       = 60 * time.Second
)

// OpenAIConfig configures the chat-completions describer.
type OpenAIConfig struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int
	Timeout   time.Duration
}

// OpenAIClient describes images via the OpenAI chat completions endpoint.
type OpenAIClient struct {
	apiKey     string
	baseURL    string
	model      string
	maxTokens  int
	timeout    time.Duration
	httpClient *http.Client
	logger     *slog.Logger
}

// NewOpenAIClient creates a describer. Zero-valued config fields take the defaults.
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	c := &OpenAIClient{
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		model:      cfg.Model,
		maxTokens:  cfg.MaxTokens,
		timeout:    cfg.Timeout,
		httpClient: &http.Client{},
		logger:     slog.Default(),
	}
	if c.baseURL == "" {
		c.baseURL = defaultOpenAIBaseURL
	}
	if c.model == "" {
		c.model = DefaultOpenAIModel
	}
	if c.maxTokens <= 0 {
		c.maxTokens = DefaultMaxTokens
	}
	if c.timeout <= 0 {
		c.timeout = defaultTimeout
	}
	return c
}

// APIError is returned when the description API answers with a non-2xx status.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("description API returned HTTP %d: %s", e.Status, e.Body)
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type imageURLPart struct {
	Type     string `json:"type"`
	ImageURL struct {
		URL string `json:"url"`
	} `json:"image_url"`
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens"`
}

func (c *OpenAIClient) buildRequest(imageBase64 string) chatRequest {
	img := imageURLPart{Type: "image_url"}
	img.ImageURL.URL = "data:image/jpeg;base64," + imageBase64
	return chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: SystemPrompt},
			{Role: "user", Content: []imageURLPart{img}},
		},
		MaxTokens: c.maxTokens,
	}
}

// Describe sends the image and returns the trimmed description text.
func (c *OpenAIClient) Describe(ctx context.Context, imageBase64 string) (string, error) {
	imageBase64 = stripDataURL(imageBase64)
	if imageBase64 == "" {
		return "", ErrEmptyImage
	}

	body, err := json.Marshal(c.buildRequest(imageBase64))
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Encoding", acceptEncoding)
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := readBody(resp.Header.Get("Content-Encoding"), resp.Body)
	if resp.StatusCode != http.StatusOK {
		msg := string(raw)
		if err != nil {
			msg = err.Error()
		}
		return "", &APIError{Status: resp.StatusCode, Body: truncate(msg, 512)}
	}
	if err != nil {
		return "", err
	}

	text, err := extractContent(raw)
	if err != nil {
		return "", err
	}
	c.logger.Debug("description extracted", "chars", len(text), "encoding", resp.Header.Get("Content-Encoding"))
	return text, nil
}

type chatCompletion struct {
	Choices []struct {
		Message *struct {
			Content *string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// extractContent pulls choices[0].message.content out of a completion body.
func extractContent(raw []byte) (string, error) {
	var cc chatCompletion
	if err := json.Unmarshal(raw, &cc); err != nil {
		return "", fmt.Errorf("decoding completion: %w", err)
	}
	if len(cc.Choices) == 0 {
		return "", fmt.Errorf("invalid completion: 'choices' not found")
	}
	msg := cc.Choices[0].Message
	if msg == nil {
		return "", fmt.Errorf("invalid completion: 'message' not found")
	}
	if msg.Content == nil {
		return "", fmt.Errorf("invalid completion: 'content' not found")
	}
	text := strings.TrimSpace(*msg.Content)
	if text == "" {
		return "", ErrEmptyDescription
	}
	return text, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

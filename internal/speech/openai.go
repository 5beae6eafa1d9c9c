package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	defaultBaseURL  = "https://api.openai.com/v1"
	defaultTimeout  = 60 * time.Second
	maxAudioSize    = 25 << 20
	maxErrorBodyLen = 512
)

type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Voice   string
	Timeout time.Duration
}

// OpenAIClient calls the /audio/speech endpoint and returns MP3 bytes.
type OpenAIClient struct {
	apiKey     string
	baseURL    string
	model      string
	voice      string
	timeout    time.Duration
	httpClient *http.Client
	logger     *slog.Logger
}

// NewOpenAIClient validates the voice and returns a configured client.
func NewOpenAIClient(cfg OpenAIConfig) (*OpenAIClient, error) {
	c := &OpenAIClient{
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		model:      cfg.Model,
		voice:      cfg.Voice,
		timeout:    cfg.Timeout,
		httpClient: &http.Client{},
		logger:     slog.Default(),
	}
	if c.baseURL == "" {
		c.baseURL = defaultBaseURL
	}
	if c.model == "" {
		c.model = DefaultModel
	}
	if c.voice == "" {
		c.voice = DefaultVoice
	}
	if c.timeout <= 0 {
		c.timeout = defaultTimeout
	}
	if err := ValidateVoice(c.voice); err != nil {
		return nil, err
	}
	return c, nil
}

// APIError is returned when the speech API answers with a non-2xx status.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("speech API returned HTTP %d: %s", e.Status, e.Body)
}

type speechRequest struct {
	Model          string `json:"model"`
	Input          string `json:"input"`
	Voice          string `json:"voice"`
	ResponseFormat string `json:"response_format"`
}

func (c *OpenAIClient) Synthesize(ctx context.Context, text string) ([]byte, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyText
	}
	if n := utf8.RuneCountInString(text); n > MaxTextLength {
		return nil, fmt.Errorf("text too long for synthesis: %d characters (max %d)", n, MaxTextLength)
	}

	body, err := json.Marshal(speechRequest{
		Model:          c.model,
		Input:          text,
		Voice:          c.voice,
		ResponseFormat: "mp3",
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.baseURL+"/audio/speech", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyLen))
		return nil, &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}

	audio, err := io.ReadAll(io.LimitReader(resp.Body, maxAudioSize))
	if err != nil {
		return nil, fmt.Errorf("reading audio: %w", err)
	}
	if len(audio) == 0 {
		return nil, ErrEmptyAudio
	}
	if !LooksLikeMP3(audio) {
		c.logger.Warn("speech audio does not start with an MP3 header", "bytes", len(audio))
	}
	return audio, nil
}

// Package bridge talks to the chat-bridge service that delivers text and voice
// messages to end users.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultBaseURL = "http://whatsapp:3000"
	defaultTimeout = 30 * time.Second
	maxErrorBody   = 4 << 10
)

// Client sends messages through the bridge's /sendText and /sendVoice endpoints.
// Delivery is accepted once the bridge answers 2xx; no receipt is awaited.
type Client struct {
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
}

// NewClient creates a bridge client. An empty baseURL uses the in-cluster default.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		timeout:    timeout,
		httpClient: &http.Client{},
	}
}

// StatusError is returned when the bridge answers with a non-2xx status.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Status == http.StatusServiceUnavailable {
		return fmt.Sprintf("bridge not ready (HTTP %d): %s", e.Status, e.Body)
	}
	return fmt.Sprintf("bridge returned HTTP %d: %s", e.Status, e.Body)
}

// NotReady reports whether the bridge refused the request because its chat
// session is not connected yet.
func (e *StatusError) NotReady() bool {
	return e.Status == http.StatusServiceUnavailable
}

type sendTextRequest struct {
	To      string `json:"to"`
	Message string `json:"message"`
}

type sendVoiceRequest struct {
	To          string `json:"to"`
	AudioBase64 string `json:"audioBase64"`
}

// SendText delivers a plain text message to the given chat id.
func (c *Client) SendText(ctx context.Context, to, message string) error {
	if to == "" || message == "" {
		return fmt.Errorf("send text: recipient and message are required")
	}
	return c.post(ctx, "/sendText", sendTextRequest{To: to, Message: message})
}

// SendVoice delivers base64-encoded audio as a voice note.
func (c *Client) SendVoice(ctx context.Context, to, audioBase64 string) error {
	if to == "" || audioBase64 == "" {
		return fmt.Errorf("send voice: recipient and audio are required")
	}
	return c.post(ctx, "/sendVoice", sendVoiceRequest{To: to, AudioBase64: audioBase64})
}

// Ping checks that the bridge HTTP server is reachable. Any HTTP answer counts.
func (c *Client) Ping(ctx context.Context) error {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.baseURL+"/", nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("bridge unreachable: %w", err)
	}
	resp.Body.Close()
	return nil
}

func (c *Client) post(ctx context.Context, path string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

// Package llm abstracts the language-model backend behind two request
// modes: a tolerant conversational mode and a strict analysis mode whose
// failures the orchestrator's fallback logic depends on observing.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
)

// DefaultSystemPrompt is used by Chat when the caller provides none.
const DefaultSystemPrompt = "You are a helpful personal assistant integrated into a chat bot. " +
	"You receive messages from your user and respond conversationally. " +
	"Keep responses concise and useful. This is a chat interface on a phone, " +
	"not an essay. Be direct."

const (
	apologyAPIError   = "Sorry, I couldn't process that right now. (API error)"
	apologyUnexpected = "Sorry, something went wrong. (Unexpected error)"

	defaultBaseURL   = "https://api.anthropic.com"
	anthropicVersion = "2023-06-01"
	chatMaxTokens    = 1024
	analyzeMaxTokens = 2048
)

// Client is the model gateway contract. Chat never fails from the
// caller's perspective; Analyze propagates failures because capture and
// query fall back based on them.
type Client interface {
	Chat(ctx context.Context, message, system string) string
	Analyze(ctx context.Context, message, system string, maxTokens int) (string, error)
}

// AnthropicClient talks to the Anthropic Messages API over HTTP.
type AnthropicClient struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewAnthropic creates a client for the given API key and model name.
func NewAnthropic(apiKey, model string) *AnthropicClient {
	return &AnthropicClient{
		baseURL:    defaultBaseURL,
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{},
	}
}

// NewAnthropicWithBaseURL is NewAnthropic with an overridable endpoint
// (used by tests).
func NewAnthropicWithBaseURL(apiKey, model, baseURL string) *AnthropicClient {
	c := NewAnthropic(apiKey, model)
	c.baseURL = strings.TrimRight(baseURL, "/")
	return c
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// messagesRequest is the JSON body for POST /v1/messages.
type messagesRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	System    string    `json:"system,omitempty"`
	Messages  []message `json:"messages"`
}

// messagesResponse is the JSON returned by POST /v1/messages.
type messagesResponse struct {
	Content []contentBlock `json:"content"`
	Error   *apiError      `json:"error"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type apiError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Chat sends a message in tolerant mode: any failure is logged and
// converted to a short user-presentable apology string.
func (c *AnthropicClient) Chat(ctx context.Context, msg, system string) string {
	if system == "" {
		system = DefaultSystemPrompt
	}
	text, err := c.complete(ctx, msg, system, chatMaxTokens)
	if err != nil {
		var be *backendError
		if errors.As(err, &be) {
			slog.Error("model API error", "error", err)
			return apologyAPIError
		}
		slog.Error("unexpected error calling model", "error", err)
		return apologyUnexpected
	}
	return text
}

// Analyze sends a structured analysis request in strict mode. The raw
// response text is returned on success; failures propagate unchanged.
func (c *AnthropicClient) Analyze(ctx context.Context, msg, system string, maxTokens int) (string, error) {
	if maxTokens <= 0 {
		maxTokens = analyzeMaxTokens
	}
	return c.complete(ctx, msg, system, maxTokens)
}

// backendError marks failures the backend itself reported, as opposed
// to transport or decoding problems. The distinction only affects
// logging, never the contract callers depend on.
type backendError struct {
	status  int
	errType string
	message string
}

func (e *backendError) Error() string {
	return fmt.Sprintf("model backend error (status %d, %s): %s", e.status, e.errType, e.message)
}

func (c *AnthropicClient) complete(ctx context.Context, msg, system string, maxTokens int) (string, error) {
	body, err := json.Marshal(messagesRequest{
		Model:     c.model,
		MaxTokens: maxTokens,
		System:    system,
		Messages:  []message{{Role: "user", Content: msg}},
	})
	if err != nil {
		return "", fmt.Errorf("marshalling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("model request: %w", err)
	}
	defer resp.Body.Close()

	var result messagesResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decoding model response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		be := &backendError{status: resp.StatusCode}
		if result.Error != nil {
			be.errType = result.Error.Type
			be.message = result.Error.Message
		}
		return "", be
	}

	for _, block := range result.Content {
		if block.Type == "text" {
			return block.Text, nil
		}
	}
	return "", fmt.Errorf("model response contained no text block")
}

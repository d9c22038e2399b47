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
	"time"
)

// OllamaClient implements Client against a local Ollama instance. It
// lets the assistant run entirely offline; the same prompts and parsing
// apply, only the transport differs.
type OllamaClient struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewOllama creates a Client talking to an Ollama server.
func NewOllama(baseURL, model string) *OllamaClient {
	return &OllamaClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		httpClient: &http.Client{
			// Local models can be slow to first token; no client timeout,
			// cancellation comes from ctx.
			Timeout: 0,
		},
	}
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
}

type ollamaChatResponse struct {
	Message ollamaMessage `json:"message"`
}

// Chat sends a conversational message and never returns an error;
// failures map to the same apologies as the Anthropic client.
func (c *OllamaClient) Chat(ctx context.Context, msg, system string) string {
	if system == "" {
		system = DefaultSystemPrompt
	}
	text, err := c.complete(ctx, msg, system)
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

// Analyze sends a structured-analysis message. maxTokens is accepted
// for interface compatibility; Ollama does not cap output the same way.
func (c *OllamaClient) Analyze(ctx context.Context, msg, system string, maxTokens int) (string, error) {
	return c.complete(ctx, msg, system)
}

func (c *OllamaClient) complete(ctx context.Context, msg, system string) (string, error) {
	body, err := json.Marshal(ollamaChatRequest{
		Model: c.model,
		Messages: []ollamaMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: msg},
		},
		Stream: false,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("chat request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &backendError{status: resp.StatusCode, errType: "ollama_error", message: "chat request rejected"}
	}

	var result ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decoding chat response: %w", err)
	}
	if result.Message.Content == "" {
		return "", fmt.Errorf("ollama returned an empty message")
	}
	return result.Message.Content, nil
}

// IsRunning reports whether the Ollama server answers its tags endpoint.
func (c *OllamaClient) IsRunning(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

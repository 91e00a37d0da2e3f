package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// OpenAIProvider implements Completer for OpenAI-compatible chat APIs.
type OpenAIProvider struct {
	id       string
	endpoint string
	apiKey   string
	model    string
	client   *http.Client
}

// NewOpenAIProvider creates a new OpenAI-compatible provider.
func NewOpenAIProvider(id, endpoint, apiKey, model string) *OpenAIProvider {
	return &OpenAIProvider{
		id:       id,
		endpoint: strings.TrimSuffix(endpoint, "/"),
		apiKey:   apiKey,
		model:    model,
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Index   int         `json:"index"`
		Message ChatMessage `json:"message"`
		Finish  string      `json:"finish_reason"`
	} `json:"choices"`
}

// Complete sends a single-turn chat completion. Any failure on the wire is
// a TransportError; the caller decides whether to retry.
func (p *OpenAIProvider) Complete(ctx context.Context, prompt string) (string, error) {
	url := fmt.Sprintf("%s/chat/completions", p.endpoint)

	body, err := json.Marshal(chatCompletionRequest{
		Model:       p.model,
		Messages:    []ChatMessage{{Role: "user", Content: prompt}},
		Temperature: 0.8,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(string(body)))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", fmt.Sprintf("Bearer %s", p.apiKey))
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return "", &TransportError{Provider: p.id, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &TransportError{Provider: p.id, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return "", &TransportError{Provider: p.id, Err: fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, string(respBody))}
	}

	var completion chatCompletionResponse
	if err := json.Unmarshal(respBody, &completion); err != nil {
		return "", &TransportError{Provider: p.id, Err: fmt.Errorf("failed to unmarshal response: %w", err)}
	}
	if len(completion.Choices) == 0 {
		return "", &TransportError{Provider: p.id, Err: fmt.Errorf("empty choices in response")}
	}

	return completion.Choices[0].Message.Content, nil
}

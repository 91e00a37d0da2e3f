package provider

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

// OllamaProvider implements Completer for Ollama-compatible APIs.
// See: https://github.com/ollama/ollama/blob/main/docs/api.md
type OllamaProvider struct {
	id       string
	endpoint string
	model    string
	client   *http.Client
}

// NewOllamaProvider creates a new Ollama-compatible provider.
func NewOllamaProvider(id, endpoint, model string) *OllamaProvider {
	return &OllamaProvider{
		id:       id,
		endpoint: strings.TrimSuffix(endpoint, "/"),
		model:    model,
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// Complete sends a non-streaming generate request.
func (p *OllamaProvider) Complete(ctx context.Context, prompt string) (string, error) {
	url := fmt.Sprintf("%s/api/generate", p.endpoint)
	if p.model == "" {
		return "", fmt.Errorf("model is required")
	}

	body, err := json.Marshal(struct {
		Model  string `json:"model"`
		Prompt string `json:"prompt"`
		Stream bool   `json:"stream"`
	}{
		Model:  p.model,
		Prompt: prompt,
		Stream: false,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

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

	var genResp struct {
		Response string `json:"response"`
		Done     bool   `json:"done"`
	}
	if err := json.Unmarshal(respBody, &genResp); err != nil {
		return "", &TransportError{Provider: p.id, Err: fmt.Errorf("failed to unmarshal response: %w", err)}
	}

	return genResp.Response, nil
}

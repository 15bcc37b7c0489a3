// Package llm provides streaming clients for Large Language Model providers
// and a registry that resolves them by name.
package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"health-coach-go/internal/config"
)

// TokenFunc receives each streamed text fragment in order. Returning an error stops the stream.
type TokenFunc func(token string) error

// Provider is one named LLM backend.
type Provider interface {
	Name() string
	// StreamChat 以 role-based 消息调用聊天接口，并把每个增量分块交给 onToken。
	StreamChat(ctx context.Context, model string, messages []Message, gen *GenerationParams, onToken TokenFunc) error
}

// Message 表示一条角色消息
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenerationParams 控制生成行为
type GenerationParams struct {
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
}

// ProviderError marks failures that originate at the provider: network, timeout, upstream
// rate limit, bad credentials. Only these errors are eligible for fallback.
type ProviderError struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("provider %s: status %d: %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("provider %s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// IsProviderError reports whether err wraps a *ProviderError.
func IsProviderError(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe)
}

// Complete runs a streaming call and returns the concatenated text.
func Complete(ctx context.Context, p Provider, model string, messages []Message, gen *GenerationParams) (string, error) {
	var sb strings.Builder
	err := p.StreamChat(ctx, model, messages, gen, func(token string) error {
		sb.WriteString(token)
		return nil
	})
	if err != nil {
		return "", err
	}
	return sb.String(), nil
}

// compatibleClient talks to any OpenAI-compatible /chat/completions endpoint over SSE.
type compatibleClient struct {
	name   string
	cfg    config.ProviderConfig
	client *http.Client
}

// NewCompatibleClient creates a client for an OpenAI-compatible HTTP API (DeepSeek, vLLM, Ollama...).
func NewCompatibleClient(cfg config.ProviderConfig) Provider {
	return &compatibleClient{
		name: cfg.Name,
		cfg:  cfg,
		// 超时由调用方的 context 控制
		client: &http.Client{Transport: &http.Transport{ResponseHeaderTimeout: 60 * time.Second}},
	}
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Stream      bool      `json:"stream"`
	Temperature *float64  `json:"temperature,omitempty"`
	TopP        *float64  `json:"top_p,omitempty"`
	MaxTokens   *int      `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

func (c *compatibleClient) Name() string { return c.name }

func (c *compatibleClient) providerErr(status int, err error) error {
	return &ProviderError{Provider: c.name, StatusCode: status, Err: err}
}

// StreamChat calls the chat completions API and streams the response.
func (c *compatibleClient) StreamChat(ctx context.Context, model string, messages []Message, gen *GenerationParams, onToken TokenFunc) error {
	reqBody := chatRequest{
		Model:    model,
		Messages: messages,
		Stream:   true,
	}
	if gen != nil {
		reqBody.Temperature = gen.Temperature
		reqBody.TopP = gen.TopP
		reqBody.MaxTokens = gen.MaxTokens
	}

	reqBytes, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("failed to marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", strings.TrimRight(c.cfg.BaseURL, "/")+"/chat/completions", bytes.NewReader(reqBytes))
	if err != nil {
		return fmt.Errorf("failed to create chat request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.client.Do(req)
	if err != nil {
		return c.providerErr(0, fmt.Errorf("failed to call chat api: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return c.providerErr(resp.StatusCode, fmt.Errorf("chat api returned non-200 status: %s, body: %s", resp.Status, string(bodyBytes)))
	}

	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				break
			}
			return c.providerErr(0, fmt.Errorf("failed to read from stream: %w", err))
		}

		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data: "))
		if data == "[DONE]" {
			break
		}

		var chunk chatResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}

		if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
			if err := onToken(chunk.Choices[0].Delta.Content); err != nil {
				return err
			}
		}
	}
	return nil
}

package llm

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/sashabaranov/go-openai"

	"health-coach-go/internal/config"
)

// openAIClient streams through the official OpenAI API using go-openai.
type openAIClient struct {
	name   string
	client *openai.Client
}

// NewOpenAIClient creates a provider backed by go-openai. An empty BaseURL uses api.openai.com.
func NewOpenAIClient(cfg config.ProviderConfig) Provider {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	return &openAIClient{
		name:   cfg.Name,
		client: openai.NewClientWithConfig(oc),
	}
}

func (o *openAIClient) Name() string { return o.name }

func (o *openAIClient) wrap(err error) error {
	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}
	return &ProviderError{Provider: o.name, StatusCode: status, Err: err}
}

// StreamChat implements Provider.
func (o *openAIClient) StreamChat(ctx context.Context, model string, messages []Message, gen *GenerationParams, onToken TokenFunc) error {
	req := openai.ChatCompletionRequest{
		Model:    model,
		Messages: make([]openai.ChatCompletionMessage, 0, len(messages)),
		Stream:   true,
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	if gen != nil {
		if gen.Temperature != nil {
			req.Temperature = float32(*gen.Temperature)
		}
		if gen.TopP != nil {
			req.TopP = float32(*gen.TopP)
		}
		if gen.MaxTokens != nil {
			req.MaxCompletionTokens = *gen.MaxTokens
		}
	}

	stream, err := o.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return o.wrap(fmt.Errorf("openai stream request failed: %w", err))
	}
	defer stream.Close()

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return o.wrap(fmt.Errorf("openai stream recv failed: %w", err))
		}
		if len(resp.Choices) == 0 || resp.Choices[0].Delta.Content == "" {
			continue
		}
		if err := onToken(resp.Choices[0].Delta.Content); err != nil {
			return err
		}
	}
}

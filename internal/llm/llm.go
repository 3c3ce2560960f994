package llm

import (
	"context"

	"github.com/sashabaranov/go-openai"

	"chatkeep/internal/config"
)

// Client adapts an OpenAI-compatible endpoint to the narrow interfaces
// above. It satisfies both StreamClient and CompletionClient.
type Client struct {
	api *openai.Client
}

// NewClient creates a client for the configured endpoint.
func NewClient(cfg config.LLMConfig) *Client {
	apiCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		apiCfg.BaseURL = cfg.BaseURL
	}
	return &Client{api: openai.NewClientWithConfig(apiCfg)}
}

func (c *Client) CreateChatCompletionStream(ctx context.Context, req openai.ChatCompletionRequest) (Stream, error) {
	return c.api.CreateChatCompletionStream(ctx, req)
}

func (c *Client) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	return c.api.CreateChatCompletion(ctx, req)
}

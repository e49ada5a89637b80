package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIClient sends completions through the official OpenAI SDK.
type OpenAIClient struct {
	cfg     Config
	client  openai.Client
	timeout time.Duration
}

// NewOpenAIClient constructs an SDK-backed Completer. An empty BaseURL uses
// the SDK default endpoint.
func NewOpenAIClient(cfg Config) *OpenAIClient {
	cfg = trimConfig(cfg)
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey), option.WithMaxRetries(defaultRetryAttempts - 1)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	timeout := defaultHTTPTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	return &OpenAIClient{cfg: cfg, client: openai.NewClient(opts...), timeout: timeout}
}

// CompleteJSON implements Completer.
func (c *OpenAIClient) CompleteJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if err := checkPrompts(c.cfg, systemPrompt, userPrompt); err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	params := openai.ChatCompletionNewParams{
		Model: c.cfg.Model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(strings.TrimSpace(systemPrompt)),
			openai.UserMessage(strings.TrimSpace(userPrompt)),
		},
		Temperature: openai.Float(0),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &openai.ResponseFormatJSONObjectParam{},
		},
	}
	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("llm openai: %w", err)
	}
	for _, choice := range resp.Choices {
		if content := strings.TrimSpace(choice.Message.Content); content != "" {
			return content, nil
		}
	}
	return "", fmt.Errorf("llm openai: %w", ErrEmptyContent)
}

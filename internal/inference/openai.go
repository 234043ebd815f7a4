package inference

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// OpenAIConfig configures an OpenAI-compatible chat completions endpoint.
// BaseURL may point at a self-hosted model server.
type OpenAIConfig struct {
	BaseURL string
	APIKey  string
	Model   string
}

// OpenAI summarizes through the Chat Completions API.
type OpenAI struct {
	client openai.Client
	model  string
}

func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &OpenAI{client: openai.NewClient(opts...), model: cfg.Model}
}

func (o *OpenAI) Summarize(ctx context.Context, req Request) (string, error) {
	if strings.TrimSpace(req.Text) == "" {
		return "", ErrEmptyInput
	}
	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(o.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(userPrompt(req)),
		},
		Temperature:         openai.Float(0.2),
		MaxCompletionTokens: openai.Int(tokenBudget(req.MaxLength)),
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion choices are missing")
	}
	summary := strings.TrimSpace(resp.Choices[0].Message.Content)
	if summary == "" {
		return "", fmt.Errorf("chat completion content is empty")
	}
	return summary, nil
}

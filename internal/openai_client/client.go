package openai_client

import (
	"context"
	"fmt"
	"strings"

	"companion-service/internal/models"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"
	"go.uber.org/zap"
)

// Config for the OpenAI client.
type Config struct {
	APIKey     string
	ModelName  string
	BaseURL    string
	MaxRetries int
	MaxTokens  int
}

// Client generates replies with the OpenAI Responses API.
type Client struct {
	client    *openai.Client
	modelName string
	maxTokens int64
	logger    *zap.Logger
}

func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai API key is required")
	}
	if cfg.ModelName == "" {
		cfg.ModelName = "gpt-4o-mini"
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 2
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 400
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := openai.NewClient(opts...)

	logger.Info("OpenAI client initialized", zap.String("model", cfg.ModelName))

	return &Client{
		client:    &client,
		modelName: cfg.ModelName,
		maxTokens: int64(cfg.MaxTokens),
		logger:    logger,
	}, nil
}

// Generate sends system messages as instructions and the rest as input items.
func (c *Client) Generate(ctx context.Context, messages []models.PromptMessage) (string, error) {
	var instructions []string
	items := make([]responses.ResponseInputItemUnionParam, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case models.RoleSystem:
			instructions = append(instructions, m.Content)
		case models.RoleAssistant:
			items = append(items, responses.ResponseInputItemParamOfMessage(m.Content, responses.EasyInputMessageRoleAssistant))
		default:
			items = append(items, responses.ResponseInputItemParamOfMessage(m.Content, responses.EasyInputMessageRoleUser))
		}
	}
	if len(items) == 0 {
		return "", fmt.Errorf("prompt has no message to send")
	}

	params := responses.ResponseNewParams{
		Model:           c.modelName,
		MaxOutputTokens: openai.Int(c.maxTokens),
		Input: responses.ResponseNewParamsInputUnion{
			OfInputItemList: items,
		},
	}
	if len(instructions) > 0 {
		params.Instructions = openai.String(strings.Join(instructions, "\n\n"))
	}

	resp, err := c.client.Responses.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai API error: %w", err)
	}

	text := strings.TrimSpace(resp.OutputText())
	if text == "" {
		return "", fmt.Errorf("empty response from openai")
	}

	c.logger.Debug("OpenAI reply generated",
		zap.Int64("output_tokens", resp.Usage.OutputTokens))
	return text, nil
}

func (c *Client) Close() error { return nil }

func (c *Client) GetModelInfo() map[string]interface{} {
	return map[string]interface{}{
		"provider": "openai",
		"model":    c.modelName,
	}
}

package openai_compat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"companion-service/internal/models"

	"go.uber.org/zap"
)

// Preset holds the per-vendor defaults of an OpenAI compatible API.
type Preset struct {
	Name         string
	BaseURL      string
	DefaultModel string
	Headers      map[string]string
}

var (
	OpenRouter = Preset{
		Name:         "openrouter",
		BaseURL:      "https://openrouter.ai/api/v1",
		DefaultModel: "meta-llama/llama-3.3-70b-instruct:free",
		Headers: map[string]string{
			"HTTP-Referer": "https://github.com/companion-service",
			"X-Title":      "Companion Service",
		},
	}
	Groq = Preset{
		Name:         "groq",
		BaseURL:      "https://api.groq.com/openai/v1",
		DefaultModel: "llama-3.3-70b-versatile",
	}
)

// Config holds configuration for the client.
type Config struct {
	APIKey      string
	ModelName   string
	BaseURL     string // overrides the preset, used by tests and proxies
	MaxRetries  int
	RetryDelay  time.Duration
	Temperature float32
	MaxTokens   int
}

// Client talks to a /chat/completions endpoint.
type Client struct {
	preset      Preset
	apiKey      string
	baseURL     string
	modelName   string
	httpClient  *http.Client
	logger      *zap.Logger
	maxRetries  int
	retryDelay  time.Duration
	temperature float32
	maxTokens   int
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float32       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// NewClient creates a client for preset.
func NewClient(preset Preset, cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%s API key is required", preset.Name)
	}
	if cfg.ModelName == "" {
		cfg.ModelName = preset.DefaultModel
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = preset.BaseURL
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 2
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.9
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 400
	}

	logger.Info("Chat completions client initialized",
		zap.String("provider", preset.Name),
		zap.String("model", cfg.ModelName),
		zap.Int("max_retries", cfg.MaxRetries))

	return &Client{
		preset:      preset,
		apiKey:      cfg.APIKey,
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		modelName:   cfg.ModelName,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		logger:      logger,
		maxRetries:  cfg.MaxRetries,
		retryDelay:  cfg.RetryDelay,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
	}, nil
}

// Generate returns the first choice of a chat completion.
func (c *Client) Generate(ctx context.Context, messages []models.PromptMessage) (string, error) {
	var lastErr error

	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		text, retry, err := c.generateOnce(ctx, messages, attempt)
		if err == nil {
			return text, nil
		}

		lastErr = err
		c.logger.Warn("Chat completion attempt failed",
			zap.String("provider", c.preset.Name),
			zap.Int("attempt", attempt),
			zap.Int("max_retries", c.maxRetries),
			zap.Error(err))

		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if !retry {
			break
		}

		if attempt < c.maxRetries {
			select {
			case <-time.After(c.retryDelay):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
	}

	return "", fmt.Errorf("%s failed: %w", c.preset.Name, lastErr)
}

// generateOnce reports whether a failed call is worth retrying.
func (c *Client) generateOnce(ctx context.Context, messages []models.PromptMessage, attempt int) (string, bool, error) {
	reqBody := chatRequest{
		Model:       c.modelName,
		Messages:    make([]chatMessage, len(messages)),
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	}
	for i, m := range messages {
		reqBody.Messages[i] = chatMessage{Role: m.Role, Content: m.Content}
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", false, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(jsonData))
	if err != nil {
		return "", false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range c.preset.Headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", true, fmt.Errorf("%s API request failed: %w", c.preset.Name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", true, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		c.logger.Error("Chat completions API error",
			zap.String("provider", c.preset.Name),
			zap.Int("status", resp.StatusCode),
			zap.String("body", string(body)),
			zap.Int("attempt", attempt))
		// a 429 is handed to the caller so the provider can be switched
		retry := resp.StatusCode >= 500
		return "", retry, fmt.Errorf("%s API returned status %d: %s", c.preset.Name, resp.StatusCode, string(body))
	}

	var apiResp chatResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return "", false, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if apiResp.Error != nil {
		return "", false, fmt.Errorf("%s API error: %s", c.preset.Name, apiResp.Error.Message)
	}
	if len(apiResp.Choices) == 0 {
		return "", true, fmt.Errorf("no choices in %s response", c.preset.Name)
	}

	text := strings.TrimSpace(apiResp.Choices[0].Message.Content)
	if text == "" {
		return "", true, fmt.Errorf("empty reply from %s", c.preset.Name)
	}

	c.logger.Debug("Chat completion generated",
		zap.String("provider", c.preset.Name),
		zap.Int("total_tokens", apiResp.Usage.TotalTokens),
		zap.Int("attempt", attempt))

	return text, false, nil
}

// Close closes the client and releases resources.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// GetModelInfo returns information about the model being used.
func (c *Client) GetModelInfo() map[string]interface{} {
	return map[string]interface{}{
		"provider": c.preset.Name,
		"model":    c.modelName,
		"base_url": c.baseURL,
	}
}

package llm

import (
	"context"
	"time"

	"companion-service/internal/models"
)

// TextGenerator produces the raw companion reply for a prompt.
type TextGenerator interface {
	Generate(ctx context.Context, messages []models.PromptMessage) (string, error)
}

// ProviderType represents the type of LLM provider
type ProviderType string

const (
	ProviderGemini     ProviderType = "gemini"
	ProviderGroq       ProviderType = "groq"
	ProviderOpenRouter ProviderType = "openrouter"
	ProviderOpenAI     ProviderType = "openai"
)

// ProviderConfig holds configuration for a single provider instance
type ProviderConfig struct {
	Type        ProviderType  `yaml:"type"`
	APIKey      string        `yaml:"api_key"`
	ModelName   string        `yaml:"model_name"`
	BaseURL     string        `yaml:"base_url"`
	MaxRetries  int           `yaml:"max_retries"`
	RetryDelay  time.Duration `yaml:"retry_delay"`
	Temperature float32       `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
	// Rate limiting per provider
	RequestsPerMinute int `yaml:"requests_per_minute"`
}

// Provider is a TextGenerator backed by one LLM API.
type Provider interface {
	TextGenerator
	Close() error
	GetModelInfo() map[string]interface{}
}

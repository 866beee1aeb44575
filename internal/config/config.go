package config

import (
	"fmt"
	"os"
	"time"

	"companion-service/internal/delivery"
	"companion-service/internal/llm"
	"companion-service/internal/relationship"
	"companion-service/internal/segmenter"

	"gopkg.in/yaml.v3"
)

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port            string        `yaml:"port"`
	Mode            string        `yaml:"mode"` // gin mode: debug, release, test
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
}

// Config holds application configuration
type Config struct {
	Server ServerConfig `yaml:"server"`

	Logging struct {
		Level       string `yaml:"level"`
		Development bool   `yaml:"development"`
	} `yaml:"logging"`

	Database struct {
		Type           string `yaml:"type"` // "postgres", "sqlite", "redis" or "memory"
		URL            string `yaml:"url"`  // PostgreSQL URL
		Path           string `yaml:"path"` // SQLite path
		MigrationsPath string `yaml:"migrations_path"`
		AutoMigrate    bool   `yaml:"auto_migrate"`
	} `yaml:"database"`

	Redis struct {
		Addr       string        `yaml:"addr"`
		Password   string        `yaml:"password"`
		DB         int           `yaml:"db"`
		ProfileTTL time.Duration `yaml:"profile_ttl"`
	} `yaml:"redis"`

	// Multiple providers configuration, tried in order
	Providers               []llm.ProviderConfig `yaml:"providers"`
	MaxFailuresBeforeSwitch int                  `yaml:"max_failures_before_switch"`

	Generation struct {
		Timeout       time.Duration `yaml:"timeout"`
		CompanionName string        `yaml:"companion_name"`
		Persona       string        `yaml:"persona"`
	} `yaml:"generation"`

	Classifier struct {
		Type     string        `yaml:"type"` // "rules", "http" or "openai"
		URL      string        `yaml:"url"`
		APIKey   string        `yaml:"api_key"`
		Model    string        `yaml:"model"`
		Timeout  time.Duration `yaml:"timeout"`
		Cache    bool          `yaml:"cache"`
		CacheTTL time.Duration `yaml:"cache_ttl"`
	} `yaml:"classifier"`

	Relationship relationship.Params `yaml:"relationship"`
	Segmenter    segmenter.Options   `yaml:"segmenter"`

	Delivery struct {
		SupersedePolicy delivery.Policy `yaml:"supersede_policy"`
		IdleTTL         time.Duration   `yaml:"idle_ttl"`
		SweepInterval   time.Duration   `yaml:"sweep_interval"`
	} `yaml:"delivery"`

	Telegram struct {
		Enabled   bool   `yaml:"enabled"`
		BotToken  string `yaml:"bot_token"`
		QueueSize int    `yaml:"queue_size"`
	} `yaml:"telegram"`
}

// LoadConfig loads configuration from YAML file
func LoadConfig(configPath string) (*Config, error) {
	config := &Config{}

	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	if err := decoder.Decode(config); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}

	config.applyDefaults()
	config.expandEnv()

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.Server.Mode == "" {
		c.Server.Mode = "release"
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}

	if c.Database.Type == "" {
		c.Database.Type = "sqlite"
	}
	if c.Database.Path == "" {
		c.Database.Path = "./data/companion.db"
	}
	if c.Database.MigrationsPath == "" {
		c.Database.MigrationsPath = "migrations"
	}

	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}

	if c.MaxFailuresBeforeSwitch == 0 {
		c.MaxFailuresBeforeSwitch = 3
	}

	if c.Generation.Timeout == 0 {
		c.Generation.Timeout = 20 * time.Second
	}
	if c.Generation.CompanionName == "" {
		c.Generation.CompanionName = "Mia"
	}

	if c.Classifier.Type == "" {
		c.Classifier.Type = "rules"
	}
	if c.Classifier.Timeout == 0 {
		c.Classifier.Timeout = 3 * time.Second
	}
	if c.Classifier.CacheTTL == 0 {
		c.Classifier.CacheTTL = 30 * time.Minute
	}

	if c.Delivery.SupersedePolicy == "" {
		c.Delivery.SupersedePolicy = delivery.PolicyRestart
	}
	if c.Delivery.IdleTTL == 0 {
		c.Delivery.IdleTTL = 30 * time.Minute
	}
	if c.Delivery.SweepInterval == 0 {
		c.Delivery.SweepInterval = time.Minute
	}

	if c.Telegram.QueueSize == 0 {
		c.Telegram.QueueSize = 256
	}
}

// Expand environment variables in secrets and connection strings
func (c *Config) expandEnv() {
	for i := range c.Providers {
		c.Providers[i].APIKey = os.ExpandEnv(c.Providers[i].APIKey)
	}
	c.Database.URL = os.ExpandEnv(c.Database.URL)
	c.Redis.Password = os.ExpandEnv(c.Redis.Password)
	c.Classifier.APIKey = os.ExpandEnv(c.Classifier.APIKey)
	c.Telegram.BotToken = os.ExpandEnv(c.Telegram.BotToken)
}

// Validate rejects settings the service cannot start with.
func (c *Config) Validate() error {
	switch c.Database.Type {
	case "postgres":
		if c.Database.URL == "" {
			return fmt.Errorf("database.url is required for postgres")
		}
	case "sqlite", "redis", "memory":
	default:
		return fmt.Errorf("unknown database.type %q", c.Database.Type)
	}

	switch c.Classifier.Type {
	case "rules":
	case "http":
		if c.Classifier.URL == "" {
			return fmt.Errorf("classifier.url is required for the http classifier")
		}
	case "openai":
		if c.Classifier.APIKey == "" {
			return fmt.Errorf("classifier.api_key is required for the openai classifier")
		}
	default:
		return fmt.Errorf("unknown classifier.type %q", c.Classifier.Type)
	}

	switch c.Delivery.SupersedePolicy {
	case delivery.PolicyRestart, delivery.PolicyReject:
	default:
		return fmt.Errorf("unknown delivery.supersede_policy %q", c.Delivery.SupersedePolicy)
	}

	if c.Telegram.Enabled && c.Telegram.BotToken == "" {
		return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
	}

	if _, err := relationship.NewRules(c.Relationship); err != nil {
		return fmt.Errorf("invalid relationship settings: %w", err)
	}
	return nil
}

// UsesRedis reports whether any component needs the redis client.
func (c *Config) UsesRedis() bool {
	return c.Database.Type == "redis" || (c.Classifier.Cache && c.Classifier.Type != "rules")
}

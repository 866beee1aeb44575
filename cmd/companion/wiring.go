package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"companion-service/internal/config"
	"companion-service/internal/delivery"
	"companion-service/internal/emotion_client"
	"companion-service/internal/llm"
	"companion-service/internal/relationship"
	"companion-service/internal/repository"
	"companion-service/internal/segmenter"
	"companion-service/internal/sentiment"
	"companion-service/internal/turn_processor"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// components are the collaborators shared by serve and chat.
type components struct {
	profiles   repository.ProfileRepository
	classifier sentiment.Classifier
	generator  *llm.MultiProviderClient
	closers    []func() error
	logger     *zap.Logger
}

func (c *components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			c.logger.Warn("Failed to close component", zap.Error(err))
		}
	}
}

func buildComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*components, error) {
	c := &components{logger: logger}

	var rdb redis.Cmdable
	if cfg.UsesRedis() {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		c.closers = append(c.closers, client.Close)
		rdb = client
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Warn("Redis is not reachable yet", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		}
	}

	profiles, err := openProfiles(cfg, rdb, logger)
	if err != nil {
		c.Close()
		return nil, err
	}
	c.profiles = profiles
	if closer, ok := profiles.(interface{ Close() error }); ok {
		c.closers = append(c.closers, closer.Close)
	}

	c.classifier, err = newClassifier(ctx, cfg, rdb, logger)
	if err != nil {
		c.Close()
		return nil, err
	}

	c.generator, err = llm.NewMultiProviderClient(llm.MultiProviderConfig{
		Providers:   cfg.Providers,
		MaxFailures: cfg.MaxFailuresBeforeSwitch,
	}, logger)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize text generation: %w", err)
	}
	c.closers = append(c.closers, c.generator.Close)

	logger.Info("Multi-provider client initialized", zap.Int("provider_count", len(cfg.Providers)))
	return c, nil
}

func openProfiles(cfg *config.Config, rdb redis.Cmdable, logger *zap.Logger) (repository.ProfileRepository, error) {
	switch cfg.Database.Type {
	case "postgres":
		db, err := repository.NewPostgresDB(cfg.Database.URL, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if cfg.Database.AutoMigrate {
			if err := repository.MigrateDB(db, cfg.Database.MigrationsPath, logger); err != nil {
				db.Close()
				return nil, err
			}
		}
		return closingRepository{repository.NewProfileRepository(db, logger), db.Close}, nil
	case "sqlite":
		if dir := filepath.Dir(cfg.Database.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create data directory: %w", err)
			}
		}
		return repository.NewSQLiteProfileRepository(cfg.Database.Path, logger)
	case "redis":
		return repository.NewRedisProfileRepository(rdb, cfg.Redis.ProfileTTL, logger), nil
	default:
		logger.Warn("Using in-memory profile store, profiles are lost on restart")
		return repository.NewMemoryProfileRepository(), nil
	}
}

type closingRepository struct {
	repository.ProfileRepository
	close func() error
}

func (r closingRepository) Close() error { return r.close() }

func newClassifier(ctx context.Context, cfg *config.Config, rdb redis.Cmdable, logger *zap.Logger) (sentiment.Classifier, error) {
	var remote sentiment.Remote

	switch cfg.Classifier.Type {
	case "http":
		client := emotion_client.NewClient(cfg.Classifier.URL, cfg.Classifier.APIKey)
		checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		health, err := client.HealthCheck(checkCtx)
		cancel()
		if err != nil {
			logger.Warn("Emotion service health check failed, rule fallback will cover", zap.Error(err))
		} else {
			logger.Info("Emotion service is healthy",
				zap.String("status", health.Status),
				zap.String("model", health.Model))
		}
		remote = client
	case "openai":
		client, err := sentiment.NewOpenAIRemote(sentiment.OpenAIConfig{
			APIKey:  cfg.Classifier.APIKey,
			Model:   cfg.Classifier.Model,
			BaseURL: cfg.Classifier.URL,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create openai classifier: %w", err)
		}
		remote = client
	default:
		logger.Info("Using rule-based sentiment classifier")
		return sentiment.NewRuleClassifier(), nil
	}

	if cfg.Classifier.Cache && rdb != nil {
		remote = sentiment.NewCached(remote, rdb, cfg.Classifier.CacheTTL, logger)
	}
	return sentiment.NewGuarded(remote, cfg.Classifier.Timeout, logger), nil
}

func newProcessor(cfg *config.Config, c *components, registry *delivery.Registry, logger *zap.Logger) (*turn_processor.Processor, error) {
	rules, err := relationship.NewRules(cfg.Relationship)
	if err != nil {
		return nil, err
	}

	return turn_processor.NewProcessor(turn_processor.Dependencies{
		Classifier: c.classifier,
		Profiles:   c.profiles,
		Generator:  c.generator,
		Registry:   registry,
		Rules:      rules,
		Segmenter:  segmenter.New(cfg.Segmenter),
	}, turn_processor.Options{
		GenerationTimeout: cfg.Generation.Timeout,
		Prompt: turn_processor.PromptOptions{
			CompanionName: cfg.Generation.CompanionName,
			Persona:       cfg.Generation.Persona,
		},
	}, logger)
}

package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"companion-service/internal/models"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const profileKeyPrefix = "profile:"

// RedisProfileRepository keeps each profile as a JSON document. A zero ttl
// keeps profiles forever.
type RedisProfileRepository struct {
	rdb    redis.Cmdable
	ttl    time.Duration
	logger *zap.Logger
}

func NewRedisProfileRepository(rdb redis.Cmdable, ttl time.Duration, logger *zap.Logger) *RedisProfileRepository {
	return &RedisProfileRepository{rdb: rdb, ttl: ttl, logger: logger}
}

func (r *RedisProfileRepository) Get(ctx context.Context, conversationID string) (*models.RelationshipProfile, error) {
	raw, err := r.rdb.Get(ctx, profileKeyPrefix+conversationID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}

	var p models.RelationshipProfile
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("failed to decode profile: %w", err)
	}
	return &p, nil
}

func (r *RedisProfileRepository) Put(ctx context.Context, p *models.RelationshipProfile) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode profile: %w", err)
	}
	if err := r.rdb.Set(ctx, profileKeyPrefix+p.ConversationID, raw, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save profile: %w", err)
	}
	return nil
}

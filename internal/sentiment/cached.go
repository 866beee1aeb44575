package sentiment

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"companion-service/internal/models"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultCacheTTL is how long a remote classification stays cached.
const DefaultCacheTTL = 30 * time.Minute

// Cached memoizes a Remote in redis. Cache failures are logged and the
// remote is called directly.
type Cached struct {
	next   Remote
	rdb    redis.Cmdable
	ttl    time.Duration
	logger *zap.Logger
}

// NewCached wraps next with a redis cache.
func NewCached(next Remote, rdb redis.Cmdable, ttl time.Duration, logger *zap.Logger) *Cached {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cached{next: next, rdb: rdb, ttl: ttl, logger: logger}
}

// Classify implements Remote.
func (c *Cached) Classify(ctx context.Context, text string) (*models.SentimentResult, error) {
	key := cacheKey(text)

	raw, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var res models.SentimentResult
		if err := json.Unmarshal(raw, &res); err == nil {
			return &res, nil
		}
		c.logger.Warn("Dropping corrupt sentiment cache entry", zap.String("key", key))
	case !errors.Is(err, redis.Nil):
		c.logger.Warn("Sentiment cache read failed", zap.Error(err))
	}

	res, err := c.next.Classify(ctx, text)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(res); err == nil {
		if err := c.rdb.Set(ctx, key, data, c.ttl).Err(); err != nil {
			c.logger.Warn("Sentiment cache write failed", zap.Error(err))
		}
	}

	return res, nil
}

func cacheKey(text string) string {
	sum := sha1.Sum([]byte(strings.ToLower(strings.TrimSpace(text))))
	return "sentiment:" + hex.EncodeToString(sum[:])
}

package rsv

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// RedisConfig contains Redis override-mirror configuration
type RedisConfig struct {
	RedisURL       string        `yaml:"redis_url" mapstructure:"redis_url"`
	Key            string        `yaml:"key" mapstructure:"key"`
	MaxConnections int           `yaml:"max_connections" mapstructure:"max_connections"`
	TTL            time.Duration `yaml:"ttl" mapstructure:"ttl"`
}

// RedisFeed reads and writes an override table stored as a Redis hash
type RedisFeed struct {
	client *redis.Client
	key    string
	logger *zap.Logger
}

// NewRedisFeed connects to Redis
func NewRedisFeed(config *RedisConfig, logger *zap.Logger) (*RedisFeed, error) {
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	if config.MaxConnections > 0 {
		opts.PoolSize = config.MaxConnections
	}

	feed := NewRedisFeedFromClient(redis.NewClient(opts), config.Key, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := feed.client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Override mirror initialized",
		zap.String("redis_url", maskRedisURL(config.RedisURL)),
		zap.String("key", feed.key))

	return feed, nil
}

// NewRedisFeedFromClient wraps an existing client
func NewRedisFeedFromClient(client *redis.Client, key string, logger *zap.Logger) *RedisFeed {
	if key == "" {
		key = "exdfilter:overrides"
	}
	return &RedisFeed{client: client, key: key, logger: logger}
}

// Name implements Feed.
func (r *RedisFeed) Name() string { return "redis" }

// Fetch implements Feed.
func (r *RedisFeed) Fetch(ctx context.Context) (map[string]string, error) {
	lookup, err := r.client.HGetAll(ctx, r.key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", r.key, err)
	}
	return lookup, nil
}

// Put replaces the mirrored table.
func (r *RedisFeed) Put(ctx context.Context, lookup map[string]string, ttl time.Duration) error {
	values := make(map[string]interface{}, len(lookup))
	for k, v := range lookup {
		values[k] = v
	}

	pipe := r.client.TxPipeline()
	pipe.Del(ctx, r.key)
	pipe.HSet(ctx, r.key, values)
	if ttl > 0 {
		pipe.Expire(ctx, r.key, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to write %s: %w", r.key, err)
	}

	r.logger.Debug("Override mirror updated",
		zap.String("key", r.key),
		zap.Int("entries", len(lookup)),
		zap.Duration("ttl", ttl))
	return nil
}

// Close closes the Redis connection
func (r *RedisFeed) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// maskRedisURL hides the password in a Redis URL
func maskRedisURL(url string) string {
	at := strings.LastIndex(url, "@")
	if at < 0 {
		return url
	}
	userPart := url[:at]
	colon := strings.LastIndex(userPart, ":")
	if colon < 0 || !strings.Contains(userPart[:colon], "//") {
		return url
	}
	return userPart[:colon+1] + "***" + url[at:]
}

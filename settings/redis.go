package settings

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/warp/shift-engine/core"
)

const (
	// GlobalSettingsKey is the Redis key holding the JSON-encoded settings.
	GlobalSettingsKey = "shift-engine:settings:global"

	DefaultCacheTTL = 10 * time.Minute
)

// RedisCacheConfig configures a RedisCache.
type RedisCacheConfig struct {
	Client redis.Cmdable
	Next   Provider
	TTL    time.Duration
	Logger zerolog.Logger
}

// RedisCache is a read-through cache in front of another Provider.
// Redis failures degrade to the wrapped provider; they are logged and
// never returned.
type RedisCache struct {
	cfg RedisCacheConfig
}

func NewRedisCache(cfg RedisCacheConfig) *RedisCache {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultCacheTTL
	}
	return &RedisCache{cfg: cfg}
}

func (c *RedisCache) Settings(ctx context.Context) (core.GlobalSettings, error) {
	raw, err := c.cfg.Client.Get(ctx, GlobalSettingsKey).Bytes()
	switch {
	case err == nil:
		var gs core.GlobalSettings
		jsonErr := json.Unmarshal(raw, &gs)
		if jsonErr == nil {
			return gs, nil
		}
		c.cfg.Logger.Warn().Err(jsonErr).Msg("discarding undecodable cached settings")
	case errors.Is(err, redis.Nil):
	default:
		c.cfg.Logger.Warn().Err(err).Msg("settings cache unavailable, reading through")
		return c.cfg.Next.Settings(ctx)
	}

	gs, err := c.cfg.Next.Settings(ctx)
	if err != nil {
		return core.GlobalSettings{}, err
	}
	c.store(ctx, gs)
	return gs, nil
}

// Update writes through to the wrapped provider and drops the cached copy.
func (c *RedisCache) Update(ctx context.Context, s core.GlobalSettings) error {
	if err := c.cfg.Next.Update(ctx, s); err != nil {
		return err
	}
	c.Invalidate(ctx)
	return nil
}

func (c *RedisCache) Invalidate(ctx context.Context) {
	if err := c.cfg.Client.Del(ctx, GlobalSettingsKey).Err(); err != nil {
		c.cfg.Logger.Warn().Err(err).Msg("failed to invalidate cached settings")
	}
}

func (c *RedisCache) store(ctx context.Context, gs core.GlobalSettings) {
	raw, err := json.Marshal(gs)
	if err != nil {
		return
	}
	if err := c.cfg.Client.Set(ctx, GlobalSettingsKey, raw, c.cfg.TTL).Err(); err != nil {
		c.cfg.Logger.Warn().Err(err).Msg("failed to cache settings")
	}
}

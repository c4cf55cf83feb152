package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"documerge/internal/models"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// FieldCache keeps the field list of a table for a short while so the
// wizard does not sample Airtable on every keystroke.
type FieldCache interface {
	Get(ctx context.Context, key string) ([]models.ExternalField, bool)
	Set(ctx context.Context, key string, fields []models.ExternalField)
}

type noopFieldCache struct{}

func (noopFieldCache) Get(context.Context, string) ([]models.ExternalField, bool) { return nil, false }
func (noopFieldCache) Set(context.Context, string, []models.ExternalField)        {}

// NoopFieldCache never stores anything.
func NoopFieldCache() FieldCache { return noopFieldCache{} }

type RedisFieldCache struct {
	rdb    *goredis.Client
	ttl    time.Duration
	prefix string
	log    *zap.Logger
}

// NewRedisFieldCache connects and pings before returning.
func NewRedisFieldCache(addr, password string, db int, ttl time.Duration, log *zap.Logger) (*RedisFieldCache, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		Password:    password,
		DB:          db,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return NewRedisFieldCacheWithClient(rdb, ttl, log), nil
}

func NewRedisFieldCacheWithClient(rdb *goredis.Client, ttl time.Duration, log *zap.Logger) *RedisFieldCache {
	return &RedisFieldCache{
		rdb:    rdb,
		ttl:    ttl,
		prefix: "documerge:fields:",
		log:    log.With(zap.String("service", "RedisFieldCache")),
	}
}

// Cache failures are logged and treated as misses.
func (c *RedisFieldCache) Get(ctx context.Context, key string) ([]models.ExternalField, bool) {
	raw, err := c.rdb.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, goredis.Nil) {
			c.log.Warn("field cache read failed", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}
	var fields []models.ExternalField
	if err := json.Unmarshal(raw, &fields); err != nil {
		c.log.Warn("field cache entry corrupt", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	return fields, true
}

func (c *RedisFieldCache) Set(ctx context.Context, key string, fields []models.ExternalField) {
	raw, err := json.Marshal(fields)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, c.prefix+key, raw, c.ttl).Err(); err != nil {
		c.log.Warn("field cache write failed", zap.String("key", key), zap.Error(err))
	}
}

func (c *RedisFieldCache) Close() error {
	return c.rdb.Close()
}

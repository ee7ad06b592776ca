package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"braveforms/internal/types"
)

const keyPrefix = "braveforms:reading:"

// RedisClient is the subset of *redis.Client used by RedisReadingCache.
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

// RedisReadingCache shares the latest reading across API and monitor
// instances. Entries expire after ttl, which should be at least the degraded
// path's recency bound.
type RedisReadingCache struct {
	client RedisClient
	ttl    time.Duration
}

// NewRedisReadingCache wraps a Redis client.
func NewRedisReadingCache(client RedisClient, ttl time.Duration) *RedisReadingCache {
	return &RedisReadingCache{client: client, ttl: ttl}
}

// NewRedisClient parses url (redis://host:6379/0) and verifies connectivity.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

func readingKey(projectID string) string {
	return keyPrefix + projectID
}

// Put stores the reading unless a newer one is already cached. The
// read-compare-write is not atomic; a lost race keeps a reading that is at
// most one check old.
func (c *RedisReadingCache) Put(ctx context.Context, reading types.PrecipitationReading) error {
	existing, err := c.get(ctx, reading.ProjectID)
	if err != nil {
		return err
	}
	if existing != nil && reading.ObservedAt.Before(existing.ObservedAt) {
		return nil
	}

	payload, err := json.Marshal(reading)
	if err != nil {
		return fmt.Errorf("marshal reading: %w", err)
	}
	if err := c.client.Set(ctx, readingKey(reading.ProjectID), payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set reading: %w", err)
	}
	return nil
}

// Latest returns the project's reading if it was observed at or after since.
func (c *RedisReadingCache) Latest(ctx context.Context, projectID string, since time.Time) (*types.PrecipitationReading, error) {
	reading, err := c.get(ctx, projectID)
	if err != nil || reading == nil {
		return nil, err
	}
	if reading.ObservedAt.Before(since) {
		return nil, nil
	}
	return reading, nil
}

func (c *RedisReadingCache) get(ctx context.Context, projectID string) (*types.PrecipitationReading, error) {
	raw, err := c.client.Get(ctx, readingKey(projectID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis get reading: %w", err)
	}

	var reading types.PrecipitationReading
	if err := json.Unmarshal(raw, &reading); err != nil {
		return nil, fmt.Errorf("unmarshal cached reading: %w", err)
	}
	return &reading, nil
}

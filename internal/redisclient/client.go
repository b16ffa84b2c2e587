package redisclient

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"perfume-store/internal/models"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

//go:embed scripts/release_key.lua
var releaseKeyScript string

type Client struct {
	rdb           *redis.Client
	releaseScript *redis.Script
}

// NewClient creates a new Redis client and checks the connection
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return NewFromRedis(rdb), nil
}

// NewFromRedis wraps an existing go-redis client
func NewFromRedis(rdb *redis.Client) *Client {
	return &Client{
		rdb:           rdb,
		releaseScript: redis.NewScript(releaseKeyScript),
	}
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping checks the Redis connection
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func perfumeKey(id uuid.UUID) string {
	return fmt.Sprintf("perfume:%s", id)
}

// GetPerfume returns a cached perfume. ok is false on a cache miss.
func (c *Client) GetPerfume(ctx context.Context, id uuid.UUID) (*models.Perfume, bool, error) {
	raw, err := c.rdb.Get(ctx, perfumeKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var p models.Perfume
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, false, fmt.Errorf("failed to decode cached perfume: %w", err)
	}
	return &p, true, nil
}

// SetPerfume caches a perfume for ttl
func (c *Client) SetPerfume(ctx context.Context, p *models.Perfume, ttl time.Duration) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode perfume: %w", err)
	}
	return c.rdb.Set(ctx, perfumeKey(p.ID), raw, ttl).Err()
}

// InvalidatePerfumes drops cached perfumes
func (c *Client) InvalidatePerfumes(ctx context.Context, ids ...uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = perfumeKey(id)
	}
	return c.rdb.Del(ctx, keys...).Err()
}

func idempotencyKey(key string) string {
	return fmt.Sprintf("idempotency:%s", key)
}

// ClaimIdempotencyKey marks key as in flight for ttl. It returns the
// token needed to release the claim, and false when another request
// already holds the key.
func (c *Client) ClaimIdempotencyKey(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	token := uuid.New().String()
	ok, err := c.rdb.SetNX(ctx, idempotencyKey(key), token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	return token, ok, nil
}

// ReleaseIdempotencyKey drops a claim if it is still held with token
func (c *Client) ReleaseIdempotencyKey(ctx context.Context, key, token string) error {
	_, err := c.releaseScript.Run(ctx, c.rdb, []string{idempotencyKey(key)}, token).Result()
	if err != nil {
		return fmt.Errorf("release idempotency key script failed: %w", err)
	}
	return nil
}

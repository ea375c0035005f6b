package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dgellow/melody/internal/crypto"
	"github.com/redis/go-redis/v9"
)

var _ Coordinator = (*RedisCoordinator)(nil)

const (
	lockPrefix   = "melody:refresh:lock:"
	resultPrefix = "melody:refresh:result:"
)

// RedisCoordinator coordinates refreshes across instances sharing a Redis.
// Locks are SETNX with TTL and carry an owner id so that one instance never
// releases another's lock.
type RedisCoordinator struct {
	client  *redis.Client
	ownerID string
}

// NewRedisCoordinator wraps an existing client
func NewRedisCoordinator(client *redis.Client) *RedisCoordinator {
	return &RedisCoordinator{
		client:  client,
		ownerID: generateOwnerID(),
	}
}

// generateOwnerID returns hostname:pid:random
func generateOwnerID() string {
	hostname, _ := os.Hostname()
	token, err := crypto.GenerateSecureToken()
	if err != nil {
		token = time.Now().Format(time.RFC3339Nano)
	}
	return fmt.Sprintf("%s:%d:%s", hostname, os.Getpid(), token)
}

func (c *RedisCoordinator) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := c.client.SetNX(ctx, lockPrefix+key, c.ownerID, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	return ok, nil
}

var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

func (c *RedisCoordinator) Release(ctx context.Context, key string) error {
	_, err := releaseScript.Run(ctx, c.client, []string{lockPrefix + key}, c.ownerID).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release lock %s: %w", key, err)
	}
	return nil
}

func (c *RedisCoordinator) Result(ctx context.Context, key string) (*RefreshResult, error) {
	data, err := c.client.Get(ctx, resultPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrResultNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get refresh result: %w", err)
	}

	var result RefreshResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("decode refresh result: %w", err)
	}
	return &result, nil
}

func (c *RedisCoordinator) PutResult(ctx context.Context, key string, result *RefreshResult, ttl time.Duration) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode refresh result: %w", err)
	}
	if err := c.client.Set(ctx, resultPrefix+key, data, ttl).Err(); err != nil {
		return fmt.Errorf("store refresh result: %w", err)
	}
	return nil
}

func (c *RedisCoordinator) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCoordinator) Close() error {
	return c.client.Close()
}

// OwnerID identifies this instance's locks
func (c *RedisCoordinator) OwnerID() string {
	return c.ownerID
}

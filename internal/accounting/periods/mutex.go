package periods

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Mutex serialises period closes across instances.
type Mutex interface {
	Lock(ctx context.Context, key string) (func(context.Context) error, error)
}

var unlockScript = redis.NewScript(`if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// RedisMutex is a SET NX PX lock with token checked release.
type RedisMutex struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisMutex constructs a RedisMutex. The ttl bounds how long a crashed holder blocks others.
func NewRedisMutex(client *redis.Client, ttl time.Duration) *RedisMutex {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisMutex{client: client, ttl: ttl}
}

// Lock acquires key or fails immediately with ErrMutexHeld.
func (m *RedisMutex) Lock(ctx context.Context, key string) (func(context.Context) error, error) {
	token := uuid.NewString()
	ok, err := m.client.SetNX(ctx, key, token, m.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("periods: acquire %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMutexHeld, key)
	}
	return func(ctx context.Context) error {
		return unlockScript.Run(ctx, m.client, []string{key}, token).Err()
	}, nil
}

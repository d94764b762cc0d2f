package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// unlockScript deletes the key only if it still holds our token.
const unlockScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
else
    return 0
end
`

// Redis is a Locker shared by every process talking to the same Redis.
type Redis struct {
	client *redis.Client
	prefix string
	unlock *redis.Script
	log    *logrus.Entry
}

// NewRedis builds a Redis-backed locker. Keys are stored as prefix+key.
func NewRedis(client *redis.Client, prefix string, log *logrus.Entry) *Redis {
	return &Redis{
		client: client,
		prefix: prefix,
		unlock: redis.NewScript(unlockScript),
		log:    log,
	}
}

func (r *Redis) TryLock(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	fullKey := r.prefix + key
	token := uuid.New().String()

	ok, err := r.client.SetNX(ctx, fullKey, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis SetNX error for key %s: %w", fullKey, err)
	}
	if !ok {
		return nil, ErrHeld
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			releaseCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()

			deleted, err := r.unlock.Run(releaseCtx, r.client, []string{fullKey}, token).Int64()
			if err != nil && !errors.Is(err, redis.Nil) {
				r.log.WithError(err).WithField("key", fullKey).Warn("lock release failed")
				return
			}
			if deleted == 0 {
				r.log.WithField("key", fullKey).Warn("lock expired before release")
			}
		})
	}, nil
}

func (r *Redis) IsLocked(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, r.prefix+key).Result()
	if err != nil {
		return false, fmt.Errorf("redis Exists error for key %s: %w", r.prefix+key, err)
	}
	return n == 1, nil
}

package cache

import (
	"context"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// ChatEntry represents a chat message kept for a room
type ChatEntry struct {
	RoomID    string    `json:"roomId"`
	UserID    string    `json:"userId"`
	Username  string    `json:"username"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}

// RedisClient wraps the Redis client for room chat history and locks
type RedisClient struct {
	client *redis.Client
	log    *logrus.Entry
}

// NewRedisClient creates a new Redis client
func NewRedisClient(addr, password string, db int, log *logrus.Entry) (*RedisClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	log.Infof("[Redis] Connected to %s", addr)
	return &RedisClient{client: client, log: log}, nil
}

// Raw exposes the underlying client for lock and presence helpers
func (r *RedisClient) Raw() *redis.Client {
	return r.client
}

func chatKey(roomID string) string {
	return "room:" + roomID + ":chat"
}

// AddChat appends a chat entry to the room's list, trimming it to limit
func (r *RedisClient) AddChat(ctx context.Context, e *ChatEntry, limit int64, ttl time.Duration) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}

	key := chatKey(e.RoomID)
	pipe := r.client.TxPipeline()
	pipe.RPush(ctx, key, data)
	if limit > 0 {
		pipe.LTrim(ctx, key, -limit, -1)
	}
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		r.log.WithError(err).WithField("roomId", e.RoomID).Warn("[Redis] Failed to add chat entry")
		return err
	}
	return nil
}

// RecentChat retrieves the last count chat entries for a room
func (r *RedisClient) RecentChat(ctx context.Context, roomID string, count int64) ([]ChatEntry, error) {
	results, err := r.client.LRange(ctx, chatKey(roomID), -count, -1).Result()
	if err != nil {
		return nil, err
	}

	entries := make([]ChatEntry, 0, len(results))
	for _, data := range results {
		var e ChatEntry
		if err := json.Unmarshal([]byte(data), &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Close closes the Redis connection
func (r *RedisClient) Close() error {
	return r.client.Close()
}

// Health checks if Redis is healthy
func (r *RedisClient) Health(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

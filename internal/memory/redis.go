package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// Conn opens and pings a redis client.
func Conn(ctx context.Context, host, port, pass string, db int, timeout time.Duration) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        fmt.Sprintf("%s:%s", host, port),
		DialTimeout: timeout,
		Password:    pass,
		DB:          db,
	})
	log.Println("redis options -> " + client.String())

	pong, err := client.Ping(ctx).Result()
	if err != nil {
		return nil, err
	}
	if pong != "PONG" {
		return nil, fmt.Errorf("expected PONG, got %s", pong)
	}

	return client, nil
}

// RedisStore keeps context records in redis, one key per user.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration // 0 keeps records forever
}

// NewRedisStore wraps client as a ContextStore.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func contextKey(userID string) string {
	return fmt.Sprintf("briefgen:context:%s", userID)
}

func (s *RedisStore) Get(ctx context.Context, userID string) (*ContextRecord, error) {
	val, err := s.client.Get(ctx, contextKey(userID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec ContextRecord
	if err := json.Unmarshal([]byte(val), &rec); err != nil {
		return nil, fmt.Errorf("decode context for %s: %w", userID, err)
	}
	return &rec, nil
}

func (s *RedisStore) Put(ctx context.Context, userID string, rec *ContextRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, contextKey(userID), data, s.ttl).Err()
}

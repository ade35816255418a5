package tickstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"gascap/internal/models"
)

// RedisSlot persists the tick sequence under a single redis key. Used when
// the terminal backend runs replicated and the history must survive a
// failover, not just a restart.
type RedisSlot struct {
	client *redis.Client
	key    string
}

func NewRedisSlot(client *redis.Client, key string) (*RedisSlot, error) {
	if key == "" {
		return nil, fmt.Errorf("redis slot key is required")
	}
	return &RedisSlot{client: client, key: key}, nil
}

func (s *RedisSlot) Load(ctx context.Context) ([]models.Tick, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("read slot key: %w", err)
	}

	var ticks []models.Tick
	if err := json.Unmarshal(data, &ticks); err != nil {
		return nil, fmt.Errorf("decode slot key: %w", err)
	}
	return ticks, nil
}

func (s *RedisSlot) Save(ctx context.Context, ticks []models.Tick) error {
	data, err := json.Marshal(ticks)
	if err != nil {
		return fmt.Errorf("encode ticks: %w", err)
	}
	if err := s.client.Set(ctx, s.key, data, 0).Err(); err != nil {
		return fmt.Errorf("write slot key: %w", err)
	}
	return nil
}

func (s *RedisSlot) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("delete slot key: %w", err)
	}
	return nil
}

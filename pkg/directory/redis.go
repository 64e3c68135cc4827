package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/igorsilveira/deckhand/pkg/a2a"
	"github.com/redis/go-redis/v9"
)

// RedisStore keeps registrations in a single Redis hash, so several
// directory processes can share one view.
type RedisStore struct {
	client *redis.Client
	key    string
}

func NewRedisStore(client *redis.Client, key string) *RedisStore {
	if key == "" {
		key = "deckhand:cards"
	}
	return &RedisStore{client: client, key: key}
}

func DialRedisStore(ctx context.Context, addr, key string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("directory: connecting to redis %s: %w", addr, err)
	}
	return NewRedisStore(client, key), nil
}

func (s *RedisStore) Save(ctx context.Context, capability string, card *a2a.AgentCard) error {
	b, err := json.Marshal(card)
	if err != nil {
		return fmt.Errorf("encoding card: %w", err)
	}
	return s.client.HSet(ctx, s.key, capability, b).Err()
}

func (s *RedisStore) Get(ctx context.Context, capability string) (*a2a.AgentCard, error) {
	raw, err := s.client.HGet(ctx, s.key, capability).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeCard(raw)
}

func (s *RedisStore) List(ctx context.Context) ([]Registration, error) {
	all, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Registration, 0, len(all))
	for c, raw := range all {
		card, err := decodeCard(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, Registration{Capability: c, Card: card})
	}
	sortRegistrations(out)
	return out, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

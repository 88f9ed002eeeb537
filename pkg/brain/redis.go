// Copyright 2024-2026 Aiku AI

package brain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// DefaultRedisKey is the hash holding one JSON document per user id.
const DefaultRedisKey = "slack-adapter:brain:users"

const maxUpsertAttempts = 5

// RedisStore keeps users in a Redis hash so they survive restarts and can be
// shared between adapter instances.
type RedisStore struct {
	client *redis.Client
	key    string
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore wraps an existing client. An empty key uses DefaultRedisKey.
func NewRedisStore(client *redis.Client, key string) *RedisStore {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisStore{client: client, key: key}
}

// OpenRedisStore connects to the given redis:// URL and pings it.
func OpenRedisStore(ctx context.Context, url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedisStore(client, ""), nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

func (r *RedisStore) Get(ctx context.Context, id string) (*User, error) {
	data, err := r.client.HGet(ctx, r.key, id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("get user %s: %w", id, err)
	}
	return decodeUser(data)
}

// Upsert merges inside a WATCH transaction so concurrent writers of the same
// user do not lose each other's extra fields.
func (r *RedisStore) Upsert(ctx context.Context, update *User) (*User, error) {
	if update == nil || update.ID == "" {
		return nil, ErrMissingID
	}
	var merged *User
	txf := func(tx *redis.Tx) error {
		var existing *User
		data, err := tx.HGet(ctx, r.key, update.ID).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			if existing, err = decodeUser(data); err != nil {
				return err
			}
		}
		merged = merge(existing, update)
		encoded, err := json.Marshal(merged)
		if err != nil {
			return fmt.Errorf("encode user: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, r.key, update.ID, encoded)
			return nil
		})
		return err
	}
	for attempt := 0; attempt < maxUpsertAttempts; attempt++ {
		err := r.client.Watch(ctx, txf, r.key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		} else if err != nil {
			return nil, fmt.Errorf("upsert user %s: %w", update.ID, err)
		}
		return merged, nil
	}
	return nil, fmt.Errorf("upsert user %s: %w", update.ID, redis.TxFailedErr)
}

func (r *RedisStore) All(ctx context.Context) ([]*User, error) {
	raw, err := r.client.HGetAll(ctx, r.key).Result()
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	out := make([]*User, 0, len(raw))
	for _, data := range raw {
		u, err := decodeUser([]byte(data))
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	sortUsers(out)
	return out, nil
}

func decodeUser(data []byte) (*User, error) {
	var u User
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, fmt.Errorf("decode user: %w", err)
	}
	return &u, nil
}

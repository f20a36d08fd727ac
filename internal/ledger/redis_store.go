package ledger

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "demoreel:ledger:"

// RedisStore keeps one JSON document per signature. Records never expire.
type RedisStore struct {
	rdb *redis.Client
}

func NewRedisStore(ctx context.Context, addr string) (*RedisStore, error) {
	if addr == "" {
		return nil, errors.New("redis address is empty")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return &RedisStore{rdb: rdb}, nil
}

func (r *RedisStore) Close() error {
	return r.rdb.Close()
}

func (r *RedisStore) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

func (r *RedisStore) Get(ctx context.Context, signature string) (*Record, error) {
	raw, err := r.rdb.Get(ctx, redisKeyPrefix+signature).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *RedisStore) Save(ctx context.Context, record Record) error {
	if record.Signature == "" {
		return errors.New("record signature is required")
	}
	blob, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return r.rdb.Set(ctx, redisKeyPrefix+record.Signature, blob, 0).Err()
}

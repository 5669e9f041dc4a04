package durable

import (
	"context"
	"errors"

	json "github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

const (
	redisUnaryPrefix  = "capra:unary:"
	redisEventsPrefix = "capra:events:"
	redisSealPrefix   = "capra:seal:"
)

// RedisJournal persists invocation records in redis, for deployments where
// replay must survive process restarts across hosts. Stream events live in
// a list per key; sealing is a marker key.
type RedisJournal struct {
	client *redis.Client
}

func NewRedisJournal(client *redis.Client) *RedisJournal {
	return &RedisJournal{client: client}
}

func (j *RedisJournal) LookupUnary(ctx context.Context, key Key) (*Outcome, bool, error) {
	raw, err := j.client.Get(ctx, redisUnaryPrefix+key.String()).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var out Outcome
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, false, err
	}
	return &out, true, nil
}

func (j *RedisJournal) StoreUnary(ctx context.Context, key Key, out Outcome) error {
	encoded, err := json.Marshal(out)
	if err != nil {
		return err
	}
	return j.client.SetNX(ctx, redisUnaryPrefix+key.String(), encoded, 0).Err()
}

func (j *RedisJournal) AppendEvent(ctx context.Context, key Key, payload []byte) error {
	return j.client.RPush(ctx, redisEventsPrefix+key.String(), payload).Err()
}

func (j *RedisJournal) Seal(ctx context.Context, key Key) error {
	return j.client.Set(ctx, redisSealPrefix+key.String(), "1", 0).Err()
}

func (j *RedisJournal) LoadStream(ctx context.Context, key Key) ([][]byte, bool, bool, error) {
	raw, err := j.client.LRange(ctx, redisEventsPrefix+key.String(), 0, -1).Result()
	if err != nil {
		return nil, false, false, err
	}
	if len(raw) == 0 {
		return nil, false, false, nil
	}
	events := make([][]byte, len(raw))
	for i, s := range raw {
		events[i] = []byte(s)
	}
	sealed, err := j.client.Exists(ctx, redisSealPrefix+key.String()).Result()
	if err != nil {
		return nil, false, false, err
	}
	return events, sealed > 0, true, nil
}

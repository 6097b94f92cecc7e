package sessionrecord

import (
	"context"
	"errors"
	"fmt"
	"time"

	"vtopassist-backend/internal/components/assert"
	"vtopassist-backend/internal/components/telemetry"

	"github.com/redis/go-redis/v9"
)

const (
	report_redis_load = "redis.load"

	DefaultRedisKey = "vtopassist:session_record"
)

// RedisStore keeps the record under a single key.
type RedisStore struct {
	client *redis.Client
	key    string
	// ttl of zero keeps the record until it is deleted
	ttl time.Duration
	tel telemetry.API
}

func NewRedisStore(client *redis.Client, key string, ttl time.Duration, tel telemetry.API) *RedisStore {
	assert.NotNil(client, "redis client")
	assert.NotNil(tel, "telemetry")
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisStore{
		client: client,
		key:    key,
		ttl:    ttl,
		tel:    telemetry.NewScopedAPI("sessionrecord", tel),
	}
}

func (s *RedisStore) Save(ctx context.Context, record Record) error {
	data, err := Encode(record)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("save record: %w", err)
	}
	return nil
}

func (s *RedisStore) Load(ctx context.Context) (Record, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Record{}, ErrNoRecord
	}
	if err != nil {
		return Record{}, fmt.Errorf("load record: %w", err)
	}

	record, err := Decode(data)
	if err != nil {
		s.tel.ReportWarning(report_redis_load, err, s.key)
		if delErr := s.Delete(ctx); delErr != nil {
			return Record{}, delErr
		}
		return Record{}, ErrNoRecord
	}
	return record, nil
}

func (s *RedisStore) Delete(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	return nil
}

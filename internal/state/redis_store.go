package state

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/redis/go-redis/v9"

	errs "github.com/Proton-105/himera-fsm/internal/errors"
)

const (
	redisStateField       = "state"
	redisDataField        = "data"
	redisScanBatchCount   = 100
	redisMaxModifyRetries = 10
	defaultRedisPrefix    = "fsm"
)

// RedisStore keeps each session in a hash "<prefix>:<key>" with the fields
// state and data. HSET and HDEL touch a single field, which gives the same
// column isolation as the SQL upserts. Redis drops a hash once its last field
// is removed, so a cleared session leaves nothing behind.
type RedisStore struct {
	client *redis.Client
	prefix string
	log    *slog.Logger
	closed atomic.Bool
}

var _ RecordStore = (*RedisStore)(nil)

// NewRedisStore initializes a Redis-backed RecordStore.
func NewRedisStore(client *redis.Client, prefix string, log *slog.Logger) *RedisStore {
	if log == nil {
		log = slog.Default()
	}
	if prefix == "" {
		prefix = defaultRedisPrefix
	}

	return &RedisStore{
		client: client,
		prefix: prefix,
		log:    log,
	}
}

// UpsertState implements RecordStore.
func (s *RedisStore) UpsertState(ctx context.Context, key string, state *string) error {
	if s.closed.Load() {
		return errs.NewClosedError("upsert_state")
	}

	var err error
	if state == nil {
		err = s.client.HDel(ctx, s.hashKey(key), redisStateField).Err()
	} else {
		err = s.client.HSet(ctx, s.hashKey(key), redisStateField, *state).Err()
	}
	if err != nil {
		s.log.Warn("failed to save state in redis", slog.String("key", key), slog.Any("error", err))
		return errs.NewWriteError(key, false, err)
	}

	return nil
}

// UpsertPayload implements RecordStore.
func (s *RedisStore) UpsertPayload(ctx context.Context, key string, payload []byte) error {
	if s.closed.Load() {
		return errs.NewClosedError("upsert_payload")
	}

	var err error
	if payload == nil {
		err = s.client.HDel(ctx, s.hashKey(key), redisDataField).Err()
	} else {
		err = s.client.HSet(ctx, s.hashKey(key), redisDataField, payload).Err()
	}
	if err != nil {
		s.log.Warn("failed to save data in redis", slog.String("key", key), slog.Any("error", err))
		return errs.NewWriteError(key, false, err)
	}

	return nil
}

// Read implements RecordStore.
func (s *RedisStore) Read(ctx context.Context, key string) (Record, error) {
	if s.closed.Load() {
		return Record{}, errs.NewClosedError("read")
	}

	return s.read(ctx, s.client, key)
}

// Modify runs fn under WATCH so the payload is replaced only if the hash did
// not change in between; conflicting writers make it start over.
func (s *RedisStore) Modify(ctx context.Context, key string, fn ModifyFunc) error {
	if s.closed.Load() {
		return errs.NewClosedError("modify")
	}

	hashKey := s.hashKey(key)
	txf := func(tx *redis.Tx) error {
		current, err := s.read(ctx, tx, key)
		if err != nil {
			return err
		}

		payload, err := fn(current)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if payload == nil {
				pipe.HDel(ctx, hashKey, redisDataField)
			} else {
				pipe.HSet(ctx, hashKey, redisDataField, payload)
			}
			return nil
		})
		return err
	}

	for attempt := 0; attempt < redisMaxModifyRetries; attempt++ {
		err := s.client.Watch(ctx, txf, hashKey)
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}

		var appErr *errs.AppError
		if errors.As(err, &appErr) {
			return err
		}

		s.log.Warn("failed to modify data in redis", slog.String("key", key), slog.Any("error", err))
		return errs.NewWriteError(key, false, err)
	}

	return errs.NewWriteError(key, true, fmt.Errorf("too many concurrent modifications: %w", redis.TxFailedErr))
}

// Scan implements RecordStore.
func (s *RedisStore) Scan(ctx context.Context, fn func(Record) error) error {
	if s.closed.Load() {
		return errs.NewClosedError("scan")
	}

	var cursor uint64
	pattern := s.prefix + keySeparator + "*"
	for {
		keys, nextCursor, err := s.client.Scan(ctx, cursor, pattern, redisScanBatchCount).Result()
		if err != nil {
			s.log.Warn("failed to scan fsm records", slog.Any("error", err))
			return errs.NewReadError("*", err)
		}

		for _, hashKey := range keys {
			rec, err := s.read(ctx, s.client, strings.TrimPrefix(hashKey, s.prefix+keySeparator))
			if err != nil {
				return err
			}
			if rec.Empty() {
				continue
			}
			if err := fn(rec); err != nil {
				return err
			}
		}

		cursor = nextCursor
		if cursor == 0 || ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// Prune is a no-op: Redis removes a hash together with its last field.
func (s *RedisStore) Prune(ctx context.Context) (int64, error) {
	if s.closed.Load() {
		return 0, errs.NewClosedError("prune")
	}

	return 0, nil
}

// HealthCheck issues a PING command against Redis.
func (s *RedisStore) HealthCheck(ctx context.Context) error {
	if s.closed.Load() {
		return errs.ErrStoreClosed
	}

	return s.client.Ping(ctx).Err()
}

// Close shuts down the Redis client. Closing twice is a no-op.
func (s *RedisStore) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	if err := s.client.Close(); err != nil {
		return fmt.Errorf("close redis client: %w", err)
	}

	return nil
}

type hashReader interface {
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
}

func (s *RedisStore) read(ctx context.Context, c hashReader, key string) (Record, error) {
	fields, err := c.HGetAll(ctx, s.hashKey(key)).Result()
	if err != nil {
		s.log.Warn("failed to get fsm record from redis", slog.String("key", key), slog.Any("error", err))
		return Record{}, errs.NewReadError(key, err)
	}

	rec := Record{Key: key}
	if state, ok := fields[redisStateField]; ok {
		rec.State = Of(state)
	}
	if data, ok := fields[redisDataField]; ok {
		rec.Payload = []byte(data)
	}

	return rec, nil
}

func (s *RedisStore) hashKey(key string) string {
	return s.prefix + keySeparator + key
}

package state

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	bolt "go.etcd.io/bbolt"

	errs "github.com/Proton-105/himera-fsm/internal/errors"
)

const boltFileMode = 0o600

var boltBucket = []byte("fsm_data")

// boltRow is the value stored per key. Both columns live in one value, so
// every upsert rewrites it inside a single read-write transaction.
type boltRow struct {
	State *string `msgpack:"s"`
	Data  []byte  `msgpack:"d"`
}

// BoltStore is a RecordStore over an embedded bbolt file. Rows that become
// empty are deleted on write, so Prune has nothing to do.
type BoltStore struct {
	db     *bolt.DB
	log    *slog.Logger
	closed atomic.Bool
}

var _ RecordStore = (*BoltStore)(nil)

// OpenBolt opens (creating if needed) the bbolt file at path. A file held by
// another process fails with an OpenError once lockTimeout elapses.
func OpenBolt(path string, lockTimeout time.Duration, log *slog.Logger) (*BoltStore, error) {
	if log == nil {
		log = slog.Default()
	}
	if path == "" {
		path = DefaultSQLitePath
	}
	if lockTimeout <= 0 {
		lockTimeout = defaultBusyTimeout
	}
	log = log.With(slog.String("dialect", "bolt"), slog.String("path", path))

	if err := ensureDir(path); err != nil {
		return nil, errs.NewOpenError(path, err)
	}

	db, err := bolt.Open(path, boltFileMode, &bolt.Options{Timeout: lockTimeout})
	if err != nil {
		log.Warn("fsm storage opening error", slog.Any("error", err))
		return nil, errs.NewOpenError(path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(boltBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		log.Warn("fsm storage schema error", slog.Any("error", err))
		return nil, errs.NewOpenError(path, err)
	}

	log.Debug("fsm storage has been opened")

	return &BoltStore{db: db, log: log}, nil
}

// UpsertState implements RecordStore.
func (s *BoltStore) UpsertState(ctx context.Context, key string, state *string) error {
	return s.update(ctx, "upsert_state", key, func(row *boltRow) error {
		row.State = state
		return nil
	})
}

// UpsertPayload implements RecordStore.
func (s *BoltStore) UpsertPayload(ctx context.Context, key string, payload []byte) error {
	return s.update(ctx, "upsert_payload", key, func(row *boltRow) error {
		row.Data = payload
		return nil
	})
}

// Read implements RecordStore.
func (s *BoltStore) Read(ctx context.Context, key string) (Record, error) {
	if s.closed.Load() {
		return Record{}, errs.NewClosedError("read")
	}
	if err := ctx.Err(); err != nil {
		return Record{}, errs.NewReadError(key, err)
	}

	var rec Record
	err := s.db.View(func(tx *bolt.Tx) error {
		row, err := getRow(tx.Bucket(boltBucket), key)
		if err != nil {
			return err
		}
		rec = row.record(key)
		return nil
	})
	if err != nil {
		return Record{}, errs.NewReadError(key, err)
	}

	return rec, nil
}

// Modify implements RecordStore. bbolt allows one writer at a time, so the
// read-write transaction alone makes the step atomic.
func (s *BoltStore) Modify(ctx context.Context, key string, fn ModifyFunc) error {
	return s.update(ctx, "modify", key, func(row *boltRow) error {
		payload, err := fn(row.record(key))
		if err != nil {
			return err
		}
		row.Data = payload
		return nil
	})
}

// Scan implements RecordStore. Keys are visited in order, in batches read
// from short transactions, so fn may write to the store.
func (s *BoltStore) Scan(ctx context.Context, fn func(Record) error) error {
	if s.closed.Load() {
		return errs.NewClosedError("scan")
	}

	var after []byte
	for {
		batch := make([]Record, 0, scanBatchSize)
		err := s.db.View(func(tx *bolt.Tx) error {
			c := tx.Bucket(boltBucket).Cursor()

			k, v := c.First()
			if after != nil {
				k, v = c.Seek(after)
				if k != nil && bytes.Equal(k, after) {
					k, v = c.Next()
				}
			}

			for ; k != nil && len(batch) < scanBatchSize; k, v = c.Next() {
				row, err := decodeRow(v)
				if err != nil {
					return fmt.Errorf("decode row %q: %w", k, err)
				}
				batch = append(batch, row.record(string(k)))
			}
			return nil
		})
		if err != nil {
			return errs.NewReadError("*", err)
		}

		for _, rec := range batch {
			if err := fn(rec); err != nil {
				return err
			}
		}

		if len(batch) < scanBatchSize || ctx.Err() != nil {
			return ctx.Err()
		}
		after = []byte(batch[len(batch)-1].Key)
	}
}

// Prune is a no-op: empty rows are deleted as soon as they become empty.
func (s *BoltStore) Prune(ctx context.Context) (int64, error) {
	if s.closed.Load() {
		return 0, errs.NewClosedError("prune")
	}

	return 0, nil
}

// HealthCheck opens a read transaction.
func (s *BoltStore) HealthCheck(ctx context.Context) error {
	if s.closed.Load() {
		return errs.ErrStoreClosed
	}

	return s.db.View(func(tx *bolt.Tx) error {
		if tx.Bucket(boltBucket) == nil {
			return errors.New("fsm_data bucket is missing")
		}
		return nil
	})
}

// Close implements RecordStore. Closing twice is a no-op.
func (s *BoltStore) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close fsm storage: %w", err)
	}

	s.log.Debug("fsm storage has been closed")

	return nil
}

func (s *BoltStore) update(ctx context.Context, op, key string, mutate func(*boltRow) error) error {
	if s.closed.Load() {
		return errs.NewClosedError(op)
	}
	if err := ctx.Err(); err != nil {
		return errs.NewWriteError(key, false, err)
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(boltBucket)

		row, err := getRow(bucket, key)
		if err != nil {
			return errs.NewReadError(key, err)
		}

		if err := mutate(&row); err != nil {
			return err
		}

		if row.State == nil && row.Data == nil {
			return bucket.Delete([]byte(key))
		}

		value, err := msgpack.Marshal(&row)
		if err != nil {
			return err
		}
		return bucket.Put([]byte(key), value)
	})
	if err == nil {
		return nil
	}

	var appErr *errs.AppError
	if errors.As(err, &appErr) {
		return err
	}

	s.log.Warn("failed to write fsm record", slog.String("key", key), slog.String("op", op), slog.Any("error", err))
	return errs.NewWriteError(key, false, err)
}

func getRow(bucket *bolt.Bucket, key string) (boltRow, error) {
	value := bucket.Get([]byte(key))
	if value == nil {
		return boltRow{}, nil
	}

	return decodeRow(value)
}

// decodeRow copies everything out of value, which bbolt only guarantees
// for the lifetime of the transaction.
func decodeRow(value []byte) (boltRow, error) {
	var row boltRow
	if err := msgpack.Unmarshal(value, &row); err != nil {
		return boltRow{}, err
	}

	if row.Data != nil {
		row.Data = append([]byte(nil), row.Data...)
	}

	return row, nil
}

func (r boltRow) record(key string) Record {
	return Record{Key: key, State: r.State, Payload: r.Data}
}

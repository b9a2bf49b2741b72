package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/Proton-105/himera-fsm/internal/database"
	errs "github.com/Proton-105/himera-fsm/internal/errors"
)

const (
	// DefaultSQLitePath is used when no path is configured.
	DefaultSQLitePath = "fsm_storage.db"
	// DefaultDirPermissions is used when creating the directory of a SQLite file.
	DefaultDirPermissions = 0o755
	defaultBusyTimeout    = 5 * time.Second
	scanBatchSize         = 100
)

// Each upsert is a single statement that writes one column. The conflict
// branch never mentions the sibling column, so it keeps its current value.
const (
	upsertStateQuery = `INSERT INTO fsm_data (key, state, data) VALUES (?, ?, NULL)
ON CONFLICT (key) DO UPDATE SET state = excluded.state`
	upsertPayloadQuery = `INSERT INTO fsm_data (key, state, data) VALUES (?, NULL, ?)
ON CONFLICT (key) DO UPDATE SET data = excluded.data`
	selectRecordQuery = `SELECT state, data FROM fsm_data WHERE key = ?`
	scanRecordsQuery  = `SELECT key, state, data FROM fsm_data WHERE key > ? ORDER BY key LIMIT ?`
	pruneRecordsQuery = `DELETE FROM fsm_data WHERE state IS NULL AND data IS NULL`
)

// Dialect captures the differences between the supported SQL databases.
type Dialect struct {
	Name       string
	DriverName string
	numbered   bool
	lockSuffix string
}

var (
	// DialectSQLite stores sessions in a single local file.
	DialectSQLite = Dialect{Name: "sqlite", DriverName: "sqlite"}
	// DialectPostgres stores sessions in a PostgreSQL table.
	DialectPostgres = Dialect{Name: "postgres", DriverName: "postgres", numbered: true, lockSuffix: " FOR UPDATE"}
)

// DialectByName resolves a configured driver name.
func DialectByName(name string) (Dialect, error) {
	switch name {
	case DialectSQLite.Name:
		return DialectSQLite, nil
	case DialectPostgres.Name:
		return DialectPostgres, nil
	default:
		return Dialect{}, fmt.Errorf("unsupported sql dialect %q", name)
	}
}

// Rebind rewrites ? placeholders into the dialect's native form.
func (d Dialect) Rebind(query string) string {
	if !d.numbered {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}

	return b.String()
}

// SQLOptions configures OpenSQL.
type SQLOptions struct {
	Dialect Dialect
	// DSN is a file path for SQLite and a connection string for PostgreSQL.
	DSN         string
	BusyTimeout time.Duration
	Log         *slog.Logger
}

// SQLStore is a RecordStore over database/sql.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	log     *slog.Logger
	closed  atomic.Bool
}

var _ RecordStore = (*SQLStore)(nil)

// OpenSQLite opens (creating if needed) the SQLite file at path.
func OpenSQLite(ctx context.Context, path string, log *slog.Logger) (*SQLStore, error) {
	return OpenSQL(ctx, SQLOptions{Dialect: DialectSQLite, DSN: path, Log: log})
}

// OpenSQL connects to the database and ensures the fsm_data table exists.
// Failures are returned as OpenError.
func OpenSQL(ctx context.Context, opts SQLOptions) (*SQLStore, error) {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	if opts.Dialect.DriverName == "" {
		opts.Dialect = DialectSQLite
	}
	log = log.With(slog.String("dialect", opts.Dialect.Name))

	if opts.Dialect == DialectSQLite && opts.DSN == "" {
		opts.DSN = DefaultSQLitePath
	}

	location := opts.DSN
	dsn := opts.DSN
	if opts.Dialect == DialectSQLite {
		if err := ensureDir(opts.DSN); err != nil {
			return nil, errs.NewOpenError(location, err)
		}
		dsn = sqliteDSN(opts.DSN, opts.BusyTimeout)
		log = log.With(slog.String("path", opts.DSN))
	} else {
		location = opts.Dialect.Name
	}

	db, err := sql.Open(opts.Dialect.DriverName, dsn)
	if err != nil {
		log.Warn("fsm storage opening error", slog.Any("error", err))
		return nil, errs.NewOpenError(location, err)
	}

	if opts.Dialect == DialectSQLite {
		// one connection: SQLite allows a single writer and an in-memory
		// database exists only inside its connection
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		log.Warn("fsm storage opening error", slog.Any("error", err))
		return nil, errs.NewOpenError(location, err)
	}

	migrator := database.NewMigrator(db, log)
	if err := migrator.ApplyFS(ctx, database.Migrations, database.MigrationsDir(opts.Dialect.Name)); err != nil {
		_ = db.Close()
		log.Warn("fsm storage schema error", slog.Any("error", err))
		return nil, errs.NewOpenError(location, err)
	}

	log.Debug("fsm storage has been opened")

	return &SQLStore{
		db:      db,
		dialect: opts.Dialect,
		log:     log,
	}, nil
}

// NewSQLStore wraps an already migrated database handle.
func NewSQLStore(db *sql.DB, dialect Dialect, log *slog.Logger) *SQLStore {
	if log == nil {
		log = slog.Default()
	}

	return &SQLStore{db: db, dialect: dialect, log: log}
}

// UpsertState implements RecordStore.
func (s *SQLStore) UpsertState(ctx context.Context, key string, state *string) error {
	return s.write(ctx, "upsert_state", key, upsertStateQuery, key, nullableString(state))
}

// UpsertPayload implements RecordStore.
func (s *SQLStore) UpsertPayload(ctx context.Context, key string, payload []byte) error {
	return s.write(ctx, "upsert_payload", key, upsertPayloadQuery, key, nullableBytes(payload))
}

// Read implements RecordStore.
func (s *SQLStore) Read(ctx context.Context, key string) (Record, error) {
	if s.closed.Load() {
		return Record{}, errs.NewClosedError("read")
	}

	return s.readRecord(ctx, s.db, key, "")
}

// Modify reads the row, calls fn and writes its payload inside one transaction.
func (s *SQLStore) Modify(ctx context.Context, key string, fn ModifyFunc) error {
	if s.closed.Load() {
		return errs.NewClosedError("modify")
	}

	return errs.WithRetry(ctx, func() error {
		return s.modify(ctx, key, fn)
	})
}

func (s *SQLStore) modify(ctx context.Context, key string, fn ModifyFunc) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.NewWriteError(key, isTransient(err), err)
	}
	defer func() {
		if err == nil {
			return
		}
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			s.log.Error("rollback error", slog.String("key", key), slog.Any("error", rbErr))
		}
	}()

	current, err := s.readRecord(ctx, tx, key, s.dialect.lockSuffix)
	if err != nil {
		return err
	}

	payload, err := fn(current)
	if err != nil {
		return err
	}

	if _, err = tx.ExecContext(ctx, s.dialect.Rebind(upsertPayloadQuery), key, nullableBytes(payload)); err != nil {
		return errs.NewWriteError(key, isTransient(err), err)
	}

	if err = tx.Commit(); err != nil {
		return errs.NewWriteError(key, isTransient(err), err)
	}

	return nil
}

// Scan implements RecordStore. Rows are fetched in key order in batches, so
// fn may call back into the store. Rows left empty by a clear are skipped.
func (s *SQLStore) Scan(ctx context.Context, fn func(Record) error) error {
	if s.closed.Load() {
		return errs.NewClosedError("scan")
	}

	after := ""
	for {
		batch, err := s.scanBatch(ctx, after)
		if err != nil {
			return err
		}

		for _, rec := range batch {
			if rec.Empty() {
				continue
			}
			if err := fn(rec); err != nil {
				return err
			}
		}

		if len(batch) < scanBatchSize || ctx.Err() != nil {
			return ctx.Err()
		}
		after = batch[len(batch)-1].Key
	}
}

func (s *SQLStore) scanBatch(ctx context.Context, after string) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(scanRecordsQuery), after, scanBatchSize)
	if err != nil {
		return nil, errs.NewReadError("*", err)
	}
	defer rows.Close()

	batch := make([]Record, 0, scanBatchSize)
	for rows.Next() {
		var (
			rec   Record
			state sql.NullString
		)
		if err := rows.Scan(&rec.Key, &state, &rec.Payload); err != nil {
			return nil, errs.NewReadError("*", err)
		}
		if state.Valid {
			rec.State = Of(state.String)
		}
		batch = append(batch, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.NewReadError("*", err)
	}

	return batch, nil
}

// Prune implements RecordStore.
func (s *SQLStore) Prune(ctx context.Context) (int64, error) {
	if s.closed.Load() {
		return 0, errs.NewClosedError("prune")
	}

	res, err := s.db.ExecContext(ctx, pruneRecordsQuery)
	if err != nil {
		return 0, errs.NewWriteError("*", isTransient(err), err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, errs.NewWriteError("*", false, err)
	}

	return n, nil
}

// HealthCheck pings the database.
func (s *SQLStore) HealthCheck(ctx context.Context) error {
	if s.closed.Load() {
		return errs.ErrStoreClosed
	}

	return s.db.PingContext(ctx)
}

// Close implements RecordStore. Closing twice is a no-op.
func (s *SQLStore) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close fsm storage: %w", err)
	}

	s.log.Debug("fsm storage has been closed")

	return nil
}

func (s *SQLStore) write(ctx context.Context, op, key, query string, args ...any) error {
	if s.closed.Load() {
		return errs.NewClosedError(op)
	}

	return errs.WithRetry(ctx, func() error {
		if _, err := s.db.ExecContext(ctx, s.dialect.Rebind(query), args...); err != nil {
			return errs.NewWriteError(key, isTransient(err), err)
		}
		return nil
	})
}

type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLStore) readRecord(ctx context.Context, q rowQuerier, key, suffix string) (Record, error) {
	var (
		state   sql.NullString
		payload []byte
	)

	err := q.QueryRowContext(ctx, s.dialect.Rebind(selectRecordQuery+suffix), key).Scan(&state, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{Key: key}, nil
	}
	if err != nil {
		return Record{}, errs.NewReadError(key, err)
	}

	rec := Record{Key: key, Payload: payload}
	if state.Valid {
		rec.State = Of(state.String)
	}

	return rec, nil
}

// isTransient reports lock contention that is worth retrying.
func isTransient(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return true
		}
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001", "40P01", "55P03":
			return true
		}
	}

	return false
}

func nullableString(s *string) any {
	if s == nil {
		return nil
	}

	return *s
}

func nullableBytes(b []byte) any {
	if b == nil {
		return nil
	}

	return b
}

func sqliteDSN(path string, busyTimeout time.Duration) string {
	if busyTimeout <= 0 {
		busyTimeout = defaultBusyTimeout
	}

	params := fmt.Sprintf("_pragma=busy_timeout(%d)&_txlock=immediate", busyTimeout.Milliseconds())
	if path != ":memory:" {
		params += "&_pragma=journal_mode(WAL)"
	}

	if strings.HasPrefix(path, "file:") {
		if strings.Contains(path, "?") {
			return path + "&" + params
		}
		return path + "?" + params
	}

	return "file:" + path + "?" + params
}

func ensureDir(path string) error {
	if path == "" || path == ":memory:" || strings.HasPrefix(path, "file:") {
		return nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		return fmt.Errorf("create database directory %q: %w", dir, err)
	}

	return nil
}

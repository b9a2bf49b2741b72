package state

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openTestSQLite(t *testing.T, path string) *SQLStore {
	t.Helper()

	if path == "" {
		path = filepath.Join(t.TempDir(), "fsm_storage.db")
	}

	store, err := OpenSQLite(context.Background(), path, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	return store
}

func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	return client, mr
}

func newTestStorage(t *testing.T, serializer string) *Storage {
	t.Helper()

	return NewStorage(openTestSQLite(t, ""), NewSerializer(serializer, testLogger()), testLogger(), nil)
}

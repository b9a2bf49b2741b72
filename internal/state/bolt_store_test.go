package state

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "github.com/Proton-105/himera-fsm/internal/errors"
)

func openTestBolt(t *testing.T, path string) *BoltStore {
	t.Helper()

	if path == "" {
		path = filepath.Join(t.TempDir(), "fsm.bolt")
	}

	store, err := OpenBolt(path, time.Second, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	return store
}

func TestBoltStore_UpsertsPreserveSiblingColumn(t *testing.T) {
	ctx := context.Background()
	store := openTestBolt(t, "")

	require.NoError(t, store.UpsertState(ctx, "1:2:3", Of("form:name")))
	require.NoError(t, store.UpsertPayload(ctx, "1:2:3", []byte("payload")))

	require.NoError(t, store.UpsertState(ctx, "1:2:3", Of("form:age")))
	rec, err := store.Read(ctx, "1:2:3")
	require.NoError(t, err)
	assert.Equal(t, "form:age", *rec.State)
	assert.Equal(t, []byte("payload"), rec.Payload)

	require.NoError(t, store.UpsertState(ctx, "1:2:3", nil))
	require.NoError(t, store.UpsertPayload(ctx, "1:2:3", nil))

	rec, err = store.Read(ctx, "1:2:3")
	require.NoError(t, err)
	assert.True(t, rec.Empty())
}

func TestBoltStore_Persistence(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "fsm.bolt")

	store, err := OpenBolt(path, time.Second, testLogger())
	require.NoError(t, err)
	require.NoError(t, store.UpsertState(ctx, "1:2:3", Of("waiting")))
	require.NoError(t, store.Close())
	require.NoError(t, store.Close())

	_, err = store.Read(ctx, "1:2:3")
	assert.ErrorIs(t, err, errs.ErrStoreClosed)

	reopened := openTestBolt(t, path)
	rec, err := reopened.Read(ctx, "1:2:3")
	require.NoError(t, err)
	assert.Equal(t, "waiting", *rec.State)
	assert.NoError(t, reopened.HealthCheck(ctx))
}

func TestBoltStore_LockedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fsm.bolt")
	openTestBolt(t, path)

	_, err := OpenBolt(path, 50*time.Millisecond, testLogger())
	require.Error(t, err)
	assert.True(t, errs.HasCode(err, errs.CodeOpen))
}

func TestBoltStore_ScanSkipsClearedRows(t *testing.T) {
	ctx := context.Background()
	store := openTestBolt(t, "")

	total := scanBatchSize + 10
	for i := 0; i < total; i++ {
		key := Key{BotID: 1, ChatID: int64(i), UserID: 1}.String()
		require.NoError(t, store.UpsertState(ctx, key, Of("active")))
	}
	require.NoError(t, store.UpsertState(ctx, Key{BotID: 1, ChatID: 5, UserID: 1}.String(), nil))

	seen := 0
	require.NoError(t, store.Scan(ctx, func(rec Record) error {
		seen++
		return store.UpsertPayload(ctx, rec.Key, []byte("touched"))
	}))
	assert.Equal(t, total-1, seen)

	removed, err := store.Prune(ctx)
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestBoltStore_ModifyIsAtomic(t *testing.T) {
	ctx := context.Background()
	store := openTestBolt(t, "")

	const workers = 20
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			assert.NoError(t, store.Modify(ctx, "1:2:3", func(current Record) ([]byte, error) {
				return append(current.Payload, 'x'), nil
			}))
		}()
	}
	wg.Wait()

	rec, err := store.Read(ctx, "1:2:3")
	require.NoError(t, err)
	assert.Len(t, rec.Payload, workers)
}

func TestStorage_ScenarioOnBolt(t *testing.T) {
	records := openTestBolt(t, "")
	runSessionScenario(t, NewStorage(records, MsgpackSerializer{}, testLogger(), nil))
}

package state

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestCleaner_Cleanup(t *testing.T) {
	ctx := context.Background()
	storage := newTestStorage(t, SerializerGob)
	active := Key{BotID: 1, ChatID: 2, UserID: 3}
	finished := Key{BotID: 1, ChatID: 2, UserID: 4}

	require.True(t, storage.SetState(ctx, active, Of("waiting")).OK())
	require.True(t, storage.SetState(ctx, finished, Of("done")).OK())
	require.True(t, storage.Clear(ctx, finished).OK())

	cleaner := NewCleaner(storage.Records(), testLogger(), time.Minute)
	assert.EqualValues(t, 1, cleaner.Cleanup(ctx))
	assert.EqualValues(t, 0, cleaner.Cleanup(ctx))

	state, res := storage.GetState(ctx, active)
	require.True(t, res.OK())
	assert.Equal(t, "waiting", *state)
}

func TestCleaner_PruneError(t *testing.T) {
	records := openTestSQLite(t, "")
	require.NoError(t, records.Close())

	cleaner := NewCleaner(records, testLogger(), 0)
	assert.Equal(t, defaultCleanupInterval, cleaner.interval)
	assert.Zero(t, cleaner.Cleanup(context.Background()))
}

func TestCleaner_RunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	records := new(mockRecordStore)
	pruned := make(chan struct{}, 1)

	records.On("Prune", mock.Anything).Return(int64(2), nil).Run(func(mock.Arguments) {
		select {
		case pruned <- struct{}{}:
		default:
		}
	})

	done := make(chan struct{})
	go func() {
		NewCleaner(records, testLogger(), 10*time.Millisecond).Run(ctx)
		close(done)
	}()

	select {
	case <-pruned:
	case <-time.After(time.Second):
		t.Fatal("cleaner did not prune")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("cleaner did not stop")
	}
}

package metrics

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "github.com/Proton-105/himera-fsm/internal/errors"
	"github.com/Proton-105/himera-fsm/internal/state"
)

func openTestStore(t *testing.T) *InstrumentedStore {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	records, err := state.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "fsm.db"), log)
	require.NoError(t, err)

	store := NewInstrumentedStore(records)
	t.Cleanup(func() { _ = store.Close() })

	return store
}

func TestInstrumentedStore_CountsOperations(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	okBefore := testutil.ToFloat64(storeOperationsTotal.WithLabelValues("upsert_state", "ok"))
	require.NoError(t, store.UpsertState(ctx, "1:2:3", state.Of("s")))
	assert.Equal(t, okBefore+1, testutil.ToFloat64(storeOperationsTotal.WithLabelValues("upsert_state", "ok")))

	require.NoError(t, store.UpsertState(ctx, "1:2:3", nil))
	prunedBefore := testutil.ToFloat64(storePrunedTotal)
	n, err := store.Prune(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	assert.Equal(t, prunedBefore+1, testutil.ToFloat64(storePrunedTotal))
}

func TestInstrumentedStore_CountsErrors(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	require.NoError(t, store.Close())

	failedBefore := testutil.ToFloat64(storeOperationsTotal.WithLabelValues("read", "error"))
	codeBefore := testutil.ToFloat64(errorsTotal.WithLabelValues(errs.CodeClosed, string(errs.SeverityMedium)))

	_, err := store.Read(ctx, "1:2:3")
	require.ErrorIs(t, err, errs.ErrStoreClosed)

	assert.Equal(t, failedBefore+1, testutil.ToFloat64(storeOperationsTotal.WithLabelValues("read", "error")))
	assert.Equal(t, codeBefore+1, testutil.ToFloat64(errorsTotal.WithLabelValues(errs.CodeClosed, string(errs.SeverityMedium))))
}

func TestStateCollector_Collect(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	require.NoError(t, store.UpsertState(ctx, "1:1:1", state.Of("asking_name")))
	require.NoError(t, store.UpsertState(ctx, "1:1:2", state.Of("asking_name")))
	require.NoError(t, store.UpsertState(ctx, "1:1:3", state.Of("asking_age")))
	require.NoError(t, store.UpsertPayload(ctx, "1:1:4", []byte("x")))
	require.NoError(t, store.UpsertState(ctx, "1:1:5", nil))
	require.NoError(t, store.UpsertState(ctx, "7:1:1", state.Of("asking_age")))
	require.NoError(t, store.UpsertState(ctx, "legacy-key", state.Of("asking_age")))

	collector := NewStateCollector(store, nil, time.Minute)
	require.NoError(t, collector.collect(ctx))

	assert.Equal(t, 6.0, testutil.ToFloat64(activeSessions))
	assert.Equal(t, 2.0, testutil.ToFloat64(sessionsByState.WithLabelValues("asking_name")))
	assert.Equal(t, 3.0, testutil.ToFloat64(sessionsByState.WithLabelValues("asking_age")))
	assert.Equal(t, 1.0, testutil.ToFloat64(sessionsByState.WithLabelValues(noStateLabel)))
	assert.Equal(t, 4.0, testutil.ToFloat64(sessionsByBot.WithLabelValues("1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(sessionsByBot.WithLabelValues("7")))
}

func TestStateCollector_LogsScanFailure(t *testing.T) {
	store := openTestStore(t)
	require.NoError(t, store.Close())

	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	NewStateCollector(store, log, time.Minute).Run(ctx)

	assert.Contains(t, buf.String(), "session metrics collection failed")
	assert.Contains(t, buf.String(), "scan on closed storage")
}

func TestRecordStateTransition_DefaultsLabels(t *testing.T) {
	before := testutil.ToFloat64(stateTransitionsTotal.WithLabelValues(noStateLabel, "started"))
	RecordStateTransition("", "started")
	assert.Equal(t, before+1, testutil.ToFloat64(stateTransitionsTotal.WithLabelValues(noStateLabel, "started")))
}

func TestRecordCommand(t *testing.T) {
	before := testutil.ToFloat64(botCommandsTotal.WithLabelValues("unknown", "ok"))
	RecordCommand("", "ok", time.Millisecond)
	assert.Equal(t, before+1, testutil.ToFloat64(botCommandsTotal.WithLabelValues("unknown", "ok")))
}

package state

import (
	"context"
	stdErrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	errs "github.com/Proton-105/himera-fsm/internal/errors"
)

type mockRecordStore struct {
	mock.Mock
}

func (m *mockRecordStore) UpsertState(ctx context.Context, key string, state *string) error {
	args := m.Called(ctx, key, state)
	return args.Error(0)
}

func (m *mockRecordStore) UpsertPayload(ctx context.Context, key string, payload []byte) error {
	args := m.Called(ctx, key, payload)
	return args.Error(0)
}

func (m *mockRecordStore) Read(ctx context.Context, key string) (Record, error) {
	args := m.Called(ctx, key)
	return args.Get(0).(Record), args.Error(1)
}

func (m *mockRecordStore) Modify(ctx context.Context, key string, fn ModifyFunc) error {
	args := m.Called(ctx, key, fn)
	return args.Error(0)
}

func (m *mockRecordStore) Scan(ctx context.Context, fn func(Record) error) error {
	args := m.Called(ctx, fn)
	return args.Error(0)
}

func (m *mockRecordStore) Prune(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockRecordStore) HealthCheck(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *mockRecordStore) Close() error {
	args := m.Called()
	return args.Error(0)
}

// runSessionScenario walks one key through a full dialog and checks that the
// state and the payload never disturb each other.
func runSessionScenario(t *testing.T, storage *Storage) {
	t.Helper()

	ctx := context.Background()
	key := Key{BotID: 1, ChatID: 2, UserID: 3}
	other := Key{BotID: 1, ChatID: 2, UserID: 4}

	state, res := storage.GetState(ctx, key)
	assert.Nil(t, state)
	assert.True(t, res.Empty())

	data, res := storage.GetData(ctx, key)
	assert.Nil(t, data)
	assert.True(t, res.Empty())

	require.True(t, storage.SetState(ctx, key, Of("first_state")).OK())
	require.True(t, storage.SetState(ctx, key, Of("second_state")).OK())

	state, res = storage.GetState(ctx, key)
	require.True(t, res.OK())
	assert.Equal(t, "second_state", *state)

	require.True(t, storage.SetData(ctx, key, Data{"pi": 3.14}).OK())

	state, _ = storage.GetState(ctx, key)
	require.NotNil(t, state)
	assert.Equal(t, "second_state", *state)

	updated, res := storage.UpdateData(ctx, key, Data{"extra": "x"})
	require.True(t, res.OK())
	assert.Equal(t, Data{"pi": 3.14, "extra": "x"}, updated)

	data, res = storage.GetData(ctx, key)
	require.True(t, res.OK())
	assert.Equal(t, Data{"pi": 3.14, "extra": "x"}, data)

	state, _ = storage.GetState(ctx, other)
	assert.Nil(t, state)

	require.True(t, storage.Clear(ctx, key).OK())

	state, res = storage.GetState(ctx, key)
	assert.Nil(t, state)
	assert.True(t, res.Empty())

	data, res = storage.GetData(ctx, key)
	assert.Nil(t, data)
	assert.True(t, res.Empty())
}

func TestStorage_Scenario(t *testing.T) {
	for _, name := range []string{SerializerJSON, SerializerGob, SerializerMsgpack} {
		name := name
		t.Run("sqlite_"+name, func(t *testing.T) {
			runSessionScenario(t, newTestStorage(t, name))
		})
	}

	t.Run("redis_gob", func(t *testing.T) {
		client, _ := setupTestRedis(t)
		records := NewRedisStore(client, "fsm", testLogger())
		t.Cleanup(func() { _ = records.Close() })

		runSessionScenario(t, NewStorage(records, GobSerializer{}, testLogger(), nil))
	})
}

func TestStorage_SetDataKeepsState(t *testing.T) {
	ctx := context.Background()
	storage := newTestStorage(t, SerializerGob)
	key := Key{BotID: 1, ChatID: 2, UserID: 3}

	require.True(t, storage.SetState(ctx, key, Of("asking_age")).OK())
	require.True(t, storage.SetData(ctx, key, nil).OK())

	state, res := storage.GetState(ctx, key)
	require.True(t, res.OK())
	assert.Equal(t, "asking_age", *state)

	data, res := storage.GetData(ctx, key)
	assert.Nil(t, data)
	assert.True(t, res.Empty())
}

func TestStorage_SetStateNilKeepsData(t *testing.T) {
	ctx := context.Background()
	storage := newTestStorage(t, SerializerJSON)
	key := Key{BotID: 1, ChatID: 2, UserID: 3}

	require.True(t, storage.SetData(ctx, key, Data{"name": "Ann"}).OK())
	require.True(t, storage.SetState(ctx, key, nil).OK())

	data, res := storage.GetData(ctx, key)
	require.True(t, res.OK())
	assert.Equal(t, Data{"name": "Ann"}, data)
}

func TestStorage_EmptyMapIsNotNil(t *testing.T) {
	ctx := context.Background()
	storage := newTestStorage(t, SerializerJSON)
	key := Key{BotID: 1, ChatID: 2, UserID: 3}

	require.True(t, storage.SetData(ctx, key, Data{}).OK())

	data, res := storage.GetData(ctx, key)
	require.True(t, res.OK())
	assert.NotNil(t, data)
	assert.Empty(t, data)
}

func TestStorage_UpdateData(t *testing.T) {
	ctx := context.Background()
	storage := newTestStorage(t, SerializerJSON)
	key := Key{BotID: 1, ChatID: 2, UserID: 3}

	updated, res := storage.UpdateData(ctx, key, Data{"a": 1.0})
	require.True(t, res.OK())
	assert.Equal(t, Data{"a": 1.0}, updated)

	updated, res = storage.UpdateData(ctx, key, Data{"a": 2.0, "b": "x"})
	require.True(t, res.OK())
	assert.Equal(t, Data{"a": 2.0, "b": "x"}, updated)

	updated["a"] = "mutated"
	data, _ := storage.GetData(ctx, key)
	assert.Equal(t, 2.0, data["a"])

	updated, res = storage.UpdateData(ctx, key, nil)
	require.True(t, res.OK())
	assert.Equal(t, Data{"a": 2.0, "b": "x"}, updated)
}

func TestStorage_UpdateDataKeepsUnreadablePayload(t *testing.T) {
	ctx := context.Background()
	storage := newTestStorage(t, SerializerJSON)
	key := Key{BotID: 1, ChatID: 2, UserID: 3}

	require.NoError(t, storage.Records().UpsertPayload(ctx, key.String(), []byte("not json")))

	updated, res := storage.UpdateData(ctx, key, Data{"a": 1.0})
	assert.Nil(t, updated)
	require.True(t, res.Failed())
	assert.True(t, errs.HasCode(res.Err(), errs.CodeDecoding))

	updated, res = storage.AtomicUpdateData(ctx, key, Data{"a": 1.0})
	assert.Nil(t, updated)
	require.True(t, res.Failed())

	rec, err := storage.Records().Read(ctx, key.String())
	require.NoError(t, err)
	assert.Equal(t, []byte("not json"), rec.Payload)
}

func TestStorage_AtomicUpdateData(t *testing.T) {
	ctx := context.Background()
	storage := newTestStorage(t, SerializerGob)
	key := Key{BotID: 1, ChatID: 2, UserID: 3}

	require.True(t, storage.SetState(ctx, key, Of("collecting")).OK())

	updated, res := storage.AtomicUpdateData(ctx, key, Data{"step": 1})
	require.True(t, res.OK())
	assert.Equal(t, Data{"step": 1}, updated)

	updated, res = storage.AtomicUpdateData(ctx, key, Data{"name": "Ann"})
	require.True(t, res.OK())
	assert.Equal(t, Data{"step": 1, "name": "Ann"}, updated)

	state, _ := storage.GetState(ctx, key)
	require.NotNil(t, state)
	assert.Equal(t, "collecting", *state)
}

func TestStorage_CrossSerializerRead(t *testing.T) {
	ctx := context.Background()
	records := openTestSQLite(t, "")
	key := Key{BotID: 1, ChatID: 2, UserID: 3}

	writer := NewStorage(records, JSONSerializer{}, testLogger(), nil)
	reader := NewStorage(records, GobSerializer{}, testLogger(), nil)

	require.True(t, writer.SetData(ctx, key, Data{"pi": 3.14}).OK())

	data, res := reader.GetData(ctx, key)
	assert.Nil(t, data)
	require.True(t, res.Failed())
	assert.True(t, errs.HasCode(res.Err(), errs.CodeDecoding))

	data, res = writer.GetData(ctx, key)
	require.True(t, res.OK())
	assert.Equal(t, Data{"pi": 3.14}, data)
}

func TestStorage_EncodingFailureKeepsPayload(t *testing.T) {
	ctx := context.Background()
	storage := newTestStorage(t, SerializerJSON)
	key := Key{BotID: 1, ChatID: 2, UserID: 3}

	require.True(t, storage.SetData(ctx, key, Data{"ok": true}).OK())

	res := storage.SetData(ctx, key, Data{"bad": complex(1, 2)})
	require.True(t, res.Failed())
	assert.True(t, errs.HasCode(res.Err(), errs.CodeEncoding))

	data, _ := storage.GetData(ctx, key)
	assert.Equal(t, Data{"ok": true}, data)
}

func TestStorage_CyclicPayloadFails(t *testing.T) {
	for _, name := range []string{SerializerJSON, SerializerGob, SerializerMsgpack} {
		name := name
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			storage := newTestStorage(t, name)
			key := Key{BotID: 1, ChatID: 2, UserID: 3}

			cyclic := Data{"name": "Ann"}
			cyclic["self"] = cyclic

			res := storage.SetData(ctx, key, cyclic)
			require.True(t, res.Failed())
			assert.True(t, errs.HasCode(res.Err(), errs.CodeEncoding))

			data, res := storage.GetData(ctx, key)
			assert.Nil(t, data)
			assert.True(t, res.Empty())
		})
	}
}

func TestStorage_GobStoresTypedContainers(t *testing.T) {
	ctx := context.Background()
	storage := newTestStorage(t, SerializerGob)
	key := Key{BotID: 1, ChatID: 2, UserID: 3}

	data := Data{
		"scores": map[string]int{"a": 1},
		"rows":   []map[string]string{{"k": "v"}},
	}
	require.True(t, storage.SetData(ctx, key, data).OK())

	got, res := storage.GetData(ctx, key)
	require.True(t, res.OK())
	assert.Equal(t, data, got)
}

func TestStorage_Closed(t *testing.T) {
	ctx := context.Background()
	storage := newTestStorage(t, SerializerGob)
	key := Key{BotID: 1, ChatID: 2, UserID: 3}

	require.True(t, storage.Close().OK())
	require.True(t, storage.Close().OK())

	state, res := storage.GetState(ctx, key)
	assert.Nil(t, state)
	require.True(t, res.Failed())
	assert.ErrorIs(t, res.Err(), errs.ErrStoreClosed)

	assert.True(t, storage.SetState(ctx, key, Of("s")).Failed())
	assert.True(t, storage.SetData(ctx, key, Data{"a": 1}).Failed())
	assert.True(t, storage.Clear(ctx, key).Failed())

	_, res = storage.UpdateData(ctx, key, Data{"a": 1})
	assert.True(t, res.Failed())
}

func TestStorage_ReadFailure(t *testing.T) {
	ctx := context.Background()
	records := new(mockRecordStore)
	storage := NewStorage(records, JSONSerializer{}, testLogger(), nil)
	key := Key{BotID: 1, ChatID: 2, UserID: 3}
	readErr := errs.NewReadError(key.String(), stdErrors.New("disk I/O error"))

	records.On("Read", mock.Anything, key.String()).Return(Record{}, readErr)

	state, res := storage.GetState(ctx, key)
	assert.Nil(t, state)
	assert.True(t, res.Failed())
	assert.ErrorIs(t, res.Err(), readErr)

	_, res = storage.UpdateData(ctx, key, Data{"a": 1.0})
	assert.True(t, res.Failed())

	records.AssertNotCalled(t, "UpsertPayload", mock.Anything, mock.Anything, mock.Anything)
	records.AssertExpectations(t)
}

func TestStorage_WriteFailure(t *testing.T) {
	ctx := context.Background()
	records := new(mockRecordStore)
	storage := NewStorage(records, JSONSerializer{}, testLogger(), nil)
	key := Key{BotID: 1, ChatID: 2, UserID: 3}

	records.On("UpsertState", mock.Anything, key.String(), (*string)(nil)).
		Return(errs.NewWriteError(key.String(), false, stdErrors.New("read-only database")))

	res := storage.Clear(ctx, key)
	require.True(t, res.Failed())
	assert.True(t, errs.HasCode(res.Err(), errs.CodeWrite))

	records.AssertNotCalled(t, "UpsertPayload", mock.Anything, mock.Anything, mock.Anything)
	records.AssertExpectations(t)
}

func TestStatus_String(t *testing.T) {
	assert.Equal(t, "ok", StatusOK.String())
	assert.Equal(t, "empty", StatusEmpty.String())
	assert.Equal(t, "failed", StatusFailed.String())
	assert.Equal(t, "unknown", Status(42).String())
}

// Package state persists FSM session state and payloads keyed by bot, chat and user.
package state

import "context"

// Record is one persisted session row. A nil State means "no active state";
// a nil Payload means "no data". A record with both nil is equivalent to a
// missing one.
type Record struct {
	Key     string
	State   *string
	Payload []byte
}

// Empty reports whether the record carries neither state nor payload.
func (r Record) Empty() bool {
	return r.State == nil && r.Payload == nil
}

// ModifyFunc computes the new payload from the current record.
type ModifyFunc func(current Record) ([]byte, error)

// RecordStore is the durable keyed table behind Storage. Each upsert touches
// only its own column and leaves the sibling column as it was.
type RecordStore interface {
	// UpsertState creates the row with a nil payload if absent, otherwise updates only the state.
	UpsertState(ctx context.Context, key string, state *string) error
	// UpsertPayload creates the row with a nil state if absent, otherwise updates only the payload.
	UpsertPayload(ctx context.Context, key string, payload []byte) error
	// Read returns the current row, or an empty Record when the key has no row.
	Read(ctx context.Context, key string) (Record, error)
	// Modify replaces the payload with fn's result in a single atomic step.
	Modify(ctx context.Context, key string, fn ModifyFunc) error
	// Scan calls fn for every row that carries a state or a payload.
	Scan(ctx context.Context, fn func(Record) error) error
	// Prune physically removes rows whose state and payload are both nil.
	Prune(ctx context.Context) (int64, error)
	// HealthCheck verifies the backing store is reachable.
	HealthCheck(ctx context.Context) error
	// Close releases the underlying handle. Later calls fail with ErrStoreClosed.
	Close() error
}

// Of returns a pointer to name, for use with SetState.
func Of(name string) *string {
	return &name
}

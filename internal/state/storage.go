package state

import (
	"context"
	"log/slog"

	errs "github.com/Proton-105/himera-fsm/internal/errors"
	"github.com/Proton-105/himera-fsm/pkg/logger"
)

// Status is the outcome of a Storage operation.
type Status int

const (
	// StatusOK means the operation took effect or found a value.
	StatusOK Status = iota
	// StatusEmpty means the read found no state or no data.
	StatusEmpty
	// StatusFailed means the operation did not take effect; the cause has been logged.
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusEmpty:
		return "empty"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result reports how a Storage operation ended. Failures never surface as
// returned errors: the value is nil and the Result carries the cause, so
// callers can tell "never set" (Empty) from "could not read" (Failed).
type Result struct {
	status Status
	err    error
}

func (r Result) Status() Status { return r.status }
func (r Result) OK() bool { return r.status == StatusOK }
func (r Result) Empty() bool { return r.status == StatusEmpty }
func (r Result) Failed() bool { return r.status == StatusFailed }
func (r Result) Err() error { return r.err }

func ok() Result { return Result{status: StatusOK} }
func empty() Result { return Result{status: StatusEmpty} }
func failed(err error) Result { return Result{status: StatusFailed, err: err} }

// Storage is the session store used by the dispatch layer: current state and
// payload per Key. Every operation degrades to a nil value plus a Failed
// Result instead of returning an error.
type Storage struct {
	records    RecordStore
	serializer Serializer
	errHandler *errs.Handler
}

// NewStorage composes a Storage from a RecordStore and a Serializer.
func NewStorage(records RecordStore, serializer Serializer, log *slog.Logger, errHandler *errs.Handler) *Storage {
	if log == nil {
		log = slog.Default()
	}
	if serializer == nil {
		serializer = GobSerializer{}
	}
	if errHandler == nil {
		errHandler = errs.NewHandler(log)
	}

	return &Storage{
		records:    records,
		serializer: serializer,
		errHandler: errHandler,
	}
}

// Serializer returns the active payload serializer.
func (s *Storage) Serializer() Serializer {
	return s.serializer
}

// Records exposes the underlying RecordStore.
func (s *Storage) Records() RecordStore {
	return s.records
}

// SetState sets the current state for key; nil clears it. The payload is left untouched.
func (s *Storage) SetState(ctx context.Context, key Key, state *string) Result {
	ctx = logger.WithCorrelationID(ctx)

	if err := s.records.UpsertState(ctx, key.String(), state); err != nil {
		return s.fail(ctx, err)
	}

	return ok()
}

// GetState returns the current state for key, or nil when none is set.
func (s *Storage) GetState(ctx context.Context, key Key) (*string, Result) {
	ctx = logger.WithCorrelationID(ctx)

	rec, err := s.records.Read(ctx, key.String())
	if err != nil {
		return nil, s.fail(ctx, err)
	}

	if rec.State == nil {
		return nil, empty()
	}

	return rec.State, ok()
}

// SetData replaces the payload for key; nil clears it. The state is left untouched.
func (s *Storage) SetData(ctx context.Context, key Key, data Data) Result {
	ctx = logger.WithCorrelationID(ctx)

	var payload []byte
	if data != nil {
		encoded, err := s.serializer.Encode(data)
		if err != nil {
			return s.fail(ctx, errs.NewEncodingError(s.serializer.Name(), err))
		}
		payload = encoded
	}

	if err := s.records.UpsertPayload(ctx, key.String(), payload); err != nil {
		return s.fail(ctx, err)
	}

	return ok()
}

// GetData returns the payload for key, or nil when there is none or it cannot be decoded.
func (s *Storage) GetData(ctx context.Context, key Key) (Data, Result) {
	ctx = logger.WithCorrelationID(ctx)

	rec, err := s.records.Read(ctx, key.String())
	if err != nil {
		return nil, s.fail(ctx, err)
	}

	if rec.Payload == nil {
		return nil, empty()
	}

	data, err := s.decode(rec)
	if err != nil {
		return nil, s.fail(ctx, err)
	}

	return data, ok()
}

// UpdateData merges partial into the stored payload (shallow, partial keys
// win) and returns a copy of the result.
//
// The read and the write are separate operations: a concurrent writer to the
// same key between them is overwritten. Use AtomicUpdateData when that
// matters. If the current payload cannot be read, nothing is written so an
// unreadable payload is never replaced by partial alone. This is a
// deliberate choice over merging into an empty map: a payload that fails to
// decode (for example after a serializer change) stays recoverable, and the
// caller sees Failed instead of a silently truncated result.
func (s *Storage) UpdateData(ctx context.Context, key Key, partial Data) (Data, Result) {
	ctx = logger.WithCorrelationID(ctx)

	current, res := s.GetData(ctx, key)
	if res.Failed() {
		return nil, res
	}

	merged := merge(current, partial)
	if res := s.SetData(ctx, key, merged); res.Failed() {
		return nil, res
	}

	return copyData(merged), ok()
}

// AtomicUpdateData behaves like UpdateData but reads, merges and writes in a
// single store transaction.
func (s *Storage) AtomicUpdateData(ctx context.Context, key Key, partial Data) (Data, Result) {
	ctx = logger.WithCorrelationID(ctx)

	var merged Data
	err := s.records.Modify(ctx, key.String(), func(current Record) ([]byte, error) {
		var existing Data
		if current.Payload != nil {
			decoded, err := s.decode(current)
			if err != nil {
				return nil, err
			}
			existing = decoded
		}

		merged = merge(existing, partial)

		payload, err := s.serializer.Encode(merged)
		if err != nil {
			return nil, errs.NewEncodingError(s.serializer.Name(), err)
		}

		return payload, nil
	})
	if err != nil {
		return nil, s.fail(ctx, err)
	}

	return copyData(merged), ok()
}

// Clear removes both the state and the payload for key. The row itself may
// remain; it reads exactly like a key that was never written.
func (s *Storage) Clear(ctx context.Context, key Key) Result {
	ctx = logger.WithCorrelationID(ctx)

	if res := s.SetState(ctx, key, nil); res.Failed() {
		return res
	}

	return s.SetData(ctx, key, nil)
}

// Close releases the underlying store. Any later operation fails.
func (s *Storage) Close() Result {
	if err := s.records.Close(); err != nil {
		return s.fail(context.Background(), err)
	}

	return ok()
}

func (s *Storage) decode(rec Record) (Data, error) {
	data, err := s.serializer.Decode(rec.Payload)
	if err != nil {
		return nil, errs.NewDecodingError(s.serializer.Name(), rec.Key, err)
	}

	return data, nil
}

func (s *Storage) fail(ctx context.Context, err error) Result {
	s.errHandler.Handle(ctx, err)
	return failed(err)
}

func merge(current, partial Data) Data {
	merged := make(Data, len(current)+len(partial))
	for k, v := range current {
		merged[k] = v
	}
	for k, v := range partial {
		merged[k] = v
	}

	return merged
}

func copyData(data Data) Data {
	if data == nil {
		return nil
	}

	out := make(Data, len(data))
	for k, v := range data {
		out[k] = v
	}

	return out
}

package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	errs "github.com/Proton-105/himera-fsm/internal/errors"
	"github.com/Proton-105/himera-fsm/internal/state"
)

var (
	storeOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fsm_store_operations_total",
			Help: "Total number of session store operations by operation and status",
		},
		[]string{"op", "status"},
	)
	storeOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fsm_store_operation_duration_seconds",
			Help:    "Session store operation latency distributions",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)
	storePrunedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fsm_store_pruned_total",
			Help: "Total number of empty session rows removed",
		},
	)
)

// InstrumentedStore wraps a RecordStore to collect Prometheus metrics.
type InstrumentedStore struct {
	next state.RecordStore
}

var _ state.RecordStore = (*InstrumentedStore)(nil)

// NewInstrumentedStore creates an instrumented RecordStore.
func NewInstrumentedStore(next state.RecordStore) *InstrumentedStore {
	return &InstrumentedStore{next: next}
}

// UpsertState instruments RecordStore.UpsertState.
func (s *InstrumentedStore) UpsertState(ctx context.Context, key string, st *string) error {
	start := time.Now()
	err := s.next.UpsertState(ctx, key, st)
	observe("upsert_state", start, err)
	return err
}

// UpsertPayload instruments RecordStore.UpsertPayload.
func (s *InstrumentedStore) UpsertPayload(ctx context.Context, key string, payload []byte) error {
	start := time.Now()
	err := s.next.UpsertPayload(ctx, key, payload)
	observe("upsert_payload", start, err)
	return err
}

// Read instruments RecordStore.Read.
func (s *InstrumentedStore) Read(ctx context.Context, key string) (state.Record, error) {
	start := time.Now()
	rec, err := s.next.Read(ctx, key)
	observe("read", start, err)
	return rec, err
}

// Modify instruments RecordStore.Modify.
func (s *InstrumentedStore) Modify(ctx context.Context, key string, fn state.ModifyFunc) error {
	start := time.Now()
	err := s.next.Modify(ctx, key, fn)
	observe("modify", start, err)
	return err
}

// Scan forwards to the underlying store.
func (s *InstrumentedStore) Scan(ctx context.Context, fn func(state.Record) error) error {
	start := time.Now()
	err := s.next.Scan(ctx, fn)
	observe("scan", start, err)
	return err
}

// Prune instruments RecordStore.Prune and counts removed rows.
func (s *InstrumentedStore) Prune(ctx context.Context) (int64, error) {
	start := time.Now()
	n, err := s.next.Prune(ctx)
	observe("prune", start, err)
	if n > 0 {
		storePrunedTotal.Add(float64(n))
	}
	return n, err
}

// HealthCheck forwards to the underlying store.
func (s *InstrumentedStore) HealthCheck(ctx context.Context) error {
	return s.next.HealthCheck(ctx)
}

// Close forwards to the underlying store.
func (s *InstrumentedStore) Close() error {
	return s.next.Close()
}

func observe(op string, start time.Time, err error) {
	storeOperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())

	if err == nil {
		storeOperationsTotal.WithLabelValues(op, "ok").Inc()
		return
	}

	storeOperationsTotal.WithLabelValues(op, "error").Inc()

	var appErr *errs.AppError
	if errors.As(err, &appErr) {
		RecordError(appErr.Code, string(appErr.Severity))
		return
	}
	RecordError("", "")
}

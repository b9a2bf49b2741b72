package metrics

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Proton-105/himera-fsm/internal/fsm"
	"github.com/Proton-105/himera-fsm/internal/state"
)

const defaultCollectInterval = 10 * time.Second

var (
	botCommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_commands_total",
			Help: "Total number of bot commands received labeled by command and status",
		},
		[]string{"command", "status"},
	)
	commandDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "command_duration_seconds",
			Help:    "Duration of bot commands in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"command"},
	)
	stateTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fsm_state_transitions_total",
			Help: "Total number of FSM state transitions",
		},
		[]string{"from", "to"},
	)
	errorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "errors_total",
			Help: "Total number of errors split by code and severity",
		},
		[]string{"code", "severity"},
	)
	activeSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fsm_sessions_active",
			Help: "Current number of sessions holding a state or data",
		},
	)
	sessionsByState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fsm_sessions_by_state",
			Help: "Number of sessions per current state",
		},
		[]string{"state"},
	)
	sessionsByBot = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fsm_sessions_by_bot",
			Help: "Number of sessions per bot id",
		},
		[]string{"bot"},
	)
)

// noStateLabel marks sessions that hold data without an active state.
const noStateLabel = "none"

func init() {
	fsm.RegisterTransitionRecorder(RecordStateTransition)
}

// RecordCommand increments command counters and records duration.
func RecordCommand(command, status string, duration time.Duration) {
	if command == "" {
		command = "unknown"
	}
	if status == "" {
		status = "unknown"
	}

	botCommandsTotal.WithLabelValues(command, status).Inc()
	commandDurationSeconds.WithLabelValues(command).Observe(duration.Seconds())
}

// RecordStateTransition tracks FSM transitions.
func RecordStateTransition(from, to string) {
	if from == "" {
		from = noStateLabel
	}
	if to == "" {
		to = noStateLabel
	}

	stateTransitionsTotal.WithLabelValues(from, to).Inc()
}

// RecordError increments error counters with metadata.
func RecordError(code, severity string) {
	if code == "" {
		code = "unknown"
	}
	if severity == "" {
		severity = "unknown"
	}

	errorsTotal.WithLabelValues(code, severity).Inc()
}

// StateCollector periodically scans the session store and emits gauge metrics.
type StateCollector struct {
	records  state.RecordStore
	log      *slog.Logger
	interval time.Duration
}

// NewStateCollector builds a metrics collector bound to the provided store.
func NewStateCollector(records state.RecordStore, log *slog.Logger, interval time.Duration) *StateCollector {
	if log == nil {
		log = slog.Default()
	}
	if interval <= 0 {
		interval = defaultCollectInterval
	}

	return &StateCollector{records: records, log: log, interval: interval}
}

// Run scans the store every interval, updating session gauges until ctx is cancelled.
func (c *StateCollector) Run(ctx context.Context) {
	if c == nil || c.records == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	for {
		if err := c.collect(ctx); err != nil && !errors.Is(err, context.Canceled) {
			c.log.Warn("session metrics collection failed", slog.Any("error", err))
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(c.interval):
		}
	}
}

func (c *StateCollector) collect(ctx context.Context) error {
	total := 0
	stateCounts := make(map[string]int)
	botCounts := make(map[int64]int)

	err := c.records.Scan(ctx, func(rec state.Record) error {
		total++
		label := noStateLabel
		if rec.State != nil && *rec.State != "" {
			label = *rec.State
		}
		stateCounts[label]++

		// Rows written under a foreign key layout are counted only in the totals.
		if key, err := state.ParseKey(rec.Key); err == nil {
			botCounts[key.BotID]++
		}
		return nil
	})
	if err != nil {
		return err
	}

	activeSessions.Set(float64(total))

	sessionsByState.Reset()
	for label, count := range stateCounts {
		sessionsByState.WithLabelValues(label).Set(float64(count))
	}

	sessionsByBot.Reset()
	for botID, count := range botCounts {
		sessionsByBot.WithLabelValues(strconv.FormatInt(botID, 10)).Set(float64(count))
	}

	return nil
}

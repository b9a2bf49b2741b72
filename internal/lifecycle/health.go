package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync/atomic"
)

// ErrNotReady is returned by Readiness before startup completes or once shutdown begins.
var ErrNotReady = errors.New("service is not ready")

// Readiness reports whether the service can take traffic.
type Readiness interface {
	Healthy(ctx context.Context) bool
}

// Probes exposes liveness and readiness for the HTTP server.
type Probes struct {
	log    *slog.Logger
	checks Readiness
	ready  atomic.Bool
}

// NewProbes creates a new Probes instance. Readiness also requires checks to pass when set.
func NewProbes(log *slog.Logger, checks Readiness) *Probes {
	if log == nil {
		log = slog.Default()
	}
	return &Probes{log: log, checks: checks}
}

// SetReady flips the readiness flag.
func (p *Probes) SetReady(ready bool) {
	p.ready.Store(ready)
}

// Liveness reports success while the process is running.
func (p *Probes) Liveness(ctx context.Context) error {
	p.log.Debug("liveness probe called")
	return nil
}

// Readiness fails until SetReady(true) and whenever a health check fails.
func (p *Probes) Readiness(ctx context.Context) error {
	p.log.Debug("readiness probe called")

	if !p.ready.Load() {
		return ErrNotReady
	}
	if p.checks != nil && !p.checks.Healthy(ctx) {
		return ErrNotReady
	}

	return nil
}

// LivenessHandler serves Liveness.
func (p *Probes) LivenessHandler() http.Handler {
	return probeHandler(p.Liveness)
}

// ReadinessHandler serves Readiness.
func (p *Probes) ReadinessHandler() http.Handler {
	return probeHandler(p.Readiness)
}

func probeHandler(probe func(context.Context) error) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := probe(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
}

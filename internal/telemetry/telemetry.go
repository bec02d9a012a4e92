package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// Telemetry installs the process-wide tracer and meter providers. The
// pipeline packages take their instruments from the otel globals, so
// nothing else holds a reference to the providers.
type Telemetry struct {
	config *Config

	// shutdowns run in registration order.
	shutdowns []namedShutdown

	mu       sync.Mutex
	degraded []string
}

type namedShutdown struct {
	name string
	fn   func(context.Context) error
}

// New builds the exporters and installs the providers globally. An
// exporter that cannot be built marks telemetry degraded; New only fails
// on an invalid config.
func New(ctx context.Context, cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid telemetry config: %w", err)
	}
	t := &Telemetry{config: cfg}
	if !cfg.Enabled {
		return t, nil
	}
	res := newResource(cfg)

	if tp, err := newTracerProvider(ctx, cfg, res); err != nil {
		t.degrade("traces: %v", err)
	} else {
		otel.SetTracerProvider(tp)
		t.shutdowns = append(t.shutdowns, namedShutdown{"trace provider", tp.Shutdown})
	}

	switch mp, err := newMeterProvider(ctx, cfg, res); {
	case err != nil:
		t.degrade("metrics: %v", err)
	case mp != nil:
		otel.SetMeterProvider(mp)
		t.shutdowns = append(t.shutdowns, namedShutdown{"meter provider", mp.Shutdown})
	}

	// Trace context rides along on outbound Qdrant and embedding calls.
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))
	return t, nil
}

// Shutdown flushes pending spans and metric points. Without a deadline on
// ctx it waits at most ShutdownWait.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil || len(t.shutdowns) == 0 {
		return nil
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.config.ShutdownWait)
		defer cancel()
	}

	var errs []error
	for _, s := range t.shutdowns {
		if err := s.fn(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s shutdown: %w", s.name, err))
		}
	}
	return errors.Join(errs...)
}

// HealthStatus is logged at startup when telemetry is degraded.
type HealthStatus struct {
	Enabled  bool     `json:"enabled"`
	Degraded bool     `json:"degraded"`
	Reasons  []string `json:"reasons,omitempty"`
}

// Health reports whether every enabled exporter came up. A nil receiver
// counts as degraded.
func (t *Telemetry) Health() HealthStatus {
	if t == nil {
		return HealthStatus{Degraded: true}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return HealthStatus{
		Enabled:  t.config.Enabled,
		Degraded: len(t.degraded) > 0,
		Reasons:  append([]string(nil), t.degraded...),
	}
}

func (t *Telemetry) degrade(format string, args ...any) {
	t.mu.Lock()
	t.degraded = append(t.degraded, fmt.Sprintf(format, args...))
	t.mu.Unlock()
}

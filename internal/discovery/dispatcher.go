package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
)

// ErrServiceUnavailable is returned when a service has no healthy instance
// and no static fallback is configured for it.
var ErrServiceUnavailable = errors.New("service unavailable")

// ResolutionObserver counts resolutions by source ("registry" or "fallback").
// Implemented by the metrics package; nil disables observation.
type ResolutionObserver interface {
	IncResolution(service, source string)
}

// Dispatcher maps a logical service name to a concrete host:port address.
// It queries the registry fresh on every call so topology changes are picked
// up immediately, filters for healthy+enabled instances, load-balances with a
// uniform random pick, and falls back to a static address when the registry
// is unreachable or empty. It holds no mutable state and is safe for
// concurrent use.
type Dispatcher struct {
	registry  Registry
	fallbacks map[string]string
	observer  ResolutionObserver

	// pick selects an index in [0, n). Injectable for deterministic tests.
	pick func(n int) int
}

// NewDispatcher creates a dispatcher over the given registry. fallbacks maps
// logical service names to static host:port defaults. registry may be nil,
// in which case every resolution uses the fallback table; observer may be
// nil.
func NewDispatcher(registry Registry, fallbacks map[string]string, observer ResolutionObserver) *Dispatcher {
	return &Dispatcher{
		registry:  registry,
		fallbacks: fallbacks,
		observer:  observer,
		pick:      rand.Intn,
	}
}

// Resolve returns the address of one healthy, enabled instance of service.
func (d *Dispatcher) Resolve(ctx context.Context, service string) (string, error) {
	if d.registry == nil {
		return d.fallback(service, "discovery disabled")
	}

	instances, err := d.registry.Resolve(ctx, service)
	if err != nil {
		slog.Error("registry resolution failed", "service", service, "error", err)
		return d.fallback(service, "registry error")
	}

	candidates := instances[:0:0]
	for _, in := range instances {
		if in.Healthy && in.Enabled {
			candidates = append(candidates, in)
		}
	}
	if len(candidates) == 0 {
		slog.Warn("no healthy instances in registry", "service", service)
		return d.fallback(service, "no healthy instances")
	}

	d.observe(service, "registry")
	return candidates[d.pick(len(candidates))].Addr(), nil
}

func (d *Dispatcher) fallback(service, reason string) (string, error) {
	addr, ok := d.fallbacks[service]
	if !ok {
		return "", fmt.Errorf("%w: %s (%s, no fallback configured)", ErrServiceUnavailable, service, reason)
	}
	slog.Info("using fallback address", "service", service, "addr", addr, "reason", reason)
	d.observe(service, "fallback")
	return addr, nil
}

func (d *Dispatcher) observe(service, source string) {
	if d.observer != nil {
		d.observer.IncResolution(service, source)
	}
}

package workflow

import (
	"context"
	"time"

	"parcel/internal/logging"
)

// ComponentHealth summarizes the readiness of a dependency the workflow uses.
type ComponentHealth struct {
	Name   string
	Ready  bool
	Detail string
}

// HealthyComponent constructs a ready ComponentHealth record.
func HealthyComponent(name string) ComponentHealth {
	return ComponentHealth{Name: name, Ready: true}
}

// UnhealthyComponent constructs an unhealthy ComponentHealth record with context detail.
func UnhealthyComponent(name, detail string) ComponentHealth {
	return ComponentHealth{Name: name, Ready: false, Detail: detail}
}

// HealthCheck probes one dependency.
type HealthCheck func(ctx context.Context) error

type namedCheck struct {
	name  string
	check HealthCheck
}

// WithHealthCheck registers a dependency probe reported by Status.
func WithHealthCheck(name string, check HealthCheck) ManagerOption {
	return func(m *Manager) {
		if check != nil {
			m.health = append(m.health, namedCheck{name: name, check: check})
		}
	}
}

const healthCheckTimeout = 5 * time.Second

func (m *Manager) checkHealth(ctx context.Context) []ComponentHealth {
	out := make([]ComponentHealth, 0, len(m.health))
	for _, hc := range m.health {
		checkCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
		err := hc.check(checkCtx)
		cancel()
		if err != nil {
			m.logger.Debug("health check failed", logging.String("component_name", hc.name), logging.Error(err))
			out = append(out, UnhealthyComponent(hc.name, err.Error()))
			continue
		}
		out = append(out, HealthyComponent(hc.name))
	}
	return out
}

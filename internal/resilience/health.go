package resilience

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// HealthStatus represents the health status of a component.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "HEALTHY"
	HealthStatusDegraded  HealthStatus = "DEGRADED"
	HealthStatusUnhealthy HealthStatus = "UNHEALTHY"
)

// ComponentHealth represents the health of a single component.
type ComponentHealth struct {
	Name    string        `json:"name"`
	Status  HealthStatus  `json:"status"`
	Message string        `json:"message,omitempty"`
	Latency time.Duration `json:"latency_ns"`
}

// HealthCheck probes one component.
type HealthCheck func(ctx context.Context) ComponentHealth

// SystemHealth is the combined result of every registered check. The
// overall status is the worst component status.
type SystemHealth struct {
	Status     HealthStatus      `json:"status"`
	Uptime     string            `json:"uptime"`
	CheckedAt  time.Time         `json:"checked_at"`
	Components []ComponentHealth `json:"components"`
}

// Checker runs registered health checks on demand.
type Checker struct {
	mu        sync.RWMutex
	checks    map[string]HealthCheck
	startTime time.Time
	timeout   time.Duration
}

// NewChecker creates a checker whose checks share timeout.
func NewChecker(timeout time.Duration) *Checker {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Checker{
		checks:    make(map[string]HealthCheck),
		startTime: time.Now(),
		timeout:   timeout,
	}
}

// Register adds or replaces the check for a component.
func (c *Checker) Register(name string, check HealthCheck) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = check
}

// Check runs every check concurrently and returns the results sorted by
// component name.
func (c *Checker) Check(ctx context.Context) SystemHealth {
	c.mu.RLock()
	checks := make(map[string]HealthCheck, len(c.checks))
	for k, v := range c.checks {
		checks[k] = v
	}
	c.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var wg sync.WaitGroup
	results := make(chan ComponentHealth, len(checks))
	for name, check := range checks {
		wg.Add(1)
		go func(name string, check HealthCheck) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					results <- ComponentHealth{Name: name, Status: HealthStatusUnhealthy, Message: fmt.Sprintf("check panicked: %v", r)}
				}
			}()
			start := time.Now()
			h := check(ctx)
			h.Name = name
			if h.Latency == 0 {
				h.Latency = time.Since(start)
			}
			results <- h
		}(name, check)
	}
	wg.Wait()
	close(results)

	health := SystemHealth{
		Status:     HealthStatusHealthy,
		Uptime:     time.Since(c.startTime).Round(time.Second).String(),
		CheckedAt:  time.Now().UTC(),
		Components: []ComponentHealth{},
	}
	for h := range results {
		health.Components = append(health.Components, h)
		if rank(h.Status) > rank(health.Status) {
			health.Status = h.Status
		}
	}
	sort.Slice(health.Components, func(i, j int) bool {
		return health.Components[i].Name < health.Components[j].Name
	})
	return health
}

func rank(s HealthStatus) int {
	switch s {
	case HealthStatusHealthy:
		return 0
	case HealthStatusDegraded:
		return 1
	}
	return 2
}

// DatabaseHealthCheck creates a health check for database connections.
func DatabaseHealthCheck(ping func(ctx context.Context) error, slow time.Duration) HealthCheck {
	return func(ctx context.Context) ComponentHealth {
		start := time.Now()
		err := ping(ctx)
		health := ComponentHealth{Latency: time.Since(start)}

		switch {
		case err != nil:
			health.Status = HealthStatusUnhealthy
			health.Message = fmt.Sprintf("ping failed: %v", err)
		case slow > 0 && health.Latency > slow:
			health.Status = HealthStatusDegraded
			health.Message = fmt.Sprintf("slow: %v", health.Latency.Round(time.Millisecond))
		default:
			health.Status = HealthStatusHealthy
		}
		return health
	}
}

// BreakerHealthCheck reports an open breaker as degraded and a half-open
// one as healthy but probing.
func BreakerHealthCheck(b *Breaker) HealthCheck {
	return func(ctx context.Context) ComponentHealth {
		stats := b.Stats()
		switch stats.State {
		case CircuitOpen:
			return ComponentHealth{Status: HealthStatusDegraded, Message: "circuit open: " + stats.LastFailure}
		case CircuitHalfOpen:
			return ComponentHealth{Status: HealthStatusHealthy, Message: "circuit half-open"}
		}
		return ComponentHealth{Status: HealthStatusHealthy}
	}
}

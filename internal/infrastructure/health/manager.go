package health

import (
	"context"
	"dlob_engine/internal/core"
	"maps"
	"sync"
	"time"
)

type check struct {
	fn       func() error
	critical bool
}

// HealthManager aggregates health status from different components
type HealthManager struct {
	logger core.ILogger
	mu     sync.RWMutex
	checks map[string]check

	wmu      sync.Mutex
	watchers []func(component string, healthy bool)
	last     map[string]bool
}

// NewHealthManager creates a new health manager
func NewHealthManager(logger core.ILogger) *HealthManager {
	hm := &HealthManager{
		checks: make(map[string]check),
		last:   make(map[string]bool),
	}
	if logger != nil {
		hm.logger = logger.WithField("component", "health_manager")
	}
	return hm
}

// Register adds a critical health check for a component
func (hm *HealthManager) Register(component string, fn func() error) {
	hm.register(component, fn, true)
}

// RegisterOptional adds a check that is reported but does not affect IsHealthy
func (hm *HealthManager) RegisterOptional(component string, fn func() error) {
	hm.register(component, fn, false)
}

func (hm *HealthManager) register(component string, fn func() error, critical bool) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.checks[component] = check{fn: fn, critical: critical}
}

// Components returns the registered component names
func (hm *HealthManager) Components() []string {
	hm.mu.RLock()
	defer hm.mu.RUnlock()
	names := make([]string, 0, len(hm.checks))
	for name := range hm.checks {
		names = append(names, name)
	}
	return names
}

func (hm *HealthManager) run() map[string]error {
	hm.mu.RLock()
	checks := maps.Clone(hm.checks)
	hm.mu.RUnlock()

	results := make(map[string]error, len(checks))
	for component, c := range checks {
		results[component] = c.fn()
	}
	return results
}

// GetStatus returns the current status of all registered components
func (hm *HealthManager) GetStatus() map[string]string {
	status := make(map[string]string)
	for component, err := range hm.run() {
		if err != nil {
			status[component] = "Unhealthy: " + err.Error()
		} else {
			status[component] = "Healthy"
		}
	}
	return status
}

// Check runs a single component's check; unknown components report false
func (hm *HealthManager) Check(component string) (bool, error) {
	hm.mu.RLock()
	c, ok := hm.checks[component]
	hm.mu.RUnlock()
	if !ok {
		return false, nil
	}
	return true, c.fn()
}

// IsHealthy returns true if all critical components are healthy
func (hm *HealthManager) IsHealthy() bool {
	hm.mu.RLock()
	checks := maps.Clone(hm.checks)
	hm.mu.RUnlock()

	for _, c := range checks {
		if !c.critical {
			continue
		}
		if err := c.fn(); err != nil {
			return false
		}
	}
	return true
}

// OnChange registers a callback invoked by Watch whenever a component flips state.
// The empty component name carries the overall result.
func (hm *HealthManager) OnChange(fn func(component string, healthy bool)) {
	hm.wmu.Lock()
	defer hm.wmu.Unlock()
	hm.watchers = append(hm.watchers, fn)
}

// Watch evaluates every check on each tick and reports transitions until ctx is done
func (hm *HealthManager) Watch(ctx context.Context, interval time.Duration) {
	hm.evaluate()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			hm.evaluate()
		}
	}
}

func (hm *HealthManager) evaluate() {
	results := hm.run()

	hm.mu.RLock()
	overall := true
	for component, err := range results {
		if c, ok := hm.checks[component]; ok && c.critical && err != nil {
			overall = false
		}
	}
	hm.mu.RUnlock()

	hm.wmu.Lock()
	defer hm.wmu.Unlock()

	notify := func(component string, healthy bool) {
		if prev, seen := hm.last[component]; seen && prev == healthy {
			return
		}
		hm.last[component] = healthy
		if hm.logger != nil && component != "" {
			if healthy {
				hm.logger.Info("Component healthy", "check", component)
			} else {
				hm.logger.Warn("Component unhealthy", "check", component, "error", results[component])
			}
		}
		for _, w := range hm.watchers {
			w(component, healthy)
		}
	}

	for component, err := range results {
		notify(component, err == nil)
	}
	notify("", overall)
}

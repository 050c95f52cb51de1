// Package health collects the up/down indicators of the runtime's components
// and exposes them as liveness and readiness checks.
package health

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/heptiolabs/healthcheck"
)

const goroutineThreshold = 10000

// Status is the answer of one indicator.
type Status struct {
	Up     bool `json:"up"`
	Detail any  `json:"detail,omitempty"`
}

// Indicator reports the health of one component.
type Indicator func() Status

// Report is the aggregated health of every registered indicator.
type Report struct {
	Up         bool              `json:"up"`
	Components map[string]Status `json:"components"`
}

// Registry holds named indicators.
type Registry struct {
	mu         sync.RWMutex
	indicators map[string]Indicator
}

func NewRegistry() *Registry {
	return &Registry{indicators: make(map[string]Indicator)}
}

// Register adds or replaces the indicator called name.
func (r *Registry) Register(name string, ind Indicator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.indicators[name] = ind
}

// Names returns the registered indicator names in order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.indicators))
	for name := range r.indicators {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Check evaluates every indicator. The report is up iff all of them are.
func (r *Registry) Check() Report {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rep := Report{Up: true, Components: make(map[string]Status, len(r.indicators))}
	for name, ind := range r.indicators {
		st := ind()
		rep.Components[name] = st
		if !st.Up {
			rep.Up = false
		}
	}
	return rep
}

// Handler returns a healthcheck handler whose readiness checks are the
// registered indicators, plus a goroutine-count liveness check.
func (r *Registry) Handler() healthcheck.Handler {
	h := healthcheck.NewHandler()
	h.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(goroutineThreshold))
	for _, name := range r.Names() {
		h.AddReadinessCheck(name, r.check(name))
	}
	return h
}

func (r *Registry) check(name string) healthcheck.Check {
	return func() error {
		r.mu.RLock()
		ind, ok := r.indicators[name]
		r.mu.RUnlock()
		if !ok {
			return errors.New("indicator removed")
		}
		if st := ind(); !st.Up {
			return fmt.Errorf("%s is down", name)
		}
		return nil
	}
}

// Package shutdown runs registered exit hooks in priority order.
package shutdown

import (
	"context"
	"log/slog"
	"sort"
	"sync"
)

// Hook is a named cleanup step. Lower priorities run first.
type Hook struct {
	Name     string
	Priority int
	Fn       func(ctx context.Context) error
}

// Registry collects hooks and runs them once.
type Registry struct {
	mu     sync.Mutex
	hooks  []Hook
	ran    bool
	logger *slog.Logger
}

// NewRegistry returns an empty Registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{logger: logger.With("component", "shutdown")}
}

// Register adds a hook. Hooks registered after Run has started are ignored.
func (r *Registry) Register(name string, priority int, fn func(ctx context.Context) error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ran {
		r.logger.Warn("hook registered after shutdown started", "hook", name)
		return
	}
	r.hooks = append(r.hooks, Hook{Name: name, Priority: priority, Fn: fn})
}

// Run executes all hooks sequentially. A failing hook is logged and does not
// stop the remaining ones. Subsequent calls return 0 without running anything.
// The returned value is the number of hooks that failed.
func (r *Registry) Run(ctx context.Context) int {
	r.mu.Lock()
	if r.ran {
		r.mu.Unlock()
		return 0
	}
	r.ran = true
	hooks := make([]Hook, len(r.hooks))
	copy(hooks, r.hooks)
	r.mu.Unlock()

	sort.SliceStable(hooks, func(i, j int) bool { return hooks[i].Priority < hooks[j].Priority })

	failed := 0
	for _, h := range hooks {
		r.logger.Debug("running shutdown hook", "hook", h.Name)
		if err := h.Fn(ctx); err != nil {
			failed++
			r.logger.Warn("shutdown hook failed", "hook", h.Name, "error", err)
		}
	}
	return failed
}

package config

import "sync/atomic"

// Store holds the current configuration. Readers always see a complete
// snapshot; the watcher swaps in a new one on reload.
type Store struct {
	current atomic.Pointer[Config]
}

// NewStore returns a Store seeded with cfg.
func NewStore(cfg *Config) *Store {
	s := &Store{}
	s.current.Store(cfg)
	return s
}

// Get returns the current configuration snapshot. Callers must not mutate it.
func (s *Store) Get() *Config {
	return s.current.Load()
}

// Set replaces the current configuration.
func (s *Store) Set(cfg *Config) {
	s.current.Store(cfg)
}

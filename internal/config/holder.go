package config

import "sync/atomic"

// Holder publishes the current settings snapshot to concurrent readers.
// Snapshots are never mutated after Store, so readers never observe a half-updated config.
type Holder struct {
	current atomic.Pointer[Config]
}

// NewHolder creates a holder with cfg as the initial snapshot.
func NewHolder(cfg *Config) *Holder {
	h := new(Holder)
	if cfg != nil {
		h.Store(cfg)
	}

	return h
}

// Load returns the current snapshot, or nil when none was stored.
func (h *Holder) Load() *Config {
	return h.current.Load()
}

// Store publishes a copy of cfg.
func (h *Holder) Store(cfg *Config) {
	h.current.Store(cfg.Clone())
}

package config

import "sync/atomic"

// Holder wraps a Config with atomic swap semantics so the running service
// can pick up YAML changes without a restart. Reload keeps the old config
// when the new file fails validation.
type Holder struct {
	cfg  atomic.Pointer[Config]
	path string
}

// NewHolder creates a Holder seeded with cfg, reloading from yamlPath.
func NewHolder(cfg *Config, yamlPath string) *Holder {
	h := &Holder{path: yamlPath}
	h.cfg.Store(cfg)
	return h
}

// Get returns the current config snapshot.
func (h *Holder) Get() *Config {
	return h.cfg.Load()
}

// Reload re-runs the full load hierarchy and swaps the config in atomically.
// On any load or validation error the previous config stays active.
func (h *Holder) Reload() error {
	cfg, err := LoadFrom(h.path)
	if err != nil {
		return err
	}
	h.cfg.Store(cfg)
	return nil
}

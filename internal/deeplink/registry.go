// Package deeplink owns the lifecycle of deep-link tokens and the module
// registry that maps app variants to their platform identifiers.
package deeplink

import (
	"sync"

	"kashee-notify/internal/common/errors"
)

// AppConfig describes one registered app variant.
type AppConfig struct {
	Scheme          string
	AndroidPackage  string
	IOSBundleID     string
	DefaultFallback string
}

// Registry is a process-wide map from module name to app configuration.
// Read-mostly; registrations happen at startup.
type Registry struct {
	mu         sync.RWMutex
	apps       map[string]AppConfig
	generation uint64
}

// NewRegistry returns a registry pre-loaded with the default app variants.
func NewRegistry() *Registry {
	r := &Registry{apps: map[string]AppConfig{}}
	r.Register("member", AppConfig{
		Scheme:          "kashee-member",
		AndroidPackage:  "com.kasheemilk.kashee",
		IOSBundleID:     "com.kasheemilk.kashee.ios",
		DefaultFallback: "https://tech.kasheemilk.com/",
	})
	r.Register("sahayak", AppConfig{
		Scheme:          "kashee-sahayak",
		AndroidPackage:  "com.kasheemilk.kashee_sahayak",
		IOSBundleID:     "com.kasheemilk.kashee_sahayak.ios",
		DefaultFallback: "https://tech.kasheemilk.com/",
	})
	r.Register("pes", AppConfig{
		Scheme:          "kashee-pes",
		AndroidPackage:  "com.kasheemilk.pes",
		IOSBundleID:     "com.kasheemilk.pes.ios",
		DefaultFallback: "https://tech.kasheemilk.com/",
	})
	return r
}

func (r *Registry) Register(module string, cfg AppConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.apps[module] = cfg
	r.generation++
}

// Get returns the app config for a module, or InvalidModule for unknown
// names.
func (r *Registry) Get(module string) (AppConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.apps[module]
	if !ok {
		return AppConfig{}, errors.NewInvalidModuleError(module)
	}
	return cfg, nil
}

func (r *Registry) Exists(module string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.apps[module]
	return ok
}

// Generation increments on every registration; cached lookups invalidate on
// a generation change.
func (r *Registry) Generation() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.generation
}

// Modules lists the registered module names.
func (r *Registry) Modules() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.apps))
	for name := range r.apps {
		names = append(names, name)
	}
	return names
}

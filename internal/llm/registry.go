package llm

import (
	"fmt"
	"log/slog"
	"sync"
)

// Registry maps model names to their descriptor and provider client.
type Registry struct {
	catalog map[string]Descriptor
	logger  *slog.Logger

	mu        sync.RWMutex
	providers map[string]Provider
}

// RegistryOpts holds parameters for creating a Registry.
type RegistryOpts struct {
	Catalog   map[string]Descriptor // defaults to DefaultCatalog()
	Providers []Provider
	Logger    *slog.Logger
}

// NewRegistry creates a Registry. Providers are keyed by Name(); a later
// provider with the same name replaces an earlier one.
func NewRegistry(opts RegistryOpts) *Registry {
	catalog := opts.Catalog
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		catalog:   make(map[string]Descriptor, len(catalog)),
		logger:    logger,
		providers: make(map[string]Provider),
	}
	for name, d := range catalog {
		d.Name = name
		r.catalog[name] = d
	}
	for _, p := range opts.Providers {
		r.providers[p.Name()] = p
	}
	return r
}

// Register adds or replaces a provider client.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
}

// Resolve returns the descriptor for model.
func (r *Registry) Resolve(model string) (Descriptor, error) {
	d, ok := r.catalog[model]
	if !ok {
		return Descriptor{}, fmt.Errorf("llm: resolve %q: %w", model, ErrUnsupportedModel)
	}
	return d, nil
}

// Supported reports whether model is in the catalog.
func (r *Registry) Supported(model string) bool {
	_, ok := r.catalog[model]
	return ok
}

// Client returns the provider client serving model.
func (r *Registry) Client(model string) (Provider, error) {
	d, err := r.Resolve(model)
	if err != nil {
		return nil, err
	}
	r.mu.RLock()
	p, ok := r.providers[d.Provider]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("llm: client for %q (%s): %w", model, d.Provider, ErrUnimplementedProvider)
	}
	return p, nil
}

// Cost prices a call. Unknown models cost zero; the miss is logged, not returned.
func (r *Registry) Cost(inputTokens, outputTokens int64, model string) float64 {
	d, ok := r.catalog[model]
	if !ok {
		r.logger.Warn("cost for unknown model", "model", model)
		return 0
	}
	if d.Price.Divisor == 0 {
		return 0
	}
	return (float64(inputTokens)*d.Price.Input + float64(outputTokens)*d.Price.Output) / d.Price.Divisor
}

// Models returns every descriptor sorted by name.
func (r *Registry) Models() []Descriptor {
	out := make([]Descriptor, 0, len(r.catalog))
	for _, name := range sortedNames(r.catalog) {
		out = append(out, r.catalog[name])
	}
	return out
}

// Providers returns the names of the providers that have a client.
func (r *Registry) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	return names
}

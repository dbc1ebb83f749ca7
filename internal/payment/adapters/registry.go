package adapters

import (
	"sort"
	"strings"

	"github.com/smallbiznis/referralledger/internal/payment/domain"
)

// Registry resolves the webhook adapter for a provider named in the URL.
// Names are matched case-insensitively.
type Registry struct {
	factories map[string]domain.AdapterFactory
}

func NewRegistry(factories ...domain.AdapterFactory) *Registry {
	r := &Registry{factories: make(map[string]domain.AdapterFactory, len(factories))}
	for _, factory := range factories {
		if factory == nil {
			continue
		}
		if name := normalize(factory.Provider()); name != "" {
			r.factories[name] = factory
		}
	}
	return r
}

func (r *Registry) ProviderExists(provider string) bool {
	_, ok := r.lookup(provider)
	return ok
}

// Providers lists the registered provider names in order.
func (r *Registry) Providers() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) NewAdapter(provider string, cfg domain.AdapterConfig) (domain.PaymentAdapter, error) {
	factory, ok := r.lookup(provider)
	if !ok {
		return nil, domain.ErrProviderNotFound
	}
	return factory.NewAdapter(cfg)
}

func (r *Registry) lookup(provider string) (domain.AdapterFactory, bool) {
	if r == nil {
		return nil, false
	}
	factory, ok := r.factories[normalize(provider)]
	return factory, ok
}

func normalize(provider string) string {
	return strings.ToLower(strings.TrimSpace(provider))
}

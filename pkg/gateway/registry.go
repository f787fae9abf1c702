package gateway

import (
	"fmt"
	"sort"
	"strings"
)

// Registry resolves adapters by provider name. It is built once at startup
// and read-only afterwards; adding a provider means one adapter type and
// one Register call.
type Registry struct {
	adapters map[string]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[string]Adapter)}
	for _, a := range adapters {
		r.Register(a)
	}
	return r
}

func (r *Registry) Register(a Adapter) {
	r.adapters[strings.ToLower(a.Name())] = a
}

func (r *Registry) Resolve(name string) (Adapter, error) {
	a, ok := r.adapters[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownGateway, name)
	}
	return a, nil
}

// Names lists registered providers, sorted for stable output.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

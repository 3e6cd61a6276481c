package core

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	goerrors "github.com/goliatone/go-errors"
)

// ProviderRouter maps a provider id to its registered client. Pure
// registry, no I/O; the connector service resolves clients through it
// without knowing concrete types.
type ProviderRouter struct {
	mu      sync.RWMutex
	clients map[Provider]ProviderClient
}

func NewProviderRouter() *ProviderRouter {
	return &ProviderRouter{clients: make(map[Provider]ProviderClient)}
}

func (r *ProviderRouter) Register(client ProviderClient) error {
	if client == nil {
		return fmt.Errorf("core: provider client is nil")
	}
	id := Provider(strings.TrimSpace(string(client.ID())))
	if id == "" {
		return fmt.Errorf("core: provider id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.clients[id]; exists {
		return fmt.Errorf("core: provider already registered: %s", id)
	}
	r.clients[id] = client
	return nil
}

func (r *ProviderRouter) Get(provider Provider) (ProviderClient, bool) {
	id := Provider(strings.TrimSpace(string(provider)))
	if id == "" {
		return nil, false
	}
	r.mu.RLock()
	client, ok := r.clients[id]
	r.mu.RUnlock()
	return client, ok
}

// Require resolves a client or fails with an error naming the missing
// provider, so unsupported aggregators fail fast instead of no-opping.
func (r *ProviderRouter) Require(provider Provider) (ProviderClient, error) {
	client, ok := r.Get(provider)
	if !ok {
		return nil, newCoreError(
			fmt.Sprintf("core: no client registered for provider %q", provider),
			goerrors.CategoryNotFound,
			ErrorProviderNotFound,
		)
	}
	return client, nil
}

func (r *ProviderRouter) Providers() []Provider {
	r.mu.RLock()
	ids := make([]Provider, 0, len(r.clients))
	for id := range r.clients {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

package banksync

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/goliatone/go-banksync/core"
)

// ProviderPack is a named bundle of provider clients contributed by an
// external integration, registered with the runtime's router on build.
type ProviderPack struct {
	Name    string
	Clients []core.ProviderClient
}

// ExtensionHooks lets downstream modules contribute provider clients
// without the runtime importing them.
type ExtensionHooks struct {
	mu    sync.RWMutex
	packs map[string]ProviderPack
}

func NewExtensionHooks() *ExtensionHooks {
	return &ExtensionHooks{packs: map[string]ProviderPack{}}
}

func (h *ExtensionHooks) RegisterProviderPack(pack ProviderPack) error {
	if h == nil {
		return fmt.Errorf("banksync: extension hooks are nil")
	}
	name := strings.TrimSpace(pack.Name)
	if name == "" {
		return fmt.Errorf("banksync: provider pack name is required")
	}
	if len(pack.Clients) == 0 {
		return fmt.Errorf("banksync: provider pack %q has no clients", name)
	}

	normalized := ProviderPack{
		Name:    name,
		Clients: append([]core.ProviderClient(nil), pack.Clients...),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.packs[name]; exists {
		return fmt.Errorf("banksync: provider pack %q already registered", name)
	}
	h.packs[name] = normalized
	return nil
}

// ApplyProviderPacks registers every pack's clients with the router,
// in pack-name order.
func (h *ExtensionHooks) ApplyProviderPacks(router *core.ProviderRouter) error {
	if h == nil {
		return nil
	}
	if router == nil {
		return fmt.Errorf("banksync: provider router is required")
	}
	for _, pack := range h.ProviderPacks() {
		for _, client := range pack.Clients {
			if client == nil {
				return fmt.Errorf("banksync: provider pack %q contains nil client", pack.Name)
			}
			if err := router.Register(client); err != nil {
				return err
			}
		}
	}
	return nil
}

func (h *ExtensionHooks) ProviderPacks() []ProviderPack {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()

	names := make([]string, 0, len(h.packs))
	for name := range h.packs {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]ProviderPack, 0, len(names))
	for _, name := range names {
		pack := h.packs[name]
		out = append(out, ProviderPack{
			Name:    pack.Name,
			Clients: append([]core.ProviderClient(nil), pack.Clients...),
		})
	}
	return out
}

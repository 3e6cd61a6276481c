package webhooks

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-banksync/core"
)

// StaticSecretResolver serves signing secrets from a fixed map.
type StaticSecretResolver struct {
	secrets map[core.Provider]string
}

func NewStaticSecretResolver(secrets map[core.Provider]string) *StaticSecretResolver {
	copied := make(map[core.Provider]string, len(secrets))
	for provider, secret := range secrets {
		copied[provider] = secret
	}
	return &StaticSecretResolver{secrets: copied}
}

func (r *StaticSecretResolver) Resolve(
	_ context.Context,
	provider core.Provider,
	_ map[string]string,
) (string, error) {
	if r == nil {
		return "", fmt.Errorf("webhooks: secret resolver is nil")
	}
	return r.secrets[provider], nil
}

type cachedSecret struct {
	value     string
	expiresAt time.Time
}

type CachedSecretResolverOption func(*CachedSecretResolver)

func WithCacheClock(now func() time.Time) CachedSecretResolverOption {
	return func(r *CachedSecretResolver) {
		if now != nil {
			r.now = now
		}
	}
}

// CachedSecretResolver memoizes a slower resolver, typically a
// cloud-backed secret manager, per provider with a TTL.
type CachedSecretResolver struct {
	source SecretResolver
	ttl    time.Duration
	now    func() time.Time

	mu    sync.Mutex
	cache map[core.Provider]cachedSecret
}

func NewCachedSecretResolver(
	source SecretResolver,
	ttl time.Duration,
	opts ...CachedSecretResolverOption,
) (*CachedSecretResolver, error) {
	if source == nil {
		return nil, fmt.Errorf("webhooks: source secret resolver is required")
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	r := &CachedSecretResolver{
		source: source,
		ttl:    ttl,
		now:    func() time.Time { return time.Now().UTC() },
		cache:  make(map[core.Provider]cachedSecret),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(r)
	}
	return r, nil
}

func (r *CachedSecretResolver) Resolve(
	ctx context.Context,
	provider core.Provider,
	headers map[string]string,
) (string, error) {
	if r == nil {
		return "", fmt.Errorf("webhooks: secret resolver is nil")
	}
	now := r.now()

	r.mu.Lock()
	entry, ok := r.cache[provider]
	r.mu.Unlock()
	if ok && now.Before(entry.expiresAt) {
		return entry.value, nil
	}

	secret, err := r.source.Resolve(ctx, provider, headers)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(secret) != "" {
		r.mu.Lock()
		r.cache[provider] = cachedSecret{value: secret, expiresAt: now.Add(r.ttl)}
		r.mu.Unlock()
	}
	return secret, nil
}

// FailoverSecretResolver tries each resolver in order and returns the
// first non-empty secret. Resolver errors fall through to the next in
// the chain; only an exhausted chain reports the last error.
type FailoverSecretResolver struct {
	chain []SecretResolver
}

func NewFailoverSecretResolver(chain ...SecretResolver) (*FailoverSecretResolver, error) {
	resolvers := make([]SecretResolver, 0, len(chain))
	for _, resolver := range chain {
		if resolver == nil {
			continue
		}
		resolvers = append(resolvers, resolver)
	}
	if len(resolvers) == 0 {
		return nil, fmt.Errorf("webhooks: at least one secret resolver is required")
	}
	return &FailoverSecretResolver{chain: resolvers}, nil
}

func (r *FailoverSecretResolver) Resolve(
	ctx context.Context,
	provider core.Provider,
	headers map[string]string,
) (string, error) {
	if r == nil {
		return "", fmt.Errorf("webhooks: secret resolver is nil")
	}
	var lastErr error
	for _, resolver := range r.chain {
		secret, err := resolver.Resolve(ctx, provider, headers)
		if err != nil {
			lastErr = err
			continue
		}
		if strings.TrimSpace(secret) != "" {
			return secret, nil
		}
	}
	return "", lastErr
}

var (
	_ SecretResolver = (*StaticSecretResolver)(nil)
	_ SecretResolver = (*CachedSecretResolver)(nil)
	_ SecretResolver = (*FailoverSecretResolver)(nil)
)

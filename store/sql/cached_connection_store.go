package sqlstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	repositorycache "github.com/goliatone/go-repository-cache/cache"

	"github.com/goliatone/go-banksync/core"
)

const connectionCacheKeyPrefix = "go-banksync::connection::v1"

// CachedConnectionStore layers a read-through cache over a connection
// store. Upserts write through to the base store and invalidate the
// cached entry before returning.
type CachedConnectionStore struct {
	base  core.ConnectionStore
	cache repositorycache.CacheService
}

func NewCachedConnectionStore(
	base core.ConnectionStore,
	cacheService repositorycache.CacheService,
) (*CachedConnectionStore, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base connection store is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: connection cache service is required")
	}
	return &CachedConnectionStore{base: base, cache: cacheService}, nil
}

// ConnectionCacheKey returns the deterministic cache key for connection
// reads: go-banksync::connection::v1::<provider>::<connection_external_id>
// with each segment URL-path escaped.
func ConnectionCacheKey(provider core.Provider, connectionExternalID string) (string, error) {
	providerSegment := strings.TrimSpace(string(provider))
	idSegment := strings.TrimSpace(connectionExternalID)
	if providerSegment == "" {
		return "", fmt.Errorf("sqlstore: provider is required for connection cache key")
	}
	if idSegment == "" {
		return "", fmt.Errorf("sqlstore: connection external id is required for connection cache key")
	}
	segments := []string{
		url.PathEscape(providerSegment),
		url.PathEscape(idSegment),
	}
	return strings.Join(append([]string{connectionCacheKeyPrefix}, segments...), "::"), nil
}

func (s *CachedConnectionStore) Get(
	ctx context.Context,
	provider core.Provider,
	connectionExternalID string,
) (*core.Connection, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return nil, fmt.Errorf("sqlstore: cached connection store is not configured")
	}
	cacheKey, err := ConnectionCacheKey(provider, connectionExternalID)
	if err != nil {
		return nil, err
	}

	conn, err := repositorycache.GetOrFetch(ctx, s.cache, cacheKey, func(ctx context.Context) (*core.Connection, error) {
		return s.base.Get(ctx, provider, connectionExternalID)
	})
	if err != nil {
		return nil, err
	}
	if conn == nil {
		return nil, nil
	}
	cloned := *conn
	return &cloned, nil
}

func (s *CachedConnectionStore) Upsert(ctx context.Context, conn core.Connection) (core.Connection, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.Connection{}, fmt.Errorf("sqlstore: cached connection store is not configured")
	}
	stored, err := s.base.Upsert(ctx, conn)
	if err != nil {
		return core.Connection{}, err
	}
	cacheKey, err := ConnectionCacheKey(stored.Provider, stored.ConnectionExternalID)
	if err != nil {
		return core.Connection{}, err
	}
	if err := s.cache.Delete(ctx, cacheKey); err != nil {
		return core.Connection{}, err
	}
	return stored, nil
}

var _ core.ConnectionStore = (*CachedConnectionStore)(nil)

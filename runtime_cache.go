package banksync

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
)

// ConfigHash returns a stable fingerprint for a config. Two configs
// with equal field values hash identically.
func ConfigHash(cfg Config) (string, error) {
	encoded, err := json.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("banksync: hash config: %w", err)
	}
	digest := sha256.Sum256(encoded)
	return hex.EncodeToString(digest[:]), nil
}

// RuntimeCache deduplicates runtime assembly by config hash. Builder
// options are applied only on the first build for a given hash, so
// callers sharing a cache must pass equivalent options.
type RuntimeCache struct {
	mu       sync.Mutex
	runtimes map[string]*Runtime
}

func NewRuntimeCache() *RuntimeCache {
	return &RuntimeCache{runtimes: map[string]*Runtime{}}
}

func (c *RuntimeCache) GetOrCreate(cfg Config, options ...Option) (*Runtime, error) {
	if c == nil {
		return nil, fmt.Errorf("banksync: runtime cache is nil")
	}
	hash, err := ConfigHash(cfg)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if runtime, ok := c.runtimes[hash]; ok {
		return runtime, nil
	}
	runtime, err := New(cfg, options...)
	if err != nil {
		return nil, err
	}
	c.runtimes[hash] = runtime
	return runtime, nil
}

// Close tears down every cached runtime and empties the cache. The
// first close error wins; remaining runtimes still close.
func (c *RuntimeCache) Close() error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	var firstErr error
	for hash, runtime := range c.runtimes {
		if err := runtime.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(c.runtimes, hash)
	}
	return firstErr
}

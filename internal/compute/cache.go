package compute

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"sync"

	"vizflow/internal/domain"
)

// ExecutorCache shares RemoteExecutor instances between views that use the
// same server configuration, so each agent gets one HTTP client and at most
// one gRPC connection.
type ExecutorCache struct {
	mu      sync.RWMutex
	entries map[string]*RemoteExecutor
	opts    []RemoteOption
}

// NewExecutorCache creates a cache whose executors are built with opts.
func NewExecutorCache(opts ...RemoteOption) *ExecutorCache {
	return &ExecutorCache{
		entries: make(map[string]*RemoteExecutor),
		opts:    opts,
	}
}

// GetOrCreate returns the executor for cfg, creating it on first use.
func (c *ExecutorCache) GetOrCreate(cfg domain.ComputationConfig) *RemoteExecutor {
	key := cacheKey(cfg)

	c.mu.RLock()
	if exec, ok := c.entries[key]; ok {
		c.mu.RUnlock()
		return exec
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	if exec, ok := c.entries[key]; ok {
		return exec
	}
	exec := NewRemoteExecutor(cfg, c.opts...)
	c.entries[key] = exec
	return exec
}

// Len returns the number of cached executors.
func (c *ExecutorCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Close closes and forgets every cached executor.
func (c *ExecutorCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var errs []error
	for k, exec := range c.entries {
		if err := exec.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(c.entries, k)
	}
	return errors.Join(errs...)
}

// cacheKey identifies a server configuration. The api key is hashed so the
// map never holds it in clear.
func cacheKey(cfg domain.ComputationConfig) string {
	sum := sha256.Sum256([]byte(cfg.APIKey))
	return strings.Join([]string{
		strings.TrimRight(cfg.Server, "/"),
		TransportFor(cfg),
		cfg.Timeout.String(),
		hex.EncodeToString(sum[:8]),
	}, "|")
}

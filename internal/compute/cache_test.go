package compute

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vizflow/internal/domain"
)

func TestExecutorCache_GetOrCreate(t *testing.T) {
	cache := NewExecutorCache()
	t.Cleanup(func() { _ = cache.Close() })

	cfg := serverConfig("https://agent-1.example.com:9443", "secret")

	t.Run("creates_new_executor", func(t *testing.T) {
		exec := cache.GetOrCreate(cfg)
		require.NotNil(t, exec)
		assert.Equal(t, "https://agent-1.example.com:9443", exec.Endpoint())
		assert.Equal(t, domain.TransportHTTP, exec.Transport())
	})

	t.Run("returns_cached_executor", func(t *testing.T) {
		assert.Same(t, cache.GetOrCreate(cfg), cache.GetOrCreate(cfg))
		withSlash := cfg
		withSlash.Server += "/"
		assert.Same(t, cache.GetOrCreate(cfg), cache.GetOrCreate(withSlash))
	})

	t.Run("different_keys_different_executors", func(t *testing.T) {
		other := cfg
		other.APIKey = "other-secret"
		assert.NotSame(t, cache.GetOrCreate(cfg), cache.GetOrCreate(other))
	})

	t.Run("concurrent_access", func(t *testing.T) {
		fresh := NewExecutorCache()
		var wg sync.WaitGroup
		results := make([]*RemoteExecutor, 10)
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func(idx int) {
				defer wg.Done()
				results[idx] = fresh.GetOrCreate(cfg)
			}(i)
		}
		wg.Wait()
		for i := 1; i < 10; i++ {
			assert.Same(t, results[0], results[i])
		}
		assert.Equal(t, 1, fresh.Len())
	})
}

func TestResolver_Resolve(t *testing.T) {
	local := NewLocalExecutor(NewMemoryStore(), Engine{})
	cache := NewExecutorCache()
	r := NewResolver(local, cache)

	t.Run("client", func(t *testing.T) {
		exec, err := r.Resolve(context.Background(), domain.ClientComputation())
		require.NoError(t, err)
		assert.Same(t, local, exec)
	})

	t.Run("server", func(t *testing.T) {
		exec, err := r.Resolve(context.Background(), serverConfig("grpc://agent:9444", "k"))
		require.NoError(t, err)
		remote, ok := exec.(*RemoteExecutor)
		require.True(t, ok)
		assert.Equal(t, domain.TransportGRPC, remote.Transport())
	})

	t.Run("invalid", func(t *testing.T) {
		_, err := r.Resolve(context.Background(), domain.ComputationConfig{Mode: domain.ModeServer})
		var verr *domain.ValidationError
		require.ErrorAs(t, err, &verr)
	})

	t.Run("unhealthy_does_not_fall_back", func(t *testing.T) {
		checked := NewResolver(local, cache, WithHealthCheck())
		_, err := checked.Resolve(context.Background(), serverConfig("http://127.0.0.1:1", "k"))
		require.Error(t, err)
	})
}

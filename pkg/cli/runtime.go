package cli

import (
	"context"
	"fmt"

	"vizflow/internal/compute"
	"vizflow/internal/datasource"
	"vizflow/internal/domain"
)

// runtime wires the executors one command invocation uses.
type runtime struct {
	store         *compute.MemoryStore
	cache         *compute.ExecutorCache
	resolver      *compute.Resolver
	relationships []domain.Relationship
}

// newRuntime builds the client engine over the datasets in manifestPath
// (optional) and an executor cache for server mode.
func newRuntime(ctx context.Context, g *globals, manifestPath string) (*runtime, error) {
	rt := &runtime{store: compute.NewMemoryStore()}
	if manifestPath != "" {
		m, err := datasource.LoadManifest(manifestPath)
		if err != nil {
			return nil, err
		}
		datasets, err := datasource.NewLoader(datasource.NewRouter(), g.logger).Load(ctx, m)
		if err != nil {
			return nil, err
		}
		for _, d := range datasets {
			rt.store.Put(d)
		}
		rt.relationships = m.Relationships
	}
	local := compute.NewLocalExecutor(rt.store, compute.Engine{Logger: g.logger})
	rt.cache = compute.NewExecutorCache(compute.WithRemoteLogger(g.logger))
	rt.resolver = compute.NewResolver(local, rt.cache, compute.WithResolverLogger(g.logger))
	return rt, nil
}

// executor resolves cfg, requiring a manifest for client mode.
func (rt *runtime) executor(ctx context.Context, cfg domain.ComputationConfig, manifestPath string) (domain.ComputeExecutor, error) {
	if cfg.Mode == domain.ModeClient && manifestPath == "" {
		return nil, domain.ErrValidation("client computation needs --datasets (or set --server)")
	}
	exec, err := rt.resolver.Resolve(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("resolve executor: %w", err)
	}
	return exec, nil
}

func (rt *runtime) Close() error {
	return rt.cache.Close()
}

package compute

import (
	"context"
	"fmt"
	"log/slog"

	"vizflow/internal/domain"
)

// Resolver maps a view's computation configuration to the executor that
// runs its workflows. Client mode always yields the local executor; server
// mode yields a cached remote executor for the configured agent. There is
// no automatic fallback from one to the other.
type Resolver struct {
	local       domain.ComputeExecutor
	cache       *ExecutorCache
	logger      *slog.Logger
	healthCheck bool
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithHealthCheck makes Resolve ping the agent before handing out a remote
// executor.
func WithHealthCheck() ResolverOption {
	return func(r *Resolver) { r.healthCheck = true }
}

// WithResolverLogger sets the logger.
func WithResolverLogger(l *slog.Logger) ResolverOption {
	return func(r *Resolver) { r.logger = l }
}

// NewResolver creates a resolver. cache may be nil when only client mode is used.
func NewResolver(local domain.ComputeExecutor, cache *ExecutorCache, opts ...ResolverOption) *Resolver {
	r := &Resolver{local: local, cache: cache, logger: slog.Default()}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Resolve returns the executor for cfg.
func (r *Resolver) Resolve(ctx context.Context, cfg domain.ComputationConfig) (domain.ComputeExecutor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Mode == domain.ModeClient {
		if r.local == nil {
			return nil, fmt.Errorf("client computation is not configured")
		}
		return r.local, nil
	}

	if r.cache == nil {
		return nil, fmt.Errorf("server computation is not configured for %q", cfg.Server)
	}
	remote := r.cache.GetOrCreate(cfg)
	if r.healthCheck {
		if err := remote.Ping(ctx); err != nil {
			r.logger.Warn("compute agent unhealthy", "endpoint", remote.Endpoint(), "error", err)
			return nil, fmt.Errorf("compute agent %q unhealthy: %w", remote.Endpoint(), err)
		}
	}
	return remote, nil
}

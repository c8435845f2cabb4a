package fieldexpr

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"vizflow/internal/domain"
)

// DefaultSampleSize is the number of values sampled to infer a time format.
const DefaultSampleSize = 20

// Sampler fetches up to n representative values of one field from whichever
// backend is active.
type Sampler interface {
	Sample(ctx context.Context, datasetID, fid string, n int) ([]interface{}, error)
}

// FormatCache infers and remembers the parse format of temporal fields per
// dataset. Concurrent lookups of the same field share one sampling call.
// Entries never expire; callers invalidate on schema change.
type FormatCache struct {
	sampler Sampler
	size    int
	logger  *slog.Logger

	mu      sync.RWMutex
	entries map[string]map[string]string
	gen     map[string]uint64
	group   singleflight.Group
}

// FormatCacheOption configures a FormatCache.
type FormatCacheOption func(*FormatCache)

// WithSampleSize overrides DefaultSampleSize.
func WithSampleSize(n int) FormatCacheOption {
	return func(c *FormatCache) {
		if n > 0 {
			c.size = n
		}
	}
}

// WithLogger sets the cache logger.
func WithLogger(l *slog.Logger) FormatCacheOption {
	return func(c *FormatCache) { c.logger = l }
}

// NewFormatCache creates a cache backed by sampler.
func NewFormatCache(sampler Sampler, opts ...FormatCacheOption) *FormatCache {
	c := &FormatCache{
		sampler: sampler,
		size:    DefaultSampleSize,
		logger:  slog.Default(),
		entries: make(map[string]map[string]string),
		gen:     make(map[string]uint64),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Resolve returns the inferred format of fid in datasetID, sampling the
// backend on first use. The empty string means automatic ISO parsing.
func (c *FormatCache) Resolve(ctx context.Context, datasetID, fid string) (string, error) {
	c.mu.RLock()
	if f, ok := c.entries[datasetID][fid]; ok {
		c.mu.RUnlock()
		return f, nil
	}
	gen := c.gen[datasetID]
	c.mu.RUnlock()

	key := datasetID + "\x00" + fid
	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		samples, err := c.sampler.Sample(ctx, datasetID, fid, c.size)
		if err != nil {
			return "", fmt.Errorf("sample %s.%s: %w", datasetID, fid, err)
		}
		format := InferFormat(samples)
		c.logger.Debug("inferred time format", "dataset", datasetID, "field", fid,
			"format", format, "samples", len(samples))

		c.mu.Lock()
		defer c.mu.Unlock()
		// A sample started before Invalidate must not repopulate the cache.
		if c.gen[datasetID] == gen {
			if c.entries[datasetID] == nil {
				c.entries[datasetID] = make(map[string]string)
			}
			c.entries[datasetID][fid] = format
		}
		return format, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Invalidate forgets every format inferred for datasetID.
func (c *FormatCache) Invalidate(datasetID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, datasetID)
	c.gen[datasetID]++
}

// InvalidateAll forgets every inferred format.
func (c *FormatCache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id := range c.entries {
		c.gen[id]++
	}
	c.entries = make(map[string]map[string]string)
}

// Annotate returns a copy of fields in which every dateTimeDrill and
// dateTimeFeature over a raw field without an explicit format carries the
// inferred one. Fields that need nothing are returned unchanged.
func (c *FormatCache) Annotate(ctx context.Context, datasetID string, fields []domain.Field) ([]domain.Field, error) {
	idx, err := domain.IndexFields(fields)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Field, len(fields))
	for i, f := range fields {
		out[i] = f
		e := f.Expression
		if e == nil || (e.Op != domain.OpDateTimeDrill && e.Op != domain.OpDateTimeFeature) {
			continue
		}
		if _, ok := e.Param(domain.ParamFormat); ok {
			continue
		}
		refs := e.FieldRefs()
		if len(refs) != 1 {
			continue
		}
		origin, ok := idx[refs[0]]
		if !ok || origin.IsDerived() {
			continue
		}
		format, err := c.Resolve(ctx, originDataset(origin, datasetID), origin.FID)
		if err != nil {
			return nil, err
		}
		if format == "" {
			continue
		}
		expr := e.Clone()
		expr.Params = append(expr.Params, domain.ExpressionParam{Type: domain.ParamFormat, Value: format})
		out[i].Expression = expr
	}
	return out, nil
}

func originDataset(f domain.Field, fallback string) string {
	if f.Dataset != "" {
		return f.Dataset
	}
	return fallback
}

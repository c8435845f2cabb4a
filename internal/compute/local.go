package compute

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"vizflow/internal/domain"
	"vizflow/internal/joinpath"
)

var _ domain.ComputeExecutor = (*LocalExecutor)(nil)

// DatasetStore supplies in-memory datasets by id.
type DatasetStore interface {
	Dataset(ctx context.Context, id string) (domain.Dataset, error)
	Datasets(ctx context.Context) ([]domain.Dataset, error)
}

// MemoryStore is a concurrency-safe DatasetStore held in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	datasets map[string]domain.Dataset
}

// NewMemoryStore creates a store holding the given datasets.
func NewMemoryStore(datasets ...domain.Dataset) *MemoryStore {
	s := &MemoryStore{datasets: make(map[string]domain.Dataset, len(datasets))}
	for _, d := range datasets {
		s.datasets[d.ID] = d
	}
	return s
}

// Put adds or replaces a dataset.
func (s *MemoryStore) Put(d domain.Dataset) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.datasets[d.ID] = d
}

// Remove drops a dataset.
func (s *MemoryStore) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.datasets, id)
}

// Dataset returns the dataset with the given id.
func (s *MemoryStore) Dataset(_ context.Context, id string) (domain.Dataset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.datasets[id]
	if !ok {
		return domain.Dataset{}, domain.ErrNotFound("dataset %q not found", id)
	}
	return d, nil
}

// Datasets returns every dataset ordered by id.
func (s *MemoryStore) Datasets(_ context.Context) ([]domain.Dataset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Dataset, 0, len(s.datasets))
	for _, d := range s.datasets {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// LocalExecutor runs workflows in process with the client engine.
type LocalExecutor struct {
	store  DatasetStore
	engine Engine
}

// NewLocalExecutor creates a LocalExecutor over store.
func NewLocalExecutor(store DatasetStore, engine Engine) *LocalExecutor {
	return &LocalExecutor{store: store, engine: engine}
}

// Query combines the primary dataset with any joined datasets and executes
// the workflow. The engine runs on its own goroutine so a cancelled context
// returns promptly; the abandoned result is discarded.
func (e *LocalExecutor) Query(ctx context.Context, req domain.QueryRequest) ([]domain.Row, error) {
	rows, fields, err := e.load(ctx, req)
	if err != nil {
		return nil, err
	}

	type result struct {
		rows []domain.Row
		err  error
	}
	done := make(chan result, 1)
	go func() {
		out, err := e.engine.Execute(rows, fields, req.Workflow)
		done <- result{out, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-done:
		return r.rows, r.err
	}
}

func (e *LocalExecutor) load(ctx context.Context, req domain.QueryRequest) ([]domain.Row, []domain.Field, error) {
	primary, err := e.store.Dataset(ctx, req.DatasetID)
	if err != nil {
		return nil, nil, err
	}
	if len(req.Joins) == 0 {
		return primary.Rows, primary.Fields, nil
	}

	sets := map[string][]domain.Row{primary.ID: primary.Rows}
	fields := append([]domain.Field(nil), primary.Fields...)
	for _, hop := range req.Joins {
		if _, ok := sets[hop.From]; ok {
			continue
		}
		d, err := e.store.Dataset(ctx, hop.From)
		if err != nil {
			return nil, nil, fmt.Errorf("load joined dataset: %w", err)
		}
		sets[d.ID] = d.Rows
		fields = append(fields, d.Fields...)
	}
	rows, err := joinpath.Combine(primary.ID, sets, req.Joins)
	if err != nil {
		return nil, nil, err
	}
	return rows, fields, nil
}

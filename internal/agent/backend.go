package agent

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"sort"
	"sync"

	"github.com/duckdb/duckdb-go/v2"

	"vizflow/internal/compute"
	"vizflow/internal/domain"
	"vizflow/internal/sqlgen"
)

// Backend names reported by /health.
const (
	BackendMemory = "memory"
	BackendDuckDB = "duckdb"
)

// Backend executes workflows for the agent.
type Backend interface {
	Name() string
	Query(ctx context.Context, req domain.QueryRequest) ([]domain.Row, error)
	Datasets(ctx context.Context) ([]compute.DatasetInfo, error)
	// Version describes the execution engine; empty when not applicable.
	Version(ctx context.Context) string
	// Reload replaces the served datasets. Datasets absent from the new set
	// are removed.
	Reload(ctx context.Context, datasets ...domain.Dataset) error
}

// === In-memory ===

// MemoryBackend runs workflows with the client engine over datasets held in
// process, so its results match client computation exactly.
type MemoryBackend struct {
	store *compute.MemoryStore
	exec  *compute.LocalExecutor
}

// NewMemoryBackend serves the given datasets with engine.
func NewMemoryBackend(engine compute.Engine, datasets ...domain.Dataset) *MemoryBackend {
	store := compute.NewMemoryStore(datasets...)
	return &MemoryBackend{store: store, exec: compute.NewLocalExecutor(store, engine)}
}

// Name implements Backend.
func (b *MemoryBackend) Name() string { return BackendMemory }

// Query implements Backend.
func (b *MemoryBackend) Query(ctx context.Context, req domain.QueryRequest) ([]domain.Row, error) {
	return b.exec.Query(ctx, req)
}

// Datasets implements Backend.
func (b *MemoryBackend) Datasets(ctx context.Context) ([]compute.DatasetInfo, error) {
	ds, err := b.store.Datasets(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]compute.DatasetInfo, len(ds))
	for i, d := range ds {
		out[i] = compute.DatasetInfo{ID: d.ID, Fields: d.Fields, RowCount: len(d.Rows)}
	}
	return out, nil
}

// Version implements Backend.
func (b *MemoryBackend) Version(context.Context) string { return "" }

// Reload implements Backend.
func (b *MemoryBackend) Reload(ctx context.Context, datasets ...domain.Dataset) error {
	current, err := b.store.Datasets(ctx)
	if err != nil {
		return err
	}
	keep := make(map[string]bool, len(datasets))
	for _, d := range datasets {
		keep[d.ID] = true
		b.store.Put(d)
	}
	for _, d := range current {
		if !keep[d.ID] {
			b.store.Remove(d.ID)
		}
	}
	return nil
}

// === DuckDB ===

// OpenDuckDB opens a DuckDB database. Every pooled connection runs in UTC so
// date parts and truncation agree with the client engine.
func OpenDuckDB(dsn string) (*sql.DB, error) {
	connector, err := duckdb.NewConnector(dsn, func(execer driver.ExecerContext) error {
		_, err := execer.ExecContext(context.Background(), "SET TimeZone = 'UTC'", nil)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	return sql.OpenDB(connector), nil
}

// DuckDBBackend loads datasets into DuckDB tables and executes workflows as
// generated SQL.
type DuckDBBackend struct {
	db *sql.DB

	mu     sync.RWMutex
	tables map[string]sqlgen.Table
	info   map[string]compute.DatasetInfo
}

// NewDuckDBBackend wraps db. Datasets are added with Load.
func NewDuckDBBackend(db *sql.DB) *DuckDBBackend {
	return &DuckDBBackend{
		db:     db,
		tables: make(map[string]sqlgen.Table),
		info:   make(map[string]compute.DatasetInfo),
	}
}

// Load creates (or replaces) the table backing each dataset.
func (b *DuckDBBackend) Load(ctx context.Context, datasets ...domain.Dataset) error {
	for _, d := range datasets {
		t := sqlgen.Table{Name: d.ID, Schema: sqlgen.InferSchema(d.Fields, d.Rows)}
		if err := sqlgen.Load(ctx, b.db, t, d.Rows); err != nil {
			return fmt.Errorf("load dataset %q: %w", d.ID, err)
		}
		b.mu.Lock()
		b.tables[d.ID] = t
		b.info[d.ID] = compute.DatasetInfo{ID: d.ID, Fields: d.Fields, RowCount: len(d.Rows)}
		b.mu.Unlock()
	}
	return nil
}

// Reload implements Backend. Tables of datasets missing from datasets are
// dropped after the new set is loaded.
func (b *DuckDBBackend) Reload(ctx context.Context, datasets ...domain.Dataset) error {
	if err := b.Load(ctx, datasets...); err != nil {
		return err
	}
	keep := make(map[string]bool, len(datasets))
	for _, d := range datasets {
		keep[d.ID] = true
	}
	b.mu.RLock()
	var stale []string
	for id := range b.tables {
		if !keep[id] {
			stale = append(stale, id)
		}
	}
	b.mu.RUnlock()
	sort.Strings(stale)
	return b.Unload(ctx, stale...)
}

// Unload drops the tables backing ids. Unknown ids are ignored.
func (b *DuckDBBackend) Unload(ctx context.Context, ids ...string) error {
	for _, id := range ids {
		b.mu.Lock()
		delete(b.tables, id)
		delete(b.info, id)
		b.mu.Unlock()
		if err := sqlgen.Drop(ctx, b.db, id); err != nil {
			return fmt.Errorf("unload dataset %q: %w", id, err)
		}
	}
	return nil
}

// Name implements Backend.
func (b *DuckDBBackend) Name() string { return BackendDuckDB }

// Query implements Backend.
func (b *DuckDBBackend) Query(ctx context.Context, req domain.QueryRequest) ([]domain.Row, error) {
	b.mu.RLock()
	primary, ok := b.tables[req.DatasetID]
	related := make(map[string]sqlgen.Table, len(req.Joins))
	var missing string
	for _, hop := range req.Joins {
		t, found := b.tables[hop.From]
		if !found && missing == "" {
			missing = hop.From
		}
		related[hop.From] = t
	}
	b.mu.RUnlock()

	if !ok {
		return nil, domain.ErrNotFound("dataset %q not found", req.DatasetID)
	}
	if missing != "" {
		return nil, fmt.Errorf("load joined dataset: %w", domain.ErrNotFound("dataset %q not found", missing))
	}

	q, err := sqlgen.Compile(primary, related, req.Joins, req.Workflow)
	if err != nil {
		return nil, err
	}
	return sqlgen.Run(ctx, b.db, q)
}

// Datasets implements Backend.
func (b *DuckDBBackend) Datasets(context.Context) ([]compute.DatasetInfo, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]compute.DatasetInfo, 0, len(b.info))
	for _, info := range b.info {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Version implements Backend.
func (b *DuckDBBackend) Version(ctx context.Context) string {
	var v string
	if err := b.db.QueryRowContext(ctx, "SELECT version()").Scan(&v); err != nil {
		return ""
	}
	return v
}

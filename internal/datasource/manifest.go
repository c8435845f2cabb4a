package datasource

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"vizflow/internal/domain"
)

// Manifest lists the datasets an agent or CLI serves and how they relate.
type Manifest struct {
	Datasets      []DatasetSpec         `yaml:"datasets"`
	Relationships []domain.Relationship `yaml:"relationships,omitempty"`

	// dir resolves relative local sources; set by LoadManifest.
	dir string
}

// DatasetSpec describes one dataset source.
type DatasetSpec struct {
	ID     string         `yaml:"id"`
	Source string         `yaml:"source"`
	Format string         `yaml:"format,omitempty"`
	Fields []domain.Field `yaml:"fields,omitempty"`
	// Rows inlines data instead of Source.
	Rows []map[string]interface{} `yaml:"rows,omitempty"`
}

// ParseManifest decodes a YAML manifest.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse dataset manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// LoadManifest reads and parses the manifest at path.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path) //nolint:gosec
	if err != nil {
		return nil, fmt.Errorf("read dataset manifest: %w", err)
	}
	m, err := ParseManifest(data)
	if err != nil {
		return nil, err
	}
	m.dir = filepath.Dir(path)
	return m, nil
}

// Validate checks ids are present and unique and relationships reference
// declared datasets.
func (m *Manifest) Validate() error {
	seen := map[string]bool{}
	for i, d := range m.Datasets {
		if d.ID == "" {
			return domain.ErrValidation("dataset %d: id is required", i)
		}
		if seen[d.ID] {
			return domain.ErrValidation("dataset %q declared twice", d.ID)
		}
		seen[d.ID] = true
		if d.Source == "" && d.Rows == nil {
			return domain.ErrValidation("dataset %q: source or rows is required", d.ID)
		}
		for _, f := range d.Fields {
			if err := f.Validate(); err != nil {
				return fmt.Errorf("dataset %q: %w", d.ID, err)
			}
		}
	}
	for _, r := range m.Relationships {
		if !seen[r.From] || !seen[r.To] {
			return domain.ErrValidation("relationship %s -> %s references an undeclared dataset", r.From, r.To)
		}
		if r.Key == "" {
			return domain.ErrValidation("relationship %s -> %s: key is required", r.From, r.To)
		}
	}
	return nil
}

// Loader materializes manifest datasets through an Opener.
type Loader struct {
	opener Opener
	logger *slog.Logger
	// parallelism bounds concurrent source reads.
	parallelism int
}

// NewLoader creates a Loader. A nil logger uses slog.Default.
func NewLoader(opener Opener, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{opener: opener, logger: logger, parallelism: 4}
}

// Load reads every dataset in m, in declaration order. Undeclared columns
// get inferred field definitions tagged with their dataset.
func (l *Loader) Load(ctx context.Context, m *Manifest) ([]domain.Dataset, error) {
	out := make([]domain.Dataset, len(m.Datasets))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(l.parallelism)
	for i, spec := range m.Datasets {
		g.Go(func() error {
			ds, err := l.loadOne(ctx, m.dir, spec)
			if err != nil {
				return fmt.Errorf("load dataset %q: %w", spec.ID, err)
			}
			out[i] = ds
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (l *Loader) loadOne(ctx context.Context, dir string, spec DatasetSpec) (domain.Dataset, error) {
	var rows []domain.Row
	if spec.Rows != nil {
		rows = make([]domain.Row, len(spec.Rows))
		for i, r := range spec.Rows {
			row := make(domain.Row, len(r))
			for k, v := range r {
				row[k] = domain.Normalize(v)
			}
			rows[i] = row
		}
	} else {
		src := spec.Source
		if schemeOf(src) == SchemeFile && dir != "" && !filepath.IsAbs(src) {
			src = filepath.Join(dir, src)
		}
		rc, err := l.opener.Open(ctx, src)
		if err != nil {
			return domain.Dataset{}, err
		}
		format := spec.Format
		if format == "" {
			format = FormatFor(src)
		}
		rows, err = Decode(io.Reader(rc), format, spec.Fields)
		_ = rc.Close()
		if err != nil {
			return domain.Dataset{}, err
		}
	}

	fields := InferFields(rows, spec.Fields, 0)
	for i := range fields {
		if fields[i].Dataset == "" {
			fields[i].Dataset = spec.ID
		}
	}
	l.logger.Info("dataset loaded", "dataset", spec.ID, "rows", len(rows), "fields", len(fields))
	return domain.Dataset{ID: spec.ID, Fields: fields, Rows: rows}, nil
}

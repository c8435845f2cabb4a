package cli

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"vizflow/internal/domain"
	"vizflow/internal/joinpath"
	"vizflow/internal/workflow"
)

// ViewDoc is a YAML view document: the state of one chart, detached from
// any UI.
type ViewDoc struct {
	Dataset       string                   `yaml:"dataset"`
	Computation   domain.ComputationConfig `yaml:"computation"`
	Fields        []domain.Field           `yaml:"fields"`
	Dimensions    []FieldRef               `yaml:"dimensions"`
	Measures      []FieldRef               `yaml:"measures"`
	Filters       []domain.Filter          `yaml:"filters"`
	Aggregated    *bool                    `yaml:"aggregated"`
	Sort          domain.SortDirection     `yaml:"sort"`
	SortBy        []string                 `yaml:"sortBy"`
	Limit         int                      `yaml:"limit"`
	Now           *time.Time               `yaml:"now"`
	Relationships []domain.Relationship    `yaml:"relationships"`
}

// FieldRef names a field placed on a view channel, optionally overriding
// the measure aggregator. It is written either as a bare fid or as a
// mapping.
type FieldRef struct {
	FID     string `yaml:"fid"`
	AggName string `yaml:"aggName,omitempty"`
}

// UnmarshalYAML accepts a bare fid or {fid, aggName}.
func (r *FieldRef) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		r.FID = value.Value
		return nil
	}
	type plain FieldRef
	var p plain
	if err := value.Decode(&p); err != nil {
		return err
	}
	*r = FieldRef(p)
	return nil
}

// LoadViewDoc reads and validates a view document.
func LoadViewDoc(path string) (*ViewDoc, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is caller-controlled
	if err != nil {
		return nil, fmt.Errorf("read view: %w", err)
	}
	return ParseViewDoc(data)
}

// ParseViewDoc decodes a view document.
func ParseViewDoc(data []byte) (*ViewDoc, error) {
	var doc ViewDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse view: %w", err)
	}
	if doc.Dataset == "" {
		return nil, domain.ErrValidation("view: dataset is required")
	}
	if doc.Computation.Mode == "" {
		doc.Computation = domain.ClientComputation()
	}
	return &doc, nil
}

// Input converts the document to compiler input. Channel references are
// resolved against Fields; the virtual count field needs no definition.
func (d *ViewDoc) Input() (workflow.Input, error) {
	idx := make(map[string]domain.Field, len(d.Fields))
	for _, f := range d.Fields {
		idx[f.FID] = f
	}
	resolve := func(ref FieldRef, role domain.AnalyticType) (domain.Field, error) {
		f, ok := idx[ref.FID]
		if !ok {
			if ref.FID != domain.CountFieldID {
				return domain.Field{}, &domain.UnknownFieldError{Field: ref.FID}
			}
			f = domain.Field{
				FID:          domain.CountFieldID,
				Name:         "Row count",
				SemanticType: domain.SemanticQuantitative,
				AnalyticType: domain.AnalyticMeasure,
			}
		}
		if ref.AggName != "" {
			f.AggName = ref.AggName
		}
		if role == domain.AnalyticMeasure && f.AggName != "" && !domain.IsAggregator(f.AggName) {
			return domain.Field{}, domain.ErrValidation("measure %q: unknown aggregator %q", f.FID, f.AggName)
		}
		return f, nil
	}

	in := workflow.Input{
		Fields:     d.Fields,
		Filters:    d.Filters,
		Aggregated: true,
		Sort:       d.Sort,
		SortBy:     d.SortBy,
		Limit:      d.Limit,
	}
	if d.Aggregated != nil {
		in.Aggregated = *d.Aggregated
	}
	if d.Now != nil {
		in.Now = *d.Now
	}
	for _, ref := range d.Dimensions {
		f, err := resolve(ref, domain.AnalyticDimension)
		if err != nil {
			return workflow.Input{}, err
		}
		in.Dimensions = append(in.Dimensions, f)
	}
	for _, ref := range d.Measures {
		f, err := resolve(ref, domain.AnalyticMeasure)
		if err != nil {
			return workflow.Input{}, err
		}
		in.Measures = append(in.Measures, f)
	}
	return in, nil
}

// Joins returns the join resolver for the document's relationships, or nil
// for a single-dataset view.
func (d *ViewDoc) Joins(extra ...domain.Relationship) workflow.JoinResolver {
	rels := append(append([]domain.Relationship(nil), d.Relationships...), extra...)
	if len(rels) == 0 {
		return nil
	}
	return joinpath.NewResolver(d.Dataset, rels)
}

// Columns lists the result columns the view names, in channel order.
func (d *ViewDoc) Columns(in workflow.Input) []string {
	var cols []string
	for _, f := range in.Dimensions {
		cols = append(cols, f.FID)
	}
	for _, f := range in.Measures {
		if in.Aggregated {
			cols = append(cols, domain.MeasureKey(f.FID, f.Aggregator()))
			continue
		}
		cols = append(cols, f.FID)
	}
	return cols
}

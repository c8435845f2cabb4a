package domain

import (
	"encoding/json"
	"fmt"
)

// StepType tags a workflow step on the wire.
type StepType string

// Workflow step kinds, in the only order a compiled workflow may use them.
const (
	StepFilter    StepType = "filter"
	StepTransform StepType = "transform"
	StepAggregate StepType = "aggregate"
	StepSort      StepType = "sort"
	StepLimit     StepType = "limit"
	// StepProject is never compiled from a view; samplers append it.
	StepProject StepType = "project"
)

// SortDirection is the requested ordering of a view.
type SortDirection string

// Sort directions.
const (
	SortNone       SortDirection = "none"
	SortAscending  SortDirection = "ascending"
	SortDescending SortDirection = "descending"
)

// Step is one backend-agnostic query step. The set of implementations is
// closed to this package.
type Step interface {
	Type() StepType
	step()
}

// FilterStep keeps rows matching Rule on field FID.
type FilterStep struct {
	FID  string
	Rule FilterRule
}

// TransformStep materialises one derived field under key FID.
type TransformStep struct {
	FID        string
	Expression Expression
}

// Measure aggregates field FID with Agg into output column As.
type Measure struct {
	FID string `json:"field"`
	Agg string `json:"agg"`
	As  string `json:"asFieldKey"`
}

// AggregateStep groups rows by GroupBy and folds each measure.
type AggregateStep struct {
	GroupBy  []string
	Measures []Measure
}

// SortStep orders rows stably by the By columns.
type SortStep struct {
	By        []string
	Direction SortDirection
}

// LimitStep caps the number of rows.
type LimitStep struct {
	Limit int
}

// ProjectStep keeps only Fields in each row. A field a row
// lacks reads as missing.
type ProjectStep struct {
	Fields []string
}

func (FilterStep) Type() StepType    { return StepFilter }
func (TransformStep) Type() StepType { return StepTransform }
func (AggregateStep) Type() StepType { return StepAggregate }
func (SortStep) Type() StepType      { return StepSort }
func (LimitStep) Type() StepType     { return StepLimit }
func (ProjectStep) Type() StepType   { return StepProject }

func (FilterStep) step()    {}
func (TransformStep) step() {}
func (AggregateStep) step() {}
func (SortStep) step()      {}
func (LimitStep) step()     {}
func (ProjectStep) step()   {}

// Workflow is an ordered list of steps executed strictly in order.
type Workflow []Step

// stepWire is the transport-neutral tagged object for one step. Each kind
// only populates the members it needs.
type stepWire struct {
	Type       StepType      `json:"type"`
	FID        string        `json:"fid,omitempty"`
	Rule       *FilterRule   `json:"rule,omitempty"`
	Expression *Expression   `json:"expression,omitempty"`
	GroupBy    []string      `json:"groupBy,omitempty"`
	Measures   []Measure     `json:"measures,omitempty"`
	By         []string      `json:"by,omitempty"`
	Sort       SortDirection `json:"sort,omitempty"`
	Limit      int           `json:"limit,omitempty"`
	Fields     []string      `json:"fields,omitempty"`
}

// MarshalJSON encodes the workflow as a list of tagged step objects.
func (w Workflow) MarshalJSON() ([]byte, error) {
	out := make([]stepWire, 0, len(w))
	for i, s := range w {
		switch st := s.(type) {
		case FilterStep:
			rule := st.Rule
			out = append(out, stepWire{Type: StepFilter, FID: st.FID, Rule: &rule})
		case TransformStep:
			expr := st.Expression
			out = append(out, stepWire{Type: StepTransform, FID: st.FID, Expression: &expr})
		case AggregateStep:
			out = append(out, stepWire{Type: StepAggregate, GroupBy: st.GroupBy, Measures: st.Measures})
		case SortStep:
			out = append(out, stepWire{Type: StepSort, By: st.By, Sort: st.Direction})
		case LimitStep:
			out = append(out, stepWire{Type: StepLimit, Limit: st.Limit})
		case ProjectStep:
			out = append(out, stepWire{Type: StepProject, Fields: st.Fields})
		default:
			return nil, fmt.Errorf("workflow step %d: unsupported step %T", i, s)
		}
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes a list of tagged step objects.
func (w *Workflow) UnmarshalJSON(data []byte) error {
	var in []stepWire
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	steps := make(Workflow, 0, len(in))
	for i, sw := range in {
		switch sw.Type {
		case StepFilter:
			if sw.Rule == nil {
				return ErrValidation("workflow step %d: filter without rule", i)
			}
			steps = append(steps, FilterStep{FID: sw.FID, Rule: *sw.Rule})
		case StepTransform:
			if sw.Expression == nil {
				return ErrValidation("workflow step %d: transform without expression", i)
			}
			steps = append(steps, TransformStep{FID: sw.FID, Expression: *sw.Expression})
		case StepAggregate:
			steps = append(steps, AggregateStep{GroupBy: sw.GroupBy, Measures: sw.Measures})
		case StepSort:
			steps = append(steps, SortStep{By: sw.By, Direction: sw.Sort})
		case StepLimit:
			steps = append(steps, LimitStep{Limit: sw.Limit})
		case StepProject:
			if len(sw.Fields) == 0 {
				return ErrValidation("workflow step %d: project without fields", i)
			}
			steps = append(steps, ProjectStep{Fields: sw.Fields})
		default:
			return ErrValidation("workflow step %d: unknown step type %q", i, sw.Type)
		}
	}
	*w = steps
	return nil
}

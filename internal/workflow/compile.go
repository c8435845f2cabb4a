// Package workflow compiles a view's fields, filters and directives into an
// ordered, backend-agnostic list of query steps.
package workflow

import (
	"time"

	"vizflow/internal/domain"
	"vizflow/internal/fieldexpr"
)

// Input is one snapshot of view state. Nothing in it is modified.
type Input struct {
	Filters    []domain.Filter
	Fields     []domain.Field
	Dimensions []domain.Field
	Measures   []domain.Field
	Aggregated bool
	Sort       domain.SortDirection
	// SortBy designates the sort channel's fields. Measures named here sort
	// by their aggregated output key. Empty means sort by the view measures.
	SortBy []string
	// Limit caps the result; zero or negative means unlimited.
	Limit int
	// Now anchors relative-time filters that carry no anchor of their own.
	// Compile never reads the clock: such a filter with a zero Now is
	// rejected.
	Now time.Time
}

// Compile produces the ordered steps for in:
//
//  1. filters over raw fields
//  2. transforms for every derived field in use, dependencies first
//  3. filters over derived fields
//  4. one aggregate step when aggregated
//  5. sort when a direction other than none is requested
//  6. limit when positive
//
// Compiling equal inputs yields structurally equal workflows.
func Compile(in Input) (domain.Workflow, error) {
	fields := mergeFields(in)
	resolver, err := fieldexpr.NewResolver(fields)
	if err != nil {
		return nil, err
	}
	if err := resolver.Validate(); err != nil {
		return nil, err
	}

	var (
		wf      domain.Workflow
		derived []domain.Filter
	)
	for _, f := range in.Filters {
		if err := f.Rule.Validate(); err != nil {
			return nil, domain.ErrValidation("filter on %q: %v", f.FID, err)
		}
		def, ok := resolver.Field(f.FID)
		if !ok && f.FID != domain.CountFieldID {
			return nil, domain.ErrValidation("filter references unknown field %q", f.FID)
		}
		if def.IsDerived() {
			derived = append(derived, f)
			continue
		}
		step, err := filterStep(f, in.Now)
		if err != nil {
			return nil, err
		}
		wf = append(wf, step)
	}

	transforms, err := transformSteps(resolver, in, derived)
	if err != nil {
		return nil, err
	}
	wf = append(wf, transforms...)

	for _, f := range derived {
		step, err := filterStep(f, in.Now)
		if err != nil {
			return nil, err
		}
		wf = append(wf, step)
	}

	if in.Aggregated {
		wf = append(wf, aggregateStep(in))
	}

	s, ok, err := sortStep(in, resolver)
	if err != nil {
		return nil, err
	}
	if ok {
		wf = append(wf, s)
	}

	if in.Limit > 0 {
		wf = append(wf, domain.LimitStep{Limit: in.Limit})
	}
	return wf, nil
}

// mergeFields indexes the full field list, adding view fields that only the
// view knows about.
func mergeFields(in Input) []domain.Field {
	seen := make(map[string]bool, len(in.Fields))
	out := make([]domain.Field, 0, len(in.Fields)+len(in.Dimensions)+len(in.Measures))
	for _, f := range in.Fields {
		if seen[f.FID] {
			continue
		}
		seen[f.FID] = true
		out = append(out, f)
	}
	for _, group := range [][]domain.Field{in.Dimensions, in.Measures} {
		for _, f := range group {
			if seen[f.FID] || f.FID == domain.CountFieldID {
				continue
			}
			seen[f.FID] = true
			out = append(out, f)
		}
	}
	return out
}

func filterStep(f domain.Filter, now time.Time) (domain.FilterStep, error) {
	rule := f.Rule
	rule.Values = append([]interface{}(nil), f.Rule.Values...)
	if rule.Type == domain.RuleRelativeTime && rule.Anchor == nil {
		if now.IsZero() {
			return domain.FilterStep{}, domain.ErrValidation("relative time filter on %q has no anchor and no compile time was given", f.FID)
		}
		anchor := float64(now.UnixMilli())
		rule.Anchor = &anchor
	}
	return domain.FilterStep{FID: f.FID, Rule: rule}, nil
}

func transformSteps(r *fieldexpr.Resolver, in Input, derivedFilters []domain.Filter) ([]domain.Step, error) {
	var order []string
	for _, f := range in.Dimensions {
		order = append(order, f.FID)
	}
	for _, f := range in.Measures {
		order = append(order, f.FID)
	}
	for _, f := range derivedFilters {
		order = append(order, f.FID)
	}

	var steps []domain.Step
	emitted := map[string]bool{}
	for _, fid := range order {
		if fid == domain.CountFieldID {
			continue
		}
		chain, err := r.Chain(fid)
		if err != nil {
			return nil, err
		}
		for _, dep := range chain {
			if emitted[dep] {
				continue
			}
			emitted[dep] = true
			def, _ := r.Field(dep)
			steps = append(steps, domain.TransformStep{FID: dep, Expression: *def.Expression.Clone()})
		}
	}
	return steps, nil
}

func aggregateStep(in Input) domain.AggregateStep {
	step := domain.AggregateStep{}
	seen := map[string]bool{}
	for _, f := range in.Dimensions {
		if seen[f.FID] {
			continue
		}
		seen[f.FID] = true
		step.GroupBy = append(step.GroupBy, f.FID)
	}
	keys := map[string]bool{}
	for _, f := range in.Measures {
		agg := f.Aggregator()
		key := domain.MeasureKey(f.FID, agg)
		if keys[key] {
			continue
		}
		keys[key] = true
		step.Measures = append(step.Measures, domain.Measure{FID: f.FID, Agg: agg, As: key})
	}
	return step
}

// sortStep orders by the designated fields, else the measures, else the
// dimensions. Columns are named as they appear after aggregation, and a
// designated field must still exist there.
func sortStep(in Input, r *fieldexpr.Resolver) (domain.SortStep, bool, error) {
	switch in.Sort {
	case "", domain.SortNone:
		return domain.SortStep{}, false, nil
	case domain.SortAscending, domain.SortDescending:
	default:
		return domain.SortStep{}, false, domain.ErrValidation("unknown sort direction %q (ascending, descending or none)", in.Sort)
	}

	measureKey := func(fid string) string {
		for _, m := range in.Measures {
			if m.FID == fid && in.Aggregated {
				return domain.MeasureKey(m.FID, m.Aggregator())
			}
		}
		return fid
	}
	inView := func(fid string) bool {
		for _, group := range [][]domain.Field{in.Dimensions, in.Measures} {
			for _, f := range group {
				if f.FID == fid {
					return true
				}
			}
		}
		return false
	}

	var by []string
	switch {
	case len(in.SortBy) > 0:
		for _, fid := range in.SortBy {
			if in.Aggregated && !inView(fid) {
				return domain.SortStep{}, false, &domain.UnknownFieldError{Field: fid}
			}
			if _, ok := r.Field(fid); !ok && fid != domain.CountFieldID {
				return domain.SortStep{}, false, &domain.UnknownFieldError{Field: fid}
			}
			by = append(by, measureKey(fid))
		}
	case len(in.Measures) > 0:
		for _, m := range in.Measures {
			by = append(by, measureKey(m.FID))
		}
	default:
		for _, d := range in.Dimensions {
			by = append(by, d.FID)
		}
	}
	by = dedupe(by)
	if len(by) == 0 {
		return domain.SortStep{}, false, nil
	}
	return domain.SortStep{By: by, Direction: in.Sort}, true, nil
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := in[:0:0]
	for _, s := range in {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

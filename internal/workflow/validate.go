package workflow

import (
	"vizflow/internal/domain"
	"vizflow/internal/fieldexpr"
)

// Validate walks wf against the columns a backend can supply and reports the
// first reference to a column that does not exist at that point of the
// pipeline as an UnknownFieldError. Both engines run it before executing so
// a schema mismatch aborts the workflow instead of yielding partial rows.
func Validate(wf domain.Workflow, available []string) error {
	cols := make(map[string]bool, len(available)+1)
	for _, c := range available {
		cols[c] = true
	}
	cols[domain.CountFieldID] = true

	need := func(fid string) error {
		if !cols[fid] {
			return &domain.UnknownFieldError{Field: fid}
		}
		return nil
	}

	for i, s := range wf {
		switch st := s.(type) {
		case domain.FilterStep:
			if err := need(st.FID); err != nil {
				return err
			}
			if err := st.Rule.Validate(); err != nil {
				return domain.ErrValidation("step %d: %v", i, err)
			}
		case domain.TransformStep:
			op, err := fieldexpr.Parse(st.Expression)
			if err != nil {
				return domain.ErrValidation("step %d: transform %q: %v", i, st.FID, err)
			}
			for _, ref := range op.Refs() {
				if err := need(ref); err != nil {
					return err
				}
			}
			cols[st.FID] = true
		case domain.AggregateStep:
			next := make(map[string]bool, len(st.GroupBy)+len(st.Measures))
			for _, g := range st.GroupBy {
				if err := need(g); err != nil {
					return err
				}
				next[g] = true
			}
			for _, m := range st.Measures {
				if err := need(m.FID); err != nil {
					return err
				}
				if !domain.IsAggregator(m.Agg) {
					return domain.ErrValidation("step %d: unknown aggregator %q", i, m.Agg)
				}
				as := m.As
				if as == "" {
					as = domain.MeasureKey(m.FID, m.Agg)
				}
				next[as] = true
			}
			next[domain.CountFieldID] = true
			cols = next
		case domain.SortStep:
			if st.Direction != domain.SortAscending && st.Direction != domain.SortDescending {
				return domain.ErrValidation("step %d: unknown sort direction %q", i, st.Direction)
			}
			for _, by := range st.By {
				if err := need(by); err != nil {
					return err
				}
			}
		case domain.LimitStep:
			if st.Limit <= 0 {
				return domain.ErrValidation("step %d: limit must be positive, got %d", i, st.Limit)
			}
		case domain.ProjectStep:
			if len(st.Fields) == 0 {
				return domain.ErrValidation("step %d: project without fields", i)
			}
			next := make(map[string]bool, len(st.Fields))
			for _, fid := range st.Fields {
				if err := need(fid); err != nil {
					return err
				}
				next[fid] = true
			}
			next[domain.CountFieldID] = true
			cols = next
		default:
			return domain.ErrValidation("step %d: unsupported step %T", i, s)
		}
	}
	return nil
}

// Columns returns the output columns of wf given the input columns, in a
// stable order.
func Columns(wf domain.Workflow, available []string) []string {
	cols := append([]string(nil), available...)
	for _, s := range wf {
		switch st := s.(type) {
		case domain.TransformStep:
			if !contains(cols, st.FID) {
				cols = append(cols, st.FID)
			}
		case domain.AggregateStep:
			cols = append([]string(nil), st.GroupBy...)
			for _, m := range st.Measures {
				as := m.As
				if as == "" {
					as = domain.MeasureKey(m.FID, m.Agg)
				}
				cols = append(cols, as)
			}
		case domain.ProjectStep:
			cols = append([]string(nil), st.Fields...)
		}
	}
	return cols
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

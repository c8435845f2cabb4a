package compute

import (
	"sort"

	"vizflow/internal/domain"
)

// applySort orders rows stably by the By columns. Missing values sort last
// in either direction; ties keep input order.
func applySort(rows []domain.Row, st domain.SortStep) []domain.Row {
	out := append([]domain.Row(nil), rows...)
	desc := st.Direction == domain.SortDescending
	sort.SliceStable(out, func(i, j int) bool {
		for _, by := range st.By {
			a, b := domain.Value(out[i], by), domain.Value(out[j], by)
			switch {
			case a == nil && b == nil:
				continue
			case a == nil:
				return false
			case b == nil:
				return true
			}
			c := domain.CompareValues(a, b)
			if c == 0 {
				continue
			}
			if desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})
	return out
}

func applyProject(rows []domain.Row, st domain.ProjectStep) []domain.Row {
	out := make([]domain.Row, len(rows))
	for i, r := range rows {
		p := make(domain.Row, len(st.Fields))
		for _, fid := range st.Fields {
			p[fid] = domain.Value(r, fid)
		}
		out[i] = p
	}
	return out
}

func applyLimit(rows []domain.Row, st domain.LimitStep) []domain.Row {
	if st.Limit <= 0 || st.Limit >= len(rows) {
		return rows
	}
	return rows[:st.Limit]
}

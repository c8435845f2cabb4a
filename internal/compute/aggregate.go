package compute

import (
	"math"
	"sort"

	"vizflow/internal/domain"
)

type group struct {
	key    []interface{}
	rows   []domain.Row
	values map[string][]interface{}
}

// applyAggregate groups rows by the tuple of group-by values and folds each
// measure. Groups come out in order of first appearance. An empty group-by
// always yields exactly one row, even over no input rows.
func applyAggregate(rows []domain.Row, st domain.AggregateStep) ([]domain.Row, error) {
	for _, m := range st.Measures {
		if !domain.IsAggregator(m.Agg) {
			return nil, domain.ErrValidation("unknown aggregator %q", m.Agg)
		}
	}

	var order []*group
	groups := map[string]*group{}
	for _, row := range rows {
		key := make([]interface{}, len(st.GroupBy))
		for i, g := range st.GroupBy {
			key[i] = domain.Normalize(domain.Value(row, g))
		}
		k := domain.TupleKey(key)
		grp, ok := groups[k]
		if !ok {
			grp = &group{key: key}
			groups[k] = grp
			order = append(order, grp)
		}
		grp.rows = append(grp.rows, row)
	}
	if len(st.GroupBy) == 0 && len(order) == 0 {
		order = append(order, &group{})
	}

	out := make([]domain.Row, 0, len(order))
	for _, grp := range order {
		res := make(domain.Row, len(st.GroupBy)+len(st.Measures))
		for i, g := range st.GroupBy {
			res[g] = grp.key[i]
		}
		for _, m := range st.Measures {
			as := m.As
			if as == "" {
				as = domain.MeasureKey(m.FID, m.Agg)
			}
			res[as] = fold(m, grp.rows)
		}
		out = append(out, res)
	}
	return out, nil
}

// fold applies one aggregator. Missing and non-numeric values are excluded;
// a numeric aggregator over nothing yields nil, counts yield zero.
func fold(m domain.Measure, rows []domain.Row) interface{} {
	switch m.Agg {
	case domain.AggExpr:
		if len(rows) == 0 {
			return nil
		}
		return domain.Normalize(domain.Value(rows[0], m.FID))
	case domain.AggCount:
		n := 0
		for _, r := range rows {
			if domain.Value(r, m.FID) != nil {
				n++
			}
		}
		return float64(n)
	case domain.AggDistinctCount:
		seen := map[string]bool{}
		for _, r := range rows {
			v := domain.Value(r, m.FID)
			if v == nil {
				continue
			}
			seen[domain.ValueKey(v)] = true
		}
		return float64(len(seen))
	}

	nums := make([]float64, 0, len(rows))
	for _, r := range rows {
		if f, ok := domain.AsNumber(domain.Value(r, m.FID)); ok {
			nums = append(nums, f)
		}
	}
	if len(nums) == 0 {
		return nil
	}

	switch m.Agg {
	case domain.AggSum:
		return sum(nums)
	case domain.AggMean:
		return sum(nums) / float64(len(nums))
	case domain.AggMin:
		lo := nums[0]
		for _, v := range nums[1:] {
			lo = math.Min(lo, v)
		}
		return lo
	case domain.AggMax:
		hi := nums[0]
		for _, v := range nums[1:] {
			hi = math.Max(hi, v)
		}
		return hi
	case domain.AggMedian:
		sorted := append([]float64(nil), nums...)
		sort.Float64s(sorted)
		mid := len(sorted) / 2
		if len(sorted)%2 == 1 {
			return sorted[mid]
		}
		return (sorted[mid-1] + sorted[mid]) / 2
	case domain.AggVariance:
		return variance(nums)
	case domain.AggStdev:
		return math.Sqrt(variance(nums))
	}
	return nil
}

func sum(nums []float64) float64 {
	var s float64
	for _, v := range nums {
		s += v
	}
	return s
}

// variance is the population variance.
func variance(nums []float64) float64 {
	mean := sum(nums) / float64(len(nums))
	var acc float64
	for _, v := range nums {
		d := v - mean
		acc += d * d
	}
	return acc / float64(len(nums))
}

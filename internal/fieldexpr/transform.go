package fieldexpr

import (
	"math"
	"time"

	"vizflow/internal/domain"
)

// BinEdge returns the lower edge of v's bucket given the observed minimum
// and maximum. clamp pins the maximum into the last bucket, which is only
// correct when width was derived from the range.
func BinEdge(v, lo, width float64, count int, clamp bool) float64 {
	if width <= 0 {
		return lo
	}
	idx := math.Floor((v - lo) / width)
	if clamp && idx > float64(count-1) {
		idx = float64(count - 1)
	}
	return lo + idx*width
}

// binValues computes bucket edges, or bucket populations when counting.
func binValues(rows []domain.Row, origin string, width float64, count int, counting bool) []interface{} {
	out := make([]interface{}, len(rows))
	lo, hi := math.Inf(1), math.Inf(-1)
	seen := false
	for _, row := range rows {
		v, ok := domain.AsNumber(domain.Value(row, origin))
		if !ok {
			continue
		}
		seen = true
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if !seen {
		return out
	}

	clamp := false
	if width == 0 {
		width = (hi - lo) / float64(count)
		clamp = true
	}

	edges := make([]float64, len(rows))
	valid := make([]bool, len(rows))
	for i, row := range rows {
		v, ok := domain.AsNumber(domain.Value(row, origin))
		if !ok {
			continue
		}
		edges[i] = BinEdge(v, lo, width, count, clamp)
		valid[i] = true
	}

	if !counting {
		for i := range rows {
			if valid[i] {
				out[i] = edges[i]
			}
		}
		return out
	}

	population := map[float64]float64{}
	for i := range rows {
		if valid[i] {
			population[edges[i]]++
		}
	}
	for i := range rows {
		if valid[i] {
			out[i] = population[edges[i]]
		}
	}
	return out
}

// LogValue computes log base base of v, failing with a DomainError outside
// the positive reals.
func LogValue(field string, v interface{}, base float64) (float64, error) {
	f, ok := domain.AsNumber(v)
	if !ok || f <= 0 {
		return 0, &domain.DomainError{Op: string(domain.OpLog), Field: field, Value: v}
	}
	return math.Log(f) / math.Log(base), nil
}

func logValues(rows []domain.Row, o Log) ([]interface{}, Report, error) {
	values := make([]interface{}, len(rows))
	var rep Report
	for i, row := range rows {
		raw := domain.Value(row, o.Origin)
		if raw == nil {
			continue
		}
		lv, err := LogValue(o.Origin, raw, o.Base)
		if err != nil {
			rep.Dropped++
			if rep.First == nil {
				if de, ok := err.(*domain.DomainError); ok {
					rep.First = de
				}
			}
			continue
		}
		values[i] = lv
	}
	return values, rep, nil
}

func timeValues(rows []domain.Row, origin, format string, loc *time.Location, fn func(time.Time) interface{}) []interface{} {
	values := make([]interface{}, len(rows))
	for i, row := range rows {
		t, ok := ParseTime(domain.Value(row, origin), format, loc)
		if !ok {
			continue
		}
		values[i] = fn(t)
	}
	return values
}

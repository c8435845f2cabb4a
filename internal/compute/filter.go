package compute

import (
	"time"

	"vizflow/internal/domain"
	"vizflow/internal/fieldexpr"
)

// RelativeWindow returns the [from, to] epoch-millisecond bounds of a
// relative-time rule.
func RelativeWindow(rule domain.FilterRule) (float64, float64, error) {
	if rule.Anchor == nil {
		return 0, 0, domain.ErrValidation("relative time filter has no anchor")
	}
	anchor := time.UnixMilli(int64(*rule.Anchor)).UTC()
	n := rule.Amount
	var start time.Time
	switch rule.Unit {
	case domain.UnitSecond:
		start = anchor.Add(-time.Duration(n) * time.Second)
	case domain.UnitMinute:
		start = anchor.Add(-time.Duration(n) * time.Minute)
	case domain.UnitHour:
		start = anchor.Add(-time.Duration(n) * time.Hour)
	case domain.UnitDay:
		start = anchor.AddDate(0, 0, -n)
	case domain.UnitWeek:
		start = anchor.AddDate(0, 0, -7*n)
	case domain.UnitMonth:
		start = anchor.AddDate(0, -n, 0)
	case domain.UnitYear:
		start = anchor.AddDate(-n, 0, 0)
	default:
		start = anchor
	}
	return float64(start.UnixMilli()), float64(anchor.UnixMilli()), nil
}

type predicate func(v interface{}) bool

func compileRule(rule domain.FilterRule, loc *time.Location) (predicate, error) {
	if err := rule.Validate(); err != nil {
		return nil, err
	}
	switch rule.Type {
	case domain.RuleRange:
		return func(v interface{}) bool {
			f, ok := domain.AsNumber(v)
			return ok && inRange(f, rule.Min, rule.Max, rule.MinExclusive, rule.MaxExclusive)
		}, nil

	case domain.RuleOneOf, domain.RuleNotIn:
		set := make(map[string]bool, len(rule.Values))
		for _, v := range rule.Values {
			set[domain.ValueKey(v)] = true
		}
		keep := rule.Type == domain.RuleOneOf
		return func(v interface{}) bool {
			return set[domain.ValueKey(v)] == keep
		}, nil

	case domain.RuleTemporalRange:
		return func(v interface{}) bool {
			t, ok := fieldexpr.ParseTime(v, rule.Format, loc)
			if !ok {
				return false
			}
			ms := float64(t.UnixMilli())
			return inRange(ms, rule.From, rule.To, false, false)
		}, nil

	case domain.RuleRelativeTime:
		from, to, err := RelativeWindow(rule)
		if err != nil {
			return nil, err
		}
		return func(v interface{}) bool {
			t, ok := fieldexpr.ParseTime(v, rule.Format, loc)
			if !ok {
				return false
			}
			ms := float64(t.UnixMilli())
			return ms >= from && ms <= to
		}, nil
	}
	return nil, domain.ErrValidation("unknown filter rule %q", rule.Type)
}

func inRange(v float64, lo, hi *float64, loExcl, hiExcl bool) bool {
	if lo != nil {
		if loExcl && v <= *lo || !loExcl && v < *lo {
			return false
		}
	}
	if hi != nil {
		if hiExcl && v >= *hi || !hiExcl && v > *hi {
			return false
		}
	}
	return true
}

func applyFilter(rows []domain.Row, st domain.FilterStep, loc *time.Location) ([]domain.Row, error) {
	match, err := compileRule(st.Rule, loc)
	if err != nil {
		return nil, domain.ErrValidation("filter on %q: %v", st.FID, err)
	}
	out := make([]domain.Row, 0, len(rows))
	for _, row := range rows {
		if match(domain.Value(row, st.FID)) {
			out = append(out, row)
		}
	}
	return out, nil
}

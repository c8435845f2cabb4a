package sqlgen

import (
	"fmt"
	"strings"

	"vizflow/internal/compute"
	"vizflow/internal/domain"
)

func (b *builder) filter(st domain.FilterStep) error {
	if err := st.Rule.Validate(); err != nil {
		return domain.ErrValidation("filter on %q: %v", st.FID, err)
	}
	pred, args, err := b.predicate(st.FID, st.Rule)
	if err != nil {
		return err
	}
	b.add(fmt.Sprintf("SELECT * FROM %s WHERE %s", b.prev, pred), args...)
	return nil
}

func (b *builder) predicate(fid string, rule domain.FilterRule) (string, []interface{}, error) {
	c := b.col(fid)
	t := b.typeOf(fid)

	switch rule.Type {
	case domain.RuleRange:
		if t != TypeNumber {
			return "FALSE", nil, nil
		}
		return bounds(c, rule.Min, rule.Max, rule.MinExclusive, rule.MaxExclusive)

	case domain.RuleOneOf, domain.RuleNotIn:
		return membership(c, t, rule)

	case domain.RuleTemporalRange:
		ms, err := epochMillis(c, t, rule.Format)
		if err != nil || ms == "" {
			return "FALSE", nil, err
		}
		return bounds(ms, rule.From, rule.To, false, false)

	case domain.RuleRelativeTime:
		ms, err := epochMillis(c, t, rule.Format)
		if err != nil || ms == "" {
			return "FALSE", nil, err
		}
		from, to, err := compute.RelativeWindow(rule)
		if err != nil {
			return "", nil, err
		}
		return bounds(ms, &from, &to, false, false)
	}
	return "", nil, domain.ErrValidation("unknown filter rule %q", rule.Type)
}

// bounds renders an optionally open interval test on expr.
func bounds(expr string, lo, hi *float64, loExcl, hiExcl bool) (string, []interface{}, error) {
	var parts []string
	var args []interface{}
	if lo != nil {
		op := ">="
		if loExcl {
			op = ">"
		}
		parts = append(parts, fmt.Sprintf("%s %s ?", expr, op))
		args = append(args, *lo)
	}
	if hi != nil {
		op := "<="
		if hiExcl {
			op = "<"
		}
		parts = append(parts, fmt.Sprintf("%s %s ?", expr, op))
		args = append(args, *hi)
	}
	if len(parts) == 0 {
		return "", nil, domain.ErrValidation("range needs a bound")
	}
	return "(" + strings.Join(parts, " AND ") + ")", args, nil
}

// membership renders one of / not in. Only values of the column's storage
// class can match; a nil in the list matches missing values.
func membership(c string, t ColumnType, rule domain.FilterRule) (string, []interface{}, error) {
	var args []interface{}
	wantNull := false
	for _, v := range rule.Values {
		if v == nil {
			wantNull = true
			continue
		}
		if kindOf(v) != t {
			continue
		}
		args = append(args, storedValue(v, t))
	}
	in := "FALSE"
	if len(args) > 0 {
		in = fmt.Sprintf("%s IN (%s)", c, strings.TrimSuffix(strings.Repeat("?, ", len(args)), ", "))
	}

	if rule.Type == domain.RuleOneOf {
		if wantNull {
			return fmt.Sprintf("(%s OR %s IS NULL)", in, c), args, nil
		}
		return "(" + in + ")", args, nil
	}
	if wantNull {
		return fmt.Sprintf("(%s IS NOT NULL AND NOT (%s))", c, in), args, nil
	}
	return fmt.Sprintf("(%s IS NULL OR NOT (%s))", c, in), args, nil
}

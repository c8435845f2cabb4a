package sqlgen

import (
	"fmt"
	"strconv"
	"strings"

	"vizflow/internal/domain"
	"vizflow/internal/fieldexpr"
)

func (b *builder) transform(st domain.TransformStep) error {
	op, err := fieldexpr.Parse(st.Expression)
	if err != nil {
		return err
	}

	out := QuoteIdentifier(st.FID)
	sel := "*"
	if _, exists := b.schema[st.FID]; exists {
		sel = fmt.Sprintf("* EXCLUDE (%s)", out)
	}

	switch o := op.(type) {
	case fieldexpr.Bin:
		edge := b.binEdge(o.Origin, o.Width, o.Count)
		b.add(fmt.Sprintf("SELECT %s, %s AS %s FROM %s", sel, edge, out, b.prev))

	case fieldexpr.BinCount:
		tmp := QuoteIdentifier(binColumn)
		edge := b.binEdge(o.Origin, o.Width, o.Count)
		b.add(fmt.Sprintf("SELECT %s, %s AS %s FROM %s", sel, edge, tmp, b.prev))
		b.add(fmt.Sprintf("SELECT * EXCLUDE (%s), CASE WHEN %s IS NULL THEN NULL ELSE CAST(count(%s) OVER (PARTITION BY %s) AS DOUBLE) END AS %s FROM %s",
			tmp, tmp, tmp, tmp, out, b.prev))

	case fieldexpr.Log:
		c := b.col(o.Origin)
		expr := "CAST(NULL AS DOUBLE)"
		if b.typeOf(o.Origin) == TypeNumber {
			expr = fmt.Sprintf("CASE WHEN %s > 0 THEN ln(%s) / ln(%s) END", c, c, floatLiteral(o.Base))
		}
		b.add(fmt.Sprintf("SELECT %s, %s AS %s FROM %s", sel, expr, out, b.prev))

	case fieldexpr.DateTimeDrill:
		ts, err := timestamp(b.col(o.Origin), b.typeOf(o.Origin), o.Format)
		if err != nil {
			return err
		}
		expr := "CAST(NULL AS DOUBLE)"
		if ts != "" {
			expr = fmt.Sprintf("CAST(epoch_ms(date_trunc(%s, %s)) AS DOUBLE)", QuoteLiteral(o.Level), ts)
		}
		b.add(fmt.Sprintf("SELECT %s, %s AS %s FROM %s", sel, expr, out, b.prev))

	case fieldexpr.DateTimeFeature:
		ts, err := timestamp(b.col(o.Origin), b.typeOf(o.Origin), o.Format)
		if err != nil {
			return err
		}
		expr := "CAST(NULL AS DOUBLE)"
		if ts != "" {
			expr = fmt.Sprintf("CAST(%s(%s) AS DOUBLE)", featureFunc[o.Level], ts)
		}
		b.add(fmt.Sprintf("SELECT %s, %s AS %s FROM %s", sel, expr, out, b.prev))

	case fieldexpr.Expr:
		return domain.ErrValidation("expr transforms are not supported by the SQL backend (field %q)", st.FID)

	default:
		return domain.ErrValidation("unsupported expression op %q", op.Name())
	}
	b.schema[st.FID] = TypeNumber
	return nil
}

var featureFunc = map[string]string{
	"year":    "year",
	"quarter": "quarter",
	"month":   "month",
	"week":    "week",
	"weekday": "dayofweek",
	"day":     "day",
	"hour":    "hour",
	"minute":  "minute",
	"second":  "second",
}

// binEdge renders the lower bucket edge of origin. With no explicit width
// the range [min, max] over the current rows is split into count buckets
// and the maximum is clamped into the last one.
func (b *builder) binEdge(origin string, width float64, count int) string {
	if b.typeOf(origin) != TypeNumber {
		return "CAST(NULL AS DOUBLE)"
	}
	c := b.col(origin)
	lo := fmt.Sprintf("min(%s) OVER ()", c)
	if width > 0 {
		w := floatLiteral(width)
		return fmt.Sprintf("CASE WHEN %s IS NULL THEN NULL ELSE %s + floor((%s - %s) / %s) * %s END", c, lo, c, lo, w, w)
	}
	hi := fmt.Sprintf("max(%s) OVER ()", c)
	w := fmt.Sprintf("((%s - %s) / %d)", hi, lo, count)
	return fmt.Sprintf("CASE WHEN %s IS NULL THEN NULL WHEN %s <= 0 THEN %s ELSE %s + least(floor((%s - %s) / %s), %d) * %s END",
		c, w, lo, lo, c, lo, w, count-1, w)
}

// timestamp renders origin as a TIMESTAMP. Numbers are epoch milliseconds;
// strings parse with format, or as ISO timestamps when format is empty.
// Other storage classes cannot hold times and render as "".
func timestamp(c string, t ColumnType, format string) (string, error) {
	switch t {
	case TypeNumber:
		return fmt.Sprintf("epoch_ms(CAST(trunc(%s) AS BIGINT))", c), nil
	case TypeString:
		if format == "" {
			return fmt.Sprintf("TRY_CAST(%s AS TIMESTAMP)", c), nil
		}
		f, err := DuckDBFormat(format)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("CAST(try_strptime(%s, %s) AS TIMESTAMP)", c, QuoteLiteral(f)), nil
	}
	return "", nil
}

// epochMillis renders origin as epoch milliseconds.
func epochMillis(c string, t ColumnType, format string) (string, error) {
	if t == TypeNumber {
		return fmt.Sprintf("trunc(%s)", c), nil
	}
	ts, err := timestamp(c, t, format)
	if err != nil || ts == "" {
		return "", err
	}
	return fmt.Sprintf("CAST(epoch_ms(%s) AS DOUBLE)", ts), nil
}

// DuckDBFormat converts a parse format into DuckDB's strptime dialect. The
// formats share directives except milliseconds and unpadded days.
func DuckDBFormat(format string) (string, error) {
	if _, err := fieldexpr.GoLayout(format); err != nil {
		return "", err
	}
	r := strings.NewReplacer("%L", "%g", "%e", "%-d")
	return r.Replace(format), nil
}

func floatLiteral(f float64) string {
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return "CAST(" + s + " AS DOUBLE)"
}

// Package sqlgen compiles workflows into DuckDB SQL whose results match the
// in-memory engine row for row.
//
// Every workflow becomes a chain of CTEs, one per join hop and per step.
// Each CTE carries RowColumn, so filtering, sorting and grouping keep the
// same row order the in-memory engine would produce, and the final SELECT
// orders by it and drops it.
package sqlgen

import (
	"fmt"
	"strings"

	"vizflow/internal/domain"
	"vizflow/internal/workflow"
)

// Query is a compiled statement with its positional arguments.
type Query struct {
	SQL  string
	Args []interface{}
	// Schema describes the result columns.
	Schema Schema
}

// builder accumulates the CTE chain.
type builder struct {
	ctes   []string
	args   []interface{}
	schema Schema
	prev   string
}

func (b *builder) add(body string, args ...interface{}) {
	name := fmt.Sprintf("s%d", len(b.ctes))
	b.ctes = append(b.ctes, fmt.Sprintf("%s AS (%s)", name, body))
	b.args = append(b.args, args...)
	b.prev = name
}

// Compile translates wf over primary, joining related tables along hops.
// related is keyed by dataset id; each hop's From must be present.
func Compile(primary Table, related map[string]Table, hops []domain.JoinHop, wf domain.Workflow) (Query, error) {
	if err := ValidateTableName(primary.Name); err != nil {
		return Query{}, domain.ErrValidation("invalid table name: %v", err)
	}

	b := &builder{schema: primary.Schema.clone()}
	b.add("SELECT * FROM " + QuoteIdentifier(primary.Name))
	if err := b.joins(primary.Name, related, hops); err != nil {
		return Query{}, err
	}
	if err := b.schema.Check(); err != nil {
		return Query{}, err
	}

	if err := workflow.Validate(wf, b.schema.Names()); err != nil {
		return Query{}, err
	}

	for i, s := range wf {
		var err error
		switch st := s.(type) {
		case domain.FilterStep:
			err = b.filter(st)
		case domain.TransformStep:
			err = b.transform(st)
		case domain.AggregateStep:
			err = b.aggregate(st)
		case domain.SortStep:
			b.sort(st)
		case domain.LimitStep:
			b.limit(st)
		case domain.ProjectStep:
			b.project(st)
		default:
			err = domain.ErrValidation("unsupported step %T", s)
		}
		if err == nil {
			err = b.schema.Check()
		}
		if err != nil {
			return Query{}, fmt.Errorf("step %d (%s): %w", i, s.Type(), err)
		}
	}

	sql := "WITH " + strings.Join(b.ctes, ",\n") +
		fmt.Sprintf("\nSELECT * EXCLUDE (%s) FROM %s ORDER BY %s", QuoteIdentifier(RowColumn), b.prev, QuoteIdentifier(RowColumn))
	return Query{SQL: sql, Args: b.args, Schema: b.schema}, nil
}

// joins adds one left lookup per hop, outward from the primary table. The
// related side keeps only its first row per key and contributes only the
// columns the accumulated rows lack.
func (b *builder) joins(primary string, related map[string]Table, hops []domain.JoinHop) error {
	joined := map[string]bool{primary: true}
	pending := append([]domain.JoinHop(nil), hops...)
	for len(pending) > 0 {
		progress := false
		rest := pending[:0]
		for _, hop := range pending {
			if !joined[hop.To] {
				rest = append(rest, hop)
				continue
			}
			progress = true
			if joined[hop.From] {
				continue
			}
			t, ok := related[hop.From]
			if !ok {
				return domain.ErrNotFound("dataset %q not loaded", hop.From)
			}
			if err := ValidateTableName(t.Name); err != nil {
				return domain.ErrValidation("invalid table name: %v", err)
			}
			b.join(t, hop.Key)
			joined[hop.From] = true
		}
		pending = rest
		if !progress {
			return &domain.JoinPathError{From: pending[0].From, To: primary, Reason: domain.JoinPathNoPath}
		}
	}
	return nil
}

func (b *builder) join(t Table, key string) {
	var added []string
	for _, name := range t.Schema.Names() {
		if _, exists := b.schema[name]; !exists {
			added = append(added, name)
		}
	}
	if len(added) == 0 {
		return
	}

	_, hasKey := b.schema[key]
	_, relHasKey := t.Schema[key]
	cols := []string{"p.*"}
	for _, name := range added {
		if hasKey && relHasKey {
			cols = append(cols, "r."+QuoteIdentifier(name))
		} else {
			cols = append(cols, fmt.Sprintf("CAST(NULL AS %s) AS %s", t.Schema[name], QuoteIdentifier(name)))
		}
		b.schema[name] = t.Schema[name]
	}

	if !hasKey || !relHasKey {
		b.add(fmt.Sprintf("SELECT %s FROM %s p", strings.Join(cols, ", "), b.prev))
		return
	}
	k := QuoteIdentifier(key)
	lookup := fmt.Sprintf("SELECT DISTINCT ON (%s) * FROM %s WHERE %s IS NOT NULL ORDER BY %s, %s",
		k, QuoteIdentifier(t.Name), k, k, QuoteIdentifier(RowColumn))
	b.add(fmt.Sprintf("SELECT %s FROM %s p LEFT JOIN (%s) r ON p.%s = r.%s",
		strings.Join(cols, ", "), b.prev, lookup, k, k))
}

// col renders a column reference. The virtual count field reads as 1 when
// no real column carries it.
func (b *builder) col(fid string) string {
	if _, ok := b.schema[fid]; !ok && fid == domain.CountFieldID {
		return "1"
	}
	return QuoteIdentifier(fid)
}

func (b *builder) typeOf(fid string) ColumnType {
	if t, ok := b.schema[fid]; ok {
		return t
	}
	if fid == domain.CountFieldID {
		return TypeNumber
	}
	return ""
}

func (b *builder) sort(st domain.SortStep) {
	dir := "ASC"
	if st.Direction == domain.SortDescending {
		dir = "DESC"
	}
	keys := make([]string, 0, len(st.By)+1)
	for _, by := range st.By {
		keys = append(keys, fmt.Sprintf("%s %s NULLS LAST", b.col(by), dir))
	}
	keys = append(keys, QuoteIdentifier(RowColumn))
	b.add(fmt.Sprintf("SELECT * REPLACE (row_number() OVER (ORDER BY %s) AS %s) FROM %s",
		strings.Join(keys, ", "), QuoteIdentifier(RowColumn), b.prev))
}

func (b *builder) limit(st domain.LimitStep) {
	if st.Limit <= 0 {
		return
	}
	b.add(fmt.Sprintf("SELECT * FROM %s ORDER BY %s LIMIT %d", b.prev, QuoteIdentifier(RowColumn), st.Limit))
}

func (b *builder) project(st domain.ProjectStep) {
	next := Schema{}
	cols := []string{QuoteIdentifier(RowColumn)}
	for _, fid := range st.Fields {
		cols = append(cols, b.col(fid)+" AS "+QuoteIdentifier(fid))
		next[fid] = b.typeOf(fid)
	}
	b.add(fmt.Sprintf("SELECT %s FROM %s", strings.Join(cols, ", "), b.prev))
	b.schema = next
}

func (b *builder) aggregate(st domain.AggregateStep) error {
	next := Schema{}
	var cols []string
	for _, g := range st.GroupBy {
		cols = append(cols, b.col(g)+" AS "+QuoteIdentifier(g))
		next[g] = b.typeOf(g)
	}
	for _, m := range st.Measures {
		if !domain.IsAggregator(m.Agg) {
			return domain.ErrValidation("unknown aggregator %q", m.Agg)
		}
		as := m.As
		if as == "" {
			as = domain.MeasureKey(m.FID, m.Agg)
		}
		expr, t := b.measure(m)
		cols = append(cols, expr+" AS "+QuoteIdentifier(as))
		next[as] = t
	}
	cols = append(cols, fmt.Sprintf("min(%s) AS %s", QuoteIdentifier(RowColumn), QuoteIdentifier(RowColumn)))

	body := fmt.Sprintf("SELECT %s FROM %s", strings.Join(cols, ", "), b.prev)
	if len(st.GroupBy) > 0 {
		body += " GROUP BY ALL"
	}
	b.add(body)
	b.schema = next
	return nil
}

// measure renders one aggregate. Numeric aggregates over a non-numeric
// column yield NULL because the in-memory engine skips non-numbers.
func (b *builder) measure(m domain.Measure) (string, ColumnType) {
	c := b.col(m.FID)
	numeric := b.typeOf(m.FID) == TypeNumber
	switch m.Agg {
	case domain.AggCount:
		return fmt.Sprintf("CAST(count(%s) AS DOUBLE)", c), TypeNumber
	case domain.AggDistinctCount:
		return fmt.Sprintf("CAST(count(DISTINCT %s) AS DOUBLE)", c), TypeNumber
	case domain.AggExpr:
		t := b.typeOf(m.FID)
		if t == "" {
			t = TypeNumber
		}
		return fmt.Sprintf("first(%s ORDER BY %s)", c, QuoteIdentifier(RowColumn)), t
	}
	if !numeric {
		return "CAST(NULL AS DOUBLE)", TypeNumber
	}
	fn := map[string]string{
		domain.AggSum:      "sum",
		domain.AggMean:     "avg",
		domain.AggMin:      "min",
		domain.AggMax:      "max",
		domain.AggMedian:   "median",
		domain.AggVariance: "var_pop",
		domain.AggStdev:    "stddev_pop",
	}[m.Agg]
	return fmt.Sprintf("CAST(%s(%s) AS DOUBLE)", fn, c), TypeNumber
}

package fieldexpr

import (
	"log/slog"
	"sort"
	"time"

	"vizflow/internal/domain"
)

// Resolver walks derived-field reference chains over one field set. A
// Resolver is immutable and safe for concurrent use.
type Resolver struct {
	fields domain.FieldIndex
}

// NewResolver indexes fields. Duplicate fids are rejected.
func NewResolver(fields []domain.Field) (*Resolver, error) {
	idx, err := domain.IndexFields(fields)
	if err != nil {
		return nil, err
	}
	return &Resolver{fields: idx}, nil
}

// Field returns the definition of fid.
func (r *Resolver) Field(fid string) (domain.Field, bool) {
	f, ok := r.fields[fid]
	return f, ok
}

// Op parses the expression of a derived field.
func (r *Resolver) Op(fid string) (Op, error) {
	f, ok := r.fields[fid]
	if !ok {
		return nil, domain.ErrNotFound("field %q not found", fid)
	}
	if f.Expression == nil {
		return nil, domain.ErrValidation("field %q is not derived", fid)
	}
	op, err := Parse(*f.Expression)
	if err != nil {
		return nil, domain.ErrValidation("field %q: %v", fid, err)
	}
	return op, nil
}

// Chain returns the derived fields that must be materialised to produce fid,
// dependencies first and fid last. A raw field yields an empty chain.
func (r *Resolver) Chain(fid string) ([]string, error) {
	var out []string
	done := map[string]bool{}
	if err := r.visit(fid, nil, map[string]bool{}, done, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Resolver) visit(fid string, path []string, onPath, done map[string]bool, out *[]string) error {
	if done[fid] {
		return nil
	}
	if onPath[fid] {
		cycle := append(append([]string(nil), path...), fid)
		return &domain.CyclicFieldReferenceError{Chain: cycle}
	}
	f, ok := r.fields[fid]
	if !ok {
		if fid == domain.CountFieldID {
			return nil
		}
		return domain.ErrValidation("unknown field %q", fid)
	}
	if f.Expression == nil {
		done[fid] = true
		return nil
	}
	op, err := Parse(*f.Expression)
	if err != nil {
		return domain.ErrValidation("field %q: %v", fid, err)
	}
	onPath[fid] = true
	path = append(path, fid)
	for _, ref := range op.Refs() {
		if err := r.visit(ref, path, onPath, done, out); err != nil {
			return err
		}
	}
	delete(onPath, fid)
	done[fid] = true
	*out = append(*out, fid)
	return nil
}

// Validate checks every derived field, in fid order: its expression parses,
// its chain is acyclic and every referenced field exists.
func (r *Resolver) Validate() error {
	fids := make([]string, 0, len(r.fields))
	for fid, f := range r.fields {
		if f.Expression != nil {
			fids = append(fids, fid)
		}
	}
	sort.Strings(fids)
	for _, fid := range fids {
		if _, err := r.Chain(fid); err != nil {
			return err
		}
	}
	return nil
}

// Options tune transform application.
type Options struct {
	// Location interprets naive timestamps; UTC when nil.
	Location *time.Location
	Logger   *slog.Logger
}

// Report summarises the values a transform dropped from its domain.
type Report struct {
	Dropped int
	// First is the first domain error seen, for diagnostics.
	First *domain.DomainError
}

// Apply materialises expr under key out for every row and returns new rows;
// the input rows are not modified. Values outside the transform's domain are
// stored as missing and counted in the report.
func Apply(rows []domain.Row, out string, expr domain.Expression, opts Options) ([]domain.Row, Report, error) {
	op, err := Parse(expr)
	if err != nil {
		return nil, Report{}, err
	}
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}

	values, rep, err := evaluate(op, rows, out, loc)
	if err != nil {
		return nil, Report{}, err
	}
	if rep.Dropped > 0 && opts.Logger != nil {
		opts.Logger.Debug("transform dropped values outside its domain",
			"field", out, "op", string(op.Name()), "dropped", rep.Dropped)
	}

	result := make([]domain.Row, len(rows))
	for i, row := range rows {
		next := row.Clone()
		next[out] = values[i]
		result[i] = next
	}
	return result, rep, nil
}

func evaluate(op Op, rows []domain.Row, out string, loc *time.Location) ([]interface{}, Report, error) {
	switch o := op.(type) {
	case Bin:
		return binValues(rows, o.Origin, o.Width, o.Count, false), Report{}, nil
	case BinCount:
		return binValues(rows, o.Origin, o.Width, o.Count, true), Report{}, nil
	case Log:
		return logValues(rows, o)
	case DateTimeDrill:
		return timeValues(rows, o.Origin, o.Format, loc, func(t time.Time) interface{} {
			return float64(Truncate(t, o.Level).UnixMilli())
		}), Report{}, nil
	case DateTimeFeature:
		return timeValues(rows, o.Origin, o.Format, loc, func(t time.Time) interface{} {
			return Feature(t, o.Level)
		}), Report{}, nil
	case Expr:
		return exprValues(rows, out, o)
	}
	return nil, Report{}, domain.ErrValidation("unsupported expression op %q", op.Name())
}

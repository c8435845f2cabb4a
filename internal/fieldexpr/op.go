// Package fieldexpr resolves derived-field expressions into per-row transforms.
package fieldexpr

import (
	"vizflow/internal/domain"
)

// DefaultBinCount is the bucket count used when a bin has no explicit width.
const DefaultBinCount = 10

// Op is a parsed expression. The set of implementations is closed; callers
// switch over it exhaustively.
type Op interface {
	Name() domain.ExpressionOp
	// Refs lists the fields the op reads.
	Refs() []string
	op()
}

// Bin buckets Origin into equal-width ranges and yields each bucket's lower edge.
type Bin struct {
	Origin string
	Width  float64 // zero means derive from the observed range and Count
	Count  int
}

// BinCount buckets like Bin and yields the number of rows in each bucket.
type BinCount struct {
	Origin string
	Width  float64
	Count  int
}

// Log yields log base Base of Origin. Non-positive inputs leave the domain.
type Log struct {
	Origin string
	Base   float64
}

// DateTimeDrill truncates a temporal Origin to Level.
type DateTimeDrill struct {
	Origin string
	Level  string
	Format string
}

// DateTimeFeature extracts a categorical feature at Level from a temporal Origin.
type DateTimeFeature struct {
	Origin string
	Level  string
	Format string
}

// Expr evaluates a user expression over the referenced fields.
type Expr struct {
	Fields []string
	Source string
}

func (Bin) Name() domain.ExpressionOp             { return domain.OpBin }
func (BinCount) Name() domain.ExpressionOp        { return domain.OpBinCount }
func (Log) Name() domain.ExpressionOp             { return domain.OpLog }
func (DateTimeDrill) Name() domain.ExpressionOp   { return domain.OpDateTimeDrill }
func (DateTimeFeature) Name() domain.ExpressionOp { return domain.OpDateTimeFeature }
func (Expr) Name() domain.ExpressionOp            { return domain.OpExpr }

func (o Bin) Refs() []string             { return []string{o.Origin} }
func (o BinCount) Refs() []string        { return []string{o.Origin} }
func (o Log) Refs() []string             { return []string{o.Origin} }
func (o DateTimeDrill) Refs() []string   { return []string{o.Origin} }
func (o DateTimeFeature) Refs() []string { return []string{o.Origin} }
func (o Expr) Refs() []string            { return append([]string(nil), o.Fields...) }

func (Bin) op()             {}
func (BinCount) op()        {}
func (Log) op()             {}
func (DateTimeDrill) op()   {}
func (DateTimeFeature) op() {}
func (Expr) op()            {}

// Parse converts a wire expression into its typed op.
//
// Parameter layouts:
//
//	bin, binCount     field origin, value width (null for auto), value bucket count
//	log               field origin, value base
//	dateTimeDrill     field origin, value level, format parse format
//	dateTimeFeature   field origin, value level, format parse format
//	expr              field refs..., value source
func Parse(e domain.Expression) (Op, error) {
	refs := e.FieldRefs()
	values := valueParams(e)

	switch e.Op {
	case domain.OpBin, domain.OpBinCount:
		origin, err := singleOrigin(e.Op, refs)
		if err != nil {
			return nil, err
		}
		width, count, err := binParams(e.Op, values)
		if err != nil {
			return nil, err
		}
		if e.Op == domain.OpBin {
			return Bin{Origin: origin, Width: width, Count: count}, nil
		}
		return BinCount{Origin: origin, Width: width, Count: count}, nil

	case domain.OpLog:
		origin, err := singleOrigin(e.Op, refs)
		if err != nil {
			return nil, err
		}
		base := 10.0
		if len(values) > 0 && values[0] != nil {
			b, ok := domain.AsNumber(values[0])
			if !ok {
				return nil, domain.ErrValidation("log: base must be a number, got %v", values[0])
			}
			base = b
		}
		if base <= 0 || base == 1 {
			return nil, domain.ErrValidation("log: base must be positive and not 1, got %v", base)
		}
		return Log{Origin: origin, Base: base}, nil

	case domain.OpDateTimeDrill, domain.OpDateTimeFeature:
		origin, err := singleOrigin(e.Op, refs)
		if err != nil {
			return nil, err
		}
		if len(values) == 0 {
			return nil, domain.ErrValidation("%s: level is required", e.Op)
		}
		level, _ := values[0].(string)
		format := ""
		if f, ok := e.Param(domain.ParamFormat); ok {
			format, _ = f.(string)
		}
		if e.Op == domain.OpDateTimeDrill {
			if !IsDrillLevel(level) {
				return nil, domain.ErrValidation("dateTimeDrill: unknown level %q", level)
			}
			return DateTimeDrill{Origin: origin, Level: level, Format: format}, nil
		}
		if !IsFeatureLevel(level) {
			return nil, domain.ErrValidation("dateTimeFeature: unknown level %q", level)
		}
		return DateTimeFeature{Origin: origin, Level: level, Format: format}, nil

	case domain.OpExpr:
		if len(values) == 0 {
			return nil, domain.ErrValidation("expr: source is required")
		}
		src, ok := values[len(values)-1].(string)
		if !ok || src == "" {
			return nil, domain.ErrValidation("expr: source must be a non-empty string")
		}
		return Expr{Fields: refs, Source: src}, nil
	}
	return nil, domain.ErrValidation("unknown expression op %q", e.Op)
}

func valueParams(e domain.Expression) []interface{} {
	var out []interface{}
	for _, p := range e.Params {
		if p.Type == domain.ParamValue {
			out = append(out, p.Value)
		}
	}
	return out
}

func singleOrigin(op domain.ExpressionOp, refs []string) (string, error) {
	if len(refs) != 1 {
		return "", domain.ErrValidation("%s: expected exactly one origin field, got %d", op, len(refs))
	}
	return refs[0], nil
}

func binParams(op domain.ExpressionOp, values []interface{}) (float64, int, error) {
	width := 0.0
	count := DefaultBinCount
	if len(values) > 0 && values[0] != nil {
		w, ok := domain.AsNumber(values[0])
		if !ok || w <= 0 {
			return 0, 0, domain.ErrValidation("%s: width must be a positive number, got %v", op, values[0])
		}
		width = w
	}
	if len(values) > 1 && values[1] != nil {
		c, ok := domain.AsNumber(values[1])
		if !ok || c < 1 || c != float64(int(c)) {
			return 0, 0, domain.ErrValidation("%s: bucket count must be a positive integer, got %v", op, values[1])
		}
		count = int(c)
	}
	return width, count, nil
}

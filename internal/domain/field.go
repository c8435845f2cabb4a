package domain

import "fmt"

// SemanticType classifies the values of a field.
type SemanticType string

// Semantic types.
const (
	SemanticNominal      SemanticType = "nominal"
	SemanticOrdinal      SemanticType = "ordinal"
	SemanticQuantitative SemanticType = "quantitative"
	SemanticTemporal     SemanticType = "temporal"
)

// AnalyticType is the role a field plays in a view.
type AnalyticType string

// Analytic types.
const (
	AnalyticDimension AnalyticType = "dimension"
	AnalyticMeasure   AnalyticType = "measure"
)

const (
	// CountFieldID is the virtual measure that evaluates to 1 for every row.
	CountFieldID = "gw_count_fid"

	// AggExpr marks a field that is already computed and must not be aggregated.
	AggExpr = "expr"

	// DefaultAggregator is used for measures without an explicit aggName.
	DefaultAggregator = "sum"
)

// ExpressionOp names a derived-field operation.
type ExpressionOp string

// Expression ops.
const (
	OpBin             ExpressionOp = "bin"
	OpBinCount        ExpressionOp = "binCount"
	OpLog             ExpressionOp = "log"
	OpDateTimeDrill   ExpressionOp = "dateTimeDrill"
	OpDateTimeFeature ExpressionOp = "dateTimeFeature"
	OpExpr            ExpressionOp = "expr"
)

// ParamType tags an expression parameter.
type ParamType string

// Parameter tags.
const (
	ParamField  ParamType = "field"
	ParamValue  ParamType = "value"
	ParamFormat ParamType = "format"
)

// ExpressionParam is one ordered parameter of an expression.
type ExpressionParam struct {
	Type  ParamType   `json:"type" yaml:"type"`
	Value interface{} `json:"value" yaml:"value"`
}

// Expression defines how a derived field is computed from other fields.
type Expression struct {
	Op     ExpressionOp      `json:"op" yaml:"op"`
	Params []ExpressionParam `json:"params" yaml:"params"`
	As     string            `json:"as" yaml:"as"`
}

// FieldRefs returns the fids referenced by field params, in param order.
func (e *Expression) FieldRefs() []string {
	if e == nil {
		return nil
	}
	var refs []string
	for _, p := range e.Params {
		if p.Type != ParamField {
			continue
		}
		if s, ok := p.Value.(string); ok {
			refs = append(refs, s)
		}
	}
	return refs
}

// Param returns the first parameter with the given tag.
func (e *Expression) Param(t ParamType) (interface{}, bool) {
	if e == nil {
		return nil, false
	}
	for _, p := range e.Params {
		if p.Type == t {
			return p.Value, true
		}
	}
	return nil, false
}

// Clone returns a deep copy of the expression's parameter list.
func (e *Expression) Clone() *Expression {
	if e == nil {
		return nil
	}
	out := *e
	out.Params = append([]ExpressionParam(nil), e.Params...)
	return &out
}

// Field describes one column, raw or derived.
type Field struct {
	FID          string       `json:"fid" yaml:"fid"`
	Name         string       `json:"name,omitempty" yaml:"name,omitempty"`
	SemanticType SemanticType `json:"semanticType" yaml:"semanticType"`
	AnalyticType AnalyticType `json:"analyticType" yaml:"analyticType"`
	Dataset      string       `json:"dataset,omitempty" yaml:"dataset,omitempty"`
	AggName      string       `json:"aggName,omitempty" yaml:"aggName,omitempty"`
	Computed     bool         `json:"computed,omitempty" yaml:"computed,omitempty"`
	Expression   *Expression  `json:"expression,omitempty" yaml:"expression,omitempty"`
}

// IsDerived reports whether the field is computed from other fields.
func (f Field) IsDerived() bool {
	return f.Expression != nil
}

// Aggregator returns the aggregator used for the field when it is a measure.
func (f Field) Aggregator() string {
	if f.AggName != "" {
		return f.AggName
	}
	return DefaultAggregator
}

// Validate checks the field's own shape. Reference integrity is checked by the
// expression resolver, which sees the full field set.
func (f Field) Validate() error {
	if f.FID == "" {
		return ErrValidation("field id is required")
	}
	switch f.SemanticType {
	case SemanticNominal, SemanticOrdinal, SemanticQuantitative, SemanticTemporal:
	case "":
		return ErrValidation("field %q: semanticType is required", f.FID)
	default:
		return ErrValidation("field %q: unknown semanticType %q", f.FID, f.SemanticType)
	}
	switch f.AnalyticType {
	case AnalyticDimension, AnalyticMeasure:
	case "":
		return ErrValidation("field %q: analyticType is required", f.FID)
	default:
		return ErrValidation("field %q: unknown analyticType %q", f.FID, f.AnalyticType)
	}
	if f.AggName != "" && !IsAggregator(f.AggName) {
		return ErrValidation("field %q: unknown aggregator %q", f.FID, f.AggName)
	}
	return nil
}

// FieldIndex maps fids to their definitions.
type FieldIndex map[string]Field

// IndexFields builds a FieldIndex, rejecting duplicate fids.
func IndexFields(fields []Field) (FieldIndex, error) {
	idx := make(FieldIndex, len(fields))
	for _, f := range fields {
		if _, dup := idx[f.FID]; dup {
			return nil, ErrValidation("duplicate field id %q", f.FID)
		}
		idx[f.FID] = f
	}
	return idx, nil
}

// Aggregator names.
const (
	AggSum           = "sum"
	AggMean          = "mean"
	AggMin           = "min"
	AggMax           = "max"
	AggMedian        = "median"
	AggCount         = "count"
	AggDistinctCount = "distinctCount"
	AggVariance      = "variance"
	AggStdev         = "stdev"
)

var aggregators = map[string]bool{
	AggSum: true, AggMean: true, AggMin: true, AggMax: true, AggMedian: true,
	AggCount: true, AggDistinctCount: true, AggVariance: true, AggStdev: true,
	AggExpr: true,
}

// IsAggregator reports whether name is a supported aggregator.
func IsAggregator(name string) bool {
	return aggregators[name]
}

// MeasureKey is the output column name of an aggregated measure.
func MeasureKey(fid, agg string) string {
	if agg == AggExpr {
		return fid
	}
	return fmt.Sprintf("%s_%s", fid, agg)
}

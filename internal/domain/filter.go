package domain

// Filter rule types.
const (
	RuleRange         = "range"
	RuleOneOf         = "one of"
	RuleNotIn         = "not in"
	RuleTemporalRange = "temporal range"
	RuleRelativeTime  = "relative time"
)

// Relative time units.
const (
	UnitSecond = "second"
	UnitMinute = "minute"
	UnitHour   = "hour"
	UnitDay    = "day"
	UnitWeek   = "week"
	UnitMonth  = "month"
	UnitYear   = "year"
)

// FilterRule is the predicate of a filter. Which members are meaningful
// depends on Type.
type FilterRule struct {
	Type string `json:"type" yaml:"type"`

	// range
	Min          *float64 `json:"min,omitempty" yaml:"min,omitempty"`
	Max          *float64 `json:"max,omitempty" yaml:"max,omitempty"`
	MinExclusive bool     `json:"minExclusive,omitempty" yaml:"minExclusive,omitempty"`
	MaxExclusive bool     `json:"maxExclusive,omitempty" yaml:"maxExclusive,omitempty"`

	// one of / not in
	Values []interface{} `json:"values,omitempty" yaml:"values,omitempty"`

	// temporal range, in epoch milliseconds; relative time anchor as well.
	From   *float64 `json:"from,omitempty" yaml:"from,omitempty"`
	To     *float64 `json:"to,omitempty" yaml:"to,omitempty"`
	Format string   `json:"format,omitempty" yaml:"format,omitempty"`

	// relative time
	Unit   string   `json:"unit,omitempty" yaml:"unit,omitempty"`
	Amount int      `json:"amount,omitempty" yaml:"amount,omitempty"`
	Anchor *float64 `json:"anchor,omitempty" yaml:"anchor,omitempty"`
}

// Validate checks that the rule carries what its type needs.
func (r FilterRule) Validate() error {
	switch r.Type {
	case RuleRange:
		if r.Min == nil && r.Max == nil {
			return ErrValidation("range filter needs min or max")
		}
		if r.Min != nil && r.Max != nil && *r.Min > *r.Max {
			return ErrValidation("range filter min %v exceeds max %v", *r.Min, *r.Max)
		}
	case RuleOneOf, RuleNotIn:
	case RuleTemporalRange:
		if r.From == nil && r.To == nil {
			return ErrValidation("temporal range filter needs from or to")
		}
	case RuleRelativeTime:
		switch r.Unit {
		case UnitSecond, UnitMinute, UnitHour, UnitDay, UnitWeek, UnitMonth, UnitYear:
		default:
			return ErrValidation("relative time filter: unknown unit %q", r.Unit)
		}
		if r.Amount <= 0 {
			return ErrValidation("relative time filter: amount must be positive")
		}
	default:
		return ErrValidation("unknown filter rule %q", r.Type)
	}
	return nil
}

// Filter restricts rows by a predicate on one field.
type Filter struct {
	FID  string     `json:"fid" yaml:"fid"`
	Rule FilterRule `json:"rule" yaml:"rule"`
}

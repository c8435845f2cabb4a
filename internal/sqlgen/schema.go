package sqlgen

import (
	"sort"
	"strings"

	"vizflow/internal/domain"
)

// RowColumn is the hidden column carrying each row's position. Every
// generated query keeps it up to date so results come back in the order the
// in-memory engine produces.
const RowColumn = "__row"

// binColumn holds bin edges while a binCount transform is built.
const binColumn = "__bin"

// ColumnType is the DuckDB storage class of a column.
type ColumnType string

// Column types.
const (
	TypeNumber ColumnType = "DOUBLE"
	TypeString ColumnType = "VARCHAR"
	TypeBool   ColumnType = "BOOLEAN"
)

// Schema maps column names to types. RowColumn is implicit.
type Schema map[string]ColumnType

// Names returns the column names in sorted order.
func (s Schema) Names() []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Check rejects column names DuckDB cannot keep apart: the reserved helper
// columns, and names equal up to case, since DuckDB resolves identifiers
// case-insensitively even when quoted.
func (s Schema) Check() error {
	seen := make(map[string]string, len(s))
	for _, name := range s.Names() {
		if strings.EqualFold(name, RowColumn) || strings.EqualFold(name, binColumn) {
			return domain.ErrValidation("field id %q is reserved", name)
		}
		key := strings.ToLower(name)
		if prev, ok := seen[key]; ok {
			return domain.ErrValidation("field ids %q and %q differ only by case", prev, name)
		}
		seen[key] = name
	}
	return nil
}

func (s Schema) clone() Schema {
	out := make(Schema, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Table is a dataset loaded into DuckDB.
type Table struct {
	Name   string
	Schema Schema
}

// InferSchema derives column types from declared fields and row values. A
// column holding only numbers (or nothing) is DOUBLE, only booleans is
// BOOLEAN, anything else is VARCHAR.
func InferSchema(fields []domain.Field, rows []domain.Row) Schema {
	kinds := map[string]map[ColumnType]bool{}
	note := func(col string, t ColumnType) {
		if kinds[col] == nil {
			kinds[col] = map[ColumnType]bool{}
		}
		if t != "" {
			kinds[col][t] = true
		}
	}
	for _, f := range fields {
		if !f.IsDerived() {
			note(f.FID, "")
		}
	}
	for _, r := range rows {
		for k, v := range r {
			note(k, kindOf(v))
		}
	}

	s := make(Schema, len(kinds))
	for col, ks := range kinds {
		switch {
		case len(ks) == 0 || len(ks) == 1 && ks[TypeNumber]:
			s[col] = TypeNumber
		case len(ks) == 1 && ks[TypeBool]:
			s[col] = TypeBool
		default:
			s[col] = TypeString
		}
	}
	return s
}

func kindOf(v interface{}) ColumnType {
	switch v.(type) {
	case nil:
		return ""
	case bool:
		return TypeBool
	case string:
		return TypeString
	}
	if _, ok := domain.AsNumber(v); ok {
		return TypeNumber
	}
	return TypeString
}

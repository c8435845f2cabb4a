package sqlgen

import (
	"fmt"
	"strings"

	"vizflow/internal/domain"
)

// CreateTable returns the CREATE TABLE statement for t, including RowColumn.
func CreateTable(t Table) (string, error) {
	if err := ValidateTableName(t.Name); err != nil {
		return "", fmt.Errorf("invalid table name: %w", err)
	}
	if err := t.Schema.Check(); err != nil {
		return "", err
	}
	defs := []string{QuoteIdentifier(RowColumn) + " BIGINT"}
	for _, name := range t.Schema.Names() {
		defs = append(defs, fmt.Sprintf("%s %s", QuoteIdentifier(name), t.Schema[name]))
	}
	return fmt.Sprintf("CREATE OR REPLACE TABLE %s (%s)", QuoteIdentifier(t.Name), strings.Join(defs, ", ")), nil
}

// DropTable returns DROP TABLE IF EXISTS for name.
func DropTable(name string) (string, error) {
	if err := ValidateTableName(name); err != nil {
		return "", fmt.Errorf("invalid table name: %w", err)
	}
	return "DROP TABLE IF EXISTS " + QuoteIdentifier(name), nil
}

// InsertRow returns a parameterised INSERT for t and a function turning a
// row and its position into the statement arguments.
func InsertRow(t Table) (string, func(pos int, r domain.Row) []interface{}, error) {
	if err := ValidateTableName(t.Name); err != nil {
		return "", nil, fmt.Errorf("invalid table name: %w", err)
	}
	names := t.Schema.Names()
	cols := make([]string, 0, len(names)+1)
	marks := make([]string, 0, len(names)+1)
	cols = append(cols, QuoteIdentifier(RowColumn))
	marks = append(marks, "?")
	for _, n := range names {
		cols = append(cols, QuoteIdentifier(n))
		marks = append(marks, "?")
	}
	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", QuoteIdentifier(t.Name), strings.Join(cols, ", "), strings.Join(marks, ", "))

	args := func(pos int, r domain.Row) []interface{} {
		out := make([]interface{}, 0, len(names)+1)
		out = append(out, int64(pos))
		for _, n := range names {
			out = append(out, storedValue(r[n], t.Schema[n]))
		}
		return out
	}
	return stmt, args, nil
}

// storedValue coerces v into the column's storage class.
func storedValue(v interface{}, t ColumnType) interface{} {
	if v == nil {
		return nil
	}
	switch t {
	case TypeNumber:
		if f, ok := domain.AsNumber(v); ok {
			return f
		}
		return nil
	case TypeBool:
		b, _ := v.(bool)
		return b
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(domain.Normalize(v))
}

package sqlgen

import (
	"fmt"
	"regexp"
	"strings"
)

// tableNameRe admits dataset ids usable as DuckDB table names.
var tableNameRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_\-.]*$`)

const maxIdentifierLen = 128

// ValidateTableName checks that name is a safe table name for a dataset.
func ValidateTableName(name string) error {
	if name == "" {
		return fmt.Errorf("name is required")
	}
	if len(name) > maxIdentifierLen {
		return fmt.Errorf("name must be at most %d characters", maxIdentifierLen)
	}
	if !tableNameRe.MatchString(name) {
		return fmt.Errorf("name %q must match [a-zA-Z_][a-zA-Z0-9_-.]*", name)
	}
	return nil
}

// QuoteIdentifier wraps a SQL identifier in double quotes, doubling any
// embedded double quote. Field ids are arbitrary strings, so every column
// reference goes through here.
func QuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// QuoteLiteral wraps a string value in single quotes, doubling any embedded
// single quote.
func QuoteLiteral(value string) string {
	return "'" + strings.ReplaceAll(value, "'", "''") + "'"
}

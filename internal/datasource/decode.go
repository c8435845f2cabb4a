package datasource

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strconv"
	"strings"

	"vizflow/internal/domain"
	"vizflow/internal/fieldexpr"
)

// Formats understood by Decode.
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
)

// FormatFor guesses the format from a URI's extension, ignoring any query.
func FormatFor(uri string) string {
	if i := strings.IndexAny(uri, "?#"); i >= 0 {
		uri = uri[:i]
	}
	switch strings.ToLower(path.Ext(uri)) {
	case ".csv", ".tsv":
		return FormatCSV
	default:
		return FormatJSON
	}
}

// Decode reads rows in the given format. Declared quantitative fields are
// parsed as numbers in CSV input; every other CSV column is numeric only if
// all of its non-empty cells parse as numbers.
func Decode(r io.Reader, format string, fields []domain.Field) ([]domain.Row, error) {
	switch format {
	case FormatCSV:
		return DecodeCSV(r, fields)
	case FormatJSON, "":
		return DecodeJSON(r)
	}
	return nil, domain.ErrValidation("unknown dataset format %q (json or csv)", format)
}

// DecodeJSON reads an array of objects. Nested values are rejected.
func DecodeJSON(r io.Reader) ([]domain.Row, error) {
	var raw []map[string]interface{}
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode json rows: %w", err)
	}
	rows := make([]domain.Row, len(raw))
	for i, obj := range raw {
		row := make(domain.Row, len(obj))
		for k, v := range obj {
			switch v.(type) {
			case map[string]interface{}, []interface{}:
				return nil, domain.ErrValidation("row %d: field %q is not a scalar", i, k)
			}
			row[k] = domain.Normalize(v)
		}
		rows[i] = row
	}
	return rows, nil
}

// DecodeCSV reads a header row followed by records. Empty cells are missing
// values.
func DecodeCSV(r io.Reader, fields []domain.Field) ([]domain.Row, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return []domain.Row{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	var records [][]string
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv: %w", err)
		}
		records = append(records, rec)
	}

	numeric := make([]bool, len(header))
	declared := map[string]domain.SemanticType{}
	for _, f := range fields {
		declared[f.FID] = f.SemanticType
	}
	for c, name := range header {
		switch st, ok := declared[name]; {
		case ok && st == domain.SemanticQuantitative:
			numeric[c] = true
		case ok:
			numeric[c] = false
		default:
			numeric[c] = numericColumn(records, c)
		}
	}

	rows := make([]domain.Row, len(records))
	for i, rec := range records {
		row := make(domain.Row, len(header))
		for c, name := range header {
			if c >= len(rec) || rec[c] == "" {
				row[name] = nil
				continue
			}
			if numeric[c] {
				f, err := strconv.ParseFloat(strings.TrimSpace(rec[c]), 64)
				if err != nil {
					// Unparseable measure cells are missing values.
					row[name] = nil
					continue
				}
				row[name] = f
				continue
			}
			row[name] = rec[c]
		}
		rows[i] = row
	}
	return rows, nil
}

func numericColumn(records [][]string, c int) bool {
	seen := false
	for _, rec := range records {
		if c >= len(rec) || rec[c] == "" {
			continue
		}
		if _, err := strconv.ParseFloat(strings.TrimSpace(rec[c]), 64); err != nil {
			return false
		}
		seen = true
	}
	return seen
}

// InferFields describes every column of rows that fields does not declare:
// numbers are quantitative measures, strings that parse as dates are
// temporal dimensions, everything else is nominal. Declared fields keep
// their definitions and come first; inferred ones follow in name order.
func InferFields(rows []domain.Row, fields []domain.Field, sampleSize int) []domain.Field {
	if sampleSize <= 0 {
		sampleSize = fieldexpr.DefaultSampleSize
	}
	out := append([]domain.Field(nil), fields...)
	known := map[string]bool{}
	for _, f := range fields {
		known[f.FID] = true
	}

	var names []string
	samples := map[string][]interface{}{}
	numeric := map[string]bool{}
	for _, r := range rows {
		for k, v := range r {
			if known[k] {
				continue
			}
			if _, ok := numeric[k]; !ok {
				names = append(names, k)
				numeric[k] = true
			}
			if v == nil {
				continue
			}
			if _, ok := v.(float64); !ok {
				numeric[k] = false
			}
			if len(samples[k]) < sampleSize {
				samples[k] = append(samples[k], v)
			}
		}
	}
	sort.Strings(names)

	for _, name := range names {
		f := domain.Field{FID: name, Name: name}
		switch {
		case numeric[name] && len(samples[name]) > 0:
			f.SemanticType, f.AnalyticType = domain.SemanticQuantitative, domain.AnalyticMeasure
		case !numeric[name] && allStrings(samples[name]) && fieldexpr.InferFormat(samples[name]) != "":
			f.SemanticType, f.AnalyticType = domain.SemanticTemporal, domain.AnalyticDimension
		default:
			f.SemanticType, f.AnalyticType = domain.SemanticNominal, domain.AnalyticDimension
		}
		out = append(out, f)
	}
	return out
}

func allStrings(vals []interface{}) bool {
	for _, v := range vals {
		if _, ok := v.(string); !ok {
			return false
		}
	}
	return len(vals) > 0
}

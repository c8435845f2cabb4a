package cli

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"vizflow/internal/domain"
)

// Output formats.
const (
	OutputAuto  = "auto"
	OutputTable = "table"
	OutputJSON  = "json"
	OutputCSV   = "csv"
)

// getOutputFormat returns the effective output format from the root
// command's persistent flags. auto resolves to table on terminals and JSON
// otherwise.
func getOutputFormat(cmd *cobra.Command) string {
	v, _ := cmd.Root().PersistentFlags().GetString("output")
	if v == "" || v == OutputAuto {
		if isTerminal(cmd.OutOrStdout()) {
			return OutputTable
		}
		return OutputJSON
	}
	return v
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd())) //nolint:gosec // fd fits in int
}

func validateOutputFormat(output string) error {
	switch output {
	case "", OutputAuto, OutputTable, OutputJSON, OutputCSV:
		return nil
	}
	return fmt.Errorf("unsupported output format %q: use 'auto', 'table', 'json' or 'csv'", output)
}

func validateTransport(transport string) error {
	switch transport {
	case "", domain.TransportHTTP, domain.TransportGRPC:
		return nil
	}
	return fmt.Errorf("unsupported transport %q: use 'http' or 'grpc'", transport)
}

// PrintJSON writes v as indented JSON.
func PrintJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// PrintTable writes an aligned table with upper-cased headers. Columns are
// separated by two spaces.
func PrintTable(w io.Writer, columns []string, rows [][]string) {
	if len(columns) == 0 {
		return
	}
	widths := make([]int, len(columns))
	for i, c := range columns {
		widths[i] = len(c)
	}
	for _, r := range rows {
		for i := range columns {
			if i < len(r) && len(r[i]) > widths[i] {
				widths[i] = len(r[i])
			}
		}
	}
	line := func(cells []string) {
		var b strings.Builder
		for i := range columns {
			cell := ""
			if i < len(cells) {
				cell = cells[i]
			}
			if i == len(columns)-1 {
				b.WriteString(cell)
				break
			}
			b.WriteString(cell)
			b.WriteString(strings.Repeat(" ", widths[i]-len(cell)+2))
		}
		_, _ = fmt.Fprintln(w, strings.TrimRight(b.String(), " "))
	}
	headers := make([]string, len(columns))
	for i, c := range columns {
		headers[i] = strings.ToUpper(c)
	}
	line(headers)
	for _, r := range rows {
		line(r)
	}
}

// PrintCSV writes columns and rows as CSV.
func PrintCSV(w io.Writer, columns []string, rows [][]string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(columns); err != nil {
		return err
	}
	if err := cw.WriteAll(rows); err != nil {
		return err
	}
	return cw.Error()
}

// rowColumns returns the columns of rows: preferred first, in order, then
// every other key sorted.
func rowColumns(rows []domain.Row, preferred []string) []string {
	seen := map[string]bool{}
	var cols []string
	for _, c := range preferred {
		if !seen[c] {
			seen[c] = true
			cols = append(cols, c)
		}
	}
	var rest []string
	for _, r := range rows {
		for k := range r {
			if !seen[k] {
				seen[k] = true
				rest = append(rest, k)
			}
		}
	}
	sort.Strings(rest)
	return append(cols, rest...)
}

// formatValue renders a cell. Missing values are empty.
func formatValue(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

// writeRows prints rows in the command's output format.
func writeRows(cmd *cobra.Command, rows []domain.Row, preferred []string) error {
	out := cmd.OutOrStdout()
	if getOutputFormat(cmd) == OutputJSON {
		if rows == nil {
			rows = []domain.Row{}
		}
		return PrintJSON(out, rows)
	}
	cols := rowColumns(rows, preferred)
	cells := make([][]string, len(rows))
	for i, r := range rows {
		cells[i] = make([]string, len(cols))
		for j, c := range cols {
			cells[i][j] = formatValue(r[c])
		}
	}
	if getOutputFormat(cmd) == OutputCSV {
		return PrintCSV(out, cols, cells)
	}
	PrintTable(out, cols, cells)
	_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "\n(%d rows)\n", len(rows))
	return nil
}

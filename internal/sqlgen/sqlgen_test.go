package sqlgen

import (
	"context"
	"database/sql"
	"math"
	"sort"
	"testing"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vizflow/internal/compute"
	"vizflow/internal/domain"
)

func ptr(f float64) *float64 { return &f }

func openTestDuckDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("duckdb", "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	_, err = db.Exec("SET TimeZone = 'UTC'")
	require.NoError(t, err)
	return db
}

var ordersFields = []domain.Field{
	{FID: "region", SemanticType: domain.SemanticNominal, AnalyticType: domain.AnalyticDimension},
	{FID: "sales", SemanticType: domain.SemanticQuantitative, AnalyticType: domain.AnalyticMeasure},
	{FID: "date", SemanticType: domain.SemanticTemporal, AnalyticType: domain.AnalyticDimension},
	{FID: "customer", SemanticType: domain.SemanticNominal, AnalyticType: domain.AnalyticDimension},
}

func ordersRows() []domain.Row {
	return []domain.Row{
		{"region": "north", "sales": 10.0, "date": "2024-01-15", "customer": "c1"},
		{"region": "south", "sales": 20.0, "date": "2024-02-10", "customer": "c2"},
		{"region": "north", "sales": 5.0, "date": "2024-03-01", "customer": "c1"},
		{"region": nil, "sales": 7.0, "date": "2024-03-05", "customer": "c3"},
		{"region": "east", "sales": nil, "date": "bad", "customer": "c2"},
		{"region": "south", "sales": 1.0, "date": "2024-12-30", "customer": nil},
	}
}

func customersRows() []domain.Row {
	return []domain.Row{
		{"customer": "c1", "tier": "gold"},
		{"customer": "c2", "tier": "silver"},
		{"customer": "c1", "tier": "bronze"},
	}
}

func TestInferSchema(t *testing.T) {
	t.Parallel()
	s := InferSchema([]domain.Field{{FID: "empty"}}, []domain.Row{
		{"n": 1.0, "s": "x", "b": true, "mixed": 1.0},
		{"n": nil, "s": nil, "b": false, "mixed": "y"},
	})
	assert.Equal(t, Schema{"empty": TypeNumber, "n": TypeNumber, "s": TypeString, "b": TypeBool, "mixed": TypeString}, s)
}

func TestQuoteIdentifier(t *testing.T) {
	t.Parallel()
	assert.Equal(t, `"plain"`, QuoteIdentifier("plain"))
	assert.Equal(t, `"a""b"`, QuoteIdentifier(`a"b`))
	assert.Equal(t, `'it''s'`, QuoteLiteral("it's"))
	require.Error(t, ValidateTableName(`x"; DROP TABLE y`))
	require.NoError(t, ValidateTableName("sales-2024.v1"))
}

func TestCompile_Shape(t *testing.T) {
	t.Parallel()
	table := Table{Name: "orders", Schema: InferSchema(ordersFields, ordersRows())}

	q, err := Compile(table, nil, nil, domain.Workflow{
		domain.FilterStep{FID: "region", Rule: domain.FilterRule{Type: domain.RuleNotIn, Values: []interface{}{"east"}}},
		domain.AggregateStep{GroupBy: []string{"region"}, Measures: []domain.Measure{{FID: domain.CountFieldID, Agg: domain.AggSum, As: "gw_count_fid_sum"}}},
		domain.SortStep{By: []string{"gw_count_fid_sum"}, Direction: domain.SortDescending},
		domain.LimitStep{Limit: 3},
	})
	require.NoError(t, err)
	assert.Contains(t, q.SQL, `("region" IS NULL OR NOT ("region" IN (?)))`)
	assert.Contains(t, q.SQL, `CAST(sum(1) AS DOUBLE) AS "gw_count_fid_sum"`)
	assert.Contains(t, q.SQL, "GROUP BY ALL")
	assert.Contains(t, q.SQL, `"gw_count_fid_sum" DESC NULLS LAST, "__row"`)
	assert.Contains(t, q.SQL, "LIMIT 3")
	assert.Equal(t, []interface{}{"east"}, q.Args)
	assert.Equal(t, Schema{"region": TypeString, "gw_count_fid_sum": TypeNumber}, q.Schema)
}

func TestCompile_Errors(t *testing.T) {
	t.Parallel()
	table := Table{Name: "orders", Schema: InferSchema(ordersFields, ordersRows())}

	_, err := Compile(table, nil, nil, domain.Workflow{domain.SortStep{By: []string{"profit"}}})
	var unknown *domain.UnknownFieldError
	require.ErrorAs(t, err, &unknown)

	_, err = Compile(table, nil, nil, domain.Workflow{domain.TransformStep{FID: "x", Expression: domain.Expression{
		Op:     domain.OpExpr,
		Params: []domain.ExpressionParam{{Type: domain.ParamField, Value: "sales"}, {Type: domain.ParamValue, Value: "sales * 2"}},
	}}})
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)

	_, err = Compile(Table{Name: `bad"name`}, nil, nil, nil)
	require.ErrorAs(t, err, &verr)

	_, err = Compile(table, nil, []domain.JoinHop{{From: "customers", To: "orders", Key: "customer"}}, nil)
	var nf *domain.NotFoundError
	require.ErrorAs(t, err, &nf)
}

func TestCompile_RejectsClashingColumns(t *testing.T) {
	t.Parallel()
	logOf := func(fid string) domain.Expression {
		return domain.Expression{Op: domain.OpLog, Params: []domain.ExpressionParam{{Type: domain.ParamField, Value: fid}}}
	}
	orders := Table{Name: "orders", Schema: InferSchema(ordersFields, ordersRows())}

	tests := []struct {
		name    string
		table   Table
		wf      domain.Workflow
		wantErr string
	}{
		{
			name:    "row column as field",
			table:   Table{Name: "t", Schema: InferSchema(nil, []domain.Row{{"__row": 1.0, "a": 2.0}})},
			wantErr: `field id "__row" is reserved`,
		},
		{
			name:    "row column in another case",
			table:   Table{Name: "t", Schema: Schema{"__ROW": TypeNumber}},
			wantErr: "is reserved",
		},
		{
			name:    "raw fields differing by case",
			table:   Table{Name: "t", Schema: InferSchema(nil, []domain.Row{{"Sales": 1.0, "sales": 2.0}})},
			wantErr: `field ids "Sales" and "sales" differ only by case`,
		},
		{
			name:    "transform onto the row column",
			table:   orders,
			wf:      domain.Workflow{domain.TransformStep{FID: RowColumn, Expression: logOf("sales")}},
			wantErr: "is reserved",
		},
		{
			name:    "transform onto the bin column",
			table:   orders,
			wf:      domain.Workflow{domain.TransformStep{FID: "__Bin", Expression: logOf("sales")}},
			wantErr: "is reserved",
		},
		{
			name:    "derived field differing by case",
			table:   orders,
			wf:      domain.Workflow{domain.TransformStep{FID: "SALES", Expression: logOf("sales")}},
			wantErr: "differ only by case",
		},
		{
			name:  "measure key differing by case from group key",
			table: orders,
			wf: domain.Workflow{domain.AggregateStep{
				GroupBy:  []string{"region"},
				Measures: []domain.Measure{{FID: "sales", Agg: domain.AggSum, As: "REGION"}},
			}},
			wantErr: "differ only by case",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Compile(tt.table, nil, nil, tt.wf)
			var verr *domain.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	t.Run("replacing a column keeps its exact name", func(t *testing.T) {
		t.Parallel()
		_, err := Compile(orders, nil, nil, domain.Workflow{domain.TransformStep{FID: "sales", Expression: logOf("sales")}})
		assert.NoError(t, err)
	})

	t.Run("load refuses the row column", func(t *testing.T) {
		t.Parallel()
		db := openTestDuckDB(t)
		bad := Table{Name: "t", Schema: Schema{RowColumn: TypeNumber}}
		var verr *domain.ValidationError
		require.ErrorAs(t, Load(context.Background(), db, bad, nil), &verr)
	})
}

func TestDuckDBFormat(t *testing.T) {
	t.Parallel()
	f, err := DuckDBFormat("%Y-%m-%dT%H:%M:%S.%LZ")
	require.NoError(t, err)
	assert.Equal(t, "%Y-%m-%dT%H:%M:%S.%gZ", f)
	_, err = DuckDBFormat("%Q")
	require.Error(t, err)
}

// canonical drops missing values and rounds floats so rows from both
// engines compare equal.
func canonical(rows []domain.Row) []map[string]interface{} {
	out := make([]map[string]interface{}, len(rows))
	for i, r := range rows {
		m := map[string]interface{}{}
		for k, v := range r {
			if v == nil {
				continue
			}
			if f, ok := v.(float64); ok {
				v = math.Round(f*1e9) / 1e9
			}
			m[k] = v
		}
		out[i] = m
	}
	sort.SliceStable(out, func(i, j int) bool {
		return domain.TupleKey(sortedValues(out[i])) < domain.TupleKey(sortedValues(out[j]))
	})
	return out
}

func sortedValues(m map[string]interface{}) []interface{} {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]interface{}, 0, 2*len(keys))
	for _, k := range keys {
		out = append(out, k, m[k])
	}
	return out
}

func expr(op domain.ExpressionOp, params ...domain.ExpressionParam) domain.Expression {
	return domain.Expression{Op: op, Params: params}
}

func field(fid string) domain.ExpressionParam {
	return domain.ExpressionParam{Type: domain.ParamField, Value: fid}
}

func value(v interface{}) domain.ExpressionParam {
	return domain.ExpressionParam{Type: domain.ParamValue, Value: v}
}

func TestCompile_MatchesEngine(t *testing.T) {
	ctx := context.Background()
	db := openTestDuckDB(t)

	orders := Table{Name: "orders", Schema: InferSchema(ordersFields, ordersRows())}
	customers := Table{Name: "customers", Schema: InferSchema(nil, customersRows())}
	require.NoError(t, Load(ctx, db, orders, ordersRows()))
	require.NoError(t, Load(ctx, db, customers, customersRows()))

	joins := []domain.JoinHop{{From: "customers", To: "orders", Key: "customer"}}
	tests := []struct {
		name  string
		wf    domain.Workflow
		joins []domain.JoinHop
	}{
		{name: "passthrough", wf: domain.Workflow{}},
		{name: "range", wf: domain.Workflow{
			domain.FilterStep{FID: "sales", Rule: domain.FilterRule{Type: domain.RuleRange, Min: ptr(5), Max: ptr(10), MaxExclusive: true}},
		}},
		{name: "one_of_with_null", wf: domain.Workflow{
			domain.FilterStep{FID: "region", Rule: domain.FilterRule{Type: domain.RuleOneOf, Values: []interface{}{"north", nil}}},
		}},
		{name: "not_in", wf: domain.Workflow{
			domain.FilterStep{FID: "region", Rule: domain.FilterRule{Type: domain.RuleNotIn, Values: []interface{}{"north", 3.0}}},
		}},
		{name: "temporal_range", wf: domain.Workflow{
			domain.FilterStep{FID: "date", Rule: domain.FilterRule{Type: domain.RuleTemporalRange, From: ptr(1706745600000), To: ptr(1709337600000), Format: "%Y-%m-%d"}},
		}},
		{name: "grouped_sum_sorted", wf: domain.Workflow{
			domain.AggregateStep{GroupBy: []string{"region"}, Measures: []domain.Measure{
				{FID: "sales", Agg: domain.AggSum, As: "sales_sum"},
				{FID: domain.CountFieldID, Agg: domain.AggSum, As: "gw_count_fid_sum"},
			}},
			domain.SortStep{By: []string{"sales_sum"}, Direction: domain.SortDescending},
		}},
		{name: "grouped_first_appearance", wf: domain.Workflow{
			domain.AggregateStep{GroupBy: []string{"region"}, Measures: []domain.Measure{{FID: "sales", Agg: domain.AggMean, As: "sales_mean"}}},
		}},
		{name: "statistics", wf: domain.Workflow{
			domain.AggregateStep{Measures: []domain.Measure{
				{FID: "sales", Agg: domain.AggMedian, As: "median"},
				{FID: "sales", Agg: domain.AggVariance, As: "var"},
				{FID: "sales", Agg: domain.AggStdev, As: "sd"},
				{FID: "sales", Agg: domain.AggMin, As: "min"},
				{FID: "sales", Agg: domain.AggMax, As: "max"},
				{FID: "sales", Agg: domain.AggCount, As: "count"},
				{FID: "region", Agg: domain.AggDistinctCount, As: "regions"},
				{FID: "region", Agg: domain.AggSum, As: "region_sum"},
			}},
		}},
		{name: "empty_aggregate", wf: domain.Workflow{
			domain.FilterStep{FID: "sales", Rule: domain.FilterRule{Type: domain.RuleRange, Min: ptr(1000)}},
			domain.AggregateStep{Measures: []domain.Measure{{FID: "sales", Agg: domain.AggSum, As: "sales_sum"}, {FID: "sales", Agg: domain.AggCount, As: "n"}}},
		}},
		{name: "bin_and_count", wf: domain.Workflow{
			domain.TransformStep{FID: "b", Expression: expr(domain.OpBin, field("sales"), value(nil), value(4.0))},
			domain.TransformStep{FID: "bc", Expression: expr(domain.OpBinCount, field("sales"), value(nil), value(4.0))},
		}},
		{name: "bin_fixed_width", wf: domain.Workflow{
			domain.TransformStep{FID: "b", Expression: expr(domain.OpBin, field("sales"), value(3.0))},
		}},
		{name: "log", wf: domain.Workflow{
			domain.TransformStep{FID: "l", Expression: expr(domain.OpLog, field("sales"), value(2.0))},
		}},
		{name: "drill_month_grouped", wf: domain.Workflow{
			domain.TransformStep{FID: "m", Expression: expr(domain.OpDateTimeDrill, field("date"), value("month"),
				domain.ExpressionParam{Type: domain.ParamFormat, Value: "%Y-%m-%d"})},
			domain.AggregateStep{GroupBy: []string{"m"}, Measures: []domain.Measure{{FID: "sales", Agg: domain.AggSum, As: "sales_sum"}}},
			domain.SortStep{By: []string{"m"}, Direction: domain.SortAscending},
		}},
		{name: "drill_week_auto_format", wf: domain.Workflow{
			domain.TransformStep{FID: "w", Expression: expr(domain.OpDateTimeDrill, field("date"), value("week"))},
		}},
		{name: "feature_weekday", wf: domain.Workflow{
			domain.TransformStep{FID: "wd", Expression: expr(domain.OpDateTimeFeature, field("date"), value("weekday"))},
			domain.TransformStep{FID: "wk", Expression: expr(domain.OpDateTimeFeature, field("date"), value("week"))},
		}},
		{name: "joined_first_match", joins: joins, wf: domain.Workflow{
			domain.AggregateStep{GroupBy: []string{"tier"}, Measures: []domain.Measure{{FID: "sales", Agg: domain.AggSum, As: "sales_sum"}}},
		}},
		{name: "sort_limit", wf: domain.Workflow{
			domain.SortStep{By: []string{"region", "sales"}, Direction: domain.SortAscending},
			domain.LimitStep{Limit: 4},
		}},
	}

	store := compute.NewMemoryStore(
		domain.Dataset{ID: "orders", Fields: ordersFields, Rows: ordersRows()},
		domain.Dataset{ID: "customers", Rows: customersRows()},
	)
	local := compute.NewLocalExecutor(store, compute.Engine{})

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			want, err := local.Query(ctx, domain.QueryRequest{DatasetID: "orders", Workflow: tc.wf, Joins: tc.joins})
			require.NoError(t, err)

			q, err := Compile(orders, map[string]Table{"customers": customers}, tc.joins, tc.wf)
			require.NoError(t, err)
			got, err := Run(ctx, db, q)
			require.NoError(t, err, q.SQL)

			require.Len(t, got, len(want), q.SQL)
			for i := range want {
				assert.Equal(t, canonical(want[i:i+1]), canonical(got[i:i+1]), "row %d\n%s", i, q.SQL)
			}
		})
	}
}

package agent

import (
	"context"
	"math"
	"sort"
	"testing"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vizflow/internal/compute"
	"vizflow/internal/domain"
)

func newDuckDBBackend(t *testing.T, datasets ...domain.Dataset) *DuckDBBackend {
	t.Helper()
	db, err := OpenDuckDB("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	b := NewDuckDBBackend(db)
	require.NoError(t, b.Load(context.Background(), datasets...))
	return b
}

func ptr(f float64) *float64 { return &f }

func expr(op domain.ExpressionOp, params ...domain.ExpressionParam) domain.Expression {
	return domain.Expression{Op: op, Params: params}
}

func field(fid string) domain.ExpressionParam {
	return domain.ExpressionParam{Type: domain.ParamField, Value: fid}
}

func value(v interface{}) domain.ExpressionParam {
	return domain.ExpressionParam{Type: domain.ParamValue, Value: v}
}

// rowSet canonicalizes rows into an order-free multiset: missing values are
// dropped and floats rounded so engines with different float paths agree.
func rowSet(rows []domain.Row) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		keys := make([]string, 0, len(r))
		for k, v := range r {
			if v != nil {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		tuple := make([]interface{}, 0, 2*len(keys))
		for _, k := range keys {
			v := r[k]
			if f, ok := v.(float64); ok {
				v = math.Round(f*1e9) / 1e9
			}
			tuple = append(tuple, k, v)
		}
		out[i] = domain.TupleKey(tuple)
	}
	sort.Strings(out)
	return out
}

type equivalenceCase struct {
	name  string
	wf    domain.Workflow
	joins []domain.JoinHop
	// dataset defaults to sales.
	dataset string
}

// readingsDataset holds values outside the log domain.
func readingsDataset() domain.Dataset {
	return domain.Dataset{ID: "readings", Rows: []domain.Row{
		{"sensor": "a", "value": 10.0},
		{"sensor": "a", "value": 0.0},
		{"sensor": "a", "value": -3.0},
		{"sensor": "b", "value": 100.0},
		{"sensor": "b", "value": nil},
		{"sensor": "b", "value": 1.0},
	}}
}

func equivalenceCases() []equivalenceCase {
	joins := []domain.JoinHop{{From: "customers", To: "sales", Key: "customer"}}
	return []equivalenceCase{
		{name: "passthrough", wf: domain.Workflow{}},
		{name: "projection", wf: domain.Workflow{
			domain.SortStep{By: []string{"sales"}, Direction: domain.SortDescending},
			domain.ProjectStep{Fields: []string{"region", domain.CountFieldID}},
			domain.LimitStep{Limit: 3},
		}},
		{name: "range_and_membership", wf: domain.Workflow{
			domain.FilterStep{FID: "sales", Rule: domain.FilterRule{Type: domain.RuleRange, Min: ptr(2), Max: ptr(20)}},
			domain.FilterStep{FID: "region", Rule: domain.FilterRule{Type: domain.RuleNotIn, Values: []interface{}{"south"}}},
		}},
		{name: "temporal_range", wf: domain.Workflow{
			domain.FilterStep{FID: "date", Rule: domain.FilterRule{Type: domain.RuleTemporalRange, From: ptr(1706745600000), To: ptr(1709337600000), Format: "%Y-%m-%d"}},
		}},
		{name: "grouped_measures", wf: domain.Workflow{
			domain.AggregateStep{GroupBy: []string{"region"}, Measures: []domain.Measure{
				{FID: "sales", Agg: domain.AggSum, As: "sales_sum"},
				{FID: "sales", Agg: domain.AggMean, As: "sales_mean"},
				{FID: domain.CountFieldID, Agg: domain.AggSum, As: "gw_count_fid_sum"},
			}},
		}},
		{name: "statistics", wf: domain.Workflow{
			domain.AggregateStep{Measures: []domain.Measure{
				{FID: "sales", Agg: domain.AggMedian, As: "median"},
				{FID: "sales", Agg: domain.AggVariance, As: "var"},
				{FID: "sales", Agg: domain.AggStdev, As: "sd"},
				{FID: "region", Agg: domain.AggDistinctCount, As: "regions"},
			}},
		}},
		{name: "bin_then_aggregate", wf: domain.Workflow{
			domain.TransformStep{FID: "bucket", Expression: expr(domain.OpBin, field("sales"), value(nil), value(4.0))},
			domain.AggregateStep{GroupBy: []string{"bucket"}, Measures: []domain.Measure{{FID: domain.CountFieldID, Agg: domain.AggSum, As: "n"}}},
		}},
		{name: "log_transform", wf: domain.Workflow{
			domain.TransformStep{FID: "log_sales", Expression: expr(domain.OpLog, field("sales"), value(10.0))},
		}},
		{name: "log_count_excludes_non_positive", dataset: "readings", wf: domain.Workflow{
			domain.TransformStep{FID: "log_value", Expression: expr(domain.OpLog, field("value"), value(10.0))},
			domain.AggregateStep{GroupBy: []string{"sensor"}, Measures: []domain.Measure{
				{FID: "value", Agg: domain.AggCount, As: "value_count"},
				{FID: "log_value", Agg: domain.AggCount, As: "log_value_count"},
			}},
		}},
		{name: "month_drill", wf: domain.Workflow{
			domain.TransformStep{FID: "month", Expression: expr(domain.OpDateTimeDrill, field("date"), value("month"),
				domain.ExpressionParam{Type: domain.ParamFormat, Value: "%Y-%m-%d"})},
			domain.AggregateStep{GroupBy: []string{"month"}, Measures: []domain.Measure{{FID: "sales", Agg: domain.AggMax, As: "sales_max"}}},
		}},
		{name: "joined", joins: joins, wf: domain.Workflow{
			domain.AggregateStep{GroupBy: []string{"tier"}, Measures: []domain.Measure{{FID: "sales", Agg: domain.AggSum, As: "sales_sum"}}},
		}},
		{name: "sort_limit", wf: domain.Workflow{
			domain.SortStep{By: []string{"sales"}, Direction: domain.SortDescending},
			domain.LimitStep{Limit: 3},
		}},
	}
}

func TestBackends_MatchClientEngine(t *testing.T) {
	datasets := []domain.Dataset{salesDataset(), customersDataset(), readingsDataset()}
	client := compute.NewLocalExecutor(compute.NewMemoryStore(datasets...), compute.Engine{})

	backends := map[string]Backend{
		BackendMemory: NewMemoryBackend(compute.Engine{}, datasets...),
		BackendDuckDB: newDuckDBBackend(t, datasets...),
	}

	for name, backend := range backends {
		executors := map[string]domain.ComputeExecutor{
			"direct": backend,
			"http": compute.NewRemoteExecutor(domain.ComputationConfig{
				Mode: domain.ModeServer, Server: setupAgentTest(t, agentOptions{backend: backend}).URL, APIKey: testToken,
			}),
			"grpc": grpcRemote(t, startGRPCAgent(t, backend, nil), testToken),
		}
		for transport, exec := range executors {
			for _, tc := range equivalenceCases() {
				t.Run(name+"/"+transport+"/"+tc.name, func(t *testing.T) {
					ctx := context.Background()
					dataset := tc.dataset
					if dataset == "" {
						dataset = "sales"
					}
					req := domain.QueryRequest{DatasetID: dataset, Workflow: tc.wf, Joins: tc.joins}

					want, err := client.Query(ctx, req)
					require.NoError(t, err)
					got, err := exec.Query(ctx, req)
					require.NoError(t, err)
					assert.Equal(t, rowSet(want), rowSet(got))
				})
			}
		}
	}
}

func TestBackends_LogCountEqualsSourceMinusDropped(t *testing.T) {
	readings := readingsDataset()
	var tc equivalenceCase
	for _, c := range equivalenceCases() {
		if c.name == "log_count_excludes_non_positive" {
			tc = c
		}
	}
	require.NotEmpty(t, tc.wf)

	for name, backend := range map[string]Backend{
		BackendMemory: NewMemoryBackend(compute.Engine{}, readings),
		BackendDuckDB: newDuckDBBackend(t, readings),
	} {
		t.Run(name, func(t *testing.T) {
			rows, err := backend.Query(context.Background(), domain.QueryRequest{DatasetID: "readings", Workflow: tc.wf})
			require.NoError(t, err)
			counts := map[string][2]float64{}
			for _, r := range rows {
				counts[r["sensor"].(string)] = [2]float64{r["value_count"].(float64), r["log_value_count"].(float64)}
			}
			// sensor a drops 0 and -3; sensor b drops nothing (nil is missing, not dropped).
			assert.Equal(t, map[string][2]float64{"a": {3, 1}, "b": {2, 2}}, counts)
		})
	}
}

func TestDuckDBBackend_Errors(t *testing.T) {
	backend := newDuckDBBackend(t, salesDataset())

	_, err := backend.Query(context.Background(), domain.QueryRequest{DatasetID: "missing"})
	var nf *domain.NotFoundError
	require.ErrorAs(t, err, &nf)

	_, err = backend.Query(context.Background(), domain.QueryRequest{
		DatasetID: "sales",
		Joins:     []domain.JoinHop{{From: "customers", To: "sales", Key: "customer"}},
	})
	require.ErrorAs(t, err, &nf)

	_, err = backend.Query(context.Background(), domain.QueryRequest{DatasetID: "sales", Workflow: domain.Workflow{
		domain.AggregateStep{GroupBy: []string{"profit"}},
	}})
	var unknown *domain.UnknownFieldError
	require.ErrorAs(t, err, &unknown)

	infos, err := backend.Datasets(context.Background())
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, 6, infos[0].RowCount)
	assert.Contains(t, backend.Version(context.Background()), "v")
}

func TestBackends_ReloadReplacesDatasets(t *testing.T) {
	ctx := context.Background()
	backends := map[string]Backend{
		BackendMemory: NewMemoryBackend(compute.Engine{}, salesDataset(), readingsDataset()),
		BackendDuckDB: newDuckDBBackend(t, salesDataset(), readingsDataset()),
	}
	for name, backend := range backends {
		t.Run(name, func(t *testing.T) {
			sales := salesDataset()
			sales.Rows = sales.Rows[:2]
			require.NoError(t, backend.Reload(ctx, sales))

			infos, err := backend.Datasets(ctx)
			require.NoError(t, err)
			require.Len(t, infos, 1)
			assert.Equal(t, "sales", infos[0].ID)
			assert.Equal(t, 2, infos[0].RowCount)

			rows, err := backend.Query(ctx, domain.QueryRequest{DatasetID: "sales"})
			require.NoError(t, err)
			assert.Len(t, rows, 2)

			_, err = backend.Query(ctx, domain.QueryRequest{DatasetID: "readings"})
			var nf *domain.NotFoundError
			assert.ErrorAs(t, err, &nf)
		})
	}
}

func TestDuckDBBackend_UnloadDropsTable(t *testing.T) {
	backend := newDuckDBBackend(t, readingsDataset())
	ctx := context.Background()

	require.NoError(t, backend.Unload(ctx, "readings", "never_loaded"))

	var n int
	require.NoError(t, backend.db.QueryRowContext(ctx,
		"SELECT count(*) FROM information_schema.tables WHERE table_name = 'readings'").Scan(&n))
	assert.Zero(t, n)
	infos, err := backend.Datasets(ctx)
	require.NoError(t, err)
	assert.Empty(t, infos)
}
